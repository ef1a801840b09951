package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/chainsyncstore/chainsync/internal/domain"
	"github.com/chainsyncstore/chainsync/internal/mq"
	"github.com/chainsyncstore/chainsync/internal/repo"
)

// StockLevelReport 是库存线总量与最低库存线比较的结果，
// 供补货逻辑等外部只读消费者使用。
type StockLevelReport struct {
	StoreID       int64 `json:"store_id"`
	ProductID     int64 `json:"product_id"`
	TotalQuantity int   `json:"total_quantity"`
	MinimumLevel  int   `json:"minimum_level"`
	BelowMinimum  bool  `json:"below_minimum"`
}

// InventoryService 定义库存线聚合视图与批次管理接口。
type InventoryService interface {
	// GetInventoryLine 返回库存线的批次与派生总量。
	GetInventoryLine(ctx context.Context, storeID, productID int64, includeExpired bool) (*domain.InventoryLine, error)

	// CheckStockLevel 把库存线总量与给定下限比较；
	// 低于下限时发布低库存事件（阈值本身由外部补货逻辑维护）。
	CheckStockLevel(ctx context.Context, storeID, productID int64, minimumLevel int) (*StockLevelReport, error)

	// CreateBatch 为导入管道/管理端创建批次（BatchRecord 契约见领域层）。
	CreateBatch(ctx context.Context, record *domain.BatchRecord) (*domain.Batch, error)

	// GetBatchHistory 返回批次的审计历史，最早的在前。
	GetBatchHistory(ctx context.Context, batchID int64) ([]*domain.AuditEntry, error)
}

// inventoryService 实现 InventoryService。
// 持有的仓储可以是带缓存的装饰器：这里只有读和独立的创建，
// 不参与分配事务，缓存的短暂滞后不影响台账正确性。
type inventoryService struct {
	batches repo.BatchRepository
	events  mq.StockEventPublisher
	logger  *zap.Logger
	now     func() time.Time
}

// NewInventoryService 创建库存视图服务实例。
func NewInventoryService(batches repo.BatchRepository, events mq.StockEventPublisher, logger *zap.Logger) InventoryService {
	if events == nil {
		events = mq.NewNopPublisher()
	}
	return &inventoryService{
		batches: batches,
		events:  events,
		logger:  logger,
		now:     time.Now,
	}
}

// GetInventoryLine 返回库存线聚合视图。
func (s *inventoryService) GetInventoryLine(ctx context.Context, storeID, productID int64, includeExpired bool) (*domain.InventoryLine, error) {
	if storeID <= 0 {
		return nil, domain.NewValidationError("store_id", "must be positive")
	}
	if productID <= 0 {
		return nil, domain.NewValidationError("product_id", "must be positive")
	}

	batches, err := s.batches.GetBatches(ctx, storeID, productID, includeExpired)
	if err != nil {
		return nil, err
	}

	return &domain.InventoryLine{
		StoreID:       storeID,
		ProductID:     productID,
		TotalQuantity: domain.TotalOf(batches),
		Batches:       batches,
	}, nil
}

// CheckStockLevel 比较库存线总量与下限。
func (s *inventoryService) CheckStockLevel(ctx context.Context, storeID, productID int64, minimumLevel int) (*StockLevelReport, error) {
	if minimumLevel < 0 {
		return nil, domain.NewValidationError("minimum_level", "cannot be negative")
	}

	total, err := s.batches.TotalQuantity(ctx, storeID, productID)
	if err != nil {
		return nil, err
	}

	report := &StockLevelReport{
		StoreID:       storeID,
		ProductID:     productID,
		TotalQuantity: total,
		MinimumLevel:  minimumLevel,
		BelowMinimum:  total < minimumLevel,
	}

	if report.BelowMinimum {
		event := &mq.LowStockEvent{
			StoreID:       storeID,
			ProductID:     productID,
			TotalQuantity: total,
			MinimumLevel:  minimumLevel,
			OccurredAt:    s.now(),
		}
		if err := s.events.PublishLowStock(ctx, event); err != nil {
			s.logger.Warn("failed to publish low stock event",
				zap.Int64("store_id", storeID),
				zap.Int64("product_id", productID),
				zap.Error(err),
			)
		}
	}

	return report, nil
}

// CreateBatch 校验 BatchRecord 并写入新批次。
func (s *inventoryService) CreateBatch(ctx context.Context, record *domain.BatchRecord) (*domain.Batch, error) {
	if err := record.Validate(); err != nil {
		return nil, err
	}

	batch := &domain.Batch{
		StoreID:           record.StoreID,
		ProductID:         record.ProductID,
		BatchNumber:       record.BatchNumber,
		Quantity:          record.Quantity,
		CostPerUnit:       record.CostPerUnit,
		ManufacturingDate: record.ManufacturingDate,
		ExpiryDate:        record.ExpiryDate,
		ReceivedDate:      s.now(),
	}
	if err := s.batches.CreateBatch(ctx, batch); err != nil {
		return nil, err
	}

	s.logger.Info("batch created",
		zap.Int64("batch_id", batch.ID),
		zap.Int64("store_id", batch.StoreID),
		zap.Int64("product_id", batch.ProductID),
		zap.String("batch_number", batch.BatchNumber),
		zap.Int("quantity", batch.Quantity),
	)
	return batch, nil
}

// GetBatchHistory 返回批次审计历史。
func (s *inventoryService) GetBatchHistory(ctx context.Context, batchID int64) ([]*domain.AuditEntry, error) {
	if batchID <= 0 {
		return nil, domain.NewValidationError("batch_id", "must be positive")
	}
	// 先确认批次存在，让不存在的批次返回明确的 not found
	if _, err := s.batches.GetByID(ctx, batchID); err != nil {
		return nil, err
	}
	return s.batches.History(ctx, batchID)
}
