package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/chainsyncstore/chainsync/internal/domain"
	"github.com/chainsyncstore/chainsync/internal/mq"
	"github.com/chainsyncstore/chainsync/internal/repo"
)

// 新批次号生成的重试上限。批次号带随机后缀，碰撞本身已经罕见。
const batchNumberMaxAttempts = 3

// RestockService 定义退货/回补引擎接口。
// 与分配引擎共用同一个不变量检查的变更原语（MutateQuantity）。
type RestockService interface {
	// ReturnToBatch 把数量回补到指定批次，或在未指定批次时铸造新批次。
	// 指定批次不属于该库存线时返回 *domain.BatchMismatchError。
	ReturnToBatch(ctx context.Context, req *domain.ReturnRequest, userID int64) (*domain.Batch, error)

	// AdjustBatch 对批次做人工数量调整（action=adjustment），
	// 过期库存必须经由此路径显式清理后销售才能继续。
	AdjustBatch(ctx context.Context, req *domain.AdjustRequest, userID int64) (*domain.Batch, error)
}

// restockService 实现 RestockService。
type restockService struct {
	batches repo.BatchRepository
	txScope repo.TxScope
	events  mq.StockEventPublisher
	logger  *zap.Logger
	now     func() time.Time
}

// NewRestockService 创建退货/回补服务实例。
func NewRestockService(batches repo.BatchRepository, txScope repo.TxScope, events mq.StockEventPublisher, logger *zap.Logger) RestockService {
	if events == nil {
		events = mq.NewNopPublisher()
	}
	return &restockService{
		batches: batches,
		txScope: txScope,
		events:  events,
		logger:  logger,
		now:     time.Now,
	}
}

// ReturnToBatch 在单个库存线事务内完成回补。
func (s *restockService) ReturnToBatch(ctx context.Context, req *domain.ReturnRequest, userID int64) (*domain.Batch, error) {
	if req.StoreID <= 0 {
		return nil, domain.NewValidationError("store_id", "must be positive")
	}
	if req.ProductID <= 0 {
		return nil, domain.NewValidationError("product_id", "must be positive")
	}
	if req.Quantity <= 0 {
		return nil, domain.NewValidationError("quantity", "must be positive")
	}

	var returned *domain.Batch
	err := s.txScope.WithinLine(ctx, req.StoreID, req.ProductID, func(store repo.BatchRepository) error {
		if req.BatchID != nil {
			batch, err := store.GetByID(ctx, *req.BatchID)
			if err != nil {
				return err
			}
			if !batch.SameLine(req.StoreID, req.ProductID) {
				return &domain.BatchMismatchError{
					BatchID:   batch.ID,
					StoreID:   req.StoreID,
					ProductID: req.ProductID,
				}
			}
			returned, err = store.MutateQuantity(ctx, batch.ID, req.Quantity, userID, domain.AuditActionReturn, req.Reference)
			return err
		}

		batch, err := s.mintReturnBatch(ctx, store, req)
		if err != nil {
			return err
		}
		// 开账数量通过变更原语写入，保证新批次同样留下审计记录
		returned, err = store.MutateQuantity(ctx, batch.ID, req.Quantity, userID, domain.AuditActionReturn, req.Reference)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("stock returned",
		zap.Int64("store_id", req.StoreID),
		zap.Int64("product_id", req.ProductID),
		zap.Int("quantity", req.Quantity),
		zap.Int64("batch_id", returned.ID),
		zap.String("batch_number", returned.BatchNumber),
	)

	s.publishMovement(ctx, req.StoreID, req.ProductID, domain.AuditActionReturn, req.Quantity, userID, req.Reference)
	return returned, nil
}

// mintReturnBatch 铸造承接退货的新批次（数量为 0，随后经变更原语入账）。
// 批次号形如 RET-20260901-3F2A8C1D，唯一键冲突时重新生成。
func (s *restockService) mintReturnBatch(ctx context.Context, store repo.BatchRepository, req *domain.ReturnRequest) (*domain.Batch, error) {
	cost := decimal.Zero
	if req.CostPerUnit != nil {
		cost = *req.CostPerUnit
	}

	var lastErr error
	for attempt := 0; attempt < batchNumberMaxAttempts; attempt++ {
		batch := &domain.Batch{
			StoreID:      req.StoreID,
			ProductID:    req.ProductID,
			BatchNumber:  s.generateBatchNumber(),
			Quantity:     0,
			CostPerUnit:  cost,
			ExpiryDate:   req.ExpiryDate,
			ReceivedDate: s.now(),
		}
		err := store.CreateBatch(ctx, batch)
		if err == nil {
			return batch, nil
		}
		if !errors.Is(err, &domain.ValidationError{}) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("generate unique batch number after %d attempts: %w", batchNumberMaxAttempts, lastErr)
}

func (s *restockService) generateBatchNumber() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))[:8]
	return fmt.Sprintf("RET-%s-%s", s.now().Format("20060102"), suffix)
}

// AdjustBatch 对单个批次做人工调整。
func (s *restockService) AdjustBatch(ctx context.Context, req *domain.AdjustRequest, userID int64) (*domain.Batch, error) {
	if req.Delta == 0 {
		return nil, domain.NewValidationError("delta", "must be non-zero")
	}
	if strings.TrimSpace(req.Reason) == "" {
		return nil, domain.NewValidationError("reason", "is required")
	}

	// 先定位批次所在的库存线，再进入行级事务
	batch, err := s.batches.GetByID(ctx, req.BatchID)
	if err != nil {
		return nil, err
	}

	var adjusted *domain.Batch
	err = s.txScope.WithinLine(ctx, batch.StoreID, batch.ProductID, func(store repo.BatchRepository) error {
		var err error
		adjusted, err = store.MutateQuantity(ctx, req.BatchID, req.Delta, userID, domain.AuditActionAdjustment, req.Reason)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("batch adjusted",
		zap.Int64("batch_id", adjusted.ID),
		zap.Int("delta", req.Delta),
		zap.String("reason", req.Reason),
	)

	qty := req.Delta
	if qty < 0 {
		qty = -qty
	}
	s.publishMovement(ctx, adjusted.StoreID, adjusted.ProductID, domain.AuditActionAdjustment, qty, userID, req.Reason)
	return adjusted, nil
}

func (s *restockService) publishMovement(ctx context.Context, storeID, productID int64, action domain.AuditAction, quantity int, userID int64, reference string) {
	event := &mq.StockMovementEvent{
		StoreID:    storeID,
		ProductID:  productID,
		Action:     action,
		Quantity:   quantity,
		Reference:  reference,
		UserID:     userID,
		OccurredAt: s.now(),
	}
	if err := s.events.PublishMovement(ctx, event); err != nil {
		s.logger.Warn("failed to publish stock movement event",
			zap.Int64("store_id", storeID),
			zap.Int64("product_id", productID),
			zap.Error(err),
		)
	}
}
