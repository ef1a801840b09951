// Package service 实现批次台账的业务逻辑层：销售分配、退货入库与聚合视图。
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/chainsyncstore/chainsync/internal/domain"
	"github.com/chainsyncstore/chainsync/internal/mq"
	"github.com/chainsyncstore/chainsync/internal/repo"
)

// AllocationService 定义销售分配引擎接口。
type AllocationService interface {
	// AllocateForSale 把请求的销售数量按先过期先出的顺序分配到具体批次，
	// 全部成功扣减或完全不生效。
	//
	// 失败路径（均为类型化错误，事务回滚后无任何可见副作用）：
	//   - quantity ≤ 0                  → *domain.ValidationError
	//   - 线上有过期且有剩余的批次       → *domain.ExpiredStockError
	//   - 非过期批次总量不足             → *domain.InsufficientStockError
	//   - 锁或事务超时                  → *domain.AllocationTimeoutError
	AllocateForSale(ctx context.Context, storeID, productID int64, quantity int, userID int64, reference string) (*domain.AllocationResult, error)
}

// allocationService 实现 AllocationService。
type allocationService struct {
	txScope repo.TxScope
	events  mq.StockEventPublisher
	logger  *zap.Logger
	now     func() time.Time
}

// NewAllocationService 创建销售分配服务实例。
func NewAllocationService(txScope repo.TxScope, events mq.StockEventPublisher, logger *zap.Logger) AllocationService {
	if events == nil {
		events = mq.NewNopPublisher()
	}
	return &allocationService{
		txScope: txScope,
		events:  events,
		logger:  logger,
		now:     time.Now,
	}
}

// AllocateForSale 在单个库存线事务内完成 读取 → 计划 → 扣减。
//
// 设计说明：整个分配保持在一个事务中，事务入口先锁住库存线的全部批次行，
// 所以"计划认为够、提交时不够"的竞态不存在；库存不足直接返回类型化错误，
// 事务整体回滚，不需要逐批次的补偿回滚循环。
func (s *allocationService) AllocateForSale(ctx context.Context, storeID, productID int64, quantity int, userID int64, reference string) (*domain.AllocationResult, error) {
	if storeID <= 0 {
		return nil, domain.NewValidationError("store_id", "must be positive")
	}
	if productID <= 0 {
		return nil, domain.NewValidationError("product_id", "must be positive")
	}
	if quantity <= 0 {
		return nil, domain.NewValidationError("quantity", "must be positive")
	}

	var result *domain.AllocationResult
	err := s.txScope.WithinLine(ctx, storeID, productID, func(store repo.BatchRepository) error {
		// 读取全部批次（含过期），过期阻断检查需要看到它们
		batches, err := store.GetBatches(ctx, storeID, productID, true)
		if err != nil {
			return err
		}

		plan, err := domain.BuildAllocationPlan(batches, quantity, s.now())
		if err != nil {
			return err
		}
		if !plan.FullySatisfiable() {
			return &domain.InsufficientStockError{
				Required:  quantity,
				Available: plan.Available,
			}
		}

		sold := make([]domain.BatchDebit, 0, len(plan.Debits))
		for _, d := range plan.Debits {
			if _, err := store.MutateQuantity(ctx, d.BatchID, -d.Quantity, userID, domain.AuditActionSale, reference); err != nil {
				return err
			}
			sold = append(sold, d)
		}

		result = &domain.AllocationResult{
			StoreID:       storeID,
			ProductID:     productID,
			BatchesSold:   sold,
			TotalQuantity: quantity,
			Reference:     reference,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("sale allocated",
		zap.Int64("store_id", storeID),
		zap.Int64("product_id", productID),
		zap.Int("quantity", quantity),
		zap.Int("batches", len(result.BatchesSold)),
		zap.String("reference", reference),
	)

	// 事件在提交之后发布，失败只记日志，不影响已提交的台账
	s.publishMovement(ctx, storeID, productID, quantity, userID, reference)

	return result, nil
}

func (s *allocationService) publishMovement(ctx context.Context, storeID, productID int64, quantity int, userID int64, reference string) {
	event := &mq.StockMovementEvent{
		StoreID:    storeID,
		ProductID:  productID,
		Action:     domain.AuditActionSale,
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
