// Package repo 提供带缓存的批次仓储装饰器（只服务读侧消费者）。
package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/chainsyncstore/chainsync/internal/cache"
	"github.com/chainsyncstore/chainsync/internal/domain"
)

// CachedBatchRepository 为报表/低库存等只读消费者缓存批次读取结果。
// 分配与退货引擎不经过它：写路径始终通过 TxScope 直达数据库，
// 缓存只可能延迟读侧视图，绝不影响台账本身的正确性。
type CachedBatchRepository struct {
	repo  BatchRepository
	cache cache.Cache
	ttl   time.Duration
}

// NewCachedBatchRepository 创建带缓存的批次仓储。
func NewCachedBatchRepository(repo BatchRepository, c cache.Cache, ttl time.Duration) BatchRepository {
	return &CachedBatchRepository{repo: repo, cache: c, ttl: ttl}
}

// CreateBatch 创建批次并使相关缓存失效。
func (r *CachedBatchRepository) CreateBatch(ctx context.Context, batch *domain.Batch) error {
	if err := r.repo.CreateBatch(ctx, batch); err != nil {
		return err
	}
	r.invalidateLine(ctx, batch.StoreID, batch.ProductID)
	return nil
}

// GetByID 直接透传；单批次读取不在缓存热点上。
func (r *CachedBatchRepository) GetByID(ctx context.Context, id int64) (*domain.Batch, error) {
	return r.repo.GetByID(ctx, id)
}

// GetBatches 返回库存线批次（带缓存）。
func (r *CachedBatchRepository) GetBatches(ctx context.Context, storeID, productID int64, includeExpired bool) ([]*domain.Batch, error) {
	cacheKey := r.lineBatchesKey(storeID, productID, includeExpired)

	var cached []*domain.Batch
	if err := r.cache.Get(ctx, cacheKey, &cached); err == nil {
		return cached, nil
	}

	batches, err := r.repo.GetBatches(ctx, storeID, productID, includeExpired)
	if err != nil {
		return nil, err
	}

	// 批次数量变化频繁，TTL 取配置值的一半
	_ = r.cache.Set(ctx, cacheKey, batches, r.ttl/2)
	return batches, nil
}

// MutateQuantity 变更数量并使库存线缓存失效。
func (r *CachedBatchRepository) MutateQuantity(ctx context.Context, batchID int64, delta int, userID int64, action domain.AuditAction, details string) (*domain.Batch, error) {
	batch, err := r.repo.MutateQuantity(ctx, batchID, delta, userID, action, details)
	if err != nil {
		return nil, err
	}
	r.invalidateLine(ctx, batch.StoreID, batch.ProductID)
	return batch, nil
}

// TotalQuantity 返回库存线总量（带缓存）。
func (r *CachedBatchRepository) TotalQuantity(ctx context.Context, storeID, productID int64) (int, error) {
	cacheKey := r.lineTotalKey(storeID, productID)

	var total int
	if err := r.cache.Get(ctx, cacheKey, &total); err == nil {
		return total, nil
	}

	total, err := r.repo.TotalQuantity(ctx, storeID, productID)
	if err != nil {
		return 0, err
	}

	_ = r.cache.Set(ctx, cacheKey, total, r.ttl/2)
	return total, nil
}

// History 审计历史必须是查询时刻的一致快照，不做缓存。
func (r *CachedBatchRepository) History(ctx context.Context, batchID int64) ([]*domain.AuditEntry, error) {
	return r.repo.History(ctx, batchID)
}

func (r *CachedBatchRepository) invalidateLine(ctx context.Context, storeID, productID int64) {
	_ = r.cache.Del(ctx,
		r.lineBatchesKey(storeID, productID, true),
		r.lineBatchesKey(storeID, productID, false),
		r.lineTotalKey(storeID, productID),
	)
}

func (r *CachedBatchRepository) lineBatchesKey(storeID, productID int64, includeExpired bool) string {
	return fmt.Sprintf("batches:line:%d:%d:%t", storeID, productID, includeExpired)
}

func (r *CachedBatchRepository) lineTotalKey(storeID, productID int64) string {
	return fmt.Sprintf("batches:total:%d:%d", storeID, productID)
}
