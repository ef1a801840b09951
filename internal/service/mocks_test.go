package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chainsyncstore/chainsync/internal/domain"
	"github.com/chainsyncstore/chainsync/internal/mq"
	"github.com/chainsyncstore/chainsync/internal/repo"
)

// mockBatchStore 是内存版的批次台账，行为与数据访问层约定一致：
// 唯一批次号、先过期先出的读取顺序、不变量检查加审计追加。
type mockBatchStore struct {
	mu          sync.Mutex
	batches     map[int64]*domain.Batch
	audits      []*domain.AuditEntry
	nextID      int64
	nextAuditID int64
	now         time.Time

	// 错误注入
	createErr error
	mutateErr error
	getErr    error
}

func newMockBatchStore(now time.Time) *mockBatchStore {
	return &mockBatchStore{
		batches: make(map[int64]*domain.Batch),
		now:     now,
	}
}

// seed 直接放入一个批次，绕过审计（模拟历史数据）。
func (m *mockBatchStore) seed(b *domain.Batch) *domain.Batch {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b.ID == 0 {
		m.nextID++
		b.ID = m.nextID
	} else if b.ID > m.nextID {
		m.nextID = b.ID
	}
	m.batches[b.ID] = b
	return b
}

func copyBatch(b *domain.Batch) *domain.Batch {
	c := *b
	return &c
}

func (m *mockBatchStore) CreateBatch(ctx context.Context, batch *domain.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.createErr != nil {
		return m.createErr
	}
	if batch.Quantity < 0 {
		return domain.NewValidationError("quantity", "cannot be negative")
	}
	for _, existing := range m.batches {
		if existing.SameLine(batch.StoreID, batch.ProductID) && existing.BatchNumber == batch.BatchNumber {
			return domain.NewValidationError("batch_number",
				fmt.Sprintf("%q already exists for this inventory line", batch.BatchNumber))
		}
	}

	m.nextID++
	batch.ID = m.nextID
	if batch.ReceivedDate.IsZero() {
		batch.ReceivedDate = m.now
	}
	batch.CreatedAt = m.now
	batch.UpdatedAt = m.now
	m.batches[batch.ID] = copyBatch(batch)
	return nil
}

func (m *mockBatchStore) GetByID(ctx context.Context, id int64) (*domain.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.getErr != nil {
		return nil, m.getErr
	}
	b, ok := m.batches[id]
	if !ok {
		return nil, domain.ErrBatchNotFound
	}
	return copyBatch(b), nil
}

func (m *mockBatchStore) GetBatches(ctx context.Context, storeID, productID int64, includeExpired bool) ([]*domain.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.getErr != nil {
		return nil, m.getErr
	}

	var result []*domain.Batch
	for _, b := range m.batches {
		if !b.SameLine(storeID, productID) {
			continue
		}
		if !includeExpired && b.IsExpired(m.now) {
			continue
		}
		result = append(result, copyBatch(b))
	}
	domain.SortBatchesFEFO(result)
	return result, nil
}

func (m *mockBatchStore) MutateQuantity(ctx context.Context, batchID int64, delta int, userID int64, action domain.AuditAction, details string) (*domain.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mutateErr != nil {
		return nil, m.mutateErr
	}
	if !action.IsValid() {
		return nil, domain.NewValidationError("action", fmt.Sprintf("unknown audit action %q", action))
	}

	b, ok := m.batches[batchID]
	if !ok {
		return nil, domain.ErrBatchNotFound
	}

	before := b.Quantity
	after := before + delta
	if after < 0 {
		return nil, &domain.InvariantViolationError{
			BatchID:  batchID,
			Quantity: before,
			Delta:    delta,
		}
	}

	b.Quantity = after
	b.UpdatedAt = m.now
	m.nextAuditID++
	m.audits = append(m.audits, &domain.AuditEntry{
		ID:             m.nextAuditID,
		BatchID:        batchID,
		UserID:         userID,
		Action:         action,
		QuantityBefore: before,
		QuantityAfter:  after,
		Details:        details,
		CreatedAt:      m.now,
	})
	return copyBatch(b), nil
}

func (m *mockBatchStore) TotalQuantity(ctx context.Context, storeID, productID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.getErr != nil {
		return 0, m.getErr
	}
	total := 0
	for _, b := range m.batches {
		if b.SameLine(storeID, productID) {
			total += b.Quantity
		}
	}
	return total, nil
}

func (m *mockBatchStore) History(ctx context.Context, batchID int64) ([]*domain.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var entries []*domain.AuditEntry
	for _, e := range m.audits {
		if e.BatchID == batchID {
			c := *e
			entries = append(entries, &c)
		}
	}
	return entries, nil
}

// quantityOf 测试辅助：读取批次当前数量。
func (m *mockBatchStore) quantityOf(batchID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.batches[batchID]; ok {
		return b.Quantity
	}
	return -1
}

// auditCount 测试辅助：批次的审计记录条数。
func (m *mockBatchStore) auditCount(batchID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.audits {
		if e.BatchID == batchID {
			n++
		}
	}
	return n
}

// snapshot / restore 模拟事务的回滚语义。
func (m *mockBatchStore) snapshot() (map[int64]*domain.Batch, []*domain.AuditEntry, int64, int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	batches := make(map[int64]*domain.Batch, len(m.batches))
	for id, b := range m.batches {
		batches[id] = copyBatch(b)
	}
	audits := make([]*domain.AuditEntry, len(m.audits))
	copy(audits, m.audits)
	return batches, audits, m.nextID, m.nextAuditID
}

func (m *mockBatchStore) restore(batches map[int64]*domain.Batch, audits []*domain.AuditEntry, nextID, nextAuditID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.batches = batches
	m.audits = audits
	m.nextID = nextID
	m.nextAuditID = nextAuditID
}

// mockTxScope 按库存线串行执行，fn 返回错误时恢复快照，模拟事务回滚。
type mockTxScope struct {
	store *mockBatchStore

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	scopeErr error // 注入：进入事务即失败
}

func newMockTxScope(store *mockBatchStore) *mockTxScope {
	return &mockTxScope{
		store: store,
		locks: make(map[string]*sync.Mutex),
	}
}

func (s *mockTxScope) lineLock(storeID, productID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := fmt.Sprintf("%d:%d", storeID, productID)
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

func (s *mockTxScope) WithinLine(ctx context.Context, storeID, productID int64, fn func(repo.BatchRepository) error) error {
	if s.scopeErr != nil {
		return s.scopeErr
	}

	l := s.lineLock(storeID, productID)
	l.Lock()
	defer l.Unlock()

	batches, audits, nextID, nextAuditID := s.store.snapshot()
	if err := fn(s.store); err != nil {
		s.store.restore(batches, audits, nextID, nextAuditID)
		return err
	}
	return nil
}

// mockPublisher 记录发布的事件，供断言事件副作用。
type mockPublisher struct {
	mu        sync.Mutex
	movements []*mq.StockMovementEvent
	lowStocks []*mq.LowStockEvent

	publishErr error
}

func (p *mockPublisher) PublishMovement(ctx context.Context, event *mq.StockMovementEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.publishErr != nil {
		return p.publishErr
	}
	p.movements = append(p.movements, event)
	return nil
}

func (p *mockPublisher) PublishLowStock(ctx context.Context, event *mq.LowStockEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.publishErr != nil {
		return p.publishErr
	}
	p.lowStocks = append(p.lowStocks, event)
	return nil
}

func (p *mockPublisher) Close() error { return nil }

func (p *mockPublisher) movementCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.movements)
}

func (p *mockPublisher) lowStockCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.lowStocks)
}
