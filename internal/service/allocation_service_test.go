package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/chainsyncstore/chainsync/internal/domain"
)

var testNow = time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

func testDay(offset int) *time.Time {
	t := testNow.AddDate(0, 0, offset)
	return &t
}

type allocationFixture struct {
	store   *mockBatchStore
	txScope *mockTxScope
	events  *mockPublisher
	svc     AllocationService
}

func newAllocationFixture(t *testing.T) *allocationFixture {
	t.Helper()

	store := newMockBatchStore(testNow)
	txScope := newMockTxScope(store)
	events := &mockPublisher{}

	svc := NewAllocationService(txScope, events, zap.NewNop())
	svc.(*allocationService).now = func() time.Time { return testNow }

	return &allocationFixture{store: store, txScope: txScope, events: events, svc: svc}
}

func (f *allocationFixture) seedBatch(id int64, number string, qty int, expiry *time.Time) *domain.Batch {
	return f.store.seed(&domain.Batch{
		ID:           id,
		StoreID:      1,
		ProductID:    1,
		BatchNumber:  number,
		Quantity:     qty,
		ExpiryDate:   expiry,
		ReceivedDate: testNow.AddDate(0, 0, -30),
	})
}

func TestAllocateForSale_SpansBatchesFEFO(t *testing.T) {
	f := newAllocationFixture(t)
	f.seedBatch(1, "B-SOON", 5, testDay(3))
	f.seedBatch(2, "B-LATER", 5, testDay(10))
	f.seedBatch(3, "B-FOREVER", 5, nil)

	result, err := f.svc.AllocateForSale(context.Background(), 1, 1, 8, 42, "SALE-001")
	if err != nil {
		t.Fatalf("AllocateForSale() error = %v", err)
	}

	if len(result.BatchesSold) != 2 {
		t.Fatalf("BatchesSold = %d batches, want 2", len(result.BatchesSold))
	}
	if result.BatchesSold[0].BatchID != 1 || result.BatchesSold[0].Quantity != 5 {
		t.Errorf("first debit = batch %d qty %d, want batch 1 qty 5",
			result.BatchesSold[0].BatchID, result.BatchesSold[0].Quantity)
	}
	if result.BatchesSold[1].BatchID != 2 || result.BatchesSold[1].Quantity != 3 {
		t.Errorf("second debit = batch %d qty %d, want batch 2 qty 3",
			result.BatchesSold[1].BatchID, result.BatchesSold[1].Quantity)
	}
	if result.TotalQuantity != 8 {
		t.Errorf("TotalQuantity = %d, want 8", result.TotalQuantity)
	}
	if result.Reference != "SALE-001" {
		t.Errorf("Reference = %q, want SALE-001", result.Reference)
	}

	// 扣减落到正确的批次上
	if got := f.store.quantityOf(1); got != 0 {
		t.Errorf("batch 1 quantity = %d, want 0", got)
	}
	if got := f.store.quantityOf(2); got != 2 {
		t.Errorf("batch 2 quantity = %d, want 2", got)
	}
	if got := f.store.quantityOf(3); got != 5 {
		t.Errorf("batch 3 quantity = %d, want 5 (untouched)", got)
	}
}

func TestAllocateForSale_ConservesTotalQuantity(t *testing.T) {
	f := newAllocationFixture(t)
	f.seedBatch(1, "B1", 4, testDay(3))
	f.seedBatch(2, "B2", 6, testDay(10))

	before, _ := f.store.TotalQuantity(context.Background(), 1, 1)

	if _, err := f.svc.AllocateForSale(context.Background(), 1, 1, 7, 42, "SALE-002"); err != nil {
		t.Fatalf("AllocateForSale() error = %v", err)
	}

	after, _ := f.store.TotalQuantity(context.Background(), 1, 1)
	if before-after != 7 {
		t.Errorf("total dropped by %d, want 7", before-after)
	}
}

func TestAllocateForSale_AuditEntryPerDebit(t *testing.T) {
	f := newAllocationFixture(t)
	f.seedBatch(1, "B1", 5, testDay(3))
	f.seedBatch(2, "B2", 5, testDay(10))

	result, err := f.svc.AllocateForSale(context.Background(), 1, 1, 8, 42, "SALE-003")
	if err != nil {
		t.Fatalf("AllocateForSale() error = %v", err)
	}

	for _, debit := range result.BatchesSold {
		history, err := f.store.History(context.Background(), debit.BatchID)
		if err != nil {
			t.Fatalf("History() error = %v", err)
		}
		if len(history) != 1 {
			t.Fatalf("batch %d history = %d entries, want 1", debit.BatchID, len(history))
		}
		entry := history[0]
		if entry.Action != domain.AuditActionSale {
			t.Errorf("action = %s, want sale", entry.Action)
		}
		if entry.UserID != 42 {
			t.Errorf("user_id = %d, want 42", entry.UserID)
		}
		if entry.QuantityBefore-entry.QuantityAfter != debit.Quantity {
			t.Errorf("audit delta = %d, want %d", entry.QuantityBefore-entry.QuantityAfter, debit.Quantity)
		}
		if entry.Details != "SALE-003" {
			t.Errorf("details = %q, want SALE-003", entry.Details)
		}
	}
}

func TestAllocateForSale_PublishesMovementEvent(t *testing.T) {
	f := newAllocationFixture(t)
	f.seedBatch(1, "B1", 10, testDay(3))

	if _, err := f.svc.AllocateForSale(context.Background(), 1, 1, 4, 42, "SALE-004"); err != nil {
		t.Fatalf("AllocateForSale() error = %v", err)
	}

	if f.events.movementCount() != 1 {
		t.Fatalf("movement events = %d, want 1", f.events.movementCount())
	}
	event := f.events.movements[0]
	if event.Action != domain.AuditActionSale || event.Quantity != 4 {
		t.Errorf("event = %s/%d, want sale/4", event.Action, event.Quantity)
	}
}

func TestAllocateForSale_PublishFailureDoesNotFailSale(t *testing.T) {
	f := newAllocationFixture(t)
	f.seedBatch(1, "B1", 10, testDay(3))
	f.events.publishErr = errors.New("broker down")

	if _, err := f.svc.AllocateForSale(context.Background(), 1, 1, 4, 42, "SALE-005"); err != nil {
		t.Fatalf("AllocateForSale() error = %v, want nil despite publish failure", err)
	}

	if got := f.store.quantityOf(1); got != 6 {
		t.Errorf("batch 1 quantity = %d, want 6", got)
	}
}

func TestAllocateForSale_ValidationErrors(t *testing.T) {
	f := newAllocationFixture(t)
	f.seedBatch(1, "B1", 10, testDay(3))

	tests := []struct {
		name      string
		storeID   int64
		productID int64
		quantity  int
	}{
		{name: "zero quantity", storeID: 1, productID: 1, quantity: 0},
		{name: "negative quantity", storeID: 1, productID: 1, quantity: -3},
		{name: "zero store", storeID: 0, productID: 1, quantity: 1},
		{name: "zero product", storeID: 1, productID: 0, quantity: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.AllocateForSale(context.Background(), tt.storeID, tt.productID, tt.quantity, 42, "")
			if !domain.IsValidation(err) {
				t.Errorf("error = %v, want ValidationError", err)
			}
		})
	}

	// 任何校验失败都不触碰库存
	if got := f.store.quantityOf(1); got != 10 {
		t.Errorf("batch 1 quantity = %d, want 10", got)
	}
}

func TestAllocateForSale_InsufficientStockIsAtomic(t *testing.T) {
	f := newAllocationFixture(t)
	f.seedBatch(1, "B1", 4, testDay(3))
	f.seedBatch(2, "B2", 3, testDay(10))

	_, err := f.svc.AllocateForSale(context.Background(), 1, 1, 10, 42, "SALE-006")

	var ise *domain.InsufficientStockError
	if !errors.As(err, &ise) {
		t.Fatalf("error = %v, want InsufficientStockError", err)
	}
	if ise.Required != 10 || ise.Available != 7 {
		t.Errorf("shortfall = required %d available %d, want 10/7", ise.Required, ise.Available)
	}

	// 全有或全无：没有任何批次被部分扣减，也没有审计残留
	if got := f.store.quantityOf(1); got != 4 {
		t.Errorf("batch 1 quantity = %d, want 4", got)
	}
	if got := f.store.quantityOf(2); got != 3 {
		t.Errorf("batch 2 quantity = %d, want 3", got)
	}
	if n := f.store.auditCount(1) + f.store.auditCount(2); n != 0 {
		t.Errorf("audit entries = %d, want 0", n)
	}
	if f.events.movementCount() != 0 {
		t.Errorf("movement events = %d, want 0", f.events.movementCount())
	}
}

func TestAllocateForSale_ExpiredStockBlocksSale(t *testing.T) {
	f := newAllocationFixture(t)
	f.seedBatch(1, "B-EXPIRED", 2, testDay(-1))
	f.seedBatch(2, "B-FRESH", 100, testDay(30))

	_, err := f.svc.AllocateForSale(context.Background(), 1, 1, 5, 42, "SALE-007")

	var ese *domain.ExpiredStockError
	if !errors.As(err, &ese) {
		t.Fatalf("error = %v, want ExpiredStockError", err)
	}
	if ese.BatchID != 1 {
		t.Errorf("blocking batch = %d, want 1", ese.BatchID)
	}

	if got := f.store.quantityOf(2); got != 100 {
		t.Errorf("fresh batch quantity = %d, want 100 (untouched)", got)
	}
}

func TestAllocateForSale_ConcurrentRequestsOneWinner(t *testing.T) {
	f := newAllocationFixture(t)
	f.seedBatch(1, "B1", 6, testDay(3))
	f.seedBatch(2, "B2", 4, testDay(10))

	// 线上共 10 件，两个并发请求各要 6 件，恰好只有一个能成功
	const requests = 2
	var wg sync.WaitGroup
	errs := make([]error, requests)

	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, errs[idx] = f.svc.AllocateForSale(context.Background(), 1, 1, 6, 42, "SALE-CONC")
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		if !domain.IsInsufficientStock(err) {
			t.Errorf("loser error = %v, want InsufficientStockError", err)
		}
	}
	if winners != 1 {
		t.Fatalf("winners = %d, want exactly 1", winners)
	}

	total, _ := f.store.TotalQuantity(context.Background(), 1, 1)
	if total != 4 {
		t.Errorf("remaining total = %d, want 4", total)
	}
}

func TestAllocateForSale_TimeoutPassthrough(t *testing.T) {
	f := newAllocationFixture(t)
	f.txScope.scopeErr = &domain.AllocationTimeoutError{}

	_, err := f.svc.AllocateForSale(context.Background(), 1, 1, 1, 42, "")

	var ate *domain.AllocationTimeoutError
	if !errors.As(err, &ate) {
		t.Errorf("error = %v, want AllocationTimeoutError", err)
	}
}
