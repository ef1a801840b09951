package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/chainsyncstore/chainsync/internal/domain"
)

type restockFixture struct {
	store  *mockBatchStore
	events *mockPublisher
	svc    RestockService
}

func newRestockFixture(t *testing.T) *restockFixture {
	t.Helper()

	store := newMockBatchStore(testNow)
	txScope := newMockTxScope(store)
	events := &mockPublisher{}

	svc := NewRestockService(store, txScope, events, zap.NewNop())
	svc.(*restockService).now = func() time.Time { return testNow }

	return &restockFixture{store: store, events: events, svc: svc}
}

func (f *restockFixture) seedBatch(id int64, storeID, productID int64, number string, qty int) *domain.Batch {
	return f.store.seed(&domain.Batch{
		ID:           id,
		StoreID:      storeID,
		ProductID:    productID,
		BatchNumber:  number,
		Quantity:     qty,
		ReceivedDate: testNow.AddDate(0, 0, -10),
	})
}

func TestReturnToBatch_ExistingBatch(t *testing.T) {
	f := newRestockFixture(t)
	f.seedBatch(1, 1, 1, "B1", 3)
	batchID := int64(1)

	returned, err := f.svc.ReturnToBatch(context.Background(), &domain.ReturnRequest{
		StoreID:   1,
		ProductID: 1,
		Quantity:  2,
		BatchID:   &batchID,
		Reference: "RMA-001",
	}, 42)
	if err != nil {
		t.Fatalf("ReturnToBatch() error = %v", err)
	}

	if returned.Quantity != 5 {
		t.Errorf("returned quantity = %d, want 5", returned.Quantity)
	}

	history, _ := f.store.History(context.Background(), 1)
	if len(history) != 1 {
		t.Fatalf("history = %d entries, want 1", len(history))
	}
	entry := history[0]
	if entry.Action != domain.AuditActionReturn {
		t.Errorf("action = %s, want return", entry.Action)
	}
	if entry.QuantityBefore != 3 || entry.QuantityAfter != 5 {
		t.Errorf("audit = %d→%d, want 3→5", entry.QuantityBefore, entry.QuantityAfter)
	}
	if entry.Details != "RMA-001" {
		t.Errorf("details = %q, want RMA-001", entry.Details)
	}

	if f.events.movementCount() != 1 {
		t.Errorf("movement events = %d, want 1", f.events.movementCount())
	}
}

func TestReturnToBatch_SaleThenReturnRestoresAvailability(t *testing.T) {
	store := newMockBatchStore(testNow)
	txScope := newMockTxScope(store)

	alloc := NewAllocationService(txScope, &mockPublisher{}, zap.NewNop())
	alloc.(*allocationService).now = func() time.Time { return testNow }
	restock := NewRestockService(store, txScope, &mockPublisher{}, zap.NewNop())
	restock.(*restockService).now = func() time.Time { return testNow }

	store.seed(&domain.Batch{
		ID: 1, StoreID: 1, ProductID: 1, BatchNumber: "B1",
		Quantity: 10, ReceivedDate: testNow.AddDate(0, 0, -10),
	})

	result, err := alloc.AllocateForSale(context.Background(), 1, 1, 4, 42, "SALE-010")
	if err != nil {
		t.Fatalf("AllocateForSale() error = %v", err)
	}

	// 把整笔销售退回原批次
	for _, debit := range result.BatchesSold {
		id := debit.BatchID
		if _, err := restock.ReturnToBatch(context.Background(), &domain.ReturnRequest{
			StoreID:   1,
			ProductID: 1,
			Quantity:  debit.Quantity,
			BatchID:   &id,
			Reference: "RMA-010",
		}, 42); err != nil {
			t.Fatalf("ReturnToBatch() error = %v", err)
		}
	}

	total, _ := store.TotalQuantity(context.Background(), 1, 1)
	if total != 10 {
		t.Errorf("total after round trip = %d, want 10", total)
	}

	// 销售与退货各留一条审计记录
	history, _ := store.History(context.Background(), 1)
	if len(history) != 2 {
		t.Errorf("history = %d entries, want 2", len(history))
	}
}

func TestReturnToBatch_MismatchedLine(t *testing.T) {
	f := newRestockFixture(t)
	f.seedBatch(1, 2, 9, "OTHER-LINE", 5)
	batchID := int64(1)

	_, err := f.svc.ReturnToBatch(context.Background(), &domain.ReturnRequest{
		StoreID:   1,
		ProductID: 1,
		Quantity:  2,
		BatchID:   &batchID,
	}, 42)

	var bme *domain.BatchMismatchError
	if !errors.As(err, &bme) {
		t.Fatalf("error = %v, want BatchMismatchError", err)
	}

	if got := f.store.quantityOf(1); got != 5 {
		t.Errorf("batch quantity = %d, want 5 (untouched)", got)
	}
	if f.events.movementCount() != 0 {
		t.Errorf("movement events = %d, want 0", f.events.movementCount())
	}
}

func TestReturnToBatch_UnknownBatch(t *testing.T) {
	f := newRestockFixture(t)
	batchID := int64(99)

	_, err := f.svc.ReturnToBatch(context.Background(), &domain.ReturnRequest{
		StoreID:   1,
		ProductID: 1,
		Quantity:  2,
		BatchID:   &batchID,
	}, 42)

	if !errors.Is(err, domain.ErrBatchNotFound) {
		t.Errorf("error = %v, want ErrBatchNotFound", err)
	}
}

func TestReturnToBatch_MintsNewBatch(t *testing.T) {
	f := newRestockFixture(t)
	expiry := testDay(90)
	cost := decimal.NewFromFloat(2.50)

	returned, err := f.svc.ReturnToBatch(context.Background(), &domain.ReturnRequest{
		StoreID:     1,
		ProductID:   1,
		Quantity:    3,
		ExpiryDate:  expiry,
		CostPerUnit: &cost,
		Reference:   "RMA-002",
	}, 42)
	if err != nil {
		t.Fatalf("ReturnToBatch() error = %v", err)
	}

	if !strings.HasPrefix(returned.BatchNumber, "RET-20260901-") {
		t.Errorf("batch number = %q, want RET-20260901-<suffix>", returned.BatchNumber)
	}
	if returned.Quantity != 3 {
		t.Errorf("quantity = %d, want 3", returned.Quantity)
	}
	if returned.ExpiryDate == nil || !returned.ExpiryDate.Equal(*expiry) {
		t.Errorf("expiry = %v, want %v", returned.ExpiryDate, expiry)
	}
	if !returned.CostPerUnit.Equal(cost) {
		t.Errorf("cost = %s, want %s", returned.CostPerUnit, cost)
	}

	// 开账数量走变更原语，新批次也要有 0→3 的审计记录
	history, _ := f.store.History(context.Background(), returned.ID)
	if len(history) != 1 {
		t.Fatalf("history = %d entries, want 1", len(history))
	}
	if history[0].QuantityBefore != 0 || history[0].QuantityAfter != 3 {
		t.Errorf("audit = %d→%d, want 0→3", history[0].QuantityBefore, history[0].QuantityAfter)
	}
	if history[0].Action != domain.AuditActionReturn {
		t.Errorf("action = %s, want return", history[0].Action)
	}
}

func TestReturnToBatch_MintedCostDefaultsToZero(t *testing.T) {
	f := newRestockFixture(t)

	returned, err := f.svc.ReturnToBatch(context.Background(), &domain.ReturnRequest{
		StoreID:   1,
		ProductID: 1,
		Quantity:  1,
	}, 42)
	if err != nil {
		t.Fatalf("ReturnToBatch() error = %v", err)
	}

	if !returned.CostPerUnit.IsZero() {
		t.Errorf("cost = %s, want 0", returned.CostPerUnit)
	}
	if returned.ExpiryDate != nil {
		t.Errorf("expiry = %v, want nil", returned.ExpiryDate)
	}
}

func TestReturnToBatch_Validation(t *testing.T) {
	f := newRestockFixture(t)

	tests := []struct {
		name string
		req  *domain.ReturnRequest
	}{
		{name: "zero quantity", req: &domain.ReturnRequest{StoreID: 1, ProductID: 1, Quantity: 0}},
		{name: "negative quantity", req: &domain.ReturnRequest{StoreID: 1, ProductID: 1, Quantity: -1}},
		{name: "zero store", req: &domain.ReturnRequest{StoreID: 0, ProductID: 1, Quantity: 1}},
		{name: "zero product", req: &domain.ReturnRequest{StoreID: 1, ProductID: 0, Quantity: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.ReturnToBatch(context.Background(), tt.req, 42)
			if !domain.IsValidation(err) {
				t.Errorf("error = %v, want ValidationError", err)
			}
		})
	}
}

func TestAdjustBatch_PositiveAndNegative(t *testing.T) {
	f := newRestockFixture(t)
	f.seedBatch(1, 1, 1, "B1", 10)

	adjusted, err := f.svc.AdjustBatch(context.Background(), &domain.AdjustRequest{
		BatchID: 1,
		Delta:   -4,
		Reason:  "expired stock write-off",
	}, 42)
	if err != nil {
		t.Fatalf("AdjustBatch() error = %v", err)
	}
	if adjusted.Quantity != 6 {
		t.Errorf("quantity = %d, want 6", adjusted.Quantity)
	}

	adjusted, err = f.svc.AdjustBatch(context.Background(), &domain.AdjustRequest{
		BatchID: 1,
		Delta:   2,
		Reason:  "recount correction",
	}, 42)
	if err != nil {
		t.Fatalf("AdjustBatch() error = %v", err)
	}
	if adjusted.Quantity != 8 {
		t.Errorf("quantity = %d, want 8", adjusted.Quantity)
	}

	history, _ := f.store.History(context.Background(), 1)
	if len(history) != 2 {
		t.Fatalf("history = %d entries, want 2", len(history))
	}
	for _, entry := range history {
		if entry.Action != domain.AuditActionAdjustment {
			t.Errorf("action = %s, want adjustment", entry.Action)
		}
	}
	if history[0].Details != "expired stock write-off" {
		t.Errorf("details = %q, want reason text", history[0].Details)
	}
}

func TestAdjustBatch_BelowZeroRejected(t *testing.T) {
	f := newRestockFixture(t)
	f.seedBatch(1, 1, 1, "B1", 3)

	_, err := f.svc.AdjustBatch(context.Background(), &domain.AdjustRequest{
		BatchID: 1,
		Delta:   -5,
		Reason:  "bad count",
	}, 42)

	var ive *domain.InvariantViolationError
	if !errors.As(err, &ive) {
		t.Fatalf("error = %v, want InvariantViolationError", err)
	}

	if got := f.store.quantityOf(1); got != 3 {
		t.Errorf("quantity = %d, want 3 (untouched)", got)
	}
	if n := f.store.auditCount(1); n != 0 {
		t.Errorf("audit entries = %d, want 0", n)
	}
}

func TestAdjustBatch_Validation(t *testing.T) {
	f := newRestockFixture(t)
	f.seedBatch(1, 1, 1, "B1", 3)

	tests := []struct {
		name string
		req  *domain.AdjustRequest
	}{
		{name: "zero delta", req: &domain.AdjustRequest{BatchID: 1, Delta: 0, Reason: "x"}},
		{name: "empty reason", req: &domain.AdjustRequest{BatchID: 1, Delta: 1, Reason: ""}},
		{name: "blank reason", req: &domain.AdjustRequest{BatchID: 1, Delta: 1, Reason: "   "}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.AdjustBatch(context.Background(), tt.req, 42)
			if !domain.IsValidation(err) {
				t.Errorf("error = %v, want ValidationError", err)
			}
		})
	}
}

func TestAdjustBatch_UnknownBatch(t *testing.T) {
	f := newRestockFixture(t)

	_, err := f.svc.AdjustBatch(context.Background(), &domain.AdjustRequest{
		BatchID: 99,
		Delta:   1,
		Reason:  "x",
	}, 42)

	if !errors.Is(err, domain.ErrBatchNotFound) {
		t.Errorf("error = %v, want ErrBatchNotFound", err)
	}
}
