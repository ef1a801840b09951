package domain

import (
	"sort"
	"time"
)

// BatchDebit 表示分配计划中对单个批次的一笔扣减。
type BatchDebit struct {
	BatchID     int64      `json:"batch_id"`
	BatchNumber string     `json:"batch_number"`
	Quantity    int        `json:"quantity"`
	ExpiryDate  *time.Time `json:"expiry_date"`
}

// AllocationPlan 是一次性的计算结果：按过期顺序排列的批次扣减列表，
// 以及未能满足的剩余数量（0 表示可以完全满足）。
// 计划本身不产生任何副作用，提交与否由分配引擎决定。
type AllocationPlan struct {
	Debits    []BatchDebit `json:"debits"`
	Remainder int          `json:"remainder"` // 未满足的数量
	Available int          `json:"available"` // 计划时可用的总量
}

// FullySatisfiable 判断计划是否能完全满足请求数量。
func (p *AllocationPlan) FullySatisfiable() bool {
	return p.Remainder == 0
}

// AllocationResult 是一次成功销售分配的结果。
type AllocationResult struct {
	StoreID       int64        `json:"store_id"`
	ProductID     int64        `json:"product_id"`
	BatchesSold   []BatchDebit `json:"batches_sold"`
	TotalQuantity int          `json:"total_quantity"`
	Reference     string       `json:"reference"` // 关联的销售/交易单号
}

// SortBatchesFEFO 按先过期先出的顺序原地排序批次：
// 过期日期升序，无过期日期的批次排在所有有日期的批次之后（视为无限远），
// 过期日期相同时按入库时间升序，再以 ID 升序保证完全确定的顺序。
func SortBatchesFEFO(batches []*Batch) {
	sort.SliceStable(batches, func(i, j int) bool {
		bi, bj := batches[i], batches[j]
		switch {
		case bi.ExpiryDate == nil && bj.ExpiryDate == nil:
			// 都不过期，按入库时间排序
		case bi.ExpiryDate == nil:
			return false
		case bj.ExpiryDate == nil:
			return true
		case !bi.ExpiryDate.Equal(*bj.ExpiryDate):
			return bi.ExpiryDate.Before(*bj.ExpiryDate)
		}
		if !bi.ReceivedDate.Equal(bj.ReceivedDate) {
			return bi.ReceivedDate.Before(bj.ReceivedDate)
		}
		return bi.ID < bj.ID
	})
}

// BuildAllocationPlan 为请求数量计算分配计划。
// 输入为库存线上的全部批次（含已过期批次），at 为过期判断的参考时间。
//
// 规则：
//  1. quantity 必须大于 0，否则返回 *ValidationError；
//  2. 线上任何已过期且仍有剩余数量的批次都会让整个计算失败，
//     返回 *ExpiredStockError（在任何扣减前阻断销售）；
//  3. 候选批次按 FEFO 顺序贪心消耗，每个批次取
//     min(batch.Quantity, remaining)，直到满足或候选耗尽。
//
// 计算不修改传入的批次。
func BuildAllocationPlan(batches []*Batch, quantity int, at time.Time) (*AllocationPlan, error) {
	if quantity <= 0 {
		return nil, NewValidationError("quantity", "must be positive")
	}

	// 过期且有库存的批次阻断整笔销售，即使其余批次足以满足请求。
	for _, b := range batches {
		if b.HasStock() && b.IsExpired(at) {
			return nil, &ExpiredStockError{
				BatchID:     b.ID,
				BatchNumber: b.BatchNumber,
				ExpiryDate:  *b.ExpiryDate,
			}
		}
	}

	candidates := make([]*Batch, 0, len(batches))
	for _, b := range batches {
		if b.HasStock() && !b.IsExpired(at) {
			candidates = append(candidates, b)
		}
	}
	SortBatchesFEFO(candidates)

	plan := &AllocationPlan{Remainder: quantity}
	for _, b := range candidates {
		plan.Available += b.Quantity
		if plan.Remainder == 0 {
			continue
		}
		take := b.Quantity
		if take > plan.Remainder {
			take = plan.Remainder
		}
		plan.Debits = append(plan.Debits, BatchDebit{
			BatchID:     b.ID,
			BatchNumber: b.BatchNumber,
			Quantity:    take,
			ExpiryDate:  b.ExpiryDate,
		})
		plan.Remainder -= take
	}

	return plan, nil
}
