// Package domain 定义批次库存相关的业务领域模型和核心业务规则。
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Batch 表示一个批次（同一次入库的一批实物库存）。
// 同一 (StoreID, ProductID) 下的所有批次构成一条库存线，
// 库存线的总量始终等于各批次数量之和。
type Batch struct {
	ID                int64           `json:"id"`
	StoreID           int64           `json:"store_id"`
	ProductID         int64           `json:"product_id"`
	BatchNumber       string          `json:"batch_number"`       // 批次号，库存线内唯一
	Quantity          int             `json:"quantity"`           // 剩余数量，只能通过台账原语变更
	CostPerUnit       decimal.Decimal `json:"cost_per_unit"`      // 入库单价，创建后不可变
	ManufacturingDate *time.Time      `json:"manufacturing_date"` // 生产日期（可空）
	ExpiryDate        *time.Time      `json:"expiry_date"`        // 过期日期，nil 表示永不过期
	ReceivedDate      time.Time       `json:"received_date"`      // 入库时间
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// IsExpired 判断批次在给定时间点是否已过期。
// 无过期日期的批次永不过期。
func (b *Batch) IsExpired(at time.Time) bool {
	if b.ExpiryDate == nil {
		return false
	}
	return b.ExpiryDate.Before(at)
}

// HasStock 判断批次是否还有剩余数量。
func (b *Batch) HasStock() bool {
	return b.Quantity > 0
}

// SameLine 判断批次是否属于指定的库存线。
func (b *Batch) SameLine(storeID, productID int64) bool {
	return b.StoreID == storeID && b.ProductID == productID
}

// BatchRecord 是导入管道与创建接口约定的批次数据。
// 导入侧负责列映射和解析，核心只要求字段满足此处的约束。
type BatchRecord struct {
	StoreID           int64           `json:"store_id" binding:"required"`
	ProductID         int64           `json:"product_id" binding:"required"`
	BatchNumber       string          `json:"batch_number" binding:"required"`
	Quantity          int             `json:"quantity" binding:"min=0"`
	CostPerUnit       decimal.Decimal `json:"cost_per_unit"`
	ManufacturingDate *time.Time      `json:"manufacturing_date"`
	ExpiryDate        *time.Time      `json:"expiry_date"`
}

// Validate 校验批次数据，失败返回 *ValidationError。
func (r *BatchRecord) Validate() error {
	if r.StoreID <= 0 {
		return NewValidationError("store_id", "must be positive")
	}
	if r.ProductID <= 0 {
		return NewValidationError("product_id", "must be positive")
	}
	if r.BatchNumber == "" {
		return NewValidationError("batch_number", "is required")
	}
	if r.Quantity < 0 {
		return NewValidationError("quantity", "cannot be negative")
	}
	if r.CostPerUnit.IsNegative() {
		return NewValidationError("cost_per_unit", "cannot be negative")
	}
	return nil
}

// AllocateRequest 表示销售分配请求。
type AllocateRequest struct {
	StoreID   int64  `json:"store_id" binding:"required"`
	ProductID int64  `json:"product_id" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,gt=0"`
	Reference string `json:"reference"` // 关联的销售/交易单号
}

// ReturnRequest 表示退货入库请求。
// BatchID 非空时回补到原批次；为空时铸造新批次。
type ReturnRequest struct {
	StoreID     int64            `json:"store_id" binding:"required"`
	ProductID   int64            `json:"product_id" binding:"required"`
	Quantity    int              `json:"quantity" binding:"required,gt=0"`
	BatchID     *int64           `json:"batch_id"`
	ExpiryDate  *time.Time       `json:"expiry_date"`
	CostPerUnit *decimal.Decimal `json:"cost_per_unit"` // 新批次的入库单价，缺省为 0
	Reference   string           `json:"reference"`
}

// AdjustRequest 表示人工调整请求（如清理过期库存）。
type AdjustRequest struct {
	BatchID int64  `json:"batch_id" binding:"required"`
	Delta   int    `json:"delta" binding:"required"` // 正数增加，负数减少
	Reason  string `json:"reason" binding:"required,min=1"`
}

// InventoryLine 表示一条库存线的聚合视图（派生数据，不单独存储）。
type InventoryLine struct {
	StoreID       int64    `json:"store_id"`
	ProductID     int64    `json:"product_id"`
	TotalQuantity int      `json:"total_quantity"`
	Batches       []*Batch `json:"batches"`
}

// TotalOf 计算一组批次的总数量。
func TotalOf(batches []*Batch) int {
	total := 0
	for _, b := range batches {
		total += b.Quantity
	}
	return total
}
