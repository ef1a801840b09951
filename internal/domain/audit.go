package domain

import "time"

// AuditAction 表示引起批次数量变更的操作类型。
type AuditAction string

const (
	AuditActionSale       AuditAction = "sale"       // 销售扣减
	AuditActionReturn     AuditAction = "return"     // 退货/入库回补
	AuditActionAdjustment AuditAction = "adjustment" // 人工调整（如清理过期库存）
)

// IsValid 判断操作类型是否合法。
func (a AuditAction) IsValid() bool {
	switch a {
	case AuditActionSale, AuditActionReturn, AuditActionAdjustment:
		return true
	}
	return false
}

// AuditEntry 表示一条批次数量变更的审计记录。
// 每次成功的数量变更恰好产生一条记录；记录只追加，永不修改或删除。
type AuditEntry struct {
	ID             int64       `json:"id"`
	BatchID        int64       `json:"batch_id"`
	UserID         int64       `json:"user_id"`
	Action         AuditAction `json:"action"`
	QuantityBefore int         `json:"quantity_before"`
	QuantityAfter  int         `json:"quantity_after"`
	Details        string      `json:"details"` // 自由文本，如关联的销售单号
	CreatedAt      time.Time   `json:"created_at"`
}
