package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrBatchNotFound 表示指定的批次不存在。
var ErrBatchNotFound = errors.New("batch not found")

// ValidationError 表示调用方输入不合法，在任何变更发生前被拒绝。
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: field=%s, reason=%s", e.Field, e.Reason)
}

// Is 支持 errors.Is 的类型匹配。
func (e *ValidationError) Is(target error) bool {
	_, ok := target.(*ValidationError)
	return ok
}

// NewValidationError 创建输入校验错误。
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// InvariantViolationError 表示变更会把批次数量扣成负数。
// 守卫之前的逻辑或并发控制存在缺陷时才会触发，绝不静默截断。
type InvariantViolationError struct {
	BatchID  int64
	Quantity int
	Delta    int
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("invariant violation: batch=%d quantity=%d delta=%d would go negative",
		e.BatchID, e.Quantity, e.Delta)
}

func (e *InvariantViolationError) Is(target error) bool {
	_, ok := target.(*InvariantViolationError)
	return ok
}

// InsufficientStockError 表示库存线的可用数量不足以满足本次销售。
// 返回精确的缺口数字；不会留下任何部分扣减。
type InsufficientStockError struct {
	Required  int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock: required=%d, available=%d", e.Required, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	_, ok := target.(*InsufficientStockError)
	return ok
}

// ExpiredStockError 表示库存线上存在已过期且仍有剩余数量的批次。
// 策略上整笔销售立即失败，迫使调用方先显式调整过期库存。
type ExpiredStockError struct {
	BatchID     int64
	BatchNumber string
	ExpiryDate  time.Time
}

func (e *ExpiredStockError) Error() string {
	return fmt.Sprintf("expired stock blocks sale: batch=%d number=%s expired=%s",
		e.BatchID, e.BatchNumber, e.ExpiryDate.Format("2006-01-02"))
}

func (e *ExpiredStockError) Is(target error) bool {
	_, ok := target.(*ExpiredStockError)
	return ok
}

// BatchMismatchError 表示退货引用的批次不属于指定的库存线。
type BatchMismatchError struct {
	BatchID   int64
	StoreID   int64
	ProductID int64
}

func (e *BatchMismatchError) Error() string {
	return fmt.Sprintf("batch mismatch: batch=%d does not belong to store=%d product=%d",
		e.BatchID, e.StoreID, e.ProductID)
}

func (e *BatchMismatchError) Is(target error) bool {
	_, ok := target.(*BatchMismatchError)
	return ok
}

// AllocationTimeoutError 表示锁或事务未能在限期内取得/提交。
// 因为没有任何提交发生，调用方可以安全地整体重试。
type AllocationTimeoutError struct {
	Cause error
}

func (e *AllocationTimeoutError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("allocation timeout: %v", e.Cause)
	}
	return "allocation timeout"
}

func (e *AllocationTimeoutError) Unwrap() error { return e.Cause }

func (e *AllocationTimeoutError) Is(target error) bool {
	_, ok := target.(*AllocationTimeoutError)
	return ok
}

// IsInsufficientStock 判断错误是否为库存不足。
func IsInsufficientStock(err error) bool {
	var ise *InsufficientStockError
	return errors.As(err, &ise)
}

// IsExpiredStock 判断错误是否为过期库存阻断销售。
func IsExpiredStock(err error) bool {
	var ese *ExpiredStockError
	return errors.As(err, &ese)
}

// IsValidation 判断错误是否为输入校验失败。
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
