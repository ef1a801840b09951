// Package repo 实现批次台账的数据访问层，负责与数据库的交互。
package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/chainsyncstore/chainsync/internal/domain"
)

// BatchRepository 定义批次台账的数据访问接口。
// 这是批次数量状态的唯一所有者：分配与退货引擎只能通过
// MutateQuantity 变更数量，不允许绕过它直接写库。
type BatchRepository interface {
	// CreateBatch 插入新批次，quantity 必须 ≥ 0；
	// 同一库存线内 batchNumber 重复时返回 *domain.ValidationError。
	CreateBatch(ctx context.Context, batch *domain.Batch) error

	// GetByID 按 ID 获取批次，不存在时返回 domain.ErrBatchNotFound。
	GetByID(ctx context.Context, id int64) (*domain.Batch, error)

	// GetBatches 返回库存线上的批次，按先过期先出的顺序排列。
	// includeExpired 为 false 时排除已过期批次（它们仍保留在存储中）。
	GetBatches(ctx context.Context, storeID, productID int64, includeExpired bool) ([]*domain.Batch, error)

	// MutateQuantity 是变更批次数量的唯一合法入口。
	// 原子单元：行锁 → 不变量检查（quantity+delta ≥ 0）→ 更新 → 审计追加。
	// 数量变更与审计记录绝不会只出现其一；违反不变量返回
	// *domain.InvariantViolationError，任何状态都不会改变。
	MutateQuantity(ctx context.Context, batchID int64, delta int, userID int64, action domain.AuditAction, details string) (*domain.Batch, error)

	// TotalQuantity 返回库存线的总量（各批次数量之和）。
	TotalQuantity(ctx context.Context, storeID, productID int64) (int, error)

	// History 返回批次的全部审计记录，最早的在前。
	// 每次查询得到查询时刻的一致快照。
	History(ctx context.Context, batchID int64) ([]*domain.AuditEntry, error)
}

// TxScope 把一次业务操作中对同一库存线的读写放进单个数据库事务。
// 事务开始时对库存线上全部批次行加排他锁，因而同一库存线上的并发
// 调用彼此严格串行，不同库存线互不阻塞。fn 返回错误即整体回滚。
type TxScope interface {
	WithinLine(ctx context.Context, storeID, productID int64, fn func(BatchRepository) error) error
}

// executor 抽象 *sql.DB 和 *sql.Tx 共有的执行能力。
type executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// batchRepo 实现 BatchRepository。tx 非空时所有操作绑定到该事务。
type batchRepo struct {
	db *sql.DB
	tx *sql.Tx
}

// NewBatchRepository 创建批次仓储实例（自动提交模式）。
func NewBatchRepository(db *sql.DB) BatchRepository {
	return &batchRepo{db: db}
}

func (r *batchRepo) q() executor {
	if r.tx != nil {
		return r.tx
	}
	return r.db
}

const batchColumns = `id, store_id, product_id, batch_number, quantity, cost_per_unit,
	manufacturing_date, expiry_date, received_date, created_at, updated_at`

// scanBatch 从单行扫描出批次。
func scanBatch(row interface{ Scan(dest ...interface{}) error }) (*domain.Batch, error) {
	b := &domain.Batch{}
	var mfg, exp sql.NullTime
	err := row.Scan(
		&b.ID,
		&b.StoreID,
		&b.ProductID,
		&b.BatchNumber,
		&b.Quantity,
		&b.CostPerUnit,
		&mfg,
		&exp,
		&b.ReceivedDate,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if mfg.Valid {
		t := mfg.Time
		b.ManufacturingDate = &t
	}
	if exp.Valid {
		t := exp.Time
		b.ExpiryDate = &t
	}
	return b, nil
}

// CreateBatch 插入新批次。
func (r *batchRepo) CreateBatch(ctx context.Context, batch *domain.Batch) error {
	if batch.Quantity < 0 {
		return domain.NewValidationError("quantity", "cannot be negative")
	}
	if batch.BatchNumber == "" {
		return domain.NewValidationError("batch_number", "is required")
	}
	if batch.ReceivedDate.IsZero() {
		batch.ReceivedDate = time.Now()
	}

	query := `
		INSERT INTO product_batches
			(store_id, product_id, batch_number, quantity, cost_per_unit, manufacturing_date, expiry_date, received_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.q().ExecContext(ctx, query,
		batch.StoreID,
		batch.ProductID,
		batch.BatchNumber,
		batch.Quantity,
		batch.CostPerUnit,
		nullableTime(batch.ManufacturingDate),
		nullableTime(batch.ExpiryDate),
		batch.ReceivedDate,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return domain.NewValidationError("batch_number",
				fmt.Sprintf("%q already exists for this inventory line", batch.BatchNumber))
		}
		return fmt.Errorf("create batch: %w", mapLockError(err))
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}
	batch.ID = id
	return nil
}

// GetByID 按 ID 获取批次。
func (r *batchRepo) GetByID(ctx context.Context, id int64) (*domain.Batch, error) {
	query := fmt.Sprintf(`SELECT %s FROM product_batches WHERE id = ?`, batchColumns)

	batch, err := scanBatch(r.q().QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrBatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get batch by id: %w", mapLockError(err))
	}
	return batch, nil
}

// GetBatches 返回库存线上的批次，先过期先出排序。
// 无过期日期的批次排在所有有日期的批次之后，相同过期日期按入库时间、ID 升序，
// 保证任何时候的分配顺序都完全可复现。
func (r *batchRepo) GetBatches(ctx context.Context, storeID, productID int64, includeExpired bool) ([]*domain.Batch, error) {
	query := fmt.Sprintf(`SELECT %s FROM product_batches WHERE store_id = ? AND product_id = ?`, batchColumns)
	args := []interface{}{storeID, productID}

	if !includeExpired {
		query += ` AND (expiry_date IS NULL OR expiry_date >= ?)`
		args = append(args, time.Now())
	}
	query += ` ORDER BY (expiry_date IS NULL), expiry_date ASC, received_date ASC, id ASC`

	rows, err := r.q().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", mapLockError(err))
	}
	defer rows.Close()

	var batches []*domain.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batches: %w", mapLockError(err))
	}
	return batches, nil
}

// MutateQuantity 变更批次数量并在同一原子单元内追加审计记录。
func (r *batchRepo) MutateQuantity(ctx context.Context, batchID int64, delta int, userID int64, action domain.AuditAction, details string) (*domain.Batch, error) {
	if !action.IsValid() {
		return nil, domain.NewValidationError("action", fmt.Sprintf("unknown audit action %q", action))
	}

	// 已在事务内时直接执行；否则用独立事务保证三步的原子性。
	if r.tx != nil {
		return r.mutateQuantityTx(ctx, r.tx, batchID, delta, userID, action, details)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", mapLockError(err))
	}
	defer tx.Rollback()

	batch, err := r.mutateQuantityTx(ctx, tx, batchID, delta, userID, action, details)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit mutation: %w", mapLockError(err))
	}
	return batch, nil
}

// mutateQuantityTx 在给定事务内执行 锁行 → 检查 → 更新 → 审计。
func (r *batchRepo) mutateQuantityTx(ctx context.Context, tx *sql.Tx, batchID int64, delta int, userID int64, action domain.AuditAction, details string) (*domain.Batch, error) {
	query := fmt.Sprintf(`SELECT %s FROM product_batches WHERE id = ? FOR UPDATE`, batchColumns)

	batch, err := scanBatch(tx.QueryRowContext(ctx, query, batchID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrBatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock batch: %w", mapLockError(err))
	}

	before := batch.Quantity
	after := before + delta
	if after < 0 {
		return nil, &domain.InvariantViolationError{
			BatchID:  batchID,
			Quantity: before,
			Delta:    delta,
		}
	}

	now := time.Now()
	if _, err := tx.ExecContext(ctx,
		`UPDATE product_batches SET quantity = ?, updated_at = ? WHERE id = ?`,
		after, now, batchID,
	); err != nil {
		return nil, fmt.Errorf("update batch quantity: %w", mapLockError(err))
	}

	// 审计写入失败会让整个事务回滚：数量变了而审计缺失不是可接受的终态。
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO batch_audit_entries
			(batch_id, user_id, action, quantity_before, quantity_after, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		batchID, userID, string(action), before, after, details, now,
	); err != nil {
		return nil, fmt.Errorf("append audit entry: %w", mapLockError(err))
	}

	batch.Quantity = after
	batch.UpdatedAt = now
	return batch, nil
}

// TotalQuantity 返回库存线总量。
func (r *batchRepo) TotalQuantity(ctx context.Context, storeID, productID int64) (int, error) {
	var total int
	err := r.q().QueryRowContext(ctx,
		`SELECT COALESCE(SUM(quantity), 0) FROM product_batches WHERE store_id = ? AND product_id = ?`,
		storeID, productID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum line quantity: %w", mapLockError(err))
	}
	return total, nil
}

// History 返回批次的审计历史，最早的在前。
func (r *batchRepo) History(ctx context.Context, batchID int64) ([]*domain.AuditEntry, error) {
	rows, err := r.q().QueryContext(ctx, `
		SELECT id, batch_id, user_id, action, quantity_before, quantity_after, details, created_at
		FROM batch_audit_entries
		WHERE batch_id = ?
		ORDER BY id ASC`,
		batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("query audit history: %w", mapLockError(err))
	}
	defer rows.Close()

	var entries []*domain.AuditEntry
	for rows.Next() {
		e := &domain.AuditEntry{}
		var action string
		if err := rows.Scan(&e.ID, &e.BatchID, &e.UserID, &action, &e.QuantityBefore, &e.QuantityAfter, &e.Details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Action = domain.AuditAction(action)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

// MySQL 错误码：1062 唯一键冲突，1205 锁等待超时，1213 死锁。
const (
	mysqlErrDuplicateKey    = 1062
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
)

func isDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlErrDuplicateKey
}

// mapLockError 把锁等待超时、死锁和上下文超时映射为类型化的
// *domain.AllocationTimeoutError：没有任何提交发生，调用方可整体重试。
func mapLockError(err error) error {
	if err == nil {
		return nil
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) && (me.Number == mysqlErrLockWaitTimeout || me.Number == mysqlErrDeadlock) {
		return &domain.AllocationTimeoutError{Cause: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.AllocationTimeoutError{Cause: err}
	}
	return err
}
