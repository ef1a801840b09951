package repo

import (
	"context"
	"database/sql"
	"fmt"
)

// txScope 基于 *sql.DB 实现 TxScope。
type txScope struct {
	db *sql.DB
}

// NewTxScope 创建库存线事务作用域。
func NewTxScope(db *sql.DB) TxScope {
	return &txScope{db: db}
}

// WithinLine 在单个事务内执行 fn，fn 拿到的仓储绑定该事务。
// 进入事务后先对库存线上的全部批次行加排他锁，再把控制权交给 fn，
// 保证分配计划基于的读和随后的写之间不会有并发修改插入。
// fn 返回错误或提交失败都会整体回滚，不留下任何可见的部分效果。
func (s *txScope) WithinLine(ctx context.Context, storeID, productID int64, fn func(BatchRepository) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", mapLockError(err))
	}
	defer tx.Rollback()

	// 锁住库存线的所有批次行。行不存在时无锁可加，
	// 此时后续读取会看到空集，引擎按无库存处理。
	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM product_batches WHERE store_id = ? AND product_id = ? FOR UPDATE`,
		storeID, productID,
	)
	if err != nil {
		return fmt.Errorf("lock inventory line: %w", mapLockError(err))
	}
	for rows.Next() {
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("lock inventory line: %w", mapLockError(err))
	}
	rows.Close()

	if err := fn(&batchRepo{db: s.db, tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", mapLockError(err))
	}
	return nil
}
