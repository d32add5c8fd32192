package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-retail/internal/platform/db"
)

// PGRepository persists inventory data in PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

var _ Repository = (*PGRepository)(nil)

// NewRepository constructs PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// PGLedgerTx implements LedgerTx on a pgx transaction. Other modules embed it
// in their transactional repositories.
type PGLedgerTx struct {
	tx pgx.Tx
}

// NewPGLedgerTx binds the ledger port to tx.
func NewPGLedgerTx(tx pgx.Tx) *PGLedgerTx {
	return &PGLedgerTx{tx: tx}
}

type txRepository struct {
	*PGLedgerTx
}

var _ TxRepository = (*txRepository)(nil)

// WithTx executes the callback inside a read committed transaction.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{PGLedgerTx: NewPGLedgerTx(tx)})
	})
}

const stockColumns = `branch_id, product_id, quantity, min_stock, updated_at`

func scanStock(row pgx.Row) (BranchStock, error) {
	var s BranchStock
	err := row.Scan(&s.BranchID, &s.ProductID, &s.Quantity, &s.MinStock, &s.UpdatedAt)
	return s, err
}

func (t *PGLedgerTx) LockStock(ctx context.Context, branchID, productID int64) (BranchStock, error) {
	if _, err := t.tx.Exec(ctx, `INSERT INTO branch_stocks (branch_id, product_id, quantity, min_stock, updated_at)
VALUES ($1, $2, 0, 0, NOW())
ON CONFLICT (branch_id, product_id) DO NOTHING`, branchID, productID); err != nil {
		return BranchStock{}, err
	}
	return scanStock(t.tx.QueryRow(ctx, `SELECT `+stockColumns+`
FROM branch_stocks WHERE branch_id=$1 AND product_id=$2 FOR UPDATE`, branchID, productID))
}

func (t *PGLedgerTx) InsertMovement(ctx context.Context, m StockMovement) (StockMovement, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO stock_movements
(branch_id, product_id, type, quantity, stock_before, stock_after, reference_type, reference_id, created_by, notes, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING id`, m.BranchID, m.ProductID, string(m.Direction), m.Quantity, m.StockBefore, m.StockAfter,
		string(m.ReferenceType), nullInt(m.ReferenceID), m.CreatedBy, m.Notes, m.CreatedAt).Scan(&m.ID)
	return m, err
}

func (t *PGLedgerTx) SetQuantity(ctx context.Context, stock BranchStock) error {
	tag, err := t.tx.Exec(ctx, `UPDATE branch_stocks SET quantity=$3, updated_at=$4
WHERE branch_id=$1 AND product_id=$2`, stock.BranchID, stock.ProductID, stock.Quantity, stock.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStockNotFound
	}
	return nil
}

func (t *txRepository) CountMovements(ctx context.Context, branchID, productID int64) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM stock_movements WHERE branch_id=$1 AND product_id=$2`, branchID, productID).Scan(&n)
	return n, err
}

func (t *txRepository) SetMinStock(ctx context.Context, branchID, productID, minStock int64, at time.Time) (BranchStock, error) {
	return scanStock(t.tx.QueryRow(ctx, `INSERT INTO branch_stocks (branch_id, product_id, quantity, min_stock, updated_at)
VALUES ($1, $2, 0, $3, $4)
ON CONFLICT (branch_id, product_id) DO UPDATE SET min_stock = EXCLUDED.min_stock, updated_at = EXCLUDED.updated_at
RETURNING `+stockColumns, branchID, productID, minStock, at))
}

func (r *PGRepository) GetStock(ctx context.Context, branchID, productID int64) (BranchStock, error) {
	stock, err := scanStock(r.pool.QueryRow(ctx, `SELECT `+stockColumns+` FROM branch_stocks WHERE branch_id=$1 AND product_id=$2`, branchID, productID))
	if errors.Is(err, pgx.ErrNoRows) {
		return BranchStock{}, ErrStockNotFound
	}
	return stock, err
}

func (r *PGRepository) ListStock(ctx context.Context, branchID int64) ([]BranchStock, error) {
	return r.queryStocks(ctx, `SELECT `+stockColumns+` FROM branch_stocks WHERE branch_id=$1 ORDER BY product_id`, branchID)
}

func (r *PGRepository) ListLowStock(ctx context.Context, branchID int64) ([]BranchStock, error) {
	return r.queryStocks(ctx, `SELECT `+stockColumns+` FROM branch_stocks
WHERE quantity <= min_stock AND ($1::bigint = 0 OR branch_id = $1)
ORDER BY branch_id, product_id`, branchID)
}

func (r *PGRepository) queryStocks(ctx context.Context, query string, args ...any) ([]BranchStock, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	stocks := []BranchStock{}
	for rows.Next() {
		s, err := scanStock(rows)
		if err != nil {
			return nil, err
		}
		stocks = append(stocks, s)
	}
	return stocks, rows.Err()
}

func (r *PGRepository) ListMovements(ctx context.Context, filter MovementFilter) ([]StockMovement, error) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.BranchID > 0 {
		add("branch_id = $%d", filter.BranchID)
	}
	if filter.ProductID > 0 {
		add("product_id = $%d", filter.ProductID)
	}
	if filter.ReferenceType != "" {
		add("reference_type = $%d", string(filter.ReferenceType))
	}
	if filter.ReferenceID > 0 {
		add("reference_id = $%d", filter.ReferenceID)
	}
	if !filter.From.IsZero() {
		add("created_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("created_at < $%d", filter.To)
	}
	query := `SELECT id, branch_id, product_id, type, quantity, stock_before, stock_after, reference_type,
COALESCE(reference_id, 0), created_by, notes, created_at FROM stock_movements`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, filter.Limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	movements := []StockMovement{}
	for rows.Next() {
		var m StockMovement
		var direction, ref string
		if err := rows.Scan(&m.ID, &m.BranchID, &m.ProductID, &direction, &m.Quantity, &m.StockBefore, &m.StockAfter,
			&ref, &m.ReferenceID, &m.CreatedBy, &m.Notes, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Direction = Direction(direction)
		m.ReferenceType = ReferenceType(ref)
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func (r *PGRepository) ListStockKeys(ctx context.Context) ([]StockKey, error) {
	rows, err := r.pool.Query(ctx, `SELECT branch_id, product_id FROM branch_stocks ORDER BY branch_id, product_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []StockKey
	for rows.Next() {
		var k StockKey
		if err := rows.Scan(&k.BranchID, &k.ProductID); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (t *txRepository) ReadStock(ctx context.Context, branchID, productID int64) (BranchStock, error) {
	stock, err := scanStock(t.tx.QueryRow(ctx, `SELECT `+stockColumns+`
FROM branch_stocks WHERE branch_id=$1 AND product_id=$2 FOR SHARE`, branchID, productID))
	if errors.Is(err, pgx.ErrNoRows) {
		return BranchStock{}, ErrStockNotFound
	}
	return stock, err
}

func (t *txRepository) LedgerSummary(ctx context.Context, branchID, productID int64) (LedgerSummary, error) {
	var s LedgerSummary
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*),
COALESCE(SUM(CASE WHEN type = 'in' THEN quantity ELSE -quantity END), 0)::bigint,
COALESCE((SELECT stock_after FROM stock_movements WHERE branch_id=$1 AND product_id=$2 ORDER BY id DESC LIMIT 1), 0)
FROM stock_movements WHERE branch_id=$1 AND product_id=$2`, branchID, productID).Scan(&s.Movements, &s.SignedSum, &s.LastStockAfter)
	return s, err
}

func nullInt(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}
