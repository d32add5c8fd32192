package sales

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-retail/internal/inventory"
	"github.com/odyssey-erp/odyssey-retail/internal/numbering"
	"github.com/odyssey-erp/odyssey-retail/internal/platform/db"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// PGRepository persists sales in PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

type txRepository struct {
	*inventory.PGLedgerTx
	*numbering.PGStore
	tx pgx.Tx
}

// WithTx runs fn in a read committed transaction shared by the ledger and numbering.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("sales repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{
			PGLedgerTx: inventory.NewPGLedgerTx(tx),
			PGStore:    numbering.NewPGStore(tx),
			tx:         tx,
		})
	})
}

const saleColumns = `id, invoice_number, branch_id, operator_id, sale_date, customer_name, customer_phone,
subtotal, discount, grand_total, payment_method, notes`

func scanSale(row pgx.Row) (Sale, error) {
	var s Sale
	var method string
	err := row.Scan(&s.ID, &s.InvoiceNumber, &s.BranchID, &s.OperatorID, &s.SaleDate, &s.CustomerName, &s.CustomerPhone,
		&s.Subtotal, &s.Discount, &s.GrandTotal, &method, &s.Notes)
	s.PaymentMethod = PaymentMethod(method)
	return s, err
}

// Get loads a sale with its items.
func (r *PGRepository) Get(ctx context.Context, id int64) (Sale, error) {
	sale, err := scanSale(r.pool.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Sale{}, shared.NotFound("sale", id)
	}
	if err != nil {
		return Sale{}, err
	}
	rows, err := r.pool.Query(ctx, `SELECT id, sale_id, product_id, quantity, unit_price, subtotal
FROM sale_items WHERE sale_id=$1 ORDER BY id`, id)
	if err != nil {
		return Sale{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var it SaleItem
		if err := rows.Scan(&it.ID, &it.SaleID, &it.ProductID, &it.Quantity, &it.UnitPrice, &it.Subtotal); err != nil {
			return Sale{}, err
		}
		sale.Items = append(sale.Items, it)
	}
	return sale, rows.Err()
}

// List returns sale headers matching filter.
func (r *PGRepository) List(ctx context.Context, filter ListFilter) ([]Sale, error) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.BranchID > 0 {
		add("branch_id = $%d", filter.BranchID)
	}
	if filter.PaymentMethod != "" {
		add("payment_method = $%d", string(filter.PaymentMethod))
	}
	if !filter.From.IsZero() {
		add("sale_date >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("sale_date < $%d", filter.To)
	}
	query := `SELECT ` + saleColumns + ` FROM sales`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, filter.Limit, filter.Offset)
	query += fmt.Sprintf(" ORDER BY sale_date DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	sales := []Sale{}
	for rows.Next() {
		s, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, s)
	}
	return sales, rows.Err()
}

func (t *txRepository) InsertSale(ctx context.Context, sale Sale) (Sale, error) {
	err := db.WithSavepoint(ctx, t.tx, func(sp pgx.Tx) error {
		err := sp.QueryRow(ctx, `INSERT INTO sales
(invoice_number, branch_id, operator_id, sale_date, customer_name, customer_phone, subtotal, discount, grand_total, payment_method, notes)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING id`, sale.InvoiceNumber, sale.BranchID, sale.OperatorID, sale.SaleDate, sale.CustomerName, sale.CustomerPhone,
			sale.Subtotal, sale.Discount, sale.GrandTotal, string(sale.PaymentMethod), sale.Notes).Scan(&sale.ID)
		if db.IsUniqueViolation(err, "sales_invoice_number_key") {
			return fmt.Errorf("sales: invoice %s: %w", sale.InvoiceNumber, shared.ErrDuplicate)
		}
		return err
	})
	return sale, err
}

func (t *txRepository) InsertItems(ctx context.Context, saleID int64, items []SaleItem) ([]SaleItem, error) {
	batch := &pgx.Batch{}
	for _, it := range items {
		batch.Queue(`INSERT INTO sale_items (sale_id, product_id, quantity, unit_price, subtotal)
VALUES ($1, $2, $3, $4, $5) RETURNING id`, saleID, it.ProductID, it.Quantity, it.UnitPrice, it.Subtotal)
	}
	results := t.tx.SendBatch(ctx, batch)
	defer results.Close()

	out := make([]SaleItem, len(items))
	for i, it := range items {
		it.SaleID = saleID
		if err := results.QueryRow().Scan(&it.ID); err != nil {
			return nil, fmt.Errorf("sales: insert item: %w", err)
		}
		out[i] = it
	}
	return out, nil
}
