package transfers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-retail/internal/inventory"
	"github.com/odyssey-erp/odyssey-retail/internal/numbering"
	"github.com/odyssey-erp/odyssey-retail/internal/platform/db"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// PGRepository persists transfers in PostgreSQL.
type PGRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	now    shared.Clock
}

// NewRepository constructs PGRepository.
func NewRepository(pool *pgxpool.Pool, logger *slog.Logger, now shared.Clock) *PGRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PGRepository{pool: pool, logger: logger, now: now.OrSystem()}
}

type txRepository struct {
	*inventory.PGLedgerTx
	*numbering.PGStore
	tx        pgx.Tx
	approvals *shared.ApprovalRecorder
}

// WithTx runs fn in a read committed transaction shared by the ledger and numbering.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("transfers repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{
			PGLedgerTx: inventory.NewPGLedgerTx(tx),
			PGStore:    numbering.NewPGStore(tx),
			tx:         tx,
			approvals:  shared.NewApprovalRecorder(tx, r.logger, r.now),
		})
	})
}

const transferColumns = `id, transfer_number, type, from_branch_id, to_branch_id, requested_by, approved_by, status,
notes, rejection_reason, COALESCE(delivery_note_number, ''), receiving_notes, receiving_photo,
requested_at, approved_at, rejected_at, sent_at, received_at, updated_at`

func scanTransfer(row pgx.Row) (Transfer, error) {
	var t Transfer
	var typ, status string
	err := row.Scan(&t.ID, &t.Number, &typ, &t.FromBranchID, &t.ToBranchID, &t.RequestedBy, &t.ApprovedBy, &status,
		&t.Notes, &t.RejectionReason, &t.DeliveryNoteNumber, &t.ReceivingNotes, &t.ReceivingPhoto,
		&t.RequestedAt, &t.ApprovedAt, &t.RejectedAt, &t.SentAt, &t.ReceivedAt, &t.UpdatedAt)
	t.Type = Type(typ)
	t.Status = Status(status)
	return t, err
}

func loadItems(ctx context.Context, q shared.DBTX, transferID int64) ([]Item, error) {
	rows, err := q.Query(ctx, `SELECT id, transfer_id, product_id, quantity_requested, quantity_sent, quantity_received, notes
FROM stock_transfer_items WHERE transfer_id=$1 ORDER BY id`, transferID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.TransferID, &it.ProductID, &it.QuantityRequested, &it.QuantitySent,
			&it.QuantityReceived, &it.Notes); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func getTransfer(ctx context.Context, q shared.DBTX, id int64, lock bool) (Transfer, error) {
	query := `SELECT ` + transferColumns + ` FROM stock_transfers WHERE id=$1`
	if lock {
		query += ` FOR UPDATE`
	}
	t, err := scanTransfer(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Transfer{}, shared.NotFound("transfer", id)
	}
	if err != nil {
		return Transfer{}, err
	}
	t.Items, err = loadItems(ctx, q, id)
	return t, err
}

// Get loads a transfer with its items.
func (r *PGRepository) Get(ctx context.Context, id int64) (Transfer, error) {
	return getTransfer(ctx, r.pool, id, false)
}

// List returns transfer headers matching filter.
func (r *PGRepository) List(ctx context.Context, filter ListFilter) ([]Transfer, error) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, strings.ReplaceAll(cond, "?", fmt.Sprintf("$%d", len(args))))
	}
	if filter.BranchID > 0 {
		add("(from_branch_id = ? OR to_branch_id = ?)", filter.BranchID)
	}
	if filter.Status != "" {
		add("status = ?", string(filter.Status))
	}
	if filter.Type != "" {
		add("type = ?", string(filter.Type))
	}
	query := `SELECT ` + transferColumns + ` FROM stock_transfers`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, filter.Limit, filter.Offset)
	query += fmt.Sprintf(" ORDER BY requested_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	transfers := []Transfer{}
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, t)
	}
	return transfers, rows.Err()
}

// Approvals lists the approval log entries of ref.
func (r *PGRepository) Approvals(ctx context.Context, module string, ref uuid.UUID) ([]shared.ApprovalLog, error) {
	return shared.NewApprovalRecorder(r.pool, r.logger, r.now).List(ctx, module, ref)
}

func (t *txRepository) Insert(ctx context.Context, tr Transfer) (Transfer, error) {
	err := db.WithSavepoint(ctx, t.tx, func(sp pgx.Tx) error {
		err := sp.QueryRow(ctx, `INSERT INTO stock_transfers
(transfer_number, type, from_branch_id, to_branch_id, requested_by, status, notes, requested_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING id`, tr.Number, string(tr.Type), tr.FromBranchID, tr.ToBranchID, tr.RequestedBy, string(tr.Status),
			tr.Notes, tr.RequestedAt, tr.UpdatedAt).Scan(&tr.ID)
		if db.IsUniqueViolation(err, "stock_transfers_transfer_number_key") {
			return fmt.Errorf("transfers: number %s: %w", tr.Number, shared.ErrDuplicate)
		}
		return err
	})
	if err != nil {
		return Transfer{}, err
	}
	for i := range tr.Items {
		item := &tr.Items[i]
		item.TransferID = tr.ID
		if err := t.tx.QueryRow(ctx, `INSERT INTO stock_transfer_items (transfer_id, product_id, quantity_requested, notes)
VALUES ($1, $2, $3, $4) RETURNING id`, tr.ID, item.ProductID, item.QuantityRequested, item.Notes).Scan(&item.ID); err != nil {
			return Transfer{}, fmt.Errorf("transfers: insert item: %w", err)
		}
	}
	return tr, nil
}

func (t *txRepository) GetForUpdate(ctx context.Context, id int64) (Transfer, error) {
	return getTransfer(ctx, t.tx, id, true)
}

func (t *txRepository) Update(ctx context.Context, tr Transfer) error {
	_, err := t.tx.Exec(ctx, `UPDATE stock_transfers SET status=$2, approved_by=$3, rejection_reason=$4,
receiving_notes=$5, receiving_photo=$6, requested_at=$7, approved_at=$8, rejected_at=$9, sent_at=$10, received_at=$11, updated_at=$12
WHERE id=$1`, tr.ID, string(tr.Status), tr.ApprovedBy, tr.RejectionReason, tr.ReceivingNotes, tr.ReceivingPhoto,
		tr.RequestedAt, tr.ApprovedAt, tr.RejectedAt, tr.SentAt, tr.ReceivedAt, tr.UpdatedAt)
	if err != nil {
		return err
	}
	for _, item := range tr.Items {
		if _, err := t.tx.Exec(ctx, `UPDATE stock_transfer_items SET quantity_sent=$2, quantity_received=$3 WHERE id=$1`,
			item.ID, item.QuantitySent, item.QuantityReceived); err != nil {
			return err
		}
	}
	return nil
}

func (t *txRepository) SetDeliveryNoteNumber(ctx context.Context, id int64, number string) error {
	return db.WithSavepoint(ctx, t.tx, func(sp pgx.Tx) error {
		_, err := sp.Exec(ctx, `UPDATE stock_transfers SET delivery_note_number=$2 WHERE id=$1`, id, number)
		if db.IsUniqueViolation(err, "stock_transfers_delivery_note_number_key") {
			return fmt.Errorf("transfers: delivery note %s: %w", number, shared.ErrDuplicate)
		}
		return err
	})
}

func (t *txRepository) Delete(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM stock_transfers WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("transfer", id)
	}
	return nil
}

func (t *txRepository) RecordApproval(ctx context.Context, log shared.ApprovalLog) error {
	return t.approvals.Record(ctx, log)
}
