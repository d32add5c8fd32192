package numbering

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

type column struct {
	table string
	name  string
}

var columns = map[Tag]column{
	TagInvoice:      {table: "sales", name: "invoice_number"},
	TagTransfer:     {table: "stock_transfers", name: "transfer_number"},
	TagDeliveryNote: {table: "stock_transfers", name: "delivery_note_number"},
}

// PGStore implements Store on a PostgreSQL transaction.
type PGStore struct {
	db shared.DBTX
}

// NewPGStore binds the store to tx.
func NewPGStore(tx pgx.Tx) *PGStore {
	return &PGStore{db: tx}
}

// LockSequence takes a transaction scoped advisory lock keyed by prefix.
func (s *PGStore) LockSequence(ctx context.Context, prefix string) error {
	_, err := s.db.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, prefix)
	return err
}

// LastNumber orders by length first so 1000 sorts after 999.
func (s *PGStore) LastNumber(ctx context.Context, tag Tag, prefix string) (string, error) {
	col, ok := columns[tag]
	if !ok {
		return "", fmt.Errorf("numbering: unknown tag %q", tag)
	}
	query := fmt.Sprintf(`SELECT %[2]s FROM %[1]s WHERE starts_with(%[2]s, $1)
ORDER BY length(%[2]s) DESC, %[2]s DESC LIMIT 1`, col.table, col.name)
	var last string
	err := s.db.QueryRow(ctx, query, prefix).Scan(&last)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return last, nil
}
