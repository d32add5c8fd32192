package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestIsUniqueViolation(t *testing.T) {
	err := fmt.Errorf("insert sale: %w", &pgconn.PgError{Code: "23505", ConstraintName: "sales_invoice_number_key"})

	require.True(t, IsUniqueViolation(err))
	require.True(t, IsUniqueViolation(err, "sales_invoice_number_key"))
	require.False(t, IsUniqueViolation(err, "stock_transfers_transfer_number_key"))
	require.False(t, IsForeignKeyViolation(err))
	require.False(t, IsUniqueViolation(errors.New("boom")))
}
