package inventory

import (
	"context"
	"fmt"
	"strings"

	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// LedgerTx is the transactional port the ledger writes through. Sales and
// transfer repositories expose it so their documents and movements commit together.
type LedgerTx interface {
	// LockStock returns the pair's projection row locked until the
	// transaction ends, creating a zero row when absent.
	LockStock(ctx context.Context, branchID, productID int64) (BranchStock, error)
	InsertMovement(ctx context.Context, movement StockMovement) (StockMovement, error)
	SetQuantity(ctx context.Context, stock BranchStock) error
}

// Ledger appends stock movements and keeps BranchStock in step with them.
type Ledger struct {
	now     shared.Clock
	metrics *Metrics
}

// NewLedger constructs a Ledger. metrics may be nil.
func NewLedger(now shared.Clock, metrics *Metrics) *Ledger {
	return &Ledger{now: now.OrSystem(), metrics: metrics}
}

// Record appends one movement inside tx. The pair's row stays locked until tx
// ends, so concurrent recorders for the same pair serialize. Nothing is retried.
func (l *Ledger) Record(ctx context.Context, tx LedgerTx, in MovementInput) (StockMovement, error) {
	if err := validateMovement(in); err != nil {
		return StockMovement{}, err
	}
	stock, err := tx.LockStock(ctx, in.BranchID, in.ProductID)
	if err != nil {
		return StockMovement{}, fmt.Errorf("inventory: lock stock: %w", err)
	}
	before := stock.Quantity
	after := before + in.Direction.Signed(in.Quantity)
	if after < 0 {
		l.metrics.Insufficient(in.ReferenceType)
		return StockMovement{}, &InsufficientStockError{
			BranchID:  in.BranchID,
			ProductID: in.ProductID,
			Requested: in.Quantity,
			Available: before,
		}
	}
	now := l.now()
	movement, err := tx.InsertMovement(ctx, StockMovement{
		BranchID:      in.BranchID,
		ProductID:     in.ProductID,
		Direction:     in.Direction,
		Quantity:      in.Quantity,
		StockBefore:   before,
		StockAfter:    after,
		ReferenceType: in.ReferenceType,
		ReferenceID:   in.ReferenceID,
		CreatedBy:     in.ActorID,
		Notes:         strings.TrimSpace(in.Notes),
		CreatedAt:     now,
	})
	if err != nil {
		return StockMovement{}, fmt.Errorf("inventory: insert movement: %w", err)
	}
	stock.Quantity = after
	stock.UpdatedAt = now
	if err := tx.SetQuantity(ctx, stock); err != nil {
		return StockMovement{}, fmt.Errorf("inventory: update stock: %w", err)
	}
	return movement, nil
}

func validateMovement(in MovementInput) error {
	if in.BranchID <= 0 {
		return shared.Invalid("branch_id", in.BranchID, "is required")
	}
	if in.ProductID <= 0 {
		return shared.Invalid("product_id", in.ProductID, "is required")
	}
	if !in.Direction.Valid() {
		return shared.Invalid("type", in.Direction, "must be in or out")
	}
	if in.Quantity <= 0 {
		return shared.Invalid("quantity", in.Quantity, "must be greater than zero")
	}
	if !in.ReferenceType.Valid() {
		return shared.Invalid("reference_type", in.ReferenceType, "is unknown")
	}
	if !in.ReferenceType.allows(in.Direction) {
		return shared.Invalid("reference_type", in.ReferenceType, "does not allow "+string(in.Direction)+" movements")
	}
	if in.ActorID <= 0 {
		return shared.Invalid("created_by", in.ActorID, "is required")
	}
	return nil
}
