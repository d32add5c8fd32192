package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// Direction is the sign of a stock movement.
type Direction string

const (
	// DirectionIn adds stock.
	DirectionIn Direction = "in"
	// DirectionOut removes stock.
	DirectionOut Direction = "out"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	switch d {
	case DirectionIn, DirectionOut:
		return true
	}
	return false
}

// Label returns the display label.
func (d Direction) Label() string {
	switch d {
	case DirectionIn:
		return "Masuk"
	case DirectionOut:
		return "Keluar"
	}
	return string(d)
}

// Signed applies the direction to qty.
func (d Direction) Signed(qty int64) int64 {
	if d == DirectionOut {
		return -qty
	}
	return qty
}

// ReferenceType names the business event that caused a movement.
type ReferenceType string

const (
	RefSale        ReferenceType = "sale"
	RefTransferIn  ReferenceType = "transfer_in"
	RefTransferOut ReferenceType = "transfer_out"
	RefAdjustment  ReferenceType = "adjustment"
	RefInitial     ReferenceType = "initial"
)

// Valid reports whether r is a known reference type.
func (r ReferenceType) Valid() bool {
	switch r {
	case RefSale, RefTransferIn, RefTransferOut, RefAdjustment, RefInitial:
		return true
	}
	return false
}

// Label returns the display label.
func (r ReferenceType) Label() string {
	switch r {
	case RefSale:
		return "Penjualan"
	case RefTransferIn:
		return "Transfer Masuk"
	case RefTransferOut:
		return "Transfer Keluar"
	case RefAdjustment:
		return "Penyesuaian"
	case RefInitial:
		return "Stok Awal"
	}
	return string(r)
}

// allows reports whether a movement of direction d may carry reference r.
func (r ReferenceType) allows(d Direction) bool {
	switch r {
	case RefSale, RefTransferOut:
		return d == DirectionOut
	case RefTransferIn, RefInitial:
		return d == DirectionIn
	case RefAdjustment:
		return d.Valid()
	}
	return false
}

// StockMovement is an immutable ledger row.
type StockMovement struct {
	ID            int64         `json:"id"`
	BranchID      int64         `json:"branch_id"`
	ProductID     int64         `json:"product_id"`
	Direction     Direction     `json:"type"`
	Quantity      int64         `json:"quantity"`
	StockBefore   int64         `json:"stock_before"`
	StockAfter    int64         `json:"stock_after"`
	ReferenceType ReferenceType `json:"reference_type"`
	ReferenceID   int64         `json:"reference_id,omitempty"`
	CreatedBy     int64         `json:"created_by"`
	Notes         string        `json:"notes,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

// BranchStock is the current quantity projection for a branch and product.
type BranchStock struct {
	BranchID  int64     `json:"branch_id"`
	ProductID int64     `json:"product_id"`
	Quantity  int64     `json:"quantity"`
	MinStock  int64     `json:"min_stock"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsLowStock reports quantity at or below the reorder threshold.
func (b BranchStock) IsLowStock() bool {
	return b.Quantity <= b.MinStock
}

// StockKey identifies a branch and product pair.
type StockKey struct {
	BranchID  int64
	ProductID int64
}

// MovementInput is the request to append one movement to the ledger.
type MovementInput struct {
	BranchID      int64
	ProductID     int64
	Direction     Direction
	Quantity      int64
	ReferenceType ReferenceType
	ReferenceID   int64
	ActorID       int64
	Notes         string
}

// MovementFilter narrows ListMovements.
type MovementFilter struct {
	BranchID      int64
	ProductID     int64
	ReferenceType ReferenceType
	ReferenceID   int64
	From          time.Time
	To            time.Time
	Limit         int
}

// LedgerSummary aggregates the movements of one pair for integrity checks.
type LedgerSummary struct {
	Movements      int
	SignedSum      int64
	LastStockAfter int64
}

// LedgerReport compares the projection with its ledger.
type LedgerReport struct {
	BranchID       int64 `json:"branch_id"`
	ProductID      int64 `json:"product_id"`
	Quantity       int64 `json:"quantity"`
	Movements      int   `json:"movements"`
	SignedSum      int64 `json:"signed_sum"`
	LastStockAfter int64 `json:"last_stock_after"`
	Consistent     bool  `json:"consistent"`
}

// ErrInsufficientStock is matched by *InsufficientStockError.
var ErrInsufficientStock = errors.New("inventory: insufficient stock")

// ErrStockNotFound indicates no BranchStock row exists for the pair.
var ErrStockNotFound = errors.New("inventory: branch stock not found")

// InsufficientStockError reports an out movement larger than the available quantity.
type InsufficientStockError struct {
	BranchID  int64
	ProductID int64
	Requested int64
	Available int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("inventory: insufficient stock for product %d at branch %d: requested %d, available %d",
		e.ProductID, e.BranchID, e.Requested, e.Available)
}

// Is matches ErrInsufficientStock and shared.ErrConflict.
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock || target == shared.ErrConflict
}
