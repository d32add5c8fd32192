// Package inventorytest provides an in-memory inventory.Repository whose
// transactions roll back on error, for tests of the ledger and its callers.
package inventorytest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-retail/internal/inventory"
)

type key struct {
	branchID  int64
	productID int64
}

type state struct {
	stocks    map[key]inventory.BranchStock
	movements []inventory.StockMovement
	nextID    int64
}

func (s state) clone() state {
	out := state{
		stocks:    make(map[key]inventory.BranchStock, len(s.stocks)),
		movements: append([]inventory.StockMovement(nil), s.movements...),
		nextID:    s.nextID,
	}
	for k, v := range s.stocks {
		out.stocks[k] = v
	}
	return out
}

// Store is a mutex guarded ledger. One transaction runs at a time, which
// mirrors the row locks the PostgreSQL repository takes per pair.
type Store struct {
	mu sync.Mutex
	st state
}

var _ inventory.Repository = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{st: state{stocks: make(map[key]inventory.BranchStock)}}
}

// Tx is the transactional view handed to Atomic callbacks.
type Tx struct {
	st *state
}

// Atomic runs fn holding the store lock. Every change fn made through tx is
// discarded when fn returns an error.
func (s *Store) Atomic(fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.st.clone()
	if err := fn(&Tx{st: &s.st}); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

// WithTx implements inventory.Repository.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	return s.Atomic(func(tx *Tx) error { return fn(ctx, tx) })
}

// Seed sets a pair's quantity and minimum directly, bypassing the ledger, and
// writes a matching initial movement so the pair stays consistent.
func (s *Store) Seed(branchID, productID, quantity, minStock int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{branchID, productID}
	s.st.stocks[k] = inventory.BranchStock{BranchID: branchID, ProductID: productID, Quantity: quantity, MinStock: minStock}
	if quantity > 0 {
		s.st.nextID++
		s.st.movements = append(s.st.movements, inventory.StockMovement{
			ID:            s.st.nextID,
			BranchID:      branchID,
			ProductID:     productID,
			Direction:     inventory.DirectionIn,
			Quantity:      quantity,
			StockAfter:    quantity,
			ReferenceType: inventory.RefInitial,
			CreatedBy:     1,
		})
	}
}

// Quantity returns the projected quantity of a pair, 0 when absent.
func (s *Store) Quantity(branchID, productID int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.stocks[key{branchID, productID}].Quantity
}

// Movements returns a copy of every movement in insertion order.
func (s *Store) Movements() []inventory.StockMovement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]inventory.StockMovement(nil), s.st.movements...)
}

// CorruptQuantity overwrites a projection without a movement.
func (s *Store) CorruptQuantity(branchID, productID, quantity int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{branchID, productID}
	st := s.st.stocks[k]
	st.BranchID, st.ProductID, st.Quantity = branchID, productID, quantity
	s.st.stocks[k] = st
}

func (t *Tx) LockStock(_ context.Context, branchID, productID int64) (inventory.BranchStock, error) {
	k := key{branchID, productID}
	st, ok := t.st.stocks[k]
	if !ok {
		st = inventory.BranchStock{BranchID: branchID, ProductID: productID}
		t.st.stocks[k] = st
	}
	return st, nil
}

func (t *Tx) InsertMovement(_ context.Context, m inventory.StockMovement) (inventory.StockMovement, error) {
	t.st.nextID++
	m.ID = t.st.nextID
	t.st.movements = append(t.st.movements, m)
	return m, nil
}

func (t *Tx) SetQuantity(_ context.Context, stock inventory.BranchStock) error {
	k := key{stock.BranchID, stock.ProductID}
	if _, ok := t.st.stocks[k]; !ok {
		return inventory.ErrStockNotFound
	}
	t.st.stocks[k] = stock
	return nil
}

func (t *Tx) CountMovements(_ context.Context, branchID, productID int64) (int, error) {
	n := 0
	for _, m := range t.st.movements {
		if m.BranchID == branchID && m.ProductID == productID {
			n++
		}
	}
	return n, nil
}

func (t *Tx) SetMinStock(_ context.Context, branchID, productID, minStock int64, at time.Time) (inventory.BranchStock, error) {
	k := key{branchID, productID}
	st, ok := t.st.stocks[k]
	if !ok {
		st = inventory.BranchStock{BranchID: branchID, ProductID: productID}
	}
	st.MinStock = minStock
	st.UpdatedAt = at
	t.st.stocks[k] = st
	return st, nil
}

func (s *Store) GetStock(_ context.Context, branchID, productID int64) (inventory.BranchStock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.st.stocks[key{branchID, productID}]
	if !ok {
		return inventory.BranchStock{}, inventory.ErrStockNotFound
	}
	return st, nil
}

func (s *Store) ListStock(_ context.Context, branchID int64) ([]inventory.BranchStock, error) {
	return s.list(func(st inventory.BranchStock) bool { return st.BranchID == branchID }), nil
}

func (s *Store) ListLowStock(_ context.Context, branchID int64) ([]inventory.BranchStock, error) {
	return s.list(func(st inventory.BranchStock) bool {
		return st.IsLowStock() && (branchID == 0 || st.BranchID == branchID)
	}), nil
}

func (s *Store) list(keep func(inventory.BranchStock) bool) []inventory.BranchStock {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []inventory.BranchStock{}
	for _, st := range s.st.stocks {
		if keep(st) {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BranchID != out[j].BranchID {
			return out[i].BranchID < out[j].BranchID
		}
		return out[i].ProductID < out[j].ProductID
	})
	return out
}

func (s *Store) ListMovements(_ context.Context, f inventory.MovementFilter) ([]inventory.StockMovement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []inventory.StockMovement{}
	for i := len(s.st.movements) - 1; i >= 0; i-- {
		m := s.st.movements[i]
		switch {
		case f.BranchID > 0 && m.BranchID != f.BranchID,
			f.ProductID > 0 && m.ProductID != f.ProductID,
			f.ReferenceType != "" && m.ReferenceType != f.ReferenceType,
			f.ReferenceID > 0 && m.ReferenceID != f.ReferenceID:
			continue
		}
		out = append(out, m)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) ListStockKeys(context.Context) ([]inventory.StockKey, error) {
	var keys []inventory.StockKey
	for _, st := range s.list(func(inventory.BranchStock) bool { return true }) {
		keys = append(keys, inventory.StockKey{BranchID: st.BranchID, ProductID: st.ProductID})
	}
	return keys, nil
}

func (t *Tx) ReadStock(_ context.Context, branchID, productID int64) (inventory.BranchStock, error) {
	st, ok := t.st.stocks[key{branchID, productID}]
	if !ok {
		return inventory.BranchStock{}, inventory.ErrStockNotFound
	}
	return st, nil
}

func (t *Tx) LedgerSummary(_ context.Context, branchID, productID int64) (inventory.LedgerSummary, error) {
	var sum inventory.LedgerSummary
	for _, m := range t.st.movements {
		if m.BranchID != branchID || m.ProductID != productID {
			continue
		}
		sum.Movements++
		sum.SignedSum += m.Direction.Signed(m.Quantity)
		sum.LastStockAfter = m.StockAfter
	}
	return sum, nil
}
