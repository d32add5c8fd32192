package sales_test

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/odyssey-erp/odyssey-retail/internal/inventory/inventorytest"
	"github.com/odyssey-erp/odyssey-retail/internal/numbering"
	"github.com/odyssey-erp/odyssey-retail/internal/sales"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// memRepo stores sales in memory inside the inventorytest store's
// transaction so a rejected sale leaves no header, items or movements.
type memRepo struct {
	inv *inventorytest.Store

	mu       sync.Mutex
	sales    []sales.Sale
	nextID   int64
	nextItem int64
	// collide makes the next n inserts report a duplicate invoice number.
	collide int
}

func newMemRepo(inv *inventorytest.Store) *memRepo {
	return &memRepo{inv: inv}
}

func (r *memRepo) WithTx(ctx context.Context, fn func(context.Context, sales.TxRepository) error) error {
	return r.inv.Atomic(func(itx *inventorytest.Tx) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		saved := append([]sales.Sale(nil), r.sales...)
		nextID, nextItem := r.nextID, r.nextItem
		if err := fn(ctx, &memTx{Tx: itx, repo: r}); err != nil {
			r.sales, r.nextID, r.nextItem = saved, nextID, nextItem
			return err
		}
		return nil
	})
}

func (r *memRepo) Get(_ context.Context, id int64) (sales.Sale, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sales {
		if s.ID == id {
			s.Items = append([]sales.SaleItem(nil), s.Items...)
			return s, nil
		}
	}
	return sales.Sale{}, shared.NotFound("sale", id)
}

func (r *memRepo) List(_ context.Context, f sales.ListFilter) ([]sales.Sale, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []sales.Sale{}
	for _, s := range r.sales {
		if f.BranchID > 0 && s.BranchID != f.BranchID {
			continue
		}
		if f.PaymentMethod != "" && s.PaymentMethod != f.PaymentMethod {
			continue
		}
		s.Items = nil
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *memRepo) invoices() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, s := range r.sales {
		out = append(out, s.InvoiceNumber)
	}
	return out
}

type memTx struct {
	*inventorytest.Tx
	repo *memRepo
}

func (t *memTx) LockSequence(context.Context, string) error { return nil }

func (t *memTx) LastNumber(_ context.Context, _ numbering.Tag, prefix string) (string, error) {
	last := ""
	for _, s := range t.repo.sales {
		n := s.InvoiceNumber
		if strings.HasPrefix(n, prefix) && (len(n) > len(last) || (len(n) == len(last) && n > last)) {
			last = n
		}
	}
	return last, nil
}

func (t *memTx) InsertSale(_ context.Context, sale sales.Sale) (sales.Sale, error) {
	if t.repo.collide > 0 {
		t.repo.collide--
		return sales.Sale{}, shared.ErrDuplicate
	}
	for _, s := range t.repo.sales {
		if s.InvoiceNumber == sale.InvoiceNumber {
			return sales.Sale{}, shared.ErrDuplicate
		}
	}
	t.repo.nextID++
	sale.ID = t.repo.nextID
	t.repo.sales = append(t.repo.sales, sale)
	return sale, nil
}

func (t *memTx) InsertItems(_ context.Context, saleID int64, items []sales.SaleItem) ([]sales.SaleItem, error) {
	out := make([]sales.SaleItem, len(items))
	for i, it := range items {
		t.repo.nextItem++
		it.ID = t.repo.nextItem
		it.SaleID = saleID
		out[i] = it
	}
	for i := range t.repo.sales {
		if t.repo.sales[i].ID == saleID {
			t.repo.sales[i].Items = append([]sales.SaleItem(nil), out...)
		}
	}
	return out, nil
}
