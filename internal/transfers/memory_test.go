package transfers_test

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-retail/internal/inventory/inventorytest"
	"github.com/odyssey-erp/odyssey-retail/internal/numbering"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
	"github.com/odyssey-erp/odyssey-retail/internal/transfers"
)

// memRepo keeps transfers in memory and shares the inventorytest store's
// transaction, so a failed transition rolls back both.
type memRepo struct {
	inv *inventorytest.Store

	mu        sync.Mutex
	transfers map[int64]transfers.Transfer
	approvals []shared.ApprovalLog
	nextID    int64
	nextItem  int64
}

func newMemRepo(inv *inventorytest.Store) *memRepo {
	return &memRepo{inv: inv, transfers: make(map[int64]transfers.Transfer)}
}

type memSnapshot struct {
	transfers map[int64]transfers.Transfer
	approvals []shared.ApprovalLog
	nextID    int64
	nextItem  int64
}

func (r *memRepo) snapshot() memSnapshot {
	s := memSnapshot{
		transfers: make(map[int64]transfers.Transfer, len(r.transfers)),
		approvals: append([]shared.ApprovalLog(nil), r.approvals...),
		nextID:    r.nextID,
		nextItem:  r.nextItem,
	}
	for id, t := range r.transfers {
		s.transfers[id] = clone(t)
	}
	return s
}

func (r *memRepo) restore(s memSnapshot) {
	r.transfers, r.approvals, r.nextID, r.nextItem = s.transfers, s.approvals, s.nextID, s.nextItem
}

func clone(t transfers.Transfer) transfers.Transfer {
	t.Items = append([]transfers.Item(nil), t.Items...)
	return t
}

func (r *memRepo) WithTx(ctx context.Context, fn func(context.Context, transfers.TxRepository) error) error {
	return r.inv.Atomic(func(itx *inventorytest.Tx) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		snap := r.snapshot()
		if err := fn(ctx, &memTx{Tx: itx, repo: r}); err != nil {
			r.restore(snap)
			return err
		}
		return nil
	})
}

func (r *memRepo) Get(_ context.Context, id int64) (transfers.Transfer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.transfers[id]
	if !ok {
		return transfers.Transfer{}, shared.NotFound("transfer", id)
	}
	return clone(t), nil
}

func (r *memRepo) List(_ context.Context, f transfers.ListFilter) ([]transfers.Transfer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []transfers.Transfer{}
	for _, t := range r.transfers {
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.Type != "" && t.Type != f.Type {
			continue
		}
		if f.BranchID > 0 && t.FromBranchID != f.BranchID && t.ToBranchID != f.BranchID {
			continue
		}
		t.Items = nil
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *memRepo) Approvals(_ context.Context, module string, ref uuid.UUID) ([]shared.ApprovalLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []shared.ApprovalLog
	for _, l := range r.approvals {
		if l.Module == module && l.RefID == ref {
			out = append(out, l)
		}
	}
	return out, nil
}

type memTx struct {
	*inventorytest.Tx
	repo *memRepo
}

func (t *memTx) LockSequence(context.Context, string) error { return nil }

func (t *memTx) LastNumber(_ context.Context, tag numbering.Tag, prefix string) (string, error) {
	last := ""
	for _, tr := range t.repo.transfers {
		number := tr.Number
		if tag == numbering.TagDeliveryNote {
			number = tr.DeliveryNoteNumber
		}
		if !strings.HasPrefix(number, prefix) {
			continue
		}
		if len(number) > len(last) || (len(number) == len(last) && number > last) {
			last = number
		}
	}
	return last, nil
}

func (t *memTx) Insert(_ context.Context, tr transfers.Transfer) (transfers.Transfer, error) {
	for _, existing := range t.repo.transfers {
		if existing.Number == tr.Number {
			return transfers.Transfer{}, shared.ErrDuplicate
		}
	}
	t.repo.nextID++
	tr.ID = t.repo.nextID
	tr = clone(tr)
	for i := range tr.Items {
		t.repo.nextItem++
		tr.Items[i].ID = t.repo.nextItem
		tr.Items[i].TransferID = tr.ID
	}
	t.repo.transfers[tr.ID] = tr
	return clone(tr), nil
}

func (t *memTx) GetForUpdate(_ context.Context, id int64) (transfers.Transfer, error) {
	tr, ok := t.repo.transfers[id]
	if !ok {
		return transfers.Transfer{}, shared.NotFound("transfer", id)
	}
	return clone(tr), nil
}

func (t *memTx) Update(_ context.Context, tr transfers.Transfer) error {
	existing, ok := t.repo.transfers[tr.ID]
	if !ok {
		return shared.NotFound("transfer", tr.ID)
	}
	tr.Number = existing.Number
	tr.DeliveryNoteNumber = existing.DeliveryNoteNumber
	t.repo.transfers[tr.ID] = clone(tr)
	return nil
}

func (t *memTx) SetDeliveryNoteNumber(_ context.Context, id int64, number string) error {
	for _, existing := range t.repo.transfers {
		if existing.DeliveryNoteNumber == number {
			return shared.ErrDuplicate
		}
	}
	tr := t.repo.transfers[id]
	tr.DeliveryNoteNumber = number
	t.repo.transfers[id] = tr
	return nil
}

func (t *memTx) Delete(_ context.Context, id int64) error {
	if _, ok := t.repo.transfers[id]; !ok {
		return shared.NotFound("transfer", id)
	}
	delete(t.repo.transfers, id)
	return nil
}

func (t *memTx) RecordApproval(_ context.Context, log shared.ApprovalLog) error {
	t.repo.approvals = append(t.repo.approvals, log)
	return nil
}
