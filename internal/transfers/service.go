package transfers

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-retail/internal/inventory"
	"github.com/odyssey-erp/odyssey-retail/internal/masterdata"
	"github.com/odyssey-erp/odyssey-retail/internal/numbering"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// approvalModule keys transfer entries in the approvals log.
const approvalModule = "transfers"

// Repository abstracts transfer persistence.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	// Get returns the transfer with its items or an error matching shared.ErrNotFound.
	Get(ctx context.Context, id int64) (Transfer, error)
	List(ctx context.Context, filter ListFilter) ([]Transfer, error)
	Approvals(ctx context.Context, module string, ref uuid.UUID) ([]shared.ApprovalLog, error)
}

// TxRepository exposes the transactional operations of a transition. It
// writes stock movements and assigns numbers in the same transaction.
type TxRepository interface {
	inventory.LedgerTx
	numbering.Store
	// Insert stores t with its items. A taken transfer number yields shared.ErrDuplicate.
	Insert(ctx context.Context, t Transfer) (Transfer, error)
	// GetForUpdate loads and locks the transfer with its items.
	GetForUpdate(ctx context.Context, id int64) (Transfer, error)
	// Update saves header fields and item quantities.
	Update(ctx context.Context, t Transfer) error
	// SetDeliveryNoteNumber fails with shared.ErrDuplicate when number is taken.
	SetDeliveryNoteNumber(ctx context.Context, id int64, number string) error
	Delete(ctx context.Context, id int64) error
	RecordApproval(ctx context.Context, log shared.ApprovalLog) error
}

// Catalog resolves branches and products.
type Catalog interface {
	GetBranch(ctx context.Context, id int64) (masterdata.Branch, error)
	GetProduct(ctx context.Context, id int64) (masterdata.Product, error)
}

// AuditPort records audit trail entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Deps groups Service collaborators. Audit and Hook are optional.
type Deps struct {
	Repo    Repository
	Ledger  *inventory.Ledger
	Catalog Catalog
	Authz   shared.Authorizer
	Audit   AuditPort
	Hook    *inventory.CommitHook
	Logger  *slog.Logger
	Clock   shared.Clock
}

// Service drives the transfer state machine.
type Service struct {
	repo    Repository
	ledger  *inventory.Ledger
	catalog Catalog
	authz   shared.Authorizer
	audit   AuditPort
	hook    *inventory.CommitHook
	logger  *slog.Logger
	now     shared.Clock
}

// NewService builds Service.
func NewService(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Clock.OrSystem()
	ledger := deps.Ledger
	if ledger == nil {
		ledger = inventory.NewLedger(now, nil)
	}
	return &Service{
		repo:    deps.Repo,
		ledger:  ledger,
		catalog: deps.Catalog,
		authz:   deps.Authz,
		audit:   deps.Audit,
		hook:    deps.Hook,
		logger:  logger.With(slog.String("module", "transfers")),
		now:     now,
	}
}

// Create stores a new transfer as pending, or as draft when input.Draft is
// set, and assigns its transfer number.
func (s *Service) Create(ctx context.Context, actorID int64, input CreateInput) (Transfer, error) {
	if err := shared.Require(ctx, s.authz, actorID, shared.PermTransferCreate); err != nil {
		return Transfer{}, err
	}
	if err := validateCreate(input); err != nil {
		return Transfer{}, err
	}
	from, err := s.activeBranch(ctx, "from_branch_id", input.FromBranchID)
	if err != nil {
		return Transfer{}, err
	}
	to, err := s.activeBranch(ctx, "to_branch_id", input.ToBranchID)
	if err != nil {
		return Transfer{}, err
	}
	for i, item := range input.Items {
		product, err := s.catalog.GetProduct(ctx, item.ProductID)
		if err != nil {
			return Transfer{}, err
		}
		if !product.IsActive {
			return Transfer{}, shared.Invalid(fmt.Sprintf("items[%d].product_id", i), item.ProductID, "is inactive")
		}
	}
	code := from.Code
	if input.Type.NumberingBranch(from.ID, to.ID) == to.ID {
		code = to.Code
	}

	now := s.now()
	status := StatusPending
	if input.Draft {
		status = StatusDraft
	}
	draft := Transfer{
		Type:         input.Type,
		FromBranchID: from.ID,
		ToBranchID:   to.ID,
		RequestedBy:  actorID,
		Status:       status,
		Notes:        strings.TrimSpace(input.Notes),
		RequestedAt:  now,
		UpdatedAt:    now,
	}
	for _, item := range input.Items {
		draft.Items = append(draft.Items, Item{
			ProductID:         item.ProductID,
			QuantityRequested: item.Quantity,
			Notes:             strings.TrimSpace(item.Notes),
		})
	}

	var created Transfer
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		_, err := numbering.Assign(ctx, tx, numbering.TagTransfer, code, now, func(ctx context.Context, number string) error {
			draft.Number = number
			var err error
			created, err = tx.Insert(ctx, draft)
			return err
		})
		if err != nil {
			return err
		}
		if status == StatusPending {
			return tx.RecordApproval(ctx, s.approval(created.ID, actorID, shared.ApprovalSubmit, created.Notes, now))
		}
		return nil
	})
	if err != nil {
		return Transfer{}, err
	}
	s.recordAudit(ctx, actorID, shared.AuditTransferCreated, created, map[string]any{
		"transfer_number": created.Number,
		"type":            string(created.Type),
		"status":          string(created.Status),
	})
	return created, nil
}

// Submit moves a draft to pending.
func (s *Service) Submit(ctx context.Context, actorID, id int64) (Transfer, error) {
	if err := shared.Require(ctx, s.authz, actorID, shared.PermTransferCreate); err != nil {
		return Transfer{}, err
	}
	return s.transition(ctx, id, func(ctx context.Context, tx TxRepository, t *Transfer, now time.Time) error {
		if err := requireStatus(*t, StatusDraft); err != nil {
			return err
		}
		t.Status = StatusPending
		t.RequestedAt = now
		return tx.RecordApproval(ctx, s.approval(t.ID, actorID, shared.ApprovalSubmit, t.Notes, now))
	})
}

// Approve marks a pending transfer approved by actorID.
func (s *Service) Approve(ctx context.Context, actorID, id int64) (Transfer, error) {
	if err := shared.Require(ctx, s.authz, actorID, shared.PermTransferApprove); err != nil {
		return Transfer{}, err
	}
	return s.transition(ctx, id, func(ctx context.Context, tx TxRepository, t *Transfer, now time.Time) error {
		if err := requireStatus(*t, StatusPending); err != nil {
			return err
		}
		t.Status = StatusApproved
		t.ApprovedBy = &actorID
		t.ApprovedAt = &now
		return tx.RecordApproval(ctx, s.approval(t.ID, actorID, shared.ApprovalApprove, "", now))
	})
}

// Reject closes a pending transfer. A reason is required.
func (s *Service) Reject(ctx context.Context, actorID, id int64, reason string) (Transfer, error) {
	if err := shared.Require(ctx, s.authz, actorID, shared.PermTransferReject); err != nil {
		return Transfer{}, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Transfer{}, shared.Invalid("rejection_reason", reason, "is required")
	}
	return s.transition(ctx, id, func(ctx context.Context, tx TxRepository, t *Transfer, now time.Time) error {
		if err := requireStatus(*t, StatusPending); err != nil {
			return err
		}
		t.Status = StatusRejected
		t.RejectionReason = reason
		t.ApprovedBy = &actorID
		t.RejectedAt = &now
		return tx.RecordApproval(ctx, s.approval(t.ID, actorID, shared.ApprovalReject, reason, now))
	})
}

// Send ships an approved transfer: the shipped quantities leave the source
// branch and a delivery note number is assigned.
func (s *Service) Send(ctx context.Context, actorID, id int64, input SendInput) (Transfer, error) {
	if err := shared.Require(ctx, s.authz, actorID, shared.PermTransferSend); err != nil {
		return Transfer{}, err
	}
	var movements []inventory.StockMovement
	t, err := s.transition(ctx, id, func(ctx context.Context, tx TxRepository, t *Transfer, now time.Time) error {
		if err := requireStatus(*t, StatusApproved); err != nil {
			return err
		}
		if err := checkOverrides(t.Items, input.Quantities, "quantity_sent"); err != nil {
			return err
		}
		// Resolve shipped quantities
		shipped := false
		for i := range t.Items {
			item := &t.Items[i]
			qty := item.QuantityRequested
			if v, ok := input.Quantities[item.ID]; ok {
				qty = v
			}
			if qty < 0 || qty > item.QuantityRequested {
				return shared.Invalid(fmt.Sprintf("items[%d].quantity_sent", i), qty,
					fmt.Sprintf("must be between 0 and %d", item.QuantityRequested))
			}
			item.QuantitySent = &qty
			shipped = shipped || qty > 0
		}
		if !shipped {
			return shared.Invalid("items", 0, "at least one item must be sent")
		}

		// Take stock out of the source branch
		recorded, err := s.post(ctx, tx, t, inventory.DirectionOut, inventory.RefTransferOut, actorID, t.FromBranchID, Item.Sent)
		if err != nil {
			return err
		}
		movements = recorded

		from, err := s.catalog.GetBranch(ctx, t.FromBranchID)
		if err != nil {
			return err
		}
		number, err := numbering.Assign(ctx, tx, numbering.TagDeliveryNote, from.Code, now, func(ctx context.Context, number string) error {
			return tx.SetDeliveryNoteNumber(ctx, t.ID, number)
		})
		if err != nil {
			return err
		}
		t.DeliveryNoteNumber = number
		t.Status = StatusSent
		t.SentAt = &now
		return nil
	})
	if err != nil {
		return Transfer{}, err
	}
	s.hook.MovementsCommitted(ctx, movements...)
	s.recordAudit(ctx, actorID, shared.AuditTransferSent, t, map[string]any{
		"transfer_number":      t.Number,
		"delivery_note_number": t.DeliveryNoteNumber,
		"movements":            len(movements),
	})
	return t, nil
}

// Receive completes a sent transfer: the received quantities enter the
// destination branch. Received quantities may be lower than sent.
func (s *Service) Receive(ctx context.Context, actorID, id int64, input ReceiveInput) (Transfer, error) {
	if err := shared.Require(ctx, s.authz, actorID, shared.PermTransferReceive); err != nil {
		return Transfer{}, err
	}
	var movements []inventory.StockMovement
	t, err := s.transition(ctx, id, func(ctx context.Context, tx TxRepository, t *Transfer, now time.Time) error {
		if err := requireStatus(*t, StatusSent); err != nil {
			return err
		}
		if err := checkOverrides(t.Items, input.Quantities, "quantity_received"); err != nil {
			return err
		}
		for i := range t.Items {
			item := &t.Items[i]
			qty := item.Sent()
			if v, ok := input.Quantities[item.ID]; ok {
				qty = v
			}
			if qty < 0 || qty > item.Sent() {
				return shared.Invalid(fmt.Sprintf("items[%d].quantity_received", i), qty,
					fmt.Sprintf("must be between 0 and %d", item.Sent()))
			}
			item.QuantityReceived = &qty
		}

		recorded, err := s.post(ctx, tx, t, inventory.DirectionIn, inventory.RefTransferIn, actorID, t.ToBranchID, Item.Received)
		if err != nil {
			return err
		}
		movements = recorded

		t.ReceivingNotes = strings.TrimSpace(input.Notes)
		t.ReceivingPhoto = strings.TrimSpace(input.PhotoPath)
		t.Status = StatusReceived
		t.ReceivedAt = &now
		return nil
	})
	if err != nil {
		return Transfer{}, err
	}
	s.hook.MovementsCommitted(ctx, movements...)
	s.recordAudit(ctx, actorID, shared.AuditTransferReceived, t, map[string]any{
		"transfer_number": t.Number,
		"movements":       len(movements),
	})
	return t, nil
}

// Delete removes a draft or pending transfer.
func (s *Service) Delete(ctx context.Context, actorID, id int64) error {
	if err := shared.Require(ctx, s.authz, actorID, shared.PermTransferDelete); err != nil {
		return err
	}
	var deleted Transfer
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		t, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !t.Status.Deletable() {
			return requireStatus(t, StatusDraft, StatusPending)
		}
		deleted = t
		return tx.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, shared.AuditTransferDeleted, deleted, map[string]any{
		"transfer_number": deleted.Number,
		"status":          string(deleted.Status),
	})
	return nil
}

// Get returns a transfer with its items.
func (s *Service) Get(ctx context.Context, id int64) (Transfer, error) {
	return s.repo.Get(ctx, id)
}

// List returns transfers without items, newest first.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Transfer, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, shared.Invalid("status", filter.Status, "is unknown")
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, shared.Invalid("type", filter.Type, "is unknown")
	}
	switch {
	case filter.Limit <= 0:
		filter.Limit = 50
	case filter.Limit > 500:
		filter.Limit = 500
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.repo.List(ctx, filter)
}

// History returns the submit, approve and reject log of a transfer.
func (s *Service) History(ctx context.Context, id int64) ([]shared.ApprovalLog, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.Approvals(ctx, approvalModule, shared.ApprovalRef(approvalModule, id))
}

// transition reloads the transfer under lock, applies fn and saves the result
// in one transaction.
func (s *Service) transition(ctx context.Context, id int64, fn func(context.Context, TxRepository, *Transfer, time.Time) error) (Transfer, error) {
	var out Transfer
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		t, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		now := s.now()
		if err := fn(ctx, tx, &t, now); err != nil {
			return err
		}
		t.UpdatedAt = now
		if err := tx.Update(ctx, t); err != nil {
			return fmt.Errorf("transfers: update %d: %w", t.ID, err)
		}
		out = t
		return nil
	})
	return out, err
}

// post records one movement per item with a positive quantity, in ascending
// product order so concurrent transitions lock pairs in the same order.
func (s *Service) post(ctx context.Context, tx TxRepository, t *Transfer, dir inventory.Direction, ref inventory.ReferenceType,
	actorID, branchID int64, quantity func(Item) int64) ([]inventory.StockMovement, error) {
	items := append([]Item(nil), t.Items...)
	sort.SliceStable(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })

	var movements []inventory.StockMovement
	for _, item := range items {
		qty := quantity(item)
		if qty == 0 {
			continue
		}
		mv, err := s.ledger.Record(ctx, tx, inventory.MovementInput{
			BranchID:      branchID,
			ProductID:     item.ProductID,
			Direction:     dir,
			Quantity:      qty,
			ReferenceType: ref,
			ReferenceID:   t.ID,
			ActorID:       actorID,
			Notes:         t.Number,
		})
		if err != nil {
			return nil, err
		}
		movements = append(movements, mv)
	}
	return movements, nil
}

func (s *Service) activeBranch(ctx context.Context, field string, id int64) (masterdata.Branch, error) {
	branch, err := s.catalog.GetBranch(ctx, id)
	if err != nil {
		return masterdata.Branch{}, err
	}
	if !branch.IsActive {
		return masterdata.Branch{}, shared.Invalid(field, id, "is inactive")
	}
	return branch, nil
}

func (s *Service) approval(id, actorID int64, action shared.ApprovalAction, note string, at time.Time) shared.ApprovalLog {
	return shared.ApprovalLog{
		Module:  approvalModule,
		RefID:   shared.ApprovalRef(approvalModule, id),
		ActorID: actorID,
		Action:  action,
		Note:    note,
		At:      at,
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, t Transfer, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "stock_transfer",
		EntityID: shared.FormatID(t.ID),
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Int64("transfer_id", t.ID), slog.Any("error", err))
	}
}

func validateCreate(input CreateInput) error {
	if !input.Type.Valid() {
		return shared.Invalid("type", input.Type, "must be request or send")
	}
	if input.FromBranchID <= 0 {
		return shared.Invalid("from_branch_id", input.FromBranchID, "is required")
	}
	if input.ToBranchID <= 0 {
		return shared.Invalid("to_branch_id", input.ToBranchID, "is required")
	}
	if input.FromBranchID == input.ToBranchID {
		return shared.Invalid("to_branch_id", input.ToBranchID, "must differ from from_branch_id")
	}
	if len(input.Items) == 0 {
		return shared.Invalid("items", 0, "at least one item is required")
	}
	seen := make(map[int64]struct{}, len(input.Items))
	for i, item := range input.Items {
		if item.ProductID <= 0 {
			return shared.Invalid(fmt.Sprintf("items[%d].product_id", i), item.ProductID, "is required")
		}
		if item.Quantity < 1 {
			return shared.Invalid(fmt.Sprintf("items[%d].quantity_requested", i), item.Quantity, "must be at least 1")
		}
		if _, dup := seen[item.ProductID]; dup {
			return shared.Invalid(fmt.Sprintf("items[%d].product_id", i), item.ProductID, "is listed twice")
		}
		seen[item.ProductID] = struct{}{}
	}
	return nil
}

func checkOverrides(items []Item, quantities map[int64]int64, field string) error {
	for itemID := range quantities {
		found := false
		for _, item := range items {
			if item.ID == itemID {
				found = true
				break
			}
		}
		if !found {
			return shared.Invalid(field, itemID, "refers to an item outside this transfer")
		}
	}
	return nil
}
