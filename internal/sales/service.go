package sales

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/odyssey-erp/odyssey-retail/internal/inventory"
	"github.com/odyssey-erp/odyssey-retail/internal/masterdata"
	"github.com/odyssey-erp/odyssey-retail/internal/numbering"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// Repository abstracts sale persistence.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	// Get returns the sale with its items or an error matching shared.ErrNotFound.
	Get(ctx context.Context, id int64) (Sale, error)
	List(ctx context.Context, filter ListFilter) ([]Sale, error)
}

// TxRepository writes a sale, its items and its stock movements in one transaction.
type TxRepository interface {
	inventory.LedgerTx
	numbering.Store
	// InsertSale stores the header. A taken invoice number yields shared.ErrDuplicate.
	InsertSale(ctx context.Context, sale Sale) (Sale, error)
	InsertItems(ctx context.Context, saleID int64, items []SaleItem) ([]SaleItem, error)
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

// Service records point of sale transactions.
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
		logger:  logger.With(slog.String("module", "sales")),
		now:     now,
	}
}

// RecordSale validates and prices the items, assigns the invoice number and
// takes every line out of the branch's stock. Either all of it commits or
// nothing does, including the invoice number.
func (s *Service) RecordSale(ctx context.Context, actorID int64, input RecordSaleInput) (Sale, error) {
	if err := shared.Require(ctx, s.authz, actorID, shared.PermSaleCreate); err != nil {
		return Sale{}, err
	}
	if err := validateSale(input); err != nil {
		return Sale{}, err
	}
	branch, err := s.catalog.GetBranch(ctx, input.BranchID)
	if err != nil {
		return Sale{}, err
	}
	if !branch.IsActive {
		return Sale{}, shared.Invalid("branch_id", input.BranchID, "is inactive")
	}

	// Snapshot prices
	items := make([]SaleItem, 0, len(input.Items))
	for i, in := range input.Items {
		product, err := s.catalog.GetProduct(ctx, in.ProductID)
		if err != nil {
			return Sale{}, err
		}
		if !product.IsActive {
			return Sale{}, shared.Invalid(fmt.Sprintf("items[%d].product_id", i), in.ProductID, "is inactive")
		}
		price := product.Price
		if in.UnitPrice != nil {
			price = *in.UnitPrice
		}
		items = append(items, SaleItem{ProductID: in.ProductID, Quantity: in.Quantity, UnitPrice: price})
	}
	subtotal, grandTotal, err := Totals(items, input.Discount)
	if err != nil {
		return Sale{}, err
	}

	now := s.now()
	sale := Sale{
		BranchID:      branch.ID,
		OperatorID:    actorID,
		SaleDate:      now,
		CustomerName:  strings.TrimSpace(input.CustomerName),
		CustomerPhone: strings.TrimSpace(input.CustomerPhone),
		Subtotal:      subtotal,
		Discount:      input.Discount,
		GrandTotal:    grandTotal,
		PaymentMethod: input.PaymentMethod,
		Notes:         strings.TrimSpace(input.Notes),
	}

	var movements []inventory.StockMovement
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		movements = movements[:0]
		_, err := numbering.Assign(ctx, tx, numbering.TagInvoice, branch.Code, now, func(ctx context.Context, number string) error {
			header := sale
			header.InvoiceNumber = number
			stored, err := tx.InsertSale(ctx, header)
			if err != nil {
				return err
			}
			sale = stored
			return nil
		})
		if err != nil {
			return err
		}

		// Lock pairs in product order
		ordered := append([]SaleItem(nil), items...)
		sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].ProductID < ordered[j].ProductID })
		for _, item := range ordered {
			mv, err := s.ledger.Record(ctx, tx, inventory.MovementInput{
				BranchID:      sale.BranchID,
				ProductID:     item.ProductID,
				Direction:     inventory.DirectionOut,
				Quantity:      item.Quantity,
				ReferenceType: inventory.RefSale,
				ReferenceID:   sale.ID,
				ActorID:       actorID,
				Notes:         sale.InvoiceNumber,
			})
			if err != nil {
				return err
			}
			movements = append(movements, mv)
		}

		sale.Items, err = tx.InsertItems(ctx, sale.ID, items)
		return err
	})
	if err != nil {
		return Sale{}, err
	}

	s.hook.MovementsCommitted(ctx, movements...)
	s.recordAudit(ctx, actorID, sale)
	s.logger.Info("sale recorded",
		slog.Int64("sale_id", sale.ID),
		slog.String("invoice_number", sale.InvoiceNumber),
		slog.Int64("branch_id", sale.BranchID),
		slog.String("grand_total", sale.GrandTotal.String()))
	return sale, nil
}

// Get returns a sale with its items.
func (s *Service) Get(ctx context.Context, id int64) (Sale, error) {
	if id <= 0 {
		return Sale{}, shared.Invalid("id", id, "must be positive")
	}
	return s.repo.Get(ctx, id)
}

// List returns sale headers, newest first.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Sale, error) {
	if filter.PaymentMethod != "" && !filter.PaymentMethod.Valid() {
		return nil, shared.Invalid("payment_method", filter.PaymentMethod, "is unknown")
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && !filter.From.Before(filter.To) {
		return nil, shared.Invalid("to", filter.To, "must be after from")
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

func (s *Service) recordAudit(ctx context.Context, actorID int64, sale Sale) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   shared.AuditSaleRecorded,
		Entity:   "sale",
		EntityID: shared.FormatID(sale.ID),
		Meta: map[string]any{
			"invoice_number": sale.InvoiceNumber,
			"branch_id":      sale.BranchID,
			"grand_total":    sale.GrandTotal.String(),
			"items":          len(sale.Items),
		},
		At: s.now(),
	})
	if err != nil {
		s.logger.Warn("audit record failed", slog.Int64("sale_id", sale.ID), slog.Any("error", err))
	}
}

func validateSale(input RecordSaleInput) error {
	if input.BranchID <= 0 {
		return shared.Invalid("branch_id", input.BranchID, "is required")
	}
	if !input.PaymentMethod.Valid() {
		return shared.Invalid("payment_method", input.PaymentMethod, "must be cash, transfer or debit")
	}
	if len(input.Items) == 0 {
		return shared.Invalid("items", 0, "at least one item is required")
	}
	if input.Discount.IsNegative() {
		return shared.Invalid("discount", input.Discount.String(), "cannot be negative")
	}
	seen := make(map[int64]struct{}, len(input.Items))
	for i, item := range input.Items {
		if item.ProductID <= 0 {
			return shared.Invalid(fmt.Sprintf("items[%d].product_id", i), item.ProductID, "is required")
		}
		if item.Quantity < 1 {
			return shared.Invalid(fmt.Sprintf("items[%d].quantity", i), item.Quantity, "must be at least 1")
		}
		if item.UnitPrice != nil && item.UnitPrice.IsNegative() {
			return shared.Invalid(fmt.Sprintf("items[%d].unit_price", i), item.UnitPrice.String(), "cannot be negative")
		}
		if _, dup := seen[item.ProductID]; dup {
			return shared.Invalid(fmt.Sprintf("items[%d].product_id", i), item.ProductID, "is listed twice")
		}
		seen[item.ProductID] = struct{}{}
	}
	return nil
}
