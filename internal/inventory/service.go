package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-retail/internal/masterdata"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// Repository abstracts stock persistence for the service.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	// GetStock returns ErrStockNotFound when the pair has no row.
	GetStock(ctx context.Context, branchID, productID int64) (BranchStock, error)
	ListStock(ctx context.Context, branchID int64) ([]BranchStock, error)
	// ListLowStock lists rows with quantity <= min_stock. branchID 0 means all branches.
	ListLowStock(ctx context.Context, branchID int64) ([]BranchStock, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]StockMovement, error)
	ListStockKeys(ctx context.Context) ([]StockKey, error)
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	LedgerTx
	CountMovements(ctx context.Context, branchID, productID int64) (int, error)
	// ReadStock share-locks the pair so no movement commits until the
	// transaction ends. It returns ErrStockNotFound when the pair has no row.
	ReadStock(ctx context.Context, branchID, productID int64) (BranchStock, error)
	LedgerSummary(ctx context.Context, branchID, productID int64) (LedgerSummary, error)
	SetMinStock(ctx context.Context, branchID, productID, minStock int64, at time.Time) (BranchStock, error)
}

// Catalog resolves branches and products.
type Catalog interface {
	GetBranch(ctx context.Context, id int64) (masterdata.Branch, error)
	GetProduct(ctx context.Context, id int64) (masterdata.Product, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ErrAlreadyInitialised rejects an initial stock entry for a pair with history.
var ErrAlreadyInitialised = errors.New("inventory: stock already has movements")

// Deps groups Service collaborators. Audit, Hook and Cache are optional.
type Deps struct {
	Repo    Repository
	Ledger  *Ledger
	Catalog Catalog
	Authz   shared.Authorizer
	Audit   AuditPort
	Hook    *CommitHook
	Cache   *LowStockCache
	Logger  *slog.Logger
	Clock   shared.Clock
}

// Service coordinates stock adjustments and projection reads.
type Service struct {
	repo    Repository
	ledger  *Ledger
	catalog Catalog
	authz   shared.Authorizer
	audit   AuditPort
	hook    *CommitHook
	cache   *LowStockCache
	logger  *slog.Logger
	now     shared.Clock
	group   singleflight.Group
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
		ledger = NewLedger(now, nil)
	}
	return &Service{
		repo:    deps.Repo,
		ledger:  ledger,
		catalog: deps.Catalog,
		authz:   deps.Authz,
		audit:   deps.Audit,
		hook:    deps.Hook,
		cache:   deps.Cache,
		logger:  logger.With(slog.String("module", "inventory")),
		now:     now,
	}
}

// AdjustInput describes a manual stock correction.
type AdjustInput struct {
	BranchID  int64
	ProductID int64
	Direction Direction
	Quantity  int64
	Notes     string
}

// Adjust records a manual in or out movement. A reason is mandatory.
func (s *Service) Adjust(ctx context.Context, actorID int64, input AdjustInput) (StockMovement, error) {
	if err := shared.Require(ctx, s.authz, actorID, shared.PermInventoryAdjust); err != nil {
		return StockMovement{}, err
	}
	if strings.TrimSpace(input.Notes) == "" {
		return StockMovement{}, shared.Invalid("notes", input.Notes, "is required for adjustments")
	}
	if err := s.checkPair(ctx, input.BranchID, input.ProductID); err != nil {
		return StockMovement{}, err
	}
	var movement StockMovement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		movement, err = s.ledger.Record(ctx, tx, MovementInput{
			BranchID:      input.BranchID,
			ProductID:     input.ProductID,
			Direction:     input.Direction,
			Quantity:      input.Quantity,
			ReferenceType: RefAdjustment,
			ActorID:       actorID,
			Notes:         input.Notes,
		})
		return err
	})
	if err != nil {
		return StockMovement{}, err
	}
	s.hook.MovementsCommitted(ctx, movement)
	s.recordAudit(ctx, actorID, shared.AuditStockAdjusted, "stock_movement", shared.FormatID(movement.ID), map[string]any{
		"branch_id":   movement.BranchID,
		"product_id":  movement.ProductID,
		"type":        string(movement.Direction),
		"quantity":    movement.Quantity,
		"stock_after": movement.StockAfter,
		"notes":       movement.Notes,
	})
	return movement, nil
}

// InitialStockInput seeds a pair that has never moved.
type InitialStockInput struct {
	BranchID  int64
	ProductID int64
	Quantity  int64
	MinStock  *int64
}

// SetInitialStock records the opening balance of a pair. It fails once the
// pair has any movement.
func (s *Service) SetInitialStock(ctx context.Context, actorID int64, input InitialStockInput) (StockMovement, error) {
	if err := shared.Require(ctx, s.authz, actorID, shared.PermInventoryAdjust); err != nil {
		return StockMovement{}, err
	}
	if input.MinStock != nil && *input.MinStock < 0 {
		return StockMovement{}, shared.Invalid("min_stock", *input.MinStock, "cannot be negative")
	}
	if err := s.checkPair(ctx, input.BranchID, input.ProductID); err != nil {
		return StockMovement{}, err
	}
	var movement StockMovement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.LockStock(ctx, input.BranchID, input.ProductID); err != nil {
			return err
		}
		count, err := tx.CountMovements(ctx, input.BranchID, input.ProductID)
		if err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: %w", shared.ErrConflict, ErrAlreadyInitialised)
		}
		movement, err = s.ledger.Record(ctx, tx, MovementInput{
			BranchID:      input.BranchID,
			ProductID:     input.ProductID,
			Direction:     DirectionIn,
			Quantity:      input.Quantity,
			ReferenceType: RefInitial,
			ActorID:       actorID,
			Notes:         "stok awal",
		})
		if err != nil {
			return err
		}
		if input.MinStock != nil {
			_, err = tx.SetMinStock(ctx, input.BranchID, input.ProductID, *input.MinStock, s.now())
		}
		return err
	})
	if err != nil {
		return StockMovement{}, err
	}
	s.hook.MovementsCommitted(ctx, movement)
	s.recordAudit(ctx, actorID, shared.AuditStockInitialised, "stock_movement", shared.FormatID(movement.ID), map[string]any{
		"branch_id":  movement.BranchID,
		"product_id": movement.ProductID,
		"quantity":   movement.Quantity,
	})
	return movement, nil
}

// SetMinStock changes the reorder threshold of a pair.
func (s *Service) SetMinStock(ctx context.Context, actorID, branchID, productID, minStock int64) (BranchStock, error) {
	if err := shared.Require(ctx, s.authz, actorID, shared.PermInventoryAdjust); err != nil {
		return BranchStock{}, err
	}
	if minStock < 0 {
		return BranchStock{}, shared.Invalid("min_stock", minStock, "cannot be negative")
	}
	if err := s.checkPair(ctx, branchID, productID); err != nil {
		return BranchStock{}, err
	}
	var stock BranchStock
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		stock, err = tx.SetMinStock(ctx, branchID, productID, minStock, s.now())
		return err
	})
	if err != nil {
		return BranchStock{}, err
	}
	s.hook.InvalidateLowStock(ctx)
	s.recordAudit(ctx, actorID, shared.AuditMinStockChanged, "branch_stock", fmt.Sprintf("%d/%d", branchID, productID), map[string]any{
		"branch_id":  branchID,
		"product_id": productID,
		"min_stock":  minStock,
	})
	return stock, nil
}

// QuantityOf returns the current quantity of a pair, 0 when it never moved.
func (s *Service) QuantityOf(ctx context.Context, branchID, productID int64) (int64, error) {
	stock, err := s.repo.GetStock(ctx, branchID, productID)
	if errors.Is(err, ErrStockNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return stock.Quantity, nil
}

// GetStock returns the projection row of a pair.
func (s *Service) GetStock(ctx context.Context, branchID, productID int64) (BranchStock, error) {
	stock, err := s.repo.GetStock(ctx, branchID, productID)
	if errors.Is(err, ErrStockNotFound) {
		return BranchStock{}, shared.NotFound("branch stock", fmt.Sprintf("%d/%d", branchID, productID))
	}
	return stock, err
}

// ListStock lists the projection rows of a branch.
func (s *Service) ListStock(ctx context.Context, branchID int64) ([]BranchStock, error) {
	if branchID <= 0 {
		return nil, shared.Invalid("branch_id", branchID, "is required")
	}
	return s.repo.ListStock(ctx, branchID)
}

// ListLowStock lists pairs at or below their minimum, optionally for one branch.
func (s *Service) ListLowStock(ctx context.Context, branchID *int64) ([]BranchStock, error) {
	var id int64
	if branchID != nil {
		id = *branchID
	}
	v, err, _ := s.group.Do("low:"+strconv.FormatInt(id, 10), func() (any, error) {
		// Waiting callers share this fill, so it must outlive the first caller.
		ctx := context.WithoutCancel(ctx)
		return s.cache.Fetch(ctx, id, func(ctx context.Context) ([]BranchStock, error) {
			return s.repo.ListLowStock(ctx, id)
		})
	})
	if err != nil {
		return nil, err
	}
	return v.([]BranchStock), nil
}

// ListMovements returns ledger rows, newest first.
func (s *Service) ListMovements(ctx context.Context, filter MovementFilter) ([]StockMovement, error) {
	if filter.ReferenceType != "" && !filter.ReferenceType.Valid() {
		return nil, shared.Invalid("reference_type", filter.ReferenceType, "is unknown")
	}
	switch {
	case filter.Limit <= 0:
		filter.Limit = 100
	case filter.Limit > 1000:
		filter.Limit = 1000
	}
	return s.repo.ListMovements(ctx, filter)
}

// VerifyLedger checks that the projection equals both the last stock_after
// and the signed sum of the pair's movements. Both reads share one
// transaction holding the pair's row lock.
func (s *Service) VerifyLedger(ctx context.Context, branchID, productID int64) (LedgerReport, error) {
	var report LedgerReport
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var qty int64
		stock, err := tx.ReadStock(ctx, branchID, productID)
		switch {
		case errors.Is(err, ErrStockNotFound):
		case err != nil:
			return err
		default:
			qty = stock.Quantity
		}
		summary, err := tx.LedgerSummary(ctx, branchID, productID)
		if err != nil {
			return err
		}
		report = LedgerReport{
			BranchID:       branchID,
			ProductID:      productID,
			Quantity:       qty,
			Movements:      summary.Movements,
			SignedSum:      summary.SignedSum,
			LastStockAfter: summary.LastStockAfter,
		}
		return nil
	})
	if err != nil {
		return LedgerReport{}, err
	}
	report.Consistent = report.Quantity == report.SignedSum &&
		(report.Movements == 0 || report.Quantity == report.LastStockAfter)
	return report, nil
}

// VerifyAll runs VerifyLedger over every pair and returns the inconsistent ones.
func (s *Service) VerifyAll(ctx context.Context) ([]LedgerReport, error) {
	keys, err := s.repo.ListStockKeys(ctx)
	if err != nil {
		return nil, err
	}
	var broken []LedgerReport
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return broken, err
		}
		report, err := s.VerifyLedger(ctx, key.BranchID, key.ProductID)
		if err != nil {
			return broken, err
		}
		if !report.Consistent {
			s.logger.Error("ledger mismatch",
				slog.Int64("branch_id", report.BranchID),
				slog.Int64("product_id", report.ProductID),
				slog.Int64("quantity", report.Quantity),
				slog.Int64("signed_sum", report.SignedSum),
				slog.Int64("last_stock_after", report.LastStockAfter))
			broken = append(broken, report)
		}
	}
	return broken, nil
}

func (s *Service) checkPair(ctx context.Context, branchID, productID int64) error {
	if s.catalog == nil {
		return nil
	}
	branch, err := s.catalog.GetBranch(ctx, branchID)
	if err != nil {
		return err
	}
	if !branch.IsActive {
		return shared.Invalid("branch_id", branchID, "is inactive")
	}
	if _, err := s.catalog.GetProduct(ctx, productID); err != nil {
		return err
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, entity, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
