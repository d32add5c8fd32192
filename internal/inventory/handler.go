package inventory

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-retail/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-retail/internal/rbac"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	rbac      rbac.Middleware
	validator *httpx.Validator
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac, validator: httpx.NewValidator()}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermInventoryView, shared.PermInventoryAdjust))
		r.Get("/stock", h.listStock)
		r.Get("/stock/{branchID}/{productID}", h.showStock)
		r.Get("/stock/{branchID}/{productID}/verify", h.verifyStock)
		r.Get("/low-stock", h.listLowStock)
		r.Get("/movements", h.listMovements)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermInventoryAdjust))
		r.Post("/adjustments", h.handleAdjustment)
		r.Post("/initial-stock", h.handleInitialStock)
		r.Put("/stock/{branchID}/{productID}/min-stock", h.handleMinStock)
	})
}

type adjustmentRequest struct {
	BranchID  int64  `json:"branch_id" validate:"required,gt=0"`
	ProductID int64  `json:"product_id" validate:"required,gt=0"`
	Type      string `json:"type" validate:"required,oneof=in out"`
	Quantity  int64  `json:"quantity" validate:"required,gt=0"`
	Notes     string `json:"notes" validate:"required,max=500"`
}

type initialStockRequest struct {
	BranchID  int64  `json:"branch_id" validate:"required,gt=0"`
	ProductID int64  `json:"product_id" validate:"required,gt=0"`
	Quantity  int64  `json:"quantity" validate:"required,gt=0"`
	MinStock  *int64 `json:"min_stock" validate:"omitempty,gte=0"`
}

type minStockRequest struct {
	MinStock int64 `json:"min_stock" validate:"gte=0"`
}

type stockView struct {
	BranchStock
	IsLowStock bool `json:"is_low_stock"`
}

type movementView struct {
	StockMovement
	TypeLabel      string `json:"type_label"`
	ReferenceLabel string `json:"reference_label"`
}

func toStockViews(stocks []BranchStock) []stockView {
	out := make([]stockView, 0, len(stocks))
	for _, s := range stocks {
		out = append(out, stockView{BranchStock: s, IsLowStock: s.IsLowStock()})
	}
	return out
}

func (h *Handler) listStock(w http.ResponseWriter, r *http.Request) {
	branchID, err := httpx.QueryInt64(r, "branch_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if branchID == nil {
		httpx.RespondError(w, shared.Invalid("branch_id", nil, "is required"))
		return
	}
	stocks, err := h.service.ListStock(r.Context(), *branchID)
	if err != nil {
		h.fail(w, "list stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toStockViews(stocks))
}

func (h *Handler) showStock(w http.ResponseWriter, r *http.Request) {
	branchID, productID, ok := pairParams(w, r)
	if !ok {
		return
	}
	stock, err := h.service.GetStock(r.Context(), branchID, productID)
	if err != nil {
		h.fail(w, "get stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, stockView{BranchStock: stock, IsLowStock: stock.IsLowStock()})
}

func (h *Handler) verifyStock(w http.ResponseWriter, r *http.Request) {
	branchID, productID, ok := pairParams(w, r)
	if !ok {
		return
	}
	report, err := h.service.VerifyLedger(r.Context(), branchID, productID)
	if err != nil {
		h.fail(w, "verify ledger", err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) listLowStock(w http.ResponseWriter, r *http.Request) {
	branchID, err := httpx.QueryInt64(r, "branch_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	stocks, err := h.service.ListLowStock(r.Context(), branchID)
	if err != nil {
		h.fail(w, "list low stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toStockViews(stocks))
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter MovementFilter
	for name, dst := range map[string]*int64{"branch_id": &filter.BranchID, "product_id": &filter.ProductID, "reference_id": &filter.ReferenceID} {
		v, err := httpx.QueryInt64(r, name)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		if v != nil {
			*dst = *v
		}
	}
	filter.ReferenceType = ReferenceType(q.Get("reference_type"))
	for name, dst := range map[string]*time.Time{"from": &filter.From, "to": &filter.To} {
		if raw := q.Get(name); raw != "" {
			t, err := time.Parse("2006-01-02", raw)
			if err != nil {
				httpx.RespondError(w, shared.Invalid(name, raw, "must be YYYY-MM-DD"))
				return
			}
			*dst = t
		}
	}
	if !filter.To.IsZero() {
		filter.To = filter.To.AddDate(0, 0, 1)
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))

	movements, err := h.service.ListMovements(r.Context(), filter)
	if err != nil {
		h.fail(w, "list movements", err)
		return
	}
	out := make([]movementView, 0, len(movements))
	for _, m := range movements {
		out = append(out, movementView{StockMovement: m, TypeLabel: m.Direction.Label(), ReferenceLabel: m.ReferenceType.Label()})
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleAdjustment(w http.ResponseWriter, r *http.Request) {
	var req adjustmentRequest
	if !h.validator.Decode(w, r, &req) {
		return
	}
	actorID, _ := shared.ActorFromContext(r.Context())
	movement, err := h.service.Adjust(r.Context(), actorID, AdjustInput{
		BranchID:  req.BranchID,
		ProductID: req.ProductID,
		Direction: Direction(req.Type),
		Quantity:  req.Quantity,
		Notes:     req.Notes,
	})
	if err != nil {
		h.fail(w, "adjust stock", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, movement)
}

func (h *Handler) handleInitialStock(w http.ResponseWriter, r *http.Request) {
	var req initialStockRequest
	if !h.validator.Decode(w, r, &req) {
		return
	}
	actorID, _ := shared.ActorFromContext(r.Context())
	movement, err := h.service.SetInitialStock(r.Context(), actorID, InitialStockInput(req))
	if err != nil {
		h.fail(w, "initial stock", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, movement)
}

func (h *Handler) handleMinStock(w http.ResponseWriter, r *http.Request) {
	branchID, productID, ok := pairParams(w, r)
	if !ok {
		return
	}
	var req minStockRequest
	if !h.validator.Decode(w, r, &req) {
		return
	}
	actorID, _ := shared.ActorFromContext(r.Context())
	stock, err := h.service.SetMinStock(r.Context(), actorID, branchID, productID, req.MinStock)
	if err != nil {
		h.fail(w, "set min stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, stockView{BranchStock: stock, IsLowStock: stock.IsLowStock()})
}

func pairParams(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	branchID, err := httpx.IDParam(r, "branchID")
	if err != nil {
		httpx.RespondError(w, err)
		return 0, 0, false
	}
	productID, err := httpx.IDParam(r, "productID")
	if err != nil {
		httpx.RespondError(w, err)
		return 0, 0, false
	}
	return branchID, productID, true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if !httpx.IsClientError(err) {
		h.logger.Error(op+" failed", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
