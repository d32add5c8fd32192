package sales

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-retail/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-retail/internal/rbac"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// IdempotencyKeyHeader carries a client generated key that makes sale creation safe to retry.
const IdempotencyKeyHeader = "Idempotency-Key"

const idempotencyModule = "sales"

// IdempotencyGuard remembers processed request keys.
type IdempotencyGuard interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// Handler exposes sales over HTTP.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	rbac        rbac.Middleware
	idempotency IdempotencyGuard
	validator   *httpx.Validator
}

// NewHandler constructs Handler. idempotency may be nil to ignore the header.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware, idempotency IdempotencyGuard) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac, idempotency: idempotency, validator: httpx.NewValidator()}
}

// MountRoutes registers sales routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.SaleScopes()...))
		r.Get("/", h.list)
		r.Get("/{id}", h.show)
	})
	r.Post("/", h.create)
}

type createRequest struct {
	BranchID      int64               `json:"branch_id" validate:"required,gt=0"`
	Items         []createItemRequest `json:"items" validate:"required,min=1,dive"`
	Discount      *decimal.Decimal    `json:"discount"`
	PaymentMethod string              `json:"payment_method" validate:"required,oneof=cash transfer debit"`
	CustomerName  string              `json:"customer_name" validate:"max=200"`
	CustomerPhone string              `json:"customer_phone" validate:"max=30"`
	Notes         string              `json:"notes" validate:"max=1000"`
}

type createItemRequest struct {
	ProductID int64            `json:"product_id" validate:"required,gt=0"`
	Quantity  int64            `json:"quantity" validate:"required,gte=1"`
	UnitPrice *decimal.Decimal `json:"unit_price"`
}

type saleView struct {
	Sale
	PaymentLabel string `json:"payment_label"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !h.validator.Decode(w, r, &req) {
		return
	}
	input := RecordSaleInput{
		BranchID:      req.BranchID,
		PaymentMethod: PaymentMethod(req.PaymentMethod),
		CustomerName:  req.CustomerName,
		CustomerPhone: req.CustomerPhone,
		Notes:         req.Notes,
	}
	if req.Discount != nil {
		input.Discount = *req.Discount
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, ItemInput{ProductID: item.ProductID, Quantity: item.Quantity, UnitPrice: item.UnitPrice})
	}

	key := r.Header.Get(IdempotencyKeyHeader)
	if key != "" && h.idempotency != nil {
		if err := h.idempotency.CheckAndInsert(r.Context(), key, idempotencyModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				httpx.Problem(w, http.StatusConflict, "Duplicate Request", "a sale with this idempotency key was already submitted")
				return
			}
			h.fail(w, "check idempotency key", err)
			return
		}
	}

	actorID, _ := shared.ActorFromContext(r.Context())
	sale, err := h.service.RecordSale(r.Context(), actorID, input)
	if err != nil {
		if key != "" && h.idempotency != nil {
			if delErr := h.idempotency.Delete(r.Context(), key, idempotencyModule); delErr != nil {
				h.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", delErr))
			}
		}
		h.fail(w, "record sale", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, saleView{Sale: sale, PaymentLabel: sale.PaymentMethod.Label()})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	sale, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get sale", err)
		return
	}
	httpx.JSON(w, http.StatusOK, saleView{Sale: sale, PaymentLabel: sale.PaymentMethod.Label()})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{PaymentMethod: PaymentMethod(q.Get("payment_method"))}
	branchID, err := httpx.QueryInt64(r, "branch_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if branchID != nil {
		filter.BranchID = *branchID
	}
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
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))

	sales, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.fail(w, "list sales", err)
		return
	}
	out := make([]saleView, 0, len(sales))
	for _, s := range sales {
		out = append(out, saleView{Sale: s, PaymentLabel: s.PaymentMethod.Label()})
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if !httpx.IsClientError(err) {
		h.logger.Error(op+" failed", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
