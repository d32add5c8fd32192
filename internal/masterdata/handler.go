package masterdata

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-retail/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-retail/internal/rbac"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// Handler manages master data endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	rbac      rbac.Middleware
	validator *httpx.Validator
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac, validator: httpx.NewValidator()}
}

// MountRoutes registers master data routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermMasterView, shared.PermMasterEdit))
		r.Get("/branches", h.listBranches)
		r.Get("/branches/{id}", h.showBranch)
		r.Get("/categories", h.listCategories)
		r.Get("/products", h.listProducts)
		r.Get("/products/{id}", h.showProduct)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermMasterEdit))
		r.Post("/branches", h.createBranch)
		r.Put("/branches/{id}", h.updateBranch)
		r.Post("/branches/{id}/active", h.setBranchActive)
		r.Post("/categories", h.createCategory)
		r.Post("/products", h.createProduct)
		r.Put("/products/{id}", h.updateProduct)
		r.Post("/products/{id}/active", h.setProductActive)
	})
}

type branchRequest struct {
	Code    string `json:"code" validate:"omitempty,max=20"`
	Name    string `json:"name" validate:"required,max=120"`
	Address string `json:"address" validate:"max=500"`
}

type categoryRequest struct {
	Code string `json:"code" validate:"required,max=20"`
	Name string `json:"name" validate:"required,max=120"`
}

type productRequest struct {
	SKU        string          `json:"sku" validate:"omitempty,max=20"`
	Name       string          `json:"name" validate:"required,max=200"`
	CategoryID *int64          `json:"category_id" validate:"omitempty,gt=0"`
	Price      decimal.Decimal `json:"price"`
}

type activeRequest struct {
	Active bool `json:"active"`
}

func (h *Handler) listFilters(r *http.Request) (ListFilters, error) {
	q := r.URL.Query()
	filters := ListFilters{Search: q.Get("search")}
	if raw := q.Get("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			return filters, shared.Invalid("active", raw, "must be a boolean")
		}
		filters.IsActive = &active
	}
	categoryID, err := httpx.QueryInt64(r, "category_id")
	if err != nil {
		return filters, err
	}
	filters.CategoryID = categoryID
	filters.Limit, _ = strconv.Atoi(q.Get("limit"))
	filters.Offset, _ = strconv.Atoi(q.Get("offset"))
	return filters, nil
}

func (h *Handler) listBranches(w http.ResponseWriter, r *http.Request) {
	filters, err := h.listFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	branches, err := h.service.ListBranches(r.Context(), filters)
	if err != nil {
		h.fail(w, "list branches", err)
		return
	}
	httpx.JSON(w, http.StatusOK, branches)
}

func (h *Handler) showBranch(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	branch, err := h.service.GetBranch(r.Context(), id)
	if err != nil {
		h.fail(w, "get branch", err)
		return
	}
	httpx.JSON(w, http.StatusOK, branch)
}

func (h *Handler) createBranch(w http.ResponseWriter, r *http.Request) {
	var req branchRequest
	if !h.validator.Decode(w, r, &req) {
		return
	}
	actorID, _ := shared.ActorFromContext(r.Context())
	branch, err := h.service.CreateBranch(r.Context(), actorID, BranchInput(req))
	if err != nil {
		h.fail(w, "create branch", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, branch)
}

func (h *Handler) updateBranch(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req branchRequest
	if !h.validator.Decode(w, r, &req) {
		return
	}
	actorID, _ := shared.ActorFromContext(r.Context())
	branch, err := h.service.UpdateBranch(r.Context(), actorID, id, BranchInput(req))
	if err != nil {
		h.fail(w, "update branch", err)
		return
	}
	httpx.JSON(w, http.StatusOK, branch)
}

func (h *Handler) setBranchActive(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req activeRequest
	if !h.validator.Decode(w, r, &req) {
		return
	}
	actorID, _ := shared.ActorFromContext(r.Context())
	branch, err := h.service.SetBranchActive(r.Context(), actorID, id, req.Active)
	if err != nil {
		h.fail(w, "set branch active", err)
		return
	}
	httpx.JSON(w, http.StatusOK, branch)
}

func (h *Handler) listCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.service.ListCategories(r.Context())
	if err != nil {
		h.fail(w, "list categories", err)
		return
	}
	httpx.JSON(w, http.StatusOK, categories)
}

func (h *Handler) createCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if !h.validator.Decode(w, r, &req) {
		return
	}
	actorID, _ := shared.ActorFromContext(r.Context())
	category, err := h.service.CreateCategory(r.Context(), actorID, CategoryInput(req))
	if err != nil {
		h.fail(w, "create category", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, category)
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	filters, err := h.listFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	products, err := h.service.ListProducts(r.Context(), filters)
	if err != nil {
		h.fail(w, "list products", err)
		return
	}
	httpx.JSON(w, http.StatusOK, products)
}

func (h *Handler) showProduct(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	product, err := h.service.GetProduct(r.Context(), id)
	if err != nil {
		h.fail(w, "get product", err)
		return
	}
	httpx.JSON(w, http.StatusOK, product)
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if !h.validator.Decode(w, r, &req) {
		return
	}
	actorID, _ := shared.ActorFromContext(r.Context())
	product, err := h.service.CreateProduct(r.Context(), actorID, ProductInput(req))
	if err != nil {
		h.fail(w, "create product", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, product)
}

func (h *Handler) updateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req productRequest
	if !h.validator.Decode(w, r, &req) {
		return
	}
	actorID, _ := shared.ActorFromContext(r.Context())
	product, err := h.service.UpdateProduct(r.Context(), actorID, id, ProductInput(req))
	if err != nil {
		h.fail(w, "update product", err)
		return
	}
	httpx.JSON(w, http.StatusOK, product)
}

func (h *Handler) setProductActive(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req activeRequest
	if !h.validator.Decode(w, r, &req) {
		return
	}
	actorID, _ := shared.ActorFromContext(r.Context())
	product, err := h.service.SetProductActive(r.Context(), actorID, id, req.Active)
	if err != nil {
		h.fail(w, "set product active", err)
		return
	}
	httpx.JSON(w, http.StatusOK, product)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if !httpx.IsClientError(err) {
		h.logger.Error(op+" failed", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
