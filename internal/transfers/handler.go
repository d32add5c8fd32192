package transfers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-retail/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-retail/internal/rbac"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// Handler exposes the transfer workflow over HTTP.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	rbac      rbac.Middleware
	validator *httpx.Validator
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac, validator: httpx.NewValidator()}
}

// MountRoutes registers transfer routes. Transition endpoints rely on the
// service's own capability checks.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.TransferScopes()...))
		r.Get("/", h.list)
		r.Get("/{id}", h.show)
		r.Get("/{id}/history", h.history)
	})
	r.Post("/", h.create)
	r.Post("/{id}/submit", h.submit)
	r.Post("/{id}/approve", h.approve)
	r.Post("/{id}/reject", h.reject)
	r.Post("/{id}/send", h.send)
	r.Post("/{id}/receive", h.receive)
	r.Delete("/{id}", h.delete)
}

type createRequest struct {
	Type         string              `json:"type" validate:"required,oneof=request send"`
	FromBranchID int64               `json:"from_branch_id" validate:"required,gt=0"`
	ToBranchID   int64               `json:"to_branch_id" validate:"required,gt=0,nefield=FromBranchID"`
	Notes        string              `json:"notes" validate:"max=1000"`
	Draft        bool                `json:"draft"`
	Items        []createItemRequest `json:"items" validate:"required,min=1,dive"`
}

type createItemRequest struct {
	ProductID         int64  `json:"product_id" validate:"required,gt=0"`
	QuantityRequested int64  `json:"quantity_requested" validate:"required,gte=1"`
	Notes             string `json:"notes" validate:"max=500"`
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

type sendRequest struct {
	Quantities map[int64]int64 `json:"quantities" validate:"omitempty,dive,gte=0"`
}

type receiveRequest struct {
	Quantities map[int64]int64 `json:"quantities" validate:"omitempty,dive,gte=0"`
	Notes      string          `json:"notes" validate:"max=1000"`
	PhotoPath  string          `json:"photo_path" validate:"max=500"`
}

type transferView struct {
	Transfer
	TypeLabel   string `json:"type_label"`
	StatusLabel string `json:"status_label"`
	StatusColor string `json:"status_color"`
}

func toView(t Transfer) transferView {
	return transferView{Transfer: t, TypeLabel: t.Type.Label(), StatusLabel: t.Status.Label(), StatusColor: t.Status.Color()}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{Status: Status(q.Get("status")), Type: Type(q.Get("type"))}
	branchID, err := httpx.QueryInt64(r, "branch_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if branchID != nil {
		filter.BranchID = *branchID
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))

	transfers, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.fail(w, "list transfers", err)
		return
	}
	out := make([]transferView, 0, len(transfers))
	for _, t := range transfers {
		out = append(out, toView(t))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	t, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get transfer", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toView(t))
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	logs, err := h.service.History(r.Context(), id)
	if err != nil {
		h.fail(w, "transfer history", err)
		return
	}
	httpx.JSON(w, http.StatusOK, logs)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !h.validator.Decode(w, r, &req) {
		return
	}
	input := CreateInput{
		Type:         Type(req.Type),
		FromBranchID: req.FromBranchID,
		ToBranchID:   req.ToBranchID,
		Notes:        req.Notes,
		Draft:        req.Draft,
	}
	for _, item := range req.Items {
		input.Items = append(input.Items, ItemInput{ProductID: item.ProductID, Quantity: item.QuantityRequested, Notes: item.Notes})
	}
	actorID, _ := shared.ActorFromContext(r.Context())
	t, err := h.service.Create(r.Context(), actorID, input)
	if err != nil {
		h.fail(w, "create transfer", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toView(t))
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "submit transfer", func(actorID, id int64) (Transfer, error) {
		return h.service.Submit(r.Context(), actorID, id)
	})
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "approve transfer", func(actorID, id int64) (Transfer, error) {
		return h.service.Approve(r.Context(), actorID, id)
	})
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if !h.validator.Decode(w, r, &req) {
		return
	}
	h.act(w, r, "reject transfer", func(actorID, id int64) (Transfer, error) {
		return h.service.Reject(r.Context(), actorID, id, req.Reason)
	})
}

func (h *Handler) send(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if r.ContentLength != 0 && !h.validator.Decode(w, r, &req) {
		return
	}
	h.act(w, r, "send transfer", func(actorID, id int64) (Transfer, error) {
		return h.service.Send(r.Context(), actorID, id, SendInput{Quantities: req.Quantities})
	})
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	var req receiveRequest
	if r.ContentLength != 0 && !h.validator.Decode(w, r, &req) {
		return
	}
	h.act(w, r, "receive transfer", func(actorID, id int64) (Transfer, error) {
		return h.service.Receive(r.Context(), actorID, id, ReceiveInput(req))
	})
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	actorID, _ := shared.ActorFromContext(r.Context())
	if err := h.service.Delete(r.Context(), actorID, id); err != nil {
		h.fail(w, "delete transfer", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) act(w http.ResponseWriter, r *http.Request, op string, fn func(actorID, id int64) (Transfer, error)) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	actorID, _ := shared.ActorFromContext(r.Context())
	t, err := fn(actorID, id)
	if err != nil {
		h.fail(w, op, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toView(t))
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if !httpx.IsClientError(err) {
		h.logger.Error(op+" failed", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
