package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/giftcraft/api/internal/domain"
	"github.com/giftcraft/api/internal/platform/auth"
	"github.com/giftcraft/api/internal/platform/httpx"
	"github.com/giftcraft/api/internal/repositories"
	"github.com/giftcraft/api/internal/services"
)

type adminOrderActionRequest struct {
	Note string `json:"note" validate:"max=500"`
}

type adminOrderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

// AdminOrderHandlers exposes order operations for staff.
type AdminOrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewAdminOrderHandlers constructs a new AdminOrderHandlers instance.
func NewAdminOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *AdminOrderHandlers {
	return &AdminOrderHandlers{authn: authn, orders: orders}
}

// Routes registers the /admin/orders endpoints.
func (h *AdminOrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(g chi.Router) {
		if h.authn != nil {
			g.Use(h.authn.RequireAuth(auth.RoleAdmin))
		}
		g.Get("/orders", h.listOrders)
		g.Get("/orders/{orderID}", h.getOrder)
		g.Post("/orders/{orderID}:process", h.markProcessing)
		g.Post("/orders/{orderID}:ship", h.markShipped)
		g.Post("/orders/{orderID}:cancel", h.cancelOrder)
	})
}

func (h *AdminOrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}

	query := r.URL.Query()
	statuses, ok := parseOrderStatuses(query["status"])
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status filter contains an unknown status", http.StatusBadRequest))
		return
	}
	page, err := parsePagination(query)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	result, err := h.orders.ListOrders(ctx, repositories.OrderListFilter{
		UserID:     strings.TrimSpace(query.Get("user_id")),
		Status:     statuses,
		Pagination: page,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderPayload, 0, len(result.Items))
	for _, order := range result.Items {
		items = append(items, buildOrderPayload(order, staffView))
	}
	httpx.WriteJSON(w, http.StatusOK, adminOrderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(result.NextPageToken),
	})
}

func (h *AdminOrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	orderID, ok := orderIDParam(ctx, w, r)
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order, staffView))
}

func (h *AdminOrderHandlers) markProcessing(w http.ResponseWriter, r *http.Request) {
	if h.orders == nil {
		serviceUnavailable(r.Context(), w, "order")
		return
	}
	h.runAction(w, r, h.orders.MarkProcessing)
}

func (h *AdminOrderHandlers) markShipped(w http.ResponseWriter, r *http.Request) {
	if h.orders == nil {
		serviceUnavailable(r.Context(), w, "order")
		return
	}
	h.runAction(w, r, h.orders.MarkShipped)
}

type orderAction func(ctx context.Context, cmd services.OrderActionCommand) (services.Order, error)

func (h *AdminOrderHandlers) runAction(w http.ResponseWriter, r *http.Request, action orderAction) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(ctx, w, r)
	if !ok {
		return
	}
	var req adminOrderActionRequest
	if !decodeBody(ctx, w, r, &req) {
		return
	}

	order, err := action(ctx, services.OrderActionCommand{
		OrderID: orderID,
		ActorID: identity.UID,
		Note:    req.Note,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order, staffView))
}

func (h *AdminOrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(ctx, w, r)
	if !ok {
		return
	}
	var req cancelOrderRequest
	if !decodeBody(ctx, w, r, &req) {
		return
	}

	order, err := h.orders.CancelOrder(ctx, services.CancelOrderCommand{
		OrderID:     orderID,
		CancelledBy: domain.CancelledByAdmin,
		ActorID:     identity.UID,
		Reason:      req.Reason,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order, staffView))
}
