package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/giftcraft/api/internal/domain"
	"github.com/giftcraft/api/internal/platform/auth"
	"github.com/giftcraft/api/internal/platform/httpx"
	"github.com/giftcraft/api/internal/services"
)

type updateRefundStatusRequest struct {
	Status           string `json:"refundStatus" validate:"required,oneof=pending initiated processing completed failed"`
	RefundID         string `json:"refundId" validate:"max=64"`
	RefundAmount     *int64 `json:"refundAmount" validate:"omitempty,min=0"`
	Notes            string `json:"notes" validate:"max=1000"`
	SkipVerification bool   `json:"skipVerification"`
}

type bulkRefundUpdateRequest struct {
	OrderIDs         []string `json:"orderIds" validate:"required,min=1,max=100,dive,required"`
	Status           string   `json:"refundStatus" validate:"required,oneof=pending initiated processing completed failed"`
	SkipVerification bool     `json:"skipVerification"`
}

type bulkRefundUpdateResponse struct {
	Results   []services.BulkRefundOutcome `json:"results"`
	Succeeded int                          `json:"succeeded"`
	Failed    int                          `json:"failed"`
}

// AdminRefundHandlers exposes refund reconciliation endpoints for staff.
type AdminRefundHandlers struct {
	authn   *auth.Authenticator
	refunds services.RefundService
}

// NewAdminRefundHandlers constructs a new AdminRefundHandlers instance.
func NewAdminRefundHandlers(authn *auth.Authenticator, refunds services.RefundService) *AdminRefundHandlers {
	return &AdminRefundHandlers{authn: authn, refunds: refunds}
}

// Routes registers the /admin/refunds endpoints.
func (h *AdminRefundHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(g chi.Router) {
		if h.authn != nil {
			g.Use(h.authn.RequireAuth(auth.RoleAdmin))
		}
		g.Get("/refunds", h.dashboard)
		g.Post("/refunds:bulk-update", h.bulkUpdate)
		g.Post("/refunds:sync", h.sync)
		g.Get("/refunds/{orderID}", h.verify)
		g.Post("/refunds/{orderID}", h.update)
	})
}

func (h *AdminRefundHandlers) dashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.refunds == nil {
		serviceUnavailable(ctx, w, "refund")
		return
	}
	dashboard, err := h.refunds.ListRefundedOrders(ctx)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, dashboard)
}

func (h *AdminRefundHandlers) verify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.refunds == nil {
		serviceUnavailable(ctx, w, "refund")
		return
	}
	orderID, ok := orderIDParam(ctx, w, r)
	if !ok {
		return
	}
	result, err := h.refunds.VerifyRefundStatus(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

func (h *AdminRefundHandlers) update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.refunds == nil {
		serviceUnavailable(ctx, w, "refund")
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
	var req updateRefundStatusRequest
	if !decodeBody(ctx, w, r, &req) {
		return
	}

	order, err := h.refunds.UpdateRefundStatus(ctx, services.UpdateRefundStatusCommand{
		OrderID:          orderID,
		Status:           domain.RefundStatus(req.Status),
		RefundID:         strings.TrimSpace(req.RefundID),
		RefundAmount:     req.RefundAmount,
		Notes:            req.Notes,
		SkipVerification: req.SkipVerification,
		ActorID:          identity.UID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order, staffView))
}

func (h *AdminRefundHandlers) bulkUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.refunds == nil {
		serviceUnavailable(ctx, w, "refund")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	var req bulkRefundUpdateRequest
	if !decodeBody(ctx, w, r, &req) {
		return
	}

	outcomes, err := h.refunds.BulkUpdateRefundStatus(ctx, services.BulkRefundUpdateCommand{
		OrderIDs:         req.OrderIDs,
		Status:           domain.RefundStatus(req.Status),
		SkipVerification: req.SkipVerification,
		ActorID:          identity.UID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	resp := bulkRefundUpdateResponse{Results: outcomes}
	for _, outcome := range outcomes {
		if outcome.Success {
			resp.Succeeded++
		} else {
			resp.Failed++
		}
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *AdminRefundHandlers) sync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.refunds == nil {
		serviceUnavailable(ctx, w, "refund")
		return
	}
	report, err := h.refunds.SyncRefundStatuses(ctx)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, report)
}
