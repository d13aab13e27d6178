package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/giftcraft/api/internal/platform/auth"
	"github.com/giftcraft/api/internal/platform/httpx"
	"github.com/giftcraft/api/internal/services"
)

type verifyDeliveryOTPRequest struct {
	OTP string `json:"otp" validate:"required,len=6,numeric"`
}

type sendDeliveryOTPResponse struct {
	OrderID   string `json:"orderId"`
	SentTo    string `json:"sentTo"`
	ExpiresAt string `json:"expiresAt"`
	Rotated   bool   `json:"rotated"`
}

type deliveryConfirmedResponse struct {
	OrderID     string `json:"orderId"`
	Status      string `json:"status"`
	DeliveredAt string `json:"deliveredAt"`
}

// DeliveryHandlers exposes the courier endpoints around the delivery OTP.
type DeliveryHandlers struct {
	authn         *auth.Authenticator
	orders        services.OrderService
	verifyLimiter rateLimiter
}

// DeliveryOption customises DeliveryHandlers.
type DeliveryOption func(*DeliveryHandlers)

// WithOTPVerifyRateLimit throttles OTP verification attempts per client address.
func WithOTPVerifyRateLimit(perMinute, burst int) DeliveryOption {
	return func(h *DeliveryHandlers) {
		h.verifyLimiter = newKeyedRateLimiter(perMinute, burst, nil)
	}
}

// NewDeliveryHandlers constructs a new DeliveryHandlers instance.
func NewDeliveryHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...DeliveryOption) *DeliveryHandlers {
	h := &DeliveryHandlers{
		authn:  authn,
		orders: orders,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /delivery endpoints.
func (h *DeliveryHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Group(func(courier chi.Router) {
		if h.authn != nil {
			courier.Use(h.authn.RequireAuth(auth.RoleDelivery, auth.RoleAdmin))
		}
		courier.Post("/orders/{orderID}:send-otp", h.sendOTP)
	})
	r.With(rateLimitMiddleware(h.verifyLimiter)).Post("/orders/{orderID}:verify-otp", h.verifyOTP)
}

func (h *DeliveryHandlers) sendOTP(w http.ResponseWriter, r *http.Request) {
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

	result, err := h.orders.SendDeliveryOTP(ctx, services.OrderActionCommand{
		OrderID: orderID,
		ActorID: identity.UID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, sendDeliveryOTPResponse{
		OrderID:   result.OrderID,
		SentTo:    result.SentTo,
		ExpiresAt: formatTime(result.ExpiresAt),
		Rotated:   result.Rotated,
	})
}

func (h *DeliveryHandlers) verifyOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	orderID, ok := orderIDParam(ctx, w, r)
	if !ok {
		return
	}

	var req verifyDeliveryOTPRequest
	if !decodeBody(ctx, w, r, &req) {
		return
	}

	order, err := h.orders.VerifyDeliveryOTP(ctx, orderID, strings.TrimSpace(req.OTP))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, deliveryConfirmedResponse{
		OrderID:     order.ID,
		Status:      string(order.Status),
		DeliveredAt: formatTimePtr(order.Shipping.DeliveredAt),
	})
}
