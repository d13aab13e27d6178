package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/giftcraft/api/internal/platform/httpx"
	"github.com/giftcraft/api/internal/platform/requestctx"
	"github.com/giftcraft/api/internal/services"
)

const maxWebhookBodySize = 1 << 20

// razorpayWebhookPayload mirrors the parts of a gateway event the engine reads.
type razorpayWebhookPayload struct {
	Event   string `json:"event"`
	Payload struct {
		Refund *struct {
			Entity razorpayRefundEntity `json:"entity"`
		} `json:"refund"`
	} `json:"payload"`
}

type razorpayRefundEntity struct {
	ID               string            `json:"id"`
	PaymentID        string            `json:"payment_id"`
	Amount           int64             `json:"amount"`
	Status           string            `json:"status"`
	ErrorDescription string            `json:"error_description"`
	Notes            map[string]string `json:"notes"`
}

// WebhookHandlers receives payment gateway callbacks. Signature checks run in
// middleware mounted on the /webhooks group.
type WebhookHandlers struct {
	refunds services.RefundService
}

// NewWebhookHandlers constructs a new WebhookHandlers instance.
func NewWebhookHandlers(refunds services.RefundService) *WebhookHandlers {
	return &WebhookHandlers{refunds: refunds}
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/razorpay", h.razorpay)
}

func (h *WebhookHandlers) razorpay(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.refunds == nil {
		serviceUnavailable(ctx, w, "refund")
		return
	}

	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	var payload razorpayWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "webhook payload is not valid JSON", http.StatusBadRequest))
		return
	}
	event := strings.TrimSpace(payload.Event)
	if !strings.HasPrefix(event, "refund.") || payload.Payload.Refund == nil {
		requestctx.Logger(ctx).Debug("webhook event ignored", zap.String("event", event))
		writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	entity := payload.Payload.Refund.Entity
	description := strings.TrimSpace(entity.ErrorDescription)
	if description == "" {
		description = strings.TrimSpace(entity.Notes["reason"])
	}
	result, err := h.refunds.ApplyWebhookEvent(ctx, services.RefundWebhookEvent{
		Event:       event,
		RefundID:    strings.TrimSpace(entity.ID),
		PaymentID:   strings.TrimSpace(entity.PaymentID),
		Amount:      entity.Amount,
		Description: description,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	requestctx.Logger(ctx).Info("webhook event processed",
		zap.String("event", event),
		zap.String("orderId", result.OrderID),
		zap.Bool("applied", result.Applied),
		zap.String("reason", result.Reason),
	)
	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}
