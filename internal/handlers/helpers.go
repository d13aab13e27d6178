package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/giftcraft/api/internal/domain"
	"github.com/giftcraft/api/internal/platform/auth"
	"github.com/giftcraft/api/internal/platform/httpx"
	"github.com/giftcraft/api/internal/services"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	maxBodySize     = 64 * 1024
)

var (
	errEmptyBody    = errors.New("request body is empty")
	errBodyTooLarge = errors.New("request body too large")
)

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = maxBodySize
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// decodeBody decodes and validates an optional JSON body, writing the error response itself.
func decodeBody(ctx context.Context, w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return false
	}
	return true
}

func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func orderIDParam(ctx context.Context, w http.ResponseWriter, r *http.Request) (string, bool) {
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return "", false
	}
	return orderID, true
}

func parsePagination(query map[string][]string) (domain.Pagination, error) {
	page := domain.Pagination{PageSize: defaultPageSize}
	if values := query["page_token"]; len(values) > 0 {
		page.PageToken = strings.TrimSpace(values[0])
	}
	values := query["page_size"]
	if len(values) == 0 || strings.TrimSpace(values[0]) == "" {
		return page, nil
	}
	size, err := strconv.Atoi(strings.TrimSpace(values[0]))
	if err != nil {
		return page, errors.New("page_size must be an integer")
	}
	switch {
	case size <= 0:
		page.PageSize = defaultPageSize
	case size > maxPageSize:
		page.PageSize = maxPageSize
	default:
		page.PageSize = size
	}
	return page, nil
}

// parseFilterValues splits repeated and comma separated query values.
func parseFilterValues(values []string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			value := strings.ToLower(strings.TrimSpace(part))
			if value == "" {
				continue
			}
			if _, dup := seen[value]; dup {
				continue
			}
			seen[value] = struct{}{}
			out = append(out, value)
		}
	}
	return out
}

var validOrderStatuses = map[domain.OrderStatus]struct{}{
	domain.OrderStatusPending:       {},
	domain.OrderStatusPaymentFailed: {},
	domain.OrderStatusConfirmed:     {},
	domain.OrderStatusProcessing:    {},
	domain.OrderStatusShipped:       {},
	domain.OrderStatusDelivered:     {},
	domain.OrderStatusCancelled:     {},
	domain.OrderStatusRefunded:      {},
}

func parseOrderStatuses(values []string) ([]domain.OrderStatus, bool) {
	raw := parseFilterValues(values)
	out := make([]domain.OrderStatus, 0, len(raw))
	for _, value := range raw {
		status := domain.OrderStatus(value)
		if _, ok := validOrderStatuses[status]; !ok {
			return nil, false
		}
		out = append(out, status)
	}
	return out, true
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", "order was modified concurrently; retry", http.StatusConflict).WithDetail(err.Error()))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCancellationWindowExpired):
		httpx.WriteError(ctx, w, httpx.NewError("cancellation_window_expired", "order can no longer be cancelled", http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentSignatureMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("payment_signature_invalid", "payment verification failed", http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentAmountMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("payment_amount_mismatch", "payment amount does not match order total", http.StatusBadRequest))
	case errors.Is(err, services.ErrDeliveryOTPInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("delivery_otp_invalid", "delivery code is invalid or expired", http.StatusBadRequest))
	case errors.Is(err, services.ErrRefundStatusMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("refund_status_mismatch", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentGateway):
		httpx.WriteError(ctx, w, httpx.NewError("payment_gateway_error", "payment gateway request failed", http.StatusBadGateway).WithDetail(err.Error()))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError).WithDetail(err.Error()))
	}
}

func serviceUnavailable(ctx context.Context, w http.ResponseWriter, name string) {
	httpx.WriteError(ctx, w, httpx.NewError(name+"_service_unavailable", name+" service unavailable", http.StatusServiceUnavailable))
}
