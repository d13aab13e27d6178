package httpx

import (
	"context"
	"encoding/json"
	"maps"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/giftcraft/api/internal/platform/requestctx"
)

// Error is the canonical JSON error envelope returned by the API.
type Error struct {
	Code      string
	Message   string
	Status    int
	RequestID string
	TraceID   string
	// Detail carries the underlying cause. It is only rendered outside production.
	Detail  string
	Details map[string]any
}

// NewError constructs a new Error with the provided parameters.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    sanitize(code, 80),
		Message: sanitize(message, 512),
		Status:  status,
	}
}

// WithDetail attaches the underlying error text.
func (e Error) WithDetail(detail string) Error {
	e.Detail = sanitize(detail, 1024)
	return e
}

// WithDetails attaches additional JSON-serialisable fields.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) > 0 {
		e.Details = maps.Clone(details)
	}
	return e
}

type exposeDetailKey struct{}

// WithExposeDetail marks ctx so that WriteError renders Error.Detail.
func WithExposeDetail(ctx context.Context, expose bool) context.Context {
	return context.WithValue(ctx, exposeDetailKey{}, expose)
}

// ExposeDetailMiddleware enables detail rendering for every request when expose is true.
func ExposeDetailMiddleware(expose bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(WithExposeDetail(r.Context(), expose)))
		})
	}
}

// WriteError writes err as a JSON envelope with success=false.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}

	payload := map[string]any{
		"success": false,
		"error":   err.Code,
		"message": err.Message,
		"status":  status,
	}
	for k, v := range err.Details {
		payload[k] = v
	}
	if requestID := firstNonEmpty(err.RequestID, middleware.GetReqID(ctx)); requestID != "" {
		payload["request_id"] = sanitize(requestID, 80)
	}
	if traceID := firstNonEmpty(err.TraceID, requestctx.TraceID(ctx)); traceID != "" {
		payload["trace_id"] = sanitize(traceID, 64)
	}
	if expose, _ := ctx.Value(exposeDetailKey{}).(bool); expose && err.Detail != "" {
		payload["detail"] = err.Detail
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func sanitize(value string, limit int) string {
	value = strings.TrimSpace(strings.NewReplacer("\n", " ", "\r", " ").Replace(value))
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
