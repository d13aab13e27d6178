package auth

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	"github.com/giftcraft/api/internal/platform/httpx"
)

const maxWebhookBody = 1 << 20

// SignatureVerifier checks a signature computed over the raw request body.
type SignatureVerifier func(body []byte, signature string) bool

// RequireSignature rejects requests whose header signature does not match the
// raw body. The body is restored for downstream handlers.
func RequireSignature(header string, verify SignatureVerifier) func(http.Handler) http.Handler {
	header = strings.TrimSpace(header)
	if header == "" {
		header = "X-Signature"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			signature := strings.TrimSpace(r.Header.Get(header))
			if signature == "" || verify == nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature missing", http.StatusBadRequest))
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
				return
			}
			_ = r.Body.Close()

			if !verify(body, signature) {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature mismatch", http.StatusBadRequest))
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}
