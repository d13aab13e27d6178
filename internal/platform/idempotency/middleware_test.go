package idempotency

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/giftcraft/api/internal/platform/auth"
)

func countingHandler(calls *int, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"orderId":"ORD-1"}`))
	})
}

func postWithKey(key, uid, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(body))
	if key != "" {
		req.Header.Set(HeaderName, key)
	}
	if uid != "" {
		req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid}))
	}
	return req
}

func TestMiddlewareReplaysCompletedResponse(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore())(countingHandler(&calls, http.StatusCreated))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, postWithKey("abc", "user-1", `{"purchaseType":"cart"}`))
	require.Equal(t, http.StatusCreated, first.Code)

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, postWithKey("abc", "user-1", `{"purchaseType":"cart"}`))
	require.Equal(t, http.StatusCreated, second.Code)
	require.Equal(t, "true", second.Header().Get(replayHeader))
	require.Equal(t, first.Body.String(), second.Body.String())
	require.Equal(t, 1, calls)
}

func TestMiddlewareScopesKeysPerCaller(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore())(countingHandler(&calls, http.StatusCreated))

	handler.ServeHTTP(httptest.NewRecorder(), postWithKey("abc", "user-1", `{}`))
	handler.ServeHTTP(httptest.NewRecorder(), postWithKey("abc", "user-2", `{}`))
	require.Equal(t, 2, calls)
}

func TestMiddlewareRejectsReusedKeyWithDifferentBody(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore())(countingHandler(&calls, http.StatusCreated))

	handler.ServeHTTP(httptest.NewRecorder(), postWithKey("abc", "user-1", `{"purchaseType":"cart"}`))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, postWithKey("abc", "user-1", `{"purchaseType":"direct"}`))
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Equal(t, 1, calls)
}

func TestMiddlewareReleasesKeyOnServerError(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore())(countingHandler(&calls, http.StatusBadGateway))

	handler.ServeHTTP(httptest.NewRecorder(), postWithKey("abc", "user-1", `{}`))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, postWithKey("abc", "user-1", `{}`))
	require.Equal(t, http.StatusBadGateway, rr.Code)
	require.Empty(t, rr.Header().Get(replayHeader))
	require.Equal(t, 2, calls)
}

func TestMiddlewarePassesThroughWithoutKey(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore())(countingHandler(&calls, http.StatusCreated))

	handler.ServeHTTP(httptest.NewRecorder(), postWithKey("", "user-1", `{}`))
	handler.ServeHTTP(httptest.NewRecorder(), postWithKey("", "user-1", `{}`))
	require.Equal(t, 2, calls)
}

func TestMemoryStoreExpiresKeys(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	store.now = func() time.Time { return now }

	outcome, _, err := store.Reserve(ctx, "k", Record{Fingerprint: "f", Status: StatusPending}, time.Minute)
	require.NoError(t, err)
	require.Equal(t, OutcomeReserved, outcome)

	outcome, _, err = store.Reserve(ctx, "k", Record{Fingerprint: "f", Status: StatusPending}, time.Minute)
	require.NoError(t, err)
	require.Equal(t, OutcomeInFlight, outcome)

	now = now.Add(time.Minute)
	outcome, _, err = store.Reserve(ctx, "k", Record{Fingerprint: "f", Status: StatusPending}, time.Minute)
	require.NoError(t, err)
	require.Equal(t, OutcomeReserved, outcome)
}

func TestRedisStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store, err := NewRedisStore(client, "test")
	require.NoError(t, err)

	pending := Record{Fingerprint: "f", Status: StatusPending}
	outcome, _, err := store.Reserve(ctx, "k", pending, time.Hour)
	require.NoError(t, err)
	require.Equal(t, OutcomeReserved, outcome)

	outcome, _, err = store.Reserve(ctx, "k", pending, time.Hour)
	require.NoError(t, err)
	require.Equal(t, OutcomeInFlight, outcome)

	_, _, err = store.Reserve(ctx, "k", Record{Fingerprint: "other"}, time.Hour)
	require.ErrorIs(t, err, ErrFingerprintMismatch)

	done := pending
	done.ResponseStatus = http.StatusCreated
	done.ResponseBody = []byte(`{"ok":true}`)
	require.NoError(t, store.Complete(ctx, "k", done, time.Hour))

	outcome, record, err := store.Reserve(ctx, "k", pending, time.Hour)
	require.NoError(t, err)
	require.Equal(t, OutcomeReplay, outcome)
	require.Equal(t, http.StatusCreated, record.ResponseStatus)
	require.JSONEq(t, `{"ok":true}`, string(record.ResponseBody))

	require.NoError(t, store.Release(ctx, "k"))
	require.False(t, srv.Exists("test:k"))
}
