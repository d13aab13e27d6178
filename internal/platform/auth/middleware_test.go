package auth

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"
)

type stubTokenVerifier struct {
	token    *firebaseauth.Token
	err      error
	received string
}

func (s *stubTokenVerifier) VerifyIDToken(_ context.Context, idToken string) (*firebaseauth.Token, error) {
	s.received = idToken
	if s.err != nil {
		return nil, s.err
	}
	return s.token, nil
}

func TestRequireAuthAllowsRole(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{
		UID: "uid-123",
		Claims: map[string]any{
			"role":   []any{"Admin", "delivery", "admin"},
			"email":  "ops@example.com",
			"locale": "hi-IN",
		},
	}}

	called := false
	handler := NewAuthenticator(verifier).RequireAuth(RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatal("expected identity in context")
		}
		if identity.UID != "uid-123" || identity.Email != "ops@example.com" || identity.Locale != "hi-IN" {
			t.Fatalf("unexpected identity %#v", identity)
		}
		if len(identity.Roles) != 2 {
			t.Fatalf("expected deduplicated roles, got %v", identity.Roles)
		}
		if identity.Actor() != "admin:uid-123" {
			t.Fatalf("unexpected actor %s", identity.Actor())
		}
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin/orders", nil)
	req.Header.Set("Authorization", "Bearer token-abc")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !called {
		t.Fatalf("expected handler call, got status %d", rec.Code)
	}
	if verifier.received != "token-abc" {
		t.Fatalf("unexpected token forwarded: %s", verifier.received)
	}
}

func TestRequireAuthDefaultsToUserRole(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{UID: "uid-1", Claims: map[string]any{}}}
	handler := NewAuthenticator(verifier).RequireAuth(RoleAdmin)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin/orders", nil)
	req.Header.Set("Authorization", "Bearer token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestRequireAuthRejectsMissingOrInvalidToken(t *testing.T) {
	authn := NewAuthenticator(&stubTokenVerifier{err: errors.New("bad token")})
	handler := authn.RequireAuth()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))

	for _, header := range []string{"", "Basic abc", "Bearer bad"} {
		req := httptest.NewRequest(http.MethodGet, "/orders", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: expected 401, got %d", header, rec.Code)
		}
	}
}

func TestRequireSignature(t *testing.T) {
	verify := func(body []byte, signature string) bool {
		return signature == "sig-"+string(body)
	}
	var seen string
	handler := RequireSignature("X-Signature", verify)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		seen = string(body)
	}))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/razorpay", strings.NewReader("payload"))
	req.Header.Set("X-Signature", "sig-payload")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if seen != "payload" {
		t.Fatalf("expected body to be restored, got %q (status %d)", seen, rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/webhooks/razorpay", strings.NewReader("payload"))
	req.Header.Set("X-Signature", "forged")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for forged signature, got %d", rec.Code)
	}
}
