package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteErrorEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	ctx := WithExposeDetail(context.Background(), true)

	WriteError(ctx, rec, NewError("order_not_found", "order not found", http.StatusNotFound).WithDetail("orders.get: missing"))

	require.Equal(t, http.StatusNotFound, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, false, body["success"])
	require.Equal(t, "order_not_found", body["error"])
	require.Equal(t, "orders.get: missing", body["detail"])
}

func TestWriteErrorHidesDetailByDefault(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(context.Background(), rec, NewError("internal", "boom", 0).WithDetail("secret"))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "secret")
}

type cancelPayload struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

func TestDecodeJSONValidates(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"reason":""}`))
	var payload cancelPayload
	err := DecodeJSON(req, &payload)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Reason failed required")

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"reason":"changed mind"}`))
	require.NoError(t, DecodeJSON(req, &payload))
	require.Equal(t, "changed mind", payload.Reason)
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"reason":"x","extra":1}`))
	var payload cancelPayload
	err := DecodeJSON(req, &payload)
	require.Error(t, err)
	require.False(t, errors.Is(err, context.Canceled))
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusCreated, map[string]string{"id": "ORD-1"})
	require.Equal(t, http.StatusCreated, rec.Code)
	require.JSONEq(t, `{"success":true,"data":{"id":"ORD-1"}}`, rec.Body.String())
}
