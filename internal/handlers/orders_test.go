package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/giftcraft/api/internal/domain"
	"github.com/giftcraft/api/internal/platform/idempotency"
	"github.com/giftcraft/api/internal/services"
)

func newOrderRouter(svc services.OrderService) chi.Router {
	router := chi.NewRouter()
	router.Route("/orders", NewOrderHandlers(nil, svc).Routes)
	return router
}

func sampleOrder(now time.Time) services.Order {
	paidAt := now.Add(-time.Hour)
	return services.Order{
		ID:           "ORD-1",
		UserID:       "user-1",
		PurchaseType: domain.PurchaseTypeDirect,
		Status:       domain.OrderStatusConfirmed,
		Items: []domain.OrderItem{
			{ProductID: "prod-mug", Name: "Mug", Quantity: 2, PriceAtPurchase: 60000, Subtotal: 120000},
		},
		Pricing: domain.OrderPricing{Subtotal: 120000, Total: 120000},
		Payment: domain.OrderPayment{
			Status:   domain.PaymentStatusCompleted,
			Method:   domain.PaymentMethodRazorpay,
			Verified: true,
			PaidAt:   &paidAt,
			Gateway: domain.GatewayReference{
				OrderID:   "order_rzp_1",
				PaymentID: "pay_1",
				Signature: "sig-secret-value",
			},
		},
		DeliveryOTP: &domain.DeliveryOTP{Code: "482913", ExpiresAt: now.Add(72 * time.Hour)},
		PackageID:   "GIFTCRAFT-ORD-1",
		CreatedAt:   now.Add(-2 * time.Hour),
	}
}

func TestOrderHandlersCreateOrder(t *testing.T) {
	var captured services.CreateOrderCommand
	svc := &stubOrderService{
		createFn: func(_ context.Context, cmd services.CreateOrderCommand) (services.CreateOrderResult, error) {
			captured = cmd
			return services.CreateOrderResult{OrderID: "ORD-9", Total: 70000}, nil
		},
	}

	body := `{
		"purchaseType": "direct",
		"items": [{"productId": " prod-frame ", "quantity": 1, "personalizedName": "Asha"}],
		"shippingAddress": {"fullName": "Asha", "phone": "9999999999", "addressLine1": "12 MG Road", "city": "Pune", "state": "MH", "pincode": "411001"},
		"isGift": true,
		"giftMessage": "Happy birthday"
	}`
	req := withIdentity(httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body)), "user-1")
	rr := httptest.NewRecorder()
	newOrderRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp createOrderResponse
	env := decodeEnvelope(t, rr, &resp)
	if !env.Success || resp.OrderID != "ORD-9" || resp.Total != 70000 {
		t.Fatalf("unexpected response %+v %+v", env, resp)
	}
	if captured.UserID != "user-1" || captured.PurchaseType != domain.PurchaseTypeDirect {
		t.Fatalf("unexpected command %+v", captured)
	}
	if len(captured.Items) != 1 || captured.Items[0].ProductID != "prod-frame" {
		t.Fatalf("expected trimmed product id, got %+v", captured.Items)
	}
	if captured.ShippingAddress.Pincode != "411001" || !captured.IsGift {
		t.Fatalf("unexpected address or gift flags %+v", captured)
	}
}

func TestOrderHandlersCreateOrderIdempotent(t *testing.T) {
	calls := 0
	svc := &stubOrderService{
		createFn: func(context.Context, services.CreateOrderCommand) (services.CreateOrderResult, error) {
			calls++
			return services.CreateOrderResult{OrderID: fmt.Sprintf("ORD-%d", calls), Total: 70000}, nil
		},
	}
	router := chi.NewRouter()
	router.Route("/orders", NewOrderHandlers(nil, svc,
		WithOrderIdempotency(idempotency.Middleware(idempotency.NewMemoryStore())),
	).Routes)

	body := `{"purchaseType": "cart", "shippingAddress": {"fullName": "Asha", "phone": "9999999999", "addressLine1": "12 MG Road", "city": "Pune", "state": "MH", "pincode": "411001"}}`
	var ids []string
	for i := 0; i < 2; i++ {
		req := withIdentity(httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body)), "user-1")
		req.Header.Set(idempotency.HeaderName, "checkout-7f3a")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusCreated {
			t.Fatalf("attempt %d: expected 201, got %d: %s", i, rr.Code, rr.Body.String())
		}
		var resp createOrderResponse
		decodeEnvelope(t, rr, &resp)
		ids = append(ids, resp.OrderID)
	}
	if calls != 1 || ids[0] != ids[1] {
		t.Fatalf("expected a single order to be created, calls=%d ids=%v", calls, ids)
	}
}

func TestOrderHandlersCreateOrderValidation(t *testing.T) {
	svc := &stubOrderService{
		createFn: func(context.Context, services.CreateOrderCommand) (services.CreateOrderResult, error) {
			t.Fatal("service must not be called for invalid payloads")
			return services.CreateOrderResult{}, nil
		},
	}
	address := `{"fullName": "Asha", "phone": "9999999999", "addressLine1": "12 MG Road", "city": "Pune", "state": "MH", "pincode": "%s"}`

	cases := map[string]string{
		"unknown purchase type": `{"purchaseType": "layaway", "shippingAddress": ` + fmt.Sprintf(address, "411001") + `}`,
		"short pincode":         `{"purchaseType": "cart", "shippingAddress": ` + fmt.Sprintf(address, "4110") + `}`,
		"zero quantity":         `{"purchaseType": "direct", "items": [{"productId": "p", "quantity": 0}], "shippingAddress": ` + fmt.Sprintf(address, "411001") + `}`,
		"unknown field":         `{"purchaseType": "cart", "coupon": "X", "shippingAddress": ` + fmt.Sprintf(address, "411001") + `}`,
		"malformed":             `{"purchaseType":`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			req := withIdentity(httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body)), "user-1")
			rr := httptest.NewRecorder()
			newOrderRouter(svc).ServeHTTP(rr, req)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
			}
		})
	}
}

func TestOrderHandlersRequireIdentity(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	rr := httptest.NewRecorder()
	newOrderRouter(&stubOrderService{}).ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestOrderHandlersListOrders(t *testing.T) {
	now := time.Date(2025, 5, 10, 9, 0, 0, 0, time.UTC)
	var gotUser string
	var gotPage services.Pagination
	svc := &stubOrderService{
		listUserOrdersFn: func(_ context.Context, userID string, page services.Pagination) (domain.CursorPage[services.Order], error) {
			gotUser, gotPage = userID, page
			return domain.CursorPage[services.Order]{Items: []services.Order{sampleOrder(now)}, NextPageToken: "next"}, nil
		},
	}

	req := withIdentity(httptest.NewRequest(http.MethodGet, "/orders?page_size=500&page_token=tok", nil), "user-1")
	rr := httptest.NewRecorder()
	newOrderRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if gotUser != "user-1" || gotPage.PageSize != maxPageSize || gotPage.PageToken != "tok" {
		t.Fatalf("unexpected list arguments %s %+v", gotUser, gotPage)
	}
	var resp orderListResponse
	decodeEnvelope(t, rr, &resp)
	if len(resp.Items) != 1 || resp.Items[0].ItemCount != 2 || resp.NextPageToken != "next" {
		t.Fatalf("unexpected list response %+v", resp)
	}
}

func TestOrderHandlersGetOrderHidesSignature(t *testing.T) {
	now := time.Date(2025, 5, 10, 9, 0, 0, 0, time.UTC)
	svc := &stubOrderService{
		getUserOrderFn: func(_ context.Context, orderID, userID string) (services.Order, error) {
			if orderID != "ORD-1" || userID != "user-1" {
				return services.Order{}, services.ErrOrderNotFound
			}
			return sampleOrder(now), nil
		},
	}

	req := withIdentity(httptest.NewRequest(http.MethodGet, "/orders/ORD-1", nil), "user-1")
	rr := httptest.NewRecorder()
	newOrderRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "sig-secret-value") {
		t.Fatalf("gateway signature leaked: %s", rr.Body.String())
	}
	var payload orderPayload
	decodeEnvelope(t, rr, &payload)
	if payload.Payment.GatewayPaymentID != "pay_1" || payload.DeliveryOTP == nil || payload.DeliveryOTP.Code != "482913" {
		t.Fatalf("unexpected payload %+v", payload)
	}

	req = withIdentity(httptest.NewRequest(http.MethodGet, "/orders/ORD-1", nil), "user-2")
	rr = httptest.NewRecorder()
	newOrderRouter(svc).ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another user, got %d", rr.Code)
	}
}

func TestOrderHandlersVerifyPayment(t *testing.T) {
	var captured services.VerifyPaymentCommand
	svc := &stubOrderService{
		verifyPaymentFn: func(_ context.Context, cmd services.VerifyPaymentCommand) (services.VerifyPaymentResult, error) {
			captured = cmd
			if cmd.Signature != "good" {
				return services.VerifyPaymentResult{}, fmt.Errorf("%w: bad", services.ErrPaymentSignatureMismatch)
			}
			return services.VerifyPaymentResult{OrderID: cmd.OrderID, Status: domain.OrderStatusConfirmed, PackageID: "GIFTCRAFT-ORD-1", DeliveryOTP: "123456"}, nil
		},
	}

	body := `{"razorpay_order_id": "order_rzp_1", "razorpay_payment_id": "pay_1", "razorpay_signature": "good"}`
	req := withIdentity(httptest.NewRequest(http.MethodPost, "/orders/ORD-1:verify-payment", strings.NewReader(body)), "user-1")
	rr := httptest.NewRecorder()
	newOrderRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ORD-1" || captured.GatewayOrderID != "order_rzp_1" || captured.UserID != "user-1" {
		t.Fatalf("unexpected command %+v", captured)
	}
	var resp verifyPaymentResponse
	decodeEnvelope(t, rr, &resp)
	if resp.Status != "confirmed" || resp.DeliveryOTP != "123456" {
		t.Fatalf("unexpected response %+v", resp)
	}

	body = `{"razorpay_order_id": "order_rzp_1", "razorpay_payment_id": "pay_1", "razorpay_signature": "forged"}`
	req = withIdentity(httptest.NewRequest(http.MethodPost, "/orders/ORD-1:verify-payment", strings.NewReader(body)), "user-1")
	rr = httptest.NewRecorder()
	newOrderRouter(svc).ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 on signature mismatch, got %d", rr.Code)
	}
	env := decodeEnvelope(t, rr, nil)
	if env.Success || env.Error != "payment_signature_invalid" {
		t.Fatalf("unexpected error envelope %+v", env)
	}
}

func TestOrderHandlersGatewayOrder(t *testing.T) {
	svc := &stubOrderService{
		gatewayOrderFn: func(_ context.Context, orderID, userID string) (services.GatewayOrderResult, error) {
			return services.GatewayOrderResult{OrderID: orderID, GatewayOrderID: "order_rzp_1", Amount: 120000, Currency: "INR", KeyID: "rzp_test"}, nil
		},
	}
	req := withIdentity(httptest.NewRequest(http.MethodPost, "/orders/ORD-1:gateway-order", nil), "user-1")
	rr := httptest.NewRecorder()
	newOrderRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp gatewayOrderResponse
	decodeEnvelope(t, rr, &resp)
	if resp.Amount != 120000 || resp.KeyID != "rzp_test" || resp.GatewayOrderID != "order_rzp_1" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestOrderHandlersCancelOrderErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"window expired", services.ErrCancellationWindowExpired, http.StatusBadRequest, "cancellation_window_expired"},
		{"invalid state", services.ErrOrderInvalidState, http.StatusBadRequest, "order_invalid_state"},
		{"conflict", services.ErrOrderConflict, http.StatusConflict, "order_conflict"},
		{"not found", services.ErrOrderNotFound, http.StatusNotFound, "order_not_found"},
		{"gateway", services.ErrPaymentGateway, http.StatusBadGateway, "payment_gateway_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubOrderService{
				cancelFn: func(_ context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
					if cmd.CancelledBy != domain.CancelledByCustomer || cmd.UserID != "user-1" {
						t.Fatalf("unexpected command %+v", cmd)
					}
					return services.Order{}, fmt.Errorf("%w: ORD-1", tc.err)
				},
			}
			req := withIdentity(httptest.NewRequest(http.MethodPost, "/orders/ORD-1:cancel", strings.NewReader(`{"reason":"changed my mind"}`)), "user-1")
			rr := httptest.NewRecorder()
			newOrderRouter(svc).ServeHTTP(rr, req)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			if env := decodeEnvelope(t, rr, nil); env.Error != tc.code {
				t.Fatalf("expected code %s, got %s", tc.code, env.Error)
			}
		})
	}
}
