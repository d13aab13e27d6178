package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	domain "github.com/giftcraft/api/internal/domain"
	"github.com/giftcraft/api/internal/platform/auth"
	"github.com/giftcraft/api/internal/repositories"
	"github.com/giftcraft/api/internal/services"
)

var errNotStubbed = errors.New("not implemented")

type stubOrderService struct {
	createFn         func(context.Context, services.CreateOrderCommand) (services.CreateOrderResult, error)
	gatewayOrderFn   func(context.Context, string, string) (services.GatewayOrderResult, error)
	verifyPaymentFn  func(context.Context, services.VerifyPaymentCommand) (services.VerifyPaymentResult, error)
	cancelFn         func(context.Context, services.CancelOrderCommand) (services.Order, error)
	processingFn     func(context.Context, services.OrderActionCommand) (services.Order, error)
	shippedFn        func(context.Context, services.OrderActionCommand) (services.Order, error)
	sendOTPFn        func(context.Context, services.OrderActionCommand) (services.DeliveryOTPResult, error)
	verifyOTPFn      func(context.Context, string, string) (services.Order, error)
	listUserOrdersFn func(context.Context, string, services.Pagination) (domain.CursorPage[services.Order], error)
	getUserOrderFn   func(context.Context, string, string) (services.Order, error)
	listOrdersFn     func(context.Context, repositories.OrderListFilter) (domain.CursorPage[services.Order], error)
	getOrderFn       func(context.Context, string) (services.Order, error)
}

func (s *stubOrderService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.CreateOrderResult, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.CreateOrderResult{}, errNotStubbed
}

func (s *stubOrderService) CreateGatewayOrder(ctx context.Context, orderID, userID string) (services.GatewayOrderResult, error) {
	if s.gatewayOrderFn != nil {
		return s.gatewayOrderFn(ctx, orderID, userID)
	}
	return services.GatewayOrderResult{}, errNotStubbed
}

func (s *stubOrderService) VerifyPayment(ctx context.Context, cmd services.VerifyPaymentCommand) (services.VerifyPaymentResult, error) {
	if s.verifyPaymentFn != nil {
		return s.verifyPaymentFn(ctx, cmd)
	}
	return services.VerifyPaymentResult{}, errNotStubbed
}

func (s *stubOrderService) CancelOrder(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, cmd)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubOrderService) MarkProcessing(ctx context.Context, cmd services.OrderActionCommand) (services.Order, error) {
	if s.processingFn != nil {
		return s.processingFn(ctx, cmd)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubOrderService) MarkShipped(ctx context.Context, cmd services.OrderActionCommand) (services.Order, error) {
	if s.shippedFn != nil {
		return s.shippedFn(ctx, cmd)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubOrderService) SendDeliveryOTP(ctx context.Context, cmd services.OrderActionCommand) (services.DeliveryOTPResult, error) {
	if s.sendOTPFn != nil {
		return s.sendOTPFn(ctx, cmd)
	}
	return services.DeliveryOTPResult{}, errNotStubbed
}

func (s *stubOrderService) VerifyDeliveryOTP(ctx context.Context, orderID, code string) (services.Order, error) {
	if s.verifyOTPFn != nil {
		return s.verifyOTPFn(ctx, orderID, code)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubOrderService) ListUserOrders(ctx context.Context, userID string, page services.Pagination) (domain.CursorPage[services.Order], error) {
	if s.listUserOrdersFn != nil {
		return s.listUserOrdersFn(ctx, userID, page)
	}
	return domain.CursorPage[services.Order]{}, nil
}

func (s *stubOrderService) GetUserOrder(ctx context.Context, orderID, userID string) (services.Order, error) {
	if s.getUserOrderFn != nil {
		return s.getUserOrderFn(ctx, orderID, userID)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[services.Order], error) {
	if s.listOrdersFn != nil {
		return s.listOrdersFn(ctx, filter)
	}
	return domain.CursorPage[services.Order]{}, nil
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string) (services.Order, error) {
	if s.getOrderFn != nil {
		return s.getOrderFn(ctx, orderID)
	}
	return services.Order{}, errNotStubbed
}

type stubRefundService struct {
	verifyFn    func(context.Context, string) (services.RefundVerification, error)
	updateFn    func(context.Context, services.UpdateRefundStatusCommand) (services.Order, error)
	bulkFn      func(context.Context, services.BulkRefundUpdateCommand) ([]services.BulkRefundOutcome, error)
	syncFn      func(context.Context) (services.RefundSyncReport, error)
	dashboardFn func(context.Context) (services.RefundDashboard, error)
	webhookFn   func(context.Context, services.RefundWebhookEvent) (services.WebhookResult, error)
}

func (s *stubRefundService) VerifyRefundStatus(ctx context.Context, orderID string) (services.RefundVerification, error) {
	if s.verifyFn != nil {
		return s.verifyFn(ctx, orderID)
	}
	return services.RefundVerification{}, errNotStubbed
}

func (s *stubRefundService) UpdateRefundStatus(ctx context.Context, cmd services.UpdateRefundStatusCommand) (services.Order, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, cmd)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubRefundService) BulkUpdateRefundStatus(ctx context.Context, cmd services.BulkRefundUpdateCommand) ([]services.BulkRefundOutcome, error) {
	if s.bulkFn != nil {
		return s.bulkFn(ctx, cmd)
	}
	return nil, errNotStubbed
}

func (s *stubRefundService) SyncRefundStatuses(ctx context.Context) (services.RefundSyncReport, error) {
	if s.syncFn != nil {
		return s.syncFn(ctx)
	}
	return services.RefundSyncReport{}, errNotStubbed
}

func (s *stubRefundService) ListRefundedOrders(ctx context.Context) (services.RefundDashboard, error) {
	if s.dashboardFn != nil {
		return s.dashboardFn(ctx)
	}
	return services.RefundDashboard{}, errNotStubbed
}

func (s *stubRefundService) ApplyWebhookEvent(ctx context.Context, event services.RefundWebhookEvent) (services.WebhookResult, error) {
	if s.webhookFn != nil {
		return s.webhookFn(ctx, event)
	}
	return services.WebhookResult{}, errNotStubbed
}

var (
	_ services.OrderService  = (*stubOrderService)(nil)
	_ services.RefundService = (*stubRefundService)(nil)
)

func withIdentity(req *http.Request, uid string, roles ...string) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid, Roles: roles}))
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder, data any) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("failed to parse response %q: %v", rr.Body.String(), err)
	}
	if data != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, data); err != nil {
			t.Fatalf("failed to parse data: %v", err)
		}
	}
	return env
}
