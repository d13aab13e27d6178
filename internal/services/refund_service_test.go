package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/giftcraft/api/internal/domain"
	"github.com/giftcraft/api/internal/payments"
	"github.com/giftcraft/api/internal/platform/cache"
)

func cancelledOrder(id string, status RefundStatus, refundID string) domain.Order {
	cancelledAt := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	return domain.Order{
		ID:     id,
		UserID: testUserID,
		Status: domain.OrderStatusCancelled,
		Payment: domain.OrderPayment{
			Status:  domain.PaymentStatusCompleted,
			Gateway: domain.GatewayReference{PaymentID: "pay_" + id},
		},
		Pricing: domain.OrderPricing{Subtotal: 50000, Total: 50000},
		Cancellation: &domain.OrderCancellation{
			CancelledAt:  cancelledAt,
			CancelledBy:  domain.CancelledByCustomer,
			RefundStatus: status,
			RefundID:     refundID,
			RefundAmount: 50000,
		},
		CreatedAt: cancelledAt.Add(-time.Hour),
	}
}

type refundFixture struct {
	clock   *testClock
	orders  *memOrderRepo
	gateway *stubGateway
	reports *stubReportWriter
	cache   *cache.Cache
	svc     RefundService
}

func newRefundFixture(t *testing.T, orders ...domain.Order) *refundFixture {
	t.Helper()
	f := &refundFixture{
		clock:   newTestClock(),
		orders:  newMemOrderRepo(orders...),
		gateway: &stubGateway{},
		reports: &stubReportWriter{},
		cache:   cache.New(cache.NewMemoryStore(), "test", time.Minute),
	}
	svc, err := NewRefundService(RefundServiceDeps{
		Orders:  f.orders,
		Gateway: f.gateway,
		Reports: f.reports,
		Cache:   f.cache,
		Clock:   f.clock.Now,
	})
	if err != nil {
		t.Fatalf("new refund service: %v", err)
	}
	f.svc = svc
	return f
}

func gatewayRefunds(states map[string]payments.RefundState) func(string) (payments.Refund, error) {
	return func(id string) (payments.Refund, error) {
		state, ok := states[id]
		if !ok {
			return payments.Refund{}, errors.New("refund lookup failed")
		}
		return payments.Refund{ID: id, Status: state, AmountMinor: 50000}, nil
	}
}

func TestRefundService_SyncConverges(t *testing.T) {
	f := newRefundFixture(t,
		cancelledOrder("ORD-a", domain.RefundStatusInitiated, "rfnd_a"),
		cancelledOrder("ORD-b", domain.RefundStatusInitiated, "rfnd_b"),
		cancelledOrder("ORD-c", domain.RefundStatusProcessing, "rfnd_c"),
		cancelledOrder("ORD-d", domain.RefundStatusCompleted, "rfnd_d"),
		cancelledOrder("ORD-e", domain.RefundStatusInitiated, "rfnd_e"),
		cancelledOrder("ORD-f", domain.RefundStatusPending, ""),
	)
	f.gateway.fetchRefundFn = gatewayRefunds(map[string]payments.RefundState{
		"rfnd_a": payments.RefundStateProcessed,
		"rfnd_b": payments.RefundStatePending,
		"rfnd_c": payments.RefundStateFailed,
	})

	report, err := f.svc.SyncRefundStatuses(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Total != 4 || report.Updated != 2 || report.AlreadyUpToDate != 1 || len(report.Failed) != 1 {
		t.Fatalf("unexpected tally %+v", report)
	}
	if report.Failed[0].OrderID != "ORD-e" {
		t.Fatalf("expected ORD-e to fail, got %+v", report.Failed)
	}
	if len(f.reports.reports) != 1 || !strings.HasPrefix(report.ReportURI, "gs://reports/reports/refund-sync/") {
		t.Fatalf("expected a persisted report, got %q", report.ReportURI)
	}

	a := f.orders.get(t, "ORD-a")
	if a.Status != domain.OrderStatusRefunded || a.Payment.Status != domain.PaymentStatusRefunded || a.Cancellation.RefundedAt == nil {
		t.Fatalf("expected ORD-a refunded, got %+v", a.State())
	}
	c := f.orders.get(t, "ORD-c")
	if c.Cancellation.RefundStatus != domain.RefundStatusFailed || c.Payment.Status != domain.PaymentStatusFailed {
		t.Fatalf("expected ORD-c failed, got %+v", c.Cancellation)
	}

	second, err := f.svc.SyncRefundStatuses(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Updated != 0 || second.Total != 2 {
		t.Fatalf("second run should converge, got %+v", second)
	}
}

func TestRefundService_WebhookIsIdempotentAndMonotonic(t *testing.T) {
	f := newRefundFixture(t, cancelledOrder("ORD-w", domain.RefundStatusInitiated, "rfnd_w"))
	ctx := context.Background()

	res, err := f.svc.ApplyWebhookEvent(ctx, RefundWebhookEvent{Event: "refund.processed", RefundID: "rfnd_w"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Applied || res.OrderID != "ORD-w" {
		t.Fatalf("expected applied, got %+v", res)
	}
	order := f.orders.get(t, "ORD-w")
	if order.Status != domain.OrderStatusRefunded || order.Cancellation.RefundStatus != domain.RefundStatusCompleted {
		t.Fatalf("unexpected order %+v", order.State())
	}
	historyLen := len(order.StatusHistory)

	for _, event := range []string{"refund.processed", "refund.created", "refund.failed"} {
		res, err := f.svc.ApplyWebhookEvent(ctx, RefundWebhookEvent{Event: event, RefundID: "rfnd_w"})
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", event, err)
		}
		if res.Applied {
			t.Fatalf("%s must not change a completed refund", event)
		}
	}
	if got := f.orders.get(t, "ORD-w"); len(got.StatusHistory) != historyLen || got.Status != domain.OrderStatusRefunded {
		t.Fatalf("replayed webhooks changed the order: %+v", got.State())
	}

	ignored, err := f.svc.ApplyWebhookEvent(ctx, RefundWebhookEvent{Event: "payment.captured", RefundID: "rfnd_w"})
	if err != nil || ignored.Applied {
		t.Fatalf("unrelated events are ignored, got %+v %v", ignored, err)
	}
	unknown, err := f.svc.ApplyWebhookEvent(ctx, RefundWebhookEvent{Event: "refund.processed", RefundID: "rfnd_missing"})
	if err != nil || unknown.Applied || unknown.Reason != "unknown refund" {
		t.Fatalf("unknown refunds are acknowledged, got %+v %v", unknown, err)
	}
}

func TestRefundService_WebhookFailureRecordsReason(t *testing.T) {
	f := newRefundFixture(t, cancelledOrder("ORD-x", domain.RefundStatusInitiated, "rfnd_x"))

	res, err := f.svc.ApplyWebhookEvent(context.Background(), RefundWebhookEvent{
		Event:       "refund.failed",
		RefundID:    "rfnd_x",
		Description: "bank account closed",
	})
	if err != nil || !res.Applied {
		t.Fatalf("expected applied, got %+v %v", res, err)
	}
	order := f.orders.get(t, "ORD-x")
	if order.Cancellation.RefundError != "bank account closed" || order.Payment.Status != domain.PaymentStatusFailed {
		t.Fatalf("unexpected order %+v", order.Cancellation)
	}
}

func TestRefundService_UpdateRequiresGatewayAgreement(t *testing.T) {
	f := newRefundFixture(t, cancelledOrder("ORD-m", domain.RefundStatusInitiated, "rfnd_m"))
	f.gateway.fetchRefundFn = gatewayRefunds(map[string]payments.RefundState{"rfnd_m": payments.RefundStatePending})
	ctx := context.Background()

	_, err := f.svc.UpdateRefundStatus(ctx, UpdateRefundStatusCommand{OrderID: "ORD-m", Status: domain.RefundStatusCompleted, ActorID: "admin-1"})
	if !errors.Is(err, ErrRefundStatusMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}

	amount := int64(40000)
	order, err := f.svc.UpdateRefundStatus(ctx, UpdateRefundStatusCommand{
		OrderID:          "ORD-m",
		Status:           domain.RefundStatusCompleted,
		RefundAmount:     &amount,
		Notes:            "settled by bank transfer",
		SkipVerification: true,
		ActorID:          "admin-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.Status != domain.OrderStatusRefunded || order.Cancellation.RefundAmount != 40000 {
		t.Fatalf("unexpected order %+v", order.Cancellation)
	}
	last := order.StatusHistory[len(order.StatusHistory)-1]
	if last.UpdatedBy != "admin:admin-1" || last.Note != "settled by bank transfer" {
		t.Fatalf("unexpected history %+v", last)
	}

	if _, err := f.svc.UpdateRefundStatus(ctx, UpdateRefundStatusCommand{OrderID: "ORD-m", Status: "bogus"}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestRefundService_UpdateVerifiesNonTerminalStatus(t *testing.T) {
	f := newRefundFixture(t, cancelledOrder("ORD-q", domain.RefundStatusInitiated, "rfnd_q"))
	f.gateway.fetchRefundFn = gatewayRefunds(map[string]payments.RefundState{"rfnd_q": payments.RefundStatePending})
	ctx := context.Background()

	if _, err := f.svc.UpdateRefundStatus(ctx, UpdateRefundStatusCommand{OrderID: "ORD-q", Status: domain.RefundStatusPending, ActorID: "admin-1"}); !errors.Is(err, ErrRefundStatusMismatch) {
		t.Fatalf("expected mismatch for pending, got %v", err)
	}
	if f.gateway.fetchRefunds != 1 {
		t.Fatalf("expected the gateway to be consulted, got %d lookups", f.gateway.fetchRefunds)
	}
	order, err := f.svc.UpdateRefundStatus(ctx, UpdateRefundStatusCommand{OrderID: "ORD-q", Status: domain.RefundStatusProcessing, ActorID: "admin-1"})
	if err != nil {
		t.Fatalf("processing agrees with a pending gateway refund: %v", err)
	}
	if order.Cancellation.RefundStatus != domain.RefundStatusProcessing {
		t.Fatalf("unexpected cancellation %+v", order.Cancellation)
	}
}

func TestRefundService_UpdateRejectsRegressionOfRefundedOrder(t *testing.T) {
	refunded := cancelledOrder("ORD-z", domain.RefundStatusCompleted, "rfnd_z")
	refunded.Status = domain.OrderStatusRefunded
	refunded.Payment.Status = domain.PaymentStatusRefunded
	f := newRefundFixture(t, refunded)
	f.gateway.fetchRefundFn = gatewayRefunds(map[string]payments.RefundState{"rfnd_z": payments.RefundStateProcessed})
	ctx := context.Background()

	if _, err := f.svc.UpdateRefundStatus(ctx, UpdateRefundStatusCommand{OrderID: "ORD-z", Status: domain.RefundStatusInitiated, ActorID: "admin-1"}); !errors.Is(err, ErrRefundStatusMismatch) {
		t.Fatalf("expected gateway disagreement, got %v", err)
	}
	_, err := f.svc.UpdateRefundStatus(ctx, UpdateRefundStatusCommand{
		OrderID:          "ORD-z",
		Status:           domain.RefundStatusInitiated,
		SkipVerification: true,
		ActorID:          "admin-1",
	})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected invalid state for a refunded order, got %v", err)
	}

	stored := f.orders.get(t, "ORD-z")
	if stored.Status != domain.OrderStatusRefunded || stored.Payment.Status != domain.PaymentStatusRefunded || stored.Cancellation.RefundStatus != domain.RefundStatusCompleted {
		t.Fatalf("refunded order changed: %+v %+v", stored.State(), stored.Cancellation)
	}
}

func TestRefundService_BulkUpdateReportsPerOrder(t *testing.T) {
	f := newRefundFixture(t, cancelledOrder("ORD-1", domain.RefundStatusPending, ""))

	outcomes, err := f.svc.BulkUpdateRefundStatus(context.Background(), BulkRefundUpdateCommand{
		OrderIDs: []string{"ORD-1", "ORD-missing"},
		Status:   domain.RefundStatusInitiated,
		ActorID:  "admin-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(outcomes) != 2 || !outcomes[0].Success || outcomes[0].Status != domain.RefundStatusInitiated {
		t.Fatalf("unexpected first outcome %+v", outcomes)
	}
	if outcomes[1].Success || outcomes[1].Error == "" {
		t.Fatalf("expected second outcome to fail, got %+v", outcomes[1])
	}

	if _, err := f.svc.BulkUpdateRefundStatus(context.Background(), BulkRefundUpdateCommand{Status: domain.RefundStatusInitiated}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input for empty batch, got %v", err)
	}
}

func TestRefundService_VerifyRefundStatus(t *testing.T) {
	f := newRefundFixture(t,
		cancelledOrder("ORD-v", domain.RefundStatusInitiated, "rfnd_v"),
		cancelledOrder("ORD-n", domain.RefundStatusPending, ""),
	)
	f.gateway.fetchRefundFn = gatewayRefunds(map[string]payments.RefundState{"rfnd_v": payments.RefundStateProcessed})

	got, err := f.svc.VerifyRefundStatus(context.Background(), "ORD-v")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.InSync || got.ExpectedStatus != domain.RefundStatusCompleted || got.GatewayStatus != "processed" {
		t.Fatalf("unexpected verification %+v", got)
	}
	if _, err := f.svc.VerifyRefundStatus(context.Background(), "ORD-n"); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected invalid state without refund id, got %v", err)
	}
}

func TestRefundService_DashboardIsCachedUntilInvalidated(t *testing.T) {
	refunded := cancelledOrder("ORD-r", domain.RefundStatusInitiated, "rfnd_r")
	refunded.Status = domain.OrderStatusRefunded
	unpaid := cancelledOrder("ORD-u", "", "")
	f := newRefundFixture(t,
		cancelledOrder("ORD-p", domain.RefundStatusPending, ""),
		cancelledOrder("ORD-i", domain.RefundStatusProcessing, "rfnd_i"),
		refunded,
		unpaid,
	)
	ctx := context.Background()

	first, err := f.svc.ListRefundedOrders(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Summary.Pending != 1 || first.Summary.Initiated != 2 || first.Summary.Total != 3 {
		t.Fatalf("unexpected summary %+v", first.Summary)
	}
	if len(first.Mismatched) != 1 || first.Mismatched[0].OrderID != "ORD-r" || first.Mismatched[0].SuggestedStatus != string(domain.RefundStatusCompleted) {
		t.Fatalf("unexpected mismatches %+v", first.Mismatched)
	}

	if _, err := f.svc.ListRefundedOrders(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.orders.listCancelledCalls != 1 {
		t.Fatalf("expected cached dashboard, repository hit %d times", f.orders.listCancelledCalls)
	}

	if _, err := f.svc.UpdateRefundStatus(ctx, UpdateRefundStatusCommand{OrderID: "ORD-p", Status: domain.RefundStatusInitiated, ActorID: "admin-1"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	after, err := f.svc.ListRefundedOrders(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.orders.listCancelledCalls != 2 || after.Summary.Pending != 0 || after.Summary.Initiated != 3 {
		t.Fatalf("expected a rebuilt dashboard, got %+v after %d loads", after.Summary, f.orders.listCancelledCalls)
	}
}
