package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	domain "github.com/giftcraft/api/internal/domain"
	"github.com/giftcraft/api/internal/payments"
	"github.com/giftcraft/api/internal/platform/cache"
	"github.com/giftcraft/api/internal/platform/storage"
	"github.com/giftcraft/api/internal/repositories"
)

const (
	refundEventUpdated       = "refund.status.updated"
	refundEventSyncCompleted = "refund.sync.completed"
	refundEventWebhook       = "refund.webhook.received"

	maxBulkRefundOrders = 100

	webhookRefundCreated   = "refund.created"
	webhookRefundProcessed = "refund.processed"
	webhookRefundFailed    = "refund.failed"
)

// RefundServiceDeps bundles collaborators required to construct the refund service.
type RefundServiceDeps struct {
	Orders     repositories.OrderRepository
	UnitOfWork repositories.UnitOfWork
	Gateway    PaymentGateway
	Reports    ReportWriter
	Cache      *cache.Cache
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type refundService struct {
	orders     repositories.OrderRepository
	unitOfWork repositories.UnitOfWork
	gateway    PaymentGateway
	reports    ReportWriter
	cache      *cache.Cache
	clock      func() time.Time
	logger     logFunc
}

// NewRefundService wires dependencies into a concrete RefundService implementation.
func NewRefundService(deps RefundServiceDeps) (RefundService, error) {
	if deps.Orders == nil {
		return nil, errors.New("refund service: order repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("refund service: payment gateway is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = nopLogger
	}
	return &refundService{
		orders:     deps.Orders,
		unitOfWork: unitOrNoop(deps.UnitOfWork),
		gateway:    deps.Gateway,
		reports:    deps.Reports,
		cache:      deps.Cache,
		clock:      utcClock(deps.Clock),
		logger:     logger,
	}, nil
}

// refundStatusFromGateway maps a gateway refund state to the stored refund status.
func refundStatusFromGateway(state payments.RefundState) RefundStatus {
	switch state {
	case payments.RefundStateProcessed:
		return domain.RefundStatusCompleted
	case payments.RefundStateFailed:
		return domain.RefundStatusFailed
	case payments.RefundStatePending:
		return domain.RefundStatusInitiated
	default:
		return ""
	}
}

// refundRank orders refund statuses so that reconciliation never moves backwards.
// refundStatusAgrees reports whether a local status matches the gateway's mapped one.
// The gateway has no processing state, so processing counts as initiated.
func refundStatusAgrees(local, gateway RefundStatus) bool {
	if gateway == "" {
		return false
	}
	return local == gateway || (gateway == domain.RefundStatusInitiated && local == domain.RefundStatusProcessing)
}

func refundRank(status RefundStatus) int {
	switch status {
	case domain.RefundStatusPending:
		return 1
	case domain.RefundStatusInitiated:
		return 2
	case domain.RefundStatusProcessing:
		return 3
	case domain.RefundStatusCompleted, domain.RefundStatusFailed:
		return 4
	default:
		return 0
	}
}

func validRefundStatus(status RefundStatus) bool {
	return refundRank(status) > 0
}

func (s *refundService) VerifyRefundStatus(ctx context.Context, orderID string) (RefundVerification, error) {
	ctx, span := tracer.Start(ctx, "refunds.verify")
	defer span.End()

	order, err := s.loadCancelled(ctx, orderID)
	if err != nil {
		return RefundVerification{}, err
	}
	if order.Cancellation.RefundID == "" {
		return RefundVerification{}, fmt.Errorf("%w: order %s has no gateway refund id", ErrOrderInvalidState, order.ID)
	}

	refund, err := s.gateway.FetchRefund(ctx, order.Cancellation.RefundID)
	if err != nil {
		return RefundVerification{}, fmt.Errorf("%w: %v", ErrPaymentGateway, err)
	}

	stored := order.Cancellation.RefundStatus
	expected := refundStatusFromGateway(refund.Status)
	verification := RefundVerification{
		OrderID:        order.ID,
		RefundID:       refund.ID,
		StoredStatus:   stored,
		GatewayStatus:  string(refund.Status),
		ExpectedStatus: expected,
		InSync:         refundStatusAgrees(stored, expected),
		GatewayAmount:  refund.AmountMinor,
	}
	if !refund.CreatedAt.IsZero() {
		verification.GatewayCreatedAt = timePtr(refund.CreatedAt)
	}
	return verification, nil
}

func (s *refundService) UpdateRefundStatus(ctx context.Context, cmd UpdateRefundStatusCommand) (Order, error) {
	ctx, span := tracer.Start(ctx, "refunds.update")
	defer span.End()

	if !validRefundStatus(cmd.Status) {
		return Order{}, fmt.Errorf("%w: unknown refund status %q", ErrOrderInvalidInput, cmd.Status)
	}
	order, err := s.loadCancelled(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	if cmd.RefundAmount != nil && (*cmd.RefundAmount < 0 || *cmd.RefundAmount > order.Pricing.Total) {
		return Order{}, fmt.Errorf("%w: refund amount must be between 0 and the order total", ErrOrderInvalidInput)
	}

	refundID := strings.TrimSpace(cmd.RefundID)
	if refundID == "" {
		refundID = order.Cancellation.RefundID
	}
	if !cmd.SkipVerification && refundID != "" {
		refund, err := s.gateway.FetchRefund(ctx, refundID)
		if err != nil {
			return Order{}, fmt.Errorf("%w: %v", ErrPaymentGateway, err)
		}
		if !refundStatusAgrees(cmd.Status, refundStatusFromGateway(refund.Status)) {
			return Order{}, fmt.Errorf("%w: gateway reports %s", ErrRefundStatusMismatch, refund.Status)
		}
	}

	note := sanitizeText(cmd.Notes, maxNotesLength)
	if note == "" {
		note = "Refund marked " + string(cmd.Status)
	}
	updated, changed, err := s.applyRefundStatus(ctx, order.ID, refundChange{
		status: cmd.Status,
		note:   note,
		actor:  actorLabel(domain.CancelledByAdmin, cmd.ActorID),
		reason: note,
		mutate: func(c *domain.OrderCancellation) {
			if id := strings.TrimSpace(cmd.RefundID); id != "" {
				c.RefundID = id
			}
			if cmd.RefundAmount != nil {
				c.RefundAmount = *cmd.RefundAmount
			}
		},
	})
	if err != nil {
		return Order{}, err
	}
	if changed {
		s.invalidate(ctx)
		s.logger(ctx, refundEventUpdated, map[string]any{
			"orderId":  updated.ID,
			"status":   string(cmd.Status),
			"actor":    cmd.ActorID,
			"verified": !cmd.SkipVerification,
		})
	}
	return updated, nil
}

func (s *refundService) BulkUpdateRefundStatus(ctx context.Context, cmd BulkRefundUpdateCommand) ([]BulkRefundOutcome, error) {
	if len(cmd.OrderIDs) == 0 || len(cmd.OrderIDs) > maxBulkRefundOrders {
		return nil, fmt.Errorf("%w: between 1 and %d order ids are required", ErrOrderInvalidInput, maxBulkRefundOrders)
	}
	if !validRefundStatus(cmd.Status) {
		return nil, fmt.Errorf("%w: unknown refund status %q", ErrOrderInvalidInput, cmd.Status)
	}

	outcomes := make([]BulkRefundOutcome, 0, len(cmd.OrderIDs))
	for _, orderID := range cmd.OrderIDs {
		outcome := BulkRefundOutcome{OrderID: orderID}
		order, err := s.UpdateRefundStatus(ctx, UpdateRefundStatusCommand{
			OrderID:          orderID,
			Status:           cmd.Status,
			SkipVerification: cmd.SkipVerification,
			ActorID:          cmd.ActorID,
		})
		if err != nil {
			outcome.Error = err.Error()
		} else {
			outcome.Success = true
			outcome.Status = order.RefundStatusOrEmpty()
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

func (s *refundService) SyncRefundStatuses(ctx context.Context) (RefundSyncReport, error) {
	ctx, span := tracer.Start(ctx, "refunds.sync")
	defer span.End()

	report := RefundSyncReport{RunAt: s.clock(), Failed: []RefundSyncFailure{}, Details: []RefundSyncDetail{}}
	orders, err := s.orders.ListWithCancellation(ctx)
	if err != nil {
		return RefundSyncReport{}, mapRepositoryError(err)
	}

	for _, order := range orders {
		c := order.Cancellation
		if c == nil || c.RefundID == "" || refundRank(c.RefundStatus) >= refundRank(domain.RefundStatusCompleted) {
			continue
		}
		report.Total++
		detail := RefundSyncDetail{OrderID: order.ID, RefundID: c.RefundID, From: c.RefundStatus, To: c.RefundStatus}

		refund, err := s.gateway.FetchRefund(ctx, c.RefundID)
		if err != nil {
			report.Failed = append(report.Failed, RefundSyncFailure{OrderID: order.ID, Error: err.Error()})
			continue
		}
		target := refundStatusFromGateway(refund.Status)
		if target == "" {
			report.Failed = append(report.Failed, RefundSyncFailure{OrderID: order.ID, Error: fmt.Sprintf("unknown gateway refund status %q", refund.Status)})
			continue
		}
		if refundRank(target) <= refundRank(c.RefundStatus) {
			report.AlreadyUpToDate++
			detail.Action = "unchanged"
			report.Details = append(report.Details, detail)
			continue
		}

		_, changed, err := s.applyRefundStatus(ctx, order.ID, refundChange{
			status:    target,
			note:      "Refund " + string(refund.Status) + " at gateway",
			actor:     actorLabel(domain.CancelledBySystem, "refund-sync"),
			reason:    "gateway reported refund failure",
			monotonic: true,
		})
		if err != nil {
			report.Failed = append(report.Failed, RefundSyncFailure{OrderID: order.ID, Error: err.Error()})
			continue
		}
		if !changed {
			report.AlreadyUpToDate++
			detail.Action = "unchanged"
		} else {
			report.Updated++
			detail.To = target
			detail.Action = "updated"
		}
		report.Details = append(report.Details, detail)
	}

	if report.Updated > 0 {
		s.invalidate(ctx)
	}
	if s.reports != nil {
		uri, err := s.reports.WriteReport(ctx, storage.ReportRefundSync, report.RunAt, report)
		if err != nil {
			s.logger(ctx, "refund.sync.report_failed", map[string]any{"error": err.Error()})
		} else {
			report.ReportURI = uri
		}
	}

	s.logger(ctx, refundEventSyncCompleted, map[string]any{
		"total":           report.Total,
		"updated":         report.Updated,
		"alreadyUpToDate": report.AlreadyUpToDate,
		"failed":          len(report.Failed),
		"reportUri":       report.ReportURI,
	})
	return report, nil
}

func (s *refundService) ListRefundedOrders(ctx context.Context) (RefundDashboard, error) {
	ctx, span := tracer.Start(ctx, "refunds.dashboard")
	defer span.End()

	return cache.GetOrLoad(ctx, s.cache, cache.KeyRefundDashboard, s.buildDashboard)
}

func (s *refundService) buildDashboard(ctx context.Context) (RefundDashboard, error) {
	orders, err := s.orders.ListWithCancellation(ctx)
	if err != nil {
		return RefundDashboard{}, mapRepositoryError(err)
	}

	dashboard := RefundDashboard{
		Pending:     []RefundSummary{},
		Initiated:   []RefundSummary{},
		Completed:   []RefundSummary{},
		Failed:      []RefundSummary{},
		Mismatched:  []RefundSummary{},
		GeneratedAt: s.clock(),
	}
	for _, order := range orders {
		c := order.Cancellation
		if c == nil || c.RefundStatus == "" {
			continue
		}
		summary := summarizeRefund(order)
		switch c.RefundStatus {
		case domain.RefundStatusPending:
			dashboard.Pending = append(dashboard.Pending, summary)
		case domain.RefundStatusInitiated, domain.RefundStatusProcessing:
			dashboard.Initiated = append(dashboard.Initiated, summary)
		case domain.RefundStatusCompleted:
			dashboard.Completed = append(dashboard.Completed, summary)
			dashboard.Summary.Refunded += c.RefundAmount
		case domain.RefundStatusFailed:
			dashboard.Failed = append(dashboard.Failed, summary)
		}
		if summary.Mismatch != "" {
			dashboard.Mismatched = append(dashboard.Mismatched, summary)
		}
	}

	for _, group := range [][]RefundSummary{dashboard.Pending, dashboard.Initiated, dashboard.Completed, dashboard.Failed, dashboard.Mismatched} {
		slices.SortFunc(group, func(a, b RefundSummary) int {
			return b.CancelledAt.Compare(a.CancelledAt)
		})
	}
	dashboard.Summary.Pending = len(dashboard.Pending)
	dashboard.Summary.Initiated = len(dashboard.Initiated)
	dashboard.Summary.Completed = len(dashboard.Completed)
	dashboard.Summary.Failed = len(dashboard.Failed)
	dashboard.Summary.Mismatched = len(dashboard.Mismatched)
	dashboard.Summary.Total = dashboard.Summary.Pending + dashboard.Summary.Initiated + dashboard.Summary.Completed + dashboard.Summary.Failed
	return dashboard, nil
}

func summarizeRefund(order domain.Order) RefundSummary {
	c := order.Cancellation
	summary := RefundSummary{
		OrderID:       order.ID,
		UserID:        order.UserID,
		OrderStatus:   order.Status,
		RefundStatus:  c.RefundStatus,
		RefundID:      c.RefundID,
		RefundAmount:  c.RefundAmount,
		Total:         order.Pricing.Total,
		Reason:        c.Reason,
		RefundError:   c.RefundError,
		CustomerName:  order.ShippingAddress.FullName,
		CustomerEmail: order.ShippingAddress.Email,
		CancelledAt:   c.CancelledAt,
		RefundedAt:    c.RefundedAt,
	}

	switch {
	case c.RefundedAt != nil && c.RefundStatus != domain.RefundStatusCompleted:
		summary.Mismatch = "refundedAt is set but refund status is " + string(c.RefundStatus)
		summary.SuggestedStatus = string(domain.RefundStatusCompleted)
	case c.RefundStatus == domain.RefundStatusFailed && order.Status == domain.OrderStatusRefunded:
		summary.Mismatch = "refund failed but order is refunded"
		summary.SuggestedStatus = string(domain.OrderStatusCancelled)
	case order.Status == domain.OrderStatusRefunded && c.RefundStatus != domain.RefundStatusCompleted:
		summary.Mismatch = "order is refunded but refund status is " + string(c.RefundStatus)
		summary.SuggestedStatus = string(domain.RefundStatusCompleted)
	case c.RefundStatus == domain.RefundStatusCompleted && order.Status != domain.OrderStatusRefunded:
		summary.Mismatch = "refund completed but order status is " + string(order.Status)
		summary.SuggestedStatus = string(domain.OrderStatusRefunded)
	case (c.RefundStatus == domain.RefundStatusInitiated || c.RefundStatus == domain.RefundStatusProcessing) && c.RefundID == "":
		summary.Mismatch = "refund in progress without a gateway refund id"
		summary.SuggestedStatus = string(domain.RefundStatusPending)
	case c.RefundStatus == domain.RefundStatusPending && c.RefundID != "":
		summary.Mismatch = "gateway refund exists but refund status is pending"
		summary.SuggestedStatus = string(domain.RefundStatusInitiated)
	}
	return summary
}

func (s *refundService) ApplyWebhookEvent(ctx context.Context, event RefundWebhookEvent) (WebhookResult, error) {
	ctx, span := tracer.Start(ctx, "refunds.webhook")
	defer span.End()

	var target RefundStatus
	switch event.Event {
	case webhookRefundCreated:
		target = domain.RefundStatusProcessing
	case webhookRefundProcessed:
		target = domain.RefundStatusCompleted
	case webhookRefundFailed:
		target = domain.RefundStatusFailed
	default:
		return WebhookResult{Reason: "ignored event " + event.Event}, nil
	}
	refundID := strings.TrimSpace(event.RefundID)
	if refundID == "" {
		return WebhookResult{}, fmt.Errorf("%w: refund id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByRefundID(ctx, refundID)
	if err != nil {
		if isRepoNotFound(err) {
			s.logger(ctx, refundEventWebhook, map[string]any{"event": event.Event, "refundId": refundID, "result": "unknown_refund"})
			return WebhookResult{Reason: "unknown refund"}, nil
		}
		return WebhookResult{}, mapRepositoryError(err)
	}

	reason := strings.TrimSpace(event.Description)
	if reason == "" {
		reason = "gateway reported refund failure"
	}
	_, changed, err := s.applyRefundStatus(ctx, order.ID, refundChange{
		status:    target,
		note:      "Gateway event " + event.Event,
		actor:     actorLabel(domain.CancelledBySystem, "webhook"),
		reason:    reason,
		monotonic: true,
	})
	if err != nil {
		return WebhookResult{OrderID: order.ID}, err
	}

	result := WebhookResult{OrderID: order.ID, Applied: changed}
	if !changed {
		result.Reason = "already " + string(order.RefundStatusOrEmpty())
	} else {
		s.invalidate(ctx)
	}
	s.logger(ctx, refundEventWebhook, map[string]any{
		"event":    event.Event,
		"refundId": refundID,
		"orderId":  order.ID,
		"applied":  changed,
	})
	return result, nil
}

type refundChange struct {
	status RefundStatus
	note   string
	actor  string
	// reason is stored as the refund error when status is failed.
	reason string
	// monotonic drops changes that would not advance the stored status.
	monotonic bool
	mutate    func(c *domain.OrderCancellation)
}

// applyRefundStatus moves the refund sub-record to change.status and drives the
// order state machine for terminal outcomes. It reports whether anything was written.
func (s *refundService) applyRefundStatus(ctx context.Context, orderID string, change refundChange) (domain.Order, bool, error) {
	now := s.clock()
	var (
		saved   domain.Order
		changed bool
	)
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		changed = false
		current, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return mapRepositoryError(err)
		}
		c := current.Cancellation
		if c == nil {
			return fmt.Errorf("%w: order %s is not cancelled", ErrOrderInvalidState, orderID)
		}
		saved = current
		if change.monotonic && refundRank(change.status) <= refundRank(c.RefundStatus) {
			return nil
		}

		switch change.status {
		case domain.RefundStatusCompleted:
			if current.Status == domain.OrderStatusRefunded && c.RefundStatus == domain.RefundStatusCompleted {
				return nil
			}
			if err := current.Apply(domain.OrderEventRefundCompleted, now, change.note, change.actor); err != nil {
				return mapTransitionError(err)
			}
			c.RefundedAt = timePtr(now)
			c.RefundError = ""
		case domain.RefundStatusFailed:
			if c.RefundStatus == domain.RefundStatusFailed && current.Payment.Status == domain.PaymentStatusFailed {
				return nil
			}
			if err := current.Apply(domain.OrderEventRefundFailed, now, change.note, change.actor); err != nil {
				return mapTransitionError(err)
			}
			c.RefundedAt = nil
			c.RefundError = change.reason
		default:
			if current.Status == domain.OrderStatusRefunded || current.Payment.Status == domain.PaymentStatusRefunded {
				return fmt.Errorf("%w: order %s is already refunded", ErrOrderInvalidState, orderID)
			}
			if c.RefundStatus == change.status && change.mutate == nil {
				return nil
			}
			current.UpdatedAt = now
		}
		c.RefundStatus = change.status
		if change.mutate != nil {
			change.mutate(c)
		}

		updated, err := s.orders.Update(txCtx, current, repositories.StatusGuard{
			Statuses: []domain.OrderStatus{domain.OrderStatusCancelled, domain.OrderStatusRefunded},
			Version:  current.Version,
		})
		if err != nil {
			return mapRepositoryError(err)
		}
		saved = updated
		changed = true
		return nil
	})
	if err != nil {
		return domain.Order{}, false, err
	}
	return saved, changed, nil
}

func (s *refundService) loadCancelled(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, mapRepositoryError(err)
	}
	if order.Cancellation == nil {
		return domain.Order{}, fmt.Errorf("%w: order %s is not cancelled", ErrOrderInvalidState, orderID)
	}
	return order, nil
}

func (s *refundService) invalidate(ctx context.Context) {
	if err := s.cache.Delete(ctx, cache.KeyRefundDashboard); err != nil {
		s.logger(ctx, "refund.cache_invalidate.failed", map[string]any{"error": err.Error()})
	}
}
