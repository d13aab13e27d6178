package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/giftcraft/api/internal/domain"
	"github.com/giftcraft/api/internal/payments"
	"github.com/giftcraft/api/internal/platform/cache"
	"github.com/giftcraft/api/internal/repositories"
)

const (
	orderEventCreated         = "order.created"
	orderEventGatewayOrder    = "order.gateway_order.created"
	orderEventPaymentVerified = "order.payment.verified"
	orderEventPaymentRejected = "order.payment.rejected"
	orderEventStatusChanged   = "order.status.changed"
	orderEventCancelled       = "order.cancelled"
	orderEventRefundIssued    = "order.refund.issued"
	orderEventRefundFailed    = "order.refund.failed"
	orderEventOTPSent         = "order.delivery_otp.queued"

	maxItemQuantity = 100
	defaultAppName  = "GIFTCRAFT"
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Products    repositories.ProductRepository
	Carts       repositories.CartRepository
	Users       repositories.UserRepository
	Outbox      repositories.OutboxRepository
	UnitOfWork  repositories.UnitOfWork
	Gateway     PaymentGateway
	Cache       CacheInvalidator
	Policy      OrderPolicy
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	products   repositories.ProductRepository
	carts      repositories.CartRepository
	users      repositories.UserRepository
	outbox     repositories.OutboxRepository
	unitOfWork repositories.UnitOfWork
	gateway    PaymentGateway
	cache      CacheInvalidator
	policy     OrderPolicy
	clock      func() time.Time
	newID      func() string
	logger     logFunc
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	switch {
	case deps.Orders == nil:
		return nil, errors.New("order service: order repository is required")
	case deps.Products == nil:
		return nil, errors.New("order service: product repository is required")
	case deps.Carts == nil:
		return nil, errors.New("order service: cart repository is required")
	case deps.Users == nil:
		return nil, errors.New("order service: user repository is required")
	case deps.Outbox == nil:
		return nil, errors.New("order service: outbox repository is required")
	case deps.Gateway == nil:
		return nil, errors.New("order service: payment gateway is required")
	}

	policy := deps.Policy
	if strings.TrimSpace(policy.AppName) == "" {
		policy.AppName = defaultAppName
	}
	if policy.Currency == "" {
		policy.Currency = payments.CurrencyINR
	}
	if policy.Pricing == (domain.PricingPolicy{}) {
		policy.Pricing = domain.DefaultPricingPolicy()
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = nopLogger
	}

	return &orderService{
		orders:     deps.Orders,
		products:   deps.Products,
		carts:      deps.Carts,
		users:      deps.Users,
		outbox:     deps.Outbox,
		unitOfWork: unitOrNoop(deps.UnitOfWork),
		gateway:    deps.Gateway,
		cache:      deps.Cache,
		policy:     policy,
		clock:      utcClock(deps.Clock),
		newID:      idGen,
		logger:     logger,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error) {
	ctx, span := tracer.Start(ctx, "orders.create")
	defer span.End()

	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return CreateOrderResult{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	if cmd.PurchaseType != domain.PurchaseTypeCart && cmd.PurchaseType != domain.PurchaseTypeDirect {
		return CreateOrderResult{}, fmt.Errorf("%w: purchase type must be cart or direct", ErrOrderInvalidInput)
	}

	shipping, err := normaliseAddress(cmd.ShippingAddress)
	if err != nil {
		return CreateOrderResult{}, err
	}
	billing := shipping
	if cmd.BillingAddress != nil && !cmd.BillingAddress.IsZero() {
		if billing, err = normaliseAddress(*cmd.BillingAddress); err != nil {
			return CreateOrderResult{}, err
		}
	}

	inputs, err := s.resolveItems(ctx, userID, cmd)
	if err != nil {
		return CreateOrderResult{}, err
	}

	items := make([]domain.OrderItem, 0, len(inputs))
	for _, in := range inputs {
		product, err := s.products.FindByID(ctx, in.ProductID)
		if err != nil {
			if isRepoNotFound(err) {
				return CreateOrderResult{}, fmt.Errorf("%w: %s", ErrProductNotFound, in.ProductID)
			}
			return CreateOrderResult{}, mapRepositoryError(err)
		}
		if product.DeletedAt != nil {
			return CreateOrderResult{}, fmt.Errorf("%w: %s", ErrProductNotFound, in.ProductID)
		}

		item := domain.NewLineItem(product, in.Quantity, cmd.PurchaseType)
		item.ColorID = in.ColorID
		item.SizeID = in.SizeID
		if item.IsPersonalized {
			name := in.PersonalizedName
			if strings.TrimSpace(name) == "" {
				name = cmd.PersonalizedName
			}
			item.PersonalizedName = sanitizeText(name, 60)
		}
		items = append(items, item)
	}

	now := s.clock()
	order := domain.Order{
		ID:              newOrderID(now, s.newID()),
		UserID:          userID,
		PurchaseType:    cmd.PurchaseType,
		Items:           items,
		Pricing:         s.policy.Pricing.Price(items, domain.OrderDiscount{}, cmd.GiftWrap),
		Status:          domain.OrderStatusPending,
		Payment:         domain.OrderPayment{Status: domain.PaymentStatusPending, Method: domain.PaymentMethodRazorpay},
		ShippingAddress: shipping,
		BillingAddress:  billing,
		Gift: domain.OrderGift{
			IsGift:   cmd.IsGift,
			Message:  sanitizeText(cmd.GiftMessage, maxGiftMsgLength),
			GiftWrap: cmd.GiftWrap,
		},
		Notes: domain.OrderNotes{Customer: sanitizeText(cmd.CustomerNotes, maxNotesLength)},
		StatusHistory: []domain.StatusHistoryEntry{{
			Status:    domain.OrderStatusPending,
			Timestamp: now,
			Note:      "Order placed",
			UpdatedBy: actorLabel(domain.CancelledByCustomer, userID),
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	span.SetAttributes(attribute.String("order.id", order.ID))

	if err := s.orders.Insert(ctx, order); err != nil {
		return CreateOrderResult{}, mapRepositoryError(err)
	}

	s.backfillUser(ctx, userID, shipping, now)

	s.logger(ctx, orderEventCreated, map[string]any{
		"orderId":      order.ID,
		"userId":       userID,
		"purchaseType": string(order.PurchaseType),
		"items":        len(items),
		"total":        order.Pricing.Total,
	})

	return CreateOrderResult{OrderID: order.ID, Total: order.Pricing.Total}, nil
}

func (s *orderService) resolveItems(ctx context.Context, userID string, cmd CreateOrderCommand) ([]OrderItemInput, error) {
	inputs := cmd.Items
	if cmd.PurchaseType == domain.PurchaseTypeCart {
		cart, err := s.carts.Get(ctx, userID)
		if err != nil {
			return nil, mapRepositoryError(err)
		}
		inputs = make([]OrderItemInput, 0, len(cart.Items))
		for _, item := range cart.Items {
			inputs = append(inputs, OrderItemInput{
				ProductID:        item.ProductID,
				ColorID:          item.ColorID,
				SizeID:           item.SizeID,
				Quantity:         item.Quantity,
				PersonalizedName: item.PersonalizedName,
			})
		}
		if len(inputs) == 0 {
			return nil, fmt.Errorf("%w: cart is empty", ErrOrderInvalidInput)
		}
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: at least one item is required", ErrOrderInvalidInput)
	}

	for i := range inputs {
		inputs[i].ProductID = strings.TrimSpace(inputs[i].ProductID)
		inputs[i].ColorID = strings.TrimSpace(inputs[i].ColorID)
		inputs[i].SizeID = strings.TrimSpace(inputs[i].SizeID)
		if inputs[i].ProductID == "" {
			return nil, fmt.Errorf("%w: item %d product id is required", ErrOrderInvalidInput, i)
		}
		if inputs[i].Quantity < 1 || inputs[i].Quantity > maxItemQuantity {
			return nil, fmt.Errorf("%w: item %d quantity must be between 1 and %d", ErrOrderInvalidInput, i, maxItemQuantity)
		}
	}
	return inputs, nil
}

// backfillUser copies contact details from the first order onto an incomplete profile.
func (s *orderService) backfillUser(ctx context.Context, userID string, addr domain.Address, now time.Time) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		s.logger(ctx, "order.user_backfill.failed", map[string]any{"userId": userID, "error": err.Error()})
		return
	}

	changed := false
	fill := func(dst *string, value string) {
		if strings.TrimSpace(*dst) == "" && value != "" {
			*dst = value
			changed = true
		}
	}
	fill(&user.Mobile, addr.Phone)
	fill(&user.Address.Pincode, addr.Pincode)
	fill(&user.Address.State, addr.State)
	fill(&user.Address.City, addr.City)
	street := addr.Street
	if street == "" {
		street = addr.AddressLine1
	}
	fill(&user.Address.Street, street)
	fill(&user.Address.Area, addr.Area)
	if !changed {
		return
	}

	user.UpdatedAt = now
	if err := s.users.Update(ctx, user); err != nil {
		s.logger(ctx, "order.user_backfill.failed", map[string]any{"userId": userID, "error": err.Error()})
	}
}

func (s *orderService) CreateGatewayOrder(ctx context.Context, orderID, userID string) (GatewayOrderResult, error) {
	ctx, span := tracer.Start(ctx, "orders.gateway_order")
	defer span.End()

	order, err := s.ownedOrder(ctx, orderID, userID)
	if err != nil {
		return GatewayOrderResult{}, err
	}
	if order.Status != domain.OrderStatusPending || order.Payment.Status != domain.PaymentStatusPending {
		return GatewayOrderResult{}, fmt.Errorf("%w: order %s is %s", ErrOrderInvalidState, order.ID, order.Status)
	}

	gwOrder, err := s.gateway.CreateOrder(ctx, payments.CreateOrderRequest{
		AmountMinor: order.Pricing.Total,
		Currency:    s.policy.Currency,
		Receipt:     order.ID,
		Notes:       map[string]string{"orderId": order.ID, "userId": order.UserID},
	})
	if err != nil {
		return GatewayOrderResult{}, fmt.Errorf("%w: %v", ErrPaymentGateway, err)
	}

	order.Payment.Gateway.OrderID = gwOrder.ID
	order.UpdatedAt = s.clock()
	if _, err := s.orders.Update(ctx, order, repositories.StatusGuard{
		Statuses: []domain.OrderStatus{domain.OrderStatusPending},
		Version:  order.Version,
	}); err != nil {
		return GatewayOrderResult{}, mapRepositoryError(err)
	}

	amount := gwOrder.AmountMinor
	if amount == 0 {
		amount = order.Pricing.Total
	}
	s.logger(ctx, orderEventGatewayOrder, map[string]any{
		"orderId":        order.ID,
		"gatewayOrderId": gwOrder.ID,
		"amount":         amount,
	})

	return GatewayOrderResult{
		OrderID:        order.ID,
		GatewayOrderID: gwOrder.ID,
		Amount:         amount,
		Currency:       s.policy.Currency,
		KeyID:          s.gateway.KeyID(),
	}, nil
}

func (s *orderService) VerifyPayment(ctx context.Context, cmd VerifyPaymentCommand) (VerifyPaymentResult, error) {
	ctx, span := tracer.Start(ctx, "orders.verify_payment")
	defer span.End()

	cmd.GatewayOrderID = strings.TrimSpace(cmd.GatewayOrderID)
	cmd.GatewayPaymentID = strings.TrimSpace(cmd.GatewayPaymentID)
	cmd.Signature = strings.TrimSpace(cmd.Signature)
	if cmd.GatewayOrderID == "" || cmd.GatewayPaymentID == "" || cmd.Signature == "" {
		return VerifyPaymentResult{}, fmt.Errorf("%w: gateway order id, payment id and signature are required", ErrOrderInvalidInput)
	}

	order, err := s.ownedOrder(ctx, cmd.OrderID, cmd.UserID)
	if err != nil {
		return VerifyPaymentResult{}, err
	}
	span.SetAttributes(attribute.String("order.id", order.ID))

	if order.Status == domain.OrderStatusConfirmed && order.Payment.Verified &&
		order.Payment.Gateway.PaymentID == cmd.GatewayPaymentID {
		return verifyResult(order), nil
	}
	if order.Status != domain.OrderStatusPending {
		return VerifyPaymentResult{}, fmt.Errorf("%w: order %s is %s", ErrOrderInvalidState, order.ID, order.Status)
	}

	stored := order.Payment.Gateway.OrderID
	if stored == "" {
		return VerifyPaymentResult{}, fmt.Errorf("%w: order %s has no gateway order", ErrOrderInvalidState, order.ID)
	}
	if !s.gateway.VerifyPaymentSignature(cmd.GatewayOrderID, cmd.GatewayPaymentID, cmd.Signature) ||
		stored != cmd.GatewayOrderID {
		if err := s.markPaymentFailed(ctx, order.ID, cmd); err != nil {
			s.logger(ctx, "order.payment_failed.record_failed", map[string]any{"orderId": order.ID, "error": err.Error()})
		}
		return VerifyPaymentResult{}, fmt.Errorf("%w: order %s", ErrPaymentSignatureMismatch, order.ID)
	}

	gwOrder, err := s.gateway.FetchOrder(ctx, cmd.GatewayOrderID)
	if err != nil {
		return VerifyPaymentResult{}, fmt.Errorf("%w: %v", ErrPaymentGateway, err)
	}
	if gwOrder.Receipt != order.ID {
		s.logger(ctx, orderEventPaymentRejected, map[string]any{
			"orderId":        order.ID,
			"reason":         "receipt_mismatch",
			"gatewayOrderId": cmd.GatewayOrderID,
			"receipt":        gwOrder.Receipt,
		})
		return VerifyPaymentResult{}, fmt.Errorf("%w: gateway order %s was not issued for order %s", ErrPaymentSignatureMismatch, cmd.GatewayOrderID, order.ID)
	}
	if gwOrder.AmountMinor != order.Pricing.Total {
		s.logger(ctx, orderEventPaymentRejected, map[string]any{
			"orderId":       order.ID,
			"reason":        "amount_mismatch",
			"gatewayAmount": gwOrder.AmountMinor,
			"orderTotal":    order.Pricing.Total,
		})
		return VerifyPaymentResult{}, fmt.Errorf("%w: gateway amount %d, order total %d", ErrPaymentAmountMismatch, gwOrder.AmountMinor, order.Pricing.Total)
	}

	now := s.clock()
	otp, err := newDeliveryOTP(now, s.policy.OTPTTL)
	if err != nil {
		return VerifyPaymentResult{}, err
	}
	packageID, err := newPackageID(s.policy.AppName)
	if err != nil {
		return VerifyPaymentResult{}, err
	}

	var confirmed domain.Order
	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		current, err := s.orders.FindByID(txCtx, order.ID)
		if err != nil {
			return mapRepositoryError(err)
		}
		user := s.loadUser(txCtx, current.UserID)

		if err := current.Apply(domain.OrderEventPaymentVerified, now, "Payment verified", actorLabel(domain.CancelledByCustomer, current.UserID)); err != nil {
			return mapTransitionError(err)
		}
		current.Payment.Verified = true
		current.Payment.Method = domain.PaymentMethodRazorpay
		current.Payment.Gateway = domain.GatewayReference{
			OrderID:   cmd.GatewayOrderID,
			PaymentID: cmd.GatewayPaymentID,
			Signature: cmd.Signature,
		}
		current.Payment.PaidAt = timePtr(now)
		current.Payment.TransactionID = cmd.GatewayPaymentID
		current.DeliveryOTP = otp
		current.PackageID = packageID
		current.StockCommitted = true

		saved, err := s.orders.Update(txCtx, current, repositories.StatusGuard{
			Statuses: []domain.OrderStatus{domain.OrderStatusPending},
			Version:  current.Version,
		})
		if err != nil {
			return mapRepositoryError(err)
		}

		entries := []domain.OutboxEntry{stockDecrementEntry(saved, now)}
		if saved.PurchaseType == domain.PurchaseTypeCart {
			entries = append(entries, cartClearEntry(saved, now))
		}
		if entry, ok := notificationEntry(txCtx, saved, user, domain.NotificationOrderConfirmed, now, map[string]any{
			"packageId":   saved.PackageID,
			"paymentId":   cmd.GatewayPaymentID,
			"deliveryOtp": otp.Code,
		}); ok {
			entries = append(entries, entry)
		}
		if err := s.outbox.Enqueue(txCtx, entries...); err != nil {
			return mapRepositoryError(err)
		}
		confirmed = saved
		return nil
	})
	if err != nil {
		return VerifyPaymentResult{}, err
	}

	s.logger(ctx, orderEventPaymentVerified, map[string]any{
		"orderId":   confirmed.ID,
		"paymentId": cmd.GatewayPaymentID,
		"packageId": confirmed.PackageID,
	})
	return verifyResult(confirmed), nil
}

func verifyResult(order domain.Order) VerifyPaymentResult {
	result := VerifyPaymentResult{OrderID: order.ID, Status: order.Status, PackageID: order.PackageID}
	if order.DeliveryOTP != nil {
		result.DeliveryOTP = order.DeliveryOTP.Code
	}
	return result
}

func (s *orderService) markPaymentFailed(ctx context.Context, orderID string, cmd VerifyPaymentCommand) error {
	now := s.clock()
	return s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		current, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return mapRepositoryError(err)
		}
		user := s.loadUser(txCtx, current.UserID)
		if err := current.Apply(domain.OrderEventPaymentFailed, now, "Payment signature verification failed", actorLabel(domain.CancelledBySystem, "")); err != nil {
			return mapTransitionError(err)
		}
		saved, err := s.orders.Update(txCtx, current, repositories.StatusGuard{
			Statuses: []domain.OrderStatus{domain.OrderStatusPending},
			Version:  current.Version,
		})
		if err != nil {
			return mapRepositoryError(err)
		}
		s.logger(txCtx, orderEventPaymentRejected, map[string]any{
			"orderId":        orderID,
			"reason":         "signature_mismatch",
			"gatewayOrderId": cmd.GatewayOrderID,
		})
		if entry, ok := notificationEntry(txCtx, saved, user, domain.NotificationPaymentFailed, now, nil); ok {
			return mapRepositoryError(s.outbox.Enqueue(txCtx, entry))
		}
		return nil
	})
}

func (s *orderService) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	ctx, span := tracer.Start(ctx, "orders.cancel")
	defer span.End()

	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	by := cmd.CancelledBy
	if by == "" {
		by = domain.CancelledByCustomer
	}
	userID := strings.TrimSpace(cmd.UserID)
	if by == domain.CancelledByCustomer && userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	reason := sanitizeText(cmd.Reason, maxReasonLength)
	if reason == "" {
		reason = "Cancelled by " + string(by)
	}
	actorID := cmd.ActorID
	if actorID == "" {
		actorID = userID
	}
	actor := actorLabel(by, actorID)

	now := s.clock()
	var (
		cancelled domain.Order
		refundDue bool
		restored  bool
	)
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		current, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return mapRepositoryError(err)
		}
		if current.DeletedAt != nil || (by == domain.CancelledByCustomer && current.UserID != userID) {
			return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		if !slices.Contains(domain.CancellableStatuses(), current.Status) {
			return fmt.Errorf("%w: order %s is %s and cannot be cancelled", ErrOrderInvalidState, orderID, current.Status)
		}
		if by == domain.CancelledByCustomer && current.Payment.Status != domain.PaymentStatusPending &&
			s.policy.CancellationWindow > 0 && now.Sub(current.CreatedAt) > s.policy.CancellationWindow {
			return fmt.Errorf("%w: orders can be cancelled within %s of placing them", ErrCancellationWindowExpired, s.policy.CancellationWindow)
		}
		user := s.loadUser(txCtx, current.UserID)

		var pendingStock *domain.OutboxEntry
		restore := false
		if current.StockCommitted {
			entry, err := s.outbox.Get(txCtx, stockEntryID(current.ID))
			switch {
			case err == nil && entry.Status == domain.OutboxStatusPending:
				pendingStock = &entry
			case err == nil && entry.Status == domain.OutboxStatusDone:
				restore = true
			case err != nil && !isRepoNotFound(err):
				return mapRepositoryError(err)
			}
		}

		refundDue = current.Payment.Status == domain.PaymentStatusCompleted && current.Payment.Gateway.PaymentID != ""
		if err := current.Apply(domain.OrderEventCancel, now, reason, actor); err != nil {
			return mapTransitionError(err)
		}
		current.Cancellation = &domain.OrderCancellation{
			CancelledAt: now,
			CancelledBy: by,
			Reason:      reason,
		}
		if refundDue {
			current.Cancellation.RefundStatus = domain.RefundStatusPending
			current.Cancellation.RefundAmount = current.Pricing.Total
		}
		current.StockCommitted = false

		saved, err := s.orders.Update(txCtx, current, repositories.StatusGuard{
			Statuses: domain.CancellableStatuses(),
			Version:  current.Version,
		})
		if err != nil {
			return mapRepositoryError(err)
		}

		if restore {
			if err := s.products.AdjustStock(txCtx, stockLines(saved.Items), 1); err != nil {
				return mapRepositoryError(err)
			}
		}
		if pendingStock != nil {
			pendingStock.Status = domain.OutboxStatusCancelled
			pendingStock.LastError = "order cancelled before stock was applied"
			if err := s.outbox.MarkFailed(txCtx, *pendingStock); err != nil {
				return mapRepositoryError(err)
			}
		}
		if entry, ok := notificationEntry(txCtx, saved, user, domain.NotificationOrderCancelled, now, map[string]any{
			"reason":    reason,
			"refundDue": refundDue,
		}); ok {
			if err := s.outbox.Enqueue(txCtx, entry); err != nil {
				return mapRepositoryError(err)
			}
		}
		cancelled = saved
		restored = restore
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.invalidateRefunds(ctx)
	s.logger(ctx, orderEventCancelled, map[string]any{
		"orderId":       cancelled.ID,
		"cancelledBy":   string(by),
		"refundDue":     refundDue,
		"stockRestored": restored,
	})

	if !refundDue {
		return cancelled, nil
	}
	return s.issueRefund(ctx, cancelled, reason), nil
}

// issueRefund asks the gateway for a full refund and records the outcome on
// the cancellation. Gateway failures are stored, never returned.
func (s *orderService) issueRefund(ctx context.Context, order domain.Order, reason string) domain.Order {
	refund, refundErr := s.gateway.Refund(ctx, payments.RefundRequest{
		PaymentID:   order.Payment.Gateway.PaymentID,
		AmountMinor: order.Cancellation.RefundAmount,
		Notes:       map[string]string{"orderId": order.ID, "reason": reason},
	})

	fields := map[string]any{"orderId": order.ID, "paymentId": order.Payment.Gateway.PaymentID}
	if refundErr != nil {
		fields["error"] = refundErr.Error()
		s.logger(ctx, orderEventRefundFailed, fields)
	} else {
		fields["refundId"] = refund.ID
		fields["amount"] = refund.AmountMinor
		s.logger(ctx, orderEventRefundIssued, fields)
	}

	now := s.clock()
	var saved domain.Order
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		current, err := s.orders.FindByID(txCtx, order.ID)
		if err != nil {
			return err
		}
		if current.Cancellation == nil || current.Cancellation.RefundID != "" {
			saved = current
			return nil
		}
		if refundErr != nil {
			current.Cancellation.RefundStatus = domain.RefundStatusFailed
			current.Cancellation.RefundError = refundErr.Error()
		} else {
			current.Cancellation.RefundStatus = domain.RefundStatusInitiated
			current.Cancellation.RefundID = refund.ID
			current.Cancellation.RefundError = ""
			if refund.AmountMinor > 0 {
				current.Cancellation.RefundAmount = refund.AmountMinor
			}
		}
		current.UpdatedAt = now
		saved, err = s.orders.Update(txCtx, current, repositories.StatusGuard{
			Statuses: []domain.OrderStatus{domain.OrderStatusCancelled},
			Version:  current.Version,
		})
		return err
	})
	if err != nil {
		fields["error"] = err.Error()
		s.logger(ctx, "order.refund.record_failed", fields)
		return order
	}
	s.invalidateRefunds(ctx)
	return saved
}

func (s *orderService) MarkProcessing(ctx context.Context, cmd OrderActionCommand) (Order, error) {
	note := sanitizeText(cmd.Note, maxNotesLength)
	if note == "" {
		note = "Order is being prepared"
	}
	return s.transition(ctx, cmd.OrderID, actorLabel(domain.CancelledByAdmin, cmd.ActorID), transitionStep{
		event: domain.OrderEventProcess,
		note:  note,
	})
}

func (s *orderService) MarkShipped(ctx context.Context, cmd OrderActionCommand) (Order, error) {
	note := sanitizeText(cmd.Note, maxNotesLength)
	if note == "" {
		note = "Order shipped"
	}
	return s.transition(ctx, cmd.OrderID, actorLabel(domain.CancelledByAdmin, cmd.ActorID), transitionStep{
		event:  domain.OrderEventShip,
		note:   note,
		notify: domain.NotificationOrderShipped,
		mutate: func(order *domain.Order, now time.Time) (map[string]any, error) {
			order.Shipping.ShippedAt = timePtr(now)
			if !order.DeliveryOTP.Usable(now) {
				otp, err := newDeliveryOTP(now, s.policy.OTPTTL)
				if err != nil {
					return nil, err
				}
				order.DeliveryOTP = otp
			}
			return map[string]any{
				"packageId":    order.PackageID,
				"deliveryOtp":  order.DeliveryOTP.Code,
				"otpExpiresAt": order.DeliveryOTP.ExpiresAt,
			}, nil
		},
	})
}

func (s *orderService) VerifyDeliveryOTP(ctx context.Context, orderID, code string) (Order, error) {
	code = strings.TrimSpace(code)
	if len(code) != deliveryOTPDigits || strings.Trim(code, "0123456789") != "" {
		return Order{}, fmt.Errorf("%w: otp must be %d digits", ErrDeliveryOTPInvalid, deliveryOTPDigits)
	}
	return s.transition(ctx, orderID, "delivery:otp", transitionStep{
		event:  domain.OrderEventDeliver,
		note:   "Delivered, OTP verified",
		notify: domain.NotificationOrderDelivered,
		mutate: func(order *domain.Order, now time.Time) (map[string]any, error) {
			otp := order.DeliveryOTP
			if !otp.Usable(now) || subtle.ConstantTimeCompare([]byte(otp.Code), []byte(code)) != 1 {
				return nil, fmt.Errorf("%w: order %s", ErrDeliveryOTPInvalid, order.ID)
			}
			otp.ConsumedAt = timePtr(now)
			order.Shipping.DeliveredAt = timePtr(now)
			return map[string]any{"deliveredAt": now}, nil
		},
	})
}

func (s *orderService) SendDeliveryOTP(ctx context.Context, cmd OrderActionCommand) (DeliveryOTPResult, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return DeliveryOTPResult{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	now := s.clock()
	var result DeliveryOTPResult
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		current, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return mapRepositoryError(err)
		}
		switch current.Status {
		case domain.OrderStatusConfirmed, domain.OrderStatusProcessing, domain.OrderStatusShipped:
		default:
			return fmt.Errorf("%w: order %s is %s", ErrOrderInvalidState, orderID, current.Status)
		}
		user := s.loadUser(txCtx, current.UserID)

		rotated := false
		if !current.DeliveryOTP.Usable(now) {
			otp, err := newDeliveryOTP(now, s.policy.OTPTTL)
			if err != nil {
				return err
			}
			current.DeliveryOTP = otp
			current.UpdatedAt = now
			rotated = true
		}

		entry, ok := notificationEntry(txCtx, current, user, domain.NotificationDeliveryOTP, now, map[string]any{
			"packageId":    current.PackageID,
			"deliveryOtp":  current.DeliveryOTP.Code,
			"otpExpiresAt": current.DeliveryOTP.ExpiresAt,
		})
		if !ok {
			return fmt.Errorf("%w: order %s has no recipient email", ErrOrderInvalidInput, orderID)
		}

		if rotated {
			if _, err := s.orders.Update(txCtx, current, repositories.StatusGuard{
				Statuses: []domain.OrderStatus{current.Status},
				Version:  current.Version,
			}); err != nil {
				return mapRepositoryError(err)
			}
		}
		if err := s.outbox.Enqueue(txCtx, entry); err != nil {
			return mapRepositoryError(err)
		}

		result = DeliveryOTPResult{
			OrderID:   current.ID,
			SentTo:    maskEmail(entry.Notification.RecipientEmail),
			ExpiresAt: current.DeliveryOTP.ExpiresAt,
			Rotated:   rotated,
		}
		return nil
	})
	if err != nil {
		return DeliveryOTPResult{}, err
	}

	s.logger(ctx, orderEventOTPSent, map[string]any{
		"orderId": result.OrderID,
		"rotated": result.Rotated,
		"actor":   cmd.ActorID,
	})
	return result, nil
}

func (s *orderService) ListUserOrders(ctx context.Context, userID string, page Pagination) (domain.CursorPage[Order], error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	result, err := s.orders.List(ctx, repositories.OrderListFilter{UserID: userID, Pagination: page})
	if err != nil {
		return domain.CursorPage[Order]{}, mapRepositoryError(err)
	}
	return result, nil
}

func (s *orderService) GetUserOrder(ctx context.Context, orderID, userID string) (Order, error) {
	return s.ownedOrder(ctx, orderID, userID)
}

func (s *orderService) ListOrders(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[Order], error) {
	result, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, mapRepositoryError(err)
	}
	return result, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}
	return order, nil
}

type transitionStep struct {
	event  domain.OrderEvent
	note   string
	notify domain.NotificationType
	// mutate runs after the status change and may reject it.
	mutate func(order *domain.Order, now time.Time) (map[string]any, error)
}

// transition applies a single state machine event under a status and version guard.
func (s *orderService) transition(ctx context.Context, orderID, actor string, step transitionStep) (Order, error) {
	ctx, span := tracer.Start(ctx, "orders.transition", trace.WithAttributes(attribute.String("order.event", string(step.event))))
	defer span.End()

	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	now := s.clock()
	var (
		saved domain.Order
		from  domain.OrderStatus
	)
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		current, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return mapRepositoryError(err)
		}
		if current.DeletedAt != nil {
			return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		var user domain.UserProfile
		if step.notify != "" {
			user = s.loadUser(txCtx, current.UserID)
		}

		from = current.Status
		if err := current.Apply(step.event, now, step.note, actor); err != nil {
			return mapTransitionError(err)
		}
		var data map[string]any
		if step.mutate != nil {
			if data, err = step.mutate(&current, now); err != nil {
				return err
			}
		}

		updated, err := s.orders.Update(txCtx, current, repositories.StatusGuard{
			Statuses: domain.SourceStatuses(step.event),
			Version:  current.Version,
		})
		if err != nil {
			return mapRepositoryError(err)
		}
		if step.notify != "" {
			if entry, ok := notificationEntry(txCtx, updated, user, step.notify, now, data); ok {
				if err := s.outbox.Enqueue(txCtx, entry); err != nil {
					return mapRepositoryError(err)
				}
			}
		}
		saved = updated
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.logger(ctx, orderEventStatusChanged, map[string]any{
		"orderId": saved.ID,
		"from":    string(from),
		"to":      string(saved.Status),
		"actor":   actor,
	})
	return saved, nil
}

func (s *orderService) ownedOrder(ctx context.Context, orderID, userID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	userID = strings.TrimSpace(userID)
	if orderID == "" || userID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id and user id are required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, mapRepositoryError(err)
	}
	if order.UserID != userID || order.DeletedAt != nil {
		return domain.Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return order, nil
}

// loadUser reads the profile used for notifications; a missing profile is not fatal.
func (s *orderService) loadUser(ctx context.Context, userID string) domain.UserProfile {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if !isRepoNotFound(err) {
			s.logger(ctx, "order.user_lookup.failed", map[string]any{"userId": userID, "error": err.Error()})
		}
		return domain.UserProfile{ID: userID}
	}
	return user
}

func (s *orderService) invalidateRefunds(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, cache.KeyRefundDashboard); err != nil {
		s.logger(ctx, "order.cache_invalidate.failed", map[string]any{"error": err.Error()})
	}
}

func normaliseAddress(addr domain.Address) (domain.Address, error) {
	fields := []*string{
		&addr.FullName, &addr.Phone, &addr.Email, &addr.Area, &addr.Street, &addr.AddressLine1,
		&addr.City, &addr.State, &addr.Pincode, &addr.Country, &addr.Landmark, &addr.Instructions,
	}
	for _, f := range fields {
		*f = strings.TrimSpace(*f)
	}
	addr.Instructions = sanitizeText(addr.Instructions, maxNotesLength)
	if addr.Country == "" {
		addr.Country = "India"
	}

	var missing []string
	for name, value := range map[string]string{
		"fullName": addr.FullName,
		"phone":    addr.Phone,
		"city":     addr.City,
		"state":    addr.State,
		"pincode":  addr.Pincode,
	} {
		if value == "" {
			missing = append(missing, name)
		}
	}
	if addr.Street == "" && addr.AddressLine1 == "" {
		missing = append(missing, "street")
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return addr, fmt.Errorf("%w: shipping address missing %s", ErrOrderInvalidInput, strings.Join(missing, ", "))
	}
	if len(addr.Pincode) != 6 || strings.Trim(addr.Pincode, "0123456789") != "" {
		return addr, fmt.Errorf("%w: pincode must be 6 digits", ErrOrderInvalidInput)
	}
	return addr, nil
}

func actorLabel(by domain.CancelledBy, id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return string(by)
	}
	return string(by) + ":" + id
}

func maskEmail(email string) string {
	local, host, ok := strings.Cut(email, "@")
	if !ok || local == "" {
		return ""
	}
	return local[:1] + strings.Repeat("*", max(len(local)-1, 1)) + "@" + host
}
