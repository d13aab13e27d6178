package domain

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// ErrInvalidTransition is returned when an event is not legal for the current joint state.
var ErrInvalidTransition = errors.New("order: invalid state transition")

// OrderEvent names the inputs of the order state machine.
type OrderEvent string

const (
	OrderEventPaymentFailed   OrderEvent = "payment_failed"
	OrderEventPaymentVerified OrderEvent = "payment_verified"
	OrderEventProcess         OrderEvent = "process"
	OrderEventShip            OrderEvent = "ship"
	OrderEventDeliver         OrderEvent = "deliver"
	OrderEventCancel          OrderEvent = "cancel"
	OrderEventRefundCompleted OrderEvent = "refund_completed"
	OrderEventRefundFailed    OrderEvent = "refund_failed"
)

// OrderState is the pair (order.status, payment.status) the state machine works on.
type OrderState struct {
	Order   OrderStatus
	Payment PaymentStatus
}

type transitionRule struct {
	fromOrder   []OrderStatus
	fromPayment []PaymentStatus
	toOrder     OrderStatus
	// toPayment is left empty when the event does not touch the payment status.
	toPayment PaymentStatus
}

var orderTransitions = map[OrderEvent]transitionRule{
	OrderEventPaymentFailed: {
		fromOrder:   []OrderStatus{OrderStatusPending},
		fromPayment: []PaymentStatus{PaymentStatusPending, PaymentStatusProcessing},
		toOrder:     OrderStatusPaymentFailed,
		toPayment:   PaymentStatusFailed,
	},
	OrderEventPaymentVerified: {
		fromOrder:   []OrderStatus{OrderStatusPending},
		fromPayment: []PaymentStatus{PaymentStatusPending, PaymentStatusProcessing},
		toOrder:     OrderStatusConfirmed,
		toPayment:   PaymentStatusCompleted,
	},
	OrderEventProcess: {
		fromOrder:   []OrderStatus{OrderStatusConfirmed},
		fromPayment: []PaymentStatus{PaymentStatusCompleted},
		toOrder:     OrderStatusProcessing,
	},
	OrderEventShip: {
		fromOrder:   []OrderStatus{OrderStatusConfirmed, OrderStatusProcessing},
		fromPayment: []PaymentStatus{PaymentStatusCompleted},
		toOrder:     OrderStatusShipped,
	},
	OrderEventDeliver: {
		fromOrder:   []OrderStatus{OrderStatusShipped},
		fromPayment: []PaymentStatus{PaymentStatusCompleted},
		toOrder:     OrderStatusDelivered,
	},
	OrderEventCancel: {
		fromOrder:   []OrderStatus{OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing},
		fromPayment: []PaymentStatus{PaymentStatusPending, PaymentStatusProcessing, PaymentStatusCompleted},
		toOrder:     OrderStatusCancelled,
	},
	OrderEventRefundCompleted: {
		fromOrder:   []OrderStatus{OrderStatusCancelled, OrderStatusRefunded},
		fromPayment: []PaymentStatus{PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusRefunded},
		toOrder:     OrderStatusRefunded,
		toPayment:   PaymentStatusRefunded,
	},
	OrderEventRefundFailed: {
		fromOrder:   []OrderStatus{OrderStatusCancelled, OrderStatusRefunded},
		fromPayment: []PaymentStatus{PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusRefunded},
		toOrder:     OrderStatusCancelled,
		toPayment:   PaymentStatusFailed,
	},
}

// CancellableStatuses lists the order statuses from which cancellation is allowed.
func CancellableStatuses() []OrderStatus {
	return slices.Clone(orderTransitions[OrderEventCancel].fromOrder)
}

// SourceStatuses returns the order statuses an event may be applied from.
func SourceStatuses(event OrderEvent) []OrderStatus {
	rule, ok := orderTransitions[event]
	if !ok {
		return nil
	}
	return slices.Clone(rule.fromOrder)
}

// NextState is the single transition function of the joint order/payment state machine.
func NextState(current OrderState, event OrderEvent) (OrderState, error) {
	rule, ok := orderTransitions[event]
	if !ok {
		return current, fmt.Errorf("%w: unknown event %q", ErrInvalidTransition, event)
	}
	if !slices.Contains(rule.fromOrder, current.Order) {
		return current, fmt.Errorf("%w: %s not allowed from order status %q", ErrInvalidTransition, event, current.Order)
	}
	if !slices.Contains(rule.fromPayment, current.Payment) {
		return current, fmt.Errorf("%w: %s not allowed from payment status %q", ErrInvalidTransition, event, current.Payment)
	}
	next := OrderState{Order: rule.toOrder, Payment: current.Payment}
	if rule.toPayment != "" {
		next.Payment = rule.toPayment
	}
	return next, nil
}

// Apply runs event through the state machine and records the new status in the history.
func (o *Order) Apply(event OrderEvent, at time.Time, note, actor string) error {
	next, err := NextState(o.State(), event)
	if err != nil {
		return err
	}
	o.Status = next.Order
	o.Payment.Status = next.Payment
	o.StatusHistory = append(o.StatusHistory, StatusHistoryEntry{
		Status:    next.Order,
		Timestamp: at,
		Note:      note,
		UpdatedBy: actor,
	})
	o.UpdatedAt = at
	return nil
}
