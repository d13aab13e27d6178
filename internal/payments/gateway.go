package payments

import (
	"errors"
	"time"
)

// CurrencyINR is the only currency the storefront charges in.
const CurrencyINR = "INR"

var (
	// ErrGateway wraps every failure reported by the payment gateway.
	ErrGateway = errors.New("payments: gateway error")
	// ErrGatewayUnavailable marks failures caused by an open breaker or a timeout.
	ErrGatewayUnavailable = errors.New("payments: gateway unavailable")
)

// RefundState is the gateway-side status of a refund.
type RefundState string

const (
	RefundStatePending   RefundState = "pending"
	RefundStateProcessed RefundState = "processed"
	RefundStateFailed    RefundState = "failed"
)

// CreateOrderRequest describes a gateway order. Amounts are in minor units.
type CreateOrderRequest struct {
	AmountMinor int64
	Currency    string
	Receipt     string
	Notes       map[string]string
}

// GatewayOrder is the gateway's view of an order.
type GatewayOrder struct {
	ID          string
	AmountMinor int64
	Currency    string
	Status      string
	Receipt     string
}

// RefundRequest asks the gateway to refund a captured payment.
type RefundRequest struct {
	PaymentID   string
	AmountMinor int64
	Notes       map[string]string
}

// Refund is the gateway's view of a refund.
type Refund struct {
	ID          string
	PaymentID   string
	Status      RefundState
	AmountMinor int64
	CreatedAt   time.Time
}
