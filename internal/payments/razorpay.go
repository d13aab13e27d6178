package payments

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	razorpay "github.com/razorpay/razorpay-go"
	"github.com/razorpay/razorpay-go/utils"
	"github.com/sony/gobreaker"
)

const defaultGatewayTimeout = 10 * time.Second

type razorpayOrderAPI interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
	Fetch(orderID string, queryParams map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

type razorpayPaymentAPI interface {
	Refund(paymentID string, amount int, data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

type razorpayRefundAPI interface {
	Fetch(refundID string, queryParams map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

type razorpayClients struct {
	orders   razorpayOrderAPI
	payments razorpayPaymentAPI
	refunds  razorpayRefundAPI
}

// RazorpayConfig configures the RazorpayGateway.
type RazorpayConfig struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	Timeout       time.Duration
	Logger        GatewayLogger
	clients       *razorpayClients
}

// RazorpayGateway talks to Razorpay orders, payments and refunds through a
// circuit breaker and verifies gateway signatures.
type RazorpayGateway struct {
	api           razorpayClients
	keyID         string
	keySecret     string
	webhookSecret string
	timeout       time.Duration
	breaker       *gobreaker.CircuitBreaker
	logger        GatewayLogger
}

// NewRazorpayGateway constructs the gateway from credentials.
func NewRazorpayGateway(cfg RazorpayConfig) (*RazorpayGateway, error) {
	keyID := strings.TrimSpace(cfg.KeyID)
	if keyID == "" {
		return nil, errors.New("razorpay: key id is required")
	}
	if strings.TrimSpace(cfg.KeySecret) == "" {
		return nil, errors.New("razorpay: key secret is required")
	}

	var clients razorpayClients
	if cfg.clients != nil {
		clients = *cfg.clients
	} else {
		rc := razorpay.NewClient(keyID, cfg.KeySecret)
		clients = razorpayClients{orders: rc.Order, payments: rc.Payment, refunds: rc.Refund}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultGatewayTimeout
	}

	return &RazorpayGateway{
		api:           clients,
		keyID:         keyID,
		keySecret:     cfg.KeySecret,
		webhookSecret: cfg.WebhookSecret,
		timeout:       timeout,
		breaker:       newBreaker("razorpay", logger),
		logger:        logger,
	}, nil
}

// KeyID returns the public key handed to the checkout widget.
func (g *RazorpayGateway) KeyID() string {
	return g.keyID
}

// CreateOrder registers an order with Razorpay.
func (g *RazorpayGateway) CreateOrder(ctx context.Context, req CreateOrderRequest) (GatewayOrder, error) {
	if req.AmountMinor <= 0 {
		return GatewayOrder{}, fmt.Errorf("%w: amount must be positive", ErrGateway)
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = CurrencyINR
	}
	data := map[string]interface{}{
		"amount":   req.AmountMinor,
		"currency": currency,
		"receipt":  req.Receipt,
	}
	if len(req.Notes) > 0 {
		data["notes"] = req.Notes
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	body, err := ExecuteWithBreaker(ctx, g.breaker, "order.create", func() (map[string]interface{}, error) {
		return g.api.orders.Create(data, nil)
	})
	if err != nil {
		g.logFailure(ctx, "order.create", err, map[string]any{"receipt": req.Receipt})
		return GatewayOrder{}, err
	}
	return orderFromBody(body), nil
}

// FetchOrder returns the gateway order, used to cross-check paid amounts.
func (g *RazorpayGateway) FetchOrder(ctx context.Context, gatewayOrderID string) (GatewayOrder, error) {
	gatewayOrderID = strings.TrimSpace(gatewayOrderID)
	if gatewayOrderID == "" {
		return GatewayOrder{}, fmt.Errorf("%w: gateway order id is required", ErrGateway)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	body, err := ExecuteWithBreaker(ctx, g.breaker, "order.fetch", func() (map[string]interface{}, error) {
		return g.api.orders.Fetch(gatewayOrderID, nil, nil)
	})
	if err != nil {
		g.logFailure(ctx, "order.fetch", err, map[string]any{"gatewayOrderId": gatewayOrderID})
		return GatewayOrder{}, err
	}
	return orderFromBody(body), nil
}

// Refund refunds AmountMinor of a captured payment.
func (g *RazorpayGateway) Refund(ctx context.Context, req RefundRequest) (Refund, error) {
	paymentID := strings.TrimSpace(req.PaymentID)
	if paymentID == "" {
		return Refund{}, fmt.Errorf("%w: payment id is required", ErrGateway)
	}
	if req.AmountMinor <= 0 || req.AmountMinor > math.MaxInt32 {
		return Refund{}, fmt.Errorf("%w: refund amount %d out of range", ErrGateway, req.AmountMinor)
	}
	var data map[string]interface{}
	if len(req.Notes) > 0 {
		data = map[string]interface{}{"notes": req.Notes}
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	body, err := ExecuteWithBreaker(ctx, g.breaker, "payment.refund", func() (map[string]interface{}, error) {
		return g.api.payments.Refund(paymentID, int(req.AmountMinor), data, nil)
	})
	if err != nil {
		g.logFailure(ctx, "payment.refund", err, map[string]any{"paymentId": paymentID})
		return Refund{}, err
	}
	return refundFromBody(body), nil
}

// FetchRefund reads the current refund state.
func (g *RazorpayGateway) FetchRefund(ctx context.Context, refundID string) (Refund, error) {
	refundID = strings.TrimSpace(refundID)
	if refundID == "" {
		return Refund{}, fmt.Errorf("%w: refund id is required", ErrGateway)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	body, err := ExecuteWithBreaker(ctx, g.breaker, "refund.fetch", func() (map[string]interface{}, error) {
		return g.api.refunds.Fetch(refundID, nil, nil)
	})
	if err != nil {
		g.logFailure(ctx, "refund.fetch", err, map[string]any{"refundId": refundID})
		return Refund{}, err
	}
	return refundFromBody(body), nil
}

// VerifyPaymentSignature checks the checkout signature over "orderId|paymentId".
func (g *RazorpayGateway) VerifyPaymentSignature(gatewayOrderID, gatewayPaymentID, signature string) bool {
	if gatewayOrderID == "" || gatewayPaymentID == "" || signature == "" {
		return false
	}
	params := map[string]interface{}{
		"razorpay_order_id":   gatewayOrderID,
		"razorpay_payment_id": gatewayPaymentID,
	}
	return utils.VerifyPaymentSignature(params, signature, g.keySecret)
}

// VerifyWebhookSignature checks the webhook signature over the raw body.
func (g *RazorpayGateway) VerifyWebhookSignature(body []byte, signature string) bool {
	if g.webhookSecret == "" || signature == "" {
		return false
	}
	return utils.VerifyWebhookSignature(string(body), signature, g.webhookSecret)
}

func (g *RazorpayGateway) logFailure(ctx context.Context, op string, err error, fields map[string]any) {
	fields["op"] = op
	fields["error"] = err.Error()
	fields["unavailable"] = errors.Is(err, ErrGatewayUnavailable)
	g.logger(ctx, "payments.razorpay.failed", fields)
}

func orderFromBody(body map[string]interface{}) GatewayOrder {
	return GatewayOrder{
		ID:          stringField(body, "id"),
		AmountMinor: int64Field(body, "amount"),
		Currency:    stringField(body, "currency"),
		Status:      stringField(body, "status"),
		Receipt:     stringField(body, "receipt"),
	}
}

func refundFromBody(body map[string]interface{}) Refund {
	refund := Refund{
		ID:          stringField(body, "id"),
		PaymentID:   stringField(body, "payment_id"),
		Status:      RefundState(strings.ToLower(stringField(body, "status"))),
		AmountMinor: int64Field(body, "amount"),
	}
	if created := int64Field(body, "created_at"); created > 0 {
		refund.CreatedAt = time.Unix(created, 0).UTC()
	}
	return refund
}

func stringField(body map[string]interface{}, key string) string {
	value, _ := body[key].(string)
	return value
}

func int64Field(body map[string]interface{}, key string) int64 {
	switch v := body[key].(type) {
	case float64:
		return int64(math.Round(v))
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}
