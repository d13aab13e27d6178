package services

import (
	"context"
	"time"

	domain "github.com/giftcraft/api/internal/domain"
	"github.com/giftcraft/api/internal/payments"
	"github.com/giftcraft/api/internal/platform/cache"
	"github.com/giftcraft/api/internal/platform/storage"
	"github.com/giftcraft/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Order        = domain.Order
	OrderStatus  = domain.OrderStatus
	RefundStatus = domain.RefundStatus
	Address      = domain.Address
	Pagination   = domain.Pagination
)

// OrderService drives the order/payment lifecycle for customers, couriers and admins.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error)
	CreateGatewayOrder(ctx context.Context, orderID, userID string) (GatewayOrderResult, error)
	VerifyPayment(ctx context.Context, cmd VerifyPaymentCommand) (VerifyPaymentResult, error)
	CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	MarkProcessing(ctx context.Context, cmd OrderActionCommand) (Order, error)
	MarkShipped(ctx context.Context, cmd OrderActionCommand) (Order, error)
	SendDeliveryOTP(ctx context.Context, cmd OrderActionCommand) (DeliveryOTPResult, error)
	VerifyDeliveryOTP(ctx context.Context, orderID, code string) (Order, error)
	ListUserOrders(ctx context.Context, userID string, page Pagination) (domain.CursorPage[Order], error)
	GetUserOrder(ctx context.Context, orderID, userID string) (Order, error)
	ListOrders(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[Order], error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
}

// RefundService reconciles refunds with the payment gateway.
type RefundService interface {
	VerifyRefundStatus(ctx context.Context, orderID string) (RefundVerification, error)
	UpdateRefundStatus(ctx context.Context, cmd UpdateRefundStatusCommand) (Order, error)
	BulkUpdateRefundStatus(ctx context.Context, cmd BulkRefundUpdateCommand) ([]BulkRefundOutcome, error)
	SyncRefundStatuses(ctx context.Context) (RefundSyncReport, error)
	ListRefundedOrders(ctx context.Context) (RefundDashboard, error)
	ApplyWebhookEvent(ctx context.Context, event RefundWebhookEvent) (WebhookResult, error)
}

// OutboxProcessor drains durable side effects.
type OutboxProcessor interface {
	ProcessDue(ctx context.Context) (OutboxRunStats, error)
}

// PaymentGateway is the subset of the gateway adapter the order engine calls.
type PaymentGateway interface {
	KeyID() string
	CreateOrder(ctx context.Context, req payments.CreateOrderRequest) (payments.GatewayOrder, error)
	FetchOrder(ctx context.Context, gatewayOrderID string) (payments.GatewayOrder, error)
	Refund(ctx context.Context, req payments.RefundRequest) (payments.Refund, error)
	FetchRefund(ctx context.Context, refundID string) (payments.Refund, error)
	VerifyPaymentSignature(gatewayOrderID, gatewayPaymentID, signature string) bool
}

// NotificationPublisher hands notifications to the email dispatcher.
type NotificationPublisher interface {
	Publish(ctx context.Context, dedupKey string, notification domain.Notification) (string, error)
}

// ReportWriter persists job reports.
type ReportWriter interface {
	WriteReport(ctx context.Context, kind storage.ReportKind, runAt time.Time, report any) (string, error)
}

// CacheInvalidator drops cached views after writes.
type CacheInvalidator interface {
	Delete(ctx context.Context, keys ...cache.Key) error
}

// OrderPolicy carries the configurable order rules.
type OrderPolicy struct {
	AppName            string
	Currency           string
	OTPTTL             time.Duration
	CancellationWindow time.Duration
	Pricing            domain.PricingPolicy
}

// Commands --------------------------------------------------------------------

// OrderItemInput is a requested line item for direct purchases.
type OrderItemInput struct {
	ProductID        string
	ColorID          string
	SizeID           string
	Quantity         int
	PersonalizedName string
}

// CreateOrderCommand places a new order. Cart purchases read their items from the user's cart.
type CreateOrderCommand struct {
	UserID           string
	PurchaseType     domain.PurchaseType
	Items            []OrderItemInput
	ShippingAddress  Address
	BillingAddress   *Address
	IsGift           bool
	GiftMessage      string
	GiftWrap         bool
	CustomerNotes    string
	PersonalizedName string
}

// CreateOrderResult is returned to the checkout page.
type CreateOrderResult struct {
	OrderID string
	Total   int64
}

// GatewayOrderResult carries what the checkout widget needs.
type GatewayOrderResult struct {
	OrderID        string
	GatewayOrderID string
	Amount         int64
	Currency       string
	KeyID          string
}

// VerifyPaymentCommand carries the checkout callback fields.
type VerifyPaymentCommand struct {
	OrderID          string
	UserID           string
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
}

// VerifyPaymentResult is returned once the payment is confirmed.
type VerifyPaymentResult struct {
	OrderID     string
	Status      OrderStatus
	DeliveryOTP string
	PackageID   string
}

// CancelOrderCommand cancels an order. UserID scopes the lookup for customers
// and is empty for admin cancellations.
type CancelOrderCommand struct {
	OrderID     string
	UserID      string
	CancelledBy domain.CancelledBy
	ActorID     string
	Reason      string
}

// OrderActionCommand identifies an admin or courier action on an order.
type OrderActionCommand struct {
	OrderID string
	ActorID string
	Note    string
}

// DeliveryOTPResult reports where the delivery code was sent.
type DeliveryOTPResult struct {
	OrderID   string
	SentTo    string
	ExpiresAt time.Time
	Rotated   bool
}

// UpdateRefundStatusCommand sets a refund status manually.
type UpdateRefundStatusCommand struct {
	OrderID          string
	Status           RefundStatus
	RefundID         string
	RefundAmount     *int64
	Notes            string
	SkipVerification bool
	ActorID          string
}

// BulkRefundUpdateCommand applies one refund status to many orders.
type BulkRefundUpdateCommand struct {
	OrderIDs         []string
	Status           RefundStatus
	SkipVerification bool
	ActorID          string
}

// BulkRefundOutcome is the per-order result of a bulk update.
type BulkRefundOutcome struct {
	OrderID string       `json:"orderId"`
	Success bool         `json:"success"`
	Status  RefundStatus `json:"status,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// RefundVerification compares the stored refund status with the gateway.
type RefundVerification struct {
	OrderID          string       `json:"orderId"`
	RefundID         string       `json:"refundId"`
	StoredStatus     RefundStatus `json:"storedStatus"`
	GatewayStatus    string       `json:"gatewayStatus"`
	ExpectedStatus   RefundStatus `json:"expectedStatus"`
	InSync           bool         `json:"inSync"`
	GatewayAmount    int64        `json:"gatewayAmount"`
	GatewayCreatedAt *time.Time   `json:"gatewayCreatedAt,omitempty"`
}

// RefundSyncFailure records one order the sync could not reconcile.
type RefundSyncFailure struct {
	OrderID string `json:"orderId"`
	Error   string `json:"error"`
}

// RefundSyncDetail records the outcome for one outstanding refund.
type RefundSyncDetail struct {
	OrderID  string       `json:"orderId"`
	RefundID string       `json:"refundId"`
	From     RefundStatus `json:"from"`
	To       RefundStatus `json:"to"`
	Action   string       `json:"action"`
}

// RefundSyncReport tallies a reconciliation run.
type RefundSyncReport struct {
	RunAt           time.Time           `json:"runAt"`
	Total           int                 `json:"total"`
	Updated         int                 `json:"updated"`
	AlreadyUpToDate int                 `json:"alreadyUpToDate"`
	Failed          []RefundSyncFailure `json:"failed"`
	Details         []RefundSyncDetail  `json:"details"`
	ReportURI       string              `json:"reportUri,omitempty"`
}

// RefundSummary is the dashboard projection of a cancelled order.
type RefundSummary struct {
	OrderID         string       `json:"orderId"`
	UserID          string       `json:"userId"`
	OrderStatus     OrderStatus  `json:"orderStatus"`
	RefundStatus    RefundStatus `json:"refundStatus"`
	RefundID        string       `json:"refundId,omitempty"`
	RefundAmount    int64        `json:"refundAmount"`
	Total           int64        `json:"total"`
	Reason          string       `json:"reason,omitempty"`
	RefundError     string       `json:"refundError,omitempty"`
	CustomerName    string       `json:"customerName,omitempty"`
	CustomerEmail   string       `json:"customerEmail,omitempty"`
	CancelledAt     time.Time    `json:"cancelledAt"`
	RefundedAt      *time.Time   `json:"refundedAt,omitempty"`
	SuggestedStatus string       `json:"suggestedStatus,omitempty"`
	Mismatch        string       `json:"mismatch,omitempty"`
}

// RefundDashboardSummary counts orders per category.
type RefundDashboardSummary struct {
	Total      int   `json:"total"`
	Pending    int   `json:"pending"`
	Initiated  int   `json:"initiated"`
	Completed  int   `json:"completed"`
	Failed     int   `json:"failed"`
	Mismatched int   `json:"mismatched"`
	Refunded   int64 `json:"refundedAmount"`
}

// RefundDashboard groups cancelled orders by refund state.
type RefundDashboard struct {
	Pending     []RefundSummary        `json:"pending"`
	Initiated   []RefundSummary        `json:"initiated"`
	Completed   []RefundSummary        `json:"completed"`
	Failed      []RefundSummary        `json:"failed"`
	Mismatched  []RefundSummary        `json:"mismatched"`
	Summary     RefundDashboardSummary `json:"summary"`
	GeneratedAt time.Time              `json:"generatedAt"`
}

// RefundWebhookEvent is the parsed gateway refund notification.
type RefundWebhookEvent struct {
	Event       string
	RefundID    string
	PaymentID   string
	Amount      int64
	Description string
}

// WebhookResult reports what the webhook changed.
type WebhookResult struct {
	OrderID string
	Applied bool
	Reason  string
}

// OutboxRunStats tallies one drain pass.
type OutboxRunStats struct {
	Processed int
	Retried   int
	Dead      int
}
