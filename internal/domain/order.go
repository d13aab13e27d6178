package domain

import "time"

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order was placed and awaits payment.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaymentFailed indicates payment verification failed.
	OrderStatusPaymentFailed OrderStatus = "payment_failed"
	// OrderStatusConfirmed indicates payment was verified.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusProcessing indicates the order is being prepared for dispatch.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the order has been handed to the courier.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates delivery was confirmed with the OTP.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was cancelled.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusRefunded indicates the gateway confirmed the refund.
	OrderStatusRefunded OrderStatus = "refunded"
)

// PaymentStatus tracks the payment sub-record independently of the order status.
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusCompleted  PaymentStatus = "completed"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusRefunded   PaymentStatus = "refunded"
)

// RefundStatus tracks refund progress for cancelled orders.
type RefundStatus string

const (
	RefundStatusPending    RefundStatus = "pending"
	RefundStatusInitiated  RefundStatus = "initiated"
	RefundStatusProcessing RefundStatus = "processing"
	RefundStatusCompleted  RefundStatus = "completed"
	RefundStatusFailed     RefundStatus = "failed"
)

// PurchaseType records where the order line items came from.
type PurchaseType string

const (
	PurchaseTypeCart   PurchaseType = "cart"
	PurchaseTypeDirect PurchaseType = "direct"
)

// CancelledBy identifies the actor class that cancelled an order.
type CancelledBy string

const (
	CancelledByCustomer CancelledBy = "customer"
	CancelledByAdmin    CancelledBy = "admin"
	CancelledBySystem   CancelledBy = "system"
)

// PaymentMethodRazorpay is the only payment method the engine supports.
const PaymentMethodRazorpay = "razorpay"

// Order is the aggregate root for the order/payment lifecycle. Monetary fields
// are stored in the smallest currency unit (paise).
type Order struct {
	ID              string
	UserID          string
	PurchaseType    PurchaseType
	Items           []OrderItem
	Pricing         OrderPricing
	Status          OrderStatus
	StatusHistory   []StatusHistoryEntry
	Payment         OrderPayment
	Cancellation    *OrderCancellation
	ShippingAddress Address
	BillingAddress  Address
	Shipping        OrderShipping
	Gift            OrderGift
	Notes           OrderNotes
	DeliveryOTP     *DeliveryOTP
	PackageID       string
	// StockCommitted is set when the stock decrement for the order has been
	// scheduled. Restores only happen for committed orders.
	StockCommitted bool
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      *time.Time
}

// OrderItem is a line item with the price snapshot captured at creation.
type OrderItem struct {
	ProductID        string
	ColorID          string
	SizeID           string
	Name             string
	Description      string
	SKU              string
	Images           []string
	Quantity         int
	IsPersonalized   bool
	PersonalizedName string
	PriceAtPurchase  int64
	Subtotal         int64
	AddedFrom        PurchaseType
}

// OrderPricing holds the rolled-up monetary fields for an order.
type OrderPricing struct {
	Subtotal        int64
	Discount        OrderDiscount
	Shipping        int64
	GiftWrapCharges int64
	Total           int64
}

// OrderDiscount records an applied discount.
type OrderDiscount struct {
	Amount   int64
	CouponID string
}

// StatusHistoryEntry is one append-only audit record of a status change.
type StatusHistoryEntry struct {
	Status    OrderStatus
	Timestamp time.Time
	Note      string
	UpdatedBy string
}

// OrderPayment stores payment state and gateway references.
type OrderPayment struct {
	Status        PaymentStatus
	Method        string
	Gateway       GatewayReference
	Verified      bool
	PaidAt        *time.Time
	TransactionID string
}

// GatewayReference holds the identifiers issued by the payment gateway.
type GatewayReference struct {
	OrderID   string
	PaymentID string
	Signature string
}

// OrderCancellation is populated once an order is cancelled.
type OrderCancellation struct {
	CancelledAt  time.Time
	CancelledBy  CancelledBy
	Reason       string
	RefundStatus RefundStatus
	RefundID     string
	RefundAmount int64
	RefundedAt   *time.Time
	RefundError  string
}

// OrderShipping records dispatch and delivery timestamps.
type OrderShipping struct {
	ShippedAt   *time.Time
	DeliveredAt *time.Time
}

// OrderGift captures gift options selected at checkout.
type OrderGift struct {
	IsGift   bool
	Message  string
	GiftWrap bool
}

// OrderNotes stores free-text notes.
type OrderNotes struct {
	Customer string
	Internal string
}

// DeliveryOTP is the single-use code the recipient hands to the courier.
type DeliveryOTP struct {
	Code       string
	ExpiresAt  time.Time
	ConsumedAt *time.Time
}

// Usable reports whether the code can still confirm a delivery at now.
func (o *DeliveryOTP) Usable(now time.Time) bool {
	if o == nil || o.Code == "" || o.ConsumedAt != nil {
		return false
	}
	return o.ExpiresAt.IsZero() || now.Before(o.ExpiresAt)
}

// Address represents postal address structures shared by user and order layers.
type Address struct {
	FullName     string
	Phone        string
	Email        string
	Area         string
	Street       string
	AddressLine1 string
	City         string
	State        string
	Pincode      string
	Country      string
	Landmark     string
	Instructions string
}

// IsZero reports whether no address field is set.
func (a Address) IsZero() bool {
	return a == Address{}
}

// State returns the joint lifecycle state of the order.
func (o Order) State() OrderState {
	return OrderState{Order: o.Status, Payment: o.Payment.Status}
}

// RefundStatusOrEmpty returns the refund status or "" when the order has no cancellation.
func (o Order) RefundStatusOrEmpty() RefundStatus {
	if o.Cancellation == nil {
		return ""
	}
	return o.Cancellation.RefundStatus
}
