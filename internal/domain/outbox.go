package domain

import "time"

// OutboxKind names a deferred side effect persisted alongside an order mutation.
type OutboxKind string

const (
	OutboxKindStockDecrement OutboxKind = "stock.decrement"
	OutboxKindCartClear      OutboxKind = "cart.clear"
	OutboxKindNotification   OutboxKind = "notification"
)

// OutboxStatus tracks the processing state of an outbox entry.
type OutboxStatus string

const (
	OutboxStatusPending OutboxStatus = "pending"
	OutboxStatusDone    OutboxStatus = "done"
	// OutboxStatusDead marks entries that exhausted their retry budget.
	OutboxStatusDead OutboxStatus = "dead"
	// OutboxStatusCancelled marks entries withdrawn before they were applied.
	OutboxStatusCancelled OutboxStatus = "cancelled"
)

// OutboxEntry is a durable side effect drained by the outbox processor.
type OutboxEntry struct {
	ID            string
	Kind          OutboxKind
	OrderID       string
	UserID        string
	StockLines    []StockLine
	Notification  *Notification
	Status        OutboxStatus
	Attempts      int
	LastError     string
	NextAttemptAt time.Time
	CreatedAt     time.Time
	ProcessedAt   *time.Time
}

// NotificationType identifies the email template the notification service renders.
type NotificationType string

const (
	NotificationOrderConfirmed NotificationType = "order.confirmed"
	NotificationPaymentFailed  NotificationType = "payment.failed"
	NotificationOrderCancelled NotificationType = "order.cancelled"
	NotificationOrderShipped   NotificationType = "order.shipped"
	NotificationDeliveryOTP    NotificationType = "order.delivery_otp"
	NotificationOrderDelivered NotificationType = "order.delivered"
)

// Notification is the payload handed to the external email dispatcher.
type Notification struct {
	Type           NotificationType
	OrderID        string
	RecipientName  string
	RecipientEmail string
	Locale         string
	Data           map[string]any
}
