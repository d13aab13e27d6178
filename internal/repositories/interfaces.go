package repositories

import (
	"context"
	"time"

	domain "github.com/giftcraft/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Products() ProductRepository
	Carts() CartRepository
	Users() UserRepository
	Outbox() OutboxRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
// Reads issued through repositories inside fn must happen before the first write.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// StatusGuard is the precondition of a conditional order write: the stored
// order must still be in one of Statuses and carry Version.
type StatusGuard struct {
	Statuses []domain.OrderStatus
	Version  int64
}

// OrderRepository persists the order aggregate.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	// Update writes the order only when the stored document satisfies guard and
	// bumps the stored version. A failed guard returns a conflict error.
	Update(ctx context.Context, order domain.Order, guard StatusGuard) (domain.Order, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByRefundID(ctx context.Context, refundID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	// ListWithCancellation returns every non-deleted order that carries a cancellation record.
	ListWithCancellation(ctx context.Context) ([]domain.Order, error)
}

// ProductRepository reads catalog products and adjusts their stock counters.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	// AdjustStock applies signed deltas to the stock counters of the listed products.
	AdjustStock(ctx context.Context, lines []domain.StockLine, sign int) error
}

// CartRepository reads and clears the user's cart.
type CartRepository interface {
	Get(ctx context.Context, userID string) (domain.Cart, error)
	Clear(ctx context.Context, userID string) error
}

// UserRepository reads user contact data and backfills missing fields.
type UserRepository interface {
	FindByID(ctx context.Context, userID string) (domain.UserProfile, error)
	Update(ctx context.Context, profile domain.UserProfile) error
}

// OutboxRepository persists deferred side effects.
type OutboxRepository interface {
	Enqueue(ctx context.Context, entries ...domain.OutboxEntry) error
	Get(ctx context.Context, entryID string) (domain.OutboxEntry, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.OutboxEntry, error)
	MarkDone(ctx context.Context, entryID string, processedAt time.Time) error
	MarkFailed(ctx context.Context, entry domain.OutboxEntry) error
}

// Filter DTOs shared across repositories ------------------------------------

// OrderListFilter narrows order listings. An empty UserID lists every user's orders.
type OrderListFilter struct {
	UserID     string
	Status     []domain.OrderStatus
	Pagination domain.Pagination
}
