package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/giftcraft/api/internal/platform/firestore"
	"github.com/giftcraft/api/internal/repositories"
)

// Registry bundles the Firestore repositories behind repositories.Registry.
type Registry struct {
	provider *pfirestore.Provider
	uow      *pfirestore.UnitOfWork
	orders   *OrderRepository
	products *ProductRepository
	carts    *CartRepository
	users    *UserRepository
	outbox   *OutboxRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds every repository on top of the shared provider.
func NewRegistry(provider *pfirestore.Provider, txOpts ...pfirestore.TxOption) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, err
	}
	carts, err := NewCartRepository(provider)
	if err != nil {
		return nil, err
	}
	users, err := NewUserRepository(provider)
	if err != nil {
		return nil, err
	}
	outbox, err := NewOutboxRepository(provider)
	if err != nil {
		return nil, err
	}
	return &Registry{
		provider: provider,
		uow:      pfirestore.NewUnitOfWork(provider, txOpts...),
		orders:   orders,
		products: products,
		carts:    carts,
		users:    users,
		outbox:   outbox,
	}, nil
}

func (r *Registry) Orders() repositories.OrderRepository     { return r.orders }
func (r *Registry) Products() repositories.ProductRepository { return r.products }
func (r *Registry) Carts() repositories.CartRepository       { return r.carts }
func (r *Registry) Users() repositories.UserRepository       { return r.users }
func (r *Registry) Outbox() repositories.OutboxRepository    { return r.outbox }

// RunInTx delegates to the Firestore unit of work.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.uow.RunInTx(ctx, fn)
}

// Close releases the Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}
