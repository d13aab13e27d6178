package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/giftcraft/api/internal/domain"
	"github.com/giftcraft/api/internal/platform/cache"
	"github.com/giftcraft/api/internal/platform/config"
	"github.com/giftcraft/api/internal/repositories"
	"github.com/giftcraft/api/internal/services"
	"go.opentelemetry.io/otel/metric"
)

// Services bundles the service-layer contracts that handlers and background
// workers rely upon. Concrete implementations are assembled in NewContainer.
type Services struct {
	Orders  services.OrderService
	Refunds services.RefundService
	Outbox  services.OutboxProcessor
}

// Adapters carries the infrastructure clients built by the caller. Reports,
// Cache and Meter are optional.
type Adapters struct {
	Gateway   services.PaymentGateway
	Publisher services.NotificationPublisher
	Reports   services.ReportWriter
	Cache     *cache.Cache
	Meter     metric.Meter
	Logger    func(ctx context.Context, event string, fields map[string]any)
	Clock     func() time.Time
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides
// the Firestore registry, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, adapters Adapters) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	if adapters.Gateway == nil {
		return nil, errors.New("payment gateway is required")
	}

	svc, err := buildServices(ctx, cfg, reg, adapters)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

// OrderPolicy maps the order configuration onto the service policy.
func OrderPolicy(cfg config.OrderConfig) services.OrderPolicy {
	return services.OrderPolicy{
		AppName:            cfg.AppName,
		Currency:           cfg.Currency,
		OTPTTL:             cfg.OTPTTL,
		CancellationWindow: cfg.CancellationWindow,
		Pricing: domain.PricingPolicy{
			FreeShippingThreshold: cfg.FreeShippingThreshold,
			ShippingFee:           cfg.ShippingFee,
			GiftWrapCharge:        cfg.GiftWrapCharge,
		},
	}
}

func buildServices(_ context.Context, cfg config.Config, reg repositories.Registry, adapters Adapters) (Services, error) {
	clock := adapters.Clock
	if clock == nil {
		clock = time.Now
	}

	var invalidator services.CacheInvalidator
	if adapters.Cache != nil {
		invalidator = adapters.Cache
	}

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     reg.Orders(),
		Products:   reg.Products(),
		Carts:      reg.Carts(),
		Users:      reg.Users(),
		Outbox:     reg.Outbox(),
		UnitOfWork: reg,
		Gateway:    adapters.Gateway,
		Cache:      invalidator,
		Policy:     OrderPolicy(cfg.Orders),
		Clock:      clock,
		Logger:     adapters.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}

	refundSvc, err := services.NewRefundService(services.RefundServiceDeps{
		Orders:     reg.Orders(),
		UnitOfWork: reg,
		Gateway:    adapters.Gateway,
		Reports:    adapters.Reports,
		Cache:      adapters.Cache,
		Clock:      clock,
		Logger:     adapters.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build refund service: %w", err)
	}

	svc := Services{Orders: orderSvc, Refunds: refundSvc}

	if adapters.Publisher != nil {
		worker, err := services.NewOutboxProcessor(services.OutboxProcessorDeps{
			Outbox:      reg.Outbox(),
			Products:    reg.Products(),
			Carts:       reg.Carts(),
			UnitOfWork:  reg,
			Publisher:   adapters.Publisher,
			BatchSize:   cfg.Outbox.BatchSize,
			MaxAttempts: cfg.Outbox.MaxAttempts,
			BaseBackoff: cfg.Outbox.BaseBackoff,
			Clock:       clock,
			Logger:      adapters.Logger,
			Meter:       adapters.Meter,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build outbox processor: %w", err)
		}
		svc.Outbox = worker
	}

	return svc, nil
}
