package di

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/giftcraft/api/internal/payments"
	"github.com/giftcraft/api/internal/platform/config"
	"github.com/giftcraft/api/internal/repositories"
)

type emptyRegistry struct{}

func (emptyRegistry) Close(context.Context) error                { return nil }
func (emptyRegistry) Orders() repositories.OrderRepository       { return nil }
func (emptyRegistry) Products() repositories.ProductRepository   { return nil }
func (emptyRegistry) Carts() repositories.CartRepository         { return nil }
func (emptyRegistry) Users() repositories.UserRepository         { return nil }
func (emptyRegistry) Outbox() repositories.OutboxRepository      { return nil }
func (emptyRegistry) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

type nopGateway struct{}

func (nopGateway) KeyID() string { return "rzp_test" }
func (nopGateway) CreateOrder(context.Context, payments.CreateOrderRequest) (payments.GatewayOrder, error) {
	return payments.GatewayOrder{}, nil
}
func (nopGateway) FetchOrder(context.Context, string) (payments.GatewayOrder, error) {
	return payments.GatewayOrder{}, nil
}
func (nopGateway) Refund(context.Context, payments.RefundRequest) (payments.Refund, error) {
	return payments.Refund{}, nil
}
func (nopGateway) FetchRefund(context.Context, string) (payments.Refund, error) {
	return payments.Refund{}, nil
}
func (nopGateway) VerifyPaymentSignature(string, string, string) bool { return false }

func TestNewContainerRequiresRegistry(t *testing.T) {
	_, err := NewContainer(context.Background(), config.Config{}, nil, Adapters{Gateway: nopGateway{}})
	require.Error(t, err)
}

func TestNewContainerRequiresGateway(t *testing.T) {
	_, err := NewContainer(context.Background(), config.Config{}, emptyRegistry{}, Adapters{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "payment gateway")
}

func TestNewContainerPropagatesServiceErrors(t *testing.T) {
	_, err := NewContainer(context.Background(), config.Config{}, emptyRegistry{}, Adapters{Gateway: nopGateway{}})
	require.Error(t, err)
	require.True(t, strings.HasPrefix(err.Error(), "build order service"), err.Error())
}

func TestOrderPolicyFromConfig(t *testing.T) {
	policy := OrderPolicy(config.OrderConfig{
		AppName:               "GiftCraft",
		Currency:              "INR",
		OTPTTL:                72 * time.Hour,
		CancellationWindow:    24 * time.Hour,
		FreeShippingThreshold: 100000,
		ShippingFee:           5000,
		GiftWrapCharge:        5000,
	})

	require.Equal(t, "GiftCraft", policy.AppName)
	require.Equal(t, 72*time.Hour, policy.OTPTTL)
	require.Equal(t, 24*time.Hour, policy.CancellationWindow)
	require.Equal(t, int64(100000), policy.Pricing.FreeShippingThreshold)
	require.Equal(t, int64(5000), policy.Pricing.ShippingFee)
}
