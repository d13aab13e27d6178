package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNextStateTable(t *testing.T) {
	cases := []struct {
		name    string
		current OrderState
		event   OrderEvent
		want    OrderState
		wantErr bool
	}{
		{"verify pending", OrderState{OrderStatusPending, PaymentStatusPending}, OrderEventPaymentVerified, OrderState{OrderStatusConfirmed, PaymentStatusCompleted}, false},
		{"fail pending", OrderState{OrderStatusPending, PaymentStatusPending}, OrderEventPaymentFailed, OrderState{OrderStatusPaymentFailed, PaymentStatusFailed}, false},
		{"verify twice", OrderState{OrderStatusConfirmed, PaymentStatusCompleted}, OrderEventPaymentVerified, OrderState{}, true},
		{"fail after confirm", OrderState{OrderStatusConfirmed, PaymentStatusCompleted}, OrderEventPaymentFailed, OrderState{}, true},
		{"ship confirmed", OrderState{OrderStatusConfirmed, PaymentStatusCompleted}, OrderEventShip, OrderState{OrderStatusShipped, PaymentStatusCompleted}, false},
		{"ship pending", OrderState{OrderStatusPending, PaymentStatusPending}, OrderEventShip, OrderState{}, true},
		{"deliver shipped", OrderState{OrderStatusShipped, PaymentStatusCompleted}, OrderEventDeliver, OrderState{OrderStatusDelivered, PaymentStatusCompleted}, false},
		{"cancel pending keeps payment", OrderState{OrderStatusPending, PaymentStatusPending}, OrderEventCancel, OrderState{OrderStatusCancelled, PaymentStatusPending}, false},
		{"cancel processing", OrderState{OrderStatusProcessing, PaymentStatusCompleted}, OrderEventCancel, OrderState{OrderStatusCancelled, PaymentStatusCompleted}, false},
		{"cancel cancelled", OrderState{OrderStatusCancelled, PaymentStatusCompleted}, OrderEventCancel, OrderState{}, true},
		{"cancel shipped", OrderState{OrderStatusShipped, PaymentStatusCompleted}, OrderEventCancel, OrderState{}, true},
		{"refund completed", OrderState{OrderStatusCancelled, PaymentStatusCompleted}, OrderEventRefundCompleted, OrderState{OrderStatusRefunded, PaymentStatusRefunded}, false},
		{"refund completed again", OrderState{OrderStatusRefunded, PaymentStatusRefunded}, OrderEventRefundCompleted, OrderState{OrderStatusRefunded, PaymentStatusRefunded}, false},
		{"refund failed", OrderState{OrderStatusCancelled, PaymentStatusCompleted}, OrderEventRefundFailed, OrderState{OrderStatusCancelled, PaymentStatusFailed}, false},
		{"refund on unpaid cancel", OrderState{OrderStatusCancelled, PaymentStatusPending}, OrderEventRefundCompleted, OrderState{}, true},
		{"unknown event", OrderState{OrderStatusPending, PaymentStatusPending}, OrderEvent("teleport"), OrderState{}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NextState(tc.current, tc.event)
			if tc.wantErr {
				require.Error(t, err)
				require.True(t, errors.Is(err, ErrInvalidTransition))
				require.Equal(t, tc.current, got)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestOrderApplyAppendsHistory(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	order := Order{Status: OrderStatusPending, Payment: OrderPayment{Status: PaymentStatusPending}}

	require.NoError(t, order.Apply(OrderEventPaymentVerified, now, "payment verified", "system"))
	require.NoError(t, order.Apply(OrderEventShip, now.Add(time.Hour), "", "admin-1"))

	require.Equal(t, OrderStatusShipped, order.Status)
	require.Equal(t, PaymentStatusCompleted, order.Payment.Status)
	require.Len(t, order.StatusHistory, 2)
	require.Equal(t, OrderStatusConfirmed, order.StatusHistory[0].Status)
	require.Equal(t, "admin-1", order.StatusHistory[1].UpdatedBy)

	err := order.Apply(OrderEventPaymentFailed, now.Add(2*time.Hour), "", "system")
	require.Error(t, err)
	require.Len(t, order.StatusHistory, 2, "rejected events must not touch history")
}

func TestPricingPolicy(t *testing.T) {
	policy := DefaultPricingPolicy()
	items := []OrderItem{
		NewLineItem(Product{ID: "p1", Price: 60000, DiscountPrice: 50000}, 2, PurchaseTypeDirect),
		NewLineItem(Product{ID: "p2", Price: 100000}, 1, PurchaseTypeDirect),
	}

	pricing := policy.Price(items, OrderDiscount{}, false)
	require.Equal(t, int64(200000), pricing.Subtotal)
	require.Zero(t, pricing.Shipping)
	require.Equal(t, int64(200000), pricing.Total)
	require.True(t, pricing.Balanced())

	small := policy.Price([]OrderItem{NewLineItem(Product{ID: "p3", Price: 100000}, 1, PurchaseTypeCart)}, OrderDiscount{Amount: 1000}, true)
	require.Equal(t, policy.ShippingFee, small.Shipping, "exactly the threshold is not free")
	require.Equal(t, int64(100000-1000+5000+5000), small.Total)
	require.True(t, small.Balanced())
}

func TestDeliveryOTPUsable(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	otp := &DeliveryOTP{Code: "123456", ExpiresAt: now.Add(time.Hour)}
	require.True(t, otp.Usable(now))
	require.False(t, otp.Usable(now.Add(2*time.Hour)))

	consumed := now
	otp.ConsumedAt = &consumed
	require.False(t, otp.Usable(now))

	var missing *DeliveryOTP
	require.False(t, missing.Usable(now))
}
