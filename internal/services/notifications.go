package services

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/text/language"

	domain "github.com/giftcraft/api/internal/domain"
	"github.com/giftcraft/api/internal/platform/requestctx"
)

// notificationLocale picks the request language, then the user's preference, then English.
func notificationLocale(ctx context.Context, user domain.UserProfile) string {
	if tag := requestctx.Locale(ctx); tag != language.Und {
		base, _ := tag.Base()
		return base.String()
	}
	if pref := strings.TrimSpace(user.PreferredLanguage); pref != "" {
		if tag, err := language.Parse(pref); err == nil {
			base, _ := tag.Base()
			return base.String()
		}
	}
	return language.English.String()
}

func recipientFor(order domain.Order, user domain.UserProfile) (name, email string) {
	name = strings.TrimSpace(order.ShippingAddress.FullName)
	if name == "" {
		name = strings.TrimSpace(user.Name)
	}
	email = strings.TrimSpace(order.ShippingAddress.Email)
	if email == "" {
		email = strings.TrimSpace(user.Email)
	}
	return name, email
}

// notificationEntry builds an outbox entry for a templated email. It returns
// false when the order has no reachable recipient.
func notificationEntry(ctx context.Context, order domain.Order, user domain.UserProfile, kind domain.NotificationType, now time.Time, data map[string]any) (domain.OutboxEntry, bool) {
	name, email := recipientFor(order, user)
	if email == "" {
		return domain.OutboxEntry{}, false
	}
	if data == nil {
		data = make(map[string]any)
	}
	data["total"] = order.Pricing.Total
	data["status"] = string(order.Status)

	return domain.OutboxEntry{
		ID:      ulid.Make().String(),
		Kind:    domain.OutboxKindNotification,
		OrderID: order.ID,
		UserID:  order.UserID,
		Notification: &domain.Notification{
			Type:           kind,
			OrderID:        order.ID,
			RecipientName:  name,
			RecipientEmail: email,
			Locale:         notificationLocale(ctx, user),
			Data:           data,
		},
		Status:        domain.OutboxStatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
	}, true
}

func stockEntryID(orderID string) string {
	return orderID + ":" + string(domain.OutboxKindStockDecrement)
}

func stockDecrementEntry(order domain.Order, now time.Time) domain.OutboxEntry {
	return domain.OutboxEntry{
		ID:            stockEntryID(order.ID),
		Kind:          domain.OutboxKindStockDecrement,
		OrderID:       order.ID,
		UserID:        order.UserID,
		StockLines:    stockLines(order.Items),
		Status:        domain.OutboxStatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
	}
}

func cartClearEntry(order domain.Order, now time.Time) domain.OutboxEntry {
	return domain.OutboxEntry{
		ID:            order.ID + ":" + string(domain.OutboxKindCartClear),
		Kind:          domain.OutboxKindCartClear,
		OrderID:       order.ID,
		UserID:        order.UserID,
		Status:        domain.OutboxStatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
	}
}
