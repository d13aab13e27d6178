package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/giftcraft/api/internal/domain"
)

// NotificationMessage is the JSON body consumed by the email dispatcher.
type NotificationMessage struct {
	Type           string         `json:"type"`
	OrderID        string         `json:"orderId"`
	RecipientName  string         `json:"recipientName,omitempty"`
	RecipientEmail string         `json:"recipientEmail"`
	Locale         string         `json:"locale,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
}

// PubSubNotificationPublisher publishes order notifications to a Pub/Sub topic.
type PubSubNotificationPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubNotificationPublisher constructs a publisher bound to topic.
func NewPubSubNotificationPublisher(topic *pubsub.Topic) (*PubSubNotificationPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub notification publisher: topic is required")
	}
	return &PubSubNotificationPublisher{topic: topic, marshal: json.Marshal}, nil
}

// Publish sends the notification and waits for the server id. dedupKey is
// forwarded as an attribute so consumers can drop redeliveries.
func (p *PubSubNotificationPublisher) Publish(ctx context.Context, dedupKey string, notification domain.Notification) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub notification publisher: not initialised")
	}
	if strings.TrimSpace(notification.RecipientEmail) == "" {
		return "", errors.New("pubsub notification publisher: recipient email is required")
	}

	data, err := p.marshal(NotificationMessage{
		Type:           string(notification.Type),
		OrderID:        notification.OrderID,
		RecipientName:  notification.RecipientName,
		RecipientEmail: notification.RecipientEmail,
		Locale:         notification.Locale,
		Data:           notification.Data,
	})
	if err != nil {
		return "", fmt.Errorf("marshal notification: %w", err)
	}

	attrs := make(map[string]string, 3)
	setAttr(attrs, "type", string(notification.Type))
	setAttr(attrs, "orderId", notification.OrderID)
	setAttr(attrs, "dedupKey", dedupKey)

	id, err := p.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs}).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish notification: %w", err)
	}
	return id, nil
}

// Stop flushes pending messages.
func (p *PubSubNotificationPublisher) Stop() {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
