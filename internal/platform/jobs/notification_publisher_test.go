package jobs

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/giftcraft/api/internal/domain"
)

func TestPubSubNotificationPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "order-notifications")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewPubSubNotificationPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubNotificationPublisher: %v", err)
	}
	defer publisher.Stop()

	notification := domain.Notification{
		Type:           domain.NotificationOrderConfirmed,
		OrderID:        "ORD-1700000000000-ABCDEFGHI",
		RecipientName:  "Asha",
		RecipientEmail: "asha@example.com",
		Locale:         "hi",
		Data:           map[string]any{"packageId": "GIFTCRAFT-123456"},
	}
	if _, err := publisher.Publish(ctx, "entry-1", notification); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload NotificationMessage
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Type != "order.confirmed" || payload.RecipientEmail != "asha@example.com" || payload.Data["packageId"] != "GIFTCRAFT-123456" {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if attr := messages[0].Attributes["dedupKey"]; attr != "entry-1" {
		t.Fatalf("expected dedup key attribute, got %q", attr)
	}
}

func TestPubSubNotificationPublisherRequiresRecipient(t *testing.T) {
	publisher := &PubSubNotificationPublisher{topic: &pubsub.Topic{}, marshal: json.Marshal}
	if _, err := publisher.Publish(context.Background(), "x", domain.Notification{Type: domain.NotificationOrderShipped}); err == nil {
		t.Fatal("expected missing recipient error")
	}
}
