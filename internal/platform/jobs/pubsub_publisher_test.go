package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/shopspring/decimal"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/nax-handle/crm-backend/internal/services"
)

func newTestTopic(t *testing.T, ctx context.Context) (*pstest.Server, *pubsub.Topic) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, "order-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	return srv, topic
}

func TestPubSubOrderEventPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv, topic := newTestTopic(t, ctx)

	publisher, err := NewPubSubOrderEventPublisher(topic, "crm-backend")
	if err != nil {
		t.Fatalf("NewPubSubOrderEventPublisher: %v", err)
	}
	defer publisher.Stop()

	event := services.OrderEvent{
		Type:           "order.status_changed",
		OrderID:        "ord_123",
		CustomerID:     "cus_9",
		PreviousStatus: "pending",
		Status:         "processing",
		TotalAmount:    decimal.RequireFromString("1250000"),
		ActorID:        "staff-1",
		OccurredAt:     time.Date(2025, 3, 15, 3, 0, 0, 0, time.UTC),
	}
	if _, err := publisher.PublishOrderEvent(ctx, event); err != nil {
		t.Fatalf("PublishOrderEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload services.OrderEvent
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.OrderID != event.OrderID || payload.PreviousStatus != "pending" || !payload.TotalAmount.Equal(event.TotalAmount) {
		t.Fatalf("unexpected payload %#v", payload)
	}
	attrs := messages[0].Attributes
	if attrs["type"] != "order.status_changed" || attrs["orderId"] != "ord_123" || attrs["source"] != "crm-backend" {
		t.Fatalf("unexpected attributes %v", attrs)
	}
}

func TestPubSubOrderEventPublisherOmitsEmptyAttributes(t *testing.T) {
	ctx := context.Background()
	srv, topic := newTestTopic(t, ctx)

	publisher, err := NewPubSubOrderEventPublisher(topic, " ")
	if err != nil {
		t.Fatalf("NewPubSubOrderEventPublisher: %v", err)
	}
	defer publisher.Stop()

	if _, err := publisher.PublishOrderEvent(ctx, services.OrderEvent{Type: "order.deleted", OrderID: "ord_1"}); err != nil {
		t.Fatalf("PublishOrderEvent: %v", err)
	}
	attrs := srv.Messages()[0].Attributes
	if _, ok := attrs["source"]; ok {
		t.Fatalf("source attribute should not be present")
	}
	if _, ok := attrs["status"]; ok {
		t.Fatalf("status attribute should not be present")
	}
}

func TestNewPubSubOrderEventPublisherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubOrderEventPublisher(nil, "crm"); err == nil {
		t.Fatalf("expected error for nil topic")
	}
}
