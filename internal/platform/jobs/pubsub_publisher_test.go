package jobs

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/oakline-commerce/api/internal/domain"
	"github.com/oakline-commerce/api/internal/services"
)

func TestPubSubOrderEventPublisherPublishesMessage(t *testing.T) {
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

	topic, err := client.CreateTopic(ctx, "order-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewPubSubOrderEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubOrderEventPublisher: %v", err)
	}

	occurredAt := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	event := services.OrderEvent{
		Kind:        domain.OrderEventShipped,
		OrderID:     "ord-001",
		OrderNumber: "ORD-20260314-000001",
		UserID:      "user-1",
		Status:      domain.OrderStatusShipped,
		Amount:      5998,
		Currency:    "INR",
		OccurredAt:  occurredAt,
	}

	if err := publisher.PublishOrderEvent(ctx, event); err != nil {
		t.Fatalf("PublishOrderEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload struct {
		Kind          string    `json:"kind"`
		OrderID       string    `json:"orderId"`
		OrderNumber   string    `json:"orderNumber"`
		Status        string    `json:"status"`
		Amount        int64     `json:"amount"`
		DisplayAmount string    `json:"displayAmount"`
		Currency      string    `json:"currency"`
		OccurredAt    time.Time `json:"occurredAt"`
	}
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Kind != "order.shipped" || payload.OrderID != "ord-001" {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if payload.Amount != 5998 || payload.Currency != "INR" {
		t.Fatalf("unexpected pricing in payload %#v", payload)
	}
	if !strings.Contains(payload.DisplayAmount, "59.98") {
		t.Fatalf("display amount %q does not carry the major-unit figure", payload.DisplayAmount)
	}
	if !payload.OccurredAt.Equal(occurredAt) {
		t.Fatalf("unexpected occurredAt %s", payload.OccurredAt)
	}
	if attr := messages[0].Attributes["kind"]; attr != "order.shipped" {
		t.Fatalf("expected kind attribute, got %q", attr)
	}
	if attr := messages[0].Attributes["orderNumber"]; attr != "ORD-20260314-000001" {
		t.Fatalf("expected order number attribute, got %q", attr)
	}
	if _, ok := messages[0].Attributes["userId"]; ok {
		t.Fatalf("user id must not be exposed as an attribute")
	}
}

func TestNewPubSubOrderEventPublisherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubOrderEventPublisher(nil); err == nil {
		t.Fatal("expected error for nil topic")
	}
}
