package jobs

import (
	"context"
	"errors"
	"strings"
	"testing"

	"cloud.google.com/go/pubsub"

	"github.com/vesoko/marketplace-api/internal/services"
)

func TestNewPubSubSettlementPublisherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubSettlementPublisher(nil); err == nil {
		t.Fatal("expected error without topic")
	}
}

func TestPublishSettlementComputedRejectsEmptyCart(t *testing.T) {
	p := &PubSubSettlementPublisher{topic: &pubsub.Topic{}, marshal: func(any) ([]byte, error) {
		t.Fatal("marshal should not run for an invalid event")
		return nil, nil
	}}

	if _, err := p.PublishSettlementComputed(context.Background(), services.SettlementComputedMessage{CartID: "   "}); err == nil {
		t.Fatal("expected error for blank cart id")
	}
}

func TestPublishSettlementComputedSurfacesEncodeFailure(t *testing.T) {
	p := &PubSubSettlementPublisher{
		topic:   &pubsub.Topic{},
		marshal: func(any) ([]byte, error) { return nil, errors.New("encode broken") },
	}

	_, err := p.PublishSettlementComputed(context.Background(), services.SettlementComputedMessage{CartID: "cart-1"})
	if err == nil || !strings.Contains(err.Error(), "encode broken") {
		t.Fatalf("expected encode error, got %v", err)
	}
}

func TestSettlementAttributes(t *testing.T) {
	attrs := settlementAttributes(services.SettlementComputedMessage{
		CartID:    "  cart-1  ",
		UserID:    "   ",
		FeeModel:  "commission",
		SellerIDs: []string{"s1", "s2", "s3"},
	})

	if attrs["event"] != settlementComputedEvent {
		t.Fatalf("unexpected event attribute %q", attrs["event"])
	}
	if attrs["cartId"] != "cart-1" {
		t.Fatalf("cart id not trimmed: %q", attrs["cartId"])
	}
	if _, ok := attrs["userId"]; ok {
		t.Fatal("blank attribute should be omitted")
	}
	if attrs["sellerCount"] != "3" {
		t.Fatalf("unexpected seller count %q", attrs["sellerCount"])
	}
	if attrs["feeModel"] != "commission" {
		t.Fatalf("unexpected fee model %q", attrs["feeModel"])
	}
}
