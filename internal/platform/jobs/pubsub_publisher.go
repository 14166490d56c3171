// Package jobs publishes asynchronous work to Cloud Pub/Sub.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/vesoko/marketplace-api/internal/services"
)

const settlementComputedEvent = "checkout.settlement_computed"

// PubSubSettlementPublisher emits settlement events so downstream consumers
// (payout ledger, seller notifications) can react to completed checkouts.
type PubSubSettlementPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubSettlementPublisher wraps the given topic.
func NewPubSubSettlementPublisher(topic *pubsub.Topic) (*PubSubSettlementPublisher, error) {
	if topic == nil {
		return nil, errors.New("jobs: settlement topic is required")
	}
	return &PubSubSettlementPublisher{topic: topic, marshal: json.Marshal}, nil
}

// PublishSettlementComputed publishes one settlement event and returns the
// Pub/Sub message ID.
func (p *PubSubSettlementPublisher) PublishSettlementComputed(ctx context.Context, message services.SettlementComputedMessage) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("jobs: settlement publisher not initialised")
	}
	if strings.TrimSpace(message.CartID) == "" {
		return "", errors.New("jobs: settlement event needs a cart id")
	}

	data, err := p.marshal(message)
	if err != nil {
		return "", fmt.Errorf("jobs: encode settlement event: %w", err)
	}

	id, err := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: settlementAttributes(message),
	}).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("jobs: publish settlement event: %w", err)
	}
	return id, nil
}

// settlementAttributes carries the routing fields subscribers filter on
// without decoding the payload.
func settlementAttributes(message services.SettlementComputedMessage) map[string]string {
	attrs := map[string]string{
		"event":       settlementComputedEvent,
		"sellerCount": strconv.Itoa(len(message.SellerIDs)),
	}
	for key, value := range map[string]string{
		"cartId":            message.CartID,
		"userId":            message.UserID,
		"feeModel":          message.FeeModel,
		"checkoutSessionId": message.CheckoutSessionID,
	} {
		if v := strings.TrimSpace(value); v != "" {
			attrs[key] = v
		}
	}
	return attrs
}
