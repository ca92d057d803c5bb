package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"app/internal/config"

	"cloud.google.com/go/pubsub"
)

// Event names published on the billing events topic. Downstream consumers
// (notification emails, the admin dashboard feed) subscribe to these.
const (
	EventWalletCredited     = "wallet.credited"
	EventWalletDebited      = "wallet.debited"
	EventProvisionQueued    = "provision.queued"
	EventProvisionSucceeded = "provision.succeeded"
	EventProvisionFailed    = "provision.failed"
)

// Publisher defines an interface for publishing messages.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) (string, error)
}

// LifecycleEvent is the envelope for wallet and provisioning events.
type LifecycleEvent struct {
	Event      string    `json:"event"`
	UserID     string    `json:"user_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Detail     any       `json:"detail,omitempty"`
}

// Envelope marshals a lifecycle event for publishing.
func Envelope(event, userID string, detail any) ([]byte, error) {
	return json.Marshal(LifecycleEvent{
		Event:      event,
		UserID:     userID,
		OccurredAt: time.Now().UTC(),
		Detail:     detail,
	})
}

// PubSubPublisher is an implementation of Publisher using Google Pub/Sub.
type PubSubPublisher struct {
	client *pubsub.Client
}

// NewPublisher creates a new PubSubPublisher using the GCP project from config.
func NewPublisher(ctx context.Context, cfg *config.Config) (*PubSubPublisher, error) {
	if cfg.GCPProjectID == "" {
		return nil, fmt.Errorf("GCP project ID is not configured")
	}
	client, err := pubsub.NewClient(ctx, cfg.GCPProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Pub/Sub client: %w", err)
	}
	return &PubSubPublisher{client: client}, nil
}

// Publish sends the payload to the given Pub/Sub topic and returns the message ID.
func (p *PubSubPublisher) Publish(ctx context.Context, topic string, payload []byte) (string, error) {
	t := p.client.Topic(topic)
	result := t.Publish(ctx, &pubsub.Message{Data: payload})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to publish message to topic %s: %w", topic, err)
	}
	return id, nil
}
