package broker

import (
	"context"

	"payment-gateway/internal/models"
)

// CartEventPublisher publishes cart lifecycle events for downstream
// analytics consumers. A nil publisher is valid and drops everything,
// which is how the gateway runs when no brokers are configured.
type CartEventPublisher struct {
	producer *Producer
}

// NewCartEventPublisher creates a new cart event publisher
func NewCartEventPublisher(producer *Producer) *CartEventPublisher {
	return &CartEventPublisher{producer: producer}
}

// PublishCartCreated publishes a CartCreated event
func (ep *CartEventPublisher) PublishCartCreated(ctx context.Context, event *models.CartCreatedEvent) error {
	if ep == nil {
		return nil
	}
	return ep.producer.PublishEvent(ctx, event.CartID, event)
}

// PublishCartConfirmed publishes a CartConfirmed event
func (ep *CartEventPublisher) PublishCartConfirmed(ctx context.Context, event *models.CartConfirmedEvent) error {
	if ep == nil {
		return nil
	}
	return ep.producer.PublishEvent(ctx, event.CartID, event)
}

// PublishCartFailed publishes a CartFailed event
func (ep *CartEventPublisher) PublishCartFailed(ctx context.Context, event *models.CartFailedEvent) error {
	if ep == nil {
		return nil
	}
	return ep.producer.PublishEvent(ctx, event.CartID, event)
}
