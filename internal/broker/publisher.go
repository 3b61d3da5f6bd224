package broker

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DeliveryMode selects AMQP persistence semantics for a publish.
const (
	deliveryModeTransient  = uint8(1)
	deliveryModePersistent = uint8(2)
)

// Publisher publishes a message to a named exchange with a routing key and
// a delivery-persistence flag. Failures are transport faults: the handler
// treats them as fatal to the current connection (spec §4.1, §7 TransportFault).
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body []byte, persistent bool) error
}

// ChannelPublisher publishes over a single amqp091-go channel. It adds no
// locking of its own; with the backlog binding, both the consumer loop and
// the pod-event drain goroutine publish through it.
type ChannelPublisher struct {
	ch *amqp.Channel
}

// NewChannelPublisher wraps an open channel for publishing.
func NewChannelPublisher(ch *amqp.Channel) *ChannelPublisher {
	return &ChannelPublisher{ch: ch}
}

func (p *ChannelPublisher) Publish(ctx context.Context, exchange, routingKey string, body []byte, persistent bool) error {
	mode := deliveryModeTransient
	if persistent {
		mode = deliveryModePersistent
	}
	return p.ch.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		DeliveryMode: mode,
		Body:         body,
	})
}
