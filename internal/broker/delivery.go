// Package broker wraps github.com/rabbitmq/amqp091-go with the topology,
// delivery and publish semantics the data sharing service needs: a single
// validated-ingress queue in, a node topic exchange and a beehive fanout
// exchange out.
package broker

import (
	amqp "github.com/rabbitmq/amqp091-go"
)

// Scope selects which sink(s) a delivery's routing key requests.
type Scope string

const (
	ScopeNode    Scope = "node"
	ScopeBeehive Scope = "beehive"
	ScopeAll     Scope = "all"
)

// Acker is the narrow slice of amqp091-go's Acknowledger interface the
// handler needs. Delivery depends on this rather than a concrete
// *amqp.Channel so tests (and the backlog engine's unit tests, in another
// package) can exercise ack/reject without a live broker connection.
type Acker interface {
	Ack(tag uint64, multiple bool) error
	Reject(tag uint64, requeue bool) error
}

// Delivery is one message received from the broker. It is owned by the
// handler from receipt until Ack or Reject is called; exactly one of those
// MUST happen. Ack/Reject delegate straight to the underlying acker, whose
// methods amqp091-go documents as safe to call from any goroutine -- the
// client funnels them onto the connection's write lock itself, so the
// handler never needs its own cross-goroutine scheduling for them.
type Delivery struct {
	Tag          uint64
	RoutingKey   string
	ProducerUID  string
	ProducerUser string
	Body         []byte

	acker Acker
}

// NewDelivery builds a Delivery directly, for tests and for adapters other
// than FromAMQP.
func NewDelivery(tag uint64, routingKey, producerUID, producerUser string, body []byte, acker Acker) Delivery {
	return Delivery{
		Tag:          tag,
		RoutingKey:   routingKey,
		ProducerUID:  producerUID,
		ProducerUser: producerUser,
		Body:         body,
		acker:        acker,
	}
}

// FromAMQP adapts a raw amqp091-go delivery into the broker's Delivery type,
// extracting the app_id/user_id properties the handler needs to identify the
// producer.
func FromAMQP(d amqp.Delivery) Delivery {
	return NewDelivery(d.DeliveryTag, d.RoutingKey, d.AppId, d.UserId, d.Body, d.Acknowledger)
}

// Ack acknowledges the delivery. It must be called at most once.
func (d Delivery) Ack() error {
	return d.acker.Ack(d.Tag, false)
}

// Reject rejects the delivery without requeueing it -- redelivery on a
// data-plane error would just reject again, per the handler's error policy.
func (d Delivery) Reject() error {
	return d.acker.Reject(d.Tag, false)
}
