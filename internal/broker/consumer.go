package broker

import (
	amqp "github.com/rabbitmq/amqp091-go"
)

// Connect dials the broker and opens a channel, declaring the topology
// described by topo. Callers are responsible for closing the returned
// connection (which also closes the channel).
func Connect(url string, topo Topology) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	if err := Declare(ch, topo); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}

// Consume starts consuming queue and returns a channel of adapted
// Deliveries. The returned channel closes when the underlying amqp
// delivery channel closes (connection or channel fault).
func Consume(ch *amqp.Channel, queue, consumerTag string) (<-chan Delivery, error) {
	raw, err := ch.Consume(queue, consumerTag, false, false, false, false, nil)
	if err != nil {
		return nil, err
	}
	out := make(chan Delivery)
	go func() {
		defer close(out)
		for d := range raw {
			out <- FromAMQP(d)
		}
	}()
	return out, nil
}
