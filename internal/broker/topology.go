package broker

import (
	amqp "github.com/rabbitmq/amqp091-go"
)

// Topology names the exchanges and queue this service wires up at startup.
type Topology struct {
	SrcQueue           string
	DstExchangeBeehive string
	DstExchangeNode    string
}

// Declare sets up the broker topology described in spec §6:
//   - SrcQueue bound to a durable fanout exchange of the same name.
//   - DstExchangeBeehive: a durable fanout exchange with a same-name durable
//     queue bound, so persistent messages survive until a downstream shipper
//     drains them.
//   - DstExchangeNode: a durable topic exchange with no bound queue; local
//     subscribers bind their own.
func Declare(ch *amqp.Channel, topo Topology) error {
	if err := declareExchangeWithQueue(ch, topo.SrcQueue, amqp.ExchangeFanout); err != nil {
		return err
	}
	if err := declareExchangeWithQueue(ch, topo.DstExchangeBeehive, amqp.ExchangeFanout); err != nil {
		return err
	}
	if err := ch.ExchangeDeclare(topo.DstExchangeNode, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return err
	}
	return nil
}

func declareExchangeWithQueue(ch *amqp.Channel, name, kind string) error {
	if err := ch.ExchangeDeclare(name, kind, true, false, false, false, nil); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		return err
	}
	return ch.QueueBind(name, "", name, false, nil)
}
