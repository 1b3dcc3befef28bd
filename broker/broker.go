// Package broker defines the bus abstraction that decodes inbound
// deliveries, dispatches them to registered handlers, and publishes
// follow-up messages while deferring acks according to an AckStrategy
// (spec.md §4.5). The shape mirrors the teacher's
// datasync/chaindatafetcher/event/kafka package (a handler-map broker with
// a Consumer that subscribes a goroutine per topic and a cancel channel to
// restart it), generalized from Kafka's topic/partition model to AMQP's
// exchange/queue/routing-key model.
package broker

import (
	"context"

	"github.com/flowmesh-io/flowmesh/codec"
)

// Delivery is one decoded inbound message together with the receive tag
// its ack bookkeeping is keyed on.
type Delivery struct {
	ReceiveTag uint64
	RoutingKey string
	Message    codec.Message
}

// Handler processes one Delivery. Any outbound publishes it causes must
// be issued via the Broker passed at registration time, tagged with the
// Delivery's ReceiveTag as the publish's cause, so PublisherConfirmation
// can defer the inbound ack correctly.
type Handler func(ctx context.Context, d Delivery) error

// Broker is the bus-facing capability handlers and the orchestrator use
// to exchange workflow messages. One Broker instance owns one AckStrategy
// for its consuming channel.
type Broker interface {
	// RegisterHandler binds h to deliveries arriving on routingKey.
	RegisterHandler(routingKey string, h Handler) error
	// Publish sends msg bound to routingKey, attributing the publish to
	// causeTag for ack bookkeeping (0 when not caused by an inbound
	// delivery, e.g. the CreateToken that cmd/flowctl's submit command
	// publishes).
	Publish(ctx context.Context, routingKey string, msg codec.Message, causeTag uint64) error
	// Listen starts consuming until ctx is cancelled or the broker
	// disconnects fatally (e.g. on PublisherNack).
	Listen(ctx context.Context) error
	// Disconnect tears the broker down; exported so a PublisherNack
	// handler can trigger the same fatal shutdown path a supervisor
	// would observe as a non-zero exit.
	Disconnect() error
}
