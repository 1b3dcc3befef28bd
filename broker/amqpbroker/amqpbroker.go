// Package amqpbroker implements broker.Broker over AMQP 0-9-1 using
// streadway/amqp, sourced from the rest of the example pack's manifests
// (the teacher has no message-bus dependency of its own) since spec.md §4.5
// calls for a real AMQP broker. The handler-map-plus-subscribing-goroutine
// shape is adapted from the teacher's
// datasync/chaindatafetcher/event/kafka package: Kafka's topic/partition
// model becomes AMQP's topic-exchange/durable-queue/routing-key model, and
// sarama's ConsumerGroup.Consume loop becomes amqp.Channel.Consume.
package amqpbroker

import (
	"context"
	"sync"

	"github.com/streadway/amqp"

	"github.com/flowmesh-io/flowmesh/broker"
	"github.com/flowmesh-io/flowmesh/codec"
	"github.com/flowmesh-io/flowmesh/flowerr"
	"github.com/flowmesh-io/flowmesh/log"
	"github.com/flowmesh-io/flowmesh/metrics"
)

var logger = log.NewModuleLogger(log.Broker)

// Config names the exchange topology spec.md §4.5 requires: one topic
// exchange per workflow role, a durable queue bound by routing keys, and
// an alternate-exchange catching anything with no matching binding.
type Config struct {
	URL                  string
	Exchange             string
	AlternateExchange    string
	Queue                string
	RoutingKeys          []string
	UsePublisherConfirms bool
	PrefetchCount        int // QoS prefetch; 0 leaves the channel's default (unlimited) in place
}

// Broker implements broker.Broker. Exactly one AckStrategy instance backs
// its consuming channel's bookkeeping, matching spec.md §4.5's "one
// acking strategy per broker" framing.
type Broker struct {
	cfg  Config
	conn *amqp.Connection
	ch   *amqp.Channel

	mu       sync.Mutex
	handlers map[string]broker.Handler
	ack      broker.AckStrategy

	confirms   chan amqp.Confirmation
	publishSeq uint64

	cancel   chan bool
	isActive bool

	Metrics *metrics.Registry // optional; nil disables counters
}

// Dial connects to the broker, declares the exchange topology, and wires
// the configured acking strategy onto the channel.
func Dial(cfg Config) (*Broker, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, flowerr.Wrap(flowerr.ErrTransientBus, err.Error())
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, flowerr.Wrap(flowerr.ErrTransientBus, err.Error())
	}
	if cfg.PrefetchCount > 0 {
		if err := ch.Qos(cfg.PrefetchCount, 0, false); err != nil {
			ch.Close()
			conn.Close()
			return nil, flowerr.Wrap(flowerr.ErrTransientBus, err.Error())
		}
	}

	args := amqp.Table{}
	if cfg.AlternateExchange != "" {
		args["alternate-exchange"] = cfg.AlternateExchange
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, args); err != nil {
		ch.Close()
		conn.Close()
		return nil, flowerr.Wrap(flowerr.ErrTransientBus, err.Error())
	}
	if cfg.AlternateExchange != "" {
		if err := ch.ExchangeDeclare(cfg.AlternateExchange, "fanout", true, false, false, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return nil, flowerr.Wrap(flowerr.ErrTransientBus, err.Error())
		}
	}
	q, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, flowerr.Wrap(flowerr.ErrTransientBus, err.Error())
	}
	for _, rk := range cfg.RoutingKeys {
		if err := ch.QueueBind(q.Name, rk, cfg.Exchange, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return nil, flowerr.Wrap(flowerr.ErrTransientBus, err.Error())
		}
	}

	var ackStrat broker.AckStrategy = broker.NewImmediate()
	var confirms chan amqp.Confirmation
	if cfg.UsePublisherConfirms {
		if err := ch.Confirm(false); err != nil {
			ch.Close()
			conn.Close()
			return nil, flowerr.Wrap(flowerr.ErrTransientBus, err.Error())
		}
		ackStrat = broker.NewPublisherConfirmation()
		confirms = ch.NotifyPublish(make(chan amqp.Confirmation, 64))
	}

	b := &Broker{
		cfg:      cfg,
		conn:     conn,
		ch:       ch,
		handlers: map[string]broker.Handler{},
		ack:      ackStrat,
		confirms: confirms,
		cancel:   make(chan bool),
	}
	if confirms != nil {
		go b.watchConfirms()
	}
	return b, nil
}

func (b *Broker) watchConfirms() {
	for c := range b.confirms {
		b.mu.Lock()
		b.ack.OnConfirm(c.DeliveryTag, c.Multiple)
		b.mu.Unlock()
		if !c.Ack {
			logger.Error("publisher nack, disconnecting", "tag", c.DeliveryTag)
			if b.Metrics != nil {
				b.Metrics.PublisherNacks.Inc(1)
			}
			b.Disconnect()
			return
		}
	}
}

func (b *Broker) RegisterHandler(routingKey string, h broker.Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[routingKey] = h
	return nil
}

// Publish encodes msg, sends it persistent on the configured exchange,
// and records the publish as caused by causeTag so PublisherConfirmation
// can defer that receive's ack until this publish is confirmed.
func (b *Broker) Publish(ctx context.Context, routingKey string, msg codec.Message, causeTag uint64) error {
	body, err := codec.Encode(msg)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.publishSeq++
	seq := b.publishSeq
	if causeTag != 0 {
		b.ack.OnPublish(causeTag, seq)
	}
	b.mu.Unlock()

	err = b.ch.Publish(b.cfg.Exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return flowerr.Wrap(flowerr.ErrTransientBus, err.Error())
	}
	return nil
}

// Listen consumes the queue, spawning one goroutine per delivery to
// decode and dispatch it to its registered handler — concurrency is
// bounded by the channel's QoS prefetch count, not by an additional
// worker pool, mirroring the teacher's channel fan-in loops in
// work/worker.go. It mirrors the teacher's Consumer.Subscribe
// goroutine-plus-cancel-channel shutdown pattern.
func (b *Broker) Listen(ctx context.Context) error {
	msgs, err := b.ch.Consume(b.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return flowerr.Wrap(flowerr.ErrTransientBus, err.Error())
	}
	b.isActive = true
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.cancel:
			return nil
		case d, ok := <-msgs:
			if !ok {
				return flowerr.ErrTransientBus
			}
			go b.handleDelivery(ctx, d)
		}
	}
}

func (b *Broker) handleDelivery(ctx context.Context, d amqp.Delivery) {
	b.mu.Lock()
	b.ack.OnReceive(d.DeliveryTag)
	h := b.handlers[d.RoutingKey]
	b.mu.Unlock()

	msg, err := codec.Decode(d.Body)
	if err != nil {
		logger.Error("invalid message, rejecting without requeue", "routing_key", d.RoutingKey, "err", err)
		if b.Metrics != nil {
			b.Metrics.InvalidMessages.Inc(1)
		}
		d.Reject(false)
		return
	}
	if h == nil {
		logger.Warn("no handler for routing key, rejecting without requeue", "routing_key", d.RoutingKey)
		d.Reject(false)
		return
	}
	if err := h(ctx, broker.Delivery{ReceiveTag: d.DeliveryTag, RoutingKey: d.RoutingKey, Message: msg}); err != nil {
		if isPermanent(err) {
			logger.Error("handler failed permanently, rejecting without requeue", "routing_key", d.RoutingKey, "err", err)
			d.Reject(false)
			return
		}
		logger.Error("handler failed, requeueing delivery", "routing_key", d.RoutingKey, "err", err)
		d.Reject(true)
		return
	}
	b.flushAcks()
}

// isPermanent reports whether err is one of spec.md §7's no-retry kinds —
// a workflow or message bug no redelivery will fix — as opposed to a
// transient store/bus error that should come back around for another try.
func isPermanent(err error) bool {
	switch flowerr.Cause(err) {
	case flowerr.ErrInvalidMessage, flowerr.ErrForeignToken, flowerr.ErrPlaceNotFound, flowerr.ErrDuplicateToken:
		return true
	default:
		return false
	}
}

// flushAcks pops the currently-safe batch from the ack strategy and acks
// it on the channel, using AMQP multi-ack when the batch says so.
func (b *Broker) flushAcks() {
	b.mu.Lock()
	tags, multiple := b.ack.PopAckableReceiveTags()
	b.mu.Unlock()

	if len(tags) == 0 {
		return
	}
	if multiple {
		b.ch.Ack(tags[0], true)
		for _, t := range tags[1:] {
			b.ch.Ack(t, false)
		}
		return
	}
	for _, t := range tags {
		b.ch.Ack(t, false)
	}
}

// Disconnect tears down the channel and connection, the only shutdown
// path spec.md §4.6's cancellation model describes: in-flight handlers
// finish or fail naturally and the bus redelivers on reconnect.
func (b *Broker) Disconnect() error {
	select {
	case b.cancel <- true:
	default:
	}
	if b.ch != nil {
		b.ch.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
