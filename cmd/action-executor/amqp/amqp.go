package amqp

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/heptiolabs/healthcheck"
	amqp091 "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/pulsemate/action-engine/cmd/action-executor/config"
)

// Delivery is the engine-facing view of one broker message.
type Delivery struct {
	RoutingKey string
	Body       []byte
	Priority   uint8
	Headers    map[string]any

	raw *amqp091.Delivery
}

// PublishOptions forwards the delivery priority and, for delayed requeues,
// the millisecond delay header consumed by the delayed-message exchange.
type PublishOptions struct {
	Priority uint8
	DelayMS  int64
}

// Broker is what the worker and resolver depend on. The production
// Connection and the test MockBroker both satisfy it.
type Broker interface {
	Deliveries() <-chan *Delivery
	Publish(ctx context.Context, routingKey string, body []byte, opts PublishOptions) error
	Ack(d *Delivery) error
	Nack(d *Delivery, requeue bool) error
}

// Connection wraps one AMQP connection and channel. The consumer channel is
// opened with prefetch 1 so a single instance never has more than one
// unacknowledged message in flight.
type Connection struct {
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
	out      chan *Delivery
	closed   atomic.Bool
	acked    atomic.Uint64
}

func Connect(cfg *config.Config) (*Connection, error) {
	conn, err := amqp091.Dial(cfg.AMQPURL)
	if err != nil {
		return nil, err
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err = channel.Qos(1, 0, false); err != nil {
		_ = conn.Close()
		return nil, err
	}

	queue, err := channel.QueueDeclare(cfg.Queue, true, false, false, false, amqp091.Table{"x-max-priority": int32(10)})
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err = channel.QueueBind(queue.Name, cfg.BindPattern, cfg.Exchange, false, nil); err != nil {
		_ = conn.Close()
		return nil, err
	}

	deliveries, err := channel.Consume(queue.Name, "", false, false, false, false, nil)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	c := &Connection{
		conn:     conn,
		channel:  channel,
		exchange: cfg.Exchange,
		out:      make(chan *Delivery),
	}
	go c.pump(deliveries)
	return c, nil
}

func (c *Connection) pump(in <-chan amqp091.Delivery) {
	for d := range in {
		d := d
		c.out <- &Delivery{
			RoutingKey: d.RoutingKey,
			Body:       d.Body,
			Priority:   d.Priority,
			Headers:    d.Headers,
			raw:        &d,
		}
	}
	zap.S().Infof("Broker delivery channel closed")
	close(c.out)
}

func (c *Connection) Deliveries() <-chan *Delivery {
	return c.out
}

func (c *Connection) Publish(ctx context.Context, routingKey string, body []byte, opts PublishOptions) error {
	headers := amqp091.Table{}
	if opts.DelayMS > 0 {
		headers["x-delay"] = opts.DelayMS
	}
	return c.channel.PublishWithContext(ctx, c.exchange, routingKey, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
		Priority:     opts.Priority,
		Headers:      headers,
		Body:         body,
	})
}

func (c *Connection) Ack(d *Delivery) error {
	if d.raw == nil {
		return errors.New("delivery has no underlying broker message")
	}
	err := d.raw.Ack(false)
	if err == nil {
		c.acked.Add(1)
	}
	return err
}

func (c *Connection) Nack(d *Delivery, requeue bool) error {
	if d.raw == nil {
		return errors.New("delivery has no underlying broker message")
	}
	return d.raw.Nack(false, requeue)
}

func (c *Connection) Close() {
	if c.closed.Swap(true) {
		return
	}
	if err := c.conn.Close(); err != nil {
		zap.S().Warnf("Failed to close broker connection: %s", err)
	}
}

func (c *Connection) Acked() uint64 {
	return c.acked.Load()
}

func (c *Connection) GetReadinessCheck() healthcheck.Check {
	return func() error {
		if c.conn.IsClosed() {
			return errors.New("broker connection is closed")
		}
		return nil
	}
}

var lastAcked atomic.Uint64
var lastChangeUTCSeconds atomic.Int64

// GetLivenessCheck fails when no message has been acknowledged for five
// minutes. On an idle queue that is expected, so this is wired as a
// readiness-style canary rather than a hard liveness probe by callers that
// expect idle periods.
func (c *Connection) GetLivenessCheck() healthcheck.Check {
	return func() error {
		acked := c.Acked()
		oldValue := lastAcked.Swap(acked)
		nowUTCSeconds := time.Now().UTC().Unix()
		if oldValue != acked {
			lastChangeUTCSeconds.Store(nowUTCSeconds)
			return nil
		}
		lastChange := lastChangeUTCSeconds.Load()
		if lastChange != 0 && nowUTCSeconds-lastChange > 60*5 {
			return errors.New("no acknowledged message in the last 5 minutes")
		}
		return nil
	}
}
