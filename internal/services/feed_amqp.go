package services

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/rehearse/internal/shared"
	amqp "github.com/rabbitmq/amqp091-go"
)

const defaultExchange = "realtime"

// AMQPRoutingKey is the topic binding for every change on table.
func AMQPRoutingKey(table string) string {
	return "public." + table + ".*"
}

// amqpConn is the subset of [amqp.Connection] the feed uses.
type amqpConn interface {
	Channel() (*amqp.Channel, error)
	Close() error
}

// AMQPFeed implements [ChangeFeed] over a RabbitMQ topic exchange. Each subscription gets its own channel and an
// exclusive, auto-deleted queue.
type AMQPFeed struct {
	conn     amqpConn
	exchange string
	logger   *log.Logger
}

// NewAMQPFeed dials the broker at url.
func NewAMQPFeed(url, exchange string, logger *log.Logger) (*AMQPFeed, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("%w: amqp: %v", shared.ErrServiceUnavailable, err)
	}
	if exchange == "" {
		exchange = defaultExchange
	}
	return &AMQPFeed{conn: conn, exchange: exchange, logger: logger}, nil
}

// Subscribe binds a private queue to the table's routing key and calls h for every delivery.
func (f *AMQPFeed) Subscribe(ctx context.Context, channel, table string, h ChangeHandler) (Subscription, error) {
	ch, err := f.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%w: channel open: %v", shared.ErrServiceUnavailable, err)
	}

	fail := func(step string, err error) (Subscription, error) {
		_ = ch.Close()
		return nil, fmt.Errorf("%w: %s: %v", shared.ErrServiceUnavailable, step, err)
	}

	if err := ch.ExchangeDeclare(f.exchange, "topic", true, false, false, false, nil); err != nil {
		return fail("exchange declare", err)
	}

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fail("queue declare", err)
	}

	if err := ch.QueueBind(q.Name, AMQPRoutingKey(table), f.exchange, false, nil); err != nil {
		return fail("queue bind", err)
	}

	if err := ch.Qos(50, 0, false); err != nil && f.logger != nil {
		f.logger.Warn("set QoS failed", "channel", channel, "error", err)
	}

	deliveries, err := ch.Consume(q.Name, channel, false, true, false, false, nil)
	if err != nil {
		return fail("queue consume", err)
	}

	loop := func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					if ctx.Err() == nil && f.logger != nil {
						f.logger.Warn("change feed deliveries closed", "channel", channel)
					}
					return
				}
				if dispatch(f.logger, table, d.Body, h) {
					_ = d.Ack(false)
				} else {
					// reject, do not requeue to avoid tight loops
					_ = d.Nack(false, false)
				}
			}
		}
	}

	release := func() error {
		_ = ch.Cancel(channel, false)
		return ch.Close()
	}

	return startSubscription(ctx, channel, loop, release), nil
}

// Publish sends a change to the exchange using the table's routing key.
func (f *AMQPFeed) Publish(ctx context.Context, ev ChangeEvent) error {
	payload, err := EncodeChangeEvent(ev)
	if err != nil {
		return fmt.Errorf("failed to encode change: %w", err)
	}

	ch, err := f.conn.Channel()
	if err != nil {
		return fmt.Errorf("%w: channel open: %v", shared.ErrServiceUnavailable, err)
	}
	defer ch.Close()

	key := "public." + ev.Table + "." + ev.Type
	err = ch.PublishWithContext(ctx, f.exchange, key, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        payload,
	})
	if err != nil {
		return fmt.Errorf("%w: publish: %v", shared.ErrServiceUnavailable, err)
	}
	return nil
}

// Close closes the broker connection.
func (f *AMQPFeed) Close() error {
	return f.conn.Close()
}
