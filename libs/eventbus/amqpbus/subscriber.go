package amqpbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/md-rashed-zaman/schoolsync/libs/eventbus"
	otelx "github.com/md-rashed-zaman/schoolsync/libs/otel"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Subscriber consumes a durable queue named after the router's consumer,
// bound to every topic the router subscribes to. Prefetch is one so the
// queue order is the handling order.
type Subscriber struct {
	conn   *amqp.Connection
	router *eventbus.Router
	logger *slog.Logger
}

func NewSubscriber(conn *amqp.Connection, router *eventbus.Router, logger *slog.Logger) *Subscriber {
	return &Subscriber{conn: conn, router: router, logger: logger}
}

// Run blocks until ctx is cancelled or the channel closes.
func (s *Subscriber) Run(ctx context.Context) error {
	s.router.Freeze()
	queue := s.router.Consumer()
	logger := s.logger.With("queue", queue)

	ch, err := s.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := declareExchange(ch); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		return err
	}
	for _, topic := range s.router.Topics() {
		if err := ch.QueueBind(queue, topic, ExchangeName, false, nil); err != nil {
			return fmt.Errorf("bind %s to %s: %w", queue, topic, err)
		}
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return err
	}
	msgs, err := ch.ConsumeWithContext(
		ctx,
		queue,
		queue,
		false, // manual ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return err
	}
	logger.Info("rabbitmq subscriber started", "topics", s.router.Topics())

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("rabbitmq delivery channel closed")
			}
			s.handle(ctx, logger, msg)
		}
	}
}

func (s *Subscriber) handle(ctx context.Context, logger *slog.Logger, msg amqp.Delivery) {
	headers := make(map[string]string, len(msg.Headers))
	for k, v := range msg.Headers {
		if str, ok := v.(string); ok {
			headers[k] = str
		}
	}
	d := eventbus.Delivery{
		Topic:   msg.RoutingKey,
		Offset:  int64(msg.DeliveryTag),
		Key:     []byte(headers[HeaderPartitionKey]),
		Value:   msg.Body,
		Headers: headers,
	}

	out := s.router.Deliver(otelx.ExtractHeaders(ctx, headers), d)
	if out.Settled() {
		if err := msg.Ack(false); err != nil {
			logger.Error("rabbitmq ack failed", "err", err)
		}
		return
	}
	if err := msg.Nack(false, true); err != nil {
		logger.Error("rabbitmq nack failed", "err", err)
	}
}
