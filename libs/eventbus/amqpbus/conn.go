// Package amqpbus carries eventbus messages over a RabbitMQ topic exchange.
package amqpbus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ExchangeName is the durable topic exchange every service publishes to.
// Routing keys are eventbus topics.
const ExchangeName = "schoolsync.events"

// HeaderPartitionKey carries the message key, which has no native slot in AMQP.
const HeaderPartitionKey = "partition_key"

// Dial connects with retries, giving up after attempts tries or when ctx ends.
func Dial(ctx context.Context, url string, attempts int, logger *slog.Logger) (*amqp.Connection, error) {
	if attempts <= 0 {
		attempts = 30
	}
	var err error
	for i := 0; i < attempts; i++ {
		var conn *amqp.Connection
		conn, err = amqp.Dial(url)
		if err == nil {
			logger.Info("connected to rabbitmq")
			return conn, nil
		}
		logger.Warn("rabbitmq connect failed, retrying", "err", err, "attempt", i+1)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return nil, fmt.Errorf("could not connect to rabbitmq after %d attempts: %w", attempts, err)
}

func declareExchange(ch *amqp.Channel) error {
	return ch.ExchangeDeclare(
		ExchangeName,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
}

// ReadyCheck reports whether conn is still open.
func ReadyCheck(conn *amqp.Connection) func(context.Context) error {
	return func(context.Context) error {
		if conn == nil || conn.IsClosed() {
			return amqp.ErrClosed
		}
		return nil
	}
}
