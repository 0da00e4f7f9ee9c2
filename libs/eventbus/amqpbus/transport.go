package amqpbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/md-rashed-zaman/schoolsync/libs/eventbus"
	otelx "github.com/md-rashed-zaman/schoolsync/libs/otel"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Transport publishes persistent messages and waits for broker confirms.
type Transport struct {
	mu sync.Mutex
	ch *amqp.Channel
}

func NewTransport(conn *amqp.Connection) (*Transport, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := declareExchange(ch); err != nil {
		_ = ch.Close()
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return &Transport{ch: ch}, nil
}

func (t *Transport) Send(ctx context.Context, msgs ...eventbus.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	confirms := make([]*amqp.DeferredConfirmation, 0, len(msgs))
	for _, m := range msgs {
		headers := amqp.Table{HeaderPartitionKey: string(m.Key)}
		for k, v := range otelx.InjectHeaders(ctx, copyHeaders(m.Headers)) {
			headers[k] = v
		}
		dc, err := t.ch.PublishWithDeferredConfirmWithContext(
			ctx,
			ExchangeName,
			m.Topic,
			false, // mandatory
			false, // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    m.Headers[eventbus.HeaderEventID],
				Type:         m.Headers[eventbus.HeaderEventType],
				Timestamp:    time.Now().UTC(),
				Headers:      headers,
				Body:         m.Value,
			},
		)
		if err != nil {
			return err
		}
		confirms = append(confirms, dc)
	}
	for _, dc := range confirms {
		ok, err := dc.WaitContext(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("rabbitmq nacked delivery tag %d", dc.DeliveryTag)
		}
	}
	return nil
}

func (t *Transport) Close() error {
	return t.ch.Close()
}

func copyHeaders(in map[string]string) map[string]string {
	out := make(map[string]string, len(in)+2)
	for k, v := range in {
		out[k] = v
	}
	return out
}

var _ eventbus.Transport = (*Transport)(nil)
