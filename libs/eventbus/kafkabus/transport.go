// Package kafkabus carries eventbus messages over Kafka.
package kafkabus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/md-rashed-zaman/schoolsync/libs/eventbus"
	"github.com/md-rashed-zaman/schoolsync/libs/kafkax"
	"github.com/segmentio/kafka-go"
)

// Transport writes messages with a hash balancer so every message with the
// same key lands on the same partition.
type Transport struct {
	writer *kafka.Writer
}

func NewTransport(brokers []string) *Transport {
	return &Transport{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}}
}

func (t *Transport) Send(ctx context.Context, msgs ...eventbus.Message) error {
	out := make([]kafka.Message, 0, len(msgs))
	for _, m := range msgs {
		headers := kafkax.InjectTraceHeaders(ctx, kafkax.HeadersFromMap(m.Headers))
		out = append(out, kafka.Message{
			Topic:   m.Topic,
			Key:     m.Key,
			Value:   m.Value,
			Headers: headers,
		})
	}
	return t.writer.WriteMessages(ctx, out...)
}

func (t *Transport) Close() error {
	return t.writer.Close()
}

var ErrNoBrokers = errors.New("kafkabus: no brokers configured")

// EnsureTopics creates missing topics through the cluster controller.
func EnsureTopics(ctx context.Context, brokers []string, partitions int, topics ...string) error {
	if len(topics) == 0 {
		return nil
	}
	if len(brokers) == 0 {
		return ErrNoBrokers
	}
	if partitions <= 0 {
		partitions = 1
	}
	var (
		conn *kafka.Conn
		err  error
	)
	for _, b := range brokers {
		conn, err = kafka.DialContext(ctx, "tcp", b)
		if err == nil {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("kafkabus - EnsureTopics - dial: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return err
	}
	cc, err := kafka.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return err
	}
	defer cc.Close()

	cfgs := make([]kafka.TopicConfig, 0, len(topics))
	for _, t := range topics {
		cfgs = append(cfgs, kafka.TopicConfig{Topic: t, NumPartitions: partitions, ReplicationFactor: 1})
	}
	return cc.CreateTopics(cfgs...)
}

var _ eventbus.Transport = (*Transport)(nil)
