// Package broker opens the transport selected by configuration and builds the
// publisher and subscriber a service runs on top of it.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/md-rashed-zaman/schoolsync/libs/config"
	"github.com/md-rashed-zaman/schoolsync/libs/ddd"
	"github.com/md-rashed-zaman/schoolsync/libs/eventbus"
	"github.com/md-rashed-zaman/schoolsync/libs/eventbus/amqpbus"
	"github.com/md-rashed-zaman/schoolsync/libs/eventbus/kafkabus"
	"github.com/md-rashed-zaman/schoolsync/libs/eventbus/membus"
	"github.com/md-rashed-zaman/schoolsync/libs/kafkax"
	"github.com/md-rashed-zaman/schoolsync/libs/outbox"
	"github.com/md-rashed-zaman/schoolsync/libs/runtime"
)

const (
	KindKafka    = "kafka"
	KindRabbitMQ = "rabbitmq"
	KindMemory   = "memory"
)

const (
	DeliveryOutbox = "outbox"
	DeliveryDirect = "direct"
)

var ErrUnknownKind = errors.New("broker: unknown kind")

// Runner is a long-running component started under the service errgroup.
type Runner interface {
	Run(ctx context.Context) error
}

// Broker is an open connection to one message broker.
type Broker struct {
	kind      string
	cfg       config.Broker
	logger    *slog.Logger
	transport eventbus.Transport
	conn      *amqp.Connection
	mem       *membus.Bus
	topics    []string
}

// Open connects to the broker named by cfg.Kind.
func Open(ctx context.Context, cfg config.Broker, logger *slog.Logger) (*Broker, error) {
	cfg.KafkaBrokers = kafkax.SplitBrokers(strings.Join(cfg.KafkaBrokers, ","))
	b := &Broker{kind: cfg.Kind, cfg: cfg, logger: logger}
	switch cfg.Kind {
	case KindKafka:
		if len(cfg.KafkaBrokers) == 0 {
			return nil, errors.New("broker: KAFKA_BROKERS is required")
		}
		b.transport = kafkabus.NewTransport(cfg.KafkaBrokers)
	case KindRabbitMQ:
		if cfg.RabbitURL == "" {
			return nil, errors.New("broker: RABBITMQ_URL is required")
		}
		conn, err := amqpbus.Dial(ctx, cfg.RabbitURL, 10, logger)
		if err != nil {
			return nil, err
		}
		t, err := amqpbus.NewTransport(conn)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		b.conn, b.transport = conn, t
	case KindMemory:
		b.mem = membus.New(4)
		b.transport = b.mem.Transport()
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownKind, cfg.Kind)
	}
	return b, nil
}

// FromMemory wraps an existing in-memory bus, so several services in one
// process share it.
func FromMemory(bus *membus.Bus, logger *slog.Logger) *Broker {
	return &Broker{kind: KindMemory, logger: logger, mem: bus, transport: bus.Transport()}
}

func (b *Broker) Kind() string { return b.kind }

func (b *Broker) Transport() eventbus.Transport { return b.transport }

// EnsureTopics creates the topics on Kafka. Other brokers need no setup.
// The Kafka ready check then also requires these topics to exist.
func (b *Broker) EnsureTopics(ctx context.Context, topics ...string) error {
	b.topics = append(b.topics, topics...)
	if b.kind != KindKafka || len(topics) == 0 {
		return nil
	}
	return kafkabus.EnsureTopics(ctx, b.cfg.KafkaBrokers, 4, topics...)
}

// Subscriber returns the consumer loop feeding router.
func (b *Broker) Subscriber(router *eventbus.Router) Runner {
	switch b.kind {
	case KindKafka:
		return kafkabus.NewSubscriber(router, kafkabus.SubscriberConfig{
			Brokers: b.cfg.KafkaBrokers,
			GroupID: b.cfg.ConsumerGroup,
			Members: b.cfg.ConsumerMembers,
		}, b.logger)
	case KindRabbitMQ:
		return amqpbus.NewSubscriber(b.conn, router, b.logger)
	default:
		return b.mem.Subscriber(router, b.logger)
	}
}

func (b *Broker) ReadyCheck() runtime.ReadyCheck {
	switch b.kind {
	case KindKafka:
		return runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(b.cfg.KafkaBrokers, b.topics...)}
	case KindRabbitMQ:
		return runtime.ReadyCheck{Name: "rabbitmq", Check: amqpbus.ReadyCheck(b.conn)}
	default:
		return runtime.ReadyCheck{Name: "membus"}
	}
}

func (b *Broker) Close() error {
	err := b.transport.Close()
	if b.conn != nil {
		err = errors.Join(err, b.conn.Close())
	}
	return err
}

// Delivery is how a service hands integration events to the broker.
// Translators must be registered in Phase: outbox rows are written in the
// transaction, direct sends wait for the commit.
type Delivery struct {
	Publisher eventbus.Publisher
	Phase     ddd.Phase
	// Relay drains the outbox. Nil for direct delivery.
	Relay Runner
}

// NewDelivery builds the delivery selected by cfg.Delivery.
func NewDelivery(cfg config.Outbox, reg *eventbus.Registry, b *Broker, store outbox.Store, tx ddd.TxRunner, logger *slog.Logger) (Delivery, error) {
	switch cfg.Delivery {
	case DeliveryOutbox, "":
		relay := outbox.NewRelay(tx, store, b.Transport(), logger.With("component", "outbox-relay"), outbox.RelayConfig{
			PollInterval:    cfg.PollInterval,
			CleanupInterval: cfg.CleanupInterval,
			Retention:       cfg.Retention,
			BatchSize:       cfg.BatchSize,
			MaxAttempts:     cfg.MaxAttempts,
		})
		return Delivery{Publisher: outbox.NewPublisher(reg, store), Phase: ddd.InTransaction, Relay: relay}, nil
	case DeliveryDirect:
		pub := eventbus.NewRetryingPublisher(eventbus.NewBrokerPublisher(reg, b.Transport()), logger, 5)
		return Delivery{Publisher: pub, Phase: ddd.AfterCommit}, nil
	default:
		return Delivery{}, fmt.Errorf("broker: unknown delivery %q", cfg.Delivery)
	}
}

// Policy turns the consumer knobs into a subscription policy.
func Policy(cfg config.Consumer) eventbus.Policy {
	return eventbus.Policy{
		MaxAttempts: cfg.MaxAttempts,
		Timeout:     cfg.HandlerTimeout,
		Backoff:     eventbus.ExponentialBackoff(cfg.BackoffInitial, cfg.BackoffMax),
	}
}
