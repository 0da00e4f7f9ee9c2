package kafkabus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/schoolsync/libs/eventbus"
	"github.com/md-rashed-zaman/schoolsync/libs/kafkax"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"
)

type SubscriberConfig struct {
	Brokers []string
	// GroupID defaults to the router's consumer name.
	GroupID string
	// Members is the number of group readers started by this process.
	Members int
	// RetryPause is the wait before a pending delivery is offered again.
	RetryPause time.Duration
}

// Subscriber feeds a consumer group into a router. Offsets are committed
// only after the router settles a message, so a crash mid-handler leads to
// redelivery rather than loss.
type Subscriber struct {
	router *eventbus.Router
	cfg    SubscriberConfig
	logger *slog.Logger
}

func NewSubscriber(router *eventbus.Router, cfg SubscriberConfig, logger *slog.Logger) *Subscriber {
	if cfg.GroupID == "" {
		cfg.GroupID = router.Consumer()
	}
	if cfg.Members <= 0 {
		cfg.Members = 1
	}
	if cfg.RetryPause <= 0 {
		cfg.RetryPause = time.Second
	}
	return &Subscriber{router: router, cfg: cfg, logger: logger}
}

// Run blocks until ctx is cancelled. The router is frozen on entry.
func (s *Subscriber) Run(ctx context.Context) error {
	s.router.Freeze()
	topics := s.router.Topics()
	if len(topics) == 0 {
		s.logger.Warn("kafka subscriber idle (no subscriptions)", "group", s.cfg.GroupID)
		<-ctx.Done()
		return nil
	}
	if len(s.cfg.Brokers) == 0 {
		return fmt.Errorf("kafka subscriber %s: no brokers configured", s.cfg.GroupID)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < s.cfg.Members; i++ {
		member := i
		g.Go(func() error {
			return s.member(gctx, member, topics)
		})
	}
	return g.Wait()
}

func (s *Subscriber) member(ctx context.Context, id int, topics []string) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     s.cfg.Brokers,
		GroupID:     s.cfg.GroupID,
		GroupTopics: topics,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	defer reader.Close()

	logger := s.logger.With("group", s.cfg.GroupID, "member", id)
	logger.Info("kafka subscriber started", "topics", topics)

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error("kafka fetch error", "err", err)
			if !sleep(ctx, time.Second) {
				return nil
			}
			continue
		}
		if !s.handle(ctx, logger, reader, msg) {
			return nil
		}
	}
}

// handle keeps offering msg to the router until it settles. Returning false
// means shutdown began with msg uncommitted.
func (s *Subscriber) handle(ctx context.Context, logger *slog.Logger, reader *kafka.Reader, msg kafka.Message) bool {
	d := eventbus.Delivery{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       msg.Key,
		Value:     msg.Value,
		Headers:   kafkax.HeadersToMap(msg.Headers),
	}
	msgCtx := kafkax.ExtractTraceContext(ctx, msg)

	for {
		out := s.router.Deliver(msgCtx, d)
		if out.Settled() {
			commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			err := reader.CommitMessages(commitCtx, msg)
			cancel()
			if err != nil {
				logger.Error("kafka commit failed", "err", err, "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)
			}
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		meta := kafkax.ExtractEventMeta(msg)
		logger.Warn("delivery pending, retrying", "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset,
			"event_id", meta.EventID, "event_type", meta.EventType, "tenant_id", meta.TenantID)
		if !sleep(ctx, s.cfg.RetryPause) {
			return false
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
