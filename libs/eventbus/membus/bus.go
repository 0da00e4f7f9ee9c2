// Package membus is an in-process partitioned log with consumer-group
// offsets. It mirrors the Kafka transport closely enough to run whole
// service graphs inside one test binary.
package membus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/md-rashed-zaman/schoolsync/libs/eventbus"
	otelx "github.com/md-rashed-zaman/schoolsync/libs/otel"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"
)

var errBusClosed = errors.New("membus: bus closed")

type record struct {
	msg    eventbus.Message
	offset int64
}

// Bus holds every topic in memory. Offsets survive subscriber restarts, so a
// message left uncommitted at shutdown is delivered again to the next Run of
// the same group.
type Bus struct {
	mu         sync.Mutex
	partitions int
	balancer   *kafka.Hash
	logs       map[string][][]record
	offsets    map[string]map[string][]int64
	changed    chan struct{}
	closed     bool
}

func New(partitions int) *Bus {
	if partitions <= 0 {
		partitions = 4
	}
	return &Bus{
		partitions: partitions,
		balancer:   &kafka.Hash{},
		logs:       map[string][][]record{},
		offsets:    map[string]map[string][]int64{},
		changed:    make(chan struct{}),
	}
}

// Transport returns the write side of the bus.
func (b *Bus) Transport() eventbus.Transport { return transport{b} }

type transport struct{ b *Bus }

func (t transport) Send(ctx context.Context, msgs ...eventbus.Message) error {
	return t.b.append(ctx, msgs)
}

// Close is a no-op; the bus outlives its writers.
func (transport) Close() error { return nil }

func (b *Bus) append(ctx context.Context, msgs []eventbus.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errBusClosed
	}
	for _, m := range msgs {
		headers := make(map[string]string, len(m.Headers)+2)
		for k, v := range m.Headers {
			headers[k] = v
		}
		m.Headers = otelx.InjectHeaders(ctx, headers)

		parts := b.topicLocked(m.Topic)
		p := b.partitionFor(m)
		parts[p] = append(parts[p], record{msg: m, offset: int64(len(parts[p]))})
	}
	close(b.changed)
	b.changed = make(chan struct{})
	return nil
}

func (b *Bus) partitionFor(m eventbus.Message) int {
	all := make([]int, b.partitions)
	for i := range all {
		all[i] = i
	}
	return b.balancer.Balance(kafka.Message{Key: m.Key}, all...)
}

func (b *Bus) topicLocked(topic string) [][]record {
	parts, ok := b.logs[topic]
	if !ok {
		parts = make([][]record, b.partitions)
		b.logs[topic] = parts
	}
	return parts
}

func (b *Bus) offsetsLocked(group, topic string) []int64 {
	byTopic, ok := b.offsets[group]
	if !ok {
		byTopic = map[string][]int64{}
		b.offsets[group] = byTopic
	}
	offs, ok := byTopic[topic]
	if !ok {
		offs = make([]int64, b.partitions)
		byTopic[topic] = offs
	}
	return offs
}

// next returns the record at the group's committed offset, or a channel that
// is closed on the next append.
func (b *Bus) next(group, topic string, partition int) (record, bool, <-chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	parts := b.topicLocked(topic)
	off := b.offsetsLocked(group, topic)[partition]
	if off < int64(len(parts[partition])) {
		return parts[partition][off], true, nil
	}
	return record{}, false, b.changed
}

func (b *Bus) commit(group, topic string, partition int, offset int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	offs := b.offsetsLocked(group, topic)
	if offset+1 > offs[partition] {
		offs[partition] = offset + 1
	}
}

// Lag is the number of messages on topics the group has subscribed to that
// it has not committed yet.
func (b *Bus) Lag(group string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	lag := 0
	for topic, offs := range b.offsets[group] {
		for p, parts := range b.logs[topic] {
			lag += len(parts) - int(offs[p])
		}
	}
	return lag
}

// Messages returns a copy of everything written to topic, in partition order.
func (b *Bus) Messages(topic string) []eventbus.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []eventbus.Message
	for _, part := range b.logs[topic] {
		for _, r := range part {
			out = append(out, r.msg)
		}
	}
	return out
}

// Close rejects further writes.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

// Subscriber drains every partition of the router's topics with one
// goroutine per partition. Only one Subscriber per group may run at a time.
type Subscriber struct {
	bus        *Bus
	router     *eventbus.Router
	logger     *slog.Logger
	retryPause time.Duration
}

// Subscriber registers the router's group at its current offsets, so Lag
// accounts for messages written before Run starts.
func (b *Bus) Subscriber(router *eventbus.Router, logger *slog.Logger) *Subscriber {
	s := &Subscriber{bus: b, router: router, logger: logger, retryPause: 10 * time.Millisecond}
	s.register()
	return s
}

func (s *Subscriber) register() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	for _, topic := range s.router.Topics() {
		s.bus.offsetsLocked(s.router.Consumer(), topic)
	}
}

func (s *Subscriber) Run(ctx context.Context) error {
	s.router.Freeze()
	s.register()
	group := s.router.Consumer()

	g, gctx := errgroup.WithContext(ctx)
	for _, topic := range s.router.Topics() {
		for p := 0; p < s.bus.partitions; p++ {
			g.Go(func() error {
				s.consume(gctx, group, topic, p)
				return nil
			})
		}
	}
	return g.Wait()
}

func (s *Subscriber) consume(ctx context.Context, group, topic string, partition int) {
	for {
		rec, ok, wait := s.bus.next(group, topic, partition)
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-wait:
				continue
			}
		}

		d := eventbus.Delivery{
			Topic:     topic,
			Partition: partition,
			Offset:    rec.offset,
			Key:       rec.msg.Key,
			Value:     rec.msg.Value,
			Headers:   rec.msg.Headers,
		}
		out := s.router.Deliver(otelx.ExtractHeaders(ctx, rec.msg.Headers), d)
		if out.Settled() {
			s.bus.commit(group, topic, partition, rec.offset)
			continue
		}
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("delivery pending, retrying", "group", group, "topic", topic, "partition", partition, "offset", rec.offset)
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.retryPause):
		}
	}
}
