package eventbus_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/md-rashed-zaman/schoolsync/libs/ddd"
	"github.com/md-rashed-zaman/schoolsync/libs/eventbus"
	"github.com/md-rashed-zaman/schoolsync/libs/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gradePosted struct {
	eventbus.Meta `json:"-"`
	StudentID     string `json:"student_id"`
	Score         int    `json:"score"`
}

func (gradePosted) EventType() string { return "test.grade.posted.v1" }

func (e gradePosted) PartitionKey() string { return e.StudentID }

type gradeDomainEvent struct {
	ddd.EventBase
	StudentID string
	Score     int
}

func (gradeDomainEvent) EventName() string { return "grade.posted" }

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func newRegistry(t *testing.T) *eventbus.Registry {
	t.Helper()
	reg := eventbus.NewRegistry()
	require.NoError(t, reg.Bind(gradePosted{}.EventType(), "grades.v1"))
	reg.Freeze()
	return reg
}

type captureTransport struct {
	mu   sync.Mutex
	msgs []eventbus.Message
	errs []error
}

func (c *captureTransport) Send(_ context.Context, msgs ...eventbus.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.errs) > 0 {
		err := c.errs[0]
		c.errs = c.errs[1:]
		if err != nil {
			return err
		}
	}
	c.msgs = append(c.msgs, msgs...)
	return nil
}

func (c *captureTransport) Close() error { return nil }

type memorySink struct {
	mu    sync.Mutex
	items []eventbus.DeadLetter
	err   error
}

func (s *memorySink) Store(_ context.Context, dl eventbus.DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.items = append(s.items, dl)
	return nil
}

type memoryInbox struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (m *memoryInbox) Claim(_ context.Context, consumer, eventID, _ string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen == nil {
		m.seen = map[string]bool{}
	}
	k := consumer + "/" + eventID
	if m.seen[k] {
		return false, nil
	}
	m.seen[k] = true
	return true, nil
}

type passthroughTx struct{}

func (passthroughTx) Do(ctx context.Context, fn func(context.Context) error) error { return fn(ctx) }

func fastPolicy(maxAttempts int) eventbus.Policy {
	p := eventbus.DefaultPolicy()
	p.MaxAttempts = maxAttempts
	p.Timeout = time.Second
	p.Backoff = func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }
	return p
}

func delivery(t *testing.T, reg *eventbus.Registry, evt eventbus.IntegrationEvent) eventbus.Delivery {
	t.Helper()
	msg, err := eventbus.BuildMessage(reg, evt)
	require.NoError(t, err)
	return eventbus.Delivery{Topic: msg.Topic, Key: msg.Key, Value: msg.Value, Headers: msg.Headers}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	reg := newRegistry(t)
	evt := gradePosted{Meta: eventbus.NewMeta("T1", time.Now()), StudentID: "s-1", Score: 91}

	msg, err := eventbus.BuildMessage(reg, evt)
	require.NoError(t, err)
	assert.Equal(t, "grades.v1", msg.Topic)
	assert.Equal(t, []byte("s-1"), msg.Key)
	assert.Equal(t, "T1", msg.Headers[eventbus.HeaderTenantID])

	env, err := eventbus.DecodeEnvelope(msg.Value)
	require.NoError(t, err)
	assert.Equal(t, evt.EventID, env.EventID)
	assert.Equal(t, "T1", env.TenantID)
	assert.Equal(t, evt.EventType(), env.Type)
	assert.True(t, evt.OccurredAt.Equal(env.OccurredAt))
	assert.JSONEq(t, `{"student_id":"s-1","score":91}`, string(env.Payload))
}

func TestDecodeEnvelopeRejectsGarbage(t *testing.T) {
	_, err := eventbus.DecodeEnvelope([]byte("not json"))
	require.ErrorIs(t, err, eventbus.ErrMalformedEnvelope)

	_, err = eventbus.DecodeEnvelope([]byte(`{"tenant_id":"T1"}`))
	require.ErrorIs(t, err, eventbus.ErrMalformedEnvelope)
}

func TestRegistryBindings(t *testing.T) {
	reg := eventbus.NewRegistry()
	require.NoError(t, reg.Bind("a.v1", "t1"))
	require.Error(t, reg.Bind("a.v1", "t2"))
	require.NoError(t, reg.Bind("b.v1", "t1"))
	require.NoError(t, reg.Bind("c.v1", "t2"))
	assert.Equal(t, []string{"t1", "t2"}, reg.Topics())
	assert.Equal(t, []string{"t1"}, reg.Topics("a.v1", "b.v1", "missing"))

	reg.Freeze()
	require.ErrorIs(t, reg.Bind("d.v1", "t3"), eventbus.ErrRegistryFrozen)
	_, err := reg.Topic("d.v1")
	require.ErrorIs(t, err, eventbus.ErrUnregisteredType)
}

func TestBrokerPublisherClassifiesFailures(t *testing.T) {
	reg := newRegistry(t)
	tr := &captureTransport{errs: []error{errors.New("broker down")}}
	pub := eventbus.NewBrokerPublisher(reg, tr)

	err := pub.Publish(context.Background(), gradePosted{Meta: eventbus.Meta{EventID: "e1"}})
	require.ErrorIs(t, err, eventbus.ErrMissingTenant)
	assert.False(t, eventbus.IsRetryable(err))

	err = pub.Publish(context.Background(), gradePosted{Meta: eventbus.NewMeta("T1", time.Time{})})
	require.Error(t, err)
	assert.True(t, eventbus.IsRetryable(err))

	require.NoError(t, pub.Publish(context.Background(), gradePosted{Meta: eventbus.NewMeta("T1", time.Time{})}))
	assert.Len(t, tr.msgs, 1)
}

func TestRetryingPublisherRetriesTransientFailures(t *testing.T) {
	reg := newRegistry(t)
	tr := &captureTransport{errs: []error{errors.New("timeout"), errors.New("timeout")}}
	pub := eventbus.NewRetryingPublisher(eventbus.NewBrokerPublisher(reg, tr), discard, 5)

	require.NoError(t, pub.Publish(context.Background(), gradePosted{Meta: eventbus.NewMeta("T1", time.Time{})}))
	assert.Len(t, tr.msgs, 1)
}

func TestRetryingPublisherAlertsWhenExhausted(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	reg := newRegistry(t)
	down := errors.New("down")
	tr := &captureTransport{errs: []error{down, down, down}}
	pub := eventbus.NewRetryingPublisher(eventbus.NewBrokerPublisher(reg, tr), logger, 2)

	err := pub.Publish(context.Background(), gradePosted{Meta: eventbus.NewMeta("T1", time.Time{})})
	require.ErrorIs(t, err, down)
	assert.Contains(t, buf.String(), `"alert":true`)
	assert.Empty(t, tr.msgs)
}

func TestTranslateSwallowsTranslationErrors(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	reg := newRegistry(t)
	tr := &captureTransport{}
	pub := eventbus.NewBrokerPublisher(reg, tr)

	h := eventbus.Translate(logger, pub, func(_ context.Context, d gradeDomainEvent) (gradePosted, error) {
		if d.Score < 0 {
			return gradePosted{}, errors.New("negative score")
		}
		if d.Score == 0 {
			return gradePosted{}, eventbus.ErrSkip
		}
		return gradePosted{Meta: eventbus.MetaFrom(d), StudentID: d.StudentID, Score: d.Score}, nil
	})

	ctx := context.Background()
	require.NoError(t, h(ctx, gradeDomainEvent{EventBase: ddd.NewEventBase("s-1", "T1"), StudentID: "s-1", Score: -1}))
	assert.Contains(t, buf.String(), "translation failed")
	require.NoError(t, h(ctx, gradeDomainEvent{EventBase: ddd.NewEventBase("s-1", "T1"), StudentID: "s-1", Score: 0}))
	assert.Empty(t, tr.msgs)

	require.NoError(t, h(ctx, gradeDomainEvent{EventBase: ddd.NewEventBase("s-1", "T1"), StudentID: "s-1", Score: 70}))
	require.Len(t, tr.msgs, 1)
	assert.Equal(t, "T1", tr.msgs[0].Headers[eventbus.HeaderTenantID])

	tr.errs = []error{errors.New("broker down")}
	err := h(ctx, gradeDomainEvent{EventBase: ddd.NewEventBase("s-1", "T1"), StudentID: "s-1", Score: 80})
	assert.True(t, eventbus.IsRetryable(err))
}

func TestMalformedMessageIsDeadLetteredAndAcknowledged(t *testing.T) {
	reg := newRegistry(t)
	sink := &memorySink{}
	router := eventbus.NewRouter("grades", reg, sink, discard)
	called := false
	require.NoError(t, eventbus.Subscribe(router, "grades.record", fastPolicy(3), func(context.Context, gradePosted) error {
		called = true
		return nil
	}))

	out := router.Deliver(context.Background(), eventbus.Delivery{
		Topic:   "grades.v1",
		Value:   []byte("{{{"),
		Headers: map[string]string{eventbus.HeaderEventID: "e-bad"},
	})

	assert.Equal(t, eventbus.DeadLettered, out)
	assert.True(t, out.Settled())
	assert.False(t, called)
	require.Len(t, sink.items, 1)
	assert.Equal(t, eventbus.ReasonDecode, sink.items[0].Reason)
	assert.Equal(t, "e-bad", sink.items[0].EventID)
	assert.Equal(t, []byte("{{{"), sink.items[0].Payload)
}

func TestUnboundTypeIsAcknowledged(t *testing.T) {
	reg := newRegistry(t)
	sink := &memorySink{}
	router := eventbus.NewRouter("other", reg, sink, discard)

	out := router.Deliver(context.Background(), delivery(t, reg, gradePosted{Meta: eventbus.NewMeta("T1", time.Time{})}))
	assert.Equal(t, eventbus.Acknowledged, out)
	assert.Empty(t, sink.items)
}

func TestMissingTenantIsDeadLetteredWithoutInvokingHandler(t *testing.T) {
	reg := newRegistry(t)
	sink := &memorySink{}
	router := eventbus.NewRouter("grades", reg, sink, discard)
	called := false
	require.NoError(t, eventbus.Subscribe(router, "grades.record", fastPolicy(3), func(context.Context, gradePosted) error {
		called = true
		return nil
	}))

	value := []byte(`{"event_id":"e1","tenant_id":"","occurred_at":"2024-01-01T00:00:00Z","type":"test.grade.posted.v1","payload":{}}`)
	out := router.Deliver(context.Background(), eventbus.Delivery{Topic: "grades.v1", Value: value})

	assert.Equal(t, eventbus.DeadLettered, out)
	assert.False(t, called)
	require.Len(t, sink.items, 1)
	assert.Equal(t, eventbus.ReasonTenant, sink.items[0].Reason)
}

func TestRouterRestoresTenantAndMetadata(t *testing.T) {
	reg := newRegistry(t)
	router := eventbus.NewRouter("grades", reg, &memorySink{}, discard)
	var (
		got    tenant.ID
		gotEvt gradePosted
		sent   = gradePosted{Meta: eventbus.NewMeta("T42", time.Now()), StudentID: "s-9", Score: 55}
	)
	require.NoError(t, eventbus.Subscribe(router, "grades.record", fastPolicy(1), func(ctx context.Context, e gradePosted) error {
		got, _ = tenant.CurrentTenantID(ctx)
		gotEvt = e
		return nil
	}))

	out := router.Deliver(context.Background(), delivery(t, reg, sent))
	assert.Equal(t, eventbus.Acknowledged, out)
	assert.Equal(t, tenant.ID("T42"), got)
	assert.Equal(t, sent.EventID, gotEvt.EventID)
	assert.Equal(t, tenant.ID("T42"), gotEvt.TenantID)
	assert.Equal(t, 55, gotEvt.Score)
}

func TestRetryableFailureRetriesThenSucceeds(t *testing.T) {
	reg := newRegistry(t)
	sink := &memorySink{}
	router := eventbus.NewRouter("grades", reg, sink, discard)
	attempts := 0
	require.NoError(t, eventbus.Subscribe(router, "grades.record", fastPolicy(5), func(context.Context, gradePosted) error {
		attempts++
		if attempts < 3 {
			return errors.New("db busy")
		}
		return nil
	}))

	out := router.Deliver(context.Background(), delivery(t, reg, gradePosted{Meta: eventbus.NewMeta("T1", time.Time{})}))
	assert.Equal(t, eventbus.Acknowledged, out)
	assert.Equal(t, 3, attempts)
	assert.Empty(t, sink.items)
}

func TestExhaustedRetriesAreDeadLettered(t *testing.T) {
	reg := newRegistry(t)
	sink := &memorySink{}
	router := eventbus.NewRouter("grades", reg, sink, discard)
	attempts := 0
	require.NoError(t, eventbus.Subscribe(router, "grades.record", fastPolicy(4), func(context.Context, gradePosted) error {
		attempts++
		panic("nil map")
	}))

	out := router.Deliver(context.Background(), delivery(t, reg, gradePosted{Meta: eventbus.NewMeta("T1", time.Time{})}))
	assert.Equal(t, eventbus.DeadLettered, out)
	assert.Equal(t, 4, attempts)
	require.Len(t, sink.items, 1)
	assert.Equal(t, eventbus.ReasonExhausted, sink.items[0].Reason)
	assert.Equal(t, 4, sink.items[0].Attempts)
	assert.Equal(t, "grades.record", sink.items[0].Subscriber)
}

var errStudentUnknown = errors.New("student unknown")

func TestPermanentFailureSkipsRetries(t *testing.T) {
	reg := newRegistry(t)
	sink := &memorySink{}
	router := eventbus.NewRouter("grades", reg, sink, discard)
	policy := fastPolicy(5)
	policy.Classify = eventbus.PermanentOn(errStudentUnknown)
	attempts := 0
	require.NoError(t, eventbus.Subscribe(router, "grades.record", policy, func(context.Context, gradePosted) error {
		attempts++
		return errStudentUnknown
	}))

	out := router.Deliver(context.Background(), delivery(t, reg, gradePosted{Meta: eventbus.NewMeta("T1", time.Time{})}))
	assert.Equal(t, eventbus.DeadLettered, out)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, eventbus.ReasonPermanent, sink.items[0].Reason)
}

func TestShutdownDuringRetryLeavesMessagePending(t *testing.T) {
	reg := newRegistry(t)
	sink := &memorySink{}
	router := eventbus.NewRouter("grades", reg, sink, discard)
	policy := fastPolicy(10)
	policy.Backoff = func() backoff.BackOff { return backoff.NewConstantBackOff(time.Hour) }

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, eventbus.Subscribe(router, "grades.record", policy, func(context.Context, gradePosted) error {
		cancel()
		return errors.New("db busy")
	}))

	out := router.Deliver(ctx, delivery(t, reg, gradePosted{Meta: eventbus.NewMeta("T1", time.Time{})}))
	assert.Equal(t, eventbus.RedeliveryPending, out)
	assert.False(t, out.Settled())
	assert.Empty(t, sink.items)
}

func TestRedeliveryDoesNotDeadLetterTwice(t *testing.T) {
	reg := newRegistry(t)
	sink := &memorySink{}
	router := eventbus.NewRouter("grades", reg, sink, discard)
	policy := fastPolicy(1)
	policy.Classify = eventbus.PermanentOn(errStudentUnknown)
	broken := 0
	require.NoError(t, eventbus.Subscribe(router, "grades.record", policy, func(context.Context, gradePosted) error {
		broken++
		return errStudentUnknown
	}))

	ctx, cancel := context.WithCancel(context.Background())
	slow := fastPolicy(10)
	slow.Backoff = func() backoff.BackOff { return backoff.NewConstantBackOff(time.Hour) }
	notified := 0
	require.NoError(t, eventbus.Subscribe(router, "grades.notify", slow, func(context.Context, gradePosted) error {
		notified++
		if notified == 1 {
			cancel()
			return errors.New("smtp busy")
		}
		return nil
	}))

	d := delivery(t, reg, gradePosted{Meta: eventbus.NewMeta("T1", time.Time{})})
	assert.Equal(t, eventbus.RedeliveryPending, router.Deliver(ctx, d))
	require.Len(t, sink.items, 1)

	assert.Equal(t, eventbus.DeadLettered, router.Deliver(context.Background(), d))
	assert.Equal(t, 1, broken)
	assert.Equal(t, 2, notified)
	require.Len(t, sink.items, 1)
	assert.Equal(t, "grades.record", sink.items[0].Subscriber)

	// Settled entries are dropped once the delivery is terminal.
	assert.Equal(t, eventbus.DeadLettered, router.Deliver(context.Background(), d))
	assert.Equal(t, 2, broken)
	assert.Len(t, sink.items, 2)
}

func TestHandlerTimeoutIsRetryable(t *testing.T) {
	reg := newRegistry(t)
	router := eventbus.NewRouter("grades", reg, &memorySink{}, discard)
	policy := fastPolicy(2)
	policy.Timeout = 5 * time.Millisecond
	attempts := 0
	require.NoError(t, eventbus.Subscribe(router, "grades.record", policy, func(ctx context.Context, _ gradePosted) error {
		attempts++
		if attempts == 1 {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	}))

	out := router.Deliver(context.Background(), delivery(t, reg, gradePosted{Meta: eventbus.NewMeta("T1", time.Time{})}))
	assert.Equal(t, eventbus.Acknowledged, out)
	assert.Equal(t, 2, attempts)
}

func TestSinkFailureLeavesMessagePending(t *testing.T) {
	reg := newRegistry(t)
	router := eventbus.NewRouter("grades", reg, &memorySink{err: errors.New("db down")}, discard)

	out := router.Deliver(context.Background(), eventbus.Delivery{Topic: "grades.v1", Value: []byte("garbage")})
	assert.Equal(t, eventbus.RedeliveryPending, out)
}

func TestIdempotentHandlerAppliesDuplicateOnce(t *testing.T) {
	reg := newRegistry(t)
	router := eventbus.NewRouter("grades", reg, &memorySink{}, discard)
	inbox := &memoryInbox{}
	applied := 0
	require.NoError(t, eventbus.Subscribe(router, "grades.record", fastPolicy(3),
		eventbus.Idempotent(passthroughTx{}, inbox, "grades", func(context.Context, gradePosted) error {
			applied++
			return nil
		})))

	d := delivery(t, reg, gradePosted{Meta: eventbus.NewMeta("T1", time.Time{}), StudentID: "s-1"})
	for i := 0; i < 3; i++ {
		assert.Equal(t, eventbus.Acknowledged, router.Deliver(context.Background(), d))
	}
	assert.Equal(t, 1, applied)
}

func TestSubscribeRequiresRegisteredTypeAndUniqueName(t *testing.T) {
	router := eventbus.NewRouter("grades", eventbus.NewRegistry(), nil, discard)
	err := eventbus.Subscribe(router, "x", fastPolicy(1), func(context.Context, gradePosted) error { return nil })
	require.ErrorIs(t, err, eventbus.ErrUnregisteredType)

	reg := newRegistry(t)
	router = eventbus.NewRouter("grades", reg, nil, discard)
	require.NoError(t, eventbus.Subscribe(router, "x", fastPolicy(1), func(context.Context, gradePosted) error { return nil }))
	require.Error(t, eventbus.Subscribe(router, "x", fastPolicy(1), func(context.Context, gradePosted) error { return nil }))
	assert.Equal(t, []string{"grades.v1"}, router.Topics())

	router.Freeze()
	require.ErrorIs(t, eventbus.Subscribe(router, "y", fastPolicy(1), func(context.Context, gradePosted) error { return nil }), eventbus.ErrRouterFrozen)
}
