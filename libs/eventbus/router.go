package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	otelx "github.com/md-rashed-zaman/schoolsync/libs/otel"
	"github.com/md-rashed-zaman/schoolsync/libs/tenant"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var ErrRouterFrozen = errors.New("eventbus: router is frozen")

// Delivery is one message handed to the router by a transport.
type Delivery struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
}

type binding struct {
	name      string
	eventType string
	policy    Policy
	prepare   func(env Envelope) (func(ctx context.Context) error, error)
}

// Router decodes deliveries, restores the tenant and runs every subscription
// bound to the event type under its policy. One Router serves one consumer
// group; bindings are fixed once a transport starts consuming.
type Router struct {
	consumer string
	registry *Registry
	sink     DeadLetterSink
	logger   *slog.Logger

	mu       sync.RWMutex
	bindings map[string][]*binding
	names    map[string]bool
	frozen   bool

	// settled holds, per event id, the subscriptions already dead-lettered
	// while the delivery as a whole is still pending.
	settledMu sync.Mutex
	settled   map[string]map[string]bool
}

// NewRouter returns a router for consumer. A nil sink logs dead letters
// instead of storing them.
func NewRouter(consumer string, reg *Registry, sink DeadLetterSink, logger *slog.Logger) *Router {
	r := &Router{
		consumer: consumer,
		registry: reg,
		sink:     sink,
		logger:   logger.With("consumer", consumer),
		bindings: map[string][]*binding{},
		names:    map[string]bool{},
		settled:  map[string]map[string]bool{},
	}
	if r.sink == nil {
		r.sink = logSink{logger: r.logger}
	}
	return r
}

func (r *Router) Consumer() string { return r.consumer }

// Subscribe binds h to the event type of E. The type must be registered.
// Subscriptions to the same type run in registration order.
func Subscribe[E any, PE interface {
	*E
	IntegrationEvent
	SetMetadata(Meta)
}](r *Router, name string, policy Policy, h func(ctx context.Context, evt E) error) error {
	var zero E
	eventType := PE(&zero).EventType()
	if _, err := r.registry.Topic(eventType); err != nil {
		return err
	}
	return r.add(&binding{
		name:      name,
		eventType: eventType,
		policy:    policy.normalized(),
		prepare: func(env Envelope) (func(ctx context.Context) error, error) {
			var evt E
			if err := DecodePayload(env, PE(&evt)); err != nil {
				return nil, err
			}
			PE(&evt).SetMetadata(Meta{
				EventID:    env.EventID,
				TenantID:   tenant.ID(env.TenantID),
				OccurredAt: env.OccurredAt,
			})
			return func(ctx context.Context) error { return h(ctx, evt) }, nil
		},
	})
}

func (r *Router) add(b *binding) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrRouterFrozen
	}
	if r.names[b.name] {
		return fmt.Errorf("eventbus: subscription %q already registered", b.name)
	}
	r.names[b.name] = true
	r.bindings[b.eventType] = append(r.bindings[b.eventType], b)
	return nil
}

// Freeze is called by transports before consuming.
func (r *Router) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Topics lists the topics carrying at least one bound event type.
func (r *Router) Topics() []string {
	r.mu.RLock()
	types := make([]string, 0, len(r.bindings))
	for t := range r.bindings {
		types = append(types, t)
	}
	r.mu.RUnlock()
	sort.Strings(types)
	return r.registry.Topics(types...)
}

func (r *Router) bindingsFor(eventType string) []*binding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bindings[eventType]
}

// Deliver runs one message to a terminal outcome. It never panics and never
// returns an error: every failure is either dead-lettered or left pending.
//
// A delivery for which one subscription is pending is reported pending as a
// whole; subscriptions that already succeeded see it again and must be
// idempotent. Subscriptions that were dead-lettered are skipped on the
// redelivery so each gets one dead letter. That memory is per process: a
// redelivery after a restart can store a second dead letter for the same
// subscription.
func (r *Router) Deliver(ctx context.Context, d Delivery) Outcome {
	env, err := DecodeEnvelope(d.Value)
	if err != nil {
		return r.deadLetter(ctx, d, envelopeFromHeaders(d), "", ReasonDecode, err, 0)
	}

	bindings := r.bindingsFor(env.Type)
	if len(bindings) == 0 {
		r.logger.Debug("event ignored", "event_type", env.Type, "event_id", env.EventID)
		return Acknowledged
	}
	if tenant.ID(env.TenantID).Empty() {
		return r.deadLetter(ctx, d, env, "", ReasonTenant, ErrMissingTenant, 0)
	}

	ctx = tenant.WithTenant(ctx, tenant.ID(env.TenantID))
	ctx, span := otelx.Tracer().Start(ctx, "eventbus.deliver", trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination", d.Topic),
			attribute.String("messaging.consumer_group", r.consumer),
			attribute.String("event.type", env.Type),
			attribute.String("event.id", env.EventID),
			attribute.String("tenant.id", env.TenantID),
		),
	)
	defer span.End()

	settled := r.settledFor(env.EventID)
	outcome := Acknowledged
	for _, b := range bindings {
		if settled[b.name] {
			r.logger.Debug("subscription already dead-lettered, skipping", "subscription", b.name, "event_id", env.EventID)
			outcome = DeadLettered
			continue
		}
		switch r.run(ctx, b, env, d) {
		case RedeliveryPending:
			r.rememberSettled(env.EventID, settled)
			span.SetStatus(codes.Error, "redelivery pending")
			return RedeliveryPending
		case DeadLettered:
			settled[b.name] = true
			outcome = DeadLettered
		}
	}
	r.rememberSettled(env.EventID, nil)
	span.SetAttributes(attribute.String("event.outcome", outcome.String()))
	return outcome
}

// settledFor returns a copy of the dead-lettered subscriptions of eventID.
func (r *Router) settledFor(eventID string) map[string]bool {
	r.settledMu.Lock()
	defer r.settledMu.Unlock()
	out := make(map[string]bool, len(r.settled[eventID]))
	for name := range r.settled[eventID] {
		out[name] = true
	}
	return out
}

// rememberSettled keeps names for the redelivery of eventID. An empty set
// drops the entry.
func (r *Router) rememberSettled(eventID string, names map[string]bool) {
	r.settledMu.Lock()
	defer r.settledMu.Unlock()
	if len(names) == 0 {
		delete(r.settled, eventID)
		return
	}
	r.settled[eventID] = names
}

func (r *Router) run(ctx context.Context, b *binding, env Envelope, d Delivery) Outcome {
	call, err := b.prepare(env)
	if err != nil {
		return r.deadLetter(ctx, d, env, b.name, ReasonDecode, err, 0)
	}

	schedule := b.policy.Backoff()
	for attempt := 1; ; attempt++ {
		err := b.policy.invoke(ctx, call)
		if err == nil {
			r.logger.Debug("event handled", "subscription", b.name, "event_type", env.Type, "event_id", env.EventID, "tenant_id", env.TenantID, "attempt", attempt)
			return Acknowledged
		}
		if b.policy.Classify(err) == ClassPermanent {
			return r.deadLetter(ctx, d, env, b.name, ReasonPermanent, err, attempt)
		}
		if attempt >= b.policy.MaxAttempts {
			return r.deadLetter(ctx, d, env, b.name, ReasonExhausted, err, attempt)
		}
		wait := schedule.NextBackOff()
		if wait == backoff.Stop {
			return r.deadLetter(ctx, d, env, b.name, ReasonExhausted, err, attempt)
		}

		r.logger.Warn("event handler failed, retrying",
			"err", err,
			"subscription", b.name,
			"event_type", env.Type,
			"event_id", env.EventID,
			"tenant_id", env.TenantID,
			"attempt", attempt,
			"retry_in_ms", wait.Milliseconds(),
		)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			r.logger.Info("shutdown during retry, leaving event for redelivery", "subscription", b.name, "event_id", env.EventID)
			return RedeliveryPending
		case <-timer.C:
		}
	}
}

func (r *Router) deadLetter(ctx context.Context, d Delivery, env Envelope, subscription, reason string, cause error, attempts int) Outcome {
	dl := DeadLetter{
		EventID:    env.EventID,
		EventType:  env.Type,
		TenantID:   env.TenantID,
		Topic:      d.Topic,
		Consumer:   r.consumer,
		Subscriber: subscription,
		Reason:     reason,
		Error:      cause.Error(),
		Attempts:   attempts,
		Key:        d.Key,
		Payload:    d.Value,
		Headers:    d.Headers,
		FailedAt:   time.Now().UTC(),
	}

	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.sink.Store(storeCtx, dl); err != nil {
		r.logger.Error("dead-letter store failed, leaving event for redelivery",
			"alert", true,
			"err", err,
			"cause", cause,
			"event_id", dl.EventID,
			"topic", dl.Topic,
		)
		return RedeliveryPending
	}
	r.logger.Warn("event dead-lettered",
		"reason", reason,
		"err", cause,
		"subscription", subscription,
		"event_type", dl.EventType,
		"event_id", dl.EventID,
		"tenant_id", dl.TenantID,
		"topic", dl.Topic,
		"attempts", attempts,
	)
	return DeadLettered
}

func envelopeFromHeaders(d Delivery) Envelope {
	return Envelope{
		EventID:  d.Headers[HeaderEventID],
		Type:     d.Headers[HeaderEventType],
		TenantID: d.Headers[HeaderTenantID],
	}
}

type logSink struct{ logger *slog.Logger }

func (s logSink) Store(_ context.Context, dl DeadLetter) error {
	s.logger.Error("dead letter without store",
		"alert", true,
		"event_id", dl.EventID,
		"event_type", dl.EventType,
		"topic", dl.Topic,
		"reason", dl.Reason,
		"payload", string(dl.Payload),
	)
	return nil
}
