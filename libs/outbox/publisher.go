package outbox

import (
	"context"

	"github.com/md-rashed-zaman/schoolsync/libs/eventbus"
	otelx "github.com/md-rashed-zaman/schoolsync/libs/otel"
)

// Publisher writes integration events to the outbox instead of the broker.
// It must be called inside the transaction of the state change, which is
// what the InTransaction dispatch phase provides.
type Publisher struct {
	registry *eventbus.Registry
	store    Store
}

func NewPublisher(reg *eventbus.Registry, store Store) *Publisher {
	return &Publisher{registry: reg, store: store}
}

func (p *Publisher) Publish(ctx context.Context, evt eventbus.IntegrationEvent) error {
	meta := evt.Metadata()
	msg, err := eventbus.BuildMessage(p.registry, evt)
	if err != nil {
		return &eventbus.PublishError{EventType: evt.EventType(), EventID: meta.EventID, Err: err}
	}
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	err = p.store.Insert(ctx, Record{
		EventID:     meta.EventID,
		EventType:   evt.EventType(),
		TenantID:    meta.TenantID.String(),
		Topic:       msg.Topic,
		Key:         msg.Key,
		Payload:     msg.Value,
		Headers:     msg.Headers,
		Traceparent: traceparent,
		Tracestate:  tracestate,
	})
	if err != nil {
		return &eventbus.PublishError{EventType: evt.EventType(), EventID: meta.EventID, Retryable: true, Err: err}
	}
	return nil
}

var _ eventbus.Publisher = (*Publisher)(nil)
