package eventbus

import (
	"context"
	"fmt"
)

// Header names duplicated from the envelope onto broker messages.
const (
	HeaderEventID   = "event_id"
	HeaderEventType = "event_type"
	HeaderTenantID  = "tenant_id"
)

// Message is a broker-neutral record ready to be sent.
type Message struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// Transport writes messages to a broker. Send returns only once the broker
// accepted every message. Trace context is injected by the transport from ctx.
type Transport interface {
	Send(ctx context.Context, msgs ...Message) error
	Close() error
}

// BuildMessage resolves the topic, encodes the envelope and fills routing
// headers. It fails on a missing tenant or an unregistered type.
func BuildMessage(reg *Registry, evt IntegrationEvent) (Message, error) {
	meta := evt.Metadata()
	if meta.TenantID.Empty() {
		return Message{}, fmt.Errorf("%w: %s", ErrMissingTenant, evt.EventType())
	}
	topic, err := reg.Topic(evt.EventType())
	if err != nil {
		return Message{}, err
	}
	value, err := Encode(evt)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Topic: topic,
		Key:   []byte(partitionKey(evt)),
		Value: value,
		Headers: map[string]string{
			HeaderEventID:   meta.EventID,
			HeaderEventType: evt.EventType(),
			HeaderTenantID:  meta.TenantID.String(),
		},
	}, nil
}
