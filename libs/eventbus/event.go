// Package eventbus carries integration events between services: the wire
// envelope, the type-to-topic registry, publishers, and the subscriber-side
// router with its retry and dead-letter policy. Broker specifics live in the
// kafkabus, amqpbus and membus subpackages.
package eventbus

import (
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/schoolsync/libs/ddd"
	"github.com/md-rashed-zaman/schoolsync/libs/tenant"
)

// Meta is the envelope metadata of an integration event. Contract types embed
// it with a `json:"-"` tag: it travels in the envelope, not the payload.
type Meta struct {
	EventID    string
	TenantID   tenant.ID
	OccurredAt time.Time
}

// NewMeta stamps a fresh event id.
func NewMeta(tenantID tenant.ID, occurredAt time.Time) Meta {
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}
	return Meta{
		EventID:    uuid.NewString(),
		TenantID:   tenantID,
		OccurredAt: occurredAt.UTC(),
	}
}

// MetaFrom derives the metadata of an integration event from the domain event
// it was translated from.
func MetaFrom(e ddd.Event) Meta {
	return NewMeta(e.TenantID(), e.OccurredAt())
}

func (m Meta) Metadata() Meta { return m }

func (m *Meta) SetMetadata(meta Meta) { *m = meta }

// IntegrationEvent is a fact published across service boundaries. EventType
// names the contract, for example "identity.tenant.created.v1".
type IntegrationEvent interface {
	EventType() string
	Metadata() Meta
}

// Keyed events choose their own partition key. Others are keyed by tenant,
// which keeps one tenant's events in order.
type Keyed interface {
	PartitionKey() string
}

func partitionKey(evt IntegrationEvent) string {
	if k, ok := evt.(Keyed); ok {
		if key := k.PartitionKey(); key != "" {
			return key
		}
	}
	return evt.Metadata().TenantID.String()
}
