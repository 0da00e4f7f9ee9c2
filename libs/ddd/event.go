// Package ddd holds the in-process half of the event choreography: domain
// events raised by aggregates, the ledger that buffers them, and the unit of
// work that drains the ledger at the commit boundary.
package ddd

import (
	"time"

	"github.com/md-rashed-zaman/schoolsync/libs/tenant"
)

// Event is a fact raised by an aggregate inside one service. Domain events
// never leave the process; translators turn them into integration events.
type Event interface {
	EventName() string
	AggregateID() string
	TenantID() tenant.ID
	OccurredAt() time.Time
}

// EventBase is embedded by concrete domain events.
type EventBase struct {
	aggregateID string
	tenantID    tenant.ID
	occurredAt  time.Time
}

func NewEventBase(aggregateID string, tenantID tenant.ID) EventBase {
	return EventBase{
		aggregateID: aggregateID,
		tenantID:    tenantID,
		occurredAt:  time.Now().UTC(),
	}
}

func (b EventBase) AggregateID() string   { return b.aggregateID }
func (b EventBase) TenantID() tenant.ID   { return b.tenantID }
func (b EventBase) OccurredAt() time.Time { return b.occurredAt }
