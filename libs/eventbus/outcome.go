package eventbus

import (
	"context"
	"time"
)

// Outcome is the terminal state of one delivery.
type Outcome int

const (
	// Acknowledged: handled, or nobody here cares about it.
	Acknowledged Outcome = iota
	// RedeliveryPending: not settled; the transport must not acknowledge.
	RedeliveryPending
	// DeadLettered: recorded in the dead-letter store; acknowledge.
	DeadLettered
)

func (o Outcome) String() string {
	switch o {
	case Acknowledged:
		return "acknowledged"
	case RedeliveryPending:
		return "redelivery_pending"
	case DeadLettered:
		return "dead_lettered"
	default:
		return "unknown"
	}
}

// Settled reports whether the transport may acknowledge the message.
func (o Outcome) Settled() bool { return o != RedeliveryPending }

// Dead-letter reasons.
const (
	ReasonDecode    = "decode"
	ReasonTenant    = "tenant"
	ReasonPermanent = "permanent"
	ReasonExhausted = "exhausted"
)

// DeadLetter is a message that could not be handled, kept verbatim so it can
// be inspected and replayed.
type DeadLetter struct {
	EventID    string
	EventType  string
	TenantID   string
	Topic      string
	Consumer   string
	Subscriber string
	Reason     string
	Error      string
	Attempts   int
	Key        []byte
	Payload    []byte
	Headers    map[string]string
	FailedAt   time.Time
}

type DeadLetterSink interface {
	Store(ctx context.Context, dl DeadLetter) error
}
