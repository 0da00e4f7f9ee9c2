// Package outbox stores integration events in the same transaction as the
// state change that produced them and relays them to the broker afterwards.
package outbox

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNoTransaction  = errors.New("outbox: insert outside a transaction")
	ErrRecordNotFound = errors.New("outbox: record not found")
)

// Status of an outbox row.
const (
	StatusPending   = "pending"
	StatusPublished = "published"
	StatusFailed    = "failed"
)

type Record struct {
	ID          int64
	EventID     string
	EventType   string
	TenantID    string
	Topic       string
	Key         []byte
	Payload     []byte
	Headers     map[string]string
	Traceparent string
	Tracestate  string
	Status      string
	Attempts    int
	LastError   string
	CreatedAt   time.Time
	PublishedAt *time.Time
}

// Store is the persistence behind Publisher and Relay. FetchPending and the
// Mark calls run inside the relay's transaction.
type Store interface {
	Insert(ctx context.Context, rec Record) error
	// Lock takes the relay lease for the current transaction. Only one relay
	// drains the table at a time so per-key order survives replicas.
	Lock(ctx context.Context) (bool, error)
	// FetchPending returns pending rows in id order, leaving out keyed rows
	// queued behind a parked row of the same topic and key.
	FetchPending(ctx context.Context, limit int) ([]Record, error)
	MarkPublished(ctx context.Context, ids []int64) error
	// MarkAttemptFailed records a failed send and reports whether the row
	// has now used up maxAttempts.
	MarkAttemptFailed(ctx context.Context, id int64, cause string, maxAttempts int) (bool, error)
	Purge(ctx context.Context, publishedBefore time.Time) (int64, error)
}

// Parked is the operator view of rows the relay gave up on.
type Parked interface {
	ListFailed(ctx context.Context, afterID int64, limit int) ([]Record, error)
	Requeue(ctx context.Context, id int64) (int64, error)
}
