// Package deadletter stores messages a consumer gave up on and exposes them
// for inspection and replay.
package deadletter

import (
	"context"
	"errors"
	"time"

	"github.com/md-rashed-zaman/schoolsync/libs/eventbus"
)

var ErrNotFound = errors.New("deadletter: entry not found")

// Entry is a stored dead letter.
type Entry struct {
	ID int64
	eventbus.DeadLetter
	ReplayedAt *time.Time
}

type Filter struct {
	Consumer string
	TenantID string
	// AfterID pages forward through entries in id order.
	AfterID         int64
	Limit           int
	IncludeReplayed bool
}

func (f Filter) limit() int {
	if f.Limit <= 0 || f.Limit > 500 {
		return 100
	}
	return f.Limit
}

// Store is the queryable side of a sink.
type Store interface {
	eventbus.DeadLetterSink
	List(ctx context.Context, f Filter) ([]Entry, error)
	Get(ctx context.Context, id int64) (Entry, error)
	MarkReplayed(ctx context.Context, id int64, at time.Time) error
}
