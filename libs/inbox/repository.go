// Package inbox records which events each consumer has applied.
package inbox

import (
	"context"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/schoolsync/libs/db"
	"github.com/md-rashed-zaman/schoolsync/libs/eventbus"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Claim inserts (consumer, eventID) using the transaction bound to ctx. A
// unique violation would abort that transaction, so conflicts are skipped
// in SQL and detected from the affected row count.
func (r *Repository) Claim(ctx context.Context, consumer, eventID, eventType string) (bool, error) {
	tag, err := r.pool.Conn(ctx).Exec(ctx, `
		INSERT INTO inbox_events (consumer, event_id, event_type)
		VALUES ($1, $2, $3)
		ON CONFLICT (consumer, event_id) DO NOTHING
	`, consumer, eventID, eventType)
	if err != nil {
		return false, fmt.Errorf("inbox - Claim: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Purge drops claims older than before. Redelivery of a purged event is
// applied again, so retention must exceed the broker's.
func (r *Repository) Purge(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Conn(ctx).Exec(ctx, `DELETE FROM inbox_events WHERE processed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("inbox - Purge: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ eventbus.Inbox = (*Repository)(nil)
