package deadletter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/schoolsync/libs/db"
	"github.com/md-rashed-zaman/schoolsync/libs/eventbus"
)

const (
	table = "dead_letters"

	colID         = "id"
	colEventID    = "event_id"
	colEventType  = "event_type"
	colTenantID   = "tenant_id"
	colTopic      = "topic"
	colConsumer   = "consumer"
	colSubscriber = "subscriber"
	colReason     = "reason"
	colError      = "error"
	colAttempts   = "attempts"
	colKey        = "msg_key"
	colPayload    = "payload"
	colHeaders    = "headers"
	colFailedAt   = "failed_at"
	colReplayedAt = "replayed_at"
)

var selectColumns = []string{
	colID, colEventID, colEventType, colTenantID, colTopic, colConsumer, colSubscriber,
	colReason, colError, colAttempts, colKey, colPayload, colHeaders, colFailedAt, colReplayedAt,
}

// Repository keeps dead letters in Postgres. Store writes outside any
// handler transaction so the record survives the handler's rollback.
type Repository struct {
	pool    *db.Pool
	builder squirrel.StatementBuilderType
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{
		pool:    pool,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

func (r *Repository) Store(ctx context.Context, dl eventbus.DeadLetter) error {
	headers, err := sonic.Marshal(dl.Headers)
	if err != nil {
		return fmt.Errorf("deadletter - Store - marshal headers: %w", err)
	}
	payload := dl.Payload
	if payload == nil {
		payload = []byte{}
	}
	sql, args, err := r.builder.
		Insert(table).
		Columns(colEventID, colEventType, colTenantID, colTopic, colConsumer, colSubscriber,
			colReason, colError, colAttempts, colKey, colPayload, colHeaders, colFailedAt).
		Values(dl.EventID, dl.EventType, dl.TenantID, dl.Topic, dl.Consumer, dl.Subscriber,
			dl.Reason, dl.Error, dl.Attempts, dl.Key, payload, headers, dl.FailedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("deadletter - Store - ToSql: %w", err)
	}
	if _, err := r.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("deadletter - Store - Exec: %w", err)
	}
	return nil
}

func (r *Repository) List(ctx context.Context, f Filter) ([]Entry, error) {
	where := squirrel.And{squirrel.Gt{colID: f.AfterID}}
	if f.Consumer != "" {
		where = append(where, squirrel.Eq{colConsumer: f.Consumer})
	}
	if f.TenantID != "" {
		where = append(where, squirrel.Eq{colTenantID: f.TenantID})
	}
	if !f.IncludeReplayed {
		where = append(where, squirrel.Eq{colReplayedAt: nil})
	}
	sql, args, err := r.builder.
		Select(selectColumns...).
		From(table).
		Where(where).
		OrderBy(colID).
		Limit(uint64(f.limit())).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("deadletter - List - ToSql: %w", err)
	}
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("deadletter - List - Query: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("deadletter - List - Scan: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("deadletter - List - rows: %w", err)
	}
	return out, nil
}

func (r *Repository) Get(ctx context.Context, id int64) (Entry, error) {
	sql, args, err := r.builder.
		Select(selectColumns...).
		From(table).
		Where(squirrel.Eq{colID: id}).
		ToSql()
	if err != nil {
		return Entry{}, fmt.Errorf("deadletter - Get - ToSql: %w", err)
	}
	e, err := scanEntry(r.pool.QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("deadletter - Get - Scan: %w", err)
	}
	return e, nil
}

func (r *Repository) MarkReplayed(ctx context.Context, id int64, at time.Time) error {
	sql, args, err := r.builder.
		Update(table).
		Set(colReplayedAt, at).
		Where(squirrel.Eq{colID: id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("deadletter - MarkReplayed - ToSql: %w", err)
	}
	tag, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("deadletter - MarkReplayed - Exec: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		e       Entry
		headers []byte
	)
	err := row.Scan(&e.ID, &e.EventID, &e.EventType, &e.TenantID, &e.Topic, &e.Consumer, &e.Subscriber,
		&e.Reason, &e.Error, &e.Attempts, &e.Key, &e.Payload, &headers, &e.FailedAt, &e.ReplayedAt)
	if err != nil {
		return Entry{}, err
	}
	if len(headers) > 0 {
		if err := sonic.Unmarshal(headers, &e.Headers); err != nil {
			return Entry{}, err
		}
	}
	return e, nil
}

var _ Store = (*Repository)(nil)
