package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/schoolsync/libs/db"
)

const (
	table = "outbox_events"

	colID          = "id"
	colEventID     = "event_id"
	colEventType   = "event_type"
	colTenantID    = "tenant_id"
	colTopic       = "topic"
	colKey         = "msg_key"
	colPayload     = "payload"
	colHeaders     = "headers"
	colTraceparent = "traceparent"
	colTracestate  = "tracestate"
	colStatus      = "status"
	colAttempts    = "attempts"
	colLastError   = "last_error"
	colCreatedAt   = "created_at"
	colPublishedAt = "published_at"

	// relayLockID keys the transaction-scoped advisory lock held while a
	// relay drains the table.
	relayLockID = 0x5c_00_0b_01
)

// blockedByFailed keeps a keyed row back while an older row with the same
// topic and key is parked.
const blockedByFailed = "NOT EXISTS (SELECT 1 FROM " + table + " f WHERE f." + colStatus + " = ?" +
	" AND f." + colTopic + " = " + table + "." + colTopic +
	" AND f." + colKey + " = " + table + "." + colKey +
	" AND f." + colID + " < " + table + "." + colID + ")"

// Repository is the Postgres Store. Every call uses the transaction bound to
// ctx when there is one.
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

func (r *Repository) Insert(ctx context.Context, rec Record) error {
	if !db.InTransaction(ctx) {
		return ErrNoTransaction
	}
	headers, err := sonic.Marshal(rec.Headers)
	if err != nil {
		return fmt.Errorf("outbox - Insert - marshal headers: %w", err)
	}
	sql, args, err := r.builder.
		Insert(table).
		Columns(colEventID, colEventType, colTenantID, colTopic, colKey, colPayload, colHeaders, colTraceparent, colTracestate).
		Values(rec.EventID, rec.EventType, rec.TenantID, rec.Topic, rec.Key, rec.Payload, headers, rec.Traceparent, rec.Tracestate).
		ToSql()
	if err != nil {
		return fmt.Errorf("outbox - Insert - ToSql: %w", err)
	}
	if _, err := r.pool.Conn(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("outbox - Insert - Exec: %w", err)
	}
	return nil
}

func (r *Repository) Lock(ctx context.Context) (bool, error) {
	var ok bool
	err := r.pool.Conn(ctx).QueryRow(ctx, "SELECT pg_try_advisory_xact_lock($1)", relayLockID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("outbox - Lock: %w", err)
	}
	return ok, nil
}

func (r *Repository) FetchPending(ctx context.Context, limit int) ([]Record, error) {
	sql, args, err := r.builder.
		Select(colID, colEventID, colEventType, colTenantID, colTopic, colKey, colPayload, colHeaders,
			colTraceparent, colTracestate, colStatus, colAttempts, colCreatedAt).
		From(table).
		Where(squirrel.Eq{colStatus: StatusPending}).
		Where(blockedByFailed, StatusFailed).
		OrderBy(colID).
		Limit(uint64(limit)).
		Suffix("FOR UPDATE SKIP LOCKED").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("outbox - FetchPending - ToSql: %w", err)
	}
	rows, err := r.pool.Conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("outbox - FetchPending - Query: %w", err)
	}
	out, err := scanRecords(rows, limit)
	if err != nil {
		return nil, fmt.Errorf("outbox - FetchPending - %w", err)
	}
	return out, nil
}

// ListFailed pages through parked rows in id order.
func (r *Repository) ListFailed(ctx context.Context, afterID int64, limit int) ([]Record, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	sql, args, err := r.builder.
		Select(colID, colEventID, colEventType, colTenantID, colTopic, colKey, colPayload, colHeaders,
			colTraceparent, colTracestate, colStatus, colAttempts, colCreatedAt, "COALESCE("+colLastError+", '')").
		From(table).
		Where(squirrel.Eq{colStatus: StatusFailed}).
		Where(squirrel.Gt{colID: afterID}).
		OrderBy(colID).
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("outbox - ListFailed - ToSql: %w", err)
	}
	rows, err := r.pool.Conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("outbox - ListFailed - Query: %w", err)
	}
	out, err := scanRecords(rows, limit, func(rec *Record) any { return &rec.LastError })
	if err != nil {
		return nil, fmt.Errorf("outbox - ListFailed - %w", err)
	}
	return out, nil
}

// Requeue moves a parked row back to pending with a fresh attempt budget.
// An id of zero requeues every parked row.
func (r *Repository) Requeue(ctx context.Context, id int64) (int64, error) {
	q := r.builder.
		Update(table).
		Set(colStatus, StatusPending).
		Set(colAttempts, 0).
		Where(squirrel.Eq{colStatus: StatusFailed})
	if id > 0 {
		q = q.Where(squirrel.Eq{colID: id})
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("outbox - Requeue - ToSql: %w", err)
	}
	tag, err := r.pool.Conn(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("outbox - Requeue - Exec: %w", err)
	}
	if id > 0 && tag.RowsAffected() == 0 {
		return 0, fmt.Errorf("outbox - Requeue: %w", ErrRecordNotFound)
	}
	return tag.RowsAffected(), nil
}

func scanRecords(rows pgx.Rows, capacity int, extra ...func(rec *Record) any) ([]Record, error) {
	defer rows.Close()
	out := make([]Record, 0, capacity)
	for rows.Next() {
		var (
			rec     Record
			headers []byte
		)
		dest := []any{&rec.ID, &rec.EventID, &rec.EventType, &rec.TenantID, &rec.Topic, &rec.Key, &rec.Payload,
			&headers, &rec.Traceparent, &rec.Tracestate, &rec.Status, &rec.Attempts, &rec.CreatedAt}
		for _, e := range extra {
			dest = append(dest, e(&rec))
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("Scan: %w", err)
		}
		if len(headers) > 0 {
			if err := sonic.Unmarshal(headers, &rec.Headers); err != nil {
				return nil, fmt.Errorf("headers of %d: %w", rec.ID, err)
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (r *Repository) MarkPublished(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	sql, args, err := r.builder.
		Update(table).
		Set(colStatus, StatusPublished).
		Set(colPublishedAt, time.Now().UTC()).
		Where(squirrel.Eq{colID: ids}).
		ToSql()
	if err != nil {
		return fmt.Errorf("outbox - MarkPublished - ToSql: %w", err)
	}
	tag, err := r.pool.Conn(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("outbox - MarkPublished - Exec: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("outbox - MarkPublished: %w", ErrRecordNotFound)
	}
	return nil
}

func (r *Repository) MarkAttemptFailed(ctx context.Context, id int64, cause string, maxAttempts int) (bool, error) {
	sql, args, err := r.builder.
		Update(table).
		Set(colAttempts, squirrel.Expr(colAttempts+" + 1")).
		Set(colLastError, cause).
		Set(colStatus, squirrel.Expr("CASE WHEN "+colAttempts+" + 1 >= ? THEN ? ELSE ? END", maxAttempts, StatusFailed, StatusPending)).
		Where(squirrel.Eq{colID: id}).
		Suffix("RETURNING " + colStatus).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("outbox - MarkAttemptFailed - ToSql: %w", err)
	}
	var status string
	if err := r.pool.Conn(ctx).QueryRow(ctx, sql, args...).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, fmt.Errorf("outbox - MarkAttemptFailed: %w", ErrRecordNotFound)
		}
		return false, fmt.Errorf("outbox - MarkAttemptFailed - Scan: %w", err)
	}
	return status == StatusFailed, nil
}

func (r *Repository) Purge(ctx context.Context, publishedBefore time.Time) (int64, error) {
	sql, args, err := r.builder.
		Delete(table).
		Where(squirrel.And{
			squirrel.Eq{colStatus: StatusPublished},
			squirrel.Lt{colPublishedAt: publishedBefore},
		}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("outbox - Purge - ToSql: %w", err)
	}
	tag, err := r.pool.Conn(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("outbox - Purge - Exec: %w", err)
	}
	return tag.RowsAffected(), nil
}

var (
	_ Store  = (*Repository)(nil)
	_ Parked = (*Repository)(nil)
)
