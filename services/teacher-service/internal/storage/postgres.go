package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/schoolsync/libs/db"
	"github.com/md-rashed-zaman/schoolsync/libs/tenant"
	"github.com/md-rashed-zaman/schoolsync/services/teacher-service/internal/teachers"
)

const uniqueViolation = "23505"

type Postgres struct {
	pool *db.Pool
	sq   squirrel.StatementBuilderType
}

func NewPostgres(pool *db.Pool) *Postgres {
	return &Postgres{pool: pool, sq: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)}
}

func (p *Postgres) Open(ctx context.Context, f teachers.Faculty) (bool, error) {
	tenantID, err := tenant.Match(ctx, f.TenantID)
	if err != nil {
		return false, fmt.Errorf("faculties - Open: %w", err)
	}
	sql, args, err := p.sq.
		Insert("faculties").
		Columns("tenant_id", "school_name", "active", "created_at").
		Values(tenantID.String(), f.SchoolName, f.Active, f.CreatedAt).
		Suffix("ON CONFLICT (tenant_id) DO NOTHING").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("faculties - Open - ToSql: %w", err)
	}
	tag, err := p.pool.Conn(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return false, fmt.Errorf("faculties - Open - Exec: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (p *Postgres) Close(ctx context.Context) error {
	tenantID, err := tenant.CurrentTenantID(ctx)
	if err != nil {
		return fmt.Errorf("faculties - Close: %w", err)
	}
	sql, args, err := p.sq.
		Update("faculties").
		Set("active", false).
		Where(squirrel.Eq{"tenant_id": tenantID.String()}).
		ToSql()
	if err != nil {
		return fmt.Errorf("faculties - Close - ToSql: %w", err)
	}
	tag, err := p.pool.Conn(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("faculties - Close - Exec: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return teachers.ErrNoFaculty
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context) (teachers.Faculty, error) {
	tenantID, err := tenant.CurrentTenantID(ctx)
	if err != nil {
		return teachers.Faculty{}, fmt.Errorf("faculties - Get: %w", err)
	}
	sql, args, err := p.sq.
		Select("school_name", "active", "created_at").
		From("faculties").
		Where(squirrel.Eq{"tenant_id": tenantID.String()}).
		Suffix("FOR SHARE").
		ToSql()
	if err != nil {
		return teachers.Faculty{}, fmt.Errorf("faculties - Get - ToSql: %w", err)
	}
	f := teachers.Faculty{TenantID: tenantID}
	err = p.pool.Conn(ctx).QueryRow(ctx, sql, args...).Scan(&f.SchoolName, &f.Active, &f.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return teachers.Faculty{}, teachers.ErrNoFaculty
	}
	if err != nil {
		return teachers.Faculty{}, fmt.Errorf("faculties - Get - Scan: %w", err)
	}
	return f, nil
}

func (p *Postgres) Create(ctx context.Context, t *teachers.Teacher) error {
	tenantID, err := tenant.CurrentTenantID(ctx)
	if err != nil {
		return fmt.Errorf("teachers - Create: %w", err)
	}
	sql, args, err := p.sq.
		Insert("teachers").
		Columns("id", "tenant_id", "full_name", "email", "subject", "hired_at").
		Values(t.ID, tenantID.String(), t.FullName, t.Email, t.Subject, t.HiredAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("teachers - Create - ToSql: %w", err)
	}
	if _, err := p.pool.Conn(ctx).Exec(ctx, sql, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return teachers.ErrEmailTaken
		}
		return fmt.Errorf("teachers - Create - Exec: %w", err)
	}
	return nil
}

func (p *Postgres) List(ctx context.Context, subject string) ([]teachers.Teacher, error) {
	tenantID, err := tenant.CurrentTenantID(ctx)
	if err != nil {
		return nil, fmt.Errorf("teachers - List: %w", err)
	}
	q := p.sq.
		Select("id", "full_name", "email", "subject", "hired_at").
		From("teachers").
		Where(squirrel.Eq{"tenant_id": tenantID.String()}).
		OrderBy("full_name")
	if subject != "" {
		q = q.Where(squirrel.Eq{"subject": subject})
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("teachers - List - ToSql: %w", err)
	}
	rows, err := p.pool.Conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("teachers - List - Query: %w", err)
	}
	defer rows.Close()

	var out []teachers.Teacher
	for rows.Next() {
		t := teachers.Teacher{TenantID: tenantID}
		if err := rows.Scan(&t.ID, &t.FullName, &t.Email, &t.Subject, &t.HiredAt); err != nil {
			return nil, fmt.Errorf("teachers - List - Scan: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("teachers - List - rows: %w", err)
	}
	return out, nil
}
