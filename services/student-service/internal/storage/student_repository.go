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
	"github.com/md-rashed-zaman/schoolsync/services/student-service/internal/students"
)

var studentColumns = []string{"id", "tenant_id", "full_name", "email", "grade_level", "status", "enrolled_at", "withdrawn_at"}

// StudentRepository scopes every statement to the tenant of ctx.
type StudentRepository struct {
	pool    *db.Pool
	builder squirrel.StatementBuilderType
}

func NewStudentRepository(pool *db.Pool) *StudentRepository {
	return &StudentRepository{
		pool:    pool,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

func (r *StudentRepository) Create(ctx context.Context, s *students.Student) error {
	tenantID, err := tenant.CurrentTenantID(ctx)
	if err != nil {
		return err
	}
	sql, args, err := r.builder.
		Insert("students").
		Columns(studentColumns...).
		Values(s.ID, tenantID.String(), s.FullName, s.Email, s.GradeLevel, string(s.Status), s.EnrolledAt, s.WithdrawnAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("students - Create - ToSql: %w", err)
	}
	if _, err := r.pool.Conn(ctx).Exec(ctx, sql, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return students.ErrEmailTaken
		}
		return fmt.Errorf("students - Create - Exec: %w", err)
	}
	return nil
}

func (r *StudentRepository) GetForUpdate(ctx context.Context, id string) (*students.Student, error) {
	tenantID, err := tenant.CurrentTenantID(ctx)
	if err != nil {
		return nil, err
	}
	sql, args, err := r.builder.
		Select(studentColumns...).
		From("students").
		Where(squirrel.Eq{"tenant_id": tenantID.String(), "id": id}).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("students - GetForUpdate - ToSql: %w", err)
	}
	s, err := scanStudent(r.pool.Conn(ctx).QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, students.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("students - GetForUpdate - Scan: %w", err)
	}
	return &s, nil
}

func (r *StudentRepository) Update(ctx context.Context, s *students.Student) error {
	tenantID, err := tenant.CurrentTenantID(ctx)
	if err != nil {
		return err
	}
	sql, args, err := r.builder.
		Update("students").
		Set("status", string(s.Status)).
		Set("withdrawn_at", s.WithdrawnAt).
		Where(squirrel.Eq{"tenant_id": tenantID.String(), "id": s.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("students - Update - ToSql: %w", err)
	}
	tag, err := r.pool.Conn(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("students - Update - Exec: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return students.ErrNotFound
	}
	return nil
}

func (r *StudentRepository) CountActive(ctx context.Context) (int, error) {
	tenantID, err := tenant.CurrentTenantID(ctx)
	if err != nil {
		return 0, err
	}
	var n int
	err = r.pool.Conn(ctx).QueryRow(ctx, `
		SELECT count(*) FROM students WHERE tenant_id = $1 AND status = $2
	`, tenantID.String(), string(students.StatusActive)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("students - CountActive: %w", err)
	}
	return n, nil
}

func (r *StudentRepository) List(ctx context.Context, f students.Filter) ([]students.Student, error) {
	tenantID, err := tenant.CurrentTenantID(ctx)
	if err != nil {
		return nil, err
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := r.builder.
		Select(studentColumns...).
		From("students").
		Where(squirrel.Eq{"tenant_id": tenantID.String()}).
		OrderBy("enrolled_at", "id").
		Limit(uint64(limit))
	if f.GradeLevel != "" {
		q = q.Where(squirrel.Eq{"grade_level": f.GradeLevel})
	}
	if f.Status != "" {
		q = q.Where(squirrel.Eq{"status": string(f.Status)})
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("students - List - ToSql: %w", err)
	}
	rows, err := r.pool.Conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("students - List - Query: %w", err)
	}
	defer rows.Close()

	var out []students.Student
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, fmt.Errorf("students - List - Scan: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanStudent(row pgx.Row) (students.Student, error) {
	var (
		s        students.Student
		tenantID string
		status   string
	)
	err := row.Scan(&s.ID, &tenantID, &s.FullName, &s.Email, &s.GradeLevel, &status, &s.EnrolledAt, &s.WithdrawnAt)
	if err != nil {
		return students.Student{}, err
	}
	s.TenantID = tenant.ID(tenantID)
	s.Status = students.Status(status)
	return s, nil
}
