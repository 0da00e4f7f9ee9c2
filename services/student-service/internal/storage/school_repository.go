package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/schoolsync/libs/db"
	"github.com/md-rashed-zaman/schoolsync/libs/tenant"
	"github.com/md-rashed-zaman/schoolsync/services/student-service/internal/schools"
)

// SchoolRepository reads and writes the school of the tenant in ctx.
type SchoolRepository struct {
	pool *db.Pool
}

func NewSchoolRepository(pool *db.Pool) *SchoolRepository {
	return &SchoolRepository{pool: pool}
}

func (r *SchoolRepository) Provision(ctx context.Context, s schools.School) (bool, error) {
	id, err := tenant.Match(ctx, s.TenantID)
	if err != nil {
		return false, fmt.Errorf("schools - Provision: %w", err)
	}
	tag, err := r.pool.Conn(ctx).Exec(ctx, `
		INSERT INTO schools (tenant_id, name, plan, quota, active, grade_levels, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id) DO NOTHING
	`, id.String(), s.Name, s.Plan, s.Quota, s.Active, s.GradeLevels, s.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("schools - Provision - Exec: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *SchoolRepository) SetPlan(ctx context.Context, plan string, quota int) error {
	id, err := tenant.CurrentTenantID(ctx)
	if err != nil {
		return fmt.Errorf("schools - SetPlan: %w", err)
	}
	tag, err := r.pool.Conn(ctx).Exec(ctx, `
		UPDATE schools SET plan = $2, quota = $3, updated_at = now()
		WHERE tenant_id = $1
	`, id.String(), plan, quota)
	if err != nil {
		return fmt.Errorf("schools - SetPlan - Exec: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return schools.ErrNotProvisioned
	}
	return nil
}

func (r *SchoolRepository) Deactivate(ctx context.Context) error {
	id, err := tenant.CurrentTenantID(ctx)
	if err != nil {
		return fmt.Errorf("schools - Deactivate: %w", err)
	}
	tag, err := r.pool.Conn(ctx).Exec(ctx, `
		UPDATE schools SET active = false, updated_at = now()
		WHERE tenant_id = $1
	`, id.String())
	if err != nil {
		return fmt.Errorf("schools - Deactivate - Exec: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return schools.ErrNotProvisioned
	}
	return nil
}

func (r *SchoolRepository) Get(ctx context.Context) (schools.School, error) {
	return r.get(ctx, "")
}

func (r *SchoolRepository) GetForUpdate(ctx context.Context) (schools.School, error) {
	return r.get(ctx, " FOR UPDATE")
}

func (r *SchoolRepository) get(ctx context.Context, suffix string) (schools.School, error) {
	id, err := tenant.CurrentTenantID(ctx)
	if err != nil {
		return schools.School{}, fmt.Errorf("schools - Get: %w", err)
	}
	s := schools.School{TenantID: id}
	err = r.pool.Conn(ctx).QueryRow(ctx, `
		SELECT name, plan, quota, active, grade_levels, updated_at
		FROM schools
		WHERE tenant_id = $1`+suffix, id.String()).
		Scan(&s.Name, &s.Plan, &s.Quota, &s.Active, &s.GradeLevels, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return schools.School{}, schools.ErrNotProvisioned
	}
	if err != nil {
		return schools.School{}, fmt.Errorf("schools - Get - Scan: %w", err)
	}
	return s, nil
}
