package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/schoolsync/libs/db"
	"github.com/md-rashed-zaman/schoolsync/libs/tenant"
	"github.com/md-rashed-zaman/schoolsync/services/identity-service/internal/tenants"
)

type TenantRepository struct {
	pool *db.Pool
}

func NewTenantRepository(pool *db.Pool) *TenantRepository {
	return &TenantRepository{pool: pool}
}

func (r *TenantRepository) Create(ctx context.Context, t *tenants.Tenant) error {
	_, err := r.pool.Conn(ctx).Exec(ctx, `
		INSERT INTO tenants (id, name, plan, active, admin_email, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, t.ID.String(), t.Name, string(t.Plan), t.Active, t.AdminEmail, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("tenants - Create - Exec: %w", err)
	}
	return nil
}

func (r *TenantRepository) Get(ctx context.Context, id tenant.ID) (*tenants.Tenant, error) {
	return r.get(ctx, id, "")
}

func (r *TenantRepository) GetForUpdate(ctx context.Context, id tenant.ID) (*tenants.Tenant, error) {
	return r.get(ctx, id, " FOR UPDATE")
}

func (r *TenantRepository) get(ctx context.Context, id tenant.ID, suffix string) (*tenants.Tenant, error) {
	var (
		t     tenants.Tenant
		rawID string
		plan  string
	)
	err := r.pool.Conn(ctx).QueryRow(ctx, `
		SELECT id::text, name, plan, active, admin_email, created_at
		FROM tenants
		WHERE id = $1`+suffix, id.String()).
		Scan(&rawID, &t.Name, &plan, &t.Active, &t.AdminEmail, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, tenants.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("tenants - Get - Scan: %w", err)
	}
	t.ID = tenant.ID(rawID)
	t.Plan = tenants.Plan(plan)
	return &t, nil
}

func (r *TenantRepository) Update(ctx context.Context, t *tenants.Tenant) error {
	tag, err := r.pool.Conn(ctx).Exec(ctx, `
		UPDATE tenants
		SET plan = $2, active = $3, updated_at = now()
		WHERE id = $1
	`, t.ID.String(), string(t.Plan), t.Active)
	if err != nil {
		return fmt.Errorf("tenants - Update - Exec: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return tenants.ErrNotFound
	}
	return nil
}
