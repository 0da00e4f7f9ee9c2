package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/schoolsync/libs/db"
	"github.com/md-rashed-zaman/schoolsync/libs/tenant"
	"github.com/md-rashed-zaman/schoolsync/services/identity-service/internal/tenants"
)

const RoleAdmin = "admin"

type User struct {
	ID           string
	TenantID     tenant.ID
	Email        string
	PasswordHash string
	Role         string
}

type UserRepository struct {
	pool *db.Pool
}

func NewUserRepository(pool *db.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func (r *UserRepository) CreateAdmin(ctx context.Context, tenantID tenant.ID, email, passwordHash string) (string, error) {
	id := uuid.NewString()
	_, err := r.pool.Conn(ctx).Exec(ctx, `
		INSERT INTO users (id, tenant_id, email, password_hash, role)
		VALUES ($1, $2, $3, $4, $5)
	`, id, tenantID.String(), email, passwordHash, RoleAdmin)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return "", tenants.ErrEmailTaken
		}
		return "", fmt.Errorf("users - CreateAdmin - Exec: %w", err)
	}
	return id, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (User, error) {
	var (
		u        User
		tenantID string
	)
	err := r.pool.Conn(ctx).QueryRow(ctx, `
		SELECT id::text, tenant_id::text, email, password_hash, role
		FROM users
		WHERE email = $1
	`, email).Scan(&u.ID, &tenantID, &u.Email, &u.PasswordHash, &u.Role)
	if err != nil {
		return User{}, fmt.Errorf("users - GetByEmail - Scan: %w", err)
	}
	u.TenantID = tenant.ID(tenantID)
	return u, nil
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
