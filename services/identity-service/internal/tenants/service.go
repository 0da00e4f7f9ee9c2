package tenants

import (
	"context"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/schoolsync/libs/ddd"
	"github.com/md-rashed-zaman/schoolsync/libs/tenant"
)

type Repository interface {
	Create(ctx context.Context, t *Tenant) error
	// GetForUpdate locks the row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id tenant.ID) (*Tenant, error)
	Get(ctx context.Context, id tenant.ID) (*Tenant, error)
	Update(ctx context.Context, t *Tenant) error
}

// Admins stores the first user of a tenant. Create returns ErrEmailTaken
// when the email is already registered.
type Admins interface {
	CreateAdmin(ctx context.Context, tenantID tenant.ID, email, passwordHash string) (string, error)
}

type Registration struct {
	Name         string
	Plan         string
	AdminEmail   string
	PasswordHash string
}

type Service struct {
	uow     ddd.TxRunner
	tenants Repository
	admins  Admins
}

// NewService expects the unit of work of the service so events raised by
// tracked tenants are dispatched before commit.
func NewService(uow ddd.TxRunner, tenants Repository, admins Admins) *Service {
	return &Service{uow: uow, tenants: tenants, admins: admins}
}

// Register opens a tenant together with its admin user.
func (s *Service) Register(ctx context.Context, reg Registration) (*Tenant, string, error) {
	plan, err := ParsePlan(reg.Plan)
	if err != nil {
		return nil, "", err
	}
	t, err := New(tenant.ID(uuid.NewString()), reg.Name, plan, reg.AdminEmail)
	if err != nil {
		return nil, "", err
	}

	var adminID string
	err = s.uow.Do(ctx, func(ctx context.Context) error {
		if err := ddd.Track(ctx, t); err != nil {
			return err
		}
		if err := s.tenants.Create(ctx, t); err != nil {
			return err
		}
		adminID, err = s.admins.CreateAdmin(ctx, t.ID, t.AdminEmail, reg.PasswordHash)
		return err
	})
	if err != nil {
		return nil, "", err
	}
	return t, adminID, nil
}

func (s *Service) ChangePlan(ctx context.Context, id tenant.ID, rawPlan string) (*Tenant, error) {
	plan, err := ParsePlan(rawPlan)
	if err != nil {
		return nil, err
	}
	return s.mutate(ctx, id, func(t *Tenant) error { return t.ChangePlan(plan) })
}

func (s *Service) Deactivate(ctx context.Context, id tenant.ID, reason string) (*Tenant, error) {
	return s.mutate(ctx, id, func(t *Tenant) error { return t.Deactivate(reason) })
}

func (s *Service) Get(ctx context.Context, id tenant.ID) (*Tenant, error) {
	return s.tenants.Get(ctx, id)
}

func (s *Service) mutate(ctx context.Context, id tenant.ID, change func(t *Tenant) error) (*Tenant, error) {
	var out *Tenant
	err := s.uow.Do(ctx, func(ctx context.Context) error {
		t, err := s.tenants.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := ddd.Track(ctx, t); err != nil {
			return err
		}
		if err := change(t); err != nil {
			return err
		}
		out = t
		return s.tenants.Update(ctx, t)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
