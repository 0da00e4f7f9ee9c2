package tenants_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/md-rashed-zaman/schoolsync/libs/ddd"
	"github.com/md-rashed-zaman/schoolsync/libs/tenant"
	"github.com/md-rashed-zaman/schoolsync/services/identity-service/internal/tenants"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type txStub struct{ rollbacks int }

func (s *txStub) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := fn(ctx); err != nil {
		s.rollbacks++
		return err
	}
	return nil
}

type tenantRepoFake struct {
	byID map[tenant.ID]tenants.Tenant
}

func newTenantRepoFake() *tenantRepoFake {
	return &tenantRepoFake{byID: map[tenant.ID]tenants.Tenant{}}
}

func (r *tenantRepoFake) Create(_ context.Context, t *tenants.Tenant) error {
	r.byID[t.ID] = tenants.Tenant{ID: t.ID, Name: t.Name, Plan: t.Plan, Active: t.Active, AdminEmail: t.AdminEmail}
	return nil
}

func (r *tenantRepoFake) Get(_ context.Context, id tenant.ID) (*tenants.Tenant, error) {
	t, ok := r.byID[id]
	if !ok {
		return nil, tenants.ErrNotFound
	}
	return &t, nil
}

func (r *tenantRepoFake) GetForUpdate(ctx context.Context, id tenant.ID) (*tenants.Tenant, error) {
	return r.Get(ctx, id)
}

func (r *tenantRepoFake) Update(_ context.Context, t *tenants.Tenant) error {
	r.byID[t.ID] = tenants.Tenant{ID: t.ID, Name: t.Name, Plan: t.Plan, Active: t.Active, AdminEmail: t.AdminEmail}
	return nil
}

type adminsFake struct{ emails map[string]bool }

func (a *adminsFake) CreateAdmin(_ context.Context, _ tenant.ID, email, _ string) (string, error) {
	if a.emails[email] {
		return "", tenants.ErrEmailTaken
	}
	a.emails[email] = true
	return "admin-" + email, nil
}

type recorder struct{ names []string }

func newService(t *testing.T) (*tenants.Service, *tenantRepoFake, *recorder, *txStub) {
	t.Helper()
	rec := &recorder{}
	d := ddd.NewDispatcher()
	d.OnAny(ddd.InTransaction, func(_ context.Context, e ddd.Event) error {
		rec.names = append(rec.names, e.EventName())
		return nil
	})
	tx := &txStub{}
	uow := ddd.NewUnitOfWork(tx, d, slog.New(slog.NewTextHandler(io.Discard, nil)))
	repo := newTenantRepoFake()
	return tenants.NewService(uow, repo, &adminsFake{emails: map[string]bool{}}), repo, rec, tx
}

func TestRegisterRaisesCreated(t *testing.T) {
	svc, repo, rec, _ := newService(t)

	tn, adminID, err := svc.Register(context.Background(), tenants.Registration{
		Name: "Riverside High", Plan: "Trial", AdminEmail: "head@riverside.test", PasswordHash: "x",
	})
	require.NoError(t, err)
	assert.Equal(t, "admin-head@riverside.test", adminID)
	assert.Equal(t, tenants.PlanTrial, tn.Plan)
	assert.True(t, tn.Active)
	assert.Contains(t, repo.byID, tn.ID)
	assert.Equal(t, []string{"tenant.created"}, rec.names)
}

func TestRegisterDefaultsToTrial(t *testing.T) {
	svc, _, _, _ := newService(t)
	tn, _, err := svc.Register(context.Background(), tenants.Registration{Name: "Hillcrest", AdminEmail: "a@hillcrest.test"})
	require.NoError(t, err)
	assert.Equal(t, tenants.PlanTrial, tn.Plan)
}

func TestRegisterRejectsUnknownPlan(t *testing.T) {
	svc, _, rec, _ := newService(t)
	_, _, err := svc.Register(context.Background(), tenants.Registration{Name: "X", Plan: "platinum", AdminEmail: "a@x.test"})
	require.ErrorIs(t, err, tenants.ErrUnknownPlan)
	assert.Empty(t, rec.names)
}

func TestRegisterWithTakenEmailRaisesNothing(t *testing.T) {
	svc, _, rec, tx := newService(t)
	reg := tenants.Registration{Name: "A", AdminEmail: "dup@school.test"}
	_, _, err := svc.Register(context.Background(), reg)
	require.NoError(t, err)

	_, _, err = svc.Register(context.Background(), reg)
	require.ErrorIs(t, err, tenants.ErrEmailTaken)
	assert.Equal(t, 1, tx.rollbacks)
	assert.Equal(t, []string{"tenant.created"}, rec.names)
}

func TestChangePlanAndDeactivate(t *testing.T) {
	svc, repo, rec, _ := newService(t)
	tn, _, err := svc.Register(context.Background(), tenants.Registration{Name: "Oakwood", AdminEmail: "a@oakwood.test"})
	require.NoError(t, err)

	_, err = svc.ChangePlan(context.Background(), tn.ID, "trial")
	require.ErrorIs(t, err, tenants.ErrSamePlan)

	updated, err := svc.ChangePlan(context.Background(), tn.ID, "premium")
	require.NoError(t, err)
	assert.Equal(t, tenants.PlanPremium, updated.Plan)

	_, err = svc.Deactivate(context.Background(), tn.ID, "merged")
	require.NoError(t, err)
	assert.False(t, repo.byID[tn.ID].Active)

	_, err = svc.Deactivate(context.Background(), tn.ID, "again")
	require.ErrorIs(t, err, tenants.ErrInactive)
	_, err = svc.ChangePlan(context.Background(), tn.ID, "basic")
	require.ErrorIs(t, err, tenants.ErrInactive)

	assert.Equal(t, []string{"tenant.created", "tenant.plan_changed", "tenant.deactivated"}, rec.names)
}

func TestChangePlanOfUnknownTenant(t *testing.T) {
	svc, _, _, _ := newService(t)
	_, err := svc.ChangePlan(context.Background(), "missing", "basic")
	require.ErrorIs(t, err, tenants.ErrNotFound)
}
