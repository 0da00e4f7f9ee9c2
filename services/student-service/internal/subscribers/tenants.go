// Package subscribers keeps the schools projection in step with the tenant
// lifecycle published by identity-service.
package subscribers

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/schoolsync/libs/contracts"
	"github.com/md-rashed-zaman/schoolsync/libs/ddd"
	"github.com/md-rashed-zaman/schoolsync/libs/eventbus"
	"github.com/md-rashed-zaman/schoolsync/services/student-service/internal/schools"
)

const (
	SubProvisionSchool  = "provision-school"
	SubUpdateQuota      = "update-school-quota"
	SubDeactivateSchool = "deactivate-school"
)

type Projector struct {
	schools schools.Repository
	logger  *slog.Logger
}

func NewProjector(repo schools.Repository, logger *slog.Logger) *Projector {
	return &Projector{schools: repo, logger: logger}
}

// Register subscribes the projector. Each subscription claims the event in
// inbox under its own name, within tx, before touching the projection.
func Register(r *eventbus.Router, p *Projector, tx ddd.TxRunner, inbox eventbus.Inbox, policy eventbus.Policy) error {
	policy.Classify = eventbus.PermanentOn(schools.ErrNotProvisioned)
	consumer := r.Consumer()

	if err := eventbus.Subscribe(r, SubProvisionSchool, policy,
		eventbus.Idempotent(tx, inbox, consumer+"/"+SubProvisionSchool, p.TenantCreated)); err != nil {
		return err
	}
	if err := eventbus.Subscribe(r, SubUpdateQuota, policy,
		eventbus.Idempotent(tx, inbox, consumer+"/"+SubUpdateQuota, p.TenantPlanChanged)); err != nil {
		return err
	}
	return eventbus.Subscribe(r, SubDeactivateSchool, policy,
		eventbus.Idempotent(tx, inbox, consumer+"/"+SubDeactivateSchool, p.TenantDeactivated))
}

func (p *Projector) TenantCreated(ctx context.Context, evt contracts.TenantCreated) error {
	created, err := p.schools.Provision(ctx, schools.School{
		TenantID:    evt.TenantID,
		Name:        evt.Name,
		Plan:        evt.Plan,
		Quota:       evt.MaxUsers,
		Active:      true,
		GradeLevels: schools.DefaultGradeLevels,
		UpdatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if created {
		p.logger.Info("school provisioned", "tenant_id", evt.TenantID.String(), "plan", evt.Plan, "quota", evt.MaxUsers)
	}
	return nil
}

func (p *Projector) TenantPlanChanged(ctx context.Context, evt contracts.TenantPlanChanged) error {
	if err := p.schools.SetPlan(ctx, evt.Plan, evt.MaxUsers); err != nil {
		return err
	}
	p.logger.Info("school quota updated", "tenant_id", evt.TenantID.String(), "plan", evt.Plan, "quota", evt.MaxUsers)
	return nil
}

func (p *Projector) TenantDeactivated(ctx context.Context, evt contracts.TenantDeactivated) error {
	if err := p.schools.Deactivate(ctx); err != nil {
		return err
	}
	p.logger.Info("school deactivated", "tenant_id", evt.TenantID.String(), "reason", evt.Reason)
	return nil
}
