// Package translate turns tenant domain events into the identity contracts.
package translate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/md-rashed-zaman/schoolsync/libs/contracts"
	"github.com/md-rashed-zaman/schoolsync/libs/ddd"
	"github.com/md-rashed-zaman/schoolsync/libs/eventbus"
	"github.com/md-rashed-zaman/schoolsync/services/identity-service/internal/tenants"
)

var maxUsersByPlan = map[tenants.Plan]int{
	tenants.PlanTrial:    50,
	tenants.PlanBasic:    250,
	tenants.PlanStandard: 1000,
	tenants.PlanPremium:  5000,
}

// MaxUsers is the seat quota of a plan.
func MaxUsers(plan tenants.Plan) (int, error) {
	n, ok := maxUsersByPlan[plan]
	if !ok {
		return 0, fmt.Errorf("%w %q", tenants.ErrUnknownPlan, plan)
	}
	return n, nil
}

// Register binds the translators in phase. With the outbox that is the
// transaction phase, so the record commits or rolls back with the tenant row.
func Register(d *ddd.Dispatcher, phase ddd.Phase, pub eventbus.Publisher, logger *slog.Logger) {
	ddd.On(d, phase, eventbus.Translate(logger, pub, TenantCreated))
	ddd.On(d, phase, eventbus.Translate(logger, pub, TenantPlanChanged))
	ddd.On(d, phase, eventbus.Translate(logger, pub, TenantDeactivated))
}

func TenantCreated(_ context.Context, e tenants.Created) (contracts.TenantCreated, error) {
	maxUsers, err := MaxUsers(e.Plan)
	if err != nil {
		return contracts.TenantCreated{}, err
	}
	return contracts.TenantCreated{
		Meta:       eventbus.MetaFrom(e),
		Name:       e.Name,
		Plan:       string(e.Plan),
		MaxUsers:   maxUsers,
		AdminEmail: e.AdminEmail,
	}, nil
}

func TenantPlanChanged(_ context.Context, e tenants.PlanChanged) (contracts.TenantPlanChanged, error) {
	maxUsers, err := MaxUsers(e.Plan)
	if err != nil {
		return contracts.TenantPlanChanged{}, err
	}
	return contracts.TenantPlanChanged{
		Meta:         eventbus.MetaFrom(e),
		Name:         e.Name,
		PreviousPlan: string(e.Previous),
		Plan:         string(e.Plan),
		MaxUsers:     maxUsers,
	}, nil
}

func TenantDeactivated(_ context.Context, e tenants.Deactivated) (contracts.TenantDeactivated, error) {
	return contracts.TenantDeactivated{
		Meta:   eventbus.MetaFrom(e),
		Name:   e.Name,
		Reason: e.Reason,
	}, nil
}
