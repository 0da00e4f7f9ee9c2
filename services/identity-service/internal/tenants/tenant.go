// Package tenants is the school tenant aggregate owned by identity-service.
package tenants

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/md-rashed-zaman/schoolsync/libs/ddd"
	"github.com/md-rashed-zaman/schoolsync/libs/tenant"
)

var (
	ErrUnknownPlan = errors.New("unknown plan")
	ErrInactive    = errors.New("tenant is deactivated")
	ErrSamePlan    = errors.New("tenant already on this plan")
	ErrNotFound    = errors.New("tenant not found")
	ErrEmailTaken  = errors.New("admin email already registered")
	ErrInvalid     = errors.New("invalid tenant")
)

type Plan string

const (
	PlanTrial    Plan = "trial"
	PlanBasic    Plan = "basic"
	PlanStandard Plan = "standard"
	PlanPremium  Plan = "premium"
)

func ParsePlan(s string) (Plan, error) {
	switch p := Plan(strings.ToLower(strings.TrimSpace(s))); p {
	case PlanTrial, PlanBasic, PlanStandard, PlanPremium:
		return p, nil
	case "":
		return PlanTrial, nil
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownPlan, s)
	}
}

// Tenant is one school. Every state change is raised on the embedded ledger.
type Tenant struct {
	ddd.Ledger

	ID         tenant.ID
	Name       string
	Plan       Plan
	Active     bool
	AdminEmail string
	CreatedAt  time.Time
}

// New opens a tenant and raises Created.
func New(id tenant.ID, name string, plan Plan, adminEmail string) (*Tenant, error) {
	name = strings.TrimSpace(name)
	adminEmail = strings.TrimSpace(adminEmail)
	if id.Empty() || name == "" || adminEmail == "" {
		return nil, fmt.Errorf("%w: id, name and admin email are required", ErrInvalid)
	}
	t := &Tenant{
		ID:         id,
		Name:       name,
		Plan:       plan,
		Active:     true,
		AdminEmail: adminEmail,
		CreatedAt:  time.Now().UTC(),
	}
	t.Raise(Created{
		EventBase:  ddd.NewEventBase(id.String(), id),
		Name:       t.Name,
		Plan:       t.Plan,
		AdminEmail: t.AdminEmail,
	})
	return t, nil
}

func (t *Tenant) ChangePlan(plan Plan) error {
	if !t.Active {
		return ErrInactive
	}
	if plan == t.Plan {
		return ErrSamePlan
	}
	previous := t.Plan
	t.Plan = plan
	t.Raise(PlanChanged{
		EventBase: ddd.NewEventBase(t.ID.String(), t.ID),
		Name:      t.Name,
		Previous:  previous,
		Plan:      plan,
	})
	return nil
}

// Deactivate is terminal. Deactivating twice is an error so the event is
// raised once.
func (t *Tenant) Deactivate(reason string) error {
	if !t.Active {
		return ErrInactive
	}
	t.Active = false
	t.Raise(Deactivated{
		EventBase: ddd.NewEventBase(t.ID.String(), t.ID),
		Name:      t.Name,
		Reason:    strings.TrimSpace(reason),
	})
	return nil
}

type Created struct {
	ddd.EventBase
	Name       string
	Plan       Plan
	AdminEmail string
}

func (Created) EventName() string { return "tenant.created" }

type PlanChanged struct {
	ddd.EventBase
	Name     string
	Previous Plan
	Plan     Plan
}

func (PlanChanged) EventName() string { return "tenant.plan_changed" }

type Deactivated struct {
	ddd.EventBase
	Name   string
	Reason string
}

func (Deactivated) EventName() string { return "tenant.deactivated" }
