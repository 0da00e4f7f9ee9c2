// Package schools is student-service's local view of the tenants it serves,
// built from the identity lifecycle events.
package schools

import (
	"context"
	"errors"
	"time"

	"github.com/md-rashed-zaman/schoolsync/libs/tenant"
)

var ErrNotProvisioned = errors.New("school not provisioned")

// DefaultGradeLevels are provisioned for every new school.
var DefaultGradeLevels = []string{"K", "1", "2", "3", "4", "5", "6", "7", "8", "9", "10", "11", "12"}

type School struct {
	TenantID    tenant.ID
	Name        string
	Plan        string
	Quota       int
	Active      bool
	GradeLevels []string
	UpdatedAt   time.Time
}

func (s School) OffersGrade(level string) bool {
	for _, g := range s.GradeLevels {
		if g == level {
			return true
		}
	}
	return false
}

// Repository works on the school of the tenant in ctx.
type Repository interface {
	// Provision inserts s unless the tenant already has a school and reports
	// whether a row was written. s.TenantID, when set, must match ctx.
	Provision(ctx context.Context, s School) (bool, error)
	SetPlan(ctx context.Context, plan string, quota int) error
	Deactivate(ctx context.Context) error
	Get(ctx context.Context) (School, error)
	// GetForUpdate locks the school until the surrounding transaction ends.
	GetForUpdate(ctx context.Context) (School, error)
}
