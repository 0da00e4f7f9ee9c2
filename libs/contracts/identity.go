package contracts

import "github.com/md-rashed-zaman/schoolsync/libs/eventbus"

// TenantCreated announces a new school. MaxUsers is derived from Plan by the
// identity service so consumers never need the plan table.
type TenantCreated struct {
	eventbus.Meta `json:"-"`
	Name          string `json:"name"`
	Plan          string `json:"plan"`
	MaxUsers      int    `json:"max_users"`
	AdminEmail    string `json:"admin_email"`
}

func (TenantCreated) EventType() string { return TypeTenantCreated }

type TenantPlanChanged struct {
	eventbus.Meta `json:"-"`
	Name          string `json:"name"`
	PreviousPlan  string `json:"previous_plan"`
	Plan          string `json:"plan"`
	MaxUsers      int    `json:"max_users"`
}

func (TenantPlanChanged) EventType() string { return TypeTenantPlanChanged }

type TenantDeactivated struct {
	eventbus.Meta `json:"-"`
	Name          string `json:"name"`
	Reason        string `json:"reason,omitempty"`
}

func (TenantDeactivated) EventType() string { return TypeTenantDeactivated }
