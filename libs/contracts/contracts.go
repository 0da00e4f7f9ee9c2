// Package contracts holds the integration events exchanged between services.
// Payloads only grow: fields are added, never renamed or repurposed. A
// breaking change gets a new type with a new version suffix.
package contracts

import "github.com/md-rashed-zaman/schoolsync/libs/eventbus"

const (
	TopicTenantLifecycle = "identity.tenant.lifecycle.v1"
	TopicPeopleLifecycle = "people.lifecycle.v1"
	TopicChatMessaging   = "chat.messaging.v1"
)

const (
	TypeTenantCreated      = "identity.tenant.created.v1"
	TypeTenantPlanChanged  = "identity.tenant.plan_changed.v1"
	TypeTenantDeactivated  = "identity.tenant.deactivated.v1"
	TypeStudentEnrolled    = "student.enrolled.v1"
	TypeStudentWithdrawn   = "student.withdrawn.v1"
	TypeTeacherHired       = "teacher.hired.v1"
	TypeAnnouncementPosted = "chat.announcement.posted.v1"
)

var bindings = []struct{ eventType, topic string }{
	{TypeTenantCreated, TopicTenantLifecycle},
	{TypeTenantPlanChanged, TopicTenantLifecycle},
	{TypeTenantDeactivated, TopicTenantLifecycle},
	{TypeStudentEnrolled, TopicPeopleLifecycle},
	{TypeStudentWithdrawn, TopicPeopleLifecycle},
	{TypeTeacherHired, TopicPeopleLifecycle},
	{TypeAnnouncementPosted, TopicChatMessaging},
}

// Register binds every contract to its topic.
func Register(reg *eventbus.Registry) error {
	for _, b := range bindings {
		if err := reg.Bind(b.eventType, b.topic); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a frozen registry holding every contract.
func NewRegistry() (*eventbus.Registry, error) {
	reg := eventbus.NewRegistry()
	if err := Register(reg); err != nil {
		return nil, err
	}
	reg.Freeze()
	return reg, nil
}
