package contracts_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/md-rashed-zaman/schoolsync/libs/contracts"
	"github.com/md-rashed-zaman/schoolsync/libs/eventbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryBindsEveryContract(t *testing.T) {
	reg, err := contracts.NewRegistry()
	require.NoError(t, err)

	cases := map[string]string{
		contracts.TenantCreated{}.EventType():      contracts.TopicTenantLifecycle,
		contracts.TenantPlanChanged{}.EventType():  contracts.TopicTenantLifecycle,
		contracts.TenantDeactivated{}.EventType():  contracts.TopicTenantLifecycle,
		contracts.StudentEnrolled{}.EventType():    contracts.TopicPeopleLifecycle,
		contracts.StudentWithdrawn{}.EventType():   contracts.TopicPeopleLifecycle,
		contracts.TeacherHired{}.EventType():       contracts.TopicPeopleLifecycle,
		contracts.AnnouncementPosted{}.EventType(): contracts.TopicChatMessaging,
	}
	for eventType, want := range cases {
		got, err := reg.Topic(eventType)
		require.NoError(t, err, eventType)
		assert.Equal(t, want, got, eventType)
	}
	assert.Len(t, reg.Topics(), 3)
}

// roundTrip sends evt through the wire format into a typed subscriber.
func roundTrip[E any, PE interface {
	*E
	eventbus.IntegrationEvent
	SetMetadata(eventbus.Meta)
}](t *testing.T, evt eventbus.IntegrationEvent) E {
	t.Helper()
	reg, err := contracts.NewRegistry()
	require.NoError(t, err)
	msg, err := eventbus.BuildMessage(reg, evt)
	require.NoError(t, err)

	var got E
	router := eventbus.NewRouter("contracts", reg, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, eventbus.Subscribe[E, PE](router, "capture", eventbus.DefaultPolicy(), func(_ context.Context, e E) error {
		got = e
		return nil
	}))
	out := router.Deliver(context.Background(), eventbus.Delivery{Topic: msg.Topic, Key: msg.Key, Value: msg.Value, Headers: msg.Headers})
	require.Equal(t, eventbus.Acknowledged, out)
	return got
}

func decodeAs[E any, PE interface {
	*E
	eventbus.IntegrationEvent
	SetMetadata(eventbus.Meta)
}](t *testing.T, evt eventbus.IntegrationEvent) any {
	return roundTrip[E, PE](t, evt)
}

func TestEveryContractRoundTrips(t *testing.T) {
	at := time.Date(2026, time.March, 2, 8, 30, 15, 123456789, time.UTC)
	meta := func(id string) eventbus.Meta {
		return eventbus.Meta{EventID: id, TenantID: "T1", OccurredAt: at}
	}

	cases := []struct {
		name   string
		sent   eventbus.IntegrationEvent
		decode func(*testing.T, eventbus.IntegrationEvent) any
	}{
		{
			name: "tenant created",
			sent: contracts.TenantCreated{
				Meta: meta("e-1"), Name: "Riverside High", Plan: "Trial", MaxUsers: 50, AdminEmail: "head@riverside.example",
			},
			decode: decodeAs[contracts.TenantCreated, *contracts.TenantCreated],
		},
		{
			name: "tenant plan changed",
			sent: contracts.TenantPlanChanged{
				Meta: meta("e-2"), Name: "Riverside High", PreviousPlan: "Trial", Plan: "Premium", MaxUsers: 1000,
			},
			decode: decodeAs[contracts.TenantPlanChanged, *contracts.TenantPlanChanged],
		},
		{
			name:   "tenant deactivated",
			sent:   contracts.TenantDeactivated{Meta: meta("e-3"), Name: "Riverside High", Reason: "merged"},
			decode: decodeAs[contracts.TenantDeactivated, *contracts.TenantDeactivated],
		},
		{
			name: "student enrolled",
			sent: contracts.StudentEnrolled{
				Meta: meta("e-4"), StudentID: "s-1", FullName: "Ada Lovelace", Email: "ada@riverside.example", GradeLevel: "9",
			},
			decode: decodeAs[contracts.StudentEnrolled, *contracts.StudentEnrolled],
		},
		{
			name:   "student withdrawn",
			sent:   contracts.StudentWithdrawn{Meta: meta("e-5"), StudentID: "s-1", FullName: "Ada Lovelace", Reason: "moved"},
			decode: decodeAs[contracts.StudentWithdrawn, *contracts.StudentWithdrawn],
		},
		{
			name: "teacher hired",
			sent: contracts.TeacherHired{
				Meta: meta("e-6"), TeacherID: "t-1", FullName: "Grace Hopper", Email: "grace@riverside.example", Subject: "Maths",
			},
			decode: decodeAs[contracts.TeacherHired, *contracts.TeacherHired],
		},
		{
			name: "announcement posted",
			sent: contracts.AnnouncementPosted{
				Meta: meta("e-7"), ChannelID: "c-1", ChannelName: "announcements", AnnouncementID: "a-1",
				AuthorID: "Principal", Title: "Snow day", Body: "School is closed tomorrow.",
			},
			decode: decodeAs[contracts.AnnouncementPosted, *contracts.AnnouncementPosted],
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.sent, tc.decode(t, tc.sent))
		})
	}
}

func TestPeopleEventsAreKeyedByPerson(t *testing.T) {
	reg, err := contracts.NewRegistry()
	require.NoError(t, err)

	enrolled := contracts.StudentEnrolled{Meta: eventbus.NewMeta("T1", time.Time{}), StudentID: "s-1", FullName: "Ada"}
	withdrawn := contracts.StudentWithdrawn{Meta: eventbus.NewMeta("T1", time.Time{}), StudentID: "s-1"}
	m1, err := eventbus.BuildMessage(reg, enrolled)
	require.NoError(t, err)
	m2, err := eventbus.BuildMessage(reg, withdrawn)
	require.NoError(t, err)
	assert.Equal(t, m1.Topic, m2.Topic)
	assert.Equal(t, []byte("s-1"), m1.Key)
	assert.Equal(t, m1.Key, m2.Key)

	got := roundTrip[contracts.StudentEnrolled](t, enrolled)
	assert.Equal(t, "Ada", got.FullName)
}
