package students_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/md-rashed-zaman/schoolsync/libs/contracts"
	"github.com/md-rashed-zaman/schoolsync/libs/ddd"
	"github.com/md-rashed-zaman/schoolsync/libs/eventbus"
	"github.com/md-rashed-zaman/schoolsync/libs/outbox"
	"github.com/md-rashed-zaman/schoolsync/libs/tenant"
	"github.com/md-rashed-zaman/schoolsync/services/student-service/internal/schools"
	"github.com/md-rashed-zaman/schoolsync/services/student-service/internal/storage"
	"github.com/md-rashed-zaman/schoolsync/services/student-service/internal/students"
	"github.com/md-rashed-zaman/schoolsync/services/student-service/internal/translate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type txStub struct{}

func (txStub) Do(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

type fixture struct {
	svc    *students.Service
	mem    *storage.Memory
	outbox *outbox.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg, err := contracts.NewRegistry()
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := outbox.NewMemoryStore()
	d := ddd.NewDispatcher()
	translate.Register(d, ddd.InTransaction, outbox.NewPublisher(reg, store), logger)
	d.Freeze()

	mem := storage.NewMemory()
	return &fixture{
		svc:    students.NewService(ddd.NewUnitOfWork(txStub{}, d, logger), mem.Students(), mem),
		mem:    mem,
		outbox: store,
	}
}

func (f *fixture) school(t *testing.T, id tenant.ID, quota int) context.Context {
	t.Helper()
	ctx := tenant.WithTenant(context.Background(), id)
	_, err := f.mem.Provision(ctx, schools.School{
		Name:        "School " + id.String(),
		Plan:        "trial",
		Quota:       quota,
		Active:      true,
		GradeLevels: schools.DefaultGradeLevels,
		UpdatedAt:   time.Now(),
	})
	require.NoError(t, err)
	return ctx
}

func TestEnrollPublishesStudentEnrolled(t *testing.T) {
	f := newFixture(t)
	ctx := f.school(t, "T1", 50)

	st, err := f.svc.Enroll(ctx, students.EnrollCommand{FullName: " Ada Lovelace ", Email: "Ada@Example.test", GradeLevel: "k"})
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", st.FullName)
	assert.Equal(t, "ada@example.test", st.Email)
	assert.Equal(t, "K", st.GradeLevel)
	assert.Equal(t, tenant.ID("T1"), st.TenantID)

	records := f.outbox.Records()
	require.Len(t, records, 1)
	assert.Equal(t, contracts.TypeStudentEnrolled, records[0].EventType)
	assert.Equal(t, contracts.TopicPeopleLifecycle, records[0].Topic)
	assert.Equal(t, "T1", records[0].TenantID)

	env, err := eventbus.DecodeEnvelope(records[0].Payload)
	require.NoError(t, err)
	var got contracts.StudentEnrolled
	require.NoError(t, eventbus.DecodePayload(env, &got))
	assert.Equal(t, st.ID, got.StudentID)
	assert.Equal(t, "K", got.GradeLevel)
}

func TestEnrollStopsAtQuota(t *testing.T) {
	f := newFixture(t)
	ctx := f.school(t, "T1", 2)

	for i := range 2 {
		_, err := f.svc.Enroll(ctx, students.EnrollCommand{FullName: fmt.Sprintf("Student %d", i), GradeLevel: "3"})
		require.NoError(t, err)
	}
	_, err := f.svc.Enroll(ctx, students.EnrollCommand{FullName: "One Too Many", GradeLevel: "3"})
	assert.ErrorIs(t, err, students.ErrQuotaExceeded)
	assert.Len(t, f.outbox.Records(), 2)
}

func TestWithdrawnStudentsFreeTheirSeat(t *testing.T) {
	f := newFixture(t)
	ctx := f.school(t, "T1", 1)

	st, err := f.svc.Enroll(ctx, students.EnrollCommand{FullName: "First", GradeLevel: "1"})
	require.NoError(t, err)
	_, err = f.svc.Withdraw(ctx, st.ID, "moved away")
	require.NoError(t, err)

	_, err = f.svc.Enroll(ctx, students.EnrollCommand{FullName: "Second", GradeLevel: "1"})
	require.NoError(t, err)
}

func TestEnrollRejectsInactiveSchool(t *testing.T) {
	f := newFixture(t)
	ctx := f.school(t, "T1", 50)
	require.NoError(t, f.mem.Deactivate(ctx))

	_, err := f.svc.Enroll(ctx, students.EnrollCommand{FullName: "Late", GradeLevel: "5"})
	assert.ErrorIs(t, err, students.ErrSchoolInactive)
	assert.Empty(t, f.outbox.Records())
}

func TestEnrollRejectsUnknownGrade(t *testing.T) {
	f := newFixture(t)
	ctx := f.school(t, "T1", 50)

	_, err := f.svc.Enroll(ctx, students.EnrollCommand{FullName: "Grad", GradeLevel: "13"})
	assert.ErrorIs(t, err, students.ErrInvalid)
	_, err = f.svc.Enroll(ctx, students.EnrollCommand{GradeLevel: "1"})
	assert.ErrorIs(t, err, students.ErrInvalid)
}

func TestEnrollBeforeProvisioning(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Enroll(tenant.WithTenant(context.Background(), "T9"), students.EnrollCommand{FullName: "Early", GradeLevel: "1"})
	assert.ErrorIs(t, err, schools.ErrNotProvisioned)
}

func TestEnrollRequiresTenantContext(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Enroll(context.Background(), students.EnrollCommand{FullName: "Nobody", GradeLevel: "1"})
	assert.ErrorIs(t, err, tenant.ErrTenantContextUnavailable)
}

func TestWithdrawTwice(t *testing.T) {
	f := newFixture(t)
	ctx := f.school(t, "T1", 50)

	st, err := f.svc.Enroll(ctx, students.EnrollCommand{FullName: "Once", GradeLevel: "2"})
	require.NoError(t, err)
	withdrawn, err := f.svc.Withdraw(ctx, st.ID, "graduated early")
	require.NoError(t, err)
	assert.Equal(t, students.StatusWithdrawn, withdrawn.Status)
	require.NotNil(t, withdrawn.WithdrawnAt)

	_, err = f.svc.Withdraw(ctx, st.ID, "again")
	assert.ErrorIs(t, err, students.ErrAlreadyWithdrawn)

	records := f.outbox.Records()
	require.Len(t, records, 2)
	assert.Equal(t, contracts.TypeStudentWithdrawn, records[1].EventType)
}

func TestStudentsAreIsolatedByTenant(t *testing.T) {
	f := newFixture(t)
	ctx1 := f.school(t, "T1", 50)
	ctx2 := f.school(t, "T2", 50)

	st, err := f.svc.Enroll(ctx1, students.EnrollCommand{FullName: "Only In T1", Email: "a@t1.test", GradeLevel: "4"})
	require.NoError(t, err)

	list, err := f.svc.List(ctx2, students.Filter{})
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = f.svc.Withdraw(ctx2, st.ID, "")
	assert.ErrorIs(t, err, students.ErrNotFound)

	// the same email may enrol in another school
	_, err = f.svc.Enroll(ctx2, students.EnrollCommand{FullName: "Namesake", Email: "a@t1.test", GradeLevel: "4"})
	require.NoError(t, err)
	_, err = f.svc.Enroll(ctx1, students.EnrollCommand{FullName: "Duplicate", Email: "a@t1.test", GradeLevel: "4"})
	assert.ErrorIs(t, err, students.ErrEmailTaken)
}

func TestListFilters(t *testing.T) {
	f := newFixture(t)
	ctx := f.school(t, "T1", 50)

	a, err := f.svc.Enroll(ctx, students.EnrollCommand{FullName: "A", GradeLevel: "1"})
	require.NoError(t, err)
	_, err = f.svc.Enroll(ctx, students.EnrollCommand{FullName: "B", GradeLevel: "2"})
	require.NoError(t, err)
	_, err = f.svc.Withdraw(ctx, a.ID, "")
	require.NoError(t, err)

	byGrade, err := f.svc.List(ctx, students.Filter{GradeLevel: "2"})
	require.NoError(t, err)
	require.Len(t, byGrade, 1)
	assert.Equal(t, "B", byGrade[0].FullName)

	withdrawn, err := f.svc.List(ctx, students.Filter{Status: students.StatusWithdrawn})
	require.NoError(t, err)
	require.Len(t, withdrawn, 1)
	assert.Equal(t, "A", withdrawn[0].FullName)
}

func TestSchoolWritesStayInTheirTenant(t *testing.T) {
	f := newFixture(t)
	f.school(t, "T1", 50)

	_, err := f.mem.Provision(tenant.WithTenant(context.Background(), "T2"), schools.School{TenantID: "T1", Name: "Imposter"})
	assert.ErrorIs(t, err, tenant.ErrTenantMismatch)
	assert.ErrorIs(t, f.mem.Deactivate(context.Background()), tenant.ErrTenantContextUnavailable)
	assert.ErrorIs(t, f.mem.SetPlan(tenant.WithTenant(context.Background(), "T2"), "premium", 5000), schools.ErrNotProvisioned)

	s, err := f.mem.Get(tenant.WithTenant(context.Background(), "T1"))
	require.NoError(t, err)
	assert.Equal(t, "School T1", s.Name)
	assert.Equal(t, 50, s.Quota)
	assert.True(t, s.Active)
}
