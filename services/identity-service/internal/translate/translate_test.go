package translate_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/md-rashed-zaman/schoolsync/libs/contracts"
	"github.com/md-rashed-zaman/schoolsync/libs/ddd"
	"github.com/md-rashed-zaman/schoolsync/libs/eventbus"
	"github.com/md-rashed-zaman/schoolsync/libs/outbox"
	"github.com/md-rashed-zaman/schoolsync/libs/tenant"
	"github.com/md-rashed-zaman/schoolsync/services/identity-service/internal/tenants"
	"github.com/md-rashed-zaman/schoolsync/services/identity-service/internal/translate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type txStub struct{}

func (txStub) Do(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

// commitFails runs fn and then fails the commit.
type commitFails struct{}

func (commitFails) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := fn(ctx); err != nil {
		return err
	}
	return errCommit
}

var errCommit = errors.New("commit failed")

type transportStub struct {
	err  error
	sent int
}

func (s *transportStub) Send(_ context.Context, msgs ...eventbus.Message) error {
	if s.err != nil {
		return s.err
	}
	s.sent += len(msgs)
	return nil
}

func (s *transportStub) Close() error { return nil }

func registry(t *testing.T) *eventbus.Registry {
	t.Helper()
	reg, err := contracts.NewRegistry()
	require.NoError(t, err)
	return reg
}

func newUnitOfWork(tx ddd.TxRunner, phase ddd.Phase, pub eventbus.Publisher, logger *slog.Logger) *ddd.UnitOfWork {
	d := ddd.NewDispatcher()
	translate.Register(d, phase, pub, logger)
	d.Freeze()
	return ddd.NewUnitOfWork(tx, d, logger)
}

func setup(t *testing.T, logger *slog.Logger) (*ddd.UnitOfWork, *outbox.MemoryStore) {
	t.Helper()
	store := outbox.NewMemoryStore()
	return newUnitOfWork(txStub{}, ddd.InTransaction, outbox.NewPublisher(registry(t), store), logger), store
}

func createTrial(id tenant.ID) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		tn, err := tenants.New(id, "Riverside High", tenants.PlanTrial, "head@riverside.test")
		if err != nil {
			return err
		}
		return ddd.Track(ctx, tn)
	}
}

func envelope(t *testing.T, rec outbox.Record) eventbus.Envelope {
	t.Helper()
	env, err := eventbus.DecodeEnvelope(rec.Payload)
	require.NoError(t, err)
	return env
}

func TestTrialTenantIsPublishedWithFiftySeats(t *testing.T) {
	uow, store := setup(t, slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := uow.Do(context.Background(), func(ctx context.Context) error {
		tn, err := tenants.New("T1", "Riverside High", tenants.PlanTrial, "head@riverside.test")
		require.NoError(t, err)
		return ddd.Track(ctx, tn)
	})
	require.NoError(t, err)

	records := store.Records()
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, contracts.TypeTenantCreated, rec.EventType)
	assert.Equal(t, contracts.TopicTenantLifecycle, rec.Topic)
	assert.Equal(t, "T1", rec.TenantID)

	env := envelope(t, rec)
	var got contracts.TenantCreated
	require.NoError(t, eventbus.DecodePayload(env, &got))
	assert.Equal(t, "Riverside High", got.Name)
	assert.Equal(t, "trial", got.Plan)
	assert.Equal(t, 50, got.MaxUsers)
	assert.Equal(t, "head@riverside.test", got.AdminEmail)
}

func TestPlanTable(t *testing.T) {
	for plan, want := range map[tenants.Plan]int{
		tenants.PlanTrial:    50,
		tenants.PlanBasic:    250,
		tenants.PlanStandard: 1000,
		tenants.PlanPremium:  5000,
	} {
		got, err := translate.MaxUsers(plan)
		require.NoError(t, err, plan)
		assert.Equal(t, want, got, plan)
	}
	_, err := translate.MaxUsers("platinum")
	assert.ErrorIs(t, err, tenants.ErrUnknownPlan)
}

func TestUnknownPlanIsLoggedAndNotPublished(t *testing.T) {
	var logs bytes.Buffer
	uow, store := setup(t, slog.New(slog.NewJSONHandler(&logs, nil)))

	tn := &tenants.Tenant{ID: "T2", Name: "Hillcrest", Plan: tenants.PlanBasic, Active: true}
	err := uow.Do(context.Background(), func(ctx context.Context) error {
		require.NoError(t, ddd.Track(ctx, tn))
		tn.Raise(tenants.Created{
			EventBase: ddd.NewEventBase("T2", tenant.ID("T2")),
			Name:      "Hillcrest",
			Plan:      "platinum",
		})
		return nil
	})
	require.NoError(t, err)
	assert.Empty(t, store.Records())
	assert.Contains(t, logs.String(), "translation failed")
	assert.Contains(t, logs.String(), "platinum")
}

func TestPlanChangeAndDeactivationKeepTenantOrder(t *testing.T) {
	uow, store := setup(t, slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := uow.Do(context.Background(), func(ctx context.Context) error {
		tn, err := tenants.New("T3", "Oakwood", tenants.PlanTrial, "admin@oakwood.test")
		require.NoError(t, err)
		require.NoError(t, ddd.Track(ctx, tn))
		require.NoError(t, tn.ChangePlan(tenants.PlanStandard))
		return tn.Deactivate("closed for renovation")
	})
	require.NoError(t, err)

	records := store.Records()
	require.Len(t, records, 3)
	assert.Equal(t, contracts.TypeTenantCreated, records[0].EventType)
	assert.Equal(t, contracts.TypeTenantPlanChanged, records[1].EventType)
	assert.Equal(t, contracts.TypeTenantDeactivated, records[2].EventType)
	for _, rec := range records {
		assert.Equal(t, []byte("T3"), rec.Key)
	}

	var changed contracts.TenantPlanChanged
	require.NoError(t, eventbus.DecodePayload(envelope(t, records[1]), &changed))
	assert.Equal(t, "trial", changed.PreviousPlan)
	assert.Equal(t, 1000, changed.MaxUsers)

	var deactivated contracts.TenantDeactivated
	require.NoError(t, eventbus.DecodePayload(envelope(t, records[2]), &deactivated))
	assert.Equal(t, "closed for renovation", deactivated.Reason)
}

func TestDirectSendDoesNotFailTheCommit(t *testing.T) {
	var logs bytes.Buffer
	down := &transportStub{err: errors.New("broker unreachable")}
	uow := newUnitOfWork(txStub{}, ddd.AfterCommit, eventbus.NewBrokerPublisher(registry(t), down), slog.New(slog.NewJSONHandler(&logs, nil)))

	require.NoError(t, uow.Do(context.Background(), createTrial("T4")))
	assert.Zero(t, down.sent)
	assert.Contains(t, logs.String(), "after-commit handler failed")
}

func TestDirectSendWaitsForTheCommit(t *testing.T) {
	up := &transportStub{}
	uow := newUnitOfWork(commitFails{}, ddd.AfterCommit, eventbus.NewBrokerPublisher(registry(t), up), slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := uow.Do(context.Background(), createTrial("T5"))
	require.ErrorIs(t, err, errCommit)
	assert.Zero(t, up.sent)

	uow = newUnitOfWork(txStub{}, ddd.AfterCommit, eventbus.NewBrokerPublisher(registry(t), up), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, uow.Do(context.Background(), createTrial("T6")))
	assert.Equal(t, 1, up.sent)
}
