package ddd_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/md-rashed-zaman/schoolsync/libs/ddd"
	"github.com/md-rashed-zaman/schoolsync/libs/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type courseOpened struct {
	ddd.EventBase
	Seq int
}

func (courseOpened) EventName() string { return "course.opened" }

type courseClosed struct{ ddd.EventBase }

func (courseClosed) EventName() string { return "course.closed" }

type course struct {
	ddd.Ledger
	id string
}

func (c *course) open(seq int) {
	c.Raise(courseOpened{EventBase: ddd.NewEventBase(c.id, "T1"), Seq: seq})
}

// txStub records commit and rollback without a database.
type txStub struct {
	commits   int
	rollbacks int
	failWith  error
}

func (s *txStub) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := fn(ctx); err != nil {
		s.rollbacks++
		return err
	}
	if s.failWith != nil {
		s.rollbacks++
		return s.failWith
	}
	s.commits++
	return nil
}

func newUoW(tx ddd.TxRunner, d *ddd.Dispatcher) *ddd.UnitOfWork {
	return ddd.NewUnitOfWork(tx, d, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestDrainDeliversEveryEventOnceInRaiseOrder(t *testing.T) {
	d := ddd.NewDispatcher()
	var seen []int
	ddd.On(d, ddd.InTransaction, func(_ context.Context, e courseOpened) error {
		seen = append(seen, e.Seq)
		return nil
	})
	uow := newUoW(&txStub{}, d)

	a := &course{id: "a"}
	b := &course{id: "b"}
	err := uow.Do(context.Background(), func(ctx context.Context) error {
		require.NoError(t, ddd.Track(ctx, a))
		require.NoError(t, ddd.Track(ctx, b))
		require.NoError(t, ddd.Track(ctx, a))
		a.open(1)
		b.open(3)
		a.open(2)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3}, seen)
	assert.Zero(t, a.Pending())
	assert.Zero(t, b.Pending())
}

func TestEmptyLedgerProducesNoDispatch(t *testing.T) {
	d := ddd.NewDispatcher()
	calls := 0
	d.OnAny(ddd.InTransaction, func(context.Context, ddd.Event) error { calls++; return nil })
	d.OnAny(ddd.AfterCommit, func(context.Context, ddd.Event) error { calls++; return nil })

	err := newUoW(&txStub{}, d).Do(context.Background(), func(ctx context.Context) error {
		return ddd.Track(ctx, &course{id: "a"})
	})
	require.NoError(t, err)
	assert.Zero(t, calls)
}

func TestFailedOperationDiscardsEvents(t *testing.T) {
	d := ddd.NewDispatcher()
	calls := 0
	d.OnAny(ddd.InTransaction, func(context.Context, ddd.Event) error { calls++; return nil })
	d.OnAny(ddd.AfterCommit, func(context.Context, ddd.Event) error { calls++; return nil })
	tx := &txStub{}

	a := &course{id: "a"}
	boom := errors.New("boom")
	err := newUoW(tx, d).Do(context.Background(), func(ctx context.Context) error {
		_ = ddd.Track(ctx, a)
		a.open(1)
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Zero(t, calls)
	assert.Zero(t, a.Pending())
	assert.Equal(t, 1, tx.rollbacks)
}

func TestInTransactionErrorRollsBack(t *testing.T) {
	d := ddd.NewDispatcher()
	after := 0
	ddd.On(d, ddd.InTransaction, func(context.Context, courseOpened) error { return errors.New("outbox down") })
	d.OnAny(ddd.AfterCommit, func(context.Context, ddd.Event) error { after++; return nil })
	tx := &txStub{}

	err := newUoW(tx, d).Do(context.Background(), func(ctx context.Context) error {
		a := &course{id: "a"}
		_ = ddd.Track(ctx, a)
		a.open(1)
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, 1, tx.rollbacks)
	assert.Zero(t, after)
}

func TestAfterCommitRunsOnlyOnCommitAndSwallowsErrors(t *testing.T) {
	d := ddd.NewDispatcher()
	var order []string
	ddd.On(d, ddd.InTransaction, func(context.Context, courseOpened) error { order = append(order, "in_tx"); return nil })
	ddd.On(d, ddd.AfterCommit, func(context.Context, courseOpened) error {
		order = append(order, "after_commit")
		return errors.New("notify failed")
	})

	err := newUoW(&txStub{}, d).Do(context.Background(), func(ctx context.Context) error {
		a := &course{id: "a"}
		_ = ddd.Track(ctx, a)
		a.open(1)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"in_tx", "after_commit"}, order)

	order = nil
	err = newUoW(&txStub{failWith: errors.New("commit failed")}, d).Do(context.Background(), func(ctx context.Context) error {
		a := &course{id: "a"}
		_ = ddd.Track(ctx, a)
		a.open(1)
		return nil
	})
	require.Error(t, err)
	assert.NotContains(t, order, "after_commit")
}

func TestHandlersRunInRegistrationOrderAndByType(t *testing.T) {
	d := ddd.NewDispatcher()
	var order []string
	ddd.On(d, ddd.InTransaction, func(context.Context, courseOpened) error { order = append(order, "opened-1"); return nil })
	ddd.On(d, ddd.InTransaction, func(context.Context, courseClosed) error { order = append(order, "closed"); return nil })
	ddd.On(d, ddd.InTransaction, func(context.Context, courseOpened) error { order = append(order, "opened-2"); return nil })

	err := newUoW(&txStub{}, d).Do(context.Background(), func(ctx context.Context) error {
		a := &course{id: "a"}
		_ = ddd.Track(ctx, a)
		a.open(1)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"opened-1", "opened-2"}, order)
}

func TestNestedDoJoinsOuterUnitOfWork(t *testing.T) {
	d := ddd.NewDispatcher()
	count := 0
	d.OnAny(ddd.InTransaction, func(context.Context, ddd.Event) error { count++; return nil })
	tx := &txStub{}
	uow := newUoW(tx, d)

	err := uow.Do(context.Background(), func(ctx context.Context) error {
		return uow.Do(ctx, func(ctx context.Context) error {
			a := &course{id: "a"}
			_ = ddd.Track(ctx, a)
			a.open(1)
			return nil
		})
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, 1, tx.commits)
}

func TestTrackOutsideUnitOfWork(t *testing.T) {
	err := ddd.Track(context.Background(), &course{id: "a"})
	assert.ErrorIs(t, err, ddd.ErrNoUnitOfWork)
}

func TestEventBaseCarriesTenant(t *testing.T) {
	e := courseOpened{EventBase: ddd.NewEventBase("a", tenant.ID("T7"))}
	assert.Equal(t, tenant.ID("T7"), e.TenantID())
	assert.Equal(t, "a", e.AggregateID())
	assert.False(t, e.OccurredAt().IsZero())
}
