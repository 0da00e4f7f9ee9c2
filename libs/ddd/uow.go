package ddd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var ErrNoUnitOfWork = errors.New("ddd: no unit of work in context")

// TxRunner runs fn inside a transaction bound to the context passed to fn.
// The avito-tech transaction manager satisfies it.
type TxRunner interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// UnitOfWork is the commit boundary of one business operation. Aggregates
// touched by the operation are registered with Track; their ledgers are
// drained once fn succeeds.
type UnitOfWork struct {
	tx         TxRunner
	dispatcher *Dispatcher
	logger     *slog.Logger
}

func NewUnitOfWork(tx TxRunner, dispatcher *Dispatcher, logger *slog.Logger) *UnitOfWork {
	return &UnitOfWork{tx: tx, dispatcher: dispatcher, logger: logger}
}

// Do runs fn in a transaction. After fn returns nil, tracked ledgers are
// drained in tracking order and InTransaction handlers run before commit.
// Events raised by those handlers on tracked aggregates are drained too.
// AfterCommit handlers run only after a successful commit.
//
// A Do nested in another Do joins the outer unit of work.
func (u *UnitOfWork) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if scopeFrom(ctx) != nil {
		return fn(ctx)
	}

	s := &scope{}
	ctx = context.WithValue(ctx, scopeKey{}, s)

	var committed []Event
	err := u.tx.Do(ctx, func(ctx context.Context) error {
		committed = committed[:0]
		if err := fn(ctx); err != nil {
			return err
		}
		for {
			events := s.drain()
			if len(events) == 0 {
				return nil
			}
			for _, e := range events {
				if err := u.dispatcher.Dispatch(ctx, InTransaction, e); err != nil {
					return fmt.Errorf("handle %s: %w", e.EventName(), err)
				}
			}
			committed = append(committed, events...)
		}
	})
	if err != nil {
		s.drain()
		return err
	}

	// The scope is finished; a Do started by a handler opens a new one.
	afterCtx := context.WithValue(ctx, scopeKey{}, (*scope)(nil))
	for _, e := range committed {
		if err := u.dispatcher.Dispatch(afterCtx, AfterCommit, e); err != nil {
			u.logger.Error("after-commit handler failed",
				"err", err,
				"event", e.EventName(),
				"aggregate_id", e.AggregateID(),
				"tenant_id", e.TenantID().String(),
			)
		}
	}
	return nil
}

// Track registers agg with the unit of work of ctx. agg must be a pointer;
// tracking the same aggregate twice has no effect.
func Track(ctx context.Context, agg Aggregate) error {
	s := scopeFrom(ctx)
	if s == nil {
		return ErrNoUnitOfWork
	}
	s.track(agg)
	return nil
}

type scopeKey struct{}

type scope struct {
	mu         sync.Mutex
	aggregates []Aggregate
}

func scopeFrom(ctx context.Context) *scope {
	s, _ := ctx.Value(scopeKey{}).(*scope)
	return s
}

func (s *scope) track(agg Aggregate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.aggregates {
		if a == agg {
			return
		}
	}
	s.aggregates = append(s.aggregates, agg)
}

func (s *scope) drain() []Event {
	s.mu.Lock()
	aggs := s.aggregates
	s.mu.Unlock()

	var out []Event
	for _, a := range aggs {
		out = append(out, a.PullEvents()...)
	}
	return out
}
