package ddd

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Phase selects when a handler observes an event relative to the commit.
type Phase int

const (
	// InTransaction handlers run after the operation succeeded but before
	// commit, with the transactional context. An error rolls the whole
	// operation back.
	InTransaction Phase = iota
	// AfterCommit handlers run once the transaction committed. Errors are
	// logged and never reach the caller.
	AfterCommit
)

func (p Phase) String() string {
	switch p {
	case InTransaction:
		return "in_transaction"
	case AfterCommit:
		return "after_commit"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

var ErrDispatcherFrozen = errors.New("ddd: dispatcher is frozen")

type binding struct {
	phase  Phase
	handle func(ctx context.Context, e Event) (bool, error)
}

// Dispatcher routes drained events to handlers in registration order. Handlers
// are registered at startup; Freeze makes the table read-only.
type Dispatcher struct {
	mu       sync.RWMutex
	bindings []binding
	frozen   bool
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// On registers h for every event of concrete type E.
func On[E Event](d *Dispatcher, phase Phase, h func(ctx context.Context, e E) error) {
	d.add(binding{
		phase: phase,
		handle: func(ctx context.Context, e Event) (bool, error) {
			typed, ok := e.(E)
			if !ok {
				return false, nil
			}
			return true, h(ctx, typed)
		},
	})
}

// OnAny registers h for every event regardless of type.
func (d *Dispatcher) OnAny(phase Phase, h func(ctx context.Context, e Event) error) {
	d.add(binding{
		phase: phase,
		handle: func(ctx context.Context, e Event) (bool, error) {
			return true, h(ctx, e)
		},
	})
}

func (d *Dispatcher) add(b binding) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.frozen {
		panic(ErrDispatcherFrozen)
	}
	d.bindings = append(d.bindings, b)
}

func (d *Dispatcher) Freeze() {
	d.mu.Lock()
	d.frozen = true
	d.mu.Unlock()
}

// Dispatch runs the handlers of phase for e and stops at the first error.
func (d *Dispatcher) Dispatch(ctx context.Context, phase Phase, e Event) error {
	d.mu.RLock()
	bindings := d.bindings
	d.mu.RUnlock()

	for _, b := range bindings {
		if b.phase != phase {
			continue
		}
		if _, err := b.handle(ctx, e); err != nil {
			return err
		}
	}
	return nil
}
