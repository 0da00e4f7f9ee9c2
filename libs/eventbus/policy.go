package eventbus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrPermanent marks handler errors that retrying cannot fix.
var ErrPermanent = errors.New("permanent failure")

// Permanent wraps err so the default classifier dead-letters it at once.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

type Class int

const (
	ClassRetryable Class = iota
	ClassPermanent
)

// Policy is the retry and dead-letter policy of one subscription.
type Policy struct {
	// MaxAttempts bounds handler invocations for one delivery, first try included.
	MaxAttempts int
	// Timeout bounds one handler invocation. Exceeding it is retryable.
	Timeout time.Duration
	// Backoff returns a fresh schedule for each delivery.
	Backoff func() backoff.BackOff
	// Classify decides whether an error is worth retrying.
	Classify func(error) Class
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		Timeout:     10 * time.Second,
		Backoff:     ExponentialBackoff(200*time.Millisecond, 5*time.Second),
		Classify:    DefaultClassify,
	}
}

func ExponentialBackoff(initial, maxInterval time.Duration) func() backoff.BackOff {
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = initial
		b.MaxInterval = maxInterval
		return b
	}
}

// DefaultClassify treats errors wrapped with Permanent as permanent and every
// other error, including timeouts, as retryable.
func DefaultClassify(err error) Class {
	if errors.Is(err, ErrPermanent) {
		return ClassPermanent
	}
	return ClassRetryable
}

// PermanentOn extends DefaultClassify with business errors that must not be
// retried.
func PermanentOn(errs ...error) func(error) Class {
	return func(err error) Class {
		for _, target := range errs {
			if errors.Is(err, target) {
				return ClassPermanent
			}
		}
		return DefaultClassify(err)
	}
}

func (p Policy) normalized() Policy {
	def := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.Timeout <= 0 {
		p.Timeout = def.Timeout
	}
	if p.Backoff == nil {
		p.Backoff = def.Backoff
	}
	if p.Classify == nil {
		p.Classify = def.Classify
	}
	return p
}

// invoke runs fn with a timeout detached from ctx cancellation so shutdown
// lets the in-flight attempt finish. Panics become retryable errors.
func (p Policy) invoke(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.Timeout)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("eventbus: handler panic: %v", rec)
		}
	}()
	return fn(hctx)
}
