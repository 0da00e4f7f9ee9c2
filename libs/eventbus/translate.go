package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/md-rashed-zaman/schoolsync/libs/ddd"
)

// ErrSkip tells Translate the domain event has no integration counterpart in
// this case. Nothing is published and nothing is logged.
var ErrSkip = errors.New("eventbus: no integration event")

// TranslationError wraps a failure to build an integration event.
type TranslationError struct {
	DomainEvent string
	Err         error
}

func (e *TranslationError) Error() string {
	return fmt.Sprintf("eventbus: translate %s: %v", e.DomainEvent, e.Err)
}

func (e *TranslationError) Unwrap() error { return e.Err }

// Translate adapts a translation function into a dispatcher handler.
// Translation failures are logged and swallowed so the state change that
// raised the event still commits. Publish failures are returned.
func Translate[D ddd.Event, I IntegrationEvent](logger *slog.Logger, pub Publisher, fn func(ctx context.Context, d D) (I, error)) func(ctx context.Context, d D) error {
	return func(ctx context.Context, d D) error {
		evt, err := fn(ctx, d)
		if errors.Is(err, ErrSkip) {
			return nil
		}
		if err != nil {
			terr := &TranslationError{DomainEvent: d.EventName(), Err: err}
			logger.Error("translation failed",
				"err", terr,
				"event", d.EventName(),
				"aggregate_id", d.AggregateID(),
				"tenant_id", d.TenantID().String(),
			)
			return nil
		}
		return pub.Publish(ctx, evt)
	}
}
