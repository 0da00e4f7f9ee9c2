package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

var ErrMissingTenant = errors.New("eventbus: event has no tenant")

// Publisher hands an integration event to the broker, directly or through a
// transactional outbox.
type Publisher interface {
	Publish(ctx context.Context, evt IntegrationEvent) error
}

// PublishError reports a failed publish. Retryable failures may succeed when
// the same event is published again.
type PublishError struct {
	EventType string
	EventID   string
	Retryable bool
	Err       error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("eventbus: publish %s (%s): %v", e.EventType, e.EventID, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

func IsRetryable(err error) bool {
	var pe *PublishError
	return errors.As(err, &pe) && pe.Retryable
}

// BrokerPublisher performs exactly one transport write per Publish.
type BrokerPublisher struct {
	registry  *Registry
	transport Transport
}

func NewBrokerPublisher(reg *Registry, transport Transport) *BrokerPublisher {
	return &BrokerPublisher{registry: reg, transport: transport}
}

func (p *BrokerPublisher) Publish(ctx context.Context, evt IntegrationEvent) error {
	msg, err := BuildMessage(p.registry, evt)
	if err != nil {
		return &PublishError{
			EventType: evt.EventType(),
			EventID:   evt.Metadata().EventID,
			Retryable: !errors.Is(err, ErrMissingTenant) && !errors.Is(err, ErrUnregisteredType),
			Err:       err,
		}
	}
	if err := p.transport.Send(ctx, msg); err != nil {
		return &PublishError{EventType: evt.EventType(), EventID: evt.Metadata().EventID, Retryable: true, Err: err}
	}
	return nil
}

// RetryingPublisher retries retryable failures of next with exponential
// backoff and raises an operational alert when the budget is spent.
type RetryingPublisher struct {
	next       Publisher
	logger     *slog.Logger
	maxTries   uint
	newBackoff func() backoff.BackOff
}

func NewRetryingPublisher(next Publisher, logger *slog.Logger, maxTries uint) *RetryingPublisher {
	if maxTries == 0 {
		maxTries = 5
	}
	return &RetryingPublisher{
		next:     next,
		logger:   logger,
		maxTries: maxTries,
		newBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
	}
}

func (p *RetryingPublisher) Publish(ctx context.Context, evt IntegrationEvent) error {
	tries := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		tries++
		err := p.next.Publish(ctx, evt)
		if err != nil && !IsRetryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(p.newBackoff()), backoff.WithMaxTries(p.maxTries))
	if err != nil {
		p.logger.Error("integration event publish failed",
			"alert", true,
			"err", err,
			"event_type", evt.EventType(),
			"event_id", evt.Metadata().EventID,
			"tenant_id", evt.Metadata().TenantID.String(),
			"tries", tries,
		)
	}
	return err
}
