package eventbus

import (
	"context"

	"github.com/md-rashed-zaman/schoolsync/libs/ddd"
)

// Inbox remembers which events a consumer has already applied.
type Inbox interface {
	// Claim records eventID for consumer and reports whether it was new.
	Claim(ctx context.Context, consumer, eventID, eventType string) (bool, error)
}

// Idempotent makes h safe under redelivery: the inbox claim and h's side
// effects share one transaction, so an event is applied at most once per
// consumer. Pass the service's unit of work as tx when h raises domain events.
func Idempotent[E IntegrationEvent](tx ddd.TxRunner, inbox Inbox, consumer string, h func(ctx context.Context, evt E) error) func(ctx context.Context, evt E) error {
	return func(ctx context.Context, evt E) error {
		return tx.Do(ctx, func(ctx context.Context) error {
			fresh, err := inbox.Claim(ctx, consumer, evt.Metadata().EventID, evt.EventType())
			if err != nil {
				return err
			}
			if !fresh {
				return nil
			}
			return h(ctx, evt)
		})
	}
}
