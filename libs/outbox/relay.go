package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/md-rashed-zaman/schoolsync/libs/ddd"
	"github.com/md-rashed-zaman/schoolsync/libs/eventbus"
	otelx "github.com/md-rashed-zaman/schoolsync/libs/otel"
	"golang.org/x/sync/errgroup"
)

type RelayConfig struct {
	PollInterval    time.Duration
	CleanupInterval time.Duration
	Retention       time.Duration
	BatchSize       int
	// MaxAttempts is the number of failed relay passes before a row is
	// parked as failed.
	MaxAttempts int
	// SendTries bounds the in-pass retries of a single row.
	SendTries uint
}

// Relay moves pending rows to the broker in id order. A row that fails to
// send blocks every later row with the same topic and key. Once parked it
// keeps blocking them until it is requeued, so consumers see a key's events
// in the order they were written.
type Relay struct {
	tx        ddd.TxRunner
	store     Store
	transport eventbus.Transport
	logger    *slog.Logger
	cfg       RelayConfig
}

func NewRelay(tx ddd.TxRunner, store Store, transport eventbus.Transport, logger *slog.Logger, cfg RelayConfig) *Relay {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Hour
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.SendTries == 0 {
		cfg.SendTries = 3
	}
	return &Relay{tx: tx, store: store, transport: transport, logger: logger, cfg: cfg}
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r.every(gctx, r.cfg.PollInterval, func() {
			for {
				n, err := r.RelayOnce(gctx)
				if err != nil {
					if gctx.Err() == nil {
						r.logger.Error("outbox relay failed", "err", err)
					}
					return
				}
				if n < r.cfg.BatchSize {
					return
				}
			}
		})
		return nil
	})
	g.Go(func() error {
		r.every(gctx, r.cfg.CleanupInterval, func() {
			n, err := r.store.Purge(gctx, time.Now().Add(-r.cfg.Retention))
			if err != nil {
				r.logger.Error("outbox purge failed", "err", err)
				return
			}
			if n > 0 {
				r.logger.Info("outbox purged", "rows", n)
			}
		})
		return nil
	})
	return g.Wait()
}

func (r *Relay) every(ctx context.Context, interval time.Duration, task func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			task()
		}
	}
}

// RelayOnce runs one pass and returns the number of rows it looked at.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	var fetched int
	err := r.tx.Do(ctx, func(ctx context.Context) error {
		ok, err := r.store.Lock(ctx)
		if err != nil || !ok {
			return err
		}
		recs, err := r.store.FetchPending(ctx, r.cfg.BatchSize)
		if err != nil {
			return err
		}
		fetched = len(recs)

		blocked := map[string]bool{}
		published := make([]int64, 0, len(recs))
		for _, rec := range recs {
			k := rec.Topic + "\x00" + string(rec.Key)
			if blocked[k] {
				continue
			}
			if err := r.send(ctx, rec); err != nil {
				if ctx.Err() != nil {
					break
				}
				blocked[k] = true
				if err := r.recordFailure(ctx, rec, err); err != nil {
					return err
				}
				continue
			}
			published = append(published, rec.ID)
		}
		return r.store.MarkPublished(ctx, published)
	})
	return fetched, err
}

func (r *Relay) send(ctx context.Context, rec Record) error {
	msgCtx := otelx.ContextWithTraceContext(ctx, rec.Traceparent, rec.Tracestate)
	msg := eventbus.Message{Topic: rec.Topic, Key: rec.Key, Value: rec.Payload, Headers: rec.Headers}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second
	_, err := backoff.Retry(msgCtx, func() (struct{}, error) {
		return struct{}{}, r.transport.Send(msgCtx, msg)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(r.cfg.SendTries))
	return err
}

func (r *Relay) recordFailure(ctx context.Context, rec Record, cause error) error {
	failed, err := r.store.MarkAttemptFailed(ctx, rec.ID, cause.Error(), r.cfg.MaxAttempts)
	if err != nil {
		return err
	}
	attrs := []any{
		"err", cause,
		"outbox_id", rec.ID,
		"event_id", rec.EventID,
		"event_type", rec.EventType,
		"tenant_id", rec.TenantID,
		"attempts", rec.Attempts + 1,
	}
	if failed {
		r.logger.Error("outbox event parked after repeated send failures", append(attrs, "alert", true)...)
		return nil
	}
	r.logger.Warn("outbox send failed", attrs...)
	return nil
}
