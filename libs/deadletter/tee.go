package deadletter

import (
	"context"
	"log/slog"

	"github.com/md-rashed-zaman/schoolsync/libs/config"
	"github.com/md-rashed-zaman/schoolsync/libs/eventbus"
)

// Tee stores into primary and copies into archive. Only the primary decides
// the outcome; archive failures are logged.
type Tee struct {
	primary eventbus.DeadLetterSink
	archive eventbus.DeadLetterSink
	logger  *slog.Logger
}

func NewTee(primary, archive eventbus.DeadLetterSink, logger *slog.Logger) *Tee {
	return &Tee{primary: primary, archive: archive, logger: logger}
}

func (t *Tee) Store(ctx context.Context, dl eventbus.DeadLetter) error {
	if err := t.primary.Store(ctx, dl); err != nil {
		return err
	}
	if t.archive == nil {
		return nil
	}
	if err := t.archive.Store(ctx, dl); err != nil {
		t.logger.Warn("dead letter archive failed", "err", err, "event_id", dl.EventID, "consumer", dl.Consumer)
	}
	return nil
}

// NewSink returns primary, teed into the S3 archive when the archive is enabled.
func NewSink(ctx context.Context, primary eventbus.DeadLetterSink, cfg config.DeadLetterArchive, logger *slog.Logger) (eventbus.DeadLetterSink, error) {
	if !cfg.Enabled {
		return primary, nil
	}
	archive, err := NewS3Archive(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return NewTee(primary, archive, logger), nil
}
