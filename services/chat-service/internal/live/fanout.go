// Package live pushes freshly committed announcements to connected clients
// over Redis pub/sub.
package live

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bytedance/sonic"
	"github.com/md-rashed-zaman/schoolsync/libs/ddd"
	"github.com/md-rashed-zaman/schoolsync/services/chat-service/internal/chat"
	"github.com/redis/go-redis/v9"
)

// Publisher is the part of *redis.Client the fanout needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type Fanout struct {
	rdb    Publisher
	prefix string
	logger *slog.Logger
}

func NewFanout(rdb Publisher, prefix string, logger *slog.Logger) *Fanout {
	if prefix == "" {
		prefix = "schoolsync:chat"
	}
	return &Fanout{rdb: rdb, prefix: prefix, logger: logger}
}

// Register hooks the fanout after commit; a failed push never undoes a post.
func (f *Fanout) Register(d *ddd.Dispatcher) {
	ddd.On(d, ddd.AfterCommit, f.Announce)
}

type message struct {
	ID       string    `json:"id"`
	Channel  string    `json:"channel"`
	Author   string    `json:"author"`
	Title    string    `json:"title"`
	Body     string    `json:"body"`
	PostedAt time.Time `json:"posted_at"`
}

func (f *Fanout) Topic(tenantID, channelName string) string {
	return f.prefix + ":" + tenantID + ":" + channelName
}

func (f *Fanout) Announce(ctx context.Context, e chat.Posted) error {
	payload, err := sonic.Marshal(message{
		ID:       e.AnnouncementID,
		Channel:  e.ChannelName,
		Author:   e.Author,
		Title:    e.Title,
		Body:     e.Body,
		PostedAt: e.OccurredAt(),
	})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	receivers, err := f.rdb.Publish(ctx, f.Topic(e.TenantID().String(), e.ChannelName), payload).Result()
	if err != nil {
		return fmt.Errorf("live fanout: %w", err)
	}
	f.logger.Debug("live fanout", "receivers", receivers, "announcement_id", e.AnnouncementID)
	return nil
}
