package chat_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/md-rashed-zaman/schoolsync/libs/contracts"
	"github.com/md-rashed-zaman/schoolsync/libs/ddd"
	"github.com/md-rashed-zaman/schoolsync/libs/eventbus"
	"github.com/md-rashed-zaman/schoolsync/libs/outbox"
	"github.com/md-rashed-zaman/schoolsync/libs/tenant"
	"github.com/md-rashed-zaman/schoolsync/services/chat-service/internal/chat"
	"github.com/md-rashed-zaman/schoolsync/services/chat-service/internal/live"
	"github.com/md-rashed-zaman/schoolsync/services/chat-service/internal/storage"
	"github.com/md-rashed-zaman/schoolsync/services/chat-service/internal/translate"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type uowStub struct{}

func (uowStub) Do(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

type redisFake struct {
	mu   sync.Mutex
	sent map[string][]string
	err  error
}

func (r *redisFake) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	if r.err != nil {
		cmd.SetErr(r.err)
		return cmd
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent[channel] = append(r.sent[channel], string(message.([]byte)))
	cmd.SetVal(1)
	return cmd
}

type fixture struct {
	svc    *chat.Service
	store  *storage.Memory
	outbox *outbox.MemoryStore
	redis  *redisFake
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg, err := contracts.NewRegistry()
	require.NoError(t, err)

	f := &fixture{
		store:  storage.NewMemory(),
		outbox: outbox.NewMemoryStore(),
		redis:  &redisFake{sent: map[string][]string{}},
	}
	d := ddd.NewDispatcher()
	translate.Register(d, ddd.InTransaction, outbox.NewPublisher(reg, f.outbox), logger)
	live.NewFanout(f.redis, "", logger).Register(d)
	d.Freeze()
	f.svc = chat.NewService(ddd.NewUnitOfWork(uowStub{}, d, logger), f.store)

	_, err = f.store.EnsureChannel(tenant.WithTenant(context.Background(), "T1"), chat.NewAnnouncements("T1", time.Now()))
	require.NoError(t, err)
	return f
}

func TestAnnounceIsPublishedAndFannedOut(t *testing.T) {
	f := newFixture(t)
	ctx := tenant.WithTenant(context.Background(), "T1")

	a, err := f.svc.Announce(ctx, "Principal", " Snow day ", "School is closed tomorrow.")
	require.NoError(t, err)
	assert.Equal(t, "Snow day", a.Title)
	assert.Equal(t, chat.ChannelID("T1", chat.AnnouncementsChannel), a.ChannelID)
	assert.Len(t, f.store.Announcements(), 1)

	records := f.outbox.Records()
	require.Len(t, records, 1)
	assert.Equal(t, contracts.TypeAnnouncementPosted, records[0].EventType)
	assert.Equal(t, contracts.TopicChatMessaging, records[0].Topic)
	env, err := eventbus.DecodeEnvelope(records[0].Payload)
	require.NoError(t, err)
	var got contracts.AnnouncementPosted
	require.NoError(t, eventbus.DecodePayload(env, &got))
	assert.Equal(t, a.ID, got.AnnouncementID)
	assert.Equal(t, chat.AnnouncementsChannel, got.ChannelName)
	assert.Equal(t, "Principal", got.AuthorID)

	pushed := f.redis.sent["schoolsync:chat:T1:announcements"]
	require.Len(t, pushed, 1)
	var msg map[string]any
	require.NoError(t, sonic.UnmarshalString(pushed[0], &msg))
	assert.Equal(t, a.ID, msg["id"])
}

func TestFanoutFailureDoesNotFailThePost(t *testing.T) {
	f := newFixture(t)
	f.redis.err = errors.New("redis down")

	_, err := f.svc.Announce(tenant.WithTenant(context.Background(), "T1"), "", "Title", "Body")
	require.NoError(t, err)
	assert.Len(t, f.outbox.Records(), 1)
}

func TestAnnounceRules(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Announce(context.Background(), "", "t", "b")
	assert.ErrorIs(t, err, tenant.ErrTenantContextUnavailable)

	_, err = f.svc.Announce(tenant.WithTenant(context.Background(), "T2"), "", "t", "b")
	assert.ErrorIs(t, err, chat.ErrNoChannel)

	_, err = f.svc.Announce(tenant.WithTenant(context.Background(), "T1"), "", "", "b")
	assert.ErrorIs(t, err, chat.ErrInvalid)

	n, err := f.store.ArchiveChannels(tenant.WithTenant(context.Background(), "T1"))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	_, err = f.svc.Announce(tenant.WithTenant(context.Background(), "T1"), "", "t", "b")
	assert.ErrorIs(t, err, chat.ErrArchived)

	assert.Empty(t, f.outbox.Records())
	assert.Empty(t, f.redis.sent)
}

func TestChannelIDIsStable(t *testing.T) {
	assert.Equal(t, chat.ChannelID("T1", "announcements"), chat.ChannelID("T1", "announcements"))
	assert.NotEqual(t, chat.ChannelID("T1", "announcements"), chat.ChannelID("T2", "announcements"))
}

func TestChannelWritesStayInTheirTenant(t *testing.T) {
	f := newFixture(t)
	t2 := tenant.WithTenant(context.Background(), "T2")

	_, err := f.store.EnsureChannel(t2, chat.NewAnnouncements("T1", time.Now()))
	assert.ErrorIs(t, err, tenant.ErrTenantMismatch)
	_, err = f.store.EnsureChannel(context.Background(), chat.NewAnnouncements("T2", time.Now()))
	assert.ErrorIs(t, err, tenant.ErrTenantContextUnavailable)
	_, err = f.store.ArchiveChannels(context.Background())
	assert.ErrorIs(t, err, tenant.ErrTenantContextUnavailable)

	n, err := f.store.ArchiveChannels(t2)
	require.NoError(t, err)
	assert.Zero(t, n)
	c, err := f.store.ChannelForUpdate(tenant.WithTenant(context.Background(), "T1"), chat.AnnouncementsChannel)
	require.NoError(t, err)
	assert.False(t, c.Archived)
}
