package chat

import (
	"context"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/schoolsync/libs/ddd"
	"github.com/md-rashed-zaman/schoolsync/libs/tenant"
)

// Store reads the tenant from ctx except where a method takes it explicitly.
type Store interface {
	EnsureChannel(ctx context.Context, c Channel) (bool, error)
	ArchiveChannels(ctx context.Context) (int64, error)
	ChannelForUpdate(ctx context.Context, name string) (*Channel, error)
	SaveAnnouncement(ctx context.Context, a Announcement) error

	UpsertMember(ctx context.Context, m Member) error
	RemoveMember(ctx context.Context, personID string) (bool, error)
	Members(ctx context.Context, kind MemberKind) ([]Member, error)
}

type Service struct {
	uow   ddd.TxRunner
	store Store
}

func NewService(uow ddd.TxRunner, store Store) *Service {
	return &Service{uow: uow, store: store}
}

// Announce posts to the announcements channel of the current tenant.
func (s *Service) Announce(ctx context.Context, author, title, body string) (Announcement, error) {
	if _, err := tenant.CurrentTenantID(ctx); err != nil {
		return Announcement{}, err
	}
	var posted Announcement
	err := s.uow.Do(ctx, func(ctx context.Context) error {
		c, err := s.store.ChannelForUpdate(ctx, AnnouncementsChannel)
		if err != nil {
			return err
		}
		if err := ddd.Track(ctx, c); err != nil {
			return err
		}
		a, err := c.Post(uuid.NewString(), author, title, body)
		if err != nil {
			return err
		}
		posted = a
		return s.store.SaveAnnouncement(ctx, a)
	})
	if err != nil {
		return Announcement{}, err
	}
	return posted, nil
}

func (s *Service) Members(ctx context.Context, kind MemberKind) ([]Member, error) {
	return s.store.Members(ctx, kind)
}
