package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/md-rashed-zaman/schoolsync/libs/tenant"
	"github.com/md-rashed-zaman/schoolsync/services/chat-service/internal/chat"
)

type Memory struct {
	mu            sync.Mutex
	channels      map[string]chat.Channel
	announcements []chat.Announcement
	members       map[tenant.ID]map[string]chat.Member
}

func NewMemory() *Memory {
	return &Memory{
		channels: map[string]chat.Channel{},
		members:  map[tenant.ID]map[string]chat.Member{},
	}
}

func (m *Memory) EnsureChannel(ctx context.Context, c chat.Channel) (bool, error) {
	tenantID, err := tenant.Match(ctx, c.TenantID)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.channels[c.ID]; ok {
		return false, nil
	}
	m.channels[c.ID] = chat.Channel{ID: c.ID, TenantID: tenantID, Name: c.Name, Archived: c.Archived, CreatedAt: c.CreatedAt}
	return true, nil
}

func (m *Memory) ArchiveChannels(ctx context.Context) (int64, error) {
	tenantID, err := tenant.CurrentTenantID(ctx)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, c := range m.channels {
		if c.TenantID == tenantID && !c.Archived {
			c.Archived = true
			m.channels[id] = c
			n++
		}
	}
	return n, nil
}

func (m *Memory) ChannelForUpdate(ctx context.Context, name string) (*chat.Channel, error) {
	tenantID, err := tenant.CurrentTenantID(ctx)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.channels[chat.ChannelID(tenantID, name)]
	if !ok {
		return nil, chat.ErrNoChannel
	}
	return &c, nil
}

func (m *Memory) SaveAnnouncement(_ context.Context, a chat.Announcement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.announcements = append(m.announcements, a)
	return nil
}

// Announcements returns everything posted, oldest first.
func (m *Memory) Announcements() []chat.Announcement {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]chat.Announcement(nil), m.announcements...)
}

func (m *Memory) UpsertMember(ctx context.Context, member chat.Member) error {
	tenantID, err := tenant.CurrentTenantID(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	byID, ok := m.members[tenantID]
	if !ok {
		byID = map[string]chat.Member{}
		m.members[tenantID] = byID
	}
	if existing, ok := byID[member.PersonID]; ok {
		existing.DisplayName = member.DisplayName
		byID[member.PersonID] = existing
		return nil
	}
	member.TenantID = tenantID
	byID[member.PersonID] = member
	return nil
}

func (m *Memory) RemoveMember(ctx context.Context, personID string) (bool, error) {
	tenantID, err := tenant.CurrentTenantID(ctx)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.members[tenantID][personID]; !ok {
		return false, nil
	}
	delete(m.members[tenantID], personID)
	return true, nil
}

func (m *Memory) Members(ctx context.Context, kind chat.MemberKind) ([]chat.Member, error) {
	tenantID, err := tenant.CurrentTenantID(ctx)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []chat.Member
	for _, member := range m.members[tenantID] {
		if kind == "" || member.Kind == kind {
			out = append(out, member)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName != out[j].DisplayName {
			return out[i].DisplayName < out[j].DisplayName
		}
		return out[i].PersonID < out[j].PersonID
	})
	return out, nil
}
