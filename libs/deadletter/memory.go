package deadletter

import (
	"context"
	"sync"
	"time"

	"github.com/md-rashed-zaman/schoolsync/libs/eventbus"
)

type Memory struct {
	mu      sync.Mutex
	entries []Entry
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Store(_ context.Context, dl eventbus.DeadLetter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, Entry{ID: int64(len(m.entries) + 1), DeadLetter: dl})
	return nil
}

func (m *Memory) List(_ context.Context, f Filter) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for _, e := range m.entries {
		switch {
		case e.ID <= f.AfterID:
		case f.Consumer != "" && e.Consumer != f.Consumer:
		case f.TenantID != "" && e.TenantID != f.TenantID:
		case !f.IncludeReplayed && e.ReplayedAt != nil:
		default:
			out = append(out, e)
		}
		if len(out) == f.limit() {
			break
		}
	}
	return out, nil
}

func (m *Memory) Get(_ context.Context, id int64) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id <= 0 || id > int64(len(m.entries)) {
		return Entry{}, ErrNotFound
	}
	return m.entries[id-1], nil
}

func (m *Memory) MarkReplayed(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id <= 0 || id > int64(len(m.entries)) {
		return ErrNotFound
	}
	m.entries[id-1].ReplayedAt = &at
	return nil
}

// Len is the number of stored entries, replayed or not.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

var _ Store = (*Memory)(nil)
