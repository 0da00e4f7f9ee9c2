package outbox

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps rows in process. It ignores transactions and is meant
// for tests and single-process development.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*Record
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: map[int64]*Record{}, now: time.Now}
}

func (s *MemoryStore) Insert(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	rec.ID = s.nextID
	rec.Status = StatusPending
	rec.CreatedAt = s.now().UTC()
	s.rows[rec.ID] = &rec
	return nil
}

func (s *MemoryStore) Lock(context.Context) (bool, error) { return true, nil }

func (s *MemoryStore) FetchPending(_ context.Context, limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, limit)
	parked := map[string]bool{}
	for _, id := range s.sortedIDs() {
		if len(out) == limit {
			break
		}
		r := s.rows[id]
		k := r.Topic + "\x00" + string(r.Key)
		switch {
		case r.Status == StatusFailed && len(r.Key) > 0:
			parked[k] = true
		case r.Status == StatusPending && !(len(r.Key) > 0 && parked[k]):
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListFailed(_ context.Context, afterID int64, limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var out []Record
	for _, id := range s.sortedIDs() {
		if len(out) == limit {
			break
		}
		if r := s.rows[id]; id > afterID && r.Status == StatusFailed {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *MemoryStore) Requeue(_ context.Context, id int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for rid, r := range s.rows {
		if r.Status != StatusFailed || (id > 0 && rid != id) {
			continue
		}
		r.Status = StatusPending
		r.Attempts = 0
		n++
	}
	if id > 0 && n == 0 {
		return 0, ErrRecordNotFound
	}
	return n, nil
}

func (s *MemoryStore) MarkPublished(_ context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	for _, id := range ids {
		r, ok := s.rows[id]
		if !ok {
			return ErrRecordNotFound
		}
		r.Status = StatusPublished
		r.PublishedAt = &now
	}
	return nil
}

func (s *MemoryStore) MarkAttemptFailed(_ context.Context, id int64, cause string, maxAttempts int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return false, ErrRecordNotFound
	}
	r.Attempts++
	r.LastError = cause
	if r.Attempts >= maxAttempts {
		r.Status = StatusFailed
	}
	return r.Status == StatusFailed, nil
}

func (s *MemoryStore) Purge(_ context.Context, publishedBefore time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, r := range s.rows {
		if r.Status == StatusPublished && r.PublishedAt != nil && r.PublishedAt.Before(publishedBefore) {
			delete(s.rows, id)
			n++
		}
	}
	return n, nil
}

// Records returns a snapshot of every row in id order.
func (s *MemoryStore) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.rows))
	for _, id := range s.sortedIDs() {
		out = append(out, *s.rows[id])
	}
	return out
}

func (s *MemoryStore) sortedIDs() []int64 {
	ids := make([]int64, 0, len(s.rows))
	for id := range s.rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

var (
	_ Store  = (*MemoryStore)(nil)
	_ Parked = (*MemoryStore)(nil)
)
