package inbox

import (
	"context"
	"sync"

	"github.com/md-rashed-zaman/schoolsync/libs/eventbus"
)

// Memory is an in-process inbox. Used as the TxRunner of Idempotent, its Do
// releases the claims made by a failed fn, so a redelivery is applied again.
type Memory struct {
	mu     sync.Mutex
	claims map[string]map[string]string
}

func NewMemory() *Memory {
	return &Memory{claims: map[string]map[string]string{}}
}

type journalKey struct{}

type journal struct{ claims [][2]string }

func (m *Memory) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, nested := ctx.Value(journalKey{}).(*journal); nested {
		return fn(ctx)
	}
	j := &journal{}
	err := fn(context.WithValue(ctx, journalKey{}, j))
	if err != nil {
		for _, c := range j.claims {
			m.Release(c[0], c[1])
		}
	}
	return err
}

func (m *Memory) Claim(ctx context.Context, consumer, eventID, eventType string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byID, ok := m.claims[consumer]
	if !ok {
		byID = map[string]string{}
		m.claims[consumer] = byID
	}
	if _, seen := byID[eventID]; seen {
		return false, nil
	}
	byID[eventID] = eventType
	if j, ok := ctx.Value(journalKey{}).(*journal); ok {
		j.claims = append(j.claims, [2]string{consumer, eventID})
	}
	return true, nil
}

// Release forgets a claim, for callers emulating a rolled back transaction.
func (m *Memory) Release(consumer, eventID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claims[consumer], eventID)
}

func (m *Memory) Count(consumer string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.claims[consumer])
}

var _ eventbus.Inbox = (*Memory)(nil)
