package eventbus

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrUnregisteredType = errors.New("eventbus: event type has no topic")
	ErrRegistryFrozen   = errors.New("eventbus: registry is frozen")
)

// Registry is the static binding of event types to topics. It is filled at
// process start and frozen before the first publish or subscribe.
type Registry struct {
	mu     sync.RWMutex
	topics map[string]string
	frozen bool
}

func NewRegistry() *Registry {
	return &Registry{topics: map[string]string{}}
}

func (r *Registry) Bind(eventType, topic string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrRegistryFrozen
	}
	if eventType == "" || topic == "" {
		return errors.New("eventbus: event type and topic are required")
	}
	if existing, ok := r.topics[eventType]; ok {
		return fmt.Errorf("eventbus: %s already bound to %s", eventType, existing)
	}
	r.topics[eventType] = topic
	return nil
}

func (r *Registry) Topic(eventType string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	topic, ok := r.topics[eventType]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnregisteredType, eventType)
	}
	return topic, nil
}

// Topics returns the distinct topics of the given types, or of every bound
// type when none are given.
func (r *Registry) Topics(eventTypes ...string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := map[string]bool{}
	if len(eventTypes) == 0 {
		for _, t := range r.topics {
			seen[t] = true
		}
	}
	for _, et := range eventTypes {
		if t, ok := r.topics[et]; ok {
			seen[t] = true
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}
