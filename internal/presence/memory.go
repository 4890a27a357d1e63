package presence

import (
	"context"
	"sort"
	"sync"
)

// MemorySets is a SetStore held in process memory. It is used when a single
// chat process owns all connections.
type MemorySets struct {
	mu   sync.Mutex
	sets map[string]map[string]struct{}
}

// NewMemorySets returns an empty MemorySets.
func NewMemorySets() *MemorySets {
	return &MemorySets{sets: make(map[string]map[string]struct{})}
}

func (m *MemorySets) Add(_ context.Context, key, member string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.sets[key]
	if !ok {
		set = make(map[string]struct{})
		m.sets[key] = set
	}
	set[member] = struct{}{}
	return int64(len(set)), nil
}

func (m *MemorySets) Remove(_ context.Context, key, member string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.sets[key]
	if !ok {
		return 0, nil
	}
	delete(set, member)
	if len(set) == 0 {
		delete(m.sets, key)
		return 0, nil
	}
	return int64(len(set)), nil
}

func (m *MemorySets) Card(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.sets[key])), nil
}

// Members returns the set sorted.
func (m *MemorySets) Members(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sets[key]))
	for member := range m.sets[key] {
		out = append(out, member)
	}
	sort.Strings(out)
	return out, nil
}
