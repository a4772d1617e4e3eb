package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// MemoryBackend is the in-process L1 tier. Expired entries are treated as
// absent on read and only replaced on write or removed by Purge.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]Entry
	clock   clockwork.Clock
}

// NewMemoryBackend creates an empty L1 tier. A nil clock uses wall time.
func NewMemoryBackend(clock clockwork.Clock) *MemoryBackend {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryBackend{
		entries: make(map[string]Entry),
		clock:   clock,
	}
}

func (m *MemoryBackend) Get(ctx context.Context, key string) (interface{}, bool, error) {
	v, _, ok, err := m.GetWithTTL(ctx, key)
	return v, ok, err
}

func (m *MemoryBackend) GetWithTTL(_ context.Context, key string) (interface{}, time.Duration, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	now := m.clock.Now()
	if !ok || !e.Valid(now) {
		return nil, 0, false, nil
	}
	return e.Value, e.remaining(now), true, nil
}

// Entry returns the raw entry, including expired ones.
func (m *MemoryBackend) Entry(key string) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	return e, ok
}

func (m *MemoryBackend) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	m.mu.Lock()
	m.entries[key] = Entry{Key: key, Value: value, StoredAt: m.clock.Now(), TTL: ttl}
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) DeletePrefix(_ context.Context, prefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			delete(m.entries, k)
			n++
		}
	}
	return n, nil
}

// Purge drops expired entries and returns how many were removed.
func (m *MemoryBackend) Purge() int {
	now := m.clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, e := range m.entries {
		if !e.Valid(now) {
			delete(m.entries, k)
			n++
		}
	}
	return n
}

// Len counts stored entries, expired ones included.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
