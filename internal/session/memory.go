package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/medscope/study-search-service/internal/domain"
	"github.com/medscope/study-search-service/internal/observability"
)

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// MemoryStore is an in-process Store for tests and single-node development.
// Entries round-trip through JSON so serialization behaves identically to the
// Redis implementation.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	metrics *observability.Metrics

	now func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an in-memory store with the given entry TTL.
// Metrics may be nil.
func NewMemoryStore(ttl time.Duration, metrics *observability.Metrics) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		metrics: metrics,
		now:     time.Now,
	}
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, key string) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.get(key)
}

// Put implements Store.
func (m *MemoryStore) Put(_ context.Context, snap *Snapshot) error {
	if snap == nil || snap.SearchKey == "" {
		return fmt.Errorf("%w: snapshot requires a search key", domain.ErrInvalidInput)
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[snap.SearchKey] = memoryEntry{
		data:      data,
		expiresAt: m.now().Add(m.ttl),
	}
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *MemoryStore) get(key string) (*Snapshot, error) {
	entry, ok := m.entries[key]
	if !ok || m.now().After(entry.expiresAt) {
		delete(m.entries, key)
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionExpired, key)
	}
	var snap Snapshot
	if err := json.Unmarshal(entry.data, &snap); err != nil {
		// Corrupt entries are a miss, not an error.
		if m.metrics != nil {
			m.metrics.SessionsMalformed.Inc()
		}
		delete(m.entries, key)
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionExpired, key)
	}
	return &snap, nil
}
