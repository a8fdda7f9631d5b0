package cache

import (
	"context"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// MemoryStore is an in-process LRU store.
type MemoryStore struct {
	entries *lru.Cache[string, Entry]
}

// NewMemoryStore creates an LRU store holding up to size entries.
func NewMemoryStore(size int) (*MemoryStore, error) {
	entries, err := lru.New[string, Entry](size)
	if err != nil {
		return nil, err
	}
	return &MemoryStore{entries: entries}, nil
}

// Get retrieves an entry by key.
// Returns ErrCacheMiss if the key doesn't exist or entry is expired.
func (m *MemoryStore) Get(ctx context.Context, key Key) (Entry, error) {
	k := key.String()

	entry, ok := m.entries.Get(k)
	if !ok {
		CacheMisses.WithLabelValues("memory").Inc()
		return Entry{}, ErrCacheMiss
	}
	if entry.IsExpired() {
		m.entries.Remove(k)
		m.updateSize()
		CacheMisses.WithLabelValues("memory").Inc()
		return Entry{}, ErrCacheMiss
	}

	CacheHits.WithLabelValues("memory").Inc()
	return entry, nil
}

// Set stores an entry. Entries that are already expired are not stored.
func (m *MemoryStore) Set(ctx context.Context, key Key, entry Entry) error {
	if entry.TTL() <= 0 {
		return nil
	}
	m.entries.Add(key.String(), entry)
	m.updateSize()
	return nil
}

// Delete removes an entry.
func (m *MemoryStore) Delete(ctx context.Context, key Key) error {
	m.entries.Remove(key.String())
	m.updateSize()
	return nil
}

// DeleteSession removes every entry of session.
func (m *MemoryStore) DeleteSession(ctx context.Context, session string) error {
	prefix := sessionPrefix(session) + ":"
	for _, k := range m.entries.Keys() {
		if strings.HasPrefix(k, prefix) {
			m.entries.Remove(k)
		}
	}
	m.updateSize()
	return nil
}

// Len returns the number of stored entries.
func (m *MemoryStore) Len() int {
	return m.entries.Len()
}

// Close purges the store.
func (m *MemoryStore) Close() error {
	m.entries.Purge()
	m.updateSize()
	return nil
}

func (m *MemoryStore) updateSize() {
	CacheEntries.WithLabelValues("memory").Set(float64(m.entries.Len()))
}
