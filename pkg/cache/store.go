package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Store is a session scoped key/value cache.
type Store interface {
	// Get returns the entry for key, or ErrCacheMiss.
	Get(ctx context.Context, key Key) (Entry, error)

	// Set stores entry until it expires.
	Set(ctx context.Context, key Key, entry Entry) error

	// Delete removes one key.
	Delete(ctx context.Context, key Key) error

	// DeleteSession removes every key of a session.
	DeleteSession(ctx context.Context, session string) error

	// Close releases the backend.
	Close() error
}

// GetJSON loads key into v.
func GetJSON(ctx context.Context, s Store, key Key, v any) error {
	entry, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(entry.Data, v); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return nil
}

// SetJSON stores v under key for ttl.
func SetJSON(ctx context.Context, s Store, key Key, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	return s.Set(ctx, key, NewEntry(data, ttl))
}

// Open returns a Redis store when redisURL is set, otherwise an in-memory
// store of the given size.
func Open(ctx context.Context, redisURL string, size int) (Store, error) {
	if redisURL == "" {
		return NewMemoryStore(size)
	}
	return DialRedis(ctx, redisURL)
}
