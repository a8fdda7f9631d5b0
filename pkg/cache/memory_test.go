package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newMemory(t *testing.T, size int) *MemoryStore {
	t.Helper()
	store, err := NewMemoryStore(size)
	if err != nil {
		t.Fatalf("NewMemoryStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNewMemoryStore_InvalidSize(t *testing.T) {
	if _, err := NewMemoryStore(0); err == nil {
		t.Error("NewMemoryStore(0) should fail")
	}
}

func TestMemoryStore_SetAndGet(t *testing.T) {
	store := newMemory(t, 8)
	ctx := context.Background()
	key := Key{Session: "s1", Table: "codes"}

	if err := SetJSON(ctx, store, key, map[string]string{"5110": "J-51"}, time.Hour); err != nil {
		t.Fatalf("SetJSON() error = %v", err)
	}

	var got map[string]string
	if err := GetJSON(ctx, store, key, &got); err != nil {
		t.Fatalf("GetJSON() error = %v", err)
	}
	if got["5110"] != "J-51" {
		t.Errorf("got %v, want 5110 => J-51", got)
	}
}

func TestMemoryStore_Miss(t *testing.T) {
	store := newMemory(t, 8)

	_, err := store.Get(context.Background(), Key{Session: "s1", Table: "missing"})
	if !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get() error = %v, want ErrCacheMiss", err)
	}
}

func TestMemoryStore_ExpiredEntry(t *testing.T) {
	store := newMemory(t, 8)
	ctx := context.Background()
	key := Key{Session: "s1", Table: "codes"}

	expired := Entry{Data: []byte(`{}`), Expires: time.Now().Add(-time.Minute)}
	if err := store.Set(ctx, key, expired); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if store.Len() != 0 {
		t.Errorf("Len() = %d, expired entries should not be stored", store.Len())
	}

	store.entries.Add(key.String(), expired)
	if _, err := store.Get(ctx, key); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get() error = %v, want ErrCacheMiss", err)
	}
	if store.Len() != 0 {
		t.Error("expired entry should be evicted on read")
	}
}

func TestMemoryStore_EvictsLeastRecentlyUsed(t *testing.T) {
	store := newMemory(t, 2)
	ctx := context.Background()

	a := Key{Session: "s1", Table: "a"}
	b := Key{Session: "s1", Table: "b"}
	c := Key{Session: "s1", Table: "c"}

	for _, k := range []Key{a, b} {
		if err := SetJSON(ctx, store, k, 1, time.Hour); err != nil {
			t.Fatalf("SetJSON() error = %v", err)
		}
	}
	if _, err := store.Get(ctx, a); err != nil {
		t.Fatalf("Get(a) error = %v", err)
	}
	if err := SetJSON(ctx, store, c, 1, time.Hour); err != nil {
		t.Fatalf("SetJSON() error = %v", err)
	}

	if _, err := store.Get(ctx, b); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get(b) error = %v, want ErrCacheMiss after eviction", err)
	}
	if _, err := store.Get(ctx, a); err != nil {
		t.Errorf("Get(a) error = %v, recently used entry should survive", err)
	}
}

func TestMemoryStore_DeleteSession(t *testing.T) {
	store := newMemory(t, 8)
	ctx := context.Background()

	mine := []Key{{Session: "s1", Table: "codes"}, {Session: "s1", Table: "fields"}}
	other := Key{Session: "s10", Table: "codes"}

	for _, k := range append(mine, other) {
		if err := SetJSON(ctx, store, k, "v", time.Hour); err != nil {
			t.Fatalf("SetJSON() error = %v", err)
		}
	}

	if err := store.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}

	for _, k := range mine {
		if _, err := store.Get(ctx, k); !errors.Is(err, ErrCacheMiss) {
			t.Errorf("Get(%s) error = %v, want ErrCacheMiss", k, err)
		}
	}
	if _, err := store.Get(ctx, other); err != nil {
		t.Errorf("other session entry should survive, got %v", err)
	}
}

func TestGetJSON_InvalidEntry(t *testing.T) {
	store := newMemory(t, 8)
	ctx := context.Background()
	key := Key{Session: "s1", Table: "codes"}

	if err := store.Set(ctx, key, NewEntry([]byte(`"text"`), time.Hour)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	var got map[string]string
	if err := GetJSON(ctx, store, key, &got); !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("GetJSON() error = %v, want ErrInvalidEntry", err)
	}
}

func TestOpen_MemoryWhenNoRedis(t *testing.T) {
	store, err := Open(context.Background(), "", 4)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer store.Close()

	if _, ok := store.(*MemoryStore); !ok {
		t.Errorf("Open(\"\") = %T, want *MemoryStore", store)
	}
}

func TestOpen_InvalidRedisURL(t *testing.T) {
	if _, err := Open(context.Background(), "not-a-url://", 4); err == nil {
		t.Error("Open() should reject an invalid redis url")
	}
}
