package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// setupTestRedis connects to a local Redis on DB 15 and skips when none is
// running. The integration suite runs the same store against a container.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("Redis not available for testing: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func TestNewRedisStore_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewRedisStore should panic with nil redis client")
		}
	}()
	NewRedisStore(nil)
}

func TestRedisStore_SetAndGet(t *testing.T) {
	store := NewRedisStore(setupTestRedis(t))
	ctx := context.Background()
	key := Key{Session: "s1", Table: "fields"}

	if err := SetJSON(ctx, store, key, map[string]string{"exmp_code": "Exemption Type"}, time.Minute); err != nil {
		t.Fatalf("SetJSON() error = %v", err)
	}

	var got map[string]string
	if err := GetJSON(ctx, store, key, &got); err != nil {
		t.Fatalf("GetJSON() error = %v", err)
	}
	if got["exmp_code"] != "Exemption Type" {
		t.Errorf("got %v", got)
	}

	ttl, err := store.redis.TTL(ctx, key.String()).Result()
	if err != nil {
		t.Fatalf("TTL: %v", err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("redis TTL = %v, want (0, 1m]", ttl)
	}
}

func TestRedisStore_MissAndDelete(t *testing.T) {
	store := NewRedisStore(setupTestRedis(t))
	ctx := context.Background()
	key := Key{Session: "s1", Table: "codes"}

	if _, err := store.Get(ctx, key); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get() error = %v, want ErrCacheMiss", err)
	}

	if err := SetJSON(ctx, store, key, "v", time.Minute); err != nil {
		t.Fatalf("SetJSON() error = %v", err)
	}
	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(ctx, key); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get() after Delete error = %v, want ErrCacheMiss", err)
	}
}

func TestRedisStore_DeleteSession(t *testing.T) {
	store := NewRedisStore(setupTestRedis(t))
	ctx := context.Background()

	keep := Key{Session: "s2", Table: "codes"}
	for _, k := range []Key{{Session: "s1", Table: "codes"}, {Session: "s1", Table: "fields"}, keep} {
		if err := SetJSON(ctx, store, k, "v", time.Minute); err != nil {
			t.Fatalf("SetJSON() error = %v", err)
		}
	}

	if err := store.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}

	n, err := store.redis.Exists(ctx, "exemptions:s1:codes", "exemptions:s1:fields").Result()
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if n != 0 {
		t.Errorf("%d session keys left, want 0", n)
	}
	if _, err := store.Get(ctx, keep); err != nil {
		t.Errorf("other session entry should survive, got %v", err)
	}
}
