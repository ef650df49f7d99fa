package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// newTestClient connects to a local Redis instance and removes test keys
// before and after the test. Tests that call it require Redis on
// localhost:6379 and are skipped otherwise.
func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	clean := func() {
		iter := client.Scan(ctx, 0, KeyPrefix+"test_*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	}
	clean()
	t.Cleanup(func() {
		clean()
		client.Close()
	})
	return client
}

func TestRedisStoreRoundTrip(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	s := NewRedisStore(client, "test_roundtrip", time.Minute)

	if _, err := s.Load(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load on empty profile: err = %v, want ErrNotFound", err)
	}
	if err := s.Save(ctx, "id-1"); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	id, err := s.Load(ctx)
	if err != nil || id != "id-1" {
		t.Fatalf("Load() = %q, %v", id, err)
	}

	ttl := client.TTL(ctx, KeyPrefix+"test_roundtrip").Val()
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("TTL = %v, want within (0, 1m]", ttl)
	}
}

func TestRedisStoreProfilesAreIsolated(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	a := NewRedisStore(client, "test_a", 0)
	b := NewRedisStore(client, "test_b", 0)

	idA, err := Resolve(ctx, a)
	if err != nil {
		t.Fatalf("Resolve(a) error: %v", err)
	}
	idB, err := Resolve(ctx, b)
	if err != nil {
		t.Fatalf("Resolve(b) error: %v", err)
	}
	if idA == idB {
		t.Error("profiles share an identity")
	}
	again, _ := Resolve(ctx, a)
	if again != idA {
		t.Errorf("profile a identity changed: %q then %q", idA, again)
	}
}
