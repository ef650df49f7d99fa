package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// KeyPrefix is the Redis key prefix for identity hashes.
	KeyPrefix = "identity:"

	// DefaultTTL is how long an unused identity survives.
	DefaultTTL = 30 * 24 * time.Hour
)

// record is the Redis hash layout of a stored identity.
type record struct {
	ID        string `redis:"id"`
	CreatedAt int64  `redis:"created_at"`
	LastUsed  int64  `redis:"last_used"`
}

// RedisStore keeps the identifier of one profile in a Redis hash. Every load
// refreshes the TTL so that an identity in regular use never expires.
type RedisStore struct {
	client  *redis.Client
	profile string
	ttl     time.Duration
}

// NewRedisStore creates a store for profile on an existing client. A
// non-positive ttl selects DefaultTTL.
func NewRedisStore(client *redis.Client, profile string, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, profile: profile, ttl: ttl}
}

// DialRedis connects to addr and verifies the connection.
func DialRedis(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("identity: redis connection failed: %w", err)
	}
	return client, nil
}

func (s *RedisStore) key() string {
	return KeyPrefix + s.profile
}

// Load returns the stored identifier or ErrNotFound.
func (s *RedisStore) Load(ctx context.Context) (string, error) {
	var rec record
	if err := s.client.HGetAll(ctx, s.key()).Scan(&rec); err != nil {
		return "", err
	}
	if rec.ID == "" {
		return "", ErrNotFound
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, s.key(), "last_used", time.Now().Unix())
	pipe.Expire(ctx, s.key(), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", err
	}
	return rec.ID, nil
}

// Save stores id, replacing any previous identifier for the profile.
func (s *RedisStore) Save(ctx context.Context, id string) error {
	now := time.Now().Unix()
	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.key())
	pipe.HSet(ctx, s.key(), map[string]interface{}{
		"id":         id,
		"created_at": now,
		"last_used":  now,
	})
	pipe.Expire(ctx, s.key(), s.ttl)
	_, err := pipe.Exec(ctx)
	return err
}
