package cooldown

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "ghostreply:cooldown:"

// RedisTracker stores one key per author with a TTL equal to the remaining
// cooldown. Expired keys mean the author is eligible again.
type RedisTracker struct {
	client *redis.Client
	window time.Duration
	now    func() time.Time
}

func NewRedisTracker(client *redis.Client, window time.Duration) *RedisTracker {
	return &RedisTracker{client: client, window: window, now: time.Now}
}

func (t *RedisTracker) key(handle string) string {
	return keyPrefix + handle
}

func (t *RedisTracker) Active(ctx context.Context, handle string) (bool, error) {
	handle = Normalize(handle)
	if handle == "" || t.window <= 0 {
		return false, nil
	}
	n, err := t.client.Exists(ctx, t.key(handle)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

func (t *RedisTracker) Touch(ctx context.Context, handle string, at time.Time) error {
	handle = Normalize(handle)
	if handle == "" || t.window <= 0 {
		return nil
	}
	ttl := t.window - t.now().Sub(at)
	if ttl <= 0 {
		return nil
	}
	if err := t.client.Set(ctx, t.key(handle), at.UTC().Format(time.RFC3339Nano), ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
