package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/medscope/study-search-service/internal/domain"
	"github.com/medscope/study-search-service/internal/observability"
)

const redisKeyPrefix = "searchsvc:session:"

// RedisStore persists snapshots in Redis, keyed by search key.
type RedisStore struct {
	client  *redis.Client
	ttl     time.Duration
	metrics *observability.Metrics
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a Redis-backed store with the given entry TTL.
// Metrics may be nil.
func NewRedisStore(client *redis.Client, ttl time.Duration, metrics *observability.Metrics) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl, metrics: metrics}
}

// Get implements Store.
func (r *RedisStore) Get(ctx context.Context, key string) (*Snapshot, error) {
	data, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionExpired, key)
	}
	if err != nil {
		return nil, fmt.Errorf("session store get: %w", err)
	}
	return r.decode(ctx, key, data)
}

// Put implements Store.
func (r *RedisStore) Put(ctx context.Context, snap *Snapshot) error {
	if snap == nil || snap.SearchKey == "" {
		return fmt.Errorf("%w: snapshot requires a search key", domain.ErrInvalidInput)
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := r.client.Set(ctx, redisKeyPrefix+snap.SearchKey, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("session store put: %w", err)
	}
	return nil
}

// Delete implements Store.
func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("session store delete: %w", err)
	}
	return nil
}

func (r *RedisStore) decode(ctx context.Context, key string, data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		// Corrupt entries are a miss, not an error.
		if r.metrics != nil {
			r.metrics.SessionsMalformed.Inc()
		}
		_ = r.client.Del(ctx, redisKeyPrefix+key).Err()
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionExpired, key)
	}
	return &snap, nil
}
