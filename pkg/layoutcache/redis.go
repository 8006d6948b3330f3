package layoutcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key prefixes for redis-backed entries.
const (
	redisEntryPrefix    = "layout:"
	redisCoveragePrefix = "cover:"
)

// RedisStore is a shared fast tier backed by redis, for deployments
// where several processes serve the same user graph.
//
// Entries are stored as JSON under "layout:<fingerprint>"; a set per
// node under "cover:<node-id>" tracks which fingerprints cover it, so
// Invalidate resolves affected entries without scanning. Writes of the
// entry and its coverage sets go through one transactional pipeline.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// RedisConfig configures the redis cache tier.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration // zero means no expiration
}

// NewRedisStore connects to redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: ping %s: %v", ErrBackend, cfg.Addr, err)
	}
	return &RedisStore{client: client, ttl: cfg.TTL}, nil
}

// Get returns the snapshot for the fingerprint.
func (r *RedisStore) Get(ctx context.Context, fingerprint string) (Snapshot, bool, error) {
	data, err := r.client.Get(ctx, redisEntryPrefix+fingerprint).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("%w: get: %v", ErrBackend, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		// Corrupt entry: treat as miss and drop it.
		_ = r.client.Del(ctx, redisEntryPrefix+fingerprint).Err()
		return Snapshot{}, false, nil
	}
	return snap, true, nil
}

// Put stores the snapshot and its coverage sets in one pipeline.
func (r *RedisStore) Put(ctx context.Context, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, redisEntryPrefix+snap.Fingerprint, data, r.ttl)
	for id := range snap.Positions {
		key := redisCoveragePrefix + id
		pipe.SAdd(ctx, key, snap.Fingerprint)
		if r.ttl > 0 {
			pipe.Expire(ctx, key, r.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: put: %v", ErrBackend, err)
	}
	return nil
}

// Invalidate removes every entry covering any of the given nodes.
func (r *RedisStore) Invalidate(ctx context.Context, nodeIDs []string) (int, error) {
	stale := make(map[string]struct{})
	for _, id := range nodeIDs {
		fps, err := r.client.SMembers(ctx, redisCoveragePrefix+id).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return 0, fmt.Errorf("%w: coverage %s: %v", ErrBackend, id, err)
		}
		for _, fp := range fps {
			stale[fp] = struct{}{}
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}

	pipe := r.client.TxPipeline()
	for fp := range stale {
		pipe.Del(ctx, redisEntryPrefix+fp)
	}
	for _, id := range nodeIDs {
		pipe.Del(ctx, redisCoveragePrefix+id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("%w: invalidate: %v", ErrBackend, err)
	}
	return len(stale), nil
}

// Clear removes every layout entry and coverage set owned by this
// store, leaving unrelated keys in the database untouched.
func (r *RedisStore) Clear(ctx context.Context) error {
	for _, prefix := range []string{redisEntryPrefix, redisCoveragePrefix} {
		iter := r.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
		for iter.Next(ctx) {
			if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
				return fmt.Errorf("%w: clear: %v", ErrBackend, err)
			}
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("%w: scan: %v", ErrBackend, err)
		}
	}
	return nil
}

// Close closes the redis client.
func (r *RedisStore) Close() error { return r.client.Close() }

// Ensure RedisStore implements Store.
var _ Store = (*RedisStore)(nil)
