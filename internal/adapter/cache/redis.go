package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/couchcryptid/ssurgo-feature-etl/internal/domain"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "ssurgo:mukey:"

// RedisStore shares cached component records between processes. Entries
// expire after ttl; a zero ttl keeps them until evicted by Redis.
type RedisStore struct {
	rdb redis.Cmdable
	ttl time.Duration
}

// NewRedisStore wraps a connected client.
func NewRedisStore(rdb redis.Cmdable, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) GetMany(ctx context.Context, keys []domain.MapunitKey) (map[domain.MapunitKey][]domain.ComponentAttributeRecord, error) {
	out := make(map[domain.MapunitKey][]domain.ComponentAttributeRecord, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	redisKeys := make([]string, len(keys))
	for i, k := range keys {
		redisKeys[i] = keyPrefix + string(k)
	}
	vals, err := s.rdb.MGet(ctx, redisKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}

	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var recs []domain.ComponentAttributeRecord
		if err := json.Unmarshal([]byte(raw), &recs); err != nil {
			// Treat undecodable entries as misses; the fetch overwrites them.
			continue
		}
		if recs == nil {
			recs = []domain.ComponentAttributeRecord{}
		}
		out[keys[i]] = recs
	}
	return out, nil
}

func (s *RedisStore) PutMany(ctx context.Context, records map[domain.MapunitKey][]domain.ComponentAttributeRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for k, recs := range records {
			data, err := json.Marshal(recs)
			if err != nil {
				return fmt.Errorf("encode %s: %w", k, err)
			}
			p.Set(ctx, keyPrefix+string(k), data, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}
