package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/resilient-fetch/pkg/logging"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultRedisPrefix prefixes every key written by Redis storage.
const DefaultRedisPrefix = "offline"

// Redis is a Storage shared by every process pointing at the same Redis
// database and prefix. Writes rely on Redis' per-command atomicity; there is
// no further cross-process coordination.
//
// Key layout:
//
//	<prefix>:partitions                 ZSET name -> creation time
//	<prefix>:partition:<name>           HASH request key -> JSON entry
//	<prefix>:partition:<name>:order     ZSET request key -> CachedAt
type Redis struct {
	redis  *redis.Client
	prefix string
	logger zerolog.Logger
}

// NewRedis creates a Redis-backed storage. An empty prefix uses
// DefaultRedisPrefix.
func NewRedis(redisClient *redis.Client, prefix string) *Redis {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &Redis{
		redis:  redisClient,
		prefix: prefix,
		logger: logging.NewLogger(logging.ComponentStorage).With().Str("backend", "redis").Str("prefix", prefix).Logger(),
	}
}

func (r *Redis) indexKey() string {
	return r.prefix + ":partitions"
}

func (r *Redis) entriesKey(name string) string {
	return r.prefix + ":partition:" + name
}

func (r *Redis) orderKey(name string) string {
	return r.prefix + ":partition:" + name + ":order"
}

// Open implements Storage.
func (r *Redis) Open(ctx context.Context, name string) (Partition, error) {
	if err := validatePartitionName(name); err != nil {
		return nil, err
	}
	err := r.redis.ZAddNX(ctx, r.indexKey(), redis.Z{
		Score:  float64(time.Now().UnixNano()),
		Member: name,
	}).Err()
	if err != nil {
		return nil, fmt.Errorf("redis zadd: %w", err)
	}
	return &redisPartition{store: r, name: name}, nil
}

// Lookup implements Storage.
func (r *Redis) Lookup(ctx context.Context, name string) (Partition, error) {
	ok, err := r.Has(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoPartition
	}
	return &redisPartition{store: r, name: name}, nil
}

// Has implements Storage.
func (r *Redis) Has(ctx context.Context, name string) (bool, error) {
	err := r.redis.ZScore(ctx, r.indexKey(), name).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis zscore: %w", err)
	}
	return true, nil
}

// Delete implements Storage.
func (r *Redis) Delete(ctx context.Context, name string) (bool, error) {
	var removed *redis.IntCmd
	_, err := r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.ZRem(ctx, r.indexKey(), name)
		pipe.Del(ctx, r.entriesKey(name), r.orderKey(name))
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("redis delete partition: %w", err)
	}
	if removed.Val() == 0 {
		return false, nil
	}
	r.logger.Debug().Str("partition", name).Msg("Partition deleted")
	return true, nil
}

// Names implements Storage.
func (r *Redis) Names(ctx context.Context) ([]string, error) {
	names, err := r.redis.ZRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrange: %w", err)
	}
	return names, nil
}

// Match implements Storage.
func (r *Redis) Match(ctx context.Context, key string) (*Entry, error) {
	return matchAll(ctx, r, key)
}

// Close is a no-op; the caller owns the Redis client.
func (r *Redis) Close() error {
	return nil
}

type redisPartition struct {
	store *Redis
	name  string
}

func (p *redisPartition) Name() string { return p.name }

func (p *redisPartition) Match(ctx context.Context, key string) (*Entry, error) {
	data, err := p.store.redis.HGet(ctx, p.store.entriesKey(p.name), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis hget: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("decode entry: %w", err)
	}
	return &entry, nil
}

func (p *redisPartition) Put(ctx context.Context, key string, entry *Entry) error {
	ok, err := p.store.Has(ctx, p.name)
	if err != nil {
		return err
	}
	if !ok {
		return errPartitionGone
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}

	_, err = p.store.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, p.store.entriesKey(p.name), key, data)
		pipe.ZAdd(ctx, p.store.orderKey(p.name), redis.Z{
			Score:  float64(entry.CachedAt.UnixNano()),
			Member: key,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put: %w", err)
	}
	return nil
}

func (p *redisPartition) Delete(ctx context.Context, key string) (bool, error) {
	var removed *redis.IntCmd
	_, err := p.store.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.HDel(ctx, p.store.entriesKey(p.name), key)
		pipe.ZRem(ctx, p.store.orderKey(p.name), key)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("redis delete entry: %w", err)
	}
	return removed.Val() > 0, nil
}

func (p *redisPartition) Keys(ctx context.Context) ([]string, error) {
	keys, err := p.store.redis.ZRange(ctx, p.store.orderKey(p.name), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrange: %w", err)
	}
	return keys, nil
}
