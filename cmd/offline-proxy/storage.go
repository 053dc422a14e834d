package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/resilient-fetch/pkg/offline/storage"
	"github.com/redis/go-redis/v9"
)

// openStorage creates the configured cache storage. The returned close
// function releases the backend and any client it owns.
func openStorage(ctx context.Context, cfg Config) (storage.Storage, func() error, error) {
	switch cfg.StorageBackend {
	case backendBolt:
		s, err := storage.OpenBolt(cfg.BoltPath, storage.BoltOptions{Timeout: 5 * time.Second})
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	case backendRedis:
		opts, err := redisOptions(cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
		}
		s := storage.NewRedis(client, cfg.RedisPrefix)
		return s, func() error { return errors.Join(s.Close(), client.Close()) }, nil

	default:
		s := storage.NewMemory()
		return s, s.Close, nil
	}
}

// redisOptions accepts either a redis:// URL or a bare host:port.
func redisOptions(raw string) (*redis.Options, error) {
	if strings.Contains(raw, "://") {
		opts, err := redis.ParseURL(raw)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		return opts, nil
	}
	return &redis.Options{Addr: raw}, nil
}
