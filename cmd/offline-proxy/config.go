package main

import (
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
)

// Storage backends selectable with STORAGE_BACKEND.
const (
	backendMemory = "memory"
	backendBolt   = "bolt"
	backendRedis  = "redis"
)

// Config is the proxy configuration, read from the environment.
type Config struct {
	UpstreamURL string `env:"UPSTREAM_URL,required"`
	Port        string `env:"PORT" envDefault:"8080"`

	CacheVersion       string        `env:"CACHE_VERSION" envDefault:"v1"`
	PrecacheURLs       []string      `env:"PRECACHE_URLS" envSeparator:"," envDefault:"/"`
	OfflineURL         string        `env:"OFFLINE_URL" envDefault:"/offline"`
	MaxDynamicEntries  int           `env:"MAX_DYNAMIC_ENTRIES" envDefault:"200"`
	PrecacheRetries    int           `env:"PRECACHE_RETRIES" envDefault:"3"`
	QueueOfflineWrites bool          `env:"QUEUE_OFFLINE_WRITES" envDefault:"false"`
	UpstreamTimeout    time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"30s"`

	StorageBackend string `env:"STORAGE_BACKEND" envDefault:"memory"`
	BoltPath       string `env:"BOLT_PATH" envDefault:"offline-cache.db"`
	RedisURL       string `env:"REDIS_URL" envDefault:"localhost:6379"`
	RedisPrefix    string `env:"REDIS_PREFIX" envDefault:"offline"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`
}

// loadConfig parses and validates the environment.
func loadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	u, err := url.Parse(c.UpstreamURL)
	if err != nil {
		return fmt.Errorf("UPSTREAM_URL: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("UPSTREAM_URL must be an absolute http(s) URL (got %q)", c.UpstreamURL)
	}

	switch c.StorageBackend {
	case backendMemory, backendBolt, backendRedis:
	default:
		return fmt.Errorf("STORAGE_BACKEND must be one of memory, bolt, redis (got %q)", c.StorageBackend)
	}

	if c.PrecacheRetries < 0 {
		return fmt.Errorf("PRECACHE_RETRIES must be >= 0 (got %d)", c.PrecacheRetries)
	}
	return nil
}
