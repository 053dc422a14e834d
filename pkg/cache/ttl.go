package cache

import (
	"sync"
	"time"
)

// entry is a cached value with an optional expiration instant.
// A zero expiresAt means the entry never expires.
type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// validAt reports whether the entry may be returned at now.
func (e *entry[V]) validAt(now time.Time) bool {
	return e.expiresAt.IsZero() || now.Before(e.expiresAt)
}

// Stats is a point-in-time accounting of a TTLCache.
type Stats struct {
	// Total is the raw number of stored entries, including expired ones
	// that have not been evicted yet.
	Total int `json:"total"`

	// Valid is the number of entries that would be returned by Get.
	Valid int `json:"valid"`

	// Expired is Total - Valid.
	Expired int `json:"expired"`
}

// Option configures a TTLCache.
type Option func(*options)

type options struct {
	now  func() time.Time
	name string
}

// WithClock replaces time.Now as the cache's time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithName sets the "cache" label used for metrics.
func WithName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.name = name
		}
	}
}

// TTLCache memoizes values behind a string key with optional per-entry
// expiration. Expired entries are only removed when a read (Get or Has)
// finds them; there is no background sweep.
//
// TTLCache is safe for concurrent use.
type TTLCache[V any] struct {
	mu      sync.Mutex
	entries map[string]*entry[V]
	now     func() time.Time
	name    string
}

// New creates an empty TTLCache.
func New[V any](opts ...Option) *TTLCache[V] {
	o := options{now: time.Now, name: "default"}
	for _, opt := range opts {
		opt(&o)
	}
	return &TTLCache[V]{
		entries: make(map[string]*entry[V]),
		now:     o.now,
		name:    o.name,
	}
}

// Set stores value under key without expiration, replacing any previous entry.
func (c *TTLCache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &entry[V]{value: value}
}

// SetWithTTL stores value under key, expiring ttl from now. The previous
// entry's expiration is discarded, not extended. A ttl <= 0 yields an entry
// that is already expired on the next read.
func (c *TTLCache[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = &entry[V]{value: value, expiresAt: c.now().Add(ttl)}
}

// Get returns the value stored under key if it exists and has not expired.
// An expired entry is evicted as a side effect.
func (c *TTLCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lookup(key)
	if !ok {
		CacheMisses.WithLabelValues(c.name).Inc()
		var zero V
		return zero, false
	}
	CacheHits.WithLabelValues(c.name).Inc()
	return e.value, true
}

// Has reports whether key holds a valid entry. Like Get, it evicts an
// expired entry.
func (c *TTLCache[V]) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.lookup(key)
	return ok
}

// lookup returns the valid entry for key, evicting it if expired.
// Callers must hold c.mu.
func (c *TTLCache[V]) lookup(key string) (*entry[V], bool) {
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !e.validAt(c.now()) {
		delete(c.entries, key)
		CacheEvictions.WithLabelValues(c.name).Inc()
		return nil, false
	}
	return e, true
}

// Delete removes the entry for key, valid or expired, and reports whether
// one was present.
func (c *TTLCache[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	return true
}

// Clear removes all entries.
func (c *TTLCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry[V])
}

// Stats counts stored entries without evicting anything.
func (c *TTLCache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	stats := Stats{Total: len(c.entries)}
	for _, e := range c.entries {
		if e.validAt(now) {
			stats.Valid++
		}
	}
	stats.Expired = stats.Total - stats.Valid
	return stats
}
