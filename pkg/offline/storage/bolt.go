package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Sternrassler/resilient-fetch/pkg/logging"
	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"
)

// metaBucket maps a big-endian creation sequence to a partition name.
// Partition names cannot contain NUL, so it never collides with one.
var metaBucket = []byte("\x00partitions")

// Bolt is a Storage persisted in a single bbolt file. Each partition is a
// bucket; entries are JSON-encoded.
type Bolt struct {
	db     *bolt.DB
	logger zerolog.Logger
}

// BoltOptions configures OpenBolt.
type BoltOptions struct {
	// Timeout bounds the wait for the file lock (default 1s).
	Timeout time.Duration
}

// OpenBolt opens or creates the storage file at path.
func OpenBolt(path string, opts BoltOptions) (*Bolt, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 1 * time.Second
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: opts.Timeout})
	if err != nil {
		return nil, fmt.Errorf("open bolt storage: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(metaBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init bolt storage: %w", err)
	}
	logger := logging.NewLogger(logging.ComponentStorage).With().Str("backend", "bolt").Logger()
	logger.Debug().Str("path", path).Msg("Opened storage file")
	return &Bolt{db: db, logger: logger}, nil
}

// Open implements Storage.
func (b *Bolt) Open(_ context.Context, name string) (Partition, error) {
	if err := validatePartitionName(name); err != nil {
		return nil, err
	}
	err := b.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket([]byte(name)) != nil {
			return nil
		}
		if _, err := tx.CreateBucket([]byte(name)); err != nil {
			return err
		}
		meta := tx.Bucket(metaBucket)
		seq, err := meta.NextSequence()
		if err != nil {
			return err
		}
		return meta.Put(sequenceKey(seq), []byte(name))
	})
	if err != nil {
		return nil, fmt.Errorf("open partition %q: %w", name, err)
	}
	return &boltPartition{db: b.db, name: name}, nil
}

// Lookup implements Storage.
func (b *Bolt) Lookup(ctx context.Context, name string) (Partition, error) {
	ok, err := b.Has(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoPartition
	}
	return &boltPartition{db: b.db, name: name}, nil
}

// Has implements Storage.
func (b *Bolt) Has(_ context.Context, name string) (bool, error) {
	var ok bool
	err := b.db.View(func(tx *bolt.Tx) error {
		ok = tx.Bucket([]byte(name)) != nil && name != string(metaBucket)
		return nil
	})
	return ok, err
}

// Delete implements Storage.
func (b *Bolt) Delete(_ context.Context, name string) (bool, error) {
	if validatePartitionName(name) != nil {
		return false, nil
	}
	var deleted bool
	err := b.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket([]byte(name)) == nil {
			return nil
		}
		if err := tx.DeleteBucket([]byte(name)); err != nil {
			return err
		}
		deleted = true

		meta := tx.Bucket(metaBucket)
		c := meta.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if bytes.Equal(v, []byte(name)) {
				return meta.Delete(k)
			}
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete partition %q: %w", name, err)
	}
	if deleted {
		b.logger.Debug().Str("partition", name).Msg("Partition deleted")
	}
	return deleted, nil
}

// Names implements Storage.
func (b *Bolt) Names(_ context.Context) ([]string, error) {
	var names []string
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(metaBucket).ForEach(func(_, v []byte) error {
			names = append(names, string(v))
			return nil
		})
	})
	return names, err
}

// Match implements Storage.
func (b *Bolt) Match(ctx context.Context, key string) (*Entry, error) {
	return matchAll(ctx, b, key)
}

// Close closes the underlying database.
func (b *Bolt) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func sequenceKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

type boltPartition struct {
	db   *bolt.DB
	name string
}

func (p *boltPartition) Name() string { return p.name }

func (p *boltPartition) Match(_ context.Context, key string) (*Entry, error) {
	var entry *Entry
	err := p.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(p.name))
		if bucket == nil {
			return ErrNotFound
		}
		v := bucket.Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		entry = &Entry{}
		return json.Unmarshal(v, entry)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (p *boltPartition) Put(_ context.Context, key string, entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	return p.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(p.name))
		if bucket == nil {
			return errPartitionGone
		}
		return bucket.Put([]byte(key), data)
	})
}

func (p *boltPartition) Delete(_ context.Context, key string) (bool, error) {
	var deleted bool
	err := p.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(p.name))
		if bucket == nil || bucket.Get([]byte(key)) == nil {
			return nil
		}
		deleted = true
		return bucket.Delete([]byte(key))
	})
	return deleted, err
}

func (p *boltPartition) Keys(_ context.Context) ([]string, error) {
	cachedAt := make(map[string]*Entry)
	var keys []string
	err := p.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(p.name))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var e struct {
				CachedAt time.Time `json:"cached_at"`
			}
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decode entry %q: %w", k, err)
			}
			key := string(k)
			keys = append(keys, key)
			cachedAt[key] = &Entry{CachedAt: e.CachedAt}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortByCachedAt(keys, func(k string) *Entry { return cachedAt[k] })
	return keys, nil
}
