package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound indicates no entry exists for the key.
	ErrNotFound = errors.New("storage: entry not found")

	// ErrInvalidPartition indicates an unusable partition name.
	ErrInvalidPartition = errors.New("storage: invalid partition name")

	// ErrClosed is returned by operations on a closed storage.
	ErrClosed = errors.New("storage: closed")

	// ErrNoPartition is returned by Lookup for a partition that does not
	// exist.
	ErrNoPartition = errors.New("storage: partition does not exist")

	// errPartitionGone is returned when a partition was deleted while a
	// handle to it was still in use.
	errPartitionGone = errors.New("storage: partition was deleted")
)

// Partition is a named cache holding entries keyed by RequestKey.
// Put is atomic per key and last-write-wins.
type Partition interface {
	// Name returns the partition name.
	Name() string

	// Match returns the entry stored under key or ErrNotFound.
	Match(ctx context.Context, key string) (*Entry, error)

	// Put stores entry under key.
	Put(ctx context.Context, key string, entry *Entry) error

	// Delete removes key and reports whether it was present.
	Delete(ctx context.Context, key string) (bool, error)

	// Keys returns all keys, oldest CachedAt first.
	Keys(ctx context.Context) ([]string, error)
}

// Storage is the set of named partitions of one origin.
type Storage interface {
	// Open returns the named partition, creating it if needed.
	Open(ctx context.Context, name string) (Partition, error)

	// Lookup returns the named partition or ErrNoPartition. It never
	// creates one.
	Lookup(ctx context.Context, name string) (Partition, error)

	// Has reports whether the named partition exists.
	Has(ctx context.Context, name string) (bool, error)

	// Delete removes the named partition and all its entries.
	Delete(ctx context.Context, name string) (bool, error)

	// Names lists partitions in creation order.
	Names(ctx context.Context) ([]string, error)

	// Match looks key up in every partition in creation order and returns
	// the first hit or ErrNotFound.
	Match(ctx context.Context, key string) (*Entry, error)

	// Close releases backend resources.
	Close() error
}

// matchAll implements Storage.Match on top of Names and Lookup. Partitions
// deleted between the two calls are skipped, never recreated.
func matchAll(ctx context.Context, s Storage, key string) (*Entry, error) {
	names, err := s.Names(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		p, err := s.Lookup(ctx, name)
		if errors.Is(err, ErrNoPartition) {
			continue
		}
		if err != nil {
			return nil, err
		}
		entry, err := p.Match(ctx, key)
		if err == nil {
			return entry, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}
