// Package cache provides the persisted dependency-cache store shared across
// pipeline runs. Contents survive between runs; a missing key is a cold
// cache, not an error.
package cache

import (
	"context"
	"errors"
	"io"
)

// ErrMiss is returned by Restore when no cache exists for the key. Callers
// proceed with an empty mount; a miss is never fatal.
var ErrMiss = errors.New("cache: no entry for key")

// Store defines the interface for cache storage backends. Keys identify an
// opaque blob (a gzipped tar of the mount directory).
type Store interface {
	// Name returns the store identifier.
	Name() string

	// Restore returns the blob stored under key, or ErrMiss if the key has
	// never been rebuilt. The caller closes the returned reader. Any other
	// error means the store is unreachable.
	Restore(ctx context.Context, key string) (io.ReadCloser, error)

	// Rebuild replaces the blob stored under key. Concurrent rebuilds on
	// one key are last-writer-wins; the store does not arbitrate.
	Rebuild(ctx context.Context, key string, r io.Reader) error
}
