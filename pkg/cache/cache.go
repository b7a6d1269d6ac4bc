// Package cache provides byte caches for package source responses.
//
// Feed clients cache version listings and package archives so that repeated
// restores avoid network round-trips. Three backends are available:
//
//   - [FileCache]: one JSON entry per key under a cache directory (CLI default)
//   - [RedisCache]: shared cache for build agents that restore concurrently
//   - [NullCache]: disables caching (--no-cache, tests)
//
// Keys are produced by a [Keyer] so that listings and archives from different
// sources never collide.
package cache

import (
	"context"
	"time"
)

// Cache stores opaque byte values with an optional time-to-live.
// A zero TTL means the entry never expires.
type Cache interface {
	// Get returns the cached value and true on a hit. A miss is not an error.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores data under key.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Close releases resources held by the cache.
	Close() error
}

// Keyer generates cache keys for feed responses.
type Keyer interface {
	// ListingKey identifies the version listing of id on source.
	ListingKey(source, id string) string
	// ArchiveKey identifies the archive of id at version on source.
	ArchiveKey(source, id, version string) string
}

// DefaultKeyer builds keys of the form "kind:hash(source, id[, version])".
// Ids are case-insensitive, so they are lowercased before hashing.
type DefaultKeyer struct{}

// NewDefaultKeyer returns the standard keyer.
func NewDefaultKeyer() Keyer {
	return DefaultKeyer{}
}

// ListingKey implements Keyer.
func (DefaultKeyer) ListingKey(source, id string) string {
	return hashKey("listing", source, lower(id))
}

// ArchiveKey implements Keyer.
func (DefaultKeyer) ArchiveKey(source, id, version string) string {
	return hashKey("archive", source, lower(id), lower(version))
}
