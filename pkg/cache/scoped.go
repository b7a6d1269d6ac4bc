package cache

// ScopedKeyer wraps a Keyer with a prefix for namespace isolation.
// This is useful when several tools share one Redis instance and must not
// read each other's entries.
//
// Example usage:
//
//	keyer := NewScopedKeyer(NewDefaultKeyer(), "pkgrestore:")
type ScopedKeyer struct {
	inner  Keyer
	prefix string
}

// NewScopedKeyer creates a keyer with a prefix.
// The prefix is prepended to all generated keys.
func NewScopedKeyer(inner Keyer, prefix string) Keyer {
	if inner == nil {
		inner = NewDefaultKeyer()
	}
	return &ScopedKeyer{
		inner:  inner,
		prefix: prefix,
	}
}

// ListingKey generates a prefixed key for a version listing.
func (k *ScopedKeyer) ListingKey(source, id string) string {
	return k.prefix + k.inner.ListingKey(source, id)
}

// ArchiveKey generates a prefixed key for a package archive.
func (k *ScopedKeyer) ArchiveKey(source, id, version string) string {
	return k.prefix + k.inner.ArchiveKey(source, id, version)
}
