// Package feed implements package sources: an HTTP feed client and a
// directory feed.
//
// # HTTP protocol
//
//	GET {base}/{id-lower}/index.json                          -> {"id": "Sample", "versions": ["1.0.0", ...]}
//	GET {base}/{id-lower}/{version}/{id-lower}.{version}.pkg  -> archive bytes
//
// A 404 means the package (or version) does not exist. 5xx responses and
// transport errors are retried with backoff and counted by a per-source
// circuit breaker.
//
// # Directory layout
//
// A directory feed uses the install-root layout:
//
//	{dir}/{id}/{version}/{id}.{version}.pkg
//
// with id directories matched case-insensitively.
//
// Both feeds satisfy provider.Source.
package feed

import (
	"errors"
	"time"

	pkgerrors "github.com/matzehuels/pkgrestore/pkg/errors"
)

// Default cache lifetimes for HTTP feeds.
const (
	DefaultListingTTL = 30 * time.Minute
	DefaultArchiveTTL = 24 * time.Hour
)

var (
	// ErrNotFound is returned when a package or version doesn't exist on a feed.
	ErrNotFound = errors.New("resource not found")

	// ErrNetwork is returned for HTTP failures (timeouts, connection errors, 5xx responses).
	ErrNetwork = errors.New("network error")
)

// Listing is the body of index.json.
type Listing struct {
	ID       string   `json:"id,omitempty"`
	Versions []string `json:"versions"`
}

// New returns an HTTP feed for http(s) URLs and a directory feed otherwise.
func New(source string, opts Options) (Feed, error) {
	if pkgerrors.ValidateURL(source) == nil {
		return NewHTTP(source, opts)
	}
	return NewDir(source)
}
