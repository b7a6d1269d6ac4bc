package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"

	"github.com/matzehuels/pkgrestore/pkg/cache"
	pkgerrors "github.com/matzehuels/pkgrestore/pkg/errors"
	"github.com/matzehuels/pkgrestore/pkg/httputil"
	"github.com/matzehuels/pkgrestore/pkg/observability"
	"github.com/matzehuels/pkgrestore/pkg/provider"
	"github.com/matzehuels/pkgrestore/pkg/versioning"
)

// Feed is a package source.
type Feed interface {
	provider.Source
}

// Options configures an HTTP feed.
type Options struct {
	// Cache stores listings and archives. Nil disables caching.
	Cache cache.Cache
	// Keyer derives cache keys. Nil uses cache.NewDefaultKeyer().
	Keyer cache.Keyer
	// ListingTTL and ArchiveTTL default to DefaultListingTTL and DefaultArchiveTTL.
	ListingTTL time.Duration
	ArchiveTTL time.Duration
	// NoCache bypasses the cache for reads and writes.
	NoCache bool
	// HTTPClient defaults to httputil.NewHTTPClient().
	HTTPClient *http.Client
	// Retry overrides the retry policy; nil uses httputil.DefaultPolicy.
	Retry func(ctx context.Context, fn func() error) error
	// Logger defaults to a discard logger.
	Logger *log.Logger
	// Hooks receives cache and download events.
	Hooks observability.FeedHooks
}

func (o Options) withDefaults() Options {
	if o.Cache == nil || o.NoCache {
		o.Cache = cache.NewNullCache()
	}
	if o.Keyer == nil {
		o.Keyer = cache.NewDefaultKeyer()
	}
	if o.ListingTTL == 0 {
		o.ListingTTL = DefaultListingTTL
	}
	if o.ArchiveTTL == 0 {
		o.ArchiveTTL = DefaultArchiveTTL
	}
	if o.HTTPClient == nil {
		o.HTTPClient = httputil.NewHTTPClient()
	}
	if o.Retry == nil {
		o.Retry = httputil.DefaultPolicy.Do
	}
	if o.Logger == nil {
		o.Logger = log.New(io.Discard)
	}
	if o.Hooks == nil {
		o.Hooks = observability.NoopFeedHooks{}
	}
	return o
}

// HTTP is a client for an HTTP feed. It is safe for concurrent use;
// identical in-flight requests are coalesced.
type HTTP struct {
	base    string
	opts    Options
	breaker *gobreaker.CircuitBreaker
	group   singleflight.Group
}

// NewHTTP creates a client for the feed at base.
func NewHTTP(base string, opts Options) (*HTTP, error) {
	if err := pkgerrors.ValidateURL(base); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	c := &HTTP{base: strings.TrimRight(base, "/"), opts: opts}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    c.base,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			opts.Logger.Warn("Source circuit breaker changed state", "source", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound)
		},
	})
	return c, nil
}

// Source implements provider.Source.
func (c *HTTP) Source() string { return c.base }

// IsHTTP implements provider.Source.
func (c *HTTP) IsHTTP() bool { return true }

// ListVersions implements provider.Source.
func (c *HTTP) ListVersions(ctx context.Context, id string) (string, []versioning.Version, error) {
	lower := strings.ToLower(id)
	key := c.opts.Keyer.ListingKey(c.base, lower)
	u := c.base + "/" + url.PathEscape(lower) + "/index.json"

	data, err := c.cached(ctx, key, c.opts.ListingTTL, "listing", func() ([]byte, error) {
		body, err := c.get(ctx, u)
		if err != nil {
			return nil, err
		}
		var listing Listing
		if err := json.Unmarshal(body, &listing); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.ErrCodeInvalidFormat, err, "decode %s", u)
		}
		return json.Marshal(listing)
	})
	if errors.Is(err, ErrNotFound) {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, err
	}

	var listing Listing
	if err := json.Unmarshal(data, &listing); err != nil {
		return "", nil, pkgerrors.Wrap(pkgerrors.ErrCodeInvalidFormat, err, "decode cached listing for %s", id)
	}
	versions := make([]versioning.Version, 0, len(listing.Versions))
	for _, raw := range listing.Versions {
		v, err := versioning.Parse(raw)
		if err != nil {
			c.opts.Logger.Debug("Skipping unparseable version", "package", id, "version", raw, "source", c.base)
			continue
		}
		versions = append(versions, v)
	}
	return listing.ID, versions, nil
}

// FetchArchive implements provider.Source.
func (c *HTTP) FetchArchive(ctx context.Context, id string, v versioning.Version) ([]byte, error) {
	lower := strings.ToLower(id)
	ver := strings.ToLower(v.String())
	key := c.opts.Keyer.ArchiveKey(c.base, lower, ver)
	u := fmt.Sprintf("%s/%s/%s/%s.%s.pkg", c.base, url.PathEscape(lower), url.PathEscape(ver), url.PathEscape(lower), url.PathEscape(ver))

	data, err := c.cached(ctx, key, c.opts.ArchiveTTL, "archive", func() ([]byte, error) {
		start := time.Now()
		body, err := c.get(ctx, u)
		if err == nil {
			c.opts.Hooks.OnDownload(ctx, c.base, int64(len(body)), time.Since(start))
			c.opts.Logger.Debug("Downloaded", "url", u, "bytes", len(body), "elapsed", time.Since(start).Round(time.Millisecond))
		}
		return body, err
	})
	if err != nil {
		return nil, fmt.Errorf("%s %s from %s: %w", id, v, c.base, err)
	}
	return data, nil
}

// cached retrieves a value from the cache or executes fetch and caches the
// result. Concurrent calls for the same key share one fetch.
func (c *HTTP) cached(ctx context.Context, key string, ttl time.Duration, kind string, fetch func() ([]byte, error)) ([]byte, error) {
	data, ok, err := c.opts.Cache.Get(ctx, key)
	if err != nil {
		c.opts.Logger.Debug("Cache read failed", "key", key, "err", err)
	}
	if ok {
		c.opts.Hooks.OnCacheHit(ctx, kind)
		return data, nil
	}
	c.opts.Hooks.OnCacheMiss(ctx, kind)

	v, err, _ := c.group.Do(key, func() (any, error) {
		var data []byte
		err := c.opts.Retry(ctx, func() error {
			out, err := c.breaker.Execute(func() (any, error) {
				return fetch()
			})
			if err != nil {
				if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
					return fmt.Errorf("%w: %v", ErrNetwork, err)
				}
				return err
			}
			data = out.([]byte)
			return nil
		})
		if err != nil {
			return nil, err
		}
		if err := c.opts.Cache.Set(ctx, key, data, ttl); err != nil {
			c.opts.Logger.Debug("Cache write failed", "key", key, "err", err)
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (c *HTTP) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "pkgrestore")

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, httputil.Transient(fmt.Errorf("%w: %v", ErrNetwork, err))
	}
	defer resp.Body.Close()

	if err := checkStatus(resp.StatusCode); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, httputil.Transient(fmt.Errorf("%w: read body: %v", ErrNetwork, err))
	}
	return body, nil
}

func checkStatus(code int) error {
	switch {
	case code == http.StatusOK:
		return nil
	case code == http.StatusNotFound:
		return ErrNotFound
	case code >= 500:
		return httputil.Transient(fmt.Errorf("%w: status %d", ErrNetwork, code))
	default:
		return fmt.Errorf("%w: status %d", ErrNetwork, code)
	}
}

var _ provider.Source = (*HTTP)(nil)
