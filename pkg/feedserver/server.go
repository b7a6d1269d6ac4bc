// Package feedserver serves a directory feed over the HTTP feed protocol,
// so a local directory can act as a remote source for other machines or for
// tests.
package feedserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/matzehuels/pkgrestore/pkg/archive"
	"github.com/matzehuels/pkgrestore/pkg/feed"
	"github.com/matzehuels/pkgrestore/pkg/versioning"
)

// Server exposes a feed over HTTP.
type Server struct {
	feed     feed.Feed
	logger   *log.Logger
	gatherer prometheus.Gatherer
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics mounts /metrics for g.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// New creates a server for f.
func New(f feed.Feed, opts ...Option) *Server {
	s := &Server{feed: f, logger: log.New(io.Discard)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	})
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	r.Get("/{id}/index.json", s.listing)
	r.Get("/{id}/{version}/{file}", s.archive)
	return r
}

func (s *Server) listing(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	name, versions, err := s.feed.ListVersions(r.Context(), id)
	if err != nil {
		s.logger.Error("List versions failed", "package", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if len(versions) == 0 {
		http.NotFound(w, r)
		return
	}

	out := feed.Listing{ID: name, Versions: make([]string, len(versions))}
	for i, v := range versions {
		out.Versions[i] = v.String()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (s *Server) archive(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	raw := chi.URLParam(r, "version")
	v, err := versioning.Parse(raw)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	want := id + "." + raw + "." + archive.Extension
	if !strings.EqualFold(chi.URLParam(r, "file"), want) {
		http.NotFound(w, r)
		return
	}

	data, err := s.feed.FetchArchive(r.Context(), id, v)
	if errors.Is(err, feed.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.logger.Error("Fetch archive failed", "package", id, "version", raw, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", chimiddleware.GetReqID(r.Context()),
		)
	})
}
