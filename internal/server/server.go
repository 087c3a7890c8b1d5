// Package server provides the HTTP server and router for the feed.
//
// The server mounts the feed endpoints:
//   - /feed/packages/*        - JSON feed queries, archive browsing, compare, enrichment
//   - /feed/sbom              - CycloneDX or SPDX export of the index
//   - /download/{id}/{version} - archive downloads (path from feed.download_path)
//   - /v3/index.json          - NuGet V3 service index
//   - /v3-flatcontainer/*     - NuGet V3 package base address
//   - /api/v2/package         - push and delete
//   - /api/status, /api/mirror
//
// Additional endpoints:
//   - /          - Status page
//   - /health    - Health check endpoint
//   - /stats     - Catalog statistics (JSON)
//   - /metrics   - Prometheus metrics
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/git-pkgs/feed/internal/config"
	"github.com/git-pkgs/feed/internal/database"
	"github.com/git-pkgs/feed/internal/enrichment"
	"github.com/git-pkgs/feed/internal/events"
	"github.com/git-pkgs/feed/internal/feed"
	"github.com/git-pkgs/feed/internal/handler"
	"github.com/git-pkgs/feed/internal/index"
	"github.com/git-pkgs/feed/internal/ingest"
	"github.com/git-pkgs/feed/internal/metrics"
	"github.com/git-pkgs/feed/internal/nuspec"
	"github.com/git-pkgs/feed/internal/storage"
	"github.com/git-pkgs/feed/internal/upstream"
)

// Server is the feed server.
type Server struct {
	cfg      *config.Config
	db       *database.DB
	storage  storage.Storage
	index    *index.Index
	status   *feed.Status
	ingester *ingest.Ingester
	events   events.Publisher
	upstream *upstream.Client
	feed     *handler.Feed
	logger   *slog.Logger
	version  string
	http     *http.Server
}

// OpenDatabase opens the catalog database selected by cfg, creating it when
// missing.
func OpenDatabase(cfg config.DatabaseConfig) (*database.DB, error) {
	switch cfg.Driver {
	case "postgres":
		return database.OpenPostgresOrCreate(cfg.URL)
	default:
		return database.OpenOrCreate(cfg.Path)
	}
}

// New creates a Server and every component it serves. The index is empty
// until Start or Restore runs.
func New(cfg *config.Config, logger *slog.Logger, version string) (*Server, error) {
	ctx := context.Background()

	ttl, err := cfg.Feed.VulnTTLDuration()
	if err != nil {
		return nil, fmt.Errorf("invalid feed.vuln_ttl: %w", err)
	}

	var opened closers
	db, err := OpenDatabase(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	opened.add(db.Close)

	store, err := storage.New(ctx, cfg.Storage.Location())
	if err != nil {
		opened.close()
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	if c, ok := store.(io.Closer); ok {
		opened.add(c.Close)
	}

	ix := index.New()
	status, err := feed.NewStatus(ctx, ix, db, cfg.Feed.Enabled)
	if err != nil {
		opened.close()
		return nil, err
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.Events.NATSURL != "" {
		nc, err := events.Connect(cfg.Events.NATSURL, cfg.Events.Subject, logger)
		if err != nil {
			opened.close()
			return nil, fmt.Errorf("opening event publisher: %w", err)
		}
		publisher = nc
	}

	userAgent := "git-pkgs-feed/" + version
	ingestOpts := []ingest.Option{
		ingest.WithStatus(status),
		ingest.WithEvents(publisher),
		ingest.WithLogger(logger),
	}
	enrichOpts := []enrichment.Option{enrichment.WithStore(db, ttl)}

	var up *upstream.Client
	if cfg.Feed.UpstreamURL != "" {
		up = upstream.New(cfg.Feed.UpstreamURL, upstream.WithUserAgent(userAgent))
		ingestOpts = append(ingestOpts, ingest.WithUpstream(up))
		enrichOpts = append(enrichOpts, enrichment.WithUpstream(up))
	}
	if cfg.Feed.Ecosystems {
		eco, err := enrichment.NewEcosystemsClient(userAgent)
		if err != nil {
			logger.Warn("ecosyste.ms client unavailable", "error", err)
		} else {
			enrichOpts = append(enrichOpts, enrichment.WithEcosystems(eco))
		}
	}

	in := ingest.New(ix, db, store, nuspec.Reader{}, ingest.Config{
		ServerURL:      cfg.BaseURL,
		DownloadPath:   cfg.Feed.DownloadPath,
		AllowOverwrite: cfg.Feed.AllowOverwrite,
		MaxSize:        cfg.Feed.MaxPackageBytes(),
		Workers:        cfg.Feed.ScanWorkers,
	}, ingestOpts...)

	fh := handler.NewFeed(in, feed.NewQuery(ix, cfg.Feed.CacheSize), status, store, cfg.BaseURL,
		handler.WithAPIKey(cfg.Feed.APIKey),
		handler.WithPushRate(cfg.Feed.PushRate, cfg.Feed.PushBurst),
		handler.WithDownloadPath(cfg.Feed.DownloadPath),
		handler.WithEnrichment(enrichment.New(logger, enrichOpts...)),
		handler.WithVersion(version),
		handler.WithLogger(logger),
	)

	return &Server{
		cfg:      cfg,
		db:       db,
		storage:  store,
		index:    ix,
		status:   status,
		ingester: in,
		events:   publisher,
		upstream: up,
		feed:     fh,
		logger:   logger,
		version:  version,
	}, nil
}

// closers releases resources in reverse order of acquisition when a later
// setup step fails.
type closers []func() error

func (c *closers) add(f func() error) {
	*c = append(*c, f)
}

func (c closers) close() {
	for i := len(c) - 1; i >= 0; i-- {
		_ = c[i]()
	}
}

// Ingester returns the server's ingester, for commands that index without
// serving.
func (s *Server) Ingester() *ingest.Ingester {
	return s.ingester
}

// DB returns the catalog database.
func (s *Server) DB() *database.DB {
	return s.db
}

// Restore loads the catalog into the index and, when feed.packages_dir is
// set, indexes that directory.
func (s *Server) Restore(ctx context.Context) error {
	n, err := s.ingester.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restoring index: %w", err)
	}
	s.logger.Info("index restored", "versions", n)

	if dir := s.cfg.Feed.PackagesDir; dir != "" {
		res, err := s.ingester.ScanDir(ctx, dir)
		if err != nil {
			return fmt.Errorf("indexing %s: %w", dir, err)
		}
		s.logger.Info("packages directory indexed",
			"dir", res.Dir, "indexed", res.Indexed, "failed", res.Failed,
			"skipped", res.Skipped, "duration", res.Duration)
	}
	return nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestIDMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(s.LoggerMiddleware)
	r.Use(ActiveRequestsMiddleware)
	r.Use(MetricsMiddleware)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Get("/stats", s.handleStats)
	r.Handle("/metrics", metrics.Handler())

	s.feed.Register(r)
	return r
}

// Start restores the index and serves HTTP until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Restore(ctx); err != nil {
		return err
	}

	s.http = &http.Server{
		Addr:         s.cfg.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Minute, // Large pushes need time
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting server",
		"listen", s.cfg.Listen,
		"base_url", s.cfg.BaseURL,
		"storage", s.cfg.Storage.Location(),
		"database", s.cfg.Database.Driver,
		"enabled", s.status.IsEnabled())

	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server and releases its resources.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	var errs []error

	if s.http != nil {
		if err := s.http.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}

	if err := s.events.Close(); err != nil {
		errs = append(errs, fmt.Errorf("events close: %w", err))
	}

	if c, ok := s.storage.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage close: %w", err))
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database close: %w", err))
		}
	}

	return errors.Join(errs...)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := s.db.SchemaVersion(); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(w, "database error: %v", err)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, "ok")
}

// StatsResponse contains index and catalog statistics.
type StatsResponse struct {
	IndexedIDs      int    `json:"indexed_ids"`
	IndexedVersions int    `json:"indexed_versions"`
	Generation      uint64 `json:"generation"`

	database.Stats

	StorageUsed      int64  `json:"storage_used_bytes"`
	StorageUsedHuman string `json:"storage_used"`
	TotalSizeHuman   string `json:"total_size_human"`
	Storage          string `json:"storage"`
	Database         string `json:"database"`

	Upstream         string            `json:"upstream,omitempty"`
	UpstreamBreakers map[string]string `json:"upstream_breakers,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.GetStats()
	if err != nil {
		s.logger.Error("failed to get stats", "error", err)
		handler.JSONError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	used, err := s.storage.UsedSpace(r.Context())
	if err != nil {
		s.logger.Warn("failed to measure storage", "error", err)
	}

	ids, versions := s.index.Len()
	resp := StatsResponse{
		IndexedIDs:       ids,
		IndexedVersions:  versions,
		Generation:       s.index.Generation(),
		Stats:            *stats,
		StorageUsed:      used,
		StorageUsedHuman: formatSize(used),
		TotalSizeHuman:   formatSize(stats.TotalSize),
		Storage:          s.cfg.Storage.Location(),
		Database:         s.cfg.Database.Driver,
	}
	if s.upstream != nil {
		resp.Upstream = s.upstream.BaseURL()
		resp.UpstreamBreakers = s.upstream.BreakerState()
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
