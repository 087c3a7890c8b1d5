// Package handler provides the HTTP handlers for the package feed.
package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"github.com/git-pkgs/feed/internal/enrichment"
	"github.com/git-pkgs/feed/internal/feed"
	"github.com/git-pkgs/feed/internal/index"
	"github.com/git-pkgs/feed/internal/ingest"
	"github.com/git-pkgs/feed/internal/metrics"
	"github.com/git-pkgs/feed/internal/nuget"
	"github.com/git-pkgs/feed/internal/storage"
)

// Feed serves the package feed, downloads, pushes and the status API.
type Feed struct {
	index      *index.Index
	query      *feed.Query
	status     *feed.Status
	ingester   *ingest.Ingester
	storage    storage.Storage
	enrichment *enrichment.Service
	logger     *slog.Logger

	baseURL      string
	downloadPath string
	apiKey       string
	limiter      *rate.Limiter
	version      string
}

// Option configures a Feed.
type Option func(*Feed)

// WithAPIKey sets the key required by the push and delete endpoints. With no
// key configured those endpoints always answer 403.
func WithAPIKey(key string) Option {
	return func(f *Feed) {
		f.apiKey = key
	}
}

// WithPushRate throttles pushes. perSecond <= 0 disables throttling.
func WithPushRate(perSecond float64, burst int) Option {
	return func(f *Feed) {
		if perSecond <= 0 {
			f.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		f.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithEnrichment enables the enrichment endpoint.
func WithEnrichment(s *enrichment.Service) Option {
	return func(f *Feed) {
		f.enrichment = s
	}
}

// WithDownloadPath sets the relative download template mounted by Routes.
func WithDownloadPath(p string) Option {
	return func(f *Feed) {
		f.downloadPath = p
	}
}

// WithVersion sets the tool version reported in SBOM documents.
func WithVersion(v string) Option {
	return func(f *Feed) {
		f.version = v
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Feed) {
		f.logger = l
	}
}

// NewFeed creates the feed handler.
func NewFeed(in *ingest.Ingester, q *feed.Query, status *feed.Status, store storage.Storage, baseURL string, opts ...Option) *Feed {
	f := &Feed{
		index:        in.Index(),
		query:        q,
		status:       status,
		ingester:     in,
		storage:      store,
		logger:       slog.Default(),
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		downloadPath: "download/{id}/{version}",
		version:      "dev",
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Routes returns a router serving every feed endpoint.
func (f *Feed) Routes() http.Handler {
	r := chi.NewRouter()
	f.Register(r)
	return r
}

// Register adds the feed endpoints to r.
func (f *Feed) Register(r chi.Router) {
	r.Get("/api/status", f.handleGetStatus)
	r.Post("/api/status", f.handleSetStatus)

	r.Group(func(r chi.Router) {
		r.Use(f.requireEnabled)

		r.Get("/v3/index.json", f.handleServiceIndex)
		r.Get("/v3-flatcontainer/{id}/index.json", f.handleFlatVersions)
		r.Get("/v3-flatcontainer/{id}/{version}/{filename}", f.handleDownload)
		if route, ok := downloadRoute(f.downloadPath); ok {
			r.Get(route, f.handleDownload)
		}

		r.Get("/feed/packages", f.handleList)
		r.Get("/feed/packages/{id}", f.handleVersions)
		r.Get("/feed/packages/{id}/latest", f.handleLatest)
		r.Get("/feed/packages/{id}/compare/{from}/{to}", f.handleCompare)
		r.Get("/feed/packages/{id}/{version}", f.handleVersion)
		r.Get("/feed/packages/{id}/{version}/files", f.handleBrowseList)
		r.Get("/feed/packages/{id}/{version}/files/*", f.handleBrowseFile)
		r.Get("/feed/packages/{id}/{version}/enrichment", f.handleEnrichment)
		r.Get("/feed/sbom", f.handleSBOM)

		r.Put("/api/v2/package", f.handlePush)
		r.Put("/api/v2/package/", f.handlePush)
		r.Delete("/api/v2/package/{id}/{version}", f.handleDelete)
		r.Post("/api/mirror", f.handleMirror)
	})
}

// downloadRoute turns a relative download template into a route pattern.
// The {id} and {version} placeholders are already chi parameters. Absolute
// templates point elsewhere and are not mounted.
func downloadRoute(template string) (string, bool) {
	if template == "" || strings.Contains(template, "://") {
		return "", false
	}
	if i := strings.IndexAny(template, "?#"); i >= 0 {
		template = template[:i]
	}
	return "/" + strings.TrimPrefix(template, "/"), true
}

func (f *Feed) requireEnabled(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !f.status.IsEnabled() {
			JSONError(w, http.StatusServiceUnavailable, "feed is disabled")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleDownload streams the stored archive for one version.
// GET /download/{id}/{version} and GET /v3-flatcontainer/{id}/{version}/{filename}
func (f *Feed) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	version := chi.URLParam(r, "version")

	pkg, ok := f.index.Get(id, version)
	if !ok || pkg.StoragePath == "" {
		JSONError(w, http.StatusNotFound, "package not found")
		return
	}

	etag := fmt.Sprintf(`"%s"`, pkg.PackageHash)
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	start := time.Now()
	reader, err := f.storage.Open(r.Context(), pkg.StoragePath)
	metrics.RecordStorageOperation("read", time.Since(start))
	if err != nil {
		metrics.RecordStorageError("read")
		f.logger.Error("failed to open archive", "id", pkg.ID, "version", pkg.Version, "path", pkg.StoragePath, "error", err)
		JSONError(w, http.StatusInternalServerError, "failed to read package")
		return
	}

	ServeArchive(w, reader, pkg)
}

// ServeArchive writes a stored archive to an HTTP response.
func ServeArchive(w http.ResponseWriter, reader io.ReadCloser, pkg nuget.Package) {
	defer func() { _ = reader.Close() }()

	w.Header().Set("Content-Type", "application/zip")
	if pkg.PackageSize > 0 {
		w.Header().Set("Content-Length", fmt.Sprintf("%d", pkg.PackageSize))
	}
	if pkg.PackageHash != "" {
		w.Header().Set("ETag", fmt.Sprintf(`"%s"`, pkg.PackageHash))
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", archiveFilename(pkg)))

	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, reader)
}

func archiveFilename(pkg nuget.Package) string {
	return strings.ToLower(pkg.ID + "." + pkg.NormalizedVersion + ".nupkg")
}

// JSONError writes a JSON error response.
func JSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, `{"error":%q}`, message)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
