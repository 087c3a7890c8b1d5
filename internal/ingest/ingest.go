// Package ingest turns package archives into indexed, persisted feed entries.
//
// Every ingestion runs the same steps: parse the manifest, build the
// descriptor, store the archive blob, persist the catalog row and insert into
// the index. A failure at any step leaves the index, the catalog and any
// previously stored archive unchanged.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/git-pkgs/feed/internal/database"
	"github.com/git-pkgs/feed/internal/events"
	"github.com/git-pkgs/feed/internal/feed"
	"github.com/git-pkgs/feed/internal/index"
	"github.com/git-pkgs/feed/internal/metrics"
	"github.com/git-pkgs/feed/internal/nuget"
	"github.com/git-pkgs/feed/internal/storage"
	"github.com/git-pkgs/feed/internal/upstream"
)

// Sources label where an archive came from, in logs, metrics and events.
const (
	SourcePush    = "push"
	SourceScan    = "scan"
	SourceMirror  = "mirror"
	SourceRestore = "restore"
)

const lockStripes = 64

// Catalog persists descriptors. *database.DB implements it.
type Catalog interface {
	SaveVersion(p nuget.Package, latest string) (string, error)
	DeleteVersion(id, version, latest string) (*database.Version, error)
	ListVersions(ctx context.Context) ([]database.Version, error)
}

// Config holds the ingestion settings.
type Config struct {
	ServerURL      string
	DownloadPath   string
	AllowOverwrite bool
	MaxSize        int64
	Workers        int
}

// Result describes one successful ingestion.
type Result struct {
	Package  nuget.Package `json:"package"`
	Replaced bool          `json:"replaced"`
	Source   string        `json:"source"`
}

// Ingester coordinates the index, catalog and blob storage.
type Ingester struct {
	index    *index.Index
	catalog  Catalog
	store    storage.Storage
	reader   nuget.ManifestReader
	status   *feed.Status
	events   events.Publisher
	upstream *upstream.Client
	logger   *slog.Logger
	cfg      Config

	locks [lockStripes]sync.Mutex
	scans singleflight.Group
}

// Option configures optional collaborators.
type Option func(*Ingester)

// WithStatus makes directory scans honor the feed enabled flag and records
// the last indexing time.
func WithStatus(s *feed.Status) Option {
	return func(in *Ingester) {
		in.status = s
	}
}

// WithEvents publishes index changes.
func WithEvents(p events.Publisher) Option {
	return func(in *Ingester) {
		in.events = p
	}
}

// WithUpstream enables mirroring.
func WithUpstream(c *upstream.Client) Option {
	return func(in *Ingester) {
		in.upstream = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(in *Ingester) {
		in.logger = l
	}
}

// New creates an Ingester.
func New(ix *index.Index, catalog Catalog, store storage.Storage, reader nuget.ManifestReader, cfg Config, opts ...Option) *Ingester {
	if cfg.DownloadPath == "" {
		cfg.DownloadPath = "download/{id}/{version}"
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	in := &Ingester{
		index:   ix,
		catalog: catalog,
		store:   store,
		reader:  reader,
		cfg:     cfg,
		events:  events.Nop{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Index returns the index this ingester writes to.
func (in *Ingester) Index() *index.Index {
	return in.index
}

func (in *Ingester) lockFor(id string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.ToLower(id)))
	return &in.locks[h.Sum32()%lockStripes]
}

// IngestFile ingests the archive at path using its filesystem timestamps.
func (in *Ingester) IngestFile(ctx context.Context, path string) (Result, error) {
	start := time.Now()
	info, err := os.Stat(path)
	if err != nil {
		in.record(SourceScan, "error", 0, start)
		return Result{}, wrap(path, "stat", fmt.Errorf("%w: %w", nuget.ErrIO, err))
	}
	if in.cfg.MaxSize > 0 && info.Size() > in.cfg.MaxSize {
		in.record(SourceScan, "too_large", 0, start)
		return Result{}, wrap(path, "read", ErrTooLarge)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		in.record(SourceScan, "error", 0, start)
		return Result{}, wrap(path, "read", fmt.Errorf("%w: %w", nuget.ErrIO, err))
	}

	ts := nuget.Timestamps{LastWrite: info.ModTime(), Created: createdAt(path, info)}
	return in.ingest(ctx, path, data, ts, SourceScan, start)
}

// IngestReader ingests an archive streamed from r, such as an upload.
func (in *Ingester) IngestReader(ctx context.Context, name string, r io.Reader, source string) (Result, error) {
	start := time.Now()

	limit := in.cfg.MaxSize
	if limit <= 0 {
		limit = 1 << 62
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		in.record(source, "error", 0, start)
		return Result{}, wrap(name, "read", fmt.Errorf("%w: %w", nuget.ErrIO, err))
	}
	if int64(len(data)) > limit {
		in.record(source, "too_large", 0, start)
		return Result{}, wrap(name, "read", ErrTooLarge)
	}

	now := time.Now()
	return in.ingest(ctx, name, data, nuget.Timestamps{LastWrite: now, Created: now}, source, start)
}

// IngestBytes ingests an archive already held in memory.
func (in *Ingester) IngestBytes(ctx context.Context, name string, data []byte, ts nuget.Timestamps, source string) (Result, error) {
	start := time.Now()
	if in.cfg.MaxSize > 0 && int64(len(data)) > in.cfg.MaxSize {
		in.record(source, "too_large", 0, start)
		return Result{}, wrap(name, "read", ErrTooLarge)
	}
	return in.ingest(ctx, name, data, ts, source, start)
}

func (in *Ingester) ingest(ctx context.Context, name string, data []byte, ts nuget.Timestamps, source string, start time.Time) (Result, error) {
	res, err := in.commit(ctx, name, data, ts, source)
	if err != nil {
		in.record(source, resultLabel(err), 0, start)
		in.logger.Warn("ingestion failed", "path", name, "source", source, "error", err)
		return Result{}, err
	}

	in.record(source, "success", res.Package.PackageSize, start)
	in.afterChange()

	e := events.NewEvent(events.KindIndexed, res.Package)
	e.Source = source
	e.Replaced = res.Replaced
	in.events.Publish(e)

	in.logger.Info("package indexed",
		"id", res.Package.ID, "version", res.Package.Version,
		"size", res.Package.PackageSize, "source", source, "replaced", res.Replaced)
	return res, nil
}

func (in *Ingester) commit(ctx context.Context, name string, data []byte, ts nuget.Timestamps, source string) (Result, error) {
	m, err := in.reader.ReadManifest(name, bytes.NewReader(data))
	if err != nil {
		return Result{}, wrap(name, "read manifest", err)
	}
	rel := nuget.DownloadPath(in.cfg.DownloadPath, m.ID, m.Version)
	pkg, err := nuget.Build(in.cfg.ServerURL, rel, m, bytes.NewReader(data), ts, false)
	if err != nil {
		return Result{}, wrap(name, "build descriptor", err)
	}

	mu := in.lockFor(pkg.ID)
	mu.Lock()
	defer mu.Unlock()

	_, exists := in.index.Get(pkg.ID, pkg.Version)
	if exists && !in.cfg.AllowOverwrite {
		return Result{}, wrap(name, "index", fmt.Errorf("%w: %s %s", nuget.ErrVersionConflict, pkg.ID, pkg.Version))
	}

	path := storage.ArchivePath(pkg.ID, pkg.NormalizedVersion, pkg.PackageHash)
	hadBlob, err := in.store.Exists(ctx, path)
	if err != nil {
		metrics.RecordStorageError("exists")
		return Result{}, wrap(name, "store", err)
	}

	storeStart := time.Now()
	size, hash, err := in.store.Store(ctx, path, bytes.NewReader(data))
	metrics.RecordStorageOperation("write", time.Since(storeStart))
	if err != nil {
		metrics.RecordStorageError("write")
		return Result{}, wrap(name, "store", err)
	}
	if hash != pkg.PackageHash || size != pkg.PackageSize {
		in.discard(ctx, path, hadBlob)
		return Result{}, wrap(name, "store", fmt.Errorf("%w: stored archive does not match computed hash", nuget.ErrIO))
	}
	pkg.StoragePath = path

	latest := pkg.Version
	if cur, ok := in.index.GetLatest(pkg.ID); ok && nuget.CompareVersions(cur.Version, pkg.Version) > 0 {
		latest = cur.Version
	}

	previous, err := in.catalog.SaveVersion(pkg, latest)
	if err != nil {
		in.discard(ctx, path, hadBlob)
		return Result{}, wrap(name, "persist", err)
	}

	replaced, err := in.index.Insert(pkg)
	if err != nil {
		return Result{}, wrap(name, "index", err)
	}

	if previous != "" && previous != path {
		if err := in.store.Delete(ctx, previous); err != nil {
			metrics.RecordStorageError("delete")
			in.logger.Warn("failed to delete replaced archive", "path", previous, "error", err)
		}
	}

	stored, _ := in.index.Get(pkg.ID, pkg.Version)
	return Result{Package: stored, Replaced: replaced, Source: source}, nil
}

// discard removes a blob written by a failed ingestion, unless the same
// content was already stored under that path before.
func (in *Ingester) discard(ctx context.Context, path string, hadBlob bool) {
	if hadBlob {
		return
	}
	if err := in.store.Delete(ctx, path); err != nil {
		metrics.RecordStorageError("delete")
		in.logger.Warn("failed to clean up archive", "path", path, "error", err)
	}
}

// Remove unpublishes one version. If it was the latest, the next highest
// version becomes latest.
func (in *Ingester) Remove(ctx context.Context, id, version string) (nuget.Package, error) {
	mu := in.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	pkg, ok := in.index.Get(id, version)
	if !ok {
		return nuget.Package{}, wrap("", "remove", fmt.Errorf("%w: %s %s", ErrNotFound, id, version))
	}

	latest := ""
	versions := in.index.ListVersions(id)
	for i := len(versions) - 1; i >= 0; i-- {
		if nuget.CompareVersions(versions[i], version) != 0 {
			latest = versions[i]
			break
		}
	}

	if _, err := in.catalog.DeleteVersion(id, version, latest); err != nil {
		return nuget.Package{}, wrap("", "remove", err)
	}
	removed, _ := in.index.Remove(id, version)

	if removed.StoragePath != "" {
		if err := in.store.Delete(ctx, removed.StoragePath); err != nil {
			metrics.RecordStorageError("delete")
			in.logger.Warn("failed to delete archive", "path", removed.StoragePath, "error", err)
		}
	}

	in.afterChange()
	in.events.Publish(events.NewEvent(events.KindRemoved, pkg))
	in.logger.Info("package removed", "id", pkg.ID, "version", pkg.Version)
	return removed, nil
}

// Restore loads every persisted descriptor into the index. Rows that no
// longer parse are skipped.
func (in *Ingester) Restore(ctx context.Context) (int, error) {
	start := time.Now()
	rows, err := in.catalog.ListVersions(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading catalog: %w", err)
	}

	n := 0
	for i := range rows {
		if _, err := in.index.Insert(rows[i].ToPackage()); err != nil {
			in.logger.Warn("skipping catalog row", "id", rows[i].Name, "version", rows[i].Version, "error", err)
			continue
		}
		n++
	}

	in.afterChange()
	metrics.RecordIngestion(SourceRestore, "success", 0, time.Since(start))
	in.logger.Info("catalog restored", "versions", n, "duration", time.Since(start))
	return n, nil
}

func (in *Ingester) afterChange() {
	ids, versions := in.index.Len()
	metrics.UpdateIndexStats(ids, versions)
	if in.status != nil {
		in.status.MarkIndexed(time.Now())
	}
}

func (in *Ingester) record(source, result string, size int64, start time.Time) {
	metrics.RecordIngestion(source, result, size, time.Since(start))
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, nuget.ErrVersionConflict):
		return "conflict"
	case errors.Is(err, nuget.ErrInvalidArchive):
		return "invalid"
	case errors.Is(err, ErrTooLarge):
		return "too_large"
	default:
		return "error"
	}
}

func isNupkg(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".nupkg") && !strings.HasSuffix(strings.ToLower(path), ".symbols.nupkg")
}
