package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/git-pkgs/feed/internal/config"
	"github.com/git-pkgs/feed/internal/nupkgtest"
)

const testKey = "test-key"

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.BaseURL = "http://feed.test"
	cfg.Storage.Path = filepath.Join(dir, "packages")
	cfg.Database.Path = filepath.Join(dir, "feed.db")
	cfg.Feed.APIKey = testKey
	cfg.Feed.UpstreamURL = ""
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) (*Server, http.Handler) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := New(cfg, logger, "test")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	if err := s.Restore(context.Background()); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	return s, s.Handler()
}

func get(h http.Handler, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func push(t *testing.T, h http.Handler, data []byte) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPut, "/api/v2/package", bytes.NewReader(data))
	req.Header.Set("X-NuGet-ApiKey", testKey)
	req.Header.Set("Content-Type", "application/octet-stream")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("push status = %d, body %s", w.Code, w.Body.String())
	}
}

func TestHealthEndpoint(t *testing.T) {
	_, h := newTestServer(t, testConfig(t))

	w := get(h, "/health")
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if body := w.Body.String(); body != "ok" {
		t.Errorf("expected body 'ok', got %q", body)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
}

func TestStatsEndpoint(t *testing.T) {
	_, h := newTestServer(t, testConfig(t))
	push(t, h, nupkgtest.Simple("Foo", "1.0.0"))
	push(t, h, nupkgtest.Simple("Foo", "2.0.0-beta"))

	w := get(h, "/stats")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %q", ct)
	}

	var stats StatsResponse
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatalf("failed to decode stats: %v", err)
	}
	if stats.IndexedIDs != 1 || stats.IndexedVersions != 2 {
		t.Errorf("index stats = %d/%d", stats.IndexedIDs, stats.IndexedVersions)
	}
	if stats.TotalVersions != 2 || stats.PrereleaseCount != 1 {
		t.Errorf("catalog stats = %+v", stats.Stats)
	}
	if stats.StorageUsed <= 0 {
		t.Errorf("StorageUsed = %d", stats.StorageUsed)
	}
}

func TestStatsUpstream(t *testing.T) {
	cfg := testConfig(t)
	cfg.Feed.UpstreamURL = "https://nuget.example.test/v3"
	_, h := newTestServer(t, cfg)

	var stats StatsResponse
	if err := json.NewDecoder(get(h, "/stats").Body).Decode(&stats); err != nil {
		t.Fatalf("failed to decode stats: %v", err)
	}
	if stats.Upstream != cfg.Feed.UpstreamURL {
		t.Errorf("Upstream = %q, want %q", stats.Upstream, cfg.Feed.UpstreamURL)
	}
}

func TestStatusPage(t *testing.T) {
	_, h := newTestServer(t, testConfig(t))

	w := get(h, "/")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("expected Content-Type text/html, got %q", ct)
	}

	body := w.Body.String()
	for _, want := range []string{"git-pkgs feed", `fetch("/api/status")`, "setTimeout(poll, 1000)", "http://feed.test/v3/index.json"} {
		if !strings.Contains(body, want) {
			t.Errorf("status page missing %q", want)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, h := newTestServer(t, testConfig(t))
	_ = get(h, "/feed/packages")

	w := get(h, "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "feed_") {
		t.Error("metrics output has no feed metrics")
	}
}

func TestFeedRoutesMounted(t *testing.T) {
	_, h := newTestServer(t, testConfig(t))
	push(t, h, nupkgtest.Simple("Foo", "1.0.0"))

	for _, target := range []string{
		"/feed/packages",
		"/feed/packages/Foo",
		"/download/Foo/1.0.0",
		"/v3/index.json",
		"/v3-flatcontainer/foo/index.json",
		"/api/status",
		"/feed/sbom",
	} {
		if w := get(h, target); w.Code != http.StatusOK {
			t.Errorf("%s status = %d", target, w.Code)
		}
	}
}

func TestRestoreAcrossRestart(t *testing.T) {
	cfg := testConfig(t)

	first, h := newTestServer(t, cfg)
	push(t, h, nupkgtest.Simple("Foo", "1.0.0"))
	push(t, h, nupkgtest.Simple("Foo", "1.1.0"))
	if err := first.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	_, h = newTestServer(t, cfg)
	w := get(h, "/feed/packages/Foo/latest")
	if w.Code != http.StatusOK {
		t.Fatalf("latest status = %d", w.Code)
	}
	var latest map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &latest)
	if latest["Version"] != "1.1.0" {
		t.Errorf("latest after restart = %v", latest["Version"])
	}

	if w := get(h, "/download/Foo/1.0.0"); w.Code != http.StatusOK {
		t.Errorf("download after restart status = %d", w.Code)
	}
}

func TestRestoreIndexesPackagesDir(t *testing.T) {
	cfg := testConfig(t)
	cfg.Feed.PackagesDir = t.TempDir()

	for name, data := range map[string][]byte{
		"Alpha.1.0.0.nupkg":         nupkgtest.Simple("Alpha", "1.0.0"),
		"sub/Beta.2.0.0.nupkg":      nupkgtest.Simple("Beta", "2.0.0"),
		"ignored.txt":               []byte("not a package"),
		"Alpha.1.0.0.symbols.nupkg": nupkgtest.Simple("Alpha", "1.0.0"),
	} {
		path := filepath.Join(cfg.Feed.PackagesDir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("MkdirAll failed: %v", err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
	}

	s, h := newTestServer(t, cfg)
	ids, versions := s.index.Len()
	if ids != 2 || versions != 2 {
		t.Errorf("index = %d ids / %d versions, want 2/2", ids, versions)
	}
	if w := get(h, "/feed/packages/Beta/2.0.0"); w.Code != http.StatusOK {
		t.Errorf("Beta status = %d", w.Code)
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
		{3 * 1024 * 1024 * 1024, "3.0 GB"},
	}
	for _, tt := range tests {
		if got := formatSize(tt.bytes); got != tt.want {
			t.Errorf("formatSize(%d) = %q, want %q", tt.bytes, got, tt.want)
		}
	}
}

func TestNewInvalidVulnTTL(t *testing.T) {
	cfg := testConfig(t)
	cfg.Feed.VulnTTL = "soon"

	_, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), "test")
	if err == nil || !strings.Contains(err.Error(), "vuln_ttl") {
		t.Fatalf("expected vuln_ttl error, got %v", err)
	}
	if _, statErr := os.Stat(cfg.Database.Path); !os.IsNotExist(statErr) {
		t.Error("database opened before configuration was checked")
	}
}

func TestNewEventsFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Path = ""
	cfg.Storage.URL = "file://" + filepath.ToSlash(filepath.Join(t.TempDir(), "bucket"))
	cfg.Events.NATSURL = "nats://127.0.0.1:1"

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := New(cfg, logger, "test"); err == nil {
		t.Fatal("expected error for unreachable NATS server")
	}

	cfg.Events.NATSURL = ""
	s, err := New(cfg, logger, "test")
	if err != nil {
		t.Fatalf("New after failure failed: %v", err)
	}
	if err := s.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestClosersReverseOrder(t *testing.T) {
	var order []string
	var c closers
	for _, name := range []string{"db", "storage", "events"} {
		c.add(func() error {
			order = append(order, name)
			return errors.New("ignored")
		})
	}
	c.close()

	if strings.Join(order, ",") != "events,storage,db" {
		t.Errorf("close order = %v", order)
	}
}
