package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// backends returns a fresh instance of every Storage implementation.
func backends(t *testing.T) map[string]Storage {
	t.Helper()

	fs, err := NewFilesystem(filepath.Join(t.TempDir(), "packages"))
	if err != nil {
		t.Fatalf("NewFilesystem failed: %v", err)
	}

	b, err := OpenBucket(context.Background(), fileURLFromPath(t.TempDir()))
	if err != nil {
		t.Fatalf("OpenBucket failed: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })

	return map[string]Storage{"filesystem": fs, "bucket": b}
}

func fileURLFromPath(path string) string {
	if runtime.GOOS == "windows" {
		return "file:///" + filepath.ToSlash(path)
	}
	return "file://" + path
}

func readAll(t *testing.T, s Storage, path string) string {
	t.Helper()
	r, err := s.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open(%s) failed: %v", path, err)
	}
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	return string(data)
}

func TestStoreAndOpen(t *testing.T) {
	content := "PK fake nupkg bytes"
	path := ArchivePath("Serilog", "2.10.0", digest([]byte(content)))

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			size, hash, err := s.Store(context.Background(), path, strings.NewReader(content))
			if err != nil {
				t.Fatalf("Store failed: %v", err)
			}
			if size != int64(len(content)) {
				t.Errorf("size = %d, want %d", size, len(content))
			}
			if hash != digest([]byte(content)) {
				t.Errorf("hash = %s, want %s", hash, digest([]byte(content)))
			}
			if got := readAll(t, s, path); got != content {
				t.Errorf("content = %q, want %q", got, content)
			}
		})
	}
}

func TestStoreReplaces(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, content := range []string{"first push", "second push"} {
				if _, _, err := s.Store(ctx, "nuget/foo/1.0.0/x/foo.1.0.0.nupkg", strings.NewReader(content)); err != nil {
					t.Fatalf("Store failed: %v", err)
				}
			}
			if got := readAll(t, s, "nuget/foo/1.0.0/x/foo.1.0.0.nupkg"); got != "second push" {
				t.Errorf("content = %q, want second push", got)
			}
		})
	}
}

func TestMissingArchive(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			const path = "nuget/missing/1.0.0/x/missing.1.0.0.nupkg"

			if _, err := s.Open(ctx, path); !errors.Is(err, ErrNotFound) {
				t.Errorf("Open error = %v, want ErrNotFound", err)
			}
			if _, err := s.Size(ctx, path); !errors.Is(err, ErrNotFound) {
				t.Errorf("Size error = %v, want ErrNotFound", err)
			}
			if ok, err := s.Exists(ctx, path); err != nil || ok {
				t.Errorf("Exists = %v, %v; want false, nil", ok, err)
			}
			if err := s.Delete(ctx, path); err != nil {
				t.Errorf("Delete of missing archive failed: %v", err)
			}
		})
	}
}

func TestExistsSizeDelete(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			const path = "nuget/bar/2.0.0/y/bar.2.0.0.nupkg"
			if _, _, err := s.Store(ctx, path, strings.NewReader("twelve bytes")); err != nil {
				t.Fatalf("Store failed: %v", err)
			}

			if ok, err := s.Exists(ctx, path); err != nil || !ok {
				t.Errorf("Exists = %v, %v; want true, nil", ok, err)
			}
			if size, err := s.Size(ctx, path); err != nil || size != 12 {
				t.Errorf("Size = %d, %v; want 12, nil", size, err)
			}

			if err := s.Delete(ctx, path); err != nil {
				t.Fatalf("Delete failed: %v", err)
			}
			if ok, _ := s.Exists(ctx, path); ok {
				t.Error("archive still exists after Delete")
			}
		})
	}
}

func TestUsedSpace(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			used, err := s.UsedSpace(ctx)
			if err != nil {
				t.Fatalf("UsedSpace failed: %v", err)
			}
			if used != 0 {
				t.Errorf("UsedSpace empty = %d, want 0", used)
			}

			for path, content := range map[string]string{
				"nuget/a/1.0.0/x/a.1.0.0.nupkg": "aaaa",
				"nuget/b/1.0.0/x/b.1.0.0.nupkg": "bbbbbb",
				"nuget/b/2.0.0/x/b.2.0.0.nupkg": "ccccc",
			} {
				if _, _, err := s.Store(ctx, path, strings.NewReader(content)); err != nil {
					t.Fatalf("Store failed: %v", err)
				}
			}

			used, err = s.UsedSpace(ctx)
			if err != nil {
				t.Fatalf("UsedSpace failed: %v", err)
			}
			if used != 15 {
				t.Errorf("UsedSpace = %d, want 15", used)
			}
		})
	}
}

func TestLargeArchive(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 3*1024*1024)

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			size, hash, err := s.Store(context.Background(), "large.nupkg", bytes.NewReader(data))
			if err != nil {
				t.Fatalf("Store failed: %v", err)
			}
			if size != int64(len(data)) || hash != digest(data) {
				t.Errorf("size/hash mismatch for large archive")
			}
			if got := readAll(t, s, "large.nupkg"); got != string(data) {
				t.Error("large archive content mismatch")
			}
		})
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestFilesystemFailedStoreLeavesNothing(t *testing.T) {
	fs, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystem failed: %v", err)
	}
	ctx := context.Background()

	if _, _, err := fs.Store(ctx, "nuget/foo/1.0.0/x/foo.1.0.0.nupkg", failingReader{}); err == nil {
		t.Fatal("expected Store to fail")
	}

	entries, err := os.ReadDir(filepath.Dir(fs.FullPath("nuget/foo/1.0.0/x/foo.1.0.0.nupkg")))
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("failed store left %d files behind", len(entries))
	}
}

func TestFilesystemDeletePrunesDirectories(t *testing.T) {
	fs, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystem failed: %v", err)
	}
	ctx := context.Background()

	const path = "nuget/foo/1.0.0/x/foo.1.0.0.nupkg"
	if _, _, err := fs.Store(ctx, path, strings.NewReader("data")); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if err := fs.Delete(ctx, path); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(fs.Root(), "nuget")); !os.IsNotExist(err) {
		t.Errorf("empty package directories were not pruned: %v", err)
	}
	if _, err := os.Stat(fs.Root()); err != nil {
		t.Errorf("root removed: %v", err)
	}
}

func TestFilesystemUsedSpaceSkipsPartials(t *testing.T) {
	fs, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystem failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(fs.Root(), partialPrefix+"123"), []byte("half"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	used, err := fs.UsedSpace(context.Background())
	if err != nil {
		t.Fatalf("UsedSpace failed: %v", err)
	}
	if used != 0 {
		t.Errorf("UsedSpace = %d, want 0", used)
	}
}

func TestOpenBucketCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "bucket")

	b, err := OpenBucket(context.Background(), fileURLFromPath(dir))
	if err != nil {
		t.Fatalf("OpenBucket failed: %v", err)
	}
	defer func() { _ = b.Close() }()

	if _, err := os.Stat(dir); err != nil {
		t.Errorf("bucket directory not created: %v", err)
	}
	if !strings.HasPrefix(b.URL(), "file://") {
		t.Errorf("URL() = %q", b.URL())
	}
}

func TestContentType(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"nuget/foo/1.0.0/x/foo.1.0.0.nupkg", "application/zip"},
		{"nuget/foo/1.0.0/x/foo.nuspec", "application/octet-stream"},
		{"plain", "application/octet-stream"},
	}
	for _, tt := range tests {
		if got := contentType(tt.key); got != tt.want {
			t.Errorf("contentType(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}
