package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Partially written archives carry this prefix until they are renamed into
// place. UsedSpace skips them.
const partialPrefix = ".partial-"

// Filesystem stores archives as plain files below a root directory.
type Filesystem struct {
	root string
}

// NewFilesystem creates the root directory if needed.
func NewFilesystem(root string) (*Filesystem, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating root directory: %w", err)
	}
	return &Filesystem{root: abs}, nil
}

// Root returns the absolute root directory.
func (f *Filesystem) Root() string {
	return f.root
}

// FullPath maps a storage path to its file.
func (f *Filesystem) FullPath(path string) string {
	return filepath.Join(f.root, filepath.FromSlash(path))
}

// Store writes to a partial file in the target directory and renames it over
// path, so readers never see a half-written archive.
func (f *Filesystem) Store(_ context.Context, path string, r io.Reader) (int64, string, error) {
	target := f.FullPath(path)
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, "", fmt.Errorf("creating directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, partialPrefix+"*")
	if err != nil {
		return 0, "", fmt.Errorf("creating partial file: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	hr := NewHashingReader(r)
	if _, err := io.Copy(tmp, hr); err != nil {
		return 0, "", fmt.Errorf("writing archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, "", fmt.Errorf("closing partial file: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return 0, "", fmt.Errorf("committing archive: %w", err)
	}

	committed = true
	return hr.Size(), hr.Sum(), nil
}

func (f *Filesystem) Open(_ context.Context, path string) (io.ReadCloser, error) {
	file, err := os.Open(f.FullPath(path))
	if err != nil {
		return nil, notFound(err, "opening archive")
	}
	return file, nil
}

func (f *Filesystem) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(f.FullPath(path))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("checking archive: %w", err)
	}
}

// Delete removes the archive and prunes directories left empty, up to the
// root. Missing archives are not an error.
func (f *Filesystem) Delete(_ context.Context, path string) error {
	target := f.FullPath(path)
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing archive: %w", err)
	}

	for dir := filepath.Dir(target); dir != f.root && strings.HasPrefix(dir, f.root); dir = filepath.Dir(dir) {
		if os.Remove(dir) != nil {
			break
		}
	}
	return nil
}

func (f *Filesystem) Size(_ context.Context, path string) (int64, error) {
	info, err := os.Stat(f.FullPath(path))
	if err != nil {
		return 0, notFound(err, "stat archive")
	}
	return info.Size(), nil
}

func (f *Filesystem) UsedSpace(_ context.Context) (int64, error) {
	var total int64
	err := filepath.WalkDir(f.root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || strings.HasPrefix(d.Name(), partialPrefix) {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walking storage: %w", err)
	}
	return total, nil
}

func notFound(err error, op string) error {
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}
