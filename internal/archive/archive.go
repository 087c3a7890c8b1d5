// Package archive provides in-memory reading and browsing of package archives.
//
// NuGet packages (.nupkg, .snupkg) are ZIP files following the Open Packaging
// Conventions. The reader works entirely in memory so stored archives can be
// browsed on demand without touching disk.
package archive

import (
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// ErrFileNotFound is returned by Extract for paths not in the archive.
var ErrFileNotFound = errors.New("file not found in archive")

// FileInfo represents metadata about a file in an archive.
type FileInfo struct {
	Path           string    `json:"path"`
	Name           string    `json:"name"`
	Size           int64     `json:"size"`
	ModTime        time.Time `json:"mod_time"`
	IsDir          bool      `json:"is_dir"`
	Mode           uint32    `json:"-"`
	CompressedSize int64     `json:"compressed_size,omitempty"`
}

// Reader provides methods to browse and extract files from archives.
type Reader interface {
	// List returns all files in the archive.
	List() ([]FileInfo, error)

	// ListDir returns files in a specific directory path.
	// Use "" or "/" for root directory.
	ListDir(dirPath string) ([]FileInfo, error)

	// Extract reads a specific file from the archive.
	Extract(filePath string) (io.ReadCloser, error)

	// Close releases resources associated with the reader.
	Close() error
}

// Open creates an archive reader for the given content. The filename selects
// the format; content is read entirely into memory.
func Open(filename string, content io.Reader) (Reader, error) {
	if detectFormat(filename) == "" {
		return nil, fmt.Errorf("unsupported archive format: %s", filename)
	}
	return openZip(content)
}

// OpenBytes creates a reader over an archive already held in memory.
func OpenBytes(data []byte) (Reader, error) {
	return newZipReader(data)
}

// ReadFile extracts a whole file from the archive.
func ReadFile(r Reader, filePath string) ([]byte, error) {
	rc, err := r.Extract(filePath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	return io.ReadAll(rc)
}

// IsPackagingPart reports whether p is OPC bookkeeping rather than package
// content.
func IsPackagingPart(p string) bool {
	switch {
	case p == "[Content_Types].xml":
		return true
	case strings.HasPrefix(p, "_rels/"):
		return true
	case strings.HasPrefix(p, "package/services/metadata/"):
		return true
	case strings.HasSuffix(p, ".rels") && strings.Contains(p, "/_rels/"):
		return true
	}
	return false
}

// detectFormat determines archive format from filename extension.
func detectFormat(filename string) string {
	switch strings.ToLower(path.Ext(filename)) {
	case ".nupkg", ".snupkg", ".zip":
		return "zip"
	default:
		return ""
	}
}

// normalizeDir normalizes directory path for consistent comparison.
func normalizeDir(dirPath string) string {
	dirPath = strings.TrimSpace(dirPath)
	dirPath = strings.Trim(dirPath, "/")
	if dirPath == "" {
		return ""
	}
	return dirPath + "/"
}

// isInDir checks if filePath is directly in dirPath (not in subdirectories).
func isInDir(filePath, dirPath string) bool {
	dirPath = normalizeDir(dirPath)
	filePath = strings.TrimSuffix(filePath, "/")

	if dirPath == "" {
		return !strings.Contains(filePath, "/")
	}

	if !strings.HasPrefix(filePath+"/", dirPath) {
		return false
	}

	rel := strings.TrimPrefix(filePath, strings.TrimSuffix(dirPath, "/"))
	rel = strings.TrimPrefix(rel, "/")
	return rel != "" && !strings.Contains(rel, "/")
}
