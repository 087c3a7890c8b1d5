// Package storage provides blob storage backends for package archives.
package storage

import (
	"context"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"hash"
	"io"
	"strings"
)

var (
	ErrNotFound = errors.New("archive not found")
)

// Storage defines the interface for archive storage backends.
type Storage interface {
	// Store writes content from r to the given path.
	// Returns the number of bytes written and the base64 SHA-512 digest of the content.
	Store(ctx context.Context, path string, r io.Reader) (size int64, hash string, err error)

	// Open returns a reader for the content at path.
	// The caller must close the reader when done.
	// Returns ErrNotFound if the path does not exist.
	Open(ctx context.Context, path string) (io.ReadCloser, error)

	// Exists returns true if content exists at path.
	Exists(ctx context.Context, path string) (bool, error)

	// Delete removes the content at path.
	// Returns nil if the path does not exist.
	Delete(ctx context.Context, path string) error

	// Size returns the size in bytes of content at path.
	// Returns ErrNotFound if the path does not exist.
	Size(ctx context.Context, path string) (int64, error)

	// UsedSpace returns the total bytes used by all stored content.
	UsedSpace(ctx context.Context) (int64, error)
}

// New opens a backend for location. Locations with a scheme (file://, s3://)
// go through gocloud; bare paths use the local filesystem.
func New(ctx context.Context, location string) (Storage, error) {
	if strings.Contains(location, "://") {
		return OpenBucket(ctx, location)
	}
	return NewFilesystem(location)
}

const hashSegmentLen = 16

// ArchivePath builds the storage path for a package archive.
// Format: nuget/{id}/{version}/{hash prefix}/{id}.{version}.nupkg
// The id and version directories are lowercased so that case variants of the
// same identity share a directory; the hash segment keeps a replacement from
// overwriting the archive it replaces until the catalog has switched over.
func ArchivePath(id, version, hash string) string {
	lid := strings.ToLower(id)
	lver := strings.ToLower(version)
	return "nuget/" + lid + "/" + lver + "/" + hashSegment(hash) + "/" + lid + "." + lver + ".nupkg"
}

func hashSegment(hash string) string {
	seg := strings.NewReplacer("/", "_", "+", "-", "=", "").Replace(hash)
	if len(seg) > hashSegmentLen {
		seg = seg[:hashSegmentLen]
	}
	if seg == "" {
		seg = "_"
	}
	return seg
}

// HashingReader wraps a reader and computes a SHA-512 digest as content is read.
type HashingReader struct {
	r    io.Reader
	h    hash.Hash
	sum  []byte
	size int64
}

func NewHashingReader(r io.Reader) *HashingReader {
	h := sha512.New()
	return &HashingReader{
		r: io.TeeReader(r, h),
		h: h,
	}
}

func (hr *HashingReader) Read(p []byte) (n int, err error) {
	n, err = hr.r.Read(p)
	hr.size += int64(n)
	if err == io.EOF && hr.sum == nil {
		hr.sum = hr.h.Sum(nil)
	}
	return
}

// Sum returns the base64 encoded digest of everything read so far.
func (hr *HashingReader) Sum() string {
	if hr.sum == nil {
		hr.sum = hr.h.Sum(nil)
	}
	return base64.StdEncoding.EncodeToString(hr.sum)
}

func (hr *HashingReader) Size() int64 {
	return hr.size
}
