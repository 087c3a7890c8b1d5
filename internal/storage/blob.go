package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"
)

// Blob stores archives in a gocloud bucket.
type Blob struct {
	bucket *blob.Bucket
	url    string
}

// OpenBucket opens a bucket URL:
//
//	file:///srv/feed/packages
//	s3://bucket?region=us-east-1
//	s3://bucket?endpoint=http://localhost:9000&use_path_style=true
//
// S3 credentials come from the usual AWS_* environment. A file:// directory
// is created when missing.
func OpenBucket(ctx context.Context, rawURL string) (*Blob, error) {
	if strings.HasPrefix(rawURL, "file://") {
		dir, err := fileBucketDir(rawURL)
		if err != nil {
			return nil, err
		}
		rawURL = "file://" + dir
	}

	bucket, err := blob.OpenBucket(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("opening bucket: %w", err)
	}
	return &Blob{bucket: bucket, url: rawURL}, nil
}

// fileBucketDir creates the directory of a file:// URL and returns it as an
// absolute path, which fileblob requires.
func fileBucketDir(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parsing URL: %w", err)
	}
	dir := u.Path
	if dir == "" {
		dir = u.Opaque
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating directory: %w", err)
	}
	return filepath.Abs(dir)
}

// Store uploads r to key path. Archives are tagged application/zip so that
// buckets served directly hand clients the right type.
func (b *Blob) Store(ctx context.Context, key string, r io.Reader) (int64, string, error) {
	hr := NewHashingReader(r)

	w, err := b.bucket.NewWriter(ctx, key, &blob.WriterOptions{ContentType: contentType(key)})
	if err != nil {
		return 0, "", fmt.Errorf("creating writer: %w", err)
	}
	if _, err := io.Copy(w, hr); err != nil {
		_ = w.Close()
		return 0, "", fmt.Errorf("writing archive: %w", err)
	}
	if err := w.Close(); err != nil {
		return 0, "", fmt.Errorf("committing archive: %w", err)
	}
	return hr.Size(), hr.Sum(), nil
}

func (b *Blob) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := b.bucket.NewReader(ctx, key, nil)
	if err != nil {
		return nil, bucketError(err, "opening reader")
	}
	return r, nil
}

func (b *Blob) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := b.bucket.Exists(ctx, key)
	if err != nil {
		return false, fmt.Errorf("checking archive: %w", err)
	}
	return ok, nil
}

func (b *Blob) Delete(ctx context.Context, key string) error {
	if err := b.bucket.Delete(ctx, key); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return fmt.Errorf("deleting archive: %w", err)
	}
	return nil
}

func (b *Blob) Size(ctx context.Context, key string) (int64, error) {
	attrs, err := b.bucket.Attributes(ctx, key)
	if err != nil {
		return 0, bucketError(err, "reading attributes")
	}
	return attrs.Size, nil
}

func (b *Blob) UsedSpace(ctx context.Context) (int64, error) {
	var total int64
	it := b.bucket.List(nil)
	for {
		obj, err := it.Next(ctx)
		if errors.Is(err, io.EOF) {
			return total, nil
		}
		if err != nil {
			return 0, fmt.Errorf("listing archives: %w", err)
		}
		total += obj.Size
	}
}

func (b *Blob) Close() error {
	return b.bucket.Close()
}

// URL returns the bucket URL after file:// paths were made absolute.
func (b *Blob) URL() string {
	return b.url
}

func contentType(key string) string {
	if path.Ext(key) == ".nupkg" {
		return "application/zip"
	}
	return "application/octet-stream"
}

func bucketError(err error, op string) error {
	if gcerrors.Code(err) == gcerrors.NotFound {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}
