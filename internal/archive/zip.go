package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"net/url"
	"strings"
)

// zipReader indexes a package by part name. OPC writers percent-encode part
// names (lib/net8.0/My%20Lib.dll) and some older tools write backslashes, so
// entries are keyed by the decoded, slash-separated name clients see.
type zipReader struct {
	entries []zipEntry
	byName  map[string]*zip.File
}

type zipEntry struct {
	name string
	file *zip.File
}

func openZip(content io.Reader) (Reader, error) {
	data, err := io.ReadAll(content)
	if err != nil {
		return nil, fmt.Errorf("reading zip content: %w", err)
	}
	return newZipReader(data)
}

func newZipReader(data []byte) (*zipReader, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("opening zip: %w", err)
	}

	z := &zipReader{
		entries: make([]zipEntry, 0, len(zr.File)),
		byName:  make(map[string]*zip.File, len(zr.File)),
	}
	for _, f := range zr.File {
		name := partName(f.Name)
		if _, dup := z.byName[name]; dup {
			continue
		}
		z.byName[name] = f
		z.entries = append(z.entries, zipEntry{name: name, file: f})
	}
	return z, nil
}

// partName decodes an OPC part name. Names that are not valid escapes are
// kept as written.
func partName(raw string) string {
	name := strings.ReplaceAll(raw, `\`, "/")
	if decoded, err := url.PathUnescape(name); err == nil {
		name = decoded
	}
	return strings.TrimPrefix(name, "/")
}

func (z *zipReader) List() ([]FileInfo, error) {
	files := make([]FileInfo, 0, len(z.entries))
	for _, e := range z.entries {
		files = append(files, e.info())
	}
	return files, nil
}

// ListDir lists the direct children of dirPath. Directories implied by
// deeper entries are synthesized since packers rarely write them.
func (z *zipReader) ListDir(dirPath string) ([]FileInfo, error) {
	dirPath = normalizeDir(dirPath)
	var files []FileInfo
	seen := make(map[string]bool)

	add := func(fi FileInfo) {
		key := strings.TrimSuffix(fi.Path, "/")
		if seen[key] {
			return
		}
		seen[key] = true
		files = append(files, fi)
	}

	for _, e := range z.entries {
		if isInDir(e.name, dirPath) {
			add(e.info())
			continue
		}
		if dirPath != "" && !strings.HasPrefix(e.name, dirPath) {
			continue
		}

		rel := strings.TrimPrefix(e.name, dirPath)
		if first, _, nested := strings.Cut(strings.TrimSuffix(rel, "/"), "/"); nested {
			add(FileInfo{Path: dirPath + first + "/", Name: first, IsDir: true})
		}
	}
	return files, nil
}

func (z *zipReader) Extract(filePath string) (io.ReadCloser, error) {
	f, ok := z.byName[strings.TrimPrefix(filePath, "/")]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, filePath)
	}
	if f.FileInfo().IsDir() {
		return nil, fmt.Errorf("path is a directory: %s", filePath)
	}
	return f.Open()
}

func (z *zipReader) Close() error {
	z.entries = nil
	z.byName = nil
	return nil
}

func (e zipEntry) info() FileInfo {
	return FileInfo{
		Path:           e.name,
		Name:           extractName(e.name),
		Size:           int64(e.file.UncompressedSize64),
		CompressedSize: int64(e.file.CompressedSize64),
		ModTime:        e.file.Modified,
		IsDir:          e.file.FileInfo().IsDir(),
		Mode:           uint32(e.file.Mode()),
	}
}

func extractName(path string) string {
	path = strings.TrimSuffix(path, "/")
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		return path[idx+1:]
	}
	return path
}
