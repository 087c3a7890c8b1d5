package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/git-pkgs/feed/internal/archive"
	"github.com/git-pkgs/feed/internal/diff"
	"github.com/git-pkgs/feed/internal/metrics"
	"github.com/git-pkgs/feed/internal/nuget"
)

// BrowseListResponse contains the file listing for a directory in an archive.
type BrowseListResponse struct {
	ID      string             `json:"id"`
	Version string             `json:"version"`
	Path    string             `json:"path"`
	Files   []archive.FileInfo `json:"files"`
}

// CompareResponse is the diff between two versions of one id.
type CompareResponse struct {
	ID   string `json:"id"`
	From string `json:"from"`
	To   string `json:"to"`
	*diff.CompareResult
}

// openArchive loads the stored archive of one indexed version.
func (f *Feed) openArchive(r *http.Request, id, version string) (nuget.Package, archive.Reader, int, error) {
	pkg, ok := f.index.Get(id, version)
	if !ok || pkg.StoragePath == "" {
		return nuget.Package{}, nil, http.StatusNotFound, fmt.Errorf("%s %s not found", id, version)
	}

	start := time.Now()
	content, err := f.storage.Open(r.Context(), pkg.StoragePath)
	metrics.RecordStorageOperation("read", time.Since(start))
	if err != nil {
		metrics.RecordStorageError("read")
		return pkg, nil, http.StatusInternalServerError, fmt.Errorf("reading archive: %w", err)
	}
	defer func() { _ = content.Close() }()

	reader, err := archive.Open(pkg.StoragePath, content)
	if err != nil {
		return pkg, nil, http.StatusInternalServerError, fmt.Errorf("opening archive: %w", err)
	}
	return pkg, reader, http.StatusOK, nil
}

// handleBrowseList lists one directory of a package archive.
// GET /feed/packages/{id}/{version}/files?path=lib/net8.0
func (f *Feed) handleBrowseList(w http.ResponseWriter, r *http.Request) {
	dirPath := r.URL.Query().Get("path")

	pkg, reader, status, err := f.openArchive(r, chi.URLParam(r, "id"), chi.URLParam(r, "version"))
	if err != nil {
		f.logIfServerError(status, err)
		JSONError(w, status, http.StatusText(status))
		return
	}
	defer func() { _ = reader.Close() }()

	files, err := reader.ListDir(dirPath)
	if err != nil {
		f.logger.Error("failed to list directory", "error", err, "path", dirPath)
		JSONError(w, http.StatusInternalServerError, "failed to list directory")
		return
	}

	writeJSON(w, http.StatusOK, BrowseListResponse{
		ID:      pkg.ID,
		Version: pkg.Version,
		Path:    dirPath,
		Files:   files,
	})
}

// handleBrowseFile returns one file from a package archive.
// GET /feed/packages/{id}/{version}/files/*
func (f *Feed) handleBrowseFile(w http.ResponseWriter, r *http.Request) {
	filePath := chi.URLParam(r, "*")
	if filePath == "" {
		JSONError(w, http.StatusBadRequest, "file path required")
		return
	}

	_, reader, status, err := f.openArchive(r, chi.URLParam(r, "id"), chi.URLParam(r, "version"))
	if err != nil {
		f.logIfServerError(status, err)
		JSONError(w, status, http.StatusText(status))
		return
	}
	defer func() { _ = reader.Close() }()

	fileReader, err := reader.Extract(filePath)
	if err != nil {
		if errors.Is(err, archive.ErrFileNotFound) {
			JSONError(w, http.StatusNotFound, "file not found")
			return
		}
		f.logger.Error("failed to extract file", "error", err, "path", filePath)
		JSONError(w, http.StatusInternalServerError, "failed to extract file")
		return
	}
	defer func() { _ = fileReader.Close() }()

	w.Header().Set("Content-Type", detectContentType(filePath))
	_, filename := path.Split(filePath)
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", filename))
	_, _ = io.Copy(w, fileReader)
}

// handleCompare diffs the content of two versions.
// GET /feed/packages/{id}/compare/{from}/{to}
func (f *Feed) handleCompare(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	from, fromReader, status, err := f.openArchive(r, id, chi.URLParam(r, "from"))
	if err != nil {
		f.logIfServerError(status, err)
		JSONError(w, status, "from version: "+http.StatusText(status))
		return
	}
	defer func() { _ = fromReader.Close() }()

	to, toReader, status, err := f.openArchive(r, id, chi.URLParam(r, "to"))
	if err != nil {
		f.logIfServerError(status, err)
		JSONError(w, status, "to version: "+http.StatusText(status))
		return
	}
	defer func() { _ = toReader.Close() }()

	result, err := diff.Compare(fromReader, toReader)
	if err != nil {
		f.logger.Error("failed to compare versions", "id", id, "from", from.Version, "to", to.Version, "error", err)
		JSONError(w, http.StatusInternalServerError, "failed to compare versions")
		return
	}

	writeJSON(w, http.StatusOK, CompareResponse{
		ID:            from.ID,
		From:          from.Version,
		To:            to.Version,
		CompareResult: result,
	})
}

func (f *Feed) logIfServerError(status int, err error) {
	if status >= http.StatusInternalServerError {
		f.logger.Error("archive access failed", "error", err)
	}
}

// detectContentType returns an appropriate content type based on file extension.
func detectContentType(filename string) string {
	switch strings.ToLower(path.Ext(filename)) {
	case ".txt", ".md", ".markdown":
		return "text/plain; charset=utf-8"
	case ".html", ".htm":
		return "text/html; charset=utf-8"
	case ".css":
		return "text/css; charset=utf-8"
	case ".js", ".mjs":
		return "application/javascript; charset=utf-8"
	case ".json":
		return "application/json; charset=utf-8"
	case ".xml", ".nuspec", ".props", ".targets", ".config", ".resx", ".csproj", ".fsproj", ".vbproj":
		return "application/xml; charset=utf-8"
	case ".yaml", ".yml":
		return "text/yaml; charset=utf-8"

	case ".cs":
		return "text/x-csharp; charset=utf-8"
	case ".fs", ".fsx":
		return "text/x-fsharp; charset=utf-8"
	case ".vb":
		return "text/x-vb; charset=utf-8"
	case ".ps1", ".psm1", ".psd1":
		return "text/x-powershell; charset=utf-8"
	case ".sh", ".bash":
		return "text/x-shellscript; charset=utf-8"
	case ".ini":
		return "text/plain; charset=utf-8"

	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".svg":
		return "image/svg+xml"
	case ".ico":
		return "image/x-icon"

	case ".dll", ".exe", ".pdb", ".so", ".dylib", ".zip", ".nupkg":
		return "application/octet-stream"

	default:
		if isLikelyText(filename) {
			return "text/plain; charset=utf-8"
		}
		return "application/octet-stream"
	}
}

// isLikelyText checks if a filename suggests it's a text file.
func isLikelyText(filename string) bool {
	base := strings.ToLower(path.Base(filename))

	textFiles := []string{
		"readme", "license", "licence", "authors", "contributors",
		"changelog", "changes", "notice", "history",
		"thirdpartynotices", ".editorconfig", ".gitignore",
	}

	for _, tf := range textFiles {
		if base == tf || strings.HasPrefix(base, tf+".") {
			return true
		}
	}
	return false
}
