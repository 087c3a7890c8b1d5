package handler

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/git-pkgs/feed/internal/ingest"
	"github.com/git-pkgs/feed/internal/nuget"
)

const apiKeyHeader = "X-NuGet-ApiKey"

// handlePush accepts a package upload, either as the first file part of a
// multipart form or as the raw request body.
// PUT /api/v2/package
func (f *Feed) handlePush(w http.ResponseWriter, r *http.Request) {
	if !f.authorized(r) {
		JSONError(w, http.StatusForbidden, "missing or invalid API key")
		return
	}
	if f.limiter != nil && !f.limiter.Allow() {
		w.Header().Set("Retry-After", "1")
		JSONError(w, http.StatusTooManyRequests, "too many pushes")
		return
	}

	body, name, err := uploadBody(r)
	if err != nil {
		JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer func() { _ = body.Close() }()

	res, err := f.ingester.IngestReader(r.Context(), name, body, ingest.SourcePush)
	if err != nil {
		status, msg := pushError(err)
		if status == http.StatusInternalServerError {
			f.logger.Error("push failed", "name", name, "error", err)
		}
		JSONError(w, status, msg)
		return
	}

	writeJSON(w, http.StatusCreated, res)
}

// handleDelete unpublishes one version.
// DELETE /api/v2/package/{id}/{version}
func (f *Feed) handleDelete(w http.ResponseWriter, r *http.Request) {
	if !f.authorized(r) {
		JSONError(w, http.StatusForbidden, "missing or invalid API key")
		return
	}

	pkg, err := f.ingester.Remove(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "version"))
	if err != nil {
		if errors.Is(err, ingest.ErrNotFound) {
			JSONError(w, http.StatusNotFound, "package version not found")
			return
		}
		f.logger.Error("delete failed", "error", err)
		JSONError(w, http.StatusInternalServerError, "failed to delete package")
		return
	}

	writeJSON(w, http.StatusOK, pkg)
}

// mirrorRequest is the body of POST /api/mirror.
type mirrorRequest struct {
	ID      string `json:"id"`
	Version string `json:"version,omitempty"`
}

// handleMirror copies one version from the upstream feed.
// POST /api/mirror
func (f *Feed) handleMirror(w http.ResponseWriter, r *http.Request) {
	if !f.authorized(r) {
		JSONError(w, http.StatusForbidden, "missing or invalid API key")
		return
	}

	var req mirrorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.ID) == "" {
		JSONError(w, http.StatusBadRequest, "body must be {\"id\": \"...\", \"version\": \"...\"}")
		return
	}

	res, err := f.ingester.Mirror(r.Context(), req.ID, req.Version)
	if err != nil {
		status, msg := pushError(err)
		if status == http.StatusInternalServerError {
			status, msg = http.StatusBadGateway, "mirror failed"
			f.logger.Error("mirror failed", "id", req.ID, "version", req.Version, "error", err)
		}
		JSONError(w, status, msg)
		return
	}

	writeJSON(w, http.StatusCreated, res)
}

func (f *Feed) authorized(r *http.Request) bool {
	if f.apiKey == "" {
		return false
	}
	key := r.Header.Get(apiKeyHeader)
	return key != "" && subtle.ConstantTimeCompare([]byte(key), []byte(f.apiKey)) == 1
}

// uploadBody finds the archive in a push request.
func uploadBody(r *http.Request) (io.ReadCloser, string, error) {
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		return r.Body, "upload.nupkg", nil
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, "", errors.New("invalid content type")
	}

	switch {
	case mediaType == "application/octet-stream" || mediaType == "application/zip":
		return r.Body, "upload.nupkg", nil
	case strings.HasPrefix(mediaType, "multipart/"):
		boundary := params["boundary"]
		if boundary == "" {
			return nil, "", errors.New("multipart request without boundary")
		}
		mr := multipart.NewReader(r.Body, boundary)
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				return nil, "", errors.New("no package in request")
			}
			if err != nil {
				return nil, "", errors.New("malformed multipart body")
			}
			if part.FileName() != "" {
				return part, part.FileName(), nil
			}
			_ = part.Close()
		}
	default:
		return nil, "", errors.New("expected multipart/form-data or application/octet-stream")
	}
}

// pushError maps an ingestion failure to a status code and message.
func pushError(err error) (int, string) {
	switch {
	case errors.Is(err, ingest.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "package exceeds maximum size"
	case errors.Is(err, nuget.ErrVersionConflict):
		return http.StatusConflict, "package version already exists"
	case errors.Is(err, nuget.ErrInvalidArchive), errors.Is(err, nuget.ErrInvalidVersion):
		return http.StatusBadRequest, "invalid package: " + err.Error()
	case errors.Is(err, ingest.ErrFeedDisabled):
		return http.StatusServiceUnavailable, "feed is disabled"
	case errors.Is(err, ingest.ErrNotFound):
		return http.StatusNotFound, "no listed upstream version"
	default:
		return http.StatusInternalServerError, "failed to store package"
	}
}
