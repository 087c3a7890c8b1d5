package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/git-pkgs/feed/internal/sbom"
)

// GET /api/status
func (f *Feed) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, f.status.GetStatus())
}

type statusRequest struct {
	Enabled *bool `json:"enabled"`
}

// handleSetStatus enables or disables the feed.
// POST /api/status {"enabled": bool}
func (f *Feed) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	if !f.authorized(r) {
		JSONError(w, http.StatusForbidden, "missing or invalid API key")
		return
	}

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		JSONError(w, http.StatusBadRequest, `body must be {"enabled": true|false}`)
		return
	}

	if err := f.status.SetEnabled(r.Context(), *req.Enabled); err != nil {
		f.logger.Error("failed to change feed state", "error", err)
		JSONError(w, http.StatusInternalServerError, "failed to change feed state")
		return
	}
	f.logger.Info("feed state changed", "enabled", *req.Enabled)

	writeJSON(w, http.StatusOK, f.status.GetStatus())
}

// handleEnrichment reports license, vulnerability and upstream data for one
// version.
// GET /feed/packages/{id}/{version}/enrichment
func (f *Feed) handleEnrichment(w http.ResponseWriter, r *http.Request) {
	if f.enrichment == nil {
		JSONError(w, http.StatusNotFound, "enrichment is not configured")
		return
	}

	pkg, ok := f.query.FindByID(chi.URLParam(r, "id"), chi.URLParam(r, "version"))
	if !ok {
		JSONError(w, http.StatusNotFound, "package version not found")
		return
	}

	writeJSON(w, http.StatusOK, f.enrichment.Enrich(r.Context(), pkg))
}

// handleSBOM exports every indexed version as a software bill of materials.
// GET /feed/sbom?format=cyclonedx|spdx
func (f *Feed) handleSBOM(w http.ResponseWriter, r *http.Request) {
	format, err := sbom.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		JSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	opts := sbom.Options{Name: "feed", ServerURL: f.baseURL, Version: f.version}
	w.Header().Set("Content-Type", format.ContentType())
	if err := sbom.Write(w, format, f.query.All(), opts); err != nil {
		f.logger.Error("failed to write sbom", "format", format, "error", err)
	}
}
