package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/git-pkgs/feed/internal/feed"
)

// serviceIndex is the NuGet V3 service index document.
type serviceIndex struct {
	Version   string            `json:"version"`
	Resources []serviceResource `json:"resources"`
}

type serviceResource struct {
	ID      string `json:"@id"`
	Type    string `json:"@type"`
	Comment string `json:"comment,omitempty"`
}

// handleServiceIndex advertises the flat container and push endpoints so
// NuGet clients can restore from and push to this feed.
// GET /v3/index.json
func (f *Feed) handleServiceIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, serviceIndex{
		Version: "3.0.0",
		Resources: []serviceResource{
			{ID: f.baseURL + "/v3-flatcontainer/", Type: "PackageBaseAddress/3.0.0", Comment: "Package content"},
			{ID: f.baseURL + "/api/v2/package", Type: "PackagePublish/2.0.0", Comment: "Push and delete"},
		},
	})
}

// handleFlatVersions lists the versions of one id in flat container form:
// lowercase normalized strings in ascending order.
// GET /v3-flatcontainer/{id}/index.json
func (f *Feed) handleFlatVersions(w http.ResponseWriter, r *http.Request) {
	pkgs := f.query.ListAllVersions(chi.URLParam(r, "id"))
	if len(pkgs) == 0 {
		JSONError(w, http.StatusNotFound, "package not found")
		return
	}

	versions := make([]string, len(pkgs))
	for i, p := range pkgs {
		versions[i] = strings.ToLower(p.NormalizedVersion)
	}
	writeJSON(w, http.StatusOK, map[string][]string{"versions": versions})
}

// handleList lists the latest version of every id.
// GET /feed/packages?q=&tag=&prerelease=&skip=&top=
func (f *Feed) handleList(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	skip, err := intParam(params.Get("skip"), 0)
	if err != nil || skip < 0 {
		JSONError(w, http.StatusBadRequest, "invalid skip")
		return
	}
	top, err := intParam(params.Get("top"), feed.DefaultPageSize)
	if err != nil || top < 0 {
		JSONError(w, http.StatusBadRequest, "invalid top")
		return
	}

	q := params.Get("q")
	tag := params.Get("tag")
	prerelease := params.Get("prerelease") != "false"

	var filters []feed.Filter
	if q != "" {
		filters = append(filters, feed.SearchTerm(q))
	}
	if tag != "" {
		filters = append(filters, feed.HasTag(tag))
	}
	if !prerelease {
		filters = append(filters, feed.ExcludePrerelease())
	}

	key := strings.Join([]string{q, tag, strconv.FormatBool(prerelease)}, "\x00")
	writeJSON(w, http.StatusOK, f.query.ListLatestCached(key, feed.And(filters...), skip, top))
}

// handleVersions lists every version of one id.
// GET /feed/packages/{id}
func (f *Feed) handleVersions(w http.ResponseWriter, r *http.Request) {
	pkgs := f.query.ListAllVersions(chi.URLParam(r, "id"))
	if len(pkgs) == 0 {
		JSONError(w, http.StatusNotFound, "package not found")
		return
	}
	writeJSON(w, http.StatusOK, pkgs)
}

// GET /feed/packages/{id}/latest
func (f *Feed) handleLatest(w http.ResponseWriter, r *http.Request) {
	pkg, ok := f.index.GetLatest(chi.URLParam(r, "id"))
	if !ok {
		JSONError(w, http.StatusNotFound, "package not found")
		return
	}
	writeJSON(w, http.StatusOK, pkg)
}

// GET /feed/packages/{id}/{version}
func (f *Feed) handleVersion(w http.ResponseWriter, r *http.Request) {
	pkg, ok := f.query.FindByID(chi.URLParam(r, "id"), chi.URLParam(r, "version"))
	if !ok {
		JSONError(w, http.StatusNotFound, "package version not found")
		return
	}
	writeJSON(w, http.StatusOK, pkg)
}

func intParam(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}
