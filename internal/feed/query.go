// Package feed serves read-only views over the package index and holds the
// feed's enabled/disabled state.
package feed

import (
	"fmt"

	"github.com/git-pkgs/feed/internal/index"
	"github.com/git-pkgs/feed/internal/metrics"
	"github.com/git-pkgs/feed/internal/nuget"
)

const (
	DefaultPageSize = 100
	MaxPageSize     = 1000
)

// Page is one slice of a listing.
type Page struct {
	Items      []nuget.Package `json:"items"`
	Total      int             `json:"total"`
	Skip       int             `json:"skip"`
	Top        int             `json:"top"`
	Generation uint64          `json:"generation"`
}

// Query answers feed queries. It never mutates the index.
type Query struct {
	index *index.Index
	cache *Cache
}

// NewQuery creates a query engine. cacheSize <= 0 disables the page cache.
func NewQuery(ix *index.Index, cacheSize int) *Query {
	return &Query{index: ix, cache: NewCache(cacheSize)}
}

// ListLatest returns the latest version of every id matching filter, ordered
// by id, paginated from a single snapshot.
func (q *Query) ListLatest(filter Filter, skip, top int) Page {
	latest, gen := q.index.Snapshot()
	return paginate(latest, filter, skip, top, gen)
}

// ListLatestCached is ListLatest with results memoized under key for the
// current index generation. key must identify the filter.
func (q *Query) ListLatestCached(key string, filter Filter, skip, top int) Page {
	skip, top = clampPage(skip, top)
	if q.cache == nil {
		return q.ListLatest(filter, skip, top)
	}

	cacheKey := func(gen uint64) string {
		return fmt.Sprintf("%d|%s|%d|%d", gen, key, skip, top)
	}
	if page, ok := q.cache.Get(cacheKey(q.index.Generation())); ok {
		metrics.RecordQueryCache(true)
		return page
	}
	metrics.RecordQueryCache(false)

	page := q.ListLatest(filter, skip, top)
	q.cache.Add(cacheKey(page.Generation), page)
	return page
}

// ListAllVersions returns every version of id, ascending.
func (q *Query) ListAllVersions(id string) []nuget.Package {
	return q.index.Versions(id)
}

// FindByID returns a specific version, or the latest when version is empty.
func (q *Query) FindByID(id, version string) (nuget.Package, bool) {
	if version == "" {
		return q.index.GetLatest(id)
	}
	return q.index.Get(id, version)
}

// All returns every descriptor ordered by id then version.
func (q *Query) All() []nuget.Package {
	all, _ := q.index.SnapshotAll()
	return all
}

func clampPage(skip, top int) (int, int) {
	if skip < 0 {
		skip = 0
	}
	if top <= 0 {
		top = DefaultPageSize
	}
	if top > MaxPageSize {
		top = MaxPageSize
	}
	return skip, top
}

func paginate(pkgs []nuget.Package, filter Filter, skip, top int, gen uint64) Page {
	skip, top = clampPage(skip, top)

	matched := pkgs
	if filter != nil {
		matched = make([]nuget.Package, 0, len(pkgs))
		for _, p := range pkgs {
			if filter(p) {
				matched = append(matched, p)
			}
		}
	}

	page := Page{Total: len(matched), Skip: skip, Top: top, Generation: gen, Items: []nuget.Package{}}
	if skip >= len(matched) {
		return page
	}
	end := skip + top
	if end > len(matched) {
		end = len(matched)
	}
	page.Items = append(page.Items, matched[skip:end]...)
	return page
}
