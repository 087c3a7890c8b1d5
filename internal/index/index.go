// Package index is the in-memory catalog of package descriptors.
//
// Descriptors are grouped by case-insensitive id and kept in ascending
// version order. Ids are spread over a fixed set of shards, each guarded by
// its own RWMutex, so writes to ids in different shards run in parallel while
// writes to one id are serialized. The latest flag of an id is recomputed
// while the shard write lock is held, so readers observe either the state
// before a mutation or the state after it.
package index

import (
	"fmt"
	"hash/fnv"
	"iter"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/git-pkgs/feed/internal/nuget"
)

const shardCount = 64

// Index maps (id, version) to descriptors.
type Index struct {
	shards     [shardCount]shard
	generation atomic.Uint64
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// entry holds every version of one id, ascending.
type entry struct {
	versions []record
}

type record struct {
	version nuget.Version
	pkg     nuget.Package
}

// New returns an empty index.
func New() *Index {
	ix := &Index{}
	for i := range ix.shards {
		ix.shards[i].entries = make(map[string]*entry)
	}
	return ix
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

func (ix *Index) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &ix.shards[h.Sum32()%shardCount]
}

// Insert adds p, replacing an existing descriptor with the same id and
// version. It reports whether a descriptor was replaced.
func (ix *Index) Insert(p nuget.Package) (bool, error) {
	return ix.insert(p, true)
}

// InsertIfAbsent adds p unless its version is already present, in which case
// it returns nuget.ErrVersionConflict and leaves the index unchanged.
func (ix *Index) InsertIfAbsent(p nuget.Package) error {
	_, err := ix.insert(p, false)
	return err
}

func (ix *Index) insert(p nuget.Package, overwrite bool) (bool, error) {
	key := normalizeID(p.ID)
	if key == "" {
		return false, fmt.Errorf("%w: descriptor has no id", nuget.ErrInvalidArchive)
	}
	v, err := nuget.ParseVersion(p.Version)
	if err != nil {
		return false, fmt.Errorf("%w: %s: %w", nuget.ErrInvalidArchive, p.ID, err)
	}

	s := ix.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entries[key]
	if e == nil {
		e = &entry{}
		s.entries[key] = e
	}

	i, found := e.search(v)
	replaced := false
	switch {
	case found && !overwrite:
		return false, fmt.Errorf("%w: %s %s", nuget.ErrVersionConflict, p.ID, p.Version)
	case found:
		e.versions[i] = record{version: v, pkg: p}
		replaced = true
	default:
		e.versions = append(e.versions, record{})
		copy(e.versions[i+1:], e.versions[i:])
		e.versions[i] = record{version: v, pkg: p}
	}

	e.markLatest()
	ix.generation.Add(1)
	return replaced, nil
}

// Remove deletes one version. If it was the latest, the next highest version
// becomes latest. It returns the removed descriptor.
func (ix *Index) Remove(id, version string) (nuget.Package, bool) {
	key := normalizeID(id)
	v, err := nuget.ParseVersion(version)
	if err != nil {
		return nuget.Package{}, false
	}

	s := ix.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entries[key]
	if e == nil {
		return nuget.Package{}, false
	}
	i, found := e.search(v)
	if !found {
		return nuget.Package{}, false
	}

	removed := e.versions[i].pkg
	e.versions = append(e.versions[:i], e.versions[i+1:]...)
	if len(e.versions) == 0 {
		delete(s.entries, key)
	} else {
		e.markLatest()
	}
	ix.generation.Add(1)
	return removed, true
}

// Get returns the descriptor for an exact id and version.
func (ix *Index) Get(id, version string) (nuget.Package, bool) {
	key := normalizeID(id)
	v, err := nuget.ParseVersion(version)
	if err != nil {
		return nuget.Package{}, false
	}

	s := ix.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()

	e := s.entries[key]
	if e == nil {
		return nuget.Package{}, false
	}
	i, found := e.search(v)
	if !found {
		return nuget.Package{}, false
	}
	return e.versions[i].pkg, true
}

// GetLatest returns the descriptor flagged latest for id.
func (ix *Index) GetLatest(id string) (nuget.Package, bool) {
	key := normalizeID(id)
	s := ix.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()

	e := s.entries[key]
	if e == nil || len(e.versions) == 0 {
		return nuget.Package{}, false
	}
	return e.versions[len(e.versions)-1].pkg, true
}

// ListVersions returns the version strings of id in ascending order.
func (ix *Index) ListVersions(id string) []string {
	pkgs := ix.Versions(id)
	if pkgs == nil {
		return nil
	}
	out := make([]string, len(pkgs))
	for i, p := range pkgs {
		out[i] = p.Version
	}
	return out
}

// Versions returns every descriptor of id in ascending version order.
func (ix *Index) Versions(id string) []nuget.Package {
	key := normalizeID(id)
	s := ix.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()

	e := s.entries[key]
	if e == nil {
		return nil
	}
	out := make([]nuget.Package, len(e.versions))
	for i, r := range e.versions {
		out[i] = r.pkg
	}
	return out
}

// AllIDs returns the ids present when it is called, in ascending
// case-insensitive order. Later mutations are not reflected.
func (ix *Index) AllIDs() iter.Seq[string] {
	latest, _ := ix.Snapshot()
	return func(yield func(string) bool) {
		for _, p := range latest {
			if !yield(p.ID) {
				return
			}
		}
	}
}

// Snapshot returns the latest descriptor of every id, ordered by
// case-insensitive id, together with the generation it reflects. All shards
// are read-locked together so the result is one consistent state.
func (ix *Index) Snapshot() ([]nuget.Package, uint64) {
	var out []nuget.Package
	gen := ix.readAll(func(e *entry) {
		out = append(out, e.versions[len(e.versions)-1].pkg)
	})
	sortPackages(out)
	return out, gen
}

// SnapshotAll returns every descriptor ordered by id then version.
func (ix *Index) SnapshotAll() ([]nuget.Package, uint64) {
	var out []nuget.Package
	gen := ix.readAll(func(e *entry) {
		for _, r := range e.versions {
			out = append(out, r.pkg)
		}
	})
	sortPackages(out)
	return out, gen
}

func (ix *Index) readAll(fn func(e *entry)) uint64 {
	for i := range ix.shards {
		ix.shards[i].mu.RLock()
	}
	defer func() {
		for i := range ix.shards {
			ix.shards[i].mu.RUnlock()
		}
	}()

	for i := range ix.shards {
		for _, e := range ix.shards[i].entries {
			fn(e)
		}
	}
	return ix.generation.Load()
}

// Len returns the number of ids and the number of versions.
func (ix *Index) Len() (ids, versions int) {
	for i := range ix.shards {
		s := &ix.shards[i]
		s.mu.RLock()
		ids += len(s.entries)
		for _, e := range s.entries {
			versions += len(e.versions)
		}
		s.mu.RUnlock()
	}
	return ids, versions
}

// Generation increases on every mutation.
func (ix *Index) Generation() uint64 {
	return ix.generation.Load()
}

func (e *entry) search(v nuget.Version) (int, bool) {
	i := sort.Search(len(e.versions), func(i int) bool {
		return e.versions[i].version.Compare(v) >= 0
	})
	for j := i; j < len(e.versions) && e.versions[j].version.Compare(v) == 0; j++ {
		if e.versions[j].version.Equal(v) {
			return j, true
		}
	}
	return i, false
}

func (e *entry) markLatest() {
	last := len(e.versions) - 1
	for i := range e.versions {
		e.versions[i].pkg.IsLatestVersion = i == last
		e.versions[i].pkg.IsAbsoluteLatestVersion = i == last
	}
}

func sortPackages(pkgs []nuget.Package) {
	sort.SliceStable(pkgs, func(i, j int) bool {
		a, b := strings.ToLower(pkgs[i].ID), strings.ToLower(pkgs[j].ID)
		if a != b {
			return a < b
		}
		return nuget.CompareVersions(pkgs[i].Version, pkgs[j].Version) < 0
	})
}
