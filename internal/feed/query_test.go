package feed

import (
	"fmt"
	"testing"

	"github.com/git-pkgs/feed/internal/index"
	"github.com/git-pkgs/feed/internal/nuget"
)

func seedIndex(t *testing.T, entries ...[3]string) *index.Index {
	t.Helper()
	ix := index.New()
	for _, e := range entries {
		p := nuget.Package{ID: e[0], Version: e[1], Tags: e[2]}
		v, err := nuget.ParseVersion(e[1])
		if err != nil {
			t.Fatalf("bad version %q: %v", e[1], err)
		}
		p.IsPrerelease = v.IsPrerelease()
		if _, err := ix.Insert(p); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}
	return ix
}

func ids(pkgs []nuget.Package) []string {
	out := make([]string, len(pkgs))
	for i, p := range pkgs {
		out[i] = p.ID + "@" + p.Version
	}
	return out
}

func TestListLatest(t *testing.T) {
	ix := seedIndex(t,
		[3]string{"Zeta", "1.0.0", ""},
		[3]string{"alpha", "1.0.0", "json"},
		[3]string{"alpha", "2.0.0", "json"},
		[3]string{"Beta", "0.1.0", "xml"},
	)
	q := NewQuery(ix, 0)

	page := q.ListLatest(nil, 0, 10)
	want := []string{"alpha@2.0.0", "Beta@0.1.0", "Zeta@1.0.0"}
	if got := ids(page.Items); fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("ListLatest = %v, want %v", got, want)
	}
	if page.Total != 3 {
		t.Errorf("Total = %d, want 3", page.Total)
	}
	for _, p := range page.Items {
		if !p.IsLatestVersion {
			t.Errorf("%s is not flagged latest", p.ID)
		}
	}
}

func TestListLatestPagination(t *testing.T) {
	var entries [][3]string
	for i := 0; i < 25; i++ {
		entries = append(entries, [3]string{fmt.Sprintf("Pkg%02d", i), "1.0.0", ""})
	}
	q := NewQuery(seedIndex(t, entries...), 0)

	seen := make(map[string]bool)
	for skip := 0; skip < 25; skip += 10 {
		page := q.ListLatest(nil, skip, 10)
		for _, p := range page.Items {
			if seen[p.ID] {
				t.Errorf("%s returned twice", p.ID)
			}
			seen[p.ID] = true
		}
	}
	if len(seen) != 25 {
		t.Errorf("saw %d ids, want 25", len(seen))
	}

	last := q.ListLatest(nil, 20, 10)
	if len(last.Items) != 5 {
		t.Errorf("last page has %d items, want 5", len(last.Items))
	}
	beyond := q.ListLatest(nil, 100, 10)
	if len(beyond.Items) != 0 || beyond.Items == nil {
		t.Errorf("page beyond end = %v, want empty non-nil", beyond.Items)
	}
}

func TestListLatestClamp(t *testing.T) {
	q := NewQuery(seedIndex(t, [3]string{"A", "1.0", ""}), 0)

	page := q.ListLatest(nil, -5, 0)
	if page.Skip != 0 || page.Top != DefaultPageSize {
		t.Errorf("skip/top = %d/%d", page.Skip, page.Top)
	}
	page = q.ListLatest(nil, 0, MaxPageSize+1)
	if page.Top != MaxPageSize {
		t.Errorf("Top = %d, want %d", page.Top, MaxPageSize)
	}
}

func TestFilters(t *testing.T) {
	ix := seedIndex(t,
		[3]string{"Newtonsoft.Json", "13.0.1", "json serializer"},
		[3]string{"System.Text.Json", "8.0.0", "json"},
		[3]string{"Serilog", "3.0.0-beta", "logging"},
		[3]string{"NLog", "5.0.0", "logging"},
	)
	q := NewQuery(ix, 0)

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"prefix", IDPrefix("new"), []string{"Newtonsoft.Json@13.0.1"}},
		{"contains", IDContains("json"), []string{"Newtonsoft.Json@13.0.1", "System.Text.Json@8.0.0"}},
		{"tag", HasTag("LOGGING"), []string{"NLog@5.0.0", "Serilog@3.0.0-beta"}},
		{"search", SearchTerm("seri"), []string{"Newtonsoft.Json@13.0.1", "Serilog@3.0.0-beta"}},
		{"stable", And(HasTag("logging"), ExcludePrerelease()), []string{"NLog@5.0.0"}},
		{"empty search", SearchTerm(""), []string{"Newtonsoft.Json@13.0.1", "NLog@5.0.0", "Serilog@3.0.0-beta", "System.Text.Json@8.0.0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ids(q.ListLatest(tt.filter, 0, 100).Items)
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFindByID(t *testing.T) {
	q := NewQuery(seedIndex(t,
		[3]string{"Foo", "1.0.0", ""},
		[3]string{"Foo", "2.0.0", ""},
	), 0)

	latest, ok := q.FindByID("foo", "")
	if !ok || latest.Version != "2.0.0" {
		t.Errorf("FindByID latest = %v, %v", latest.Version, ok)
	}
	exact, ok := q.FindByID("FOO", "1.0")
	if !ok || exact.Version != "1.0.0" {
		t.Errorf("FindByID exact = %v, %v", exact.Version, ok)
	}
	if _, ok := q.FindByID("Foo", "3.0.0"); ok {
		t.Error("expected not found")
	}

	if got := ids(q.ListAllVersions("Foo")); fmt.Sprint(got) != "[Foo@1.0.0 Foo@2.0.0]" {
		t.Errorf("ListAllVersions = %v", got)
	}
	if len(q.All()) != 2 {
		t.Errorf("All returned %d", len(q.All()))
	}
}

func TestListLatestCached(t *testing.T) {
	ix := seedIndex(t, [3]string{"Foo", "1.0.0", ""})
	q := NewQuery(ix, 16)

	first := q.ListLatestCached("all", nil, 0, 10)
	if len(first.Items) != 1 {
		t.Fatalf("got %d items", len(first.Items))
	}
	if q.cache.Len() != 1 {
		t.Errorf("cache has %d entries, want 1", q.cache.Len())
	}

	again := q.ListLatestCached("all", nil, 0, 10)
	if again.Generation != first.Generation {
		t.Error("expected cached page")
	}

	if _, err := ix.Insert(nuget.Package{ID: "Bar", Version: "1.0.0"}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	after := q.ListLatestCached("all", nil, 0, 10)
	if len(after.Items) != 2 {
		t.Errorf("mutation not visible through cache: %v", ids(after.Items))
	}
}
