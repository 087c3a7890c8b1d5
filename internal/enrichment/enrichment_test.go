package enrichment

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/git-pkgs/feed/internal/database"
	"github.com/git-pkgs/feed/internal/nuget"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func TestNew(t *testing.T) {
	svc := New(testLogger())

	if svc == nil {
		t.Fatal("New() returned nil")
	}
	if svc.vulnSource == nil {
		t.Error("vulnSource is nil")
	}
	if svc.ttl != DefaultVulnTTL {
		t.Errorf("ttl = %v", svc.ttl)
	}
}

func TestIsOutdated(t *testing.T) {
	svc := New(testLogger())

	tests := []struct {
		current  string
		latest   string
		expected bool
	}{
		{"1.0.0", "2.0.0", true},
		{"2.0.0", "2.0.0", false},
		{"2.0.0", "1.0.0", false},
		{"1.0.0", "", false},
		{"", "2.0.0", false},
		{"1.2.3", "1.2.4", true},
		{"1.2.4", "1.2.3", false},
		{"1.0.0", "1.0.0.1", true},
		{"1.0.0.1", "1.0.0", false},
		{"1.0.0.0", "1.0.0", false},
		{"2.0.0-beta", "2.0.0", true},
		{"2.0.0-BETA", "2.0.0-beta", false},
		{"2.0.0-beta.2", "2.0.0-beta.10", true},
	}

	for _, tc := range tests {
		result := svc.IsOutdated(tc.current, tc.latest)
		if result != tc.expected {
			t.Errorf("IsOutdated(%q, %q) = %v, want %v", tc.current, tc.latest, result, tc.expected)
		}
	}
}

func TestCategorizeLicense(t *testing.T) {
	svc := New(testLogger())

	tests := []struct {
		license  string
		expected LicenseCategory
	}{
		{"MIT", LicensePermissive},
		{"Apache-2.0", LicensePermissive},
		{"BSD-3-Clause", LicensePermissive},
		{"GPL-3.0", LicenseCopyleft},
		{"AGPL-3.0", LicenseCopyleft},
		{"LGPL-2.1", LicenseCopyleft},
		{"", LicenseUnknown},
		{"Unknown", LicenseUnknown},
	}

	for _, tc := range tests {
		result := svc.CategorizeLicense(tc.license)
		if result != tc.expected {
			t.Errorf("CategorizeLicense(%q) = %v, want %v", tc.license, result, tc.expected)
		}
	}
}

func TestNormalizeLicense(t *testing.T) {
	svc := New(testLogger())

	tests := []struct {
		input    string
		expected string
	}{
		{"MIT", "MIT"},
		{"Apache 2", "Apache-2.0"},
		{"Apache-2.0", "Apache-2.0"},
		{"", ""},
	}

	for _, tc := range tests {
		result := svc.NormalizeLicense(tc.input)
		if result != tc.expected {
			t.Errorf("NormalizeLicense(%q) = %q, want %q", tc.input, result, tc.expected)
		}
	}
}

type memStore struct {
	synced map[string]time.Time
	rows   map[string][]database.Vulnerability
}

func (m *memStore) GetVulnerabilitiesForPackage(key string) ([]database.Vulnerability, error) {
	return m.rows[key], nil
}

func (m *memStore) UpsertVulnerability(v *database.Vulnerability) error {
	m.rows[v.PackageKey] = append(m.rows[v.PackageKey], *v)
	return nil
}

func (m *memStore) DeleteVulnerabilitiesForPackage(key string) error {
	delete(m.rows, key)
	return nil
}

func (m *memStore) GetVulnsSyncedAt(key string) (time.Time, error) {
	return m.synced[key], nil
}

func (m *memStore) SetVulnsSyncedAt(key string) error {
	m.synced[key] = time.Now()
	return nil
}

// cachedStore holds fresh answers for Foo 0.9.0 (before the advisories were
// introduced), 1.0.0, 1.1.0, 2.0.0 (fixed) and 3.0.0.
func cachedStore() *memStore {
	affected := []database.Vulnerability{
		{
			VulnID:       "GHSA-aaaa",
			Severity:     sql.NullString{String: "HIGH", Valid: true},
			FixedVersion: sql.NullString{String: "2.0.0", Valid: true},
			CVSSScore:    sql.NullFloat64{Float64: 7.5, Valid: true},
			References:   sql.NullString{String: "https://a.example\nhttps://b.example", Valid: true},
		},
		{
			VulnID:   "GHSA-bbbb",
			Severity: sql.NullString{String: "LOW", Valid: true},
		},
	}

	m := &memStore{synced: map[string]time.Time{}, rows: map[string][]database.Vulnerability{}}
	now := time.Now()
	for _, v := range []string{"0.9.0", "1.0.0", "1.1.0", "2.0.0", "3.0.0"} {
		m.synced["foo@"+v] = now
	}
	m.rows["foo@1.0.0"] = affected
	m.rows["foo@1.1.0"] = affected
	m.rows["foo@2.0.0"] = affected[1:]
	m.rows["foo@3.0.0"] = affected[1:]
	return m
}

func TestCheckVulnerabilitiesCached(t *testing.T) {
	svc := New(testLogger(), WithStore(cachedStore(), time.Hour))

	tests := []struct {
		version string
		want    []string
	}{
		{"0.9.0", nil},
		{"1.0", []string{"GHSA-aaaa", "GHSA-bbbb"}},
		{"1.0.0.0", []string{"GHSA-aaaa", "GHSA-bbbb"}},
		{"1.1.0", []string{"GHSA-aaaa", "GHSA-bbbb"}},
		{"2.0.0", []string{"GHSA-bbbb"}},
	}

	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			got, err := svc.CheckVulnerabilities(context.Background(), "Foo", tt.version)
			if err != nil {
				t.Fatalf("CheckVulnerabilities failed: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d vulns, want %d", len(got), len(tt.want))
			}
			for i, id := range tt.want {
				if got[i].ID != id {
					t.Errorf("vuln[%d] = %s, want %s", i, got[i].ID, id)
				}
			}
		})
	}
}

func TestCacheKey(t *testing.T) {
	tests := []struct {
		id, version string
		want        string
	}{
		{"Foo", "1.0", "foo@1.0.0"},
		{"FOO", "1.0.0.0", "foo@1.0.0"},
		{"Foo", "1.0.0-Beta", "foo@1.0.0-beta"},
		{"Foo", "1.2.3.4", "foo@1.2.3.4"},
		{"Foo", "not-a-version", "foo@not-a-version"},
	}
	for _, tt := range tests {
		if got := cacheKey(tt.id, tt.version); got != tt.want {
			t.Errorf("cacheKey(%q, %q) = %q, want %q", tt.id, tt.version, got, tt.want)
		}
	}
}

func TestFromRowReferences(t *testing.T) {
	info := fromRow(cachedStore().rows["foo@1.0.0"][0])
	if len(info.References) != 2 || info.References[1] != "https://b.example" {
		t.Errorf("References = %v", info.References)
	}
	if info.CVSSScore != 7.5 || info.Severity != "HIGH" {
		t.Errorf("info = %+v", info)
	}
}

type fixedLatest struct {
	version string
	err     error
}

func (f fixedLatest) Latest(ctx context.Context, id string) (string, error) {
	return f.version, f.err
}

func TestEnrich(t *testing.T) {
	svc := New(testLogger(),
		WithStore(cachedStore(), time.Hour),
		WithUpstream(fixedLatest{version: "2.0.0"}),
	)

	pkg := nuget.Package{ID: "Foo", Version: "1.1.0", LicenseExpression: "MIT"}
	res := svc.Enrich(context.Background(), pkg)

	if !strings.EqualFold(res.PURL, "pkg:nuget/foo@1.1.0") {
		t.Errorf("PURL = %q", res.PURL)
	}
	if res.LicenseCategory != LicensePermissive {
		t.Errorf("LicenseCategory = %v", res.LicenseCategory)
	}
	if res.LatestUpstream != "2.0.0" || !res.IsOutdated {
		t.Errorf("upstream = %q outdated=%v", res.LatestUpstream, res.IsOutdated)
	}
	if len(res.Vulnerabilities) != 2 {
		t.Errorf("got %d vulns", len(res.Vulnerabilities))
	}
}

func TestEnrichUpstreamFailure(t *testing.T) {
	svc := New(testLogger(),
		WithStore(cachedStore(), time.Hour),
		WithUpstream(fixedLatest{err: errors.New("down")}),
	)

	res := svc.Enrich(context.Background(), nuget.Package{ID: "Foo", Version: "3.0.0"})
	if res.LatestUpstream != "" || res.IsOutdated {
		t.Errorf("expected no upstream data, got %+v", res)
	}
	if res.LicenseCategory != LicenseUnknown {
		t.Errorf("LicenseCategory = %v", res.LicenseCategory)
	}
	if res.Vulnerabilities == nil {
		t.Error("Vulnerabilities should be an empty list, not nil")
	}
}
