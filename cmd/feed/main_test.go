package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/git-pkgs/feed/internal/database"
	"github.com/git-pkgs/feed/internal/nuget"
)

func seededCatalog(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Create(filepath.Join(t.TempDir(), "feed.db"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	for _, v := range []struct{ id, version, latest string }{
		{"Foo", "1.10.0", "1.10.0"},
		{"Foo", "1.2.0", "1.10.0"},
		{"Foo", "2.0.0-beta", "1.10.0"},
		{"Bar", "0.1.0", "0.1.0"},
	} {
		pv := nuget.MustParseVersion(v.version)
		pkg := nuget.Package{
			ID:                   v.id,
			Version:              v.version,
			NormalizedVersion:    pv.Normalized(),
			IsPrerelease:         pv.IsPrerelease(),
			PackageHash:          "aGFzaA==",
			PackageHashAlgorithm: nuget.HashAlgorithm,
			PackageSize:          2048,
			LastUpdated:          time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			Published:            time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
			StoragePath:          "nuget/" + v.id + "/" + v.version + ".nupkg",
		}
		if _, err := db.SaveVersion(pkg, v.latest); err != nil {
			t.Fatalf("SaveVersion failed: %v", err)
		}
	}
	return db
}

func TestListPackages(t *testing.T) {
	db := seededCatalog(t)

	var buf bytes.Buffer
	if err := listPackages(&buf, db, false); err != nil {
		t.Fatalf("listPackages failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"ID", "Foo", "1.10.0", "Bar", "0.1.0"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	if err := listPackages(&buf, db, true); err != nil {
		t.Fatalf("listPackages failed: %v", err)
	}
	var pkgs []database.Package
	if err := json.Unmarshal(buf.Bytes(), &pkgs); err != nil {
		t.Fatalf("decoding JSON failed: %v", err)
	}
	if len(pkgs) != 2 {
		t.Errorf("expected 2 packages, got %d", len(pkgs))
	}
}

func TestListPackagesEmptyJSON(t *testing.T) {
	db, err := database.Create(filepath.Join(t.TempDir(), "feed.db"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer func() { _ = db.Close() }()

	var buf bytes.Buffer
	if err := listPackages(&buf, db, true); err != nil {
		t.Fatalf("listPackages failed: %v", err)
	}
	if got := strings.TrimSpace(buf.String()); got != "[]" {
		t.Errorf("output = %q, want []", got)
	}
}

func TestListVersions(t *testing.T) {
	db := seededCatalog(t)

	var buf bytes.Buffer
	if err := listVersions(&buf, db, "foo", true); err != nil {
		t.Fatalf("listVersions failed: %v", err)
	}
	var listing packageListing
	if err := json.Unmarshal(buf.Bytes(), &listing); err != nil {
		t.Fatalf("decoding JSON failed: %v", err)
	}
	if listing.ID != "Foo" || listing.Latest != "1.10.0" {
		t.Errorf("listing = %s %s", listing.ID, listing.Latest)
	}

	var got []string
	for _, v := range listing.Versions {
		got = append(got, v.Version)
	}
	want := []string{"1.2.0", "1.10.0", "2.0.0-beta"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("versions = %v, want %v", got, want)
	}

	buf.Reset()
	if err := listVersions(&buf, db, "Foo", false); err != nil {
		t.Fatalf("listVersions failed: %v", err)
	}
	for _, want := range []string{"1.10.0", "2.0 KB", "2024-02-01", "latest"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("output missing %q:\n%s", want, buf.String())
		}
	}
}

func TestListVersionsUnknown(t *testing.T) {
	db := seededCatalog(t)

	var buf bytes.Buffer
	err := listVersions(&buf, db, "Missing", false)
	if err == nil || !strings.Contains(err.Error(), "package not found") {
		t.Errorf("expected not found error, got %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("unexpected output: %q", buf.String())
	}
}
