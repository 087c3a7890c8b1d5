package database

import (
	"database/sql"
	"strings"
	"time"

	"github.com/git-pkgs/feed/internal/nuget"
)

// Package is one row per package id. PackageKey is the lowercased id.
type Package struct {
	ID            int64          `db:"id" json:"id"`
	PackageKey    string         `db:"package_key" json:"package_key"`
	Name          string         `db:"name" json:"name"`
	PURL          string         `db:"purl" json:"purl"`
	LatestVersion sql.NullString `db:"latest_version" json:"latest_version,omitempty"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
}

// Version is the persisted form of a nuget.Package.
type Version struct {
	ID                       int64        `db:"id"`
	PURL                     string       `db:"purl"`
	PackageKey               string       `db:"package_key"`
	VersionKey               string       `db:"version_key"`
	Name                     string       `db:"name"`
	Version                  string       `db:"version"`
	NormalizedVersion        string       `db:"normalized_version"`
	Title                    string       `db:"title"`
	Authors                  string       `db:"authors"`
	Owners                   string       `db:"owners"`
	Description              string       `db:"description"`
	Summary                  string       `db:"summary"`
	ReleaseNotes             string       `db:"release_notes"`
	Language                 string       `db:"language"`
	Tags                     string       `db:"tags"`
	Copyright                string       `db:"copyright"`
	LicenseExpression        string       `db:"license_expression"`
	Dependencies             string       `db:"dependencies"`
	IconURL                  string       `db:"icon_url"`
	LicenseURL               string       `db:"license_url"`
	ProjectURL               string       `db:"project_url"`
	RequireLicenseAcceptance bool         `db:"require_license_acceptance"`
	IsPrerelease             bool         `db:"is_prerelease"`
	PackageHash              string       `db:"package_hash"`
	PackageHashAlgorithm     string       `db:"package_hash_algorithm"`
	PackageSize              int64        `db:"package_size"`
	DownloadURL              string       `db:"download_url"`
	StoragePath              string       `db:"storage_path"`
	LastUpdated              sql.NullTime `db:"last_updated"`
	Published                sql.NullTime `db:"published"`
	CreatedAt                time.Time    `db:"created_at"`
	UpdatedAt                time.Time    `db:"updated_at"`
}

type Vulnerability struct {
	ID           int64           `db:"id" json:"id"`
	VulnID       string          `db:"vuln_id" json:"vuln_id"`
	PackageKey   string          `db:"package_key" json:"package_key"`
	Severity     sql.NullString  `db:"severity" json:"severity,omitempty"`
	Summary      sql.NullString  `db:"summary" json:"summary,omitempty"`
	FixedVersion sql.NullString  `db:"fixed_version" json:"fixed_version,omitempty"`
	CVSSScore    sql.NullFloat64 `db:"cvss_score" json:"cvss_score,omitempty"`
	References   sql.NullString  `db:"references" json:"references,omitempty"`
	FetchedAt    sql.NullTime    `db:"fetched_at" json:"fetched_at,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// PackageKey returns the case-insensitive key for a package id.
func PackageKey(id string) string {
	return strings.ToLower(id)
}

// VersionFromPackage converts a descriptor into its row form.
func VersionFromPackage(p nuget.Package) (*Version, error) {
	v, err := nuget.ParseVersion(p.Version)
	if err != nil {
		return nil, err
	}
	return &Version{
		PURL:                     p.PURL(),
		PackageKey:               PackageKey(p.ID),
		VersionKey:               v.Key(),
		Name:                     p.ID,
		Version:                  p.Version,
		NormalizedVersion:        p.NormalizedVersion,
		Title:                    p.Title,
		Authors:                  p.Authors,
		Owners:                   p.Owners,
		Description:              p.Description,
		Summary:                  p.Summary,
		ReleaseNotes:             p.ReleaseNotes,
		Language:                 p.Language,
		Tags:                     p.Tags,
		Copyright:                p.Copyright,
		LicenseExpression:        p.LicenseExpression,
		Dependencies:             p.Dependencies,
		IconURL:                  p.IconURL,
		LicenseURL:               p.LicenseURL,
		ProjectURL:               p.ProjectURL,
		RequireLicenseAcceptance: p.RequireLicenseAcceptance,
		IsPrerelease:             p.IsPrerelease,
		PackageHash:              p.PackageHash,
		PackageHashAlgorithm:     p.PackageHashAlgorithm,
		PackageSize:              p.PackageSize,
		DownloadURL:              p.DownloadURL,
		StoragePath:              p.StoragePath,
		LastUpdated:              nullTime(p.LastUpdated),
		Published:                nullTime(p.Published),
	}, nil
}

// ToPackage converts a row back into a descriptor. Latest flags are left
// unset; the index maintains them.
func (v *Version) ToPackage() nuget.Package {
	return nuget.Package{
		ID:                       v.Name,
		Version:                  v.Version,
		NormalizedVersion:        v.NormalizedVersion,
		Title:                    v.Title,
		Authors:                  v.Authors,
		Owners:                   v.Owners,
		Description:              v.Description,
		Summary:                  v.Summary,
		ReleaseNotes:             v.ReleaseNotes,
		Language:                 v.Language,
		Tags:                     v.Tags,
		Copyright:                v.Copyright,
		LicenseExpression:        v.LicenseExpression,
		Dependencies:             v.Dependencies,
		IconURL:                  v.IconURL,
		LicenseURL:               v.LicenseURL,
		ProjectURL:               v.ProjectURL,
		RequireLicenseAcceptance: v.RequireLicenseAcceptance,
		IsPrerelease:             v.IsPrerelease,
		PackageHash:              v.PackageHash,
		PackageHashAlgorithm:     v.PackageHashAlgorithm,
		PackageSize:              v.PackageSize,
		LastUpdated:              v.LastUpdated.Time.UTC(),
		Published:                v.Published.Time.UTC(),
		DownloadURL:              v.DownloadURL,
		DownloadCount:            nuget.Untracked,
		Rating:                   nuget.Untracked,
		VersionRating:            nuget.Untracked,
		VersionDownloadCount:     nuget.Untracked,
		VersionRatingsCount:      nuget.Untracked,
		StoragePath:              v.StoragePath,
	}
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
