package nuget

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/git-pkgs/spdx"
)

// Timestamps are the filesystem times of an archive.
type Timestamps struct {
	LastWrite time.Time
	Created   time.Time
}

// Build assembles the descriptor for one archive. raw must yield the exact
// archive bytes; it is hashed but not retained. isLatest is a hint only, the
// index recomputes the flag on insert.
func Build(serverURL, relativeDownloadPath string, m *Manifest, raw io.Reader, ts Timestamps, isLatest bool) (Package, error) {
	if m == nil {
		return Package{}, fmt.Errorf("%w: no manifest", ErrInvalidArchive)
	}

	id := strings.TrimSpace(m.ID)
	if id == "" {
		return Package{}, fmt.Errorf("%w: manifest has no id", ErrInvalidArchive)
	}
	if !ValidID(id) {
		return Package{}, fmt.Errorf("%w: invalid package id %q", ErrInvalidArchive, id)
	}

	v, err := ParseVersion(m.Version)
	if err != nil {
		return Package{}, fmt.Errorf("%w: %s: %w", ErrInvalidArchive, id, err)
	}

	downloadURL, err := Resolve(serverURL, relativeDownloadPath)
	if err != nil {
		return Package{}, err
	}

	digest, size, err := ComputeHash(raw)
	if err != nil {
		return Package{}, err
	}

	return Package{
		ID:                       id,
		Version:                  v.String(),
		NormalizedVersion:        v.Normalized(),
		Title:                    m.Title,
		Authors:                  joinNames(m.Authors),
		Owners:                   joinNames(m.Owners),
		Description:              m.Description,
		Summary:                  m.Summary,
		ReleaseNotes:             m.ReleaseNotes,
		Language:                 m.Language,
		Tags:                     strings.TrimSpace(m.Tags),
		Copyright:                m.Copyright,
		LicenseExpression:        normalizeLicense(m.License),
		Dependencies:             EncodeDependencies(m.Dependencies),
		IconURL:                  StripURL(m.IconURL),
		LicenseURL:               StripURL(m.LicenseURL),
		ProjectURL:               StripURL(m.ProjectURL),
		RequireLicenseAcceptance: m.RequireLicenseAcceptance,
		IsPrerelease:             v.IsPrerelease(),
		PackageHash:              EncodeHash(digest),
		PackageHashAlgorithm:     HashAlgorithm,
		PackageSize:              size,
		LastUpdated:              ts.LastWrite.UTC(),
		Published:                ts.Created.UTC(),
		IsLatestVersion:          isLatest,
		IsAbsoluteLatestVersion:  isLatest,
		DownloadURL:              downloadURL,
		DownloadCount:            Untracked,
		Rating:                   Untracked,
		VersionRating:            Untracked,
		VersionDownloadCount:     Untracked,
		VersionRatingsCount:      Untracked,
	}, nil
}

func joinNames(names []string) string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return strings.Join(out, ", ")
}

func normalizeLicense(license string) string {
	license = strings.TrimSpace(license)
	if license == "" {
		return ""
	}
	if normalized, err := spdx.NormalizeExpressionLax(license); err == nil {
		return normalized
	}
	return license
}
