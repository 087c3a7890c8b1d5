// Package nuget holds the package descriptor model and the pure functions
// that derive it: version ordering, dependency encoding, archive hashing and
// download URL construction.
package nuget

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/git-pkgs/purl"
)

// Ecosystem is the purl type used for every package in the feed.
const Ecosystem = "nuget"

// Untracked is the value of every download and rating statistic. The feed
// does not track them.
const Untracked = -1

// Package is the descriptor served by the feed for one (id, version). It is
// immutable once built except for IsLatestVersion and IsAbsoluteLatestVersion,
// which the index maintains.
type Package struct {
	ID                       string    `json:"Id"`
	Version                  string    `json:"Version"`
	NormalizedVersion        string    `json:"NormalizedVersion"`
	Title                    string    `json:"Title"`
	Authors                  string    `json:"Authors"`
	Owners                   string    `json:"Owners"`
	Description              string    `json:"Description"`
	Summary                  string    `json:"Summary"`
	ReleaseNotes             string    `json:"ReleaseNotes"`
	Language                 string    `json:"Language"`
	Tags                     string    `json:"Tags"`
	Copyright                string    `json:"Copyright"`
	LicenseExpression        string    `json:"LicenseExpression"`
	Dependencies             string    `json:"Dependencies"`
	IconURL                  string    `json:"IconUrl"`
	LicenseURL               string    `json:"LicenseUrl"`
	ProjectURL               string    `json:"ProjectUrl"`
	RequireLicenseAcceptance bool      `json:"RequireLicenseAcceptance"`
	IsPrerelease             bool      `json:"IsPrerelease"`
	PackageHash              string    `json:"PackageHash"`
	PackageHashAlgorithm     string    `json:"PackageHashAlgorithm"`
	PackageSize              int64     `json:"PackageSize"`
	LastUpdated              time.Time `json:"LastUpdated"`
	Published                time.Time `json:"Published"`
	IsLatestVersion          bool      `json:"IsLatestVersion"`
	IsAbsoluteLatestVersion  bool      `json:"IsAbsoluteLatestVersion"`
	DownloadURL              string    `json:"DownloadUrl"`
	DownloadCount            int64     `json:"DownloadCount"`
	Rating                   float64   `json:"Rating"`
	VersionRating            float64   `json:"VersionRating"`
	VersionDownloadCount     int64     `json:"VersionDownloadCount"`
	VersionRatingsCount      int64     `json:"VersionRatingsCount"`

	// StoragePath locates the archive in blob storage.
	StoragePath string `json:"-"`
}

// MarshalJSON writes absent URLs as null.
func (p Package) MarshalJSON() ([]byte, error) {
	type plain Package
	return json.Marshal(struct {
		plain
		IconURL    *string `json:"IconUrl"`
		LicenseURL *string `json:"LicenseUrl"`
		ProjectURL *string `json:"ProjectUrl"`
	}{
		plain:      plain(p),
		IconURL:    nullable(p.IconURL),
		LicenseURL: nullable(p.LicenseURL),
		ProjectURL: nullable(p.ProjectURL),
	})
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// PURL returns the package URL for this version.
func (p Package) PURL() string {
	return purl.MakePURLString(Ecosystem, p.ID, p.Version)
}

// DependencyList decodes the Dependencies field.
func (p Package) DependencyList() []Dependency {
	return DecodeDependencies(p.Dependencies)
}

// TagList splits the space separated Tags field.
func (p Package) TagList() []string {
	return strings.Fields(p.Tags)
}

// SameVersion reports whether p and o describe the same (id, version).
func (p Package) SameVersion(o Package) bool {
	if !strings.EqualFold(p.ID, o.ID) {
		return false
	}
	return CompareVersions(p.Version, o.Version) == 0
}
