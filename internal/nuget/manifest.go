package nuget

import (
	"io"
	"regexp"
)

// Manifest holds the fields declared in a package's .nuspec.
type Manifest struct {
	ID                       string
	Version                  string
	Title                    string
	Authors                  []string
	Owners                   []string
	RequireLicenseAcceptance bool
	Description              string
	Summary                  string
	ReleaseNotes             string
	Language                 string
	Tags                     string
	Copyright                string
	License                  string
	Dependencies             []Dependency
	IconURL                  string
	LicenseURL               string
	ProjectURL               string
}

// ManifestReader extracts a Manifest from a package archive. name is used
// only for error messages.
type ManifestReader interface {
	ReadManifest(name string, r io.Reader) (*Manifest, error)
}

var idPattern = regexp.MustCompile(`^\w+([_.-]\w+)*$`)

const maxIDLength = 100

// ValidID reports whether id is an acceptable package id.
func ValidID(id string) bool {
	return len(id) <= maxIDLength && idPattern.MatchString(id)
}
