// Package nuspec reads package manifests (.nuspec) out of .nupkg archives.
package nuspec

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/git-pkgs/feed/internal/archive"
	"github.com/git-pkgs/feed/internal/nuget"
)

const maxManifestSize = 1 << 20

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

type document struct {
	XMLName  xml.Name `xml:"package"`
	Metadata metadata `xml:"metadata"`
}

type metadata struct {
	ID                       string       `xml:"id"`
	Version                  string       `xml:"version"`
	Title                    string       `xml:"title"`
	Authors                  string       `xml:"authors"`
	Owners                   string       `xml:"owners"`
	RequireLicenseAcceptance string       `xml:"requireLicenseAcceptance"`
	License                  license      `xml:"license"`
	LicenseURL               string       `xml:"licenseUrl"`
	ProjectURL               string       `xml:"projectUrl"`
	IconURL                  string       `xml:"iconUrl"`
	Description              string       `xml:"description"`
	Summary                  string       `xml:"summary"`
	ReleaseNotes             string       `xml:"releaseNotes"`
	Copyright                string       `xml:"copyright"`
	Language                 string       `xml:"language"`
	Tags                     string       `xml:"tags"`
	Dependencies             dependencies `xml:"dependencies"`
}

type license struct {
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

type dependencies struct {
	Dependencies []dependency      `xml:"dependency"`
	Groups       []dependencyGroup `xml:"group"`
}

type dependencyGroup struct {
	TargetFramework string       `xml:"targetFramework,attr"`
	Dependencies    []dependency `xml:"dependency"`
}

type dependency struct {
	ID      string `xml:"id,attr"`
	Version string `xml:"version,attr"`
}

// Reader implements nuget.ManifestReader for .nupkg archives.
type Reader struct{}

// ReadManifest reads the archive from r and parses its root .nuspec.
func (Reader) ReadManifest(name string, r io.Reader) (*nuget.Manifest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", nuget.ErrIO, name, err)
	}
	return FromBytes(name, data)
}

// ReadFile reads the manifest of the archive at path.
func ReadFile(path string) (*nuget.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", nuget.ErrIO, err)
	}
	return FromBytes(filepath.Base(path), data)
}

// FromBytes parses the manifest of an archive held in memory.
func FromBytes(name string, data []byte) (*nuget.Manifest, error) {
	ar, err := archive.OpenBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", nuget.ErrInvalidArchive, name, err)
	}
	defer func() { _ = ar.Close() }()

	files, err := ar.List()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", nuget.ErrInvalidArchive, name, err)
	}

	var manifestPath string
	for _, f := range files {
		if !f.IsDir && !strings.Contains(f.Path, "/") && strings.EqualFold(filepath.Ext(f.Path), ".nuspec") {
			manifestPath = f.Path
			break
		}
	}
	if manifestPath == "" {
		return nil, fmt.Errorf("%w: %s: no .nuspec at archive root", nuget.ErrInvalidArchive, name)
	}

	rc, err := ar.Extract(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", nuget.ErrInvalidArchive, name, err)
	}
	defer func() { _ = rc.Close() }()

	raw, err := io.ReadAll(io.LimitReader(rc, maxManifestSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: reading %s: %w", nuget.ErrInvalidArchive, name, manifestPath, err)
	}

	m, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", nuget.ErrInvalidArchive, name, err)
	}
	return m, nil
}

// Parse decodes .nuspec XML. Dependency groups are flattened in document
// order and repeated ids keep their first occurrence.
func Parse(raw []byte) (*nuget.Manifest, error) {
	raw = bytes.TrimPrefix(raw, utf8BOM)

	dec := xml.NewDecoder(bytes.NewReader(raw))
	dec.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		switch strings.ToLower(charset) {
		case "utf-8", "utf8", "us-ascii":
			return input, nil
		}
		return nil, fmt.Errorf("unsupported charset %q", charset)
	}

	var doc document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parsing nuspec: %w", err)
	}

	md := doc.Metadata
	m := &nuget.Manifest{
		ID:                       strings.TrimSpace(md.ID),
		Version:                  strings.TrimSpace(md.Version),
		Title:                    strings.TrimSpace(md.Title),
		Authors:                  splitList(md.Authors),
		Owners:                   splitList(md.Owners),
		RequireLicenseAcceptance: strings.EqualFold(strings.TrimSpace(md.RequireLicenseAcceptance), "true"),
		Description:              strings.TrimSpace(md.Description),
		Summary:                  strings.TrimSpace(md.Summary),
		ReleaseNotes:             strings.TrimSpace(md.ReleaseNotes),
		Language:                 strings.TrimSpace(md.Language),
		Tags:                     strings.TrimSpace(md.Tags),
		Copyright:                strings.TrimSpace(md.Copyright),
		IconURL:                  strings.TrimSpace(md.IconURL),
		LicenseURL:               strings.TrimSpace(md.LicenseURL),
		ProjectURL:               strings.TrimSpace(md.ProjectURL),
	}

	if strings.EqualFold(md.License.Type, "expression") {
		m.License = strings.TrimSpace(md.License.Value)
	}

	seen := make(map[string]bool)
	add := func(deps []dependency) {
		for _, d := range deps {
			id := strings.TrimSpace(d.ID)
			key := strings.ToLower(id)
			if id == "" || seen[key] {
				continue
			}
			seen[key] = true
			m.Dependencies = append(m.Dependencies, nuget.Dependency{
				ID:          id,
				VersionSpec: strings.TrimSpace(d.Version),
			})
		}
	}
	add(md.Dependencies.Dependencies)
	for _, g := range md.Dependencies.Groups {
		add(g.Dependencies)
	}

	return m, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
