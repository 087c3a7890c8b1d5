// Package nupkgtest builds small .nupkg archives for tests.
package nupkgtest

import (
	"archive/zip"
	"bytes"
	"fmt"
	"strings"
)

// Spec describes the archive to build.
type Spec struct {
	ID           string
	Version      string
	Authors      string
	Description  string
	Tags         string
	License      string
	ProjectURL   string
	Dependencies [][2]string
	Files        map[string]string
}

// Build returns the bytes of a .nupkg for s. It panics if the zip writer
// fails, which only happens on programming errors.
func Build(s Spec) []byte {
	if s.Authors == "" {
		s.Authors = "test"
	}
	if s.Description == "" {
		s.Description = s.ID + " test package"
	}

	var deps strings.Builder
	if len(s.Dependencies) > 0 {
		deps.WriteString("<dependencies><group targetFramework=\"net8.0\">")
		for _, d := range s.Dependencies {
			fmt.Fprintf(&deps, "<dependency id=%q version=%q />", d[0], d[1])
		}
		deps.WriteString("</group></dependencies>")
	}

	var license string
	if s.License != "" {
		license = fmt.Sprintf("<license type=\"expression\">%s</license>", s.License)
	}
	var project string
	if s.ProjectURL != "" {
		project = fmt.Sprintf("<projectUrl>%s</projectUrl>", s.ProjectURL)
	}

	nuspec := fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
<package xmlns="http://schemas.microsoft.com/packaging/2013/05/nuspec.xsd">
  <metadata>
    <id>%s</id>
    <version>%s</version>
    <authors>%s</authors>
    <description>%s</description>
    <tags>%s</tags>
    %s%s%s
  </metadata>
</package>`, s.ID, s.Version, s.Authors, s.Description, s.Tags, license, project, deps.String())

	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)
	write := func(name, content string) {
		f, err := w.Create(name)
		if err != nil {
			panic(err)
		}
		if _, err := f.Write([]byte(content)); err != nil {
			panic(err)
		}
	}

	write(s.ID+".nuspec", nuspec)
	write("[Content_Types].xml", `<?xml version="1.0"?><Types/>`)
	for name, content := range s.Files {
		write(name, content)
	}
	if err := w.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// Simple builds a package with only an id and version.
func Simple(id, version string) []byte {
	return Build(Spec{ID: id, Version: version})
}
