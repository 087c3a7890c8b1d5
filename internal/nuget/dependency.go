package nuget

import "strings"

const (
	dependencySeparator = "|"
	versionSeparator    = ":"
)

// Dependency is one declared package dependency. VersionSpec is kept verbatim
// and may be a range such as "[1.0,2.0)".
type Dependency struct {
	ID          string `json:"id"`
	VersionSpec string `json:"versionSpec"`
}

// EncodeDependencies serializes dependencies as "id:versionSpec" pairs joined
// by "|", preserving order.
func EncodeDependencies(deps []Dependency) string {
	if len(deps) == 0 {
		return ""
	}
	parts := make([]string, len(deps))
	for i, d := range deps {
		parts[i] = d.ID + versionSeparator + d.VersionSpec
	}
	return strings.Join(parts, dependencySeparator)
}

// DecodeDependencies parses the output of EncodeDependencies. Each pair is
// split at its first ":" since package ids cannot contain one.
func DecodeDependencies(s string) []Dependency {
	if s == "" {
		return nil
	}
	pairs := strings.Split(s, dependencySeparator)
	deps := make([]Dependency, 0, len(pairs))
	for _, pair := range pairs {
		if pair == "" {
			continue
		}
		id, spec, _ := strings.Cut(pair, versionSeparator)
		deps = append(deps, Dependency{ID: id, VersionSpec: spec})
	}
	return deps
}
