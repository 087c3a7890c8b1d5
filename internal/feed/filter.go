package feed

import (
	"strings"

	"github.com/git-pkgs/feed/internal/nuget"
)

// Filter selects descriptors. A nil Filter matches everything.
type Filter func(p nuget.Package) bool

// IDPrefix matches ids starting with prefix, ignoring case.
func IDPrefix(prefix string) Filter {
	prefix = strings.ToLower(prefix)
	return func(p nuget.Package) bool {
		return strings.HasPrefix(strings.ToLower(p.ID), prefix)
	}
}

// IDContains matches ids containing s, ignoring case.
func IDContains(s string) Filter {
	s = strings.ToLower(s)
	return func(p nuget.Package) bool {
		return strings.Contains(strings.ToLower(p.ID), s)
	}
}

// HasTag matches descriptors carrying tag, ignoring case.
func HasTag(tag string) Filter {
	return func(p nuget.Package) bool {
		for _, t := range p.TagList() {
			if strings.EqualFold(t, tag) {
				return true
			}
		}
		return false
	}
}

// SearchTerm matches term against id, title, description and tags.
func SearchTerm(term string) Filter {
	term = strings.ToLower(strings.TrimSpace(term))
	return func(p nuget.Package) bool {
		if term == "" {
			return true
		}
		for _, field := range []string{p.ID, p.Title, p.Description, p.Tags} {
			if strings.Contains(strings.ToLower(field), term) {
				return true
			}
		}
		return false
	}
}

// ExcludePrerelease drops prerelease versions.
func ExcludePrerelease() Filter {
	return func(p nuget.Package) bool {
		return !p.IsPrerelease
	}
}

// And matches when every non-nil filter matches.
func And(filters ...Filter) Filter {
	return func(p nuget.Package) bool {
		for _, f := range filters {
			if f != nil && !f(p) {
				return false
			}
		}
		return true
	}
}
