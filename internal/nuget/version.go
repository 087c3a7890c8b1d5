package nuget

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hashicorp/go-version"
)

const maxVersionSegments = 4

// Version is a parsed package version. Ordering follows semantic version
// precedence over up to four numeric segments; build metadata is ignored and
// prerelease labels compare case-insensitively.
type Version struct {
	original   string
	normalized string
	prerelease string
	cmp        *version.Version
}

// ParseVersion parses a NuGet style version string such as "1.0",
// "2.1.0-beta.1" or "1.2.3.4".
func ParseVersion(s string) (Version, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Version{}, fmt.Errorf("%w: empty", ErrInvalidVersion)
	}
	if s[0] < '0' || s[0] > '9' {
		return Version{}, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
	}

	v, err := version.NewVersion(s)
	if err != nil {
		return Version{}, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
	}

	if pre := v.Prerelease(); pre != "" && !validPrerelease(s, pre) {
		return Version{}, fmt.Errorf("%w: %q has an invalid prerelease label", ErrInvalidVersion, s)
	}

	segments := v.Segments64()
	if len(segments) > maxVersionSegments {
		return Version{}, fmt.Errorf("%w: %q has more than %d segments", ErrInvalidVersion, s, maxVersionSegments)
	}

	// A zero revision is dropped so that 1.0.0.0 and 1.0.0 are the same version.
	n := 3
	if len(segments) == 4 && segments[3] != 0 {
		n = 4
	}

	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = strconv.FormatInt(segments[i], 10)
	}
	normalized := strings.Join(parts, ".")
	if pre := v.Prerelease(); pre != "" {
		normalized += "-" + pre
	}

	cmp, err := version.NewVersion(strings.ToLower(normalized))
	if err != nil {
		return Version{}, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
	}

	return Version{
		original:   s,
		normalized: normalized,
		prerelease: v.Prerelease(),
		cmp:        cmp,
	}, nil
}

// validPrerelease requires a label introduced by '-' whose dot-separated
// parts are non-empty alphanumerics or hyphens, and not only hyphens.
func validPrerelease(raw, pre string) bool {
	if !strings.Contains(raw, "-"+pre) || strings.Trim(pre, "-.") == "" {
		return false
	}
	for _, part := range strings.Split(pre, ".") {
		if part == "" {
			return false
		}
		for _, r := range part {
			if r != '-' && (r < '0' || r > '9') && (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
				return false
			}
		}
	}
	return true
}

// MustParseVersion is like ParseVersion but panics on error.
func MustParseVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

// String returns the version as it was declared.
func (v Version) String() string {
	return v.original
}

// Normalized returns the canonical form without build metadata and without a
// zero fourth segment.
func (v Version) Normalized() string {
	return v.normalized
}

// Key is the identity used for equality: two versions with the same key are
// the same version.
func (v Version) Key() string {
	return strings.ToLower(v.normalized)
}

func (v Version) IsPrerelease() bool {
	return v.prerelease != ""
}

// Compare returns -1, 0 or 1.
func (v Version) Compare(o Version) int {
	if v.cmp == nil || o.cmp == nil {
		return strings.Compare(v.Key(), o.Key())
	}
	return v.cmp.Compare(o.cmp)
}

func (v Version) Equal(o Version) bool {
	return v.Key() == o.Key()
}

// CompareVersions parses and compares two version strings. Unparsable
// versions sort before parsable ones and compare to each other lexically.
func CompareVersions(a, b string) int {
	va, errA := ParseVersion(a)
	vb, errB := ParseVersion(b)
	switch {
	case errA != nil && errB != nil:
		return strings.Compare(strings.ToLower(a), strings.ToLower(b))
	case errA != nil:
		return -1
	case errB != nil:
		return 1
	}
	return va.Compare(vb)
}
