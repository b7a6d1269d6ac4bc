// Package versioning provides package versions and version ranges.
//
// Versions are semantic versions parsed leniently ("1.0" is 1.0.0). Ranges
// accept three spellings:
//
//   - interval notation: "[1.0,2.0)", "(,3.0]", "[1.2.3]" (exact)
//   - a bare version, meaning "this version or newer": "1.0.0"
//   - any Masterminds constraint: "^1.2", "~1.4", ">=1.0 <2.0"
//
// An empty range or "*" accepts every version.
package versioning

import (
	mm "github.com/Masterminds/semver/v3"

	"github.com/matzehuels/pkgrestore/pkg/errors"
)

// Version is a semantic version.
//
// This is a thin wrapper around github.com/Masterminds/semver/v3. The zero
// Version is invalid and sorts below every parsed version.
type Version struct {
	v *mm.Version
}

// Parse parses a version string.
func Parse(raw string) (Version, error) {
	v, err := mm.NewVersion(raw)
	if err != nil {
		return Version{}, errors.Wrap(errors.ErrCodeInvalidVersion, err, "parse version %q", raw)
	}
	return Version{v: v}, nil
}

// MustParse is like Parse but panics on error. Intended for tests and constants.
func MustParse(raw string) Version {
	v, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return v
}

// IsZero reports whether v is the zero Version.
func (v Version) IsZero() bool { return v.v == nil }

// String returns the normalized form ("1.0" becomes "1.0.0"). Install paths
// are derived from it, so two spellings of one version share a directory.
func (v Version) String() string {
	if v.v == nil {
		return ""
	}
	return v.v.String()
}

// Compare compares v and o, returning -1, 0 or 1.
// Build metadata is ignored.
func (v Version) Compare(o Version) int {
	switch {
	case v.v == nil && o.v == nil:
		return 0
	case v.v == nil:
		return -1
	case o.v == nil:
		return 1
	}
	return v.v.Compare(o.v)
}

// Equal reports whether v and o denote the same version.
func (v Version) Equal(o Version) bool { return v.Compare(o) == 0 }

// IsPrerelease reports whether v carries a prerelease tag.
func (v Version) IsPrerelease() bool { return v.v != nil && v.v.Prerelease() != "" }

// MarshalText implements encoding.TextMarshaler.
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Version) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Max returns the highest of versions, or the zero Version when empty.
func Max(versions []Version) Version {
	var best Version
	for _, v := range versions {
		if v.Compare(best) > 0 {
			best = v
		}
	}
	return best
}
