package versioning

import (
	"strings"

	mm "github.com/Masterminds/semver/v3"

	"github.com/matzehuels/pkgrestore/pkg/errors"
)

// Range is a set of acceptable versions.
type Range struct {
	raw string

	// Interval form. A nil bound is open.
	min, max         *Version
	minIncl, maxIncl bool

	// Constraint form.
	c *mm.Constraints
}

// AnyRange accepts every version.
var AnyRange = Range{}

// ParseRange parses a range. See the package documentation for the syntax.
func ParseRange(raw string) (Range, error) {
	s := strings.TrimSpace(raw)
	if s == "" || s == "*" {
		return Range{raw: s}, nil
	}

	if s[0] == '[' || s[0] == '(' {
		return parseInterval(s)
	}

	if v, err := mm.StrictNewVersion(s); err == nil {
		return Range{raw: s, min: &Version{v: v}, minIncl: true}, nil
	}
	if v, err := mm.NewVersion(s); err == nil && !strings.ContainsAny(s, "<>=~^*xX|, ") {
		return Range{raw: s, min: &Version{v: v}, minIncl: true}, nil
	}

	c, err := mm.NewConstraint(s)
	if err != nil {
		return Range{}, errors.Wrap(errors.ErrCodeInvalidVersion, err, "parse range %q", raw)
	}
	return Range{raw: s, c: c}, nil
}

// MustParseRange is like ParseRange but panics on error.
func MustParseRange(raw string) Range {
	r, err := ParseRange(raw)
	if err != nil {
		panic(err)
	}
	return r
}

// ExactRange returns the range "[v]".
func ExactRange(v Version) Range {
	vv := v
	return Range{raw: "[" + v.String() + "]", min: &vv, max: &vv, minIncl: true, maxIncl: true}
}

// MinRange returns the range "v or newer".
func MinRange(v Version) Range {
	vv := v
	return Range{raw: v.String(), min: &vv, minIncl: true}
}

func parseInterval(s string) (Range, error) {
	last := s[len(s)-1]
	if last != ']' && last != ')' {
		return Range{}, errors.New(errors.ErrCodeInvalidVersion, "range %q: missing closing bracket", s)
	}
	r := Range{raw: s, minIncl: s[0] == '[', maxIncl: last == ']'}
	body := strings.TrimSpace(s[1 : len(s)-1])

	parts := strings.Split(body, ",")
	switch len(parts) {
	case 1:
		// "[1.0]" is an exact version; "(1.0)" is meaningless.
		if !r.minIncl || !r.maxIncl || body == "" {
			return Range{}, errors.New(errors.ErrCodeInvalidVersion, "range %q: single version must use []", s)
		}
		v, err := Parse(body)
		if err != nil {
			return Range{}, err
		}
		r.min, r.max = &v, &v
		return r, nil
	case 2:
	default:
		return Range{}, errors.New(errors.ErrCodeInvalidVersion, "range %q: too many commas", s)
	}

	if lo := strings.TrimSpace(parts[0]); lo != "" {
		v, err := Parse(lo)
		if err != nil {
			return Range{}, err
		}
		r.min = &v
	}
	if hi := strings.TrimSpace(parts[1]); hi != "" {
		v, err := Parse(hi)
		if err != nil {
			return Range{}, err
		}
		r.max = &v
	}
	if r.min == nil && r.max == nil {
		return Range{}, errors.New(errors.ErrCodeInvalidVersion, "range %q: no bounds", s)
	}
	if r.min != nil && r.max != nil && r.min.Compare(*r.max) > 0 {
		return Range{}, errors.New(errors.ErrCodeInvalidVersion, "range %q: lower bound above upper bound", s)
	}
	return r, nil
}

// IsAny reports whether r accepts every version.
func (r Range) IsAny() bool {
	return r.c == nil && r.min == nil && r.max == nil
}

// Satisfies reports whether v is inside r. The zero Version is never inside.
func (r Range) Satisfies(v Version) bool {
	if v.IsZero() {
		return false
	}
	if r.c != nil {
		return r.c.Check(v.v)
	}
	if r.min != nil {
		cmp := v.Compare(*r.min)
		if cmp < 0 || (cmp == 0 && !r.minIncl) {
			return false
		}
	}
	if r.max != nil {
		cmp := v.Compare(*r.max)
		if cmp > 0 || (cmp == 0 && !r.maxIncl) {
			return false
		}
	}
	return true
}

// FindBestMatch returns the highest version in candidates that satisfies r.
// If multiple versions are equal, the first encountered wins.
func (r Range) FindBestMatch(candidates []Version) (Version, bool) {
	var best Version
	found := false
	for _, candidate := range candidates {
		if !r.Satisfies(candidate) {
			continue
		}
		if !found || candidate.Compare(best) > 0 {
			best = candidate
			found = true
		}
	}
	return best, found
}

// MinVersion returns the lower bound of an interval range, if any.
func (r Range) MinVersion() (Version, bool) {
	if r.min == nil {
		return Version{}, false
	}
	return *r.min, true
}

// String returns the range as written.
func (r Range) String() string {
	if r.raw == "" {
		return "*"
	}
	return r.raw
}

// MarshalText implements encoding.TextMarshaler.
func (r Range) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Range) UnmarshalText(b []byte) error {
	parsed, err := ParseRange(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
