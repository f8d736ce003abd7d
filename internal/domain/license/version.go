package license

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// Range is a version interval. A bare version "1.2" means "1.2 or later";
// interval notation "[1.0,2.0)" bounds both ends, and an empty upper bound is open.
type Range struct {
	min, max                   string
	minInclusive, maxInclusive bool
}

func ParseRange(expr string) (Range, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Range{}, nil
	}

	first, last := expr[0], expr[len(expr)-1]
	if first != '[' && first != '(' {
		v, ok := canonicalVersion(expr)
		if !ok {
			return Range{}, fmt.Errorf("invalid version %q", expr)
		}
		return Range{min: v, minInclusive: true}, nil
	}
	if last != ']' && last != ')' {
		return Range{}, fmt.Errorf("invalid version range %q: missing closing bracket", expr)
	}

	bounds := strings.Split(expr[1:len(expr)-1], ",")
	if len(bounds) != 2 {
		return Range{}, fmt.Errorf("invalid version range %q: expected two bounds", expr)
	}

	r := Range{minInclusive: first == '[', maxInclusive: last == ']'}
	if lo := strings.TrimSpace(bounds[0]); lo != "" {
		v, ok := canonicalVersion(lo)
		if !ok {
			return Range{}, fmt.Errorf("invalid lower bound %q", lo)
		}
		r.min = v
	}
	if hi := strings.TrimSpace(bounds[1]); hi != "" {
		v, ok := canonicalVersion(hi)
		if !ok {
			return Range{}, fmt.Errorf("invalid upper bound %q", hi)
		}
		r.max = v
	}
	if r.min != "" && r.max != "" && semver.Compare(r.min, r.max) > 0 {
		return Range{}, fmt.Errorf("invalid version range %q: lower bound above upper bound", expr)
	}
	return r, nil
}

func (r Range) Contains(version string) bool {
	if r.min == "" && r.max == "" {
		return true
	}
	v, ok := canonicalVersion(version)
	if !ok {
		return false
	}
	if r.min != "" {
		c := semver.Compare(v, r.min)
		if c < 0 || (c == 0 && !r.minInclusive) {
			return false
		}
	}
	if r.max != "" {
		c := semver.Compare(v, r.max)
		if c > 0 || (c == 0 && !r.maxInclusive) {
			return false
		}
	}
	return true
}

// canonicalVersion maps "1.2", "v1.2.3" or "1.2.3.qualifier" onto a semver string.
// Components past major.minor.patch are dropped.
func canonicalVersion(v string) (string, bool) {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	if v == "" {
		return "", false
	}
	if parts := strings.Split(v, "."); len(parts) > 3 {
		v = strings.Join(parts[:3], ".")
	}
	v = "v" + v
	if !semver.IsValid(v) {
		return "", false
	}
	return semver.Canonical(v), true
}
