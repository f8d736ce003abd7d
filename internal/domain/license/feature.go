package license

import (
	"cmp"
	"fmt"
	"strings"
)

// FeatureID names a licensable feature and an optional version constraint.
// An empty Constraint matches any version.
type FeatureID struct {
	Name       string
	Constraint string
}

func NewFeatureID(name, constraint string) (FeatureID, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return FeatureID{}, fmt.Errorf("feature name is empty")
	}
	constraint = strings.TrimSpace(constraint)
	if constraint != "" {
		if _, err := ParseRange(constraint); err != nil {
			return FeatureID{}, fmt.Errorf("feature %q: %w", name, err)
		}
	}
	return FeatureID{Name: name, Constraint: constraint}, nil
}

func MustFeatureID(name, constraint string) FeatureID {
	f, err := NewFeatureID(name, constraint)
	if err != nil {
		panic(err)
	}
	return f
}

// Compatible reports whether the concrete (name, version) pair satisfies the identifier.
func (f FeatureID) Compatible(name, version string) bool {
	if f.Name != name {
		return false
	}
	if f.Constraint == "" {
		return true
	}
	r, err := ParseRange(f.Constraint)
	if err != nil {
		return false
	}
	return r.Contains(version)
}

func (f FeatureID) String() string {
	if f.Constraint == "" {
		return f.Name
	}
	return f.Name + "@" + f.Constraint
}

// CompareFeatureIDs orders identifiers by name, then constraint.
func CompareFeatureIDs(a, b FeatureID) int {
	if c := cmp.Compare(a.Name, b.Name); c != 0 {
		return c
	}
	return cmp.Compare(a.Constraint, b.Constraint)
}
