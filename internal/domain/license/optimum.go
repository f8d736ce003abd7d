package license

import "cmp"

// Optimum picks the winner between two licenses competing for the same target.
//
// The cascade is a fixed policy, checked in order until one step discriminates:
// a nil argument loses, signed beats unsigned, later expiration, more users,
// higher type rank, more features, more instances. When every step ties the
// first argument wins, so callers holding the current winner in a keep it.
func Optimum(a, b License) License {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if a.IsSigned() != b.IsSigned() {
		if a.IsSigned() {
			return a
		}
		return b
	}

	ta, tb := a.snapshot(), b.snapshot()
	steps := []int{
		ta.expiresAt.Compare(tb.expiresAt),
		cmp.Compare(ta.maxUsers, tb.maxUsers),
		cmp.Compare(ta.typ, tb.typ),
		cmp.Compare(len(ta.features), len(tb.features)),
		cmp.Compare(len(ta.instances), len(tb.instances)),
	}
	for _, c := range steps {
		switch {
		case c > 0:
			return a
		case c < 0:
			return b
		}
	}
	return a
}

// OptimumOf folds Optimum left to right. It returns nil for an empty input.
func OptimumOf(licenses []License) License {
	var best License
	for _, l := range licenses {
		best = Optimum(best, l)
	}
	return best
}
