package license_test

import (
	"testing"
	"time"

	"github.com/makkenzo/license-engine/internal/domain/license"
	"github.com/stretchr/testify/assert"
)

func at(sec int64) time.Time { return time.Unix(sec, 0).UTC() }

func paid(expires int64, users int64) *license.Unsigned {
	return license.NewUnsigned().
		SetType(license.TypePaid).
		SetExpiresAt(at(expires)).
		SetMaxUsers(users).
		AddFeature(license.MustFeatureID("f1", ""))
}

func TestOptimum_NilHandling(t *testing.T) {
	a := paid(200, 100)
	assert.Same(t, a, license.Optimum(nil, a))
	assert.Same(t, a, license.Optimum(a, nil))
}

func TestOptimum_TypeTieBreak(t *testing.T) {
	x := paid(200, 100)
	y := paid(200, 100).SetType(license.TypeTrial)

	assert.Same(t, x, license.Optimum(x, y))
	assert.Same(t, x, license.Optimum(y, x))
}

func TestOptimum_SignedAlwaysWins(t *testing.T) {
	weak := license.NewSigned(paid(10, 1).SetType(license.TypeFree), []byte("blob"), nil)
	strong := paid(1000, 1000)

	assert.Same(t, weak, license.Optimum(strong, weak))
	assert.Same(t, weak, license.Optimum(weak, strong))
}

func TestOptimum_Cascade(t *testing.T) {
	tests := []struct {
		name   string
		winner *license.Unsigned
		loser  *license.Unsigned
	}{
		{"later expiration", paid(300, 1), paid(200, 1000)},
		{"more users", paid(200, 101).SetType(license.TypeFree), paid(200, 100)},
		{"higher type", paid(200, 100).SetType(license.TypeCommunity), paid(200, 100)},
		{
			"more features",
			paid(200, 100).SetType(license.TypeTrial).AddFeature(license.MustFeatureID("f2", "")),
			paid(200, 100).SetType(license.TypeTrial),
		},
		{
			"more instances",
			paid(200, 100).AddInstance("a", "b"),
			paid(200, 100).AddInstance("a"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Same(t, tt.winner, license.Optimum(tt.winner, tt.loser))
			assert.Same(t, tt.winner, license.Optimum(tt.loser, tt.winner))
		})
	}
}

func TestOptimum_FullTieReturnsFirst(t *testing.T) {
	a := paid(200, 100)
	b := paid(200, 100)

	assert.Same(t, a, license.Optimum(a, b))
	assert.Same(t, b, license.Optimum(b, a))
}

func TestOptimumOf(t *testing.T) {
	assert.Nil(t, license.OptimumOf(nil))

	a := paid(100, 1)
	b := paid(300, 1)
	c := paid(200, 1)
	assert.Same(t, b, license.OptimumOf([]license.License{a, b, c}))
}
