package license

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Type int

const (
	TypeFree Type = iota
	TypeTrial
	TypePaid
	TypeCommunity
)

var typeNames = map[Type]string{
	TypeFree:      "FREE",
	TypeTrial:     "TRIAL",
	TypePaid:      "PAID",
	TypeCommunity: "COMMUNITY",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

func ParseType(s string) (Type, error) {
	for t, name := range typeNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return t, nil
		}
	}
	return TypeFree, fmt.Errorf("unknown license type %q", s)
}

var (
	// NeverExpires is the default expiration: the latest instant the model can hold.
	NeverExpires = time.UnixMilli(math.MaxInt64).UTC()

	// Unlimited is the default maximum number of active users.
	Unlimited int64 = math.MaxInt64
)

// InstanceID identifies a deployment a license can be restricted to.
// Equality is plain string equality.
type InstanceID string

// License is the read-only view shared by every license variant: *Unsigned, *Signed and
// the Unlicensed sentinel. Only *Unsigned can be mutated.
type License interface {
	ID() uuid.UUID
	Type() Type
	Features() []FeatureID
	Instances() []InstanceID
	ExpiresAt() time.Time
	MaxUsers() int64
	Licensee() map[string]string
	ApplicableTo(instance InstanceID) bool
	IsSigned() bool

	snapshot() *terms
}

type terms struct {
	id        uuid.UUID
	typ       Type
	features  map[FeatureID]struct{}
	instances map[InstanceID]struct{}
	expiresAt time.Time
	maxUsers  int64
	licensee  map[string]string
}

func defaultTerms() terms {
	return terms{
		typ:       TypeFree,
		features:  make(map[FeatureID]struct{}),
		instances: make(map[InstanceID]struct{}),
		expiresAt: NeverExpires,
		maxUsers:  Unlimited,
		licensee:  make(map[string]string),
	}
}

func (t *terms) clone() terms {
	c := *t
	c.features = maps.Clone(t.features)
	c.instances = maps.Clone(t.instances)
	c.licensee = maps.Clone(t.licensee)
	if c.features == nil {
		c.features = make(map[FeatureID]struct{})
	}
	if c.instances == nil {
		c.instances = make(map[InstanceID]struct{})
	}
	if c.licensee == nil {
		c.licensee = make(map[string]string)
	}
	return c
}

func (t *terms) snapshot() *terms { return t }

func (t *terms) Type() Type { return t.typ }

func (t *terms) ExpiresAt() time.Time { return t.expiresAt }

func (t *terms) MaxUsers() int64 { return t.maxUsers }

// Features returns the feature set sorted by name, then constraint.
func (t *terms) Features() []FeatureID {
	out := slices.Collect(maps.Keys(t.features))
	slices.SortFunc(out, CompareFeatureIDs)
	return out
}

func (t *terms) Instances() []InstanceID {
	out := slices.Collect(maps.Keys(t.instances))
	slices.Sort(out)
	return out
}

func (t *terms) Licensee() map[string]string {
	return maps.Clone(t.licensee)
}

func (t *terms) ApplicableTo(instance InstanceID) bool {
	if len(t.instances) == 0 {
		return true
	}
	_, ok := t.instances[instance]
	return ok
}

func (t *terms) hasRestrictions() bool {
	return len(t.instances) > 0 || !t.expiresAt.Equal(NeverExpires) || t.maxUsers != Unlimited
}

// Unsigned is a mutable license claim. Create it with NewUnsigned; it is not safe
// for concurrent mutation.
type Unsigned struct {
	terms
}

func NewUnsigned() *Unsigned {
	return &Unsigned{terms: defaultTerms()}
}

// ID returns the license identifier, generating a random one the first time it is
// observed if none was set.
func (u *Unsigned) ID() uuid.UUID {
	if u.id == uuid.Nil {
		u.id = uuid.New()
	}
	return u.id
}

func (u *Unsigned) IsSigned() bool { return false }

func (u *Unsigned) SetID(id uuid.UUID) *Unsigned {
	u.id = id
	return u
}

func (u *Unsigned) SetType(t Type) *Unsigned {
	u.typ = t
	return u
}

func (u *Unsigned) AddFeature(features ...FeatureID) *Unsigned {
	if u.features == nil {
		u.features = make(map[FeatureID]struct{})
	}
	for _, f := range features {
		u.features[f] = struct{}{}
	}
	return u
}

func (u *Unsigned) SetFeatures(features ...FeatureID) *Unsigned {
	u.features = make(map[FeatureID]struct{}, len(features))
	return u.AddFeature(features...)
}

func (u *Unsigned) AddInstance(instances ...InstanceID) *Unsigned {
	if u.instances == nil {
		u.instances = make(map[InstanceID]struct{})
	}
	for _, i := range instances {
		u.instances[i] = struct{}{}
	}
	return u
}

func (u *Unsigned) SetInstances(instances ...InstanceID) *Unsigned {
	u.instances = make(map[InstanceID]struct{}, len(instances))
	return u.AddInstance(instances...)
}

func (u *Unsigned) SetExpiresAt(at time.Time) *Unsigned {
	u.expiresAt = at
	return u
}

func (u *Unsigned) SetMaxUsers(n int64) *Unsigned {
	u.maxUsers = n
	return u
}

func (u *Unsigned) SetLicensee(attrs map[string]string) *Unsigned {
	u.licensee = maps.Clone(attrs)
	if u.licensee == nil {
		u.licensee = make(map[string]string)
	}
	return u
}

func (u *Unsigned) SetLicenseeAttr(key, value string) *Unsigned {
	if u.licensee == nil {
		u.licensee = make(map[string]string)
	}
	u.licensee[key] = value
	return u
}

func (u *Unsigned) String() string {
	return describe(u)
}

type sentinel struct {
	terms
}

func (s *sentinel) ID() uuid.UUID  { return uuid.Nil }
func (s *sentinel) IsSigned() bool { return false }
func (s *sentinel) String() string { return "UNLICENSED" }

// Unlicensed marks a component that is known to require a license but has none.
// It is already expired and allows zero users.
var Unlicensed License = &sentinel{terms: terms{
	typ:       TypeFree,
	features:  map[FeatureID]struct{}{},
	instances: map[InstanceID]struct{}{},
	expiresAt: time.UnixMilli(0).UTC(),
	maxUsers:  0,
	licensee:  map[string]string{},
}}

// HasRestrictions reports whether the license limits instances, expiration or users.
func HasRestrictions(l License) bool {
	return l.snapshot().hasRestrictions()
}

func IsUnlicensed(l License) bool {
	return l == Unlicensed
}

// CompareIDs orders identifiers by their canonical string form.
func CompareIDs(a, b uuid.UUID) int {
	return strings.Compare(a.String(), b.String())
}

// Equal compares two licenses by identifier, type, features, instances, expiration,
// user limit and licensee. Signed licenses additionally compare their raw bytes.
func Equal(a, b License) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.IsSigned() != b.IsSigned() {
		return false
	}
	if a.ID() != b.ID() {
		return false
	}
	ta, tb := a.snapshot(), b.snapshot()
	if ta.typ != tb.typ ||
		!ta.expiresAt.Equal(tb.expiresAt) ||
		ta.maxUsers != tb.maxUsers ||
		!maps.Equal(ta.features, tb.features) ||
		!maps.Equal(ta.instances, tb.instances) ||
		!maps.Equal(ta.licensee, tb.licensee) {
		return false
	}
	if sa, ok := a.(*Signed); ok {
		sb := b.(*Signed)
		return slices.Equal(sa.blob, sb.blob)
	}
	return true
}

func describe(l License) string {
	t := l.snapshot()
	return fmt.Sprintf("License{id=%s type=%s features=%d instances=%d signed=%t}",
		l.ID(), t.typ, len(t.features), len(t.instances), l.IsSigned())
}
