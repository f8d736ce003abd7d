package license

import (
	"crypto/x509"
	"slices"

	"github.com/google/uuid"
)

// Signed is a license whose content came from a verified signature over a trusted
// certificate chain. It has no mutators.
type Signed struct {
	terms
	blob  []byte
	chain []*x509.Certificate
}

// NewSigned freezes a snapshot of u together with the signed bytes it was decoded from
// and the chain accepted during verification. Later changes to u do not affect the result.
func NewSigned(u *Unsigned, blob []byte, chain []*x509.Certificate) *Signed {
	u.ID()
	return &Signed{
		terms: u.clone(),
		blob:  slices.Clone(blob),
		chain: slices.Clone(chain),
	}
}

func (s *Signed) ID() uuid.UUID  { return s.id }
func (s *Signed) IsSigned() bool { return true }

// Blob returns a copy of the original signed bytes.
func (s *Signed) Blob() []byte { return slices.Clone(s.blob) }

// Chain returns the trusted certificate chain, root first.
func (s *Signed) Chain() []*x509.Certificate { return slices.Clone(s.chain) }

func (s *Signed) String() string { return describe(s) }
