package trust

import (
	"crypto/x509"
	"fmt"
	"slices"
	"time"

	"github.com/makkenzo/license-engine/internal/codec"
	"github.com/makkenzo/license-engine/internal/domain/license"
	"github.com/makkenzo/license-engine/internal/ierr"
	"github.com/makkenzo/license-engine/internal/metrics"
	"go.uber.org/zap"
)

// Signature is one signer's result as reported by a Primitive.
type Signature struct {
	Verified bool
	Payload  []byte
	// Chain is ordered root first.
	Chain []*x509.Certificate
}

// Primitive cryptographically checks a signed blob. It fails only when the blob
// cannot be processed at all; bad signatures are reported through Verified.
type Primitive interface {
	Verify(blob []byte) ([]Signature, error)
}

// LicenseVerifier turns a signed blob into a trusted license.
type LicenseVerifier interface {
	Verify(blob []byte) (*license.Signed, error)
}

type Decoder func(payload []byte) (*license.Unsigned, error)

type Option func(*Verifier)

func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

func WithDecoder(d Decoder) Option {
	return func(v *Verifier) { v.decode = d }
}

type Verifier struct {
	primitive Primitive
	roots     []*x509.Certificate
	decode    Decoder
	now       func() time.Time
	logger    *zap.Logger
}

var _ LicenseVerifier = (*Verifier)(nil)

func NewVerifier(primitive Primitive, roots []*x509.Certificate, logger *zap.Logger, opts ...Option) *Verifier {
	v := &Verifier{
		primitive: primitive,
		roots:     slices.Clone(roots),
		decode:    codec.Decode,
		now:       time.Now,
		logger:    logger.Named("TrustVerifier"),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify accepts the first verified signature whose chain starts at a trusted root
// and whose certificates are all currently valid, then decodes its payload.
func (v *Verifier) Verify(blob []byte) (*license.Signed, error) {
	signatures, err := v.primitive.Verify(blob)
	if err != nil {
		metrics.VerificationsTotal.WithLabelValues(metrics.OutcomeMalformed).Inc()
		return nil, fmt.Errorf("%w: %v", ierr.ErrAuthentication, err)
	}

	now := v.now()
	var trusted *Signature
	for i := range signatures {
		sig := &signatures[i]
		if !sig.Verified {
			v.logger.Debug("Skipping unverified signature", zap.Int("index", i))
			continue
		}
		if reason := v.rejectChain(sig.Chain, now); reason != "" {
			v.logger.Debug("Skipping untrusted certificate chain", zap.Int("index", i), zap.String("reason", reason))
			continue
		}
		trusted = sig
		break
	}

	if trusted == nil {
		metrics.VerificationsTotal.WithLabelValues(metrics.OutcomeUntrusted).Inc()
		return nil, ierr.ErrUntrusted
	}

	decoded, err := v.decode(trusted.Payload)
	if err != nil {
		metrics.VerificationsTotal.WithLabelValues(metrics.OutcomeUndecodable).Inc()
		return nil, fmt.Errorf("%w: signed payload: %v", ierr.ErrDecoding, err)
	}

	metrics.VerificationsTotal.WithLabelValues(metrics.OutcomeTrusted).Inc()
	return license.NewSigned(decoded, blob, trusted.Chain), nil
}

func (v *Verifier) rejectChain(chain []*x509.Certificate, now time.Time) string {
	if len(chain) == 0 {
		return "empty chain"
	}
	if !v.isRoot(chain[0]) {
		return "chain does not start at a trusted root"
	}
	for _, cert := range chain {
		if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
			return fmt.Sprintf("certificate %q is outside its validity window", cert.Subject.CommonName)
		}
	}
	return ""
}

func (v *Verifier) isRoot(cert *x509.Certificate) bool {
	if cert == nil || !cert.IsCA {
		return false
	}
	return slices.ContainsFunc(v.roots, cert.Equal)
}
