// Package trusttest builds throwaway certificate authorities and signed license
// envelopes for tests.
package trusttest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/makkenzo/license-engine/internal/trust"
)

type Authority struct {
	Cert   *x509.Certificate
	Key    *ecdsa.PrivateKey
	parent *Authority
}

// Validity spans one day either side of now.
func Validity() (time.Time, time.Time) {
	now := time.Now()
	return now.Add(-24 * time.Hour), now.Add(24 * time.Hour)
}

func NewRoot(t testing.TB, name string) *Authority {
	notBefore, notAfter := Validity()
	return NewRootValid(t, name, notBefore, notAfter)
}

func NewRootValid(t testing.TB, name string, notBefore, notAfter time.Time) *Authority {
	t.Helper()
	return create(t, nil, name, true, notBefore, notAfter)
}

func (a *Authority) Issue(t testing.TB, name string, isCA bool) *Authority {
	notBefore, notAfter := Validity()
	return a.IssueValid(t, name, isCA, notBefore, notAfter)
}

func (a *Authority) IssueValid(t testing.TB, name string, isCA bool, notBefore, notAfter time.Time) *Authority {
	t.Helper()
	return create(t, a, name, isCA, notBefore, notAfter)
}

// Chain returns the certificates from the root down to a, root first.
func (a *Authority) Chain() []*x509.Certificate {
	var chain []*x509.Certificate
	for cur := a; cur != nil; cur = cur.parent {
		chain = append([]*x509.Certificate{cur.Cert}, chain...)
	}
	return chain
}

func (a *Authority) Identity() trust.Identity {
	return trust.Identity{Signer: a.Key, Chain: a.Chain()}
}

// Sign wraps payload in an envelope signed by each authority in turn.
func Sign(t testing.TB, payload []byte, signers ...*Authority) []byte {
	t.Helper()
	ids := make([]trust.Identity, len(signers))
	for i, s := range signers {
		ids[i] = s.Identity()
	}
	blob, err := trust.Sign(payload, ids...)
	if err != nil {
		t.Fatalf("sign envelope: %v", err)
	}
	return blob
}

func create(t testing.TB, parent *Authority, name string, isCA bool, notBefore, notAfter time.Time) *Authority {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		t.Fatalf("generate serial: %v", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: name},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		BasicConstraintsValid: true,
		IsCA:                  isCA,
		KeyUsage:              x509.KeyUsageDigitalSignature,
	}
	if isCA {
		tmpl.KeyUsage |= x509.KeyUsageCertSign
	}

	issuerCert, issuerKey := tmpl, key
	if parent != nil {
		issuerCert, issuerKey = parent.Cert, parent.Key
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, issuerCert, &key.PublicKey, issuerKey)
	if err != nil {
		t.Fatalf("create certificate %s: %v", name, err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate %s: %v", name, err)
	}
	return &Authority{Cert: cert, Key: key, parent: parent}
}
