package trust

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// MaxEnvelopeSize bounds the signed blobs the envelope primitive accepts.
const MaxEnvelopeSize = 256 * 1024

const (
	AlgES256 = "ES256"
	AlgRS256 = "RS256"
	AlgEdDSA = "EdDSA"
)

// Envelope is the signed container: one payload, any number of signatures, each
// carrying its DER certificate chain root first.
type Envelope struct {
	PayloadB64 string              `json:"payload_b64"`
	Signatures []EnvelopeSignature `json:"signatures"`
}

type EnvelopeSignature struct {
	Alg      string   `json:"alg"`
	SigB64   string   `json:"sig_b64"`
	ChainB64 []string `json:"chain_b64"`
}

// EnvelopePrimitive verifies Envelope blobs. A signature counts as verified when it
// checks against the public key of the last chain certificate and every chain link
// is signed by the certificate before it.
type EnvelopePrimitive struct{}

var _ Primitive = EnvelopePrimitive{}

func (EnvelopePrimitive) Verify(blob []byte) ([]Signature, error) {
	if len(blob) > MaxEnvelopeSize {
		return nil, fmt.Errorf("envelope exceeds %d bytes", MaxEnvelopeSize)
	}

	var env Envelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}
	payload, err := base64.StdEncoding.DecodeString(env.PayloadB64)
	if err != nil {
		return nil, fmt.Errorf("malformed payload encoding: %w", err)
	}
	if len(env.Signatures) == 0 {
		return nil, errors.New("envelope carries no signatures")
	}

	out := make([]Signature, 0, len(env.Signatures))
	for i, es := range env.Signatures {
		sig, err := base64.StdEncoding.DecodeString(es.SigB64)
		if err != nil {
			return nil, fmt.Errorf("signature %d: malformed encoding: %w", i, err)
		}
		chain, err := parseChain(es.ChainB64)
		if err != nil {
			return nil, fmt.Errorf("signature %d: %w", i, err)
		}
		if !supportedAlg(es.Alg) {
			return nil, fmt.Errorf("signature %d: unsupported algorithm %q", i, es.Alg)
		}

		verified := len(chain) > 0 &&
			checkSignature(chain[len(chain)-1].PublicKey, es.Alg, payload, sig) == nil &&
			linked(chain)

		out = append(out, Signature{
			Verified: verified,
			Payload:  payload,
			Chain:    chain,
		})
	}
	return out, nil
}

// Identity signs envelopes with a key whose certificate ends Chain.
type Identity struct {
	Signer crypto.Signer
	Chain  []*x509.Certificate
}

// Sign wraps payload in an Envelope signed by every identity, in order.
func Sign(payload []byte, identities ...Identity) ([]byte, error) {
	if len(identities) == 0 {
		return nil, errors.New("at least one signing identity is required")
	}

	env := Envelope{PayloadB64: base64.StdEncoding.EncodeToString(payload)}
	for i, id := range identities {
		alg, sig, err := sign(id.Signer, payload)
		if err != nil {
			return nil, fmt.Errorf("identity %d: %w", i, err)
		}
		chain := make([]string, len(id.Chain))
		for j, cert := range id.Chain {
			chain[j] = base64.StdEncoding.EncodeToString(cert.Raw)
		}
		env.Signatures = append(env.Signatures, EnvelopeSignature{
			Alg:      alg,
			SigB64:   base64.StdEncoding.EncodeToString(sig),
			ChainB64: chain,
		})
	}
	return json.Marshal(env)
}

func sign(signer crypto.Signer, payload []byte) (string, []byte, error) {
	switch signer.Public().(type) {
	case *ecdsa.PublicKey:
		digest := sha256.Sum256(payload)
		sig, err := signer.Sign(rand.Reader, digest[:], crypto.SHA256)
		return AlgES256, sig, err
	case *rsa.PublicKey:
		digest := sha256.Sum256(payload)
		sig, err := signer.Sign(rand.Reader, digest[:], crypto.SHA256)
		return AlgRS256, sig, err
	case ed25519.PublicKey:
		sig, err := signer.Sign(rand.Reader, payload, crypto.Hash(0))
		return AlgEdDSA, sig, err
	default:
		return "", nil, fmt.Errorf("unsupported key type %T", signer.Public())
	}
}

func supportedAlg(alg string) bool {
	return alg == AlgES256 || alg == AlgRS256 || alg == AlgEdDSA
}

func checkSignature(pub any, alg string, payload, sig []byte) error {
	digest := sha256.Sum256(payload)
	switch alg {
	case AlgES256:
		key, ok := pub.(*ecdsa.PublicKey)
		if !ok || !ecdsa.VerifyASN1(key, digest[:], sig) {
			return errors.New("ecdsa verification failed")
		}
		return nil
	case AlgRS256:
		key, ok := pub.(*rsa.PublicKey)
		if !ok {
			return errors.New("leaf key is not RSA")
		}
		return rsa.VerifyPKCS1v15(key, crypto.SHA256, digest[:], sig)
	case AlgEdDSA:
		key, ok := pub.(ed25519.PublicKey)
		if !ok || !ed25519.Verify(key, payload, sig) {
			return errors.New("ed25519 verification failed")
		}
		return nil
	}
	return fmt.Errorf("unsupported algorithm %q", alg)
}

func parseChain(encoded []string) ([]*x509.Certificate, error) {
	chain := make([]*x509.Certificate, 0, len(encoded))
	for i, b64 := range encoded {
		der, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return nil, fmt.Errorf("certificate %d: malformed encoding: %w", i, err)
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("certificate %d: %w", i, err)
		}
		chain = append(chain, cert)
	}
	return chain, nil
}

func linked(chain []*x509.Certificate) bool {
	for i := 1; i < len(chain); i++ {
		if chain[i].CheckSignatureFrom(chain[i-1]) != nil {
			return false
		}
	}
	return true
}
