// Package storage holds what every license store backend shares: turning stored
// bytes into licenses and back.
package storage

import (
	"fmt"

	"github.com/makkenzo/license-engine/internal/codec"
	"github.com/makkenzo/license-engine/internal/domain/license"
	"github.com/makkenzo/license-engine/internal/ierr"
	"github.com/makkenzo/license-engine/internal/trust"
)

type Codec struct {
	verifier trust.LicenseVerifier
}

func NewCodec(verifier trust.LicenseVerifier) *Codec {
	return &Codec{verifier: verifier}
}

// Encode returns the bytes to persist: the original signed bytes for signed
// licenses, the XML document otherwise.
func (c *Codec) Encode(l license.License) ([]byte, error) {
	if s, ok := l.(*license.Signed); ok {
		return s.Blob(), nil
	}
	return codec.Encode(l)
}

// Decode sniffs content: an XML declaration means an unsigned document, anything
// else must verify as a signed blob.
func (c *Codec) Decode(content []byte) (license.License, error) {
	if codec.IsXML(content) {
		u, err := codec.Decode(content)
		if err != nil {
			return nil, err
		}
		return u, nil
	}
	if c.verifier == nil {
		return nil, fmt.Errorf("%w: signed license found but no verifier is configured", ierr.ErrAuthentication)
	}
	s, err := c.verifier.Verify(content)
	if err != nil {
		return nil, err
	}
	return s, nil
}
