package trust

import (
	"crypto/sha256"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/makkenzo/license-engine/internal/domain/license"
)

// CachedVerifier remembers successful verifications by blob digest for a short
// time. Rejections are never cached, and a hit whose chain is no longer valid
// at the current time is dropped and verified again.
type CachedVerifier struct {
	next  LicenseVerifier
	cache *expirable.LRU[[sha256.Size]byte, *license.Signed]
	now   func() time.Time
}

var _ LicenseVerifier = (*CachedVerifier)(nil)

type CacheOption func(*CachedVerifier)

// WithCacheClock sets the clock used to re-check cached chains.
func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *CachedVerifier) { c.now = now }
}

func NewCachedVerifier(next LicenseVerifier, size int, ttl time.Duration, opts ...CacheOption) *CachedVerifier {
	c := &CachedVerifier{
		next:  next,
		cache: expirable.NewLRU[[sha256.Size]byte, *license.Signed](size, nil, ttl),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *CachedVerifier) Verify(blob []byte) (*license.Signed, error) {
	key := sha256.Sum256(blob)
	if s, ok := c.cache.Get(key); ok {
		if chainValidAt(s, c.now()) {
			return s, nil
		}
		c.cache.Remove(key)
	}
	s, err := c.next.Verify(blob)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, s)
	return s, nil
}

func (c *CachedVerifier) Purge() {
	c.cache.Purge()
}

func chainValidAt(s *license.Signed, now time.Time) bool {
	for _, cert := range s.Chain() {
		if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
			return false
		}
	}
	return true
}
