// Package memstorage is a process-local license store, used when no durable
// backend is configured and in tests.
package memstorage

import (
	"context"
	"iter"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/makkenzo/license-engine/internal/domain/license"
	"github.com/makkenzo/license-engine/internal/metrics"
	"github.com/makkenzo/license-engine/internal/storage"
	"go.uber.org/zap"
)

type LicenseStore struct {
	mu      sync.RWMutex
	codec   *storage.Codec
	logger  *zap.Logger
	entries map[uuid.UUID][]byte
	order   []uuid.UUID
	failure error
}

var _ license.Store = (*LicenseStore)(nil)

func NewLicenseStore(codec *storage.Codec, logger *zap.Logger) *LicenseStore {
	return &LicenseStore{
		codec:   codec,
		logger:  logger.Named("MemoryStore"),
		entries: make(map[uuid.UUID][]byte),
	}
}

// FailWith makes every write and delete return err until called with nil.
func (s *LicenseStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failure = err
}

func (s *LicenseStore) Store(ctx context.Context, l license.License) error {
	content, err := s.codec.Encode(l)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return s.failure
	}
	if _, ok := s.entries[l.ID()]; !ok {
		s.order = append(s.order, l.ID())
	}
	s.entries[l.ID()] = content
	return nil
}

// Put stores raw content under id without encoding it.
func (s *LicenseStore) Put(id uuid.UUID, content []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		s.order = append(s.order, id)
	}
	s.entries[id] = slices.Clone(content)
}

func (s *LicenseStore) RetrieveAll(ctx context.Context) iter.Seq[license.License] {
	return func(yield func(license.License) bool) {
		s.mu.RLock()
		ids := slices.Clone(s.order)
		blobs := make([][]byte, 0, len(ids))
		for _, id := range ids {
			blobs = append(blobs, s.entries[id])
		}
		s.mu.RUnlock()

		for i, blob := range blobs {
			l, err := s.codec.Decode(blob)
			if err != nil {
				s.logger.Warn("Skipping unreadable license entry", zap.Stringer("key", ids[i]), zap.Error(err))
				metrics.StoreErrorsTotal.WithLabelValues("read").Inc()
				continue
			}
			if !yield(l) {
				return
			}
		}
	}
}

func (s *LicenseStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return s.failure
	}
	delete(s.entries, id)
	s.order = slices.DeleteFunc(s.order, func(other uuid.UUID) bool { return other == id })
	return nil
}

func (s *LicenseStore) Has(id uuid.UUID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[id]
	return ok
}

func (s *LicenseStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
