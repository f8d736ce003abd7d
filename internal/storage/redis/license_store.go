package redis

import (
	"context"
	"fmt"
	"iter"

	"github.com/google/uuid"
	"github.com/makkenzo/license-engine/internal/domain/license"
	"github.com/makkenzo/license-engine/internal/ierr"
	"github.com/makkenzo/license-engine/internal/metrics"
	"github.com/makkenzo/license-engine/internal/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	DefaultKey = "licenses"
	scanBatch  = 64
)

// LicenseStore keeps every license as one field of a single Redis hash, keyed by id.
type LicenseStore struct {
	client *redis.Client
	key    string
	codec  *storage.Codec
	logger *zap.Logger
}

var _ license.Store = (*LicenseStore)(nil)

func NewLicenseStore(client *redis.Client, key string, codec *storage.Codec, logger *zap.Logger) *LicenseStore {
	if key == "" {
		key = DefaultKey
	}
	return &LicenseStore{
		client: client,
		key:    key,
		codec:  codec,
		logger: logger.Named("RedisLicenseStore"),
	}
}

func (s *LicenseStore) Store(ctx context.Context, l license.License) error {
	content, err := s.codec.Encode(l)
	if err != nil {
		return err
	}
	if err := s.client.HSet(ctx, s.key, l.ID().String(), content).Err(); err != nil {
		s.logger.Error("Failed to store license", zap.String("id", l.ID().String()), zap.Error(err))
		return fmt.Errorf("%w: store license %s: %v", ierr.ErrStoreFailed, l.ID(), err)
	}
	return nil
}

func (s *LicenseStore) RetrieveAll(ctx context.Context) iter.Seq[license.License] {
	return func(yield func(license.License) bool) {
		var cursor uint64
		for {
			pairs, next, err := s.client.HScan(ctx, s.key, cursor, "*", scanBatch).Result()
			if err != nil {
				s.logger.Error("Failed to scan license hash", zap.String("key", s.key), zap.Error(err))
				metrics.StoreErrorsTotal.WithLabelValues("list").Inc()
				return
			}
			for i := 0; i+1 < len(pairs); i += 2 {
				l, err := s.codec.Decode([]byte(pairs[i+1]))
				if err != nil {
					s.logger.Warn("Skipping unreadable license entry", zap.String("field", pairs[i]), zap.Error(err))
					metrics.StoreErrorsTotal.WithLabelValues("read").Inc()
					continue
				}
				if !yield(l) {
					return
				}
			}
			if next == 0 {
				return
			}
			cursor = next
		}
	}
}

func (s *LicenseStore) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.client.HDel(ctx, s.key, id.String()).Err(); err != nil {
		s.logger.Error("Failed to delete license", zap.String("id", id.String()), zap.Error(err))
		return fmt.Errorf("%w: delete license %s: %v", ierr.ErrStoreFailed, id, err)
	}
	return nil
}
