// Package badgerstore persists licenses in an embedded Badger key-value store.
package badgerstore

import (
	"context"
	"fmt"
	"iter"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/makkenzo/license-engine/internal/domain/license"
	"github.com/makkenzo/license-engine/internal/ierr"
	"github.com/makkenzo/license-engine/internal/metrics"
	"github.com/makkenzo/license-engine/internal/storage"
	"go.uber.org/zap"
)

var keyPrefix = []byte("license/")

type Store struct {
	db     *badger.DB
	codec  *storage.Codec
	logger *zap.Logger
}

var _ license.Store = (*Store)(nil)

// Open opens the database at path, or an in-memory database when path is empty.
func Open(path string, codec *storage.Codec, logger *zap.Logger) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store: %w", err)
	}
	return &Store{
		db:     db,
		codec:  codec,
		logger: logger.Named("BadgerLicenseStore"),
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Store(ctx context.Context, l license.License) error {
	content, err := s.codec.Encode(l)
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(l.ID()), content)
	})
	if err != nil {
		s.logger.Error("Failed to store license", zap.String("id", l.ID().String()), zap.Error(err))
		return fmt.Errorf("%w: store license %s: %v", ierr.ErrStoreFailed, l.ID(), err)
	}
	return nil
}

func (s *Store) RetrieveAll(ctx context.Context) iter.Seq[license.License] {
	return func(yield func(license.License) bool) {
		var blobs [][]byte
		err := s.db.View(func(txn *badger.Txn) error {
			it := txn.NewIterator(badger.DefaultIteratorOptions)
			defer it.Close()
			for it.Seek(keyPrefix); it.ValidForPrefix(keyPrefix); it.Next() {
				value, err := it.Item().ValueCopy(nil)
				if err != nil {
					return err
				}
				blobs = append(blobs, value)
			}
			return nil
		})
		if err != nil {
			s.logger.Error("Failed to iterate licenses", zap.Error(err))
			metrics.StoreErrorsTotal.WithLabelValues("list").Inc()
			return
		}

		for _, blob := range blobs {
			if ctx.Err() != nil {
				return
			}
			l, err := s.codec.Decode(blob)
			if err != nil {
				s.logger.Warn("Skipping unreadable license entry", zap.Error(err))
				metrics.StoreErrorsTotal.WithLabelValues("read").Inc()
				continue
			}
			if !yield(l) {
				return
			}
		}
	}
}

func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(id))
	})
	if err != nil {
		s.logger.Error("Failed to delete license", zap.String("id", id.String()), zap.Error(err))
		return fmt.Errorf("%w: delete license %s: %v", ierr.ErrStoreFailed, id, err)
	}
	return nil
}

func key(id uuid.UUID) []byte {
	return append(append([]byte{}, keyPrefix...), id.String()...)
}
