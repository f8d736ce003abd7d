package postgres

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/makkenzo/license-engine/internal/domain/license"
	"github.com/makkenzo/license-engine/internal/ierr"
	"github.com/makkenzo/license-engine/internal/metrics"
	"github.com/makkenzo/license-engine/internal/storage"
	"go.uber.org/zap"
)

const schema = `
    CREATE TABLE IF NOT EXISTS license_blobs (
        id         UUID PRIMARY KEY,
        signed     BOOLEAN NOT NULL,
        content    BYTEA NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
    )
`

// LicenseStore keeps the persisted representation of each license in the
// license_blobs table.
type LicenseStore struct {
	db     *pgxpool.Pool
	codec  *storage.Codec
	logger *zap.Logger
}

func NewLicenseStore(db *pgxpool.Pool, codec *storage.Codec, logger *zap.Logger) *LicenseStore {
	return &LicenseStore{
		db:     db,
		codec:  codec,
		logger: logger.Named("PostgresLicenseStore"),
	}
}

var _ license.Store = (*LicenseStore)(nil)

func (s *LicenseStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create license_blobs table: %w", err)
	}
	return nil
}

func (s *LicenseStore) Store(ctx context.Context, l license.License) error {
	content, err := s.codec.Encode(l)
	if err != nil {
		return err
	}

	query := `
        INSERT INTO license_blobs (id, signed, content)
        VALUES ($1, $2, $3)
        ON CONFLICT (id) DO UPDATE SET
            signed = EXCLUDED.signed,
            content = EXCLUDED.content,
            updated_at = now()
    `
	if _, err := s.db.Exec(ctx, query, l.ID(), l.IsSigned(), content); err != nil {
		s.logFailure("store", l.ID(), err)
		return fmt.Errorf("%w: store license %s: %v", ierr.ErrStoreFailed, l.ID(), err)
	}
	return nil
}

func (s *LicenseStore) RetrieveAll(ctx context.Context) iter.Seq[license.License] {
	return func(yield func(license.License) bool) {
		rows, err := s.db.Query(ctx, `SELECT id, content FROM license_blobs ORDER BY id`)
		if err != nil {
			s.logFailure("list", uuid.Nil, err)
			metrics.StoreErrorsTotal.WithLabelValues("list").Inc()
			return
		}

		type entry struct {
			id      uuid.UUID
			content []byte
		}
		entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (entry, error) {
			var e entry
			err := row.Scan(&e.id, &e.content)
			return e, err
		})
		if err != nil {
			s.logFailure("scan", uuid.Nil, err)
			metrics.StoreErrorsTotal.WithLabelValues("list").Inc()
			return
		}

		for _, e := range entries {
			l, err := s.codec.Decode(e.content)
			if err != nil {
				s.logger.Warn("Skipping unreadable license row", zap.String("id", e.id.String()), zap.Error(err))
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
	cmdTag, err := s.db.Exec(ctx, `DELETE FROM license_blobs WHERE id = $1`, id)
	if err != nil {
		s.logFailure("delete", id, err)
		return fmt.Errorf("%w: delete license %s: %v", ierr.ErrStoreFailed, id, err)
	}
	if cmdTag.RowsAffected() == 0 {
		s.logger.Debug("Delete matched no license row", zap.String("id", id.String()))
	}
	return nil
}

func (s *LicenseStore) logFailure(op string, id uuid.UUID, err error) {
	fields := []zap.Field{zap.String("operation", op), zap.Error(err)}
	if id != uuid.Nil {
		fields = append(fields, zap.String("id", id.String()))
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		fields = append(fields, zap.String("sqlstate", pgErr.Code), zap.String("constraint", pgErr.ConstraintName))
	}
	s.logger.Error("License store query failed", fields...)
}
