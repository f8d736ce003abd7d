package service

import (
	"context"
	"fmt"

	"github.com/makkenzo/license-engine/internal/domain/license"
	"github.com/makkenzo/license-engine/internal/ierr"
	"go.uber.org/zap"
)

// Decoder turns raw license bytes into a license, verifying signed content.
type Decoder interface {
	Decode(content []byte) (license.License, error)
}

// LicenseService accepts licenses from outside the process and hands them to
// the manager.
type LicenseService struct {
	manager *LicenseManager
	decoder Decoder
	logger  *zap.Logger
}

func NewLicenseService(manager *LicenseManager, decoder Decoder, logger *zap.Logger) *LicenseService {
	return &LicenseService{
		manager: manager,
		decoder: decoder,
		logger:  logger.Named("LicenseService"),
	}
}

// Upload decodes content and adds the result to the index. The returned bool
// reports whether any feature changed hands. A persistence failure does not
// fail the upload: the license is live and the error is only logged.
func (s *LicenseService) Upload(ctx context.Context, content []byte) (license.License, bool, error) {
	if len(content) == 0 {
		return nil, false, fmt.Errorf("%w: empty license", ierr.ErrValidation)
	}

	l, err := s.decoder.Decode(content)
	if err != nil {
		s.logger.Warn("Rejected uploaded license", zap.Error(err))
		return nil, false, err
	}

	changed, err := s.manager.Add(ctx, l)
	if err != nil {
		s.logger.Warn("Uploaded license accepted but not persisted", zap.Stringer("id", l.ID()), zap.Error(err))
	}

	s.logger.Info("License uploaded",
		zap.Stringer("id", l.ID()),
		zap.Bool("signed", l.IsSigned()),
		zap.Bool("changed", changed),
	)
	return l, changed, nil
}

// Inspect decodes content without touching the index.
func (s *LicenseService) Inspect(content []byte) (license.License, error) {
	if len(content) == 0 {
		return nil, fmt.Errorf("%w: empty license", ierr.ErrValidation)
	}
	return s.decoder.Decode(content)
}
