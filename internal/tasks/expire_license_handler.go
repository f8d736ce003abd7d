package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/makkenzo/license-engine/internal/domain/license"
	"github.com/makkenzo/license-engine/internal/metrics"
	"go.uber.org/zap"
)

type ExpiryChecker interface {
	Expiring(window time.Duration) []license.License
}

type LicenseExpireHandler struct {
	manager ExpiryChecker
	logger  *zap.Logger
	now     func() time.Time
}

func NewLicenseExpireHandler(manager ExpiryChecker, logger *zap.Logger) *LicenseExpireHandler {
	return &LicenseExpireHandler{
		manager: manager,
		logger:  logger.Named("LicenseExpireHandler"),
		now:     time.Now,
	}
}

// ProcessTask reports active licenses that are expired or about to expire.
// Expired licenses stay in the index: expiry is reported, not enforced.
func (h *LicenseExpireHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	if t.Type() != TypeLicenseExpire {
		return fmt.Errorf("unexpected task type: %s", t.Type())
	}

	var p ExpireLicensePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		h.logger.Error("Failed to unmarshal payload for license expiration task", zap.Error(err), zap.ByteString("payload", t.Payload()))
		return fmt.Errorf("invalid payload: %v", err)
	}

	h.logger.Info("Processing license expiration check task...", zap.Duration("window", p.Window))

	now := h.now().UTC()
	expiring := h.manager.Expiring(p.Window)
	expired := 0
	for _, lic := range expiring {
		fields := []zap.Field{
			zap.String("license_id", lic.ID().String()),
			zap.Stringer("type", lic.Type()),
			zap.Time("expires_at", lic.ExpiresAt()),
		}
		if lic.ExpiresAt().Before(now) {
			expired++
			h.logger.Warn("Active license has expired", fields...)
		} else {
			h.logger.Info("Active license expires soon", fields...)
		}
	}
	metrics.ExpiringLicenses.Set(float64(len(expiring)))

	h.logger.Info("License expiration check task finished", zap.Int("expiring", len(expiring)), zap.Int("expired", expired))
	return nil
}
