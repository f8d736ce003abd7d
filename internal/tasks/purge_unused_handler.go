package tasks

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

type Purger interface {
	PurgeUnused(ctx context.Context) []uuid.UUID
}

type PurgeUnusedHandler struct {
	manager Purger
	logger  *zap.Logger
}

func NewPurgeUnusedHandler(manager Purger, logger *zap.Logger) *PurgeUnusedHandler {
	return &PurgeUnusedHandler{
		manager: manager,
		logger:  logger.Named("PurgeUnusedHandler"),
	}
}

func (h *PurgeUnusedHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	if t.Type() != TypeLicenseGC {
		return fmt.Errorf("unexpected task type: %s", t.Type())
	}

	purged := h.manager.PurgeUnused(ctx)
	h.logger.Info("Unused license purge finished", zap.Int("purged", len(purged)))
	return nil
}
