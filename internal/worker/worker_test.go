package worker_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/makkenzo/license-engine/internal/domain/license"
	"github.com/makkenzo/license-engine/internal/tasks"
	"github.com/makkenzo/license-engine/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeManager struct {
	window time.Duration
	purges int
}

func (f *fakeManager) Expiring(window time.Duration) []license.License {
	f.window = window
	return nil
}

func (f *fakeManager) PurgeUnused(context.Context) []uuid.UUID {
	f.purges++
	return nil
}

func TestServeMuxRoutesMaintenanceTasks(t *testing.T) {
	m := &fakeManager{}
	mux := worker.NewServeMux(m, zap.NewNop())
	ctx := context.Background()

	expire, err := tasks.NewLicenseExpireTask(48 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, mux.ProcessTask(ctx, expire))
	assert.Equal(t, 48*time.Hour, m.window)

	purge, err := tasks.NewPurgeUnusedTask()
	require.NoError(t, err)
	require.NoError(t, mux.ProcessTask(ctx, purge))
	assert.Equal(t, 1, m.purges)

	assert.Error(t, mux.ProcessTask(ctx, asynq.NewTask("license:unknown", nil)))
}
