package tasks_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/makkenzo/license-engine/internal/domain/license"
	"github.com/makkenzo/license-engine/internal/tasks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeManager struct {
	window   time.Duration
	expiring []license.License
	purged   []uuid.UUID
	purges   int
}

func (f *fakeManager) Expiring(window time.Duration) []license.License {
	f.window = window
	return f.expiring
}

func (f *fakeManager) PurgeUnused(context.Context) []uuid.UUID {
	f.purges++
	return f.purged
}

func TestNewLicenseExpireTask(t *testing.T) {
	task, err := tasks.NewLicenseExpireTask(48 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, tasks.TypeLicenseExpire, task.Type())

	var p tasks.ExpireLicensePayload
	require.NoError(t, json.Unmarshal(task.Payload(), &p))
	assert.Equal(t, 48*time.Hour, p.Window)
}

func TestLicenseExpireHandler(t *testing.T) {
	past := license.NewUnsigned().SetExpiresAt(time.Now().Add(-time.Hour))
	soon := license.NewUnsigned().SetExpiresAt(time.Now().Add(time.Hour))
	manager := &fakeManager{expiring: []license.License{past, soon}}

	task, err := tasks.NewLicenseExpireTask(24 * time.Hour)
	require.NoError(t, err)

	h := tasks.NewLicenseExpireHandler(manager, zap.NewNop())
	require.NoError(t, h.ProcessTask(context.Background(), task))
	assert.Equal(t, 24*time.Hour, manager.window)
}

func TestLicenseExpireHandler_RejectsForeignTasks(t *testing.T) {
	h := tasks.NewLicenseExpireHandler(&fakeManager{}, zap.NewNop())

	err := h.ProcessTask(context.Background(), asynq.NewTask("other", nil))
	assert.ErrorContains(t, err, "unexpected task type")

	err = h.ProcessTask(context.Background(), asynq.NewTask(tasks.TypeLicenseExpire, []byte("{")))
	assert.ErrorContains(t, err, "invalid payload")
}

func TestPurgeUnusedHandler(t *testing.T) {
	manager := &fakeManager{purged: []uuid.UUID{uuid.New()}}
	h := tasks.NewPurgeUnusedHandler(manager, zap.NewNop())

	task, err := tasks.NewPurgeUnusedTask()
	require.NoError(t, err)
	require.NoError(t, h.ProcessTask(context.Background(), task))
	assert.Equal(t, 1, manager.purges)

	assert.Error(t, h.ProcessTask(context.Background(), asynq.NewTask(tasks.TypeLicenseExpire, nil)))
	assert.Equal(t, 1, manager.purges)
}
