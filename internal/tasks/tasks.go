package tasks

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TypeLicenseExpire = "license:expire:check"
	TypeLicenseGC     = "license:gc:unused"
)

type ExpireLicensePayload struct {
	Window time.Duration `json:"window"`
}

type PurgeUnusedPayload struct{}

func NewLicenseExpireTask(window time.Duration, opts ...asynq.Option) (*asynq.Task, error) {
	payloadBytes, err := json.Marshal(ExpireLicensePayload{Window: window})
	if err != nil {
		return nil, err
	}

	uniqueOpt := asynq.Unique(1 * time.Hour)
	allOpts := append(opts, uniqueOpt)

	return asynq.NewTask(TypeLicenseExpire, payloadBytes, allOpts...), nil
}

func NewPurgeUnusedTask(opts ...asynq.Option) (*asynq.Task, error) {
	payloadBytes, err := json.Marshal(PurgeUnusedPayload{})
	if err != nil {
		return nil, err
	}

	allOpts := append(opts, asynq.Unique(10*time.Minute), asynq.Queue("low"))

	return asynq.NewTask(TypeLicenseGC, payloadBytes, allOpts...), nil
}
