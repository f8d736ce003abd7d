package worker

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/makkenzo/license-engine/internal/config"
	"github.com/makkenzo/license-engine/internal/tasks"
	"go.uber.org/zap"
)

// Manager is the slice of the resolution index the background tasks need.
type Manager interface {
	tasks.ExpiryChecker
	tasks.Purger
}

type schedule struct {
	spec string
	task func() (*asynq.Task, error)
	name string
}

// RunWorkers serves the license maintenance tasks and registers their periodic
// schedules. It blocks until ctx is cancelled or the server or scheduler fails.
func RunWorkers(ctx context.Context, cfg *config.Config, manager Manager, logger *zap.Logger) error {
	redisConnOpts := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	srv := asynq.NewServer(
		redisConnOpts,
		asynq.Config{
			Concurrency: 2,
			Queues: map[string]int{
				"default": 3,
				"low":     1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log := logger.Named("AsynqServerErrorHandler")
				log.Error("Asynq task processing failed",
					zap.String("task_type", task.Type()),
					zap.ByteString("payload", task.Payload()),
					zap.Error(err),
				)
			}),
			Logger: NewAsynqLoggerAdapter(logger.Named("AsynqServer")),
		},
	)

	mux := NewServeMux(manager, logger)

	scheduler := asynq.NewScheduler(
		redisConnOpts,
		&asynq.SchedulerOpts{
			Logger: NewAsynqLoggerAdapter(logger.Named("AsynqScheduler")),
		},
	)

	window := cfg.Worker.ExpiryWindow
	schedules := []schedule{
		{
			spec: cfg.Worker.ExpireSchedule,
			task: func() (*asynq.Task, error) { return tasks.NewLicenseExpireTask(window) },
			name: tasks.TypeLicenseExpire,
		},
		{
			spec: cfg.Worker.GCSchedule,
			task: func() (*asynq.Task, error) { return tasks.NewPurgeUnusedTask() },
			name: tasks.TypeLicenseGC,
		},
	}
	for _, s := range schedules {
		if s.spec == "" {
			logger.Info("Periodic task disabled", zap.String("task", s.name))
			continue
		}
		task, err := s.task()
		if err != nil {
			return fmt.Errorf("scheduler task creation error: %w", err)
		}
		entryID, err := scheduler.Register(s.spec, task)
		if err != nil {
			return fmt.Errorf("scheduler registration error for %s: %w", s.name, err)
		}
		logger.Info("Registered periodic task",
			zap.String("task", s.name), zap.String("entry_id", entryID), zap.String("schedule", s.spec))
	}

	errChan := make(chan error, 2)

	logger.Info("Starting Asynq Server...")
	if err := srv.Start(mux); err != nil {
		return fmt.Errorf("asynq server error: %w", err)
	}

	go func() {
		logger.Info("Starting Asynq Scheduler...")
		if err := scheduler.Run(); err != nil {
			logger.Error("Asynq Scheduler run failed", zap.Error(err))
			errChan <- fmt.Errorf("asynq scheduler error: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errChan:
	}

	logger.Info("Shutting down Asynq Scheduler...")
	scheduler.Shutdown()
	logger.Info("Asynq Scheduler stopped.")

	logger.Info("Shutting down Asynq Server...")
	srv.Shutdown()
	logger.Info("Asynq Server stopped.")

	return runErr
}

// NewServeMux routes both maintenance task types to their handlers.
func NewServeMux(manager Manager, logger *zap.Logger) *asynq.ServeMux {
	mux := asynq.NewServeMux()

	expireHandler := tasks.NewLicenseExpireHandler(manager, logger)
	mux.HandleFunc(tasks.TypeLicenseExpire, expireHandler.ProcessTask)

	purgeHandler := tasks.NewPurgeUnusedHandler(manager, logger)
	mux.HandleFunc(tasks.TypeLicenseGC, purgeHandler.ProcessTask)

	return mux
}

type asynqLoggerAdapter struct {
	logger *zap.Logger
}

func NewAsynqLoggerAdapter(logger *zap.Logger) *asynqLoggerAdapter {
	return &asynqLoggerAdapter{logger: logger.WithOptions(zap.AddCallerSkip(1))}
}

func (l *asynqLoggerAdapter) Debug(args ...interface{}) {
	l.logger.Debug(fmt.Sprint(args...))
}
func (l *asynqLoggerAdapter) Info(args ...interface{}) {
	l.logger.Info(fmt.Sprint(args...))
}
func (l *asynqLoggerAdapter) Warn(args ...interface{}) {
	l.logger.Warn(fmt.Sprint(args...))
}
func (l *asynqLoggerAdapter) Error(args ...interface{}) {
	l.logger.Error(fmt.Sprint(args...))
}
func (l *asynqLoggerAdapter) Fatal(args ...interface{}) {
	l.logger.Fatal(fmt.Sprint(args...))
}

