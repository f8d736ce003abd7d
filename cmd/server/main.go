package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/makkenzo/license-engine/internal/config"
	"github.com/makkenzo/license-engine/internal/domain/license"
	"github.com/makkenzo/license-engine/internal/handler"
	"github.com/makkenzo/license-engine/internal/notify"
	"github.com/makkenzo/license-engine/internal/registry"
	"github.com/makkenzo/license-engine/internal/service"
	"github.com/makkenzo/license-engine/internal/storage"
	"github.com/makkenzo/license-engine/internal/storage/badgerstore"
	"github.com/makkenzo/license-engine/internal/storage/filestore"
	"github.com/makkenzo/license-engine/internal/storage/memstorage"
	"github.com/makkenzo/license-engine/internal/storage/postgres"
	"github.com/makkenzo/license-engine/internal/storage/redis"
	"github.com/makkenzo/license-engine/internal/trust"
	"github.com/makkenzo/license-engine/internal/worker"
	"github.com/makkenzo/license-engine/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "./configs/config.dev.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger, err := logger.NewZapLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer appLogger.Sync()

	sugarLogger := appLogger.Sugar()

	sugarLogger.Info("Starting license engine...")
	sugarLogger.Infof("Log level set to: %s", cfg.Log.Level)

	appCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	verifier, err := newVerifier(cfg, appLogger)
	if err != nil {
		sugarLogger.Fatalf("Failed to set up license verification: %v", err)
	}
	codec := storage.NewCodec(verifier)

	deps, err := openStore(appCtx, cfg, codec, appLogger)
	if err != nil {
		sugarLogger.Fatalf("Failed to open license store: %v", err)
	}
	defer deps.close()

	reg, err := loadRegistry(cfg.Registry.File, appLogger)
	if err != nil {
		sugarLogger.Fatalf("Failed to load component registry: %v", err)
	}

	notifier, closeNotifier, err := notify.Connect(cfg.NATS.URL, "license-engine", cfg.NATS.Subject, appLogger)
	if err != nil {
		sugarLogger.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer closeNotifier()

	manager := service.NewLicenseManager(deps.store, reg, license.InstanceID(cfg.Instance.ID), appLogger,
		service.WithNotifier(notifier))
	if err := manager.Init(appCtx); err != nil {
		sugarLogger.Fatalf("Failed to initialize license index: %v", err)
	}

	licenseService := service.NewLicenseService(manager, codec, appLogger)

	router := handler.NewRouter(handler.Handlers{
		Health:     handler.NewHealthHandler(deps.checks, manager.Initialized, appLogger),
		Licenses:   handler.NewLicenseHandler(licenseService, manager, appLogger),
		Components: handler.NewComponentHandler(manager, reg, appLogger),
		Dashboard:  handler.NewDashboardHandler(manager, cfg.Worker.ExpiryWindow, appLogger),
	}, handler.RouterConfig{
		APIKeyHash:  cfg.Server.APIKeyHash,
		CORSOrigins: cfg.Server.CORSOrigins,
	}, appLogger)

	if cfg.Server.APIKeyHash == "" {
		sugarLogger.Warn("No API key hash configured, mutating endpoints will reject every request")
	}

	g, groupCtx := errgroup.WithContext(appCtx)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g.Go(func() error {
		sugarLogger.Infof("HTTP server listening on port %s", cfg.Server.Port)

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugarLogger.Errorf("HTTP server ListenAndServe error: %v", err)
			return fmt.Errorf("http server failed: %w", err)
		}
		sugarLogger.Info("HTTP server stopped listening.")
		return nil
	})

	g.Go(func() error {
		<-groupCtx.Done()
		sugarLogger.Info("Shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownPeriod)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			sugarLogger.Errorf("HTTP server graceful shutdown failed: %v", err)
			return fmt.Errorf("http server shutdown error: %w", err)
		}
		sugarLogger.Info("HTTP server shutdown complete.")
		return nil
	})

	if cfg.Worker.Enabled {
		g.Go(func() error {
			if err := worker.RunWorkers(groupCtx, cfg, manager, appLogger); err != nil {
				sugarLogger.Error("Asynq worker failed", zap.Error(err))
				return fmt.Errorf("asynq worker error: %w", err)
			}
			sugarLogger.Info("Asynq workers finished gracefully.")
			return nil
		})
	}

	if dir, ok := deps.store.(*filestore.Directory); ok && cfg.Store.Watch {
		watcher := filestore.NewWatcher(dir, manager, cfg.Store.PollInterval, appLogger)
		g.Go(func() error {
			sugarLogger.Infof("Watching %s for new licenses", dir.Path())
			return watcher.Run(groupCtx)
		})
	}

	sugarLogger.Info("Application started. Waiting for interrupt signal (Ctrl+C) or component error...")

	waitErr := g.Wait()

	sugarLogger.Info("Shutdown sequence finished.")

	if waitErr != nil {
		if errors.Is(waitErr, context.Canceled) {
			sugarLogger.Info("Shutdown reason: Context canceled (likely due to OS signal).")
		} else {
			sugarLogger.Errorf("Application shutdown finished with unexpected error: %v", waitErr)
		}
	} else {
		sugarLogger.Info("Application shutdown successfully (all components finished without errors).")
	}

	sugarLogger.Info("Application exiting now.")
}

// newVerifier returns nil when no trust roots are configured; signed licenses
// are then rejected.
func newVerifier(cfg *config.Config, logger *zap.Logger) (trust.LicenseVerifier, error) {
	if cfg.Trust.RootsFile == "" {
		logger.Warn("No trust roots configured, only unsigned licenses will be accepted")
		return nil, nil
	}

	roots, err := trust.LoadRoots(cfg.Trust.RootsFile)
	if err != nil {
		return nil, err
	}
	logger.Info("Loaded trust roots", zap.Int("count", len(roots)), zap.String("file", cfg.Trust.RootsFile))

	verifier := trust.NewVerifier(trust.EnvelopePrimitive{}, roots, logger)
	if cfg.Trust.CacheSize == 0 {
		return verifier, nil
	}
	return trust.NewCachedVerifier(verifier, cfg.Trust.CacheSize, cfg.Trust.CacheTTL), nil
}

type storeDeps struct {
	store   license.Store
	checks  map[string]handler.Pinger
	closers []func()
}

func (d *storeDeps) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

func openStore(ctx context.Context, cfg *config.Config, codec *storage.Codec, logger *zap.Logger) (*storeDeps, error) {
	deps := &storeDeps{checks: make(map[string]handler.Pinger)}

	switch cfg.Store.Backend {
	case config.BackendMemory:
		deps.store = memstorage.NewLicenseStore(codec, logger)
	case config.BackendFile:
		deps.store = filestore.NewSingle(cfg.Store.Path, codec, logger)
	case config.BackendDirectory:
		dir, err := filestore.NewDirectory(cfg.Store.Path, codec, logger)
		if err != nil {
			return nil, err
		}
		deps.store = dir
	case config.BackendPostgres:
		dbPool, err := postgres.NewPgxPool(ctx, &cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		deps.closers = append(deps.closers, dbPool.Close)
		deps.checks["database"] = dbPool.Ping

		store := postgres.NewLicenseStore(dbPool, codec, logger)
		if err := store.Migrate(ctx); err != nil {
			deps.close()
			return nil, err
		}
		deps.store = store
	case config.BackendRedis:
		client, err := redis.NewRedisClient(ctx, &cfg.Redis, logger)
		if err != nil {
			return nil, err
		}
		deps.closers = append(deps.closers, func() { client.Close() })
		deps.checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		deps.store = redis.NewLicenseStore(client, cfg.Store.RedisKey, codec, logger)
	case config.BackendBadger:
		store, err := badgerstore.Open(cfg.Store.Path, codec, logger)
		if err != nil {
			return nil, err
		}
		deps.closers = append(deps.closers, func() { store.Close() })
		deps.store = store
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}

	logger.Info("License store ready", zap.String("backend", cfg.Store.Backend))
	return deps, nil
}

// loadRegistry starts with an empty registry when the file does not exist;
// components can still be installed over the API.
func loadRegistry(path string, logger *zap.Logger) (*registry.Memory, error) {
	if path == "" {
		return registry.NewMemory(), nil
	}
	reg, err := registry.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn("Component registry file not found, starting empty", zap.String("file", path))
		return registry.NewMemory(), nil
	}
	if err != nil {
		return nil, err
	}
	logger.Info("Loaded component registry", zap.Int("components", len(reg.All())), zap.String("file", path))
	return reg, nil
}

