package filestore

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/makkenzo/license-engine/internal/domain/license"
	"go.uber.org/zap"
)

// Sink receives licenses discovered on disk.
type Sink interface {
	Add(ctx context.Context, l license.License) (bool, error)
}

const (
	DefaultPollInterval = 60 * time.Second
	settleDelay         = 100 * time.Millisecond
)

type Watcher struct {
	store    *Directory
	sink     Sink
	interval time.Duration
	logger   *zap.Logger
}

func NewWatcher(store *Directory, sink Sink, interval time.Duration, logger *zap.Logger) *Watcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Watcher{
		store:    store,
		sink:     sink,
		interval: interval,
		logger:   logger.Named("LicenseWatcher"),
	}
}

// Run feeds new license files to the sink until ctx is cancelled. A slow full
// rescan always runs next to fsnotify so that missed events are still picked up.
func (w *Watcher) Run(ctx context.Context) error {
	events, errs, closeWatch := w.watch()
	defer closeWatch()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if !relevant(event) {
				continue
			}
			time.Sleep(settleDelay)
			w.load(ctx, event.Name)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			w.logger.Warn("License watcher error", zap.Error(err))
		case <-ticker.C:
			w.Rescan(ctx)
		}
	}
}

// Rescan offers every readable license in the directory to the sink.
func (w *Watcher) Rescan(ctx context.Context) {
	for l := range w.store.RetrieveAll(ctx) {
		w.offer(ctx, l)
	}
}

func (w *Watcher) watch() (<-chan fsnotify.Event, <-chan error, func()) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("fsnotify unavailable, falling back to polling", zap.Error(err))
		return nil, nil, func() {}
	}
	if err := watcher.Add(w.store.Path()); err != nil {
		w.logger.Warn("Failed to watch license directory, falling back to polling",
			zap.String("dir", w.store.Path()), zap.Error(err))
		watcher.Close()
		return nil, nil, func() {}
	}
	return watcher.Events, watcher.Errors, func() { watcher.Close() }
}

func (w *Watcher) load(ctx context.Context, path string) {
	l, err := readLicense(path, w.store.codec)
	if err != nil {
		w.logger.Warn("Ignoring unreadable license file", zap.String("file", path), zap.Error(err))
		return
	}
	w.offer(ctx, l)
}

func (w *Watcher) offer(ctx context.Context, l license.License) {
	changed, err := w.sink.Add(ctx, l)
	if err != nil {
		w.logger.Warn("Failed to add license from disk", zap.Stringer("id", l.ID()), zap.Error(err))
		return
	}
	if changed {
		w.logger.Info("Picked up license from disk", zap.Stringer("id", l.ID()))
	}
}

func relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return false
	}
	return strings.HasSuffix(filepath.Base(event.Name), Extension)
}
