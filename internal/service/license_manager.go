package service

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/makkenzo/license-engine/internal/domain/license"
	"github.com/makkenzo/license-engine/internal/ierr"
	"github.com/makkenzo/license-engine/internal/metrics"
	"github.com/makkenzo/license-engine/internal/notify"
	"github.com/makkenzo/license-engine/internal/refcount"
	"github.com/makkenzo/license-engine/internal/registry"
	"go.uber.org/zap"
)

var ErrAlreadyInitialized = errors.New("license manager already initialized")

const (
	ingestChanged       = "changed"
	ingestUnchanged     = "unchanged"
	ingestNotApplicable = "not_applicable"
)

// LicenseManager is the resolution index: it tracks which license governs each
// feature and each installed component.
//
// All state is guarded by one lock. Store I/O only happens under the lock while
// Init loads persisted licenses.
type LicenseManager struct {
	store    license.Store
	registry registry.Registry
	instance license.InstanceID
	notifier notify.Notifier
	logger   *zap.Logger
	now      func() time.Time

	mu                 sync.RWMutex
	initialized        bool
	featureToLicense   map[license.FeatureID]license.License
	componentToLicense map[string]license.License
	live               *refcount.Table[uuid.UUID, license.License]
	persisted          map[uuid.UUID]struct{}
}

type ManagerOption func(*LicenseManager)

func WithNotifier(n notify.Notifier) ManagerOption {
	return func(m *LicenseManager) { m.notifier = n }
}

func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *LicenseManager) { m.now = now }
}

func NewLicenseManager(store license.Store, reg registry.Registry, instance license.InstanceID, logger *zap.Logger, opts ...ManagerOption) *LicenseManager {
	m := &LicenseManager{
		store:              store,
		registry:           reg,
		instance:           instance,
		notifier:           notify.Nop{},
		logger:             logger.Named("LicenseManager"),
		now:                time.Now,
		featureToLicense:   make(map[license.FeatureID]license.License),
		componentToLicense: make(map[string]license.License),
		live:               refcount.New[uuid.UUID, license.License](),
		persisted:          make(map[uuid.UUID]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Init loads every persisted license and resolves every licensable component.
// Components nothing covers are recorded as Unlicensed.
func (m *LicenseManager) Init(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return ErrAlreadyInitialized
	}

	loaded := 0
	for l := range m.store.RetrieveAll(ctx) {
		m.persisted[l.ID()] = struct{}{}
		m.ingestLocked(l)
		loaded++
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("license manager init interrupted: %w", err)
	}

	for _, c := range m.registry.Licensable() {
		if _, ok := m.componentToLicense[c.Name]; !ok {
			m.componentToLicense[c.Name] = m.resolveLocked(c)
		}
	}
	m.initialized = true
	metrics.ActiveLicenses.Set(float64(m.live.Len()))

	m.logger.Info("License manager initialized",
		zap.Int("persisted", loaded),
		zap.Int("active", m.live.Len()),
		zap.Int("components", len(m.componentToLicense)),
	)
	return nil
}

func (m *LicenseManager) Initialized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initialized
}

// Ingest offers l for every feature it declares and returns the features whose
// winner changed, sorted.
func (m *LicenseManager) Ingest(l license.License) []license.FeatureID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ingestLocked(l)
}

func (m *LicenseManager) ingestLocked(l license.License) []license.FeatureID {
	if l == nil || license.IsUnlicensed(l) {
		return nil
	}
	if !l.ApplicableTo(m.instance) {
		metrics.IngestedTotal.WithLabelValues(ingestNotApplicable).Inc()
		m.logger.Debug("License does not apply to this instance",
			zap.Stringer("id", l.ID()), zap.String("instance", string(m.instance)))
		return nil
	}

	var changed []license.FeatureID
	for _, f := range l.Features() {
		existing, ok := m.featureToLicense[f]
		candidate := license.Optimum(existing, l)
		if ok && candidate == existing {
			continue
		}

		m.featureToLicense[f] = candidate
		m.live.Acquire(candidate.ID(), candidate)
		// a renewed object under a live id carries the current terms
		m.live.Set(candidate.ID(), candidate)
		if ok && m.live.Release(existing.ID()) {
			m.logger.Debug("License evicted", zap.Stringer("id", existing.ID()))
		}
		changed = append(changed, f)
	}

	result := ingestUnchanged
	if len(changed) > 0 {
		result = ingestChanged
	}
	metrics.IngestedTotal.WithLabelValues(result).Inc()
	metrics.ActiveLicenses.Set(float64(m.live.Len()))
	return changed
}

// ResolveForComponent returns the optimum license among those governing a
// feature the component matches, or Unlicensed.
func (m *LicenseManager) ResolveForComponent(c registry.Component) license.License {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.resolveLocked(c)
}

func (m *LicenseManager) resolveLocked(c registry.Component) license.License {
	var features []license.FeatureID
	for f := range m.featureToLicense {
		if c.Covers(f) {
			features = append(features, f)
		}
	}
	slices.SortFunc(features, license.CompareFeatureIDs)

	seen := make(map[license.License]struct{}, len(features))
	candidates := make([]license.License, 0, len(features))
	for _, f := range features {
		l := m.featureToLicense[f]
		if _, dup := seen[l]; dup {
			continue
		}
		seen[l] = struct{}{}
		candidates = append(candidates, l)
	}

	if best := license.OptimumOf(candidates); best != nil {
		return best
	}
	return license.Unlicensed
}

// ResolveFeature returns the optimum license among those governing a feature
// compatible with the concrete (name, version) pair, or Unlicensed.
func (m *LicenseManager) ResolveFeature(name, version string) license.License {
	return m.ResolveForComponent(registry.Component{Name: name, Version: version})
}

// InstallComponent records the governing license of a licensable component the
// first time it is seen. It reports false for components that need no license.
func (m *LicenseManager) InstallComponent(c registry.Component) (license.License, bool) {
	if !c.Licensed {
		return nil, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if l, ok := m.componentToLicense[c.Name]; ok {
		return l, true
	}
	l := m.resolveLocked(c)
	m.componentToLicense[c.Name] = l
	m.logger.Info("Component installed", zap.String("component", c.Name), zap.Stringer("license", l.ID()))
	return l, true
}

// UninstallComponent forgets the component. Feature usage is left untouched.
func (m *LicenseManager) UninstallComponent(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.componentToLicense[name]; !ok {
		return false
	}
	delete(m.componentToLicense, name)
	m.logger.Info("Component uninstalled", zap.String("component", name))
	return true
}

// UpgradeComponent replaces oldName with c and re-resolves c from scratch.
func (m *LicenseManager) UpgradeComponent(oldName string, c registry.Component) (license.License, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.componentToLicense, oldName)
	delete(m.componentToLicense, c.Name)
	if !c.Licensed {
		return nil, false
	}
	l := m.resolveLocked(c)
	m.componentToLicense[c.Name] = l
	m.logger.Info("Component upgraded",
		zap.String("from", oldName), zap.String("to", c.Name), zap.String("version", c.Version),
		zap.Stringer("license", l.ID()))
	return l, true
}

// Add ingests l and, when it took over at least one feature, persists it and
// re-resolves every installed component it touches. A persistence failure is
// logged and returned wrapped in ierr.ErrStoreFailed; the license stays in the
// index either way.
func (m *LicenseManager) Add(ctx context.Context, l license.License) (bool, error) {
	m.mu.Lock()
	changed := m.ingestLocked(l)
	if len(changed) == 0 {
		m.mu.Unlock()
		return false, nil
	}
	touched := m.refreshComponentsLocked(changed)
	m.mu.Unlock()

	m.logger.Info("License added",
		zap.Stringer("id", l.ID()),
		zap.Stringer("type", l.Type()),
		zap.Int("features", len(changed)),
		zap.Strings("components", touched),
	)

	var persistErr error
	if err := m.store.Store(ctx, l); err != nil {
		m.logger.Error("Failed to persist license, keeping it in memory", zap.Stringer("id", l.ID()), zap.Error(err))
		metrics.StoreErrorsTotal.WithLabelValues("store").Inc()
		persistErr = fmt.Errorf("%w: %v", ierr.ErrStoreFailed, err)
	} else {
		m.mu.Lock()
		if holdsOne(m.store) {
			clear(m.persisted)
		}
		m.persisted[l.ID()] = struct{}{}
		m.mu.Unlock()
	}

	change := notify.Change{LicenseID: l.ID().String(), At: m.now().UTC()}
	for _, f := range changed {
		change.Features = append(change.Features, f.String())
	}
	if err := m.notifier.LicenseChanged(ctx, change); err != nil {
		m.logger.Warn("Failed to publish license change", zap.Stringer("id", l.ID()), zap.Error(err))
	}

	return true, persistErr
}

func (m *LicenseManager) refreshComponentsLocked(changed []license.FeatureID) []string {
	var touched []string
	for _, name := range slices.Sorted(maps.Keys(m.componentToLicense)) {
		c, ok := m.registry.Lookup(name)
		if !ok {
			continue
		}
		if !slices.ContainsFunc(changed, c.Covers) {
			continue
		}
		m.componentToLicense[name] = m.resolveLocked(c)
		touched = append(touched, name)
	}
	return touched
}

// Get returns the license recorded for a component. The second result is false
// when the component is not tracked for licensing at all. Before Init completes
// a licensable component reports Unlicensed.
func (m *LicenseManager) Get(name string) (license.License, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if l, ok := m.componentToLicense[name]; ok {
		return l, true
	}
	if !m.initialized {
		if c, ok := m.registry.Lookup(name); ok && c.Licensed {
			return license.Unlicensed, true
		}
	}
	return nil, false
}

// Components returns a copy of the component to license mapping.
func (m *LicenseManager) Components() map[string]license.License {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.componentToLicense)
}

// ActiveLicenses returns the live set: licenses winning at least one feature.
func (m *LicenseManager) ActiveLicenses() []license.License {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortByID(m.live.Values())
}

// UsedLicenses returns the distinct licenses governing an installed component.
func (m *LicenseManager) UsedLicenses() []license.License {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byID := make(map[uuid.UUID]license.License)
	for _, l := range m.componentToLicense {
		if license.IsUnlicensed(l) {
			continue
		}
		byID[l.ID()] = l
	}
	return sortByID(slices.Collect(maps.Values(byID)))
}

func (m *LicenseManager) PersistedLicenseIDs() []uuid.UUID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortIDs(slices.Collect(maps.Keys(m.persisted)))
}

// UnusedPersistedLicenseIDs lists persisted licenses that govern no feature.
func (m *LicenseManager) UnusedPersistedLicenseIDs() []uuid.UUID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.unusedLocked()
}

func (m *LicenseManager) unusedLocked() []uuid.UUID {
	var ids []uuid.UUID
	for id := range m.persisted {
		if m.live.Count(id) == 0 {
			ids = append(ids, id)
		}
	}
	return sortIDs(ids)
}

// Usage is the number of features the license currently governs.
func (m *LicenseManager) Usage(id uuid.UUID) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.live.Count(id)
}

// FeatureLicenses returns a copy of the feature to license mapping.
func (m *LicenseManager) FeatureLicenses() map[license.FeatureID]license.License {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.featureToLicense)
}

// PurgeUnused deletes persisted licenses that govern nothing. Deletion is best
// effort: failures are logged and the license stays listed as persisted.
func (m *LicenseManager) PurgeUnused(ctx context.Context) []uuid.UUID {
	var purged []uuid.UUID
	for _, id := range m.UnusedPersistedLicenseIDs() {
		if ctx.Err() != nil {
			break
		}
		if m.Usage(id) > 0 {
			continue
		}
		if err := m.store.Delete(ctx, id); err != nil {
			m.logger.Warn("Failed to delete unused license", zap.Stringer("id", id), zap.Error(err))
			metrics.StoreErrorsTotal.WithLabelValues("delete").Inc()
			continue
		}
		m.mu.Lock()
		delete(m.persisted, id)
		m.mu.Unlock()
		purged = append(purged, id)
	}
	if len(purged) > 0 {
		m.logger.Info("Purged unused licenses", zap.Int("count", len(purged)))
	}
	return purged
}

// Expiring returns active licenses that are expired or expire within window.
func (m *LicenseManager) Expiring(window time.Duration) []license.License {
	deadline := m.now().Add(window)
	var out []license.License
	for _, l := range m.ActiveLicenses() {
		if l.ExpiresAt().Before(deadline) {
			out = append(out, l)
		}
	}
	return out
}

// holdsOne reports whether every write to s replaces whatever it held before.
func holdsOne(s license.Store) bool {
	single, ok := s.(license.SingleSlot)
	return ok && single.HoldsOne()
}

func sortByID(ls []license.License) []license.License {
	slices.SortFunc(ls, func(a, b license.License) int { return license.CompareIDs(a.ID(), b.ID()) })
	return ls
}

func sortIDs(ids []uuid.UUID) []uuid.UUID {
	slices.SortFunc(ids, license.CompareIDs)
	return ids
}
