package service_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/makkenzo/license-engine/internal/codec"
	"github.com/makkenzo/license-engine/internal/domain/license"
	"github.com/makkenzo/license-engine/internal/ierr"
	"github.com/makkenzo/license-engine/internal/notify"
	"github.com/makkenzo/license-engine/internal/registry"
	"github.com/makkenzo/license-engine/internal/service"
	"github.com/makkenzo/license-engine/internal/storage"
	"github.com/makkenzo/license-engine/internal/storage/filestore"
	"github.com/makkenzo/license-engine/internal/storage/memstorage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const instance license.InstanceID = "node-1"

var (
	reporting = registry.Component{
		Name:     "reporting",
		Version:  "2.1",
		Licensed: true,
		Features: []registry.Feature{{Name: "doc-export", Version: "1.4"}},
	}
	audit = registry.Component{Name: "audit", Version: "1.0", Licensed: true}
	core  = registry.Component{Name: "core", Version: "5.0"}
)

func lic(expires int64, features ...string) *license.Unsigned {
	l := license.NewUnsigned().
		SetType(license.TypePaid).
		SetExpiresAt(time.Unix(expires, 0).UTC()).
		SetLicenseeAttr("name", "user")
	for _, f := range features {
		l.AddFeature(license.MustFeatureID(f, ""))
	}
	return l
}

type recordingNotifier struct {
	mu      sync.Mutex
	changes []notify.Change
}

func (r *recordingNotifier) LicenseChanged(_ context.Context, c notify.Change) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
	return nil
}

func (r *recordingNotifier) all() []notify.Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Change(nil), r.changes...)
}

type fixture struct {
	store    *memstorage.LicenseStore
	registry *registry.Memory
	notifier *recordingNotifier
	manager  *service.LicenseManager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    memstorage.NewLicenseStore(storage.NewCodec(nil), zap.NewNop()),
		registry: registry.NewMemory(reporting, audit, core),
		notifier: &recordingNotifier{},
	}
	f.manager = service.NewLicenseManager(f.store, f.registry, instance, zap.NewNop(),
		service.WithNotifier(f.notifier))
	return f
}

// checkRefcounts asserts that every feature winner is live and that the live set
// holds nothing else.
func checkRefcounts(t *testing.T, m *service.LicenseManager) {
	t.Helper()
	winners := make(map[uuid.UUID]int)
	for _, l := range m.FeatureLicenses() {
		winners[l.ID()]++
	}
	for id, n := range winners {
		assert.Equal(t, n, m.Usage(id), "usage of %s", id)
	}
	active := m.ActiveLicenses()
	assert.Len(t, active, len(winners))
	for _, l := range active {
		assert.Contains(t, winners, l.ID())
	}
}

func TestIngest_DisplacementAndEviction(t *testing.T) {
	m := newFixture(t).manager
	f1 := license.MustFeatureID("f1", "")

	a := lic(100, "f1")
	assert.Equal(t, []license.FeatureID{f1}, m.Ingest(a))
	assert.Equal(t, 1, m.Usage(a.ID()))

	b := lic(200, "f1")
	assert.Equal(t, []license.FeatureID{f1}, m.Ingest(b))

	assert.Same(t, b, m.FeatureLicenses()[f1])
	assert.Equal(t, 0, m.Usage(a.ID()))
	assert.Equal(t, 1, m.Usage(b.ID()))
	for _, l := range m.ActiveLicenses() {
		assert.NotEqual(t, a.ID(), l.ID())
	}
	checkRefcounts(t, m)
}

func TestIngest_WeakerLicenseChangesNothing(t *testing.T) {
	m := newFixture(t).manager

	strong := lic(200, "f1")
	m.Ingest(strong)
	weak := lic(100, "f1")
	assert.Empty(t, m.Ingest(weak))
	assert.Equal(t, 0, m.Usage(weak.ID()))
	assert.Equal(t, 1, m.Usage(strong.ID()))
}

func TestIngest_Idempotent(t *testing.T) {
	m := newFixture(t).manager

	a := lic(100, "f1", "f2")
	assert.Len(t, m.Ingest(a), 2)
	before := m.FeatureLicenses()

	assert.Empty(t, m.Ingest(a))
	assert.Equal(t, before, m.FeatureLicenses())
	assert.Equal(t, 2, m.Usage(a.ID()))
	assert.Len(t, m.ActiveLicenses(), 1)
}

func TestIngest_PartialDisplacementKeepsLicenseAlive(t *testing.T) {
	m := newFixture(t).manager

	a := lic(100, "f1", "f2")
	m.Ingest(a)
	b := lic(200, "f2")
	assert.Equal(t, []license.FeatureID{license.MustFeatureID("f2", "")}, m.Ingest(b))

	assert.Equal(t, 1, m.Usage(a.ID()))
	assert.Equal(t, 1, m.Usage(b.ID()))
	assert.Len(t, m.ActiveLicenses(), 2)
	checkRefcounts(t, m)
}

func TestIngest_RefcountInvariantOverSequence(t *testing.T) {
	m := newFixture(t).manager

	features := []string{"f1", "f2", "f3", "f4"}
	for i := range 40 {
		var declared []string
		for j, f := range features {
			if (i+j)%3 != 0 {
				declared = append(declared, f)
			}
		}
		m.Ingest(lic(int64(i%7*100), declared...))
		checkRefcounts(t, m)
	}
}

func TestIngest_RenewedObjectReplacesLiveTerms(t *testing.T) {
	f := newFixture(t)
	m := service.NewLicenseManager(f.store, f.registry, instance, zap.NewNop(),
		service.WithManagerClock(func() time.Time { return time.Unix(300, 0) }))
	id := uuid.New()
	original := lic(100, "doc-export").SetID(id)
	renewed := lic(500, "doc-export").SetID(id)

	m.Ingest(original)
	assert.Len(t, m.Ingest(renewed), 1)

	active := m.ActiveLicenses()
	require.Len(t, active, 1)
	assert.Same(t, renewed, active[0])
	assert.Equal(t, time.Unix(500, 0).UTC(), active[0].ExpiresAt())
	assert.Equal(t, 1, m.Usage(id))
	assert.Empty(t, m.Expiring(0), "expiry checks see the renewed terms")
	checkRefcounts(t, m)
}

func TestIngest_InstanceApplicability(t *testing.T) {
	m := newFixture(t).manager

	elsewhere := lic(100, "f1").AddInstance("node-2")
	assert.Empty(t, m.Ingest(elsewhere))
	assert.Empty(t, m.ActiveLicenses())

	here := lic(100, "f1").AddInstance("node-2", instance)
	assert.Len(t, m.Ingest(here), 1)

	unrestricted := lic(50, "f2")
	assert.True(t, unrestricted.ApplicableTo("anything"))
	assert.Len(t, m.Ingest(unrestricted), 1)
}

func TestIngest_IgnoresUnlicensedAndNil(t *testing.T) {
	m := newFixture(t).manager
	assert.Empty(t, m.Ingest(license.Unlicensed))
	assert.Empty(t, m.Ingest(nil))
	assert.Empty(t, m.ActiveLicenses())
}

func TestResolveForComponent(t *testing.T) {
	m := newFixture(t).manager

	assert.True(t, license.IsUnlicensed(m.ResolveForComponent(reporting)))

	byName := lic(100, "reporting")
	byFeature := lic(300, "doc-export")
	unrelated := lic(900, "charts")
	m.Ingest(byName)
	m.Ingest(byFeature)
	m.Ingest(unrelated)

	assert.Same(t, byFeature, m.ResolveForComponent(reporting))
	assert.True(t, license.IsUnlicensed(m.ResolveForComponent(audit)))
	assert.Same(t, unrelated, m.ResolveFeature("charts", "1.0"))
}

func TestResolveForComponent_VersionConstraint(t *testing.T) {
	m := newFixture(t).manager

	old := license.NewUnsigned().
		AddFeature(license.MustFeatureID("doc-export", "[1.0,1.4)")).
		SetLicenseeAttr("name", "user")
	m.Ingest(old)
	assert.True(t, license.IsUnlicensed(m.ResolveForComponent(reporting)))

	current := license.NewUnsigned().
		AddFeature(license.MustFeatureID("doc-export", "1.2")).
		SetLicenseeAttr("name", "user")
	m.Ingest(current)
	assert.Same(t, current, m.ResolveForComponent(reporting))
}

func TestGet_SentinelVersusNoRecord(t *testing.T) {
	f := newFixture(t)
	m := f.manager

	// Before Init a licensable component already reports Unlicensed.
	l, ok := m.Get("audit")
	require.True(t, ok)
	assert.True(t, license.IsUnlicensed(l))

	_, ok = m.Get("core")
	assert.False(t, ok)
	_, ok = m.Get("ghost")
	assert.False(t, ok)

	require.NoError(t, m.Init(context.Background()))

	l, ok = m.Get("audit")
	require.True(t, ok)
	assert.True(t, license.IsUnlicensed(l))
	assert.Equal(t, int64(0), l.ExpiresAt().UnixMilli())
	assert.Equal(t, int64(0), l.MaxUsers())

	_, ok = m.Get("core")
	assert.False(t, ok)
}

func TestInit_LoadsPersistedLicenses(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	weak := lic(100, "doc-export")
	strong := lic(200, "doc-export")
	auditLic := lic(100, "audit")
	for _, l := range []*license.Unsigned{weak, strong, auditLic} {
		require.NoError(t, f.store.Store(ctx, l))
	}
	f.store.Put(uuid.New(), []byte("<?xml corrupt"))

	m := f.manager
	require.NoError(t, m.Init(ctx))
	assert.True(t, m.Initialized())

	got, ok := m.Get("reporting")
	require.True(t, ok)
	assert.Equal(t, strong.ID(), got.ID())
	got, ok = m.Get("audit")
	require.True(t, ok)
	assert.Equal(t, auditLic.ID(), got.ID())

	assert.ElementsMatch(t, []uuid.UUID{weak.ID(), strong.ID(), auditLic.ID()}, m.PersistedLicenseIDs())
	assert.Equal(t, []uuid.UUID{weak.ID()}, m.UnusedPersistedLicenseIDs())

	used := m.UsedLicenses()
	require.Len(t, used, 2)

	assert.ErrorIs(t, m.Init(ctx), service.ErrAlreadyInitialized)
}

func TestAdd_PersistsAndRefreshesComponents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.manager
	require.NoError(t, m.Init(ctx))

	l := lic(100, "doc-export")
	changed, err := m.Add(ctx, l)
	require.NoError(t, err)
	assert.True(t, changed)

	got, ok := m.Get("reporting")
	require.True(t, ok)
	assert.Same(t, l, got)
	auditLic, _ := m.Get("audit")
	assert.True(t, license.IsUnlicensed(auditLic))

	assert.True(t, f.store.Has(l.ID()))
	assert.Equal(t, []uuid.UUID{l.ID()}, m.PersistedLicenseIDs())

	changes := f.notifier.all()
	require.Len(t, changes, 1)
	assert.Equal(t, l.ID().String(), changes[0].LicenseID)
	assert.Equal(t, []string{"doc-export"}, changes[0].Features)

	changed, err = m.Add(ctx, l)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Len(t, f.notifier.all(), 1)
}

func TestAdd_UnchangedIsNotPersisted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.manager

	strong := lic(200, "doc-export")
	_, err := m.Add(ctx, strong)
	require.NoError(t, err)

	weak := lic(100, "doc-export")
	changed, err := m.Add(ctx, weak)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.False(t, f.store.Has(weak.ID()))
}

func TestAdd_PersistenceFailureKeepsIndex(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.manager
	f.store.FailWith(errors.New("disk full"))

	l := lic(100, "doc-export")
	changed, err := m.Add(ctx, l)
	assert.True(t, changed)
	assert.ErrorIs(t, err, ierr.ErrStoreFailed)

	assert.Equal(t, 1, m.Usage(l.ID()))
	assert.Empty(t, m.PersistedLicenseIDs())
	assert.False(t, f.store.Has(l.ID()))
}

func TestInstallUninstallUpgrade(t *testing.T) {
	ctx := context.Background()
	m := newFixture(t).manager

	l := lic(100, "doc-export")
	m.Ingest(l)
	require.NoError(t, m.Init(ctx))

	got, ok := m.InstallComponent(reporting)
	require.True(t, ok)
	assert.Same(t, l, got)

	_, ok = m.InstallComponent(core)
	assert.False(t, ok)

	// A better license arriving through Ingest does not touch installed components.
	better := lic(500, "doc-export")
	m.Ingest(better)
	got, _ = m.InstallComponent(reporting)
	assert.Same(t, l, got)

	assert.True(t, m.UninstallComponent("reporting"))
	assert.False(t, m.UninstallComponent("reporting"))
	_, ok = m.Get("reporting")
	assert.False(t, ok, "uninstalled component is no longer tracked")
	assert.Equal(t, 1, m.Usage(better.ID()), "feature usage survives uninstall")

	got, ok = m.InstallComponent(reporting)
	require.True(t, ok)
	assert.Same(t, better, got)

	upgraded := reporting
	upgraded.Name = "reporting-v3"
	upgraded.Features = []registry.Feature{{Name: "doc-export", Version: "3.0"}}
	got, ok = m.UpgradeComponent("reporting", upgraded)
	require.True(t, ok)
	assert.Same(t, better, got)

	got, ok = m.Get("reporting-v3")
	require.True(t, ok)
	assert.Same(t, better, got)
	_, ok = m.Get("reporting")
	assert.False(t, ok)

	components := m.Components()
	assert.Len(t, components, 2)
	assert.Contains(t, components, "audit")
}

func TestPurgeUnused(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.manager

	weak := lic(100, "doc-export")
	strong := lic(200, "doc-export")
	require.NoError(t, f.store.Store(ctx, weak))
	require.NoError(t, f.store.Store(ctx, strong))
	require.NoError(t, m.Init(ctx))

	assert.Equal(t, []uuid.UUID{weak.ID()}, m.PurgeUnused(ctx))
	assert.False(t, f.store.Has(weak.ID()))
	assert.True(t, f.store.Has(strong.ID()))
	assert.Equal(t, []uuid.UUID{strong.ID()}, m.PersistedLicenseIDs())
	assert.Empty(t, m.UnusedPersistedLicenseIDs())
}

func TestPurgeUnused_SingleFileKeepsWinner(t *testing.T) {
	ctx := context.Background()
	store := filestore.NewSingle(filepath.Join(t.TempDir(), "product.lic"), storage.NewCodec(nil), zap.NewNop())
	reg := registry.NewMemory(reporting, audit, core)
	m := service.NewLicenseManager(store, reg, instance, zap.NewNop())
	require.NoError(t, m.Init(ctx))

	first := lic(100, "doc-export")
	renewal := lic(200, "doc-export")
	changed, err := m.Add(ctx, first)
	require.NoError(t, err)
	require.True(t, changed)
	changed, err = m.Add(ctx, renewal)
	require.NoError(t, err)
	require.True(t, changed)

	assert.Equal(t, []uuid.UUID{renewal.ID()}, m.PersistedLicenseIDs(), "the overwritten license is no longer persisted")
	assert.Empty(t, m.UnusedPersistedLicenseIDs())
	assert.Empty(t, m.PurgeUnused(ctx))
	assert.Equal(t, []uuid.UUID{renewal.ID()}, license.IDs(ctx, store))

	restarted := service.NewLicenseManager(store, reg, instance, zap.NewNop())
	require.NoError(t, restarted.Init(ctx))
	got, ok := restarted.Get("reporting")
	require.True(t, ok)
	assert.False(t, license.IsUnlicensed(got))
	assert.Equal(t, renewal.ID(), got.ID())
}

func TestPurgeUnused_DeleteFailureIsLogged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.manager

	require.NoError(t, f.store.Store(ctx, lic(100, "doc-export")))
	require.NoError(t, f.store.Store(ctx, lic(200, "doc-export")))
	require.NoError(t, m.Init(ctx))

	f.store.FailWith(errors.New("read-only"))
	assert.Empty(t, m.PurgeUnused(ctx))
	assert.Len(t, m.UnusedPersistedLicenseIDs(), 1)
}

func TestExpiring(t *testing.T) {
	now := time.Unix(1_000, 0)
	f := newFixture(t)
	m := service.NewLicenseManager(f.store, f.registry, instance, zap.NewNop(),
		service.WithManagerClock(func() time.Time { return now }))

	expired := lic(500, "f1")
	soon := lic(1_500, "f2")
	later := lic(100_000, "f3")
	for _, l := range []*license.Unsigned{expired, soon, later} {
		m.Ingest(l)
	}

	got := m.Expiring(time.Hour)
	ids := make([]uuid.UUID, len(got))
	for i, l := range got {
		ids[i] = l.ID()
	}
	assert.ElementsMatch(t, []uuid.UUID{expired.ID(), soon.ID()}, ids)
}

func TestSignedLicenseReplacesUnsigned(t *testing.T) {
	m := newFixture(t).manager

	unsigned := lic(1_000, "doc-export")
	m.Ingest(unsigned)

	doc, err := codec.Encode(lic(10, "doc-export"))
	require.NoError(t, err)
	payload, err := codec.Decode(doc)
	require.NoError(t, err)
	signed := license.NewSigned(payload, []byte("blob"), nil)

	assert.Len(t, m.Ingest(signed), 1)
	assert.Same(t, signed, m.ResolveForComponent(reporting))
	assert.Equal(t, 0, m.Usage(unsigned.ID()))
}

func TestConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	m := f.manager

	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 25 {
				l := lic(int64(w*100+i), fmt.Sprintf("f%d", i%5), "doc-export")
				_, _ = m.Add(ctx, l)
				m.Get("reporting")
				m.ActiveLicenses()
				m.InstallComponent(audit)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = m.Init(ctx)
	}()
	wg.Wait()

	checkRefcounts(t, m)
	winner := m.FeatureLicenses()[license.MustFeatureID("doc-export", "")]
	require.NotNil(t, winner)
	assert.Equal(t, time.Unix(724, 0).UTC(), winner.ExpiresAt())
}
