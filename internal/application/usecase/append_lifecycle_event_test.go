package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dreschagin/device-lifecycle/internal/application/dto"
	"github.com/dreschagin/device-lifecycle/internal/application/lock"
	"github.com/dreschagin/device-lifecycle/internal/application/port"
	"github.com/dreschagin/device-lifecycle/internal/domain/domainerr"
	"github.com/dreschagin/device-lifecycle/internal/domain/valueobject"
)

func newAppender(f *fixture, invalidator AnalysisInvalidator, syncer PassportSyncer) *AppendLifecycleEventUseCase {
	return NewAppendLifecycleEventUseCase(LifecycleDeps{
		Devices:     f.devices,
		Events:      f.events,
		Passports:   f.passports,
		Locks:       lock.NewKeyedMutex(),
		Invalidator: invalidator,
		Syncer:      syncer,
	}, testLogger(), fixedNow)
}

func appendKinds(t *testing.T, uc *AppendLifecycleEventUseCase, deviceID string, kinds ...valueobject.EventKind) *dto.ProfileUpdateDTO {
	t.Helper()
	var last *dto.ProfileUpdateDTO
	for i, kind := range kinds {
		at := testNow.Add(time.Duration(i-len(kinds)) * time.Hour)
		update, err := uc.Execute(context.Background(), deviceID, dto.AppendEventRequest{Kind: string(kind), OccurredAt: &at})
		if err != nil {
			t.Fatalf("append %s: %v", kind, err)
		}
		last = update
	}
	return last
}

func TestAppendLifecycleEvent_ScenarioProfile(t *testing.T) {
	f := newFixture(t, TelemetryStoreConfig{})
	f.registerDevice(t, "D1", testNow.AddDate(-2, 0, -10))
	invalidator := &mockInvalidator{}
	uc := newAppender(f, invalidator, nil)

	update := appendKinds(t, uc, "D1",
		valueobject.EventRepair,
		valueobject.EventRepairCompleted,
		valueobject.EventRefurbish,
		valueobject.EventRecycle,
	)

	if update.Status != string(valueobject.StatusRecycled) {
		t.Fatalf("status = %s, want recycled", update.Status)
	}
	if update.Profile.RawScore != 102 || update.Profile.Score != 100 {
		t.Fatalf("score = %d (raw %d), want 100 (raw 102)", update.Profile.Score, update.Profile.RawScore)
	}
	if update.Profile.CarbonOffsetKg != -55 {
		t.Fatalf("carbon offset = %.1f, want -55", update.Profile.CarbonOffsetKg)
	}
	if len(invalidator.devices) != 4 {
		t.Fatalf("expected invalidation per event, got %d", len(invalidator.devices))
	}

	profiles := NewGetCircularityProfileUseCase(f.devices, f.events, nil, fixedNow)
	first, err := profiles.Execute(context.Background(), "D1")
	if err != nil {
		t.Fatalf("profile error = %v", err)
	}
	second, _ := profiles.Execute(context.Background(), "D1")
	if !first.Equivalent(second) || !first.Equivalent(update.Profile) {
		t.Fatal("replaying the ledger must reproduce the profile")
	}
}

func TestAppendLifecycleEvent_RecycleFromRetiredLeavesLedgerUnchanged(t *testing.T) {
	f := newFixture(t, TelemetryStoreConfig{})
	f.registerDevice(t, "D1", testNow.AddDate(-1, 0, 0))
	invalidator := &mockInvalidator{}
	uc := newAppender(f, invalidator, nil)

	appendKinds(t, uc, "D1", valueobject.EventRecycle, valueobject.EventRetire)
	invalidator.devices = nil

	_, err := uc.Execute(context.Background(), "D1", dto.AppendEventRequest{Kind: "recycle"})
	if !errors.Is(err, domainerr.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	ledger, _ := f.events.Replay(context.Background(), "D1")
	if len(ledger) != 2 {
		t.Fatalf("ledger length = %d, want 2", len(ledger))
	}
	device, _ := f.devices.FindByID(context.Background(), "D1")
	if device.Status() != valueobject.StatusRetired {
		t.Fatalf("status = %s, want retired", device.Status())
	}
	if len(invalidator.devices) != 0 {
		t.Fatal("rejected event must not invalidate the cache")
	}
}

func TestAppendLifecycleEvent_Validation(t *testing.T) {
	f := newFixture(t, TelemetryStoreConfig{})
	f.registerDevice(t, "D1", testNow.AddDate(-1, 0, 0))
	uc := newAppender(f, nil, nil)
	appendKinds(t, uc, "D1", valueobject.EventResale)

	past := testNow.Add(-48 * time.Hour)
	tests := []struct {
		name string
		id   string
		req  dto.AppendEventRequest
		want error
	}{
		{"unknown kind", "D1", dto.AppendEventRequest{Kind: "upgrade"}, domainerr.ErrInvalidInput},
		{"backdated", "D1", dto.AppendEventRequest{Kind: "repair", OccurredAt: &past}, domainerr.ErrInvalidInput},
		{"unknown device", "D9", dto.AppendEventRequest{Kind: "repair"}, domainerr.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := uc.Execute(context.Background(), tt.id, tt.req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestAppendLifecycleEvent_SameInstantKeepsInsertionOrder(t *testing.T) {
	f := newFixture(t, TelemetryStoreConfig{})
	f.registerDevice(t, "D1", testNow.AddDate(-1, 0, 0))
	uc := newAppender(f, nil, nil)

	at := testNow.Add(-time.Hour)
	for _, kind := range []valueobject.EventKind{valueobject.EventRepair, valueobject.EventRepairCompleted, valueobject.EventRefurbish} {
		if _, err := uc.Execute(context.Background(), "D1", dto.AppendEventRequest{Kind: string(kind), OccurredAt: &at}); err != nil {
			t.Fatalf("append %s at head instant: %v", kind, err)
		}
	}

	earlier := at.Add(-time.Second)
	if _, err := uc.Execute(context.Background(), "D1", dto.AppendEventRequest{Kind: "resale", OccurredAt: &earlier}); !errors.Is(err, domainerr.ErrInvalidInput) {
		t.Fatalf("event before head: expected ErrInvalidInput, got %v", err)
	}

	ledger, err := f.events.Replay(context.Background(), "D1")
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	want := []valueobject.EventKind{valueobject.EventRepair, valueobject.EventRepairCompleted, valueobject.EventRefurbish}
	if len(ledger) != len(want) {
		t.Fatalf("ledger length = %d, want %d", len(ledger), len(want))
	}
	for i, event := range ledger {
		if event.Kind() != want[i] {
			t.Fatalf("ledger[%d] = %s, want %s", i, event.Kind(), want[i])
		}
	}
}

func TestAppendLifecycleEvent_SerializedPerDevice(t *testing.T) {
	f := newFixture(t, TelemetryStoreConfig{})
	f.registerDevice(t, "D1", testNow.AddDate(-1, 0, 0))
	uc := newAppender(f, nil, nil)

	// resale из active допустим многократно; каждый вызов читает свежий журнал
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := uc.Execute(context.Background(), "D1", dto.AppendEventRequest{Kind: "resale"}); err != nil {
				t.Errorf("append error = %v", err)
			}
		}()
	}
	wg.Wait()

	ledger, _ := f.events.Replay(context.Background(), "D1")
	if len(ledger) != 20 {
		t.Fatalf("ledger length = %d, want 20", len(ledger))
	}
	for i := 1; i < len(ledger); i++ {
		if ledger[i].Sequence() <= ledger[i-1].Sequence() {
			t.Fatal("ledger must keep insertion order for equal timestamps")
		}
	}
}

func TestAppendLifecycleEvent_LedgerFailureDoesNotRollBack(t *testing.T) {
	f := newFixture(t, TelemetryStoreConfig{})
	f.registerDevice(t, "D1", testNow.AddDate(-1, 0, 0))

	ledger := newMockLedger()
	outbox := newMockOutbox()
	locks := lock.NewKeyedMutex()

	minter := NewMintPassportUseCase(PassportDeps{
		Devices:   f.devices,
		Events:    f.events,
		Passports: f.passports,
		Ledger:    ledger,
		Locks:     locks,
	}, testLogger(), fixedNow)
	if _, err := minter.Execute(context.Background(), "D1"); err != nil {
		t.Fatalf("mint error = %v", err)
	}

	ledger.recordErr = errors.New("ledger node unreachable")
	syncer := NewSyncPassportUseCase(ledger, outbox, f.passports, nil, SyncPassportConfig{InitialBackoff: time.Minute}, testLogger(), fixedNow)
	uc := newAppender(f, nil, syncer)

	update, err := uc.Execute(context.Background(), "D1", dto.AppendEventRequest{Kind: "refurbish"})
	if err != nil {
		t.Fatalf("append must succeed when ledger is down: %v", err)
	}
	if update.Status != string(valueobject.StatusRefurbished) {
		t.Fatalf("status = %s", update.Status)
	}
	if n, _ := outbox.Len(context.Background()); n != 1 {
		t.Fatalf("expected event queued for retry, outbox len = %d", n)
	}

	// До наступления срока повтор не выполняется
	if stats, _ := syncer.RetryDue(context.Background()); stats.Synced != 0 {
		t.Fatalf("retry before backoff elapsed: %+v", stats)
	}

	ledger.recordErr = nil
	later := NewSyncPassportUseCase(ledger, outbox, f.passports, nil, SyncPassportConfig{}, testLogger(),
		func() time.Time { return testNow.Add(2 * time.Minute) })
	stats, err := later.RetryDue(context.Background())
	if err != nil {
		t.Fatalf("RetryDue() error = %v", err)
	}
	if stats.Synced != 1 || stats.Pending != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	passport, _ := f.passports.FindByDeviceID(context.Background(), "D1")
	if passport.Profile().Count(valueobject.EventRefurbish) != 1 {
		t.Fatal("passport snapshot must follow the synced profile")
	}
}

// stallingSyncer держит первую доставку до закрытия release
type stallingSyncer struct {
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func (s *stallingSyncer) SyncEvent(_ context.Context, _ string, _ port.LedgerEvent) string {
	if s.calls.Add(1) == 1 {
		close(s.entered)
		<-s.release
	}
	return ""
}

func TestAppendLifecycleEvent_SlowLedgerDoesNotHoldDeviceLock(t *testing.T) {
	f := newFixture(t, TelemetryStoreConfig{})
	f.registerDevice(t, "D1", testNow.AddDate(-1, 0, 0))

	locks := lock.NewKeyedMutex()
	minter := NewMintPassportUseCase(PassportDeps{
		Devices:   f.devices,
		Events:    f.events,
		Passports: f.passports,
		Ledger:    newMockLedger(),
		Locks:     locks,
	}, testLogger(), fixedNow)
	if _, err := minter.Execute(context.Background(), "D1"); err != nil {
		t.Fatalf("mint error = %v", err)
	}

	syncer := &stallingSyncer{entered: make(chan struct{}), release: make(chan struct{})}
	uc := NewAppendLifecycleEventUseCase(LifecycleDeps{
		Devices:   f.devices,
		Events:    f.events,
		Passports: f.passports,
		Locks:     locks,
		Syncer:    syncer,
	}, testLogger(), fixedNow)

	first := make(chan error, 1)
	go func() {
		_, err := uc.Execute(context.Background(), "D1", dto.AppendEventRequest{Kind: "repair"})
		first <- err
	}()
	<-syncer.entered

	second := make(chan error, 1)
	go func() {
		_, err := uc.Execute(context.Background(), "D1", dto.AppendEventRequest{Kind: "repair_completed"})
		second <- err
	}()

	select {
	case err := <-second:
		if err != nil {
			t.Fatalf("second append error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("append blocked behind a pending ledger delivery")
	}

	close(syncer.release)
	if err := <-first; err != nil {
		t.Fatalf("first append error = %v", err)
	}
	if got := syncer.calls.Load(); got != 2 {
		t.Fatalf("expected 2 ledger deliveries, got %d", got)
	}

	device, _ := f.devices.FindByID(context.Background(), "D1")
	if device.Status() != valueobject.StatusActive {
		t.Fatalf("status = %s, want active", device.Status())
	}
}
