package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dreschagin/device-lifecycle/internal/application/port"
	"github.com/dreschagin/device-lifecycle/internal/domain/domainerr"
	"github.com/dreschagin/device-lifecycle/internal/domain/entity"
	"github.com/dreschagin/device-lifecycle/internal/domain/service"
	"github.com/dreschagin/device-lifecycle/internal/infrastructure/persistence/memory"
	"github.com/dreschagin/device-lifecycle/pkg/logger"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

func testLogger() *logger.Logger { return logger.New("error") }

// mockGateway считает вызовы и может блокироваться до release
type mockGateway struct {
	healthCalls  atomic.Int32
	gradingCalls atomic.Int32
	pricingCalls atomic.Int32

	healthErr  error
	gradingErr error
	pricingErr error

	health  *entity.HealthPrediction
	grading *entity.GradingResult
	price   *entity.PriceEstimate

	started     chan struct{}
	startedOnce sync.Once
	release     chan struct{}
}

func newMockGateway() *mockGateway {
	return &mockGateway{
		health:  &entity.HealthPrediction{RULDays: 400, FailureProbability: 0.2, DegradationRate: 0.08, Confidence: 0.9},
		grading: &entity.GradingResult{Confidence: 0.92},
		price:   &entity.PriceEstimate{Price: 300, Lower: 255, Upper: 345, Currency: "USD"},
		started: make(chan struct{}),
	}
}

func (m *mockGateway) wait(ctx context.Context) error {
	m.startedOnce.Do(func() { close(m.started) })
	if m.release == nil {
		return nil
	}
	select {
	case <-m.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *mockGateway) PredictHealth(ctx context.Context, _ *entity.TelemetryWindow) (*entity.HealthPrediction, error) {
	m.healthCalls.Add(1)
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	if m.healthErr != nil {
		return nil, m.healthErr
	}
	h := *m.health
	return &h, nil
}

func (m *mockGateway) GradeDevice(ctx context.Context, _ []port.ImageRef) (*entity.GradingResult, error) {
	m.gradingCalls.Add(1)
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	if m.gradingErr != nil {
		return nil, m.gradingErr
	}
	g := *m.grading
	return &g, nil
}

func (m *mockGateway) EstimatePrice(ctx context.Context, _ port.PriceFeatures) (*entity.PriceEstimate, error) {
	m.pricingCalls.Add(1)
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	if m.pricingErr != nil {
		return nil, m.pricingErr
	}
	p := *m.price
	return &p, nil
}

var errUnavailable = fmt.Errorf("%w: backend down", domainerr.ErrUnavailable)

// mockLedger - реестр паспортов в памяти
type mockLedger struct {
	mu        sync.Mutex
	minted    map[string]bool
	mintCalls int
	recorded  []port.LedgerEvent
	recordErr error
}

func newMockLedger() *mockLedger {
	return &mockLedger{minted: make(map[string]bool)}
}

func (m *mockLedger) Mint(_ context.Context, deviceID string, _ entity.CircularityProfile) (port.MintReceipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mintCalls++
	if m.minted[deviceID] {
		return port.MintReceipt{}, domainerr.ErrAlreadyMinted
	}
	m.minted[deviceID] = true
	return port.MintReceipt{LedgerRef: "ledger-" + deviceID, TxHash: "0xmint"}, nil
}

func (m *mockLedger) RecordEvent(_ context.Context, _ string, event port.LedgerEvent) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recordErr != nil {
		return "", m.recordErr
	}
	m.recorded = append(m.recorded, event)
	return fmt.Sprintf("0xtx%d", len(m.recorded)), nil
}

// mockOutbox - outbox в памяти
type mockOutbox struct {
	mu    sync.Mutex
	items map[string]port.OutboxItem
}

func newMockOutbox() *mockOutbox {
	return &mockOutbox{items: make(map[string]port.OutboxItem)}
}

func (m *mockOutbox) Enqueue(_ context.Context, item port.OutboxItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.ID] = item
	return nil
}

func (m *mockOutbox) Due(_ context.Context, now time.Time, limit int) ([]port.OutboxItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []port.OutboxItem
	for _, it := range m.items {
		if !it.NextAttempt.After(now) {
			due = append(due, it)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextAttempt.Before(due[j].NextAttempt) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *mockOutbox) Reschedule(_ context.Context, item port.OutboxItem) error {
	return m.Enqueue(context.Background(), item)
}

func (m *mockOutbox) Ack(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return errors.New("unknown item")
	}
	delete(m.items, id)
	return nil
}

func (m *mockOutbox) Len(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items), nil
}

// mockInvalidator записывает сброшенные устройства
type mockInvalidator struct {
	mu      sync.Mutex
	devices []string
}

func (m *mockInvalidator) Invalidate(_ context.Context, deviceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices = append(m.devices, deviceID)
}

// fixture связывает in-memory хранилища
type fixture struct {
	devices   *memory.DeviceRepository
	telemetry *memory.TelemetryRepository
	events    *memory.LifecycleEventRepository
	passports *memory.PassportRepository
	store     *TelemetryStore
}

func newFixture(t *testing.T, storeCfg TelemetryStoreConfig) *fixture {
	t.Helper()
	devices := memory.NewDeviceRepository()
	telemetry := memory.NewTelemetryRepository()
	return &fixture{
		devices:   devices,
		telemetry: telemetry,
		events:    memory.NewLifecycleEventRepository(devices),
		passports: memory.NewPassportRepository(),
		store:     NewTelemetryStore(telemetry, service.NewTelemetryValidator(fixedNow), storeCfg, fixedNow),
	}
}

func (f *fixture) registerDevice(t *testing.T, id string, purchased time.Time) *entity.Device {
	t.Helper()
	device, err := entity.NewDevice(entity.DeviceSpec{
		ID:           id,
		Model:        "iPhone 13",
		Manufacturer: "Apple",
		StorageGB:    128,
		RAMGB:        4,
		Owner:        "alice",
		PurchasedAt:  purchased,
	}, purchased)
	if err != nil {
		t.Fatalf("NewDevice() error = %v", err)
	}
	if err := f.devices.Create(context.Background(), device); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return device
}

// recordDaily добавляет по одному снимку в сутки за последние days суток
func (f *fixture) recordDaily(t *testing.T, deviceID string, days int) {
	t.Helper()
	for i := days - 1; i >= 0; i-- {
		_, err := f.store.Record(context.Background(), entity.TelemetryReading{
			DeviceID:          deviceID,
			RecordedAt:        testNow.Add(-time.Duration(i)*24*time.Hour - time.Hour),
			BatteryCycleCount: 300 + days - i,
			BatteryHealthPct:  92 - float64(days-i)*0.05,
			TemperatureC:      31,
		})
		if err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}
}
