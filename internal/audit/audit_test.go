package audit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dreschagin/device-lifecycle/internal/domain/entity"
	"github.com/dreschagin/device-lifecycle/internal/domain/service"
	"github.com/dreschagin/device-lifecycle/internal/domain/valueobject"
	"github.com/dreschagin/device-lifecycle/internal/infrastructure/persistence/memory"
	"github.com/dreschagin/device-lifecycle/pkg/config"
	"github.com/dreschagin/device-lifecycle/pkg/logger"
)

var auditNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	devices   *memory.DeviceRepository
	events    *memory.LifecycleEventRepository
	passports *memory.PassportRepository
}

func newFixture() *fixture {
	devices := memory.NewDeviceRepository()
	return &fixture{
		devices:   devices,
		events:    memory.NewLifecycleEventRepository(devices),
		passports: memory.NewPassportRepository(),
	}
}

func (f *fixture) device(t *testing.T, id string, kinds ...valueobject.EventKind) *entity.Device {
	t.Helper()
	purchased := auditNow.AddDate(-2, 0, 0)
	device, err := entity.NewDevice(entity.DeviceSpec{
		ID:          id,
		Model:       "Pixel 7",
		Owner:       "alice",
		PurchasedAt: purchased,
	}, purchased)
	if err != nil {
		t.Fatalf("NewDevice() error = %v", err)
	}
	if err := f.devices.Create(context.Background(), device); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	for i, kind := range kinds {
		event, err := entity.NewLifecycleEvent(id, kind, auditNow.Add(time.Duration(i-len(kinds))*time.Hour), nil)
		if err != nil {
			t.Fatalf("NewLifecycleEvent() error = %v", err)
		}
		if _, err := f.events.AppendWithDevice(context.Background(), event, device); err != nil {
			t.Fatalf("AppendWithDevice() error = %v", err)
		}
	}
	return device
}

func (f *fixture) mint(t *testing.T, device *entity.Device, profile entity.CircularityProfile) {
	t.Helper()
	passport, err := entity.NewPassport(device.ID(), "ledger-"+device.ID(), "0xmint", "alice", profile, auditNow)
	if err != nil {
		t.Fatalf("NewPassport() error = %v", err)
	}
	if err := f.passports.Create(context.Background(), passport); err != nil {
		t.Fatalf("Create passport error = %v", err)
	}
}

func (f *fixture) replayed(t *testing.T, device *entity.Device) entity.CircularityProfile {
	t.Helper()
	ledger, err := f.events.Replay(context.Background(), device.ID())
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	return service.NewCircularityCalculator().Compute(device, ledger, auditNow)
}

// shrinkingEvents drops the newest event on every second replay
type shrinkingEvents struct {
	*memory.LifecycleEventRepository
	calls atomic.Int32
}

func (s *shrinkingEvents) Replay(ctx context.Context, deviceID string) ([]*entity.LifecycleEvent, error) {
	ledger, err := s.LifecycleEventRepository.Replay(ctx, deviceID)
	if err != nil || s.calls.Add(1)%2 == 1 || len(ledger) == 0 {
		return ledger, err
	}
	return ledger[:len(ledger)-1], nil
}

// staticIndex lists a fixed set of devices
type staticIndex []string

func (s staticIndex) DeviceIDs(context.Context) ([]string, error) { return s, nil }

func TestServiceEvaluate(t *testing.T) {
	f := newFixture()

	inSync := f.device(t, "D1", valueobject.EventRepair, valueobject.EventRepairCompleted)
	f.mint(t, inSync, f.replayed(t, inSync))

	drifted := f.device(t, "D2", valueobject.EventRefurbish)
	f.mint(t, drifted, entity.CircularityProfile{DeviceID: "D2", Score: 50})

	f.device(t, "D3", valueobject.EventResale)

	svc := NewService(f.events, f.devices, f.events, f.passports, func() time.Time { return auditNow })
	summary, err := svc.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}

	if summary.DevicesTotal != 3 || summary.PassportsChecked != 2 {
		t.Fatalf("devices = %d, passports = %d", summary.DevicesTotal, summary.PassportsChecked)
	}
	if summary.DriftCount != 1 || summary.MismatchCount != 0 || summary.ErrorCount != 0 {
		t.Fatalf("unexpected counts: %+v", summary)
	}
	finding := summary.Findings[0]
	if finding.DeviceID != "D2" || finding.Kind != FindingDrift || finding.Severity != SeverityWarning {
		t.Fatalf("unexpected finding: %+v", finding)
	}
	if finding.Replayed == nil || finding.Snapshot == nil || finding.Snapshot.Score != 50 {
		t.Fatalf("finding must carry both profiles: %+v", finding)
	}
	if summary.Severity() != SeverityWarning {
		t.Fatalf("severity = %s, want warning", summary.Severity())
	}
}

func TestServiceEvaluateReplayMismatchAndErrors(t *testing.T) {
	f := newFixture()
	f.device(t, "D1", valueobject.EventRepair, valueobject.EventRepairCompleted, valueobject.EventRecycle)

	events := &shrinkingEvents{LifecycleEventRepository: f.events}
	svc := NewService(staticIndex{"D1", "ghost"}, f.devices, events, f.passports, func() time.Time { return auditNow })

	summary, err := svc.Evaluate(context.Background())
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if summary.MismatchCount != 1 || summary.ErrorCount != 1 {
		t.Fatalf("unexpected counts: %+v", summary)
	}
	if summary.Findings[0].Kind != FindingReplayMismatch || summary.Findings[1].Kind != FindingError {
		t.Fatalf("unexpected findings: %+v", summary.Findings)
	}
	if summary.Severity() != SeverityCritical {
		t.Fatalf("severity = %s, want critical", summary.Severity())
	}
}

func TestServiceEvaluateStopsOnCancel(t *testing.T) {
	f := newFixture()
	f.device(t, "D1", valueobject.EventResale)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc := NewService(f.events, f.devices, f.events, f.passports, nil)
	if _, err := svc.Evaluate(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

type scriptedEvaluator struct {
	errs  []error
	calls int
}

func (s *scriptedEvaluator) Evaluate(context.Context) (*CycleSummary, error) {
	defer func() { s.calls++ }()
	if s.calls < len(s.errs) && s.errs[s.calls] != nil {
		return nil, s.errs[s.calls]
	}
	return &CycleSummary{DevicesTotal: 1, DriftCount: 1, Findings: []DeviceFinding{{DeviceID: "D1", Kind: FindingDrift}}}, nil
}

func TestRunnerRecordsOutcome(t *testing.T) {
	eval := &scriptedEvaluator{errs: []error{errors.New("db down")}}
	runner := NewRunner(eval, logger.New("error"), Config{Interval: time.Minute})

	if _, err := runner.RunOnce(context.Background()); err == nil {
		t.Fatal("expected first cycle to fail")
	}
	snapshot := runner.Snapshot()
	if snapshot.LastError == "" || snapshot.LastSummary != nil {
		t.Fatalf("unexpected snapshot after failure: %+v", snapshot)
	}

	if _, err := runner.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	snapshot = runner.Snapshot()
	if snapshot.LastError != "" || snapshot.Status != SeverityWarning {
		t.Fatalf("unexpected snapshot after success: %+v", snapshot)
	}

	snapshot.LastSummary.Findings[0].DeviceID = "mutated"
	if runner.Snapshot().LastSummary.Findings[0].DeviceID != "D1" {
		t.Fatal("snapshot must not alias runner state")
	}
}

func TestHandlerRoutes(t *testing.T) {
	f := newFixture()
	drifted := f.device(t, "D1", valueobject.EventRefurbish)
	f.mint(t, drifted, entity.CircularityProfile{DeviceID: "D1"})

	svc := NewService(f.events, f.devices, f.events, f.passports, nil)
	runner := NewRunner(svc, logger.New("error"), Config{Interval: time.Minute, RunTimeout: time.Second})
	server := httptest.NewServer(NewHandler(runner).Routes())
	defer server.Close()

	resp, err := http.Get(server.URL + "/readyz")
	if err != nil {
		t.Fatalf("readyz request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("readyz before first cycle = %d, want 503", resp.StatusCode)
	}

	resp, err = http.Post(server.URL+"/api/v1/audit/run", "application/json", nil)
	if err != nil {
		t.Fatalf("run request failed: %v", err)
	}
	var summary CycleSummary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || summary.DriftCount != 1 {
		t.Fatalf("run status = %d, summary = %+v", resp.StatusCode, summary)
	}

	resp, err = http.Get(server.URL + "/readyz")
	if err != nil {
		t.Fatalf("readyz request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz after cycle = %d, want 200", resp.StatusCode)
	}

	resp, err = http.Get(server.URL + "/api/v1/audit/summary")
	if err != nil {
		t.Fatalf("summary request failed: %v", err)
	}
	var snapshot Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	resp.Body.Close()
	if snapshot.Status != SeverityWarning || snapshot.LastSummary == nil || snapshot.LastSummary.DevicesTotal != 1 {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}

	resp, err = http.Get(server.URL + "/api/v1/audit/run")
	if err != nil {
		t.Fatalf("run via GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET run = %d, want 405", resp.StatusCode)
	}
}

func TestConfigFrom(t *testing.T) {
	if _, err := ConfigFrom(configWith("8090", time.Second)); err == nil {
		t.Fatal("expected error for short interval")
	}
	cfg, err := ConfigFrom(configWith("8090", time.Hour))
	if err != nil {
		t.Fatalf("ConfigFrom() error = %v", err)
	}
	if cfg.RunTimeout != 2*time.Minute {
		t.Fatalf("run timeout = %s, want capped at 2m", cfg.RunTimeout)
	}
}

func configWith(port string, interval time.Duration) config.AuditConfig {
	return config.AuditConfig{Port: port, Interval: interval}
}
