package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/dreschagin/device-lifecycle/internal/domain/domainerr"
	"github.com/dreschagin/device-lifecycle/internal/domain/entity"
	"github.com/dreschagin/device-lifecycle/pkg/logger"
)

type fakeIngester struct {
	mu       sync.Mutex
	readings []entity.TelemetryReading
	errs     map[int]error // by battery cycle count
}

func (f *fakeIngester) Execute(_ context.Context, r entity.TelemetryReading) (*entity.TelemetrySnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[r.BatteryCycleCount]; ok {
		return nil, err
	}
	f.readings = append(f.readings, r)
	return entity.NewTelemetrySnapshot(r)
}

func TestDecodeReadings(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload string
		want    int
		wantErr bool
	}{
		{"single from topic", "devices/D1/telemetry", `{"recorded_at":"2026-03-01T10:00:00Z","battery_cycle_count":10}`, 1, false},
		{"batch", "devices/D1/telemetry", `[{"recorded_at":"2026-03-01T10:00:00Z"},{"device_id":"D1","recorded_at":"2026-03-01T11:00:00Z"}]`, 2, false},
		{"mismatch", "devices/D1/telemetry", `{"device_id":"D2","recorded_at":"2026-03-01T10:00:00Z"}`, 0, true},
		{"no device", "telemetry", `{"recorded_at":"2026-03-01T10:00:00Z"}`, 0, true},
		{"garbage", "devices/D1/telemetry", `not json`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeReadings(tt.topic, []byte(tt.payload))
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeReadings() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(got) != tt.want {
				t.Fatalf("readings = %d, want %d", len(got), tt.want)
			}
			for _, r := range got {
				if r.DeviceID != "D1" {
					t.Fatalf("device id = %q", r.DeviceID)
				}
			}
		})
	}
}

func TestSubscriber_HandleCountsOutcomes(t *testing.T) {
	ingester := &fakeIngester{errs: map[int]error{
		2: fmt.Errorf("store: %w", domainerr.ErrDuplicateTimestamp),
		3: domainerr.ErrInvalidReading,
		4: errors.New("database down"),
	}}
	s := NewSubscriber(Config{}, ingester, logger.New("error"))

	payload := `[
		{"recorded_at":"2026-03-01T10:00:00Z","battery_cycle_count":1},
		{"recorded_at":"2026-03-01T11:00:00Z","battery_cycle_count":2},
		{"recorded_at":"2026-03-01T12:00:00Z","battery_cycle_count":3},
		{"recorded_at":"2026-03-01T13:00:00Z","battery_cycle_count":4}
	]`
	s.Handle(context.Background(), "devices/D1/telemetry", []byte(payload))
	s.Handle(context.Background(), "devices/D1/telemetry", []byte(`{`))

	stats := s.Snapshot()
	want := Stats{Accepted: 1, Duplicates: 1, Rejected: 2, Failed: 1}
	if stats != want {
		t.Fatalf("stats = %+v, want %+v", stats, want)
	}
	if len(ingester.readings) != 1 || ingester.readings[0].DeviceID != "D1" {
		t.Fatalf("unexpected ingested readings: %+v", ingester.readings)
	}
}
