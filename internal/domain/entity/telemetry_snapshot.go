package entity

import (
	"fmt"
	"strings"
	"time"

	"github.com/dreschagin/device-lifecycle/internal/domain/domainerr"
)

// TelemetryReading - сырые показания устройства в момент времени
type TelemetryReading struct {
	DeviceID           string    `json:"device_id"`
	RecordedAt         time.Time `json:"recorded_at"`
	BatteryCycleCount  int       `json:"battery_cycle_count"`
	BatteryHealthPct   float64   `json:"battery_health_percentage"`
	BatteryVoltage     float64   `json:"battery_voltage,omitempty"`
	TemperatureC       float64   `json:"temperature_c"`
	ThermalEventCount  int       `json:"thermal_events_count"`
	ThrottleEventCount int       `json:"cpu_throttling_events"`
	CrashCount         int       `json:"crash_count"`
}

// TelemetrySnapshot - неизменяемый снимок телеметрии устройства
type TelemetrySnapshot struct {
	reading TelemetryReading
}

// NewTelemetrySnapshot создает снимок. Физическая правдоподобность
// проверяется TelemetryValidator до записи.
func NewTelemetrySnapshot(reading TelemetryReading) (*TelemetrySnapshot, error) {
	reading.DeviceID = strings.TrimSpace(reading.DeviceID)
	if reading.DeviceID == "" {
		return nil, fmt.Errorf("%w: device id is required", domainerr.ErrInvalidReading)
	}
	if reading.RecordedAt.IsZero() {
		return nil, fmt.Errorf("%w: timestamp is required", domainerr.ErrInvalidReading)
	}
	reading.RecordedAt = reading.RecordedAt.UTC()

	return &TelemetrySnapshot{reading: reading}, nil
}

func (s *TelemetrySnapshot) DeviceID() string      { return s.reading.DeviceID }
func (s *TelemetrySnapshot) RecordedAt() time.Time { return s.reading.RecordedAt }

// Reading возвращает копию показаний
func (s *TelemetrySnapshot) Reading() TelemetryReading {
	return s.reading
}

// SameKey сообщает, совпадают ли устройство и временная метка
func (s *TelemetrySnapshot) SameKey(other *TelemetrySnapshot) bool {
	return s.reading.DeviceID == other.reading.DeviceID &&
		s.reading.RecordedAt.Equal(other.reading.RecordedAt)
}
