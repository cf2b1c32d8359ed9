package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/dreschagin/device-lifecycle/internal/domain/domainerr"
	"github.com/dreschagin/device-lifecycle/internal/domain/entity"
)

const (
	kelvinOffset      = 273.15
	maxTemperatureC   = 120.0
	maxBatteryVoltage = 10.0
	maxCycleCount     = 100000
	maxClockSkew      = 5 * time.Minute
)

// TelemetryValidator проверяет физическую правдоподобность показаний (Domain Service)
type TelemetryValidator struct {
	now func() time.Time
}

// NewTelemetryValidator создает новый TelemetryValidator
func NewTelemetryValidator(now func() time.Time) *TelemetryValidator {
	if now == nil {
		now = time.Now
	}
	return &TelemetryValidator{now: now}
}

// Validate выполняет полную валидацию снимка.
// Все ошибки оборачивают domainerr.ErrInvalidReading.
func (v *TelemetryValidator) Validate(snapshot *entity.TelemetrySnapshot) error {
	if snapshot == nil {
		return fmt.Errorf("%w: snapshot cannot be nil", domainerr.ErrInvalidReading)
	}

	r := snapshot.Reading()
	var errs []error

	if r.RecordedAt.After(v.now().Add(maxClockSkew)) {
		errs = append(errs, errors.New("timestamp is in the future"))
	}

	// Проверка температуры в шкале Кельвина
	if r.TemperatureC+kelvinOffset <= 0 {
		errs = append(errs, errors.New("temperature below absolute zero"))
	}
	if r.TemperatureC > maxTemperatureC {
		errs = append(errs, fmt.Errorf("temperature above %.0f C", maxTemperatureC))
	}

	if r.BatteryHealthPct < 0 || r.BatteryHealthPct > 100 {
		errs = append(errs, errors.New("battery health must be within 0..100"))
	}
	if r.BatteryCycleCount < 0 || r.BatteryCycleCount > maxCycleCount {
		errs = append(errs, errors.New("battery cycle count out of range"))
	}
	if r.BatteryVoltage < 0 || r.BatteryVoltage > maxBatteryVoltage {
		errs = append(errs, errors.New("battery voltage out of range"))
	}
	if r.ThermalEventCount < 0 || r.ThrottleEventCount < 0 || r.CrashCount < 0 {
		errs = append(errs, errors.New("event counters cannot be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", domainerr.ErrInvalidReading, errors.Join(errs...))
	}
	return nil
}

// IsReasonable возвращает true, если снимок проходит валидацию
func (v *TelemetryValidator) IsReasonable(snapshot *entity.TelemetrySnapshot) bool {
	return v.Validate(snapshot) == nil
}
