package service

import (
	"github.com/dreschagin/device-lifecycle/internal/domain/entity"
)

// WindowStats - агрегаты окна телеметрии
type WindowStats struct {
	Count              int
	LatestHealthPct    float64
	LatestCycleCount   int
	AvgTemperatureC    float64
	MaxTemperatureC    float64
	TotalThermalEvents int
	TotalThrottles     int
	TotalCrashes       int
	SpanDays           float64
}

// TelemetryAggregator предоставляет агрегацию окна телеметрии (Domain Service)
type TelemetryAggregator struct{}

// NewTelemetryAggregator создает новый TelemetryAggregator
func NewTelemetryAggregator() *TelemetryAggregator {
	return &TelemetryAggregator{}
}

// Aggregate вычисляет агрегаты за один проход по окну
func (a *TelemetryAggregator) Aggregate(window *entity.TelemetryWindow) WindowStats {
	var stats WindowStats
	if window == nil {
		return stats
	}

	var tempSum float64
	first := true
	for r := range window.Readings() {
		stats.Count++
		tempSum += r.TemperatureC
		if first || r.TemperatureC > stats.MaxTemperatureC {
			stats.MaxTemperatureC = r.TemperatureC
		}
		first = false
		stats.TotalThermalEvents += r.ThermalEventCount
		stats.TotalThrottles += r.ThrottleEventCount
		stats.TotalCrashes += r.CrashCount
		stats.LatestHealthPct = r.BatteryHealthPct
		stats.LatestCycleCount = r.BatteryCycleCount
	}

	if stats.Count > 0 {
		stats.AvgTemperatureC = tempSum / float64(stats.Count)
	}
	stats.SpanDays = window.Span().Hours() / 24

	return stats
}

// HealthSeries возвращает пары (сутки от начала окна, здоровье батареи)
func (a *TelemetryAggregator) HealthSeries(window *entity.TelemetryWindow) (days []float64, health []float64) {
	var origin *entity.TelemetrySnapshot
	for s := range window.All() {
		if origin == nil {
			origin = s
		}
		days = append(days, s.RecordedAt().Sub(origin.RecordedAt()).Hours()/24)
		health = append(health, s.Reading().BatteryHealthPct)
	}
	return days, health
}
