package entity

import (
	"iter"
	"slices"
	"time"
)

// TelemetryWindow - упорядоченная по времени выборка снимков за скользящее окно.
// Последовательность ленивая, конечная и может обходиться многократно
// без повторного обращения к хранилищу.
type TelemetryWindow struct {
	deviceID  string
	days      int
	end       time.Time
	snapshots []*TelemetrySnapshot
}

// NewTelemetryWindow создает окно; снимки сортируются по времени
func NewTelemetryWindow(deviceID string, days int, end time.Time, snapshots []*TelemetrySnapshot) *TelemetryWindow {
	sorted := slices.Clone(snapshots)
	slices.SortStableFunc(sorted, func(a, b *TelemetrySnapshot) int {
		return a.RecordedAt().Compare(b.RecordedAt())
	})

	return &TelemetryWindow{
		deviceID:  deviceID,
		days:      days,
		end:       end,
		snapshots: sorted,
	}
}

func (w *TelemetryWindow) DeviceID() string { return w.deviceID }
func (w *TelemetryWindow) Days() int        { return w.days }
func (w *TelemetryWindow) End() time.Time   { return w.end }
func (w *TelemetryWindow) Len() int         { return len(w.snapshots) }

// All возвращает последовательность снимков в порядке времени
func (w *TelemetryWindow) All() iter.Seq[*TelemetrySnapshot] {
	return func(yield func(*TelemetrySnapshot) bool) {
		for _, s := range w.snapshots {
			if !yield(s) {
				return
			}
		}
	}
}

// Readings возвращает последовательность копий показаний
func (w *TelemetryWindow) Readings() iter.Seq[TelemetryReading] {
	return func(yield func(TelemetryReading) bool) {
		for s := range w.All() {
			if !yield(s.Reading()) {
				return
			}
		}
	}
}

// Latest возвращает последний снимок окна
func (w *TelemetryWindow) Latest() (*TelemetrySnapshot, bool) {
	if len(w.snapshots) == 0 {
		return nil, false
	}
	return w.snapshots[len(w.snapshots)-1], true
}

// Span возвращает интервал между первым и последним снимком
func (w *TelemetryWindow) Span() time.Duration {
	if len(w.snapshots) < 2 {
		return 0
	}
	return w.snapshots[len(w.snapshots)-1].RecordedAt().Sub(w.snapshots[0].RecordedAt())
}
