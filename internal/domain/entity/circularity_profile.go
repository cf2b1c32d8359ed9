package entity

import (
	"maps"
	"time"

	"github.com/dreschagin/device-lifecycle/internal/domain/valueobject"
)

// CircularityProfile - производный агрегат над журналом событий устройства.
// Не является источником истины: всегда воспроизводится повторным проходом по журналу.
type CircularityProfile struct {
	DeviceID       string                        `json:"device_id"`
	Score          int                           `json:"score"`
	RawScore       int                           `json:"raw_score"`
	CarbonOffsetKg float64                       `json:"carbon_offset_kg"`
	BaselineKg     float64                       `json:"baseline_kg"`
	NetFootprintKg float64                       `json:"net_footprint_kg"`
	Counts         map[valueobject.EventKind]int `json:"counts"`
	EventCount     int                           `json:"event_count"`
	AgeYears       int                           `json:"age_years"`
	ComputedAt     time.Time                     `json:"computed_at"`
}

// Count возвращает количество событий указанного вида
func (p CircularityProfile) Count(kind valueobject.EventKind) int {
	return p.Counts[kind]
}

// Equivalent сравнивает профили без учета времени вычисления
func (p *CircularityProfile) Equivalent(other *CircularityProfile) bool {
	if p == nil || other == nil {
		return p == other
	}
	return p.DeviceID == other.DeviceID &&
		p.Score == other.Score &&
		p.RawScore == other.RawScore &&
		p.CarbonOffsetKg == other.CarbonOffsetKg &&
		p.BaselineKg == other.BaselineKg &&
		p.NetFootprintKg == other.NetFootprintKg &&
		p.EventCount == other.EventCount &&
		p.AgeYears == other.AgeYears &&
		maps.Equal(p.Counts, other.Counts)
}

// MateriallyDiffers сообщает, требует ли изменение синхронизации паспорта:
// изменились score, углеродный офсет или счетчики событий
func (p *CircularityProfile) MateriallyDiffers(other *CircularityProfile) bool {
	if p == nil || other == nil {
		return p != other
	}
	return p.Score != other.Score ||
		p.CarbonOffsetKg != other.CarbonOffsetKg ||
		!maps.Equal(p.Counts, other.Counts)
}
