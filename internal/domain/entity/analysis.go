package entity

import (
	"time"

	"github.com/dreschagin/device-lifecycle/internal/domain/valueobject"
)

// HealthPrediction - прогноз состояния батареи по окну телеметрии
type HealthPrediction struct {
	RULDays            float64 `json:"rul_days"`
	FailureProbability float64 `json:"failure_probability"`
	DegradationRate    float64 `json:"degradation_rate"`
	Confidence         float64 `json:"confidence"`
}

// Defect - именованный дефект, найденный при оценке по изображениям
type Defect struct {
	Name     string `json:"name"`
	Count    int    `json:"count"`
	Severity string `json:"severity"` // "minor", "major", "severe"
}

// IsSevere сообщает, является ли дефект критичным для ремонта
func (d Defect) IsSevere() bool {
	return d.Severity == "severe"
}

// GradingResult - оценка внешнего состояния устройства
type GradingResult struct {
	Grade           valueobject.Grade `json:"grade"`
	Confidence      float64           `json:"confidence"`
	Defects         []Defect          `json:"defects"`
	SuggestedAction string            `json:"suggested_action"`
}

// HasSevereDefects возвращает true, если есть хотя бы один критичный дефект
func (g *GradingResult) HasSevereDefects() bool {
	for _, d := range g.Defects {
		if d.IsSevere() {
			return true
		}
	}
	return false
}

// PriceEstimate - оценка рыночной стоимости
type PriceEstimate struct {
	Price              float64            `json:"price"`
	Lower              float64            `json:"lower"`
	Upper              float64            `json:"upper"`
	Currency           string             `json:"currency"`
	FeatureAttribution map[string]float64 `json:"feature_attribution,omitempty"`
}

// Confidence выводит уверенность из ширины доверительного интервала
func (p *PriceEstimate) Confidence() float64 {
	if p.Price <= 0 {
		return 0
	}
	width := (p.Upper - p.Lower) / (2 * p.Price)
	return clampUnit(1 - width)
}

// ComponentState - исход вызова одной возможности
type ComponentState string

const (
	ComponentOK                  ComponentState = "ok"
	ComponentUnavailable         ComponentState = "unavailable"
	ComponentInsufficientHistory ComponentState = "insufficient_history"
	ComponentNoInput             ComponentState = "no_input"
	ComponentNotRequested        ComponentState = "not_requested"
)

// ComponentStatus описывает, почему компонент присутствует или отсутствует
type ComponentStatus struct {
	State     ComponentState `json:"state"`
	Detail    string         `json:"detail,omitempty"`
	LatencyMs int64          `json:"latency_ms,omitempty"`
}

// FusedAnalysis - объединенный результат трех возможностей для устройства.
// Отсутствующий компонент всегда явно помечен в Components и равен nil.
type FusedAnalysis struct {
	DeviceID   string                                     `json:"device_id"`
	Health     *HealthPrediction                          `json:"health,omitempty"`
	Grading    *GradingResult                             `json:"grading,omitempty"`
	Price      *PriceEstimate                             `json:"price,omitempty"`
	Components map[valueobject.Capability]ComponentStatus `json:"components"`
	AnalyzedAt time.Time                                  `json:"analyzed_at"`
}

// NewFusedAnalysis создает пустой результат: все компоненты не запрошены
func NewFusedAnalysis(deviceID string, at time.Time) *FusedAnalysis {
	components := make(map[valueobject.Capability]ComponentStatus, 3)
	for _, c := range valueobject.AllCapabilities() {
		components[c] = ComponentStatus{State: ComponentNotRequested}
	}
	return &FusedAnalysis{
		DeviceID:   deviceID,
		Components: components,
		AnalyzedAt: at,
	}
}

// Has сообщает, присутствует ли компонент
func (f *FusedAnalysis) Has(c valueobject.Capability) bool {
	switch c {
	case valueobject.CapabilityHealth:
		return f.Health != nil
	case valueobject.CapabilityGrading:
		return f.Grading != nil
	case valueobject.CapabilityPricing:
		return f.Price != nil
	default:
		return false
	}
}

// Absent возвращает список отсутствующих компонентов
func (f *FusedAnalysis) Absent() []valueobject.Capability {
	var absent []valueobject.Capability
	for _, c := range valueobject.AllCapabilities() {
		if !f.Has(c) {
			absent = append(absent, c)
		}
	}
	return absent
}

// Clone возвращает глубокую копию результата
func (f *FusedAnalysis) Clone() *FusedAnalysis {
	clone := *f
	if f.Health != nil {
		h := *f.Health
		clone.Health = &h
	}
	if f.Grading != nil {
		g := *f.Grading
		g.Defects = append([]Defect(nil), f.Grading.Defects...)
		clone.Grading = &g
	}
	if f.Price != nil {
		p := *f.Price
		if f.Price.FeatureAttribution != nil {
			p.FeatureAttribution = make(map[string]float64, len(f.Price.FeatureAttribution))
			for k, v := range f.Price.FeatureAttribution {
				p.FeatureAttribution[k] = v
			}
		}
		clone.Price = &p
	}
	clone.Components = make(map[valueobject.Capability]ComponentStatus, len(f.Components))
	for k, v := range f.Components {
		clone.Components[k] = v
	}
	return &clone
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
