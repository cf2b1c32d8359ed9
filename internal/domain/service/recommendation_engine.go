package service

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/dreschagin/device-lifecycle/internal/domain/entity"
	"github.com/dreschagin/device-lifecycle/internal/domain/valueobject"
)

// RecommendationPolicy - пороги правил рекомендаций
type RecommendationPolicy struct {
	HighFailureProbability float64
	LowGrade               valueobject.Grade
	ResaleGradeThreshold   valueobject.Grade
	ResaleFloor            float64
	ModerateDegradationMin float64
	ModerateDegradationMax float64
	MissingInputPenalty    float64
}

// DefaultRecommendationPolicy возвращает пороги по умолчанию
func DefaultRecommendationPolicy() RecommendationPolicy {
	return RecommendationPolicy{
		HighFailureProbability: 0.7,
		LowGrade:               valueobject.GradeFair,
		ResaleGradeThreshold:   valueobject.GradeExcellent,
		ResaleFloor:            100,
		ModerateDegradationMin: 0.06,
		ModerateDegradationMax: 0.12,
		MissingInputPenalty:    0.5,
	}
}

// Validate проверяет согласованность порогов
func (p RecommendationPolicy) Validate() error {
	if p.HighFailureProbability <= 0 || p.HighFailureProbability > 1 {
		return errors.New("high failure probability must be within (0, 1]")
	}
	if err := p.LowGrade.Validate(); err != nil {
		return fmt.Errorf("low grade: %w", err)
	}
	if err := p.ResaleGradeThreshold.Validate(); err != nil {
		return fmt.Errorf("resale grade threshold: %w", err)
	}
	if p.ResaleFloor < 0 {
		return errors.New("resale floor cannot be negative")
	}
	if p.ModerateDegradationMin < 0 || p.ModerateDegradationMax <= p.ModerateDegradationMin {
		return errors.New("moderate degradation range is invalid")
	}
	if p.MissingInputPenalty <= 0 || p.MissingInputPenalty > 1 {
		return errors.New("missing input penalty must be within (0, 1]")
	}
	return nil
}

// RecommendationEngine отображает результат анализа и состояние жизненного
// цикла в рекомендуемое действие (Domain Service, чистая функция)
type RecommendationEngine struct {
	policy    RecommendationPolicy
	lifecycle *LifecyclePolicy
}

// NewRecommendationEngine создает новый RecommendationEngine
func NewRecommendationEngine(policy RecommendationPolicy, lifecycle *LifecyclePolicy) *RecommendationEngine {
	if lifecycle == nil {
		lifecycle = NewLifecyclePolicy()
	}
	return &RecommendationEngine{policy: policy, lifecycle: lifecycle}
}

// Policy возвращает действующие пороги
func (e *RecommendationEngine) Policy() RecommendationPolicy {
	return e.policy
}

type ruleOutcome struct {
	action     valueobject.Action
	matched    bool
	confidence float64
	missing    []valueobject.Capability
	rationale  []string
}

// Recommend применяет правила в порядке приоритета, первое совпадение выигрывает.
// analysis и profile могут быть nil: отсутствующие входы понижают уверенность.
func (e *RecommendationEngine) Recommend(
	analysis *entity.FusedAnalysis,
	profile *entity.CircularityProfile,
	device *entity.Device,
	at time.Time,
) entity.Recommendation {
	if analysis == nil {
		analysis = entity.NewFusedAnalysis("", at)
	}

	rules := []func(*entity.FusedAnalysis) ruleOutcome{
		e.recycleRule,
		e.resellRule,
		e.repairRule,
	}

	var chosen *ruleOutcome
	var alternatives []valueobject.Action
	for _, rule := range rules {
		out := rule(analysis)
		if !out.matched || !e.allowed(device, out.action) {
			continue
		}
		if chosen == nil {
			o := out
			chosen = &o
			continue
		}
		alternatives = append(alternatives, out.action)
	}

	if chosen == nil {
		o := e.monitorOutcome(analysis)
		chosen = &o
	} else {
		alternatives = append(alternatives, valueobject.ActionMonitor)
	}

	rationale := append([]string(nil), chosen.rationale...)
	if profile != nil {
		rationale = append(rationale, fmt.Sprintf(
			"circularity score %d, carbon offset %.0f kg CO2e over %d events",
			profile.Score, profile.CarbonOffsetKg, profile.EventCount,
		))
	}
	for _, m := range chosen.missing {
		rationale = append(rationale, fmt.Sprintf("%s input missing, confidence reduced", m))
	}

	deviceID := analysis.DeviceID
	if device != nil {
		deviceID = device.ID()
	}

	return entity.Recommendation{
		DeviceID:      deviceID,
		Action:        chosen.action,
		Confidence:    roundConfidence(chosen.confidence),
		Rationale:     rationale,
		MissingInputs: chosen.missing,
		Alternatives:  alternatives,
		GeneratedAt:   at,
	}
}

// allowed отбрасывает действия, недопустимые из текущего статуса устройства
func (e *RecommendationEngine) allowed(device *entity.Device, action valueobject.Action) bool {
	if device == nil {
		return true
	}
	kind, ok := action.EventKind()
	if !ok {
		return true
	}
	return e.lifecycle.CanApply(device.Status(), kind)
}

func (e *RecommendationEngine) recycleRule(a *entity.FusedAnalysis) ruleOutcome {
	out := ruleOutcome{action: valueobject.ActionRecycle, confidence: 1}

	// Вероятность отказа - основной сигнал правила
	if a.Health == nil || a.Health.FailureProbability <= e.policy.HighFailureProbability {
		return out
	}
	out.confidence = math.Min(out.confidence, a.Health.Confidence)
	out.rationale = append(out.rationale, fmt.Sprintf(
		"failure probability %.2f above %.2f", a.Health.FailureProbability, e.policy.HighFailureProbability,
	))

	if a.Grading != nil {
		if a.Grading.Grade > e.policy.LowGrade {
			return out
		}
		out.confidence = math.Min(out.confidence, a.Grading.Confidence)
		out.rationale = append(out.rationale, fmt.Sprintf("grade %s at or below %s", a.Grading.Grade, e.policy.LowGrade))
	} else {
		out.missing = append(out.missing, valueobject.CapabilityGrading)
	}

	out.matched = true
	out.confidence = e.penalize(out.confidence, len(out.missing))
	return out
}

func (e *RecommendationEngine) resellRule(a *entity.FusedAnalysis) ruleOutcome {
	out := ruleOutcome{action: valueobject.ActionResell, confidence: 1}

	// Без оценки цены правило не может сработать: нижняя граница обязательна
	if a.Price == nil {
		return out
	}
	if a.Price.Price < e.policy.ResaleFloor {
		return out
	}
	out.confidence = math.Min(out.confidence, a.Price.Confidence())
	out.rationale = append(out.rationale, fmt.Sprintf(
		"price estimate %.2f above resale floor %.2f", a.Price.Price, e.policy.ResaleFloor,
	))

	if a.Grading != nil {
		if !a.Grading.Grade.Below(e.policy.ResaleGradeThreshold) {
			return out
		}
		out.confidence = math.Min(out.confidence, a.Grading.Confidence)
		out.rationale = append(out.rationale, fmt.Sprintf("grade %s below %s", a.Grading.Grade, e.policy.ResaleGradeThreshold))
	} else {
		out.missing = append(out.missing, valueobject.CapabilityGrading)
	}

	out.matched = true
	out.confidence = e.penalize(out.confidence, len(out.missing))
	return out
}

func (e *RecommendationEngine) repairRule(a *entity.FusedAnalysis) ruleOutcome {
	out := ruleOutcome{action: valueobject.ActionRepair, confidence: 1}

	if a.Health == nil {
		return out
	}
	rate := a.Health.DegradationRate
	if rate < e.policy.ModerateDegradationMin || rate >= e.policy.ModerateDegradationMax {
		return out
	}
	out.confidence = math.Min(out.confidence, a.Health.Confidence)
	out.rationale = append(out.rationale, fmt.Sprintf("moderate degradation %.3f %%/day", rate))

	if a.Grading != nil {
		if a.Grading.HasSevereDefects() {
			return out
		}
		out.confidence = math.Min(out.confidence, a.Grading.Confidence)
		out.rationale = append(out.rationale, "no severe defects")
	} else {
		out.missing = append(out.missing, valueobject.CapabilityGrading)
	}

	out.matched = true
	out.confidence = e.penalize(out.confidence, len(out.missing))
	return out
}

func (e *RecommendationEngine) monitorOutcome(a *entity.FusedAnalysis) ruleOutcome {
	out := ruleOutcome{action: valueobject.ActionMonitor, confidence: 1, matched: true}

	if a.Health != nil {
		out.confidence = math.Min(out.confidence, a.Health.Confidence)
	} else {
		out.missing = append(out.missing, valueobject.CapabilityHealth)
	}
	if a.Grading != nil {
		out.confidence = math.Min(out.confidence, a.Grading.Confidence)
	} else {
		out.missing = append(out.missing, valueobject.CapabilityGrading)
	}
	if a.Price != nil {
		out.confidence = math.Min(out.confidence, a.Price.Confidence())
	} else {
		out.missing = append(out.missing, valueobject.CapabilityPricing)
	}

	out.rationale = append(out.rationale, "no intervention rule matched")
	out.confidence = e.penalize(out.confidence, len(out.missing))
	return out
}

func (e *RecommendationEngine) penalize(confidence float64, missing int) float64 {
	return confidence * math.Pow(e.policy.MissingInputPenalty, float64(missing))
}

func roundConfidence(v float64) float64 {
	return math.Round(v*1000) / 1000
}
