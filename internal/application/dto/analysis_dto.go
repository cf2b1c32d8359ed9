package dto

import (
	"fmt"

	"github.com/dreschagin/device-lifecycle/internal/domain/entity"
	"github.com/dreschagin/device-lifecycle/internal/domain/valueobject"
)

// DedupPolicy определяет поведение при параллельном анализе одного устройства
type DedupPolicy string

const (
	// DedupJoin присоединяет вызов к уже выполняющемуся анализу
	DedupJoin DedupPolicy = "join"
	// DedupReject отклоняет вызов с ErrAnalysisInProgress
	DedupReject DedupPolicy = "reject"
)

// AnalyzeRequest - параметры анализа
type AnalyzeRequest struct {
	Capabilities  []string           `json:"capabilities,omitempty"`
	Images        []ImageInput       `json:"images,omitempty"`
	ForceRefresh  bool               `json:"force_refresh"`
	Policy        string             `json:"policy,omitempty"`
	KnownGrade    string             `json:"known_grade,omitempty"`
	MarketSignals map[string]float64 `json:"market_signals,omitempty"`
}

// ImageInput - ссылка на уже загруженное изображение
type ImageInput struct {
	Key         string         `json:"key"`
	URL         string         `json:"url"`
	Annotations map[string]int `json:"annotations,omitempty"`
}

// AnalysisDTO - результат анализа для ответа API и рассылки
type AnalysisDTO struct {
	*entity.FusedAnalysis
	Cached bool `json:"cached"`
}

// ParseCapabilities разбирает список возможностей; пустой список означает все
func ParseCapabilities(raw []string) ([]valueobject.Capability, error) {
	if len(raw) == 0 {
		return valueobject.AllCapabilities(), nil
	}
	seen := make(map[valueobject.Capability]struct{}, len(raw))
	caps := make([]valueobject.Capability, 0, len(raw))
	for _, r := range raw {
		c := valueobject.Capability(r)
		if err := c.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		caps = append(caps, c)
	}
	return caps, nil
}

// ParseDedupPolicy разбирает политику; пустая строка означает join
func ParseDedupPolicy(raw string) (DedupPolicy, error) {
	switch DedupPolicy(raw) {
	case "", DedupJoin:
		return DedupJoin, nil
	case DedupReject:
		return DedupReject, nil
	default:
		return "", fmt.Errorf("invalid dedup policy %q", raw)
	}
}
