package port

import (
	"context"

	"github.com/dreschagin/device-lifecycle/internal/domain/entity"
	"github.com/dreschagin/device-lifecycle/internal/domain/valueobject"
)

// ImageRef ссылается на изображение устройства в объектном хранилище.
// Annotations содержат разметку дефектов, если она уже известна клиенту.
type ImageRef struct {
	Key         string         `json:"key"`
	URL         string         `json:"url"`
	ContentType string         `json:"content_type,omitempty"`
	Annotations map[string]int `json:"annotations,omitempty"`
}

// PriceFeatures - входные признаки для оценки цены
type PriceFeatures struct {
	DeviceID         string             `json:"device_id"`
	Model            string             `json:"model"`
	Manufacturer     string             `json:"manufacturer"`
	StorageGB        int                `json:"storage_gb"`
	RAMGB            int                `json:"ram_gb"`
	AgeDays          int                `json:"age_days"`
	BatteryHealthPct float64            `json:"battery_health_pct"`
	BatteryCycles    int                `json:"battery_cycles"`
	Grade            valueobject.Grade  `json:"grade,omitempty"`
	Defects          map[string]int     `json:"defects,omitempty"`
	MarketSignals    map[string]float64 `json:"market_signals,omitempty"`
}

// HealthPredictor предсказывает остаточный ресурс по окну телеметрии фиксированной длины.
// Реализации - чистые функции от входа, без побочных эффектов.
type HealthPredictor interface {
	PredictHealth(ctx context.Context, window *entity.TelemetryWindow) (*entity.HealthPrediction, error)
}

// Grader оценивает внешнее состояние по набору изображений
type Grader interface {
	GradeDevice(ctx context.Context, images []ImageRef) (*entity.GradingResult, error)
}

// PriceEstimator оценивает рыночную стоимость
type PriceEstimator interface {
	EstimatePrice(ctx context.Context, features PriceFeatures) (*entity.PriceEstimate, error)
}

// PredictionGateway - единый клиент к трем возможностям. Любой сбой
// (таймаут, транспорт, открытый предохранитель) возвращается как domainerr.ErrUnavailable.
type PredictionGateway interface {
	HealthPredictor
	Grader
	PriceEstimator
}
