// Package heuristic provides local implementations of the three prediction
// capabilities. They are deterministic functions of their input and serve as
// default backends when no remote model endpoint is configured.
package heuristic

import (
	"context"
	"errors"
	"math"

	"github.com/sajari/regression"

	"github.com/dreschagin/device-lifecycle/internal/domain/entity"
	"github.com/dreschagin/device-lifecycle/internal/domain/service"
)

const (
	baseDegradationPerDay = 0.05
	healthFloorPct        = 20.0
	maxRULDays            = 730.0
	healthConfidence      = 0.88

	// minimum points and span before the fitted trend is trusted
	minTrendPoints  = 5
	minTrendDays    = 3.0
	maxTrendWeight  = 0.5
	minDegradation  = 0.001
	highCycleCount  = 500
	extremeCycles   = 1000
	warmTempC       = 35.0
	hotTempC        = 40.0
	thermalPenalty  = 0.001
	crashPenalty    = 0.005
	thermalRiskFrom = 10
	crashRiskFrom   = 5
)

// HealthPredictor estimates battery degradation and remaining useful life
type HealthPredictor struct {
	aggregator *service.TelemetryAggregator
}

// NewHealthPredictor creates a health predictor
func NewHealthPredictor() *HealthPredictor {
	return &HealthPredictor{aggregator: service.NewTelemetryAggregator()}
}

// PredictHealth implements port.HealthPredictor
func (p *HealthPredictor) PredictHealth(ctx context.Context, window *entity.TelemetryWindow) (*entity.HealthPrediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if window == nil || window.Len() == 0 {
		return nil, errors.New("empty telemetry window")
	}

	stats := p.aggregator.Aggregate(window)
	rate := heuristicRate(stats)

	if trend, weight, ok := p.trend(window); ok {
		rate = rate*(1-weight) + trend*weight
	}
	rate = math.Max(rate, minDegradation)

	health := stats.LatestHealthPct
	var rul float64
	if health > healthFloorPct {
		rul = clamp((health-healthFloorPct)/rate, 1, maxRULDays)
	} else {
		rul = clamp(health/rate, 0, maxRULDays)
	}

	failure := 1 - health/100
	if stats.TotalThermalEvents > thermalRiskFrom {
		failure += 0.1
	}
	if stats.TotalCrashes > crashRiskFrom {
		failure += 0.15
	}

	return &entity.HealthPrediction{
		RULDays:            math.Round(rul),
		FailureProbability: round(clamp(failure, 0, 1), 3),
		DegradationRate:    round(rate, 4),
		Confidence:         healthConfidence,
	}, nil
}

func heuristicRate(stats service.WindowStats) float64 {
	rate := baseDegradationPerDay
	if stats.LatestCycleCount > highCycleCount {
		rate += 0.02
	}
	if stats.LatestCycleCount > extremeCycles {
		rate += 0.03
	}
	if stats.AvgTemperatureC > warmTempC {
		rate += 0.01
	}
	if stats.AvgTemperatureC > hotTempC {
		rate += 0.02
	}
	rate += float64(stats.TotalThermalEvents) * thermalPenalty
	rate += float64(stats.TotalCrashes) * crashPenalty
	return rate
}

// trend fits health against elapsed days and returns the observed loss per
// day with a weight derived from the fit quality.
func (p *HealthPredictor) trend(window *entity.TelemetryWindow) (float64, float64, bool) {
	days, health := p.aggregator.HealthSeries(window)
	if len(days) < minTrendPoints || days[len(days)-1] < minTrendDays {
		return 0, 0, false
	}

	r := new(regression.Regression)
	r.SetObserved("battery_health_pct")
	r.SetVar(0, "days")
	for i := range days {
		r.Train(regression.DataPoint(health[i], []float64{days[i]}))
	}
	if err := r.Run(); err != nil {
		return 0, 0, false
	}

	loss := -r.Coeff(1)
	if loss <= 0 || math.IsNaN(loss) || math.IsNaN(r.R2) {
		return 0, 0, false
	}
	return loss, clamp(r.R2, 0, 1) * maxTrendWeight, true
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
