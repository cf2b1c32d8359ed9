package heuristic

import (
	"context"
	"math"
	"strings"

	"github.com/dreschagin/device-lifecycle/internal/application/port"
	"github.com/dreschagin/device-lifecycle/internal/domain/entity"
	"github.com/dreschagin/device-lifecycle/internal/domain/valueobject"
)

// base resale prices in USD by manufacturer and storage tier
var basePrices = map[string]map[int]float64{
	"apple":   {64: 300, 128: 400, 256: 500, 512: 650, 1024: 800},
	"samsung": {64: 200, 128: 280, 256: 380, 512: 500, 1024: 650},
	"google":  {64: 180, 128: 250, 256: 350, 512: 450, 1024: 600},
}

var storageTiers = []int{64, 128, 256, 512, 1024}

var gradeFactors = map[valueobject.Grade]float64{
	valueobject.GradeMint:      1.0,
	valueobject.GradeExcellent: 1.0,
	valueobject.GradeGood:      0.85,
	valueobject.GradeFair:      0.65,
	valueobject.GradeRecycle:   0.45,
}

var attributionWeights = map[string]float64{
	"age":          0.25,
	"grade":        0.20,
	"battery":      0.18,
	"storage":      0.15,
	"screen":       0.12,
	"body":         0.06,
	"ram":          0.04,
	"market_index": 0,
}

const (
	defaultBasePrice   = 200.0
	unknownGradeFactor = 0.85
	unknownBattery     = 0.85
	intervalWidth      = 0.15
	minAgeFactor       = 0.3
	ageLossPerYear     = 0.2
)

// PriceEstimator values a device from its features
type PriceEstimator struct {
	currency string
}

// NewPriceEstimator creates a price estimator quoting in currency
func NewPriceEstimator(currency string) *PriceEstimator {
	if currency == "" {
		currency = "USD"
	}
	return &PriceEstimator{currency: currency}
}

// EstimatePrice implements port.PriceEstimator
func (e *PriceEstimator) EstimatePrice(ctx context.Context, f port.PriceFeatures) (*entity.PriceEstimate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	base := basePrice(f.Manufacturer, f.StorageGB)
	years := float64(f.AgeDays) / 365

	ageFactor := math.Max(minAgeFactor, 1-ageLossPerYear*years)

	battery := unknownBattery
	if f.BatteryHealthPct > 0 {
		battery = f.BatteryHealthPct / 100
		if f.BatteryCycles > highCycleCount {
			battery *= 0.9
		}
		if f.BatteryCycles > extremeCycles {
			battery *= 0.85
		}
	}

	grade, ok := gradeFactors[f.Grade]
	if !ok {
		grade = unknownGradeFactor
	}

	screen := math.Max(0, 1-0.05*float64(f.Defects[DefectScreenScratches]+f.Defects[DefectScreenCracks]))
	body := math.Max(0, 1-0.03*float64(f.Defects[DefectBodyScratches]+f.Defects[DefectDents]))

	market := 1.0
	if idx, ok := f.MarketSignals["market_index"]; ok && idx > 0 {
		market = idx
	}

	price := base * ageFactor * battery * grade * screen * body * market
	price = math.Round(price*100) / 100

	return &entity.PriceEstimate{
		Price:              price,
		Lower:              math.Round(price*(1-intervalWidth)*100) / 100,
		Upper:              math.Round(price*(1+intervalWidth)*100) / 100,
		Currency:           e.currency,
		FeatureAttribution: attribution(f),
	}, nil
}

func basePrice(manufacturer string, storageGB int) float64 {
	table, ok := basePrices[strings.ToLower(strings.TrimSpace(manufacturer))]
	if !ok {
		return defaultBasePrice
	}
	// nearest tier not above the device storage
	tier := storageTiers[0]
	for _, t := range storageTiers {
		if storageGB >= t {
			tier = t
		}
	}
	return table[tier]
}

func attribution(f port.PriceFeatures) map[string]float64 {
	out := make(map[string]float64, len(attributionWeights))
	for k, w := range attributionWeights {
		if k == "market_index" {
			if _, ok := f.MarketSignals[k]; !ok {
				continue
			}
		}
		out[k] = w
	}
	return out
}
