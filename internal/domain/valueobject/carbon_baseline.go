package valueobject

import "errors"

const (
	DefaultManufacturingKg = 70.0
	DefaultTransportKg     = 5.0
	DefaultUsageKgPerYear  = 2.0
)

// CarbonBaseline - базовый углеродный след устройства (kg CO2e)
type CarbonBaseline struct {
	ManufacturingKg float64 `json:"manufacturing_kg"`
	TransportKg     float64 `json:"transport_kg"`
	UsageKgPerYear  float64 `json:"usage_kg_per_year"`
}

// DefaultCarbonBaseline возвращает базовую линию по умолчанию для смартфона
func DefaultCarbonBaseline() CarbonBaseline {
	return CarbonBaseline{
		ManufacturingKg: DefaultManufacturingKg,
		TransportKg:     DefaultTransportKg,
		UsageKgPerYear:  DefaultUsageKgPerYear,
	}
}

// Validate проверяет, что компоненты неотрицательны
func (b CarbonBaseline) Validate() error {
	if b.ManufacturingKg < 0 || b.TransportKg < 0 || b.UsageKgPerYear < 0 {
		return errors.New("carbon baseline components cannot be negative")
	}
	return nil
}

// IsZero возвращает true, если базовая линия не задана
func (b CarbonBaseline) IsZero() bool {
	return b == CarbonBaseline{}
}

// Total возвращает базовый след для устройства возрастом ageYears
func (b CarbonBaseline) Total(ageYears int) float64 {
	return b.ManufacturingKg + b.TransportKg + b.UsageKgPerYear*float64(ageYears)
}
