package valueobject

import "fmt"

// Capability - одна из внешних предсказательных возможностей
type Capability string

const (
	CapabilityHealth  Capability = "health"
	CapabilityGrading Capability = "grading"
	CapabilityPricing Capability = "pricing"
)

// Validate проверяет валидность возможности
func (c Capability) Validate() error {
	switch c {
	case CapabilityHealth, CapabilityGrading, CapabilityPricing:
		return nil
	default:
		return fmt.Errorf("invalid capability %q", string(c))
	}
}

// String возвращает строковое представление
func (c Capability) String() string {
	return string(c)
}

// AllCapabilities возвращает все возможности в стабильном порядке
func AllCapabilities() []Capability {
	return []Capability{CapabilityHealth, CapabilityGrading, CapabilityPricing}
}
