package entity

import (
	"time"

	"github.com/dreschagin/device-lifecycle/internal/domain/valueobject"
)

// Recommendation - рекомендуемое действие с уверенностью и обоснованием
type Recommendation struct {
	DeviceID      string                   `json:"device_id"`
	Action        valueobject.Action       `json:"action"`
	Confidence    float64                  `json:"confidence"`
	Rationale     []string                 `json:"rationale"`
	MissingInputs []valueobject.Capability `json:"missing_inputs,omitempty"`
	Alternatives  []valueobject.Action     `json:"alternatives,omitempty"`
	GeneratedAt   time.Time                `json:"generated_at"`
}
