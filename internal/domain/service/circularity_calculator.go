package service

import (
	"time"

	"github.com/dreschagin/device-lifecycle/internal/domain/entity"
	"github.com/dreschagin/device-lifecycle/internal/domain/valueobject"
)

const (
	baseCircularityScore = 70
	maxCircularityScore  = 100
	minCircularityScore  = 0

	// Бонус за переработку начисляется один раз
	recycleBonus = 15
)

var scoreWeights = map[valueobject.EventKind]int{
	valueobject.EventRepair:       5,
	valueobject.EventRefurbish:    10,
	valueobject.EventHarvestParts: 8,
}

var carbonOffsetsKg = map[valueobject.EventKind]float64{
	valueobject.EventRepair:       -5,
	valueobject.EventRefurbish:    -30,
	valueobject.EventHarvestParts: -15,
	valueobject.EventRecycle:      -20,
}

// CircularityCalculator сворачивает журнал событий в CircularityProfile (Domain Service).
// Чистая функция от (устройство, журнал, момент вычисления).
type CircularityCalculator struct{}

// NewCircularityCalculator создает новый CircularityCalculator
func NewCircularityCalculator() *CircularityCalculator {
	return &CircularityCalculator{}
}

// Compute выполняет полный проход по журналу.
// Ограничение [0, 100] применяется только к итоговой сумме.
func (c *CircularityCalculator) Compute(
	device *entity.Device,
	events []*entity.LifecycleEvent,
	at time.Time,
) entity.CircularityProfile {
	counts := make(map[valueobject.EventKind]int)
	raw := baseCircularityScore
	var offset float64

	for _, e := range events {
		kind := e.Kind()
		counts[kind]++
		raw += scoreWeights[kind]
		offset += carbonOffsetsKg[kind]
	}

	if counts[valueobject.EventRecycle] > 0 {
		raw += recycleBonus
	}

	age := device.AgeYears(at)
	raw += age

	baseline := device.CarbonBaseline().Total(age)
	net := baseline + offset
	if net < 0 {
		net = 0
	}

	return entity.CircularityProfile{
		DeviceID:       device.ID(),
		Score:          clampScore(raw),
		RawScore:       raw,
		CarbonOffsetKg: offset,
		BaselineKg:     baseline,
		NetFootprintKg: net,
		Counts:         counts,
		EventCount:     len(events),
		AgeYears:       age,
		ComputedAt:     at,
	}
}

func clampScore(v int) int {
	if v > maxCircularityScore {
		return maxCircularityScore
	}
	if v < minCircularityScore {
		return minCircularityScore
	}
	return v
}
