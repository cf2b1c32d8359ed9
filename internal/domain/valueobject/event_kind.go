package valueobject

import "fmt"

// EventKind представляет вид события жизненного цикла (Value Object)
type EventKind string

const (
	EventRepair       EventKind = "repair"
	EventRefurbish    EventKind = "refurbish"
	EventHarvestParts EventKind = "harvest_parts"
	EventRecycle      EventKind = "recycle"
	EventResale       EventKind = "resale"

	// Служебные события без веса в скоринге: закрывают рёбра автомата,
	// которым не соответствует действие circular economy
	EventRepairCompleted EventKind = "repair_completed"
	EventRetire          EventKind = "retire"
)

// Validate проверяет валидность вида события
func (k EventKind) Validate() error {
	switch k {
	case EventRepair, EventRefurbish, EventHarvestParts, EventRecycle, EventResale,
		EventRepairCompleted, EventRetire:
		return nil
	default:
		return fmt.Errorf("invalid event kind %q", string(k))
	}
}

// String возвращает строковое представление
func (k EventKind) String() string {
	return string(k)
}

// IsCircularAction возвращает true для событий, влияющих на circularity score
func (k EventKind) IsCircularAction() bool {
	switch k {
	case EventRepair, EventRefurbish, EventHarvestParts, EventRecycle:
		return true
	default:
		return false
	}
}

// AllEventKinds возвращает список всех видов событий
func AllEventKinds() []EventKind {
	return []EventKind{
		EventRepair, EventRefurbish, EventHarvestParts, EventRecycle, EventResale,
		EventRepairCompleted, EventRetire,
	}
}
