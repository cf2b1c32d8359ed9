package valueobject

// Action - рекомендуемое действие над устройством
type Action string

const (
	ActionRecycle Action = "recycle"
	ActionResell  Action = "resell"
	ActionRepair  Action = "repair"
	ActionMonitor Action = "monitor"
)

// String возвращает строковое представление
func (a Action) String() string {
	return string(a)
}

// EventKind возвращает событие жизненного цикла, которым действие будет
// зафиксировано. Для monitor события нет.
func (a Action) EventKind() (EventKind, bool) {
	switch a {
	case ActionRecycle:
		return EventRecycle, true
	case ActionResell:
		return EventResale, true
	case ActionRepair:
		return EventRepair, true
	default:
		return "", false
	}
}
