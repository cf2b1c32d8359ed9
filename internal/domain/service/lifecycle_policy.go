package service

import (
	"fmt"

	"github.com/dreschagin/device-lifecycle/internal/domain/domainerr"
	"github.com/dreschagin/device-lifecycle/internal/domain/valueobject"
)

// LifecyclePolicy - таблица переходов жизненного цикла устройства (Domain Service)
type LifecyclePolicy struct {
	transitions map[valueobject.DeviceStatus]map[valueobject.EventKind]valueobject.DeviceStatus
}

// NewLifecyclePolicy создает политику со стандартной таблицей переходов
func NewLifecyclePolicy() *LifecyclePolicy {
	return &LifecyclePolicy{
		transitions: map[valueobject.DeviceStatus]map[valueobject.EventKind]valueobject.DeviceStatus{
			valueobject.StatusActive: {
				valueobject.EventRepair:       valueobject.StatusUnderRepair,
				valueobject.EventRefurbish:    valueobject.StatusRefurbished,
				valueobject.EventHarvestParts: valueobject.StatusPartsHarvested,
				valueobject.EventRecycle:      valueobject.StatusRecycled,
				valueobject.EventResale:       valueobject.StatusActive,
			},
			valueobject.StatusUnderRepair: {
				valueobject.EventRepairCompleted: valueobject.StatusActive,
			},
			valueobject.StatusRefurbished: {
				valueobject.EventHarvestParts: valueobject.StatusPartsHarvested,
				valueobject.EventRecycle:      valueobject.StatusRecycled,
				valueobject.EventResale:       valueobject.StatusActive,
			},
			valueobject.StatusPartsHarvested: {
				valueobject.EventRecycle: valueobject.StatusRecycled,
			},
			valueobject.StatusRecycled: {
				valueobject.EventRetire: valueobject.StatusRetired,
			},
			valueobject.StatusRetired: {},
		},
	}
}

// Next возвращает статус после события или ErrInvalidTransition
func (p *LifecyclePolicy) Next(from valueobject.DeviceStatus, kind valueobject.EventKind) (valueobject.DeviceStatus, error) {
	if err := kind.Validate(); err != nil {
		return from, fmt.Errorf("%w: %v", domainerr.ErrInvalidTransition, err)
	}
	next, ok := p.transitions[from][kind]
	if !ok {
		return from, fmt.Errorf("%w: %s is not allowed from %s", domainerr.ErrInvalidTransition, kind, from)
	}
	return next, nil
}

// Allowed возвращает допустимые события из статуса в стабильном порядке
func (p *LifecyclePolicy) Allowed(from valueobject.DeviceStatus) []valueobject.EventKind {
	var kinds []valueobject.EventKind
	for _, k := range valueobject.AllEventKinds() {
		if _, ok := p.transitions[from][k]; ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// CanApply сообщает, допустимо ли событие из статуса
func (p *LifecyclePolicy) CanApply(from valueobject.DeviceStatus, kind valueobject.EventKind) bool {
	_, ok := p.transitions[from][kind]
	return ok
}

// Replay проверяет, что последовательность событий допустима из статуса active,
// и возвращает итоговый статус
func (p *LifecyclePolicy) Replay(kinds []valueobject.EventKind) (valueobject.DeviceStatus, error) {
	status := valueobject.StatusActive
	for i, k := range kinds {
		next, err := p.Next(status, k)
		if err != nil {
			return status, fmt.Errorf("event %d: %w", i, err)
		}
		status = next
	}
	return status, nil
}
