package valueobject

import "fmt"

// DeviceStatus представляет статус устройства в жизненном цикле (Value Object)
type DeviceStatus string

const (
	StatusActive         DeviceStatus = "active"
	StatusUnderRepair    DeviceStatus = "under_repair"
	StatusRefurbished    DeviceStatus = "refurbished"
	StatusPartsHarvested DeviceStatus = "parts_harvested"
	StatusRecycled       DeviceStatus = "recycled"
	StatusRetired        DeviceStatus = "retired"
)

// Validate проверяет валидность статуса
func (s DeviceStatus) Validate() error {
	switch s {
	case StatusActive, StatusUnderRepair, StatusRefurbished,
		StatusPartsHarvested, StatusRecycled, StatusRetired:
		return nil
	default:
		return fmt.Errorf("invalid device status %q", string(s))
	}
}

// String возвращает строковое представление статуса
func (s DeviceStatus) String() string {
	return string(s)
}

// IsTerminal возвращает true для статуса, из которого нет переходов
func (s DeviceStatus) IsTerminal() bool {
	return s == StatusRetired
}

// InCirculation возвращает true, пока устройство может быть перепродано
func (s DeviceStatus) InCirculation() bool {
	return s == StatusActive || s == StatusRefurbished
}

// AllDeviceStatuses возвращает список всех статусов
func AllDeviceStatuses() []DeviceStatus {
	return []DeviceStatus{
		StatusActive, StatusUnderRepair, StatusRefurbished,
		StatusPartsHarvested, StatusRecycled, StatusRetired,
	}
}
