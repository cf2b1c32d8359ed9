package dto

import (
	"time"

	"github.com/dreschagin/device-lifecycle/internal/domain/entity"
	"github.com/dreschagin/device-lifecycle/internal/domain/valueobject"
)

// RegisterDeviceRequest - входные данные регистрации устройства
type RegisterDeviceRequest struct {
	ID                 string                      `json:"id"`
	Model              string                      `json:"model"`
	Manufacturer       string                      `json:"manufacturer"`
	StorageGB          int                         `json:"storage_gb"`
	RAMGB              int                         `json:"ram_gb"`
	BatteryCapacityMah int                         `json:"original_battery_capacity"`
	Owner              string                      `json:"current_owner"`
	PurchasedAt        *time.Time                  `json:"purchase_date,omitempty"`
	CarbonBaseline     *valueobject.CarbonBaseline `json:"carbon_baseline,omitempty"`
}

// ToSpec конвертирует запрос в параметры устройства
func (r RegisterDeviceRequest) ToSpec() entity.DeviceSpec {
	spec := entity.DeviceSpec{
		ID:                 r.ID,
		Model:              r.Model,
		Manufacturer:       r.Manufacturer,
		StorageGB:          r.StorageGB,
		RAMGB:              r.RAMGB,
		BatteryCapacityMah: r.BatteryCapacityMah,
		Owner:              r.Owner,
	}
	if r.PurchasedAt != nil {
		spec.PurchasedAt = r.PurchasedAt.UTC()
	}
	if r.CarbonBaseline != nil {
		spec.CarbonBaseline = *r.CarbonBaseline
	}
	return spec
}

// DeviceDTO представляет устройство для передачи между слоями
type DeviceDTO struct {
	ID                 string                     `json:"id"`
	Model              string                     `json:"model"`
	Manufacturer       string                     `json:"manufacturer"`
	StorageGB          int                        `json:"storage_gb"`
	RAMGB              int                        `json:"ram_gb"`
	BatteryCapacityMah int                        `json:"original_battery_capacity"`
	Owner              string                     `json:"current_owner"`
	Status             string                     `json:"status"`
	PassportID         string                     `json:"passport_id,omitempty"`
	PurchasedAt        time.Time                  `json:"purchase_date"`
	CarbonBaseline     valueobject.CarbonBaseline `json:"carbon_baseline"`
	CreatedAt          time.Time                  `json:"created_at"`
	UpdatedAt          time.Time                  `json:"updated_at"`
}

// FromDevice конвертирует Entity в DTO
func FromDevice(d *entity.Device) *DeviceDTO {
	return &DeviceDTO{
		ID:                 d.ID(),
		Model:              d.Model(),
		Manufacturer:       d.Manufacturer(),
		StorageGB:          d.StorageGB(),
		RAMGB:              d.RAMGB(),
		BatteryCapacityMah: d.BatteryCapacityMah(),
		Owner:              d.Owner(),
		Status:             d.Status().String(),
		PassportID:         d.PassportID(),
		PurchasedAt:        d.PurchasedAt(),
		CarbonBaseline:     d.CarbonBaseline(),
		CreatedAt:          d.CreatedAt(),
		UpdatedAt:          d.UpdatedAt(),
	}
}

// FromDevices конвертирует слайс Entity в слайс DTO
func FromDevices(devices []*entity.Device) []*DeviceDTO {
	dtos := make([]*DeviceDTO, len(devices))
	for i, d := range devices {
		dtos[i] = FromDevice(d)
	}
	return dtos
}

// TelemetryWindowDTO - окно телеметрии для ответа API
type TelemetryWindowDTO struct {
	DeviceID string                    `json:"device_id"`
	Days     int                       `json:"days"`
	Count    int                       `json:"count"`
	Items    []entity.TelemetryReading `json:"items"`
}

// FromTelemetryWindow конвертирует окно в DTO
func FromTelemetryWindow(w *entity.TelemetryWindow) *TelemetryWindowDTO {
	out := &TelemetryWindowDTO{
		DeviceID: w.DeviceID(),
		Days:     w.Days(),
		Count:    w.Len(),
		Items:    make([]entity.TelemetryReading, 0, w.Len()),
	}
	for r := range w.Readings() {
		out.Items = append(out.Items, r)
	}
	return out
}
