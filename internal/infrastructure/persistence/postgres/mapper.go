package postgres

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/dreschagin/device-lifecycle/internal/domain/entity"
	"github.com/dreschagin/device-lifecycle/internal/domain/valueobject"
)

// rowScanner - общий интерфейс *sql.Row и *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// DeviceDBModel представляет устройство в БД
type DeviceDBModel struct {
	ID                 string
	Model              string
	Manufacturer       string
	StorageGB          int
	RAMGB              int
	BatteryCapacityMah int
	Owner              string
	PurchasedAt        sql.NullTime
	ManufacturingKg    float64
	TransportKg        float64
	UsageKgPerYear     float64
	Status             string
	PassportID         string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

const deviceColumns = `id, model, manufacturer, storage_gb, ram_gb, battery_capacity_mah, owner,
	purchased_at, manufacturing_kg, transport_kg, usage_kg_per_year, status, passport_id, created_at, updated_at`

// ToDeviceDBModel конвертирует Domain Entity в DB Model
func ToDeviceDBModel(device *entity.Device) *DeviceDBModel {
	spec := device.Spec()
	baseline := device.CarbonBaseline()

	model := &DeviceDBModel{
		ID:                 device.ID(),
		Model:              spec.Model,
		Manufacturer:       spec.Manufacturer,
		StorageGB:          spec.StorageGB,
		RAMGB:              spec.RAMGB,
		BatteryCapacityMah: spec.BatteryCapacityMah,
		Owner:              spec.Owner,
		ManufacturingKg:    baseline.ManufacturingKg,
		TransportKg:        baseline.TransportKg,
		UsageKgPerYear:     baseline.UsageKgPerYear,
		Status:             device.Status().String(),
		PassportID:         device.PassportID(),
		CreatedAt:          device.CreatedAt(),
		UpdatedAt:          device.UpdatedAt(),
	}
	if !spec.PurchasedAt.IsZero() {
		model.PurchasedAt = sql.NullTime{Time: spec.PurchasedAt, Valid: true}
	}
	return model
}

// ToDevice восстанавливает устройство через Reconstruct
func ToDevice(model *DeviceDBModel) *entity.Device {
	spec := entity.DeviceSpec{
		ID:                 model.ID,
		Model:              model.Model,
		Manufacturer:       model.Manufacturer,
		StorageGB:          model.StorageGB,
		RAMGB:              model.RAMGB,
		BatteryCapacityMah: model.BatteryCapacityMah,
		Owner:              model.Owner,
		CarbonBaseline: valueobject.CarbonBaseline{
			ManufacturingKg: model.ManufacturingKg,
			TransportKg:     model.TransportKg,
			UsageKgPerYear:  model.UsageKgPerYear,
		},
	}
	if model.PurchasedAt.Valid {
		spec.PurchasedAt = model.PurchasedAt.Time.UTC()
	}

	return entity.ReconstructDevice(
		spec,
		valueobject.DeviceStatus(model.Status),
		model.PassportID,
		model.CreatedAt.UTC(),
		model.UpdatedAt.UTC(),
	)
}

// ScanDeviceRow сканирует строку БД в DeviceDBModel
func ScanDeviceRow(row rowScanner) (*DeviceDBModel, error) {
	var model DeviceDBModel
	err := row.Scan(
		&model.ID,
		&model.Model,
		&model.Manufacturer,
		&model.StorageGB,
		&model.RAMGB,
		&model.BatteryCapacityMah,
		&model.Owner,
		&model.PurchasedAt,
		&model.ManufacturingKg,
		&model.TransportKg,
		&model.UsageKgPerYear,
		&model.Status,
		&model.PassportID,
		&model.CreatedAt,
		&model.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &model, nil
}

const telemetryColumns = `device_id, recorded_at, battery_cycle_count, battery_health_pct, battery_voltage,
	temperature_c, thermal_events, throttle_events, crash_count`

// ScanTelemetryRow сканирует строку телеметрии в снимок
func ScanTelemetryRow(row rowScanner) (*entity.TelemetrySnapshot, error) {
	var r entity.TelemetryReading
	err := row.Scan(
		&r.DeviceID,
		&r.RecordedAt,
		&r.BatteryCycleCount,
		&r.BatteryHealthPct,
		&r.BatteryVoltage,
		&r.TemperatureC,
		&r.ThermalEventCount,
		&r.ThrottleEventCount,
		&r.CrashCount,
	)
	if err != nil {
		return nil, err
	}
	return entity.NewTelemetrySnapshot(r)
}

// EventDBModel представляет событие журнала в БД
type EventDBModel struct {
	Seq        int64
	ID         string
	DeviceID   string
	Kind       string
	OccurredAt time.Time
	Metadata   []byte // JSON
}

const eventColumns = `seq, id, device_id, kind, occurred_at, metadata`

// ToEventDBModel конвертирует событие в DB Model
func ToEventDBModel(event *entity.LifecycleEvent) (*EventDBModel, error) {
	var metadataBytes []byte
	if metadata := event.Metadata(); len(metadata) > 0 {
		var err error
		metadataBytes, err = json.Marshal(metadata)
		if err != nil {
			return nil, err
		}
	}

	return &EventDBModel{
		Seq:        event.Sequence(),
		ID:         event.ID(),
		DeviceID:   event.DeviceID(),
		Kind:       event.Kind().String(),
		OccurredAt: event.OccurredAt(),
		Metadata:   metadataBytes,
	}, nil
}

// ToEvent восстанавливает событие
func ToEvent(model *EventDBModel) (*entity.LifecycleEvent, error) {
	var metadata map[string]interface{}
	if len(model.Metadata) > 0 {
		if err := json.Unmarshal(model.Metadata, &metadata); err != nil {
			return nil, err
		}
	}

	return entity.ReconstructLifecycleEvent(
		model.ID,
		model.DeviceID,
		valueobject.EventKind(model.Kind),
		model.OccurredAt,
		model.Seq,
		metadata,
	), nil
}

// ScanEventRow сканирует строку журнала
func ScanEventRow(row rowScanner) (*EventDBModel, error) {
	var model EventDBModel
	var metadata sql.NullString

	if err := row.Scan(&model.Seq, &model.ID, &model.DeviceID, &model.Kind, &model.OccurredAt, &metadata); err != nil {
		return nil, err
	}
	if metadata.Valid {
		model.Metadata = []byte(metadata.String)
	}
	return &model, nil
}

// PassportDBModel представляет паспорт в БД
type PassportDBModel struct {
	DeviceID     string
	LedgerRef    string
	TxHash       string
	Owner        string
	MintedAt     time.Time
	LastSyncedAt time.Time
	Profile      []byte // JSON
}

const passportColumns = `device_id, ledger_ref, tx_hash, owner, minted_at, last_synced_at, profile`

// ToPassportDBModel конвертирует паспорт в DB Model
func ToPassportDBModel(passport *entity.Passport) (*PassportDBModel, error) {
	profile, err := json.Marshal(passport.Profile())
	if err != nil {
		return nil, err
	}
	return &PassportDBModel{
		DeviceID:     passport.DeviceID(),
		LedgerRef:    passport.LedgerRef(),
		TxHash:       passport.TxHash(),
		Owner:        passport.Owner(),
		MintedAt:     passport.MintedAt(),
		LastSyncedAt: passport.LastSyncedAt(),
		Profile:      profile,
	}, nil
}

// ToPassport восстанавливает паспорт
func ToPassport(model *PassportDBModel) (*entity.Passport, error) {
	var profile entity.CircularityProfile
	if len(model.Profile) > 0 {
		if err := json.Unmarshal(model.Profile, &profile); err != nil {
			return nil, err
		}
	}
	return entity.ReconstructPassport(
		model.DeviceID,
		model.LedgerRef,
		model.TxHash,
		model.Owner,
		profile,
		model.MintedAt.UTC(),
		model.LastSyncedAt.UTC(),
	), nil
}

// ScanPassportRow сканирует строку паспорта
func ScanPassportRow(row rowScanner) (*PassportDBModel, error) {
	var model PassportDBModel
	err := row.Scan(
		&model.DeviceID,
		&model.LedgerRef,
		&model.TxHash,
		&model.Owner,
		&model.MintedAt,
		&model.LastSyncedAt,
		&model.Profile,
	)
	if err != nil {
		return nil, err
	}
	return &model, nil
}
