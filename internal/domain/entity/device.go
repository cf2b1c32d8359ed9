package entity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dreschagin/device-lifecycle/internal/domain/domainerr"
	"github.com/dreschagin/device-lifecycle/internal/domain/valueobject"
)

// TransitionPolicy определяет таблицу переходов жизненного цикла.
// Реализуется доменным сервисом LifecyclePolicy.
type TransitionPolicy interface {
	Next(from valueobject.DeviceStatus, kind valueobject.EventKind) (valueobject.DeviceStatus, error)
}

// DeviceSpec описывает параметры регистрируемого устройства
type DeviceSpec struct {
	ID                 string
	Model              string
	Manufacturer       string
	StorageGB          int
	RAMGB              int
	BatteryCapacityMah int
	Owner              string
	PurchasedAt        time.Time
	CarbonBaseline     valueobject.CarbonBaseline
}

// Device представляет физическое устройство (Aggregate Root).
// Статус меняется только через ApplyEvent.
type Device struct {
	spec       DeviceSpec
	status     valueobject.DeviceStatus
	passportID string
	createdAt  time.Time
	updatedAt  time.Time
}

// NewDevice создает новое устройство в статусе active
func NewDevice(spec DeviceSpec, now time.Time) (*Device, error) {
	spec.ID = strings.TrimSpace(spec.ID)
	if spec.ID == "" {
		return nil, fmt.Errorf("%w: device id is required", domainerr.ErrInvalidInput)
	}
	if strings.TrimSpace(spec.Model) == "" {
		return nil, fmt.Errorf("%w: model is required", domainerr.ErrInvalidInput)
	}
	if spec.StorageGB < 0 || spec.RAMGB < 0 || spec.BatteryCapacityMah < 0 {
		return nil, fmt.Errorf("%w: specs cannot be negative", domainerr.ErrInvalidInput)
	}
	if spec.CarbonBaseline.IsZero() {
		spec.CarbonBaseline = valueobject.DefaultCarbonBaseline()
	}
	if err := spec.CarbonBaseline.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domainerr.ErrInvalidInput, err)
	}
	if !spec.PurchasedAt.IsZero() && spec.PurchasedAt.After(now) {
		return nil, fmt.Errorf("%w: purchase date is in the future", domainerr.ErrInvalidInput)
	}

	return &Device{
		spec:      spec,
		status:    valueobject.StatusActive,
		createdAt: now,
		updatedAt: now,
	}, nil
}

// ReconstructDevice восстанавливает устройство из хранилища
func ReconstructDevice(
	spec DeviceSpec,
	status valueobject.DeviceStatus,
	passportID string,
	createdAt, updatedAt time.Time,
) *Device {
	if spec.CarbonBaseline.IsZero() {
		spec.CarbonBaseline = valueobject.DefaultCarbonBaseline()
	}
	return &Device{
		spec:       spec,
		status:     status,
		passportID: passportID,
		createdAt:  createdAt,
		updatedAt:  updatedAt,
	}
}

func (d *Device) ID() string                                 { return d.spec.ID }
func (d *Device) Model() string                              { return d.spec.Model }
func (d *Device) Manufacturer() string                       { return d.spec.Manufacturer }
func (d *Device) StorageGB() int                             { return d.spec.StorageGB }
func (d *Device) RAMGB() int                                 { return d.spec.RAMGB }
func (d *Device) BatteryCapacityMah() int                    { return d.spec.BatteryCapacityMah }
func (d *Device) Owner() string                              { return d.spec.Owner }
func (d *Device) CarbonBaseline() valueobject.CarbonBaseline { return d.spec.CarbonBaseline }
func (d *Device) Status() valueobject.DeviceStatus           { return d.status }
func (d *Device) PassportID() string                         { return d.passportID }
func (d *Device) CreatedAt() time.Time                       { return d.createdAt }
func (d *Device) UpdatedAt() time.Time                       { return d.updatedAt }

// Spec возвращает копию параметров устройства
func (d *Device) Spec() DeviceSpec {
	return d.spec
}

// PurchasedAt возвращает дату покупки, либо дату регистрации если она не указана
func (d *Device) PurchasedAt() time.Time {
	if d.spec.PurchasedAt.IsZero() {
		return d.createdAt
	}
	return d.spec.PurchasedAt
}

// Domain Methods

// AgeYears возвращает количество полных лет с момента покупки
func (d *Device) AgeYears(at time.Time) int {
	start := d.PurchasedAt()
	if at.Before(start) {
		return 0
	}
	years := at.Year() - start.Year()
	if at.YearDay() < start.YearDay() {
		years--
	}
	if years < 0 {
		return 0
	}
	return years
}

// AgeDays возвращает возраст устройства в сутках
func (d *Device) AgeDays(at time.Time) int {
	if at.Before(d.PurchasedAt()) {
		return 0
	}
	return int(at.Sub(d.PurchasedAt()).Hours() / 24)
}

// ApplyEvent переводит устройство в следующий статус по таблице переходов.
// При недопустимом переходе состояние не меняется.
func (d *Device) ApplyEvent(kind valueobject.EventKind, policy TransitionPolicy, at time.Time) error {
	if policy == nil {
		return errors.New("transition policy is required")
	}
	next, err := policy.Next(d.status, kind)
	if err != nil {
		return err
	}
	d.status = next
	d.updatedAt = at
	return nil
}

// AttachPassport связывает устройство с выпущенным паспортом
func (d *Device) AttachPassport(passportID string, at time.Time) error {
	if d.passportID != "" {
		return domainerr.ErrAlreadyMinted
	}
	d.passportID = passportID
	d.updatedAt = at
	return nil
}

// TransferOwnership меняет владельца устройства
func (d *Device) TransferOwnership(owner string, at time.Time) error {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return fmt.Errorf("%w: new owner is required", domainerr.ErrInvalidInput)
	}
	d.spec.Owner = owner
	d.updatedAt = at
	return nil
}
