package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dreschagin/device-lifecycle/internal/domain/domainerr"
	"github.com/dreschagin/device-lifecycle/internal/domain/entity"
	_ "github.com/lib/pq"
)

// DeviceRepository реализует repository.DeviceRepository для PostgreSQL
type DeviceRepository struct {
	db *sql.DB
}

// NewDeviceRepository создает новый PostgreSQL repository
func NewDeviceRepository(db *sql.DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

// Create сохраняет новое устройство
func (r *DeviceRepository) Create(ctx context.Context, device *entity.Device) error {
	m := ToDeviceDBModel(device)

	query := `INSERT INTO devices (` + deviceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := r.db.ExecContext(ctx, query,
		m.ID, m.Model, m.Manufacturer, m.StorageGB, m.RAMGB, m.BatteryCapacityMah, m.Owner,
		m.PurchasedAt, m.ManufacturingKg, m.TransportKg, m.UsageKgPerYear, m.Status, m.PassportID,
		m.CreatedAt, m.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", domainerr.ErrDeviceExists, device.ID())
	}
	if err != nil {
		return fmt.Errorf("failed to insert device: %w", err)
	}
	return nil
}

// Update сохраняет статус, владельца и паспорт
func (r *DeviceRepository) Update(ctx context.Context, device *entity.Device) error {
	return updateDevice(ctx, r.db, device)
}

// FindByID находит устройство по идентификатору
func (r *DeviceRepository) FindByID(ctx context.Context, id string) (*entity.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE id = $1`

	model, err := ScanDeviceRow(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: device %s", domainerr.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to scan device: %w", err)
	}
	return ToDevice(model), nil
}

// List возвращает устройства постранично
func (r *DeviceRepository) List(ctx context.Context, offset, limit int) ([]*entity.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices ORDER BY id OFFSET $1 LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}
	defer rows.Close()

	var devices []*entity.Device
	for rows.Next() {
		model, err := ScanDeviceRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, ToDevice(model))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return devices, nil
}

// execer - общий интерфейс *sql.DB и *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func updateDevice(ctx context.Context, db execer, device *entity.Device) error {
	m := ToDeviceDBModel(device)

	res, err := db.ExecContext(ctx, `
		UPDATE devices
		SET status = $2, owner = $3, passport_id = $4, updated_at = $5
		WHERE id = $1
	`, m.ID, m.Status, m.Owner, m.PassportID, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update device: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: device %s", domainerr.ErrNotFound, device.ID())
	}
	return nil
}
