package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dreschagin/device-lifecycle/internal/domain/domainerr"
	"github.com/dreschagin/device-lifecycle/internal/domain/entity"
	"github.com/dreschagin/device-lifecycle/internal/domain/valueobject"
)

// TelemetryRepository реализует repository.TelemetryRepository для PostgreSQL.
// Уникальность (device_id, recorded_at) обеспечивает первичный ключ.
type TelemetryRepository struct {
	db *sql.DB
}

// NewTelemetryRepository создает новый repository
func NewTelemetryRepository(db *sql.DB) *TelemetryRepository {
	return &TelemetryRepository{db: db}
}

// Append добавляет снимок
func (r *TelemetryRepository) Append(ctx context.Context, snapshot *entity.TelemetrySnapshot) error {
	rd := snapshot.Reading()

	query := `INSERT INTO telemetry_snapshots (` + telemetryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.ExecContext(ctx, query,
		rd.DeviceID,
		rd.RecordedAt,
		rd.BatteryCycleCount,
		rd.BatteryHealthPct,
		rd.BatteryVoltage,
		rd.TemperatureC,
		rd.ThermalEventCount,
		rd.ThrottleEventCount,
		rd.CrashCount,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s at %s", domainerr.ErrDuplicateTimestamp, rd.DeviceID, rd.RecordedAt)
	}
	if err != nil {
		return fmt.Errorf("failed to insert telemetry: %w", err)
	}
	return nil
}

// FindByTimeRange возвращает снимки в диапазоне по возрастанию времени
func (r *TelemetryRepository) FindByTimeRange(
	ctx context.Context,
	deviceID string,
	timeRange valueobject.TimeRange,
) ([]*entity.TelemetrySnapshot, error) {
	query := `SELECT ` + telemetryColumns + `
		FROM telemetry_snapshots
		WHERE device_id = $1 AND recorded_at BETWEEN $2 AND $3
		ORDER BY recorded_at ASC`

	rows, err := r.db.QueryContext(ctx, query, deviceID, timeRange.Start(), timeRange.End())
	if err != nil {
		return nil, fmt.Errorf("failed to query telemetry: %w", err)
	}
	defer rows.Close()

	var snapshots []*entity.TelemetrySnapshot
	for rows.Next() {
		s, err := ScanTelemetryRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan telemetry: %w", err)
		}
		snapshots = append(snapshots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return snapshots, nil
}

// FindLatest возвращает последний снимок устройства
func (r *TelemetryRepository) FindLatest(ctx context.Context, deviceID string) (*entity.TelemetrySnapshot, error) {
	query := `SELECT ` + telemetryColumns + `
		FROM telemetry_snapshots
		WHERE device_id = $1
		ORDER BY recorded_at DESC
		LIMIT 1`

	s, err := ScanTelemetryRow(r.db.QueryRowContext(ctx, query, deviceID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: no telemetry for %s", domainerr.ErrNotFound, deviceID)
		}
		return nil, fmt.Errorf("failed to scan telemetry: %w", err)
	}
	return s, nil
}
