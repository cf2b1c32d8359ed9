// Package clickhouse stores device telemetry in ClickHouse.
package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/dreschagin/device-lifecycle/internal/application/lock"
	"github.com/dreschagin/device-lifecycle/internal/domain/domainerr"
	"github.com/dreschagin/device-lifecycle/internal/domain/entity"
	"github.com/dreschagin/device-lifecycle/internal/domain/valueobject"
)

// TelemetryTableSQL creates the telemetry table. ReplacingMergeTree collapses
// rows that slipped past the duplicate check during merges.
const TelemetryTableSQL = `
	CREATE TABLE IF NOT EXISTS telemetry_snapshots (
		device_id String,
		recorded_at DateTime64(3, 'UTC'),
		battery_cycle_count Int32,
		battery_health_pct Float64,
		battery_voltage Float64,
		temperature_c Float64,
		thermal_events Int32,
		throttle_events Int32,
		crash_count Int32
	) ENGINE = ReplacingMergeTree()
	ORDER BY (device_id, recorded_at)
	PARTITION BY toYYYYMM(recorded_at)
`

const selectColumns = `device_id, recorded_at, battery_cycle_count, battery_health_pct, battery_voltage,
	temperature_c, thermal_events, throttle_events, crash_count`

// Config holds connection settings
type Config struct {
	Addr     string
	Database string
	Username string
	Password string
}

// TelemetryRepository implements repository.TelemetryRepository.
// ClickHouse has no unique constraints, so appends for one device are
// serialized in-process and checked before insert.
type TelemetryRepository struct {
	conn  driver.Conn
	locks *lock.KeyedMutex
}

// Open connects to ClickHouse and ensures the schema exists
func Open(ctx context.Context, cfg Config) (*TelemetryRepository, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	if err := conn.Exec(ctx, TelemetryTableSQL); err != nil {
		return nil, fmt.Errorf("failed to create telemetry table: %w", err)
	}

	return NewTelemetryRepository(conn), nil
}

// NewTelemetryRepository wraps an existing connection
func NewTelemetryRepository(conn driver.Conn) *TelemetryRepository {
	return &TelemetryRepository{conn: conn, locks: lock.NewKeyedMutex()}
}

// Append inserts a snapshot unless one already exists at the same timestamp
func (r *TelemetryRepository) Append(ctx context.Context, snapshot *entity.TelemetrySnapshot) error {
	rd := snapshot.Reading()

	unlock := r.locks.Lock(rd.DeviceID)
	defer unlock()

	var existing uint64
	err := r.conn.QueryRow(ctx,
		`SELECT count() FROM telemetry_snapshots WHERE device_id = ? AND recorded_at = ?`,
		rd.DeviceID, rd.RecordedAt,
	).Scan(&existing)
	if err != nil {
		return fmt.Errorf("failed to check telemetry timestamp: %w", err)
	}
	if existing > 0 {
		return fmt.Errorf("%w: %s at %s", domainerr.ErrDuplicateTimestamp, rd.DeviceID, rd.RecordedAt)
	}

	err = r.conn.Exec(ctx, `
		INSERT INTO telemetry_snapshots (`+selectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rd.DeviceID,
		rd.RecordedAt,
		int32(rd.BatteryCycleCount),
		rd.BatteryHealthPct,
		rd.BatteryVoltage,
		rd.TemperatureC,
		int32(rd.ThermalEventCount),
		int32(rd.ThrottleEventCount),
		int32(rd.CrashCount),
	)
	if err != nil {
		return fmt.Errorf("failed to insert telemetry: %w", err)
	}
	return nil
}

// FindByTimeRange returns snapshots within the range in ascending order
func (r *TelemetryRepository) FindByTimeRange(
	ctx context.Context,
	deviceID string,
	timeRange valueobject.TimeRange,
) ([]*entity.TelemetrySnapshot, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT `+selectColumns+`
		FROM telemetry_snapshots FINAL
		WHERE device_id = ? AND recorded_at BETWEEN ? AND ?
		ORDER BY recorded_at ASC
	`, deviceID, timeRange.Start(), timeRange.End())
	if err != nil {
		return nil, fmt.Errorf("failed to query telemetry: %w", err)
	}
	defer rows.Close()

	var snapshots []*entity.TelemetrySnapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return snapshots, nil
}

// FindLatest returns the most recent snapshot of a device
func (r *TelemetryRepository) FindLatest(ctx context.Context, deviceID string) (*entity.TelemetrySnapshot, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT `+selectColumns+`
		FROM telemetry_snapshots
		WHERE device_id = ?
		ORDER BY recorded_at DESC
		LIMIT 1
	`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest telemetry: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("error iterating rows: %w", err)
		}
		return nil, fmt.Errorf("%w: no telemetry for %s", domainerr.ErrNotFound, deviceID)
	}
	return scanSnapshot(rows)
}

// Close closes the connection
func (r *TelemetryRepository) Close() error {
	return r.conn.Close()
}

func scanSnapshot(rows driver.Rows) (*entity.TelemetrySnapshot, error) {
	var (
		rd                        entity.TelemetryReading
		cycles, thermal, throttle int32
		crashes                   int32
	)
	err := rows.Scan(
		&rd.DeviceID,
		&rd.RecordedAt,
		&cycles,
		&rd.BatteryHealthPct,
		&rd.BatteryVoltage,
		&rd.TemperatureC,
		&thermal,
		&throttle,
		&crashes,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan telemetry: %w", err)
	}
	rd.BatteryCycleCount = int(cycles)
	rd.ThermalEventCount = int(thermal)
	rd.ThrottleEventCount = int(throttle)
	rd.CrashCount = int(crashes)
	return entity.NewTelemetrySnapshot(rd)
}
