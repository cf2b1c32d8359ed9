package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// Схема хранилища. Журнал событий упорядочен по (occurred_at, seq).
const (
	DevicesTableSQL = `
		CREATE TABLE IF NOT EXISTS devices (
			id                   TEXT PRIMARY KEY,
			model                TEXT NOT NULL,
			manufacturer         TEXT NOT NULL DEFAULT '',
			storage_gb           INTEGER NOT NULL DEFAULT 0,
			ram_gb               INTEGER NOT NULL DEFAULT 0,
			battery_capacity_mah INTEGER NOT NULL DEFAULT 0,
			owner                TEXT NOT NULL DEFAULT '',
			purchased_at         TIMESTAMPTZ,
			manufacturing_kg     DOUBLE PRECISION NOT NULL,
			transport_kg         DOUBLE PRECISION NOT NULL,
			usage_kg_per_year    DOUBLE PRECISION NOT NULL,
			status               TEXT NOT NULL,
			passport_id          TEXT NOT NULL DEFAULT '',
			created_at           TIMESTAMPTZ NOT NULL,
			updated_at           TIMESTAMPTZ NOT NULL
		)
	`

	TelemetryTableSQL = `
		CREATE TABLE IF NOT EXISTS telemetry_snapshots (
			device_id           TEXT NOT NULL REFERENCES devices(id),
			recorded_at         TIMESTAMPTZ NOT NULL,
			battery_cycle_count INTEGER NOT NULL,
			battery_health_pct  DOUBLE PRECISION NOT NULL,
			battery_voltage     DOUBLE PRECISION NOT NULL DEFAULT 0,
			temperature_c       DOUBLE PRECISION NOT NULL,
			thermal_events      INTEGER NOT NULL DEFAULT 0,
			throttle_events     INTEGER NOT NULL DEFAULT 0,
			crash_count         INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (device_id, recorded_at)
		)
	`

	EventsTableSQL = `
		CREATE TABLE IF NOT EXISTS lifecycle_events (
			seq         BIGSERIAL PRIMARY KEY,
			id          UUID NOT NULL UNIQUE,
			device_id   TEXT NOT NULL REFERENCES devices(id),
			kind        TEXT NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL,
			metadata    JSONB
		)
	`

	EventsIndexSQL = `
		CREATE INDEX IF NOT EXISTS idx_lifecycle_events_device_order
		ON lifecycle_events (device_id, occurred_at, seq)
	`

	PassportsTableSQL = `
		CREATE TABLE IF NOT EXISTS passports (
			device_id      TEXT PRIMARY KEY REFERENCES devices(id),
			ledger_ref     TEXT NOT NULL,
			tx_hash        TEXT NOT NULL DEFAULT '',
			owner          TEXT NOT NULL DEFAULT '',
			minted_at      TIMESTAMPTZ NOT NULL,
			last_synced_at TIMESTAMPTZ NOT NULL,
			profile        JSONB NOT NULL
		)
	`
)

// AllTables возвращает DDL в порядке создания
func AllTables() []string {
	return []string{
		DevicesTableSQL,
		TelemetryTableSQL,
		EventsTableSQL,
		EventsIndexSQL,
		PassportsTableSQL,
	}
}

// EnsureSchema создает таблицы, если их нет
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range AllTables() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// isUniqueViolation сообщает о нарушении уникальности (SQLSTATE 23505)
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
