package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dreschagin/device-lifecycle/internal/domain/domainerr"
	"github.com/dreschagin/device-lifecycle/internal/domain/entity"
)

// LifecycleEventRepository реализует журнал событий поверх PostgreSQL.
// seq (BIGSERIAL) задает порядок вставки для событий с одинаковым временем.
type LifecycleEventRepository struct {
	db *sql.DB
}

// NewLifecycleEventRepository создает новый repository
func NewLifecycleEventRepository(db *sql.DB) *LifecycleEventRepository {
	return &LifecycleEventRepository{db: db}
}

// AppendWithDevice добавляет событие и статус устройства одной транзакцией
func (r *LifecycleEventRepository) AppendWithDevice(
	ctx context.Context,
	event *entity.LifecycleEvent,
	device *entity.Device,
) (*entity.LifecycleEvent, error) {
	if event.DeviceID() != device.ID() {
		return nil, fmt.Errorf("%w: event belongs to %s", domainerr.ErrInvalidInput, event.DeviceID())
	}

	model, err := ToEventDBModel(event)
	if err != nil {
		return nil, fmt.Errorf("failed to convert event to DB model: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var seq int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO lifecycle_events (id, device_id, kind, occurred_at, metadata)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING seq
	`, model.ID, model.DeviceID, model.Kind, model.OccurredAt, model.Metadata).Scan(&seq)
	if err != nil {
		return nil, fmt.Errorf("failed to insert lifecycle event: %w", err)
	}

	if err := updateDevice(ctx, tx, device); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return event.WithSequence(seq), nil
}

// Replay возвращает журнал в порядке (occurred_at, seq)
func (r *LifecycleEventRepository) Replay(ctx context.Context, deviceID string) ([]*entity.LifecycleEvent, error) {
	query := `SELECT ` + eventColumns + `
		FROM lifecycle_events
		WHERE device_id = $1
		ORDER BY occurred_at ASC, seq ASC`

	rows, err := r.db.QueryContext(ctx, query, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query lifecycle events: %w", err)
	}
	defer rows.Close()

	var events []*entity.LifecycleEvent
	for rows.Next() {
		model, err := ScanEventRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lifecycle event: %w", err)
		}
		event, err := ToEvent(model)
		if err != nil {
			return nil, fmt.Errorf("failed to convert lifecycle event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return events, nil
}

// DeviceIDs возвращает устройства с непустым журналом
func (r *LifecycleEventRepository) DeviceIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT device_id FROM lifecycle_events ORDER BY device_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger devices: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan device id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
