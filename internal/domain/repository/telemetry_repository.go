package repository

import (
	"context"

	"github.com/dreschagin/device-lifecycle/internal/domain/entity"
	"github.com/dreschagin/device-lifecycle/internal/domain/valueobject"
)

// TelemetryRepository - append-only хранилище временных рядов телеметрии (Port).
// Уникальность (device, timestamp) обеспечивается хранилищем: проигравшая
// конкурентная запись получает ErrDuplicateTimestamp.
type TelemetryRepository interface {
	// Append добавляет снимок
	Append(ctx context.Context, snapshot *entity.TelemetrySnapshot) error

	// FindByTimeRange возвращает снимки устройства в диапазоне по возрастанию времени
	FindByTimeRange(ctx context.Context, deviceID string, timeRange valueobject.TimeRange) ([]*entity.TelemetrySnapshot, error)

	// FindLatest возвращает последний снимок устройства, ErrNotFound если их нет
	FindLatest(ctx context.Context, deviceID string) (*entity.TelemetrySnapshot, error)
}
