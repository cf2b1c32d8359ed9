package repository

import (
	"context"

	"github.com/dreschagin/device-lifecycle/internal/domain/entity"
)

// LifecycleEventRepository - журнал событий жизненного цикла (Port).
// События никогда не удаляются и не изменяются.
type LifecycleEventRepository interface {
	// AppendWithDevice атомарно добавляет событие и сохраняет новый статус устройства.
	// Возвращает событие с присвоенным sequence.
	AppendWithDevice(ctx context.Context, event *entity.LifecycleEvent, device *entity.Device) (*entity.LifecycleEvent, error)

	// Replay возвращает полный журнал устройства в порядке (timestamp, sequence)
	Replay(ctx context.Context, deviceID string) ([]*entity.LifecycleEvent, error)
}
