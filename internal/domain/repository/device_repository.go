package repository

import (
	"context"

	"github.com/dreschagin/device-lifecycle/internal/domain/entity"
)

// DeviceRepository определяет интерфейс хранилища устройств (Port)
type DeviceRepository interface {
	// Create сохраняет новое устройство, ErrDeviceExists при повторной регистрации
	Create(ctx context.Context, device *entity.Device) error

	// Update сохраняет изменения статуса, владельца и паспорта
	Update(ctx context.Context, device *entity.Device) error

	// FindByID находит устройство, ErrNotFound если его нет
	FindByID(ctx context.Context, id string) (*entity.Device, error)

	// List возвращает устройства постранично в порядке идентификаторов
	List(ctx context.Context, offset, limit int) ([]*entity.Device, error)
}
