package repository

import (
	"context"

	"github.com/dreschagin/device-lifecycle/internal/domain/entity"
)

// PassportRepository - локальная копия паспортов устройств (Port)
type PassportRepository interface {
	// Create сохраняет паспорт, ErrAlreadyMinted если паспорт устройства уже есть
	Create(ctx context.Context, passport *entity.Passport) error

	// Update сохраняет синхронизированный профиль и владельца
	Update(ctx context.Context, passport *entity.Passport) error

	// FindByDeviceID находит паспорт, ErrNotFound если его нет
	FindByDeviceID(ctx context.Context, deviceID string) (*entity.Passport, error)
}
