package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dreschagin/device-lifecycle/internal/application/dto"
	"github.com/dreschagin/device-lifecycle/internal/domain/domainerr"
	"github.com/dreschagin/device-lifecycle/internal/domain/entity"
	"github.com/dreschagin/device-lifecycle/internal/domain/repository"
	"github.com/dreschagin/device-lifecycle/pkg/logger"
)

// RegisterDeviceUseCase регистрирует новое устройство
type RegisterDeviceUseCase struct {
	devices repository.DeviceRepository
	logger  *logger.Logger
	now     func() time.Time
}

// NewRegisterDeviceUseCase создает новый use case
func NewRegisterDeviceUseCase(devices repository.DeviceRepository, log *logger.Logger, now func() time.Time) *RegisterDeviceUseCase {
	if now == nil {
		now = time.Now
	}
	return &RegisterDeviceUseCase{devices: devices, logger: log, now: now}
}

// Execute создает устройство в статусе active
func (uc *RegisterDeviceUseCase) Execute(ctx context.Context, req dto.RegisterDeviceRequest) (*dto.DeviceDTO, error) {
	device, err := entity.NewDevice(req.ToSpec(), uc.now().UTC())
	if err != nil {
		return nil, err
	}

	if err := uc.devices.Create(ctx, device); err != nil {
		if errors.Is(err, domainerr.ErrDeviceExists) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to save device: %w", err)
	}

	uc.logger.Info("Device registered",
		"device_id", device.ID(),
		"model", device.Model(),
	)

	return dto.FromDevice(device), nil
}

// GetDeviceUseCase возвращает устройство по идентификатору
type GetDeviceUseCase struct {
	devices repository.DeviceRepository
}

// NewGetDeviceUseCase создает новый use case
func NewGetDeviceUseCase(devices repository.DeviceRepository) *GetDeviceUseCase {
	return &GetDeviceUseCase{devices: devices}
}

// Execute находит устройство
func (uc *GetDeviceUseCase) Execute(ctx context.Context, deviceID string) (*dto.DeviceDTO, error) {
	device, err := uc.devices.FindByID(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	return dto.FromDevice(device), nil
}

// List возвращает страницу устройств
func (uc *GetDeviceUseCase) List(ctx context.Context, offset, limit int) ([]*dto.DeviceDTO, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	devices, err := uc.devices.List(ctx, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return dto.FromDevices(devices), nil
}
