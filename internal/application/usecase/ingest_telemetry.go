package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/dreschagin/device-lifecycle/internal/application/dto"
	"github.com/dreschagin/device-lifecycle/internal/domain/domainerr"
	"github.com/dreschagin/device-lifecycle/internal/domain/entity"
	"github.com/dreschagin/device-lifecycle/internal/domain/repository"
	"github.com/dreschagin/device-lifecycle/pkg/logger"
)

// IngestTelemetryUseCase принимает снимки телеметрии от устройств (HTTP, MQTT)
type IngestTelemetryUseCase struct {
	devices repository.DeviceRepository
	store   *TelemetryStore
	logger  *logger.Logger
}

// NewIngestTelemetryUseCase создает новый use case
func NewIngestTelemetryUseCase(devices repository.DeviceRepository, store *TelemetryStore, log *logger.Logger) *IngestTelemetryUseCase {
	return &IngestTelemetryUseCase{devices: devices, store: store, logger: log}
}

// Execute записывает один снимок для зарегистрированного устройства
func (uc *IngestTelemetryUseCase) Execute(ctx context.Context, reading entity.TelemetryReading) (*entity.TelemetrySnapshot, error) {
	reading.DeviceID = strings.TrimSpace(reading.DeviceID)
	if _, err := uc.devices.FindByID(ctx, reading.DeviceID); err != nil {
		return nil, err
	}

	snapshot, err := uc.store.Record(ctx, reading)
	if err != nil {
		uc.logger.Debug("Telemetry rejected",
			"device_id", reading.DeviceID,
			"category", string(domainerr.CategoryOf(err)),
			"error", err.Error(),
		)
		return nil, err
	}
	return snapshot, nil
}

// ExecuteBatch записывает пачку снимков; ошибки возвращаются по индексу
func (uc *IngestTelemetryUseCase) ExecuteBatch(ctx context.Context, readings []entity.TelemetryReading) (accepted int, errs map[int]error) {
	errs = make(map[int]error)
	for i, r := range readings {
		if _, err := uc.Execute(ctx, r); err != nil {
			errs[i] = err
			continue
		}
		accepted++
	}
	return accepted, errs
}

// GetTelemetryWindowUseCase возвращает окно телеметрии устройства
type GetTelemetryWindowUseCase struct {
	devices repository.DeviceRepository
	store   *TelemetryStore
}

// NewGetTelemetryWindowUseCase создает новый use case
func NewGetTelemetryWindowUseCase(devices repository.DeviceRepository, store *TelemetryStore) *GetTelemetryWindowUseCase {
	return &GetTelemetryWindowUseCase{devices: devices, store: store}
}

// Execute возвращает окно за days суток или ErrInsufficientHistory
func (uc *GetTelemetryWindowUseCase) Execute(ctx context.Context, deviceID string, days int) (*dto.TelemetryWindowDTO, error) {
	if _, err := uc.devices.FindByID(ctx, deviceID); err != nil {
		return nil, err
	}
	window, err := uc.store.Window(ctx, deviceID, days)
	if err != nil {
		return nil, fmt.Errorf("failed to build window: %w", err)
	}
	return dto.FromTelemetryWindow(window), nil
}
