package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dreschagin/device-lifecycle/internal/application/dto"
	"github.com/dreschagin/device-lifecycle/internal/application/lock"
	"github.com/dreschagin/device-lifecycle/internal/application/port"
	"github.com/dreschagin/device-lifecycle/internal/domain/domainerr"
	"github.com/dreschagin/device-lifecycle/internal/domain/entity"
	"github.com/dreschagin/device-lifecycle/internal/domain/repository"
	"github.com/dreschagin/device-lifecycle/internal/domain/service"
	"github.com/dreschagin/device-lifecycle/pkg/logger"
)

// PassportDeps - зависимости use case'ов паспорта. Syncer и Publisher опциональны.
type PassportDeps struct {
	Devices    repository.DeviceRepository
	Events     repository.LifecycleEventRepository
	Passports  repository.PassportRepository
	Ledger     port.PassportLedger
	Calculator *service.CircularityCalculator
	Locks      *lock.KeyedMutex
	Syncer     PassportSyncer
	Publisher  port.EventPublisher
}

// MintPassportUseCase выпускает паспорт устройства во внешнем реестре.
// Выпуск идемпотентен: повторный вызов возвращает ErrAlreadyMinted.
type MintPassportUseCase struct {
	deps   PassportDeps
	logger *logger.Logger
	now    func() time.Time
}

// NewMintPassportUseCase создает новый use case
func NewMintPassportUseCase(deps PassportDeps, log *logger.Logger, now func() time.Time) *MintPassportUseCase {
	if deps.Calculator == nil {
		deps.Calculator = service.NewCircularityCalculator()
	}
	if deps.Locks == nil {
		deps.Locks = lock.NewKeyedMutex()
	}
	if now == nil {
		now = time.Now
	}
	return &MintPassportUseCase{deps: deps, logger: log, now: now}
}

// Execute выпускает паспорт с текущим профилем устройства.
// Если реестр сообщает о существующем паспорте, локальное состояние не меняется.
func (uc *MintPassportUseCase) Execute(ctx context.Context, deviceID string) (*dto.PassportDTO, error) {
	unlock := uc.deps.Locks.Lock(deviceID)
	defer unlock()

	device, err := uc.deps.Devices.FindByID(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if device.PassportID() != "" {
		return nil, fmt.Errorf("%w: device %s has passport %s", domainerr.ErrAlreadyMinted, deviceID, device.PassportID())
	}
	if _, err := uc.deps.Passports.FindByDeviceID(ctx, deviceID); err == nil {
		return nil, fmt.Errorf("%w: device %s", domainerr.ErrAlreadyMinted, deviceID)
	} else if !errors.Is(err, domainerr.ErrNotFound) {
		return nil, fmt.Errorf("failed to check passport: %w", err)
	}

	ledger, err := uc.deps.Events.Replay(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to replay ledger: %w", err)
	}
	now := uc.now().UTC()
	profile := uc.deps.Calculator.Compute(device, ledger, now)

	receipt, err := uc.deps.Ledger.Mint(ctx, deviceID, profile)
	if err != nil {
		if errors.Is(err, domainerr.ErrAlreadyMinted) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: passport mint failed: %v", domainerr.ErrUnavailable, err)
	}

	passport, err := entity.NewPassport(deviceID, receipt.LedgerRef, receipt.TxHash, device.Owner(), profile, now)
	if err != nil {
		return nil, err
	}
	if err := uc.deps.Passports.Create(ctx, passport); err != nil {
		return nil, fmt.Errorf("failed to save passport: %w", err)
	}

	if err := device.AttachPassport(passport.ID(), now); err != nil {
		return nil, err
	}
	if err := uc.deps.Devices.Update(ctx, device); err != nil {
		return nil, fmt.Errorf("failed to attach passport: %w", err)
	}

	result := dto.FromPassport(passport)
	result.ExplorerURL = receipt.Explorer

	if uc.deps.Publisher != nil {
		if err := uc.deps.Publisher.PublishEvent(ctx, port.PassportSubject(deviceID), result); err != nil {
			uc.logger.Warn("Failed to publish passport", "device_id", deviceID, "error", err.Error())
		}
	}

	uc.logger.Info("Passport minted",
		"device_id", deviceID,
		"passport_id", passport.ID(),
		"ledger_ref", receipt.LedgerRef,
	)

	return result, nil
}

// GetPassportUseCase возвращает локальную копию паспорта
type GetPassportUseCase struct {
	passports repository.PassportRepository
}

// NewGetPassportUseCase создает новый use case
func NewGetPassportUseCase(passports repository.PassportRepository) *GetPassportUseCase {
	return &GetPassportUseCase{passports: passports}
}

// Execute находит паспорт устройства
func (uc *GetPassportUseCase) Execute(ctx context.Context, deviceID string) (*dto.PassportDTO, error) {
	passport, err := uc.passports.FindByDeviceID(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	return dto.FromPassport(passport), nil
}
