package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dreschagin/device-lifecycle/internal/application/dto"
	"github.com/dreschagin/device-lifecycle/internal/application/lock"
	"github.com/dreschagin/device-lifecycle/internal/application/port"
	"github.com/dreschagin/device-lifecycle/internal/domain/domainerr"
	"github.com/dreschagin/device-lifecycle/pkg/logger"
)

// LedgerKindOwnershipTransfer - вид записи реестра при смене владельца
const LedgerKindOwnershipTransfer = "ownership_transfer"

// TransferOwnershipRequest - новый владелец устройства
type TransferOwnershipRequest struct {
	NewOwner string `json:"new_owner"`
}

// TransferOwnershipUseCase меняет владельца устройства и его паспорта
type TransferOwnershipUseCase struct {
	deps   PassportDeps
	logger *logger.Logger
	now    func() time.Time
}

// NewTransferOwnershipUseCase создает новый use case
func NewTransferOwnershipUseCase(deps PassportDeps, log *logger.Logger, now func() time.Time) *TransferOwnershipUseCase {
	if deps.Locks == nil {
		deps.Locks = lock.NewKeyedMutex()
	}
	if now == nil {
		now = time.Now
	}
	return &TransferOwnershipUseCase{deps: deps, logger: log, now: now}
}

// Execute сохраняет нового владельца локально; запись в реестр - best-effort
func (uc *TransferOwnershipUseCase) Execute(ctx context.Context, deviceID string, req TransferOwnershipRequest) (*dto.DeviceDTO, error) {
	unlock := uc.deps.Locks.Lock(deviceID)
	defer unlock()

	device, err := uc.deps.Devices.FindByID(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	previous := device.Owner()
	now := uc.now().UTC()
	if err := device.TransferOwnership(req.NewOwner, now); err != nil {
		return nil, err
	}
	if err := uc.deps.Devices.Update(ctx, device); err != nil {
		return nil, fmt.Errorf("failed to update device: %w", err)
	}

	if device.PassportID() != "" {
		uc.transferPassport(ctx, deviceID, previous, device.Owner(), now)
	}

	uc.logger.Info("Ownership transferred",
		"device_id", deviceID,
		"owner", device.Owner(),
	)

	return dto.FromDevice(device), nil
}

func (uc *TransferOwnershipUseCase) transferPassport(ctx context.Context, deviceID, from, to string, at time.Time) {
	passport, err := uc.deps.Passports.FindByDeviceID(ctx, deviceID)
	if err != nil {
		if !errors.Is(err, domainerr.ErrNotFound) {
			uc.logger.Warn("Failed to load passport", "device_id", deviceID, "error", err.Error())
		}
		return
	}

	var txHash string
	if uc.deps.Syncer != nil {
		txHash = uc.deps.Syncer.SyncEvent(ctx, passport.LedgerRef(), port.LedgerEvent{
			EventID:    uuid.New().String(),
			DeviceID:   deviceID,
			Kind:       LedgerKindOwnershipTransfer,
			OccurredAt: at,
			Metadata:   map[string]interface{}{"from": from, "to": to},
		})
	}

	passport.TransferTo(to, txHash, at)
	if err := uc.deps.Passports.Update(ctx, passport); err != nil {
		uc.logger.Warn("Failed to update passport owner", "device_id", deviceID, "error", err.Error())
		return
	}

	if uc.deps.Publisher != nil {
		if err := uc.deps.Publisher.PublishEvent(ctx, port.PassportSubject(deviceID), dto.FromPassport(passport)); err != nil {
			uc.logger.Warn("Failed to publish passport", "device_id", deviceID, "error", err.Error())
		}
	}
}
