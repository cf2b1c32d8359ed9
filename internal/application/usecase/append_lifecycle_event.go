package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/dreschagin/device-lifecycle/internal/application/dto"
	"github.com/dreschagin/device-lifecycle/internal/application/lock"
	"github.com/dreschagin/device-lifecycle/internal/application/port"
	"github.com/dreschagin/device-lifecycle/internal/domain/domainerr"
	"github.com/dreschagin/device-lifecycle/internal/domain/entity"
	"github.com/dreschagin/device-lifecycle/internal/domain/repository"
	"github.com/dreschagin/device-lifecycle/internal/domain/service"
	"github.com/dreschagin/device-lifecycle/internal/domain/valueobject"
	"github.com/dreschagin/device-lifecycle/pkg/logger"
)

// AnalysisInvalidator сбрасывает кэш анализа устройства
type AnalysisInvalidator interface {
	Invalidate(ctx context.Context, deviceID string)
}

// PassportSyncer доставляет событие во внешний реестр (best-effort)
type PassportSyncer interface {
	SyncEvent(ctx context.Context, ledgerRef string, event port.LedgerEvent) string
}

// LifecycleDeps - зависимости use case'ов журнала. Invalidator, Syncer,
// Passports, Publisher и Notifier опциональны.
type LifecycleDeps struct {
	Devices     repository.DeviceRepository
	Events      repository.LifecycleEventRepository
	Passports   repository.PassportRepository
	Policy      *service.LifecyclePolicy
	Calculator  *service.CircularityCalculator
	Locks       *lock.KeyedMutex
	Invalidator AnalysisInvalidator
	Syncer      PassportSyncer
	Publisher   port.EventPublisher
	Notifier    port.NotificationService
}

func (d *LifecycleDeps) defaults() {
	if d.Policy == nil {
		d.Policy = service.NewLifecyclePolicy()
	}
	if d.Calculator == nil {
		d.Calculator = service.NewCircularityCalculator()
	}
	if d.Locks == nil {
		d.Locks = lock.NewKeyedMutex()
	}
}

// AppendLifecycleEventUseCase добавляет событие в журнал устройства.
// Добавление и пересчет профиля сериализованы по устройству.
type AppendLifecycleEventUseCase struct {
	deps   LifecycleDeps
	logger *logger.Logger
	now    func() time.Time
}

// NewAppendLifecycleEventUseCase создает новый use case
func NewAppendLifecycleEventUseCase(deps LifecycleDeps, log *logger.Logger, now func() time.Time) *AppendLifecycleEventUseCase {
	deps.defaults()
	if now == nil {
		now = time.Now
	}
	return &AppendLifecycleEventUseCase{deps: deps, logger: log, now: now}
}

// Execute проверяет допустимость перехода, добавляет событие и пересчитывает
// профиль по всему журналу. При недопустимом переходе журнал не меняется.
// Доставка во внешний реестр и публикация выполняются после снятия блокировки устройства.
func (uc *AppendLifecycleEventUseCase) Execute(ctx context.Context, deviceID string, req dto.AppendEventRequest) (*dto.ProfileUpdateDTO, error) {
	kind := valueobject.EventKind(req.Kind)
	if err := kind.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domainerr.ErrInvalidInput, err)
	}

	appended, err := uc.appendLocked(ctx, deviceID, kind, req)
	if err != nil {
		return nil, err
	}

	if appended.ledgerRef != "" {
		uc.deps.Syncer.SyncEvent(ctx, appended.ledgerRef, port.LedgerEvent{
			EventID:    appended.event.ID(),
			DeviceID:   deviceID,
			Kind:       appended.event.Kind().String(),
			OccurredAt: appended.event.OccurredAt(),
			Metadata:   appended.event.Metadata(),
			Profile:    &appended.profile,
		})
	}

	update := &dto.ProfileUpdateDTO{
		DeviceID: deviceID,
		Status:   appended.status.String(),
		Event:    dto.FromLifecycleEvent(appended.event),
		Profile:  &appended.profile,
	}
	uc.announce(ctx, update)

	uc.logger.Info("Lifecycle event appended",
		"device_id", deviceID,
		"kind", kind.String(),
		"status", update.Status,
		"score", appended.profile.Score,
	)

	return update, nil
}

// appendedEvent - итог критической секции добавления
type appendedEvent struct {
	event     *entity.LifecycleEvent
	status    valueobject.DeviceStatus
	profile   entity.CircularityProfile
	ledgerRef string // пусто, если паспорта нет или синхронизация не настроена
}

// appendLocked выполняет добавление под блокировкой устройства:
// проверка перехода, запись, пересчет профиля и сброс кэша анализа.
func (uc *AppendLifecycleEventUseCase) appendLocked(ctx context.Context, deviceID string, kind valueobject.EventKind, req dto.AppendEventRequest) (*appendedEvent, error) {
	unlock := uc.deps.Locks.Lock(deviceID)
	defer unlock()

	device, err := uc.deps.Devices.FindByID(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	ledger, err := uc.deps.Events.Replay(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to replay ledger: %w", err)
	}

	now := uc.now().UTC()
	occurredAt := now
	if req.OccurredAt != nil {
		occurredAt = req.OccurredAt.UTC()
	}

	// Журнал упорядочен по времени: событие не может предшествовать последнему
	if n := len(ledger); n > 0 && occurredAt.Before(ledger[n-1].OccurredAt()) {
		return nil, fmt.Errorf("%w: event at %s precedes ledger head %s",
			domainerr.ErrInvalidInput, occurredAt.Format(time.RFC3339), ledger[n-1].OccurredAt().Format(time.RFC3339))
	}

	event, err := entity.NewLifecycleEvent(deviceID, kind, occurredAt, req.Metadata)
	if err != nil {
		return nil, err
	}

	if err := device.ApplyEvent(kind, uc.deps.Policy, now); err != nil {
		return nil, err
	}

	stored, err := uc.deps.Events.AppendWithDevice(ctx, event, device)
	if err != nil {
		return nil, fmt.Errorf("failed to append lifecycle event: %w", err)
	}

	ledger = append(ledger, stored)
	profile := uc.deps.Calculator.Compute(device, ledger, now)

	if uc.deps.Invalidator != nil {
		uc.deps.Invalidator.Invalidate(ctx, deviceID)
	}

	return &appendedEvent{
		event:     stored,
		status:    device.Status(),
		profile:   profile,
		ledgerRef: uc.passportRef(ctx, device),
	}, nil
}

// passportRef возвращает ссылку паспорта в реестре для синхронизации
func (uc *AppendLifecycleEventUseCase) passportRef(ctx context.Context, device *entity.Device) string {
	if uc.deps.Syncer == nil || uc.deps.Passports == nil || device.PassportID() == "" {
		return ""
	}

	passport, err := uc.deps.Passports.FindByDeviceID(ctx, device.ID())
	if err != nil {
		uc.logger.Warn("Passport not found for minted device",
			"device_id", device.ID(),
			"error", err.Error(),
		)
		return ""
	}
	return passport.LedgerRef()
}

func (uc *AppendLifecycleEventUseCase) announce(ctx context.Context, update *dto.ProfileUpdateDTO) {
	if uc.deps.Publisher != nil {
		if err := uc.deps.Publisher.PublishEvent(ctx, port.LifecycleSubject(update.DeviceID), update); err != nil {
			uc.logger.Warn("Failed to publish lifecycle event",
				"device_id", update.DeviceID,
				"error", err.Error(),
			)
		}
	}
	if uc.deps.Notifier != nil {
		uc.deps.Notifier.BroadcastProfile(update)
	}
}

// ListLifecycleEventsUseCase возвращает журнал устройства
type ListLifecycleEventsUseCase struct {
	devices repository.DeviceRepository
	events  repository.LifecycleEventRepository
}

// NewListLifecycleEventsUseCase создает новый use case
func NewListLifecycleEventsUseCase(devices repository.DeviceRepository, events repository.LifecycleEventRepository) *ListLifecycleEventsUseCase {
	return &ListLifecycleEventsUseCase{devices: devices, events: events}
}

// Execute возвращает журнал в порядке (timestamp, sequence)
func (uc *ListLifecycleEventsUseCase) Execute(ctx context.Context, deviceID string) ([]*dto.LifecycleEventDTO, error) {
	if _, err := uc.devices.FindByID(ctx, deviceID); err != nil {
		return nil, err
	}
	events, err := uc.events.Replay(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to replay ledger: %w", err)
	}
	return dto.FromLifecycleEvents(events), nil
}
