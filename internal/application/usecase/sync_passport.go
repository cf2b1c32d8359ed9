package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dreschagin/device-lifecycle/internal/application/port"
	"github.com/dreschagin/device-lifecycle/internal/domain/domainerr"
	"github.com/dreschagin/device-lifecycle/internal/domain/repository"
	"github.com/dreschagin/device-lifecycle/pkg/logger"
)

// SyncPassportConfig - параметры синхронизации с реестром
type SyncPassportConfig struct {
	AttemptTimeout time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BatchSize      int
}

// SyncStats - итог одного прохода повторных попыток
type SyncStats struct {
	Synced   int       `json:"synced"`
	Failed   int       `json:"failed"`
	Pending  int       `json:"pending"`
	LastRun  time.Time `json:"last_run"`
	LastFail string    `json:"last_error,omitempty"`
}

// SyncObserver получает результаты синхронизации (Prometheus)
type SyncObserver interface {
	ObserveLedgerSync(outcome string)
}

// SyncPassportUseCase доставляет события жизненного цикла во внешний реестр паспортов.
// Локальный журнал - источник истины: сбой реестра не возвращается вызывающему,
// событие уходит в outbox и повторяется с экспоненциальной задержкой.
type SyncPassportUseCase struct {
	ledger    port.PassportLedger
	outbox    port.SyncOutbox
	passports repository.PassportRepository
	observer  SyncObserver
	config    SyncPassportConfig
	logger    *logger.Logger
	now       func() time.Time

	mu    sync.RWMutex
	stats SyncStats
}

// NewSyncPassportUseCase создает новый use case. observer может быть nil.
func NewSyncPassportUseCase(
	ledger port.PassportLedger,
	outbox port.SyncOutbox,
	passports repository.PassportRepository,
	observer SyncObserver,
	config SyncPassportConfig,
	log *logger.Logger,
	now func() time.Time,
) *SyncPassportUseCase {
	if config.AttemptTimeout <= 0 {
		config.AttemptTimeout = 5 * time.Second
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = time.Second
	}
	if config.MaxBackoff < config.InitialBackoff {
		config.MaxBackoff = 5 * time.Minute
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	if now == nil {
		now = time.Now
	}
	return &SyncPassportUseCase{
		ledger:    ledger,
		outbox:    outbox,
		passports: passports,
		observer:  observer,
		config:    config,
		logger:    log,
		now:       now,
	}
}

// SyncEvent пытается записать событие в реестр сразу, иначе ставит его в outbox.
// Возвращает хэш транзакции или пустую строку, если запись отложена.
func (uc *SyncPassportUseCase) SyncEvent(ctx context.Context, ledgerRef string, event port.LedgerEvent) string {
	txHash, err := uc.record(ctx, ledgerRef, event)
	if err == nil {
		uc.observe("ok")
		uc.applyProfile(ctx, event, txHash)
		return txHash
	}

	uc.observe("deferred")
	uc.logger.Warn("Ledger sync deferred",
		"device_id", event.DeviceID,
		"event_id", event.EventID,
		"error", err.Error(),
	)

	item := port.OutboxItem{
		ID:          uuid.New().String(),
		LedgerRef:   ledgerRef,
		Event:       event,
		Attempts:    1,
		NextAttempt: uc.now().Add(uc.backoff(1)),
		LastError:   err.Error(),
	}
	if uc.outbox == nil {
		uc.logger.Error("Ledger event dropped: outbox not configured", err, "event_id", event.EventID)
		return ""
	}
	if err := uc.outbox.Enqueue(context.WithoutCancel(ctx), item); err != nil {
		uc.logger.Error("Failed to enqueue ledger event", err, "event_id", event.EventID)
	}
	return ""
}

// RetryDue повторяет отложенные события, срок которых наступил
func (uc *SyncPassportUseCase) RetryDue(ctx context.Context) (SyncStats, error) {
	if uc.outbox == nil {
		return uc.Snapshot(), nil
	}

	now := uc.now()
	items, err := uc.outbox.Due(ctx, now, uc.config.BatchSize)
	if err != nil {
		return uc.Snapshot(), fmt.Errorf("failed to read outbox: %w", err)
	}

	var synced, failed int
	var lastFail string
	for _, item := range items {
		txHash, err := uc.record(ctx, item.LedgerRef, item.Event)
		if err != nil {
			failed++
			lastFail = err.Error()
			item.Attempts++
			item.NextAttempt = now.Add(uc.backoff(item.Attempts))
			item.LastError = err.Error()
			if err := uc.outbox.Reschedule(ctx, item); err != nil {
				uc.logger.Error("Failed to reschedule ledger event", err, "event_id", item.Event.EventID)
			}
			uc.observe("retry_failed")
			continue
		}

		if err := uc.outbox.Ack(ctx, item.ID); err != nil {
			uc.logger.Error("Failed to ack ledger event", err, "event_id", item.Event.EventID)
		}
		uc.applyProfile(ctx, item.Event, txHash)
		synced++
		uc.observe("retry_ok")
	}

	pending, err := uc.outbox.Len(ctx)
	if err != nil {
		pending = -1
	}

	uc.mu.Lock()
	uc.stats.Synced += synced
	uc.stats.Failed += failed
	uc.stats.Pending = pending
	uc.stats.LastRun = now.UTC()
	if lastFail != "" {
		uc.stats.LastFail = lastFail
	}
	stats := uc.stats
	uc.mu.Unlock()

	if synced > 0 || failed > 0 {
		uc.logger.Info("Ledger outbox processed",
			"synced", synced,
			"failed", failed,
			"pending", pending,
		)
	}
	return stats, nil
}

// Start запускает фоновый цикл повторов до отмены контекста
func (uc *SyncPassportUseCase) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := uc.RetryDue(ctx); err != nil {
				uc.logger.Error("Ledger outbox retry failed", err)
			}
		}
	}
}

// Snapshot возвращает накопленную статистику
func (uc *SyncPassportUseCase) Snapshot() SyncStats {
	uc.mu.RLock()
	defer uc.mu.RUnlock()
	return uc.stats
}

func (uc *SyncPassportUseCase) record(ctx context.Context, ledgerRef string, event port.LedgerEvent) (string, error) {
	if uc.ledger == nil {
		return "", fmt.Errorf("%w: ledger is not configured", domainerr.ErrUnavailable)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, uc.config.AttemptTimeout)
	defer cancel()
	return uc.ledger.RecordEvent(attemptCtx, ledgerRef, event)
}

// applyProfile обновляет снимок профиля в локальном паспорте.
// Более старое событие не перезаписывает более новый снимок.
func (uc *SyncPassportUseCase) applyProfile(ctx context.Context, event port.LedgerEvent, txHash string) {
	if uc.passports == nil || event.Profile == nil {
		return
	}

	passport, err := uc.passports.FindByDeviceID(ctx, event.DeviceID)
	if err != nil {
		if !errors.Is(err, domainerr.ErrNotFound) {
			uc.logger.Warn("Failed to load passport", "device_id", event.DeviceID, "error", err.Error())
		}
		return
	}
	if event.Profile.ComputedAt.Before(passport.Profile().ComputedAt) {
		return
	}
	if !passport.SyncProfile(*event.Profile, txHash, uc.now().UTC()) {
		return
	}
	if err := uc.passports.Update(ctx, passport); err != nil {
		uc.logger.Warn("Failed to update passport snapshot", "device_id", event.DeviceID, "error", err.Error())
	}
}

func (uc *SyncPassportUseCase) backoff(attempt int) time.Duration {
	d := uc.config.InitialBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= uc.config.MaxBackoff {
			return uc.config.MaxBackoff
		}
	}
	return d
}

func (uc *SyncPassportUseCase) observe(outcome string) {
	if uc.observer != nil {
		uc.observer.ObserveLedgerSync(outcome)
	}
}
