package port

import (
	"context"
	"time"

	"github.com/dreschagin/device-lifecycle/internal/domain/entity"
)

// MintReceipt - результат выпуска паспорта во внешнем реестре
type MintReceipt struct {
	LedgerRef string `json:"ledger_ref"`
	TxHash    string `json:"tx_hash"`
	Explorer  string `json:"explorer_url,omitempty"`
}

// LedgerEvent - запись, добавляемая во внешний реестр паспорта
type LedgerEvent struct {
	EventID    string                     `json:"event_id"`
	DeviceID   string                     `json:"device_id"`
	Kind       string                     `json:"kind"`
	OccurredAt time.Time                  `json:"occurred_at"`
	Metadata   map[string]interface{}     `json:"metadata,omitempty"`
	Profile    *entity.CircularityProfile `json:"profile,omitempty"`
}

// PassportLedger - внешний сервис распределенного реестра паспортов.
// Mint идемпотентен по устройству: повторный выпуск возвращает domainerr.ErrAlreadyMinted.
type PassportLedger interface {
	Mint(ctx context.Context, deviceID string, profile entity.CircularityProfile) (MintReceipt, error)
	RecordEvent(ctx context.Context, ledgerRef string, event LedgerEvent) (txHash string, err error)
}

// OutboxItem - отложенная синхронизация события с реестром
type OutboxItem struct {
	ID          string      `json:"id"`
	LedgerRef   string      `json:"ledger_ref"`
	Event       LedgerEvent `json:"event"`
	Attempts    int         `json:"attempts"`
	NextAttempt time.Time   `json:"next_attempt"`
	LastError   string      `json:"last_error,omitempty"`
}

// SyncOutbox - надежная очередь повторных попыток синхронизации с реестром
type SyncOutbox interface {
	Enqueue(ctx context.Context, item OutboxItem) error
	Due(ctx context.Context, now time.Time, limit int) ([]OutboxItem, error)
	Reschedule(ctx context.Context, item OutboxItem) error
	Ack(ctx context.Context, id string) error
	Len(ctx context.Context) (int, error)
}
