package dto

import (
	"time"

	"github.com/dreschagin/device-lifecycle/internal/domain/entity"
)

// AppendEventRequest - входные данные события жизненного цикла
type AppendEventRequest struct {
	Kind       string                 `json:"kind"`
	OccurredAt *time.Time             `json:"occurred_at,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// LifecycleEventDTO представляет событие журнала
type LifecycleEventDTO struct {
	ID         string                 `json:"id"`
	DeviceID   string                 `json:"device_id"`
	Kind       string                 `json:"kind"`
	OccurredAt time.Time              `json:"occurred_at"`
	Sequence   int64                  `json:"sequence"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// FromLifecycleEvent конвертирует Entity в DTO
func FromLifecycleEvent(e *entity.LifecycleEvent) *LifecycleEventDTO {
	return &LifecycleEventDTO{
		ID:         e.ID(),
		DeviceID:   e.DeviceID(),
		Kind:       e.Kind().String(),
		OccurredAt: e.OccurredAt(),
		Sequence:   e.Sequence(),
		Metadata:   e.Metadata(),
	}
}

// FromLifecycleEvents конвертирует журнал в слайс DTO
func FromLifecycleEvents(events []*entity.LifecycleEvent) []*LifecycleEventDTO {
	dtos := make([]*LifecycleEventDTO, len(events))
	for i, e := range events {
		dtos[i] = FromLifecycleEvent(e)
	}
	return dtos
}

// ProfileUpdateDTO - результат добавления события: новый статус и профиль.
// Также рассылается клиентам и публикуется в брокер.
type ProfileUpdateDTO struct {
	DeviceID string                     `json:"device_id"`
	Status   string                     `json:"status"`
	Event    *LifecycleEventDTO         `json:"event"`
	Profile  *entity.CircularityProfile `json:"profile"`
}

// PassportDTO представляет паспорт устройства
type PassportDTO struct {
	ID           string                    `json:"passport_id"`
	DeviceID     string                    `json:"device_id"`
	LedgerRef    string                    `json:"ledger_ref"`
	TxHash       string                    `json:"tx_hash"`
	ExplorerURL  string                    `json:"explorer_url,omitempty"`
	Owner        string                    `json:"owner"`
	MintedAt     time.Time                 `json:"minted_at"`
	LastSyncedAt time.Time                 `json:"last_synced_at"`
	Profile      entity.CircularityProfile `json:"profile"`
}

// FromPassport конвертирует Entity в DTO
func FromPassport(p *entity.Passport) *PassportDTO {
	return &PassportDTO{
		ID:           p.ID(),
		DeviceID:     p.DeviceID(),
		LedgerRef:    p.LedgerRef(),
		TxHash:       p.TxHash(),
		Owner:        p.Owner(),
		MintedAt:     p.MintedAt(),
		LastSyncedAt: p.LastSyncedAt(),
		Profile:      p.Profile(),
	}
}
