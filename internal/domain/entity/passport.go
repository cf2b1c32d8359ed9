package entity

import (
	"fmt"
	"strings"
	"time"

	"github.com/dreschagin/device-lifecycle/internal/domain/domainerr"
)

// PassportIDPrefix - префикс идентификатора паспорта
const PassportIDPrefix = "PASS-"

// Passport - внешне заякоренная запись профиля устройства (1:1 с Device)
type Passport struct {
	id           string
	deviceID     string
	ledgerRef    string
	txHash       string
	owner        string
	mintedAt     time.Time
	lastSyncedAt time.Time
	profile      CircularityProfile
}

// PassportIDFor возвращает детерминированный идентификатор паспорта устройства
func PassportIDFor(deviceID string) string {
	return PassportIDPrefix + deviceID
}

// NewPassport создает паспорт после успешного выпуска во внешнем реестре
func NewPassport(
	deviceID, ledgerRef, txHash, owner string,
	profile CircularityProfile,
	mintedAt time.Time,
) (*Passport, error) {
	if strings.TrimSpace(deviceID) == "" {
		return nil, fmt.Errorf("%w: device id is required", domainerr.ErrInvalidInput)
	}
	if strings.TrimSpace(ledgerRef) == "" {
		return nil, fmt.Errorf("%w: ledger reference is required", domainerr.ErrInvalidInput)
	}

	return &Passport{
		id:           PassportIDFor(deviceID),
		deviceID:     deviceID,
		ledgerRef:    ledgerRef,
		txHash:       txHash,
		owner:        owner,
		mintedAt:     mintedAt,
		lastSyncedAt: mintedAt,
		profile:      profile,
	}, nil
}

// ReconstructPassport восстанавливает паспорт из хранилища
func ReconstructPassport(
	deviceID, ledgerRef, txHash, owner string,
	profile CircularityProfile,
	mintedAt, lastSyncedAt time.Time,
) *Passport {
	return &Passport{
		id:           PassportIDFor(deviceID),
		deviceID:     deviceID,
		ledgerRef:    ledgerRef,
		txHash:       txHash,
		owner:        owner,
		mintedAt:     mintedAt,
		lastSyncedAt: lastSyncedAt,
		profile:      profile,
	}
}

func (p *Passport) ID() string              { return p.id }
func (p *Passport) DeviceID() string        { return p.deviceID }
func (p *Passport) LedgerRef() string       { return p.ledgerRef }
func (p *Passport) TxHash() string          { return p.txHash }
func (p *Passport) Owner() string           { return p.owner }
func (p *Passport) MintedAt() time.Time     { return p.mintedAt }
func (p *Passport) LastSyncedAt() time.Time { return p.lastSyncedAt }

// Profile возвращает последний синхронизированный профиль
func (p *Passport) Profile() CircularityProfile {
	return p.profile
}

// SyncProfile обновляет снимок профиля, если изменение существенное.
// Возвращает true, если паспорт изменился.
func (p *Passport) SyncProfile(profile CircularityProfile, txHash string, at time.Time) bool {
	if !p.profile.MateriallyDiffers(&profile) {
		return false
	}
	p.profile = profile
	if txHash != "" {
		p.txHash = txHash
	}
	p.lastSyncedAt = at
	return true
}

// TransferTo меняет владельца паспорта
func (p *Passport) TransferTo(owner string, txHash string, at time.Time) {
	p.owner = owner
	if txHash != "" {
		p.txHash = txHash
	}
	p.lastSyncedAt = at
}
