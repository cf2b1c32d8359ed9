package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/dreschagin/device-lifecycle/internal/domain/domainerr"
	"github.com/dreschagin/device-lifecycle/internal/domain/entity"
)

// PassportRepository stores passport copies keyed by device id
type PassportRepository struct {
	mu        sync.RWMutex
	passports map[string]*entity.Passport
}

// NewPassportRepository creates an empty repository
func NewPassportRepository() *PassportRepository {
	return &PassportRepository{passports: make(map[string]*entity.Passport)}
}

// Create stores a passport once per device
func (r *PassportRepository) Create(_ context.Context, passport *entity.Passport) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.passports[passport.DeviceID()]; exists {
		return fmt.Errorf("%w: device %s", domainerr.ErrAlreadyMinted, passport.DeviceID())
	}
	r.passports[passport.DeviceID()] = clonePassport(passport)
	return nil
}

// Update replaces the stored passport
func (r *PassportRepository) Update(_ context.Context, passport *entity.Passport) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.passports[passport.DeviceID()]; !exists {
		return fmt.Errorf("%w: passport for %s", domainerr.ErrNotFound, passport.DeviceID())
	}
	r.passports[passport.DeviceID()] = clonePassport(passport)
	return nil
}

// FindByDeviceID returns a copy of the passport
func (r *PassportRepository) FindByDeviceID(_ context.Context, deviceID string) (*entity.Passport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.passports[deviceID]
	if !ok {
		return nil, fmt.Errorf("%w: passport for %s", domainerr.ErrNotFound, deviceID)
	}
	return clonePassport(p), nil
}

func clonePassport(p *entity.Passport) *entity.Passport {
	return entity.ReconstructPassport(
		p.DeviceID(), p.LedgerRef(), p.TxHash(), p.Owner(),
		p.Profile(), p.MintedAt(), p.LastSyncedAt(),
	)
}
