// Package memory provides in-process repository implementations used for
// local runs, tests and the circularity auditor dry mode.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dreschagin/device-lifecycle/internal/domain/domainerr"
	"github.com/dreschagin/device-lifecycle/internal/domain/entity"
)

// DeviceRepository stores devices in a map. Stored values are copies, so a
// caller mutating a loaded device does not change stored state until Update.
type DeviceRepository struct {
	mu      sync.RWMutex
	devices map[string]*entity.Device
}

// NewDeviceRepository creates an empty repository
func NewDeviceRepository() *DeviceRepository {
	return &DeviceRepository{devices: make(map[string]*entity.Device)}
}

// Create stores a new device
func (r *DeviceRepository) Create(_ context.Context, device *entity.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.devices[device.ID()]; exists {
		return fmt.Errorf("%w: %s", domainerr.ErrDeviceExists, device.ID())
	}
	r.devices[device.ID()] = cloneDevice(device)
	return nil
}

// Update replaces a stored device
func (r *DeviceRepository) Update(_ context.Context, device *entity.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.devices[device.ID()]; !exists {
		return fmt.Errorf("%w: device %s", domainerr.ErrNotFound, device.ID())
	}
	r.devices[device.ID()] = cloneDevice(device)
	return nil
}

// FindByID returns a copy of the stored device
func (r *DeviceRepository) FindByID(_ context.Context, id string) (*entity.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	device, ok := r.devices[id]
	if !ok {
		return nil, fmt.Errorf("%w: device %s", domainerr.ErrNotFound, id)
	}
	return cloneDevice(device), nil
}

// List returns devices ordered by id
func (r *DeviceRepository) List(_ context.Context, offset, limit int) ([]*entity.Device, error) {
	r.mu.RLock()
	ids := make([]string, 0, len(r.devices))
	for id := range r.devices {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	if offset >= len(ids) {
		return []*entity.Device{}, nil
	}
	end := len(ids)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*entity.Device, 0, end-offset)
	for _, id := range ids[offset:end] {
		if d, ok := r.devices[id]; ok {
			result = append(result, cloneDevice(d))
		}
	}
	return result, nil
}

// save stores the device without existence checks; used by the event ledger
func (r *DeviceRepository) save(device *entity.Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[device.ID()] = cloneDevice(device)
}

func cloneDevice(d *entity.Device) *entity.Device {
	return entity.ReconstructDevice(d.Spec(), d.Status(), d.PassportID(), d.CreatedAt(), d.UpdatedAt())
}
