package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/dreschagin/device-lifecycle/internal/domain/domainerr"
	"github.com/dreschagin/device-lifecycle/internal/domain/entity"
)

// LifecycleEventRepository is an append-only ledger. Appending an event and
// saving the device status happen under one lock.
type LifecycleEventRepository struct {
	mu      sync.RWMutex
	seq     int64
	ledgers map[string][]*entity.LifecycleEvent
	devices *DeviceRepository
}

// NewLifecycleEventRepository creates a ledger bound to the device repository
func NewLifecycleEventRepository(devices *DeviceRepository) *LifecycleEventRepository {
	return &LifecycleEventRepository{
		ledgers: make(map[string][]*entity.LifecycleEvent),
		devices: devices,
	}
}

// AppendWithDevice appends the event and persists the device status
func (r *LifecycleEventRepository) AppendWithDevice(ctx context.Context, event *entity.LifecycleEvent, device *entity.Device) (*entity.LifecycleEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.devices.FindByID(ctx, device.ID()); err != nil {
		return nil, err
	}
	if event.DeviceID() != device.ID() {
		return nil, fmt.Errorf("%w: event belongs to %s", domainerr.ErrInvalidInput, event.DeviceID())
	}

	r.seq++
	stored := event.WithSequence(r.seq)
	r.ledgers[device.ID()] = append(r.ledgers[device.ID()], stored)
	r.devices.save(device)
	return stored, nil
}

// Replay returns the ledger in (timestamp, sequence) order
func (r *LifecycleEventRepository) Replay(_ context.Context, deviceID string) ([]*entity.LifecycleEvent, error) {
	r.mu.RLock()
	events := slices.Clone(r.ledgers[deviceID])
	r.mu.RUnlock()

	slices.SortStableFunc(events, entity.CompareLedgerOrder)
	return events, nil
}

// DeviceIDs returns ids of devices with at least one event
func (r *LifecycleEventRepository) DeviceIDs(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.ledgers))
	for id := range r.ledgers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}
