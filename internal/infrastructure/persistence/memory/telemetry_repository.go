package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dreschagin/device-lifecycle/internal/domain/domainerr"
	"github.com/dreschagin/device-lifecycle/internal/domain/entity"
	"github.com/dreschagin/device-lifecycle/internal/domain/valueobject"
)

// series is the ordered snapshot list of one device
type series struct {
	mu        sync.RWMutex
	snapshots []*entity.TelemetrySnapshot
}

// TelemetryRepository keeps one independently locked series per device, so
// writes for different devices never contend.
type TelemetryRepository struct {
	devices sync.Map // deviceID -> *series
}

// NewTelemetryRepository creates an empty repository
func NewTelemetryRepository() *TelemetryRepository {
	return &TelemetryRepository{}
}

func (r *TelemetryRepository) series(deviceID string) *series {
	v, _ := r.devices.LoadOrStore(deviceID, &series{})
	return v.(*series)
}

// Append inserts the snapshot keeping timestamp order
func (r *TelemetryRepository) Append(_ context.Context, snapshot *entity.TelemetrySnapshot) error {
	s := r.series(snapshot.DeviceID())
	s.mu.Lock()
	defer s.mu.Unlock()

	at := snapshot.RecordedAt()
	i := sort.Search(len(s.snapshots), func(i int) bool {
		return !s.snapshots[i].RecordedAt().Before(at)
	})
	if i < len(s.snapshots) && s.snapshots[i].SameKey(snapshot) {
		return fmt.Errorf("%w: %s at %s", domainerr.ErrDuplicateTimestamp, snapshot.DeviceID(), at)
	}

	s.snapshots = append(s.snapshots, nil)
	copy(s.snapshots[i+1:], s.snapshots[i:])
	s.snapshots[i] = snapshot
	return nil
}

// FindByTimeRange returns snapshots within [start, end]
func (r *TelemetryRepository) FindByTimeRange(_ context.Context, deviceID string, timeRange valueobject.TimeRange) ([]*entity.TelemetrySnapshot, error) {
	s := r.series(deviceID)
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*entity.TelemetrySnapshot, 0)
	for _, snap := range s.snapshots {
		if timeRange.Contains(snap.RecordedAt()) {
			result = append(result, snap)
		}
	}
	return result, nil
}

// FindLatest returns the newest snapshot
func (r *TelemetryRepository) FindLatest(_ context.Context, deviceID string) (*entity.TelemetrySnapshot, error) {
	s := r.series(deviceID)
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.snapshots) == 0 {
		return nil, fmt.Errorf("%w: no telemetry for %s", domainerr.ErrNotFound, deviceID)
	}
	return s.snapshots[len(s.snapshots)-1], nil
}
