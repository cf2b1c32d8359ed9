package entity

import (
	"fmt"
	"strings"
	"time"

	"github.com/dreschagin/device-lifecycle/internal/domain/domainerr"
	"github.com/dreschagin/device-lifecycle/internal/domain/valueobject"
	"github.com/google/uuid"
)

// LifecycleEvent - неизменяемая запись действия над устройством.
// Порядок в журнале: occurredAt, затем sequence (порядок вставки).
type LifecycleEvent struct {
	id         string
	deviceID   string
	kind       valueobject.EventKind
	occurredAt time.Time
	sequence   int64
	metadata   map[string]interface{}
}

// NewLifecycleEvent создает новое событие (sequence присваивает репозиторий)
func NewLifecycleEvent(
	deviceID string,
	kind valueobject.EventKind,
	occurredAt time.Time,
	metadata map[string]interface{},
) (*LifecycleEvent, error) {
	if strings.TrimSpace(deviceID) == "" {
		return nil, fmt.Errorf("%w: device id is required", domainerr.ErrInvalidInput)
	}
	if err := kind.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domainerr.ErrInvalidInput, err)
	}
	if occurredAt.IsZero() {
		return nil, fmt.Errorf("%w: event timestamp is required", domainerr.ErrInvalidInput)
	}

	return &LifecycleEvent{
		id:         uuid.New().String(),
		deviceID:   deviceID,
		kind:       kind,
		occurredAt: occurredAt.UTC(),
		metadata:   copyMetadata(metadata),
	}, nil
}

// ReconstructLifecycleEvent восстанавливает событие из хранилища
func ReconstructLifecycleEvent(
	id, deviceID string,
	kind valueobject.EventKind,
	occurredAt time.Time,
	sequence int64,
	metadata map[string]interface{},
) *LifecycleEvent {
	return &LifecycleEvent{
		id:         id,
		deviceID:   deviceID,
		kind:       kind,
		occurredAt: occurredAt.UTC(),
		sequence:   sequence,
		metadata:   copyMetadata(metadata),
	}
}

func (e *LifecycleEvent) ID() string                  { return e.id }
func (e *LifecycleEvent) DeviceID() string            { return e.deviceID }
func (e *LifecycleEvent) Kind() valueobject.EventKind { return e.kind }
func (e *LifecycleEvent) OccurredAt() time.Time       { return e.occurredAt }
func (e *LifecycleEvent) Sequence() int64             { return e.sequence }

// Metadata возвращает копию метаданных
func (e *LifecycleEvent) Metadata() map[string]interface{} {
	return copyMetadata(e.metadata)
}

// WithSequence возвращает копию события с присвоенным порядковым номером
func (e *LifecycleEvent) WithSequence(seq int64) *LifecycleEvent {
	clone := *e
	clone.metadata = copyMetadata(e.metadata)
	clone.sequence = seq
	return &clone
}

// CompareLedgerOrder упорядочивает события журнала: время, затем порядок вставки
func CompareLedgerOrder(a, b *LifecycleEvent) int {
	if c := a.occurredAt.Compare(b.occurredAt); c != 0 {
		return c
	}
	switch {
	case a.sequence < b.sequence:
		return -1
	case a.sequence > b.sequence:
		return 1
	default:
		return 0
	}
}

func copyMetadata(src map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(src))
	for k, v := range src {
		result[k] = v
	}
	return result
}
