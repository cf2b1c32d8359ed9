package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dreschagin/device-lifecycle/internal/domain/domainerr"
	"github.com/dreschagin/device-lifecycle/internal/domain/entity"
	"github.com/dreschagin/device-lifecycle/internal/domain/repository"
	"github.com/dreschagin/device-lifecycle/internal/domain/service"
	"github.com/dreschagin/device-lifecycle/internal/domain/valueobject"
)

// TelemetryStoreConfig - требования к окну телеметрии
type TelemetryStoreConfig struct {
	// MinSnapshots - минимальное число снимков в окне
	MinSnapshots int
	// MinCoverage - доля окна, которую должна покрывать история (0..1)
	MinCoverage float64
}

// TelemetryStore - append-only временной ряд снимков по устройствам
type TelemetryStore struct {
	repo      repository.TelemetryRepository
	validator *service.TelemetryValidator
	config    TelemetryStoreConfig
	now       func() time.Time
}

// NewTelemetryStore создает TelemetryStore
func NewTelemetryStore(
	repo repository.TelemetryRepository,
	validator *service.TelemetryValidator,
	config TelemetryStoreConfig,
	now func() time.Time,
) *TelemetryStore {
	if config.MinSnapshots <= 0 {
		config.MinSnapshots = 1
	}
	if config.MinCoverage < 0 || config.MinCoverage > 1 {
		config.MinCoverage = 0
	}
	if now == nil {
		now = time.Now
	}
	return &TelemetryStore{repo: repo, validator: validator, config: config, now: now}
}

// Record валидирует и добавляет снимок.
// ErrInvalidReading - показания неправдоподобны, ErrDuplicateTimestamp - метка уже занята.
func (s *TelemetryStore) Record(ctx context.Context, reading entity.TelemetryReading) (*entity.TelemetrySnapshot, error) {
	snapshot, err := entity.NewTelemetrySnapshot(reading)
	if err != nil {
		return nil, err
	}
	if err := s.validator.Validate(snapshot); err != nil {
		return nil, err
	}
	if err := s.repo.Append(ctx, snapshot); err != nil {
		if errors.Is(err, domainerr.ErrDuplicateTimestamp) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to append telemetry: %w", err)
	}
	return snapshot, nil
}

// Window возвращает упорядоченное окно за последние days суток.
// Если истории недостаточно, возвращается ErrInsufficientHistory, а не короткое окно.
func (s *TelemetryStore) Window(ctx context.Context, deviceID string, days int) (*entity.TelemetryWindow, error) {
	end := s.now().UTC()
	timeRange, err := valueobject.NewTrailingDays(end, days)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domainerr.ErrInvalidInput, err)
	}

	snapshots, err := s.repo.FindByTimeRange(ctx, deviceID, timeRange)
	if err != nil {
		return nil, fmt.Errorf("failed to read telemetry window: %w", err)
	}

	window := entity.NewTelemetryWindow(deviceID, days, end, snapshots)

	if window.Len() < s.config.MinSnapshots {
		return nil, fmt.Errorf("%w: %d snapshots in %d days, need %d",
			domainerr.ErrInsufficientHistory, window.Len(), days, s.config.MinSnapshots)
	}

	required := time.Duration(float64(timeRange.Duration()) * s.config.MinCoverage)
	if window.Span() < required {
		return nil, fmt.Errorf("%w: history covers %.1f of %d days",
			domainerr.ErrInsufficientHistory, window.Span().Hours()/24, days)
	}

	return window, nil
}

// Latest возвращает последний снимок устройства
func (s *TelemetryStore) Latest(ctx context.Context, deviceID string) (*entity.TelemetrySnapshot, error) {
	return s.repo.FindLatest(ctx, deviceID)
}
