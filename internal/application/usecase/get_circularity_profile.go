package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dreschagin/device-lifecycle/internal/application/dto"
	"github.com/dreschagin/device-lifecycle/internal/domain/domainerr"
	"github.com/dreschagin/device-lifecycle/internal/domain/entity"
	"github.com/dreschagin/device-lifecycle/internal/domain/repository"
	"github.com/dreschagin/device-lifecycle/internal/domain/service"
	"github.com/dreschagin/device-lifecycle/pkg/logger"
)

// GetCircularityProfileUseCase вычисляет профиль повторным проходом по журналу.
// Профиль не хранится: его источник истины - журнал событий.
type GetCircularityProfileUseCase struct {
	devices    repository.DeviceRepository
	events     repository.LifecycleEventRepository
	calculator *service.CircularityCalculator
	now        func() time.Time
}

// NewGetCircularityProfileUseCase создает новый use case
func NewGetCircularityProfileUseCase(
	devices repository.DeviceRepository,
	events repository.LifecycleEventRepository,
	calculator *service.CircularityCalculator,
	now func() time.Time,
) *GetCircularityProfileUseCase {
	if calculator == nil {
		calculator = service.NewCircularityCalculator()
	}
	if now == nil {
		now = time.Now
	}
	return &GetCircularityProfileUseCase{devices: devices, events: events, calculator: calculator, now: now}
}

// Execute возвращает профиль устройства
func (uc *GetCircularityProfileUseCase) Execute(ctx context.Context, deviceID string) (*entity.CircularityProfile, error) {
	device, err := uc.devices.FindByID(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	profile, err := uc.compute(ctx, device)
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (uc *GetCircularityProfileUseCase) compute(ctx context.Context, device *entity.Device) (entity.CircularityProfile, error) {
	ledger, err := uc.events.Replay(ctx, device.ID())
	if err != nil {
		return entity.CircularityProfile{}, fmt.Errorf("failed to replay ledger: %w", err)
	}
	return uc.calculator.Compute(device, ledger, uc.now().UTC()), nil
}

// Analyzer - источник объединенного анализа для рекомендаций
type Analyzer interface {
	Execute(ctx context.Context, deviceID string, req dto.AnalyzeRequest) (*dto.AnalysisDTO, error)
}

// GetRecommendationUseCase строит рекомендацию по анализу и профилю устройства
type GetRecommendationUseCase struct {
	devices  repository.DeviceRepository
	profiles *GetCircularityProfileUseCase
	analyzer Analyzer
	engine   *service.RecommendationEngine
	logger   *logger.Logger
	now      func() time.Time
}

// NewGetRecommendationUseCase создает новый use case
func NewGetRecommendationUseCase(
	devices repository.DeviceRepository,
	profiles *GetCircularityProfileUseCase,
	analyzer Analyzer,
	engine *service.RecommendationEngine,
	log *logger.Logger,
	now func() time.Time,
) *GetRecommendationUseCase {
	if now == nil {
		now = time.Now
	}
	return &GetRecommendationUseCase{
		devices:  devices,
		profiles: profiles,
		analyzer: analyzer,
		engine:   engine,
		logger:   log,
		now:      now,
	}
}

// Execute использует свежий кэшированный анализ или запускает новый.
// Если все возможности недоступны, рекомендация строится без анализа
// с пониженной уверенностью.
func (uc *GetRecommendationUseCase) Execute(ctx context.Context, deviceID string) (*entity.Recommendation, error) {
	device, err := uc.devices.FindByID(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	profile, err := uc.profiles.compute(ctx, device)
	if err != nil {
		return nil, err
	}

	var analysis *entity.FusedAnalysis
	result, err := uc.analyzer.Execute(ctx, deviceID, dto.AnalyzeRequest{Policy: string(dto.DedupJoin)})
	switch {
	case err == nil:
		analysis = result.FusedAnalysis
	case errors.Is(err, domainerr.ErrAllCapabilitiesUnavailable):
		uc.logger.Warn("Recommending without analysis", "device_id", deviceID, "error", err.Error())
	default:
		return nil, fmt.Errorf("failed to analyze device: %w", err)
	}

	rec := uc.engine.Recommend(analysis, &profile, device, uc.now().UTC())
	return &rec, nil
}
