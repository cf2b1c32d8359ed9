package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/dreschagin/device-lifecycle/internal/application/dto"
	"github.com/dreschagin/device-lifecycle/internal/application/port"
	"github.com/dreschagin/device-lifecycle/internal/domain/domainerr"
	"github.com/dreschagin/device-lifecycle/internal/domain/entity"
	"github.com/dreschagin/device-lifecycle/internal/domain/repository"
	"github.com/dreschagin/device-lifecycle/internal/domain/valueobject"
	"github.com/dreschagin/device-lifecycle/pkg/logger"
)

// Исходы дедупликации для метрик
const (
	DedupLeader   = "leader"
	DedupJoined   = "joined"
	DedupRejected = "rejected"
	// DedupRequeued - чужой прогон не покрыл запрос, вызов выполнен отдельно
	DedupRequeued = "requeued"
)

// AnalysisObserver получает события оркестратора (Prometheus)
type AnalysisObserver interface {
	ObserveAnalysis(outcome string, duration time.Duration)
	ObserveDedup(outcome string)
	ObserveCache(hit bool)
}

// AnalyzeConfig - параметры оркестратора
type AnalyzeConfig struct {
	// WindowDays - длина окна телеметрии для прогноза состояния
	WindowDays int
	// GlobalTimeout ограничивает ожидание всех возможностей одного анализа
	GlobalTimeout time.Duration
	// FreshnessTTL - время жизни кэшированного результата; 0 отключает кэш
	FreshnessTTL time.Duration
	// DefaultPolicy применяется, если запрос не указывает политику
	DefaultPolicy dto.DedupPolicy
}

// AnalyzeDeviceDeps - зависимости оркестратора. Все, кроме Devices,
// Telemetry и Gateway, опциональны.
type AnalyzeDeviceDeps struct {
	Devices   repository.DeviceRepository
	Telemetry *TelemetryStore
	Gateway   port.PredictionGateway
	Images    port.ImageStorage
	Cache     port.Cache
	Publisher port.EventPublisher
	Notifier  port.NotificationService
	Metrics   port.MetricsPublisher
	Observer  AnalysisObserver
}

// cachedAnalysis - запись кэша свежести
type cachedAnalysis struct {
	Analysis   *entity.FusedAnalysis    `json:"analysis"`
	Requested  []valueobject.Capability `json:"requested"`
	Generation uint64                   `json:"generation"`
}

// AnalyzeDeviceUseCase оркестрирует вызовы трех возможностей и объединяет результат.
// Для одного устройства одновременно выполняется не более одного анализа.
type AnalyzeDeviceUseCase struct {
	deps   AnalyzeDeviceDeps
	config AnalyzeConfig
	logger *logger.Logger
	now    func() time.Time

	group       singleflight.Group
	inflight    sync.Map // deviceID -> *atomic.Int32, вызовы в ожидании прогона
	generations sync.Map // deviceID -> *atomic.Uint64
}

// NewAnalyzeDeviceUseCase создает оркестратор
func NewAnalyzeDeviceUseCase(deps AnalyzeDeviceDeps, config AnalyzeConfig, log *logger.Logger, now func() time.Time) *AnalyzeDeviceUseCase {
	if config.WindowDays <= 0 {
		config.WindowDays = 30
	}
	if config.GlobalTimeout <= 0 {
		config.GlobalTimeout = 10 * time.Second
	}
	if config.DefaultPolicy == "" {
		config.DefaultPolicy = dto.DedupJoin
	}
	if now == nil {
		now = time.Now
	}
	return &AnalyzeDeviceUseCase{
		deps:   deps,
		config: config,
		logger: log,
		now:    now,
	}
}

// Execute выполняет анализ устройства.
// Сбой отдельных возможностей отражается в Components; ошибка возвращается,
// только если все запрошенные возможности недоступны.
func (uc *AnalyzeDeviceUseCase) Execute(ctx context.Context, deviceID string, req dto.AnalyzeRequest) (*dto.AnalysisDTO, error) {
	capabilities, err := dto.ParseCapabilities(req.Capabilities)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domainerr.ErrInvalidInput, err)
	}

	policy := uc.config.DefaultPolicy
	if req.Policy != "" {
		if policy, err = dto.ParseDedupPolicy(req.Policy); err != nil {
			return nil, fmt.Errorf("%w: %v", domainerr.ErrInvalidInput, err)
		}
	}

	knownGrade := valueobject.GradeUnknown
	if req.KnownGrade != "" {
		if knownGrade, err = valueobject.ParseGrade(req.KnownGrade); err != nil {
			return nil, fmt.Errorf("%w: %v", domainerr.ErrInvalidInput, err)
		}
	}

	device, err := uc.deps.Devices.FindByID(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	freshImages := toImageRefs(req.Images)

	// Свежие изображения всегда требуют нового прогона
	if !req.ForceRefresh && len(freshImages) == 0 {
		if cached, ok := uc.fromCache(ctx, deviceID, capabilities); ok {
			return &dto.AnalysisDTO{FusedAnalysis: cached, Cached: true}, nil
		}
	}

	release, err := uc.admit(deviceID, policy)
	if err != nil {
		uc.observeDedup(DedupRejected)
		return nil, err
	}

	run := analysisRun{
		device:        device,
		capabilities:  capabilities,
		images:        freshImages,
		knownGrade:    knownGrade,
		marketSignals: req.MarketSignals,
	}

	// Общий прогон не отменяется, если вызывающий ушел: результат нужен
	// присоединившимся и кэшу
	detached := context.WithoutCancel(ctx)
	for {
		led := false
		ch := uc.group.DoChan(deviceID, func() (interface{}, error) {
			led = true
			analysis, err := uc.run(detached, run)
			return &sharedRun{analysis: analysis, capabilities: run.capabilities}, err
		})

		var res singleflight.Result
		select {
		case <-ctx.Done():
			// Маркер держится, пока общий прогон не завершится
			go func() {
				<-ch
				release()
			}()
			return nil, fmt.Errorf("analysis of %s abandoned: %w", deviceID, ctx.Err())
		case res = <-ch:
		}

		shared, _ := res.Val.(*sharedRun)
		if led {
			release()
			uc.observeDedup(DedupLeader)
			if res.Err != nil {
				return nil, res.Err
			}
			return &dto.AnalysisDTO{FusedAnalysis: shared.analysis.Clone()}, nil
		}

		// Чужой прогон подходит, только если покрывает запрошенные возможности
		// и вызывающий не прислал свежих изображений. Иначе прогон уже завершен,
		// и следующая итерация выполнит запрос отдельно.
		if shared != nil && len(freshImages) == 0 && covers(shared.capabilities, capabilities) {
			release()
			uc.observeDedup(DedupJoined)
			if res.Err != nil {
				return nil, res.Err
			}
			return &dto.AnalysisDTO{FusedAnalysis: project(shared.analysis, capabilities)}, nil
		}
		uc.observeDedup(DedupRequeued)
	}
}

// admit регистрирует вызов до запуска прогона. Политика reject
// допускается только на свободное устройство.
func (uc *AnalyzeDeviceUseCase) admit(deviceID string, policy dto.DedupPolicy) (func(), error) {
	waiting := uc.waiting(deviceID)
	if policy == dto.DedupReject {
		if !waiting.CompareAndSwap(0, 1) {
			return nil, fmt.Errorf("%w: device %s", domainerr.ErrAnalysisInProgress, deviceID)
		}
	} else {
		waiting.Add(1)
	}

	var once sync.Once
	return func() { once.Do(func() { waiting.Add(-1) }) }, nil
}

// Invalidate сбрасывает кэш устройства. Прогон, начавшийся до сброса,
// не запишет свой результат в кэш.
func (uc *AnalyzeDeviceUseCase) Invalidate(ctx context.Context, deviceID string) {
	uc.generation(deviceID).Add(1)

	if uc.deps.Cache == nil {
		return
	}
	if err := uc.deps.Cache.Delete(ctx, analysisCacheKey(deviceID)); err != nil {
		uc.logger.Warn("Failed to invalidate analysis cache",
			"device_id", deviceID,
			"error", err.Error(),
		)
	}
}

// InFlight сообщает, выполняется ли сейчас анализ устройства
func (uc *AnalyzeDeviceUseCase) InFlight(deviceID string) bool {
	return uc.waiting(deviceID).Load() > 0
}

// sharedRun - результат прогона вместе с набором возможностей, которые он покрыл
type sharedRun struct {
	analysis     *entity.FusedAnalysis
	capabilities []valueobject.Capability
}

type analysisRun struct {
	device        *entity.Device
	capabilities  []valueobject.Capability
	images        []port.ImageRef
	knownGrade    valueobject.Grade
	marketSignals map[string]float64
}

// componentOutcome - результат одной возможности до объединения
type componentOutcome struct {
	status entity.ComponentStatus
	health *entity.HealthPrediction
	grade  *entity.GradingResult
	price  *entity.PriceEstimate
}

func (uc *AnalyzeDeviceUseCase) run(parent context.Context, r analysisRun) (*entity.FusedAnalysis, error) {
	deviceID := r.device.ID()
	generation := uc.generation(deviceID).Load()
	started := time.Now()

	ctx, cancel := context.WithTimeout(parent, uc.config.GlobalTimeout)
	defer cancel()

	// Каждая горутина пишет только в свой слот, объединение после Wait
	outcomes := make([]componentOutcome, len(r.capabilities))
	var g errgroup.Group
	for i, c := range r.capabilities {
		g.Go(func() error {
			callStarted := time.Now()
			out := uc.invoke(ctx, c, r)
			out.status.LatencyMs = time.Since(callStarted).Milliseconds()
			outcomes[i] = out
			return nil
		})
	}
	_ = g.Wait()

	analysis := entity.NewFusedAnalysis(deviceID, uc.now().UTC())
	unavailable := 0
	for i, c := range r.capabilities {
		out := outcomes[i]
		analysis.Components[c] = out.status
		switch {
		case out.health != nil:
			analysis.Health = out.health
		case out.grade != nil:
			analysis.Grading = out.grade
		case out.price != nil:
			analysis.Price = out.price
		}
		if out.status.State == entity.ComponentUnavailable {
			unavailable++
		}
	}

	duration := time.Since(started)

	if unavailable == len(r.capabilities) {
		uc.observeAnalysis("all_unavailable", duration)
		uc.publishMetrics(analysis, duration)
		uc.logger.Warn("All requested capabilities unavailable",
			"device_id", deviceID,
			"capabilities", joinCapabilities(r.capabilities),
		)
		return nil, fmt.Errorf("%w: device %s", domainerr.ErrAllCapabilitiesUnavailable, deviceID)
	}

	outcome := "complete"
	if len(analysis.Absent()) > 0 {
		outcome = "degraded"
	}
	uc.observeAnalysis(outcome, duration)
	uc.publishMetrics(analysis, duration)

	uc.store(parent, analysis, r.capabilities, generation)
	uc.announce(parent, analysis)

	uc.logger.Info("Device analyzed",
		"device_id", deviceID,
		"outcome", outcome,
		"duration", duration.String(),
	)

	return analysis, nil
}

// invoke вызывает одну возможность и переводит исход в статус компонента
func (uc *AnalyzeDeviceUseCase) invoke(ctx context.Context, c valueobject.Capability, r analysisRun) componentOutcome {
	switch c {
	case valueobject.CapabilityHealth:
		window, err := uc.deps.Telemetry.Window(ctx, r.device.ID(), uc.config.WindowDays)
		if err != nil {
			if errors.Is(err, domainerr.ErrInsufficientHistory) {
				return absent(entity.ComponentInsufficientHistory, err)
			}
			return absent(entity.ComponentUnavailable, err)
		}
		health, err := uc.deps.Gateway.PredictHealth(ctx, window)
		if err != nil {
			return absent(entity.ComponentUnavailable, err)
		}
		return componentOutcome{status: entity.ComponentStatus{State: entity.ComponentOK}, health: health}

	case valueobject.CapabilityGrading:
		images := r.images
		if len(images) == 0 {
			images = uc.latestImages(ctx, r.device.ID())
		}
		if len(images) == 0 {
			return absent(entity.ComponentNoInput, errors.New("no device images"))
		}
		grade, err := uc.deps.Gateway.GradeDevice(ctx, images)
		if err != nil {
			return absent(entity.ComponentUnavailable, err)
		}
		return componentOutcome{status: entity.ComponentStatus{State: entity.ComponentOK}, grade: grade}

	case valueobject.CapabilityPricing:
		features := uc.priceFeatures(ctx, r)
		price, err := uc.deps.Gateway.EstimatePrice(ctx, features)
		if err != nil {
			return absent(entity.ComponentUnavailable, err)
		}
		return componentOutcome{status: entity.ComponentStatus{State: entity.ComponentOK}, price: price}
	}

	return absent(entity.ComponentNotRequested, fmt.Errorf("unknown capability %s", c))
}

func absent(state entity.ComponentState, err error) componentOutcome {
	return componentOutcome{status: entity.ComponentStatus{State: state, Detail: err.Error()}}
}

// priceFeatures собирает признаки для оценки цены из метаданных устройства,
// последнего снимка телеметрии и разметки изображений
func (uc *AnalyzeDeviceUseCase) priceFeatures(ctx context.Context, r analysisRun) port.PriceFeatures {
	now := uc.now()
	features := port.PriceFeatures{
		DeviceID:      r.device.ID(),
		Model:         r.device.Model(),
		Manufacturer:  r.device.Manufacturer(),
		StorageGB:     r.device.StorageGB(),
		RAMGB:         r.device.RAMGB(),
		AgeDays:       r.device.AgeDays(now),
		Grade:         r.knownGrade,
		MarketSignals: r.marketSignals,
	}

	if latest, err := uc.deps.Telemetry.Latest(ctx, r.device.ID()); err == nil {
		reading := latest.Reading()
		features.BatteryHealthPct = reading.BatteryHealthPct
		features.BatteryCycles = reading.BatteryCycleCount
	}

	images := r.images
	if len(images) == 0 {
		images = uc.latestImages(ctx, r.device.ID())
	}
	for _, img := range images {
		for name, count := range img.Annotations {
			if features.Defects == nil {
				features.Defects = make(map[string]int)
			}
			features.Defects[name] += count
		}
	}

	return features
}

func (uc *AnalyzeDeviceUseCase) latestImages(ctx context.Context, deviceID string) []port.ImageRef {
	if uc.deps.Images == nil {
		return nil
	}
	images, err := uc.deps.Images.LatestImages(ctx, deviceID)
	if err != nil {
		uc.logger.Debug("No stored images for grading",
			"device_id", deviceID,
			"error", err.Error(),
		)
		return nil
	}
	return images
}

// fromCache возвращает кэшированный результат, если он покрывает запрошенные возможности
func (uc *AnalyzeDeviceUseCase) fromCache(ctx context.Context, deviceID string, capabilities []valueobject.Capability) (*entity.FusedAnalysis, bool) {
	if uc.deps.Cache == nil || uc.config.FreshnessTTL <= 0 {
		return nil, false
	}

	var entry cachedAnalysis
	if err := uc.deps.Cache.Get(ctx, analysisCacheKey(deviceID), &entry); err != nil {
		if !errors.Is(err, port.ErrCacheMiss) {
			uc.logger.Warn("Analysis cache read failed",
				"device_id", deviceID,
				"error", err.Error(),
			)
		}
		uc.observeCache(false)
		return nil, false
	}

	if entry.Analysis == nil || entry.Generation != uc.generation(deviceID).Load() || !covers(entry.Requested, capabilities) {
		uc.observeCache(false)
		return nil, false
	}

	uc.observeCache(true)
	return project(entry.Analysis, capabilities), true
}

// store кэширует результат, если за время прогона устройство не инвалидировали
func (uc *AnalyzeDeviceUseCase) store(ctx context.Context, analysis *entity.FusedAnalysis, capabilities []valueobject.Capability, generation uint64) {
	if uc.deps.Cache == nil || uc.config.FreshnessTTL <= 0 {
		return
	}
	if len(analysis.Absent()) == len(valueobject.AllCapabilities()) {
		return
	}
	if uc.generation(analysis.DeviceID).Load() != generation {
		uc.logger.Debug("Skipping cache write for invalidated analysis", "device_id", analysis.DeviceID)
		return
	}

	entry := cachedAnalysis{
		Analysis:   analysis,
		Requested:  capabilities,
		Generation: generation,
	}
	if err := uc.deps.Cache.Set(ctx, analysisCacheKey(analysis.DeviceID), entry, uc.config.FreshnessTTL); err != nil {
		uc.logger.Warn("Failed to cache analysis",
			"device_id", analysis.DeviceID,
			"error", err.Error(),
		)
	}
}

// announce публикует завершенный анализ в брокер и подключенным клиентам
func (uc *AnalyzeDeviceUseCase) announce(ctx context.Context, analysis *entity.FusedAnalysis) {
	payload := &dto.AnalysisDTO{FusedAnalysis: analysis.Clone()}

	if uc.deps.Publisher != nil {
		if err := uc.deps.Publisher.PublishEvent(ctx, port.AnalysisSubject(analysis.DeviceID), payload); err != nil {
			uc.logger.Warn("Failed to publish analysis",
				"device_id", analysis.DeviceID,
				"error", err.Error(),
			)
		}
	}
	if uc.deps.Notifier != nil {
		uc.deps.Notifier.BroadcastAnalysis(payload)
	}
}

func (uc *AnalyzeDeviceUseCase) publishMetrics(analysis *entity.FusedAnalysis, duration time.Duration) {
	if uc.deps.Metrics == nil {
		return
	}

	at := uc.now().UTC()
	data := []port.MetricDatum{
		{Name: "AnalysisDuration", Value: float64(duration.Milliseconds()), Unit: "Milliseconds", Timestamp: at},
		{Name: "AbsentComponents", Value: float64(len(analysis.Absent())), Unit: "Count", Timestamp: at},
	}
	for c, status := range analysis.Components {
		if status.State != entity.ComponentUnavailable {
			continue
		}
		data = append(data, port.MetricDatum{
			Name:       "CapabilityUnavailable",
			Value:      1,
			Unit:       "Count",
			Dimensions: map[string]string{"Capability": c.String()},
			Timestamp:  at,
		})
	}

	if err := uc.deps.Metrics.PublishBatch(context.Background(), data); err != nil {
		uc.logger.Warn("Failed to publish analysis metrics", "error", err.Error())
	}
}

func (uc *AnalyzeDeviceUseCase) generation(deviceID string) *atomic.Uint64 {
	v, _ := uc.generations.LoadOrStore(deviceID, new(atomic.Uint64))
	return v.(*atomic.Uint64)
}

func (uc *AnalyzeDeviceUseCase) waiting(deviceID string) *atomic.Int32 {
	v, _ := uc.inflight.LoadOrStore(deviceID, new(atomic.Int32))
	return v.(*atomic.Int32)
}

func (uc *AnalyzeDeviceUseCase) observeDedup(outcome string) {
	if uc.deps.Observer != nil {
		uc.deps.Observer.ObserveDedup(outcome)
	}
}

func (uc *AnalyzeDeviceUseCase) observeCache(hit bool) {
	if uc.deps.Observer != nil {
		uc.deps.Observer.ObserveCache(hit)
	}
}

func (uc *AnalyzeDeviceUseCase) observeAnalysis(outcome string, duration time.Duration) {
	if uc.deps.Observer != nil {
		uc.deps.Observer.ObserveAnalysis(outcome, duration)
	}
}

func analysisCacheKey(deviceID string) string {
	return fmt.Sprintf("analysis:%s", deviceID)
}

func covers(cached, requested []valueobject.Capability) bool {
	for _, r := range requested {
		found := false
		for _, c := range cached {
			if c == r {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// project оставляет в результате только запрошенные компоненты
func project(analysis *entity.FusedAnalysis, capabilities []valueobject.Capability) *entity.FusedAnalysis {
	out := analysis.Clone()
	keep := make(map[valueobject.Capability]bool, len(capabilities))
	for _, c := range capabilities {
		keep[c] = true
	}
	for _, c := range valueobject.AllCapabilities() {
		if keep[c] {
			continue
		}
		out.Components[c] = entity.ComponentStatus{State: entity.ComponentNotRequested}
		switch c {
		case valueobject.CapabilityHealth:
			out.Health = nil
		case valueobject.CapabilityGrading:
			out.Grading = nil
		case valueobject.CapabilityPricing:
			out.Price = nil
		}
	}
	return out
}

func toImageRefs(inputs []dto.ImageInput) []port.ImageRef {
	if len(inputs) == 0 {
		return nil
	}
	refs := make([]port.ImageRef, 0, len(inputs))
	for _, in := range inputs {
		if strings.TrimSpace(in.Key) == "" && strings.TrimSpace(in.URL) == "" {
			continue
		}
		refs = append(refs, port.ImageRef{
			Key:         in.Key,
			URL:         in.URL,
			Annotations: in.Annotations,
		})
	}
	return refs
}

func joinCapabilities(capabilities []valueobject.Capability) string {
	parts := make([]string, len(capabilities))
	for i, c := range capabilities {
		parts[i] = c.String()
	}
	return strings.Join(parts, ",")
}
