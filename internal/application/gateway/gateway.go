// Package gateway реализует единый клиент к предсказательным возможностям
// с таймаутами и изоляцией сбоев по каждой возможности.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dreschagin/device-lifecycle/internal/application/port"
	"github.com/dreschagin/device-lifecycle/internal/domain/domainerr"
	"github.com/dreschagin/device-lifecycle/internal/domain/entity"
	"github.com/dreschagin/device-lifecycle/internal/domain/valueobject"
	"github.com/dreschagin/device-lifecycle/pkg/logger"
)

// Исходы вызова для метрик
const (
	OutcomeOK          = "ok"
	OutcomeTimeout     = "timeout"
	OutcomeError       = "error"
	OutcomeCircuitOpen = "circuit_open"
	OutcomeNotWired    = "not_configured"
)

// Observer получает результаты вызовов возможностей (Prometheus, CloudWatch)
type Observer interface {
	ObserveCapabilityCall(capability valueobject.Capability, outcome string, latency time.Duration)
}

// Config - параметры шлюза
type Config struct {
	Timeouts map[valueobject.Capability]time.Duration
	Breaker  BreakerConfig
}

// DefaultTimeout используется для возможностей без явного таймаута
const DefaultTimeout = 3 * time.Second

// Gateway реализует port.PredictionGateway поверх трех независимых бэкендов
type Gateway struct {
	health   port.HealthPredictor
	grader   port.Grader
	pricer   port.PriceEstimator
	timeouts map[valueobject.Capability]time.Duration
	breakers map[valueobject.Capability]*Breaker
	observer Observer
	log      *logger.Logger
}

// Backends - реализации возможностей; любая может быть nil
type Backends struct {
	Health  port.HealthPredictor
	Grader  port.Grader
	Pricing port.PriceEstimator
}

// New создает шлюз. observer может быть nil.
func New(backends Backends, cfg Config, observer Observer, log *logger.Logger) *Gateway {
	timeouts := make(map[valueobject.Capability]time.Duration, 3)
	breakers := make(map[valueobject.Capability]*Breaker, 3)
	for _, c := range valueobject.AllCapabilities() {
		timeout := cfg.Timeouts[c]
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		timeouts[c] = timeout
		breakers[c] = NewBreaker(cfg.Breaker, nil)
	}

	return &Gateway{
		health:   backends.Health,
		grader:   backends.Grader,
		pricer:   backends.Pricing,
		timeouts: timeouts,
		breakers: breakers,
		observer: observer,
		log:      log,
	}
}

// PredictHealth вызывает предсказатель состояния батареи
func (g *Gateway) PredictHealth(ctx context.Context, window *entity.TelemetryWindow) (*entity.HealthPrediction, error) {
	if g.health == nil {
		return nil, g.notWired(valueobject.CapabilityHealth)
	}
	return invoke(ctx, g, valueobject.CapabilityHealth, func(ctx context.Context) (*entity.HealthPrediction, error) {
		return g.health.PredictHealth(ctx, window)
	})
}

// GradeDevice вызывает оценку состояния по изображениям
func (g *Gateway) GradeDevice(ctx context.Context, images []port.ImageRef) (*entity.GradingResult, error) {
	if g.grader == nil {
		return nil, g.notWired(valueobject.CapabilityGrading)
	}
	return invoke(ctx, g, valueobject.CapabilityGrading, func(ctx context.Context) (*entity.GradingResult, error) {
		return g.grader.GradeDevice(ctx, images)
	})
}

// EstimatePrice вызывает оценку цены
func (g *Gateway) EstimatePrice(ctx context.Context, features port.PriceFeatures) (*entity.PriceEstimate, error) {
	if g.pricer == nil {
		return nil, g.notWired(valueobject.CapabilityPricing)
	}
	return invoke(ctx, g, valueobject.CapabilityPricing, func(ctx context.Context) (*entity.PriceEstimate, error) {
		return g.pricer.EstimatePrice(ctx, features)
	})
}

// BreakerStates возвращает состояние предохранителей для health-check
func (g *Gateway) BreakerStates() map[valueobject.Capability]BreakerState {
	states := make(map[valueobject.Capability]BreakerState, len(g.breakers))
	for c, b := range g.breakers {
		states[c] = b.State()
	}
	return states
}

func (g *Gateway) notWired(c valueobject.Capability) error {
	g.observe(c, OutcomeNotWired, 0)
	return fmt.Errorf("%w: %s backend is not configured", domainerr.ErrUnavailable, c)
}

func (g *Gateway) observe(c valueobject.Capability, outcome string, latency time.Duration) {
	if g.observer != nil {
		g.observer.ObserveCapabilityCall(c, outcome, latency)
	}
}

type result[T any] struct {
	value *T
	err   error
}

// invoke выполняет вызов с таймаутом. Бэкенд, игнорирующий отмену контекста,
// не блокирует вызывающего: ожидание прерывается по таймауту.
// Любой сбой возвращается как ErrUnavailable без исходной транспортной ошибки в цепочке.
func invoke[T any](
	ctx context.Context,
	g *Gateway,
	c valueobject.Capability,
	fn func(context.Context) (*T, error),
) (*T, error) {
	breaker := g.breakers[c]
	if !breaker.Allow() {
		g.observe(c, OutcomeCircuitOpen, 0)
		return nil, fmt.Errorf("%w: %s circuit open", domainerr.ErrUnavailable, c)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeouts[c])
	defer cancel()

	started := time.Now()
	done := make(chan result[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result[T]{err: fmt.Errorf("capability panicked: %v", r)}
			}
		}()
		v, err := fn(callCtx)
		done <- result[T]{value: v, err: err}
	}()

	var res result[T]
	select {
	case res = <-done:
	case <-callCtx.Done():
		res.err = callCtx.Err()
	}
	latency := time.Since(started)

	if res.err == nil && res.value == nil {
		res.err = errors.New("empty response")
	}

	if res.err != nil {
		// Отмена вызывающим не считается сбоем возможности
		if errors.Is(res.err, context.Canceled) && ctx.Err() != nil {
			breaker.Release()
		} else {
			breaker.Failure()
		}
		outcome := OutcomeError
		if errors.Is(res.err, context.DeadlineExceeded) {
			outcome = OutcomeTimeout
		}
		g.observe(c, outcome, latency)
		if g.log != nil {
			g.log.Warn("Capability unavailable",
				"capability", c.String(),
				"outcome", outcome,
				"latency", latency.String(),
				"error", res.err.Error(),
			)
		}
		return nil, fmt.Errorf("%w: %s: %s", domainerr.ErrUnavailable, c, res.err.Error())
	}

	breaker.Success()
	g.observe(c, OutcomeOK, latency)
	return res.value, nil
}
