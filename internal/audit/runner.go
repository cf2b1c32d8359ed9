package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dreschagin/device-lifecycle/pkg/logger"
)

type Evaluator interface {
	Evaluate(ctx context.Context) (*CycleSummary, error)
}

type Runner struct {
	evaluator  Evaluator
	log        *logger.Logger
	interval   time.Duration
	runTimeout time.Duration

	runMu sync.Mutex

	mu          sync.RWMutex
	startedAt   time.Time
	lastRunAt   time.Time
	lastError   string
	lastSummary *CycleSummary
}

func NewRunner(evaluator Evaluator, log *logger.Logger, cfg Config) *Runner {
	runTimeout := cfg.RunTimeout
	if runTimeout <= 0 {
		runTimeout = 30 * time.Second
	}
	return &Runner{
		evaluator:  evaluator,
		log:        log,
		interval:   cfg.Interval,
		runTimeout: runTimeout,
		startedAt:  time.Now(),
	}
}

func (r *Runner) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// RunOnce records the failure itself
			_, _ = r.RunOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (r *Runner) RunOnce(ctx context.Context) (*CycleSummary, error) {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	runCtx, cancel := context.WithTimeout(ctx, r.runTimeout)
	defer cancel()

	summary, err := r.evaluator.Evaluate(runCtx)
	runAt := time.Now()

	if err != nil {
		wrappedErr := fmt.Errorf("audit cycle failed: %w", err)
		r.updateFailure(runAt, wrappedErr)
		r.log.Error("Circularity audit cycle failed", wrappedErr)
		return nil, wrappedErr
	}

	r.updateSuccess(runAt, summary)

	if summary.DevicesTotal == 0 {
		r.log.Warn("Circularity audit cycle completed with empty ledger")
		return summary, nil
	}

	fields := []interface{}{
		"devices_total", summary.DevicesTotal,
		"passports_checked", summary.PassportsChecked,
		"drift_count", summary.DriftCount,
		"mismatch_count", summary.MismatchCount,
		"error_count", summary.ErrorCount,
		"duration", summary.Duration.String(),
	}
	if summary.Severity() == SeverityOK {
		r.log.Info("Circularity audit cycle completed", fields...)
	} else {
		r.log.Warn("Circularity audit found inconsistencies", fields...)
	}

	return summary, nil
}

func (r *Runner) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := Snapshot{
		StartedAt: r.startedAt,
		Interval:  r.interval,
		LastRunAt: r.lastRunAt,
		LastError: r.lastError,
	}

	if r.lastSummary != nil {
		copiedSummary := *r.lastSummary
		copiedSummary.Findings = append([]DeviceFinding(nil), r.lastSummary.Findings...)
		snapshot.LastSummary = &copiedSummary
		snapshot.Status = copiedSummary.Severity()
	}

	return snapshot
}

func (r *Runner) updateFailure(runAt time.Time, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastRunAt = runAt
	r.lastError = err.Error()
}

func (r *Runner) updateSuccess(runAt time.Time, summary *CycleSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastRunAt = runAt
	r.lastError = ""
	r.lastSummary = summary
}
