package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dreschagin/device-lifecycle/internal/domain/domainerr"
	"github.com/dreschagin/device-lifecycle/internal/domain/entity"
	"github.com/dreschagin/device-lifecycle/internal/domain/repository"
	"github.com/dreschagin/device-lifecycle/internal/domain/service"
)

// LedgerIndex lists devices that have at least one lifecycle event.
type LedgerIndex interface {
	DeviceIDs(ctx context.Context) ([]string, error)
}

type Service struct {
	index      LedgerIndex
	devices    repository.DeviceRepository
	events     repository.LifecycleEventRepository
	passports  repository.PassportRepository
	calculator *service.CircularityCalculator
	now        func() time.Time
}

func NewService(
	index LedgerIndex,
	devices repository.DeviceRepository,
	events repository.LifecycleEventRepository,
	passports repository.PassportRepository,
	now func() time.Time,
) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		index:      index,
		devices:    devices,
		events:     events,
		passports:  passports,
		calculator: service.NewCircularityCalculator(),
		now:        now,
	}
}

func (s *Service) Evaluate(ctx context.Context) (*CycleSummary, error) {
	ids, err := s.index.DeviceIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list ledger devices: %w", err)
	}

	startedAt := s.now()
	summary := &CycleSummary{
		GeneratedAt: startedAt,
		Findings:    make([]DeviceFinding, 0),
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		summary.DevicesTotal++

		finding, checked := s.auditDevice(ctx, id, startedAt)
		if checked {
			summary.PassportsChecked++
		}
		if finding == nil {
			continue
		}
		summary.Findings = append(summary.Findings, *finding)
		switch finding.Kind {
		case FindingDrift:
			summary.DriftCount++
		case FindingReplayMismatch:
			summary.MismatchCount++
		case FindingError:
			summary.ErrorCount++
		}
	}

	summary.Duration = s.now().Sub(startedAt)
	return summary, nil
}

// auditDevice replays the ledger twice and compares the result with the
// passport snapshot. The second result reports whether a passport existed.
func (s *Service) auditDevice(ctx context.Context, deviceID string, at time.Time) (*DeviceFinding, bool) {
	device, err := s.devices.FindByID(ctx, deviceID)
	if err != nil {
		return errorFinding(deviceID, "load device", err), false
	}

	first, err := s.replay(ctx, device, at)
	if err != nil {
		return errorFinding(deviceID, "first replay", err), false
	}
	second, err := s.replay(ctx, device, at)
	if err != nil {
		return errorFinding(deviceID, "second replay", err), false
	}
	if !first.Equivalent(&second) {
		return &DeviceFinding{
			DeviceID: deviceID,
			Kind:     FindingReplayMismatch,
			Severity: SeverityCritical,
			Detail:   fmt.Sprintf("replays disagree: score %d vs %d, events %d vs %d", first.Score, second.Score, first.EventCount, second.EventCount),
			Replayed: &first,
			Snapshot: &second,
		}, false
	}

	if s.passports == nil {
		return nil, false
	}
	passport, err := s.passports.FindByDeviceID(ctx, deviceID)
	if errors.Is(err, domainerr.ErrNotFound) {
		return nil, false
	}
	if err != nil {
		return errorFinding(deviceID, "load passport", err), false
	}

	snapshot := passport.Profile()
	if snapshot.MateriallyDiffers(&first) {
		return &DeviceFinding{
			DeviceID: deviceID,
			Kind:     FindingDrift,
			Severity: SeverityWarning,
			Detail: fmt.Sprintf("passport score %d, ledger score %d; passport offset %.1f kg, ledger offset %.1f kg",
				snapshot.Score, first.Score, snapshot.CarbonOffsetKg, first.CarbonOffsetKg),
			Replayed: &first,
			Snapshot: &snapshot,
		}, true
	}
	return nil, true
}

func (s *Service) replay(ctx context.Context, device *entity.Device, at time.Time) (entity.CircularityProfile, error) {
	ledger, err := s.events.Replay(ctx, device.ID())
	if err != nil {
		return entity.CircularityProfile{}, err
	}
	return s.calculator.Compute(device, ledger, at), nil
}

func errorFinding(deviceID, step string, err error) *DeviceFinding {
	return &DeviceFinding{
		DeviceID: deviceID,
		Kind:     FindingError,
		Severity: SeverityCritical,
		Detail:   fmt.Sprintf("%s: %v", step, err),
	}
}
