package audit

import (
	"time"

	"github.com/dreschagin/device-lifecycle/internal/domain/entity"
)

type Severity string

const (
	SeverityOK       Severity = "ok"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

type FindingKind string

const (
	// FindingDrift: passport snapshot no longer matches the replayed ledger
	FindingDrift FindingKind = "drift"
	// FindingReplayMismatch: two replays of the same ledger disagree
	FindingReplayMismatch FindingKind = "replay_mismatch"
	FindingError          FindingKind = "error"
)

type DeviceFinding struct {
	DeviceID string                     `json:"device_id"`
	Kind     FindingKind                `json:"kind"`
	Severity Severity                   `json:"severity"`
	Detail   string                     `json:"detail"`
	Replayed *entity.CircularityProfile `json:"replayed,omitempty"`
	Snapshot *entity.CircularityProfile `json:"snapshot,omitempty"`
}

type CycleSummary struct {
	GeneratedAt      time.Time       `json:"generated_at"`
	Duration         time.Duration   `json:"duration_ns"`
	DevicesTotal     int             `json:"devices_total"`
	PassportsChecked int             `json:"passports_checked"`
	DriftCount       int             `json:"drift_count"`
	MismatchCount    int             `json:"mismatch_count"`
	ErrorCount       int             `json:"error_count"`
	Findings         []DeviceFinding `json:"findings"`
}

// Severity reports the worst finding of the cycle.
func (s *CycleSummary) Severity() Severity {
	switch {
	case s.MismatchCount > 0 || s.ErrorCount > 0:
		return SeverityCritical
	case s.DriftCount > 0:
		return SeverityWarning
	default:
		return SeverityOK
	}
}

type Snapshot struct {
	StartedAt   time.Time     `json:"started_at"`
	Interval    time.Duration `json:"interval_ns"`
	LastRunAt   time.Time     `json:"last_run_at"`
	LastError   string        `json:"last_error,omitempty"`
	Status      Severity      `json:"status,omitempty"`
	LastSummary *CycleSummary `json:"last_summary,omitempty"`
}
