package audit

import (
	"errors"
	"time"

	"github.com/dreschagin/device-lifecycle/pkg/config"
)

const minInterval = 5 * time.Second

type Config struct {
	Port     string
	Interval time.Duration
	// RunTimeout bounds a single replay cycle
	RunTimeout time.Duration
}

func ConfigFrom(base config.AuditConfig) (Config, error) {
	if base.Interval < minInterval {
		return Config{}, errors.New("AUDIT_INTERVAL must be >= 5s")
	}
	if base.Port == "" {
		return Config{}, errors.New("AUDIT_PORT is required")
	}

	runTimeout := base.Interval / 2
	if runTimeout > 2*time.Minute {
		runTimeout = 2 * time.Minute
	}

	return Config{
		Port:       base.Port,
		Interval:   base.Interval,
		RunTimeout: runTimeout,
	}, nil
}
