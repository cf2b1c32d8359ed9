package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DEVICE_BACKEND", "")
	t.Setenv("AUTH_ENABLED", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Storage.DeviceBackend != BackendMemory {
		t.Fatalf("device backend = %s, want memory", cfg.Storage.DeviceBackend)
	}
	if cfg.Telemetry.Backend != BackendMemory || cfg.Storage.PassportBackend != BackendMemory {
		t.Fatalf("telemetry/passport backends must follow devices, got %s/%s",
			cfg.Telemetry.Backend, cfg.Storage.PassportBackend)
	}
	if cfg.Gateway.HealthTimeout != 2*time.Second || cfg.Analysis.FreshnessTTL != 5*time.Minute {
		t.Fatalf("unexpected timeouts: %+v %+v", cfg.Gateway, cfg.Analysis)
	}
	if cfg.Telemetry.MinCoverage != 0.8 || cfg.Telemetry.WindowDays != 30 {
		t.Fatalf("window must require 80%% of 30 days, got %.2f of %d", cfg.Telemetry.MinCoverage, cfg.Telemetry.WindowDays)
	}
	if cfg.UsesPostgres() {
		t.Fatal("memory config must not require postgres")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DEVICE_BACKEND", "POSTGRES")
	t.Setenv("TELEMETRY_BACKEND", "clickhouse")
	t.Setenv("PASSPORT_BACKEND", "dynamodb")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("ALLOWED_ORIGINS", " http://a.example , ,http://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Storage.DeviceBackend != BackendPostgres || cfg.Telemetry.Backend != BackendClickHouse || cfg.Storage.PassportBackend != BackendDynamo {
		t.Fatalf("unexpected backends %+v %s", cfg.Storage, cfg.Telemetry.Backend)
	}
	if cfg.RateLimit.RPS != 2.5 {
		t.Fatalf("rps = %v, want 2.5", cfg.RateLimit.RPS)
	}
	if len(cfg.Security.AllowedOrigins) != 2 || cfg.Security.AllowedOrigins[1] != "http://b.example" {
		t.Fatalf("origins = %v", cfg.Security.AllowedOrigins)
	}
	if !cfg.UsesPostgres() {
		t.Fatal("postgres device backend must require postgres")
	}
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	t.Setenv("TELEMETRY_MIN_SNAPSHOTS", "seven")
	t.Setenv("ANALYSIS_FRESHNESS_TTL", "soon")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, key := range []string{"TELEMETRY_MIN_SNAPSHOTS", "ANALYSIS_FRESHNESS_TTL"} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("error %q must mention %s", err, key)
		}
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Storage:   StorageConfig{DeviceBackend: BackendPostgres, PassportBackend: BackendPostgres},
			Telemetry: TelemetryConfig{Backend: BackendPostgres, MinSnapshots: 7, WindowDays: 30},
			Gateway: GatewayConfig{
				HealthTimeout:  time.Second,
				GradingTimeout: time.Second,
				PricingTimeout: time.Second,
			},
			Analysis:  AnalysisConfig{GlobalTimeout: 5 * time.Second, DedupPolicy: "join"},
			RateLimit: RateLimitConfig{Enabled: true, RPS: 1, Burst: 1},
			MQTT:      MQTTConfig{QoS: 1},
			Ledger:    LedgerConfig{InitialBackoff: time.Second, MaxBackoff: time.Minute},
		}
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"valid", func(c *Config) {}, ""},
		{"auth without token", func(c *Config) { c.Security.AuthEnabled = true }, "AUTH_BEARER_TOKEN"},
		{"device token reuses ledger token", func(c *Config) {
			c.Security.AuthToken = "same"
			c.Security.DeviceToken = "same"
		}, "AUTH_DEVICE_TOKEN"},
		{"unknown device backend", func(c *Config) { c.Storage.DeviceBackend = "mongo" }, "DEVICE_BACKEND"},
		{"clickhouse passports", func(c *Config) { c.Storage.PassportBackend = BackendClickHouse }, "PASSPORT_BACKEND"},
		{"durable passports over memory devices", func(c *Config) {
			c.Storage.DeviceBackend = BackendMemory
			c.Storage.PassportBackend = BackendDynamo
		}, "requires DEVICE_BACKEND=postgres"},
		{"zero snapshots", func(c *Config) { c.Telemetry.MinSnapshots = 0 }, "TELEMETRY_MIN_SNAPSHOTS"},
		{"coverage above one", func(c *Config) { c.Telemetry.MinCoverage = 1.5 }, "TELEMETRY_MIN_COVERAGE"},
		{"unknown dedup policy", func(c *Config) { c.Analysis.DedupPolicy = "queue" }, "ANALYSIS_DEDUP_POLICY"},
		{"capability timeout above global", func(c *Config) { c.Gateway.GradingTimeout = 10 * time.Second }, "GATEWAY_GRADING_TIMEOUT"},
		{"s3 without bucket", func(c *Config) { c.S3.Enabled = true }, "S3_BUCKET"},
		{"zero burst", func(c *Config) { c.RateLimit.Burst = 0 }, "RATE_LIMIT"},
		{"qos out of range", func(c *Config) { c.MQTT.QoS = 3 }, "MQTT_QOS"},
		{"backoff inverted", func(c *Config) { c.Ledger.MaxBackoff = time.Millisecond }, "LEDGER_MAX_BACKOFF"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.want == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() error = %v, want mention of %s", err, tt.want)
			}
		})
	}
}
