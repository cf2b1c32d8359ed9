package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Хранилища телеметрии и паспортов
const (
	BackendMemory     = "memory"
	BackendPostgres   = "postgres"
	BackendClickHouse = "clickhouse"
	BackendDynamo     = "dynamodb"
)

type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	Redis          RedisConfig
	NATS           NATSConfig
	MQTT           MQTTConfig
	ClickHouse     ClickHouseConfig
	S3             S3Config
	Dynamo         DynamoConfig
	CloudWatch     CloudWatchConfig
	Security       SecurityConfig
	RateLimit      RateLimitConfig
	Storage        StorageConfig
	Telemetry      TelemetryConfig
	Gateway        GatewayConfig
	Analysis       AnalysisConfig
	Ledger         LedgerConfig
	Recommendation RecommendationConfig
	Audit          AuditConfig
	Images         ImagesConfig
	LogLevel       string
}

type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Database        string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Password string
	DB       int
}

type NATSConfig struct {
	Enabled bool
	URL     string
}

type MQTTConfig struct {
	Enabled  bool
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      int
}

type ClickHouseConfig struct {
	Addr     string
	Database string
	Username string
	Password string
}

type S3Config struct {
	Enabled         bool
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	URLMode         string
	PresignedTTL    time.Duration
}

type DynamoConfig struct {
	TableName       string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	StrongReads     bool
}

type CloudWatchConfig struct {
	Enabled         bool
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Namespace       string
	LogGroup        string
	LogStream       string
	FlushInterval   time.Duration
}

type SecurityConfig struct {
	AllowedOrigins []string
	AuthEnabled    bool
	AuthToken      string
	// DeviceToken даёт доступ без права менять реестр
	DeviceToken string
}

type RateLimitConfig struct {
	Enabled bool
	RPS     float64
	Burst   int
}

// StorageConfig выбирает реализацию репозиториев
type StorageConfig struct {
	DeviceBackend   string
	PassportBackend string
}

type TelemetryConfig struct {
	Backend      string
	MinSnapshots int
	MinCoverage  float64
	WindowDays   int
}

type GatewayConfig struct {
	HealthTimeout    time.Duration
	GradingTimeout   time.Duration
	PricingTimeout   time.Duration
	FailureThreshold int
	BreakerCooldown  time.Duration
	// Пустой URL означает локальную эвристику
	HealthURL  string
	GradingURL string
	PricingURL string
	APIKey     string
	Currency   string
}

type AnalysisConfig struct {
	GlobalTimeout time.Duration
	FreshnessTTL  time.Duration
	DedupPolicy   string
}

type LedgerConfig struct {
	URL            string
	APIKey         string
	Network        string
	Timeout        time.Duration
	OutboxPath     string
	RetryInterval  time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BatchSize      int
}

type RecommendationConfig struct {
	PolicyPath string
}

type AuditConfig struct {
	Port     string
	BaseURL  string
	Interval time.Duration
	Timeout  time.Duration
}

type ImagesConfig struct {
	MaxPayloadBytes    int64
	MaxArtifactBytes   int
	RateLimitPerMinute int
}

func Load() (*Config, error) {
	// Загружаем .env файл (игнорируем ошибку если файла нет)
	_ = godotenv.Load()

	var errs []error
	duration := func(key, fallback string) time.Duration {
		d, err := parseDuration(getEnv(key, fallback))
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
		}
		return d
	}
	integer := func(key string, fallback int) int {
		v, err := getEnvInt(key, fallback)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	float := func(key string, fallback float64) float64 {
		v, err := getEnvFloat(key, fallback)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8080"),
			ReadTimeout:     duration("SERVER_READ_TIMEOUT", "10s"),
			WriteTimeout:    duration("SERVER_WRITE_TIMEOUT", "30s"),
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: duration("SERVER_SHUTDOWN_TIMEOUT", "30s"),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "postgres"),
			Database:        getEnv("DB_NAME", "device_lifecycle"),
			MaxOpenConns:    integer("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    integer("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 10 * time.Minute,
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       integer("REDIS_DB", 0),
		},
		NATS: NATSConfig{
			Enabled: getEnvBool("NATS_ENABLED", false),
			URL:     getEnv("NATS_URL", "nats://localhost:4222"),
		},
		MQTT: MQTTConfig{
			Enabled:  getEnvBool("MQTT_ENABLED", false),
			Broker:   getEnv("MQTT_BROKER", "tcp://localhost:1883"),
			ClientID: getEnv("MQTT_CLIENT_ID", "device-lifecycle-api"),
			Username: getEnv("MQTT_USERNAME", ""),
			Password: getEnv("MQTT_PASSWORD", ""),
			Topic:    getEnv("MQTT_TOPIC", "devices/+/telemetry"),
			QoS:      integer("MQTT_QOS", 1),
		},
		ClickHouse: ClickHouseConfig{
			Addr:     getEnv("CLICKHOUSE_ADDR", "localhost:9000"),
			Database: getEnv("CLICKHOUSE_DATABASE", "default"),
			Username: getEnv("CLICKHOUSE_USER", "default"),
			Password: getEnv("CLICKHOUSE_PASSWORD", ""),
		},
		S3: S3Config{
			Enabled:         getEnvBool("S3_ENABLED", false),
			Bucket:          getEnv("S3_BUCKET", ""),
			Region:          getEnv("S3_REGION", "ru-central1"),
			Endpoint:        getEnv("S3_ENDPOINT", "https://storage.yandexcloud.net"),
			AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
			UsePathStyle:    getEnvBool("S3_USE_PATH_STYLE", true),
			URLMode:         getEnv("S3_URL_MODE", "presigned"),
			PresignedTTL:    duration("S3_PRESIGNED_TTL", "5m"),
		},
		Dynamo: DynamoConfig{
			TableName:       getEnv("DYNAMO_TABLE", "device_passports"),
			Region:          getEnv("DYNAMO_REGION", "us-east-1"),
			Endpoint:        getEnv("DYNAMO_ENDPOINT", ""),
			AccessKeyID:     getEnv("DYNAMO_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("DYNAMO_SECRET_ACCESS_KEY", ""),
			StrongReads:     getEnvBool("DYNAMO_STRONG_READS", true),
		},
		CloudWatch: CloudWatchConfig{
			Enabled:         getEnvBool("CLOUDWATCH_ENABLED", false),
			Region:          getEnv("CLOUDWATCH_REGION", "us-east-1"),
			Endpoint:        getEnv("CLOUDWATCH_ENDPOINT", ""),
			AccessKeyID:     getEnv("CLOUDWATCH_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("CLOUDWATCH_SECRET_ACCESS_KEY", ""),
			Namespace:       getEnv("CLOUDWATCH_NAMESPACE", "DeviceLifecycle/Analysis"),
			LogGroup:        getEnv("CLOUDWATCH_LOG_GROUP", "/device-lifecycle/api"),
			LogStream:       getEnv("CLOUDWATCH_LOG_STREAM", hostname()),
			FlushInterval:   duration("CLOUDWATCH_FLUSH_INTERVAL", "10s"),
		},
		Security: SecurityConfig{
			AllowedOrigins: splitCSV(getEnv("ALLOWED_ORIGINS", "http://localhost:8080,http://127.0.0.1:8080")),
			AuthEnabled:    getEnvBool("AUTH_ENABLED", false),
			AuthToken:      getEnv("AUTH_BEARER_TOKEN", ""),
			DeviceToken:    getEnv("AUTH_DEVICE_TOKEN", ""),
		},
		RateLimit: RateLimitConfig{
			Enabled: getEnvBool("RATE_LIMIT_ENABLED", true),
			RPS:     float("RATE_LIMIT_RPS", 20),
			Burst:   integer("RATE_LIMIT_BURST", 40),
		},
		Storage: StorageConfig{
			DeviceBackend:   strings.ToLower(getEnv("DEVICE_BACKEND", BackendMemory)),
			PassportBackend: strings.ToLower(getEnv("PASSPORT_BACKEND", "")),
		},
		Telemetry: TelemetryConfig{
			Backend:      strings.ToLower(getEnv("TELEMETRY_BACKEND", "")),
			MinSnapshots: integer("TELEMETRY_MIN_SNAPSHOTS", 7),
			MinCoverage:  float("TELEMETRY_MIN_COVERAGE", 0.8),
			WindowDays:   integer("TELEMETRY_WINDOW_DAYS", 30),
		},
		Gateway: GatewayConfig{
			HealthTimeout:    duration("GATEWAY_HEALTH_TIMEOUT", "2s"),
			GradingTimeout:   duration("GATEWAY_GRADING_TIMEOUT", "5s"),
			PricingTimeout:   duration("GATEWAY_PRICING_TIMEOUT", "2s"),
			FailureThreshold: integer("GATEWAY_BREAKER_FAILURES", 5),
			BreakerCooldown:  duration("GATEWAY_BREAKER_COOLDOWN", "30s"),
			HealthURL:        getEnv("GATEWAY_HEALTH_URL", ""),
			GradingURL:       getEnv("GATEWAY_GRADING_URL", ""),
			PricingURL:       getEnv("GATEWAY_PRICING_URL", ""),
			APIKey:           getEnv("GATEWAY_API_KEY", ""),
			Currency:         getEnv("GATEWAY_CURRENCY", "USD"),
		},
		Analysis: AnalysisConfig{
			GlobalTimeout: duration("ANALYSIS_GLOBAL_TIMEOUT", "8s"),
			FreshnessTTL:  duration("ANALYSIS_FRESHNESS_TTL", "5m"),
			DedupPolicy:   getEnv("ANALYSIS_DEDUP_POLICY", "join"),
		},
		Ledger: LedgerConfig{
			URL:            getEnv("LEDGER_URL", ""),
			APIKey:         getEnv("LEDGER_API_KEY", ""),
			Network:        getEnv("LEDGER_NETWORK", "simulated"),
			Timeout:        duration("LEDGER_TIMEOUT", "5s"),
			OutboxPath:     getEnv("LEDGER_OUTBOX_PATH", "data/ledger-outbox.db"),
			RetryInterval:  duration("LEDGER_RETRY_INTERVAL", "30s"),
			InitialBackoff: duration("LEDGER_INITIAL_BACKOFF", "5s"),
			MaxBackoff:     duration("LEDGER_MAX_BACKOFF", "10m"),
			BatchSize:      integer("LEDGER_BATCH_SIZE", 50),
		},
		Recommendation: RecommendationConfig{
			PolicyPath: getEnv("RECOMMENDATION_POLICY_PATH", ""),
		},
		Audit: AuditConfig{
			Port:     getEnv("AUDIT_PORT", "8090"),
			BaseURL:  getEnv("AUDIT_BASE_URL", ""),
			Interval: duration("AUDIT_INTERVAL", "15m"),
			Timeout:  duration("AUDIT_TIMEOUT", "5s"),
		},
		Images: ImagesConfig{
			MaxPayloadBytes:    int64(integer("IMAGES_MAX_PAYLOAD_MB", 20)) * 1024 * 1024,
			MaxArtifactBytes:   integer("IMAGES_MAX_ARTIFACT_MB", 5) * 1024 * 1024,
			RateLimitPerMinute: integer("IMAGES_RATE_LIMIT_PER_MINUTE", 30),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	// Телеметрия и паспорта по умолчанию живут там же, где устройства
	if cfg.Telemetry.Backend == "" {
		cfg.Telemetry.Backend = cfg.Storage.DeviceBackend
	}
	if cfg.Storage.PassportBackend == "" {
		cfg.Storage.PassportBackend = cfg.Storage.DeviceBackend
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate отклоняет несовместимые комбинации настроек
func (c *Config) Validate() error {
	if c.Security.AuthEnabled && c.Security.AuthToken == "" {
		return fmt.Errorf("AUTH_BEARER_TOKEN is required when AUTH_ENABLED=true")
	}
	if c.Security.DeviceToken != "" && c.Security.DeviceToken == c.Security.AuthToken {
		return fmt.Errorf("AUTH_DEVICE_TOKEN must differ from AUTH_BEARER_TOKEN")
	}

	switch c.Storage.DeviceBackend {
	case BackendMemory, BackendPostgres:
	default:
		return fmt.Errorf("unsupported DEVICE_BACKEND %q", c.Storage.DeviceBackend)
	}

	switch c.Telemetry.Backend {
	case BackendMemory, BackendPostgres, BackendClickHouse:
	default:
		return fmt.Errorf("unsupported TELEMETRY_BACKEND %q", c.Telemetry.Backend)
	}

	switch c.Storage.PassportBackend {
	case BackendMemory, BackendPostgres, BackendDynamo:
	default:
		return fmt.Errorf("unsupported PASSPORT_BACKEND %q", c.Storage.PassportBackend)
	}

	// Журнал событий хранится вместе с устройствами, память не переживает рестарт
	if c.Storage.DeviceBackend == BackendMemory && c.Storage.PassportBackend != BackendMemory {
		return fmt.Errorf("PASSPORT_BACKEND=%s requires DEVICE_BACKEND=postgres", c.Storage.PassportBackend)
	}

	if c.Telemetry.MinSnapshots < 1 {
		return fmt.Errorf("TELEMETRY_MIN_SNAPSHOTS must be positive")
	}
	if c.Telemetry.MinCoverage < 0 || c.Telemetry.MinCoverage > 1 {
		return fmt.Errorf("TELEMETRY_MIN_COVERAGE must be within [0, 1]")
	}
	if c.Telemetry.WindowDays < 1 {
		return fmt.Errorf("TELEMETRY_WINDOW_DAYS must be positive")
	}

	switch c.Analysis.DedupPolicy {
	case "join", "reject":
	default:
		return fmt.Errorf("ANALYSIS_DEDUP_POLICY must be join or reject, got %q", c.Analysis.DedupPolicy)
	}
	for name, timeout := range map[string]time.Duration{
		"GATEWAY_HEALTH_TIMEOUT":  c.Gateway.HealthTimeout,
		"GATEWAY_GRADING_TIMEOUT": c.Gateway.GradingTimeout,
		"GATEWAY_PRICING_TIMEOUT": c.Gateway.PricingTimeout,
	} {
		if timeout <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
		if c.Analysis.GlobalTimeout > 0 && timeout > c.Analysis.GlobalTimeout {
			return fmt.Errorf("%s exceeds ANALYSIS_GLOBAL_TIMEOUT", name)
		}
	}

	if c.S3.Enabled && c.S3.Bucket == "" {
		return fmt.Errorf("S3_BUCKET is required when S3_ENABLED=true")
	}
	if c.RateLimit.Enabled && (c.RateLimit.RPS <= 0 || c.RateLimit.Burst < 1) {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("MQTT_QOS must be 0, 1 or 2")
	}
	if c.Ledger.MaxBackoff < c.Ledger.InitialBackoff {
		return fmt.Errorf("LEDGER_MAX_BACKOFF must not be below LEDGER_INITIAL_BACKOFF")
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.User, c.Password, c.Database)
}

// UsesPostgres сообщает, нужен ли процессу пул соединений с PostgreSQL
func (c *Config) UsesPostgres() bool {
	return c.Storage.DeviceBackend == BackendPostgres ||
		c.Telemetry.Backend == BackendPostgres ||
		c.Storage.PassportBackend == BackendPostgres
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}

	return parsed
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

func splitCSV(raw string) []string {
	items := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if item := strings.TrimSpace(part); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func parseDuration(s string) (time.Duration, error) {
	return time.ParseDuration(s)
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "device-lifecycle"
	}
	return name
}
