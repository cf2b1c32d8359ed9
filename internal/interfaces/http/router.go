package http

import (
	"net/http"

	"github.com/dreschagin/device-lifecycle/internal/interfaces/http/handler"
	"github.com/dreschagin/device-lifecycle/internal/interfaces/http/middleware"
	"github.com/dreschagin/device-lifecycle/pkg/config"
	"github.com/dreschagin/device-lifecycle/pkg/logger"
)

// Handlers - набор HTTP handler'ов API. Images, Audit, Auth и WebSocket опциональны.
type Handlers struct {
	Devices   *handler.DeviceAPIHandler
	Images    *handler.ImageAPIHandler
	Analysis  *handler.AnalysisAPIHandler
	Lifecycle *handler.LifecycleAPIHandler
	Passports *handler.PassportAPIHandler
	Audit     *handler.AuditAPIHandler
	Auth      *handler.AuthAPIHandler
	Health    *handler.HealthHandler
	WebSocket *handler.WebSocketHandler
}

// Options - сквозные настройки router'а
type Options struct {
	Security config.SecurityConfig
	// RateLimiter nil отключает ограничение частоты для /api/
	RateLimiter *middleware.IPRateLimiter
	// Instrument оборачивает весь mux (Prometheus)
	Instrument func(http.Handler) http.Handler
	// MetricsHandler отдает /metrics
	MetricsHandler http.Handler
}

// Router настраивает маршруты приложения
type Router struct {
	mux      *http.ServeMux
	handlers Handlers
	options  Options
	logger   *logger.Logger
}

// NewRouter создает новый router
func NewRouter(handlers Handlers, options Options, logger *logger.Logger) *Router {
	return &Router{
		mux:      http.NewServeMux(),
		handlers: handlers,
		options:  options,
		logger:   logger,
	}
}

// Setup настраивает все маршруты
func (rt *Router) Setup() http.Handler {
	// Probes и /metrics без авторизации
	rt.mux.HandleFunc("GET /healthz", rt.handlers.Health.Live)
	rt.mux.HandleFunc("GET /readyz", rt.handlers.Health.Ready)
	rt.mux.HandleFunc("GET /health", rt.handlers.Health.Health)
	if rt.options.MetricsHandler != nil {
		rt.mux.Handle("GET /metrics", rt.options.MetricsHandler)
	}

	authConfig := middleware.AuthConfig{
		Enabled:     rt.options.Security.AuthEnabled,
		LedgerToken: rt.options.Security.AuthToken,
		DeviceToken: rt.options.Security.DeviceToken,
	}
	deviceScope := middleware.RequireScope(authConfig, middleware.ScopeDevice, rt.logger)
	ledgerScope := middleware.RequireScope(authConfig, middleware.ScopeLedger, rt.logger)

	api := http.NewServeMux()
	// read: чтение, телеметрия, снимки и анализ
	read := func(pattern string, h http.HandlerFunc) {
		api.Handle(pattern, deviceScope(h))
	}
	// write: всё, что меняет реестр жизненного цикла
	write := func(pattern string, h http.HandlerFunc) {
		api.Handle(pattern, ledgerScope(h))
	}

	// Devices & telemetry
	write("POST /api/v1/devices", rt.handlers.Devices.Register)
	read("GET /api/v1/devices", rt.handlers.Devices.List)
	read("GET /api/v1/devices/{id}", rt.handlers.Devices.Get)
	read("POST /api/v1/devices/{id}/telemetry", rt.handlers.Devices.IngestTelemetry)
	read("GET /api/v1/devices/{id}/telemetry", rt.handlers.Devices.TelemetryWindow)

	// Images требуют объектного хранилища
	if rt.handlers.Images != nil {
		read("POST /api/v1/devices/{id}/images", rt.handlers.Images.Upload)
		read("GET /api/v1/devices/{id}/images", rt.handlers.Images.Latest)
	}

	// Analysis
	read("POST /api/v1/devices/{id}/analyze", rt.handlers.Analysis.Analyze)
	read("GET /api/v1/devices/{id}/recommendation", rt.handlers.Analysis.Recommendation)

	// Lifecycle
	write("POST /api/v1/devices/{id}/events", rt.handlers.Lifecycle.AppendEvent)
	read("GET /api/v1/devices/{id}/events", rt.handlers.Lifecycle.ListEvents)
	read("GET /api/v1/devices/{id}/circularity", rt.handlers.Lifecycle.Circularity)

	// Passport
	write("POST /api/v1/devices/{id}/passport", rt.handlers.Passports.Mint)
	read("GET /api/v1/devices/{id}/passport", rt.handlers.Passports.Get)
	write("POST /api/v1/devices/{id}/passport/transfer", rt.handlers.Passports.Transfer)
	read("GET /api/v1/ledger/sync", rt.handlers.Passports.SyncStatus)
	write("POST /api/v1/ledger/sync", rt.handlers.Passports.SyncNow)

	if rt.handlers.Audit != nil {
		read("GET /api/v1/audit/summary", rt.handlers.Audit.GetSummary)
		write("POST /api/v1/audit/run", rt.handlers.Audit.RunNow)
	}

	// Status сам разбирает токен
	if rt.handlers.Auth != nil {
		api.HandleFunc("GET /api/v1/auth/status", rt.handlers.Auth.Status)
	}

	var apiHandler http.Handler = api
	apiHandler = middleware.Compression(apiHandler)
	if rt.options.RateLimiter != nil {
		apiHandler = middleware.RateLimit(rt.options.RateLimiter)(apiHandler)
	}
	rt.mux.Handle("/api/", apiHandler)

	// WebSocket проверяет токен при upgrade
	if rt.handlers.WebSocket != nil {
		rt.mux.HandleFunc("GET /ws", rt.handlers.WebSocket.HandleConnection)
	}

	// Применяем middleware
	var handler http.Handler = rt.mux
	handler = middleware.Recovery(rt.logger)(handler)
	handler = middleware.Logger(rt.logger)(handler)
	if rt.options.Instrument != nil {
		handler = rt.options.Instrument(handler)
	}

	return handler
}
