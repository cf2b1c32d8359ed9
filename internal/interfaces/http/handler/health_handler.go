package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/dreschagin/device-lifecycle/internal/application/gateway"
	"github.com/dreschagin/device-lifecycle/internal/application/port"
	"github.com/dreschagin/device-lifecycle/internal/domain/valueobject"
)

// ReadinessCheck проверяет зависимость (БД, брокер)
type ReadinessCheck func(ctx context.Context) error

// HealthHandler отдает пробы и сводку состояния сервиса
type HealthHandler struct {
	breakers func() map[valueobject.Capability]gateway.BreakerState
	outbox   port.SyncOutbox
	notifier port.NotificationService
	checks   map[string]ReadinessCheck
	started  time.Time
}

// NewHealthHandler создает новый handler. Все аргументы опциональны.
func NewHealthHandler(
	breakers func() map[valueobject.Capability]gateway.BreakerState,
	outbox port.SyncOutbox,
	notifier port.NotificationService,
	checks map[string]ReadinessCheck,
) *HealthHandler {
	return &HealthHandler{
		breakers: breakers,
		outbox:   outbox,
		notifier: notifier,
		checks:   checks,
		started:  time.Now(),
	}
}

// Live - GET /healthz
func (h *HealthHandler) Live(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready - GET /readyz: все проверки зависимостей должны пройти
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	failures := h.runChecks(r.Context())
	if len(failures) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready", "failures": failures})
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// Health - GET /health: состояние предохранителей, outbox и клиентов
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	body := map[string]any{
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	}

	if h.breakers != nil {
		states := make(map[string]string)
		for c, s := range h.breakers() {
			states[c.String()] = string(s)
			if s == gateway.BreakerOpen {
				status = "degraded"
			}
		}
		body["capabilities"] = states
	}
	if h.outbox != nil {
		if pending, err := h.outbox.Len(r.Context()); err == nil {
			body["ledger_outbox_pending"] = pending
		}
	}
	if h.notifier != nil {
		body["websocket_clients"] = h.notifier.ClientCount()
	}
	if failures := h.runChecks(r.Context()); len(failures) > 0 {
		status = "degraded"
		body["failures"] = failures
	}

	body["status"] = status
	writeJSON(w, http.StatusOK, body)
}

func (h *HealthHandler) runChecks(ctx context.Context) map[string]string {
	failures := make(map[string]string)
	for name, check := range h.checks {
		checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := check(checkCtx); err != nil {
			failures[name] = err.Error()
		}
		cancel()
	}
	return failures
}
