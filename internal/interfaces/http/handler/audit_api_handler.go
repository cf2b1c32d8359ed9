package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/dreschagin/device-lifecycle/pkg/logger"
)

const maxAuditResponseBytes = 2 * 1024 * 1024

// AuditAPIHandler проксирует запросы к circularity-auditor
type AuditAPIHandler struct {
	baseURL string
	client  *http.Client
	logger  *logger.Logger
}

func NewAuditAPIHandler(baseURL string, timeout time.Duration, log *logger.Logger) *AuditAPIHandler {
	if timeout <= 0 {
		timeout = 6 * time.Second
	}

	return &AuditAPIHandler{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client: &http.Client{
			Timeout: timeout,
		},
		logger: log,
	}
}

// GetSummary - GET /api/v1/audit/summary
func (h *AuditAPIHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	h.proxy(r.Context(), w, http.MethodGet, "/api/v1/audit/summary")
}

// RunNow - POST /api/v1/audit/run
func (h *AuditAPIHandler) RunNow(w http.ResponseWriter, r *http.Request) {
	h.proxy(r.Context(), w, http.MethodPost, "/api/v1/audit/run")
}

func (h *AuditAPIHandler) proxy(ctx context.Context, w http.ResponseWriter, method string, path string) {
	if h.baseURL == "" {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "auditor base URL is not configured"})
		return
	}

	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, nil)
	if err != nil {
		h.logger.Error("Failed to build auditor request", err, "path", path)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to build auditor request"})
		return
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		h.logger.Error("Auditor request failed", err, "path", path)
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "auditor is unavailable"})
		return
	}
	defer resp.Body.Close()

	body, err := readLimited(resp.Body, maxAuditResponseBytes)
	if err != nil {
		h.logger.Error("Failed to read auditor response body", err, "path", path)
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "failed to read auditor response"})
		return
	}

	contentType := strings.TrimSpace(resp.Header.Get("Content-Type"))
	if contentType == "" {
		contentType = "application/json"
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(body); err != nil {
		h.logger.Error("Failed to write auditor response to client", err, "path", path)
	}
}
