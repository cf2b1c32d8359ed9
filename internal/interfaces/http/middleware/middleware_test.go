package middleware

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dreschagin/device-lifecycle/pkg/logger"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
}

func TestRequireScope(t *testing.T) {
	cfg := AuthConfig{Enabled: true, LedgerToken: "ledger-secret", DeviceToken: "device-secret"}
	log := logger.New("error")
	readOnly := RequireScope(cfg, ScopeDevice, log)(okHandler())
	ledgerOnly := RequireScope(cfg, ScopeLedger, log)(okHandler())

	tests := []struct {
		name    string
		handler http.Handler
		prepare func(r *http.Request)
		want    int
	}{
		{"no token", readOnly, func(*http.Request) {}, http.StatusUnauthorized},
		{"wrong token", readOnly, func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, http.StatusUnauthorized},
		{"device token reads", readOnly, func(r *http.Request) { r.Header.Set("Authorization", "bearer device-secret") }, http.StatusOK},
		{"ledger token reads", readOnly, func(r *http.Request) { r.Header.Set("Authorization", "Bearer ledger-secret") }, http.StatusOK},
		{"query token", readOnly, func(r *http.Request) { r.URL.RawQuery = "token=device-secret" }, http.StatusOK},
		{"device token cannot write", ledgerOnly, func(r *http.Request) { r.Header.Set("Authorization", "Bearer device-secret") }, http.StatusForbidden},
		{"ledger token writes", ledgerOnly, func(r *http.Request) { r.Header.Set("Authorization", "Bearer ledger-secret") }, http.StatusOK},
		{"unknown token on write route", ledgerOnly, func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/devices/D1/events", nil)
			tt.prepare(req)
			rec := httptest.NewRecorder()
			tt.handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusUnauthorized && !strings.Contains(rec.Header().Get("WWW-Authenticate"), "device-lifecycle") {
				t.Fatalf("missing WWW-Authenticate header")
			}
		})
	}
}

func TestAuthConfigGrant(t *testing.T) {
	tests := []struct {
		name  string
		cfg   AuthConfig
		token string
		want  Scope
	}{
		{"disabled grants everything", AuthConfig{}, "", ScopeLedger},
		{"empty token", AuthConfig{Enabled: true, LedgerToken: "l"}, "", ScopeNone},
		{"blank configured ledger token", AuthConfig{Enabled: true, LedgerToken: " "}, " ", ScopeNone},
		{"device token unset", AuthConfig{Enabled: true, LedgerToken: "l"}, "d", ScopeNone},
		{"device token", AuthConfig{Enabled: true, LedgerToken: "l", DeviceToken: "d"}, "d", ScopeDevice},
		{"ledger token", AuthConfig{Enabled: true, LedgerToken: "l", DeviceToken: "d"}, "l", ScopeLedger},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.Grant(tt.token); got != tt.want {
				t.Fatalf("Grant(%q) = %s, want %s", tt.token, got, tt.want)
			}
		})
	}
}

func TestValidateRequestAuthAcceptsAnyScope(t *testing.T) {
	cfg := AuthConfig{Enabled: true, LedgerToken: "l", DeviceToken: "d"}
	req := httptest.NewRequest(http.MethodGet, "/ws?token=d", nil)
	if err := ValidateRequestAuth(req, cfg); err != nil {
		t.Fatalf("device token must open the stream: %v", err)
	}
	req = httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Authorization", "Bearer ")
	if err := ValidateRequestAuth(req, cfg); err != ErrUnauthorized {
		t.Fatalf("empty token must reject, got %v", err)
	}
}

func TestRecovery(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter("error", &buf)
	h := Recovery(log)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/devices/D1", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if !strings.Contains(buf.String(), "Handler panic") || !strings.Contains(buf.String(), "error=boom") {
		t.Fatalf("panic not logged: %q", buf.String())
	}
}

func TestLoggerCapturesStatus(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter("info", &buf)
	h := Logger(log)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("down"))
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/devices/D1/analyze", nil))

	out := buf.String()
	if !strings.Contains(out, "[WARN] HTTP Request") || !strings.Contains(out, "status=503") || !strings.Contains(out, "bytes=4") {
		t.Fatalf("unexpected log line %q", out)
	}
}

func TestRateLimit(t *testing.T) {
	limiter := NewIPRateLimiter(0.001, 2)
	defer limiter.Stop()
	h := RateLimit(limiter)(okHandler())

	codes := make([]int, 0, 4)
	for _, addr := range []string{"10.0.0.1:1", "10.0.0.1:2", "10.0.0.1:3", "10.0.0.2:1"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	want := []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests, http.StatusOK}
	for i := range want {
		if codes[i] != want[i] {
			t.Fatalf("codes = %v, want %v", codes, want)
		}
	}
}

func TestRateLimiterEvictsIdle(t *testing.T) {
	limiter := NewIPRateLimiter(1, 1)
	defer limiter.Stop()

	now := time.Now()
	limiter.getLimiter("10.0.0.1", now.Add(-10*time.Minute))
	limiter.getLimiter("10.0.0.2", now)
	limiter.evictIdle(now)

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	if _, ok := limiter.visitors["10.0.0.1"]; ok {
		t.Fatal("idle visitor must be evicted")
	}
	if _, ok := limiter.visitors["10.0.0.2"]; !ok {
		t.Fatal("active visitor must be kept")
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:5000"
	if got := clientIP(req); got != "192.0.2.1" {
		t.Fatalf("clientIP = %q", got)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := clientIP(req); got != "203.0.113.7" {
		t.Fatalf("clientIP = %q", got)
	}
}

func TestCompression(t *testing.T) {
	body := strings.Repeat(`{"device_id":"D1"}`, 100)
	h := Compression(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Header().Get("Content-Encoding") != "gzip" {
		t.Fatal("response must be gzip encoded")
	}
	zr, err := gzip.NewReader(rec.Body)
	if err != nil {
		t.Fatalf("gzip.NewReader() error = %v", err)
	}
	plain, _ := io.ReadAll(zr)
	if string(plain) != body {
		t.Fatal("decompressed body mismatch")
	}

	ws := httptest.NewRequest(http.MethodGet, "/ws", nil)
	ws.Header.Set("Accept-Encoding", "gzip")
	ws.Header.Set("Upgrade", "websocket")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, ws)
	if rec.Header().Get("Content-Encoding") != "" {
		t.Fatal("websocket upgrade must not be compressed")
	}
}
