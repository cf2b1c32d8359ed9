package http

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dreschagin/device-lifecycle/internal/application/dto"
	"github.com/dreschagin/device-lifecycle/internal/application/gateway"
	"github.com/dreschagin/device-lifecycle/internal/application/lock"
	"github.com/dreschagin/device-lifecycle/internal/application/usecase"
	"github.com/dreschagin/device-lifecycle/internal/domain/entity"
	"github.com/dreschagin/device-lifecycle/internal/domain/service"
	cacheMemory "github.com/dreschagin/device-lifecycle/internal/infrastructure/cache/memory"
	"github.com/dreschagin/device-lifecycle/internal/infrastructure/ledger/simulated"
	wsInfra "github.com/dreschagin/device-lifecycle/internal/infrastructure/notification/websocket"
	"github.com/dreschagin/device-lifecycle/internal/infrastructure/observability/metrics"
	"github.com/dreschagin/device-lifecycle/internal/infrastructure/persistence/memory"
	"github.com/dreschagin/device-lifecycle/internal/infrastructure/prediction/heuristic"
	storageMemory "github.com/dreschagin/device-lifecycle/internal/infrastructure/storage/memory"
	"github.com/dreschagin/device-lifecycle/internal/interfaces/http/handler"
	"github.com/dreschagin/device-lifecycle/internal/interfaces/http/middleware"
	"github.com/dreschagin/device-lifecycle/pkg/config"
	"github.com/dreschagin/device-lifecycle/pkg/logger"
)

const (
	testToken        = "test-token"
	testDeviceToken  = "test-device-token"
	testOrigin       = "http://localhost:8080"
	minimalPngBase64 = "iVBORw0KGgo=" // PNG signature only
)

type testEnv struct {
	server *httptest.Server
	images *storageMemory.ImageStorage
	token  string
}

func newTestServer(t *testing.T, auditBaseURL string) *testEnv {
	t.Helper()

	log := logger.New("error")
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	devices := memory.NewDeviceRepository()
	events := memory.NewLifecycleEventRepository(devices)
	passports := memory.NewPassportRepository()
	store := usecase.NewTelemetryStore(
		memory.NewTelemetryRepository(),
		service.NewTelemetryValidator(nil),
		usecase.TelemetryStoreConfig{MinSnapshots: 5},
		nil,
	)
	images := storageMemory.NewImageStorage()

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	gw := gateway.New(gateway.Backends{
		Health:  heuristic.NewHealthPredictor(),
		Grader:  heuristic.NewGrader(),
		Pricing: heuristic.NewPriceEstimator("USD"),
	}, gateway.Config{}, m, log)
	m.TrackBreakers(gw.BreakerStates)

	hub := wsInfra.NewHub(log)
	go hub.Run(ctx)

	analyzeUC := usecase.NewAnalyzeDeviceUseCase(usecase.AnalyzeDeviceDeps{
		Devices:   devices,
		Telemetry: store,
		Gateway:   gw,
		Images:    images,
		Cache:     cacheMemory.New(time.Minute),
		Notifier:  hub,
		Observer:  m,
	}, usecase.AnalyzeConfig{WindowDays: 30, FreshnessTTL: time.Minute}, log, nil)

	locks := lock.NewKeyedMutex()
	ledger := simulated.New("devnet", log)
	syncUC := usecase.NewSyncPassportUseCase(ledger, nil, passports, m, usecase.SyncPassportConfig{}, log, nil)

	appendUC := usecase.NewAppendLifecycleEventUseCase(usecase.LifecycleDeps{
		Devices:     devices,
		Events:      events,
		Passports:   passports,
		Locks:       locks,
		Invalidator: analyzeUC,
		Syncer:      syncUC,
		Notifier:    hub,
	}, log, nil)
	profileUC := usecase.NewGetCircularityProfileUseCase(devices, events, nil, nil)
	recommendUC := usecase.NewGetRecommendationUseCase(
		devices,
		profileUC,
		analyzeUC,
		service.NewRecommendationEngine(service.DefaultRecommendationPolicy(), service.NewLifecyclePolicy()),
		log,
		nil,
	)

	passportDeps := usecase.PassportDeps{
		Devices:   devices,
		Events:    events,
		Passports: passports,
		Ledger:    ledger,
		Locks:     locks,
		Syncer:    syncUC,
	}

	authConfig := middleware.AuthConfig{Enabled: true, LedgerToken: testToken, DeviceToken: testDeviceToken}

	router := NewRouter(Handlers{
		Devices: handler.NewDeviceAPIHandler(
			usecase.NewRegisterDeviceUseCase(devices, log, nil),
			usecase.NewGetDeviceUseCase(devices),
			usecase.NewIngestTelemetryUseCase(devices, store, log),
			usecase.NewGetTelemetryWindowUseCase(devices, store),
			30,
			log,
		),
		Images: handler.NewImageAPIHandler(
			usecase.NewUploadDeviceImagesUseCase(devices, images, log),
			usecase.NewLatestDeviceImagesUseCase(images),
			5*1024*1024,
			1024*1024,
			100,
			log,
		),
		Analysis: handler.NewAnalysisAPIHandler(analyzeUC, recommendUC, log),
		Lifecycle: handler.NewLifecycleAPIHandler(
			appendUC,
			usecase.NewListLifecycleEventsUseCase(devices, events),
			profileUC,
			log,
		),
		Passports: handler.NewPassportAPIHandler(
			usecase.NewMintPassportUseCase(passportDeps, log, nil),
			usecase.NewGetPassportUseCase(passports),
			usecase.NewTransferOwnershipUseCase(passportDeps, log, nil),
			syncUC,
			log,
		),
		Audit:     handler.NewAuditAPIHandler(auditBaseURL, 2*time.Second, log),
		Auth:      handler.NewAuthAPIHandler(authConfig, log),
		Health:    handler.NewHealthHandler(gw.BreakerStates, nil, hub, nil),
		WebSocket: handler.NewWebSocketHandler(hub, []string{testOrigin}, authConfig, log),
	}, Options{
		Security: config.SecurityConfig{
			AllowedOrigins: []string{testOrigin},
			AuthEnabled:    true,
			AuthToken:      testToken,
			DeviceToken:    testDeviceToken,
		},
		Instrument:     m.Middleware,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}, log)

	server := httptest.NewServer(router.Setup())
	t.Cleanup(server.Close)
	return &testEnv{server: server, images: images, token: testToken}
}

func doRequest(t *testing.T, client *http.Client, method, url string, body io.Reader, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

// api выполняет авторизованный JSON запрос и декодирует ответ в out
func api(t *testing.T, env *testEnv, method, path string, payload interface{}, out interface{}) int {
	t.Helper()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	}

	resp := doRequest(t, env.server.Client(), method, env.server.URL+path, body, map[string]string{
		"Authorization": "Bearer " + env.token,
		"Content-Type":  "application/json",
	})
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s response: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func registerDevice(t *testing.T, env *testEnv, id string, purchased time.Time) {
	t.Helper()
	status := api(t, env, http.MethodPost, "/api/v1/devices", map[string]interface{}{
		"id":            id,
		"model":         "iPhone 13",
		"manufacturer":  "Apple",
		"storage_gb":    128,
		"ram_gb":        4,
		"current_owner": "alice",
		"purchase_date": purchased,
	}, nil)
	if status != http.StatusCreated {
		t.Fatalf("register %s: status %d", id, status)
	}
}

func ingestDaily(t *testing.T, env *testEnv, id string, days int) {
	t.Helper()
	now := time.Now().UTC()
	batch := make([]entity.TelemetryReading, 0, days)
	for i := days; i >= 1; i-- {
		batch = append(batch, entity.TelemetryReading{
			RecordedAt:        now.Add(-time.Duration(i) * 24 * time.Hour),
			BatteryCycleCount: 400 + days - i,
			BatteryHealthPct:  91 - float64(days-i)*0.05,
			TemperatureC:      31,
		})
	}
	var result map[string]interface{}
	if status := api(t, env, http.MethodPost, "/api/v1/devices/"+id+"/telemetry", batch, &result); status != http.StatusCreated {
		t.Fatalf("ingest batch: status %d, body %v", status, result)
	}
}

func TestE2EHealthEndpoints(t *testing.T) {
	env := newTestServer(t, "http://example.invalid")

	for _, path := range []string{"/healthz", "/readyz", "/health"} {
		resp, err := http.Get(env.server.URL + path)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200 for %s, got %d", path, resp.StatusCode)
		}
	}
}

func TestE2EAuthScopes(t *testing.T) {
	env := newTestServer(t, "http://example.invalid")
	client := env.server.Client()

	resp := doRequest(t, client, http.MethodGet, env.server.URL+"/api/v1/devices", nil, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	registerDevice(t, env, "D1", time.Now().AddDate(-1, 0, 0))

	agent := *env
	agent.token = testDeviceToken

	if status := api(t, &agent, http.MethodGet, "/api/v1/devices/D1", nil, nil); status != http.StatusOK {
		t.Fatalf("device token read: expected 200, got %d", status)
	}

	if status := api(t, &agent, http.MethodPost, "/api/v1/devices/D1/events", map[string]string{"kind": "refurbish"}, nil); status != http.StatusForbidden {
		t.Fatalf("device token append: expected 403, got %d", status)
	}
	if status := api(t, &agent, http.MethodPost, "/api/v1/devices/D1/passport", map[string]interface{}{"owner": "acme"}, nil); status != http.StatusForbidden {
		t.Fatalf("device token mint: expected 403, got %d", status)
	}
	if status := api(t, &agent, http.MethodPost, "/api/v1/ledger/sync", nil, nil); status != http.StatusForbidden {
		t.Fatalf("device token ledger sync: expected 403, got %d", status)
	}

	var listed struct {
		Events []dto.LifecycleEventDTO `json:"events"`
	}
	if status := api(t, env, http.MethodGet, "/api/v1/devices/D1/events", nil, &listed); status != http.StatusOK {
		t.Fatalf("list events: expected 200, got %d", status)
	}
	if len(listed.Events) != 0 {
		t.Fatalf("rejected append must not reach the ledger, got %d events", len(listed.Events))
	}

	var agentStatus, ledgerStatus struct {
		Authenticated bool   `json:"authenticated"`
		Scope         string `json:"scope"`
		CanWrite      bool   `json:"can_write_ledger"`
	}
	if status := api(t, &agent, http.MethodGet, "/api/v1/auth/status", nil, &agentStatus); status != http.StatusOK {
		t.Fatalf("auth status: expected 200, got %d", status)
	}
	if !agentStatus.Authenticated || agentStatus.Scope != "device" || agentStatus.CanWrite {
		t.Fatalf("unexpected device token status: %+v", agentStatus)
	}
	if status := api(t, env, http.MethodGet, "/api/v1/auth/status", nil, &ledgerStatus); status != http.StatusOK {
		t.Fatalf("auth status: expected 200, got %d", status)
	}
	if ledgerStatus.Scope != "ledger" || !ledgerStatus.CanWrite {
		t.Fatalf("unexpected ledger token status: %+v", ledgerStatus)
	}
}

func TestE2EDeviceAndTelemetry(t *testing.T) {
	env := newTestServer(t, "http://example.invalid")
	registerDevice(t, env, "D1", time.Now().AddDate(-1, 0, 0))

	if status := api(t, env, http.MethodPost, "/api/v1/devices", map[string]interface{}{"id": "D1", "model": "x"}, nil); status != http.StatusConflict {
		t.Fatalf("duplicate register: expected 409, got %d", status)
	}

	recordedAt := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	reading := map[string]interface{}{
		"recorded_at":               recordedAt,
		"battery_cycle_count":       420,
		"battery_health_percentage": 88.5,
		"temperature_c":             32,
	}
	if status := api(t, env, http.MethodPost, "/api/v1/devices/D1/telemetry", reading, nil); status != http.StatusCreated {
		t.Fatalf("ingest: expected 201, got %d", status)
	}

	var conflict map[string]string
	if status := api(t, env, http.MethodPost, "/api/v1/devices/D1/telemetry", reading, &conflict); status != http.StatusConflict {
		t.Fatalf("duplicate timestamp: expected 409, got %d", status)
	}
	if conflict["category"] != "conflict" {
		t.Fatalf("unexpected error body %v", conflict)
	}

	invalid := map[string]interface{}{
		"recorded_at":               recordedAt.Add(time.Minute),
		"battery_health_percentage": 140,
	}
	if status := api(t, env, http.MethodPost, "/api/v1/devices/D1/telemetry", invalid, nil); status != http.StatusBadRequest {
		t.Fatalf("invalid reading: expected 400, got %d", status)
	}

	batch := []map[string]interface{}{
		{"recorded_at": recordedAt.Add(-2 * time.Hour), "battery_health_percentage": 89},
		{"recorded_at": recordedAt, "battery_health_percentage": 88.5},
	}
	var partial struct {
		Accepted int `json:"accepted"`
		Rejected []struct {
			Index    int    `json:"index"`
			Category string `json:"category"`
		} `json:"rejected"`
	}
	if status := api(t, env, http.MethodPost, "/api/v1/devices/D1/telemetry", batch, &partial); status != http.StatusMultiStatus {
		t.Fatalf("partial batch: expected 207, got %d", status)
	}
	if partial.Accepted != 1 || len(partial.Rejected) != 1 || partial.Rejected[0].Index != 1 {
		t.Fatalf("unexpected batch result %+v", partial)
	}

	// Два снимка при минимуме в пять: окно не отдается укороченным
	var short map[string]string
	if status := api(t, env, http.MethodGet, "/api/v1/devices/D1/telemetry?days=30", nil, &short); status != http.StatusBadRequest {
		t.Fatalf("short window: expected 400, got %d", status)
	}
	if short["category"] != "validation" {
		t.Fatalf("unexpected error body %v", short)
	}

	if status := api(t, env, http.MethodGet, "/api/v1/devices/D404", nil, nil); status != http.StatusNotFound {
		t.Fatalf("unknown device: expected 404, got %d", status)
	}
}

func TestE2EAnalyzeDegradesWithoutImages(t *testing.T) {
	env := newTestServer(t, "http://example.invalid")
	registerDevice(t, env, "D1", time.Now().AddDate(-1, 0, 0))
	ingestDaily(t, env, "D1", 12)

	var window dto.TelemetryWindowDTO
	if status := api(t, env, http.MethodGet, "/api/v1/devices/D1/telemetry?days=30", nil, &window); status != http.StatusOK {
		t.Fatalf("window: expected 200, got %d", status)
	}
	if window.Count != 12 {
		t.Fatalf("window count = %d, want 12", window.Count)
	}

	var analysis dto.AnalysisDTO
	if status := api(t, env, http.MethodPost, "/api/v1/devices/D1/analyze", map[string]interface{}{}, &analysis); status != http.StatusOK {
		t.Fatalf("analyze: expected 200, got %d", status)
	}
	if analysis.Health == nil || analysis.Price == nil {
		t.Fatalf("health and price must be present: %+v", analysis.FusedAnalysis)
	}
	if analysis.Grading != nil {
		t.Fatal("grading must be absent without images")
	}
	if analysis.Components["grading"].State != entity.ComponentNoInput {
		t.Fatalf("grading state = %s", analysis.Components["grading"].State)
	}

	var cached dto.AnalysisDTO
	api(t, env, http.MethodPost, "/api/v1/devices/D1/analyze", map[string]interface{}{}, &cached)
	if !cached.Cached {
		t.Fatal("second analysis must be served from cache")
	}

	var rec entity.Recommendation
	if status := api(t, env, http.MethodGet, "/api/v1/devices/D1/recommendation", nil, &rec); status != http.StatusOK {
		t.Fatalf("recommendation: expected 200, got %d", status)
	}
	if rec.Confidence >= 1 || rec.Action == "" {
		t.Fatalf("unexpected recommendation %+v", rec)
	}
	foundGrading := false
	for _, c := range rec.MissingInputs {
		if c == "grading" {
			foundGrading = true
		}
	}
	if !foundGrading {
		t.Fatalf("missing inputs must include grading: %v", rec.MissingInputs)
	}
}

func TestE2EImagesFeedGrading(t *testing.T) {
	env := newTestServer(t, "http://example.invalid")
	registerDevice(t, env, "D1", time.Now().AddDate(-1, 0, 0))

	upload := map[string]interface{}{
		"images": []map[string]interface{}{
			{"name": "front", "content_type": "image/png", "data_base64": minimalPngBase64, "annotations": map[string]int{"screen_scratches": 1}},
			{"name": "back", "content_type": "image/png", "data_base64": minimalPngBase64},
		},
	}
	if status := api(t, env, http.MethodPost, "/api/v1/devices/D1/images", upload, nil); status != http.StatusCreated {
		t.Fatalf("upload: expected 201, got %d", status)
	}
	if body, ok := env.images.Body("D1", "front"); !ok || base64.StdEncoding.EncodeToString(body) != minimalPngBase64 {
		t.Fatal("uploaded image bytes not stored")
	}

	var latest struct {
		Items []map[string]interface{} `json:"items"`
	}
	api(t, env, http.MethodGet, "/api/v1/devices/D1/images", nil, &latest)
	if len(latest.Items) != 2 {
		t.Fatalf("latest images = %d, want 2", len(latest.Items))
	}

	var analysis dto.AnalysisDTO
	req := map[string]interface{}{"capabilities": []string{"grading"}}
	if status := api(t, env, http.MethodPost, "/api/v1/devices/D1/analyze", req, &analysis); status != http.StatusOK {
		t.Fatalf("analyze: expected 200, got %d", status)
	}
	if analysis.Grading == nil || analysis.Grading.Grade.String() != "good" {
		t.Fatalf("expected good grade from stored images, got %+v", analysis.Grading)
	}

	bad := map[string]interface{}{
		"images": []map[string]interface{}{
			{"name": "front", "content_type": "image/jpeg", "data_base64": minimalPngBase64},
		},
	}
	if status := api(t, env, http.MethodPost, "/api/v1/devices/D1/images", bad, nil); status != http.StatusBadRequest {
		t.Fatalf("mismatched signature: expected 400, got %d", status)
	}
}

func TestE2ELifecycleAndPassport(t *testing.T) {
	env := newTestServer(t, "http://example.invalid")
	registerDevice(t, env, "D1", time.Now().AddDate(-2, 0, -10))

	var passport dto.PassportDTO
	if status := api(t, env, http.MethodPost, "/api/v1/devices/D1/passport", nil, &passport); status != http.StatusCreated {
		t.Fatalf("mint: expected 201, got %d", status)
	}
	if passport.LedgerRef == "" || passport.TxHash == "" {
		t.Fatalf("unexpected passport %+v", passport)
	}
	if status := api(t, env, http.MethodPost, "/api/v1/devices/D1/passport", nil, nil); status != http.StatusConflict {
		t.Fatalf("re-mint: expected 409, got %d", status)
	}

	var update dto.ProfileUpdateDTO
	for _, kind := range []string{"repair", "repair_completed", "refurbish", "recycle"} {
		if status := api(t, env, http.MethodPost, "/api/v1/devices/D1/events", map[string]string{"kind": kind}, &update); status != http.StatusCreated {
			t.Fatalf("append %s: expected 201, got %d", kind, status)
		}
	}
	if update.Status != "recycled" || update.Profile.Score != 100 || update.Profile.CarbonOffsetKg != -55 {
		t.Fatalf("unexpected profile update: status=%s score=%d offset=%.1f",
			update.Status, update.Profile.Score, update.Profile.CarbonOffsetKg)
	}

	api(t, env, http.MethodGet, "/api/v1/devices/D1/passport", nil, &passport)
	if passport.Profile.EventCount != 4 || passport.Profile.Score != 100 {
		t.Fatalf("passport snapshot: events=%d score=%d", passport.Profile.EventCount, passport.Profile.Score)
	}

	api(t, env, http.MethodPost, "/api/v1/devices/D1/events", map[string]string{"kind": "retire"}, nil)
	var invalid map[string]string
	if status := api(t, env, http.MethodPost, "/api/v1/devices/D1/events", map[string]string{"kind": "recycle"}, &invalid); status != http.StatusBadRequest {
		t.Fatalf("recycle from retired: expected 400, got %d", status)
	}

	var events struct {
		Events []dto.LifecycleEventDTO `json:"events"`
	}
	api(t, env, http.MethodGet, "/api/v1/devices/D1/events", nil, &events)
	if len(events.Events) != 5 {
		t.Fatalf("ledger length = %d, want 5", len(events.Events))
	}

	var profile entity.CircularityProfile
	api(t, env, http.MethodGet, "/api/v1/devices/D1/circularity", nil, &profile)
	if profile.Score != 100 || profile.RawScore != 102 {
		t.Fatalf("replayed profile score = %d (raw %d)", profile.Score, profile.RawScore)
	}

	var device dto.DeviceDTO
	if status := api(t, env, http.MethodPost, "/api/v1/devices/D1/passport/transfer", map[string]string{"new_owner": "bob"}, &device); status != http.StatusOK {
		t.Fatalf("transfer: expected 200, got %d", status)
	}
	if device.Owner != "bob" {
		t.Fatalf("owner = %s, want bob", device.Owner)
	}

	var stats usecase.SyncStats
	if status := api(t, env, http.MethodGet, "/api/v1/ledger/sync", nil, &stats); status != http.StatusOK {
		t.Fatalf("sync status: expected 200, got %d", status)
	}
}

func TestE2EWebSocketReceivesProfileUpdates(t *testing.T) {
	env := newTestServer(t, "http://example.invalid")
	registerDevice(t, env, "D1", time.Now().AddDate(-1, 0, 0))

	wsURL := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws?device_id=D1&token=" + testToken
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": []string{testOrigin}})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Клиент регистрируется асинхронно: повторяем событие, пока не придет сообщение
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	received := make(chan wsInfra.Message, 1)
	go func() {
		var msg wsInfra.Message
		if err := conn.ReadJSON(&msg); err == nil {
			received <- msg
		}
		close(received)
	}()

	deadline := time.After(5 * time.Second)
	for {
		api(t, env, http.MethodPost, "/api/v1/devices/D1/events", map[string]string{"kind": "resale"}, nil)
		select {
		case msg, ok := <-received:
			if !ok {
				t.Fatal("websocket closed before receiving an update")
			}
			if msg.Type != wsInfra.MessageProfile || msg.DeviceID != "D1" {
				t.Fatalf("unexpected message %+v", msg)
			}
			return
		case <-deadline:
			t.Fatal("no profile update received")
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestE2EWebSocketRejectsMissingToken(t *testing.T) {
	env := newTestServer(t, "http://example.invalid")

	wsURL := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": []string{testOrigin}})
	if err == nil {
		t.Fatal("expected dial error without token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", resp)
	}
}

func TestE2EAuditProxy(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/v1/audit/summary":
			_, _ = fmt.Fprint(w, `{"devices_checked":3,"drift":0}`)
		case "/api/v1/audit/run":
			w.WriteHeader(http.StatusAccepted)
			_, _ = fmt.Fprint(w, `{"started":true}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer upstream.Close()

	env := newTestServer(t, upstream.URL)

	var summary map[string]interface{}
	if status := api(t, env, http.MethodGet, "/api/v1/audit/summary", nil, &summary); status != http.StatusOK {
		t.Fatalf("audit summary: expected 200, got %d", status)
	}
	if summary["devices_checked"] != float64(3) {
		t.Fatalf("unexpected summary %v", summary)
	}
	if status := api(t, env, http.MethodPost, "/api/v1/audit/run", nil, nil); status != http.StatusAccepted {
		t.Fatalf("audit run: expected 202, got %d", status)
	}
}

func TestE2EPrometheusMetrics(t *testing.T) {
	env := newTestServer(t, "http://example.invalid")
	registerDevice(t, env, "D1", time.Now().AddDate(-1, 0, 0))
	api(t, env, http.MethodGet, "/api/v1/devices/D1", nil, nil)

	resp, err := http.Get(env.server.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics request failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		`device_lifecycle_requests_total{method="GET",route="/api/v1/devices/{id}",status="200"} 1`,
		`device_lifecycle_breaker_state{capability="health"} 0`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
