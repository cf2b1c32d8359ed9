package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"github.com/dreschagin/device-lifecycle/internal/application/dto"
	"github.com/dreschagin/device-lifecycle/internal/application/usecase"
	"github.com/dreschagin/device-lifecycle/internal/domain/domainerr"
	"github.com/dreschagin/device-lifecycle/internal/domain/entity"
	"github.com/dreschagin/device-lifecycle/pkg/logger"
)

const (
	maxTelemetryBodyBytes = 4 << 20
	maxTelemetryBatch     = 1000
	maxWindowDays         = 365
)

// DeviceAPIHandler обрабатывает регистрацию устройств и прием телеметрии
type DeviceAPIHandler struct {
	registerUC *usecase.RegisterDeviceUseCase
	getUC      *usecase.GetDeviceUseCase
	ingestUC   *usecase.IngestTelemetryUseCase
	windowUC   *usecase.GetTelemetryWindowUseCase
	windowDays int
	logger     *logger.Logger
}

// NewDeviceAPIHandler создает новый handler
func NewDeviceAPIHandler(
	registerUC *usecase.RegisterDeviceUseCase,
	getUC *usecase.GetDeviceUseCase,
	ingestUC *usecase.IngestTelemetryUseCase,
	windowUC *usecase.GetTelemetryWindowUseCase,
	windowDays int,
	log *logger.Logger,
) *DeviceAPIHandler {
	if windowDays <= 0 {
		windowDays = 30
	}
	return &DeviceAPIHandler{
		registerUC: registerUC,
		getUC:      getUC,
		ingestUC:   ingestUC,
		windowUC:   windowUC,
		windowDays: windowDays,
		logger:     log,
	}
}

// Register - POST /api/v1/devices
func (h *DeviceAPIHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req dto.RegisterDeviceRequest
	if !decodeJSON(w, r, 0, &req) {
		return
	}

	device, err := h.registerUC.Execute(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, "register_device", err)
		return
	}
	writeJSON(w, http.StatusCreated, device)
}

// List - GET /api/v1/devices?offset=&limit=
func (h *DeviceAPIHandler) List(w http.ResponseWriter, r *http.Request) {
	offset, err := queryInt(r, "offset", 0, 0, 1<<30)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	limit, err := queryInt(r, "limit", 100, 1, 500)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	devices, err := h.getUC.List(r.Context(), offset, limit)
	if err != nil {
		writeError(w, h.logger, "list_devices", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"offset":  offset,
		"limit":   limit,
	})
}

// Get - GET /api/v1/devices/{id}
func (h *DeviceAPIHandler) Get(w http.ResponseWriter, r *http.Request) {
	device, err := h.getUC.Execute(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, "get_device", err)
		return
	}
	writeJSON(w, http.StatusOK, device)
}

// telemetryResult - итог приема пачки снимков
type telemetryResult struct {
	Accepted int                  `json:"accepted"`
	Rejected []telemetryRejection `json:"rejected,omitempty"`
}

type telemetryRejection struct {
	Index    int    `json:"index"`
	Error    string `json:"error"`
	Category string `json:"category"`
}

// IngestTelemetry - POST /api/v1/devices/{id}/telemetry.
// Тело - один снимок или массив снимков. Для одного снимка ошибка
// возвращается статусом; для массива - списком отклоненных индексов.
func (h *DeviceAPIHandler) IngestTelemetry(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("id")

	var raw json.RawMessage
	if !decodeJSON(w, r, maxTelemetryBodyBytes, &raw) {
		return
	}

	readings, batch, err := parseReadings(raw, deviceID)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	if !batch {
		snapshot, err := h.ingestUC.Execute(r.Context(), readings[0])
		if err != nil {
			writeError(w, h.logger, "ingest_telemetry", err)
			return
		}
		writeJSON(w, http.StatusCreated, snapshot.Reading())
		return
	}

	accepted, errs := h.ingestUC.ExecuteBatch(r.Context(), readings)
	result := telemetryResult{Accepted: accepted}
	for i, err := range errs {
		result.Rejected = append(result.Rejected, telemetryRejection{
			Index:    i,
			Error:    err.Error(),
			Category: string(domainerr.CategoryOf(err)),
		})
	}
	sort.Slice(result.Rejected, func(i, j int) bool { return result.Rejected[i].Index < result.Rejected[j].Index })

	status := http.StatusCreated
	if accepted == 0 {
		status = http.StatusUnprocessableEntity
	} else if len(errs) > 0 {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, result)
}

func parseReadings(raw json.RawMessage, deviceID string) ([]entity.TelemetryReading, bool, error) {
	var readings []entity.TelemetryReading
	batch := len(bytes.TrimSpace(raw)) > 0 && bytes.TrimSpace(raw)[0] == '['

	if batch {
		if err := json.Unmarshal(raw, &readings); err != nil {
			return nil, true, fmt.Errorf("invalid telemetry batch: %v", err)
		}
		if len(readings) == 0 {
			return nil, true, fmt.Errorf("telemetry batch is empty")
		}
		if len(readings) > maxTelemetryBatch {
			return nil, true, fmt.Errorf("telemetry batch exceeds %d readings", maxTelemetryBatch)
		}
	} else {
		var reading entity.TelemetryReading
		if err := json.Unmarshal(raw, &reading); err != nil {
			return nil, false, fmt.Errorf("invalid telemetry reading: %v", err)
		}
		readings = []entity.TelemetryReading{reading}
	}

	for i := range readings {
		if readings[i].DeviceID != "" && readings[i].DeviceID != deviceID {
			return nil, batch, fmt.Errorf("reading %d belongs to device %s", i, readings[i].DeviceID)
		}
		readings[i].DeviceID = deviceID
	}
	return readings, batch, nil
}

// TelemetryWindow - GET /api/v1/devices/{id}/telemetry?days=N
func (h *DeviceAPIHandler) TelemetryWindow(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days", h.windowDays, 1, maxWindowDays)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	window, err := h.windowUC.Execute(r.Context(), r.PathValue("id"), days)
	if err != nil {
		writeError(w, h.logger, "telemetry_window", err)
		return
	}
	writeJSON(w, http.StatusOK, window)
}
