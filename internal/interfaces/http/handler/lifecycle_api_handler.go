package handler

import (
	"net/http"

	"github.com/dreschagin/device-lifecycle/internal/application/dto"
	"github.com/dreschagin/device-lifecycle/internal/application/usecase"
	"github.com/dreschagin/device-lifecycle/pkg/logger"
)

// LifecycleAPIHandler обрабатывает журнал событий и профиль цикличности
type LifecycleAPIHandler struct {
	appendUC  *usecase.AppendLifecycleEventUseCase
	listUC    *usecase.ListLifecycleEventsUseCase
	profileUC *usecase.GetCircularityProfileUseCase
	logger    *logger.Logger
}

// NewLifecycleAPIHandler создает новый handler
func NewLifecycleAPIHandler(
	appendUC *usecase.AppendLifecycleEventUseCase,
	listUC *usecase.ListLifecycleEventsUseCase,
	profileUC *usecase.GetCircularityProfileUseCase,
	log *logger.Logger,
) *LifecycleAPIHandler {
	return &LifecycleAPIHandler{
		appendUC:  appendUC,
		listUC:    listUC,
		profileUC: profileUC,
		logger:    log,
	}
}

// AppendEvent - POST /api/v1/devices/{id}/events
func (h *LifecycleAPIHandler) AppendEvent(w http.ResponseWriter, r *http.Request) {
	var req dto.AppendEventRequest
	if !decodeJSON(w, r, 0, &req) {
		return
	}

	update, err := h.appendUC.Execute(r.Context(), r.PathValue("id"), req)
	if err != nil {
		writeError(w, h.logger, "append_lifecycle_event", err)
		return
	}
	writeJSON(w, http.StatusCreated, update)
}

// ListEvents - GET /api/v1/devices/{id}/events
func (h *LifecycleAPIHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("id")
	events, err := h.listUC.Execute(r.Context(), deviceID)
	if err != nil {
		writeError(w, h.logger, "list_lifecycle_events", err)
		return
	}
	if events == nil {
		events = []*dto.LifecycleEventDTO{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": deviceID,
		"events":    events,
	})
}

// Circularity - GET /api/v1/devices/{id}/circularity
func (h *LifecycleAPIHandler) Circularity(w http.ResponseWriter, r *http.Request) {
	profile, err := h.profileUC.Execute(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, "get_circularity_profile", err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}
