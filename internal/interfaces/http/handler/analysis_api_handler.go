package handler

import (
	"net/http"

	"github.com/dreschagin/device-lifecycle/internal/application/dto"
	"github.com/dreschagin/device-lifecycle/internal/application/usecase"
	"github.com/dreschagin/device-lifecycle/pkg/logger"
)

// AnalysisAPIHandler запускает анализ устройства и выдает рекомендации
type AnalysisAPIHandler struct {
	analyzeUC   *usecase.AnalyzeDeviceUseCase
	recommendUC *usecase.GetRecommendationUseCase
	logger      *logger.Logger
}

// NewAnalysisAPIHandler создает новый handler
func NewAnalysisAPIHandler(
	analyzeUC *usecase.AnalyzeDeviceUseCase,
	recommendUC *usecase.GetRecommendationUseCase,
	log *logger.Logger,
) *AnalysisAPIHandler {
	return &AnalysisAPIHandler{
		analyzeUC:   analyzeUC,
		recommendUC: recommendUC,
		logger:      log,
	}
}

// Analyze - POST /api/v1/devices/{id}/analyze. Пустое тело означает
// все возможности с политикой по умолчанию.
func (h *AnalysisAPIHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	var req dto.AnalyzeRequest
	if r.ContentLength != 0 {
		if !decodeJSON(w, r, 0, &req) {
			return
		}
	}

	result, err := h.analyzeUC.Execute(r.Context(), r.PathValue("id"), req)
	if err != nil {
		writeError(w, h.logger, "analyze_device", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Recommendation - GET /api/v1/devices/{id}/recommendation
func (h *AnalysisAPIHandler) Recommendation(w http.ResponseWriter, r *http.Request) {
	rec, err := h.recommendUC.Execute(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, "get_recommendation", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
