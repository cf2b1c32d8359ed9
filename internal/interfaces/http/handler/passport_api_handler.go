package handler

import (
	"net/http"

	"github.com/dreschagin/device-lifecycle/internal/application/usecase"
	"github.com/dreschagin/device-lifecycle/pkg/logger"
)

// PassportAPIHandler обрабатывает цифровые паспорта и синхронизацию с реестром
type PassportAPIHandler struct {
	mintUC     *usecase.MintPassportUseCase
	getUC      *usecase.GetPassportUseCase
	transferUC *usecase.TransferOwnershipUseCase
	syncUC     *usecase.SyncPassportUseCase
	logger     *logger.Logger
}

// NewPassportAPIHandler создает новый handler. syncUC может быть nil.
func NewPassportAPIHandler(
	mintUC *usecase.MintPassportUseCase,
	getUC *usecase.GetPassportUseCase,
	transferUC *usecase.TransferOwnershipUseCase,
	syncUC *usecase.SyncPassportUseCase,
	log *logger.Logger,
) *PassportAPIHandler {
	return &PassportAPIHandler{
		mintUC:     mintUC,
		getUC:      getUC,
		transferUC: transferUC,
		syncUC:     syncUC,
		logger:     log,
	}
}

// Mint - POST /api/v1/devices/{id}/passport
func (h *PassportAPIHandler) Mint(w http.ResponseWriter, r *http.Request) {
	passport, err := h.mintUC.Execute(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, "mint_passport", err)
		return
	}
	writeJSON(w, http.StatusCreated, passport)
}

// Get - GET /api/v1/devices/{id}/passport
func (h *PassportAPIHandler) Get(w http.ResponseWriter, r *http.Request) {
	passport, err := h.getUC.Execute(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, h.logger, "get_passport", err)
		return
	}
	writeJSON(w, http.StatusOK, passport)
}

// Transfer - POST /api/v1/devices/{id}/passport/transfer
func (h *PassportAPIHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req usecase.TransferOwnershipRequest
	if !decodeJSON(w, r, 0, &req) {
		return
	}

	device, err := h.transferUC.Execute(r.Context(), r.PathValue("id"), req)
	if err != nil {
		writeError(w, h.logger, "transfer_ownership", err)
		return
	}
	writeJSON(w, http.StatusOK, device)
}

// SyncStatus - GET /api/v1/ledger/sync
func (h *PassportAPIHandler) SyncStatus(w http.ResponseWriter, _ *http.Request) {
	if h.syncUC == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "ledger sync is not configured"})
		return
	}
	writeJSON(w, http.StatusOK, h.syncUC.Snapshot())
}

// SyncNow - POST /api/v1/ledger/sync: немедленный проход по outbox
func (h *PassportAPIHandler) SyncNow(w http.ResponseWriter, r *http.Request) {
	if h.syncUC == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "ledger sync is not configured"})
		return
	}
	stats, err := h.syncUC.RetryDue(r.Context())
	if err != nil {
		writeError(w, h.logger, "ledger_sync", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
