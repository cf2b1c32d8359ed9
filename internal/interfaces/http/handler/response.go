package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/dreschagin/device-lifecycle/internal/domain/domainerr"
	"github.com/dreschagin/device-lifecycle/pkg/logger"
)

const maxJSONBodyBytes = 1 << 20

// errorResponse - тело ответа с ошибкой
type errorResponse struct {
	Error    string `json:"error"`
	Category string `json:"category,omitempty"`
}

// StatusFor отображает категорию доменной ошибки в HTTP статус
func StatusFor(err error) int {
	switch domainerr.CategoryOf(err) {
	case domainerr.CategoryValidation:
		return http.StatusBadRequest
	case domainerr.CategoryConflict:
		return http.StatusConflict
	case domainerr.CategoryUnavailable:
		return http.StatusServiceUnavailable
	case domainerr.CategoryNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError пишет ошибку use case'а. Внутренние ошибки логируются,
// клиенту уходит обобщенное сообщение.
func writeError(w http.ResponseWriter, log *logger.Logger, op string, err error) {
	status := StatusFor(err)
	category := domainerr.CategoryOf(err)

	if status == http.StatusInternalServerError {
		log.Error("Request failed", err, "operation", op)
		writeJSON(w, status, errorResponse{Error: "internal error", Category: string(category)})
		return
	}

	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Category: string(category)})
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg, Category: string(domainerr.CategoryValidation)})
}

// decodeJSON читает тело запроса с ограничением размера
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, dst any) bool {
	if limit <= 0 {
		limit = maxJSONBodyBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "payload too large"})
		case errors.Is(err, io.EOF):
			writeBadRequest(w, "request body is empty")
		default:
			writeBadRequest(w, fmt.Sprintf("invalid request body: %v", err))
		}
		return false
	}
	return true
}

// queryInt разбирает целочисленный параметр запроса в пределах [min, max]
func queryInt(r *http.Request, name string, fallback, minValue, maxValue int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	if value < minValue || value > maxValue {
		return 0, fmt.Errorf("%s must be within [%d, %d]", name, minValue, maxValue)
	}
	return value, nil
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	lr := io.LimitReader(r, limit+1)
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, io.ErrUnexpectedEOF
	}
	return data, nil
}
