package handler

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dreschagin/device-lifecycle/internal/application/port"
	"github.com/dreschagin/device-lifecycle/internal/application/usecase"
	"github.com/dreschagin/device-lifecycle/pkg/logger"
)

var (
	pngSignature  = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
	jpegSignature = []byte{0xff, 0xd8, 0xff}
)

// ImageAPIHandler принимает фотографии устройства для оценки состояния
type ImageAPIHandler struct {
	uploadUC         *usecase.UploadDeviceImagesUseCase
	latestUC         *usecase.LatestDeviceImagesUseCase
	logger           *logger.Logger
	maxPayloadBytes  int64
	maxArtifactBytes int
	rateLimiter      *fixedWindowRateLimiter
}

type imageUploadRequest struct {
	Images []imageUploadItem `json:"images"`
}

type imageUploadItem struct {
	Name        string         `json:"name"`
	ContentType string         `json:"content_type"`
	DataBase64  string         `json:"data_base64"`
	Annotations map[string]int `json:"annotations,omitempty"`
}

type imageUploadResponse struct {
	DeviceID string          `json:"device_id"`
	SavedAt  time.Time       `json:"saved_at"`
	Items    []port.ImageRef `json:"items"`
}

// NewImageAPIHandler создает новый handler
func NewImageAPIHandler(
	uploadUC *usecase.UploadDeviceImagesUseCase,
	latestUC *usecase.LatestDeviceImagesUseCase,
	maxPayloadBytes int64,
	maxArtifactBytes int,
	rateLimitPerMinute int,
	log *logger.Logger,
) *ImageAPIHandler {
	if maxPayloadBytes <= 0 {
		maxPayloadBytes = 20 * 1024 * 1024
	}
	if maxArtifactBytes <= 0 {
		maxArtifactBytes = 5 * 1024 * 1024
	}
	if rateLimitPerMinute <= 0 {
		rateLimitPerMinute = 30
	}

	return &ImageAPIHandler{
		uploadUC:         uploadUC,
		latestUC:         latestUC,
		logger:           log,
		maxPayloadBytes:  maxPayloadBytes,
		maxArtifactBytes: maxArtifactBytes,
		rateLimiter:      newFixedWindowRateLimiter(rateLimitPerMinute, time.Minute),
	}
}

// Upload - POST /api/v1/devices/{id}/images
func (h *ImageAPIHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if !h.rateLimiter.Allow(extractClientIP(r)) {
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded"})
		return
	}

	deviceID := r.PathValue("id")

	var req imageUploadRequest
	if !decodeJSON(w, r, h.maxPayloadBytes, &req) {
		return
	}

	images := make([]usecase.DeviceImageInput, 0, len(req.Images))
	for _, item := range req.Images {
		decoded, err := decodeBase64Image(item.DataBase64, item.ContentType)
		if err != nil {
			writeBadRequest(w, fmt.Sprintf("invalid image %s: %v", item.Name, err))
			return
		}
		if len(decoded) > h.maxArtifactBytes {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: fmt.Sprintf("image %s too large", item.Name)})
			return
		}

		images = append(images, usecase.DeviceImageInput{
			Name:        item.Name,
			ContentType: item.ContentType,
			Data:        decoded,
			Annotations: item.Annotations,
		})
	}

	refs, err := h.uploadUC.Execute(r.Context(), usecase.UploadDeviceImagesCommand{
		DeviceID: deviceID,
		Images:   images,
	})
	if err != nil {
		writeError(w, h.logger, "upload_device_images", err)
		return
	}

	writeJSON(w, http.StatusCreated, imageUploadResponse{
		DeviceID: deviceID,
		SavedAt:  time.Now().UTC(),
		Items:    refs,
	})
}

// Latest - GET /api/v1/devices/{id}/images
func (h *ImageAPIHandler) Latest(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("id")
	refs, err := h.latestUC.Execute(r.Context(), deviceID)
	if err != nil {
		writeError(w, h.logger, "latest_device_images", err)
		return
	}
	if refs == nil {
		refs = []port.ImageRef{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": deviceID,
		"items":     refs,
	})
}

// decodeBase64Image декодирует изображение и сверяет сигнатуру с content type
func decodeBase64Image(raw, contentType string) ([]byte, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, fmt.Errorf("empty data_base64")
	}

	if i := strings.Index(value, ";base64,"); strings.HasPrefix(value, "data:") && i > 0 {
		value = value[i+len(";base64,"):]
	}

	decoded, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("invalid base64")
	}

	switch contentType {
	case "image/png":
		if !bytes.HasPrefix(decoded, pngSignature) {
			return nil, fmt.Errorf("invalid png signature")
		}
	case "image/jpeg":
		if !bytes.HasPrefix(decoded, jpegSignature) {
			return nil, fmt.Errorf("invalid jpeg signature")
		}
	}

	return decoded, nil
}

func extractClientIP(r *http.Request) string {
	xForwardedFor := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if xForwardedFor != "" {
		parts := strings.Split(xForwardedFor, ",")
		return strings.TrimSpace(parts[0])
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}

type fixedWindowRateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	entries map[string]*rateLimitEntry
}

type rateLimitEntry struct {
	windowStart time.Time
	count       int
}

func newFixedWindowRateLimiter(limit int, window time.Duration) *fixedWindowRateLimiter {
	return &fixedWindowRateLimiter{
		limit:   limit,
		window:  window,
		entries: make(map[string]*rateLimitEntry),
	}
}

func (rl *fixedWindowRateLimiter) Allow(key string) bool {
	now := time.Now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, ok := rl.entries[key]
	if !ok || now.Sub(entry.windowStart) >= rl.window {
		rl.entries[key] = &rateLimitEntry{windowStart: now, count: 1}
		return true
	}

	if entry.count >= rl.limit {
		return false
	}

	entry.count++
	return true
}
