package usecase

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/dreschagin/device-lifecycle/internal/application/port"
	"github.com/dreschagin/device-lifecycle/internal/domain/domainerr"
	"github.com/dreschagin/device-lifecycle/internal/domain/repository"
	"github.com/dreschagin/device-lifecycle/pkg/logger"
)

var (
	imageNameRegex      = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)
	allowedContentTypes = map[string]bool{
		"image/png":  true,
		"image/jpeg": true,
	}
)

// MaxImagesPerUpload ограничивает размер одного набора изображений
const MaxImagesPerUpload = 12

// DeviceImageInput - одно загружаемое изображение с разметкой дефектов
type DeviceImageInput struct {
	Name        string
	ContentType string
	Data        []byte
	Annotations map[string]int
}

// UploadDeviceImagesCommand - набор изображений устройства
type UploadDeviceImagesCommand struct {
	DeviceID string
	Images   []DeviceImageInput
}

// UploadDeviceImagesUseCase сохраняет изображения для оценки состояния
type UploadDeviceImagesUseCase struct {
	devices repository.DeviceRepository
	storage port.ImageStorage
	logger  *logger.Logger
}

// NewUploadDeviceImagesUseCase создает новый use case
func NewUploadDeviceImagesUseCase(devices repository.DeviceRepository, storage port.ImageStorage, log *logger.Logger) *UploadDeviceImagesUseCase {
	return &UploadDeviceImagesUseCase{devices: devices, storage: storage, logger: log}
}

// Execute проверяет и загружает набор изображений. Набор становится
// последним для устройства и используется анализом без свежих изображений.
func (uc *UploadDeviceImagesUseCase) Execute(ctx context.Context, cmd UploadDeviceImagesCommand) ([]port.ImageRef, error) {
	if uc.storage == nil {
		return nil, fmt.Errorf("%w: image storage is not configured", domainerr.ErrUnavailable)
	}

	deviceID := strings.TrimSpace(cmd.DeviceID)
	if _, err := uc.devices.FindByID(ctx, deviceID); err != nil {
		return nil, err
	}

	if len(cmd.Images) == 0 {
		return nil, fmt.Errorf("%w: at least one image is required", domainerr.ErrInvalidInput)
	}
	if len(cmd.Images) > MaxImagesPerUpload {
		return nil, fmt.Errorf("%w: at most %d images per upload", domainerr.ErrInvalidInput, MaxImagesPerUpload)
	}

	seen := make(map[string]struct{}, len(cmd.Images))
	for _, img := range cmd.Images {
		name := strings.TrimSpace(img.Name)
		if !imageNameRegex.MatchString(name) {
			return nil, fmt.Errorf("%w: invalid image name %q", domainerr.ErrInvalidInput, img.Name)
		}
		if !allowedContentTypes[img.ContentType] {
			return nil, fmt.Errorf("%w: unsupported content_type for %s", domainerr.ErrInvalidInput, name)
		}
		if len(img.Data) == 0 {
			return nil, fmt.Errorf("%w: image %s is empty", domainerr.ErrInvalidInput, name)
		}
		for defect, count := range img.Annotations {
			if count < 0 {
				return nil, fmt.Errorf("%w: negative %s count on %s", domainerr.ErrInvalidInput, defect, name)
			}
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("%w: duplicate image name %s", domainerr.ErrInvalidInput, name)
		}
		seen[name] = struct{}{}
	}

	refs := make([]port.ImageRef, 0, len(cmd.Images))
	for _, img := range cmd.Images {
		name := strings.TrimSpace(img.Name)
		ref, err := uc.storage.PutImage(ctx, deviceID, name, img.ContentType, img.Data, img.Annotations)
		if err != nil {
			uc.logger.Error("Failed to upload device image", err,
				"device_id", deviceID,
				"image", name,
			)
			return nil, fmt.Errorf("failed to upload %s: %w", name, err)
		}
		refs = append(refs, ref)
	}

	sort.Slice(refs, func(i, j int) bool {
		return refs[i].Key < refs[j].Key
	})

	uc.logger.Info("Device images uploaded", "device_id", deviceID, "count", len(refs))
	return refs, nil
}

// LatestDeviceImagesUseCase возвращает последний набор изображений устройства
type LatestDeviceImagesUseCase struct {
	storage port.ImageStorage
}

// NewLatestDeviceImagesUseCase создает новый use case
func NewLatestDeviceImagesUseCase(storage port.ImageStorage) *LatestDeviceImagesUseCase {
	return &LatestDeviceImagesUseCase{storage: storage}
}

// Execute возвращает ссылки на изображения
func (uc *LatestDeviceImagesUseCase) Execute(ctx context.Context, deviceID string) ([]port.ImageRef, error) {
	if uc.storage == nil {
		return nil, fmt.Errorf("%w: image storage is not configured", domainerr.ErrUnavailable)
	}
	return uc.storage.LatestImages(ctx, deviceID)
}
