package port

import "context"

// ImageStorage хранит изображения устройств для оценки состояния
type ImageStorage interface {
	// PutImage загружает изображение и возвращает ссылку на него
	PutImage(ctx context.Context, deviceID, name, contentType string, body []byte, annotations map[string]int) (ImageRef, error)

	// LatestImages возвращает последний загруженный набор изображений устройства
	LatestImages(ctx context.Context, deviceID string) ([]ImageRef, error)
}
