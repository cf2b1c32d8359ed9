package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/dreschagin/device-lifecycle/internal/application/port"
)

type storedImage struct {
	ref  port.ImageRef
	body []byte
}

// ImageStorage keeps device images in process memory. Uploading an image
// under an existing name replaces it, like an S3 PUT on the same key.
type ImageStorage struct {
	mu     sync.RWMutex
	images map[string]map[string]storedImage
}

// NewImageStorage creates an empty storage
func NewImageStorage() *ImageStorage {
	return &ImageStorage{images: make(map[string]map[string]storedImage)}
}

// PutImage stores a copy of the image
func (s *ImageStorage) PutImage(
	_ context.Context,
	deviceID, name, contentType string,
	body []byte,
	annotations map[string]int,
) (port.ImageRef, error) {
	deviceID = strings.TrimSpace(deviceID)
	key := "devices/" + deviceID + "/images/" + name

	ref := port.ImageRef{
		Key:         key,
		URL:         "memory://" + key,
		ContentType: contentType,
		Annotations: cloneAnnotations(annotations),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.images[deviceID]
	if !ok {
		set = make(map[string]storedImage)
		s.images[deviceID] = set
	}
	set[name] = storedImage{ref: ref, body: append([]byte(nil), body...)}

	return cloneRef(ref), nil
}

// LatestImages returns the device image set ordered by key
func (s *ImageStorage) LatestImages(_ context.Context, deviceID string) ([]port.ImageRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := s.images[strings.TrimSpace(deviceID)]
	refs := make([]port.ImageRef, 0, len(set))
	for _, img := range set {
		refs = append(refs, cloneRef(img.ref))
	}
	sort.Slice(refs, func(i, j int) bool {
		return refs[i].Key < refs[j].Key
	})
	return refs, nil
}

// Body returns the stored bytes of an image
func (s *ImageStorage) Body(deviceID, name string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	img, ok := s.images[strings.TrimSpace(deviceID)][name]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), img.body...), true
}

func cloneRef(ref port.ImageRef) port.ImageRef {
	ref.Annotations = cloneAnnotations(ref.Annotations)
	return ref
}

func cloneAnnotations(annotations map[string]int) map[string]int {
	if annotations == nil {
		return nil
	}
	out := make(map[string]int, len(annotations))
	for k, v := range annotations {
		out[k] = v
	}
	return out
}
