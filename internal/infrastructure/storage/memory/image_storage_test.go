package memory

import (
	"context"
	"testing"
)

func TestImageStorage_PutAndLatest(t *testing.T) {
	s := NewImageStorage()
	ctx := context.Background()

	annotations := map[string]int{"screen_scratches": 2}
	if _, err := s.PutImage(ctx, "D1", "front", "image/png", []byte{1, 2}, annotations); err != nil {
		t.Fatalf("PutImage() error = %v", err)
	}
	if _, err := s.PutImage(ctx, "D1", "back", "image/jpeg", []byte{3}, nil); err != nil {
		t.Fatalf("PutImage() error = %v", err)
	}
	annotations["screen_scratches"] = 99

	refs, err := s.LatestImages(ctx, "D1")
	if err != nil {
		t.Fatalf("LatestImages() error = %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("len(refs) = %d, want 2", len(refs))
	}
	if refs[0].Key != "devices/D1/images/back" || refs[1].Key != "devices/D1/images/front" {
		t.Fatalf("unexpected order: %s, %s", refs[0].Key, refs[1].Key)
	}
	if refs[1].Annotations["screen_scratches"] != 2 {
		t.Fatal("stored annotations must not alias the caller's map")
	}

	other, _ := s.LatestImages(ctx, "D2")
	if len(other) != 0 {
		t.Fatalf("unknown device must have no images, got %d", len(other))
	}
}

func TestImageStorage_OverwriteByName(t *testing.T) {
	s := NewImageStorage()
	ctx := context.Background()

	_, _ = s.PutImage(ctx, "D1", "front", "image/png", []byte{1}, map[string]int{"cracks": 1})
	_, _ = s.PutImage(ctx, "D1", "front", "image/png", []byte{9, 9}, nil)

	refs, _ := s.LatestImages(ctx, "D1")
	if len(refs) != 1 || refs[0].Annotations != nil {
		t.Fatalf("expected single replaced image, got %+v", refs)
	}
	body, ok := s.Body("D1", "front")
	if !ok || len(body) != 2 {
		t.Fatalf("Body() = %v, %v", body, ok)
	}
}
