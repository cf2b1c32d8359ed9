package bolt

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/dreschagin/device-lifecycle/internal/application/port"
	"github.com/dreschagin/device-lifecycle/internal/domain/domainerr"
)

func TestOutbox_DueOrderAndAck(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "outbox.db")
	o, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	items := []port.OutboxItem{
		{ID: "late", NextAttempt: now.Add(time.Hour), Event: port.LedgerEvent{EventID: "E3"}},
		{ID: "second", NextAttempt: now.Add(-time.Minute), Event: port.LedgerEvent{EventID: "E2"}},
		{ID: "first", NextAttempt: now.Add(-time.Hour), Event: port.LedgerEvent{EventID: "E1"}},
	}
	for _, it := range items {
		if err := o.Enqueue(ctx, it); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}

	due, err := o.Due(ctx, now, 10)
	if err != nil {
		t.Fatalf("Due() error = %v", err)
	}
	if len(due) != 2 || due[0].ID != "first" || due[1].ID != "second" {
		t.Fatalf("unexpected due items: %+v", due)
	}

	if limited, _ := o.Due(ctx, now, 1); len(limited) != 1 {
		t.Fatalf("limit not applied: %d", len(limited))
	}

	if err := o.Ack(ctx, "first"); err != nil {
		t.Fatalf("Ack() error = %v", err)
	}
	if err := o.Ack(ctx, "first"); !errors.Is(err, domainerr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on double ack, got %v", err)
	}
	if n, _ := o.Len(ctx); n != 2 {
		t.Fatalf("Len() = %d, want 2", n)
	}
}

func TestOutbox_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "outbox.db")
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	o, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	item := port.OutboxItem{ID: "a", LedgerRef: "ref", Attempts: 1, NextAttempt: now, LastError: "timeout"}
	if err := o.Enqueue(ctx, item); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	item.Attempts = 2
	item.NextAttempt = now.Add(2 * time.Second)
	if err := o.Reschedule(ctx, item); err != nil {
		t.Fatalf("Reschedule() error = %v", err)
	}
	if err := o.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()

	due, _ := reopened.Due(ctx, now.Add(time.Minute), 0)
	if len(due) != 1 || due[0].Attempts != 2 || due[0].LedgerRef != "ref" {
		t.Fatalf("unexpected items after reopen: %+v", due)
	}
	if err := reopened.Enqueue(ctx, port.OutboxItem{}); !errors.Is(err, domainerr.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty id, got %v", err)
	}
}
