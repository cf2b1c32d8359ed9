package nats

import "testing"

func TestMessageID(t *testing.T) {
	a := MessageID("devices.D1.lifecycle", []byte(`{"kind":"repair"}`))
	b := MessageID("devices.D1.lifecycle", []byte(`{"kind":"repair"}`))
	if a != b || len(a) != 32 {
		t.Fatalf("message id must be deterministic 32 hex chars, got %q and %q", a, b)
	}
	if MessageID("devices.D2.lifecycle", []byte(`{"kind":"repair"}`)) == a {
		t.Fatal("subject must be part of the message id")
	}
}
