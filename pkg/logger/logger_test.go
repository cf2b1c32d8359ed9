package logger

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("warn", &buf)

	l.Info("hidden")
	l.Warn("shown", "device_id", "D1")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info must be filtered at warn level: %q", out)
	}
	if !strings.Contains(out, "[WARN] shown | device_id=D1") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestWithAddsFieldsAndSharesSink(t *testing.T) {
	var buf bytes.Buffer
	root := NewWithWriter("debug", &buf)

	var got []map[string]interface{}
	root.SetSink(func(level, msg string, fields map[string]interface{}) {
		got = append(got, fields)
	})

	child := root.With("component", "orchestrator")
	child.Error("analysis failed", errors.New("boom"), "device_id", "D1")

	if !strings.Contains(buf.String(), "component=orchestrator device_id=D1 error=boom") {
		t.Fatalf("unexpected output %q", buf.String())
	}
	if len(got) != 1 || got[0]["component"] != "orchestrator" || got[0]["error"] != "boom" {
		t.Fatalf("sink received %v", got)
	}
}
