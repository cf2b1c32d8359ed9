package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dreschagin/device-lifecycle/internal/application/gateway"
	"github.com/dreschagin/device-lifecycle/internal/application/port"
	"github.com/dreschagin/device-lifecycle/internal/domain/valueobject"
)

type recordingPublisher struct {
	data []port.MetricDatum
}

func (r *recordingPublisher) PublishBatch(_ context.Context, data []port.MetricDatum) error {
	r.data = append(r.data, data...)
	return nil
}

func (r *recordingPublisher) Flush(context.Context) error { return nil }

// sample returns the value of the series with the given label values
func sample(t *testing.T, reg *prometheus.Registry, name string, labels ...string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	next:
		for _, metric := range f.GetMetric() {
			pairs := metric.GetLabel()
			if len(pairs) != len(labels) {
				continue
			}
			for i, pair := range pairs {
				if pair.GetValue() != labels[i] {
					continue next
				}
			}
			if c := metric.GetCounter(); c != nil {
				return c.GetValue()
			}
			return metric.GetGauge().GetValue()
		}
	}
	return 0
}

func TestNormalizeRoute(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/api/v1/devices", "/api/v1/devices"},
		{"/api/v1/devices/D1", "/api/v1/devices/{id}"},
		{"/api/v1/devices/D1/analysis", "/api/v1/devices/{id}/analysis"},
		{"/api/v1/devices/abc-42/passport/transfer", "/api/v1/devices/{id}/passport/transfer"},
		{"/api/v1/ledger/sync", "/api/v1/*"},
		{"/ws", "/ws"},
		{"/favicon.ico", "other"},
	}

	for _, tt := range tests {
		if got := normalizeRoute(tt.path); got != tt.want {
			t.Errorf("normalizeRoute(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestMetrics_Observers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	pub := &recordingPublisher{}
	m.ForwardTo(pub)

	m.ObserveCapabilityCall(valueobject.CapabilityGrading, "ok", 120*time.Millisecond)
	m.ObserveCapabilityCall(valueobject.CapabilityGrading, "circuit_open", 0)
	m.ObserveAnalysis("complete", time.Second)
	m.ObserveDedup("joined")
	m.ObserveCache(true)
	m.ObserveCache(false)
	m.ObserveLedgerSync("deferred")

	if got := sample(t, reg, "device_lifecycle_capability_calls_total", "grading", "ok"); got != 1 {
		t.Errorf("capability ok calls = %v", got)
	}
	if got := sample(t, reg, "device_lifecycle_capability_calls_total", "grading", "circuit_open"); got != 1 {
		t.Errorf("circuit_open calls = %v", got)
	}
	if got := sample(t, reg, "device_lifecycle_analysis_cache_total", "hit"); got != 1 {
		t.Errorf("cache hits = %v", got)
	}
	if got := sample(t, reg, "device_lifecycle_ledger_sync_total", "deferred"); got != 1 {
		t.Errorf("ledger deferred = %v", got)
	}

	// latency for the ok call and the analysis count
	if len(pub.data) != 2 {
		t.Fatalf("forwarded datums = %d, want 2", len(pub.data))
	}
	if pub.data[0].Dimensions["Capability"] != "grading" || pub.data[0].Value != 120 {
		t.Errorf("unexpected capability datum: %+v", pub.data[0])
	}
	for _, d := range pub.data {
		if d.Timestamp.IsZero() {
			t.Error("forwarded datum must carry a timestamp")
		}
	}
}

func TestMetrics_TrackBreakers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.TrackBreakers(func() map[valueobject.Capability]gateway.BreakerState {
		return map[valueobject.Capability]gateway.BreakerState{
			valueobject.CapabilityPricing: gateway.BreakerOpen,
		}
	})

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	found := map[string]float64{}
	for _, f := range families {
		if f.GetName() != "device_lifecycle_breaker_state" {
			continue
		}
		for _, metric := range f.GetMetric() {
			found[metric.GetLabel()[0].GetValue()] = metric.GetGauge().GetValue()
		}
	}
	if found["pricing"] != 2 || found["health"] != 0 || len(found) != 3 {
		t.Fatalf("breaker gauges = %v", found)
	}
}

func TestMetrics_Middleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/devices/D1/analysis", nil))

	// labels are sorted by name: method, route, status
	got := sample(t, reg, "device_lifecycle_requests_total", http.MethodPost, "/api/v1/devices/{id}/analysis", "409")
	if got != 1 {
		t.Fatalf("requests counter = %v, want 1", got)
	}
}
