package policy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dreschagin/device-lifecycle/internal/domain/service"
	"github.com/dreschagin/device-lifecycle/internal/domain/valueobject"
)

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	p, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if p != service.DefaultRecommendationPolicy() {
		t.Fatalf("policy = %+v", p)
	}
}

func TestLoad_PartialOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	doc := "recycle:\n  failure_probability: 0.8\nresell:\n  grade_below: good\n  price_floor: 150\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if p.HighFailureProbability != 0.8 || p.ResaleFloor != 150 || p.ResaleGradeThreshold != valueobject.GradeGood {
		t.Fatalf("overrides not applied: %+v", p)
	}
	def := service.DefaultRecommendationPolicy()
	if p.LowGrade != def.LowGrade || p.ModerateDegradationMax != def.ModerateDegradationMax {
		t.Fatalf("unset keys must keep defaults: %+v", p)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"letter grade", "resell:\n  grade_below: B\n", "grade_below"},
		{"unknown key", "recycle:\n  threshold: 0.5\n", "parse policy"},
		{"inverted range", "repair:\n  degradation_min: 0.2\n  degradation_max: 0.1\n", "invalid recommendation policy"},
		{"probability above one", "recycle:\n  failure_probability: 1.5\n", "invalid recommendation policy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.doc))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestMarshal_RoundTripsThroughParse(t *testing.T) {
	want := service.DefaultRecommendationPolicy()
	want.ResaleFloor = 220

	data, err := Marshal(want)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	got, err := Parse(strings.NewReader(string(data)))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}
