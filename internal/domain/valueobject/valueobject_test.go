package valueobject

import (
	"testing"
	"time"
)

func TestGradeOrdering(t *testing.T) {
	ordered := []Grade{GradeRecycle, GradeFair, GradeGood, GradeExcellent, GradeMint}
	for i := 1; i < len(ordered); i++ {
		if !ordered[i-1].Below(ordered[i]) {
			t.Fatalf("%s should be below %s", ordered[i-1], ordered[i])
		}
	}
}

func TestParseGrade(t *testing.T) {
	tests := []struct {
		in      string
		want    Grade
		wantErr bool
	}{
		{"mint", GradeMint, false},
		{" Excellent ", GradeExcellent, false},
		{"FAIR", GradeFair, false},
		{"recycle", GradeRecycle, false},
		{"broken", GradeUnknown, true},
	}

	for _, tt := range tests {
		got, err := ParseGrade(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseGrade(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Fatalf("ParseGrade(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestGradeTextRoundTrip(t *testing.T) {
	text, err := GradeGood.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText() error = %v", err)
	}
	var g Grade
	if err := g.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText() error = %v", err)
	}
	if g != GradeGood {
		t.Fatalf("got %v, want %v", g, GradeGood)
	}
}

func TestNewTrailingDays(t *testing.T) {
	end := time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC)
	tr, err := NewTrailingDays(end, 30)
	if err != nil {
		t.Fatalf("NewTrailingDays() error = %v", err)
	}
	if !tr.Start().Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start %v", tr.Start())
	}
	if !tr.Contains(end) || !tr.Contains(tr.Start()) {
		t.Fatal("range bounds must be inclusive")
	}
	if _, err := NewTrailingDays(end, 0); err == nil {
		t.Fatal("expected error for zero days")
	}
}

func TestCarbonBaselineTotal(t *testing.T) {
	b := DefaultCarbonBaseline()
	if got := b.Total(2); got != 79 {
		t.Fatalf("Total(2) = %v, want 79", got)
	}
	if err := (CarbonBaseline{ManufacturingKg: -1}).Validate(); err == nil {
		t.Fatal("expected validation error for negative component")
	}
}

func TestStatusAndKindValidate(t *testing.T) {
	for _, s := range AllDeviceStatuses() {
		if err := s.Validate(); err != nil {
			t.Fatalf("status %s: %v", s, err)
		}
	}
	for _, k := range AllEventKinds() {
		if err := k.Validate(); err != nil {
			t.Fatalf("kind %s: %v", k, err)
		}
	}
	if err := DeviceStatus("lost").Validate(); err == nil {
		t.Fatal("expected error for unknown status")
	}
	if EventResale.IsCircularAction() {
		t.Fatal("resale is not a circular action")
	}
}
