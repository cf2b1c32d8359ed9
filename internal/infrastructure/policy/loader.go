// Package policy loads recommendation thresholds from a YAML file.
package policy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dreschagin/device-lifecycle/internal/domain/service"
	"github.com/dreschagin/device-lifecycle/internal/domain/valueobject"
)

// File mirrors the YAML layout. Keys absent from the file keep their defaults.
//
//	recycle:
//	  failure_probability: 0.7
//	  low_grade: fair
//	resell:
//	  grade_below: excellent
//	  price_floor: 100
//	repair:
//	  degradation_min: 0.06
//	  degradation_max: 0.12
//	missing_input_penalty: 0.5
type File struct {
	Recycle struct {
		FailureProbability float64 `yaml:"failure_probability"`
		LowGrade           string  `yaml:"low_grade"`
	} `yaml:"recycle"`
	Resell struct {
		GradeBelow string  `yaml:"grade_below"`
		PriceFloor float64 `yaml:"price_floor"`
	} `yaml:"resell"`
	Repair struct {
		DegradationMin float64 `yaml:"degradation_min"`
		DegradationMax float64 `yaml:"degradation_max"`
	} `yaml:"repair"`
	MissingInputPenalty float64 `yaml:"missing_input_penalty"`
}

func fromPolicy(p service.RecommendationPolicy) File {
	var f File
	f.Recycle.FailureProbability = p.HighFailureProbability
	f.Recycle.LowGrade = p.LowGrade.String()
	f.Resell.GradeBelow = p.ResaleGradeThreshold.String()
	f.Resell.PriceFloor = p.ResaleFloor
	f.Repair.DegradationMin = p.ModerateDegradationMin
	f.Repair.DegradationMax = p.ModerateDegradationMax
	f.MissingInputPenalty = p.MissingInputPenalty
	return f
}

func (f File) toPolicy() (service.RecommendationPolicy, error) {
	lowGrade, err := valueobject.ParseGrade(f.Recycle.LowGrade)
	if err != nil {
		return service.RecommendationPolicy{}, fmt.Errorf("recycle.low_grade: %w", err)
	}
	resaleGrade, err := valueobject.ParseGrade(f.Resell.GradeBelow)
	if err != nil {
		return service.RecommendationPolicy{}, fmt.Errorf("resell.grade_below: %w", err)
	}

	p := service.RecommendationPolicy{
		HighFailureProbability: f.Recycle.FailureProbability,
		LowGrade:               lowGrade,
		ResaleGradeThreshold:   resaleGrade,
		ResaleFloor:            f.Resell.PriceFloor,
		ModerateDegradationMin: f.Repair.DegradationMin,
		ModerateDegradationMax: f.Repair.DegradationMax,
		MissingInputPenalty:    f.MissingInputPenalty,
	}
	if err := p.Validate(); err != nil {
		return service.RecommendationPolicy{}, fmt.Errorf("invalid recommendation policy: %w", err)
	}
	return p, nil
}

// Load reads the policy at path. An empty path yields the defaults.
func Load(path string) (service.RecommendationPolicy, error) {
	if path == "" {
		return service.DefaultRecommendationPolicy(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return service.RecommendationPolicy{}, fmt.Errorf("read policy: %w", err)
	}
	return Parse(bytes.NewReader(data))
}

// Parse decodes a policy document on top of the defaults. Unknown keys are rejected.
func Parse(r io.Reader) (service.RecommendationPolicy, error) {
	f := fromPolicy(service.DefaultRecommendationPolicy())

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return service.RecommendationPolicy{}, fmt.Errorf("parse policy: %w", err)
	}
	return f.toPolicy()
}

// Marshal renders a policy as YAML.
func Marshal(p service.RecommendationPolicy) ([]byte, error) {
	return yaml.Marshal(fromPolicy(p))
}
