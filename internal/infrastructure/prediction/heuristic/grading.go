package heuristic

import (
	"context"
	"errors"
	"sort"

	"github.com/dreschagin/device-lifecycle/internal/application/port"
	"github.com/dreschagin/device-lifecycle/internal/domain/entity"
	"github.com/dreschagin/device-lifecycle/internal/domain/valueobject"
)

// Annotation names recognised in image metadata
const (
	DefectScreenScratches = "screen_scratches"
	DefectScreenCracks    = "screen_cracks"
	DefectBodyScratches   = "body_scratches"
	DefectDents           = "dents"
)

var damageWeights = map[string]int{
	DefectScreenScratches: 3,
	DefectScreenCracks:    15,
	DefectBodyScratches:   2,
	DefectDents:           5,
}

type gradeBand struct {
	maxDamage  int
	grade      valueobject.Grade
	confidence float64
	action     string
}

// Ordered by damage ceiling
var gradeBands = []gradeBand{
	{maxDamage: 0, grade: valueobject.GradeMint, confidence: 0.95, action: "resell"},
	{maxDamage: 10, grade: valueobject.GradeGood, confidence: 0.92, action: "resell"},
	{maxDamage: 30, grade: valueobject.GradeFair, confidence: 0.89, action: "repair"},
}

var recycleBand = gradeBand{grade: valueobject.GradeRecycle, confidence: 0.87, action: "recycle"}

// Grader scores cosmetic condition from defect annotations on device images
type Grader struct{}

// NewGrader creates a grader
func NewGrader() *Grader {
	return &Grader{}
}

// GradeDevice implements port.Grader
func (g *Grader) GradeDevice(ctx context.Context, images []port.ImageRef) (*entity.GradingResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, errors.New("no images to grade")
	}

	counts := make(map[string]int)
	for _, img := range images {
		for name, n := range img.Annotations {
			counts[name] += n
		}
	}

	damage := DamageScore(counts)
	band := recycleBand
	for _, b := range gradeBands {
		if damage <= b.maxDamage {
			band = b
			break
		}
	}

	return &entity.GradingResult{
		Grade:           band.grade,
		Confidence:      band.confidence,
		Defects:         defects(counts),
		SuggestedAction: band.action,
	}, nil
}

// DamageScore weights defect counts into one number
func DamageScore(counts map[string]int) int {
	score := 0
	for name, n := range counts {
		score += damageWeights[name] * n
	}
	return score
}

func defects(counts map[string]int) []entity.Defect {
	names := make([]string, 0, len(counts))
	for name, n := range counts {
		if n > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	result := make([]entity.Defect, 0, len(names))
	for _, name := range names {
		result = append(result, entity.Defect{
			Name:     name,
			Count:    counts[name],
			Severity: severity(name, counts[name]),
		})
	}
	return result
}

func severity(name string, count int) string {
	switch {
	case name == DefectScreenCracks:
		return "severe"
	case damageWeights[name]*count > 10:
		return "major"
	default:
		return "minor"
	}
}
