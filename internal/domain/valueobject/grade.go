package valueobject

import (
	"fmt"
	"strings"
)

// Grade - порядковая шкала состояния устройства: Mint > Excellent > Good > Fair > Recycle
type Grade int

const (
	GradeUnknown Grade = iota
	GradeRecycle
	GradeFair
	GradeGood
	GradeExcellent
	GradeMint
)

var gradeNames = map[Grade]string{
	GradeRecycle:   "recycle",
	GradeFair:      "fair",
	GradeGood:      "good",
	GradeExcellent: "excellent",
	GradeMint:      "mint",
}

// ParseGrade разбирает строковое представление оценки
func ParseGrade(s string) (Grade, error) {
	needle := strings.ToLower(strings.TrimSpace(s))
	for g, name := range gradeNames {
		if name == needle {
			return g, nil
		}
	}
	return GradeUnknown, fmt.Errorf("invalid grade %q", s)
}

// Validate проверяет, что оценка принадлежит шкале
func (g Grade) Validate() error {
	if _, ok := gradeNames[g]; !ok {
		return fmt.Errorf("invalid grade %d", int(g))
	}
	return nil
}

// String возвращает строковое представление
func (g Grade) String() string {
	if name, ok := gradeNames[g]; ok {
		return name
	}
	return "unknown"
}

// Below возвращает true, если оценка строго хуже other
func (g Grade) Below(other Grade) bool {
	return g < other
}

// MarshalText реализует encoding.TextMarshaler
func (g Grade) MarshalText() ([]byte, error) {
	return []byte(g.String()), nil
}

// UnmarshalText реализует encoding.TextUnmarshaler
func (g *Grade) UnmarshalText(text []byte) error {
	if s := strings.ToLower(string(text)); s == "" || s == "unknown" {
		*g = GradeUnknown
		return nil
	}
	parsed, err := ParseGrade(string(text))
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}
