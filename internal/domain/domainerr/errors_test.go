package domainerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestCategoryOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Category
	}{
		{"nil", nil, ""},
		{"invalid reading", ErrInvalidReading, CategoryValidation},
		{"wrapped transition", fmt.Errorf("failed to append: %w", ErrInvalidTransition), CategoryValidation},
		{"duplicate timestamp", ErrDuplicateTimestamp, CategoryConflict},
		{"analysis in progress", fmt.Errorf("analyze: %w", ErrAnalysisInProgress), CategoryConflict},
		{"already minted", ErrAlreadyMinted, CategoryConflict},
		{"all unavailable", ErrAllCapabilitiesUnavailable, CategoryUnavailable},
		{"not found", ErrNotFound, CategoryNotFound},
		{"unknown", errors.New("boom"), CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CategoryOf(tt.err); got != tt.want {
				t.Fatalf("CategoryOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(ErrInvalidReading) {
		t.Fatal("validation errors must not be retryable")
	}
	if !IsRetryable(ErrDuplicateTimestamp) {
		t.Fatal("conflicts must be retryable")
	}
}
