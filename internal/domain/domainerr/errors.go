// Package domainerr содержит таксономию ошибок ядра.
// Ошибки группируются по категориям, чтобы вызывающая сторона могла
// отличить невалидный ввод от конфликта конкурентного доступа.
package domainerr

import "errors"

// Ошибки валидации: не повторяются автоматически
var (
	ErrInvalidReading    = errors.New("invalid telemetry reading")
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
	ErrInvalidInput      = errors.New("invalid input")
)

// Конфликты конкурентного доступа
var (
	ErrDuplicateTimestamp = errors.New("duplicate telemetry timestamp")
	ErrAnalysisInProgress = errors.New("analysis already in progress")
	ErrAlreadyMinted      = errors.New("passport already minted")
	ErrDeviceExists       = errors.New("device already registered")
)

// Недоступность внешних возможностей
var (
	ErrUnavailable                = errors.New("capability unavailable")
	ErrAllCapabilitiesUnavailable = errors.New("all requested capabilities unavailable")
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInsufficientHistory = errors.New("insufficient telemetry history")
)

// Category классифицирует ошибку для транспортного слоя
type Category string

const (
	CategoryValidation  Category = "validation"
	CategoryConflict    Category = "conflict"
	CategoryUnavailable Category = "unavailable"
	CategoryNotFound    Category = "not_found"
	CategoryInternal    Category = "internal"
)

// CategoryOf возвращает категорию ошибки (по цепочке обёрток)
func CategoryOf(err error) Category {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidReading),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrInsufficientHistory):
		return CategoryValidation
	case errors.Is(err, ErrDuplicateTimestamp),
		errors.Is(err, ErrAnalysisInProgress),
		errors.Is(err, ErrAlreadyMinted),
		errors.Is(err, ErrDeviceExists):
		return CategoryConflict
	case errors.Is(err, ErrUnavailable),
		errors.Is(err, ErrAllCapabilitiesUnavailable):
		return CategoryUnavailable
	case errors.Is(err, ErrNotFound):
		return CategoryNotFound
	default:
		return CategoryInternal
	}
}

// IsRetryable сообщает, имеет ли смысл повторить операцию
func IsRetryable(err error) bool {
	c := CategoryOf(err)
	return c == CategoryConflict || c == CategoryUnavailable
}
