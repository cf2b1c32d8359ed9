package port

import (
	"context"
	"fmt"
)

// Subjects for device events
const (
	SubjectLifecycleFormat = "devices.%s.lifecycle"
	SubjectAnalysisFormat  = "devices.%s.analysis"
	SubjectPassportFormat  = "devices.%s.passport"
)

// LifecycleSubject returns the subject for lifecycle events of a device
func LifecycleSubject(deviceID string) string {
	return fmt.Sprintf(SubjectLifecycleFormat, deviceID)
}

// AnalysisSubject returns the subject for completed analyses of a device
func AnalysisSubject(deviceID string) string {
	return fmt.Sprintf(SubjectAnalysisFormat, deviceID)
}

// PassportSubject returns the subject for passport changes of a device
func PassportSubject(deviceID string) string {
	return fmt.Sprintf(SubjectPassportFormat, deviceID)
}

// EventPublisher defines the interface for publishing events to a message broker
type EventPublisher interface {
	// PublishEvent publishes an event to the specified subject
	PublishEvent(ctx context.Context, subject string, event interface{}) error

	// Close closes the connection to the message broker
	Close() error
}
