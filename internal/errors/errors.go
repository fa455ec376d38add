// Package errors provides centralized error handling for the streaming core,
// with optional Sentry telemetry integration for terminal stream failures.
package errors

import (
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
)

// ErrorCategory represents the type of error for better categorization.
type ErrorCategory string

// CategorizedError is an interface for errors that can specify their own category.
type CategorizedError interface {
	error
	ErrorCategory() ErrorCategory
}

const (
	CategoryNetwork     ErrorCategory = "network"
	CategoryHTTP        ErrorCategory = "http-request"
	CategoryParse       ErrorCategory = "parse"
	CategoryAudio       ErrorCategory = "audio-queue"
	CategoryBuffer      ErrorCategory = "buffer-pool"
	CategoryState       ErrorCategory = "state"
	CategoryValidation  ErrorCategory = "validation"
	CategoryTimeout     ErrorCategory = "timeout"
	CategoryNotFound    ErrorCategory = "not-found"
	CategoryConflict    ErrorCategory = "conflict"
	CategoryConfig      ErrorCategory = "configuration"
	CategoryGeneric     ErrorCategory = "generic"
)

// Priority constants for error prioritization.
const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// ComponentUnknown is used when the component cannot be determined.
const ComponentUnknown = "unknown"

// EnhancedError wraps an error with additional context and metadata.
type EnhancedError struct {
	Err       error
	Component string
	Category  ErrorCategory
	Priority  string
	Context   map[string]any
	Timestamp time.Time

	mu       sync.RWMutex
	reported bool
}

// Error implements the error interface.
func (ee *EnhancedError) Error() string {
	return ee.Err.Error()
}

// Unwrap implements the error unwrapping interface.
func (ee *EnhancedError) Unwrap() error {
	return ee.Err
}

// Is implements error type checking by category, falling back to stdlib Is.
func (ee *EnhancedError) Is(target error) bool {
	if other, ok := target.(*EnhancedError); ok {
		return ee.Category == other.Category
	}
	return Is(ee.Err, target)
}

// ErrorCategory returns the category, satisfying CategorizedError.
func (ee *EnhancedError) ErrorCategory() ErrorCategory {
	return ee.Category
}

// IsReported returns whether this error has already been sent to telemetry.
func (ee *EnhancedError) IsReported() bool {
	ee.mu.RLock()
	defer ee.mu.RUnlock()
	return ee.reported
}

func (ee *EnhancedError) markReported() {
	ee.mu.Lock()
	ee.reported = true
	ee.mu.Unlock()
}

// ErrorBuilder provides a fluent interface for creating enhanced errors.
type ErrorBuilder struct {
	err       error
	component string
	category  ErrorCategory
	priority  string
	context   map[string]any
}

// New starts building an enhanced error around err (err may be nil).
func New(err error) *ErrorBuilder {
	if err == nil {
		err = stderrors.New("")
	}
	return &ErrorBuilder{err: err}
}

// Newf builds a formatted error.
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

// Component sets the originating component (e.g. "bytesource", "bufferpool").
func (eb *ErrorBuilder) Component(component string) *ErrorBuilder {
	eb.component = component
	return eb
}

// Category sets the error category for grouping and routing.
func (eb *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	eb.category = category
	return eb
}

// Priority sets an explicit severity override.
func (eb *ErrorBuilder) Priority(priority string) *ErrorBuilder {
	switch priority {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		eb.priority = priority
	case "":
	default:
		eb.priority = PriorityMedium
	}
	return eb
}

// Context attaches a key/value pair of diagnostic data.
func (eb *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if eb.context == nil {
		eb.context = make(map[string]any)
	}
	eb.context[key] = value
	return eb
}

// Build finalizes the error and reports it to Sentry whenever telemetry is
// enabled; the priority does not affect whether it is reported.
func (eb *ErrorBuilder) Build() *EnhancedError {
	if eb.component == "" {
		eb.component = ComponentUnknown
	}
	if eb.category == "" {
		eb.category = CategoryGeneric
	}

	ee := &EnhancedError{
		Err:       eb.err,
		Component: eb.component,
		Category:  eb.category,
		Priority:  eb.priority,
		Context:   eb.context,
		Timestamp: time.Now(),
	}

	if telemetryEnabled.Load() {
		reportToSentry(ee)
	}

	return ee
}

var telemetryEnabled atomic.Bool

// EnableTelemetry turns on Sentry reporting for subsequently built errors.
// The caller is expected to have already called sentry.Init.
func EnableTelemetry(enabled bool) {
	telemetryEnabled.Store(enabled)
}

// reportToSentry sends a single enhanced error as a Sentry event, tagged with
// its component and category so dashboards can group streaming failures.
func reportToSentry(ee *EnhancedError) {
	if ee.IsReported() {
		return
	}
	ee.markReported()

	hub := sentry.CurrentHub().Clone()
	hub.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("component", ee.Component)
		scope.SetTag("category", string(ee.Category))
		if ee.Priority != "" {
			scope.SetTag("priority", ee.Priority)
		}
		for k, v := range ee.Context {
			scope.SetExtra(k, v)
		}
	})
	hub.CaptureException(ee.Err)
}

// Wrap is a convenience alias for New, used when re-wrapping an existing error.
func Wrap(err error) *ErrorBuilder {
	return New(err)
}

// NewStd creates a plain standard-library error (drop-in passthrough).
func NewStd(text string) error {
	return stderrors.New(text)
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's tree that matches target.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Join wraps multiple errors into one.
func Join(errs ...error) error {
	return stderrors.Join(errs...)
}

// IsCategory checks if err is an EnhancedError carrying the given category.
func IsCategory(err error, category ErrorCategory) bool {
	var ee *EnhancedError
	return As(err, &ee) && ee.Category == category
}
