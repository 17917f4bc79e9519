package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of an error for retry and recovery logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed on retry.
	// Examples: connection refused by the API server, i/o timeouts.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassThrottled indicates rate limiting by the cluster API.
	ErrorClassThrottled ErrorClass = "throttled"

	// ErrorClassConflict indicates a release state conflict, such as another
	// release operation holding the release lock.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassPermanent indicates a non-recoverable error.
	// Examples: invalid manifest, authorization failure, unsupported version.
	ErrorClassPermanent ErrorClass = "permanent"
)

// Error codes. The first six form the deployment error taxonomy.
const (
	ErrCodeValidation   = "VALIDATION_ERROR"
	ErrCodeExternalTool = "EXTERNAL_TOOL_FAILURE"
	ErrCodeTimeout      = "TIMEOUT"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeAggregate    = "AGGREGATE_FAILURE"
	ErrCodeUnsupported  = "UNSUPPORTED"

	ErrCodeInternal = "INTERNAL_ERROR"
	ErrCodePanic    = "PANIC"
)

// EngineError represents a classified error with deployment context.
//
// Message is always safe to show to end users. FullDetails carries command
// output and other operator-only diagnostics.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Code is the taxonomy code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Message is the operator-safe summary.
	Message string `json:"message"`

	// FullDetails holds diagnostics such as stderr of the failed command.
	FullDetails string `json:"full_details,omitempty"`

	// Stage is the execution phase that failed (e.g. "pre_execute").
	Stage string `json:"stage,omitempty"`

	// Unit is the chart unit name, if applicable.
	Unit string `json:"unit,omitempty"`

	// Resource is the resource (service) id, if applicable.
	Resource string `json:"resource,omitempty"`

	// Operation is the external operation being performed.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Class, e.Message)

	ctx := make([]string, 0, 4)
	if e.Stage != "" {
		ctx = append(ctx, "stage="+e.Stage)
	}
	if e.Unit != "" {
		ctx = append(ctx, "unit="+e.Unit)
	}
	if e.Resource != "" {
		ctx = append(ctx, "resource="+e.Resource)
	}
	if e.Operation != "" {
		ctx = append(ctx, "operation="+e.Operation)
	}
	if len(ctx) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(ctx, ", "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %s", e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// SafeMessage returns the summary that can be surfaced to end users.
func (e *EngineError) SafeMessage() string {
	return e.Message
}

// FullMessage returns the summary followed by every diagnostic in the chain.
func (e *EngineError) FullMessage() string {
	parts := []string{e.Message}
	if e.FullDetails != "" {
		parts = append(parts, e.FullDetails)
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, "\n")
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassTransient,
		Message: message,
		Err:     err,
	}
}

// NewThrottledError creates a new throttled error.
func NewThrottledError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassThrottled,
		Message: message,
		Err:     err,
	}
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassConflict,
		Message: message,
		Err:     err,
	}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassPermanent,
		Message: message,
		Err:     err,
	}
}

// NewValidationError reports a missing values file, malformed manifest or similar.
func NewValidationError(message string, err error) *EngineError {
	return NewPermanentError(message, err).WithCode(ErrCodeValidation)
}

// NewExternalToolError reports a non-zero exit or malformed output of helm or kubectl.
func NewExternalToolError(message, stderr string, err error) *EngineError {
	return NewPermanentError(message, err).
		WithCode(ErrCodeExternalTool).
		WithFullDetails(stderr)
}

// NewTimeoutError reports an external invocation that exceeded its deadline.
func NewTimeoutError(message string, err error) *EngineError {
	return NewTransientError(message, err).WithCode(ErrCodeTimeout)
}

// NewNotFoundError reports an absent release or cluster object.
func NewNotFoundError(message string, err error) *EngineError {
	return NewPermanentError(message, err).WithCode(ErrCodeNotFound)
}

// NewAggregateError wraps the first failure of a parallel level.
func NewAggregateError(message string, err error) *EngineError {
	return NewPermanentError(message, err).WithCode(ErrCodeAggregate)
}

// NewUnsupportedError reports a request outside the supported matrix.
func NewUnsupportedError(message string) *EngineError {
	return NewPermanentError(message, nil).WithCode(ErrCodeUnsupported)
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithStage records the phase in which the error occurred.
func (e *EngineError) WithStage(stage string) *EngineError {
	e.Stage = stage
	return e
}

// WithUnit records the chart unit name.
func (e *EngineError) WithUnit(unit string) *EngineError {
	e.Unit = unit
	return e
}

// WithResource adds resource context to an error.
func (e *EngineError) WithResource(resourceID string) *EngineError {
	e.Resource = resourceID
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithFullDetails attaches operator-only diagnostics.
func (e *EngineError) WithFullDetails(details string) *EngineError {
	e.FullDetails = strings.TrimSpace(details)
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// annotate attaches stage context to err without hiding the root cause.
// A copy of the outermost EngineError in the chain gets the fields it
// lacks; anything else is wrapped into a new permanent error. err itself
// is never modified, so a shared error keeps its own context.
func annotate(err error, stage, unit string) error {
	if err == nil {
		return nil
	}
	var e *EngineError
	if errors.As(err, &e) {
		cp := e.clone()
		if cp.Stage == "" {
			cp.Stage = stage
		}
		if cp.Unit == "" {
			cp.Unit = unit
		}
		return cp
	}
	return NewPermanentError(fmt.Sprintf("chart %s failed during %s", unit, stage), err).
		WithCode(ErrCodeInternal).
		WithStage(stage).
		WithUnit(unit)
}

// AnnotateResource attaches resource context to a copy of err. Stage
// context set by an inner layer is kept.
func AnnotateResource(err error, stage, resourceID string) error {
	if err == nil {
		return nil
	}
	var e *EngineError
	if errors.As(err, &e) {
		cp := e.clone()
		if cp.Stage == "" {
			cp.Stage = stage
		}
		if cp.Resource == "" {
			cp.Resource = resourceID
		}
		return cp
	}
	return NewPermanentError(fmt.Sprintf("resource %s failed during %s", resourceID, stage), err).
		WithCode(ErrCodeInternal).
		WithStage(stage).
		WithResource(resourceID)
}

func (e *EngineError) clone() *EngineError {
	cp := *e
	if e.Details != nil {
		cp.Details = make(map[string]interface{}, len(e.Details))
		for k, v := range e.Details {
			cp.Details[k] = v
		}
	}
	return &cp
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsThrottled returns true if the error is classified as throttled.
func IsThrottled(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassThrottled
	}
	return false
}

// IsConflict returns true if the error is classified as a conflict.
func IsConflict(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassConflict
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// IsRetryable returns true if the error can be retried.
// Transient, throttled, and conflict errors are retryable.
func IsRetryable(err error) bool {
	return IsTransient(err) || IsThrottled(err) || IsConflict(err)
}

// IsNotFound reports whether err carries the NOT_FOUND code.
func IsNotFound(err error) bool {
	return CodeOf(err) == ErrCodeNotFound
}

// IsTimeout reports whether err carries the TIMEOUT code.
func IsTimeout(err error) bool {
	return CodeOf(err) == ErrCodeTimeout
}

// CodeOf returns the code of the first EngineError in the chain.
func CodeOf(err error) string {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// SafeMessageOf returns a message suitable for end users. Errors that are not
// EngineErrors are summarized generically since their text may leak internals.
func SafeMessageOf(err error) string {
	if err == nil {
		return ""
	}
	var e *EngineError
	if errors.As(err, &e) {
		return e.SafeMessage()
	}
	return "internal engine error"
}
