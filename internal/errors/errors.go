package errors

import (
	"fmt"
)

// QueryError is the structured error type for corpusqa.
// It carries a stable code, a Kind for API mapping, and optional
// key-value details for logging.
type QueryError struct {
	// Code is the unique error code (e.g., "ERR_401_INVALID_INPUT").
	Code string

	// Kind classifies the error for HTTP status mapping.
	Kind Kind

	// Message is the human-readable error message.
	Message string

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *QueryError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *QueryError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with QueryError.
func (e *QueryError) Is(target error) bool {
	if t, ok := target.(*QueryError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *QueryError) WithDetail(key, value string) *QueryError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new QueryError with the given code and message.
// Kind, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *QueryError {
	return &QueryError{
		Code:      code,
		Kind:      kindFromCode(code),
		Message:   message,
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a QueryError from an existing error.
// The error's message becomes the QueryError message.
func Wrap(code string, err error) *QueryError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// InvalidInput creates a validation error.
func InvalidInput(message string) *QueryError {
	return New(ErrCodeInvalidInput, message, nil)
}

// Overloaded creates a capacity error for a full generation queue.
func Overloaded(message string) *QueryError {
	return New(ErrCodeOverloaded, message, nil)
}

// BackendUnavailable creates an error for a backend that stayed down
// after bounded retry.
func BackendUnavailable(message string, cause error) *QueryError {
	return New(ErrCodeBackendUnavailable, message, cause)
}

// DeadlineExceeded creates an error for an elapsed request deadline.
func DeadlineExceeded(message string) *QueryError {
	return New(ErrCodeDeadlineExceeded, message, nil)
}

// GenerationTimeout creates an error for a generation stage timeout.
func GenerationTimeout(message string, cause error) *QueryError {
	return New(ErrCodeGenerationTimeout, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *QueryError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
// Returns true if the error is a QueryError with Retryable flag set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if qe, ok := err.(*QueryError); ok {
		return qe.Retryable
	}
	return false
}

// KindOf extracts the Kind from an error chain.
// Returns KindInternal for non-QueryError values.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for e := err; e != nil; {
		if qe, ok := e.(*QueryError); ok {
			return qe.Kind
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	return KindInternal
}

// GetCode extracts the error code from a QueryError.
// Returns empty string if not a QueryError.
func GetCode(err error) string {
	if qe, ok := err.(*QueryError); ok {
		return qe.Code
	}
	return ""
}
