package docjob

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type ErrorType int

const (
	ErrExtraction ErrorType = iota
	ErrTranslation
	ErrStorage
	ErrRateLimit
	ErrPrecondition
	ErrConfiguration
	ErrUnknown
)

// DocTransError is the error type used across the pipeline. RetryAfter is
// only meaningful for ErrRateLimit and overrides the backoff delay.
type DocTransError struct {
	Type       ErrorType
	Message    string
	Context    map[string]any
	Cause      error
	RetryAfter time.Duration
}

func NewError(errorType ErrorType, message string) *DocTransError {
	return &DocTransError{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
	}
}

func NewErrorWithCause(errorType ErrorType, message string, cause error) *DocTransError {
	return &DocTransError{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
		Cause:   cause,
	}
}

func WrapError(err error, errorType ErrorType, message string) *DocTransError {
	return NewErrorWithCause(errorType, message, err)
}

func NewRateLimitError(message string, retryAfter time.Duration) *DocTransError {
	e := NewError(ErrRateLimit, message)
	e.RetryAfter = retryAfter
	return e
}

func (e *DocTransError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s] %s", e.Type.String(), e.Message))

	if len(e.Context) > 0 {
		var ctxParts []string
		for k, v := range e.Context {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("context: %s", strings.Join(ctxParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " | ")
}

func (e *DocTransError) Unwrap() error {
	return e.Cause
}

func (e *DocTransError) WithContext(key string, value any) *DocTransError {
	e.Context[key] = value
	return e
}

func (t ErrorType) String() string {
	switch t {
	case ErrExtraction:
		return "Extraction"
	case ErrTranslation:
		return "Translation"
	case ErrStorage:
		return "Storage"
	case ErrRateLimit:
		return "RateLimit"
	case ErrPrecondition:
		return "Precondition"
	case ErrConfiguration:
		return "Configuration"
	default:
		return "Unknown"
	}
}

func IsErrorType(err error, errorType ErrorType) bool {
	var dtErr *DocTransError
	if errors.As(err, &dtErr) {
		return dtErr.Type == errorType
	}
	return false
}

// IsFatal reports whether retrying can never succeed.
func IsFatal(err error) bool {
	var dtErr *DocTransError
	if !errors.As(err, &dtErr) {
		return false
	}
	return dtErr.Type == ErrPrecondition || dtErr.Type == ErrConfiguration
}

// RetryAfterHint returns the server-requested wait carried by a rate
// limit error, if any.
func RetryAfterHint(err error) (time.Duration, bool) {
	var dtErr *DocTransError
	if !errors.As(err, &dtErr) {
		return 0, false
	}
	if dtErr.Type != ErrRateLimit || dtErr.RetryAfter <= 0 {
		return 0, false
	}
	return dtErr.RetryAfter, true
}

func SafeExecute(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewError(ErrUnknown, fmt.Sprintf("runtime error: %v", r))
		}
	}()

	return fn()
}
