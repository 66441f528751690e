package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidWorkflow indicates that a workflow definition cannot be executed
	ErrInvalidWorkflow = errors.New("invalid workflow")

	// ErrActionNotFound indicates that no step is registered for an action type
	ErrActionNotFound = errors.New("action not found")

	// ErrActionExists indicates that an action type was registered twice
	ErrActionExists = errors.New("action already registered")

	// ErrInvalidStep indicates that a registered step function is nil
	ErrInvalidStep = errors.New("invalid step function")

	// ErrCredentialsMissing indicates that an integration has no usable credentials
	ErrCredentialsMissing = errors.New("credentials not configured")

	// ErrNotConnected indicates that a reporter has no live transport
	ErrNotConnected = errors.New("not connected")

	// ErrPublishFailed indicates that a completion record could not be published
	ErrPublishFailed = errors.New("publish failed")

	// ErrTimeout indicates that an operation timed out
	ErrTimeout = errors.New("operation timed out")
)

// Error codes used with NewError.
const (
	CodeInvalidConfig   = "INVALID_CONFIG"
	CodeInvalidWorkflow = "INVALID_WORKFLOW"
	CodeDuplicateAction = "DUPLICATE_ACTION"
	CodePublishFailed   = "PUBLISH_FAILED"
	CodeMarshalFailed   = "MARSHAL_FAILED"
	CodeCredentials     = "CREDENTIALS"
)

// Error represents a structured engine error
type Error struct {
	// Code is a machine-readable error code
	Code string

	// Message is a human-readable error message
	Message string

	// Err is the underlying error, if any
	Err error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new structured error
func NewError(code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// HasCode reports whether err is an *Error carrying the given code
func HasCode(err error, code string) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsTimeout checks if an error is a timeout error
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsNotConnected checks if an error is a not connected error
func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}

// Message extracts a best-effort human readable message from a recovered
// panic value or error.
func Message(v any) string {
	switch t := v.(type) {
	case nil:
		return "Unknown error"
	case error:
		return t.Error()
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}
