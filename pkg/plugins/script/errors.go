package script

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dop251/goja"
)

// ErrorType categorizes script failures.
type ErrorType string

const (
	ErrorTypeSyntax   ErrorType = "syntax_error"
	ErrorTypeRuntime  ErrorType = "runtime_error"
	ErrorTypeTimeout  ErrorType = "timeout_error"
	ErrorTypeSecurity ErrorType = "security_error"
	ErrorTypeInternal ErrorType = "internal_error"
)

// ScriptError is a structured script failure.
type ScriptError struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Stack   string    `json:"stack,omitempty"`
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// classify turns an error from RunString or Compile into a ScriptError.
func classify(err error) *ScriptError {
	var se *ScriptError
	if errors.As(err, &se) {
		return se
	}

	var syntax *goja.CompilerSyntaxError
	if errors.As(err, &syntax) {
		return &ScriptError{Type: ErrorTypeSyntax, Message: syntax.Error()}
	}

	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return &ScriptError{Type: ErrorTypeTimeout, Message: fmt.Sprint(interrupted.Value())}
	}

	var exc *goja.Exception
	if errors.As(err, &exc) {
		out := &ScriptError{Type: ErrorTypeRuntime, Message: exceptionMessage(exc), Stack: exc.String()}
		msg := strings.ToLower(out.Message)
		switch {
		case strings.Contains(msg, "syntaxerror"):
			out.Type = ErrorTypeSyntax
		case strings.Contains(msg, "not allowed"):
			out.Type = ErrorTypeSecurity
		}
		return out
	}

	return &ScriptError{Type: ErrorTypeInternal, Message: err.Error()}
}

// exceptionMessage prefers the thrown value's own string form, so
// `throw new Error("x")` reads "Error: x" without the stack.
func exceptionMessage(exc *goja.Exception) string {
	if v := exc.Value(); v != nil && !goja.IsUndefined(v) && !goja.IsNull(v) {
		return v.String()
	}
	return exc.Error()
}
