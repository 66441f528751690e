package actions

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// System action identifiers. They are listed, in this order, in the error
// returned for unknown action types.
const (
	DatabaseQuery = "Database Query"
	HTTPRequest   = "HTTP Request"
	Condition     = "Condition"
)

// SystemActions are the built-in action types that do not come from a plugin.
var SystemActions = []string{DatabaseQuery, HTTPRequest, Condition}

// StepContext identifies the node a step runs for. It is used for logging
// and tracing only.
type StepContext struct {
	ExecutionID string `json:"executionId,omitempty"`
	WorkflowID  string `json:"workflowId,omitempty"`
	NodeID      string `json:"nodeId"`
	NodeName    string `json:"nodeName"`
	NodeType    string `json:"nodeType"`
}

// StepInput is what every step receives: the node's template-resolved
// config and its logging context. Credentials are never part of the input;
// steps look them up from IntegrationID through a credentials.Fetcher.
type StepInput struct {
	Config        map[string]any
	IntegrationID string
	Context       StepContext
}

// NewStepInput builds a StepInput from processed config, lifting the
// integrationId reference out of the config bag.
func NewStepInput(config map[string]any, sc StepContext) StepInput {
	in := StepInput{Config: config, Context: sc}
	if id, ok := config["integrationId"].(string); ok {
		in.IntegrationID = id
	}
	return in
}

// String returns a string config value, or "" when absent or not a string.
func (in StepInput) String(key string) string {
	if v, ok := in.Config[key].(string); ok {
		return v
	}
	return ""
}

// StringWithDefault returns a non-empty string config value or def.
func (in StepInput) StringWithDefault(key, def string) string {
	if v := in.String(key); v != "" {
		return v
	}
	return def
}

// Int returns an integer config value. Numeric strings are accepted since
// templated fields always arrive as strings.
func (in StepInput) Int(key string, def int) (int, error) {
	v, ok := in.Config[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("%s: expected an integer, got %v", key, n)
		}
		return int(n), nil
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return def, nil
		}
		i, err := strconv.Atoi(s)
		if err != nil {
			return 0, fmt.Errorf("%s: expected an integer, got %q", key, n)
		}
		return i, nil
	}
	return 0, fmt.Errorf("%s: expected an integer, got %T", key, v)
}

// Bool returns a boolean config value; "true" strings count as true.
func (in StepInput) Bool(key string) bool {
	switch b := in.Config[key].(type) {
	case bool:
		return b
	case string:
		return strings.EqualFold(strings.TrimSpace(b), "true")
	}
	return false
}

// StepResult is the uniform step outcome: a field bag carrying "success"
// and, on failure, "error". The whole bag becomes the node's output data
// on success.
type StepResult map[string]any

// Success builds a successful result from fields.
func Success(fields map[string]any) StepResult {
	r := make(StepResult, len(fields)+1)
	for k, v := range fields {
		r[k] = v
	}
	r["success"] = true
	return r
}

// Failure builds a failed result carrying msg and any extra fields.
func Failure(msg string, fields map[string]any) StepResult {
	r := make(StepResult, len(fields)+2)
	for k, v := range fields {
		r[k] = v
	}
	r["success"] = false
	r["error"] = msg
	return r
}

// Failed reports whether the result explicitly carries success == false.
func (r StepResult) Failed() bool {
	ok, present := r["success"].(bool)
	return present && !ok
}

// ErrorMessage returns the "error" field, if it is a string.
func (r StepResult) ErrorMessage() string {
	if s, ok := r["error"].(string); ok {
		return s
	}
	return ""
}

// StepFunc is the statically typed entry point of an action. A returned
// error is treated as an unexpected failure; expected failures are
// reported through Failure.
type StepFunc func(ctx context.Context, in StepInput) (StepResult, error)

// Action describes one registered action type.
type Action struct {
	// ID is the action type referenced by node config (actionType).
	ID string
	// Label is the human readable name used when a node has no label.
	Label string
	// Category groups actions by integration, e.g. "Redis".
	Category string
	// Description is shown by the CLI.
	Description string
	// Step runs the action.
	Step StepFunc
}

// FieldError is one failed input check of a step.
type FieldError struct {
	Field   string
	Message string
}

// ValidationFailure reports input errors as
// "Validation failed: field: message, field: message".
func ValidationFailure(errs ...FieldError) StepResult {
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = e.Field + ": " + e.Message
	}
	return Failure("Validation failed: "+strings.Join(parts, ", "), nil)
}
