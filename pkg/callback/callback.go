// Package callback implements the collaborator the engine reports to: it
// materializes trigger events and records whole-run completions. Reporters
// log through zap, publish to NATS JetStream and capture failures in Sentry.
package callback

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Status of a finished workflow run
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// TriggerEvent is emitted when a trigger node fires.
type TriggerEvent struct {
	ExecutionID string         `json:"executionId,omitempty"`
	WorkflowID  string         `json:"workflowId,omitempty"`
	NodeID      string         `json:"nodeId"`
	NodeName    string         `json:"nodeName"`
	TriggerType string         `json:"triggerType,omitempty"`
	Data        map[string]any `json:"data"`
}

// Completion summarizes a finished run. Output is the data of the last
// recorded node result and Error the first recorded failure.
type Completion struct {
	ExecutionID string        `json:"executionId"`
	WorkflowID  string        `json:"workflowId,omitempty"`
	Status      Status        `json:"status"`
	Output      any           `json:"output,omitempty"`
	Error       string        `json:"error,omitempty"`
	StartTime   time.Time     `json:"startTime"`
	Duration    time.Duration `json:"duration"`

	// Results holds every recorded node result by node id.
	Results map[string]NodeResult `json:"results,omitempty"`
}

// NodeResult is the recorded outcome of one node.
type NodeResult struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Reporter receives trigger events and run completions. Implementations
// must be safe for concurrent use.
type Reporter interface {
	Trigger(ctx context.Context, event TriggerEvent) error
	Complete(ctx context.Context, c Completion) error
}

// NopReporter discards everything.
type NopReporter struct{}

var _ Reporter = NopReporter{}

func (NopReporter) Trigger(context.Context, TriggerEvent) error { return nil }
func (NopReporter) Complete(context.Context, Completion) error  { return nil }

// LogReporter writes events to a zap logger.
type LogReporter struct {
	logger *zap.Logger
}

var _ Reporter = (*LogReporter)(nil)

// NewLogReporter creates a reporter logging to logger.
func NewLogReporter(logger *zap.Logger) *LogReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogReporter{logger: logger}
}

// Trigger logs the trigger node and its payload keys. Payload values are
// not logged.
func (r *LogReporter) Trigger(_ context.Context, e TriggerEvent) error {
	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		keys = append(keys, k)
	}
	r.logger.Info("Trigger fired",
		zap.String("execution_id", e.ExecutionID),
		zap.String("workflow_id", e.WorkflowID),
		zap.String("node_id", e.NodeID),
		zap.String("node_name", e.NodeName),
		zap.String("trigger_type", e.TriggerType),
		zap.Strings("payload_keys", keys))
	return nil
}

// Complete logs the run summary at info level, or error level for failures.
func (r *LogReporter) Complete(_ context.Context, c Completion) error {
	fields := []zap.Field{
		zap.String("execution_id", c.ExecutionID),
		zap.String("workflow_id", c.WorkflowID),
		zap.String("status", string(c.Status)),
		zap.Time("start_time", c.StartTime),
		zap.Duration("duration", c.Duration),
	}
	if c.Status == StatusError {
		r.logger.Error("Workflow run failed", append(fields, zap.String("error", c.Error))...)
		return nil
	}
	r.logger.Info("Workflow run completed", fields...)
	return nil
}

// MultiReporter fans every call out to several reporters. All reporters are
// called even when some fail; the errors are joined.
type MultiReporter []Reporter

var _ Reporter = MultiReporter(nil)

func (m MultiReporter) Trigger(ctx context.Context, e TriggerEvent) error {
	var errs []error
	for _, r := range m {
		if err := r.Trigger(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiReporter) Complete(ctx context.Context, c Completion) error {
	var errs []error
	for _, r := range m {
		if err := r.Complete(ctx, c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
