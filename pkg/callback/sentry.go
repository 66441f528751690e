package callback

import (
	"context"
	"errors"
	"time"

	"github.com/getsentry/sentry-go"
)

// SentryReporter captures failed runs as Sentry events. Trigger events and
// successful completions are ignored.
type SentryReporter struct {
	hub          *sentry.Hub
	flushTimeout time.Duration
}

var _ Reporter = (*SentryReporter)(nil)

// NewSentryReporter creates a reporter on its own hub for the given client.
func NewSentryReporter(client *sentry.Client) *SentryReporter {
	return &SentryReporter{
		hub:          sentry.NewHub(client, sentry.NewScope()),
		flushTimeout: 2 * time.Second,
	}
}

// NewSentryReporterFromOptions initializes a Sentry client from options.
func NewSentryReporterFromOptions(opts sentry.ClientOptions) (*SentryReporter, error) {
	client, err := sentry.NewClient(opts)
	if err != nil {
		return nil, err
	}
	return NewSentryReporter(client), nil
}

func (r *SentryReporter) Trigger(context.Context, TriggerEvent) error { return nil }

// Complete captures a failed run with its ids as tags.
func (r *SentryReporter) Complete(ctx context.Context, c Completion) error {
	if c.Status != StatusError {
		return nil
	}

	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("execution_id", c.ExecutionID)
		if c.WorkflowID != "" {
			scope.SetTag("workflow_id", c.WorkflowID)
		}
		scope.SetContext("workflow_run", sentry.Context{
			"start_time":  c.StartTime.Format(time.RFC3339Nano),
			"duration_ms": c.Duration.Milliseconds(),
		})
		scope.SetLevel(sentry.LevelError)
		msg := c.Error
		if msg == "" {
			msg = "workflow run failed"
		}
		r.hub.CaptureException(errors.New(msg))
	})

	flushCtx, cancel := context.WithTimeout(ctx, r.flushTimeout)
	defer cancel()
	if deadline, ok := flushCtx.Deadline(); ok {
		r.hub.Flush(time.Until(deadline))
	}
	return nil
}
