package workflow

import (
	"time"

	"github.com/wehubfusion/Daedalus/pkg/callback"
	"github.com/wehubfusion/Daedalus/pkg/concurrency"
	"github.com/wehubfusion/Daedalus/pkg/condition"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithReporter sets the trigger/completion collaborator.
func WithReporter(r callback.Reporter) Option {
	return func(e *Engine) {
		if r != nil {
			e.reporter = r
		}
	}
}

// WithTracer overrides the tracer used for run and node spans. Defaults to
// the global provider's "daedalus/workflow" tracer.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithLimiter bounds concurrent step invocations across all runs of the
// engine. Without a limiter steps are called directly; Condition steps
// always are.
func WithLimiter(l *concurrency.Limiter) Option {
	return func(e *Engine) {
		e.limiter = l
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m MetricsCollector) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithEvaluator replaces the condition evaluator.
func WithEvaluator(ev *condition.Evaluator) Option {
	return func(e *Engine) {
		if ev != nil {
			e.evaluator = ev
		}
	}
}

// WithReportTimeout bounds each reporter call. Defaults to 5 seconds.
func WithReportTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.reportTimeout = d
		}
	}
}
