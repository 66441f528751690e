package workflow

import (
	"sync/atomic"
	"time"
)

// Metrics is a snapshot of engine counters.
type Metrics struct {
	Runs             int64
	FailedRuns       int64
	NodesExecuted    int64
	NodesFailed      int64
	NodesSkipped     int64
	NodesDisabled    int64
	ProcessingTimeNs int64
}

// MetricsCollector receives engine counters. Implementations must be safe
// for concurrent use.
type MetricsCollector interface {
	RecordRun(success bool)
	RecordNode(durationNs int64, success bool)
	RecordSkipped()
	RecordDisabled()
	GetMetrics() Metrics
	Reset()
}

// DefaultMetricsCollector is a lock-free MetricsCollector.
type DefaultMetricsCollector struct {
	runs        atomic.Int64
	failedRuns  atomic.Int64
	executed    atomic.Int64
	failed      atomic.Int64
	skipped     atomic.Int64
	disabled    atomic.Int64
	processTime atomic.Int64
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *DefaultMetricsCollector {
	return &DefaultMetricsCollector{}
}

// RecordRun records a finished run.
func (m *DefaultMetricsCollector) RecordRun(success bool) {
	m.runs.Add(1)
	if !success {
		m.failedRuns.Add(1)
	}
}

// RecordNode records an executed node and its duration.
func (m *DefaultMetricsCollector) RecordNode(durationNs int64, success bool) {
	m.executed.Add(1)
	m.processTime.Add(durationNs)
	if !success {
		m.failed.Add(1)
	}
}

// RecordSkipped records a node skipped as already visited or claimed.
func (m *DefaultMetricsCollector) RecordSkipped() {
	m.skipped.Add(1)
}

// RecordDisabled records a disabled node passed through.
func (m *DefaultMetricsCollector) RecordDisabled() {
	m.disabled.Add(1)
}

// GetMetrics returns the current metrics.
func (m *DefaultMetricsCollector) GetMetrics() Metrics {
	return Metrics{
		Runs:             m.runs.Load(),
		FailedRuns:       m.failedRuns.Load(),
		NodesExecuted:    m.executed.Load(),
		NodesFailed:      m.failed.Load(),
		NodesSkipped:     m.skipped.Load(),
		NodesDisabled:    m.disabled.Load(),
		ProcessingTimeNs: m.processTime.Load(),
	}
}

// Reset zeroes every counter.
func (m *DefaultMetricsCollector) Reset() {
	m.runs.Store(0)
	m.failedRuns.Store(0)
	m.executed.Store(0)
	m.failed.Store(0)
	m.skipped.Store(0)
	m.disabled.Store(0)
	m.processTime.Store(0)
}

// AverageNodeTime returns the mean node execution time.
func (m *DefaultMetricsCollector) AverageNodeTime() time.Duration {
	executed := m.executed.Load()
	if executed == 0 {
		return 0
	}
	return time.Duration(m.processTime.Load() / executed)
}

// ErrorRate returns the percentage of executed nodes that failed.
func (m *DefaultMetricsCollector) ErrorRate() float64 {
	executed := m.executed.Load()
	if executed == 0 {
		return 0
	}
	return float64(m.failed.Load()) / float64(executed) * 100
}

var _ MetricsCollector = (*DefaultMetricsCollector)(nil)

// NoOpMetricsCollector discards all counters.
type NoOpMetricsCollector struct{}

func (NoOpMetricsCollector) RecordRun(bool)         {}
func (NoOpMetricsCollector) RecordNode(int64, bool) {}
func (NoOpMetricsCollector) RecordSkipped()         {}
func (NoOpMetricsCollector) RecordDisabled()        {}
func (NoOpMetricsCollector) GetMetrics() Metrics    { return Metrics{} }
func (NoOpMetricsCollector) Reset()                 {}

var _ MetricsCollector = NoOpMetricsCollector{}
