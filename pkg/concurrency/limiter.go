package concurrency

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// ErrCircuitOpen is returned by Do while the scope's circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Metrics tracks limiter usage
type Metrics struct {
	TotalAcquired   int64
	TotalReleased   int64
	PeakConcurrent  int64
	TotalWaitTimeNs int64
}

// Limiter is a semaphore bounding concurrent step invocations, with circuit
// breakers that reject new work for a scope after repeated failures.
//
// A slot is held only for the duration of one step call. Graph recursion
// never happens while a slot is held, so nested fan-out cannot deadlock.
// Breakers are kept per scope, typically one integration of one action, so a
// failing integration never blocks unrelated steps.
type Limiter struct {
	sem     chan struct{}
	active  int64
	metrics Metrics

	newBreaker func() *CircuitBreaker
	mu         sync.Mutex
	breakers   map[string]*CircuitBreaker
}

// NewLimiter creates a limiter whose scopes get the default breaker (100
// consecutive failures, 30s reset).
func NewLimiter(maxConcurrent int) *Limiter {
	return NewLimiterWithBreakers(maxConcurrent, func() *CircuitBreaker {
		return NewCircuitBreaker(100, 30*time.Second)
	})
}

// NewLimiterWithBreakers creates a limiter that builds one breaker per scope
// with newBreaker. A nil newBreaker disables circuit breaking.
func NewLimiterWithBreakers(maxConcurrent int, newBreaker func() *CircuitBreaker) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Limiter{
		sem:        make(chan struct{}, maxConcurrent),
		newBreaker: newBreaker,
		breakers:   make(map[string]*CircuitBreaker),
	}
}

// Breaker returns the breaker for scope, creating it on first use. It is nil
// when circuit breaking is disabled.
func (l *Limiter) Breaker(scope string) *CircuitBreaker {
	if l.newBreaker == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	cb, ok := l.breakers[scope]
	if !ok {
		cb = l.newBreaker()
		l.breakers[scope] = cb
	}
	return cb
}

// Acquire waits for a free slot and returns ctx.Err() when the context ends
// first.
func (l *Limiter) Acquire(ctx context.Context) error {
	start := time.Now()
	select {
	case l.sem <- struct{}{}:
		atomic.AddInt64(&l.metrics.TotalWaitTimeNs, time.Since(start).Nanoseconds())
		atomic.AddInt64(&l.metrics.TotalAcquired, 1)
		l.updatePeak(atomic.AddInt64(&l.active, 1))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a slot to the limiter
func (l *Limiter) Release() {
	select {
	case <-l.sem:
		atomic.AddInt64(&l.active, -1)
		atomic.AddInt64(&l.metrics.TotalReleased, 1)
	default:
	}
}

// Do runs fn synchronously inside a slot and feeds its error to the breaker
// of scope. It returns ErrCircuitOpen without running fn while that breaker
// is open, otherwise fn's own error or the reason no slot was granted.
func (l *Limiter) Do(ctx context.Context, scope string, fn func() error) error {
	cb := l.Breaker(scope)
	if cb != nil && cb.IsOpen() {
		return ErrCircuitOpen
	}
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()

	err := fn()
	if cb != nil {
		if err != nil {
			cb.RecordFailure()
		} else {
			cb.RecordSuccess()
		}
	}
	return err
}

// CurrentActive returns the number of slots in use
func (l *Limiter) CurrentActive() int64 {
	return atomic.LoadInt64(&l.active)
}

// GetMetrics returns a snapshot of the limiter metrics
func (l *Limiter) GetMetrics() Metrics {
	return Metrics{
		TotalAcquired:   atomic.LoadInt64(&l.metrics.TotalAcquired),
		TotalReleased:   atomic.LoadInt64(&l.metrics.TotalReleased),
		PeakConcurrent:  atomic.LoadInt64(&l.metrics.PeakConcurrent),
		TotalWaitTimeNs: atomic.LoadInt64(&l.metrics.TotalWaitTimeNs),
	}
}

// GetAverageWaitTime is the mean time spent waiting for a slot
func (l *Limiter) GetAverageWaitTime() time.Duration {
	m := l.GetMetrics()
	if m.TotalAcquired == 0 {
		return 0
	}
	return time.Duration(m.TotalWaitTimeNs / m.TotalAcquired)
}

func (l *Limiter) updatePeak(current int64) {
	for {
		peak := atomic.LoadInt64(&l.metrics.PeakConcurrent)
		if current <= peak {
			return
		}
		if atomic.CompareAndSwapInt64(&l.metrics.PeakConcurrent, peak, current) {
			return
		}
	}
}

// CircuitBreakerState reports "open", "closed" or "half-open" for scope;
// "disabled" when the limiter has no breakers.
func (l *Limiter) CircuitBreakerState(scope string) string {
	cb := l.Breaker(scope)
	if cb == nil {
		return "disabled"
	}
	cb.IsOpen()
	return cb.GetState().String()
}

// OpenCircuits lists the scopes whose breaker currently rejects work.
func (l *Limiter) OpenCircuits() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var open []string
	for scope, cb := range l.breakers {
		if cb.IsOpen() {
			open = append(open, scope)
		}
	}
	sort.Strings(open)
	return open
}
