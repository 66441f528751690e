// Package script provides the "Run Code" action: JavaScript executed in a
// pooled, sandboxed goja runtime.
package script

import (
	"context"
	"fmt"
	"time"

	"github.com/wehubfusion/Daedalus/pkg/actions"
	"go.uber.org/zap"
)

// ActionID is the action type handled by this package.
const ActionID = "Run Code"

const (
	defaultTimeout = 5000 * time.Millisecond
	maxTimeout     = 5 * time.Minute
)

// reservedKeys are config fields that are not passed to the script.
var reservedKeys = map[string]struct{}{
	"code":          {},
	"timeoutMs":     {},
	"actionType":    {},
	"integrationId": {},
}

// Runner executes scripts on a VMPool.
type Runner struct {
	pool   *VMPool
	logger *zap.Logger
}

// NewRunner creates a runner with its own pool.
func NewRunner(cfg PoolConfig, logger *zap.Logger) (*Runner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pool, err := NewVMPool(cfg)
	if err != nil {
		return nil, err
	}
	return &Runner{pool: pool, logger: logger}, nil
}

// Close releases the pool.
func (r *Runner) Close() error {
	return r.pool.Close()
}

// Action returns the registrable "Run Code" action.
func (r *Runner) Action() actions.Action {
	return actions.Action{
		ID:          ActionID,
		Label:       ActionID,
		Category:    "Script",
		Description: "Run JavaScript against the node's config; `return` sets the result",
		Step:        r.step,
	}
}

func (r *Runner) step(ctx context.Context, in actions.StepInput) (actions.StepResult, error) {
	code := in.String("code")
	if code == "" {
		return actions.Failure("Validation failed: code: Code is required", nil), nil
	}
	ms, err := in.Int("timeoutMs", int(defaultTimeout/time.Millisecond))
	if err != nil || ms <= 0 {
		return actions.Failure("Validation failed: timeoutMs: Timeout must be a positive number of milliseconds", nil), nil
	}
	timeout := time.Duration(ms) * time.Millisecond
	if timeout > maxTimeout {
		timeout = maxTimeout
	}

	input := make(map[string]any, len(in.Config))
	for k, v := range in.Config {
		if _, skip := reservedKeys[k]; !skip {
			input[k] = v
		}
	}

	result, logs, err := r.Run(ctx, code, input, timeout)
	if err != nil {
		r.logger.Debug("Script failed",
			zap.String("node_id", in.Context.NodeID),
			zap.Error(err))
		return actions.Failure(fmt.Sprintf("Script error: %s", err.Error()), map[string]any{"logs": logs}), nil
	}
	return actions.Success(map[string]any{"result": result, "logs": logs}), nil
}

// Run executes code as the body of a function receiving input. The value
// of its return statement is exported to Go; console output is returned
// as log lines either way.
func (r *Runner) Run(ctx context.Context, code string, input map[string]any, timeout time.Duration) (result any, logs []any, err error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	vm, err := r.pool.Acquire(runCtx)
	if err != nil {
		return nil, []any{}, &ScriptError{Type: ErrorTypeInternal, Message: fmt.Sprintf("failed to acquire VM: %v", err)}
	}

	out := &console{}
	interrupted := make(chan struct{})
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		select {
		case <-runCtx.Done():
			vm.vm.Interrupt(fmt.Sprintf("execution timeout after %dms", timeout.Milliseconds()))
			close(interrupted)
		case <-done:
		}
	}()

	defer func() {
		close(done)
		<-stopped
		wasInterrupted := false
		select {
		case <-interrupted:
			wasInterrupted = true
		default:
		}
		if rec := recover(); rec != nil {
			err = &ScriptError{Type: ErrorTypeInternal, Message: fmt.Sprintf("panic during execution: %v", rec)}
			wasInterrupted = true
		}
		r.pool.Release(vm, wasInterrupted)
		logs = out.logs()
	}()

	if err := out.install(vm.vm); err != nil {
		return nil, nil, classify(err)
	}
	if err := vm.vm.Set("input", input); err != nil {
		return nil, nil, classify(err)
	}

	value, err := vm.vm.RunString("(function(input) {\n" + code + "\n})(input)")
	if err != nil {
		return nil, nil, classify(err)
	}
	if value == nil {
		return nil, nil, nil
	}
	return value.Export(), nil, nil
}
