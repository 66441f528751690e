package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wehubfusion/Daedalus/pkg/actions"
	"github.com/wehubfusion/Daedalus/pkg/concurrency"
	"github.com/wehubfusion/Daedalus/pkg/template"
	"go.uber.org/zap"
)

// executeAction resolves templates in the node config, runs the action and
// interprets its result. A Go error from the step is treated like a panic:
// the result is recorded without an output entry and the path stops.
func (r *run) executeAction(ctx context.Context, node *Node, name string) outcome {
	actionType, _ := node.Config["actionType"].(string)
	if actionType == "" {
		return outcome{
			result: failed(fmt.Sprintf("Action node %q has no action type configured", node.displayLabel())),
			abort:  true,
		}
	}

	processed := template.ProcessConfig(node.Config, r.outputs)
	sc := actions.StepContext{
		ExecutionID: r.input.ExecutionID,
		WorkflowID:  r.input.WorkflowID,
		NodeID:      node.ID,
		NodeName:    name,
		NodeType:    string(node.Type),
	}

	stepResult, err := r.engine.invokeAction(ctx, actionType, processed, sc, r.outputs)
	if err != nil {
		return outcome{result: failed(err.Error()), abort: true}
	}

	gate := actionType == actions.Condition
	if stepResult.Failed() {
		msg := stepResult.ErrorMessage()
		if msg == "" {
			msg = fmt.Sprintf("Step \"%s\" in node \"%s\" failed without a specific error message.", actionType, node.displayLabel())
		}
		return outcome{result: failed(msg), gate: gate}
	}

	var data any
	if stepResult != nil {
		data = map[string]any(stepResult)
	}
	return outcome{result: ExecutionResult{Success: true, Data: data}, gate: gate}
}

// invokeAction resolves actionType and calls its step. Condition actions
// are evaluated here and their step receives only the boolean outcome.
// Steps never receive credentials, only the integration id.
func (e *Engine) invokeAction(ctx context.Context, actionType string, config map[string]any, sc actions.StepContext, src template.Source) (actions.StepResult, error) {
	if actionType == actions.Condition {
		pass := e.evaluator.Evaluate(config[template.ConditionKey], src)
		e.logger.Debug("Condition evaluated",
			zap.String("node_id", sc.NodeID),
			zap.Bool("result", pass))

		in := actions.StepInput{Config: map[string]any{"condition": pass}, Context: sc}
		action, ok := e.registry.Lookup(actions.Condition)
		if !ok {
			action = actions.Action{ID: actions.Condition, Label: actions.Condition, Step: passCondition}
		}
		return e.callStep(ctx, action, in, false)
	}

	action, ok := e.registry.Lookup(actionType)
	if !ok {
		return actions.Failure(fmt.Sprintf(
			"Unknown action type: \"%s\". This action is not registered in the plugin system. Available system actions: %s.",
			actionType, strings.Join(actions.SystemActions, ", ")), nil), nil
	}
	return e.callStep(ctx, action, actions.NewStepInput(config, sc), true)
}

// passCondition is the Condition step used when none is registered.
func passCondition(_ context.Context, in actions.StepInput) (actions.StepResult, error) {
	return actions.StepResult{"condition": in.Bool("condition")}, nil
}

// callStep invokes a step and logs its context and duration. The config is
// never logged since it may carry secrets. Limited steps run through the
// limiter, whose breaker for the action and integration counts only Go
// errors; a step that reports success:false is a healthy call. A rejected
// call is a failed step result, contained like any other node failure.
func (e *Engine) callStep(ctx context.Context, action actions.Action, in actions.StepInput, limited bool) (actions.StepResult, error) {
	fields := []zap.Field{
		zap.String("execution_id", in.Context.ExecutionID),
		zap.String("node_id", in.Context.NodeID),
		zap.String("node_name", in.Context.NodeName),
		zap.String("action", action.ID),
	}
	e.logger.Debug("Step started", fields...)
	start := time.Now()

	var (
		res     actions.StepResult
		stepErr error
	)
	call := func() error {
		res, stepErr = action.Step(ctx, in)
		return stepErr
	}

	if e.limiter == nil || !limited {
		_ = call()
	} else if err := e.limiter.Do(ctx, breakerScope(action.ID, in.IntegrationID), call); err != nil && stepErr == nil {
		if errors.Is(err, concurrency.ErrCircuitOpen) {
			res = actions.Failure(fmt.Sprintf("Step %q was not started: %v", action.ID, err), nil)
		} else {
			stepErr = fmt.Errorf("step %q was not started: %w", action.ID, err)
		}
	}

	fields = append(fields, zap.Duration("duration", time.Since(start)))
	switch {
	case stepErr != nil:
		e.logger.Warn("Step returned an error", append(fields, zap.Error(stepErr))...)
	case res.Failed():
		e.logger.Info("Step failed", append(fields, zap.String("error", res.ErrorMessage()))...)
	default:
		e.logger.Debug("Step completed", fields...)
	}
	return res, stepErr
}

// breakerScope keys circuit breakers by action and integration.
func breakerScope(actionID, integrationID string) string {
	if integrationID == "" {
		return actionID
	}
	return actionID + "/" + integrationID
}
