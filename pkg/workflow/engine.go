package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wehubfusion/Daedalus/pkg/actions"
	"github.com/wehubfusion/Daedalus/pkg/callback"
	"github.com/wehubfusion/Daedalus/pkg/concurrency"
	"github.com/wehubfusion/Daedalus/pkg/condition"
	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Engine executes workflow graphs. One engine serves any number of
// concurrent runs.
type Engine struct {
	registry      *actions.Registry
	evaluator     *condition.Evaluator
	reporter      callback.Reporter
	limiter       *concurrency.Limiter
	metrics       MetricsCollector
	tracer        trace.Tracer
	logger        *zap.Logger
	reportTimeout time.Duration
}

// NewEngine creates an engine dispatching actions through registry.
func NewEngine(registry *actions.Registry, opts ...Option) (*Engine, error) {
	if registry == nil {
		return nil, errors.New("action registry cannot be nil")
	}

	e := &Engine{
		registry:      registry,
		reporter:      callback.NopReporter{},
		metrics:       NoOpMetricsCollector{},
		tracer:        otel.Tracer("daedalus/workflow"),
		logger:        zap.NewNop(),
		reportTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.evaluator == nil {
		e.evaluator = condition.NewEvaluator(e.logger)
	}
	return e, nil
}

// Metrics returns the engine's metrics collector.
func (e *Engine) Metrics() MetricsCollector {
	return e.metrics
}

// run is the state of one execution. Stores and sets are shared by every
// goroutine of the run.
type run struct {
	engine     *Engine
	input      ExecutionInput
	nodes      map[string]*Node
	successors map[string][]string
	results    *resultStore
	outputs    *outputStore
	logger     *zap.Logger

	// background tracks every parallel branch goroutine, including losers
	// of race and any joins that outlive their parallel node.
	background sync.WaitGroup
}

// Validate checks a graph for structural problems that would make a run
// meaningless: missing or duplicate node ids and edges to unknown nodes.
func Validate(nodes []Node, edges []Edge) error {
	var errs []error
	seen := make(map[string]bool, len(nodes))
	for i := range nodes {
		id := nodes[i].ID
		if id == "" {
			errs = append(errs, fmt.Errorf("node %d has no id", i))
			continue
		}
		if seen[id] {
			errs = append(errs, fmt.Errorf("duplicate node id %q", id))
		}
		seen[id] = true
	}
	for _, edge := range edges {
		if !seen[edge.Source] {
			errs = append(errs, fmt.Errorf("edge source %q is not a node", edge.Source))
		}
		if !seen[edge.Target] {
			errs = append(errs, fmt.Errorf("edge target %q is not a node", edge.Target))
		}
	}
	if len(errs) > 0 {
		return sdkerrors.NewError(sdkerrors.CodeInvalidWorkflow, errors.Join(errs...).Error(), sdkerrors.ErrInvalidWorkflow)
	}
	return nil
}

// Execute runs the workflow to completion and returns its outcome. Node
// failures never surface as Go errors; they are recorded in the output.
func (e *Engine) Execute(ctx context.Context, input ExecutionInput) *ExecutionOutput {
	r := &run{
		engine:     e,
		input:      input,
		nodes:      make(map[string]*Node, len(input.Nodes)),
		successors: make(map[string][]string),
		results:    newResultStore(),
		outputs:    newOutputStore(),
		logger: e.logger.With(
			zap.String("execution_id", input.ExecutionID),
			zap.String("workflow_id", input.WorkflowID)),
	}
	for i := range input.Nodes {
		r.nodes[input.Nodes[i].ID] = &input.Nodes[i]
	}
	hasIncoming := make(map[string]bool)
	for _, edge := range input.Edges {
		r.successors[edge.Source] = append(r.successors[edge.Source], edge.Target)
		hasIncoming[edge.Target] = true
	}
	var roots []string
	for i := range input.Nodes {
		n := &input.Nodes[i]
		if n.Type == NodeTrigger && !hasIncoming[n.ID] {
			roots = append(roots, n.ID)
		}
	}

	ctx, span := e.tracer.Start(ctx, "workflow.execute",
		trace.WithAttributes(
			attribute.String("workflow.execution_id", input.ExecutionID),
			attribute.String("workflow.id", input.WorkflowID),
			attribute.Int("workflow.node_count", len(input.Nodes)),
			attribute.Int("workflow.edge_count", len(input.Edges)),
			attribute.Int("workflow.trigger_count", len(roots)),
		))
	defer span.End()

	r.logger.Info("Starting workflow execution",
		zap.Int("node_count", len(input.Nodes)),
		zap.Int("edge_count", len(input.Edges)),
		zap.Int("trigger_count", len(roots)))

	start := time.Now()
	fatal := r.executeRoots(ctx, roots)

	out := &ExecutionOutput{run: r}
	out.Results, out.Order = r.results.snapshot()
	out.Outputs = r.outputs.snapshot()

	completion := callback.Completion{
		ExecutionID: input.ExecutionID,
		WorkflowID:  input.WorkflowID,
		StartTime:   start,
		Results:     make(map[string]callback.NodeResult, len(out.Results)),
	}
	for id, res := range out.Results {
		completion.Results[id] = callback.NodeResult{Success: res.Success, Data: res.Data, Error: res.Error}
	}
	if fatal != "" {
		r.logger.Error("Fatal error during workflow execution", zap.String("error", fatal))
		out.Success = false
		out.Error = fatal
		completion.Status = callback.StatusError
		completion.Error = fatal
		span.SetStatus(codes.Error, fatal)
	} else {
		success, last, firstErr := r.results.summary()
		out.Success = success
		completion.Output = last
		completion.Error = firstErr
		if success {
			completion.Status = callback.StatusSuccess
			span.SetStatus(codes.Ok, "workflow completed")
		} else {
			completion.Status = callback.StatusError
			span.SetStatus(codes.Error, firstErr)
		}
	}
	completion.Duration = time.Since(start)
	span.SetAttributes(
		attribute.Bool("workflow.success", out.Success),
		attribute.Int("workflow.result_count", len(out.Results)),
		attribute.Int64("workflow.duration_ms", completion.Duration.Milliseconds()))

	r.logger.Info("Workflow execution completed",
		zap.Bool("success", out.Success),
		zap.Int("result_count", len(out.Results)),
		zap.Duration("duration", completion.Duration))
	e.metrics.RecordRun(out.Success)

	if input.ExecutionID != "" {
		e.complete(completion)
	}
	return out
}

// executeRoots runs every trigger root concurrently and returns the message
// of a panic that escaped node-level recovery, if any.
func (r *run) executeRoots(ctx context.Context, roots []string) string {
	var (
		wg       sync.WaitGroup
		fatalMu  sync.Mutex
		fatalMsg string
	)
	for _, id := range roots {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			defer func() {
				if p := recover(); p != nil {
					fatalMu.Lock()
					if fatalMsg == "" {
						fatalMsg = sdkerrors.Message(p)
					}
					fatalMu.Unlock()
				}
			}()
			r.executeNode(ctx, id, newNodeSet(), nil)
		}(id)
	}
	wg.Wait()
	return fatalMsg
}

// complete reports the run summary. Reporter failures are logged only.
func (e *Engine) complete(c callback.Completion) {
	ctx, cancel := context.WithTimeout(context.Background(), e.reportTimeout)
	defer cancel()
	if err := e.reporter.Complete(ctx, c); err != nil {
		e.logger.Error("Failed to update execution record",
			zap.String("execution_id", c.ExecutionID),
			zap.Error(err))
	}
}

// outcome is what a node-type handler hands back to executeNode.
type outcome struct {
	result ExecutionResult
	// abort records the result without an output entry and stops the path.
	abort bool
	// gate holds successors back unless data.condition is true.
	gate bool
}

// executeNode runs one node and then its successors. visited guards the
// current path against cycles; claimed, when set, is the parallel node's
// de-duplication set for convergence points.
func (r *run) executeNode(ctx context.Context, id string, visited, claimed *nodeSet) {
	defer func() {
		if p := recover(); p != nil {
			if _, tagged := p.(nodePanic); !tagged {
				p = nodePanic{nodeID: id, value: p}
			}
			panic(p)
		}
	}()

	if !visited.claim(id) {
		r.logger.Debug("Node already visited, skipping", zap.String("node_id", id))
		r.engine.metrics.RecordSkipped()
		return
	}
	if claimed != nil && !claimed.claim(id) {
		r.logger.Debug("Node claimed by another branch, skipping", zap.String("node_id", id))
		r.engine.metrics.RecordSkipped()
		return
	}

	node, ok := r.nodes[id]
	if !ok {
		r.logger.Debug("Node not found", zap.String("node_id", id))
		return
	}

	if !node.IsEnabled() {
		r.logger.Debug("Skipping disabled node", zap.String("node_id", id))
		r.engine.metrics.RecordDisabled()
		r.outputs.set(id, NodeOutput{Label: node.displayLabel(), Data: nil})
		r.fanOut(ctx, id, visited, claimed)
		return
	}

	name := r.nodeName(node)
	ctx, span := r.engine.tracer.Start(ctx, "workflow.node",
		trace.WithAttributes(
			attribute.String("node.id", id),
			attribute.String("node.type", string(node.Type)),
			attribute.String("node.name", name),
		))
	start := time.Now()

	out, ok := r.dispatch(ctx, node, name, visited)
	duration := time.Since(start)
	r.engine.metrics.RecordNode(duration.Nanoseconds(), ok && out.result.Success)

	if !ok || out.abort {
		r.results.set(id, out.result)
		r.finishSpan(span, out.result)
		r.logger.Warn("Node execution failed",
			zap.String("node_id", id),
			zap.String("node_name", name),
			zap.String("error", out.result.Error))
		return
	}

	r.results.set(id, out.result)
	r.outputs.set(id, NodeOutput{Label: node.displayLabel(), Data: out.result.Data})
	r.finishSpan(span, out.result)

	r.logger.Info("Node execution completed",
		zap.String("node_id", id),
		zap.String("node_name", name),
		zap.String("node_type", string(node.Type)),
		zap.Bool("success", out.result.Success),
		zap.Duration("duration", duration))

	if !out.result.Success {
		return
	}
	if out.gate {
		data, _ := out.result.Data.(map[string]any)
		if pass, _ := data["condition"].(bool); !pass {
			r.logger.Debug("Condition is false, skipping next nodes", zap.String("node_id", id))
			return
		}
	}
	r.fanOut(ctx, id, visited, claimed)
}

func (r *run) finishSpan(span trace.Span, res ExecutionResult) {
	if !res.Success {
		span.RecordError(errors.New(res.Error))
		span.SetStatus(codes.Error, res.Error)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// fanOut runs every successor of id concurrently and waits for all of them.
func (r *run) fanOut(ctx context.Context, id string, visited, claimed *nodeSet) {
	next := r.successors[id]
	switch len(next) {
	case 0:
		return
	case 1:
		r.executeNode(ctx, next[0], visited, claimed)
		return
	}

	var wg sync.WaitGroup
	for _, target := range next {
		wg.Add(1)
		go func(target string) {
			defer wg.Done()
			defer r.recoverNode(target)
			r.executeNode(ctx, target, visited, claimed)
		}(target)
	}
	wg.Wait()
}

// nodePanic is a panic that escaped node-level handling, tagged with the
// innermost node it was raised under.
type nodePanic struct {
	nodeID string
	value  any
}

func (p nodePanic) Error() string { return sdkerrors.Message(p.value) }

// recoverNode converts a panic that escaped a node goroutine into a failed
// result for the node it was raised under. A node that already recorded its
// result keeps it.
func (r *run) recoverNode(target string) {
	p := recover()
	if p == nil {
		return
	}
	id := target
	if np, ok := p.(nodePanic); ok {
		id = np.nodeID
	}
	msg := sdkerrors.Message(p)
	r.logger.Error("Recovered panic in node goroutine",
		zap.String("node_id", id),
		zap.String("branch_root", target),
		zap.String("error", msg))
	r.results.setIfAbsent(id, failed(msg))
}

// dispatch runs the node's type handler. ok is false when the handler
// panicked; the result then carries the panic message.
func (r *run) dispatch(ctx context.Context, node *Node, name string, visited *nodeSet) (out outcome, ok bool) {
	defer func() {
		if p := recover(); p != nil {
			msg := sdkerrors.Message(p)
			r.logger.Error("Error executing node", zap.String("node_id", node.ID), zap.String("error", msg))
			out = outcome{result: failed(msg)}
			ok = false
		}
	}()

	switch node.Type {
	case NodeTrigger:
		return outcome{result: r.executeTrigger(ctx, node, name)}, true
	case NodeLoop:
		return outcome{result: r.executeLoop(ctx, node, visited)}, true
	case NodeParallel:
		return outcome{result: r.executeParallel(ctx, node, visited)}, true
	case NodeAction:
		return r.executeAction(ctx, node, name), true
	default:
		return outcome{result: failed(fmt.Sprintf(
			"Unknown node type \"%s\" in node \"%s\". Expected \"trigger\" or \"action\".", node.Type, node.displayLabel()))}, true
	}
}

// nodeName is the human readable name used in step contexts and logs.
func (r *run) nodeName(node *Node) string {
	if node.Label != "" {
		return node.Label
	}
	switch node.Type {
	case NodeAction:
		if actionType, _ := node.Config["actionType"].(string); actionType != "" {
			if label := r.engine.registry.Label(actionType); label != "" {
				return label
			}
		}
		return "Action"
	case NodeTrigger:
		if triggerType, _ := node.Config["triggerType"].(string); triggerType != "" {
			return triggerType
		}
		return "Trigger"
	}
	return string(node.Type)
}
