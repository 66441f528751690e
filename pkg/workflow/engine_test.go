package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wehubfusion/Daedalus/pkg/actions"
	"github.com/wehubfusion/Daedalus/pkg/callback"
	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"
)

// calls counts step invocations per node id.
type calls struct {
	mu     sync.Mutex
	counts map[string]int
}

func newCalls() *calls {
	return &calls{counts: make(map[string]int)}
}

func (c *calls) inc(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[id]++
	return c.counts[id]
}

func (c *calls) get(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[id]
}

// testRegistry registers a small set of actions used across engine tests:
//
//	Echo   returns {value: config.value}
//	Fail   returns a failed result with config.message
//	Error  returns a Go error
//	Panic  panics
//	Sleep  waits config.ms milliseconds, then echoes
func testRegistry(t *testing.T, c *calls) *actions.Registry {
	t.Helper()
	reg := actions.NewRegistry()
	reg.MustRegister(actions.Action{ID: "Echo", Step: func(_ context.Context, in actions.StepInput) (actions.StepResult, error) {
		c.inc(in.Context.NodeID)
		return actions.Success(map[string]any{"value": in.Config["value"]}), nil
	}})
	reg.MustRegister(actions.Action{ID: "Fail", Step: func(_ context.Context, in actions.StepInput) (actions.StepResult, error) {
		c.inc(in.Context.NodeID)
		return actions.Failure(in.String("message"), nil), nil
	}})
	reg.MustRegister(actions.Action{ID: "Error", Step: func(_ context.Context, in actions.StepInput) (actions.StepResult, error) {
		c.inc(in.Context.NodeID)
		return nil, errors.New("connection reset")
	}})
	reg.MustRegister(actions.Action{ID: "Panic", Step: func(_ context.Context, in actions.StepInput) (actions.StepResult, error) {
		c.inc(in.Context.NodeID)
		panic("step exploded")
	}})
	reg.MustRegister(actions.Action{ID: "Sleep", Step: func(ctx context.Context, in actions.StepInput) (actions.StepResult, error) {
		ms, err := in.Int("ms", 0)
		if err != nil {
			return nil, err
		}
		select {
		case <-time.After(time.Duration(ms) * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		c.inc(in.Context.NodeID)
		return actions.Success(map[string]any{"value": in.Config["value"]}), nil
	}})
	return reg
}

func newTestEngine(t *testing.T, c *calls, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	e, err := NewEngine(testRegistry(t, c), opts...)
	require.NoError(t, err)
	return e
}

func trigger(id string) Node {
	return Node{ID: id, Type: NodeTrigger, Label: "Trigger", Config: map[string]any{"triggerType": "Manual"}}
}

func action(id, actionType string, config map[string]any) Node {
	cfg := map[string]any{"actionType": actionType}
	for k, v := range config {
		cfg[k] = v
	}
	return Node{ID: id, Type: NodeAction, Config: cfg}
}

func edges(pairs ...string) []Edge {
	out := make([]Edge, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, Edge{Source: pairs[i], Target: pairs[i+1]})
	}
	return out
}

func boolPtr(b bool) *bool { return &b }

// recordingReporter captures reporter calls.
type recordingReporter struct {
	mu          sync.Mutex
	triggers    []callback.TriggerEvent
	completions []callback.Completion
	err         error
}

func (r *recordingReporter) Trigger(_ context.Context, e callback.TriggerEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.triggers = append(r.triggers, e)
	return r.err
}

func (r *recordingReporter) Complete(_ context.Context, c callback.Completion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completions = append(r.completions, c)
	return r.err
}

func TestNewEngineRequiresRegistry(t *testing.T) {
	_, err := NewEngine(nil)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Run("valid graph", func(t *testing.T) {
		err := Validate([]Node{trigger("t"), action("a", "Echo", nil)}, edges("t", "a"))
		assert.NoError(t, err)
	})

	t.Run("structural problems", func(t *testing.T) {
		nodes := []Node{trigger("t"), trigger("t"), {Type: NodeAction}}
		err := Validate(nodes, edges("t", "missing"))
		require.Error(t, err)
		assert.True(t, sdkerrors.HasCode(err, sdkerrors.CodeInvalidWorkflow))
		assert.ErrorIs(t, err, sdkerrors.ErrInvalidWorkflow)
		assert.Contains(t, err.Error(), `duplicate node id "t"`)
		assert.Contains(t, err.Error(), "node 2 has no id")
		assert.Contains(t, err.Error(), `edge target "missing" is not a node`)
	})
}

func TestExecuteResolvesTemplatesFromTriggerInput(t *testing.T) {
	c := newCalls()
	e := newTestEngine(t, c)

	out := e.Execute(context.Background(), ExecutionInput{
		Nodes: []Node{
			trigger("t-1"),
			action("greet", "Echo", map[string]any{"value": "Hello {{@t-1:Trigger.user.name}}"}),
		},
		Edges:        edges("t-1", "greet"),
		TriggerInput: map[string]any{"user": map[string]any{"name": "Ada"}},
	})

	require.True(t, out.Success)
	assert.Equal(t, []string{"t-1", "greet"}, out.Order)

	trig := out.Outputs["t_1"]
	assert.Equal(t, "Trigger", trig.Label)
	data := trig.Data.(map[string]any)
	assert.Equal(t, true, data["triggered"])
	assert.IsType(t, int64(0), data["timestamp"])

	greet := out.Results["greet"].Data.(map[string]any)
	assert.Equal(t, "Hello Ada", greet["value"])
	assert.Equal(t, "greet", out.Outputs["greet"].Label)
}

func TestExecuteWebhookMockRequest(t *testing.T) {
	mockTrigger := Node{ID: "hook", Type: NodeTrigger, Config: map[string]any{
		"triggerType":        "Webhook",
		"webhookMockRequest": `{"orderId": 42}`,
	}}

	t.Run("used without trigger input", func(t *testing.T) {
		out := newTestEngine(t, newCalls()).Execute(context.Background(), ExecutionInput{Nodes: []Node{mockTrigger}})
		data := out.Results["hook"].Data.(map[string]any)
		assert.Equal(t, float64(42), data["orderId"])
	})

	t.Run("ignored when trigger input present", func(t *testing.T) {
		out := newTestEngine(t, newCalls()).Execute(context.Background(), ExecutionInput{
			Nodes:        []Node{mockTrigger},
			TriggerInput: map[string]any{"source": "live"},
		})
		data := out.Results["hook"].Data.(map[string]any)
		assert.NotContains(t, data, "orderId")
		assert.Equal(t, "live", data["source"])
	})

	t.Run("invalid JSON is ignored", func(t *testing.T) {
		bad := mockTrigger
		bad.Config = map[string]any{"triggerType": "Webhook", "webhookMockRequest": "{not json"}
		out := newTestEngine(t, newCalls()).Execute(context.Background(), ExecutionInput{Nodes: []Node{bad}})
		require.True(t, out.Success)
		data := out.Results["hook"].Data.(map[string]any)
		assert.Len(t, data, 2)
	})
}

func TestExecuteCyclesTerminate(t *testing.T) {
	c := newCalls()
	e := newTestEngine(t, c)

	out := e.Execute(context.Background(), ExecutionInput{
		Nodes: []Node{
			trigger("t"),
			action("a", "Echo", nil),
			action("b", "Echo", nil),
			action("self", "Echo", nil),
		},
		Edges: edges("t", "a", "a", "b", "b", "a", "b", "self", "self", "self"),
	})

	require.True(t, out.Success)
	assert.Equal(t, 1, c.get("a"))
	assert.Equal(t, 1, c.get("b"))
	assert.Equal(t, 1, c.get("self"))
	assert.Len(t, out.Results, 4)
}

func TestExecuteDisabledNodePassesThrough(t *testing.T) {
	c := newCalls()
	e := newTestEngine(t, c)

	disabled := action("off", "Echo", nil)
	disabled.Label = "Skipped"
	disabled.Enabled = boolPtr(false)

	out := e.Execute(context.Background(), ExecutionInput{
		Nodes: []Node{
			trigger("t"),
			disabled,
			action("after", "Echo", map[string]any{"value": "[{{@off:Skipped.field}}]"}),
		},
		Edges: edges("t", "off", "off", "after"),
	})

	require.True(t, out.Success)
	assert.Equal(t, 0, c.get("off"))
	assert.NotContains(t, out.Results, "off")
	assert.Equal(t, NodeOutput{Label: "Skipped", Data: nil}, out.Outputs["off"])
	assert.Equal(t, "[]", out.Results["after"].Data.(map[string]any)["value"])
}

func TestExecuteUnresolvedReferenceKeptVerbatim(t *testing.T) {
	out := newTestEngine(t, newCalls()).Execute(context.Background(), ExecutionInput{
		Nodes: []Node{trigger("t"), action("a", "Echo", map[string]any{"value": "{{@ghost:Ghost.x}}"})},
		Edges: edges("t", "a"),
	})
	assert.Equal(t, "{{@ghost:Ghost.x}}", out.Results["a"].Data.(map[string]any)["value"])
}

func TestExecuteConvergenceRunsOnce(t *testing.T) {
	c := newCalls()
	e := newTestEngine(t, c)

	out := e.Execute(context.Background(), ExecutionInput{
		Nodes: []Node{
			trigger("t"),
			action("left", "Echo", nil),
			action("right", "Echo", nil),
			action("join", "Echo", nil),
		},
		Edges: edges("t", "left", "t", "right", "left", "join", "right", "join"),
	})

	require.True(t, out.Success)
	assert.Equal(t, 1, c.get("join"))
}

func TestExecuteFailureStopsOnlyItsPath(t *testing.T) {
	c := newCalls()
	e := newTestEngine(t, c)

	out := e.Execute(context.Background(), ExecutionInput{
		Nodes: []Node{
			trigger("t"),
			action("bad", "Fail", map[string]any{"message": "quota exceeded"}),
			action("after-bad", "Echo", nil),
			action("good", "Echo", nil),
			action("after-good", "Echo", nil),
		},
		Edges: edges("t", "bad", "bad", "after-bad", "t", "good", "good", "after-good"),
	})

	assert.False(t, out.Success)
	assert.Equal(t, "quota exceeded", out.Results["bad"].Error)
	assert.Contains(t, out.Outputs, "bad")
	assert.Nil(t, out.Outputs["bad"].Data)
	assert.Equal(t, 0, c.get("after-bad"))
	assert.Equal(t, 1, c.get("after-good"))
}

func TestExecuteConditionGatesSuccessors(t *testing.T) {
	run := func(t *testing.T, flag any) (*ExecutionOutput, *calls) {
		c := newCalls()
		out := newTestEngine(t, c).Execute(context.Background(), ExecutionInput{
			Nodes: []Node{
				trigger("t"),
				action("check", actions.Condition, map[string]any{"condition": "{{@t:Trigger.flag}} === true"}),
				action("then", "Echo", nil),
			},
			Edges:        edges("t", "check", "check", "then"),
			TriggerInput: map[string]any{"flag": flag},
		})
		return out, c
	}

	t.Run("true continues", func(t *testing.T) {
		out, c := run(t, true)
		require.True(t, out.Success)
		assert.Equal(t, true, out.Results["check"].Data.(map[string]any)["condition"])
		assert.Equal(t, 1, c.get("then"))
	})

	t.Run("false stops without failing", func(t *testing.T) {
		out, c := run(t, false)
		require.True(t, out.Success)
		assert.Equal(t, false, out.Results["check"].Data.(map[string]any)["condition"])
		assert.Equal(t, 0, c.get("then"))
	})

	t.Run("injection attempt fails closed", func(t *testing.T) {
		out, c := run(t, `true; process.exit(1)`)
		require.True(t, out.Success)
		assert.Equal(t, false, out.Results["check"].Data.(map[string]any)["condition"])
		assert.Equal(t, 0, c.get("then"))
	})
}

func TestExecuteConfigurationErrors(t *testing.T) {
	c := newCalls()
	e := newTestEngine(t, c)

	missing := Node{ID: "missing", Type: NodeAction, Label: "Send", Config: map[string]any{}}
	unknownType := Node{ID: "weird", Type: "webhook"}

	out := e.Execute(context.Background(), ExecutionInput{
		Nodes: []Node{
			trigger("t"),
			missing,
			unknownType,
			action("ghost", "Teleport", nil),
			action("after", "Echo", nil),
		},
		Edges: edges("t", "missing", "t", "weird", "t", "ghost", "missing", "after", "weird", "after", "ghost", "after"),
	})

	assert.False(t, out.Success)
	assert.Equal(t, `Action node "Send" has no action type configured`, out.Results["missing"].Error)
	assert.NotContains(t, out.Outputs, "missing")

	assert.Equal(t, `Unknown node type "webhook" in node "weird". Expected "trigger" or "action".`, out.Results["weird"].Error)

	assert.Equal(t,
		`Unknown action type: "Teleport". This action is not registered in the plugin system. Available system actions: Database Query, HTTP Request, Condition.`,
		out.Results["ghost"].Error)

	assert.Equal(t, 0, c.get("after"))
}

func TestExecuteUnexpectedErrorsAreContained(t *testing.T) {
	c := newCalls()
	e := newTestEngine(t, c)

	out := e.Execute(context.Background(), ExecutionInput{
		Nodes: []Node{
			trigger("t"),
			action("err", "Error", nil),
			action("boom", "Panic", nil),
			action("fine", "Echo", nil),
			action("after", "Echo", nil),
		},
		Edges: edges("t", "err", "t", "boom", "t", "fine", "err", "after", "boom", "after"),
	})

	assert.False(t, out.Success)
	assert.Equal(t, "connection reset", out.Results["err"].Error)
	assert.Equal(t, "step exploded", out.Results["boom"].Error)
	assert.NotContains(t, out.Outputs, "err")
	assert.NotContains(t, out.Outputs, "boom")
	assert.True(t, out.Results["fine"].Success)
	assert.Equal(t, 0, c.get("after"))
}

func TestExecuteFailedStepWithoutMessage(t *testing.T) {
	reg := actions.NewRegistry()
	reg.MustRegister(actions.Action{ID: "Quiet", Step: func(context.Context, actions.StepInput) (actions.StepResult, error) {
		return actions.StepResult{"success": false}, nil
	}})
	e, err := NewEngine(reg)
	require.NoError(t, err)

	node := action("q", "Quiet", nil)
	node.Label = "Quiet Node"
	out := e.Execute(context.Background(), ExecutionInput{Nodes: []Node{trigger("t"), node}, Edges: edges("t", "q")})

	assert.Equal(t, `Step "Quiet" in node "Quiet Node" failed without a specific error message.`, out.Results["q"].Error)
}

func TestExecuteReportsTriggerAndCompletion(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		rep := &recordingReporter{}
		e := newTestEngine(t, newCalls(), WithReporter(rep))

		out := e.Execute(context.Background(), ExecutionInput{
			ExecutionID:  "exec-1",
			WorkflowID:   "wf-1",
			Nodes:        []Node{trigger("t"), action("a", "Echo", map[string]any{"value": "done"})},
			Edges:        edges("t", "a"),
			TriggerInput: map[string]any{"k": "v"},
		})
		require.True(t, out.Success)

		require.Len(t, rep.triggers, 1)
		assert.Equal(t, "exec-1", rep.triggers[0].ExecutionID)
		assert.Equal(t, "Manual", rep.triggers[0].TriggerType)
		assert.Equal(t, "v", rep.triggers[0].Data["k"])

		require.Len(t, rep.completions, 1)
		done := rep.completions[0]
		assert.Equal(t, callback.StatusSuccess, done.Status)
		assert.Equal(t, "wf-1", done.WorkflowID)
		assert.Equal(t, "done", done.Output.(map[string]any)["value"])
		assert.Empty(t, done.Error)
		assert.False(t, done.StartTime.IsZero())
	})

	t.Run("failure carries first error", func(t *testing.T) {
		rep := &recordingReporter{}
		e := newTestEngine(t, newCalls(), WithReporter(rep))

		e.Execute(context.Background(), ExecutionInput{
			ExecutionID: "exec-2",
			Nodes:       []Node{trigger("t"), action("a", "Fail", map[string]any{"message": "first"})},
			Edges:       edges("t", "a"),
		})

		require.Len(t, rep.completions, 1)
		assert.Equal(t, callback.StatusError, rep.completions[0].Status)
		assert.Equal(t, "first", rep.completions[0].Error)
	})

	t.Run("no execution id skips completion", func(t *testing.T) {
		rep := &recordingReporter{}
		e := newTestEngine(t, newCalls(), WithReporter(rep))
		e.Execute(context.Background(), ExecutionInput{Nodes: []Node{trigger("t")}})
		assert.Len(t, rep.triggers, 1)
		assert.Empty(t, rep.completions)
	})

	t.Run("reporter errors do not fail the run", func(t *testing.T) {
		rep := &recordingReporter{err: errors.New("unavailable")}
		e := newTestEngine(t, newCalls(), WithReporter(rep))
		out := e.Execute(context.Background(), ExecutionInput{ExecutionID: "exec-3", Nodes: []Node{trigger("t")}})
		assert.True(t, out.Success)
	})
}

func TestExecuteOnlyRootTriggersStart(t *testing.T) {
	c := newCalls()
	out := newTestEngine(t, c).Execute(context.Background(), ExecutionInput{
		Nodes: []Node{trigger("t1"), trigger("t2"), action("a", "Echo", nil), action("orphan", "Echo", nil)},
		Edges: edges("t1", "t2", "t2", "a"),
	})

	require.True(t, out.Success)
	assert.Contains(t, out.Results, "t2")
	assert.Equal(t, 1, c.get("a"))
	assert.Equal(t, 0, c.get("orphan"))
}

func TestExecuteEmptyWorkflow(t *testing.T) {
	out := newTestEngine(t, newCalls()).Execute(context.Background(), ExecutionInput{})
	assert.True(t, out.Success)
	assert.Empty(t, out.Results)
	assert.Empty(t, out.Outputs)
}

func TestExecuteRecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	e := newTestEngine(t, newCalls(), WithTracer(provider.Tracer("test")))
	e.Execute(context.Background(), ExecutionInput{
		ExecutionID: "exec-span",
		Nodes:       []Node{trigger("t"), action("a", "Fail", map[string]any{"message": "nope"})},
		Edges:       edges("t", "a"),
	})

	names := map[string]int{}
	for _, span := range recorder.Ended() {
		names[span.Name()]++
	}
	assert.Equal(t, 1, names["workflow.execute"])
	assert.Equal(t, 2, names["workflow.node"])
}

func TestExecuteMetrics(t *testing.T) {
	metrics := NewMetricsCollector()
	disabled := action("off", "Echo", nil)
	disabled.Enabled = boolPtr(false)

	e := newTestEngine(t, newCalls(), WithMetrics(metrics))
	e.Execute(context.Background(), ExecutionInput{
		Nodes: []Node{trigger("t"), action("a", "Echo", nil), action("b", "Fail", nil), disabled},
		Edges: edges("t", "a", "t", "b", "a", "off", "off", "a"),
	})

	m := e.Metrics().GetMetrics()
	assert.Equal(t, int64(1), m.Runs)
	assert.Equal(t, int64(1), m.FailedRuns)
	assert.Equal(t, int64(3), m.NodesExecuted)
	assert.Equal(t, int64(1), m.NodesFailed)
	assert.Equal(t, int64(1), m.NodesDisabled)
	assert.Equal(t, int64(1), m.NodesSkipped)
	assert.InDelta(t, 33.3, metrics.ErrorRate(), 0.1)

	metrics.Reset()
	assert.Equal(t, Metrics{}, metrics.GetMetrics())
}

// panickingMetrics panics from RecordNode for every node, or only for failed
// nodes when onFailureOnly is set.
type panickingMetrics struct {
	NoOpMetricsCollector
	onFailureOnly bool
	msg           string
}

func (m panickingMetrics) RecordNode(_ int64, success bool) {
	if !m.onFailureOnly || !success {
		panic(m.msg)
	}
}

func TestExecuteFatalPanicIsReported(t *testing.T) {
	rep := &recordingReporter{}
	c := newCalls()
	e := newTestEngine(t, c, WithReporter(rep), WithMetrics(panickingMetrics{msg: "metrics backend down"}))

	out := e.Execute(context.Background(), ExecutionInput{
		ExecutionID: "exec-fatal",
		Nodes:       []Node{trigger("t"), action("a", "Echo", nil)},
		Edges:       edges("t", "a"),
	})

	assert.False(t, out.Success)
	assert.Equal(t, "metrics backend down", out.Error)
	assert.Equal(t, 0, c.get("a"))

	require.Len(t, rep.completions, 1)
	assert.Equal(t, callback.StatusError, rep.completions[0].Status)
	assert.Equal(t, "metrics backend down", rep.completions[0].Error)
	assert.Equal(t, "exec-fatal", rep.completions[0].ExecutionID)
}

func TestExecuteEscapedPanicIsAttributedToItsNode(t *testing.T) {
	c := newCalls()
	e := newTestEngine(t, c, WithMetrics(panickingMetrics{onFailureOnly: true, msg: "cannot record failure"}))

	out := e.Execute(context.Background(), ExecutionInput{
		Nodes: []Node{
			trigger("t"),
			action("a", "Echo", map[string]any{"value": "kept"}),
			action("deep", "Fail", map[string]any{"message": "bad"}),
			action("b", "Echo", nil),
		},
		Edges: edges("t", "a", "a", "deep", "t", "b"),
	})

	assert.Empty(t, out.Error, "a contained panic is not fatal")
	assert.True(t, out.Results["a"].Success)
	assert.Equal(t, "kept", out.Results["a"].Data.(map[string]any)["value"])
	assert.Equal(t, "cannot record failure", out.Results["deep"].Error)
	assert.True(t, out.Results["b"].Success)
	assert.False(t, out.Success)
}
