package workflow

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wehubfusion/Daedalus/pkg/actions"
	"github.com/wehubfusion/Daedalus/pkg/concurrency"
)

func TestDispatchPassesStepContext(t *testing.T) {
	var got actions.StepInput
	reg := actions.NewRegistry()
	reg.MustRegister(actions.Action{ID: "send-email", Label: "Send Email", Step: func(_ context.Context, in actions.StepInput) (actions.StepResult, error) {
		got = in
		return actions.Success(nil), nil
	}})
	e, err := NewEngine(reg)
	require.NoError(t, err)

	out := e.Execute(context.Background(), ExecutionInput{
		ExecutionID: "exec-9",
		WorkflowID:  "wf-9",
		Nodes: []Node{
			trigger("t"),
			action("mail", "send-email", map[string]any{
				"integrationId": "int-42",
				"to":            "{{@t:Trigger.email}}",
				"condition":     "{{@t:Trigger.email}} !== ''",
			}),
		},
		Edges:        edges("t", "mail"),
		TriggerInput: map[string]any{"email": "ada@example.com"},
	})
	require.True(t, out.Success)

	assert.Equal(t, actions.StepContext{
		ExecutionID: "exec-9",
		WorkflowID:  "wf-9",
		NodeID:      "mail",
		NodeName:    "Send Email",
		NodeType:    "action",
	}, got.Context)
	assert.Equal(t, "int-42", got.IntegrationID)
	assert.Equal(t, "ada@example.com", got.String("to"))
	assert.Equal(t, "{{@t:Trigger.email}} !== ''", got.String("condition"), "condition is passed through unresolved")
}

func TestDispatchRegisteredConditionStep(t *testing.T) {
	var received map[string]any
	reg := actions.NewRegistry()
	reg.MustRegister(actions.Action{ID: actions.Condition, Step: func(_ context.Context, in actions.StepInput) (actions.StepResult, error) {
		received = in.Config
		return actions.StepResult{"condition": in.Bool("condition"), "checkedBy": "custom"}, nil
	}})
	e, err := NewEngine(reg)
	require.NoError(t, err)

	out := e.Execute(context.Background(), ExecutionInput{
		Nodes: []Node{
			trigger("t"),
			action("c", actions.Condition, map[string]any{"condition": "{{@t:Trigger.n}} > 2", "other": "x"}),
		},
		Edges:        edges("t", "c"),
		TriggerInput: map[string]any{"n": 5},
	})

	assert.Equal(t, map[string]any{"condition": true}, received)
	assert.Equal(t, "custom", out.Results["c"].Data.(map[string]any)["checkedBy"])
}

func TestDispatchBooleanCondition(t *testing.T) {
	c := newCalls()
	out := newTestEngine(t, c).Execute(context.Background(), ExecutionInput{
		Nodes: []Node{
			trigger("t"),
			action("c", actions.Condition, map[string]any{"condition": true}),
			action("next", "Echo", nil),
		},
		Edges: edges("t", "c", "c", "next"),
	})

	require.True(t, out.Success)
	assert.Equal(t, 1, c.get("next"))
}

func TestDispatchThroughLimiter(t *testing.T) {
	var (
		active atomic.Int32
		peak   atomic.Int32
		mu     sync.Mutex
	)
	reg := actions.NewRegistry()
	reg.MustRegister(actions.Action{ID: "Busy", Step: func(context.Context, actions.StepInput) (actions.StepResult, error) {
		n := active.Add(1)
		mu.Lock()
		if n > peak.Load() {
			peak.Store(n)
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		active.Add(-1)
		return actions.Success(nil), nil
	}})

	limiter := concurrency.NewLimiter(2)
	e, err := NewEngine(reg, WithLimiter(limiter))
	require.NoError(t, err)

	nodes := []Node{trigger("t")}
	var pairs []string
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		nodes = append(nodes, action(id, "Busy", nil))
		pairs = append(pairs, "t", id)
	}

	out := e.Execute(context.Background(), ExecutionInput{Nodes: nodes, Edges: edges(pairs...)})
	require.True(t, out.Success)
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, int64(6), limiter.GetMetrics().TotalAcquired)
	assert.Equal(t, int64(0), limiter.CurrentActive())
}

func TestDispatchReportedFailuresKeepCircuitClosed(t *testing.T) {
	c := newCalls()
	limiter := concurrency.NewLimiter(8)
	e := newTestEngine(t, c, WithLimiter(limiter))

	first := e.Execute(context.Background(), ExecutionInput{
		Nodes: []Node{
			trigger("t"),
			loopNode("loop", map[string]any{"loopType": "times", "times": 100}),
			action("notFound", "Fail", map[string]any{"message": "HTTP request failed with status 404"}),
		},
		Edges: edges("t", "loop", "loop", "notFound"),
	})
	require.Equal(t, 100, c.get("notFound"))
	assert.Equal(t, "HTTP request failed with status 404", first.Results["notFound"].Error)
	assert.Empty(t, limiter.OpenCircuits())

	second := e.Execute(context.Background(), ExecutionInput{
		Nodes: []Node{
			trigger("t"),
			action("ok", "Echo", map[string]any{"value": "still running"}),
			action("cond", actions.Condition, map[string]any{"condition": "{{@ok:Echo.value}} === 'still running'"}),
			action("after", "Echo", nil),
		},
		Edges: edges("t", "ok", "ok", "cond", "cond", "after"),
	})
	require.True(t, second.Success)
	assert.Equal(t, 1, c.get("ok"))
	assert.Equal(t, 1, c.get("after"))
	assert.Contains(t, second.Outputs, "ok")
	assert.Equal(t, map[string]any{"condition": true}, second.Results["cond"].Data)
}

func TestDispatchOpenCircuitIsScopedAndContained(t *testing.T) {
	c := newCalls()
	limiter := concurrency.NewLimiterWithBreakers(4, func() *concurrency.CircuitBreaker {
		return concurrency.NewCircuitBreaker(1, time.Hour)
	})
	e := newTestEngine(t, c, WithLimiter(limiter))

	e.Execute(context.Background(), ExecutionInput{
		Nodes: []Node{trigger("t"), action("down", "Error", map[string]any{"integrationId": "crm"})},
		Edges: edges("t", "down"),
	})
	require.Equal(t, []string{"Error/crm"}, limiter.OpenCircuits())

	out := e.Execute(context.Background(), ExecutionInput{
		Nodes: []Node{
			trigger("t"),
			action("blocked", "Error", map[string]any{"integrationId": "crm"}),
			action("next", "Echo", nil),
			action("other", "Error", map[string]any{"integrationId": "erp"}),
			action("echo", "Echo", nil),
			action("cond", actions.Condition, map[string]any{"condition": true}),
		},
		Edges: edges("t", "blocked", "blocked", "next", "t", "other", "t", "echo", "t", "cond"),
	})

	assert.False(t, out.Success)
	assert.Equal(t, `Step "Error" was not started: circuit breaker is open`, out.Results["blocked"].Error)
	assert.Contains(t, out.Outputs, "blocked")
	assert.Equal(t, 0, c.get("blocked"))
	assert.Equal(t, 0, c.get("next"))

	assert.Equal(t, 1, c.get("other"), "a different integration has its own breaker")
	assert.Equal(t, "connection reset", out.Results["other"].Error)
	assert.True(t, out.Results["echo"].Success)
	assert.True(t, out.Results["cond"].Success)
}

func TestNodeName(t *testing.T) {
	reg := actions.NewRegistry()
	reg.MustRegister(actions.Action{ID: "redis-get", Step: passCondition})
	e, err := NewEngine(reg)
	require.NoError(t, err)
	r := &run{engine: e}

	tests := []struct {
		name string
		node Node
		want string
	}{
		{"label wins", Node{Type: NodeAction, Label: "Mine", Config: map[string]any{"actionType": "redis-get"}}, "Mine"},
		{"registry label", Node{Type: NodeAction, Config: map[string]any{"actionType": "redis-get"}}, "Redis Get"},
		{"unregistered action", Node{Type: NodeAction, Config: map[string]any{"actionType": "nope"}}, "Action"},
		{"trigger type", Node{Type: NodeTrigger, Config: map[string]any{"triggerType": "Schedule"}}, "Schedule"},
		{"bare trigger", Node{Type: NodeTrigger}, "Trigger"},
		{"loop", Node{Type: NodeLoop}, "loop"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.nodeName(&tt.node))
		})
	}
}
