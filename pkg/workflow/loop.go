package workflow

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/template"
	"go.uber.org/zap"
)

// maxLoopIterations caps every loop variant regardless of its config.
const maxLoopIterations = 100

// Loop types.
const (
	LoopTimes   = "times"
	LoopForEach = "forEach"
	LoopWhile   = "while"
)

// loopBody holds what every loop variant needs to run its body once.
type loopBody struct {
	r       *run
	nodeID  string
	label   string
	ids     []string
	visited *nodeSet
}

// publish writes the loop context under the loop node's id so body nodes
// can reference {{@loopId:Label.loop.index}} and friends.
func (b *loopBody) publish(lc *LoopContext) {
	b.r.outputs.set(b.nodeID, NodeOutput{Label: b.label, Data: lc.data()})
}

// runOnce executes every body node in edge order, each with its own copy of
// the visited set as of loop entry, and collects the data of the results
// they recorded.
func (b *loopBody) runOnce(ctx context.Context) []any {
	var out []any
	for _, id := range b.ids {
		b.r.executeNode(ctx, id, b.visited.clone(), nil)
		if res, ok := b.r.results.get(id); ok {
			out = append(out, res.Data)
		}
	}
	return out
}

// executeLoop runs a times, forEach or while loop over the node's direct
// successors. The body ids are marked visited afterwards so the regular
// fan-out does not run the body once more.
func (r *run) executeLoop(ctx context.Context, node *Node, visited *nodeSet) (result ExecutionResult) {
	loopType := configString(node.Config, "loopType", LoopTimes)
	label := node.Label
	if label == "" {
		label = "Loop"
	}
	body := &loopBody{
		r:       r,
		nodeID:  node.ID,
		label:   label,
		ids:     r.successors[node.ID],
		visited: visited,
	}

	defer visited.add(body.ids...)
	defer func() {
		if p := recover(); p != nil {
			result = failed("Loop execution failed: " + sdkerrors.Message(p))
		}
	}()

	r.logger.Debug("Executing loop node",
		zap.String("node_id", node.ID),
		zap.String("loop_type", loopType),
		zap.Int("body_nodes", len(body.ids)))

	lc := newLoopContext()
	var (
		completed int
		collected []any
	)
	switch loopType {
	case LoopTimes:
		times := min(configCount(node.Config["times"], 1), maxLoopIterations)
		completed, collected = body.times(ctx, lc, times)
	case LoopForEach:
		var items []any
		switch ref := node.Config["collection"].(type) {
		case string:
			if ref != "" {
				items = template.ResolveCollection(ref, r.outputs)
			}
		case []any:
			items = ref
		}
		if items == nil {
			items = []any{}
		}
		completed, collected = body.forEach(ctx, lc, items)
	case LoopWhile:
		cond := node.Config["condition"]
		if cond == nil || cond == "" || cond == false {
			cond = "false"
		}
		limit := min(configCount(node.Config["maxIterations"], maxLoopIterations), maxLoopIterations)
		completed, collected = body.while(ctx, lc, cond, limit)
	default:
		return failed("Unknown loop type: " + loopType)
	}

	if collected == nil {
		collected = []any{}
	}
	return ExecutionResult{
		Success: true,
		Data: map[string]any{
			"iterationsCompleted": completed,
			"results":             collected,
		},
	}
}

func (b *loopBody) times(ctx context.Context, lc *LoopContext, times int) (int, []any) {
	var collected []any
	completed := 0
	for i := 0; i < times; i++ {
		lc.Index = i
		lc.Iteration = i + 1
		b.publish(lc)
		collected = append(collected, b.runOnce(ctx)...)
		completed++
	}
	return completed, collected
}

func (b *loopBody) forEach(ctx context.Context, lc *LoopContext, items []any) (int, []any) {
	var collected []any
	completed := 0
	lc.Items = items
	for i, item := range items {
		lc.Index = i
		lc.Iteration = i + 1
		lc.Item = item
		lc.hasItem = true
		b.publish(lc)
		collected = append(collected, b.runOnce(ctx)...)
		completed++
	}
	return completed, collected
}

// while re-evaluates cond before every iteration. The index advances even
// when the body panics, so the loop always reaches its limit.
func (b *loopBody) while(ctx context.Context, lc *LoopContext, cond any, limit int) (int, []any) {
	var collected []any
	completed := 0
	for lc.Index < limit {
		b.publish(lc)

		next, err := b.check(cond)
		if err != nil {
			b.r.logger.Error("While loop condition evaluation failed",
				zap.String("node_id", b.nodeID),
				zap.Error(err))
			break
		}
		if !next {
			break
		}

		func() {
			defer func() {
				lc.Index++
				lc.Iteration++
			}()
			collected = append(collected, b.runOnce(ctx)...)
			completed++
		}()
	}
	return completed, collected
}

func (b *loopBody) check(cond any) (ok bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("condition panicked: %s", sdkerrors.Message(p))
		}
	}()
	return b.r.engine.evaluator.Evaluate(cond, b.r.outputs), nil
}

// configString returns config[key] when it is a non-empty string.
func configString(config map[string]any, key, def string) string {
	if s, ok := config[key].(string); ok && s != "" {
		return s
	}
	return def
}

// configCount reads a loop count. Zero, missing or unparsable values fall
// back to def; negative counts run nothing and fractional counts round up.
func configCount(v any, def int) int {
	var f float64
	switch t := v.(type) {
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case float64:
		f = t
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return def
		}
		f = parsed
	default:
		return def
	}
	if f == 0 || math.IsNaN(f) {
		return def
	}
	if f < 0 {
		return 0
	}
	if f > maxLoopIterations {
		return maxLoopIterations
	}
	return int(math.Ceil(f))
}
