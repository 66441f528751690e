package workflow

import (
	"context"
	"strings"

	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"go.uber.org/zap"
)

// Parallel join modes.
const (
	ParallelAll        = "all"
	ParallelRace       = "race"
	ParallelAny        = "any"
	ParallelAllSettled = "allSettled"
)

// branchOutcome is the settled result of one branch, tagged with its edge
// position.
type branchOutcome struct {
	index  int
	result ExecutionResult
}

// executeParallel starts one goroutine per outgoing edge and joins them
// according to parallelMode. Branches left running by an early return are
// tracked on the run and never cancelled.
func (r *run) executeParallel(ctx context.Context, node *Node, visited *nodeSet) (result ExecutionResult) {
	mode := configString(node.Config, "parallelMode", ParallelAll)
	failFast, _ := node.Config["failFast"].(bool)
	branches := r.successors[node.ID]

	defer visited.add(branches...)

	r.logger.Debug("Executing parallel node",
		zap.String("node_id", node.ID),
		zap.String("mode", mode),
		zap.Bool("fail_fast", failFast),
		zap.Int("branches", len(branches)))

	if len(branches) == 0 {
		return ExecutionResult{
			Success: true,
			Data:    map[string]any{"branchesCompleted": 0, "results": []any{}},
		}
	}

	defer func() {
		if p := recover(); p != nil {
			result = failed("Parallel execution failed: " + sdkerrors.Message(p))
		}
	}()

	switch mode {
	case ParallelAll, ParallelRace, ParallelAny, ParallelAllSettled:
	default:
		return failed("Unknown parallel mode: " + mode)
	}

	settled := r.launchBranches(ctx, branches, visited)

	switch mode {
	case ParallelAll:
		if failFast {
			return joinFailFast(settled, branches)
		}
		return joinAll(settled, len(branches))
	case ParallelRace:
		first := <-settled
		return ExecutionResult{
			Success: first.result.Success,
			Data:    map[string]any{"branchesCompleted": 1, "winner": first.result.Data},
			Error:   first.result.Error,
		}
	case ParallelAny:
		return joinAny(settled, len(branches))
	default:
		return joinAllSettled(settled, len(branches))
	}
}

// launchBranches runs every branch root with its own copy of visited and a
// claimed set shared by all branches, so a convergence node reached from two
// branches runs once. The channel is buffered so losers never block.
func (r *run) launchBranches(ctx context.Context, branches []string, visited *nodeSet) <-chan branchOutcome {
	settled := make(chan branchOutcome, len(branches))
	claimed := newNodeSet()

	for i, id := range branches {
		r.background.Add(1)
		go func(i int, id string) {
			defer r.background.Done()
			defer func() {
				if p := recover(); p != nil {
					settled <- branchOutcome{index: i, result: failed(sdkerrors.Message(p))}
				}
			}()

			r.executeNode(ctx, id, visited.clone(), claimed)
			res, ok := r.results.get(id)
			if !ok {
				res = ExecutionResult{Success: true}
			}
			settled <- branchOutcome{index: i, result: res}
		}(i, id)
	}
	return settled
}

func joinAll(settled <-chan branchOutcome, n int) ExecutionResult {
	data := make([]any, n)
	success := true
	for range n {
		o := <-settled
		data[o.index] = o.result.Data
		if !o.result.Success {
			success = false
		}
	}
	res := ExecutionResult{
		Success: success,
		Data:    map[string]any{"branchesCompleted": n, "results": data},
	}
	if !success {
		res.Error = "One or more branches failed"
	}
	return res
}

func joinFailFast(settled <-chan branchOutcome, branches []string) ExecutionResult {
	data := make([]any, len(branches))
	for range branches {
		o := <-settled
		if !o.result.Success {
			msg := o.result.Error
			if msg == "" {
				msg = "Branch " + branches[o.index] + " failed"
			}
			return ExecutionResult{
				Success: false,
				Error:   msg,
				Data:    map[string]any{"branchesCompleted": 0, "results": []any{}},
			}
		}
		data[o.index] = o.result.Data
	}
	return ExecutionResult{
		Success: true,
		Data:    map[string]any{"branchesCompleted": len(branches), "results": data},
	}
}

func joinAny(settled <-chan branchOutcome, n int) ExecutionResult {
	errs := make([]string, 0, n)
	for range n {
		o := <-settled
		if o.result.Success {
			return ExecutionResult{
				Success: true,
				Data:    map[string]any{"branchesCompleted": 1, "winner": o.result.Data},
			}
		}
		msg := o.result.Error
		if msg == "" {
			msg = "Unknown error"
		}
		errs = append(errs, msg)
	}
	return ExecutionResult{
		Success: false,
		Error:   "All branches failed: " + strings.Join(errs, ", "),
		Data:    map[string]any{"branchesCompleted": n, "results": []any{}},
	}
}

func joinAllSettled(settled <-chan branchOutcome, n int) ExecutionResult {
	entries := make([]any, n)
	for range n {
		o := <-settled
		entry := map[string]any{"status": "fulfilled"}
		if !o.result.Success {
			entry["status"] = "rejected"
		}
		if o.result.Data != nil {
			entry["value"] = o.result.Data
		}
		if o.result.Error != "" {
			entry["reason"] = o.result.Error
		}
		entries[o.index] = entry
	}
	return ExecutionResult{
		Success: true,
		Data:    map[string]any{"branchesCompleted": n, "results": entries},
	}
}
