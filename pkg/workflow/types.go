package workflow

import (
	"context"
	"sync"

	"github.com/wehubfusion/Daedalus/pkg/template"
)

// NodeType is the closed set of node kinds the engine can execute.
type NodeType string

const (
	NodeTrigger  NodeType = "trigger"
	NodeAction   NodeType = "action"
	NodeLoop     NodeType = "loop"
	NodeParallel NodeType = "parallel"
)

// Valid reports whether t is one of the known node types.
func (t NodeType) Valid() bool {
	switch t {
	case NodeTrigger, NodeAction, NodeLoop, NodeParallel:
		return true
	}
	return false
}

// Node is a unit of graph execution. Config is interpreted per type.
type Node struct {
	ID      string         `json:"id" yaml:"id"`
	Type    NodeType       `json:"type" yaml:"type"`
	Label   string         `json:"label,omitempty" yaml:"label,omitempty"`
	Enabled *bool          `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Config  map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// IsEnabled reports whether the node runs. Only an explicit false disables.
func (n *Node) IsEnabled() bool {
	return n.Enabled == nil || *n.Enabled
}

// displayLabel is the label stored with the node's output entry.
func (n *Node) displayLabel() string {
	if n.Label != "" {
		return n.Label
	}
	return n.ID
}

// Edge is a directed connection between two nodes.
type Edge struct {
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`
}

// ExecutionResult is the outcome of one node.
type ExecutionResult struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func failed(msg string) ExecutionResult {
	return ExecutionResult{Success: false, Error: msg}
}

// NodeOutput is the template-visible form of a node's output, keyed by the
// sanitized node id.
type NodeOutput = template.Entry

// LoopContext is the iteration state a loop node publishes under its own id
// before every body run, as {"loop": {...}}.
type LoopContext struct {
	Index     int
	Iteration int
	Item      any
	Items     []any

	hasItem bool
}

func newLoopContext() *LoopContext {
	return &LoopContext{Index: 0, Iteration: 1, Items: []any{}}
}

func (lc *LoopContext) data() map[string]any {
	loop := map[string]any{
		"index":     lc.Index,
		"iteration": lc.Iteration,
		"items":     lc.Items,
	}
	if lc.hasItem {
		loop["item"] = lc.Item
	}
	return map[string]any{"loop": loop}
}

// ExecutionInput is a single run request.
type ExecutionInput struct {
	Nodes        []Node
	Edges        []Edge
	TriggerInput map[string]any
	ExecutionID  string
	WorkflowID   string
}

// ExecutionOutput is the result of a run. Results and Outputs are snapshots
// taken when the run returned.
type ExecutionOutput struct {
	Success bool                       `json:"success"`
	Results map[string]ExecutionResult `json:"results"`
	Outputs map[string]NodeOutput      `json:"outputs"`
	Error   string                     `json:"error,omitempty"`

	// Order lists result node ids in first-recorded order.
	Order []string `json:"-"`

	run *run
}

// WaitBackground blocks until branches left running by race and any joins
// have finished, or ctx ends. Once they finish, Results and Outputs are
// refreshed to include what those branches recorded.
func (o *ExecutionOutput) WaitBackground(ctx context.Context) error {
	if o.run == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		o.run.background.Wait()
		close(done)
	}()
	select {
	case <-done:
		o.Results, o.Order = o.run.results.snapshot()
		o.Outputs = o.run.outputs.snapshot()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// resultStore records node results. Re-running a node inside a loop
// overwrites its result but keeps its first-recorded position.
type resultStore struct {
	mu      sync.RWMutex
	entries map[string]ExecutionResult
	order   []string
}

func newResultStore() *resultStore {
	return &resultStore{entries: make(map[string]ExecutionResult)}
}

func (s *resultStore) set(id string, r ExecutionResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		s.order = append(s.order, id)
	}
	s.entries[id] = r
}

// setIfAbsent records r only when id has no result yet.
func (s *resultStore) setIfAbsent(id string, r ExecutionResult) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; ok {
		return false
	}
	s.order = append(s.order, id)
	s.entries[id] = r
	return true
}

func (s *resultStore) get(id string) (ExecutionResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.entries[id]
	return r, ok
}

func (s *resultStore) snapshot() (map[string]ExecutionResult, []string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := make(map[string]ExecutionResult, len(s.entries))
	for k, v := range s.entries {
		m[k] = v
	}
	return m, append([]string(nil), s.order...)
}

// summary returns the overall success, the data of the last recorded result
// and the first recorded failure message.
func (s *resultStore) summary() (success bool, last any, firstErr string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	success = true
	for _, id := range s.order {
		r := s.entries[id]
		if !r.Success {
			if success {
				firstErr = r.Error
			}
			success = false
		}
	}
	if n := len(s.order); n > 0 {
		last = s.entries[s.order[n-1]].Data
	}
	return success, last, firstErr
}

// outputStore is the template-visible output map. It implements
// template.Source.
type outputStore struct {
	mu      sync.RWMutex
	entries map[string]NodeOutput
}

var _ template.Source = (*outputStore)(nil)

func newOutputStore() *outputStore {
	return &outputStore{entries: make(map[string]NodeOutput)}
}

func (s *outputStore) set(nodeID string, out NodeOutput) {
	s.mu.Lock()
	s.entries[template.SanitizeID(nodeID)] = out
	s.mu.Unlock()
}

func (s *outputStore) Lookup(sanitizedID string) (NodeOutput, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[sanitizedID]
	return e, ok
}

func (s *outputStore) snapshot() map[string]NodeOutput {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := make(map[string]NodeOutput, len(s.entries))
	for k, v := range s.entries {
		m[k] = v
	}
	return m
}

// nodeSet is a concurrency-safe set of node ids with test-and-set claiming.
// Visited sets are shared by reference between concurrent successors on one
// path; a claimed set is shared by all branches of one parallel node.
type nodeSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func newNodeSet() *nodeSet {
	return &nodeSet{ids: make(map[string]struct{})}
}

// claim adds id and reports whether it was absent.
func (s *nodeSet) claim(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

func (s *nodeSet) add(ids ...string) {
	s.mu.Lock()
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	s.mu.Unlock()
}

func (s *nodeSet) has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ids[id]
	return ok
}

func (s *nodeSet) clone() *nodeSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &nodeSet{ids: make(map[string]struct{}, len(s.ids))}
	for id := range s.ids {
		c.ids[id] = struct{}{}
	}
	return c
}
