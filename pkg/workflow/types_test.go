package workflow

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResultStoreSummary(t *testing.T) {
	s := newResultStore()
	success, last, firstErr := s.summary()
	assert.True(t, success)
	assert.Nil(t, last)
	assert.Empty(t, firstErr)

	s.set("a", ExecutionResult{Success: true, Data: "a"})
	s.set("b", failed("b broke"))
	s.set("c", failed("c broke"))
	s.set("d", ExecutionResult{Success: true, Data: "d"})
	s.set("b", failed("b broke again"))

	success, last, firstErr = s.summary()
	assert.False(t, success)
	assert.Equal(t, "d", last)
	assert.Equal(t, "b broke again", firstErr)

	_, order := s.snapshot()
	assert.Equal(t, []string{"a", "b", "c", "d"}, order)
}

func TestOutputStoreSanitizesIDs(t *testing.T) {
	s := newOutputStore()
	s.set("node-1.x", NodeOutput{Label: "N", Data: 1})

	got, ok := s.Lookup("node_1_x")
	assert.True(t, ok)
	assert.Equal(t, 1, got.Data)

	_, ok = s.Lookup("node-1.x")
	assert.False(t, ok)
}

func TestNodeSetClaimIsExclusive(t *testing.T) {
	s := newNodeSet()
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.claim("x") {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	c := s.clone()
	c.add("y")
	assert.True(t, c.has("x"))
	assert.False(t, s.has("y"))
}

func TestLoopContextData(t *testing.T) {
	lc := newLoopContext()
	assert.Equal(t, map[string]any{"loop": map[string]any{"index": 0, "iteration": 1, "items": []any{}}}, lc.data())

	lc.Item, lc.hasItem = nil, true
	assert.Contains(t, lc.data()["loop"].(map[string]any), "item")
}

func TestNodeEnabled(t *testing.T) {
	off, on := false, true
	assert.True(t, (&Node{}).IsEnabled())
	assert.True(t, (&Node{Enabled: &on}).IsEnabled())
	assert.False(t, (&Node{Enabled: &off}).IsEnabled())
	assert.True(t, NodeParallel.Valid())
	assert.False(t, NodeType("webhook").Valid())
}
