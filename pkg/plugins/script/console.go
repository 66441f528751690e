package script

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/dop251/goja"
)

const maxLogLines = 1000

// console collects console output of a single run.
type console struct {
	mu    sync.Mutex
	lines []string
}

func (c *console) install(vm *goja.Runtime) error {
	obj := vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		prefix := ""
		if level == "warn" || level == "error" {
			prefix = "[" + level + "] "
		}
		if err := obj.Set(level, c.writer(prefix)); err != nil {
			return err
		}
	}
	return vm.Set("console", obj)
}

func (c *console) writer(prefix string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = formatArg(arg)
		}
		c.mu.Lock()
		if len(c.lines) < maxLogLines {
			c.lines = append(c.lines, prefix+strings.Join(parts, " "))
		}
		c.mu.Unlock()
		return goja.Undefined()
	}
}

func (c *console) logs() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]any, len(c.lines))
	for i, l := range c.lines {
		out[i] = l
	}
	return out
}

// formatArg renders objects as JSON and everything else with String.
func formatArg(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "null"
	}
	if _, ok := v.(*goja.Object); ok {
		if b, err := json.Marshal(v.Export()); err == nil {
			return string(b)
		}
	}
	return v.String()
}
