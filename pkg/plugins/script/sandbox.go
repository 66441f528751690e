package script

import (
	"fmt"

	"github.com/dop251/goja"
)

// SecurityLevel selects how much of the runtime a script can reach.
type SecurityLevel string

const (
	// SecurityStrict also disables eval.
	SecurityStrict SecurityLevel = "strict"
	// SecurityStandard freezes the built-in constructors and prototypes.
	SecurityStandard SecurityLevel = "standard"
	// SecurityPermissive only removes host globals.
	SecurityPermissive SecurityLevel = "permissive"
)

// ParseSecurityLevel validates a level name; "" yields SecurityStandard.
func ParseSecurityLevel(s string) (SecurityLevel, error) {
	switch SecurityLevel(s) {
	case "":
		return SecurityStandard, nil
	case SecurityStrict, SecurityStandard, SecurityPermissive:
		return SecurityLevel(s), nil
	}
	return "", fmt.Errorf("invalid security level: %s", s)
}

type sandbox struct {
	level SecurityLevel
}

func newSandbox(level SecurityLevel) *sandbox {
	return &sandbox{level: level}
}

func (s *sandbox) apply(vm *goja.Runtime) error {
	if err := s.removeHostGlobals(vm); err != nil {
		return fmt.Errorf("failed to remove host globals: %w", err)
	}
	if err := s.freezeBuiltins(vm); err != nil {
		return fmt.Errorf("failed to freeze built-ins: %w", err)
	}
	if err := vm.Set("console", vm.NewObject()); err != nil {
		return err
	}
	security := vm.NewObject()
	if err := security.Set("level", string(s.level)); err != nil {
		return err
	}
	return vm.Set("__security__", security)
}

// removeHostGlobals blanks the names scripts written for Node expect.
func (s *sandbox) removeHostGlobals(vm *goja.Runtime) error {
	names := []string{
		"require", "module", "exports", "process", "global",
		"__dirname", "__filename", "Buffer", "setImmediate", "clearImmediate",
	}
	for _, name := range names {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}

	if s.level == SecurityStrict {
		return vm.Set("eval", func(goja.FunctionCall) goja.Value {
			panic(vm.NewTypeError("eval is not allowed in strict security mode"))
		})
	}
	return nil
}

func (s *sandbox) freezeBuiltins(vm *goja.Runtime) error {
	if s.level == SecurityPermissive {
		return nil
	}

	val, err := vm.RunString(`
		(function() {
			return function(obj) {
				if (obj) {
					Object.freeze(obj);
					if (obj.prototype) {
						Object.freeze(obj.prototype);
					}
				}
			};
		})()
	`)
	if err != nil {
		return fmt.Errorf("failed to create freeze function: %w", err)
	}
	freeze, ok := goja.AssertFunction(val)
	if !ok {
		return fmt.Errorf("freeze function is not a function")
	}

	for _, name := range []string{"Object", "Array", "Function", "String", "Number", "Boolean", "Date", "RegExp", "Error", "Math", "JSON"} {
		obj := vm.Get(name)
		if obj == nil || goja.IsUndefined(obj) {
			continue
		}
		if _, err := freeze(goja.Undefined(), obj); err != nil {
			return fmt.Errorf("failed to freeze %s: %w", name, err)
		}
	}
	return nil
}
