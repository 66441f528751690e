package condition

import (
	"fmt"

	"github.com/wehubfusion/Daedalus/pkg/template"
	"go.uber.org/zap"
)

// PreValidate checks a raw condition expression before any template
// reference is resolved. References are masked with placeholder
// identifiers, so only the surrounding operators and literals are judged.
func PreValidate(expr string) error {
	counter := 0
	masked := template.ReplaceFunc(expr, func(_, _, _ string) string {
		name := fmt.Sprintf(" __v%d ", counter)
		counter++
		return name
	})
	_, err := parse(masked)
	return err
}

// Validate checks an expression whose references have already been
// replaced by bound identifiers.
func Validate(expr string) error {
	_, err := parse(expr)
	return err
}

// Bind replaces every template reference in expr with a generated
// identifier and returns the rewritten expression together with the
// variable table. References to nodes that have not produced output are
// left in place, which makes the rewritten expression fail validation.
func Bind(expr string, src template.Source) (string, map[string]any) {
	vars := make(map[string]any)
	counter := 0
	transformed := template.ReplaceFunc(expr, func(match, nodeID, rest string) string {
		r := template.Lookup(src, nodeID, rest)
		if !r.Found {
			return match
		}
		name := fmt.Sprintf("__v%d", counter)
		counter++
		if r.Defined {
			vars[name] = normalize(r.Value)
		} else {
			vars[name] = Undefined
		}
		return name
	})
	return transformed, vars
}

// Run parses and interprets an expression that only refers to the given
// variables.
func Run(expr string, vars map[string]any) (any, error) {
	tree, err := parse(expr)
	if err != nil {
		return nil, err
	}
	return eval(tree, vars)
}

// Evaluator evaluates workflow condition expressions against node outputs.
// It fails closed: every error is logged and reported as false.
type Evaluator struct {
	logger *zap.Logger
}

// NewEvaluator creates an evaluator. A nil logger discards log output.
func NewEvaluator(logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{logger: logger}
}

// Evaluate returns the boolean outcome of expr. Booleans are returned as
// is, strings go through validation and interpretation, and any other value
// is judged by truthiness.
func (e *Evaluator) Evaluate(expr any, src template.Source) bool {
	switch t := expr.(type) {
	case bool:
		return t
	case string:
		ok, err := e.EvaluateString(t, src)
		if err != nil {
			e.logger.Warn("Condition evaluated to false after error",
				zap.String("expression", t),
				zap.Error(err))
			return false
		}
		return ok
	}
	return truthy(normalize(expr))
}

// EvaluateString runs the full pipeline on a string expression and returns
// the error that made it fail, if any.
func (e *Evaluator) EvaluateString(expr string, src template.Source) (bool, error) {
	if err := PreValidate(expr); err != nil {
		return false, fmt.Errorf("pre-validation failed: %w", err)
	}

	transformed, vars := Bind(expr, src)
	if err := Validate(transformed); err != nil {
		return false, fmt.Errorf("validation of %q failed: %w", transformed, err)
	}

	result, err := Run(transformed, vars)
	if err != nil {
		return false, err
	}

	e.logger.Debug("Condition evaluated",
		zap.String("expression", expr),
		zap.String("transformed", transformed),
		zap.Bool("result", truthy(result)))
	return truthy(result), nil
}
