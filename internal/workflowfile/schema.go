package workflowfile

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
)

//go:embed schema.json
var schemaSource string

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource("workflow.json", strings.NewReader(schemaSource)); err != nil {
		return nil, err
	}
	return compiler.Compile("workflow.json")
})

// checkShape validates a decoded document against the workflow file schema.
// YAML documents are normalized through JSON first so both formats are
// checked against the same value model.
func checkShape(doc any) error {
	schema, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("failed to compile workflow schema: %w", err)
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: %v", sdkerrors.ErrInvalidWorkflow, err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("%w: %v", sdkerrors.ErrInvalidWorkflow, err)
	}

	err = schema.Validate(v)
	if err == nil {
		return nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return fmt.Errorf("%w: %v", sdkerrors.ErrInvalidWorkflow, err)
	}
	return fmt.Errorf("%w: %s", sdkerrors.ErrInvalidWorkflow, strings.Join(leafMessages(verr), "; "))
}

// leafMessages flattens a validation error tree into its innermost causes.
func leafMessages(err *jsonschema.ValidationError) []string {
	if len(err.Causes) == 0 {
		loc := err.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		return []string{fmt.Sprintf("at '%s': %s", loc, err.Message)}
	}
	var out []string
	for _, c := range err.Causes {
		out = append(out, leafMessages(c)...)
	}
	return out
}
