package pdg

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// GraphSchema is the JSON Schema (Draft 2020-12) for the top level of
// the structured graph artifact. Entry and edge shapes are checked
// leniently by Parse so a single bad record does not reject the whole
// document.
const GraphSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://github.com/unbound-force/faultloc/graph.schema.json",
  "title": "Instruction Dependency Graph",
  "type": "array",
  "minItems": 2,
  "prefixItems": [
    {
      "type": "object",
      "required": ["instruction"],
      "properties": {
        "instruction": { "type": "array" }
      }
    },
    {
      "type": "object",
      "required": ["instruction_control_instruction"],
      "properties": {
        "instruction_control_instruction": { "type": "array" }
      }
    }
  ]
}`

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func graphSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		sch, err := jsonschema.UnmarshalJSON(strings.NewReader(GraphSchema))
		if err != nil {
			compileErr = fmt.Errorf("parsing graph schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("graph.schema.json", sch); err != nil {
			compileErr = fmt.Errorf("adding graph schema: %w", err)
			return
		}
		compiled, compileErr = c.Compile("graph.schema.json")
	})
	return compiled, compileErr
}

// Validate checks data against GraphSchema.
func Validate(data []byte) error {
	sch, err := graphSchema()
	if err != nil {
		return err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := sch.Validate(inst); err != nil {
		return fmt.Errorf("invalid graph document: %w", err)
	}
	return nil
}
