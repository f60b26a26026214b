package template

import (
	"bytes"
	"encoding/json"
	"fmt"

	_ "embed"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed definition.schema.json
var definitionSchema []byte

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("definition.schema.json", bytes.NewReader(definitionSchema)); err != nil {
		panic(fmt.Sprintf("template: adding definition schema: %v", err))
	}
	schema, err := compiler.Compile("definition.schema.json")
	if err != nil {
		panic(fmt.Sprintf("template: compiling definition schema: %v", err))
	}
	return schema
}

// ValidateDefinition checks a raw JSON definition against the embedded
// schema before it is decoded and compiled.
func ValidateDefinition(raw json.RawMessage) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("unmarshal definition: %w", err)
	}
	if err := compiledSchema.Validate(v); err != nil {
		return fmt.Errorf("definition does not match schema: %w", err)
	}
	return nil
}
