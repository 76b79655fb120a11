package tools

import (
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// compileSchema turns a tool's Parameters() map into a validator. Each tool's
// schema is compiled once, at Register time, so a malformed schema fails
// loudly at startup rather than on the first call.
func compileSchema(name string, params map[string]interface{}) (*jsonschema.Schema, error) {
	if len(params) == 0 {
		return nil, nil
	}
	compiler := jsonschema.NewCompiler()
	url := "mem://tools/" + name
	if err := compiler.AddResource(url, params); err != nil {
		return nil, fmt.Errorf("tools: %s: add schema resource: %w", name, err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("tools: %s: compile schema: %w", name, err)
	}
	return schema, nil
}

// validateArgs checks args against schema, returning a human-readable
// `invalid_arguments` message on failure. A nil schema (a tool declaring no
// parameters) always validates.
func validateArgs(schema *jsonschema.Schema, args map[string]interface{}) error {
	if schema == nil {
		return nil
	}
	if err := schema.Validate(args); err != nil {
		return fmt.Errorf("invalid_arguments: %v", err)
	}
	return nil
}
