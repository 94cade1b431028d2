// Package tools is the rebuildable tool registry the agent loop calls
// into for tool dispatch: a name-indexed registry gated on the live
// config snapshot, with each tool's JSON Schema compiled once at
// registration time and call arguments validated against it on every
// Execute.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Definition is the LLM-facing shape of a tool: name, description, and
// JSON Schema parameters.
type Definition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  any    `json:"parameters"`
}

// Call is one tool invocation request from the agent loop.
type Call struct {
	ID   string
	Name string
	Args map[string]any
}

// Result is a tool's output, fed back into the conversation as a tool
// message. IsError marks a tool-level failure the model should see
// and potentially recover from; Execute also uses it for arguments
// that fail schema validation, before Handler is called. An unknown
// tool is instead a registry error returned by Execute.
type Result struct {
	Content string
	IsError bool
}

// Handler executes a tool call. Handler errors are folded into a
// Result with IsError set rather than propagated: tool
// handler errors become tool results with isError:true".
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Tool is a single registered capability.
type Tool struct {
	Def     Definition
	Handler Handler

	schema *jsonschema.Schema
}

// Registry holds the tools active for the current config snapshot.
// Registries are rebuilt wholesale on a config change (the tool
// rebuild path in the hot-swap coordinator), not mutated in place.
type Registry struct {
	tools map[string]*Tool
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register compiles def's JSON Schema and adds the tool under
// def.Name. It returns an error if the name is already registered or
// the schema fails to compile — every property schema must carry an
// explicit type, $ref, oneOf, or anyOf, required for downstream schema
// conversion (the same constraint the MCP wire format imposes on
// inputSchema).
func (r *Registry) Register(def Definition, handler Handler) error {
	if _, dup := r.tools[def.Name]; dup {
		return fmt.Errorf("tools: duplicate registration for %q", def.Name)
	}

	schema, err := compileSchema(def.Name, def.Parameters)
	if err != nil {
		return err
	}

	r.tools[def.Name] = &Tool{Def: def, Handler: handler, schema: schema}
	return nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

// Size returns the number of registered tools.
func (r *Registry) Size() int {
	return len(r.tools)
}

// GetDefinitions returns the LLM-facing definitions for every
// registered tool.
func (r *Registry) GetDefinitions() []Definition {
	defs := make([]Definition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, t.Def)
	}
	return defs
}

// Execute validates call.Args against the tool's compiled schema and,
// on success, invokes its handler. Only an unknown tool is reported as
// an error to the caller (the agent loop); schema failures and handler
// errors come back as a Result with IsError set and a nil error.
func (r *Registry) Execute(ctx context.Context, call Call) (Result, error) {
	t, ok := r.tools[call.Name]
	if !ok {
		return Result{}, fmt.Errorf("tools: unknown tool %q", call.Name)
	}

	if t.schema != nil {
		if err := validateArgs(t.schema, call.Args); err != nil {
			return Result{Content: fmt.Sprintf("invalid arguments: %v", err), IsError: true}, nil
		}
	}

	content, err := t.Handler(ctx, call.Args)
	if err != nil {
		return Result{Content: err.Error(), IsError: true}, nil
	}
	return Result{Content: content}, nil
}

func compileSchema(name string, parameters any) (*jsonschema.Schema, error) {
	if parameters == nil {
		return nil, nil
	}
	raw, err := json.Marshal(parameters)
	if err != nil {
		return nil, fmt.Errorf("tools: marshal schema for %q: %w", name, err)
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("tools: decode schema for %q: %w", name, err)
	}
	if err := requireExplicitTypes(doc); err != nil {
		return nil, fmt.Errorf("tools: schema for %q: %w", name, err)
	}

	compiler := jsonschema.NewCompiler()
	resourceName := "tool-" + name + ".json"
	if err := compiler.AddResource(resourceName, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("tools: add schema resource for %q: %w", name, err)
	}
	schema, err := compiler.Compile(resourceName)
	if err != nil {
		return nil, fmt.Errorf("tools: compile schema for %q: %w", name, err)
	}
	return schema, nil
}

func validateArgs(schema *jsonschema.Schema, args map[string]any) error {
	// jsonschema validates generic interface{} values; round-trip
	// through JSON so numeric types match what a real JSON payload
	// would produce (json.Number-free validation isn't required here
	// since tool args always originate from a decoded JSON-RPC call).
	raw, err := json.Marshal(args)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	return schema.Validate(doc)
}

// requireExplicitTypes walks a JSON Schema object (not recursively into
// every nested combinator — top-level properties only, matching the
// schema converter's constraint) and rejects any property lacking type, $ref,
// oneOf, or anyOf.
func requireExplicitTypes(schemaDoc any) error {
	root, ok := schemaDoc.(map[string]any)
	if !ok {
		return nil
	}
	props, ok := root["properties"].(map[string]any)
	if !ok {
		return nil
	}
	for name, raw := range props {
		prop, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if hasAny(prop, "type", "$ref", "oneOf", "anyOf") {
			continue
		}
		return fmt.Errorf("property %q must declare type, $ref, oneOf, or anyOf", name)
	}
	return nil
}

func hasAny(m map[string]any, keys ...string) bool {
	for _, k := range keys {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}
