// Package tools implements the itinerary tool catalog: JSON-Schema-declared
// tool specs, a registry with bounded-parallel batch execution, and the
// concrete handlers for the Essential and Full catalogs.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/tripdesigner/agent/pkg/logger"
)

// Tool is a single agent-callable capability: a name, description, and
// JSON-Schema parameters for documentation/validation, plus the handler
// itself.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) (string, error)
}

const (
	execContextItineraryIDKey = "__context_itinerary_id"
	execContextSessionKeyKey  = "__context_session_key"
)

// withExecutionContext stamps the itinerary/session identifiers a handler
// needs onto a copy of args, leaving the caller's map untouched.
func withExecutionContext(args map[string]interface{}, itineraryID, sessionKey string) map[string]interface{} {
	if itineraryID == "" && sessionKey == "" {
		return args
	}
	out := make(map[string]interface{}, len(args)+2)
	for k, v := range args {
		out[k] = v
	}
	if itineraryID != "" {
		out[execContextItineraryIDKey] = itineraryID
	}
	if sessionKey != "" {
		out[execContextSessionKeyKey] = sessionKey
	}
	return out
}

// executionContext extracts the itinerary/session identifiers a handler
// expects withExecutionContext to have stamped onto args.
func executionContext(args map[string]interface{}) (itineraryID, sessionKey string) {
	itineraryID, _ = args[execContextItineraryIDKey].(string)
	sessionKey, _ = args[execContextSessionKeyKey].(string)
	return
}

// ToolRegistry holds the full set of declared tools, keyed by name, and
// executes calls against them with parse-guard and batch semantics.
type ToolRegistry struct {
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
}

// NewToolRegistry returns an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool), schemas: make(map[string]*jsonschema.Schema)}
}

// Register adds a tool, replacing any existing registration under the same
// name, and compiles its JSON-Schema parameters for the Execute-time
// validation pass. A tool whose schema fails to compile is logged and
// registered without validation rather than panicking the process.
func (r *ToolRegistry) Register(t Tool) {
	r.tools[t.Name()] = t
	schema, err := compileSchema(t.Name(), t.Parameters())
	if err != nil {
		logger.ErrorCF("tool", "failed to compile tool schema, validation disabled for this tool",
			map[string]interface{}{"tool": t.Name(), "error": err.Error()})
		return
	}
	r.schemas[t.Name()] = schema
}

// Get returns the tool registered under name, or false if none exists.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Execute runs a single named tool call and returns the `{success,
// result|error}` envelope, JSON-encoded. It never
// propagates an error: parse failures and handler errors are both folded
// into the envelope's error field.
func (r *ToolRegistry) Execute(ctx context.Context, name string, rawArguments string) string {
	return r.ExecuteWithContext(ctx, name, rawArguments, "", "")
}

// ExecuteWithContext is Execute plus itinerary/session identifiers injected
// into the handler's args under reserved keys (see executionContext).
func (r *ToolRegistry) ExecuteWithContext(ctx context.Context, name string, rawArguments string, itineraryID, sessionKey string) string {
	tool, ok := r.tools[name]
	if !ok {
		return envelopeError(fmt.Sprintf("unknown tool: %s", name))
	}

	args, err := parseArguments(rawArguments)
	if err != nil {
		return envelopeError(fmt.Sprintf("invalid_arguments: %s: %v", name, err))
	}

	if err := validateArgs(r.schemas[name], args); err != nil {
		return envelopeError(err.Error())
	}

	args = withExecutionContext(args, itineraryID, sessionKey)
	result, err := tool.Execute(ctx, args)
	if err != nil {
		return envelopeError(err.Error())
	}
	return envelopeSuccess(result)
}

// envelope is the wire shape of a tool call's result:
// `{toolCallId, success, result | error}` (toolCallId is
// layered on by the agent loop, which owns the ToolCall.ID).
type envelope struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func envelopeSuccess(result string) string {
	raw := json.RawMessage(result)
	if !json.Valid(raw) {
		quoted, _ := json.Marshal(result)
		raw = quoted
	}
	body, err := json.Marshal(envelope{Success: true, Result: raw})
	if err != nil {
		return `{"success":true}`
	}
	return string(body)
}

func envelopeError(msg string) string {
	body, _ := json.Marshal(envelope{Success: false, Error: msg})
	return string(body)
}

func parseArguments(raw string) (map[string]interface{}, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("empty arguments")
	}
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	return args, nil
}

// Specs returns ToolDefinition-shaped descriptors for the given catalog of
// tool names, in the order given, skipping any name not registered.
func (r *ToolRegistry) Specs(names []string) []ToolSpec {
	out := make([]ToolSpec, 0, len(names))
	for _, n := range names {
		t, ok := r.tools[n]
		if !ok {
			continue
		}
		out = append(out, ToolSpec{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return out
}

// ToolSpec is the provider-agnostic tool declaration shape; callers adapt
// it into a provider's ToolDefinition wire format.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}
