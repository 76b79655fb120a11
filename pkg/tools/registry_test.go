package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/tripdesigner/agent/pkg/providers"
)

type echoTool struct{}

func (echoTool) Name() string        { return "echo" }
func (echoTool) Description() string { return "echoes its args back" }
func (echoTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"message": map[string]interface{}{"type": "string"}},
		"required": []interface{}{"message"},
	}
}
func (echoTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	msg, _ := args["message"].(string)
	return fmt.Sprintf(`{"echo":%q}`, msg), nil
}

type failingTool struct{}

func (failingTool) Name() string                         { return "fail" }
func (failingTool) Description() string                  { return "always fails" }
func (failingTool) Parameters() map[string]interface{}   { return nil }
func (failingTool) Execute(context.Context, map[string]interface{}) (string, error) {
	return "", fmt.Errorf("boom")
}

func TestExecuteEmptyArgumentsFailsParseGuard(t *testing.T) {
	r := NewToolRegistry()
	r.Register(failingTool{})
	for _, raw := range []string{"", "   \n\t"} {
		out := r.Execute(context.Background(), "fail", raw)
		var env envelope
		if err := json.Unmarshal([]byte(out), &env); err != nil {
			t.Fatalf("unmarshal envelope: %v", err)
		}
		if env.Success {
			t.Fatalf("expected failure envelope for raw=%q", raw)
		}
		if !contains(env.Error, "invalid_arguments") || !contains(env.Error, "fail") {
			t.Errorf("Error = %q, want invalid_arguments naming the tool", env.Error)
		}
	}
}

func TestExecuteHandlerErrorFoldedIntoEnvelope(t *testing.T) {
	r := NewToolRegistry()
	r.Register(failingTool{})
	out := r.Execute(context.Background(), "fail", "{}")
	var env envelope
	if err := json.Unmarshal([]byte(out), &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Success {
		t.Fatal("expected failure envelope")
	}
	if env.Error != "boom" {
		t.Errorf("Error = %q, want boom", env.Error)
	}
}

func TestExecuteInvalidJSONProducesInvalidArgumentsError(t *testing.T) {
	r := NewToolRegistry()
	r.Register(echoTool{})
	out := r.Execute(context.Background(), "echo", "{not json")
	var env envelope
	if err := json.Unmarshal([]byte(out), &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Success {
		t.Fatal("expected failure envelope for invalid JSON")
	}
	if !contains(env.Error, "invalid_arguments") {
		t.Errorf("Error = %q, want invalid_arguments prefix", env.Error)
	}
}

func TestExecuteMissingRequiredFieldFailsSchemaValidation(t *testing.T) {
	r := NewToolRegistry()
	r.Register(echoTool{})
	out := r.Execute(context.Background(), "echo", "{}")
	var env envelope
	if err := json.Unmarshal([]byte(out), &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Success {
		t.Fatal("expected schema validation failure for missing required field")
	}
}

func TestExecuteUnknownToolReturnsError(t *testing.T) {
	r := NewToolRegistry()
	out := r.Execute(context.Background(), "nope", "{}")
	var env envelope
	json.Unmarshal([]byte(out), &env)
	if env.Success {
		t.Fatal("expected error envelope for unknown tool")
	}
}

func TestExecuteSuccessEmbedsRawJSONResult(t *testing.T) {
	r := NewToolRegistry()
	r.Register(echoTool{})
	out := r.Execute(context.Background(), "echo", `{"message":"hi"}`)
	var env envelope
	if err := json.Unmarshal([]byte(out), &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if !env.Success {
		t.Fatalf("expected success, got error %q", env.Error)
	}
	var inner map[string]string
	if err := json.Unmarshal(env.Result, &inner); err != nil {
		t.Fatalf("Result was not embedded as raw JSON: %v (%s)", err, env.Result)
	}
	if inner["echo"] != "hi" {
		t.Errorf("echo = %q, want hi", inner["echo"])
	}
}

func TestExecutionContextInjectedIntoArgs(t *testing.T) {
	var captured map[string]interface{}
	capture := capturingTool{fn: func(args map[string]interface{}) { captured = args }}

	r := NewToolRegistry()
	r.Register(capture)
	r.ExecuteWithContext(context.Background(), "capture", "{}", "it-1", "session-1")

	itinID, sessionKey := executionContext(captured)
	if itinID != "it-1" || sessionKey != "session-1" {
		t.Errorf("got itinID=%q sessionKey=%q, want it-1/session-1", itinID, sessionKey)
	}
}

type capturingTool struct {
	fn func(args map[string]interface{})
}

func (capturingTool) Name() string                       { return "capture" }
func (capturingTool) Description() string                { return "captures its args" }
func (capturingTool) Parameters() map[string]interface{} { return nil }
func (c capturingTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	c.fn(args)
	return "{}", nil
}

func TestExecuteToolCallsRunsBatchInOrder(t *testing.T) {
	r := NewToolRegistry()
	r.Register(echoTool{})

	calls := []providers.ToolCall{
		{ID: "1", Name: "echo", Function: &providers.FunctionCall{Name: "echo", Arguments: `{"message":"a"}`}},
		{ID: "2", Name: "echo", Function: &providers.FunctionCall{Name: "echo", Arguments: `{"message":"b"}`}},
	}
	results := r.ExecuteToolCalls(context.Background(), calls, ExecuteToolCallsOptions{})
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	if results[0].ToolCallID != "1" || results[1].ToolCallID != "2" {
		t.Errorf("results out of order: %+v", results)
	}
}

func TestExecuteToolCallsRecoversPanic(t *testing.T) {
	r := NewToolRegistry()
	r.Register(panicTool{})
	calls := []providers.ToolCall{{ID: "1", Name: "panic", Function: &providers.FunctionCall{Arguments: "{}"}}}
	results := r.ExecuteToolCalls(context.Background(), calls, ExecuteToolCallsOptions{})
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
	var env envelope
	if err := json.Unmarshal([]byte(results[0].Content), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Success {
		t.Fatal("expected panic to produce a failure envelope")
	}
}

type panicTool struct{}

func (panicTool) Name() string                       { return "panic" }
func (panicTool) Description() string                { return "panics" }
func (panicTool) Parameters() map[string]interface{} { return nil }
func (panicTool) Execute(context.Context, map[string]interface{}) (string, error) {
	panic("kaboom")
}

func TestExecuteToolCallsRespectsTimeout(t *testing.T) {
	r := NewToolRegistry()
	r.Register(slowTool{})
	calls := []providers.ToolCall{{ID: "1", Name: "slow", Function: &providers.FunctionCall{Arguments: "{}"}}}
	results := r.ExecuteToolCalls(context.Background(), calls, ExecuteToolCallsOptions{Timeout: 10 * time.Millisecond})
	var env envelope
	json.Unmarshal([]byte(results[0].Content), &env)
	if env.Success {
		t.Fatal("expected timeout failure")
	}
}

type slowTool struct{}

func (slowTool) Name() string                       { return "slow" }
func (slowTool) Description() string                { return "sleeps" }
func (slowTool) Parameters() map[string]interface{} { return nil }
func (slowTool) Execute(ctx context.Context, _ map[string]interface{}) (string, error) {
	select {
	case <-time.After(200 * time.Millisecond):
		return "{}", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestCatalogForSelectsEssentialOnlyOnFirstEmptyTurn(t *testing.T) {
	if got := CatalogFor(true, true); len(got) != len(Essential) {
		t.Errorf("len(CatalogFor(true,true)) = %d, want %d", len(got), len(Essential))
	}
	if got := CatalogFor(true, false); len(got) != len(Full) {
		t.Errorf("len(CatalogFor(true,false)) = %d, want %d", len(got), len(Full))
	}
	if got := CatalogFor(false, true); len(got) != len(Full) {
		t.Errorf("len(CatalogFor(false,true)) = %d, want %d", len(got), len(Full))
	}
}

func TestEssentialIsSubsetOfFull(t *testing.T) {
	full := make(map[string]bool, len(Full))
	for _, n := range Full {
		full[n] = true
	}
	for _, n := range Essential {
		if !full[n] {
			t.Errorf("essential tool %q missing from Full catalog", n)
		}
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (func() bool {
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if haystack[i:i+len(needle)] == needle {
				return true
			}
		}
		return false
	})()
}
