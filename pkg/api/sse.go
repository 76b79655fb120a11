package api

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/tripdesigner/agent/pkg/agentloop"
)

// Wire payload shapes, one per SSE event type.

type textPayload struct {
	Content string `json:"content"`
}

type toolCallPayload struct {
	ID   string                 `json:"id"`
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args"`
}

type toolResultPayload struct {
	ToolCallID string          `json:"toolCallId"`
	Success    bool            `json:"success"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
}

type donePayload struct {
	ItineraryUpdated bool     `json:"itineraryUpdated"`
	SegmentsModified []string `json:"segmentsModified"`
	TokensUsed       int      `json:"tokensUsed"`
	CostUSD          float64  `json:"costUSD"`
	Warning          string   `json:"warning,omitempty"`
}

type errorPayload struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// writeSSEEvent encodes one TurnEvent as an SSE record:
// `event: <type>\ndata: <JSON>\n\n`.
func writeSSEEvent(w io.Writer, ev agentloop.TurnEvent) error {
	var payload interface{}
	switch ev.Kind {
	case agentloop.EventText:
		payload = textPayload{Content: ev.Content}
	case agentloop.EventToolCall:
		payload = toolCallPayload{ID: ev.ToolCallID, Name: ev.ToolName, Args: ev.ToolArgs}
	case agentloop.EventToolResult:
		p := toolResultPayload{ToolCallID: ev.ToolCallID, Success: ev.Success, Error: ev.Error}
		if ev.Result != "" && json.Valid([]byte(ev.Result)) {
			p.Result = json.RawMessage(ev.Result)
		}
		payload = p
	case agentloop.EventDone:
		segments := ev.SegmentsModified
		if segments == nil {
			segments = []string{}
		}
		payload = donePayload{
			ItineraryUpdated: ev.ItineraryUpdated,
			SegmentsModified: segments,
			TokensUsed:       ev.TokensUsed,
			CostUSD:          ev.CostUSD,
			Warning:          ev.Warning,
		}
	case agentloop.EventError:
		payload = errorPayload{Kind: ev.ErrorKind, Message: ev.Message, Retryable: ev.Retryable}
	default:
		return fmt.Errorf("api: unknown event kind %q", ev.Kind)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("api: encode event: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)
	return err
}
