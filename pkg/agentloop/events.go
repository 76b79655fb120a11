package agentloop

// EventKind tags the variant of a TurnEvent.
type EventKind string

const (
	EventText       EventKind = "text"
	EventToolCall   EventKind = "tool_call"
	EventToolResult EventKind = "tool_result"
	EventDone       EventKind = "done"
	EventError      EventKind = "error"
)

// Failure kinds surfaced on an EventError TurnEvent.
const (
	KindLLMAPIError          = "llm_api_error"
	KindCostLimitExceeded    = "cost_limit_exceeded"
	KindContextLimitExceeded = "context_limit_exceeded"
	KindSessionBusy          = "session_busy"
	KindNoItinerary          = "no_itinerary"
)

// TurnEvent is the flat tagged-union wire shape chatStream emits. Only the
// fields relevant to Kind are populated; the rest carry zero values.
type TurnEvent struct {
	Kind EventKind

	// EventText
	Content string

	// EventToolCall
	ToolCallID string
	ToolName   string
	ToolArgs   map[string]interface{}

	// EventToolResult (ToolCallID shared with EventToolCall)
	Success bool
	Result  string
	Error   string

	// EventDone
	ItineraryUpdated bool
	SegmentsModified []string
	TokensUsed       int
	CostUSD          float64
	Warning          string

	// EventError (Message/kind distinct from tool_result's Error field)
	ErrorKind string
	Message   string
	Retryable bool
}

func textEvent(content string) TurnEvent {
	return TurnEvent{Kind: EventText, Content: content}
}

func toolCallEvent(id, name string, args map[string]interface{}) TurnEvent {
	return TurnEvent{Kind: EventToolCall, ToolCallID: id, ToolName: name, ToolArgs: args}
}

func toolResultEvent(id string, success bool, result, errMsg string) TurnEvent {
	return TurnEvent{Kind: EventToolResult, ToolCallID: id, Success: success, Result: result, Error: errMsg}
}

func doneEvent(itineraryUpdated bool, segmentsModified []string, tokensUsed int, costUSD float64, warning string) TurnEvent {
	return TurnEvent{
		Kind:             EventDone,
		ItineraryUpdated: itineraryUpdated,
		SegmentsModified: segmentsModified,
		TokensUsed:       tokensUsed,
		CostUSD:          costUSD,
		Warning:          warning,
	}
}

func errorEvent(kind, message string, retryable bool) TurnEvent {
	return TurnEvent{Kind: EventError, ErrorKind: kind, Message: message, Retryable: retryable}
}
