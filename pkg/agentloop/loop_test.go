package agentloop

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tripdesigner/agent/pkg/config"
	"github.com/tripdesigner/agent/pkg/itinerary"
	"github.com/tripdesigner/agent/pkg/providers"
	"github.com/tripdesigner/agent/pkg/session"
	"github.com/tripdesigner/agent/pkg/tools"
)

// roundScript is one scripted streaming completion: the chunks to play, or
// blockOnCtx to hang until the caller's context is cancelled.
type roundScript struct {
	chunks     []providers.StreamChunk
	blockOnCtx bool
	err        error
}

type scriptedStream struct {
	ctx    context.Context
	script roundScript
	pos    int
}

func (s *scriptedStream) Recv() (providers.StreamChunk, error) {
	if s.script.blockOnCtx {
		<-s.ctx.Done()
		return providers.StreamChunk{}, s.ctx.Err()
	}
	if s.script.err != nil && s.pos >= len(s.script.chunks) {
		return providers.StreamChunk{}, s.script.err
	}
	if s.pos >= len(s.script.chunks) {
		return providers.StreamChunk{}, io.EOF
	}
	c := s.script.chunks[s.pos]
	s.pos++
	return c, nil
}

func (s *scriptedStream) Close() error { return nil }

// recordedCall captures what each ChatStream invocation was asked for.
type recordedCall struct {
	toolNames []string
	messages  []providers.Message
}

type scriptedProvider struct {
	mu        sync.Mutex
	rounds    []roundScript
	next      int
	calls     []recordedCall
	chatCalls int
	chatResp  string
	chatErr   error
}

func (p *scriptedProvider) GetDefaultModel() string { return "test-model" }

func (p *scriptedProvider) Chat(ctx context.Context, messages []providers.Message, toolDefs []providers.ToolDefinition, model string, options map[string]interface{}) (*providers.LLMResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chatCalls++
	if p.chatErr != nil {
		return nil, p.chatErr
	}
	return &providers.LLMResponse{Content: p.chatResp}, nil
}

func (p *scriptedProvider) ChatStream(ctx context.Context, messages []providers.Message, toolDefs []providers.ToolDefinition, model string, options map[string]interface{}) (providers.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(toolDefs))
	for _, d := range toolDefs {
		names = append(names, d.Function.Name)
	}
	msgs := make([]providers.Message, len(messages))
	copy(msgs, messages)
	p.calls = append(p.calls, recordedCall{toolNames: names, messages: msgs})
	if p.next >= len(p.rounds) {
		return &scriptedStream{ctx: ctx}, nil
	}
	script := p.rounds[p.next]
	p.next++
	return &scriptedStream{ctx: ctx, script: script}, nil
}

func testAgentConfig() config.AgentConfig {
	return config.AgentConfig{
		Model:                     "gpt-4o-mini",
		MaxTokens:                 4096,
		ContextLimitTokens:        128000,
		CompactionThreshold:       0.8,
		CompactionCooldownSeconds: 300,
		MaxToolRounds:             8,
	}
}

// newTestLoop wires a Loop over in-memory stores with one fresh itinerary
// bound to session key "sess-1".
func newTestLoop(t *testing.T, provider providers.LLMProvider, cfg config.AgentConfig) (*Loop, *session.SessionManager, itinerary.Store, string) {
	t.Helper()
	store := itinerary.NewMemoryStore()
	it := itinerary.NewItinerary("itin-1", "owner-1", time.Now())
	if err := store.Create(context.Background(), it); err != nil {
		t.Fatalf("create itinerary: %v", err)
	}
	registry, cache := tools.BuildRegistry(store, nil)
	sessions := session.NewSessionManager("")
	sessions.CreateForItinerary("sess-1", "itin-1")
	loop := NewLoop(provider, sessions, registry, cache, store, nil, cfg)
	return loop, sessions, store, "sess-1"
}

func collect(events <-chan TurnEvent) []TurnEvent {
	var out []TurnEvent
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func eventsOfKind(events []TurnEvent, kind EventKind) []TurnEvent {
	var out []TurnEvent
	for _, ev := range events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func TestFirstTurnUsesEssentialCatalog(t *testing.T) {
	provider := &scriptedProvider{rounds: []roundScript{
		{chunks: []providers.StreamChunk{
			{Content: "Tokyo sounds great! "},
			{Content: "When are you thinking of going?", FinishReason: "stop"},
		}},
	}}
	loop, _, _, key := newTestLoop(t, provider, testAgentConfig())

	events := collect(loop.ChatStream(context.Background(), key, "Plan a trip to Tokyo"))

	want := []string{"get_itinerary", "update_itinerary", "update_preferences", "search_web"}
	if len(provider.calls) != 1 {
		t.Fatalf("ChatStream calls = %d, want 1", len(provider.calls))
	}
	got := provider.calls[0].toolNames
	if len(got) != len(want) {
		t.Fatalf("tool catalog = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("tool[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	texts := eventsOfKind(events, EventText)
	if len(texts) != 2 {
		t.Fatalf("text events = %d, want 2", len(texts))
	}
	last := events[len(events)-1]
	if last.Kind != EventDone {
		t.Fatalf("last event = %v, want done", last.Kind)
	}
	if last.ItineraryUpdated {
		t.Error("ItineraryUpdated = true, want false (no tool ran)")
	}
}

func TestSecondTurnUsesFullCatalog(t *testing.T) {
	provider := &scriptedProvider{rounds: []roundScript{
		{chunks: []providers.StreamChunk{{Content: "ok", FinishReason: "stop"}}},
		{chunks: []providers.StreamChunk{{Content: "ok again", FinishReason: "stop"}}},
	}}
	loop, _, _, key := newTestLoop(t, provider, testAgentConfig())

	collect(loop.ChatStream(context.Background(), key, "first"))
	collect(loop.ChatStream(context.Background(), key, "second"))

	if len(provider.calls) != 2 {
		t.Fatalf("ChatStream calls = %d, want 2", len(provider.calls))
	}
	if got := len(provider.calls[1].toolNames); got != len(tools.Full) {
		t.Errorf("second turn catalog size = %d, want %d (full)", got, len(tools.Full))
	}
}

func TestToolCallFragmentAccumulation(t *testing.T) {
	// One tool call whose arguments arrive in three fragments, interleaved
	// with content deltas; the delivered arguments string must equal the
	// exact concatenation.
	provider := &scriptedProvider{rounds: []roundScript{
		{chunks: []providers.StreamChunk{
			{ToolCallDeltas: []providers.ToolCallDelta{{Index: 0, ID: "c1", Name: "update_itinerary", ArgumentsFragment: ""}}},
			{Content: "Updating"},
			{ToolCallDeltas: []providers.ToolCallDelta{{Index: 0, ArgumentsFragment: `{"title":"Barce`}}},
			{ToolCallDeltas: []providers.ToolCallDelta{{Index: 0, ArgumentsFragment: `lona Trip"}`}}},
			{FinishReason: "tool_calls"},
		}},
		{chunks: []providers.StreamChunk{{Content: "Done — titled it Barcelona Trip.", FinishReason: "stop"}}},
	}}
	loop, sessions, store, key := newTestLoop(t, provider, testAgentConfig())

	events := collect(loop.ChatStream(context.Background(), key, "Call it Barcelona Trip"))

	calls := eventsOfKind(events, EventToolCall)
	if len(calls) != 1 {
		t.Fatalf("tool_call events = %d, want 1", len(calls))
	}
	if calls[0].ToolCallID != "c1" || calls[0].ToolName != "update_itinerary" {
		t.Errorf("tool_call = %s/%s, want c1/update_itinerary", calls[0].ToolCallID, calls[0].ToolName)
	}
	if got := calls[0].ToolArgs["title"]; got != "Barcelona Trip" {
		t.Errorf("parsed args title = %v, want Barcelona Trip", got)
	}

	results := eventsOfKind(events, EventToolResult)
	if len(results) != 1 || !results[0].Success {
		t.Fatalf("tool_result = %+v, want one success", results)
	}

	// The persisted assistant message carries the accumulated raw arguments.
	msgs := sessions.GetHistory(key)
	var assistant *providers.Message
	for i := range msgs {
		if msgs[i].Role == "assistant" && len(msgs[i].ToolCalls) > 0 {
			assistant = &msgs[i]
			break
		}
	}
	if assistant == nil {
		t.Fatal("no assistant message with tool calls persisted")
	}
	if got := assistant.ToolCalls[0].Function.Arguments; got != `{"title":"Barcelona Trip"}` {
		t.Errorf("accumulated arguments = %q", got)
	}

	// The mutation actually landed.
	it, err := store.Get(context.Background(), "itin-1")
	if err != nil {
		t.Fatalf("get itinerary: %v", err)
	}
	if it.Title != "Barcelona Trip" {
		t.Errorf("itinerary title = %q, want Barcelona Trip", it.Title)
	}
}

func TestSecondRoundCarriesSameToolCatalog(t *testing.T) {
	provider := &scriptedProvider{rounds: []roundScript{
		{chunks: []providers.StreamChunk{
			{ToolCallDeltas: []providers.ToolCallDelta{{Index: 0, ID: "c1", Name: "get_itinerary", ArgumentsFragment: "{}"}}},
			{FinishReason: "tool_calls"},
		}},
		{chunks: []providers.StreamChunk{{Content: "Here's your trip so far.", FinishReason: "stop"}}},
	}}
	loop, _, _, key := newTestLoop(t, provider, testAgentConfig())

	events := collect(loop.ChatStream(context.Background(), key, "what do we have"))

	if len(provider.calls) != 2 {
		t.Fatalf("ChatStream calls = %d, want 2 (round 1 + continuation)", len(provider.calls))
	}
	first, second := provider.calls[0].toolNames, provider.calls[1].toolNames
	if len(first) != len(second) {
		t.Fatalf("catalog size changed between rounds: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("catalog[%d] changed between rounds: %q vs %q", i, first[i], second[i])
		}
	}

	// Event order: tool_call precedes its tool_result, which precedes round
	// 2's text, with done last.
	var orderedKinds []EventKind
	for _, ev := range events {
		orderedKinds = append(orderedKinds, ev.Kind)
	}
	want := []EventKind{EventToolCall, EventToolResult, EventText, EventDone}
	if len(orderedKinds) != len(want) {
		t.Fatalf("event kinds = %v, want %v", orderedKinds, want)
	}
	for i := range want {
		if orderedKinds[i] != want[i] {
			t.Fatalf("event[%d] = %v, want %v", i, orderedKinds[i], want[i])
		}
	}
}

func TestMetadataOnlyUpdateSetsItineraryUpdated(t *testing.T) {
	provider := &scriptedProvider{rounds: []roundScript{
		{chunks: []providers.StreamChunk{
			{ToolCallDeltas: []providers.ToolCallDelta{{
				Index: 0, ID: "c1", Name: "update_itinerary",
				ArgumentsFragment: `{"title":"Barcelona Trip","destinations":[{"name":"Barcelona","city":"Barcelona"}]}`,
			}}},
			{FinishReason: "tool_calls"},
		}},
		{chunks: []providers.StreamChunk{{Content: "Set.", FinishReason: "stop"}}},
	}}
	loop, _, _, key := newTestLoop(t, provider, testAgentConfig())

	events := collect(loop.ChatStream(context.Background(), key, "make it a Barcelona trip"))

	done := events[len(events)-1]
	if done.Kind != EventDone {
		t.Fatalf("last event = %v, want done", done.Kind)
	}
	if !done.ItineraryUpdated {
		t.Error("ItineraryUpdated = false, want true for metadata-only update")
	}
	if len(done.SegmentsModified) != 0 {
		t.Errorf("SegmentsModified = %v, want empty", done.SegmentsModified)
	}
}

func TestInvalidToolArgumentsSurfaceAsFailedResult(t *testing.T) {
	provider := &scriptedProvider{rounds: []roundScript{
		{chunks: []providers.StreamChunk{
			{ToolCallDeltas: []providers.ToolCallDelta{{Index: 0, ID: "c1", Name: "update_itinerary", ArgumentsFragment: `{"title":`}}},
			{FinishReason: "tool_calls"},
		}},
		{chunks: []providers.StreamChunk{{Content: "Sorry, let me retry.", FinishReason: "stop"}}},
	}}
	loop, _, _, key := newTestLoop(t, provider, testAgentConfig())

	events := collect(loop.ChatStream(context.Background(), key, "rename it"))

	results := eventsOfKind(events, EventToolResult)
	if len(results) != 1 {
		t.Fatalf("tool_result events = %d, want 1", len(results))
	}
	if results[0].Success {
		t.Error("tool_result success = true, want failed result for malformed JSON")
	}
	if !strings.Contains(results[0].Error, "invalid_arguments") {
		t.Errorf("error = %q, want invalid_arguments mention", results[0].Error)
	}
	if events[len(events)-1].Kind != EventDone {
		t.Error("turn should still end with done after a failed tool call")
	}
}

func TestSessionBusy(t *testing.T) {
	provider := &scriptedProvider{}
	loop, sessions, _, key := newTestLoop(t, provider, testAgentConfig())

	if err := sessions.Lock(key); err != nil {
		t.Fatalf("lock: %v", err)
	}
	defer sessions.Unlock(key)

	events := collect(loop.ChatStream(context.Background(), key, "hello"))
	if len(events) != 1 || events[0].Kind != EventError || events[0].ErrorKind != KindSessionBusy {
		t.Fatalf("events = %+v, want single session_busy error", events)
	}
}

func TestCostLimitRefusedPreFlight(t *testing.T) {
	cfg := testAgentConfig()
	cfg.SessionCostLimitUSD = 0.5
	provider := &scriptedProvider{}
	loop, sessions, _, key := newTestLoop(t, provider, cfg)
	sessions.AddCost(key, 1.0)

	events := collect(loop.ChatStream(context.Background(), key, "hello"))
	if len(events) != 1 || events[0].ErrorKind != KindCostLimitExceeded {
		t.Fatalf("events = %+v, want cost_limit_exceeded", events)
	}
	if len(provider.calls) != 0 {
		t.Error("provider was called despite cost refusal")
	}
}

func TestCancellationMidSecondRound(t *testing.T) {
	provider := &scriptedProvider{rounds: []roundScript{
		{chunks: []providers.StreamChunk{
			{ToolCallDeltas: []providers.ToolCallDelta{{Index: 0, ID: "c1", Name: "get_itinerary", ArgumentsFragment: "{}"}}},
			{FinishReason: "tool_calls"},
		}},
		{blockOnCtx: true},
	}}
	loop, sessions, _, key := newTestLoop(t, provider, testAgentConfig())

	ctx, cancel := context.WithCancel(context.Background())
	events := loop.ChatStream(ctx, key, "show me the plan")

	sawToolResult := false
	for ev := range events {
		if ev.Kind == EventToolResult {
			sawToolResult = true
			cancel()
		}
	}
	cancel()
	if !sawToolResult {
		t.Fatal("never saw the round-1 tool_result")
	}

	msgs := sessions.GetHistory(key)
	var roles []string
	for _, m := range msgs {
		roles = append(roles, m.Role)
	}
	want := []string{"user", "assistant", "tool"}
	if len(roles) != len(want) {
		t.Fatalf("persisted roles = %v, want %v (no round-2 assistant)", roles, want)
	}
	for i := range want {
		if roles[i] != want[i] {
			t.Fatalf("persisted roles = %v, want %v", roles, want)
		}
	}
}

func TestCompactionRunsOnceAndKeepsTail(t *testing.T) {
	cfg := testAgentConfig()
	cfg.ContextLimitTokens = 40000
	cfg.CompactionThreshold = 0.5

	provider := &scriptedProvider{
		chatResp: `{"tripProfile":{"pace":"balanced"},"confirmedSegments":["flight JFK-BCN"],"pendingDecisions":["hotel"],"importantNotes":[]}`,
		rounds: []roundScript{
			{chunks: []providers.StreamChunk{{Content: "Caught up.", FinishReason: "stop"}}},
		},
	}
	loop, sessions, _, key := newTestLoop(t, provider, cfg)

	filler := strings.Repeat("x", 2000)
	for i := 0; i < 30; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		sessions.AddMessage(key, role, filler)
	}
	tail := sessions.GetHistory(key)
	tail = tail[len(tail)-9:] // the appended user turn makes 10 verbatim

	events := collect(loop.ChatStream(context.Background(), key, "continue planning"))

	if provider.chatCalls != 1 {
		t.Fatalf("compaction Chat calls = %d, want exactly 1", provider.chatCalls)
	}
	sess := sessions.GetOrCreate(key)
	if sess.Metadata.LastCompactedAt.IsZero() {
		t.Error("LastCompactedAt not stamped")
	}

	// The completion opened after compaction carried a reduced transcript:
	// synthesized summary + 10 verbatim messages.
	if len(provider.calls) != 1 {
		t.Fatalf("ChatStream calls = %d, want 1", len(provider.calls))
	}
	sent := provider.calls[0].messages
	// system + synthesized + 10 verbatim
	if len(sent) != 12 {
		t.Fatalf("messages sent after compaction = %d, want 12", len(sent))
	}
	estimate := session.EstimateTokens(sent[1:], false)
	if float64(estimate) > cfg.CompactionThreshold*float64(cfg.ContextLimitTokens) {
		t.Errorf("post-compaction estimate %d still over threshold", estimate)
	}
	for i, m := range tail {
		got := sent[len(sent)-10+i]
		if got.Role != m.Role || got.Content != m.Content {
			t.Fatalf("verbatim tail message %d altered by compaction", i)
		}
	}

	if events[len(events)-1].Kind != EventDone {
		t.Error("turn should end with done")
	}
}

func TestRoundCapStopsPathologicalLoop(t *testing.T) {
	cfg := testAgentConfig()
	cfg.MaxToolRounds = 2

	var rounds []roundScript
	for i := 0; i < 5; i++ {
		rounds = append(rounds, roundScript{chunks: []providers.StreamChunk{
			{ToolCallDeltas: []providers.ToolCallDelta{{Index: 0, Name: "get_itinerary", ArgumentsFragment: "{}"}}},
			{FinishReason: "tool_calls"},
		}})
	}
	provider := &scriptedProvider{rounds: rounds}
	loop, _, _, key := newTestLoop(t, provider, cfg)

	events := collect(loop.ChatStream(context.Background(), key, "loop forever"))

	if len(provider.calls) != 2 {
		t.Fatalf("ChatStream calls = %d, want 2 (capped)", len(provider.calls))
	}
	done := events[len(events)-1]
	if done.Kind != EventDone {
		t.Fatalf("last event = %v, want done", done.Kind)
	}
	if done.Warning == "" {
		t.Error("done should carry a round-cap warning")
	}
}

func TestLLMErrorBeforeAnyOutputIsRetryable(t *testing.T) {
	provider := &scriptedProvider{rounds: []roundScript{
		{err: io.ErrUnexpectedEOF},
	}}
	loop, _, _, key := newTestLoop(t, provider, testAgentConfig())

	events := collect(loop.ChatStream(context.Background(), key, "hello"))
	last := events[len(events)-1]
	if last.Kind != EventError || last.ErrorKind != KindLLMAPIError || !last.Retryable {
		t.Fatalf("last event = %+v, want retryable llm_api_error", last)
	}
}

func TestTruncatedPersistenceFullLiveResult(t *testing.T) {
	// A tool result longer than 2000 chars is truncated in session history
	// but sent to the model in full on the next round.
	provider := &scriptedProvider{rounds: []roundScript{
		{chunks: []providers.StreamChunk{
			{ToolCallDeltas: []providers.ToolCallDelta{{
				Index: 0, ID: "c1", Name: "get_itinerary", ArgumentsFragment: "{}",
			}}},
			{FinishReason: "tool_calls"},
		}},
		{chunks: []providers.StreamChunk{{Content: "quite a packed trip", FinishReason: "stop"}}},
	}}
	loop, sessions, store, key := newTestLoop(t, provider, testAgentConfig())

	// Pack the itinerary so the get_itinerary projection exceeds the
	// persistence limit.
	it, err := store.Get(context.Background(), "itin-1")
	if err != nil {
		t.Fatalf("get itinerary: %v", err)
	}
	base := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 40; i++ {
		it.Segments = append(it.Segments, itinerary.Segment{
			ID:     strings.Repeat("s", 8) + string(rune('a'+i%26)),
			Type:   itinerary.KindActivity,
			Status: itinerary.StatusTentative,
			Start:  base.Add(time.Duration(i) * time.Hour),
			End:    base.Add(time.Duration(i+1) * time.Hour),
			Name:   "Guided walking tour of the old town, segment " + strings.Repeat("x", 40),
		})
	}
	if _, err := store.Update(context.Background(), it); err != nil {
		t.Fatalf("update itinerary: %v", err)
	}

	collect(loop.ChatStream(context.Background(), key, "show me everything"))

	var persistedTool *providers.Message
	msgs := sessions.GetHistory(key)
	for i := range msgs {
		if msgs[i].Role == "tool" {
			persistedTool = &msgs[i]
		}
	}
	if persistedTool == nil {
		t.Fatal("no tool message persisted")
	}
	if len(persistedTool.Content) > toolResultPersistLimit+len("... [truncated]") {
		t.Errorf("persisted tool result length = %d, want truncated", len(persistedTool.Content))
	}

	// The round-2 request saw the full value.
	if len(provider.calls) != 2 {
		t.Fatalf("ChatStream calls = %d, want 2", len(provider.calls))
	}
	var liveTool *providers.Message
	for i, m := range provider.calls[1].messages {
		if m.Role == "tool" {
			liveTool = &provider.calls[1].messages[i]
		}
	}
	if liveTool == nil {
		t.Fatal("round 2 request carried no tool message")
	}
	if strings.Contains(liveTool.Content, "[truncated]") {
		t.Error("round 2 saw the truncated value, want the full result")
	}
}
