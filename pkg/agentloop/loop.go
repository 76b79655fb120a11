// Package agentloop implements the streaming agent loop: chatStream
// accumulates tool-call fragments across provider stream chunks, runs the
// tool executor against a per-turn itinerary snapshot, re-enters the model
// with results, and emits a TurnEvent sequence to the caller. It is
// generalized from a hook-driven, single-return run loop into an
// event-emitting generator, since callers consume an async sequence of
// discrete events rather than one final result.
package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/tripdesigner/agent/pkg/config"
	"github.com/tripdesigner/agent/pkg/itinerary"
	"github.com/tripdesigner/agent/pkg/kb"
	"github.com/tripdesigner/agent/pkg/logger"
	"github.com/tripdesigner/agent/pkg/providers"
	"github.com/tripdesigner/agent/pkg/session"
	"github.com/tripdesigner/agent/pkg/tools"
)

// toolResultTimeout bounds a single tool call's execution within a round.
const toolResultTimeout = 30 * time.Second

// Loop wires the session manager, tool registry/cache, itinerary store,
// optional knowledge base, and an LLM provider into the streaming round
// algorithm. One Loop instance is shared across all sessions; concurrency
// safety per session is the SessionManager's Lock/Unlock contract.
type Loop struct {
	Provider    providers.LLMProvider
	Sessions    *session.SessionManager
	Registry    *tools.ToolRegistry
	Cache       *tools.ItineraryCache
	Itineraries itinerary.Store
	KB          *kb.Store
	Config      config.AgentConfig
}

// NewLoop constructs a Loop from its collaborators.
func NewLoop(
	provider providers.LLMProvider,
	sessions *session.SessionManager,
	registry *tools.ToolRegistry,
	cache *tools.ItineraryCache,
	itineraries itinerary.Store,
	kbStore *kb.Store,
	cfg config.AgentConfig,
) *Loop {
	return &Loop{
		Provider:    provider,
		Sessions:    sessions,
		Registry:    registry,
		Cache:       cache,
		Itineraries: itineraries,
		KB:          kbStore,
		Config:      cfg,
	}
}

// ChatStream runs one turn of the agent loop against sessionKey and returns
// a channel of TurnEvent. The channel is always closed by the time the
// producing goroutine exits; a session_busy error is the only case where
// the channel is pre-populated and closed synchronously, before any
// goroutine is spawned, so a second concurrent call on the same session
// never blocks on the first.
func (l *Loop) ChatStream(ctx context.Context, sessionKey, userMessage string) <-chan TurnEvent {
	events := make(chan TurnEvent, 8)

	if err := l.Sessions.Lock(sessionKey); err != nil {
		events <- errorEvent(KindSessionBusy, err.Error(), true)
		close(events)
		return events
	}

	go func() {
		defer l.Sessions.Unlock(sessionKey)
		defer close(events)
		l.runTurn(ctx, sessionKey, userMessage, events)
	}()

	return events
}

// toolCallBuilder accumulates one in-progress tool call's streamed
// fragments.
type toolCallBuilder struct {
	id      strings.Builder
	name    strings.Builder
	argsBuf strings.Builder
}

func (l *Loop) runTurn(ctx context.Context, sessionKey, userMessage string, events chan<- TurnEvent) {
	// emit delivers one event unless the consumer has gone away; a false
	// return means stop producing and leave the session consistent.
	emit := func(ev TurnEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	sess := l.Sessions.GetOrCreate(sessionKey)
	if sess.ItineraryID == "" {
		emit(errorEvent(KindNoItinerary, "session has no bound itinerary", false))
		return
	}

	l.Sessions.AddMessage(sessionKey, "user", userMessage)
	history := l.Sessions.GetHistory(sessionKey)

	it, err := l.Itineraries.Get(ctx, sess.ItineraryID)
	if err != nil {
		emit(errorEvent(KindLLMAPIError, fmt.Sprintf("load itinerary: %v", err), false))
		return
	}

	userMessageCount := 0
	for _, m := range history {
		if m.Role == "user" {
			userMessageCount++
		}
	}
	isFirstTurn := userMessageCount == 1
	itineraryEmpty := it.IsEmpty()
	essential := isFirstTurn && itineraryEmpty

	if l.Config.SessionCostLimitUSD > 0 && sess.Metadata.CostUSD >= l.Config.SessionCostLimitUSD {
		emit(errorEvent(KindCostLimitExceeded, "session cost limit reached", false))
		return
	}

	var ragResults []kb.Result
	if !essential && l.KB != nil {
		outcome := l.KB.Search(ctx, userMessage, destinationHint(it), 3)
		if outcome.Source == "knowledge_base" {
			ragResults = outcome.Results
		}
	}

	cooldown := time.Duration(l.Config.CompactionCooldownSeconds) * time.Second
	estimated := session.EstimateTokens(history, essential)
	if session.ShouldCompact(estimated, l.Config.ContextLimitTokens, l.Config.CompactionThreshold, sess.Metadata.LastCompactedAt, cooldown) {
		compacted, ok := session.Compact(ctx, l.Provider, l.Config.Model, history, it)
		if ok {
			l.Sessions.ReplaceHistory(sessionKey, compacted)
			l.Sessions.MarkCompacted(sessionKey)
			history = compacted
		} else {
			logger.WarnCF("agentloop", "compaction failed, proceeding without it",
				map[string]interface{}{"session": sessionKey})
		}
		estimated = session.EstimateTokens(history, essential)
	}
	if l.Config.ContextLimitTokens > 0 && estimated > l.Config.ContextLimitTokens {
		emit(errorEvent(KindContextLimitExceeded, "session still over context limit after compaction", false))
		return
	}

	l.Cache.Reset()

	catalogNames := tools.CatalogFor(isFirstTurn, itineraryEmpty)
	toolDefs := toDefinitions(l.Registry.Specs(catalogNames))
	systemPrompt := buildSystemPrompt(essential, it, ragResults)

	requestBudget := providers.BudgetFromContextWindow(l.Config.ContextLimitTokens)
	chatOptions := providers.ChatOptions{
		MaxTokens:   l.Config.MaxTokens,
		Temperature: l.Config.Temperature,
	}.ToMap()

	itineraryUpdated := false
	modifiedSegments := map[string]bool{}
	var turnCostUSD float64
	var warning string
	iteration := 0

	for {
		iteration++
		if ctx.Err() != nil {
			_ = l.Sessions.Save(sess)
			return
		}
		if l.Config.MaxToolRounds > 0 && iteration > l.Config.MaxToolRounds {
			warning = "tool round limit reached"
			break
		}

		messages := append([]providers.Message{{Role: "system", Content: systemPrompt}}, history...)
		requestMessages, budgetStats := providers.ApplyMessageBudget(messages, requestBudget)
		if budgetStats.Changed() {
			logger.DebugCF("agentloop", "request trimmed to message budget",
				map[string]interface{}{
					"truncated": budgetStats.Truncated,
					"dropped":   budgetStats.Dropped,
					"iteration": iteration,
				})
		}

		stream, err := l.Provider.ChatStream(ctx, requestMessages, toolDefs, l.Config.Model, chatOptions)
		if err != nil {
			emit(errorEvent(KindLLMAPIError, err.Error(), true))
			return
		}

		var accumulated strings.Builder
		inProgress := map[int]*toolCallBuilder{}
		var order []int
		var finishReason string
		var usage *providers.UsageInfo
		streamErr := error(nil)

		for {
			chunk, recvErr := stream.Recv()
			if recvErr == io.EOF {
				break
			}
			if recvErr != nil {
				streamErr = recvErr
				break
			}
			if chunk.Content != "" {
				accumulated.WriteString(chunk.Content)
				if !emit(textEvent(chunk.Content)) {
					_ = stream.Close()
					_ = l.Sessions.Save(sess)
					return
				}
			}
			for _, d := range chunk.ToolCallDeltas {
				b, ok := inProgress[d.Index]
				if !ok {
					b = &toolCallBuilder{}
					inProgress[d.Index] = b
					order = append(order, d.Index)
				}
				if d.ID != "" {
					b.id.WriteString(d.ID)
				}
				if d.Name != "" {
					b.name.WriteString(d.Name)
				}
				b.argsBuf.WriteString(d.ArgumentsFragment)
			}
			if chunk.FinishReason != "" {
				finishReason = chunk.FinishReason
			}
			if chunk.Usage != nil {
				usage = chunk.Usage
			}
		}
		_ = stream.Close()

		if usage != nil {
			turnCostUSD += calculateCostUSD(l.Config.Model, usage.PromptTokens, usage.CompletionTokens)
		}

		if streamErr != nil {
			if ctx.Err() != nil {
				// Consumer disconnect, not a provider failure: leave the
				// session at the last message boundary and stop producing.
				_ = l.Sessions.Save(sess)
				return
			}
			if accumulated.Len() == 0 && len(inProgress) == 0 {
				emit(errorEvent(KindLLMAPIError, streamErr.Error(), true))
				return
			}
			warning = "stream interrupted: " + streamErr.Error()
		}

		// The round carries tool calls when the provider emitted tool-call
		// deltas before the stream ended; otherwise this completion is
		// terminal for the turn.
		if len(inProgress) == 0 {
			logger.DebugCF("agentloop", "terminal completion",
				map[string]interface{}{"finish_reason": finishReason, "iteration": iteration})
			l.Sessions.AddFullMessage(sessionKey, providers.Message{Role: "assistant", Content: accumulated.String()})
			break
		}

		sort.Ints(order)
		toolCalls := make([]providers.ToolCall, 0, len(order))
		for _, idx := range order {
			b := inProgress[idx]
			id := b.id.String()
			if id == "" {
				id = fmt.Sprintf("call_%d_%d", iteration, idx)
			}
			name := b.name.String()
			argsJSON := b.argsBuf.String()
			toolCalls = append(toolCalls, providers.ToolCall{
				ID:       id,
				Type:     "function",
				Function: &providers.FunctionCall{Name: name, Arguments: argsJSON},
				Name:     name,
			})
		}

		for _, tc := range toolCalls {
			if !emit(toolCallEvent(tc.ID, tc.Name, parseArgsBestEffort(tc.Function.Arguments))) {
				_ = l.Sessions.Save(sess)
				return
			}
		}

		l.Sessions.AddFullMessage(sessionKey, providers.Message{
			Role:      "assistant",
			Content:   accumulated.String(),
			ToolCalls: toolCalls,
		})

		results := l.Registry.ExecuteToolCalls(ctx, toolCalls, tools.ExecuteToolCallsOptions{
			ItineraryID:  sess.ItineraryID,
			SessionKey:   sessionKey,
			Timeout:      toolResultTimeout,
			MaxParallel:  1, // sequential: handlers share one itinerary cache within a turn
			LogComponent: "agentloop",
			Iteration:    iteration,
			OnToolComplete: func(completed, total, idx int, call providers.ToolCall, result providers.Message) {
				success, resultJSON, errMsg, changed, segIDs := decodeEnvelope(result.Content)
				if changed {
					itineraryUpdated = true
				}
				for _, id := range segIDs {
					modifiedSegments[id] = true
				}
				emit(toolResultEvent(call.ID, success, resultJSON, errMsg))
			},
		})

		if ctx.Err() != nil {
			// Cancellation between executor calls: persist only the results
			// actually produced, skip round N+1 entirely.
			for _, r := range results {
				if isCancelledResult(r.Content) {
					continue
				}
				l.Sessions.AddFullMessage(sessionKey, truncateForPersistence(r))
			}
			_ = l.Sessions.Save(sess)
			return
		}

		for _, r := range results {
			l.Sessions.AddFullMessage(sessionKey, truncateForPersistence(r))
		}

		// The next round's request carries the full, untruncated results.
		history = append(history, providers.Message{
			Role:      "assistant",
			Content:   accumulated.String(),
			ToolCalls: toolCalls,
		})
		history = append(history, results...)
	}

	l.Sessions.AddCost(sessionKey, turnCostUSD)
	finalTokens := session.EstimateTokens(l.Sessions.GetHistory(sessionKey), essential)
	l.Sessions.SetTotalTokens(sessionKey, finalTokens)

	_ = l.Sessions.Save(sess)

	segments := make([]string, 0, len(modifiedSegments))
	for id := range modifiedSegments {
		segments = append(segments, id)
	}
	sort.Strings(segments)

	emit(doneEvent(itineraryUpdated, segments, finalTokens, sess.Metadata.CostUSD, warning))
}

// toolResultPersistLimit is the truncation length for tool results stored
// in session history; the full value is still what is sent to the model in
// the next round.
const toolResultPersistLimit = 2000

func truncateForPersistence(m providers.Message) providers.Message {
	if len(m.Content) <= toolResultPersistLimit {
		return m
	}
	out := m
	out.Content = m.Content[:toolResultPersistLimit] + "... [truncated]"
	return out
}

// isCancelledResult reports whether an envelope records a skipped-by-
// cancellation call rather than a completed execution.
func isCancelledResult(raw string) bool {
	var env struct {
		Success bool   `json:"success"`
		Error   string `json:"error,omitempty"`
	}
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return false
	}
	return !env.Success && strings.Contains(env.Error, context.Canceled.Error())
}

// decodeEnvelope reads the registry's {success, result, error} JSON envelope
// plus the optional mutation-result shape ({itineraryChanged,
// segmentsModified}) a mutating handler's result may carry.
func decodeEnvelope(raw string) (success bool, result, errMsg string, itineraryChanged bool, segmentsModified []string) {
	var env struct {
		Success bool            `json:"success"`
		Result  json.RawMessage `json:"result,omitempty"`
		Error   string          `json:"error,omitempty"`
	}
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return false, "", raw, false, nil
	}
	if !env.Success {
		return false, "", env.Error, false, nil
	}

	var shape struct {
		ItineraryChanged bool     `json:"itineraryChanged"`
		SegmentsModified []string `json:"segmentsModified"`
	}
	_ = json.Unmarshal(env.Result, &shape)
	return true, string(env.Result), "", shape.ItineraryChanged, shape.SegmentsModified
}

func parseArgsBestEffort(raw string) map[string]interface{} {
	if strings.TrimSpace(raw) == "" {
		return map[string]interface{}{}
	}
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return map[string]interface{}{}
	}
	return args
}

func toDefinitions(specs []tools.ToolSpec) []providers.ToolDefinition {
	out := make([]providers.ToolDefinition, 0, len(specs))
	for _, s := range specs {
		out = append(out, providers.ToolDefinition{
			Type: "function",
			Function: providers.ToolFunctionSchema{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  s.Parameters,
			},
		})
	}
	return out
}

func destinationHint(it *itinerary.Itinerary) string {
	dests := it.EffectiveDestinations()
	if len(dests) == 0 {
		return ""
	}
	if dests[0].City != "" {
		return dests[0].City
	}
	return dests[0].Name
}
