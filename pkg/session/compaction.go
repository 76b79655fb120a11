package session

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/tripdesigner/agent/pkg/itinerary"
	"github.com/tripdesigner/agent/pkg/logger"
	"github.com/tripdesigner/agent/pkg/providers"
	"github.com/tripdesigner/agent/pkg/summarizer"
)

// keepVerbatimCount is the number of most-recent messages compaction never
// touches.
const keepVerbatimCount = 10

// compactionTimeout bounds the summarization call; a compaction that can't
// finish in this window is abandoned and the turn proceeds uncompacted.
const compactionTimeout = 60 * time.Second

// systemPromptTokensFull/Essential are the flat token estimates for the
// system prompt plus tool schema overhead of each catalog variant.
const (
	systemPromptTokensFull      = 7000
	systemPromptTokensEssential = 1000
)

// EstimateTokens estimates a session transcript's token cost: the message
// estimate from providers.EstimateMessageTokens (which counts tool-result
// payloads at full length, since tool messages carry their result as
// Content) plus a flat system-prompt-and-tool-schema allowance per
// catalog variant.
func EstimateTokens(messages []providers.Message, essentialCatalog bool) int {
	overhead := systemPromptTokensFull
	if essentialCatalog {
		overhead = systemPromptTokensEssential
	}
	return providers.EstimateMessageTokens(messages) + overhead
}

// CompactionSummary is the structured JSON the compaction LLM call is
// asked to produce.
type CompactionSummary struct {
	TripProfile       map[string]interface{} `json:"tripProfile"`
	ConfirmedSegments []string                `json:"confirmedSegments"`
	PendingDecisions  []string                `json:"pendingDecisions"`
	ImportantNotes    []string                `json:"importantNotes"`
}

var thinkTagRe = regexp.MustCompile(`(?s)<think>.*?</think>\s*`)

const compactionPromptTemplate = `You are compacting a trip-planning conversation to save context space.
Below is the itinerary shape and the conversation so far. Produce a JSON object with exactly these fields:
{"tripProfile": {...known traveler preferences...}, "confirmedSegments": ["..."], "pendingDecisions": ["..."], "importantNotes": ["..."]}

Itinerary shape: %s

Conversation to summarize:
%s

Respond with ONLY the JSON object, no prose.`

// ShouldCompact reports whether estimated usage has crossed the
// compactionThreshold fraction of contextLimit and the cooldown since the
// last compaction has elapsed.
func ShouldCompact(estimatedTokens, contextLimit int, compactionThreshold float64, lastCompactedAt time.Time, cooldown time.Duration) bool {
	if contextLimit <= 0 {
		return false
	}
	over := float64(estimatedTokens) > compactionThreshold*float64(contextLimit)
	if !over {
		return false
	}
	return time.Since(lastCompactedAt) >= cooldown
}

// Compact summarizes older history: the last keepVerbatimCount
// messages are kept verbatim; everything before them plus the itinerary's
// minimal summary and the compaction prompt are sent to provider in a
// non-streaming call; the result replaces the summarized range with one
// synthesized assistant message. Returns the new message slice and whether
// compaction succeeded (false means: proceed unchanged, caller should warn).
func Compact(ctx context.Context, provider providers.LLMProvider, model string, messages []providers.Message, it *itinerary.Itinerary) ([]providers.Message, bool) {
	if len(messages) <= keepVerbatimCount {
		return messages, true
	}

	toSummarize := messages[:len(messages)-keepVerbatimCount]
	verbatim := messages[len(messages)-keepVerbatimCount:]

	var transcript strings.Builder
	for _, m := range toSummarize {
		fmt.Fprintf(&transcript, "%s: %s\n", m.Role, m.Content)
	}

	shape := ""
	if it != nil {
		shape = summarizer.SummarizeItineraryMinimal(it)
	}

	prompt := fmt.Sprintf(compactionPromptTemplate, shape, transcript.String())
	resp, err := providers.ChatWithTimeout(ctx, compactionTimeout, provider,
		[]providers.Message{{Role: "user", Content: prompt}}, nil, model,
		providers.ChatOptions{Temperature: 0}.ToMap())
	if err != nil {
		logger.WarnCF("session", "compaction LLM call failed, proceeding without compaction",
			map[string]interface{}{"error": err.Error()})
		return messages, false
	}

	cleaned := thinkTagRe.ReplaceAllString(resp.Content, "")
	cleaned = strings.TrimSpace(cleaned)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var summary CompactionSummary
	if err := json.Unmarshal([]byte(cleaned), &summary); err != nil {
		logger.WarnCF("session", "compaction response was not valid JSON, proceeding without compaction",
			map[string]interface{}{"error": err.Error()})
		return messages, false
	}

	recap := buildRecapLine(summary)
	body, _ := json.Marshal(summary)
	synthesized := providers.Message{
		Role:    "assistant",
		Content: recap + "\n\n" + string(body),
	}

	out := make([]providers.Message, 0, 1+len(verbatim))
	out = append(out, synthesized)
	out = append(out, verbatim...)
	return out, true
}

func buildRecapLine(s CompactionSummary) string {
	parts := make([]string, 0, 3)
	if len(s.ConfirmedSegments) > 0 {
		parts = append(parts, fmt.Sprintf("%d segments confirmed", len(s.ConfirmedSegments)))
	}
	if len(s.PendingDecisions) > 0 {
		parts = append(parts, fmt.Sprintf("%d decisions pending", len(s.PendingDecisions)))
	}
	if len(s.ImportantNotes) > 0 {
		parts = append(parts, fmt.Sprintf("%d notes", len(s.ImportantNotes)))
	}
	if len(parts) == 0 {
		return "Conversation summarized."
	}
	return "Conversation summarized: " + strings.Join(parts, ", ") + "."
}
