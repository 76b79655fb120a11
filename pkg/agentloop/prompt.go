package agentloop

import (
	"fmt"
	"strings"

	"github.com/tripdesigner/agent/pkg/itinerary"
	"github.com/tripdesigner/agent/pkg/kb"
	"github.com/tripdesigner/agent/pkg/summarizer"
)

// systemPromptEssential is the phase-1 prompt: no tool catalog beyond the
// essentials, no itinerary context to inject since the itinerary is empty
// by construction on this path.
const systemPromptEssential = `You are Trip Designer, a conversational trip-planning assistant.
This is the start of a new, empty itinerary. Ask what the traveler has in mind, or capture
any details they've already given using the available tools. Keep responses short.`

// systemPromptFull is used on every subsequent turn and on any turn against
// a non-empty itinerary, with the current itinerary state and (when
// available) retrieved knowledge appended.
const systemPromptFull = `You are Trip Designer, a conversational trip-planning assistant. You have
tools to read and mutate the traveler's itinerary, search for travel options, and record durable
travel facts. Use get_itinerary before assuming its current state. Confirm destructive changes
(deletions, large date shifts) are what the traveler wants before calling the mutating tool.`

// buildSystemPrompt assembles the turn's system message: the catalog-
// appropriate base prompt, the current itinerary state (full catalog only),
// and a retrieved-knowledge block (full catalog only, when non-empty).
func buildSystemPrompt(essential bool, it *itinerary.Itinerary, ragResults []kb.Result) string {
	if essential {
		return systemPromptEssential
	}

	var sb strings.Builder
	sb.WriteString(systemPromptFull)
	if it != nil {
		sb.WriteString("\n\nCurrent itinerary:\n")
		sb.WriteString(summarizer.SummarizeItinerary(it))
	}
	if len(ragResults) > 0 {
		sb.WriteString("\n\nRelevant stored knowledge for this turn:\n")
		for _, r := range ragResults {
			fmt.Fprintf(&sb, "- %s\n", r.Content)
		}
	}
	return sb.String()
}
