package tools

import (
	"context"
	"fmt"

	"github.com/tripdesigner/agent/pkg/kb"
)

// searchResult mirrors kb.SearchOutcome's wire shape so a disabled KB
// (nil *kb.Store) and a KB miss look identical to the calling LLM layer.
type searchResult struct {
	Source  string      `json:"source"`
	Results []kb.Result `json:"results,omitempty"`
}

func runSearch(ctx context.Context, store *kb.Store, query, destination string, limit int) (string, error) {
	outcome := store.Search(ctx, query, destination, limit)
	return toJSON(searchResult{Source: outcome.Source, Results: outcome.Results})
}

func destinationFromItinerary(ctx context.Context, cache *ItineraryCache, args map[string]interface{}) string {
	if d, ok := stringArg(args, "destination"); ok && d != "" {
		return d
	}
	id, err := itineraryIDFromArgs(args)
	if err != nil {
		return ""
	}
	it, err := cache.Get(ctx, id)
	if err != nil {
		return ""
	}
	dests := it.EffectiveDestinations()
	if len(dests) == 0 {
		return ""
	}
	if dests[0].City != "" {
		return dests[0].City
	}
	return dests[0].Name
}

// --- search_web ---

type SearchWebTool struct {
	kb    *kb.Store
	cache *ItineraryCache
}

func NewSearchWebTool(kbStore *kb.Store, cache *ItineraryCache) *SearchWebTool {
	return &SearchWebTool{kb: kbStore, cache: cache}
}

func (t *SearchWebTool) Name() string { return "search_web" }
func (t *SearchWebTool) Description() string {
	return "Search for general travel information. Checks the knowledge base first; if nothing relevant is found, signals that a live web search is needed."
}
func (t *SearchWebTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{"type": "string"},
		},
		"required": []interface{}{"query"},
	}
}
func (t *SearchWebTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	query, err := requireString(args, "query")
	if err != nil {
		return "", err
	}
	destination := destinationFromItinerary(ctx, t.cache, args)
	return runSearch(ctx, t.kb, query, destination, 5)
}

// --- search_flights / search_hotels / search_transfers ---

type searchCategoryTool struct {
	name        string
	description string
	kb          *kb.Store
	cache       *ItineraryCache
}

func (t *searchCategoryTool) Name() string        { return t.name }
func (t *searchCategoryTool) Description() string { return t.description }
func (t *searchCategoryTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query":       map[string]interface{}{"type": "string"},
			"destination": map[string]interface{}{"type": "string"},
		},
		"required": []interface{}{"query"},
	}
}
func (t *searchCategoryTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	query, err := requireString(args, "query")
	if err != nil {
		return "", err
	}
	destination := destinationFromItinerary(ctx, t.cache, args)
	return runSearch(ctx, t.kb, fmt.Sprintf("%s %s", t.name, query), destination, 5)
}

func NewSearchFlightsTool(kbStore *kb.Store, cache *ItineraryCache) Tool {
	return &searchCategoryTool{
		name:        "search_flights",
		description: "Search for flight options between the itinerary's origin and destination.",
		kb:          kbStore, cache: cache,
	}
}

func NewSearchHotelsTool(kbStore *kb.Store, cache *ItineraryCache) Tool {
	return &searchCategoryTool{
		name:        "search_hotels",
		description: "Search for hotel options at the itinerary's destination.",
		kb:          kbStore, cache: cache,
	}
}

func NewSearchTransfersTool(kbStore *kb.Store, cache *ItineraryCache) Tool {
	return &searchCategoryTool{
		name:        "search_transfers",
		description: "Search for ground transfer options at the itinerary's destination.",
		kb:          kbStore, cache: cache,
	}
}
