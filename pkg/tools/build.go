package tools

import (
	"github.com/tripdesigner/agent/pkg/itinerary"
	"github.com/tripdesigner/agent/pkg/kb"
)

// BuildRegistry wires every tool in the Essential/Full catalogs against
// one shared itinerary cache, store, and (optional) KB.
// kbStore may be nil — search/knowledge handlers degrade to always
// returning web_search_needed / empty results, per pkg/kb's nil-safety
// contract.
func BuildRegistry(store itinerary.Store, kbStore *kb.Store) (*ToolRegistry, *ItineraryCache) {
	cache := NewItineraryCache(store)
	r := NewToolRegistry()

	r.Register(NewGetItineraryTool(cache))
	r.Register(NewUpdateItineraryTool(cache))
	r.Register(NewUpdatePreferencesTool(cache))
	r.Register(NewSearchWebTool(kbStore, cache))

	r.Register(NewGetSegmentTool(cache))
	r.Register(NewAddFlightTool(cache))
	r.Register(NewAddHotelTool(cache))
	r.Register(NewAddActivityTool(cache))
	r.Register(NewAddTransferTool(cache))
	r.Register(NewAddMeetingTool(cache))
	r.Register(NewUpdateSegmentTool(cache))
	r.Register(NewDeleteSegmentTool(cache))
	r.Register(NewMoveSegmentTool(cache))
	r.Register(NewReorderSegmentsTool(cache))
	r.Register(NewSearchFlightsTool(kbStore, cache))
	r.Register(NewSearchHotelsTool(kbStore, cache))
	r.Register(NewSearchTransfersTool(kbStore, cache))
	r.Register(NewStoreTravelIntelligenceTool(kbStore))
	r.Register(NewRetrieveTravelIntelligenceTool(kbStore))

	return r, cache
}
