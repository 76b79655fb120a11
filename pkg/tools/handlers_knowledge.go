package tools

import (
	"context"

	"github.com/google/uuid"

	"github.com/tripdesigner/agent/pkg/kb"
)

// --- store_travel_intelligence ---

type StoreTravelIntelligenceTool struct{ kb *kb.Store }

func NewStoreTravelIntelligenceTool(kbStore *kb.Store) *StoreTravelIntelligenceTool {
	return &StoreTravelIntelligenceTool{kbStore}
}

func (t *StoreTravelIntelligenceTool) Name() string { return "store_travel_intelligence" }
func (t *StoreTravelIntelligenceTool) Description() string {
	return "Persist a durable travel fact learned this turn (e.g. a local event, seasonal note, or destination detail) into the knowledge base for future sessions."
}
func (t *StoreTravelIntelligenceTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"fact":        map[string]interface{}{"type": "string"},
			"destination": map[string]interface{}{"type": "string"},
			"dates":       map[string]interface{}{"type": "string", "description": "free text, e.g. 'every July' or 'winter only'"},
		},
		"required": []interface{}{"fact", "destination"},
	}
}
func (t *StoreTravelIntelligenceTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	fact, err := requireString(args, "fact")
	if err != nil {
		return "", err
	}
	destination, err := requireString(args, "destination")
	if err != nil {
		return "", err
	}
	dates, _ := stringArg(args, "dates")
	temporal := kb.ClassifyTemporalType(dates)

	if err := t.kb.Store(ctx, uuid.NewString(), fact, destination, temporal); err != nil {
		return "", err
	}
	return toJSON(map[string]interface{}{"success": true, "temporalType": temporal})
}

// --- retrieve_travel_intelligence ---

type RetrieveTravelIntelligenceTool struct{ kb *kb.Store }

func NewRetrieveTravelIntelligenceTool(kbStore *kb.Store) *RetrieveTravelIntelligenceTool {
	return &RetrieveTravelIntelligenceTool{kbStore}
}

func (t *RetrieveTravelIntelligenceTool) Name() string { return "retrieve_travel_intelligence" }
func (t *RetrieveTravelIntelligenceTool) Description() string {
	return "Look up stored travel facts for a destination, optionally filtered by a query."
}
func (t *RetrieveTravelIntelligenceTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"destination": map[string]interface{}{"type": "string"},
			"query":       map[string]interface{}{"type": "string"},
		},
		"required": []interface{}{"destination"},
	}
}
func (t *RetrieveTravelIntelligenceTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	destination, err := requireString(args, "destination")
	if err != nil {
		return "", err
	}
	query, _ := stringArg(args, "query")
	if query == "" {
		query = destination
	}
	results := t.kb.Retrieve(ctx, query, destination, 10)
	return toJSON(map[string]interface{}{"results": results})
}
