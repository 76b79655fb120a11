package tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/tripdesigner/agent/pkg/itinerary"
)

func newTestRegistry(t *testing.T) (*ToolRegistry, *ItineraryCache, itinerary.Store, string) {
	t.Helper()
	store := itinerary.NewMemoryStore()
	it := itinerary.NewItinerary("it-1", "user-1", time.Now())
	if err := store.Create(context.Background(), it); err != nil {
		t.Fatalf("Create: %v", err)
	}
	registry, cache := BuildRegistry(store, nil)
	return registry, cache, store, "it-1"
}

func execAndDecode(t *testing.T, registry *ToolRegistry, tool, args, itineraryID string, out interface{}) envelope {
	t.Helper()
	raw := registry.ExecuteWithContext(context.Background(), tool, args, itineraryID, "")
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		t.Fatalf("unmarshal envelope for %s: %v (%s)", tool, err, raw)
	}
	if out != nil && env.Success {
		if err := json.Unmarshal(env.Result, out); err != nil {
			t.Fatalf("unmarshal result for %s: %v (%s)", tool, err, env.Result)
		}
	}
	return env
}

func TestUpdateItineraryChangesTitle(t *testing.T) {
	registry, _, store, id := newTestRegistry(t)

	var res mutationResult
	env := execAndDecode(t, registry, "update_itinerary", `{"title":"Caribbean Escape"}`, id, &res)
	if !env.Success {
		t.Fatalf("update_itinerary failed: %s", env.Error)
	}
	if !res.ItineraryChanged {
		t.Error("expected ItineraryChanged = true")
	}

	it, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if it.Title != "Caribbean Escape" {
		t.Errorf("Title = %q, want Caribbean Escape", it.Title)
	}
	if it.Version != 2 {
		t.Errorf("Version = %d, want 2 after one update", it.Version)
	}
}

func TestAddFlightThenGetItineraryReflectsIt(t *testing.T) {
	registry, _, _, id := newTestRegistry(t)

	args := `{"airline":"JetBlue","flightNumber":"JB1234","origin":{"code":"JFK","name":"JFK"},"destination":{"code":"SXM","name":"SXM"},"startDatetime":"2026-01-08T10:00:00Z"}`
	env := execAndDecode(t, registry, "add_flight", args, id, nil)
	if !env.Success {
		t.Fatalf("add_flight failed: %s", env.Error)
	}

	var proj struct {
		Segments []struct {
			Type    string `json:"type"`
			Display string `json:"display"`
		} `json:"segments"`
	}
	env = execAndDecode(t, registry, "get_itinerary", "{}", id, &proj)
	if !env.Success {
		t.Fatalf("get_itinerary failed: %s", env.Error)
	}
	if len(proj.Segments) != 1 {
		t.Fatalf("len(Segments) = %d, want 1", len(proj.Segments))
	}
	if proj.Segments[0].Type != "FLIGHT" {
		t.Errorf("Type = %q, want FLIGHT", proj.Segments[0].Type)
	}
	if proj.Segments[0].Display != "JFK → SXM" {
		t.Errorf("Display = %q, want JFK → SXM", proj.Segments[0].Display)
	}
}

func TestUpdatePreferencesMergesFieldWise(t *testing.T) {
	registry, _, store, id := newTestRegistry(t)

	execAndDecode(t, registry, "update_preferences", `{"travelStyle":"luxury","budgetFlexibility":4}`, id, nil)
	execAndDecode(t, registry, "update_preferences", `{"pace":"balanced"}`, id, nil)

	it, _ := store.Get(context.Background(), id)
	if it.Preferences.TravelStyle != "luxury" {
		t.Errorf("TravelStyle = %q, want luxury (should survive second update)", it.Preferences.TravelStyle)
	}
	if it.Preferences.Pace != "balanced" {
		t.Errorf("Pace = %q, want balanced", it.Preferences.Pace)
	}
	if it.Preferences.BudgetFlexibility != 4 {
		t.Errorf("BudgetFlexibility = %d, want 4", it.Preferences.BudgetFlexibility)
	}
}

func TestUpdatePreferencesExplicitNullClears(t *testing.T) {
	registry, _, store, id := newTestRegistry(t)

	execAndDecode(t, registry, "update_preferences", `{"travelStyle":"luxury"}`, id, nil)
	execAndDecode(t, registry, "update_preferences", `{"travelStyle":null}`, id, nil)

	it, _ := store.Get(context.Background(), id)
	if it.Preferences.TravelStyle != "" {
		t.Errorf("TravelStyle = %q, want cleared", it.Preferences.TravelStyle)
	}
}

func TestMoveSegmentCascadesToLaterSameTravelerSegments(t *testing.T) {
	registry, _, store, id := newTestRegistry(t)

	execAndDecode(t, registry, "add_activity", `{"name":"Beach","startDatetime":"2026-01-09T09:00:00Z","travelerIds":["t1"]}`, id, nil)
	execAndDecode(t, registry, "add_activity", `{"name":"Dinner","startDatetime":"2026-01-09T19:00:00Z","travelerIds":["t1"]}`, id, nil)

	it, _ := store.Get(context.Background(), id)
	var beachID string
	for _, s := range it.Segments {
		if s.Name == "Beach" {
			beachID = s.ID
		}
	}

	var res mutationResult
	env := execAndDecode(t, registry, "move_segment", `{"segment_id":"`+beachID+`","deltaMinutes":60,"cascade":true}`, id, &res)
	if !env.Success {
		t.Fatalf("move_segment failed: %s", env.Error)
	}
	if len(res.SegmentsModified) != 2 {
		t.Fatalf("SegmentsModified = %v, want both segments shifted", res.SegmentsModified)
	}
}

func TestDeleteSegmentRemovesIt(t *testing.T) {
	registry, _, store, id := newTestRegistry(t)
	execAndDecode(t, registry, "add_activity", `{"name":"Hike","startDatetime":"2026-01-09T09:00:00Z"}`, id, nil)

	it, _ := store.Get(context.Background(), id)
	segID := it.Segments[0].ID

	env := execAndDecode(t, registry, "delete_segment", `{"segment_id":"`+segID+`"}`, id, nil)
	if !env.Success {
		t.Fatalf("delete_segment failed: %s", env.Error)
	}
	it, _ = store.Get(context.Background(), id)
	if len(it.Segments) != 0 {
		t.Errorf("len(Segments) = %d, want 0 after delete", len(it.Segments))
	}
}

func TestSearchWebWithoutKBAlwaysReturnsWebSearchNeeded(t *testing.T) {
	registry, _, _, id := newTestRegistry(t)
	var res searchResult
	env := execAndDecode(t, registry, "search_web", `{"query":"best beaches"}`, id, &res)
	if !env.Success {
		t.Fatalf("search_web failed: %s", env.Error)
	}
	if res.Source != "web_search_needed" {
		t.Errorf("Source = %q, want web_search_needed with no KB configured", res.Source)
	}
}
