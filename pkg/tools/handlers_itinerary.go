package tools

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/tripdesigner/agent/pkg/itinerary"
	"github.com/tripdesigner/agent/pkg/summarizer"
)

// mutationResult is the `{success, updated, itineraryChanged,
// segmentsModified}` shape every mutation handler returns.
type mutationResult struct {
	Success          bool     `json:"success"`
	Updated          []string `json:"updated"`
	ItineraryChanged bool     `json:"itineraryChanged"`
	SegmentsModified []string `json:"segmentsModified,omitempty"`
}

func itineraryIDFromArgs(args map[string]interface{}) (string, error) {
	id, _ := executionContext(args)
	if id == "" {
		id, _ = stringArg(args, "itinerary_id")
	}
	if id == "" {
		return "", fmt.Errorf("no itinerary bound to this session")
	}
	return id, nil
}

// --- get_itinerary ---

type GetItineraryTool struct{ cache *ItineraryCache }

func NewGetItineraryTool(cache *ItineraryCache) *GetItineraryTool { return &GetItineraryTool{cache} }

func (t *GetItineraryTool) Name() string { return "get_itinerary" }
func (t *GetItineraryTool) Description() string {
	return "Return a compact summary of the current itinerary: dates, destinations, segments, preferences."
}
func (t *GetItineraryTool) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
}
func (t *GetItineraryTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	id, err := itineraryIDFromArgs(args)
	if err != nil {
		return "", err
	}
	it, err := t.cache.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return toJSON(summarizer.SummarizeItineraryForTool(it))
}

// --- update_itinerary ---

type UpdateItineraryTool struct{ cache *ItineraryCache }

func NewUpdateItineraryTool(cache *ItineraryCache) *UpdateItineraryTool {
	return &UpdateItineraryTool{cache}
}

func (t *UpdateItineraryTool) Name() string { return "update_itinerary" }
func (t *UpdateItineraryTool) Description() string {
	return "Update the itinerary's title, description, dates, or destinations."
}
func (t *UpdateItineraryTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"title":        map[string]interface{}{"type": "string"},
			"description":  map[string]interface{}{"type": "string"},
			"startDate":    map[string]interface{}{"type": "string", "description": "YYYY-MM-DD"},
			"endDate":      map[string]interface{}{"type": "string", "description": "YYYY-MM-DD"},
			"destinations": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "object"}},
		},
	}
}
func (t *UpdateItineraryTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	id, err := itineraryIDFromArgs(args)
	if err != nil {
		return "", err
	}

	var updatedFields []string
	updated, err := itinerary.RetryUpdate(ctx, t.cache.Store(), id, func(it *itinerary.Itinerary) error {
		if v, ok := stringArg(args, "title"); ok && v != "" {
			it.Title = v
			updatedFields = append(updatedFields, "title")
		}
		if v, ok := stringArg(args, "description"); ok {
			it.Description = v
			updatedFields = append(updatedFields, "description")
		}
		if v, err := timeArg(args, "startDate"); err == nil && v != nil {
			it.StartDate = v
			updatedFields = append(updatedFields, "startDate")
		}
		if v, err := timeArg(args, "endDate"); err == nil && v != nil {
			it.EndDate = v
			updatedFields = append(updatedFields, "endDate")
		}
		if raw, ok := args["destinations"].([]interface{}); ok {
			dests := make([]itinerary.Location, 0, len(raw))
			for _, d := range raw {
				if m, ok := d.(map[string]interface{}); ok {
					dests = append(dests, locationArg(map[string]interface{}{"destinations": m}, "destinations"))
				}
			}
			it.Destinations = dests
			updatedFields = append(updatedFields, "destinations")
		}
		it.UpdatedAt = time.Now()
		return nil
	})
	if err != nil {
		return "", err
	}
	t.cache.Put(id, updated)

	return toJSON(mutationResult{Success: true, Updated: updatedFields, ItineraryChanged: true})
}

// --- update_preferences ---

type UpdatePreferencesTool struct{ cache *ItineraryCache }

func NewUpdatePreferencesTool(cache *ItineraryCache) *UpdatePreferencesTool {
	return &UpdatePreferencesTool{cache}
}

func (t *UpdatePreferencesTool) Name() string { return "update_preferences" }
func (t *UpdatePreferencesTool) Description() string {
	return "Merge traveler preference fields into the itinerary (travel style, pace, interests, budget flexibility, dietary/mobility restrictions, and more). Omitted fields are left unchanged; explicit null clears a field."
}
func (t *UpdatePreferencesTool) Parameters() map[string]interface{} {
	props := map[string]interface{}{}
	for _, f := range []string{"travelStyle", "pace", "dietaryRestrictions", "mobilityRestrictions", "origin", "accommodationPreference"} {
		props[f] = map[string]interface{}{"type": []interface{}{"string", "null"}}
	}
	props["budgetFlexibility"] = map[string]interface{}{"type": []interface{}{"integer", "null"}, "minimum": 1, "maximum": 5}
	for _, f := range []string{"interests", "activityPreferences", "avoidances"} {
		props[f] = map[string]interface{}{"type": []interface{}{"array", "null"}, "items": map[string]interface{}{"type": "string"}}
	}
	return map[string]interface{}{"type": "object", "properties": props}
}
func (t *UpdatePreferencesTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	id, err := itineraryIDFromArgs(args)
	if err != nil {
		return "", err
	}

	fieldKeys := []string{"travelStyle", "pace", "interests", "budgetFlexibility", "dietaryRestrictions",
		"mobilityRestrictions", "origin", "accommodationPreference", "activityPreferences", "avoidances"}
	cleared := map[string]bool{}
	for _, k := range fieldKeys {
		if isExplicitNull(args, k) {
			cleared[k] = true
		}
	}

	update := itinerary.TripTravelerPreferences{}
	if v, ok := stringArg(args, "travelStyle"); ok {
		update.TravelStyle = itinerary.TravelStyle(v)
	}
	if v, ok := stringArg(args, "pace"); ok {
		update.Pace = itinerary.Pace(v)
	}
	update.Interests = stringSliceArg(args, "interests")
	update.BudgetFlexibility = itinerary.BudgetFlexibility(intArg(args, "budgetFlexibility", 0))
	if v, ok := stringArg(args, "dietaryRestrictions"); ok {
		update.DietaryRestrictions = v
	}
	if v, ok := stringArg(args, "mobilityRestrictions"); ok {
		update.MobilityRestrictions = v
	}
	if v, ok := stringArg(args, "origin"); ok {
		update.Origin = v
	}
	if v, ok := stringArg(args, "accommodationPreference"); ok {
		update.AccommodationPreference = v
	}
	update.ActivityPreferences = stringSliceArg(args, "activityPreferences")
	update.Avoidances = stringSliceArg(args, "avoidances")

	var changedFields []string
	for _, k := range fieldKeys {
		if cleared[k] || hasKey(args, k) {
			changedFields = append(changedFields, k)
		}
	}

	updated, err := itinerary.RetryUpdate(ctx, t.cache.Store(), id, func(it *itinerary.Itinerary) error {
		base := itinerary.TripTravelerPreferences{}
		if it.Preferences != nil {
			base = *it.Preferences
		}
		merged := itinerary.MergePreferences(base, update, cleared)
		it.Preferences = &merged
		it.UpdatedAt = time.Now()
		return nil
	})
	if err != nil {
		return "", err
	}
	t.cache.Put(id, updated)

	return toJSON(mutationResult{Success: true, Updated: changedFields, ItineraryChanged: true})
}

// --- get_segment ---

type GetSegmentTool struct{ cache *ItineraryCache }

func NewGetSegmentTool(cache *ItineraryCache) *GetSegmentTool { return &GetSegmentTool{cache} }

func (t *GetSegmentTool) Name() string        { return "get_segment" }
func (t *GetSegmentTool) Description() string { return "Return one segment by id." }
func (t *GetSegmentTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"segment_id": map[string]interface{}{"type": "string"}},
		"required": []interface{}{"segment_id"},
	}
}
func (t *GetSegmentTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	id, err := itineraryIDFromArgs(args)
	if err != nil {
		return "", err
	}
	segmentID, err := requireString(args, "segment_id")
	if err != nil {
		return "", err
	}
	it, err := t.cache.Get(ctx, id)
	if err != nil {
		return "", err
	}
	for _, s := range it.Segments {
		if s.ID == segmentID {
			return toJSON(s)
		}
	}
	return "", fmt.Errorf("segment %q not found", segmentID)
}

// --- add_* (flight/hotel/activity/transfer/meeting) ---

func commonSegmentFields(args map[string]interface{}, kind itinerary.SegmentKind) (itinerary.Segment, error) {
	start, err := timeArg(args, "startDatetime")
	if err != nil {
		return itinerary.Segment{}, err
	}
	end, err := timeArg(args, "endDatetime")
	if err != nil {
		return itinerary.Segment{}, err
	}
	seg := itinerary.Segment{
		ID:          uuid.NewString(),
		Type:        kind,
		Status:      itinerary.StatusTentative,
		TravelerIDs: stringSliceArg(args, "travelerIds"),
	}
	if start != nil {
		seg.Start = *start
	}
	if end != nil {
		seg.End = *end
	}
	if v, ok := stringArg(args, "notes"); ok {
		seg.Notes = v
	}
	return seg, nil
}

func addSegmentHandler(t *ItineraryCache, args map[string]interface{}, build func(*itinerary.Segment) error) (string, error) {
	id, err := itineraryIDFromArgs(args)
	if err != nil {
		return "", err
	}
	var newSegID string
	updated, err := itinerary.RetryUpdate(context.Background(), t.Store(), id, func(it *itinerary.Itinerary) error {
		seg := itinerary.Segment{}
		if err := build(&seg); err != nil {
			return err
		}
		newSegID = seg.ID
		it.Segments = append(it.Segments, seg)
		sort.SliceStable(it.Segments, func(i, j int) bool { return it.Segments[i].Start.Before(it.Segments[j].Start) })
		it.UpdatedAt = time.Now()
		return nil
	})
	if err != nil {
		return "", err
	}
	t.Put(id, updated)
	return toJSON(mutationResult{Success: true, Updated: []string{"segments"}, ItineraryChanged: true, SegmentsModified: []string{newSegID}})
}

type AddFlightTool struct{ cache *ItineraryCache }

func NewAddFlightTool(cache *ItineraryCache) *AddFlightTool { return &AddFlightTool{cache} }
func (t *AddFlightTool) Name() string                       { return "add_flight" }
func (t *AddFlightTool) Description() string {
	return "Add a flight segment with airline, flight number, origin, and destination."
}
func (t *AddFlightTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"airline":        map[string]interface{}{"type": "string"},
			"flightNumber":   map[string]interface{}{"type": "string"},
			"origin":         map[string]interface{}{"type": "object"},
			"destination":    map[string]interface{}{"type": "object"},
			"startDatetime":  map[string]interface{}{"type": "string"},
			"endDatetime":    map[string]interface{}{"type": "string"},
			"travelerIds":    map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
			"notes":          map[string]interface{}{"type": "string"},
		},
		"required": []interface{}{"origin", "destination", "startDatetime"},
	}
}
func (t *AddFlightTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	return addSegmentHandler(t.cache, args, func(seg *itinerary.Segment) error {
		base, err := commonSegmentFields(args, itinerary.KindFlight)
		if err != nil {
			return err
		}
		*seg = base
		seg.Airline, _ = stringArg(args, "airline")
		seg.FlightNumber, _ = stringArg(args, "flightNumber")
		seg.Origin = locationArg(args, "origin")
		seg.Destination = locationArg(args, "destination")
		return nil
	})
}

type AddHotelTool struct{ cache *ItineraryCache }

func NewAddHotelTool(cache *ItineraryCache) *AddHotelTool { return &AddHotelTool{cache} }
func (t *AddHotelTool) Name() string                       { return "add_hotel" }
func (t *AddHotelTool) Description() string {
	return "Add a hotel stay segment with property, location, check-in, and check-out."
}
func (t *AddHotelTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"property":      map[string]interface{}{"type": "string"},
			"location":      map[string]interface{}{"type": "object"},
			"checkIn":       map[string]interface{}{"type": "string"},
			"checkOut":      map[string]interface{}{"type": "string"},
			"travelerIds":   map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
			"notes":         map[string]interface{}{"type": "string"},
		},
		"required": []interface{}{"property", "checkIn", "checkOut"},
	}
}
func (t *AddHotelTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	return addSegmentHandler(t.cache, args, func(seg *itinerary.Segment) error {
		checkIn, err := timeArg(args, "checkIn")
		if err != nil {
			return err
		}
		checkOut, err := timeArg(args, "checkOut")
		if err != nil {
			return err
		}
		withStart := map[string]interface{}{"startDatetime": args["checkIn"], "endDatetime": args["checkOut"], "travelerIds": args["travelerIds"], "notes": args["notes"]}
		base, err := commonSegmentFields(withStart, itinerary.KindHotel)
		if err != nil {
			return err
		}
		*seg = base
		seg.Property, _ = stringArg(args, "property")
		seg.Location = locationArg(args, "location")
		if checkIn != nil {
			seg.CheckIn = *checkIn
		}
		if checkOut != nil {
			seg.CheckOut = *checkOut
		}
		return nil
	})
}

type AddActivityTool struct{ cache *ItineraryCache }

func NewAddActivityTool(cache *ItineraryCache) *AddActivityTool { return &AddActivityTool{cache} }
func (t *AddActivityTool) Name() string                          { return "add_activity" }
func (t *AddActivityTool) Description() string {
	return "Add an activity segment with a name, location, and start time."
}
func (t *AddActivityTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"name":          map[string]interface{}{"type": "string"},
			"location":      map[string]interface{}{"type": "object"},
			"startDatetime": map[string]interface{}{"type": "string"},
			"endDatetime":   map[string]interface{}{"type": "string"},
			"travelerIds":   map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
			"notes":         map[string]interface{}{"type": "string"},
		},
		"required": []interface{}{"name", "startDatetime"},
	}
}
func (t *AddActivityTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	return addSegmentHandler(t.cache, args, func(seg *itinerary.Segment) error {
		base, err := commonSegmentFields(args, itinerary.KindActivity)
		if err != nil {
			return err
		}
		*seg = base
		seg.Name, _ = stringArg(args, "name")
		seg.Location = locationArg(args, "location")
		return nil
	})
}

type AddTransferTool struct{ cache *ItineraryCache }

func NewAddTransferTool(cache *ItineraryCache) *AddTransferTool { return &AddTransferTool{cache} }
func (t *AddTransferTool) Name() string                          { return "add_transfer" }
func (t *AddTransferTool) Description() string {
	return "Add a ground transfer segment with a type, pickup, and dropoff location."
}
func (t *AddTransferTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"transferType":    map[string]interface{}{"type": "string"},
			"pickupLocation":  map[string]interface{}{"type": "object"},
			"dropoffLocation": map[string]interface{}{"type": "object"},
			"startDatetime":   map[string]interface{}{"type": "string"},
			"endDatetime":     map[string]interface{}{"type": "string"},
			"travelerIds":     map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
			"notes":           map[string]interface{}{"type": "string"},
		},
		"required": []interface{}{"startDatetime"},
	}
}
func (t *AddTransferTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	return addSegmentHandler(t.cache, args, func(seg *itinerary.Segment) error {
		base, err := commonSegmentFields(args, itinerary.KindTransfer)
		if err != nil {
			return err
		}
		*seg = base
		seg.TransferType, _ = stringArg(args, "transferType")
		seg.PickupLocation = locationArg(args, "pickupLocation")
		seg.DropoffLocation = locationArg(args, "dropoffLocation")
		return nil
	})
}

type AddMeetingTool struct{ cache *ItineraryCache }

func NewAddMeetingTool(cache *ItineraryCache) *AddMeetingTool { return &AddMeetingTool{cache} }
func (t *AddMeetingTool) Name() string                         { return "add_meeting" }
func (t *AddMeetingTool) Description() string {
	return "Add a meeting segment with a start time and notes."
}
func (t *AddMeetingTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"startDatetime": map[string]interface{}{"type": "string"},
			"endDatetime":   map[string]interface{}{"type": "string"},
			"travelerIds":   map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
			"notes":         map[string]interface{}{"type": "string"},
		},
		"required": []interface{}{"startDatetime"},
	}
}
func (t *AddMeetingTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	return addSegmentHandler(t.cache, args, func(seg *itinerary.Segment) error {
		base, err := commonSegmentFields(args, itinerary.KindMeeting)
		if err != nil {
			return err
		}
		*seg = base
		return nil
	})
}

// --- update_segment / delete_segment ---

type UpdateSegmentTool struct{ cache *ItineraryCache }

func NewUpdateSegmentTool(cache *ItineraryCache) *UpdateSegmentTool {
	return &UpdateSegmentTool{cache}
}

func (t *UpdateSegmentTool) Name() string { return "update_segment" }
func (t *UpdateSegmentTool) Description() string {
	return "Update fields on an existing segment by id: status, notes, or start/end time."
}
func (t *UpdateSegmentTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"segment_id":    map[string]interface{}{"type": "string"},
			"status":        map[string]interface{}{"type": "string", "enum": []interface{}{"TENTATIVE", "CONFIRMED", "CANCELLED"}},
			"notes":         map[string]interface{}{"type": "string"},
			"startDatetime": map[string]interface{}{"type": "string"},
			"endDatetime":   map[string]interface{}{"type": "string"},
		},
		"required": []interface{}{"segment_id"},
	}
}
func (t *UpdateSegmentTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	id, err := itineraryIDFromArgs(args)
	if err != nil {
		return "", err
	}
	segmentID, err := requireString(args, "segment_id")
	if err != nil {
		return "", err
	}

	var changed []string
	updated, err := itinerary.RetryUpdate(ctx, t.cache.Store(), id, func(it *itinerary.Itinerary) error {
		idx := indexOfSegment(it.Segments, segmentID)
		if idx < 0 {
			return fmt.Errorf("segment %q not found", segmentID)
		}
		seg := &it.Segments[idx]
		if v, ok := stringArg(args, "status"); ok && v != "" {
			seg.Status = itinerary.SegmentStatus(v)
			changed = append(changed, "status")
		}
		if v, ok := stringArg(args, "notes"); ok {
			seg.Notes = v
			changed = append(changed, "notes")
		}
		if v, err := timeArg(args, "startDatetime"); err == nil && v != nil {
			seg.Start = *v
			changed = append(changed, "startDatetime")
		}
		if v, err := timeArg(args, "endDatetime"); err == nil && v != nil {
			seg.End = *v
			changed = append(changed, "endDatetime")
		}
		sort.SliceStable(it.Segments, func(i, j int) bool { return it.Segments[i].Start.Before(it.Segments[j].Start) })
		it.UpdatedAt = time.Now()
		return nil
	})
	if err != nil {
		return "", err
	}
	t.cache.Put(id, updated)

	return toJSON(mutationResult{Success: true, Updated: changed, ItineraryChanged: true, SegmentsModified: []string{segmentID}})
}

type DeleteSegmentTool struct{ cache *ItineraryCache }

func NewDeleteSegmentTool(cache *ItineraryCache) *DeleteSegmentTool {
	return &DeleteSegmentTool{cache}
}

func (t *DeleteSegmentTool) Name() string        { return "delete_segment" }
func (t *DeleteSegmentTool) Description() string { return "Remove a segment from the itinerary by id." }
func (t *DeleteSegmentTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"segment_id": map[string]interface{}{"type": "string"}},
		"required": []interface{}{"segment_id"},
	}
}
func (t *DeleteSegmentTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	id, err := itineraryIDFromArgs(args)
	if err != nil {
		return "", err
	}
	segmentID, err := requireString(args, "segment_id")
	if err != nil {
		return "", err
	}

	updated, err := itinerary.RetryUpdate(ctx, t.cache.Store(), id, func(it *itinerary.Itinerary) error {
		idx := indexOfSegment(it.Segments, segmentID)
		if idx < 0 {
			return fmt.Errorf("segment %q not found", segmentID)
		}
		it.Segments = append(it.Segments[:idx], it.Segments[idx+1:]...)
		it.UpdatedAt = time.Now()
		return nil
	})
	if err != nil {
		return "", err
	}
	t.cache.Put(id, updated)

	return toJSON(mutationResult{Success: true, Updated: []string{"segments"}, ItineraryChanged: true, SegmentsModified: []string{segmentID}})
}

// --- move_segment (cascading shift) ---

type MoveSegmentTool struct{ cache *ItineraryCache }

func NewMoveSegmentTool(cache *ItineraryCache) *MoveSegmentTool { return &MoveSegmentTool{cache} }

func (t *MoveSegmentTool) Name() string { return "move_segment" }
func (t *MoveSegmentTool) Description() string {
	return "Shift a segment's start/end time by a duration in minutes. By default, every later segment for the same traveler shifts by the same amount (cascade); pass cascade=false to move only this segment."
}
func (t *MoveSegmentTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"segment_id":    map[string]interface{}{"type": "string"},
			"deltaMinutes":  map[string]interface{}{"type": "integer"},
			"cascade":       map[string]interface{}{"type": "boolean", "description": "default true"},
		},
		"required": []interface{}{"segment_id", "deltaMinutes"},
	}
}
func (t *MoveSegmentTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	id, err := itineraryIDFromArgs(args)
	if err != nil {
		return "", err
	}
	segmentID, err := requireString(args, "segment_id")
	if err != nil {
		return "", err
	}
	delta := time.Duration(intArg(args, "deltaMinutes", 0)) * time.Minute
	cascade := boolArg(args, "cascade", true)

	var moved []string
	updated, err := itinerary.RetryUpdate(ctx, t.cache.Store(), id, func(it *itinerary.Itinerary) error {
		idx := indexOfSegment(it.Segments, segmentID)
		if idx < 0 {
			return fmt.Errorf("segment %q not found", segmentID)
		}
		target := it.Segments[idx]
		shiftSegment(&it.Segments[idx], delta)
		moved = append(moved, target.ID)

		if cascade {
			for i := range it.Segments {
				if i == idx {
					continue
				}
				if !sharesTraveler(it.Segments[i].TravelerIDs, target.TravelerIDs) {
					continue
				}
				if it.Segments[i].Start.After(target.Start) || it.Segments[i].Start.Equal(target.Start) {
					shiftSegment(&it.Segments[i], delta)
					moved = append(moved, it.Segments[i].ID)
				}
			}
		}
		sort.SliceStable(it.Segments, func(i, j int) bool { return it.Segments[i].Start.Before(it.Segments[j].Start) })
		it.UpdatedAt = time.Now()
		return nil
	})
	if err != nil {
		return "", err
	}
	t.cache.Put(id, updated)

	return toJSON(mutationResult{Success: true, Updated: []string{"startDatetime", "endDatetime"}, ItineraryChanged: true, SegmentsModified: moved})
}

func shiftSegment(seg *itinerary.Segment, delta time.Duration) {
	if !seg.Start.IsZero() {
		seg.Start = seg.Start.Add(delta)
	}
	if !seg.End.IsZero() {
		seg.End = seg.End.Add(delta)
	}
	if !seg.CheckIn.IsZero() {
		seg.CheckIn = seg.CheckIn.Add(delta)
	}
	if !seg.CheckOut.IsZero() {
		seg.CheckOut = seg.CheckOut.Add(delta)
	}
}

func sharesTraveler(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return true // unassigned segments are treated as shared-itinerary-wide
	}
	set := make(map[string]bool, len(b))
	for _, id := range b {
		set[id] = true
	}
	for _, id := range a {
		if set[id] {
			return true
		}
	}
	return false
}

// --- reorder_segments ---

type ReorderSegmentsTool struct{ cache *ItineraryCache }

func NewReorderSegmentsTool(cache *ItineraryCache) *ReorderSegmentsTool {
	return &ReorderSegmentsTool{cache}
}

func (t *ReorderSegmentsTool) Name() string { return "reorder_segments" }
func (t *ReorderSegmentsTool) Description() string {
	return "Reorder segments by explicit id list; rejects an order that isn't chronologically coherent."
}
func (t *ReorderSegmentsTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"segment_ids": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
		},
		"required": []interface{}{"segment_ids"},
	}
}
func (t *ReorderSegmentsTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	id, err := itineraryIDFromArgs(args)
	if err != nil {
		return "", err
	}
	order := stringSliceArg(args, "segment_ids")
	if len(order) == 0 {
		return "", fmt.Errorf("segment_ids is required")
	}

	updated, err := itinerary.RetryUpdate(ctx, t.cache.Store(), id, func(it *itinerary.Itinerary) error {
		if len(order) != len(it.Segments) {
			return fmt.Errorf("segment_ids must list every segment (got %d, want %d)", len(order), len(it.Segments))
		}
		byID := make(map[string]itinerary.Segment, len(it.Segments))
		for _, s := range it.Segments {
			byID[s.ID] = s
		}
		reordered := make([]itinerary.Segment, 0, len(order))
		for _, segID := range order {
			s, ok := byID[segID]
			if !ok {
				return fmt.Errorf("segment %q not found", segID)
			}
			reordered = append(reordered, s)
		}
		for i := 1; i < len(reordered); i++ {
			if reordered[i].Start.Before(reordered[i-1].Start) {
				return fmt.Errorf("requested order is not chronologically coherent at position %d", i)
			}
		}
		it.Segments = reordered
		it.UpdatedAt = time.Now()
		return nil
	})
	if err != nil {
		return "", err
	}
	t.cache.Put(id, updated)

	return toJSON(mutationResult{Success: true, Updated: []string{"segments"}, ItineraryChanged: true, SegmentsModified: order})
}

func indexOfSegment(segs []itinerary.Segment, id string) int {
	for i, s := range segs {
		if s.ID == id {
			return i
		}
	}
	return -1
}
