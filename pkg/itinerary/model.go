// Package itinerary defines the trip itinerary aggregate — destinations,
// segments, traveler preferences — and the store interface its mutation
// handlers read and write through.
package itinerary

import "time"

// SegmentKind is the closed set of segment variants. Decoding does not
// validate it: an unknown kind read from the wire is kept verbatim and is
// not mapped to KindOther. Sites with exhaustive handling requirements must
// still error rather than silently drop an OTHER segment.
type SegmentKind string

const (
	KindFlight    SegmentKind = "FLIGHT"
	KindHotel     SegmentKind = "HOTEL"
	KindActivity  SegmentKind = "ACTIVITY"
	KindTransfer  SegmentKind = "TRANSFER"
	KindMeeting   SegmentKind = "MEETING"
	KindMeal      SegmentKind = "MEAL"
	KindRestaurant SegmentKind = "RESTAURANT"
	KindOther     SegmentKind = "OTHER"
)

// SegmentStatus tracks a segment's confirmation lifecycle.
type SegmentStatus string

const (
	StatusTentative SegmentStatus = "TENTATIVE"
	StatusConfirmed SegmentStatus = "CONFIRMED"
	StatusCancelled SegmentStatus = "CANCELLED"
)

// Location names a place: an airport/city/venue with optional code,
// locality, and coordinates.
type Location struct {
	Name        string  `json:"name"`
	Code        string  `json:"code,omitempty"`
	City        string  `json:"city,omitempty"`
	Country     string  `json:"country,omitempty"`
	Latitude    float64 `json:"latitude,omitempty"`
	Longitude   float64 `json:"longitude,omitempty"`
	Address     string  `json:"address,omitempty"`
	Type        string  `json:"type,omitempty"`
}

// Segment is a single travel unit: a tagged union over SegmentKind. Only
// the fields relevant to Kind are populated; the rest are zero.
type Segment struct {
	ID        string        `json:"id"`
	Type      SegmentKind   `json:"type"`
	Status    SegmentStatus `json:"status"`
	Start     time.Time     `json:"startDatetime"`
	End       time.Time     `json:"endDatetime"`
	TravelerIDs []string    `json:"travelerIds,omitempty"`
	Notes     string        `json:"notes,omitempty"`

	Inferred       bool   `json:"inferred,omitempty"`
	InferredReason string `json:"inferredReason,omitempty"`

	// FLIGHT
	Airline      string   `json:"airline,omitempty"`
	FlightNumber string   `json:"flightNumber,omitempty"`
	Origin       Location `json:"origin,omitempty"`
	Destination  Location `json:"destination,omitempty"`

	// HOTEL
	Property string   `json:"property,omitempty"`
	Location Location `json:"location,omitempty"`
	CheckIn  time.Time `json:"checkIn,omitempty"`
	CheckOut time.Time `json:"checkOut,omitempty"`

	// ACTIVITY
	Name string `json:"name,omitempty"`

	// TRANSFER
	TransferType    string   `json:"transferType,omitempty"`
	PickupLocation  Location `json:"pickupLocation,omitempty"`
	DropoffLocation Location `json:"dropoffLocation,omitempty"`
}

// DisplayName renders a short per-kind label used by the summarizer and
// tool-result projections.
func (s Segment) DisplayName() string {
	switch s.Type {
	case KindFlight:
		if s.Origin.displayCode() != "" && s.Destination.displayCode() != "" {
			return s.Origin.displayCode() + " → " + s.Destination.displayCode()
		}
		return s.FlightNumber
	case KindHotel:
		if s.Property != "" {
			return s.Property
		}
		return s.Location.Name
	case KindActivity:
		return s.Name
	case KindTransfer:
		return s.TransferType
	case KindMeeting, KindMeal, KindRestaurant:
		return s.Notes
	default:
		return s.Notes
	}
}

func (l Location) displayCode() string {
	if l.Code != "" {
		return l.Code
	}
	return l.Name
}

// Traveler is a named participant on the trip.
type Traveler struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// BudgetFlexibility is a 1..5 scale; 1 = very strict, 5 = very flexible.
type BudgetFlexibility int

// TravelStyle enumerates traveler style preferences.
type TravelStyle string

const (
	StyleLuxury     TravelStyle = "luxury"
	StyleModerate   TravelStyle = "moderate"
	StyleBudget     TravelStyle = "budget"
	StyleBackpacker TravelStyle = "backpacker"
)

// Pace enumerates itinerary density preferences.
type Pace string

const (
	PacePacked    Pace = "packed"
	PaceBalanced  Pace = "balanced"
	PaceLeisurely Pace = "leisurely"
)

// TripTravelerPreferences is a sparse record of known preference fields.
// Zero values and nil slices mean "unset"; callers distinguish "unset" from
// "explicitly cleared" only at the merge boundary (see MergePreferences).
type TripTravelerPreferences struct {
	TravelStyle           TravelStyle       `json:"travelStyle,omitempty"`
	Pace                  Pace              `json:"pace,omitempty"`
	Interests             []string          `json:"interests,omitempty"`
	BudgetFlexibility      BudgetFlexibility `json:"budgetFlexibility,omitempty"`
	DietaryRestrictions    string            `json:"dietaryRestrictions,omitempty"`
	MobilityRestrictions   string            `json:"mobilityRestrictions,omitempty"`
	Origin                 string            `json:"origin,omitempty"`
	AccommodationPreference string           `json:"accommodationPreference,omitempty"`
	ActivityPreferences    []string          `json:"activityPreferences,omitempty"`
	Avoidances             []string          `json:"avoidances,omitempty"`
}

// IsEmpty reports whether no preference field has been set.
func (p TripTravelerPreferences) IsEmpty() bool {
	return p.TravelStyle == "" && p.Pace == "" && len(p.Interests) == 0 &&
		p.BudgetFlexibility == 0 && p.DietaryRestrictions == "" &&
		p.MobilityRestrictions == "" && p.Origin == "" &&
		p.AccommodationPreference == "" && len(p.ActivityPreferences) == 0 &&
		len(p.Avoidances) == 0
}

// budgetFlexibilityLabels maps the 1..5 scale to human labels for the
// summarizer.
var budgetFlexibilityLabels = map[BudgetFlexibility]string{
	1: "very strict",
	2: "strict",
	3: "moderate",
	4: "flexible",
	5: "very flexible",
}

// Label returns the human-readable label for a BudgetFlexibility value, or
// empty string if out of range.
func (b BudgetFlexibility) Label() string {
	return budgetFlexibilityLabels[b]
}

// Itinerary is the aggregate travel plan.
type Itinerary struct {
	ID           string    `json:"id"`
	Version      int       `json:"version"`
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	StartDate    *time.Time `json:"startDate,omitempty"`
	EndDate      *time.Time `json:"endDate,omitempty"`
	Destinations []Location `json:"destinations"`
	Travelers    []Traveler `json:"travelers"`
	Segments     []Segment  `json:"segments"`
	Preferences  *TripTravelerPreferences `json:"tripPreferences,omitempty"`
	BudgetTotal  float64   `json:"budgetTotal,omitempty"`

	OwnerID   string    `json:"ownerId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewItinerary returns a fresh itinerary with the default title and empty
// collections, per spec.
func NewItinerary(id, ownerID string, now time.Time) *Itinerary {
	return &Itinerary{
		ID:           id,
		Version:      1,
		Title:        "New Itinerary",
		Destinations: []Location{},
		Travelers:    []Traveler{},
		Segments:     []Segment{},
		OwnerID:      ownerID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// IsEmpty reports whether the itinerary has no content yet — the exact
// predicate the agent loop uses to decide the first-turn-on-empty-itinerary
// essential-catalog rule.
func (it *Itinerary) IsEmpty() bool {
	return it.Title == "New Itinerary" &&
		len(it.Segments) == 0 &&
		len(it.Destinations) == 0 &&
		(it.Preferences == nil || it.Preferences.IsEmpty())
}

// EffectiveDestinations returns Destinations when non-empty, else derives
// them from FLIGHT destinations and HOTEL locations in segment order, keyed
// by code-or-name (the "fingerprint fallback" of the glossary). A flight
// destination equal to the first flight's origin (the return leg home) is
// not counted as a destination.
func (it *Itinerary) EffectiveDestinations() []Location {
	if len(it.Destinations) > 0 {
		return it.Destinations
	}
	originKey := ""
	for _, seg := range it.Segments {
		if seg.Type == KindFlight {
			originKey = seg.Origin.displayCode()
			break
		}
	}
	seen := map[string]bool{}
	var out []Location
	for _, seg := range it.Segments {
		var loc Location
		switch seg.Type {
		case KindFlight:
			loc = seg.Destination
			if originKey != "" && loc.displayCode() == originKey {
				continue
			}
		case KindHotel:
			loc = seg.Location
		default:
			continue
		}
		key := loc.displayCode()
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, loc)
	}
	return out
}

// MergePreferences merges incoming non-zero fields over base, field-wise.
// A zero-valued field of update leaves base's value in place; a field named
// in clearedFields is reset to its zero value instead. See
// pkg/tools/handlers_itinerary.go, which fills clearedFields from the
// fields sent as explicit JSON null.
func MergePreferences(base TripTravelerPreferences, update TripTravelerPreferences, clearedFields map[string]bool) TripTravelerPreferences {
	out := base
	if clearedFields["travelStyle"] {
		out.TravelStyle = ""
	} else if update.TravelStyle != "" {
		out.TravelStyle = update.TravelStyle
	}
	if clearedFields["pace"] {
		out.Pace = ""
	} else if update.Pace != "" {
		out.Pace = update.Pace
	}
	if clearedFields["interests"] {
		out.Interests = nil
	} else if update.Interests != nil {
		out.Interests = update.Interests
	}
	if clearedFields["budgetFlexibility"] {
		out.BudgetFlexibility = 0
	} else if update.BudgetFlexibility != 0 {
		out.BudgetFlexibility = update.BudgetFlexibility
	}
	if clearedFields["dietaryRestrictions"] {
		out.DietaryRestrictions = ""
	} else if update.DietaryRestrictions != "" {
		out.DietaryRestrictions = update.DietaryRestrictions
	}
	if clearedFields["mobilityRestrictions"] {
		out.MobilityRestrictions = ""
	} else if update.MobilityRestrictions != "" {
		out.MobilityRestrictions = update.MobilityRestrictions
	}
	if clearedFields["origin"] {
		out.Origin = ""
	} else if update.Origin != "" {
		out.Origin = update.Origin
	}
	if clearedFields["accommodationPreference"] {
		out.AccommodationPreference = ""
	} else if update.AccommodationPreference != "" {
		out.AccommodationPreference = update.AccommodationPreference
	}
	if clearedFields["activityPreferences"] {
		out.ActivityPreferences = nil
	} else if update.ActivityPreferences != nil {
		out.ActivityPreferences = update.ActivityPreferences
	}
	if clearedFields["avoidances"] {
		out.Avoidances = nil
	} else if update.Avoidances != nil {
		out.Avoidances = update.Avoidances
	}
	return out
}
