// Package summarizer projects an Itinerary into the token-budgeted forms
// the agent loop injects into prompts and tool results: a full markdown
// context block, a one-line minimal form used during compaction, and a
// compact structured form used as the get_itinerary tool result.
package summarizer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tripdesigner/agent/pkg/itinerary"
	"github.com/tripdesigner/agent/pkg/mismatch"
)

const maxDetailLines = 12

// SummarizeItinerary renders the full markdown context block injected
// into prompts. Deterministic: equal itineraries produce byte-equal output.
func SummarizeItinerary(it *itinerary.Itinerary) string {
	var b strings.Builder

	if result := mismatch.Detect(it); result != nil {
		fmt.Fprintf(&b, "> ⚠️ Title/destination mismatch: title mentions %q but itinerary goes to %q. Suggested title: %q.\n\n",
			result.TitleMentions, result.ActualDestination, result.SuggestedTitle)
	}

	fmt.Fprintf(&b, "**Trip:** %s\n", it.Title)

	if it.StartDate != nil || it.EndDate != nil {
		b.WriteString("**Dates:** ")
		b.WriteString(datesLine(it))
		b.WriteString("\n")
	}

	b.WriteString("**Travelers:** ")
	b.WriteString(travelersLine(it))
	b.WriteString("\n")

	b.WriteString("**Destinations:** ")
	b.WriteString(destinationsLine(it))
	b.WriteString("\n")

	if prefs := preferencesLines(it.Preferences); prefs != "" {
		b.WriteString("**Preferences:**\n")
		b.WriteString(prefs)
	}

	if it.BudgetTotal > 0 {
		fmt.Fprintf(&b, "**Budget:** %.2f\n", it.BudgetTotal)
	}

	b.WriteString(segmentSummary(it))

	return b.String()
}

func datesLine(it *itinerary.Itinerary) string {
	if it.StartDate == nil || it.EndDate == nil {
		if it.StartDate != nil {
			return it.StartDate.Format("Jan 2, 2006")
		}
		if it.EndDate != nil {
			return it.EndDate.Format("Jan 2, 2006")
		}
		return ""
	}
	days := int(it.EndDate.Sub(*it.StartDate).Hours()/24) + 1
	return fmt.Sprintf("%s - %s (%d days)", it.StartDate.Format("Jan 2, 2006"), it.EndDate.Format("Jan 2, 2006"), days)
}

func travelersLine(it *itinerary.Itinerary) string {
	if len(it.Travelers) == 0 {
		return "not specified"
	}
	names := make([]string, 0, len(it.Travelers))
	for _, t := range it.Travelers {
		if t.Name != "" {
			names = append(names, t.Name)
		}
	}
	if len(names) == 0 {
		return fmt.Sprintf("%d travelers", len(it.Travelers))
	}
	return strings.Join(names, ", ")
}

func destinationsLine(it *itinerary.Itinerary) string {
	dests := it.EffectiveDestinations()
	if len(dests) == 0 {
		return "not specified"
	}
	names := make([]string, 0, len(dests))
	for _, d := range dests {
		name := d.City
		if name == "" {
			name = d.Name
		}
		if name == "" {
			name = d.Code
		}
		names = append(names, name)
	}
	return strings.Join(names, ", ")
}

var budgetFlexibilityLabel = func(b itinerary.BudgetFlexibility) string { return b.Label() }

func preferencesLines(p *itinerary.TripTravelerPreferences) string {
	if p == nil || p.IsEmpty() {
		return ""
	}
	var b strings.Builder
	if p.TravelStyle != "" {
		fmt.Fprintf(&b, "- Travel style: %s\n", p.TravelStyle)
	}
	if p.Pace != "" {
		fmt.Fprintf(&b, "- Pace: %s\n", p.Pace)
	}
	if len(p.Interests) > 0 {
		fmt.Fprintf(&b, "- Interests: %s\n", strings.Join(p.Interests, ", "))
	}
	if p.BudgetFlexibility != 0 {
		label := budgetFlexibilityLabel(p.BudgetFlexibility)
		if label == "" {
			label = fmt.Sprintf("%d", p.BudgetFlexibility)
		}
		fmt.Fprintf(&b, "- Budget flexibility: %s\n", label)
	}
	if p.DietaryRestrictions != "" {
		fmt.Fprintf(&b, "- Dietary restrictions: %s\n", p.DietaryRestrictions)
	}
	if p.MobilityRestrictions != "" {
		fmt.Fprintf(&b, "- Mobility restrictions: %s\n", p.MobilityRestrictions)
	}
	if p.Origin != "" {
		fmt.Fprintf(&b, "- Origin: %s\n", p.Origin)
	}
	if p.AccommodationPreference != "" {
		fmt.Fprintf(&b, "- Accommodation preference: %s\n", p.AccommodationPreference)
	}
	if len(p.ActivityPreferences) > 0 {
		fmt.Fprintf(&b, "- Activity preferences: %s\n", strings.Join(p.ActivityPreferences, ", "))
	}
	if len(p.Avoidances) > 0 {
		fmt.Fprintf(&b, "- Avoid: %s\n", strings.Join(p.Avoidances, ", "))
	}
	return b.String()
}

func sortedSegments(it *itinerary.Itinerary) []itinerary.Segment {
	segs := append([]itinerary.Segment(nil), it.Segments...)
	sort.SliceStable(segs, func(i, j int) bool { return segs[i].Start.Before(segs[j].Start) })
	return segs
}

func segmentSummary(it *itinerary.Itinerary) string {
	segs := sortedSegments(it)
	if len(segs) == 0 {
		return "**Segments:** none yet\n"
	}

	counts := map[itinerary.SegmentKind]int{}
	for _, s := range segs {
		counts[s.Type]++
	}

	var b strings.Builder
	b.WriteString("**Segments:** ")
	b.WriteString(countsLine(counts))
	b.WriteString("\n")

	limit := len(segs)
	if limit > maxDetailLines {
		limit = maxDetailLines
	}
	for _, s := range segs[:limit] {
		fmt.Fprintf(&b, "- %s\n", detailLine(s))
	}
	return b.String()
}

// kindOrder fixes a stable iteration order for the aggregate counts line.
var kindOrder = []itinerary.SegmentKind{
	itinerary.KindFlight, itinerary.KindHotel, itinerary.KindActivity,
	itinerary.KindTransfer, itinerary.KindMeeting, itinerary.KindMeal,
	itinerary.KindRestaurant, itinerary.KindOther,
}

var kindLabel = map[itinerary.SegmentKind]struct{ singular, plural string }{
	itinerary.KindFlight:     {"flight", "flights"},
	itinerary.KindHotel:      {"hotel", "hotels"},
	itinerary.KindActivity:   {"activity", "activities"},
	itinerary.KindTransfer:   {"transfer", "transfers"},
	itinerary.KindMeeting:    {"meeting", "meetings"},
	itinerary.KindMeal:       {"meal", "meals"},
	itinerary.KindRestaurant: {"restaurant", "restaurants"},
	itinerary.KindOther:      {"item", "items"},
}

func countsLine(counts map[itinerary.SegmentKind]int) string {
	var parts []string
	for _, k := range kindOrder {
		n := counts[k]
		if n == 0 {
			continue
		}
		label := kindLabel[k]
		word := label.plural
		if n == 1 {
			word = label.singular
		}
		parts = append(parts, fmt.Sprintf("%d %s", n, word))
	}
	return strings.Join(parts, ", ")
}

func detailLine(s itinerary.Segment) string {
	date := s.Start.Format("Jan 2")
	switch s.Type {
	case itinerary.KindFlight:
		return fmt.Sprintf("%s: %s (%s → %s)", string(s.Type), date, codeOrName(s.Origin), codeOrName(s.Destination))
	case itinerary.KindHotel:
		nights := int(s.CheckOut.Sub(s.CheckIn).Hours() / 24)
		if nights <= 0 {
			nights = 1
		}
		return fmt.Sprintf("%s: %s (%d nights, %s)", string(s.Type), date, nights, s.Property)
	case itinerary.KindActivity:
		return fmt.Sprintf("%s: %s - %s", string(s.Type), date, s.Name)
	default:
		name := s.DisplayName()
		if name == "" {
			name = string(s.Type)
		}
		return fmt.Sprintf("%s: %s - %s", string(s.Type), date, name)
	}
}

func codeOrName(l itinerary.Location) string {
	if l.Code != "" {
		return l.Code
	}
	return l.Name
}

// SummarizeItineraryMinimal renders one line preserving destinations and
// shape, used inside compaction: `Title (start-end) | destNames | kind-counts`.
func SummarizeItineraryMinimal(it *itinerary.Itinerary) string {
	dates := ""
	if it.StartDate != nil && it.EndDate != nil {
		dates = fmt.Sprintf("%s-%s", it.StartDate.Format("2006-01-02"), it.EndDate.Format("2006-01-02"))
	}

	dests := it.EffectiveDestinations()
	names := make([]string, 0, len(dests))
	for _, d := range dests {
		name := d.City
		if name == "" {
			name = d.Name
		}
		if name == "" {
			name = d.Code
		}
		names = append(names, name)
	}

	counts := map[itinerary.SegmentKind]int{}
	for _, s := range it.Segments {
		counts[s.Type]++
	}

	return fmt.Sprintf("%s (%s) | %s | %s", it.Title, dates, strings.Join(names, ","), countsLine(counts))
}

// ToolSegment is the compact per-segment projection returned by
// SummarizeItineraryForTool.
type ToolSegment struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	StartDatetime string `json:"startDatetime,omitempty"`
	Display     string `json:"display"`
}

// ToolPreferences is the condensed preferences projection.
type ToolPreferences struct {
	TravelStyle string   `json:"travelStyle,omitempty"`
	Pace        string   `json:"pace,omitempty"`
	Interests   []string `json:"interests,omitempty"`
}

// ToolProjection is the structured get_itinerary tool result, bounded to
// roughly 25% of the full JSON size.
type ToolProjection struct {
	ID           string           `json:"id"`
	Title        string           `json:"title"`
	StartDate    string           `json:"startDate,omitempty"`
	EndDate      string           `json:"endDate,omitempty"`
	Destinations []string         `json:"destinations"`
	Segments     []ToolSegment    `json:"segments"`
	Preferences  *ToolPreferences `json:"preferences,omitempty"`
	Travelers    []string         `json:"travelers"`
}

// SummarizeItineraryForTool builds the compact structured projection used
// as the get_itinerary tool result.
func SummarizeItineraryForTool(it *itinerary.Itinerary) ToolProjection {
	proj := ToolProjection{
		ID:    it.ID,
		Title: it.Title,
	}
	if it.StartDate != nil {
		proj.StartDate = it.StartDate.Format("2006-01-02")
	}
	if it.EndDate != nil {
		proj.EndDate = it.EndDate.Format("2006-01-02")
	}

	for _, d := range it.EffectiveDestinations() {
		name := d.City
		if name == "" {
			name = d.Name
		}
		if name == "" {
			name = d.Code
		}
		proj.Destinations = append(proj.Destinations, name)
	}
	if proj.Destinations == nil {
		proj.Destinations = []string{}
	}

	for _, s := range sortedSegments(it) {
		ts := ToolSegment{ID: s.ID, Type: string(s.Type), Display: s.DisplayName()}
		if !s.Start.IsZero() {
			ts.StartDatetime = s.Start.Format("2006-01-02T15:04:05Z07:00")
		}
		proj.Segments = append(proj.Segments, ts)
	}
	if proj.Segments == nil {
		proj.Segments = []ToolSegment{}
	}

	if it.Preferences != nil && !it.Preferences.IsEmpty() {
		proj.Preferences = &ToolPreferences{
			TravelStyle: string(it.Preferences.TravelStyle),
			Pace:        string(it.Preferences.Pace),
			Interests:   it.Preferences.Interests,
		}
	}

	for _, t := range it.Travelers {
		proj.Travelers = append(proj.Travelers, t.Name)
	}
	if proj.Travelers == nil {
		proj.Travelers = []string{}
	}

	return proj
}
