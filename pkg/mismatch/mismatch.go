// Package mismatch detects when an itinerary's title names a destination
// that no longer matches where its flights actually go, and proposes a
// corrected title.
package mismatch

import (
	"regexp"
	"strings"

	"github.com/tripdesigner/agent/pkg/itinerary"
)

// Result is the non-nil return of Detect when a mismatch is found.
type Result struct {
	HasMismatch       bool
	TitleMentions      string
	ActualDestination  string
	SuggestedTitle     string
	Explanation        string
}

var wordRe = regexp.MustCompile(`[A-Za-z][A-Za-z'.]*`)

// Detect infers the trip's destination from flight segments and compares
// it against the title. It returns nil whenever any
// input is missing or no unambiguous destination can be derived.
func Detect(it *itinerary.Itinerary) *Result {
	if it == nil || it.Title == "" {
		return nil
	}

	dest := inferDestination(it)
	if dest == nil {
		return nil
	}

	titleTokens := tokenize(it.Title + " " + it.Description)
	originMention := findMention(titleTokens, dest.origin)
	destMention := findMention(titleTokens, dest.dest)

	if originMention == "" || destMention != "" {
		return nil
	}

	suggested := substituteToken(it.Title, originMention, dest.destDisplay())
	return &Result{
		HasMismatch:      true,
		TitleMentions:     originMention,
		ActualDestination: dest.destDisplay(),
		SuggestedTitle:    suggested,
		Explanation: "Title mentions " + originMention + " but flights go to " +
			dest.destDisplay() + ".",
	}
}

// ApplyTitleSuggestion returns a copy of it with Title replaced by the
// suggested title. It does not mutate it.
func ApplyTitleSuggestion(it *itinerary.Itinerary, suggestedTitle string) *itinerary.Itinerary {
	out := *it
	out.Title = suggestedTitle
	return &out
}

// locationPair is the inferred origin/destination of a round-trip or
// one-way flight sequence.
type locationPair struct {
	origin, dest               string // city or name, lowercased for matching
	originCode, destCode       string
	originDisplay, destDisplayName string
}

func (p locationPair) destDisplay() string {
	if p.destDisplayName != "" {
		return p.destDisplayName
	}
	return p.destCode
}

// inferDestination scans FLIGHT segments in order. Round-trip (A→B,…,B→A)
// resolves to B; otherwise the last terminal destination is used.
func inferDestination(it *itinerary.Itinerary) *locationPair {
	var flights []itinerary.Segment
	for _, seg := range it.Segments {
		if seg.Type == itinerary.KindFlight {
			flights = append(flights, seg)
		}
	}
	if len(flights) == 0 {
		return nil
	}

	first := flights[0]
	last := flights[len(flights)-1]

	originKey := locationKey(first.Origin)
	if originKey == "" {
		return nil
	}

	// Round trip: last flight returns to the first flight's origin.
	if len(flights) > 1 && locationKey(last.Destination) == originKey {
		dest := first.Destination
		if locationKey(dest) == "" {
			return nil
		}
		return &locationPair{
			origin:          strings.ToLower(displayName(first.Origin)),
			dest:            strings.ToLower(displayName(dest)),
			originCode:      first.Origin.Code,
			destCode:        dest.Code,
			originDisplay:   displayName(first.Origin),
			destDisplayName: displayName(dest),
		}
	}

	dest := last.Destination
	if locationKey(dest) == "" || locationKey(dest) == originKey {
		return nil
	}
	return &locationPair{
		origin:          strings.ToLower(displayName(first.Origin)),
		dest:            strings.ToLower(displayName(dest)),
		originCode:      first.Origin.Code,
		destCode:        dest.Code,
		originDisplay:   displayName(first.Origin),
		destDisplayName: displayName(dest),
	}
}

func locationKey(l itinerary.Location) string {
	if l.Code != "" {
		return strings.ToLower(l.Code)
	}
	return strings.ToLower(l.City)
}

func displayName(l itinerary.Location) string {
	if l.City != "" {
		return l.City
	}
	if l.Name != "" {
		return l.Name
	}
	return l.Code
}

func tokenize(s string) []string {
	return wordRe.FindAllString(s, -1)
}

// findMention returns the exact-cased substring of the title that refers to
// loc (its lowercased name or IATA-style code), or "" if absent.
func findMention(tokens []string, loc string) string {
	loc = strings.ToLower(strings.TrimSpace(loc))
	if loc == "" {
		return ""
	}
	for _, tok := range tokens {
		if strings.EqualFold(tok, loc) {
			return tok
		}
	}
	// Multi-word city names ("New York"): check adjacent token pairs.
	for i := 0; i < len(tokens)-1; i++ {
		pair := tokens[i] + " " + tokens[i+1]
		if strings.EqualFold(pair, loc) {
			return pair
		}
	}
	return ""
}

// substituteToken replaces the case-preserved origin mention with the
// destination name, leaving the rest of the title untouched.
func substituteToken(title, originMention, destName string) string {
	idx := strings.Index(strings.ToLower(title), strings.ToLower(originMention))
	if idx < 0 {
		return title
	}
	replacement := preserveCase(originMention, destName)
	return title[:idx] + replacement + title[idx+len(originMention):]
}

// preserveCase upper-cases destName when sample is all upper-case and
// title-cases it for any other sample.
func preserveCase(sample, destName string) string {
	if sample == strings.ToUpper(sample) {
		return strings.ToUpper(destName)
	}
	return strings.Title(destName) //nolint:staticcheck // simple ASCII title-casing suffices for place names
}
