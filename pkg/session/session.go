// Package session implements the Session model bound to one itinerary and
// a SessionManager providing the in-process CRUD + concurrency surface the
// agent loop and HTTP API build on, with optional sqlite persistence.
package session

import (
	"time"

	"github.com/tripdesigner/agent/pkg/providers"
)

// TripProfile is the session's mirror of preferences extracted so far from
// conversation, with a confidence score in [0,1].
type TripProfile struct {
	Data       map[string]interface{} `json:"data,omitempty"`
	Confidence float64                `json:"confidence"`
}

// Metadata tracks per-session counters.
type Metadata struct {
	MessageCount    int       `json:"messageCount"`
	TotalTokens     int       `json:"totalTokens"`
	CostUSD         float64   `json:"costUSD"`
	LastCompactedAt time.Time `json:"lastCompactedAt,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Session is a conversational context bound to one itinerary. All mutation
// goes through SessionManager, which serializes access per key; Session
// itself carries no lock.
type Session struct {
	Key         string              `json:"key"`
	ItineraryID string              `json:"itineraryId"`
	Messages    []providers.Message `json:"messages"`
	Summary     string              `json:"summary,omitempty"`
	TripProfile *TripProfile        `json:"tripProfile,omitempty"`
	Metadata    Metadata            `json:"metadata"`
}

// newSession constructs an empty session bound to itineraryID.
func newSession(key, itineraryID string) *Session {
	now := time.Now()
	return &Session{
		Key:         key,
		ItineraryID: itineraryID,
		Messages:    []providers.Message{},
		Metadata:    Metadata{CreatedAt: now, UpdatedAt: now},
	}
}

// IdleSince reports how long the session has gone without an update.
func (s *Session) IdleSince() time.Duration {
	return time.Since(s.Metadata.UpdatedAt)
}
