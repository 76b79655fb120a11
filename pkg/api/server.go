// Package api is the reference HTTP surface over the session engine:
// session lifecycle, a small itinerary CRUD for callers, and the SSE
// message-stream endpoint that relays the agent loop's TurnEvent sequence.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/tripdesigner/agent/pkg/agentloop"
	"github.com/tripdesigner/agent/pkg/itinerary"
	"github.com/tripdesigner/agent/pkg/logger"
	"github.com/tripdesigner/agent/pkg/session"
)

// Server routes the session/itinerary endpoints onto an agent loop and its
// stores.
type Server struct {
	Loop        *agentloop.Loop
	Sessions    *session.SessionManager
	Itineraries itinerary.Store
}

// NewServer wires a Server over its collaborators.
func NewServer(loop *agentloop.Loop, sessions *session.SessionManager, itineraries itinerary.Store) *Server {
	return &Server{Loop: loop, Sessions: sessions, Itineraries: itineraries}
}

// Handler returns the routed http.Handler for the full API surface.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /itineraries", s.createItinerary)
	mux.HandleFunc("GET /itineraries/{id}", s.getItinerary)
	mux.HandleFunc("DELETE /itineraries/{id}", s.deleteItinerary)
	mux.HandleFunc("POST /sessions", s.createSession)
	mux.HandleFunc("GET /sessions/{id}", s.getSession)
	mux.HandleFunc("DELETE /sessions/{id}", s.deleteSession)
	mux.HandleFunc("POST /sessions/{id}/messages/stream", s.streamMessage)
	return mux
}

type apiError struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) createItinerary(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title   string `json:"title"`
		OwnerID string `json:"ownerId"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	it := itinerary.NewItinerary(uuid.NewString(), body.OwnerID, time.Now())
	if body.Title != "" {
		it.Title = body.Title
	}
	if err := s.Itineraries.Create(r.Context(), it); err != nil {
		writeJSON(w, http.StatusInternalServerError, apiError{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, it)
}

func (s *Server) getItinerary(w http.ResponseWriter, r *http.Request) {
	it, err := s.Itineraries.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, itinerary.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, apiError{Error: "itinerary_not_found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, apiError{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, it)
}

func (s *Server) deleteItinerary(w http.ResponseWriter, r *http.Request) {
	err := s.Itineraries.Delete(r.Context(), r.PathValue("id"))
	if err != nil && !errors.Is(err, itinerary.ErrNotFound) {
		writeJSON(w, http.StatusInternalServerError, apiError{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ItineraryID string `json:"itineraryId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ItineraryID == "" {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "itineraryId required"})
		return
	}

	if _, err := s.Itineraries.Get(r.Context(), body.ItineraryID); err != nil {
		if errors.Is(err, itinerary.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, apiError{Error: "itinerary_not_found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, apiError{Error: err.Error()})
		return
	}

	key := uuid.NewString()
	s.Sessions.CreateForItinerary(key, body.ItineraryID)
	writeJSON(w, http.StatusCreated, map[string]string{"sessionId": key})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.Sessions.Get(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, apiError{Error: "session_not_found"})
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	s.Sessions.Delete(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

// streamMessage runs one turn and relays its TurnEvents as SSE. The 200
// status goes out immediately; subsequent failures travel in-band as error
// events, per the wire contract.
func (s *Server) streamMessage(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("id")
	if _, ok := s.Sessions.Get(key); !ok {
		writeJSON(w, http.StatusNotFound, apiError{Error: "session_not_found"})
		return
	}

	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Message == "" {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "message required"})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, apiError{Error: "streaming unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := s.Loop.ChatStream(r.Context(), key, body.Message)
	for ev := range events {
		if err := writeSSEEvent(w, ev); err != nil {
			logger.WarnCF("api", "client disconnected mid-stream",
				map[string]interface{}{"session": key, "error": err.Error()})
			// Keep draining so the producer can finish and persist.
			for range events {
			}
			return
		}
		flusher.Flush()
	}
}
