package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tripdesigner/agent/pkg/logger"
	"github.com/tripdesigner/agent/pkg/providers"
)

// ErrBusy is returned by Lock when another chatStream call already holds
// the per-session lock for this key (`session_busy`).
var ErrBusy = fmt.Errorf("session: busy")

type entry struct {
	session *Session
	mu      sync.Mutex // serializes chatStream calls for this key
	busy    bool
	dataMu  sync.Mutex // guards session field mutation independent of chatStream
}

// SessionManager is the in-process Session CRUD surface: GetOrCreate,
// AddMessage/AddFullMessage, GetHistory, GetSummary/SetSummary,
// TruncateHistory, Save, SweepIdle, and a per-key busy-lock for the agent
// loop's single-flight-per-session rule.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*entry
	dbPath   string
	db       *sql.DB
}

// NewSessionManager returns a manager backed by a sqlite file at dbPath, or
// in-memory only when dbPath is "".
func NewSessionManager(dbPath string) *SessionManager {
	sm := &SessionManager{sessions: make(map[string]*entry), dbPath: dbPath}
	if dbPath == "" {
		return sm
	}

	if dir := filepath.Dir(dbPath); dir != "." {
		_ = os.MkdirAll(dir, 0755)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		logger.ErrorCF("session", "failed to open session store, falling back to memory-only",
			map[string]interface{}{"error": err.Error()})
		return sm
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS sessions (
		key TEXT PRIMARY KEY,
		body TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	)`); err != nil {
		logger.ErrorCF("session", "failed to migrate session store, falling back to memory-only",
			map[string]interface{}{"error": err.Error()})
		db.Close()
		return sm
	}
	sm.db = db
	sm.loadAll()
	return sm
}

func (sm *SessionManager) loadAll() {
	rows, err := sm.db.Query(`SELECT body FROM sessions`)
	if err != nil {
		logger.ErrorCF("session", "failed to load sessions", map[string]interface{}{"error": err.Error()})
		return
	}
	defer rows.Close()
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			continue
		}
		var s Session
		if err := json.Unmarshal([]byte(body), &s); err != nil {
			continue
		}
		sess := s
		sm.sessions[sess.Key] = &entry{session: &sess}
	}
}

func (sm *SessionManager) entryFor(key string) *entry {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	e, ok := sm.sessions[key]
	if !ok {
		e = &entry{session: newSession(key, "")}
		sm.sessions[key] = e
	}
	return e
}

// GetOrCreate returns the session for key, creating an empty one if needed.
func (sm *SessionManager) GetOrCreate(key string) *Session {
	return sm.entryFor(key).session
}

// Get returns the session for key without creating one.
func (sm *SessionManager) Get(key string) (*Session, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	e, ok := sm.sessions[key]
	if !ok {
		return nil, false
	}
	return e.session, true
}

// CreateForItinerary creates a new session bound to itineraryID under key.
func (sm *SessionManager) CreateForItinerary(key, itineraryID string) *Session {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	e := &entry{session: newSession(key, itineraryID)}
	sm.sessions[key] = e
	return e.session
}

// Lock acquires the per-session busy lock required before running
// chatStream, returning ErrBusy if another call already holds it.
func (sm *SessionManager) Lock(key string) error {
	e := sm.entryFor(key)
	e.dataMu.Lock()
	if e.busy {
		e.dataMu.Unlock()
		return ErrBusy
	}
	e.busy = true
	e.dataMu.Unlock()
	e.mu.Lock()
	return nil
}

// Unlock releases the per-session busy lock.
func (sm *SessionManager) Unlock(key string) {
	e := sm.entryFor(key)
	e.dataMu.Lock()
	e.busy = false
	e.dataMu.Unlock()
	e.mu.Unlock()
}

// AddMessage appends a simple role/content message, auto-creating the
// session if it doesn't exist.
func (sm *SessionManager) AddMessage(key, role, content string) {
	sm.AddFullMessage(key, providers.Message{Role: role, Content: content})
}

// AddFullMessage appends a complete Message, including tool calls.
func (sm *SessionManager) AddFullMessage(key string, msg providers.Message) {
	e := sm.entryFor(key)
	e.dataMu.Lock()
	defer e.dataMu.Unlock()
	e.session.Messages = append(e.session.Messages, msg)
	e.session.Metadata.MessageCount = len(e.session.Messages)
	e.session.Metadata.UpdatedAt = time.Now()
}

// GetHistory returns a deep copy of the session's messages, or an empty
// (non-nil) slice for an unknown key.
func (sm *SessionManager) GetHistory(key string) []providers.Message {
	sm.mu.Lock()
	e, ok := sm.sessions[key]
	sm.mu.Unlock()
	if !ok {
		return []providers.Message{}
	}
	e.dataMu.Lock()
	defer e.dataMu.Unlock()
	out := make([]providers.Message, len(e.session.Messages))
	copy(out, e.session.Messages)
	for i, m := range out {
		if len(m.ToolCalls) > 0 {
			cp := make([]providers.ToolCall, len(m.ToolCalls))
			copy(cp, m.ToolCalls)
			out[i].ToolCalls = cp
		}
	}
	return out
}

// GetSummary returns the compaction-synthesized summary, or "" if unset or
// the key is unknown.
func (sm *SessionManager) GetSummary(key string) string {
	sm.mu.Lock()
	e, ok := sm.sessions[key]
	sm.mu.Unlock()
	if !ok {
		return ""
	}
	e.dataMu.Lock()
	defer e.dataMu.Unlock()
	return e.session.Summary
}

// SetSummary sets the session's compaction summary. A no-op on unknown keys.
func (sm *SessionManager) SetSummary(key, summary string) {
	sm.mu.Lock()
	e, ok := sm.sessions[key]
	sm.mu.Unlock()
	if !ok {
		return
	}
	e.dataMu.Lock()
	defer e.dataMu.Unlock()
	e.session.Summary = summary
}

// TruncateHistory keeps only the most recent keep messages. A no-op if the
// session already has keep or fewer messages, or the key is unknown.
func (sm *SessionManager) TruncateHistory(key string, keep int) {
	sm.mu.Lock()
	e, ok := sm.sessions[key]
	sm.mu.Unlock()
	if !ok {
		return
	}
	e.dataMu.Lock()
	defer e.dataMu.Unlock()
	if len(e.session.Messages) <= keep {
		return
	}
	e.session.Messages = append([]providers.Message(nil), e.session.Messages[len(e.session.Messages)-keep:]...)
}

// ReplaceHistory replaces the session's messages wholesale — used by
// compaction to splice a synthesized summary message in for an older range.
func (sm *SessionManager) ReplaceHistory(key string, messages []providers.Message) {
	sm.mu.Lock()
	e, ok := sm.sessions[key]
	sm.mu.Unlock()
	if !ok {
		return
	}
	e.dataMu.Lock()
	defer e.dataMu.Unlock()
	e.session.Messages = messages
	e.session.Metadata.MessageCount = len(messages)
}

// MarkCompacted stamps LastCompactedAt to now.
func (sm *SessionManager) MarkCompacted(key string) {
	sm.mu.Lock()
	e, ok := sm.sessions[key]
	sm.mu.Unlock()
	if !ok {
		return
	}
	e.dataMu.Lock()
	defer e.dataMu.Unlock()
	e.session.Metadata.LastCompactedAt = time.Now()
}

// AddCost accumulates the session's cumulative cost counter.
func (sm *SessionManager) AddCost(key string, deltaUSD float64) {
	sm.mu.Lock()
	e, ok := sm.sessions[key]
	sm.mu.Unlock()
	if !ok {
		return
	}
	e.dataMu.Lock()
	defer e.dataMu.Unlock()
	e.session.Metadata.CostUSD += deltaUSD
}

// SetTotalTokens overwrites the session's estimated-tokens counter.
func (sm *SessionManager) SetTotalTokens(key string, tokens int) {
	sm.mu.Lock()
	e, ok := sm.sessions[key]
	sm.mu.Unlock()
	if !ok {
		return
	}
	e.dataMu.Lock()
	defer e.dataMu.Unlock()
	e.session.Metadata.TotalTokens = tokens
}

// Delete removes a session by key, returning true if it existed.
func (sm *SessionManager) Delete(key string) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if _, ok := sm.sessions[key]; !ok {
		return false
	}
	delete(sm.sessions, key)
	if sm.db != nil {
		_, _ = sm.db.Exec(`DELETE FROM sessions WHERE key = ?`, key)
	}
	return true
}

// Save persists a session snapshot; a no-op (returning nil) with no storage
// configured.
func (sm *SessionManager) Save(s *Session) error {
	if sm.db == nil {
		return nil
	}
	body, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("session: marshal: %w", err)
	}
	_, err = sm.db.Exec(
		`INSERT INTO sessions (key, body, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		s.Key, string(body), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("session: save: %w", err)
	}
	return nil
}

// SweepIdle deletes sessions whose last update is older than olderThan,
// returning the keys removed. Scheduling this call is cmd/tripdesigner's
// responsibility (gronx cron).
func (sm *SessionManager) SweepIdle(ctx context.Context, olderThan time.Duration) []string {
	sm.mu.Lock()
	var stale []string
	now := time.Now()
	for key, e := range sm.sessions {
		e.dataMu.Lock()
		idle := now.Sub(e.session.Metadata.UpdatedAt)
		e.dataMu.Unlock()
		if idle > olderThan {
			stale = append(stale, key)
		}
	}
	for _, key := range stale {
		delete(sm.sessions, key)
	}
	sm.mu.Unlock()

	if sm.db != nil {
		for _, key := range stale {
			_, _ = sm.db.ExecContext(ctx, `DELETE FROM sessions WHERE key = ?`, key)
		}
	}
	if len(stale) > 0 {
		logger.InfoCF("session", "swept idle sessions", map[string]interface{}{"count": len(stale)})
	}
	return stale
}

// Close releases the underlying database handle, if any.
func (sm *SessionManager) Close() error {
	if sm.db == nil {
		return nil
	}
	return sm.db.Close()
}
