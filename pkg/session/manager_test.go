package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tripdesigner/agent/pkg/providers"
)

func TestNewSessionManagerNoStorage(t *testing.T) {
	sm := NewSessionManager("")
	if sm == nil {
		t.Fatal("expected non-nil SessionManager")
	}
}

func TestGetOrCreateNewSession(t *testing.T) {
	sm := NewSessionManager("")
	s := sm.GetOrCreate("test-key")
	if s == nil {
		t.Fatal("expected non-nil session")
	}
	if s.Key != "test-key" {
		t.Errorf("Key = %q, want test-key", s.Key)
	}
	if len(s.Messages) != 0 {
		t.Errorf("len(Messages) = %d, want 0", len(s.Messages))
	}
}

func TestGetOrCreateExistingSession(t *testing.T) {
	sm := NewSessionManager("")
	s1 := sm.GetOrCreate("key")
	s2 := sm.GetOrCreate("key")
	if s1 != s2 {
		t.Error("expected same session pointer for same key")
	}
}

func TestAddMessage(t *testing.T) {
	sm := NewSessionManager("")
	sm.GetOrCreate("key")
	sm.AddMessage("key", "user", "hello")
	sm.AddMessage("key", "assistant", "hi there")

	history := sm.GetHistory("key")
	if len(history) != 2 {
		t.Fatalf("len(history) = %d, want 2", len(history))
	}
	if history[0].Role != "user" || history[0].Content != "hello" {
		t.Errorf("unexpected first message: %+v", history[0])
	}
}

func TestAddMessageAutoCreatesSession(t *testing.T) {
	sm := NewSessionManager("")
	sm.AddMessage("new-key", "user", "hello")
	history := sm.GetHistory("new-key")
	if len(history) != 1 {
		t.Fatalf("len(history) = %d, want 1", len(history))
	}
}

func TestAddFullMessage(t *testing.T) {
	sm := NewSessionManager("")
	sm.GetOrCreate("key")

	msg := providers.Message{
		Role:    "assistant",
		Content: "Let me check that.",
		ToolCalls: []providers.ToolCall{
			{ID: "call_1", Name: "get_itinerary", Arguments: map[string]interface{}{"itinerary_id": "x"}},
		},
	}
	sm.AddFullMessage("key", msg)

	history := sm.GetHistory("key")
	if len(history) != 1 {
		t.Fatalf("len(history) = %d, want 1", len(history))
	}
	if len(history[0].ToolCalls) != 1 {
		t.Errorf("len(ToolCalls) = %d, want 1", len(history[0].ToolCalls))
	}
}

func TestGetHistoryReturnsDeepCopy(t *testing.T) {
	sm := NewSessionManager("")
	sm.AddMessage("key", "user", "hello")

	history := sm.GetHistory("key")
	history[0].Content = "modified"

	original := sm.GetHistory("key")
	if original[0].Content != "hello" {
		t.Errorf("GetHistory should return a copy, but original was modified")
	}
}

func TestGetHistoryNonexistentKey(t *testing.T) {
	sm := NewSessionManager("")
	history := sm.GetHistory("nonexistent")
	if history == nil {
		t.Fatal("expected non-nil empty slice")
	}
}

func TestSummary(t *testing.T) {
	sm := NewSessionManager("")
	sm.GetOrCreate("key")

	if got := sm.GetSummary("key"); got != "" {
		t.Errorf("GetSummary = %q, want empty", got)
	}
	sm.SetSummary("key", "User asked about a Tokyo trip")
	if got := sm.GetSummary("key"); got != "User asked about a Tokyo trip" {
		t.Errorf("GetSummary = %q, want set value", got)
	}
}

func TestTruncateHistory(t *testing.T) {
	sm := NewSessionManager("")
	for i := 0; i < 10; i++ {
		sm.AddMessage("key", "user", "message")
	}
	sm.TruncateHistory("key", 3)
	if history := sm.GetHistory("key"); len(history) != 3 {
		t.Errorf("len(history) = %d, want 3", len(history))
	}
}

func TestLockRejectsConcurrentStream(t *testing.T) {
	sm := NewSessionManager("")
	sm.GetOrCreate("key")

	if err := sm.Lock("key"); err != nil {
		t.Fatalf("first Lock: %v", err)
	}
	defer sm.Unlock("key")

	if err := sm.Lock("key"); err != ErrBusy {
		t.Fatalf("second Lock err = %v, want ErrBusy", err)
	}
}

func TestSweepIdle(t *testing.T) {
	sm := NewSessionManager("")
	sm.AddMessage("stale", "user", "hi")
	sm.AddMessage("fresh", "user", "hi")

	stale := sm.entryFor("stale")
	stale.dataMu.Lock()
	stale.session.Metadata.UpdatedAt = time.Now().Add(-48 * time.Hour)
	stale.dataMu.Unlock()

	removed := sm.SweepIdle(context.Background(), 24*time.Hour)
	if len(removed) != 1 || removed[0] != "stale" {
		t.Fatalf("SweepIdle removed = %v, want [stale]", removed)
	}
	if history := sm.GetHistory("fresh"); len(history) != 1 {
		t.Errorf("fresh session should survive the sweep")
	}
}

func TestConcurrentAccess(t *testing.T) {
	sm := NewSessionManager("")
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := "session-" + string(rune('A'+i%5))
			sm.AddMessage(key, "user", "message")
			sm.GetHistory(key)
			sm.GetOrCreate(key)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 5; i++ {
		key := "session-" + string(rune('A'+i))
		if history := sm.GetHistory(key); len(history) == 0 {
			t.Errorf("expected messages for %s", key)
		}
	}
}
