package history

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendReadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	if _, err := s.Append("!room:example.org", RoleUser, "hi", now); err != nil {
		t.Fatalf("Append user: %v", err)
	}
	if _, err := s.Append("!room:example.org", RoleAssistant, "hello", now.Add(time.Second)); err != nil {
		t.Fatalf("Append assistant: %v", err)
	}

	turns, err := s.Read("!room:example.org")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("Read returned %d turns, want 2", len(turns))
	}
	if turns[0].Role != RoleUser || turns[0].Message != "hi" {
		t.Fatalf("unexpected first turn: %+v", turns[0])
	}
	if turns[1].Role != RoleAssistant || turns[1].Message != "hello" {
		t.Fatalf("unexpected second turn: %+v", turns[1])
	}
}

func TestReadExcludesSystemTurns(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	if err := s.SetSystemPrompt("!room:example.org", "Be terse.", now); err != nil {
		t.Fatalf("SetSystemPrompt: %v", err)
	}
	if _, err := s.Append("!room:example.org", RoleUser, "hi", now.Add(time.Second)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	turns, err := s.Read("!room:example.org")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(turns) != 1 || turns[0].Role != RoleUser {
		t.Fatalf("Read should exclude system turns, got %+v", turns)
	}
}

func TestReadIsolatesChannels(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	if _, err := s.Append("!a:example.org", RoleUser, "in a", now); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := s.Append("!b:example.org", RoleUser, "in b", now); err != nil {
		t.Fatalf("Append: %v", err)
	}

	turns, err := s.Read("!a:example.org")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(turns) != 1 || turns[0].Message != "in a" {
		t.Fatalf("channel isolation broken: %+v", turns)
	}
}

func TestInsertionOrderPreservedWithinSameInstant(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	for i, msg := range []string{"one", "two", "three"} {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		if _, err := s.Append("!room:example.org", role, msg, now); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	turns, err := s.Read("!room:example.org")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	want := []string{"one", "two", "three"}
	for i, turn := range turns {
		if turn.Message != want[i] {
			t.Fatalf("turn %d = %q, want %q", i, turn.Message, want[i])
		}
	}
}

func TestSetSystemPromptReplaces(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	if err := s.SetSystemPrompt("!room:example.org", "A", now); err != nil {
		t.Fatalf("SetSystemPrompt A: %v", err)
	}
	if err := s.SetSystemPrompt("!room:example.org", "B", now.Add(time.Second)); err != nil {
		t.Fatalf("SetSystemPrompt B: %v", err)
	}

	prompt, err := s.SystemPrompt("!room:example.org")
	if err != nil {
		t.Fatalf("SystemPrompt: %v", err)
	}
	if prompt != "B" {
		t.Fatalf("SystemPrompt = %q, want B", prompt)
	}

	// Exactly one system row survives the replacement.
	var count int
	row := s.db.QueryRow(`SELECT COUNT(*) FROM ai_chat_history WHERE channel = ? AND role = ?`,
		"!room:example.org", RoleSystem)
	if err := row.Scan(&count); err != nil {
		t.Fatalf("count system rows: %v", err)
	}
	if count != 1 {
		t.Fatalf("system rows = %d, want 1", count)
	}
}

func TestSystemPromptEmptyWhenUnset(t *testing.T) {
	s := newTestStore(t)
	prompt, err := s.SystemPrompt("!room:example.org")
	if err != nil {
		t.Fatalf("SystemPrompt: %v", err)
	}
	if prompt != "" {
		t.Fatalf("SystemPrompt = %q, want empty", prompt)
	}
}

func TestClearLeavesSystemPrompt(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	if err := s.SetSystemPrompt("!room:example.org", "Be terse.", now); err != nil {
		t.Fatalf("SetSystemPrompt: %v", err)
	}
	if _, err := s.Append("!room:example.org", RoleUser, "hi", now.Add(time.Second)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if err := s.Clear("!room:example.org"); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	turns, err := s.Read("!room:example.org")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(turns) != 0 {
		t.Fatalf("Read after Clear returned %d turns, want 0", len(turns))
	}

	prompt, err := s.SystemPrompt("!room:example.org")
	if err != nil {
		t.Fatalf("SystemPrompt: %v", err)
	}
	if prompt != "Be terse." {
		t.Fatalf("Clear should not touch the system prompt, got %q", prompt)
	}
}

func TestClearIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.Clear("!room:example.org"); err != nil {
		t.Fatalf("Clear on empty channel: %v", err)
	}
	if err := s.ClearSystemPrompt("!room:example.org"); err != nil {
		t.Fatalf("ClearSystemPrompt on empty channel: %v", err)
	}
}
