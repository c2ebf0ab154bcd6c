package chatproxy

import (
	"testing"
	"time"

	"github.com/quillback/research-relay/internal/upstream"
)

func TestSessions_PutAndTake(t *testing.T) {
	s := NewSessions(time.Minute)

	sess := s.Put("alice", "gpt-4o", "be brief", []upstream.ChatMessage{
		{Role: "user", Content: "hi"},
	})
	if sess.ID == "" {
		t.Fatal("session has no id")
	}
	if got := s.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1", got)
	}

	got, ok := s.Take(sess.ID)
	if !ok || got.ID != sess.ID {
		t.Fatalf("Take = %v, %v", got, ok)
	}
	if got.User != "alice" || got.Model != "gpt-4o" || got.SystemPrompt != "be brief" {
		t.Errorf("session = %+v", got)
	}

	// One-shot: a second claim fails.
	if _, ok := s.Take(sess.ID); ok {
		t.Error("second Take succeeded")
	}
	if got := s.Len(); got != 0 {
		t.Errorf("Len() = %d, want 0", got)
	}
}

func TestSessions_TakeUnknown(t *testing.T) {
	s := NewSessions(time.Minute)
	if _, ok := s.Take("missing"); ok {
		t.Error("Take(missing) succeeded")
	}
}

func TestSessions_ExpiredSessionIsGone(t *testing.T) {
	s := NewSessions(10 * time.Millisecond)

	sess := s.Put("alice", "gpt-4o", "", []upstream.ChatMessage{{Role: "user", Content: "hi"}})
	sess.CreatedAt = time.Now().Add(-time.Second)

	if _, ok := s.Take(sess.ID); ok {
		t.Error("Take returned an expired session")
	}
}

func TestSessions_PutSweepsExpired(t *testing.T) {
	s := NewSessions(10 * time.Millisecond)

	old := s.Put("alice", "gpt-4o", "", []upstream.ChatMessage{{Role: "user", Content: "old"}})
	old.CreatedAt = time.Now().Add(-time.Second)

	s.Put("alice", "gpt-4o", "", []upstream.ChatMessage{{Role: "user", Content: "new"}})
	if got := s.Len(); got != 1 {
		t.Errorf("Len() = %d, want 1 after sweep", got)
	}
}
