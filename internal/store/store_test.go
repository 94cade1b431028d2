package store_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/maziarzamani/spaceduck-sub000/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "gateway-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp db file: %v", err)
	}
	f.Close()

	s, err := store.New(f.Name())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestConversationAndMessageRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	conv := &store.Conversation{ID: "conv1", Title: "hello"}
	if err := s.CreateConversation(ctx, conv); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	got, err := s.GetConversation(ctx, "conv1")
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got.Title != "hello" {
		t.Errorf("Title = %q, want %q", got.Title, "hello")
	}

	msg := &store.Message{ID: "m1", ConversationID: "conv1", Role: store.RoleUser, Content: "hi there"}
	if err := s.AppendMessage(ctx, msg); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	msgs, err := s.ListMessages(ctx, "conv1")
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "hi there" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
}

func TestGetConversation_NotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetConversation(context.Background(), "missing"); err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.CreateConversation(ctx, &store.Conversation{ID: "conv1"}); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	if _, err := s.ResolveSession(ctx, "matrix", "@alice:example.org"); err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound before session creation, got %v", err)
	}

	if err := s.CreateSession(ctx, &store.Session{ChannelID: "matrix", SenderID: "@alice:example.org", ConversationID: "conv1"}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	id, err := s.ResolveSession(ctx, "matrix", "@alice:example.org")
	if err != nil {
		t.Fatalf("ResolveSession: %v", err)
	}
	if id != "conv1" {
		t.Fatalf("conversation id = %q, want conv1", id)
	}
}

func TestMemorySupersede(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	old := &store.MemoryRecord{ID: "mem1", Kind: store.MemoryKindFact, Title: "name", Content: "Bob", Scope: "global"}
	if err := s.InsertMemory(ctx, old); err != nil {
		t.Fatalf("InsertMemory: %v", err)
	}

	active, err := s.ActiveMemoriesByScope(ctx, "global")
	if err != nil {
		t.Fatalf("ActiveMemoriesByScope: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("expected 1 active record, got %d", len(active))
	}

	newRec := &store.MemoryRecord{ID: "mem2", Kind: store.MemoryKindFact, Title: "name", Content: "Alice", Scope: "global"}
	if err := s.Supersede(ctx, "mem1", newRec); err != nil {
		t.Fatalf("Supersede: %v", err)
	}

	active, err = s.ActiveMemoriesByScope(ctx, "global")
	if err != nil {
		t.Fatalf("ActiveMemoriesByScope after supersede: %v", err)
	}
	if len(active) != 1 || active[0].ID != "mem2" {
		t.Fatalf("expected only mem2 active, got %+v", active)
	}

	oldRec, err := s.GetMemory(ctx, "mem1")
	if err != nil {
		t.Fatalf("GetMemory: %v", err)
	}
	if oldRec.Status != store.MemoryStatusSuperseded {
		t.Errorf("old record status = %q, want superseded", oldRec.Status)
	}
}

func TestTaskSchedulingTransition(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	next := time.Now().Add(-time.Minute)
	task := &store.Task{
		ID: "task1", Definition: "say hi", ScheduleKind: store.ScheduleInterval,
		ScheduleValue: "1h", Status: store.TaskStatusScheduled, NextRunAt: &next,
	}
	if err := s.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	due, err := s.DueTasks(ctx, time.Now())
	if err != nil {
		t.Fatalf("DueTasks: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("expected 1 due task, got %d", len(due))
	}

	ok, err := s.TransitionTaskRunning(ctx, "task1")
	if err != nil {
		t.Fatalf("TransitionTaskRunning: %v", err)
	}
	if !ok {
		t.Fatal("expected first transition to succeed")
	}

	// A second scheduler instance racing the same task must lose the CAS.
	ok, err = s.TransitionTaskRunning(ctx, "task1")
	if err != nil {
		t.Fatalf("TransitionTaskRunning (second): %v", err)
	}
	if ok {
		t.Fatal("expected second transition to fail (already running)")
	}
}

func TestTokenLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.CreateToken(ctx, &store.Token{ID: "tok1", TokenHash: "hash-abc", DeviceName: "cli"}); err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	got, err := s.GetTokenByHash(ctx, "hash-abc")
	if err != nil {
		t.Fatalf("GetTokenByHash: %v", err)
	}
	if got.RevokedAt != nil {
		t.Fatal("new token should not be revoked")
	}

	if err := s.RevokeToken(ctx, "tok1"); err != nil {
		t.Fatalf("RevokeToken: %v", err)
	}
	got, err = s.GetTokenByHash(ctx, "hash-abc")
	if err != nil {
		t.Fatalf("GetTokenByHash after revoke: %v", err)
	}
	if got.RevokedAt == nil {
		t.Fatal("expected token to be revoked")
	}
}
