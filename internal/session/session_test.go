package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/jami-assistant/internal/identity"
)

var _ identity.Sessions = (*Registry)(nil)

func TestTryBeginTurnIsExclusive(t *testing.T) {
	s := New("tok")

	release, ok := s.TryBeginTurn()
	if !ok {
		t.Fatal("first TryBeginTurn failed")
	}
	if _, ok := s.TryBeginTurn(); ok {
		t.Fatal("second TryBeginTurn succeeded while turn in progress")
	}
	release()
	release() // idempotent

	release, ok = s.TryBeginTurn()
	if !ok {
		t.Fatal("TryBeginTurn failed after release")
	}
	release()
}

func TestResetClearsConversation(t *testing.T) {
	s := New("tok")
	s.Append(Message{Role: RoleUser, Content: "hola"})
	s.Append(Message{Role: RoleAssistant, Content: "¡Hola! Soy Jami"})
	s.SetAgent(nil, "conv-1")

	if prev := s.Reset(); prev != "conv-1" {
		t.Fatalf("Reset returned %q, want conv-1", prev)
	}
	if len(s.Messages()) != 0 {
		t.Fatal("messages not cleared")
	}
	if s.ConversationID() != "" {
		t.Fatal("conversation id not cleared")
	}
}

func TestMessagesReturnsCopy(t *testing.T) {
	s := New("tok")
	s.Append(Message{Role: RoleUser, Content: "a"})

	msgs := s.Messages()
	msgs[0].Content = "mutated"
	if s.Messages()[0].Content != "a" {
		t.Fatal("Messages exposed internal slice")
	}
	if s.Messages()[0].At.IsZero() {
		t.Fatal("timestamp not set")
	}
}

func TestSetActorIDChangeDropsAgent(t *testing.T) {
	s := New("tok")
	s.SetActorID("device_a")
	s.SetAgent(nil, "conv-1")

	s.SetActorID("device_a")
	if s.ConversationID() != "conv-1" {
		t.Fatal("same actor should keep the conversation")
	}
	s.SetActorID("device_b")
	if s.ConversationID() != "" {
		t.Fatal("actor change should drop the conversation")
	}
}

func TestRegistryReturnsSameSession(t *testing.T) {
	r := NewRegistry(10, time.Hour, nil)

	a := r.Get("tok-a")
	if r.Get("tok-a") != a {
		t.Fatal("expected same session for same token")
	}
	if a.Token() != "tok-a" {
		t.Fatalf("Token = %q, want tok-a", a.Token())
	}
	if r.Get("tok-b") == a {
		t.Fatal("expected distinct sessions for distinct tokens")
	}
	if r.Get("") == r.Get("") {
		t.Fatal("empty token sessions must not be shared")
	}
	if r.Len() != 2 {
		t.Fatalf("Len = %d, want 2", r.Len())
	}
}

func TestRegistryEvictsByCapacity(t *testing.T) {
	r := NewRegistry(2, time.Hour, nil)
	first := r.Get("1")
	r.Get("2")
	r.Get("3")

	if r.Get("1") == first {
		t.Fatal("expected least recently used session to be evicted")
	}
}

func TestRegistryExpiresIdleSessions(t *testing.T) {
	r := NewRegistry(10, 50*time.Millisecond, nil)
	first := r.Get("tok")

	time.Sleep(120 * time.Millisecond)
	if r.Get("tok") == first {
		t.Fatal("expected idle session to expire")
	}
}

func TestAttachStoresSessionInContext(t *testing.T) {
	r := NewRegistry(10, time.Hour, nil)
	ctx, st := r.Attach(context.Background(), "tok")

	s := FromContext(ctx)
	if s == nil || identity.State(s) != st {
		t.Fatal("session not attached to context")
	}
	if FromContext(context.Background()) != nil {
		t.Fatal("expected nil session for bare context")
	}
}

func TestConcurrentGet(t *testing.T) {
	r := NewRegistry(100, time.Hour, nil)
	var wg sync.WaitGroup
	got := make([]*Session, 16)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = r.Get("shared")
		}(i)
	}
	wg.Wait()
	for _, s := range got[1:] {
		if s != got[0] {
			t.Fatal("concurrent Get created distinct sessions")
		}
	}
}
