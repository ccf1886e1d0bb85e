package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/jami-assistant/internal/domain"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "jami.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestActorRoundTrip(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	first := time.Unix(1_700_000_000, 0)
	if err := repo.UpsertActor(ctx, &domain.Actor{ActorID: "device_0123456789ab", Origin: "derived", LastSeenAt: first}); err != nil {
		t.Fatalf("UpsertActor failed: %v", err)
	}

	later := first.Add(time.Hour)
	if err := repo.UpsertActor(ctx, &domain.Actor{ActorID: "device_0123456789ab", Origin: "url", LastSeenAt: later}); err != nil {
		t.Fatalf("second UpsertActor failed: %v", err)
	}
	if err := repo.RecordTurn(ctx, "device_0123456789ab", later); err != nil {
		t.Fatalf("RecordTurn failed: %v", err)
	}

	got, err := repo.GetActor(ctx, "device_0123456789ab")
	if err != nil {
		t.Fatalf("GetActor failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected actor, got nil")
	}
	if got.Origin != "derived" {
		t.Errorf("Origin = %q, want original origin %q", got.Origin, "derived")
	}
	if !got.FirstSeenAt.Equal(first) {
		t.Errorf("FirstSeenAt = %v, want %v", got.FirstSeenAt, first)
	}
	if !got.LastSeenAt.Equal(later) {
		t.Errorf("LastSeenAt = %v, want %v", got.LastSeenAt, later)
	}
	if got.TurnCount != 1 {
		t.Errorf("TurnCount = %d, want 1", got.TurnCount)
	}
}

func TestGetActorMissing(t *testing.T) {
	repo := newTestStore(t)

	got, err := repo.GetActor(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("GetActor failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil actor, got %+v", got)
	}
}

func TestConversationLifecycle(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	start := time.Unix(1_700_000_000, 0)
	conv := &domain.Conversation{ConversationID: "c-1", ActorID: "device_a", StartedAt: start}
	if err := repo.StartConversation(ctx, conv); err != nil {
		t.Fatalf("StartConversation failed: %v", err)
	}

	got, err := repo.GetConversation(ctx, "c-1")
	if err != nil || got == nil {
		t.Fatalf("GetConversation = %v, %v", got, err)
	}
	if !got.IsOpen() {
		t.Fatal("expected open conversation")
	}

	end := start.Add(10 * time.Minute)
	if err := repo.EndConversation(ctx, "c-1", end); err != nil {
		t.Fatalf("EndConversation failed: %v", err)
	}
	// Ending twice keeps the first timestamp.
	if err := repo.EndConversation(ctx, "c-1", end.Add(time.Hour)); err != nil {
		t.Fatalf("second EndConversation failed: %v", err)
	}
	if err := repo.EndConversation(ctx, "unknown", end); err != nil {
		t.Fatalf("EndConversation on unknown id failed: %v", err)
	}

	got, err = repo.GetConversation(ctx, "c-1")
	if err != nil || got == nil {
		t.Fatalf("GetConversation = %v, %v", got, err)
	}
	if got.IsOpen() || !got.EndedAt.Equal(end) {
		t.Fatalf("EndedAt = %v, want %v", got.EndedAt, end)
	}
}

func TestDeleteStaleActors(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	actors := []*domain.Actor{
		{ActorID: "stale", Origin: "random", LastSeenAt: now.Add(-48 * time.Hour)},
		{ActorID: "fresh", Origin: "derived", LastSeenAt: now.Add(-time.Minute)},
	}
	for _, a := range actors {
		if err := repo.UpsertActor(ctx, a); err != nil {
			t.Fatalf("UpsertActor(%s) failed: %v", a.ActorID, err)
		}
	}
	if err := repo.StartConversation(ctx, &domain.Conversation{ConversationID: "old", ActorID: "stale", StartedAt: now.Add(-48 * time.Hour)}); err != nil {
		t.Fatalf("StartConversation failed: %v", err)
	}

	n, err := repo.DeleteStaleActors(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("DeleteStaleActors failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("deleted = %d, want 1", n)
	}

	if a, _ := repo.GetActor(ctx, "stale"); a != nil {
		t.Error("stale actor still present")
	}
	if a, _ := repo.GetActor(ctx, "fresh"); a == nil {
		t.Error("fresh actor was removed")
	}
	if c, _ := repo.GetConversation(ctx, "old"); c != nil {
		t.Error("conversation of stale actor still present")
	}
}

func TestPing(t *testing.T) {
	repo := newTestStore(t)
	if err := repo.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
}
