// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/jami-assistant/internal/domain"
)

// Repository persists actor and conversation bookkeeping. It never holds
// message text.
type Repository interface {
	// GetActor retrieves an actor by id. Returns nil, nil when absent.
	GetActor(ctx context.Context, actorID string) (*domain.Actor, error)

	// UpsertActor creates an actor or refreshes its last_seen_at.
	// The origin and first_seen_at of an existing actor are kept.
	UpsertActor(ctx context.Context, actor *domain.Actor) error

	// RecordTurn bumps the turn counter and last_seen_at for an actor.
	RecordTurn(ctx context.Context, actorID string, at time.Time) error

	// StartConversation inserts a new open conversation row.
	StartConversation(ctx context.Context, conv *domain.Conversation) error

	// EndConversation marks a conversation as ended. Ending an unknown or
	// already-ended conversation is not an error.
	EndConversation(ctx context.Context, conversationID string, at time.Time) error

	// GetConversation retrieves a conversation by id. Returns nil, nil when absent.
	GetConversation(ctx context.Context, conversationID string) (*domain.Conversation, error)

	// DeleteStaleActors removes actors idle longer than retention together
	// with their conversations.
	DeleteStaleActors(ctx context.Context, retention time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
