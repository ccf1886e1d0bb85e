// Package domain contains core domain types for the Jami assistant.
package domain

import (
	"time"
)

// Actor is a long-term memory identity, usually one per browser.
type Actor struct {
	ActorID     string    `json:"actor_id"`
	Origin      string    `json:"origin"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	TurnCount   int64     `json:"turn_count"`
}

// IdleFor returns how long the actor has been inactive as of now.
// Returns 0 if the last activity is in the future.
func (a *Actor) IdleFor(now time.Time) time.Duration {
	d := now.Sub(a.LastSeenAt)
	if d < 0 {
		return 0
	}
	return d
}

// Conversation records the lifetime of one agent conversation.
// Message text is never stored.
type Conversation struct {
	ConversationID string     `json:"conversation_id"`
	ActorID        string     `json:"actor_id"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
}

// IsOpen reports whether the conversation has not been ended.
func (c *Conversation) IsOpen() bool {
	return c.EndedAt == nil
}
