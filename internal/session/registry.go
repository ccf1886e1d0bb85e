package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/ashureev/jami-assistant/internal/identity"
)

type contextKey int

const sessionKey contextKey = iota

// FromContext returns the session attached by Registry.Attach.
func FromContext(ctx context.Context) *Session {
	if s, ok := ctx.Value(sessionKey).(*Session); ok {
		return s
	}
	return nil
}

// WithSession returns a copy of ctx carrying s.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// Registry maps browser-session tokens to sessions. Sessions idle longer
// than the TTL or pushed out by capacity are dropped.
type Registry struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, *Session]
}

// NewRegistry creates a registry bounded by capacity and idle ttl.
func NewRegistry(capacity int, ttl time.Duration, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	onEvict := func(token string, s *Session) {
		actorID, _ := s.ActorID()
		logger.Debug("browser session evicted",
			"actor_id", actorID,
			"conversation_id", s.ConversationID(),
			"age", time.Since(s.CreatedAt()),
		)
	}
	return &Registry{cache: expirable.NewLRU[string, *Session](capacity, onEvict, ttl)}
}

// Get returns the session for token, creating it if needed. Each access
// renews the idle deadline. An empty token yields an unregistered session.
func (r *Registry) Get(token string) *Session {
	if token == "" {
		return New("")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.cache.Get(token)
	if !ok {
		s = New(token)
	}
	r.cache.Add(token, s)
	return s
}

// Attach implements identity.Sessions.
func (r *Registry) Attach(ctx context.Context, token string) (context.Context, identity.State) {
	s := r.Get(token)
	return WithSession(ctx, s), s
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	return r.cache.Len()
}
