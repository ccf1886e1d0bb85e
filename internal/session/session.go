// Package session holds per-browser-session state: the actor slot, the
// message history, the cached tool gateway handle and the cached agent.
package session

import (
	"sync"
	"time"

	"github.com/ashureev/jami-assistant/internal/agent"
	"github.com/ashureev/jami-assistant/internal/toolgateway"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of the conversation history.
type Message struct {
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	IsError bool      `json:"is_error,omitempty"`
	Trace   string    `json:"trace,omitempty"`
	At      time.Time `json:"at"`
}

// Session is the state of one browser session. Turns are serialized by
// TryBeginTurn; the remaining fields are guarded by mu.
type Session struct {
	token     string
	createdAt time.Time

	turn sync.Mutex

	mu             sync.Mutex
	actorID        string
	messages       []Message
	toolClient     *toolgateway.Client
	toolClientSet  bool
	agent          *agent.Agent
	conversationID string
}

// New creates an empty session for a browser-session token.
func New(token string) *Session {
	return &Session{token: token, createdAt: time.Now()}
}

// Token returns the browser-session token.
func (s *Session) Token() string { return s.token }

// CreatedAt returns when the session was created.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// ActorID returns the actor id stored in the session.
func (s *Session) ActorID() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.actorID, s.actorID != ""
}

// SetActorID stores the actor id. A changed actor discards the cached agent,
// because its memory binding names the previous actor.
func (s *Session) SetActorID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.actorID != "" && s.actorID != id {
		s.agent = nil
		s.conversationID = ""
	}
	s.actorID = id
}

// TryBeginTurn acquires the single-turn lock. The returned func releases it.
func (s *Session) TryBeginTurn() (release func(), ok bool) {
	if !s.turn.TryLock() {
		return nil, false
	}
	var once sync.Once
	return func() { once.Do(s.turn.Unlock) }, true
}

// Append adds a message to the history.
func (s *Session) Append(m Message) {
	if m.At.IsZero() {
		m.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
}

// Messages returns a copy of the history.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// ToolClient implements toolgateway.Slot.
func (s *Session) ToolClient() (*toolgateway.Client, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.toolClient, s.toolClientSet
}

// SetToolClient implements toolgateway.Slot.
func (s *Session) SetToolClient(c *toolgateway.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolClient, s.toolClientSet = c, true
}

// Agent returns the cached agent and its conversation id, or nil.
func (s *Session) Agent() (*agent.Agent, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agent, s.conversationID
}

// SetAgent caches the agent created for this session.
func (s *Session) SetAgent(a *agent.Agent, conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agent, s.conversationID = a, conversationID
}

// ConversationID returns the current conversation id, or "".
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// Reset clears the history and discards the agent. It returns the
// conversation id that was discarded.
func (s *Session) Reset() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.conversationID
	s.messages = nil
	s.agent = nil
	s.conversationID = ""
	return prev
}
