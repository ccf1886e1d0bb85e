// Package chat runs chat turns against the sales agent and serves them over
// HTTP, SSE and WebSocket.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	pkgerrors "github.com/pkg/errors"

	"github.com/ashureev/jami-assistant/internal/agent"
	"github.com/ashureev/jami-assistant/internal/domain"
	"github.com/ashureev/jami-assistant/internal/reply"
	"github.com/ashureev/jami-assistant/internal/session"
	"github.com/ashureev/jami-assistant/internal/store"
	"github.com/ashureev/jami-assistant/internal/toolgateway"
)

// maxTraceLen caps the stack trace attached to an invocation error.
const maxTraceLen = 1000

// ErrTurnInProgress is returned when the session is already running a turn.
var ErrTurnInProgress = errors.New("a turn is already in progress for this session")

// ErrEmptyPrompt is returned for blank submissions.
var ErrEmptyPrompt = errors.New("message is required")

// ErrorKind classifies a failed turn.
type ErrorKind string

const (
	// KindInit covers configuration, authentication and tool discovery
	// failures. The history is left untouched.
	KindInit ErrorKind = "init"
	// KindInvocation covers failures while the agent runs. The error is
	// recorded in the history.
	KindInvocation ErrorKind = "invocation"
)

// TurnError is a failed turn, ready to be shown to the user.
type TurnError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Trace   string    `json:"trace,omitempty"`
	Err     error     `json:"-"`
}

func (e *TurnError) Error() string { return e.Message }

func (e *TurnError) Unwrap() error { return e.Err }

// Reply is the outcome of a successful turn.
type Reply struct {
	ConversationID string `json:"conversation_id"`
	// Text is the extracted reply before marker rewriting; it is what the
	// history records.
	Text string `json:"text"`
	Rendered
}

// Sink receives agent events while a turn runs.
type Sink func(agent.Event) error

// ToolProvider hands out the per-session tool gateway handle.
type ToolProvider interface {
	GetOrCreate(ctx context.Context, slot toolgateway.Slot) (*toolgateway.Client, error)
}

// MemoryResolver resolves the long-term memory id by name.
type MemoryResolver interface {
	EnsureMemory(ctx context.Context, name string) (string, error)
}

// ServiceConfig holds the static settings of the chat service.
type ServiceConfig struct {
	MemoryName string
	Region     string
}

// Service runs chat turns.
type Service struct {
	factory  *agent.Factory
	tools    ToolProvider
	memories MemoryResolver
	repo     store.Repository
	metrics  *Metrics
	cfg      ServiceConfig
	logger   *slog.Logger

	memMu    sync.Mutex
	memoryID string
}

// NewService creates a chat service. metrics may be nil.
func NewService(factory *agent.Factory, tools ToolProvider, memories MemoryResolver, repo store.Repository, metrics *Metrics, cfg ServiceConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		factory:  factory,
		tools:    tools,
		memories: memories,
		repo:     repo,
		metrics:  metrics,
		cfg:      cfg,
		logger:   logger,
	}
}

// Turn answers prompt within sess. Agent events are forwarded to sink as
// they happen; a failing sink stops forwarding but not the turn.
//
// Init failures return a *TurnError of KindInit and leave the history
// unchanged. Invocation failures, panics included, are recorded as an
// assistant message and returned as a *TurnError of KindInvocation.
func (s *Service) Turn(ctx context.Context, sess *session.Session, prompt string, sink Sink) (*Reply, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}

	release, ok := sess.TryBeginTurn()
	if !ok {
		return nil, ErrTurnInProgress
	}
	defer release()

	started := time.Now()
	actorID, _ := sess.ActorID()
	logger := s.logger.With("actor_id", actorID)

	memoryID, err := s.ensureMemory(ctx)
	if err != nil {
		s.metrics.observeTurn(string(KindInit), started)
		return nil, s.initError(logger, err)
	}

	client, err := s.tools.GetOrCreate(ctx, sess)
	if err != nil {
		s.metrics.observeTurn(string(KindInit), started)
		return nil, s.initError(logger, err)
	}

	var (
		result  *agent.Result
		capture streamCapture
	)
	err = client.WithScope(ctx, func(scope *toolgateway.Scope) error {
		a, conversationID := sess.Agent()
		if a == nil {
			a, conversationID, err = s.factory.Create(ctx, scope, memoryID, s.cfg.Region, actorID)
			if err != nil {
				return s.initError(logger, err)
			}
			sess.SetAgent(a, conversationID)
			s.startConversation(ctx, conversationID, actorID, logger)
			logger.Info("conversation started",
				"conversation_id", conversationID,
				"region", a.Region(),
				"tools", a.Tools(),
			)
		}

		sess.Append(session.Message{Role: session.RoleUser, Content: prompt})

		result, err = s.invoke(ctx, a, scope, prompt, sink, &capture, logger)
		return err
	})
	if err != nil {
		var te *TurnError
		if !errors.As(err, &te) {
			// The scope itself could not be opened.
			te = s.initError(logger, err)
		}
		if te.Kind == KindInvocation {
			sess.Append(session.Message{
				Role:    session.RoleAssistant,
				Content: te.Message,
				IsError: true,
				Trace:   te.Trace,
			})
		}
		s.metrics.observeTurn(string(te.Kind), started)
		return nil, te
	}

	text := reply.Text(reply.Adapt(result))
	if text == reply.Apology || strings.TrimSpace(text) == "" {
		if fallback := capture.fallback(); fallback != "" {
			text = fallback
		}
	}

	sess.Append(session.Message{Role: session.RoleAssistant, Content: text})
	if err := s.repo.RecordTurn(ctx, actorID, time.Now()); err != nil {
		logger.Warn("failed to record turn", "error", err)
	}

	rendered, err := RenderReply(text)
	if err != nil {
		logger.Warn("failed to render reply", "error", err)
	}

	s.metrics.observeTurn("ok", started)
	logger.Info("chat turn completed",
		"conversation_id", result.ConversationID,
		"rounds", result.Rounds,
		"stop_reason", result.StopReason,
		"reply_length", len(text),
		"duration", time.Since(started),
	)

	return &Reply{ConversationID: result.ConversationID, Text: text, Rendered: rendered}, nil
}

// invoke runs the agent, forwarding events to sink. Errors and panics come
// back as a *TurnError of KindInvocation.
func (s *Service) invoke(ctx context.Context, a *agent.Agent, scope *toolgateway.Scope, prompt string, sink Sink, capture *streamCapture, logger *slog.Logger) (result *agent.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = s.invocationError(logger, pkgerrors.Errorf("panic: %v", r))
		}
	}()

	forward := sink != nil
	for ev, runErr := range a.Run(ctx, scope, prompt) {
		if runErr != nil {
			return nil, s.invocationError(logger, pkgerrors.WithStack(runErr))
		}

		switch e := ev.(type) {
		case agent.TextChunk:
			capture.streamed.WriteString(e.Text)
		case agent.ToolFinished:
			s.metrics.observeTool(e.Name, e.IsError)
			if !e.IsError && strings.TrimSpace(e.Result) != "" {
				capture.tools = append(capture.tools, e.Result)
			}
		case agent.Completed:
			result = e.Result
		}

		if forward {
			if err := sink(ev); err != nil {
				logger.Warn("stopped forwarding agent events", "error", err)
				forward = false
			}
		}
	}

	if result == nil {
		return nil, s.invocationError(logger, pkgerrors.WithStack(agent.ErrNoModelOutput))
	}
	return result, nil
}

// NewConversation clears the session history and discards its agent so the
// next turn starts a fresh conversation. It returns the discarded
// conversation id, or "". A session running a turn is left untouched and
// ErrTurnInProgress is returned.
func (s *Service) NewConversation(ctx context.Context, sess *session.Session) (string, error) {
	release, ok := sess.TryBeginTurn()
	if !ok {
		return "", ErrTurnInProgress
	}
	defer release()

	prev := sess.Reset()
	if prev == "" {
		return "", nil
	}
	if err := s.repo.EndConversation(ctx, prev, time.Now()); err != nil {
		s.logger.Warn("failed to close conversation", "conversation_id", prev, "error", err)
	}
	s.logger.Info("conversation reset", "conversation_id", prev)
	return prev, nil
}

// WarmUp resolves the memory id ahead of the first turn.
func (s *Service) WarmUp(ctx context.Context) error {
	_, err := s.ensureMemory(ctx)
	return err
}

// ensureMemory resolves the memory id once per process. Failures are not
// cached.
func (s *Service) ensureMemory(ctx context.Context) (string, error) {
	s.memMu.Lock()
	defer s.memMu.Unlock()

	if s.memoryID != "" {
		return s.memoryID, nil
	}
	id, err := s.memories.EnsureMemory(ctx, s.cfg.MemoryName)
	if err != nil {
		return "", fmt.Errorf("ensure memory %s: %w", s.cfg.MemoryName, err)
	}
	s.memoryID = id
	s.logger.Info("memory ready", "memory_name", s.cfg.MemoryName, "memory_id", id)
	return id, nil
}

func (s *Service) startConversation(ctx context.Context, conversationID, actorID string, logger *slog.Logger) {
	err := s.repo.StartConversation(ctx, &domain.Conversation{
		ConversationID: conversationID,
		ActorID:        actorID,
		StartedAt:      time.Now(),
	})
	if err != nil {
		logger.Warn("failed to record conversation", "conversation_id", conversationID, "error", err)
	}
}

func (s *Service) initError(logger *slog.Logger, err error) *TurnError {
	logger.Error("agent initialization failed", "error", err)
	return &TurnError{
		Kind:    KindInit,
		Message: fmt.Sprintf("Error inicializando: %v", err),
		Trace:   truncate(fmt.Sprintf("%+v", err), maxTraceLen),
		Err:     err,
	}
}

func (s *Service) invocationError(logger *slog.Logger, err error) *TurnError {
	logger.Error("agent invocation failed", "error", err)
	return &TurnError{
		Kind:    KindInvocation,
		Message: fmt.Sprintf("❌ Error: %v", err),
		Trace:   truncate(fmt.Sprintf("%+v", err), maxTraceLen),
		Err:     err,
	}
}

// streamCapture accumulates streamed output for the empty-reply fallback.
type streamCapture struct {
	streamed strings.Builder
	tools    []string
}

func (c *streamCapture) fallback() string {
	parts := make([]string, 0, len(c.tools)+1)
	if t := strings.TrimSpace(c.streamed.String()); t != "" {
		parts = append(parts, t)
	}
	parts = append(parts, c.tools...)
	return strings.Join(parts, "\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
