package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ashureev/jami-assistant/internal/agent"
	"github.com/ashureev/jami-assistant/internal/api"
	"github.com/ashureev/jami-assistant/internal/identity"
	"github.com/ashureev/jami-assistant/internal/session"
)

// defaultMaxRequestBodySize is used when no limit is configured.
const defaultMaxRequestBodySize = 1 << 20

// SSE event names.
const (
	eventText      = "text"
	eventToolStart = "tool_start"
	eventToolEnd   = "tool_end"
	eventReply     = "reply"
	eventError     = "error"
)

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message string `json:"message"`
}

// SessionResponse is the body of GET /api/session.
type SessionResponse struct {
	ActorID        string           `json:"actor_id"`
	Origin         identity.Origin  `json:"origin"`
	ConversationID string           `json:"conversation_id,omitempty"`
	Messages       []SessionMessage `json:"messages"`
}

// SessionMessage is a history entry. Assistant replies carry their
// rendered form so a reloaded page shows links and images again.
type SessionMessage struct {
	session.Message
	Rendered *Rendered `json:"rendered,omitempty"`
}

// Handler serves the chat page and API.
type Handler struct {
	svc         *Service
	limiter     *RateLimiter
	metrics     *Metrics
	page        http.Handler
	maxBodySize int64
	isDev       bool
	origin      string
	logger      *slog.Logger
}

// HandlerConfig holds the HTTP settings of the chat handler.
type HandlerConfig struct {
	MaxRequestBodySize int64
	IsDevelopment      bool
	// AllowedOrigin is checked on WebSocket upgrades outside development.
	AllowedOrigin string
}

// NewHandler creates a chat handler. page serves the chat UI; limiter and
// metrics may be nil.
func NewHandler(svc *Service, limiter *RateLimiter, metrics *Metrics, page http.Handler, cfg HandlerConfig, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRequestBodySize <= 0 {
		cfg.MaxRequestBodySize = defaultMaxRequestBodySize
	}
	return &Handler{
		svc:         svc,
		limiter:     limiter,
		metrics:     metrics,
		page:        page,
		maxBodySize: cfg.MaxRequestBodySize,
		isDev:       cfg.IsDevelopment,
		origin:      cfg.AllowedOrigin,
		logger:      logger,
	}
}

// RegisterRoutes registers the chat routes. The identity middleware must
// already be installed on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.HandlePage)
	r.Route("/api", func(r chi.Router) {
		r.Get("/session", h.HandleSession)
		r.Post("/chat", h.HandleChat)
		r.Post("/conversation/reset", h.HandleReset)
	})
	r.Get("/ws/chat", h.HandleWebSocket)
}

// HandlePage serves the chat page. When the actor id is not carried by the
// URL yet, the browser is redirected to the same page with actor_id set so
// that reloads resolve to the same actor.
func (h *Handler) HandlePage(w http.ResponseWriter, r *http.Request) {
	actor := identity.ActorFromContext(r.Context())
	if actor.Publish && actor.ID != "" {
		http.Redirect(w, r, identity.PublishURL(r, actor), http.StatusFound)
		return
	}
	if h.page == nil {
		http.NotFound(w, r)
		return
	}
	h.page.ServeHTTP(w, r)
}

// HandleSession handles GET /api/session.
func (h *Handler) HandleSession(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	if sess == nil {
		api.Error(w, http.StatusInternalServerError, "session unavailable")
		return
	}
	actor := identity.ActorFromContext(r.Context())
	api.JSON(w, http.StatusOK, SessionResponse{
		ActorID:        actor.ID,
		Origin:         actor.Origin,
		ConversationID: sess.ConversationID(),
		Messages:       h.sessionMessages(sess.Messages()),
	})
}

func (h *Handler) sessionMessages(msgs []session.Message) []SessionMessage {
	out := make([]SessionMessage, len(msgs))
	for i, m := range msgs {
		out[i] = SessionMessage{Message: m}
		if m.Role != session.RoleAssistant || m.IsError {
			continue
		}
		rendered, err := RenderReply(m.Content)
		if err != nil {
			h.logger.Warn("failed to render stored reply", "error", err)
			continue
		}
		out[i].Rendered = &rendered
	}
	return out
}

// HandleReset handles POST /api/conversation/reset.
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	if sess == nil {
		api.Error(w, http.StatusInternalServerError, "session unavailable")
		return
	}
	prev, err := h.svc.NewConversation(r.Context(), sess)
	if err != nil {
		api.Error(w, http.StatusConflict, err.Error())
		return
	}
	api.JSON(w, http.StatusOK, map[string]string{"previous_conversation_id": prev})
}

// HandleChat handles POST /api/chat. The turn is streamed as SSE events:
// text, tool_start and tool_end while the agent runs, then reply or error.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	if sess == nil {
		api.Error(w, http.StatusInternalServerError, "session unavailable")
		return
	}
	actor := identity.ActorFromContext(r.Context())

	if !h.limiter.Allow(actor.ID) {
		h.metrics.observeRateLimited()
		api.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		api.Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	h.logger.Info("chat request",
		"actor_id", actor.ID,
		"request_id", chiMiddleware.GetReqID(r.Context()),
		"remote_ip", identity.IPFromRequest(r),
		"message_length", len(req.Message),
	)

	stream := &sseStream{w: w, flusher: flusher}
	resp, err := h.svc.Turn(r.Context(), sess, req.Message, stream.emit)

	var te *TurnError
	switch {
	case err == nil:
		if writeErr := stream.send(eventReply, resp); writeErr != nil {
			h.logger.Warn("failed to write SSE reply event", "error", writeErr)
		}
	case errors.Is(err, ErrEmptyPrompt):
		api.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrTurnInProgress):
		api.Error(w, http.StatusConflict, err.Error())
	case errors.As(err, &te):
		if writeErr := stream.send(eventError, te); writeErr != nil {
			h.logger.Warn("failed to write SSE error event", "error", writeErr)
		}
	default:
		h.logger.Error("chat turn failed", "error", err)
		if writeErr := stream.send(eventError, &TurnError{Kind: KindInvocation, Message: err.Error()}); writeErr != nil {
			h.logger.Warn("failed to write SSE error event", "error", writeErr)
		}
	}
}

// sseStream writes SSE events, sending the stream headers before the first
// event.
type sseStream struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func (s *sseStream) emit(ev agent.Event) error {
	name, payload := eventPayload(ev)
	if name == "" {
		return nil
	}
	return s.send(name, payload)
}

func (s *sseStream) send(event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		s.w.Header().Set("Content-Type", "text/event-stream")
		s.w.Header().Set("Cache-Control", "no-cache")
		s.w.Header().Set("Connection", "keep-alive")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	if err := writeSSE(s.w, event, string(data)); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// eventPayload maps an agent event to its wire name and body. Completed
// is not forwarded; the reply event carries the outcome.
func eventPayload(ev agent.Event) (string, any) {
	switch e := ev.(type) {
	case agent.TextChunk:
		return eventText, map[string]string{"text": e.Text}
	case agent.ToolStarted:
		return eventToolStart, map[string]string{"id": e.ID, "name": e.Name}
	case agent.ToolFinished:
		return eventToolEnd, map[string]any{"id": e.ID, "name": e.Name, "result": e.Result, "is_error": e.IsError}
	default:
		return "", nil
	}
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
