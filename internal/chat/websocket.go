package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/ashureev/jami-assistant/internal/agent"
	"github.com/ashureev/jami-assistant/internal/identity"
	"github.com/ashureev/jami-assistant/internal/session"
)

// wsMessage is a client frame on /ws/chat.
type wsMessage struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

// wsEvent is a server frame on /ws/chat. Type uses the SSE event names plus
// "reset" and "pong".
type wsEvent struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// HandleWebSocket serves the chat turn protocol over a WebSocket. Each
// "chat" frame runs one turn; "reset" starts a new conversation.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	actor := identity.ActorFromContext(r.Context())
	if sess == nil {
		http.Error(w, "session unavailable", http.StatusInternalServerError)
		return
	}

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("failed to accept websocket", "error", err, "actor_id", actor.ID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "bye"); closeErr != nil {
			h.logger.Debug("failed to close websocket", "error", closeErr, "actor_id", actor.ID)
		}
	}()

	ctx := r.Context()
	logger := h.logger.With("actor_id", actor.ID)
	logger.Info("chat websocket connected")

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				logger.Debug("chat websocket closed by client")
			} else if !errors.Is(err, context.Canceled) {
				logger.Warn("chat websocket read error", "error", err)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.writeWS(ctx, ws, wsEvent{Type: eventError, Data: &TurnError{Kind: KindInvocation, Message: "invalid message"}}, logger)
			continue
		}

		switch msg.Type {
		case "chat":
			h.wsTurn(ctx, ws, sess, actor, msg.Message, logger)
		case "reset":
			prev, err := h.svc.NewConversation(ctx, sess)
			if err != nil {
				h.writeWS(ctx, ws, wsEvent{Type: eventError, Data: &TurnError{Kind: KindInvocation, Message: err.Error()}}, logger)
				continue
			}
			h.writeWS(ctx, ws, wsEvent{Type: "reset", Data: map[string]string{"previous_conversation_id": prev}}, logger)
		case "ping":
			h.writeWS(ctx, ws, wsEvent{Type: "pong"}, logger)
		}
	}
}

func (h *Handler) wsTurn(ctx context.Context, ws *websocket.Conn, sess *session.Session, actor identity.Actor, prompt string, logger *slog.Logger) {
	if !h.limiter.Allow(actor.ID) {
		h.metrics.observeRateLimited()
		h.writeWS(ctx, ws, wsEvent{Type: eventError, Data: &TurnError{Kind: KindInvocation, Message: "rate limit exceeded"}}, logger)
		return
	}

	sink := func(ev agent.Event) error {
		name, payload := eventPayload(ev)
		if name == "" {
			return nil
		}
		return h.writeWSErr(ctx, ws, wsEvent{Type: name, Data: payload})
	}

	resp, err := h.svc.Turn(ctx, sess, prompt, sink)
	if err != nil {
		var te *TurnError
		if !errors.As(err, &te) {
			te = &TurnError{Kind: KindInvocation, Message: err.Error()}
		}
		h.writeWS(ctx, ws, wsEvent{Type: eventError, Data: te}, logger)
		return
	}
	h.writeWS(ctx, ws, wsEvent{Type: eventReply, Data: resp}, logger)
}

func (h *Handler) writeWS(ctx context.Context, ws *websocket.Conn, ev wsEvent, logger *slog.Logger) {
	if err := h.writeWSErr(ctx, ws, ev); err != nil {
		logger.Debug("failed to write websocket frame", "type", ev.Type, "error", err)
	}
}

func (h *Handler) writeWSErr(ctx context.Context, ws *websocket.Conn, ev wsEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.origin == "" || h.origin == "*" || origin == h.origin {
		return true
	}
	h.logger.Warn("websocket origin rejected", "origin", origin, "allowed", h.origin)
	return false
}
