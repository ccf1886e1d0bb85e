// Package identity resolves the stable per-browser actor id that keys
// long-term conversation memory.
package identity

import (
	"context"
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/jami-assistant/internal/domain"
	"github.com/ashureev/jami-assistant/internal/store"
)

const (
	SessionCookieName = "jami_session"
	ActorHeaderName   = "X-Actor-ID"
	ActorQueryParam   = "actor_id"
	sessionCookieAge  = 30 * 24 * time.Hour
)

// Origin records which rule produced an actor id.
type Origin string

const (
	OriginURL     Origin = "url"
	OriginSession Origin = "session"
	OriginDerived Origin = "derived"
	OriginRandom  Origin = "random"
)

// Actor is the resolved identity for one request.
type Actor struct {
	ID     string
	Origin Origin
	// Publish is set when the id is not yet carried by the request URL
	// and should be written back to it.
	Publish bool
}

// State is the session-local actor slot.
type State interface {
	ActorID() (string, bool)
	SetActorID(id string)
}

// Sessions attaches the session-local state for a browser-session token to a
// request context.
type Sessions interface {
	Attach(ctx context.Context, token string) (context.Context, State)
}

type contextKey int

const actorKey contextKey = iota

var (
	actorIDPattern      = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
	sessionTokenPattern = regexp.MustCompile(`^[a-f0-9]{32}$`)
)

// ActorFromContext extracts the resolved actor from the request context.
func ActorFromContext(ctx context.Context) Actor {
	if v, ok := ctx.Value(actorKey).(Actor); ok {
		return v
	}
	return Actor{}
}

// WithActor returns a copy of ctx carrying actor.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// ValidActorID reports whether id is acceptable as a URL-carried actor id.
func ValidActorID(id string) bool {
	return actorIDPattern.MatchString(id)
}

// Resolve returns the actor id for the request, first match wins:
// a well-formed URL actor_id, then the session-local value, then an id
// derived from the browser-session token. The chosen value is stored in st.
func Resolve(r *http.Request, st State, token string) Actor {
	if id := strings.TrimSpace(r.URL.Query().Get(ActorQueryParam)); id != "" && ValidActorID(id) {
		st.SetActorID(id)
		return Actor{ID: id, Origin: OriginURL}
	}

	if id, ok := st.ActorID(); ok && id != "" {
		return Actor{ID: id, Origin: OriginSession, Publish: true}
	}

	actor := Actor{Origin: OriginDerived, Publish: true}
	if token != "" {
		actor.ID = DeriveActorID(token)
	} else {
		actor.ID = RandomActorID()
		actor.Origin = OriginRandom
	}
	st.SetActorID(actor.ID)
	return actor
}

// DeriveActorID maps a browser-session token to a deterministic actor id.
func DeriveActorID(token string) string {
	sum := md5.Sum([]byte(token))
	return "device_" + hex.EncodeToString(sum[:])[:12]
}

// RandomActorID returns a fresh random actor id.
func RandomActorID() string {
	return "device_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func generateSessionToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func setSessionCookie(w http.ResponseWriter, token string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(sessionCookieAge.Seconds()),
		Expires:  time.Now().Add(sessionCookieAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

// sessionToken returns the browser-session token, minting one when the
// cookie is missing or malformed. Returns "" if no token could be minted.
func sessionToken(w http.ResponseWriter, r *http.Request, isDev bool) string {
	if c, err := r.Cookie(SessionCookieName); err == nil && sessionTokenPattern.MatchString(c.Value) {
		setSessionCookie(w, c.Value, isDev)
		return c.Value
	}

	token, err := generateSessionToken()
	if err != nil {
		slog.Warn("session token unavailable, using random actor id", "error", err)
		return ""
	}
	setSessionCookie(w, token, isDev)
	return token
}

func ensureActor(ctx context.Context, repo store.Repository, actor Actor) error {
	return repo.UpsertActor(ctx, &domain.Actor{
		ActorID:    actor.ID,
		Origin:     string(actor.Origin),
		LastSeenAt: time.Now(),
	})
}

// Middleware resolves the browser session and actor id for every request.
// The actor id is echoed in the X-Actor-ID response header.
func Middleware(sessions Sessions, repo store.Repository, isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := sessionToken(w, r, isDev)
			ctx, st := sessions.Attach(r.Context(), token)

			actor := Resolve(r, st, token)

			if err := ensureActor(ctx, repo, actor); err != nil {
				slog.Warn("failed to record actor", "actor_id", actor.ID, "error", err)
			}

			w.Header().Set(ActorHeaderName, actor.ID)
			next.ServeHTTP(w, r.WithContext(WithActor(ctx, actor)))
		})
	}
}

// PublishURL returns the request URL with actor_id set to the actor's id.
func PublishURL(r *http.Request, actor Actor) string {
	u := *r.URL
	q := u.Query()
	q.Set(ActorQueryParam, actor.ID)
	u.RawQuery = q.Encode()
	return u.RequestURI()
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
