// Package toolgateway wraps the remote tool gateway session. Tools may only
// be listed or called through a Scope, and a Scope only exists while the
// underlying network session is open.
package toolgateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Tool describes one remote callable.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ToolOutput is the flattened result of a tool call.
type ToolOutput struct {
	Text    string
	IsError bool
}

// Conn is an open gateway session.
type Conn interface {
	// ListTools returns one page of tools and the cursor of the next page.
	ListTools(ctx context.Context, cursor string) ([]Tool, string, error)
	CallTool(ctx context.Context, name string, args map[string]any) (ToolOutput, error)
	Close() error
}

// Dialer opens a gateway session authenticated with a bearer token.
type Dialer func(ctx context.Context, endpoint, bearerToken string) (Conn, error)

// Client is a per-session gateway handle. At most one Scope is open at a time.
type Client struct {
	endpoint string
	token    string
	dial     Dialer
	logger   *slog.Logger

	active atomic.Bool
}

// NewClient creates a gateway handle. A nil dial uses DialMCP.
func NewClient(endpoint, bearerToken string, dial Dialer, logger *slog.Logger) *Client {
	if dial == nil {
		dial = DialMCP
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{endpoint: endpoint, token: bearerToken, dial: dial, logger: logger}
}

// Endpoint returns the gateway URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// open connects the gateway session. The caller must Close the returned scope.
func (c *Client) open(ctx context.Context) (*Scope, error) {
	if !c.active.CompareAndSwap(false, true) {
		return nil, ErrScopeActive
	}

	conn, err := c.dial(ctx, c.endpoint, c.token)
	if err != nil {
		c.active.Store(false)
		return nil, fmt.Errorf("open tool gateway session: %w", err)
	}

	c.logger.Debug("tool gateway scope opened", "endpoint", c.endpoint)
	return &Scope{client: c, conn: conn}, nil
}

// WithScope opens a scope, runs fn and closes the scope on every exit path.
// A panic in fn is re-raised after the scope is closed.
func (c *Client) WithScope(ctx context.Context, fn func(*Scope) error) (err error) {
	s, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := s.Close(); closeErr != nil {
			c.logger.Warn("failed to close tool gateway scope", "error", closeErr)
		}
	}()

	return fn(s)
}

// Scope is an open gateway session.
type Scope struct {
	client *Client
	conn   Conn

	mu     sync.Mutex
	closed bool
}

// ListTools returns every tool exposed by the gateway, following cursors.
func (s *Scope) ListTools(ctx context.Context) ([]Tool, error) {
	if s.isClosed() {
		return nil, ErrScopeClosed
	}

	var (
		tools  []Tool
		cursor string
		seen   = make(map[string]bool)
	)
	for {
		page, next, err := s.conn.ListTools(ctx, cursor)
		if err != nil {
			return nil, fmt.Errorf("list tools: %w", err)
		}
		tools = append(tools, page...)
		if next == "" || seen[next] {
			return tools, nil
		}
		seen[next] = true
		cursor = next
	}
}

// CallTool invokes a remote tool. A tool-side failure is reported through
// ToolOutput.IsError, not as an error.
func (s *Scope) CallTool(ctx context.Context, name string, args map[string]any) (ToolOutput, error) {
	if s.isClosed() {
		return ToolOutput{}, ErrScopeClosed
	}
	out, err := s.conn.CallTool(ctx, name, args)
	if err != nil {
		return ToolOutput{}, fmt.Errorf("call tool %s: %w", name, err)
	}
	return out, nil
}

// Close closes the gateway session and releases the client for the next
// scope. Closing twice is a no-op.
func (s *Scope) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.conn.Close()
	s.client.active.Store(false)
	s.client.logger.Debug("tool gateway scope closed", "endpoint", s.client.endpoint)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("close tool gateway session: %w", err)
	}
	return nil
}

func (s *Scope) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
