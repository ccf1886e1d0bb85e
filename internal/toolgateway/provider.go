package toolgateway

import (
	"context"
	"fmt"
	"log/slog"
)

// ParamReader reads a decrypted configuration parameter.
type ParamReader interface {
	Get(ctx context.Context, name string) (string, error)
}

// TokenIssuer exchanges the gateway service account for a bearer token.
type TokenIssuer interface {
	Token(ctx context.Context, clientID, poolID string) (string, error)
}

// Slot is the session-local cache of the gateway handle.
type Slot interface {
	// ToolClient returns the cached handle. ok is false until a build has
	// been attempted; a failed build caches a nil handle with ok true.
	ToolClient() (c *Client, ok bool)
	SetToolClient(c *Client)
}

// ParamNames are the parameter-store keys holding the gateway settings.
type ParamNames struct {
	GatewayURL  string
	OAuthClient string
	OAuthPool   string
}

// Provider builds gateway handles from the parameter store and token issuer.
type Provider struct {
	params ParamReader
	tokens TokenIssuer
	names  ParamNames
	dial   Dialer
	logger *slog.Logger
}

// NewProvider creates a Provider. A nil dial uses DialMCP.
func NewProvider(params ParamReader, tokens TokenIssuer, names ParamNames, dial Dialer, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{params: params, tokens: tokens, names: names, dial: dial, logger: logger}
}

// GetOrCreate returns the handle cached in slot, building it on first use.
// A failed build is logged, cached as nil and reported; later calls return
// ErrUnavailable without retrying.
func (p *Provider) GetOrCreate(ctx context.Context, slot Slot) (*Client, error) {
	if c, ok := slot.ToolClient(); ok {
		if c == nil {
			return nil, ErrUnavailable
		}
		return c, nil
	}

	c, err := p.build(ctx)
	if err != nil {
		p.logger.Error("failed to create tool gateway client", "error", err)
		slot.SetToolClient(nil)
		return nil, err
	}
	slot.SetToolClient(c)
	p.logger.Info("tool gateway client created", "endpoint", c.Endpoint())
	return c, nil
}

// Configured reports whether the gateway URL parameter is readable.
func (p *Provider) Configured(ctx context.Context) bool {
	v, err := p.params.Get(ctx, p.names.GatewayURL)
	return err == nil && v != ""
}

func (p *Provider) build(ctx context.Context) (*Client, error) {
	endpoint, err := p.params.Get(ctx, p.names.GatewayURL)
	if err != nil || endpoint == "" {
		return nil, joinCause(ErrMissingGatewayURL, err)
	}

	clientID, err := p.params.Get(ctx, p.names.OAuthClient)
	if err != nil || clientID == "" {
		return nil, joinCause(ErrMissingOAuthConfig, err)
	}
	poolID, err := p.params.Get(ctx, p.names.OAuthPool)
	if err != nil || poolID == "" {
		return nil, joinCause(ErrMissingOAuthConfig, err)
	}

	token, err := p.tokens.Token(ctx, clientID, poolID)
	if err != nil || token == "" {
		return nil, joinCause(ErrTokenExchange, err)
	}

	return NewClient(endpoint, token, p.dial, p.logger), nil
}

func joinCause(kind, cause error) error {
	if cause == nil {
		return kind
	}
	return fmt.Errorf("%w: %w", kind, cause)
}
