package toolgateway

import "errors"

var (
	// ErrMissingGatewayURL is returned when the gateway endpoint parameter is absent.
	ErrMissingGatewayURL = errors.New("tool gateway URL not configured")

	// ErrMissingOAuthConfig is returned when the OAuth client or pool id is absent.
	ErrMissingOAuthConfig = errors.New("tool gateway OAuth client not configured")

	// ErrTokenExchange is returned when the service account could not be
	// exchanged for a bearer token.
	ErrTokenExchange = errors.New("tool gateway token exchange failed")

	// ErrScopeActive is returned by WithScope while another scope of the same
	// client is still open.
	ErrScopeActive = errors.New("tool gateway scope already active")

	// ErrScopeClosed is returned when a closed scope is used.
	ErrScopeClosed = errors.New("tool gateway scope closed")

	// ErrUnavailable is returned when an earlier build for the session failed.
	ErrUnavailable = errors.New("tool gateway unavailable for this session")
)
