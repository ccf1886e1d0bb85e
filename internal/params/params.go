// Package params fetches gateway configuration from the parameter store and
// exchanges the gateway service account for a bearer token.
package params

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	cognitotypes "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// ErrNotFound is returned when a parameter does not exist or is empty.
var ErrNotFound = errors.New("parameter not found")

// SSMAPI is the subset of the SSM client used here.
type SSMAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// CognitoAPI is the subset of the Cognito identity provider client used here.
type CognitoAPI interface {
	InitiateAuth(ctx context.Context, in *cognitoidentityprovider.InitiateAuthInput, optFns ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.InitiateAuthOutput, error)
}

// Store reads decrypted parameters.
type Store struct {
	client SSMAPI
	logger *slog.Logger
}

// NewStore creates a parameter reader over an SSM client.
func NewStore(client SSMAPI, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{client: client, logger: logger}
}

// Get returns the decrypted value of name. A missing or empty parameter
// yields ErrNotFound.
func (s *Store) Get(ctx context.Context, name string) (string, error) {
	out, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var nf *ssmtypes.ParameterNotFound
		if errors.As(err, &nf) {
			return "", fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		s.logger.Warn("failed to read parameter", "name", name, "error", err)
		return "", fmt.Errorf("get parameter %s: %w", name, err)
	}
	if out.Parameter == nil || aws.ToString(out.Parameter.Value) == "" {
		return "", fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return aws.ToString(out.Parameter.Value), nil
}

// TokenIssuer exchanges a fixed service account for an access token.
type TokenIssuer struct {
	client   CognitoAPI
	username string
	password string
}

// NewTokenIssuer creates a token issuer for the given service account.
func NewTokenIssuer(client CognitoAPI, username, password string) *TokenIssuer {
	return &TokenIssuer{client: client, username: username, password: password}
}

// Token performs a USER_PASSWORD_AUTH exchange against the app client.
// The pool id is only used for error context.
func (t *TokenIssuer) Token(ctx context.Context, clientID, poolID string) (string, error) {
	out, err := t.client.InitiateAuth(ctx, &cognitoidentityprovider.InitiateAuthInput{
		AuthFlow: cognitotypes.AuthFlowTypeUserPasswordAuth,
		ClientId: aws.String(clientID),
		AuthParameters: map[string]string{
			"USERNAME": t.username,
			"PASSWORD": t.password,
		},
	})
	if err != nil {
		return "", fmt.Errorf("initiate auth (pool %s): %w", poolID, err)
	}
	if out.AuthenticationResult == nil || aws.ToString(out.AuthenticationResult.AccessToken) == "" {
		return "", fmt.Errorf("initiate auth (pool %s): no access token (challenge %q)", poolID, out.ChallengeName)
	}
	return aws.ToString(out.AuthenticationResult.AccessToken), nil
}
