package auth

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"go.agile6.com/mcpgw/audit"
	"go.agile6.com/mcpgw/internal/metrics"
)

// Authentication methods.
const (
	MethodOAuth    = "oauth"
	MethodMCPToken = "mcp-token"
	MethodNone     = "none"
)

// Credentials is the request-side credential bundle. Only the
// email+access-token pair or the MCP access token is meaningful; any other
// field a client injects (an API key, for instance) has nowhere to land
// and is structurally ignored.
type Credentials struct {
	AccessToken    string `json:"accessToken,omitempty"`
	Email          string `json:"email,omitempty"`
	Name           string `json:"name,omitempty"`
	MCPAccessToken string `json:"mcpAccessToken,omitempty"`
}

// UserIdentity is the authenticated principal. It never carries secrets.
type UserIdentity struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// AuthResult is the single value the rest of the system is allowed to
// trust. It must never contain the downstream API key, the OAuth client
// secret, or any other server-side secret.
type AuthResult struct {
	Authenticated bool         `json:"authenticated"`
	Method        string       `json:"method"`
	User          UserIdentity `json:"user"`
}

// Arbitrator decides which credential governs a request. Precedence is
// fixed: OAuth claims, then MCP access token, then nothing. Exactly one
// branch executes per request.
type Arbitrator struct {
	tokens       *TokenManager
	hostedDomain string
	sink         audit.Sink
	logger       zerolog.Logger
}

// NewArbitrator creates an Arbitrator. tokens may be nil when no backing
// store is configured; the OAuth-only path still works, and the MCP-token
// branch fails with ErrStorageUnavailable.
func NewArbitrator(tokens *TokenManager, hostedDomain string, sink audit.Sink, logger zerolog.Logger) *Arbitrator {
	if sink == nil {
		sink = audit.NopSink{}
	}
	return &Arbitrator{
		tokens:       tokens,
		hostedDomain: hostedDomain,
		sink:         sink,
		logger:       logger,
	}
}

// HostedDomain returns the allow-listed organizational domain.
func (a *Arbitrator) HostedDomain() string {
	return a.hostedDomain
}

// ValidateAuthentication arbitrates the credential bundle into an
// AuthResult or a classified error from the fixed taxonomy. requestIP is
// recorded in usage metadata on the MCP-token branch; it never restricts
// access.
func (a *Arbitrator) ValidateAuthentication(ctx context.Context, creds Credentials, requestIP string) (*AuthResult, error) {
	switch {
	case creds.AccessToken != "" && creds.Email != "":
		return a.validateOAuth(ctx, creds)
	case creds.MCPAccessToken != "":
		return a.validateMCPToken(ctx, creds.MCPAccessToken, requestIP)
	default:
		metrics.AuthAttemptsTotal.WithLabelValues(MethodNone, "failure").Inc()
		a.sink.Record(ctx, audit.Event{
			Action: "authenticate",
			Method: MethodNone,
			Reason: "no credentials",
		})
		return nil, ErrAuthenticationRequired
	}
}

// validateOAuth enforces domain policy only. The access token's
// cryptographic validity is the OAuth callback's trust boundary, outside
// this core. Matching is an exact raw suffix check: subdomains, lookalike
// domains, and anything appended after the domain (zero-width characters,
// control bytes) change the suffix and are rejected.
func (a *Arbitrator) validateOAuth(ctx context.Context, creds Credentials) (*AuthResult, error) {
	if !strings.HasSuffix(creds.Email, "@"+a.hostedDomain) {
		metrics.AuthAttemptsTotal.WithLabelValues(MethodOAuth, "failure").Inc()
		a.sink.Record(ctx, audit.Event{
			Action: "authenticate",
			Method: MethodOAuth,
			Reason: "domain rejected",
		})
		return nil, &DomainError{Domain: a.hostedDomain}
	}

	metrics.AuthAttemptsTotal.WithLabelValues(MethodOAuth, "success").Inc()
	a.sink.Record(ctx, audit.Event{
		Action:  "authenticate",
		Method:  MethodOAuth,
		UserID:  creds.Email,
		Success: true,
	})
	// Name and email are carried verbatim as opaque strings; sanitization
	// is the renderer's job, never the authenticator's.
	return &AuthResult{
		Authenticated: true,
		Method:        MethodOAuth,
		User: UserIdentity{
			ID:    creds.Email,
			Email: creds.Email,
			Name:  creds.Name,
		},
	}, nil
}

func (a *Arbitrator) validateMCPToken(ctx context.Context, raw, requestIP string) (*AuthResult, error) {
	if a.tokens == nil {
		return nil, ErrStorageUnavailable
	}
	res, err := a.tokens.Verify(ctx, raw, requestIP)
	if err != nil {
		return nil, err
	}
	if !res.Valid {
		metrics.AuthAttemptsTotal.WithLabelValues(MethodMCPToken, "failure").Inc()
		a.sink.Record(ctx, audit.Event{
			Action:  "authenticate",
			Method:  MethodMCPToken,
			TokenID: res.TokenID,
			IP:      requestIP,
			Reason:  res.Reason,
		})
		switch res.Reason {
		case ReasonMalformed:
			return nil, ErrTokenMalformed
		case ReasonRevoked:
			return nil, ErrTokenRevoked
		default:
			return nil, ErrTokenNotFound
		}
	}

	metrics.AuthAttemptsTotal.WithLabelValues(MethodMCPToken, "success").Inc()
	a.sink.Record(ctx, audit.Event{
		Action:  "authenticate",
		Method:  MethodMCPToken,
		UserID:  res.UserID,
		TokenID: res.TokenID,
		IP:      requestIP,
		Success: true,
	})
	return &AuthResult{
		Authenticated: true,
		Method:        MethodMCPToken,
		User:          UserIdentity{ID: res.UserID},
	}, nil
}
