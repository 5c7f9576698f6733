// Package api exposes the token lifecycle's administrative surface over
// HTTP. Every route is gated by the arbitrator plus the hosted-domain
// admin check; MCP-token callers are authenticated but not administrators.
package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"go.agile6.com/mcpgw/auth"
	"go.agile6.com/mcpgw/token"
)

const authResultContextKey = "mcpgw.authResult"

// AdminAPI holds the admin route handlers and their dependencies.
type AdminAPI struct {
	arbitrator *auth.Arbitrator
	tokens     *auth.TokenManager
	logger     zerolog.Logger
}

// NewAdminAPI creates the admin API.
func NewAdminAPI(arbitrator *auth.Arbitrator, tokens *auth.TokenManager, logger zerolog.Logger) *AdminAPI {
	return &AdminAPI{
		arbitrator: arbitrator,
		tokens:     tokens,
		logger:     logger,
	}
}

// RegisterRoutes registers the admin routes.
func (a *AdminAPI) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/admin", a.requireAdmin)
	g.POST("/tokens", a.GenerateToken)
	g.GET("/tokens/:tokenID", a.GetTokenMetadata)
	g.PATCH("/tokens/:tokenID", a.UpdateTokenDescription)
	g.DELETE("/tokens/:tokenID", a.DeleteToken)
	g.POST("/tokens/:tokenID/revoke", a.RevokeToken)
	g.POST("/tokens/:tokenID/unrevoke", a.UnrevokeToken)
	g.GET("/users/:userID/tokens", a.ListUserTokens)
	g.GET("/users/:userID/tokens/stats", a.UserTokenStats)
	g.POST("/users/:userID/tokens/revoke", a.RevokeAllUserTokens)
}

// credentialsFromRequest assembles the credential bundle. A Bearer value
// carrying the MCP prefix is a programmatic token; anything else is
// treated as an OAuth access token with identity claims supplied by the
// session layer in front of the gateway.
func credentialsFromRequest(c echo.Context) auth.Credentials {
	creds := auth.Credentials{
		Email: c.Request().Header.Get("X-Auth-Request-Email"),
		Name:  c.Request().Header.Get("X-Auth-Request-Name"),
	}

	header := c.Request().Header.Get("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		if strings.HasPrefix(parts[1], token.AccessTokenPrefix) {
			creds.MCPAccessToken = parts[1]
		} else {
			creds.AccessToken = parts[1]
		}
	}
	return creds
}

func (a *AdminAPI) requireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		result, err := a.arbitrator.ValidateAuthentication(
			c.Request().Context(), credentialsFromRequest(c), c.RealIP())
		if err != nil {
			return authHTTPError(err)
		}
		if !auth.ValidateAdminAccess(result.User.Email, a.arbitrator.HostedDomain()) {
			return echo.NewHTTPError(http.StatusForbidden, "administrator access required")
		}
		c.Set(authResultContextKey, result)
		return next(c)
	}
}

// actingAdmin returns the identity stashed by requireAdmin, so handlers
// can attribute mutations to the administrator who made them.
func actingAdmin(c echo.Context) auth.UserIdentity {
	if result, ok := c.Get(authResultContextKey).(*auth.AuthResult); ok {
		return result.User
	}
	return auth.UserIdentity{}
}

// authHTTPError maps arbitration failures onto HTTP statuses. Only the
// taxonomy's fixed generic strings are surfaced; anything else (a failing
// backing store, for instance) carries internal detail and is collapsed
// to a plain internal error.
func authHTTPError(err error) *echo.HTTPError {
	var domainErr *auth.DomainError
	switch {
	case errors.As(err, &domainErr):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, auth.ErrStorageUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, auth.ErrAuthenticationRequired),
		errors.Is(err, auth.ErrTokenMalformed),
		errors.Is(err, auth.ErrTokenNotFound),
		errors.Is(err, auth.ErrTokenRevoked):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

// tokenOpHTTPError maps lifecycle operation failures.
func tokenOpHTTPError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, auth.ErrTokenNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, auth.ErrTokenAlreadyRevoked):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrStorageUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

type generateTokenRequest struct {
	UserID      string `json:"userId"`
	Description string `json:"description"`
}

// GenerateToken mints a token for a user. The response is the only place
// the raw token ever appears.
func (a *AdminAPI) GenerateToken(c echo.Context) error {
	var req generateTokenRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.UserID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "userId is required")
	}

	gen, err := a.tokens.Generate(c.Request().Context(), req.UserID, req.Description, auth.Provenance{
		IP:        c.RealIP(),
		UserAgent: c.Request().UserAgent(),
	})
	if err != nil {
		return tokenOpHTTPError(err)
	}
	a.logger.Info().
		Str("admin", actingAdmin(c).Email).
		Str("token_id", gen.TokenID).
		Str("user_id", req.UserID).
		Msg("admin generated token")
	return c.JSON(http.StatusCreated, gen)
}

// GetTokenMetadata returns the full record for a token id.
func (a *AdminAPI) GetTokenMetadata(c echo.Context) error {
	rec, err := a.tokens.GetTokenMetadata(c.Request().Context(), c.Param("tokenID"))
	if err != nil {
		return tokenOpHTTPError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

type updateDescriptionRequest struct {
	Description string `json:"description"`
}

// UpdateTokenDescription replaces a token's purpose label.
func (a *AdminAPI) UpdateTokenDescription(c echo.Context) error {
	var req updateDescriptionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := a.tokens.UpdateDescription(c.Request().Context(), c.Param("tokenID"), req.Description); err != nil {
		return tokenOpHTTPError(err)
	}
	a.logger.Info().
		Str("admin", actingAdmin(c).Email).
		Str("token_id", c.Param("tokenID")).
		Msg("admin updated token description")
	return c.NoContent(http.StatusNoContent)
}

// DeleteToken removes a token entirely.
func (a *AdminAPI) DeleteToken(c echo.Context) error {
	if err := a.tokens.DeleteToken(c.Request().Context(), c.Param("tokenID")); err != nil {
		return tokenOpHTTPError(err)
	}
	a.logger.Info().
		Str("admin", actingAdmin(c).Email).
		Str("token_id", c.Param("tokenID")).
		Msg("admin deleted token")
	return c.NoContent(http.StatusNoContent)
}

type revokeRequest struct {
	Reason string `json:"reason"`
}

// RevokeToken marks a token revoked. A second revocation is a 409.
func (a *AdminAPI) RevokeToken(c echo.Context) error {
	var req revokeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := a.tokens.Revoke(c.Request().Context(), c.Param("tokenID"), req.Reason); err != nil {
		return tokenOpHTTPError(err)
	}
	a.logger.Info().
		Str("admin", actingAdmin(c).Email).
		Str("token_id", c.Param("tokenID")).
		Msg("admin revoked token")
	return c.NoContent(http.StatusNoContent)
}

// UnrevokeToken returns a revoked token to the active state.
func (a *AdminAPI) UnrevokeToken(c echo.Context) error {
	if err := a.tokens.Unrevoke(c.Request().Context(), c.Param("tokenID")); err != nil {
		return tokenOpHTTPError(err)
	}
	a.logger.Info().
		Str("admin", actingAdmin(c).Email).
		Str("token_id", c.Param("tokenID")).
		Msg("admin unrevoked token")
	return c.NoContent(http.StatusNoContent)
}

// ListUserTokens lists a user's tokens. Raw tokens are never included.
func (a *AdminAPI) ListUserTokens(c echo.Context) error {
	summaries, err := a.tokens.ListTokens(c.Request().Context(), c.Param("userID"))
	if err != nil {
		return tokenOpHTTPError(err)
	}
	return c.JSON(http.StatusOK, summaries)
}

// UserTokenStats aggregates a user's tokens.
func (a *AdminAPI) UserTokenStats(c echo.Context) error {
	stats, err := a.tokens.Stats(c.Request().Context(), c.Param("userID"))
	if err != nil {
		return tokenOpHTTPError(err)
	}
	return c.JSON(http.StatusOK, stats)
}

// RevokeAllUserTokens revokes every active token of a user, best effort.
func (a *AdminAPI) RevokeAllUserTokens(c echo.Context) error {
	var req revokeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	result, err := a.tokens.RevokeAll(c.Request().Context(), c.Param("userID"), req.Reason)
	if err != nil {
		return tokenOpHTTPError(err)
	}
	a.logger.Info().
		Str("admin", actingAdmin(c).Email).
		Str("user_id", c.Param("userID")).
		Int("revoked", result.Revoked).
		Msg("admin revoked all user tokens")
	return c.JSON(http.StatusOK, result)
}
