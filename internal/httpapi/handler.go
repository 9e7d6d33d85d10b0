package httpapi

import (
	"context"
	"net/http"

	"github.com/MrEthical07/tokenlife"
	"github.com/MrEthical07/tokenlife/middleware"
	"github.com/labstack/echo/v4"
)

const tokenTypeBearer = "Bearer"

// Engine is the part of *tokenlife.Engine the handlers use.
type Engine interface {
	LoginByName(ctx context.Context, loginName string) (tokenlife.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (string, error)
	Logout(ctx context.Context, subject string) error
	Authenticate(ctx context.Context, accessToken string) (tokenlife.Identity, error)
}

// CredentialChecker verifies a login name and password. It returns nil on
// success; password.Credentials is the bundled implementation.
type CredentialChecker interface {
	CheckCredentials(ctx context.Context, loginName, password string) error
}

type AuthHandler struct {
	engine Engine
	creds  CredentialChecker
}

func NewAuthHandler(engine Engine, creds CredentialChecker) *AuthHandler {
	return &AuthHandler{engine: engine, creds: creds}
}

// RegisterRoutes mounts the auth endpoints under g.
func (h *AuthHandler) RegisterRoutes(g *echo.Group) {
	auth := g.Group("/auth")

	// POST /api/v1/auth/login
	auth.POST("/login", h.login)
	auth.POST("/refresh", h.refresh)

	guarded := auth.Group("", echo.WrapMiddleware(middleware.Guard(h.engine)))
	guarded.GET("/logout", h.logout)
	guarded.GET("/me", h.me)
}

type LoginRequest struct {
	LoginName string `json:"login_name" validate:"required,max=256"`
	Password  string `json:"password" validate:"required,max=1024"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

func (h *AuthHandler) login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body format")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	ctx := requestContext(c)
	if err := h.creds.CheckCredentials(ctx, req.LoginName, req.Password); err != nil {
		return err
	}
	pair, err := h.engine.LoginByName(ctx, req.LoginName)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, TokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    tokenTypeBearer,
	})
}

// refresh returns the presented refresh token unchanged next to the new
// access token.
func (h *AuthHandler) refresh(c echo.Context) error {
	var req RefreshRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body format")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	access, err := h.engine.Refresh(requestContext(c), req.RefreshToken)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, TokenResponse{
		AccessToken:  access,
		RefreshToken: req.RefreshToken,
		TokenType:    tokenTypeBearer,
	})
}

func (h *AuthHandler) logout(c echo.Context) error {
	id, ok := tokenlife.IdentityFromContext(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized)
	}
	if err := h.engine.Logout(requestContext(c), id.Subject); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *AuthHandler) me(c echo.Context) error {
	id, ok := tokenlife.IdentityFromContext(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized)
	}
	roles := id.Roles
	if roles == nil {
		roles = []string{}
	}
	return c.JSON(http.StatusOK, IdentityResponse{Subject: id.Subject, Roles: roles})
}

// requestContext carries the client address into audit events.
func requestContext(c echo.Context) context.Context {
	return tokenlife.WithClientIP(c.Request().Context(), c.RealIP())
}
