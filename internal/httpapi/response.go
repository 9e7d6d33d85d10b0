package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/MrEthical07/tokenlife"
	"github.com/MrEthical07/tokenlife/internal/logx"
	"github.com/MrEthical07/tokenlife/password"
	"github.com/MrEthical07/tokenlife/store"
	"github.com/labstack/echo/v4"
)

// APIError is the body of every 4xx and 5xx response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// TokenResponse mirrors the OAuth2 token response shape.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
}

type IdentityResponse struct {
	Subject string   `json:"subject"`
	Roles   []string `json:"roles"`
}

func sendError(c echo.Context, status int, code, message string, details any) {
	_ = c.JSON(status, APIError{Code: code, Message: message, Details: details})
}

// ErrorHandler maps engine errors to responses. Rejections are answered
// with a uniform 401 so clients cannot probe why a token was refused.
func ErrorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		log := logx.FromContext(c.Request().Context(), logger)

		var valErr ValidationError
		if errors.As(err, &valErr) {
			sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "One or more fields failed validation", valErr.Errors)
			return
		}

		if kind, ok := tokenlife.KindOf(err); ok {
			if kind == tokenlife.KindKeyGenerationFailure {
				log.Error("key failure while serving request", slog.Any("error", err))
				sendError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "An unexpected error occurred", nil)
				return
			}
			sendError(c, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized", nil)
			return
		}

		switch {
		case errors.Is(err, password.ErrBadCredentials):
			sendError(c, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized", nil)
			return
		case errors.Is(err, tokenlife.ErrRefreshRateLimited):
			sendError(c, http.StatusTooManyRequests, "RATE_LIMITED", "too many refresh attempts", nil)
			return
		case errors.Is(err, store.ErrUnavailable):
			log.Warn("backend unavailable", slog.Any("error", err))
			sendError(c, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "try again later", nil)
			return
		}

		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			msg, _ := httpErr.Message.(string)
			if msg == "" {
				msg = http.StatusText(httpErr.Code)
			}
			sendError(c, httpErr.Code, "HTTP_ERROR", msg, nil)
			return
		}

		log.Error("unhandled internal error", slog.Any("error", err))
		sendError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "An unexpected error occurred", nil)
	}
}
