package auth

import (
	"fmt"
	"net/http"
	"slices"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/imgtrust/imgtrust/internal/storage"
)

var logger *zap.Logger

// init initializes the package logger.
func init() {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize zap logger: %v", err))
	}
	logger = l.With(zap.String("package", "auth"))
}

// HeaderAPIKey is the request header carrying the caller's API key.
const HeaderAPIKey = "X-API-Key"

// APIKeyAuthMiddleware returns an Echo middleware that requires a valid API
// key with the given role. Keys are looked up in storage on every request so
// revocation takes effect immediately.
func APIKeyAuthMiddleware(store storage.Storage, requiredRole string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			apiKey := c.Request().Header.Get(HeaderAPIKey)
			if apiKey == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Missing API key")
			}

			roles, err := store.GetAPIKey(c.Request().Context(), apiKey)
			if err != nil {
				logger.Error("API key lookup failed", zap.Error(err))
				return echo.NewHTTPError(http.StatusInternalServerError, "Authorization check failed")
			}
			if roles == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid API key")
			}
			if !slices.Contains(roles, requiredRole) {
				return echo.NewHTTPError(http.StatusForbidden, "Insufficient role")
			}

			c.Set("apiKeyRoles", roles)
			return next(c)
		}
	}
}
