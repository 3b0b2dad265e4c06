package server

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/imgtrust/imgtrust/internal/auth"
	"github.com/imgtrust/imgtrust/internal/cert"
	"github.com/imgtrust/imgtrust/internal/config"
	"github.com/imgtrust/imgtrust/internal/management"
	"github.com/imgtrust/imgtrust/internal/protocol"
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
	logger = l.With(zap.String("package", "server"))
}

// Services bundles the collaborators made available to handlers through the
// request context.
type Services struct {
	Store     storage.Storage
	Config    *config.Config
	Generator *cert.Generator
	Certifier *protocol.Certifier
	Verifier  *protocol.Verifier
}

// ApplyCommonMiddleware applies essential middleware to an Echo instance.
// It injects dependencies into the context.
func ApplyCommonMiddleware(e *echo.Echo, svc Services, baseLogger *zap.Logger) {
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string { return uuid.NewString() },
	}))

	// Middleware to set context values
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			reqID := c.Response().Header().Get(echo.HeaderXRequestID)
			reqLogger := baseLogger.With(zap.String("request_id", reqID))

			c.Set("store", svc.Store)
			c.Set("cfg", svc.Config)
			c.Set("generator", svc.Generator)
			c.Set("certifier", svc.Certifier)
			c.Set("verifier", svc.Verifier)
			c.Set("logger", reqLogger)
			return next(c)
		}
	})
}

// SetupRouter defines all HTTP routes for the application.
func SetupRouter(e *echo.Echo, svc Services) {
	e.GET("/", func(c echo.Context) error {
		return c.String(http.StatusOK, "ImgTrust is running")
	})
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	apiGroup := e.Group("/api/v1")

	// Image certification and verification. Verification is open;
	// certification requires a signing-capable caller.
	const certifierRole = "certifier"
	certifierOnly := auth.APIKeyAuthMiddleware(svc.Store, certifierRole)
	apiGroup.POST("/images/certify", protocol.HandleCertifyImage, certifierOnly)
	apiGroup.POST("/images/verify", protocol.HandleVerifyImage)

	// Certificate and trust store management.
	const adminRole = "admin"
	adminOnly := auth.APIKeyAuthMiddleware(svc.Store, adminRole)

	certGroup := apiGroup.Group("/certificates")
	certGroup.Use(adminOnly)
	certGroup.POST("", management.HandleCreateCertificate)
	certGroup.GET("", management.HandleListCertificates)
	certGroup.GET("/:id", management.HandleGetCertificate)
	certGroup.DELETE("/:id", management.HandleDeleteCertificate)
	certGroup.GET("/:id/pem", management.HandleExportCertificatePEM)
	certGroup.GET("/:id/jwk", management.HandleCertificateJWK)

	trustGroup := apiGroup.Group("/trust")
	trustGroup.Use(adminOnly)
	trustGroup.POST("", management.HandleImportTrusted)
	trustGroup.GET("", management.HandleListTrusted)
	trustGroup.DELETE("/:fingerprint", management.HandleDeleteTrusted)
}
