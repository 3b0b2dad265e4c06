package management

import (
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/imgtrust/imgtrust/internal/cert"
	"github.com/imgtrust/imgtrust/internal/model"
	"github.com/imgtrust/imgtrust/internal/storage"
)

// --- Trust Store Management ---

// trustImportResult summarizes one import request. Malformed blocks are
// skipped, not fatal, so callers see how many certificates actually landed.
type trustImportResult struct {
	Imported     int      `json:"imported"`
	Fingerprints []string `json:"fingerprints"`
}

// HandleImportTrusted handles POST requests importing one or more PEM
// certificates into the trusted namespace. The body is raw PEM text and may
// contain multiple certificate blocks.
func HandleImportTrusted(c echo.Context) error {
	store := c.Get("store").(storage.Storage)
	reqLogger := c.Get("logger").(*zap.Logger).With(zap.String("handler", "HandleImportTrusted"))
	ctx := c.Request().Context()

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		reqLogger.Warn("Failed to read request body", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "Failed to read request body")
	}

	certs := cert.ParseChain(string(body))
	if len(certs) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "No parseable certificate blocks in request body")
	}

	result := trustImportResult{Fingerprints: make([]string, 0, len(certs))}
	now := time.Now()
	for _, crt := range certs {
		trusted := &model.TrustedCertificate{
			Certificate: *crt,
			ImportedAt:  now,
			TrustLevel:  "direct",
		}
		if err := store.SaveTrustedCertificate(ctx, trusted); err != nil {
			reqLogger.Error("Failed to save trusted certificate",
				zap.String("fingerprint", crt.Fingerprint.SHA256), zap.Error(err))
			return echo.NewHTTPError(http.StatusInternalServerError, "Failed to save trusted certificate")
		}
		result.Imported++
		result.Fingerprints = append(result.Fingerprints, crt.Fingerprint.SHA256)
	}

	reqLogger.Info("Trusted certificates imported", zap.Int("count", result.Imported))
	return c.JSON(http.StatusCreated, result)
}

// HandleListTrusted handles GET requests to list the trust store contents.
func HandleListTrusted(c echo.Context) error {
	store := c.Get("store").(storage.Storage)
	reqLogger := c.Get("logger").(*zap.Logger).With(zap.String("handler", "HandleListTrusted"))
	ctx := c.Request().Context()

	trusted, err := store.ListTrustedCertificates(ctx)
	if err != nil {
		reqLogger.Error("Failed to list trusted certificates", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to retrieve trusted certificates")
	}
	return c.JSON(http.StatusOK, trusted)
}

// HandleDeleteTrusted handles DELETE requests removing a certificate from
// the trust store by its SHA-256 fingerprint.
func HandleDeleteTrusted(c echo.Context) error {
	store := c.Get("store").(storage.Storage)
	reqLogger := c.Get("logger").(*zap.Logger).With(zap.String("handler", "HandleDeleteTrusted"))
	ctx := c.Request().Context()

	fingerprint := c.Param("fingerprint")
	if fingerprint == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Fingerprint parameter cannot be empty")
	}
	if err := store.DeleteTrustedCertificate(ctx, fingerprint); err != nil {
		reqLogger.Error("Failed to delete trusted certificate", zap.String("fingerprint", fingerprint), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to delete trusted certificate")
	}
	reqLogger.Info("Trusted certificate removed", zap.String("fingerprint", fingerprint))
	return c.NoContent(http.StatusNoContent)
}
