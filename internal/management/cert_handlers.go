package management

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/imgtrust/imgtrust/internal/cert"
	"github.com/imgtrust/imgtrust/internal/model"
	"github.com/imgtrust/imgtrust/internal/storage"
)

// --- Certificate Management ---

// createCertificateRequest defines the expected JSON body for issuing a
// certificate.
type createCertificateRequest struct {
	Name         string `json:"name"`
	Organization string `json:"organization"`
	Department   string `json:"department"`
	City         string `json:"city"`
	State        string `json:"state"`
	Country      string `json:"country"`
	Email        string `json:"email"`
	ValidityDays int    `json:"validityDays"`
}

// createCertificateResponse returns the issued certificate plus its PEM
// export. PrivateKeyPEM is returned exactly once, here; it is never
// retrievable again through the API.
type createCertificateResponse struct {
	Certificate    *model.Certificate `json:"certificate"`
	CertificatePEM string             `json:"certificatePem"`
	PrivateKeyPEM  string             `json:"privateKeyPem"`
}

// HandleCreateCertificate handles POST requests to issue a new self-signed
// certificate.
func HandleCreateCertificate(c echo.Context) error {
	store := c.Get("store").(storage.Storage)
	generator := c.Get("generator").(*cert.Generator)
	reqLogger := c.Get("logger").(*zap.Logger).With(zap.String("handler", "HandleCreateCertificate"))
	ctx := c.Request().Context()

	var req createCertificateRequest
	if err := c.Bind(&req); err != nil {
		reqLogger.Warn("Failed to bind request body", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
	}
	if req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Name cannot be empty")
	}

	subject := cert.SubjectInfo{
		Name:         req.Name,
		Organization: req.Organization,
		Department:   req.Department,
		City:         req.City,
		State:        req.State,
		Country:      req.Country,
		Email:        req.Email,
	}
	issued, err := generator.Generate(subject, nil, cert.Options{ValidityDays: req.ValidityDays})
	if err != nil {
		reqLogger.Error("Failed to generate certificate", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to generate certificate")
	}

	if err := store.SaveCertificate(ctx, issued); err != nil {
		reqLogger.Error("Failed to save certificate", zap.String("id", issued.ID), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to save certificate")
	}

	withKey, err := cert.ExportPEM(issued, true)
	if err != nil {
		reqLogger.Error("Failed to export certificate PEM", zap.String("id", issued.ID), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to export certificate")
	}
	publicOnly, err := cert.ExportPEM(issued, false)
	if err != nil {
		reqLogger.Error("Failed to export certificate PEM", zap.String("id", issued.ID), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to export certificate")
	}

	reqLogger.Info("Certificate issued", zap.String("id", issued.ID), zap.String("subject", issued.Subject.Canonical))
	return c.JSON(http.StatusCreated, createCertificateResponse{
		Certificate:    issued,
		CertificatePEM: publicOnly,
		PrivateKeyPEM:  withKey,
	})
}

// HandleListCertificates handles GET requests to list issued certificates.
func HandleListCertificates(c echo.Context) error {
	store := c.Get("store").(storage.Storage)
	reqLogger := c.Get("logger").(*zap.Logger).With(zap.String("handler", "HandleListCertificates"))
	ctx := c.Request().Context()

	certs, err := store.ListCertificates(ctx)
	if err != nil {
		reqLogger.Error("Failed to list certificates", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to retrieve certificates")
	}
	return c.JSON(http.StatusOK, certs)
}

// HandleGetCertificate handles GET requests for a single certificate by id.
func HandleGetCertificate(c echo.Context) error {
	store := c.Get("store").(storage.Storage)
	reqLogger := c.Get("logger").(*zap.Logger).With(zap.String("handler", "HandleGetCertificate"))
	ctx := c.Request().Context()

	id := c.Param("id")
	crt, err := store.GetCertificate(ctx, id)
	if err != nil {
		reqLogger.Error("Failed to get certificate", zap.String("id", id), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to retrieve certificate")
	}
	if crt == nil {
		return echo.NewHTTPError(http.StatusNotFound, "Certificate not found")
	}
	return c.JSON(http.StatusOK, crt)
}

// HandleDeleteCertificate handles DELETE requests for a certificate.
func HandleDeleteCertificate(c echo.Context) error {
	store := c.Get("store").(storage.Storage)
	reqLogger := c.Get("logger").(*zap.Logger).With(zap.String("handler", "HandleDeleteCertificate"))
	ctx := c.Request().Context()

	id := c.Param("id")
	if err := store.DeleteCertificate(ctx, id); err != nil {
		reqLogger.Error("Failed to delete certificate", zap.String("id", id), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to delete certificate")
	}
	reqLogger.Info("Certificate deleted", zap.String("id", id))
	return c.NoContent(http.StatusNoContent)
}

// HandleExportCertificatePEM handles GET requests for the public PEM form of
// a certificate. The private key is never included.
func HandleExportCertificatePEM(c echo.Context) error {
	store := c.Get("store").(storage.Storage)
	reqLogger := c.Get("logger").(*zap.Logger).With(zap.String("handler", "HandleExportCertificatePEM"))
	ctx := c.Request().Context()

	id := c.Param("id")
	crt, err := store.GetCertificate(ctx, id)
	if err != nil {
		reqLogger.Error("Failed to get certificate", zap.String("id", id), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to retrieve certificate")
	}
	if crt == nil {
		return echo.NewHTTPError(http.StatusNotFound, "Certificate not found")
	}

	pemText, err := cert.ExportPEM(crt, false)
	if err != nil {
		reqLogger.Error("Failed to export certificate PEM", zap.String("id", id), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to export certificate")
	}
	return c.Blob(http.StatusOK, "application/x-pem-file", []byte(pemText))
}

// HandleCertificateJWK handles GET requests for the certificate's public key
// in JWK form.
func HandleCertificateJWK(c echo.Context) error {
	store := c.Get("store").(storage.Storage)
	reqLogger := c.Get("logger").(*zap.Logger).With(zap.String("handler", "HandleCertificateJWK"))
	ctx := c.Request().Context()

	id := c.Param("id")
	crt, err := store.GetCertificate(ctx, id)
	if err != nil {
		reqLogger.Error("Failed to get certificate", zap.String("id", id), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to retrieve certificate")
	}
	if crt == nil {
		return echo.NewHTTPError(http.StatusNotFound, "Certificate not found")
	}

	jwk, err := cert.PublicJWK(crt)
	if err != nil {
		reqLogger.Error("Failed to build JWK", zap.String("id", id), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to export public key")
	}
	return c.JSON(http.StatusOK, jwk)
}
