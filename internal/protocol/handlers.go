package protocol

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/imgtrust/imgtrust/internal/imgcodec"
)

// maxImageBytes bounds multipart uploads. Large originals are fine; this only
// guards against unbounded reads.
const maxImageBytes = 64 << 20

// readImagePart pulls the "image" file part from a multipart request.
func readImagePart(c echo.Context) ([]byte, string, string, error) {
	fh, err := c.FormFile("image")
	if err != nil {
		return nil, "", "", echo.NewHTTPError(http.StatusBadRequest, "Missing image file part")
	}
	if fh.Size > maxImageBytes {
		return nil, "", "", echo.NewHTTPError(http.StatusRequestEntityTooLarge, "Image exceeds size limit")
	}
	f, err := fh.Open()
	if err != nil {
		return nil, "", "", echo.NewHTTPError(http.StatusBadRequest, "Failed to open image file part")
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxImageBytes+1))
	if err != nil {
		return nil, "", "", echo.NewHTTPError(http.StatusBadRequest, "Failed to read image file part")
	}
	if len(data) > maxImageBytes {
		return nil, "", "", echo.NewHTTPError(http.StatusRequestEntityTooLarge, "Image exceeds size limit")
	}
	return data, fh.Header.Get(echo.HeaderContentType), fh.Filename, nil
}

// HandleCertifyImage handles POST requests that certify an uploaded image.
// The response body is the certified image; the embedded payload is echoed in
// the X-Certification-Hash header for convenience.
func HandleCertifyImage(c echo.Context) error {
	certifier := c.Get("certifier").(*Certifier)
	reqLogger := c.Get("logger").(*zap.Logger).With(zap.String("handler", "HandleCertifyImage"))
	ctx := c.Request().Context()

	image, contentType, filename, err := readImagePart(c)
	if err != nil {
		return err
	}
	certificateID := c.FormValue("certificateId")
	if certificateID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "certificateId form value is required")
	}

	certified, payload, err := certifier.Certify(ctx, CertifyRequest{
		Image:            image,
		MIMEType:         contentType,
		CertificateID:    certificateID,
		Description:      c.FormValue("description"),
		ProcessingType:   c.FormValue("processingType"),
		OriginalFilename: filename,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "Certificate not found")
		case errors.Is(err, ErrNoPrivateKey):
			return echo.NewHTTPError(http.StatusConflict, "Certificate cannot sign: no private key held")
		case errors.Is(err, imgcodec.ErrUnknownFormat):
			return echo.NewHTTPError(http.StatusUnsupportedMediaType, "Unsupported image format")
		case errors.Is(err, imgcodec.ErrSegmentTooLarge):
			return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "Certification payload too large for image format")
		}
		reqLogger.Error("Certification failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Certification failed")
	}

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Response().Header().Set("X-Certification-Hash", payload.Payload.ImageHash)
	return c.Blob(http.StatusOK, contentType, certified)
}

// HandleVerifyImage handles POST requests that verify an uploaded image and
// return its trust verdict as JSON.
func HandleVerifyImage(c echo.Context) error {
	verifier := c.Get("verifier").(*Verifier)
	reqLogger := c.Get("logger").(*zap.Logger).With(zap.String("handler", "HandleVerifyImage"))
	ctx := c.Request().Context()

	image, _, _, err := readImagePart(c)
	if err != nil {
		return err
	}

	verdict, err := verifier.Verify(ctx, image)
	if err != nil {
		reqLogger.Error("Verification aborted", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Verification aborted")
	}
	return c.JSON(http.StatusOK, verdict)
}
