package protocol

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/imgtrust/imgtrust/internal/cert"
	"github.com/imgtrust/imgtrust/internal/exif"
	"github.com/imgtrust/imgtrust/internal/imgcodec"
	"github.com/imgtrust/imgtrust/internal/model"
	"github.com/imgtrust/imgtrust/internal/storage"
)

// Certifier binds signed provenance payloads to images using certificates
// held in storage.
type Certifier struct {
	store  storage.Storage
	signer cert.Signer
	exif   exif.Reader
	now    func() time.Time
}

// NewCertifier creates a Certifier. A nil exif reader disables metadata
// extraction.
func NewCertifier(store storage.Storage, signer cert.Signer, exifReader exif.Reader) *Certifier {
	if exifReader == nil {
		exifReader = exif.NopReader{}
	}
	return &Certifier{store: store, signer: signer, exif: exifReader, now: time.Now}
}

// CertifyRequest describes one certification run.
type CertifyRequest struct {
	Image            []byte
	MIMEType         string // hint only; magic bytes win on disagreement
	CertificateID    string
	Description      string
	ProcessingType   string
	OriginalFilename string
}

// Certify hashes a metadata-stripped copy of the image, signs a payload over
// that hash with the referenced certificate's key, and returns the original
// image with the new payload embedded. Viewer metadata (JFIF, EXIF, ICC,
// ancillary PNG chunks) stays in the certified output; stripping only feeds
// the hash. A fresh certification always replaces a previous one.
func (c *Certifier) Certify(ctx context.Context, req CertifyRequest) ([]byte, *model.CertificationPayload, error) {
	crt, err := c.store.GetCertificate(ctx, req.CertificateID)
	if err != nil {
		return nil, nil, fmt.Errorf("protocol: load certificate %s: %w", req.CertificateID, err)
	}
	if crt == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, req.CertificateID)
	}
	if len(crt.PrivateKey) == 0 {
		return nil, nil, fmt.Errorf("%w: %s", ErrNoPrivateKey, req.CertificateID)
	}
	if crt.Expired(c.now()) {
		logger.Warn("certifying with an expired certificate",
			zap.String("certificate_id", crt.ID),
			zap.Time("not_after", crt.Validity.NotAfter))
	}

	format := imgcodec.Detect(req.Image, req.MIMEType)
	if format == imgcodec.FormatUnknown {
		return nil, nil, imgcodec.ErrUnknownFormat
	}
	codec := imgcodec.For(format)

	stripped, err := codec.Strip(req.Image)
	if err != nil {
		return nil, nil, err
	}
	digest := sha256.Sum256(stripped)

	exifData, err := c.exif.Extract(req.Image)
	if err != nil {
		logger.Warn("exif extraction failed, continuing without metadata", zap.Error(err))
		exifData = exif.Defaults()
	}

	payload := model.SignedPayload{
		ImageHash:        hex.EncodeToString(digest[:]),
		Description:      req.Description,
		ExifData:         exifData,
		ProcessingType:   req.ProcessingType,
		Timestamp:        c.now().UTC().Format(time.RFC3339),
		Photographer:     crt.Subject.CommonName,
		CertFingerprint:  crt.Fingerprint.SHA256,
		OriginalFilename: req.OriginalFilename,
		FileSize:         int64(len(req.Image)),
	}

	canonical, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("protocol: serialize payload: %w", err)
	}
	signature, err := c.signer.Sign(crt.PrivateKey, canonical)
	if err != nil {
		return nil, nil, err
	}

	certification := &model.CertificationPayload{
		Signature: signature,
		Payload:   payload,
	}
	envelope, err := json.Marshal(certification)
	if err != nil {
		return nil, nil, fmt.Errorf("protocol: serialize certification envelope: %w", err)
	}

	certified, err := codec.Embed(req.Image, envelope)
	if err != nil {
		return nil, nil, err
	}

	logger.Info("image certified",
		zap.String("format", string(format)),
		zap.String("certificate_id", crt.ID),
		zap.String("image_hash", payload.ImageHash),
		zap.Int("image_bytes", len(certified)))
	return certified, certification, nil
}
