// Package protocol implements the certification and verification flows:
// binding a signed provenance payload to image bytes and deriving a trust
// verdict from an image that carries one.
package protocol

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
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
	logger = l.With(zap.String("package", "protocol"))
}

var (
	// ErrNotFound indicates the referenced certificate does not exist.
	ErrNotFound = errors.New("protocol: certificate not found")
	// ErrNoPrivateKey indicates the certificate cannot sign because its key
	// material is not held locally.
	ErrNoPrivateKey = errors.New("protocol: certificate carries no private key")
)

// Trust issue messages accumulated into a verdict. Verifiers report every
// applicable issue, not just the first.
const (
	issueNoCertification   = "No certification data found in image"
	issueMalformedPayload  = "Certification data is malformed"
	issueCertNotTrusted    = "Certificate not in trust store"
	issueCertExpired       = "Certificate has expired"
	issueCertNotYetValid   = "Certificate is not yet valid"
	issueSignatureInvalid  = "Payload signature is invalid"
	issueImageHashMismatch = "Image content does not match certified hash"
	issueTrustStoreError   = "Trust store unavailable"
)
