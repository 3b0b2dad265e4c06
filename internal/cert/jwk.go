package cert

import (
	"crypto/x509"
	"fmt"

	jose "github.com/go-jose/go-jose/v4"

	"github.com/imgtrust/imgtrust/internal/model"
)

// PublicJWK exposes a certificate's public key as a JSON Web Key for
// consumers that want a standard key encoding instead of the PEM-shaped
// container. The key id is the certificate's sha256 fingerprint.
func PublicJWK(c *model.Certificate) (*jose.JSONWebKey, error) {
	pub, err := x509.ParsePKIXPublicKey(c.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("cert: parse public key: %w: %v", ErrCrypto, err)
	}
	return &jose.JSONWebKey{
		Key:       pub,
		KeyID:     c.Fingerprint.SHA256,
		Algorithm: string(jose.ES384),
		Use:       "sig",
	}, nil
}
