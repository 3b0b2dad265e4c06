package cert

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha512"
	"crypto/x509"
	"fmt"

	"github.com/imgtrust/imgtrust/internal/model"
)

// Signer is the asymmetric-crypto port consumed by certificate generation
// and the certification protocol. Key material crosses the boundary as DER
// bytes so callers never hold live key objects. Implementations must treat
// every failure as a crypto operation error.
type Signer interface {
	// Algorithm names the signing configuration, e.g. "ES384".
	Algorithm() string
	// GenerateKey returns a fresh keypair: EC private key DER and
	// PKIX/SPKI public key DER.
	GenerateKey() (privDER, pubDER []byte, err error)
	// Sign signs data (hashing internally) with the given private key.
	Sign(privDER, data []byte) ([]byte, error)
	// Verify reports whether sig is a valid signature over data by the
	// given public key. A malformed key is an error, a bad signature is not.
	Verify(pubDER, data, sig []byte) (bool, error)
}

// ES384 implements Signer with ECDSA over P-384 and SHA-384, the one
// supported signing configuration.
type ES384 struct{}

var _ Signer = ES384{}

func (ES384) Algorithm() string { return model.SignatureAlgorithmES384 }

func (ES384) GenerateKey() ([]byte, []byte, error) {
	key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("cert: generate P-384 key: %w: %v", ErrCrypto, err)
	}
	privDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, nil, fmt.Errorf("cert: encode private key: %w: %v", ErrCrypto, err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("cert: encode public key: %w: %v", ErrCrypto, err)
	}
	return privDER, pubDER, nil
}

func (ES384) Sign(privDER, data []byte) ([]byte, error) {
	key, err := x509.ParseECPrivateKey(privDER)
	if err != nil {
		return nil, fmt.Errorf("cert: parse signing key: %w: %v", ErrCrypto, err)
	}
	digest := sha512.Sum384(data)
	sig, err := ecdsa.SignASN1(rand.Reader, key, digest[:])
	if err != nil {
		return nil, fmt.Errorf("cert: sign: %w: %v", ErrCrypto, err)
	}
	return sig, nil
}

func (ES384) Verify(pubDER, data, sig []byte) (bool, error) {
	parsed, err := x509.ParsePKIXPublicKey(pubDER)
	if err != nil {
		return false, fmt.Errorf("cert: parse public key: %w: %v", ErrCrypto, err)
	}
	pub, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return false, fmt.Errorf("cert: public key is not ECDSA: %w", ErrCrypto)
	}
	digest := sha512.Sum384(data)
	return ecdsa.VerifyASN1(pub, digest[:], sig), nil
}
