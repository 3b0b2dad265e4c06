package server

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/imgtrust/imgtrust/internal/config"
)

// EnsureHTTPSCertificates makes sure a TLS keypair exists at the configured
// paths, generating a self-signed one on first start. This keypair only
// secures the HTTP listener; it has nothing to do with the certificates the
// service issues.
func EnsureHTTPSCertificates(cfg *config.Config) (certFile string, keyFile string, err error) {
	if _, err := os.Stat(cfg.HTTPSCertFile); os.IsNotExist(err) {
		if _, err := os.Stat(cfg.HTTPSKeyFile); os.IsNotExist(err) {
			err = generateSelfSignedCert(cfg.HTTPSCertFile, cfg.HTTPSKeyFile, cfg.Organization)
			if err != nil {
				return "", "", fmt.Errorf("server: failed to generate self-signed certificate: %w", err)
			}
			logger.Info("generated self-signed HTTPS certificate", zap.String("cert_file", cfg.HTTPSCertFile), zap.String("key_file", cfg.HTTPSKeyFile))
		} else {
			return "", "", fmt.Errorf("server: key file exists but cert file does not")
		}
	} else if _, err := os.Stat(cfg.HTTPSKeyFile); os.IsNotExist(err) {
		return "", "", fmt.Errorf("server: cert file exists but key file does not")
	} else {
		logger.Info("found existing HTTPS certificate and key", zap.String("cert_file", cfg.HTTPSCertFile), zap.String("key_file", cfg.HTTPSKeyFile))
	}

	return cfg.HTTPSCertFile, cfg.HTTPSKeyFile, nil
}

// generateSelfSignedCert generates a self-signed certificate for HTTPS.
func generateSelfSignedCert(certFile string, keyFile string, commonName string) error {
	priv, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		return fmt.Errorf("server: failed to generate private key: %w", err)
	}

	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serialNumber, err := rand.Int(rand.Reader, serialNumberLimit)
	if err != nil {
		return fmt.Errorf("server: failed to generate serial number: %w", err)
	}

	template := x509.Certificate{
		SerialNumber:          serialNumber,
		Subject:               pkix.Name{CommonName: commonName},
		Issuer:                pkix.Name{CommonName: commonName},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().AddDate(1, 0, 0), // 1 year validity
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  false,
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")}, // Add localhost as a valid IP
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return fmt.Errorf("server: failed to create self-signed certificate: %w", err)
	}

	certOut, err := os.Create(certFile)
	if err != nil {
		return fmt.Errorf("server: failed to create certificate file: %w", err)
	}
	defer certOut.Close()
	if err := pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: derBytes}); err != nil {
		return fmt.Errorf("server: failed to write certificate file: %w", err)
	}

	keyDER, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return fmt.Errorf("server: failed to marshal private key: %w", err)
	}
	keyOut, err := os.OpenFile(keyFile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("server: failed to create key file: %w", err)
	}
	defer keyOut.Close()
	if err := pem.Encode(keyOut, &pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}); err != nil {
		return fmt.Errorf("server: failed to write key file: %w", err)
	}

	return nil
}
