package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/imgtrust/imgtrust/internal/model"
)

var logger *zap.Logger

// init initializes the package logger.
func init() {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		panic(fmt.Sprintf("failed to initialize zap logger: %v", err))
	}
	logger = l.With(zap.String("package", "storage"))
}

// Storage is the persistence contract the certificate and verification
// components consult. Lookups for absent entries return (nil, nil); an
// error always means the store itself failed.
type Storage interface {
	// Certificate methods (keyed by certificate id; private key included).
	SaveCertificate(ctx context.Context, c *model.Certificate) error
	GetCertificate(ctx context.Context, id string) (*model.Certificate, error)
	ListCertificates(ctx context.Context) ([]*model.Certificate, error)
	DeleteCertificate(ctx context.Context, id string) error

	// Trusted namespace (keyed by sha256 fingerprint; no private keys).
	SaveTrustedCertificate(ctx context.Context, tc *model.TrustedCertificate) error
	GetTrustedCertificate(ctx context.Context, fingerprint string) (*model.TrustedCertificate, error)
	ListTrustedCertificates(ctx context.Context) ([]*model.TrustedCertificate, error)
	DeleteTrustedCertificate(ctx context.Context, fingerprint string) error
	IsTrusted(ctx context.Context, c *model.Certificate) (bool, error)

	// API key methods.
	SaveAPIKey(ctx context.Context, apiKey string, roles []string) error
	GetAPIKey(ctx context.Context, apiKey string) ([]string, error)

	Close() error
}

// boltFileName is the embedded database file created under the data dir.
const boltFileName = "imgtrust.db"

// NewStorage is the factory function.
func NewStorage(storageType string, dataDir string, dbHost string, dbUser string, dbPassword string, dbName string, dbPort int, dbSSLMode string) (Storage, error) {
	switch strings.ToLower(storageType) {
	case "bolt":
		return NewBoltStorage(filepath.Join(dataDir, boltFileName))
	case "postgres":
		return NewPostgreSQLStorage(dbHost, dbUser, dbPassword, dbName, dbPort, dbSSLMode)
	case "memory":
		return NewMemoryStorage(), nil
	default:
		logger.Error("Invalid storage type specified", zap.String("storage_type", storageType))
		return nil, fmt.Errorf("storage: invalid storage type: %s", storageType)
	}
}

// storedCertificate is the serialization wrapper the persistent backends
// use. The model hides the private key from JSON; local stores still need
// to keep it.
type storedCertificate struct {
	model.Certificate
	PrivateKeyDER []byte `json:"privateKeyDer,omitempty"`
}

func toStored(c *model.Certificate) storedCertificate {
	return storedCertificate{Certificate: *c, PrivateKeyDER: c.PrivateKey}
}

func fromStored(sc *storedCertificate) *model.Certificate {
	c := sc.Certificate
	c.PrivateKey = sc.PrivateKeyDER
	return &c
}
