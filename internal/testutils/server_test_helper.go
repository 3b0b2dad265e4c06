package testutils

import (
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap/zaptest" // Use zaptest for testing logger

	"github.com/imgtrust/imgtrust/internal/cert"
	"github.com/imgtrust/imgtrust/internal/config"
	"github.com/imgtrust/imgtrust/internal/exif"
	"github.com/imgtrust/imgtrust/internal/protocol"
	"github.com/imgtrust/imgtrust/internal/server"
	"github.com/imgtrust/imgtrust/internal/storage"
)

// SetupTestServer initializes all components needed to run the Echo app for
// testing, backed by in-memory storage. Returns the configured Echo instance
// and the Storage instance so tests can seed certificates and API keys.
func SetupTestServer(t *testing.T) (*echo.Echo, storage.Storage) {
	t.Helper()

	// Use zaptest logger which integrates with go test logging
	testLogger := zaptest.NewLogger(t)

	cfg, err := config.LoadConfig()
	if err != nil {
		t.Fatalf("Failed to load base config for test: %v", err)
	}
	cfg.StorageType = "memory"

	store := storage.NewMemoryStorage()
	t.Cleanup(func() { store.Close() })

	signer := cert.ES384{}
	svc := server.Services{
		Store:     store,
		Config:    cfg,
		Generator: cert.NewGenerator(signer),
		Certifier: protocol.NewCertifier(store, signer, exif.NopReader{}),
		Verifier:  protocol.NewVerifier(store, signer, time.Minute),
	}

	e := echo.New()
	server.ApplyCommonMiddleware(e, svc, testLogger)
	server.SetupRouter(e, svc)

	return e, store
}
