package main

import (
	"context"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/imgtrust/imgtrust/internal/cert"
	"github.com/imgtrust/imgtrust/internal/config"
	"github.com/imgtrust/imgtrust/internal/exif"
	"github.com/imgtrust/imgtrust/internal/protocol"
	"github.com/imgtrust/imgtrust/internal/server"
	"github.com/imgtrust/imgtrust/internal/storage"
)

var logger *zap.Logger

func init() {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	logger = l.With(zap.String("package", "main"))
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("ImgTrust starting...", zap.String("storage_type", cfg.StorageType), zap.String("data_dir", cfg.DataDir))

	// Make sure the data directory exists before storage opens files in it
	if _, err := os.Stat(cfg.DataDir); os.IsNotExist(err) {
		err = os.MkdirAll(cfg.DataDir, 0755)
		if err != nil {
			logger.Fatal("failed to create data directory", zap.Error(err), zap.String("data_dir", cfg.DataDir))
			os.Exit(1)
		}
		logger.Info("created data directory", zap.String("data_dir", cfg.DataDir))
	}

	// Initialize storage
	store, err := storage.NewStorage(
		cfg.StorageType,
		cfg.DataDir,
		cfg.DBHost,
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBName,
		cfg.DBPort,
		cfg.DBSSLMode,
	)
	if err != nil {
		logger.Fatal("failed to initialize storage", zap.Error(err), zap.String("storage_type", cfg.StorageType))
		os.Exit(1)
	}
	defer store.Close()
	logger.Info("storage initialized")

	// Seed bootstrap API keys
	seedCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for key, entry := range cfg.APIKeys {
		if existing, err := store.GetAPIKey(seedCtx, key); err == nil && existing == nil {
			if err := store.SaveAPIKey(seedCtx, key, entry.Roles); err != nil {
				logger.Fatal("failed to seed API key", zap.Error(err))
				os.Exit(1)
			}
		}
	}

	// Wire up the domain services
	signer := cert.ES384{}
	generator := cert.NewGenerator(signer)
	certifier := protocol.NewCertifier(store, signer, exif.NopReader{})
	verifier := protocol.NewVerifier(store, signer, time.Duration(cfg.VerdictCacheTTLSeconds)*time.Second)

	// Ensure HTTPS certificates
	certFile, keyFile, err := server.EnsureHTTPSCertificates(cfg)
	if err != nil {
		logger.Fatal("failed to ensure HTTPS certificates", zap.Error(err))
		os.Exit(1)
	}

	svc := server.Services{
		Store:     store,
		Config:    cfg,
		Generator: generator,
		Certifier: certifier,
		Verifier:  verifier,
	}

	e := echo.New()
	server.ApplyCommonMiddleware(e, svc, logger)
	server.SetupRouter(e, svc)

	address := cfg.HTTPSAddress
	logger.Info("listening on address", zap.String("address", address))
	err = e.StartTLS(address, certFile, keyFile)
	if err != nil {
		logger.Fatal("error starting HTTPS server", zap.Error(err), zap.String("address", address))
		os.Exit(1)
	}
}
