package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq" // PostgreSQL driver AND helpers like pq.Array
	"go.uber.org/zap"

	"github.com/imgtrust/imgtrust/internal/model"
)

// PostgreSQLStorage holds the connection pool.
type PostgreSQLStorage struct {
	db *sql.DB
}

// Ensure PostgreSQLStorage implements Storage (compile-time check).
var _ Storage = (*PostgreSQLStorage)(nil)

// NewPostgreSQLStorage creates a new PostgreSQLStorage instance and ensures schema exists.
func NewPostgreSQLStorage(dbHost string, dbUser string, dbPassword string, dbName string, dbPort int, dbSSLMode string) (*PostgreSQLStorage, error) {
	connStr := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
		dbHost, dbUser, dbPassword, dbName, dbPort, dbSSLMode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		logger.Error("Failed to open PostgreSQL connection", zap.Error(err))
		return nil, fmt.Errorf("storage: failed to open PostgreSQL database: %w", err)
	}

	// Configure connection pool (tune as needed)
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Ping database to verify connection
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		logger.Error("Failed to ping PostgreSQL database", zap.Error(err), zap.String("host", dbHost), zap.Int("port", dbPort), zap.String("dbname", dbName))
		return nil, fmt.Errorf("storage: failed to connect to PostgreSQL database: %w", err)
	}
	logger.Info("Successfully connected to PostgreSQL database", zap.String("host", dbHost), zap.Int("port", dbPort), zap.String("dbname", dbName))

	schemaCtx, schemaCancel := context.WithTimeout(context.Background(), 30*time.Second) // Longer timeout for DDL
	defer schemaCancel()
	if err := ensureSchema(schemaCtx, db); err != nil {
		db.Close()
		return nil, err // Error already logged in ensureSchema
	}

	s := &PostgreSQLStorage{db: db}
	logger.Info("PostgreSQLStorage initialized")
	return s, nil
}

// ensureSchema creates tables and indexes if they don't exist.
func ensureSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS certificates ( id TEXT PRIMARY KEY, serial_number TEXT NOT NULL, fingerprint_sha256 TEXT NOT NULL, certificate_json JSONB NOT NULL, created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW() );`,
		`CREATE INDEX IF NOT EXISTS idx_certificates_fingerprint ON certificates (fingerprint_sha256);`,
		`CREATE TABLE IF NOT EXISTS trusted_certificates ( fingerprint_sha256 TEXT PRIMARY KEY, certificate_json JSONB NOT NULL, imported_at TIMESTAMP WITH TIME ZONE NOT NULL, trust_level TEXT NOT NULL );`,
		`CREATE TABLE IF NOT EXISTS api_keys ( api_key TEXT PRIMARY KEY, roles TEXT[] NOT NULL );`,
	}

	logger.Info("Executing CREATE TABLE IF NOT EXISTS and CREATE INDEX IF NOT EXISTS statements...")
	for i, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			logger.Error("Failed to execute schema statement", zap.Error(err), zap.Int("statement_index", i), zap.String("statement", stmt))
			return fmt.Errorf("storage: failed to initialize database schema: %w", err)
		}
	}
	logger.Info("Database schema initialization check complete.")
	return nil
}

// Close shuts down the database connection pool.
func (s *PostgreSQLStorage) Close() error {
	logger.Info("Closing database connection pool")
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *PostgreSQLStorage) SaveCertificate(ctx context.Context, c *model.Certificate) error {
	raw, err := json.Marshal(toStored(c))
	if err != nil {
		return fmt.Errorf("storage: failed to encode certificate '%s': %w", c.ID, err)
	}
	query := `INSERT INTO certificates (id, serial_number, fingerprint_sha256, certificate_json)
              VALUES ($1, $2, $3, $4)
              ON CONFLICT (id) DO UPDATE SET serial_number = EXCLUDED.serial_number, fingerprint_sha256 = EXCLUDED.fingerprint_sha256, certificate_json = EXCLUDED.certificate_json`
	if _, err := s.db.ExecContext(ctx, query, c.ID, c.SerialNumber, c.Fingerprint.SHA256, raw); err != nil {
		return fmt.Errorf("storage: failed to save certificate '%s': %w", c.ID, err)
	}
	logger.Debug("Certificate saved", zap.String("id", c.ID))
	return nil
}

func (s *PostgreSQLStorage) GetCertificate(ctx context.Context, id string) (*model.Certificate, error) {
	query := `SELECT certificate_json FROM certificates WHERE id = $1`
	var raw []byte
	err := s.db.QueryRowContext(ctx, query, id).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: failed to get certificate '%s': %w", id, err)
	}
	var sc storedCertificate
	if err := json.Unmarshal(raw, &sc); err != nil {
		return nil, fmt.Errorf("storage: failed to decode certificate '%s': %w", id, err)
	}
	return fromStored(&sc), nil
}

func (s *PostgreSQLStorage) ListCertificates(ctx context.Context) ([]*model.Certificate, error) {
	query := `SELECT certificate_json FROM certificates ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to list certificates: %w", err)
	}
	defer rows.Close()

	var out []*model.Certificate
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("storage: failed to scan certificate row: %w", err)
		}
		var sc storedCertificate
		if err := json.Unmarshal(raw, &sc); err != nil {
			return nil, fmt.Errorf("storage: failed to decode certificate row: %w", err)
		}
		out = append(out, fromStored(&sc))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: error iterating certificate rows: %w", err)
	}
	return out, nil
}

func (s *PostgreSQLStorage) DeleteCertificate(ctx context.Context, id string) error {
	query := `DELETE FROM certificates WHERE id = $1`
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("storage: failed to delete certificate '%s': %w", id, err)
	}
	return nil
}

func (s *PostgreSQLStorage) SaveTrustedCertificate(ctx context.Context, tc *model.TrustedCertificate) error {
	clone := *tc
	clone.PrivateKey = nil // trusted copies never carry key material
	raw, err := json.Marshal(&clone)
	if err != nil {
		return fmt.Errorf("storage: failed to encode trusted certificate '%s': %w", tc.Fingerprint.SHA256, err)
	}
	query := `INSERT INTO trusted_certificates (fingerprint_sha256, certificate_json, imported_at, trust_level)
              VALUES ($1, $2, $3, $4)
              ON CONFLICT (fingerprint_sha256) DO UPDATE SET certificate_json = EXCLUDED.certificate_json, imported_at = EXCLUDED.imported_at, trust_level = EXCLUDED.trust_level`
	if _, err := s.db.ExecContext(ctx, query, tc.Fingerprint.SHA256, raw, tc.ImportedAt, tc.TrustLevel); err != nil {
		return fmt.Errorf("storage: failed to save trusted certificate '%s': %w", tc.Fingerprint.SHA256, err)
	}
	logger.Debug("Trusted certificate saved", zap.String("fingerprint", tc.Fingerprint.SHA256))
	return nil
}

func (s *PostgreSQLStorage) GetTrustedCertificate(ctx context.Context, fingerprint string) (*model.TrustedCertificate, error) {
	query := `SELECT certificate_json FROM trusted_certificates WHERE fingerprint_sha256 = $1`
	var raw []byte
	err := s.db.QueryRowContext(ctx, query, fingerprint).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: failed to get trusted certificate '%s': %w", fingerprint, err)
	}
	var tc model.TrustedCertificate
	if err := json.Unmarshal(raw, &tc); err != nil {
		return nil, fmt.Errorf("storage: failed to decode trusted certificate '%s': %w", fingerprint, err)
	}
	return &tc, nil
}

func (s *PostgreSQLStorage) ListTrustedCertificates(ctx context.Context) ([]*model.TrustedCertificate, error) {
	query := `SELECT certificate_json FROM trusted_certificates ORDER BY fingerprint_sha256`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("storage: failed to list trusted certificates: %w", err)
	}
	defer rows.Close()

	var out []*model.TrustedCertificate
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("storage: failed to scan trusted certificate row: %w", err)
		}
		var tc model.TrustedCertificate
		if err := json.Unmarshal(raw, &tc); err != nil {
			return nil, fmt.Errorf("storage: failed to decode trusted certificate row: %w", err)
		}
		out = append(out, &tc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: error iterating trusted certificate rows: %w", err)
	}
	return out, nil
}

func (s *PostgreSQLStorage) DeleteTrustedCertificate(ctx context.Context, fingerprint string) error {
	query := `DELETE FROM trusted_certificates WHERE fingerprint_sha256 = $1`
	if _, err := s.db.ExecContext(ctx, query, fingerprint); err != nil {
		return fmt.Errorf("storage: failed to delete trusted certificate '%s': %w", fingerprint, err)
	}
	return nil
}

func (s *PostgreSQLStorage) IsTrusted(ctx context.Context, c *model.Certificate) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM trusted_certificates WHERE fingerprint_sha256 = $1)`
	var trusted bool
	if err := s.db.QueryRowContext(ctx, query, c.Fingerprint.SHA256).Scan(&trusted); err != nil {
		return false, fmt.Errorf("storage: failed to check trust for '%s': %w", c.Fingerprint.SHA256, err)
	}
	return trusted, nil
}

func (s *PostgreSQLStorage) SaveAPIKey(ctx context.Context, apiKey string, roles []string) error {
	query := `INSERT INTO api_keys (api_key, roles) VALUES ($1, $2) ON CONFLICT (api_key) DO UPDATE SET roles = EXCLUDED.roles`
	if _, err := s.db.ExecContext(ctx, query, apiKey, pq.Array(roles)); err != nil {
		apiKeyPrefix := apiKey[:min(8, len(apiKey))] + "..."
		return fmt.Errorf("storage: failed to save API key '%s': %w", apiKeyPrefix, err)
	}
	logger.Debug("API key saved/updated")
	return nil
}

func (s *PostgreSQLStorage) GetAPIKey(ctx context.Context, apiKey string) ([]string, error) {
	query := `SELECT roles FROM api_keys WHERE api_key = $1`
	var roles pq.StringArray
	err := s.db.QueryRowContext(ctx, query, apiKey).Scan(&roles)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		apiKeyPrefix := apiKey[:min(8, len(apiKey))] + "..."
		return nil, fmt.Errorf("storage: failed to get API key '%s': %w", apiKeyPrefix, err)
	}
	return []string(roles), nil
}
