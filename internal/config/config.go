package config

import (
	"log"
	"os"
	"strconv"
)

type Config struct {
	DataDir                 string            // Directory for the embedded database and HTTPS material
	Organization            string            // Default organization for issued certificates
	Country                 string            // Default country code for issued certificates
	Province                string            // Default state/province for issued certificates
	Locality                string            // Default locality for issued certificates
	DefaultCertValidityDays int               // Default validity period for issued certificates in days
	VerdictCacheTTLSeconds  int               // Verification verdict cache TTL; 0 disables the cache
	StorageType             string            // Storage type: "bolt", "postgres" or "memory"
	DBHost                  string            // PostgreSQL host
	DBUser                  string            // PostgreSQL user
	DBPassword              string            // PostgreSQL password
	DBName                  string            // PostgreSQL database name
	DBPort                  int               // PostgreSQL port
	DBSSLMode               string            // PostgreSQL SSL mode
	APIKeys                 map[string]APIKey // Bootstrap API keys and their roles
	HTTPSCertFile           string            // Path to the HTTPS certificate file
	HTTPSKeyFile            string            // Path to the HTTPS private key file
	HTTPSAddress            string            // The address to listen on for HTTPS
}

// APIKey defines an API key and its associated roles.
type APIKey struct {
	Roles []string
}

const (
	defaultDataDir          = "./data"
	defaultOrganization     = "ImgTrust"
	defaultCountry          = "US"
	defaultProvince         = "NC"
	defaultLocality         = "Raleigh"
	defaultCertValidityDays = 365
	defaultVerdictCacheTTL  = 300
	defaultStorageType      = "bolt"
	defaultDBHost           = "localhost"
	defaultDBUser           = "imgtrust"
	defaultDBPassword       = "password"
	defaultDBName           = "imgtrust"
	defaultDBPort           = 5432
	defaultDBSSLMode        = "disable" // Default to disable SSL
	defaultHTTPSCertFile    = "./data/https.crt"
	defaultHTTPSKeyFile     = "./data/https.key"
	defaultHTTPSAddress     = ":8443"
)

var defaultAPIKeys = map[string]APIKey{
	"certifier-api-key": {Roles: []string{"certifier"}},
	"admin-api-key":     {Roles: []string{"admin"}},
}

// LoadConfig loads the service configuration from environment variables or defaults.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		DataDir:                 getEnv("IMGTRUST_DATA_DIR", defaultDataDir),
		Organization:            getEnv("IMGTRUST_ORGANIZATION", defaultOrganization),
		Country:                 getEnv("IMGTRUST_COUNTRY", defaultCountry),
		Province:                getEnv("IMGTRUST_PROVINCE", defaultProvince),
		Locality:                getEnv("IMGTRUST_LOCALITY", defaultLocality),
		DefaultCertValidityDays: getEnvAsInt("IMGTRUST_DEFAULT_CERT_VALIDITY_DAYS", defaultCertValidityDays),
		VerdictCacheTTLSeconds:  getEnvAsInt("IMGTRUST_VERDICT_CACHE_TTL_SECONDS", defaultVerdictCacheTTL),
		StorageType:             getEnv("IMGTRUST_STORAGE_TYPE", defaultStorageType),
		DBHost:                  getEnv("IMGTRUST_DB_HOST", defaultDBHost),
		DBUser:                  getEnv("IMGTRUST_DB_USER", defaultDBUser),
		DBPassword:              getEnv("IMGTRUST_DB_PASSWORD", defaultDBPassword),
		DBName:                  getEnv("IMGTRUST_DB_NAME", defaultDBName),
		DBPort:                  getEnvAsInt("IMGTRUST_DB_PORT", defaultDBPort),
		DBSSLMode:               getEnv("IMGTRUST_DB_SSLMODE", defaultDBSSLMode),
		APIKeys:                 defaultAPIKeys,
		HTTPSCertFile:           getEnv("IMGTRUST_HTTPS_CERT_FILE", defaultHTTPSCertFile),
		HTTPSKeyFile:            getEnv("IMGTRUST_HTTPS_KEY_FILE", defaultHTTPSKeyFile),
		HTTPSAddress:            getEnv("IMGTRUST_HTTPS_ADDRESS", defaultHTTPSAddress),
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Warning: Invalid integer value for %s (%s), using default: %d", key, valueStr, defaultValue)
		return defaultValue
	}
	return value
}
