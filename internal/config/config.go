// Package config loads host-process configuration from the environment,
// with an optional .env overlay for development setups.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds everything the host process needs to start.
type Config struct {
	// DataDir is where the entitlement record, usage counters and document
	// registry live.
	DataDir string

	LogLevel  string
	LogFormat string

	// MetricsAddr is the listen address for the Prometheus endpoint.
	// Empty disables it.
	MetricsAddr string

	// LicensePublicKey optionally overrides the embedded Ed25519 public key
	// (base64 encoded).
	LicensePublicKey string

	// LicenseSharedSecret enables HS256 verification for development and
	// test tokens. Empty disables the symmetric path.
	LicenseSharedSecret string
}

// Load builds a Config from the environment. A .env file in the working
// directory is applied first, without overriding variables already set.
func Load() *Config {
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("Loaded environment overrides from .env")
	}

	cfg := &Config{
		DataDir:             strings.TrimSpace(os.Getenv("DOCSIFT_DATA_DIR")),
		LogLevel:            envOr("DOCSIFT_LOG_LEVEL", "info"),
		LogFormat:           envOr("DOCSIFT_LOG_FORMAT", "auto"),
		MetricsAddr:         os.Getenv("DOCSIFT_METRICS_ADDR"),
		LicensePublicKey:    os.Getenv("DOCSIFT_LICENSE_PUBLIC_KEY"),
		LicenseSharedSecret: os.Getenv("DOCSIFT_LICENSE_SHARED_SECRET"),
	}

	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir()
	}

	return cfg
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func defaultDataDir() string {
	if base, err := os.UserConfigDir(); err == nil {
		return filepath.Join(base, "docsift")
	}
	return "./data"
}
