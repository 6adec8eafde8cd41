// Package secrets resolves credentials the enricher's threat-intel step
// needs (an API key), backed either by 1Password Connect or a local file
// store. Adapted from the teacher's SSH-keypair KeyStore to a generic
// named-credential store serving a single string value per name.
package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

// Store resolves named credentials. Implementations must be safe for
// concurrent use; the enricher's threat-intel step calls GetCredential once,
// when it is constructed.
type Store interface {
	// GetCredential returns the value for name, or an error if it does not
	// exist or the backend is unreachable.
	GetCredential(ctx context.Context, name string) (string, error)
	Close() error
}

// ThreatIntelAPIKeyName is the one credential this repository currently
// resolves through the secrets store.
const ThreatIntelAPIKeyName = "threat_intel_api_key"

// Config selects and configures a Store backend.
type Config struct {
	// Backend is "1password", "local", or "auto" (default; prefers
	// 1Password when configured, falls back to local).
	Backend string

	OnePasswordHost    string // OP_CONNECT_HOST
	OnePasswordToken   string // OP_CONNECT_TOKEN
	OnePasswordVaultID string // OP_VAULT_ID

	// LocalDir is where the local file backend reads credentials from.
	LocalDir string
}

// ConfigFromEnv mirrors the teacher's IDSAGG_SECRETS_BACKEND-style env
// loading convention.
func ConfigFromEnv() Config {
	return Config{
		Backend:            getEnv("IDSAGG_SECRETS_BACKEND", "auto"),
		OnePasswordHost:    os.Getenv("OP_CONNECT_HOST"),
		OnePasswordToken:   os.Getenv("OP_CONNECT_TOKEN"),
		OnePasswordVaultID: os.Getenv("OP_VAULT_ID"),
		LocalDir:           getEnv("IDSAGG_SECRETS_DIR", ""),
	}
}

// New constructs a Store per cfg.Backend.
func New(cfg Config, log *slog.Logger) (Store, error) {
	backend := cfg.Backend
	if backend == "" {
		backend = "auto"
	}

	switch backend {
	case "1password":
		return newOnePasswordStore(cfg, log)

	case "local":
		return newLocalStore(cfg.LocalDir, log)

	case "auto":
		if cfg.OnePasswordHost != "" && cfg.OnePasswordToken != "" && cfg.OnePasswordVaultID != "" {
			st, err := newOnePasswordStore(cfg, log)
			if err != nil {
				log.Warn("failed to initialize 1Password secrets backend, falling back to local", "error", err)
				return newLocalStore(cfg.LocalDir, log)
			}
			return st, nil
		}
		log.Info("1Password Connect not configured, using local secrets store")
		return newLocalStore(cfg.LocalDir, log)

	default:
		return nil, fmt.Errorf("unknown secrets backend: %s", backend)
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
