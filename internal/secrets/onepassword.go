package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/1Password/connect-sdk-go/connect"
)

// onePasswordStore resolves named credentials as fields on a 1Password
// item of the same title, via the Connect API. Adapted from the teacher's
// OnePasswordKeyStore (SSH keypairs) to single string-valued fields.
type onePasswordStore struct {
	client  connect.Client
	vaultID string
	log     *slog.Logger

	mu    sync.RWMutex
	cache map[string]string
}

func newOnePasswordStore(cfg Config, log *slog.Logger) (*onePasswordStore, error) {
	if cfg.OnePasswordHost == "" || cfg.OnePasswordToken == "" || cfg.OnePasswordVaultID == "" {
		return nil, fmt.Errorf("1Password configuration incomplete: host, token, and vault_id are required")
	}
	client := connect.NewClientWithUserAgent(cfg.OnePasswordHost, cfg.OnePasswordToken, "idsaggd")
	return &onePasswordStore{
		client:  client,
		vaultID: cfg.OnePasswordVaultID,
		log:     log.With("backend", "1password-secrets"),
		cache:   make(map[string]string),
	}, nil
}

func (s *onePasswordStore) GetCredential(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	if v, ok := s.cache[name]; ok {
		s.mu.RUnlock()
		return v, nil
	}
	s.mu.RUnlock()

	items, err := s.client.GetItemsByTitle(name, s.vaultID)
	if err != nil {
		return "", fmt.Errorf("listing 1password items for %q: %w", name, err)
	}
	if len(items) == 0 {
		return "", fmt.Errorf("credential %q not found in vault", name)
	}

	item, err := s.client.GetItem(items[0].ID, s.vaultID)
	if err != nil {
		return "", fmt.Errorf("fetching 1password item %q: %w", name, err)
	}

	var value string
	for _, f := range item.Fields {
		if f.Label == "value" || f.ID == "credential" {
			value = f.Value
			break
		}
	}
	if value == "" {
		return "", fmt.Errorf("credential %q has no value field", name)
	}

	s.mu.Lock()
	s.cache[name] = value
	s.mu.Unlock()

	return value, nil
}

func (s *onePasswordStore) Close() error {
	s.mu.Lock()
	s.cache = make(map[string]string)
	s.mu.Unlock()
	return nil
}
