package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// localStore reads credentials from plain files named <name> inside a base
// directory, one value per file. Intended for development only, exactly as
// the teacher's LocalKeyStore documents for its own local backend.
type localStore struct {
	baseDir string
	log     *slog.Logger

	mu    sync.RWMutex
	cache map[string]string
}

func newLocalStore(baseDir string, log *slog.Logger) (*localStore, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".idsaggd", "secrets")
	}
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating secrets directory: %w", err)
	}
	return &localStore{
		baseDir: baseDir,
		log:     log.With("backend", "local-secrets"),
		cache:   make(map[string]string),
	}, nil
}

func (s *localStore) GetCredential(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	if v, ok := s.cache[name]; ok {
		s.mu.RUnlock()
		return v, nil
	}
	s.mu.RUnlock()

	data, err := os.ReadFile(filepath.Join(s.baseDir, name))
	if err != nil {
		return "", fmt.Errorf("reading local credential %q: %w", name, err)
	}
	value := strings.TrimSpace(string(data))

	s.mu.Lock()
	s.cache[name] = value
	s.mu.Unlock()

	return value, nil
}

func (s *localStore) Close() error {
	s.mu.Lock()
	s.cache = make(map[string]string)
	s.mu.Unlock()
	return nil
}
