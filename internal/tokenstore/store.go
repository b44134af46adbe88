package tokenstore

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

// Well-known keys. These mirror the browser localStorage keys the PulsePal
// frontend uses, so a token written by another tool on the same machine is
// picked up unchanged.
const (
	KeyAccessToken = "access_token"
	KeyMonitorURL  = "bp_monitor_url"
	KeyBackendURL  = "backend_url"
)

// Store is a small persistent key/value store, one file per key under a state
// directory. It is the process's only persistent state: the bearer token and
// the discovered monitor URL.
type Store struct {
	fs     afero.Fs
	dir    string
	mu     sync.RWMutex
	logger *slog.Logger
}

// New creates a Store rooted at dir on the given filesystem. Pass
// afero.NewMemMapFs() in tests to avoid disk I/O.
func New(fs afero.Fs, dir string) *Store {
	return &Store{
		fs:     fs,
		dir:    dir,
		logger: slog.Default().With("service", "tokenstore"),
	}
}

// Get returns the stored value for key, or "" if it has never been set.
func (s *Store) Get(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := afero.ReadFile(s.fs, s.path(key))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// Set persists a value for key, replacing any previous one.
func (s *Store) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fs.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	if err := afero.WriteFile(s.fs, s.path(key), []byte(value), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// Delete removes the value for key. Deleting an absent key is not an error.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if exists, _ := afero.Exists(s.fs, s.path(key)); !exists {
		return nil
	}
	return s.fs.Remove(s.path(key))
}

// AccessToken returns the current bearer token, or "" when logged out.
func (s *Store) AccessToken() string {
	return s.Get(KeyAccessToken)
}

// SetAccessToken persists the bearer token.
func (s *Store) SetAccessToken(token string) error {
	return s.Set(KeyAccessToken, token)
}

// MonitorURL returns the cached service-discovery result, if any.
func (s *Store) MonitorURL() string {
	return s.Get(KeyMonitorURL)
}

// SetMonitorURL caches a discovered monitor endpoint.
func (s *Store) SetMonitorURL(url string) error {
	return s.Set(KeyMonitorURL, url)
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key)
}
