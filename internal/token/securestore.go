package token

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// SecureStore is the durable backend for the token pair. Implementations
// must treat Load on a missing record as (nil, nil), not an error.
type SecureStore interface {
	Load() (*Pair, error)
	Save(pair *Pair) error
	Clear() error
}

// DefaultPath resolves the default credentials file location, preferring
// XDG_CONFIG_HOME and falling back to ~/.config.
func DefaultPath() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configHome = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configHome, "authlink", "session.json")
}

// FileStore persists the token pair as a JSON file with 0600 permissions.
type FileStore struct {
	Path string
}

// NewFileStore creates a file-backed secure store at the given path.
func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

type fileRecord struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
	IssuedAt     int64  `json:"issued_at"`
}

func recordToPair(rec fileRecord) *Pair {
	pair := &Pair{
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
	}
	if rec.ExpiresAt > 0 {
		pair.ExpiresAt = time.UnixMilli(rec.ExpiresAt)
	}
	if rec.IssuedAt > 0 {
		pair.IssuedAt = time.UnixMilli(rec.IssuedAt)
	}
	return pair
}

// Load reads the persisted pair. A missing file means no session.
func (f *FileStore) Load() (*Pair, error) {
	b, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}
	var rec fileRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}
	if rec.AccessToken == "" || rec.RefreshToken == "" {
		return nil, fmt.Errorf("credentials file is missing token fields")
	}
	return recordToPair(rec), nil
}

// Save writes the pair atomically by writing a temp file and renaming it.
func (f *FileStore) Save(pair *Pair) error {
	if pair == nil {
		return f.Clear()
	}
	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	rec := fileRecord{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	}
	if !pair.ExpiresAt.IsZero() {
		rec.ExpiresAt = pair.ExpiresAt.UnixMilli()
	}
	if !pair.IssuedAt.IsZero() {
		rec.IssuedAt = pair.IssuedAt.UnixMilli()
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}
	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write credentials file: %w", err)
	}
	if err := os.Rename(tmp, f.Path); err != nil {
		return fmt.Errorf("failed to replace credentials file: %w", err)
	}
	return nil
}

// Clear removes the persisted pair. Removing an absent file is not an error.
func (f *FileStore) Clear() error {
	err := os.Remove(f.Path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove credentials file: %w", err)
	}
	return nil
}

// EnvStore reads a bootstrap pair from environment variables. It is
// read-only: rotated tokens live in memory only, which is acceptable for
// CI probes and local development.
type EnvStore struct{}

// NewEnvStore creates an environment-based secure store.
func NewEnvStore() *EnvStore {
	return &EnvStore{}
}

// Load reads AUTHLINK_ACCESS_TOKEN and AUTHLINK_REFRESH_TOKEN.
func (e *EnvStore) Load() (*Pair, error) {
	access := os.Getenv("AUTHLINK_ACCESS_TOKEN")
	refresh := os.Getenv("AUTHLINK_REFRESH_TOKEN")
	if access == "" && refresh == "" {
		return nil, nil
	}
	return &Pair{AccessToken: access, RefreshToken: refresh}, nil
}

// Save is a no-op for environment credentials.
func (e *EnvStore) Save(pair *Pair) error { return nil }

// Clear is a no-op for environment credentials.
func (e *EnvStore) Clear() error { return nil }
