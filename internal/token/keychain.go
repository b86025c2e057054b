package token

import (
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

const keychainService = "swiftdrop-session"

// KeychainStore persists the token pair in the macOS keychain through the
// security(1) CLI. It shares the JSON record format with FileStore.
type KeychainStore struct {
	Service string
	Account string
}

// NewKeychainStore creates a keychain-backed secure store for the given
// account (typically the user or device identifier).
func NewKeychainStore(account string) *KeychainStore {
	return &KeychainStore{Service: keychainService, Account: account}
}

// Load reads the stored pair. An absent keychain item means no session.
func (k *KeychainStore) Load() (*Pair, error) {
	cmd := exec.Command("security", "find-generic-password",
		"-s", k.Service, "-a", k.Account, "-w")
	output, err := cmd.Output()
	if err != nil {
		if isItemNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read keychain item: %w", err)
	}
	return parseKeychainRecord(output)
}

// Save upserts the pair as a generic password item (-U updates in place).
func (k *KeychainStore) Save(pair *Pair) error {
	if pair == nil {
		return k.Clear()
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
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}
	cmd := exec.Command("security", "add-generic-password",
		"-U", "-s", k.Service, "-a", k.Account, "-w", string(data))
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to write keychain item: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Clear deletes the keychain item. A missing item is not an error.
func (k *KeychainStore) Clear() error {
	cmd := exec.Command("security", "delete-generic-password",
		"-s", k.Service, "-a", k.Account)
	if err := cmd.Run(); err != nil && !isItemNotFound(err) {
		return fmt.Errorf("failed to delete keychain item: %w", err)
	}
	return nil
}

func parseKeychainRecord(output []byte) (*Pair, error) {
	var rec fileRecord
	if err := json.Unmarshal(output, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse keychain credentials: %w", err)
	}
	if rec.AccessToken == "" || rec.RefreshToken == "" {
		return nil, fmt.Errorf("keychain credentials are missing token fields")
	}
	return recordToPair(rec), nil
}

// security(1) exits 44 (errSecItemNotFound) when the item does not exist.
func isItemNotFound(err error) bool {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode() == 44
	}
	return false
}
