// Package credential persists the server credential between runs so a
// restart can re-authenticate without prompting. The credential is a
// bearer secret; the store keeps it in a user-private file.
package credential

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"
)

// ErrNotFound indicates no credential has been saved yet.
var ErrNotFound = errors.New("no stored credential")

type record struct {
	Credential string `json:"credential"`
}

// Store reads and writes the credential file.
type Store struct {
	path string
}

// DefaultPath places the credential under the user config directory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}
	return filepath.Join(dir, "shellmux", "credential.json"), nil
}

// NewStore creates a store backed by the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load returns the stored credential, or ErrNotFound when the file does
// not exist or holds an empty value.
func (s *Store) Load() (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("read credential file: %w", err)
	}

	var rec record
	if err := sonic.Unmarshal(data, &rec); err != nil {
		return "", fmt.Errorf("parse credential file: %w", err)
	}
	if rec.Credential == "" {
		return "", ErrNotFound
	}
	return rec.Credential, nil
}

// Save writes the credential with user-only permissions.
func (s *Store) Save(cred string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create credential dir: %w", err)
	}

	data, err := sonic.Marshal(record{Credential: cred})
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write credential file: %w", err)
	}
	return nil
}

// Clear removes the stored credential. Clearing an absent file is not
// an error.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove credential file: %w", err)
	}
	return nil
}
