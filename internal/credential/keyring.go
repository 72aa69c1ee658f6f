// Package credential stores secrets (mailbox passwords, API keys) in the
// system keyring so they can be left out of the config file.
package credential

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

const serviceName = "tldr"

// Keys looked up by the config loader.
const (
	KeyIMAPPassword = "imap.password"
	KeySMTPPassword = "smtp.password"
	KeyLLMAPIKey    = "llm.api_key"
)

// ErrNotFound is returned when a key has no stored value.
var ErrNotFound = errors.New("credential not found")

// Store reads and writes secrets in a keyring.
type Store struct {
	ring keyring.Keyring
}

// Open opens the system keyring, falling back to an encrypted file under
// ~/.tldr/credentials where no OS keyring is available.
func Open() (*Store, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.tldr/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("tldr-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return &Store{ring: ring}, nil
}

// NewStore wraps an already opened keyring.
func NewStore(ring keyring.Keyring) *Store {
	return &Store{ring: ring}
}

// Get retrieves a secret by key. Missing keys return ErrNotFound.
func (s *Store) Get(key string) (string, error) {
	item, err := s.ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}
	return string(item.Data), nil
}

// Set stores a secret.
func (s *Store) Set(key, value string) error {
	err := s.ring.Set(keyring.Item{
		Key:   key,
		Data:  []byte(value),
		Label: "tldr " + key,
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}

// Delete removes a secret.
func (s *Store) Delete(key string) error {
	if err := s.ring.Remove(key); err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}
	return nil
}

// ValidKey reports whether key is one of the secrets the config loader reads.
func ValidKey(key string) bool {
	switch key {
	case KeyIMAPPassword, KeySMTPPassword, KeyLLMAPIKey:
		return true
	}
	return false
}
