package credential

import (
	"errors"
	"fmt"

	"github.com/99designs/keyring"
)

const serviceName = "mailsync"

// ErrNotFound is returned when no API key is stored for a profile.
var ErrNotFound = errors.New("credential not found")

// Store keeps API keys in a keyring, one item per profile.
type Store struct {
	ring keyring.Keyring
}

// NewStore wraps an already opened keyring.
func NewStore(ring keyring.Keyring) *Store {
	return &Store{ring: ring}
}

// Open opens the OS keyring. fileDir is used by the encrypted file backend
// when no native backend is available.
func Open(fileDir string) (*Store, error) {
	if fileDir == "" {
		fileDir = "~/.config/mailsync/credentials"
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  fileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt("mailsync-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return &Store{ring: ring}, nil
}

// Get retrieves the API key of profile.
func (s *Store) Get(profile string) (string, error) {
	item, err := s.ring.Get(profile)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", fmt.Errorf("getting credential %q: %w", profile, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", profile, err)
	}

	return string(item.Data), nil
}

// Set stores the API key of profile, replacing any previous one.
func (s *Store) Set(profile, apiKey string) error {
	if apiKey == "" {
		return fmt.Errorf("setting credential %q: empty API key", profile)
	}

	err := s.ring.Set(keyring.Item{
		Key:         profile,
		Data:        []byte(apiKey),
		Label:       "mailsync API key (" + profile + ")",
		Description: "API key used by mailsync push and diff",
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", profile, err)
	}

	return nil
}

// Delete removes the API key of profile.
func (s *Store) Delete(profile string) error {
	err := s.ring.Remove(profile)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting credential %q: %w", profile, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("deleting credential %q: %w", profile, err)
	}

	return nil
}
