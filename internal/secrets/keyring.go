// Package secrets stores the Okta password in the OS keyring and caches
// authenticated Okta sessions in an encrypted file. Failures here are
// reported but never fatal: the caller can always fall back to prompting.
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/99designs/keyring"
	"github.com/charmbracelet/log"
)

const serviceName = "oktactl"

// Store wraps the OS keyring.
type Store struct {
	ring keyring.Keyring
}

// Open connects to the platform keyring (Keychain on macOS, Secret
// Service on Linux, wincred on Windows, encrypted file as last resort).
func Open() (*Store, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName:              serviceName,
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return &Store{ring: ring}, nil
}

func passwordKey(organization, username string) string {
	return fmt.Sprintf("password:%s:%s", organization, username)
}

// Password returns the stored IdP password for an organization user, or
// "" when none is stored.
func (s *Store) Password(organization, username string) string {
	item, err := s.ring.Get(passwordKey(organization, username))
	if err != nil {
		return ""
	}
	return string(item.Data)
}

// SetPassword stores the IdP password. Errors are logged, not returned:
// a keyring problem must never block a login that already succeeded.
func (s *Store) SetPassword(organization, username, password string) {
	err := s.ring.Set(keyring.Item{
		Key:   passwordKey(organization, username),
		Label: fmt.Sprintf("oktactl password for %s@%s", username, organization),
		Data:  []byte(password),
	})
	if err != nil {
		log.Warn("could not store password in keyring", "error", err)
	}
}

// DeletePassword drops the stored password, e.g. after a rejected login.
func (s *Store) DeletePassword(organization, username string) {
	if err := s.ring.Remove(passwordKey(organization, username)); err != nil {
		log.Debug("could not remove password from keyring", "error", err)
	}
}

const cacheKeyName = "session-cache-key"

// CacheKey returns the 32-byte key protecting the session cache file,
// minting and storing one on first use.
func (s *Store) CacheKey() (string, error) {
	item, err := s.ring.Get(cacheKeyName)
	if err == nil && len(item.Data) >= 32 {
		return string(item.Data), nil
	}

	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	key := base64.StdEncoding.EncodeToString(raw) // 32 chars

	err = s.ring.Set(keyring.Item{
		Key:   cacheKeyName,
		Label: "oktactl session cache key",
		Data:  []byte(key),
	})
	if err != nil {
		return "", fmt.Errorf("storing session cache key: %w", err)
	}
	return key, nil
}
