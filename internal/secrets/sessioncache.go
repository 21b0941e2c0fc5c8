package secrets

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chukul/oktactl/internal/okta"
)

// SessionCache persists authenticated Okta sessions between invocations
// so repeated runs within the session window skip the MFA dance. The
// file is AES-GCM encrypted with a key held in the OS keyring.
type SessionCache struct {
	path string
	key  string
}

// NewSessionCache builds a cache at path (typically
// ~/.oktactl/sessions.json) protected by key.
func NewSessionCache(path, key string) *SessionCache {
	return &SessionCache{path: path, key: key}
}

// DefaultSessionCachePath returns ~/.oktactl/sessions.json.
func DefaultSessionCachePath() (string, error) {
	if p := os.Getenv("OKTACTL_HOME"); p != "" {
		return filepath.Join(p, "sessions.json"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".oktactl", "sessions.json"), nil
}

// Get returns the cached session for an organization, or nil when there
// is none or it has expired.
func (c *SessionCache) Get(organization string) (*okta.Session, error) {
	sessions, err := c.load()
	if err != nil {
		return nil, err
	}

	session, ok := sessions[organization]
	if !ok {
		return nil, nil
	}
	if session.Expired(time.Now()) {
		return nil, nil
	}
	return session, nil
}

// Put stores a session for an organization.
func (c *SessionCache) Put(organization string, session *okta.Session) error {
	sessions, err := c.load()
	if err != nil {
		// A corrupt cache is not worth failing a login over.
		sessions = map[string]*okta.Session{}
	}
	sessions[organization] = session
	return c.save(sessions)
}

// Drop removes a cached session, e.g. after the server rejects it.
func (c *SessionCache) Drop(organization string) error {
	sessions, err := c.load()
	if err != nil {
		return err
	}
	delete(sessions, organization)
	return c.save(sessions)
}

func (c *SessionCache) load() (map[string]*okta.Session, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*okta.Session{}, nil
		}
		return nil, err
	}

	plain, err := Decrypt(c.key, string(data))
	if err != nil {
		return nil, fmt.Errorf("decrypting session cache: %w", err)
	}

	var sessions map[string]*okta.Session
	if err := json.Unmarshal([]byte(plain), &sessions); err != nil {
		return nil, fmt.Errorf("parsing session cache: %w", err)
	}
	return sessions, nil
}

func (c *SessionCache) save(sessions map[string]*okta.Session) error {
	plain, err := json.Marshal(sessions)
	if err != nil {
		return err
	}

	encrypted, err := Encrypt(c.key, string(plain))
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(c.path, []byte(encrypted), 0o600)
}
