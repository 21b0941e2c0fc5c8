// Package awsconfig owns the persisted configuration state: the AWS
// config document (~/.aws/config), the credentials file, and the oktactl
// organization files. The config document is the only mutable state
// shared across invocations, so every read-modify-write cycle runs under
// an exclusive file lock and commits through an atomic rename.
package awsconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"gopkg.in/ini.v1"
)

const (
	dirPerm  = 0o700
	filePerm = 0o600

	lockRetryDelay = 10 * time.Millisecond
	maxLockRetries = 100
)

// Profile section keys written by the reconciler.
const (
	keySSOSession  = "sso_session"
	keyAccountID   = "sso_account_id"
	keyRoleName    = "sso_role_name"
	keyStartURL    = "sso_start_url"
	keyRegion      = "sso_region"
	keyAutoRole    = "oktactl_auto_role"
	keyPendingRole = "oktactl_pending_role"
)

// DefaultPath returns ~/.aws/config unless AWS_CONFIG_FILE overrides it.
func DefaultPath() (string, error) {
	if p := os.Getenv("AWS_CONFIG_FILE"); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".aws", "config"), nil
}

// Document is an in-memory AWS config document. It is a plain value:
// load it, mutate it, and commit it once.
type Document struct {
	path string
	file *ini.File
}

// Load reads the document at path, or starts an empty one if the file
// does not exist yet.
func Load(path string) (*Document, error) {
	file, err := ini.Load(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
		file = ini.Empty()
	}
	return &Document{path: path, file: file}, nil
}

// WithLock runs fn while holding an exclusive lock on the document path.
// Two concurrent invocations cannot interleave their read-modify-write
// cycles.
func WithLock(path string, fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return err
	}

	lock := flock.New(path + ".lock")
	locked := false
	var err error
	for i := 0; i < maxLockRetries; i++ {
		locked, err = lock.TryLock()
		if err != nil {
			return fmt.Errorf("locking %s: %w", path, err)
		}
		if locked {
			break
		}
		time.Sleep(lockRetryDelay)
	}
	if !locked {
		return fmt.Errorf("config file %s is locked by another process", path)
	}
	defer lock.Unlock()

	return fn()
}

// Save commits the document atomically: staged write to a temp file in
// the same directory, then rename over the target. A failure partway
// never leaves a partially-written document.
func (d *Document) Save() error {
	if err := os.MkdirAll(filepath.Dir(d.path), dirPerm); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(d.path), ".oktactl-config-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := d.file.WriteTo(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("staging %s: %w", d.path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, filePerm); err != nil {
		return err
	}
	return os.Rename(tmpName, d.path)
}

// Bytes renders the document as it would be written. Used by tests to
// check idempotence byte for byte.
func (d *Document) Bytes() ([]byte, error) {
	var buf writerBuffer
	if _, err := d.file.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.data, nil
}

type writerBuffer struct{ data []byte }

func (w *writerBuffer) Write(p []byte) (int, error) {
	w.data = append(w.data, p...)
	return len(p), nil
}

func profileSection(name string) string {
	if name == "default" {
		return "default"
	}
	return "profile " + name
}

// IsSSOProfile reports whether name exists as an identity-center profile.
func (d *Document) IsSSOProfile(name string) bool {
	sec, err := d.file.GetSection(profileSection(name))
	if err != nil {
		return false
	}
	return sec.HasKey(keySSOSession) || sec.HasKey(keyStartURL)
}

// ProfileRole returns the explicit role recorded for a profile, if any.
func (d *Document) ProfileRole(name string) (string, bool) {
	sec, err := d.file.GetSection(profileSection(name))
	if err != nil {
		return "", false
	}
	if !sec.HasKey(keyRoleName) {
		return "", false
	}
	return sec.Key(keyRoleName).String(), true
}

// ProfileIsAuto reports whether the profile's role was auto-selected by a
// previous reconciliation (as opposed to an explicit user choice).
func (d *Document) ProfileIsAuto(name string) bool {
	sec, err := d.file.GetSection(profileSection(name))
	if err != nil {
		return false
	}
	return sec.Key(keyAutoRole).MustBool(false)
}

// SSOProfile is one identity-center profile entry in the document.
type SSOProfile struct {
	Name      string
	Session   string
	AccountID string
	Role      string
	Pending   bool
}

// SSOProfiles lists the identity-center profiles, sorted by name.
func (d *Document) SSOProfiles() []SSOProfile {
	var out []SSOProfile
	for _, sec := range d.file.Sections() {
		name := sec.Name()
		switch {
		case name == "default":
		case strings.HasPrefix(name, "profile "):
			name = strings.TrimPrefix(name, "profile ")
		default:
			continue
		}
		if !sec.HasKey(keySSOSession) {
			continue
		}
		out = append(out, SSOProfile{
			Name:      name,
			Session:   sec.Key(keySSOSession).String(),
			AccountID: sec.Key(keyAccountID).String(),
			Role:      sec.Key(keyRoleName).String(),
			Pending:   sec.Key(keyPendingRole).MustBool(false),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// UpsertSSOSession creates or updates an sso-session section.
func (d *Document) UpsertSSOSession(name, startURL, region string) {
	sec := d.file.Section("sso-session " + name)
	sec.Key(keyStartURL).SetValue(startURL)
	sec.Key(keyRegion).SetValue(region)
}

// MigrateSSOProfile moves a profile entry to a new name, dropping the old
// section. The move only happens when the source entry records the given
// session and account, so entries owned by other sessions or managed by
// hand stay put. Reports whether a migration took place.
func (d *Document) MigrateSSOProfile(from, to, session, accountID string) bool {
	if from == to {
		return false
	}
	src, err := d.file.GetSection(profileSection(from))
	if err != nil {
		return false
	}
	if src.Key(keySSOSession).String() != session || src.Key(keyAccountID).String() != accountID {
		return false
	}

	dst := d.file.Section(profileSection(to))
	dst.Key(keySSOSession).SetValue(session)
	dst.Key(keyAccountID).SetValue(accountID)
	for _, key := range []string{keyRoleName, keyAutoRole, keyPendingRole} {
		if src.HasKey(key) {
			dst.Key(key).SetValue(src.Key(key).String())
		}
	}
	d.file.DeleteSection(profileSection(from))
	return true
}

// UpsertSSOProfile creates or updates an identity-center profile entry.
// An empty role marks the profile as pending reselection instead.
func (d *Document) UpsertSSOProfile(name, session, accountID, role string, auto bool) {
	sec := d.file.Section(profileSection(name))
	sec.Key(keySSOSession).SetValue(session)
	sec.Key(keyAccountID).SetValue(accountID)

	if role == "" {
		sec.DeleteKey(keyRoleName)
		sec.DeleteKey(keyAutoRole)
		sec.Key(keyPendingRole).SetValue("true")
		return
	}

	sec.Key(keyRoleName).SetValue(role)
	sec.DeleteKey(keyPendingRole)
	if auto {
		sec.Key(keyAutoRole).SetValue("true")
	} else {
		sec.DeleteKey(keyAutoRole)
	}
}
