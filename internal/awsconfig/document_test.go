package awsconfig

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileStartsEmpty(t *testing.T) {
	doc, err := Load(filepath.Join(t.TempDir(), "config"))
	require.NoError(t, err)
	assert.False(t, doc.IsSSOProfile("anything"))
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aws", "config")
	doc, err := Load(path)
	require.NoError(t, err)

	doc.UpsertSSOSession("corp", "https://corp.awsapps.com/start", "eu-west-1")
	doc.UpsertSSOProfile("dev", "corp", "111111111111", "ReadOnly", true)
	require.NoError(t, doc.Save())

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.True(t, reloaded.IsSSOProfile("dev"))
	role, ok := reloaded.ProfileRole("dev")
	require.True(t, ok)
	assert.Equal(t, "ReadOnly", role)
	assert.True(t, reloaded.ProfileIsAuto("dev"))
}

func TestSavePreservesForeignSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	require.NoError(t, os.WriteFile(path, []byte("[profile handmade]\nregion = ap-southeast-2\n"), 0o600))

	doc, err := Load(path)
	require.NoError(t, err)
	doc.UpsertSSOProfile("dev", "corp", "111111111111", "ReadOnly", true)
	require.NoError(t, doc.Save())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[profile handmade]")
	assert.Contains(t, string(data), "ap-southeast-2")
}

func TestUpsertSSOProfilePendingClearsRole(t *testing.T) {
	doc, err := Load(filepath.Join(t.TempDir(), "config"))
	require.NoError(t, err)

	doc.UpsertSSOProfile("dev", "corp", "111111111111", "ReadOnly", true)
	doc.UpsertSSOProfile("dev", "corp", "111111111111", "", false)

	_, ok := doc.ProfileRole("dev")
	assert.False(t, ok)
	assert.False(t, doc.ProfileIsAuto("dev"))
	sec, err := doc.file.GetSection("profile dev")
	require.NoError(t, err)
	assert.Equal(t, "true", sec.Key(keyPendingRole).String())
}

func TestSSOProfilesEnumeration(t *testing.T) {
	doc, err := Load(filepath.Join(t.TempDir(), "config"))
	require.NoError(t, err)

	doc.UpsertSSOSession("corp", "https://corp.awsapps.com/start", "us-east-1")
	doc.UpsertSSOProfile("staging", "corp", "222222222222", "PowerUser", true)
	doc.UpsertSSOProfile("dev", "corp", "111111111111", "", false)
	doc.file.Section("profile handmade").Key("region").SetValue("us-west-2")

	profiles := doc.SSOProfiles()
	require.Len(t, profiles, 2, "plain profiles and sso-session sections are excluded")

	assert.Equal(t, "dev", profiles[0].Name, "sorted by name")
	assert.True(t, profiles[0].Pending)
	assert.Empty(t, profiles[0].Role)

	assert.Equal(t, SSOProfile{
		Name:      "staging",
		Session:   "corp",
		AccountID: "222222222222",
		Role:      "PowerUser",
	}, profiles[1])
}

func TestWithLockSerializes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- WithLock(path, func() error {
			close(entered)
			<-release
			return nil
		})
	}()

	<-entered
	second := make(chan error, 1)
	go func() {
		second <- WithLock(path, func() error { return nil })
	}()

	select {
	case err := <-second:
		t.Fatalf("second lock acquired while first held: %v", err)
	default:
	}

	close(release)
	require.NoError(t, <-done)
	require.NoError(t, <-second)
}

func TestDefaultPathHonorsEnv(t *testing.T) {
	t.Setenv("AWS_CONFIG_FILE", "/tmp/elsewhere/config")
	p, err := DefaultPath()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/elsewhere/config", p)
}
