package awsconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/ini.v1"

	"github.com/chukul/oktactl/internal/aws"
)

func TestUpsertCredentialWritesProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials")
	exp := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	err := UpsertCredential(path, "prod", &aws.Credential{
		AccessKeyID:     "ASIAEXAMPLE",
		SecretAccessKey: "secret",
		SessionToken:    "token",
		Expiration:      exp,
	})
	require.NoError(t, err)

	file, err := ini.Load(path)
	require.NoError(t, err)
	sec := file.Section("prod")
	assert.Equal(t, "ASIAEXAMPLE", sec.Key("aws_access_key_id").String())
	assert.Equal(t, "token", sec.Key("aws_session_token").String())
	assert.Equal(t, "2026-01-02T03:04:05Z", sec.Key("expiration").String())
}

func TestUpsertCredentialPreservesOtherProfiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials")
	require.NoError(t, os.WriteFile(path, []byte("[static]\naws_access_key_id = AKIAOLD\n"), 0o600))

	err := UpsertCredential(path, "prod", &aws.Credential{
		AccessKeyID:     "ASIANEW",
		SecretAccessKey: "secret",
	})
	require.NoError(t, err)

	file, err := ini.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "AKIAOLD", file.Section("static").Key("aws_access_key_id").String())
	assert.Equal(t, "ASIANEW", file.Section("prod").Key("aws_access_key_id").String())
	assert.False(t, file.Section("prod").HasKey("aws_session_token"), "empty session token stays absent")
}
