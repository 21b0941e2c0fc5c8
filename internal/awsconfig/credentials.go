package awsconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/ini.v1"

	"github.com/chukul/oktactl/internal/aws"
)

// CredentialsPath returns ~/.aws/credentials unless
// AWS_SHARED_CREDENTIALS_FILE overrides it.
func CredentialsPath() (string, error) {
	if p := os.Getenv("AWS_SHARED_CREDENTIALS_FILE"); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".aws", "credentials"), nil
}

// UpsertCredential writes one profile's short-lived keys into the shared
// credentials file, preserving unrelated profiles.
func UpsertCredential(path, profile string, cred *aws.Credential) error {
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return err
	}

	file, err := ini.Load(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("loading %s: %w", path, err)
		}
		file = ini.Empty()
	}

	sec := file.Section(profile)
	sec.Key("aws_access_key_id").SetValue(cred.AccessKeyID)
	sec.Key("aws_secret_access_key").SetValue(cred.SecretAccessKey)
	if cred.SessionToken != "" {
		sec.Key("aws_session_token").SetValue(cred.SessionToken)
	} else {
		sec.DeleteKey("aws_session_token")
	}
	if !cred.Expiration.IsZero() {
		sec.Key("expiration").SetValue(cred.Expiration.UTC().Format(time.RFC3339))
	}

	if err := file.SaveTo(path); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return os.Chmod(path, filePerm)
}
