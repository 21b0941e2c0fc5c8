package aws

import (
	"context"
	"errors"
	"fmt"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/charmbracelet/log"

	"github.com/chukul/oktactl/internal/retry"
)

// Credential is a set of short-lived keys. It is handed to the local
// stores and never persisted by the exchange itself.
type Credential struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Expiration      time.Time
}

// Expired reports whether the credential is past its provider-set expiry.
func (c Credential) Expired(now time.Time) bool {
	return !now.Before(c.Expiration)
}

// ErrRoleNotAssumable means the exchange was rejected for authorization
// reasons. Never retried; fatal only for the requesting profile.
var ErrRoleNotAssumable = errors.New("role is not assumable with this assertion")

// STSAPI is the STS surface the exchanger uses; tests provide fakes.
type STSAPI interface {
	AssumeRoleWithSAML(ctx context.Context, params *sts.AssumeRoleWithSAMLInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleWithSAMLOutput, error)
}

// NewSTSClient builds an STS client with anonymous credentials: the SAML
// exchange is itself the authentication.
func NewSTSClient(ctx context.Context, region string) (*sts.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(awssdk.AnonymousCredentials{}),
	)
	if err != nil {
		return nil, err
	}
	return sts.NewFromConfig(cfg), nil
}

// AssumeRole exchanges an assertion and a chosen role for credentials.
// Throttling and 5xx responses are retried per the policy; authorization
// failures surface immediately as ErrRoleNotAssumable.
func AssumeRole(ctx context.Context, client STSAPI, assertion *Assertion, role SamlRole, durationSeconds int32, policy retry.Policy) (*Credential, error) {
	input := &sts.AssumeRoleWithSAMLInput{
		PrincipalArn:  &role.Provider,
		RoleArn:       &role.Role,
		SAMLAssertion: &assertion.Raw,
	}
	if durationSeconds > 0 {
		input.DurationSeconds = &durationSeconds
	}

	var out *sts.AssumeRoleWithSAMLOutput
	err := retry.Do(ctx, policy, Retryable, func(ctx context.Context) error {
		var callErr error
		out, callErr = client.AssumeRoleWithSAML(ctx, input)
		if callErr != nil {
			log.Debug("sts exchange attempt failed", "role", role.Name(), "error", callErr)
		}
		return callErr
	})
	if err != nil {
		if denied(err) {
			return nil, fmt.Errorf("%w: %v", ErrRoleNotAssumable, err)
		}
		return nil, err
	}

	creds := out.Credentials
	if creds == nil || creds.AccessKeyId == nil || creds.SecretAccessKey == nil {
		return nil, fmt.Errorf("sts returned no credentials for %s", role.Name())
	}

	cred := &Credential{
		AccessKeyID:     *creds.AccessKeyId,
		SecretAccessKey: *creds.SecretAccessKey,
	}
	if creds.SessionToken != nil {
		cred.SessionToken = *creds.SessionToken
	}
	if creds.Expiration != nil {
		cred.Expiration = *creds.Expiration
	}
	return cred, nil
}

// Identity is the caller identity behind a minted credential.
type Identity struct {
	Account string
	Arn     string
}

// WhoAmI asks STS who a minted credential belongs to. Used to confirm a
// fresh credential actually works before reporting success.
func WhoAmI(ctx context.Context, region string, cred *Credential) (*Identity, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cred.AccessKeyID,
			cred.SecretAccessKey,
			cred.SessionToken,
		)),
	)
	if err != nil {
		return nil, err
	}

	out, err := sts.NewFromConfig(cfg).GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, err
	}

	id := &Identity{}
	if out.Account != nil {
		id.Account = *out.Account
	}
	if out.Arn != nil {
		id.Arn = *out.Arn
	}
	return id, nil
}

// Retryable classifies throttling and server-side failures as transient.
func Retryable(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "Throttling", "ThrottlingException", "TooManyRequestsException", "RequestLimitExceeded":
			return true
		}
	}

	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() >= 500 {
		return true
	}
	return false
}

func denied(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "AccessDeniedException", "InvalidIdentityToken", "ExpiredTokenException":
			return true
		}
	}
	return false
}
