package okta

import (
	"fmt"
	"time"
)

// LoginRequest is the body for POST /api/v1/authn. Either the credential
// pair or a state token is set, never both.
type LoginRequest struct {
	Username   string `json:"username,omitempty"`
	Password   string `json:"password,omitempty"`
	StateToken string `json:"stateToken,omitempty"`
}

// LoginStatus values come from the authn API's transaction state model.
type LoginStatus string

const (
	StatusSuccess         LoginStatus = "SUCCESS"
	StatusMFARequired     LoginStatus = "MFA_REQUIRED"
	StatusMFAChallenge    LoginStatus = "MFA_CHALLENGE"
	StatusLockedOut       LoginStatus = "LOCKED_OUT"
	StatusPasswordExpired LoginStatus = "PASSWORD_EXPIRED"
	StatusUnauthenticated LoginStatus = "UNAUTHENTICATED"
)

// FactorResult reports the outcome of a single factor verification.
type FactorResult string

const (
	ResultWaiting  FactorResult = "WAITING"
	ResultSuccess  FactorResult = "SUCCESS"
	ResultRejected FactorResult = "REJECTED"
	ResultTimeout  FactorResult = "TIMEOUT"
)

// LoginResponse is the authn transaction state returned by login and
// factor-verify calls.
type LoginResponse struct {
	StateToken   string        `json:"stateToken,omitempty"`
	SessionToken string        `json:"sessionToken,omitempty"`
	ExpiresAt    time.Time     `json:"expiresAt"`
	Status       LoginStatus   `json:"status"`
	FactorResult FactorResult  `json:"factorResult,omitempty"`
	Embedded     LoginEmbedded `json:"_embedded"`
}

type LoginEmbedded struct {
	Factors []Factor `json:"factors"`
}

// FactorType distinguishes the MFA mechanisms we know how to drive.
type FactorType string

const (
	FactorPush     FactorType = "push"
	FactorSMS      FactorType = "sms"
	FactorCall     FactorType = "call"
	FactorTOTP     FactorType = "token:software:totp"
	FactorToken    FactorType = "token"
	FactorHardware FactorType = "token:hardware"
	FactorQuestion FactorType = "question"
)

// Factor is one MFA mechanism offered for the current transaction.
type Factor struct {
	ID       string          `json:"id"`
	Type     FactorType      `json:"factorType"`
	Provider string          `json:"provider"`
	Status   string          `json:"status,omitempty"`
	Profile  FactorProfile   `json:"profile"`
	Links    map[string]Link `json:"_links"`
}

// FactorProfile carries the per-type display fields. Only the fields for
// the factor's own type are populated.
type FactorProfile struct {
	PhoneNumber  string `json:"phoneNumber,omitempty"`
	CredentialID string `json:"credentialId,omitempty"`
	QuestionText string `json:"questionText,omitempty"`
}

type Link struct {
	Href string `json:"href"`
}

// VerifyURL returns the verification endpoint for the factor.
func (f Factor) VerifyURL() (string, error) {
	link, ok := f.Links["verify"]
	if !ok || link.Href == "" {
		return "", fmt.Errorf("factor %s has no verify link", f.ID)
	}
	return link.Href, nil
}

// Prompted reports whether the factor needs a user-supplied response.
// Push factors are resolved by polling instead.
func (f Factor) Prompted() bool {
	return f.Type != FactorPush
}

func (f Factor) String() string {
	switch f.Type {
	case FactorPush:
		return "Okta Verify Push"
	case FactorSMS:
		return fmt.Sprintf("SMS to %s", f.Profile.PhoneNumber)
	case FactorCall:
		return fmt.Sprintf("Call to %s", f.Profile.PhoneNumber)
	case FactorTOTP:
		return fmt.Sprintf("Time-based One-time Password (%s)", f.Provider)
	case FactorToken, FactorHardware:
		return "One-time Password"
	case FactorQuestion:
		return fmt.Sprintf("Question: %s", f.Profile.QuestionText)
	default:
		return string(f.Type)
	}
}

// VerifyRequest is the body for a factor verification call.
type VerifyRequest struct {
	StateToken string `json:"stateToken"`
	PassCode   string `json:"passCode,omitempty"`
	Answer     string `json:"answer,omitempty"`
}

// APIError is the error document Okta returns on 4xx responses.
type APIError struct {
	ErrorCode    string `json:"errorCode"`
	ErrorSummary string `json:"errorSummary"`
	HTTPStatus   int    `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("okta: %s (%s)", e.ErrorSummary, e.ErrorCode)
}

// AppLink is an application assigned to the current user.
type AppLink struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	LinkURL string `json:"linkUrl"`
	AppName string `json:"appName"`
}

// Application kinds as reported in AppLink.AppName.
const (
	AppNameFederated = "amazon_aws"
	AppNameSSO       = "amazon_aws_sso"
)

// Session is an authenticated Okta context. It is only usable until
// ExpiresAt; callers must re-negotiate after that, there is no refresh.
type Session struct {
	ID           string    `json:"id"`
	Token        string    `json:"token"`
	ExpiresAt    time.Time `json:"expiresAt"`
	MFACompleted bool      `json:"mfaCompleted"`
}

// Expired reports whether the session is past its expiry.
func (s *Session) Expired(now time.Time) bool {
	return s == nil || !now.Before(s.ExpiresAt)
}
