package okta

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// DefaultPortalURL is the AWS identity-center portal endpoint.
const DefaultPortalURL = "https://portal.sso.us-east-1.amazonaws.com"

// PortalAuth is the handoff from an Okta SSO app link to the AWS portal.
type PortalAuth struct {
	OrgID    string
	AuthCode string
}

var (
	orgIDPattern    = regexp.MustCompile(`[?&]org_id=([^&"']+)`)
	authCodePattern = regexp.MustCompile(`[?&]auth_code=([^&"']+)`)
)

// PortalAuthForApp loads an SSO application's app-link page and extracts
// the organization id and one-time auth code embedded in its redirect.
func (c *Client) PortalAuthForApp(ctx context.Context, session *Session, app Application) (*PortalAuth, error) {
	if app.Kind != KindSSO {
		return nil, fmt.Errorf("application %q is not an identity-center app", app.Label)
	}

	page, err := c.GetPage(ctx, session, app.URL)
	if err != nil {
		return nil, &FetchError{App: app.Label, Err: err}
	}

	org := orgIDPattern.FindStringSubmatch(page)
	code := authCodePattern.FindStringSubmatch(page)
	if org == nil || code == nil {
		return nil, &FetchError{App: app.Label, Err: fmt.Errorf("no portal handoff found in app page")}
	}

	return &PortalAuth{OrgID: org[1], AuthCode: code[1]}, nil
}

// SSOAccount is a cloud account reachable through the identity center.
type SSOAccount struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RoleCredentials are the short-lived keys minted for one account role.
type RoleCredentials struct {
	AccessKeyID     string `json:"accessKeyId"`
	SecretAccessKey string `json:"secretAccessKey"`
	SessionToken    string `json:"sessionToken"`
	Expiration      int64  `json:"expiration"` // unix millis
}

// ExpiresAt converts the portal's millisecond expiry.
func (rc RoleCredentials) ExpiresAt() time.Time {
	return time.UnixMilli(rc.Expiration)
}

// page is the portal's cursor envelope. The cursor is opaque; a missing
// paginationToken signals the final page.
type page[T any] struct {
	PaginationToken string `json:"paginationToken,omitempty"`
	Result          []T    `json:"result"`
}

// SSOClient talks to the AWS identity-center portal on behalf of one
// authenticated Okta session.
type SSOClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewSSOClient exchanges the Okta handoff for a portal bearer token.
func NewSSOClient(ctx context.Context, portalURL string, auth *PortalAuth) (*SSOClient, error) {
	if portalURL == "" {
		portalURL = DefaultPortalURL
	}

	httpClient := &http.Client{Timeout: defaultTimeout}

	form := url.Values{}
	form.Set("authCode", auth.AuthCode)
	form.Set("orgId", auth.OrgID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, portalURL+"/auth/sso-token", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: "portal token exchange", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("portal token exchange failed with status %d", resp.StatusCode)
	}

	var tokenResp struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return nil, fmt.Errorf("decoding portal token: %w", err)
	}

	return &SSOClient{baseURL: portalURL, token: tokenResp.Token, http: httpClient}, nil
}

type accountInstance struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

var accountNamePattern = regexp.MustCompile(`^(\d+) \((.+)\)$`)

// ListAccounts returns one page of accounts plus the cursor for the next
// page. An empty next cursor means the listing is complete. A single
// listing's pages must be fetched sequentially: each cursor depends on
// the previous page.
func (s *SSOClient) ListAccounts(ctx context.Context, cursor string) ([]SSOAccount, string, error) {
	var pg page[accountInstance]
	if err := s.get(ctx, "/instance/appinstances", cursor, &pg); err != nil {
		return nil, "", err
	}

	var accounts []SSOAccount
	for _, inst := range pg.Result {
		m := accountNamePattern.FindStringSubmatch(inst.Name)
		if m == nil {
			// Portal entries without an account id are not assumable.
			continue
		}
		accounts = append(accounts, SSOAccount{ID: m[1], Name: m[2]})
	}
	return accounts, pg.PaginationToken, nil
}

type roleProfile struct {
	Name string `json:"name"`
}

// ListRoles returns one page of role names for an account.
func (s *SSOClient) ListRoles(ctx context.Context, accountID, cursor string) ([]string, string, error) {
	var pg page[roleProfile]
	path := fmt.Sprintf("/instance/appinstance/%s/profiles", url.PathEscape(accountID))
	if err := s.get(ctx, path, cursor, &pg); err != nil {
		return nil, "", err
	}

	roles := make([]string, 0, len(pg.Result))
	for _, p := range pg.Result {
		roles = append(roles, p.Name)
	}
	return roles, pg.PaginationToken, nil
}

// GetRoleCredentials mints short-lived keys for an account role.
func (s *SSOClient) GetRoleCredentials(ctx context.Context, accountID, roleName string) (*RoleCredentials, error) {
	u, err := url.Parse(s.baseURL + "/federation/credentials/")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("account_id", accountID)
	q.Set("role_name", roleName)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	s.authorize(req)

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: "portal credentials", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("portal credentials request failed with status %d", resp.StatusCode)
	}

	var out struct {
		RoleCredentials RoleCredentials `json:"roleCredentials"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding portal credentials: %w", err)
	}
	return &out.RoleCredentials, nil
}

func (s *SSOClient) get(ctx context.Context, path, cursor string, out any) error {
	u, err := url.Parse(s.baseURL + path)
	if err != nil {
		return err
	}
	if cursor != "" {
		q := u.Query()
		q.Set("paginationToken", cursor)
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	s.authorize(req)

	resp, err := s.http.Do(req)
	if err != nil {
		return &NetworkError{Op: "portal " + path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("portal returned status %d for %s", resp.StatusCode, path)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding portal response from %s: %w", path, err)
	}
	return nil
}

func (s *SSOClient) authorize(req *http.Request) {
	// The portal historically accepted both header spellings.
	req.Header.Set("x-amz-sso_bearer_token", s.token)
	req.Header.Set("x-amz-sso-bearer-token", s.token)
}
