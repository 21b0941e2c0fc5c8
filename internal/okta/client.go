package okta

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

const defaultTimeout = 30 * time.Second

// NetworkError marks a transport-level failure. These are retryable by
// the caller where the operation is idempotent.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network failure during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Client talks to one Okta organization.
type Client struct {
	BaseURL *url.URL
	http    *http.Client
}

// NewClient builds a client for https://<organization>.okta.com.
func NewClient(organization string) (*Client, error) {
	base, err := url.Parse(fmt.Sprintf("https://%s.okta.com", organization))
	if err != nil {
		return nil, fmt.Errorf("invalid organization %q: %w", organization, err)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	return &Client{
		BaseURL: base,
		http: &http.Client{
			Timeout: defaultTimeout,
			Jar:     jar,
		},
	}, nil
}

// Login performs the primary credential submission.
func (c *Client) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	var resp LoginResponse
	if err := c.postJSON(ctx, c.endpoint("api/v1/authn"), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Verify submits a factor verification against the factor's verify link.
func (c *Client) Verify(ctx context.Context, factor Factor, req VerifyRequest) (*LoginResponse, error) {
	verifyURL, err := factor.VerifyURL()
	if err != nil {
		return nil, err
	}
	var resp LoginResponse
	if err := c.postJSON(ctx, verifyURL, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateSession trades a one-time session token for a long-form session
// with a cookie id.
func (c *Client) CreateSession(ctx context.Context, sessionToken string) (*Session, error) {
	body := map[string]string{"sessionToken": sessionToken}

	var resp struct {
		ID        string    `json:"id"`
		ExpiresAt time.Time `json:"expiresAt"`
	}
	if err := c.postJSON(ctx, c.endpoint("api/v1/sessions"), body, &resp); err != nil {
		return nil, err
	}

	// The sid cookie authenticates subsequent app-link fetches.
	c.http.Jar.SetCookies(c.BaseURL, []*http.Cookie{{Name: "sid", Value: resp.ID}})

	return &Session{
		ID:        resp.ID,
		Token:     sessionToken,
		ExpiresAt: resp.ExpiresAt,
	}, nil
}

// Resume attaches a previously cached session to the client, verifying it
// is still accepted server-side.
func (c *Client) Resume(ctx context.Context, session *Session) error {
	if session.Expired(time.Now()) {
		return ErrSessionExpired
	}
	c.http.Jar.SetCookies(c.BaseURL, []*http.Cookie{{Name: "sid", Value: session.ID}})

	var me struct {
		ID string `json:"id"`
	}
	if err := c.getJSON(ctx, c.endpoint("api/v1/sessions/me"), &me); err != nil {
		return fmt.Errorf("cached session rejected: %w", err)
	}
	return nil
}

// AppLinks lists the applications assigned to the session's user.
func (c *Client) AppLinks(ctx context.Context, session *Session) ([]AppLink, error) {
	if session.Expired(time.Now()) {
		return nil, ErrSessionExpired
	}
	var links []AppLink
	if err := c.getJSON(ctx, c.endpoint("api/v1/users/me/appLinks"), &links); err != nil {
		return nil, err
	}
	return links, nil
}

// GetPage fetches an arbitrary URL with the session cookie and returns the
// body. Used for app-link HTML pages that embed SAML responses.
func (c *Client) GetPage(ctx context.Context, session *Session, pageURL string) (string, error) {
	if session.Expired(time.Now()) {
		return "", ErrSessionExpired
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &NetworkError{Op: "fetch " + pageURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusNotFound {
		return "", ErrAppNotAccessible
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, pageURL)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &NetworkError{Op: "read " + pageURL, Err: err}
	}
	return string(body), nil
}

func (c *Client) endpoint(path string) string {
	ref := *c.BaseURL
	ref.Path = strings.TrimSuffix(ref.Path, "/") + "/" + path
	return ref.String()
}

func (c *Client) postJSON(ctx context.Context, rawURL string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	log.Debug("okta request", "method", req.Method, "url", req.URL.String())

	resp, err := c.http.Do(req)
	if err != nil {
		return &NetworkError{Op: req.Method + " " + req.URL.Path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &NetworkError{Op: "read " + req.URL.Path, Err: err}
	}

	if resp.StatusCode >= 400 {
		var apiErr APIError
		if jsonErr := json.Unmarshal(body, &apiErr); jsonErr == nil && apiErr.ErrorCode != "" {
			apiErr.HTTPStatus = resp.StatusCode
			return &apiErr
		}
		return fmt.Errorf("okta returned status %d for %s", resp.StatusCode, req.URL.Path)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding okta response from %s: %w", req.URL.Path, err)
	}
	return nil
}
