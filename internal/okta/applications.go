package okta

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/charmbracelet/log"
)

// Application is an Okta-integrated AWS target discovered for the user.
type Application struct {
	ID    string
	Label string
	URL   string
	Kind  ApplicationKind
}

type ApplicationKind int

const (
	KindFederated ApplicationKind = iota
	KindSSO
)

func (k ApplicationKind) String() string {
	if k == KindSSO {
		return "sso"
	}
	return "federated"
}

// Applications lists the user's AWS applications, keeping only the two
// kinds we can drive.
func (c *Client) Applications(ctx context.Context, session *Session) ([]Application, error) {
	links, err := c.AppLinks(ctx, session)
	if err != nil {
		return nil, err
	}

	var apps []Application
	for _, link := range links {
		switch link.AppName {
		case AppNameFederated:
			apps = append(apps, Application{ID: link.ID, Label: link.Label, URL: link.LinkURL, Kind: KindFederated})
		case AppNameSSO:
			apps = append(apps, Application{ID: link.ID, Label: link.Label, URL: link.LinkURL, Kind: KindSSO})
		}
	}
	return apps, nil
}

var errNoSAMLForm = errors.New("no SAMLResponse form field in page")

// FetchAssertion retrieves the base64 SAML payload for a federated
// application by loading its app-link page with the session cookie.
//
// Okta sometimes answers with an extra-verification interstitial instead
// of the SAML form, typically when the session was established without a
// device token. The interstitial embeds a state token; replaying it
// through the login endpoint clears the check, after which the page is
// fetched once more.
func (c *Client) FetchAssertion(ctx context.Context, session *Session, app Application) (string, error) {
	page, err := c.GetPage(ctx, session, app.URL)
	if err != nil {
		return "", &FetchError{App: app.Label, Err: err}
	}

	if token, ok := verificationToken(page); ok {
		log.Debug("extra verification requested, replaying state token", "app", app.Label)
		if err := c.replayStateToken(ctx, token); err != nil {
			return "", &FetchError{App: app.Label, Err: err}
		}
		page, err = c.GetPage(ctx, session, app.URL)
		if err != nil {
			return "", &FetchError{App: app.Label, Err: err}
		}
	}

	saml, err := extractSAMLResponse(page)
	if err != nil {
		return "", &FetchError{App: app.Label, Err: err}
	}
	return saml, nil
}

// replayStateToken runs the login transaction with a page-embedded state
// token. The exchange rides the existing session cookie, so a SUCCESS
// status is all the step-up needs.
func (c *Client) replayStateToken(ctx context.Context, token string) error {
	resp, err := c.Login(ctx, LoginRequest{StateToken: token})
	if err != nil {
		return err
	}
	if resp.Status != StatusSuccess {
		return fmt.Errorf("verification login ended with status %q", resp.Status)
	}
	return nil
}

var stateTokenPattern = regexp.MustCompile(`var stateToken = '(.+?)';`)

// verificationToken recognizes the extra-verification interstitial by its
// page title and pulls the state token out of its inline script. Okta
// hex-escapes dashes in the embedded token.
func verificationToken(page string) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return "", false
	}
	title := doc.Find("head title").First().Text()
	if !strings.HasSuffix(title, " - Extra Verification") {
		return "", false
	}

	m := stateTokenPattern.FindStringSubmatch(page)
	if m == nil {
		return "", false
	}
	return strings.ReplaceAll(m[1], `\x2D`, "-"), true
}

func extractSAMLResponse(page string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return "", fmt.Errorf("parsing app page: %w", err)
	}

	value, ok := doc.Find(`input[name="SAMLResponse"]`).First().Attr("value")
	if !ok || value == "" {
		return "", errNoSAMLForm
	}
	return value, nil
}
