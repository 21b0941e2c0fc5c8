// Package discover enumerates identity-center applications and walks
// their accounts and roles with bounded parallelism.
package discover

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/chukul/oktactl/internal/awsconfig"
	"github.com/chukul/oktactl/internal/okta"
)

// DefaultWorkers bounds concurrent role fetches per application. The
// portal rate-limits aggressively; unbounded fan-out trips it.
const DefaultWorkers = 4

const portalRegion = "us-east-1"

// portal is the slice of the SSO portal client the walker needs.
type portal interface {
	ListAccounts(ctx context.Context, cursor string) ([]okta.SSOAccount, string, error)
	ListRoles(ctx context.Context, accountID, cursor string) ([]string, string, error)
}

// AppFailure records one application whose discovery failed. The run
// carries on with the other applications.
type AppFailure struct {
	App string
	Err error
}

func (f AppFailure) String() string {
	return fmt.Sprintf("%s: %v", f.App, f.Err)
}

// Result is a completed discovery pass: per-application session data
// plus the applications that failed along the way. Succeeded sessions
// are never dropped because a sibling failed.
type Result struct {
	Sessions []awsconfig.DiscoveredSession
	Failed   []AppFailure
}

// Discoverer walks the SSO applications visible to one Okta session.
type Discoverer struct {
	Client    *okta.Client
	PortalURL string
	Workers   int

	// dial is a test seam; nil means the real portal handshake.
	dial func(ctx context.Context, session *okta.Session, app okta.Application) (portal, *okta.PortalAuth, error)
}

// Run discovers every SSO application, its accounts, and their roles.
// It only errors when nothing at all can be discovered; per-application
// failures are recorded in the result.
func (d *Discoverer) Run(ctx context.Context, session *okta.Session) (*Result, error) {
	apps, err := d.Client.Applications(ctx, session)
	if err != nil {
		return nil, err
	}

	var ssoApps []okta.Application
	for _, app := range apps {
		if app.Kind == okta.KindSSO {
			ssoApps = append(ssoApps, app)
		}
	}
	if len(ssoApps) == 0 {
		return nil, fmt.Errorf("no identity-center applications assigned to this user")
	}

	result := &Result{}
	for _, app := range ssoApps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		discovered, err := d.walkApplication(ctx, session, app)
		if err != nil {
			log.Warn("application discovery failed", "app", app.Label, "error", err)
			result.Failed = append(result.Failed, AppFailure{App: app.Label, Err: err})
			continue
		}
		result.Sessions = append(result.Sessions, *discovered)
	}

	sort.Slice(result.Sessions, func(i, j int) bool {
		return result.Sessions[i].Name < result.Sessions[j].Name
	})
	return result, nil
}

func (d *Discoverer) walkApplication(ctx context.Context, session *okta.Session, app okta.Application) (*awsconfig.DiscoveredSession, error) {
	p, auth, err := d.connect(ctx, session, app)
	if err != nil {
		return nil, err
	}

	// A single listing's pages are strictly sequential: each cursor
	// comes from the previous page.
	var accounts []okta.SSOAccount
	cursor := ""
	for {
		page, next, err := p.ListAccounts(ctx, cursor)
		if err != nil {
			return nil, fmt.Errorf("listing accounts: %w", err)
		}
		accounts = append(accounts, page...)
		if next == "" {
			break
		}
		cursor = next
	}

	discovered := &awsconfig.DiscoveredSession{
		Name:     awsconfig.SanitizeName(app.Label),
		Label:    app.Label,
		StartURL: fmt.Sprintf("https://%s.awsapps.com/start", auth.OrgID),
		Region:   portalRegion,
		Accounts: make([]awsconfig.DiscoveredAccount, len(accounts)),
	}

	// Role listings for different accounts are independent, so they fan
	// out through a bounded pool.
	workers := d.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, acct := range accounts {
		g.Go(func() error {
			roles, err := listAllRoles(gctx, p, acct.ID)
			if err != nil {
				return fmt.Errorf("listing roles for account %s: %w", acct.ID, err)
			}
			mu.Lock()
			discovered.Accounts[i] = awsconfig.DiscoveredAccount{ID: acct.ID, Name: acct.Name, Roles: roles}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// Partial results for this application are dropped; other
		// applications' results are unaffected.
		return nil, err
	}

	sort.Slice(discovered.Accounts, func(i, j int) bool {
		return discovered.Accounts[i].ID < discovered.Accounts[j].ID
	})
	return discovered, nil
}

func listAllRoles(ctx context.Context, p portal, accountID string) ([]string, error) {
	var roles []string
	cursor := ""
	for {
		page, next, err := p.ListRoles(ctx, accountID, cursor)
		if err != nil {
			return nil, err
		}
		roles = append(roles, page...)
		if next == "" {
			break
		}
		cursor = next
	}
	sort.Strings(roles)
	return roles, nil
}

func (d *Discoverer) connect(ctx context.Context, session *okta.Session, app okta.Application) (portal, *okta.PortalAuth, error) {
	if d.dial != nil {
		return d.dial(ctx, session, app)
	}

	auth, err := d.Client.PortalAuthForApp(ctx, session, app)
	if err != nil {
		return nil, nil, err
	}
	client, err := okta.NewSSOClient(ctx, d.PortalURL, auth)
	if err != nil {
		return nil, nil, err
	}
	return client, auth, nil
}
