package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/chukul/oktactl/internal/aws"
	"github.com/chukul/oktactl/internal/awsconfig"
	"github.com/chukul/oktactl/internal/okta"
	"github.com/chukul/oktactl/internal/retry"
	"github.com/chukul/oktactl/internal/ui"
)

var (
	refreshOrganizations string
	refreshRoleOverride  string
	refreshForceNew      bool
	refreshRegion        string
	refreshCheck         bool
	refreshSSO           bool
)

var refreshCmd = &cobra.Command{
	Use:   "refresh [profile-pattern]",
	Short: "Refresh AWS credentials from Okta",
	Long: `Log in to each configured Okta organization and refresh the short-lived
AWS credentials for every matching federated profile. Without an argument all
known profiles are refreshed.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		profilePattern := "*"
		if len(args) > 0 {
			profilePattern = args[0]
		}

		run := runRefresh
		if refreshSSO {
			run = runRefreshSSO
		}
		if err := run(ctx, refreshOrganizations, profilePattern); err != nil {
			fmt.Fprintf(os.Stderr, "❌ %v\n", err)
			os.Exit(1)
		}
	},
}

type profileOutcome struct {
	Organization string
	Profile      string
	Err          error
}

func runRefresh(ctx context.Context, orgPattern, profilePattern string) error {
	orgs, err := awsconfig.LoadOrganizations(orgPattern)
	if err != nil {
		return err
	}
	if len(orgs) == 0 {
		return fmt.Errorf("no organizations found matching %q (run 'oktactl init' first)", orgPattern)
	}

	configPath, err := awsconfig.DefaultPath()
	if err != nil {
		return err
	}
	doc, err := awsconfig.Load(configPath)
	if err != nil {
		return err
	}

	credsPath, err := awsconfig.CredentialsPath()
	if err != nil {
		return err
	}

	var outcomes []profileOutcome
	for _, org := range orgs {
		profiles, err := org.MatchProfiles(profilePattern)
		if err != nil {
			return err
		}
		if len(profiles) == 0 {
			log.Debug("no matching profiles", "organization", org.Name)
			continue
		}

		username := org.Username
		if username == "" {
			username, err = promptUsername(org.Name)
			if err != nil {
				return err
			}
		}

		client, err := okta.NewClient(org.Name)
		if err != nil {
			return err
		}

		fmt.Printf("🔐 Logging in to %s as %s...\n", org.Name, username)
		session, err := negotiateSession(ctx, client, org.Name, username, refreshForceNew)
		if err != nil {
			// Nothing downstream can proceed without a session.
			return fmt.Errorf("authentication for %s failed: %w", org.Name, err)
		}

		apps, err := client.Applications(ctx, session)
		if err != nil {
			return err
		}
		byLabel := map[string]okta.Application{}
		for _, app := range apps {
			if app.Kind == okta.KindFederated {
				byLabel[app.Label] = app
			}
		}

		stsClient, err := aws.NewSTSClient(ctx, refreshRegion)
		if err != nil {
			return err
		}

		for _, profile := range profiles {
			if doc.IsSSOProfile(profile.Name) {
				fmt.Printf("⏭️  Skipping '%s': already exists as an SSO profile in %s\n", profile.Name, configPath)
				continue
			}

			err := refreshProfile(ctx, client, session, stsClient, byLabel, profile, credsPath)
			outcomes = append(outcomes, profileOutcome{Organization: org.Name, Profile: profile.Name, Err: err})
		}
	}

	return printSummary(outcomes)
}

func refreshProfile(ctx context.Context, client *okta.Client, session *okta.Session, stsClient aws.STSAPI, apps map[string]okta.Application, profile awsconfig.FederatedProfile, credsPath string) error {
	app, ok := apps[profile.Application]
	if !ok {
		return fmt.Errorf("%w: no federated application labeled %q", okta.ErrAppNotAccessible, profile.Application)
	}

	raw, err := client.FetchAssertion(ctx, session, app)
	if err != nil {
		return err
	}

	assertion, err := aws.ParseAssertion(raw)
	if err != nil {
		return err
	}

	roleName := profile.Role
	if refreshRoleOverride != "" {
		roleName = refreshRoleOverride
	}

	var role *aws.SamlRole
	for i := range assertion.Roles {
		if assertion.Roles[i].Name() == roleName {
			role = &assertion.Roles[i]
			break
		}
	}
	if role == nil {
		return fmt.Errorf("%w: role %q not granted by %q", aws.ErrRoleNotAssumable, roleName, profile.Application)
	}

	res, err := ui.Spin(fmt.Sprintf("Assuming %s...", role.Name()), func() (any, error) {
		return aws.AssumeRole(ctx, stsClient, assertion, *role, profile.DurationSeconds, retry.Default())
	})
	if err != nil {
		return err
	}
	cred := res.(*aws.Credential)

	if err := awsconfig.UpsertCredential(credsPath, profile.Name, cred); err != nil {
		// The exchange succeeded; only the local store failed.
		return fmt.Errorf("storing credentials for %s: %w", profile.Name, err)
	}

	if refreshCheck {
		id, err := aws.WhoAmI(ctx, refreshRegion, cred)
		if err != nil {
			return fmt.Errorf("verifying credentials for %s: %w", profile.Name, err)
		}
		fmt.Printf("🪪 %s → %s\n", profile.Name, id.Arn)
	}
	return nil
}

// runRefreshSSO mints credentials for identity-center profiles recorded
// in the AWS config, going through the portal instead of SAML+STS.
func runRefreshSSO(ctx context.Context, orgPattern, profilePattern string) error {
	orgs, err := awsconfig.LoadOrganizations(orgPattern)
	if err != nil {
		return err
	}
	if len(orgs) == 0 {
		return fmt.Errorf("no organizations found matching %q (run 'oktactl init' first)", orgPattern)
	}

	configPath, err := awsconfig.DefaultPath()
	if err != nil {
		return err
	}
	doc, err := awsconfig.Load(configPath)
	if err != nil {
		return err
	}
	credsPath, err := awsconfig.CredentialsPath()
	if err != nil {
		return err
	}

	var targets []awsconfig.SSOProfile
	for _, p := range doc.SSOProfiles() {
		match, err := path.Match(profilePattern, p.Name)
		if err != nil {
			return fmt.Errorf("invalid profile pattern %q: %w", profilePattern, err)
		}
		if !match {
			continue
		}
		if p.Pending || p.Role == "" {
			fmt.Printf("⏭️  Skipping '%s': no role selected yet (run 'oktactl init-sso')\n", p.Name)
			continue
		}
		targets = append(targets, p)
	}
	if len(targets) == 0 {
		return fmt.Errorf("no identity-center profiles match %q in %s", profilePattern, configPath)
	}

	minted := map[string]bool{}
	var outcomes []profileOutcome
	for _, org := range orgs {
		username := org.Username
		if username == "" {
			username, err = promptUsername(org.Name)
			if err != nil {
				return err
			}
		}

		client, err := okta.NewClient(org.Name)
		if err != nil {
			return err
		}

		fmt.Printf("🔐 Logging in to %s as %s...\n", org.Name, username)
		session, err := negotiateSession(ctx, client, org.Name, username, refreshForceNew)
		if err != nil {
			return fmt.Errorf("authentication for %s failed: %w", org.Name, err)
		}

		apps, err := client.Applications(ctx, session)
		if err != nil {
			return err
		}
		bySession := map[string]okta.Application{}
		for _, app := range apps {
			if app.Kind == okta.KindSSO {
				bySession[awsconfig.SanitizeName(app.Label)] = app
			}
		}

		portals := map[string]*okta.SSOClient{}
		for _, p := range targets {
			if minted[p.Name] {
				continue
			}
			app, ok := bySession[p.Session]
			if !ok {
				// Another organization may own this session.
				continue
			}
			minted[p.Name] = true
			err := mintSSOProfile(ctx, client, session, portals, app, p, credsPath)
			outcomes = append(outcomes, profileOutcome{Organization: org.Name, Profile: p.Name, Err: err})
		}
	}

	for _, p := range targets {
		if !minted[p.Name] {
			outcomes = append(outcomes, profileOutcome{
				Organization: "-",
				Profile:      p.Name,
				Err:          fmt.Errorf("no identity-center application found for session %q", p.Session),
			})
		}
	}
	return printSummary(outcomes)
}

func mintSSOProfile(ctx context.Context, client *okta.Client, session *okta.Session, portals map[string]*okta.SSOClient, app okta.Application, p awsconfig.SSOProfile, credsPath string) error {
	portal, ok := portals[p.Session]
	if !ok {
		auth, err := client.PortalAuthForApp(ctx, session, app)
		if err != nil {
			return err
		}
		portal, err = okta.NewSSOClient(ctx, "", auth)
		if err != nil {
			return err
		}
		portals[p.Session] = portal
	}

	rc, err := portal.GetRoleCredentials(ctx, p.AccountID, p.Role)
	if err != nil {
		return err
	}
	cred := &aws.Credential{
		AccessKeyID:     rc.AccessKeyID,
		SecretAccessKey: rc.SecretAccessKey,
		SessionToken:    rc.SessionToken,
		Expiration:      rc.ExpiresAt(),
	}
	return awsconfig.UpsertCredential(credsPath, p.Name, cred)
}

func printSummary(outcomes []profileOutcome) error {
	if len(outcomes) == 0 {
		return fmt.Errorf("no profiles were refreshed")
	}

	failed := 0
	fmt.Println("\n📊 Summary:")
	for _, o := range outcomes {
		if o.Err == nil {
			fmt.Printf("   ✅ %s/%s\n", o.Organization, o.Profile)
			continue
		}
		failed++
		fmt.Printf("   ❌ %s/%s: %s\n", o.Organization, o.Profile, describeError(o.Err))
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d profiles failed", failed, len(outcomes))
	}
	return nil
}

// describeError maps an error to its user-facing kind. Retry exhaustion
// keeps its attempt count; everything else keeps its message.
func describeError(err error) string {
	var exhausted *retry.ExhaustedError
	switch {
	case errors.As(err, &exhausted):
		return fmt.Sprintf("network error (%s)", exhausted.Error())
	case errors.Is(err, aws.ErrNoRolesGranted):
		return "assertion grants no roles"
	case errors.Is(err, aws.ErrRoleNotAssumable):
		return err.Error()
	case errors.Is(err, okta.ErrAppNotAccessible):
		return err.Error()
	default:
		return err.Error()
	}
}

func init() {
	refreshCmd.Flags().StringVarP(&refreshOrganizations, "organizations", "o", "*", "Okta organizations to use (glob)")
	refreshCmd.Flags().StringVarP(&refreshRoleOverride, "role-override", "r", "", "Assume this role for every profile")
	refreshCmd.Flags().BoolVarP(&refreshForceNew, "force-new", "f", false, "Ignore any cached Okta session")
	refreshCmd.Flags().StringVar(&refreshRegion, "region", "us-east-1", "AWS region for the STS exchange")
	refreshCmd.Flags().BoolVar(&refreshCheck, "check", false, "Verify each refreshed credential with a caller-identity call")
	refreshCmd.Flags().BoolVar(&refreshSSO, "sso", false, "Refresh identity-center profiles from the AWS config instead")
	rootCmd.AddCommand(refreshCmd)
}
