package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/chukul/oktactl/internal/aws"
	"github.com/chukul/oktactl/internal/awsconfig"
	"github.com/chukul/oktactl/internal/okta"
	"github.com/chukul/oktactl/internal/ui"
)

var (
	initUsername string
	initForceNew bool
)

var initCmd = &cobra.Command{
	Use:   "init <organization>",
	Short: "Generate an organization file from your Okta applications",
	Long: `Log in to an Okta organization, inspect every federated AWS application
you have access to, and write ~/.oktactl/<organization>.yaml describing the
profiles and roles to refresh.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		if err := runInit(ctx, args[0]); err != nil {
			fmt.Fprintf(os.Stderr, "❌ %v\n", err)
			os.Exit(1)
		}
	},
}

func runInit(ctx context.Context, organization string) error {
	username := initUsername
	var err error
	if username == "" {
		username, err = promptUsername(organization)
		if err != nil {
			return err
		}
	}

	client, err := okta.NewClient(organization)
	if err != nil {
		return err
	}

	fmt.Printf("🔐 Logging in to %s as %s...\n", organization, username)
	session, err := negotiateSession(ctx, client, organization, username, initForceNew)
	if err != nil {
		return err
	}

	apps, err := client.Applications(ctx, session)
	if err != nil {
		return err
	}

	// Role inventory per federated application, keyed by label.
	grants := map[string][]string{}
	var labels []string
	for _, app := range apps {
		if app.Kind != okta.KindFederated {
			continue
		}
		roles, err := applicationRoles(ctx, client, session, app)
		if err != nil {
			log.Warn("skipping application", "label", app.Label, "err", err)
			continue
		}
		grants[app.Label] = roles
		labels = append(labels, app.Label)
	}
	if len(labels) == 0 {
		return fmt.Errorf("no federated AWS applications reachable in %s", organization)
	}
	sort.Strings(labels)

	defaultRole, err := pickDefaultRole(organization, labels, grants)
	if err != nil {
		return err
	}

	profiles := map[string]awsconfig.ProfileConfig{}
	for _, label := range labels {
		name := awsconfig.SanitizeName(label)
		entry := awsconfig.ProfileConfig{Application: label}
		if !contains(grants[label], defaultRole) {
			role, err := pickRole(name, grants[label])
			if err != nil {
				return err
			}
			entry.Role = role
		}
		profiles[name] = entry
	}

	cfg := &awsconfig.OrganizationConfig{
		Username: username,
		Role:     defaultRole,
		Profiles: profiles,
	}

	home, err := awsconfig.Home()
	if err != nil {
		return err
	}
	target := filepath.Join(home, organization+".yaml")
	if _, err := os.Stat(target); err == nil {
		if !confirm(fmt.Sprintf("%s already exists, overwrite?", target), false) {
			fmt.Println("🚫 Aborted.")
			return nil
		}
	}

	written, err := awsconfig.SaveOrganization(organization, cfg)
	if err != nil {
		return err
	}
	fmt.Printf("✅ Wrote %s with %d profiles\n", written, len(profiles))
	return nil
}

func applicationRoles(ctx context.Context, client *okta.Client, session *okta.Session, app okta.Application) ([]string, error) {
	raw, err := client.FetchAssertion(ctx, session, app)
	if err != nil {
		return nil, err
	}
	assertion, err := aws.ParseAssertion(raw)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(assertion.Roles))
	for _, role := range assertion.Roles {
		names = append(names, role.Name())
	}
	return names, nil
}

// pickDefaultRole suggests the role granted by the most applications and
// lets the operator pick a different one.
func pickDefaultRole(organization string, labels []string, grants map[string][]string) (string, error) {
	accounts := make([]awsconfig.DiscoveredAccount, 0, len(labels))
	for _, label := range labels {
		accounts = append(accounts, awsconfig.DiscoveredAccount{Name: label, Roles: grants[label]})
	}
	ranked := awsconfig.RankRoles(accounts)
	if len(ranked) == 1 {
		return ranked[0].Role, nil
	}

	options := make([]string, len(ranked))
	for i, rc := range ranked {
		options[i] = fmt.Sprintf("%s (%d of %d applications)", rc.Role, rc.Count, len(labels))
	}
	idx, err := ui.Select(fmt.Sprintf("Default role for %s", organization), options)
	if err != nil {
		return "", err
	}
	return ranked[idx].Role, nil
}

func pickRole(profile string, roles []string) (string, error) {
	if len(roles) == 1 {
		return roles[0], nil
	}
	idx, err := ui.Select(fmt.Sprintf("Role for profile '%s'", profile), roles)
	if err != nil {
		return "", err
	}
	return roles[idx], nil
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

func init() {
	initCmd.Flags().StringVarP(&initUsername, "username", "u", "", "Okta username")
	initCmd.Flags().BoolVarP(&initForceNew, "force-new", "f", false, "Ignore any cached Okta session")
	rootCmd.AddCommand(initCmd)
}
