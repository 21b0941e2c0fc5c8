package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/chukul/oktactl/internal/awsconfig"
	"github.com/chukul/oktactl/internal/discover"
	"github.com/chukul/oktactl/internal/okta"
	"github.com/chukul/oktactl/internal/ui"
)

var (
	initSSOUsername string
	initSSOForceNew bool
	initSSOWorkers  int
	initSSOYes      bool
)

var initSSOCmd = &cobra.Command{
	Use:   "init-sso <organization>",
	Short: "Discover Identity Center accounts and configure SSO profiles",
	Long: `Log in to an Okta organization, walk every Identity Center application
you have access to, and merge the discovered accounts and roles into your AWS
config file as sso-session and profile sections. Existing choices are
preserved; re-running after nothing changed is a no-op.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		if err := runInitSSO(ctx, args[0]); err != nil {
			fmt.Fprintf(os.Stderr, "❌ %v\n", err)
			os.Exit(1)
		}
	},
}

func runInitSSO(ctx context.Context, organization string) error {
	username := initSSOUsername
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
	session, err := negotiateSession(ctx, client, organization, username, initSSOForceNew)
	if err != nil {
		return err
	}

	d := &discover.Discoverer{Client: client, Workers: initSSOWorkers}
	res, err := ui.Spin("Discovering accounts and roles...", func() (any, error) {
		return d.Run(ctx, session)
	})
	if err != nil {
		return err
	}
	result := res.(*discover.Result)

	if len(result.Failed) > 0 {
		fmt.Printf("⚠️  %d application(s) could not be discovered:\n", len(result.Failed))
		for _, f := range result.Failed {
			fmt.Printf("   • %s\n", f)
		}
		if !initSSOYes && !confirm("Continue with the applications that succeeded?", true) {
			fmt.Println("🚫 Aborted.")
			return nil
		}
	}

	accounts := 0
	for _, s := range result.Sessions {
		accounts += len(s.Accounts)
	}
	fmt.Printf("🔎 Found %d session(s) covering %d account(s)\n", len(result.Sessions), accounts)

	configPath, err := awsconfig.DefaultPath()
	if err != nil {
		return err
	}

	err = awsconfig.WithLock(configPath, func() error {
		doc, err := awsconfig.Load(configPath)
		if err != nil {
			return err
		}
		if err := awsconfig.Reconcile(doc, result.Sessions, interactiveSelector{assumeYes: initSSOYes}); err != nil {
			return err
		}
		return doc.Save()
	})

	var conflict *awsconfig.ConflictError
	if errors.As(err, &conflict) {
		return fmt.Errorf("cannot write config: %w (rename one of the accounts in Identity Center)", conflict)
	}
	if err != nil {
		return err
	}

	fmt.Printf("✅ Updated %s\n", configPath)
	return nil
}

// interactiveSelector answers role questions with terminal prompts.
// Declining a per-account prompt defers the profile instead of failing.
type interactiveSelector struct {
	assumeYes bool
}

func (s interactiveSelector) DefaultRole(session string, ranked []awsconfig.RoleCount, ambiguous int) (string, error) {
	if len(ranked) == 0 {
		return "", nil
	}
	top := ranked[0]
	prompt := fmt.Sprintf("Use '%s' (offered by %d accounts) as the default role for %s?", top.Role, top.Count, session)
	if s.assumeYes || confirm(prompt, true) {
		return top.Role, nil
	}
	return "", nil
}

func (s interactiveSelector) ChooseRole(profile string, roles []string) (string, error) {
	if s.assumeYes {
		return "", nil
	}
	options := append([]string{"(decide later)"}, roles...)
	idx, err := ui.Select(fmt.Sprintf("Role for profile '%s'", profile), options)
	if err != nil {
		return "", err
	}
	if idx == 0 {
		return "", nil
	}
	return roles[idx-1], nil
}

func init() {
	initSSOCmd.Flags().StringVarP(&initSSOUsername, "username", "u", "", "Okta username")
	initSSOCmd.Flags().BoolVarP(&initSSOForceNew, "force-new", "f", false, "Ignore any cached Okta session")
	initSSOCmd.Flags().IntVar(&initSSOWorkers, "workers", discover.DefaultWorkers, "Parallel role lookups per session")
	initSSOCmd.Flags().BoolVarP(&initSSOYes, "yes", "y", false, "Accept suggested defaults without prompting")
	rootCmd.AddCommand(initSSOCmd)
}
