package cmd

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var verbosity int

var rootCmd = &cobra.Command{
	Use:   "oktactl",
	Short: "oktactl turns an Okta login into short-lived AWS credentials",
	Long: `Oktactl authenticates against your Okta organization (including MFA)
and exchanges the resulting session for temporary AWS credentials, for both
SAML-federated roles and AWS Identity Center (SSO) accounts.

No long-lived AWS keys are ever stored.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		switch {
		case verbosity >= 2:
			log.SetLevel(log.DebugLevel)
		case verbosity == 1:
			log.SetLevel(log.InfoLevel)
		default:
			log.SetLevel(log.WarnLevel)
		}
	},
}

// Execute runs the CLI
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase diagnostic detail (-v, -vv)")
}
