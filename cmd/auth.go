package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"mcpstudio/internal/api"
)

var (
	authAccount     string
	authWait        bool
	authWaitTimeout time.Duration
)

// authPollInterval is how often login --wait checks for the credential.
var authPollInterval = 2 * time.Second

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage OAuth credentials of integrations",
	Long: `Integrations are OAuth providers configured in the studio. Tools and servers
bound to an integration call out with the credential of an account; these
commands obtain, inspect and revoke those credentials.`,
}

var authIntegrationsCmd = &cobra.Command{
	Use:   "integrations",
	Short: "List configured integrations",
	Args:  cobra.NoArgs,
	RunE: withSession(func(ctx context.Context, s *session, _ []string) error {
		names, err := s.client.Integrations(ctx)
		if err != nil {
			return err
		}
		return s.printer.Integrations(names)
	}),
}

var authLoginCmd = &cobra.Command{
	Use:   "login <integration>",
	Short: "Authorize an integration account",
	Long: `Starts the authorization code flow and prints the URL to open in a browser.
The provider redirects back to the studio, which stores the credential.

With --wait the command blocks until the credential shows up.`,
	Args: cobra.ExactArgs(1),
	RunE: withSession(func(ctx context.Context, s *session, args []string) error {
		url, err := s.client.AuthorizeURL(ctx, args[0], authAccount)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.printer.Out, "Open this URL to authorize %s:\n\n  %s\n\n", args[0], url)
		if !authWait {
			return nil
		}
		account := authAccount
		if account == "" {
			account = "default"
		}

		ctx, cancel := context.WithTimeout(ctx, authWaitTimeout)
		defer cancel()
		var status *api.CredentialStatus
		err = s.printer.Progress("Waiting for authorization...", func() error {
			var err error
			status, err = waitForCredential(ctx, func(ctx context.Context) (*api.CredentialStatus, error) {
				return s.client.CredentialStatus(ctx, args[0], account)
			})
			return err
		})
		if err != nil {
			return err
		}
		s.printer.Success("%s account %s connected", status.Integration, status.Account)
		return nil
	}),
}

// waitForCredential polls until the credential is connected or ctx ends.
func waitForCredential(ctx context.Context, get func(context.Context) (*api.CredentialStatus, error)) (*api.CredentialStatus, error) {
	ticker := time.NewTicker(authPollInterval)
	defer ticker.Stop()
	for {
		status, err := get(ctx)
		if err == nil && status.Connected {
			return status, nil
		}
		if err != nil && api.Describe(err).Kind != api.KindNotFound {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("authorization not completed: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

var authStatusCmd = &cobra.Command{
	Use:   "status [integration]",
	Short: "Show credential status",
	Long: `Without arguments lists the credentials of every integration. With an
integration lists its accounts, or one account with --account.`,
	Args: cobra.MaximumNArgs(1),
	RunE: withSession(func(ctx context.Context, s *session, args []string) error {
		integration := ""
		if len(args) == 1 {
			integration = args[0]
		}
		if integration != "" && authAccount != "" {
			status, err := s.client.CredentialStatus(ctx, integration, authAccount)
			if err != nil {
				return err
			}
			return s.printer.Credentials([]api.CredentialStatus{*status})
		}
		statuses, err := s.client.Credentials(ctx, integration)
		if err != nil {
			return err
		}
		return s.printer.Credentials(statuses)
	}),
}

var authRevokeCmd = &cobra.Command{
	Use:   "revoke <integration>",
	Short: "Revoke the credential of an account",
	Args:  cobra.ExactArgs(1),
	RunE: withSession(func(ctx context.Context, s *session, args []string) error {
		if authAccount == "" {
			return fmt.Errorf("--account is required")
		}
		if err := s.client.Revoke(ctx, args[0], authAccount); err != nil {
			return err
		}
		s.printer.Success("Revoked %s credential of %s", args[0], authAccount)
		return nil
	}),
}

func init() {
	authCmd.PersistentFlags().StringVar(&authAccount, "account", "", "Integration account (default: the provider's account or \"default\")")
	authLoginCmd.Flags().BoolVar(&authWait, "wait", false, "Wait until the authorization completes")
	authLoginCmd.Flags().DurationVar(&authWaitTimeout, "wait-timeout", 5*time.Minute, "How long --wait waits")

	authCmd.AddCommand(authIntegrationsCmd, authLoginCmd, authStatusCmd, authRevokeCmd)
	rootCmd.AddCommand(authCmd)
}
