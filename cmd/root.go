package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"mcpstudio/internal/cli"
	"mcpstudio/internal/client"
	"mcpstudio/pkg/logging"
)

// rootFlags are the persistent flags shared by every command.
var rootFlags cli.CommandFlags

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "mcpstudio",
	Short: "Register, deploy and exercise MCP servers",
	Long: `mcpstudio manages remote MCP servers: it registers them, deploys them by
connecting and discovering their tools, resources and prompts, runs tools
with OAuth credentials attached, and keeps a history of every execution.

Start the studio with 'mcpstudio serve'; every other command talks to a
running studio over its HTTP API.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
	SilenceUsage: true,
	// Errors are printed by Execute with guidance and mapped to exit codes.
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := logging.LevelWarn
		if rootFlags.Debug {
			level = logging.LevelDebug
		}
		logging.InitForCLI(level, cmd.ErrOrStderr())
	},
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute runs the root command and exits with the code matching the error:
// 2 when an integration needs to be authorized, 1 for any other failure.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "mcpstudio version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		reportError(rootCmd.ErrOrStderr(), err)
		os.Exit(cli.ExitCode(err))
	}
}

// reportedError marks an error whose details were already printed as part
// of the command output.
type reportedError struct{ err error }

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

func reportError(w io.Writer, err error) {
	var reported *reportedError
	if errors.As(err, &reported) {
		return
	}
	fmt.Fprintln(w, cli.FormatError(err))
}

// session is what a client command needs: a client for the resolved
// endpoint and a printer bound to the command's output streams.
type session struct {
	cmd     *cobra.Command
	client  *client.Client
	printer *cli.Printer
}

func newSession(cmd *cobra.Command) (*session, error) {
	endpoint, err := rootFlags.ResolveEndpoint()
	if err != nil {
		return nil, err
	}
	printer, err := rootFlags.Printer()
	if err != nil {
		return nil, err
	}
	printer.Out = cmd.OutOrStdout()
	printer.Err = cmd.ErrOrStderr()
	logging.Debug("CLI", "Using studio endpoint %s", endpoint)
	return &session{cmd: cmd, client: client.New(endpoint), printer: printer}, nil
}

// withSession runs fn against the studio and turns transport failures into
// connection errors with guidance.
func withSession(fn func(ctx context.Context, s *session, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		s, err := newSession(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		return cli.ClassifyConnectionError(fn(ctx, s, args), s.client.BaseURL())
	}
}

func init() {
	cli.RegisterCommonFlags(rootCmd, &rootFlags)
	rootCmd.AddCommand(newVersionCmd())
}
