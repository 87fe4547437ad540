package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"mcpstudio/internal/events"
)

var eventsCmd = &cobra.Command{
	Use:   "events [pattern]",
	Short: "Stream studio events",
	Long: `Follows the studio's event bus until interrupted.

Topics are dot separated: servers.<id>, executions.<server-id> and
credentials.<integration>. In a pattern '*' matches one segment and a trailing
'>' matches the rest; the default '>' follows everything.

Examples:
  mcpstudio events
  mcpstudio events 'servers.*'
  mcpstudio events 'credentials.github' -o json`,
	Args: cobra.MaximumNArgs(1),
	RunE: withSession(func(ctx context.Context, s *session, args []string) error {
		pattern := ">"
		if len(args) == 1 {
			pattern = args[0]
		}
		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()
		return s.client.StreamEvents(ctx, pattern, func(e events.Event) error {
			return s.printer.Event(e)
		})
	}),
}

func init() {
	rootCmd.AddCommand(eventsCmd)
}
