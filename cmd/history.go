package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"mcpstudio/internal/api"
	"mcpstudio/internal/client"
)

var (
	historyServer string
	historyTool   string
	historyStatus string
	historySince  string
	historyLimit  int
	historyOffset int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the tool execution history",
	Long: `Lists recorded tool executions, newest first.

Examples:
  mcpstudio history --server weather --status error
  mcpstudio history --since 1h --limit 100
  mcpstudio history get 0b6f4c1e-1111-4222-8333-944455556666 -o yaml`,
	Args: cobra.NoArgs,
	RunE: withSession(func(ctx context.Context, s *session, _ []string) error {
		q := client.HistoryQuery{
			Server: historyServer,
			Tool:   historyTool,
			Status: api.ExecutionStatus(historyStatus),
			Limit:  historyLimit,
			Offset: historyOffset,
		}
		if historyTool != "" && historyServer == "" {
			return fmt.Errorf("--tool requires --server")
		}
		if historySince != "" {
			since, err := parseSince(historySince, time.Now())
			if err != nil {
				return err
			}
			q.Since = since
		}
		page, err := s.client.History(ctx, q)
		if err != nil {
			return err
		}
		return s.printer.History(page)
	}),
}

// parseSince accepts a duration relative to now (30m, 24h) or an RFC 3339
// timestamp.
func parseSince(v string, now time.Time) (time.Time, error) {
	if d, err := time.ParseDuration(v); err == nil {
		if d < 0 {
			d = -d
		}
		return now.Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("--since must be a duration like 1h or an RFC 3339 time, got %q", v)
	}
	return t, nil
}

var historyGetCmd = &cobra.Command{
	Use:   "get <execution-id>",
	Short: "Show one execution record",
	Args:  cobra.ExactArgs(1),
	RunE: withSession(func(ctx context.Context, s *session, args []string) error {
		record, err := s.client.GetExecution(ctx, args[0])
		if err != nil {
			return err
		}
		return s.printer.Execution(record)
	}),
}

func init() {
	historyCmd.Flags().StringVar(&historyServer, "server", "", "Only executions on this server (id or name)")
	historyCmd.Flags().StringVar(&historyTool, "tool", "", "Only executions of this tool (id or name, needs --server)")
	historyCmd.Flags().StringVar(&historyStatus, "status", "", "Only executions with this status: success or error")
	historyCmd.Flags().StringVar(&historySince, "since", "", "Only executions started after this time (1h, 2026-01-02T15:04:05Z)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 50, "Maximum number of records")
	historyCmd.Flags().IntVar(&historyOffset, "offset", 0, "Number of records to skip")

	historyCmd.AddCommand(historyGetCmd)
	rootCmd.AddCommand(historyCmd)
}
