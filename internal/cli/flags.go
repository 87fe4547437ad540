package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mcpstudio/internal/config"
)

// EnvEndpoint overrides the studio endpoint for every command.
const EnvEndpoint = "MCPSTUDIO_ENDPOINT"

// CommandFlags holds the flag values shared by commands that talk to a
// running studio.
type CommandFlags struct {
	// OutputFormat is one of table, wide, json, yaml.
	OutputFormat string
	// NoHeaders suppresses the header row in table output
	NoHeaders bool
	// Quiet suppresses spinners and non-essential output
	Quiet bool
	// Debug enables debug logging
	Debug bool
	// ConfigPath is the configuration directory used to derive the endpoint
	ConfigPath string
	// Endpoint is the studio base URL. Empty derives it from the config.
	Endpoint string
}

// RegisterCommonFlags registers the shared flags as persistent flags on cmd.
//
// The registered flags are:
//   - --output/-o: Output format (table, wide, json, yaml), default: "table"
//   - --no-headers: Suppress header row in table output
//   - --quiet/-q: Suppress non-essential output
//   - --debug: Enable debug logging
//   - --config-path: Configuration directory
//   - --endpoint: Studio base URL (env: MCPSTUDIO_ENDPOINT)
func RegisterCommonFlags(cmd *cobra.Command, flags *CommandFlags) {
	cmd.PersistentFlags().StringVarP(&flags.OutputFormat, "output", "o", string(OutputFormatTable), "Output format (table, wide, json, yaml)")
	cmd.PersistentFlags().BoolVar(&flags.NoHeaders, "no-headers", false, "Suppress header row in table output")
	cmd.PersistentFlags().BoolVarP(&flags.Quiet, "quiet", "q", false, "Suppress non-essential output")
	cmd.PersistentFlags().BoolVar(&flags.Debug, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&flags.ConfigPath, "config-path", config.GetDefaultConfigPathOrPanic(), "Configuration directory")
	cmd.PersistentFlags().StringVar(&flags.Endpoint, "endpoint", os.Getenv(EnvEndpoint), "Studio base URL (env: MCPSTUDIO_ENDPOINT)")
}

// ResolveEndpoint returns the endpoint flag if set, otherwise the base URL
// of the server configured in ConfigPath. A missing config falls back to the
// default listen address.
func (f *CommandFlags) ResolveEndpoint() (string, error) {
	if f.Endpoint != "" {
		return f.Endpoint, nil
	}
	cfg, err := config.LoadConfig(f.ConfigPath)
	if err != nil {
		return "", fmt.Errorf("resolving endpoint from %s: %w", f.ConfigPath, err)
	}
	return cfg.Server.BaseURL(), nil
}

// Printer builds a Printer for the selected output format.
func (f *CommandFlags) Printer() (*Printer, error) {
	format, err := ParseOutputFormat(f.OutputFormat)
	if err != nil {
		return nil, err
	}
	return &Printer{
		Out:       os.Stdout,
		Err:       os.Stderr,
		Format:    format,
		NoHeaders: f.NoHeaders,
		Quiet:     f.Quiet,
	}, nil
}
