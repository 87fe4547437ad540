package cmd

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"mcpstudio/internal/api"
	"mcpstudio/internal/cli"
)

var (
	toolParamsJSON string
	toolAccount    string
	toolActor      string
	toolTimeout    time.Duration
	toolFile       string
)

var toolCmd = &cobra.Command{
	Use:     "tool",
	Aliases: []string{"tools"},
	Short:   "List, author and execute tools of a server",
}

var toolListCmd = &cobra.Command{
	Use:     "list <server>",
	Aliases: []string{"ls"},
	Short:   "List the tools of a server",
	Args:    cobra.ExactArgs(1),
	RunE: withSession(func(ctx context.Context, s *session, args []string) error {
		tools, err := s.client.ListTools(ctx, args[0])
		if err != nil {
			return err
		}
		return s.printer.Tools(tools)
	}),
}

var toolGetCmd = &cobra.Command{
	Use:   "get <server> <tool>",
	Short: "Show a tool and its parameters",
	Args:  cobra.ExactArgs(2),
	RunE: withSession(func(ctx context.Context, s *session, args []string) error {
		tool, err := s.client.GetTool(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		return s.printer.Tool(tool)
	}),
}

var toolExecuteCmd = &cobra.Command{
	Use:     "execute <server> <tool> [key=value...]",
	Aliases: []string{"exec", "run"},
	Short:   "Execute a tool",
	Long: `Executes a tool on a deployed server and prints its result. Every execution
is recorded in the history, successful or not.

Parameters are given as key=value pairs. Values that parse as JSON keep their
type, so count=3 sends a number and tags='["a","b"]' sends an array. A value
of @path reads the file at path. --params takes a JSON object and is merged
under the key=value pairs.

Exit status is 2 when the tool's integration account has to be authorized
first, 1 for any other failure.

Examples:
  mcpstudio tool execute weather forecast city=Berlin days=3
  mcpstudio tool execute gh create_issue --account ada title="Bug" body=@issue.md`,
	Args: cobra.MinimumNArgs(2),
	RunE: withSession(func(ctx context.Context, s *session, args []string) error {
		params, err := cli.ParseParamsJSON(toolParamsJSON, args[2:])
		if err != nil {
			return err
		}
		req := api.ExecuteToolRequest{
			Params:  params,
			Actor:   actor(),
			Account: toolAccount,
		}
		if toolTimeout > 0 {
			req.Timeout = toolTimeout.String()
		}

		var record *api.ExecutionRecord
		err = s.printer.Progress("Executing "+args[1]+"...", func() error {
			var err error
			record, err = s.client.Execute(ctx, args[0], args[1], req)
			return err
		})
		if err != nil {
			return err
		}
		if err := s.printer.Execution(record); err != nil {
			return err
		}
		if record.Error != nil {
			return &reportedError{err: record.Error}
		}
		return nil
	}),
}

func actor() string {
	if toolActor != "" {
		return toolActor
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return "cli:" + u.Username
	}
	return "cli"
}

var toolCreateCmd = &cobra.Command{
	Use:     "create <server>",
	Aliases: []string{"save"},
	Short:   "Create or update an authored tool from a YAML file",
	Long: `Saves a tool definition authored by hand. A tool with the same name that was
authored before is replaced; discovered tools cannot be overridden.

Example file:
  name: forecast
  description: Weather forecast for a city
  parameters:
    - name: city
      type: string
      required: true
    - name: days
      type: integer`,
	Args: cobra.ExactArgs(1),
	RunE: withSession(func(ctx context.Context, s *session, args []string) error {
		var tool api.Tool
		if err := readYAMLFile(toolFile, &tool); err != nil {
			return err
		}
		saved, err := s.client.SaveTool(ctx, args[0], tool)
		if err != nil {
			return err
		}
		s.printer.Success("Tool %s saved", saved.Name)
		return s.printer.Tool(saved)
	}),
}

var toolDeleteCmd = &cobra.Command{
	Use:     "delete <server> <tool>",
	Aliases: []string{"rm"},
	Short:   "Delete an authored tool",
	Args:    cobra.ExactArgs(2),
	RunE: withSession(func(ctx context.Context, s *session, args []string) error {
		if err := s.client.DeleteTool(ctx, args[0], args[1]); err != nil {
			return err
		}
		s.printer.Success("Tool %s deleted", args[1])
		return nil
	}),
}

func readYAMLFile(path string, out any) error {
	if path == "" {
		return fmt.Errorf("--file is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

var resourceCmd = &cobra.Command{
	Use:     "resource",
	Aliases: []string{"resources"},
	Short:   "Inspect resources discovered on a server",
}

var resourceListCmd = &cobra.Command{
	Use:     "list <server>",
	Aliases: []string{"ls"},
	Short:   "List the resources of a server",
	Args:    cobra.ExactArgs(1),
	RunE: withSession(func(ctx context.Context, s *session, args []string) error {
		resources, err := s.client.ListResources(ctx, args[0])
		if err != nil {
			return err
		}
		return s.printer.Resources(resources)
	}),
}

var promptFile string

var promptCmd = &cobra.Command{
	Use:     "prompt",
	Aliases: []string{"prompts"},
	Short:   "List, author and render prompt templates",
}

var promptListCmd = &cobra.Command{
	Use:     "list <server>",
	Aliases: []string{"ls"},
	Short:   "List the prompt templates of a server",
	Args:    cobra.ExactArgs(1),
	RunE: withSession(func(ctx context.Context, s *session, args []string) error {
		prompts, err := s.client.ListPrompts(ctx, args[0])
		if err != nil {
			return err
		}
		return s.printer.Prompts(prompts)
	}),
}

var promptCreateCmd = &cobra.Command{
	Use:     "create <server>",
	Aliases: []string{"save"},
	Short:   "Create or update a prompt template from a YAML file",
	Args:    cobra.ExactArgs(1),
	RunE: withSession(func(ctx context.Context, s *session, args []string) error {
		var prompt api.PromptTemplate
		if err := readYAMLFile(promptFile, &prompt); err != nil {
			return err
		}
		saved, err := s.client.SavePrompt(ctx, args[0], prompt)
		if err != nil {
			return err
		}
		s.printer.Success("Prompt %s saved", saved.Name)
		return nil
	}),
}

var promptRenderCmd = &cobra.Command{
	Use:   "render <server> <prompt> [key=value...]",
	Short: "Render a prompt template with variables",
	Args:  cobra.MinimumNArgs(2),
	RunE: withSession(func(ctx context.Context, s *session, args []string) error {
		vars, err := cli.ParseParams(args[2:])
		if err != nil {
			return err
		}
		text, err := s.client.RenderPrompt(ctx, args[0], args[1], vars)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(s.printer.Out, text)
		return err
	}),
}

func init() {
	toolExecuteCmd.Flags().StringVar(&toolParamsJSON, "params", "", "Parameters as a JSON object")
	toolExecuteCmd.Flags().StringVar(&toolAccount, "account", "", "Integration account whose credential is used")
	toolExecuteCmd.Flags().StringVar(&toolActor, "actor", "", "Actor recorded in the history (default cli:<user>)")
	toolExecuteCmd.Flags().DurationVar(&toolTimeout, "timeout", 0, "Timeout of the remote call (default from server config)")
	toolCreateCmd.Flags().StringVarP(&toolFile, "file", "f", "", "Tool definition file")

	toolCmd.AddCommand(toolListCmd, toolGetCmd, toolExecuteCmd, toolCreateCmd, toolDeleteCmd)
	resourceCmd.AddCommand(resourceListCmd)

	promptCreateCmd.Flags().StringVarP(&promptFile, "file", "f", "", "Prompt template file")
	promptCmd.AddCommand(promptListCmd, promptCreateCmd, promptRenderCmd)

	rootCmd.AddCommand(toolCmd, resourceCmd, promptCmd)
}
