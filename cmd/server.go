package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"mcpstudio/internal/api"
	"mcpstudio/internal/cli"
	"mcpstudio/internal/definitions"
)

var (
	serverFile         string
	serverDescription  string
	serverEndpoint     string
	serverWebSocketURL string
	serverTransport    string
	serverHeaders      []string
	serverIntegration  string
	serverAccount      string
	serverDeploy       bool
	serverNoWait       bool
)

var serverCmd = &cobra.Command{
	Use:     "server",
	Aliases: []string{"servers"},
	Short:   "Manage registered MCP servers",
}

var serverListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List registered servers",
	Args:    cobra.NoArgs,
	RunE: withSession(func(ctx context.Context, s *session, _ []string) error {
		servers, err := s.client.ListServers(ctx)
		if err != nil {
			return err
		}
		return s.printer.Servers(servers)
	}),
}

var serverGetCmd = &cobra.Command{
	Use:   "get <server>",
	Short: "Show a server with its capabilities",
	Args:  cobra.ExactArgs(1),
	RunE: withSession(func(ctx context.Context, s *session, args []string) error {
		server, err := s.client.GetServer(ctx, args[0])
		if err != nil {
			return err
		}
		return s.printer.Server(server)
	}),
}

var serverRegisterCmd = &cobra.Command{
	Use:   "register [name]",
	Short: "Register a new server",
	Long: `Registers a server from flags or from a definition file.

Examples:
  # HTTP server
  mcpstudio server register weather --url https://weather.example.com/mcp

  # websocket control channel with HTTP invocations, authenticated via GitHub
  mcpstudio server register gh --transport both \
    --url https://gh.example.com/mcp --ws-url wss://gh.example.com/ws \
    --integration github --account ada --deploy

  # from a definition file, the same format as the servers/ directory
  mcpstudio server register -f weather.yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: withSession(func(ctx context.Context, s *session, args []string) error {
		req, err := registerRequest(args)
		if err != nil {
			return err
		}
		var server *api.Server
		err = s.printer.Progress("Registering "+req.Name+"...", func() error {
			var err error
			server, err = s.client.RegisterServer(ctx, req)
			if err != nil || !req.Deploy {
				return err
			}
			server, err = s.client.Deploy(ctx, server.ID, true)
			return err
		})
		if err != nil {
			return err
		}
		s.printer.Success("Server %s registered", server.Name)
		return deployOutcome(s, server, req.Deploy)
	}),
}

func registerRequest(args []string) (api.RegisterServerRequest, error) {
	if serverFile != "" {
		def, err := definitions.LoadFile(serverFile)
		if err != nil {
			return api.RegisterServerRequest{}, err
		}
		if len(args) == 1 {
			def.Name = args[0]
		}
		return api.RegisterServerRequest{
			Name:        def.Name,
			Description: def.Description,
			Config:      def.Config,
			Deploy:      def.Deploy || serverDeploy,
		}, nil
	}
	if len(args) == 0 {
		return api.RegisterServerRequest{}, fmt.Errorf("a server name is required unless --file is given")
	}
	cfg := api.ServerConfig{
		Transport:    api.Transport(serverTransport),
		Endpoint:     serverEndpoint,
		WebSocketURL: serverWebSocketURL,
	}
	if err := applyServerFlags(&cfg); err != nil {
		return api.RegisterServerRequest{}, err
	}
	return api.RegisterServerRequest{
		Name:        args[0],
		Description: serverDescription,
		Config:      cfg,
		Deploy:      serverDeploy,
	}, nil
}

// applyServerFlags copies the header and auth flags onto cfg.
func applyServerFlags(cfg *api.ServerConfig) error {
	if len(serverHeaders) > 0 {
		headers, err := cli.ParseParams(serverHeaders)
		if err != nil {
			return fmt.Errorf("--header: %w", err)
		}
		if cfg.Headers == nil {
			cfg.Headers = make(map[string]string, len(headers))
		}
		for k, v := range headers {
			cfg.Headers[k] = fmt.Sprint(v)
		}
	}
	if serverIntegration != "" {
		cfg.Auth = api.AuthConfig{Type: api.AuthOAuth2, Integration: serverIntegration, Account: serverAccount}
	}
	return nil
}

var serverUpdateCmd = &cobra.Command{
	Use:   "update <server>",
	Short: "Change a server's description or connection settings",
	Long: `Updates the given fields of a registered server. Changing the connection
settings of a deployed server takes effect on the next deploy.`,
	Args: cobra.ExactArgs(1),
	RunE: withSession(func(ctx context.Context, s *session, args []string) error {
		current, err := s.client.GetServer(ctx, args[0])
		if err != nil {
			return err
		}
		var req api.UpdateServerRequest
		if s.cmd.Flags().Changed("description") {
			req.Description = &serverDescription
		}
		cfg := current.Config
		changed := false
		if s.cmd.Flags().Changed("url") {
			cfg.Endpoint, changed = serverEndpoint, true
		}
		if s.cmd.Flags().Changed("ws-url") {
			cfg.WebSocketURL, changed = serverWebSocketURL, true
		}
		if s.cmd.Flags().Changed("transport") {
			cfg.Transport, changed = api.Transport(serverTransport), true
		}
		if len(serverHeaders) > 0 || serverIntegration != "" {
			if err := applyServerFlags(&cfg); err != nil {
				return err
			}
			changed = true
		}
		if changed {
			req.Config = &cfg
		}
		if req.Description == nil && req.Config == nil {
			return fmt.Errorf("nothing to update: pass at least one of --description, --url, --ws-url, --transport, --header, --integration")
		}
		server, err := s.client.UpdateServer(ctx, current.ID, req)
		if err != nil {
			return err
		}
		s.printer.Success("Server %s updated", server.Name)
		return s.printer.Server(server)
	}),
}

var serverDeployCmd = &cobra.Command{
	Use:   "deploy <server>",
	Short: "Connect to a server and discover its capabilities",
	Long: `Deploys a server: the studio connects to it, discovers its tools, resources
and prompts, and marks it DEPLOYED. By default the command waits for the
outcome; --no-wait returns as soon as the deployment has started.`,
	Args: cobra.ExactArgs(1),
	RunE: withSession(func(ctx context.Context, s *session, args []string) error {
		var server *api.Server
		err := s.printer.Progress("Deploying "+args[0]+"...", func() error {
			var err error
			server, err = s.client.Deploy(ctx, args[0], !serverNoWait)
			return err
		})
		if err != nil {
			return err
		}
		return deployOutcome(s, server, !serverNoWait)
	}),
}

// deployOutcome prints the server and fails the command when a waited for
// deployment ended in FAILED.
func deployOutcome(s *session, server *api.Server, waited bool) error {
	if err := s.printer.Server(server); err != nil {
		return err
	}
	switch {
	case !waited:
		return nil
	case server.State == api.StateFailed:
		return &reportedError{err: fmt.Errorf("deployment of %s failed: %s", server.Name, server.LastError)}
	case server.State == api.StateDeployed:
		s.printer.Success("Server %s deployed with %d tools", server.Name, len(server.Tools))
	}
	return nil
}

var serverUndeployCmd = &cobra.Command{
	Use:   "undeploy <server>",
	Short: "Disconnect from a deployed server",
	Args:  cobra.ExactArgs(1),
	RunE: withSession(func(ctx context.Context, s *session, args []string) error {
		server, err := s.client.Undeploy(ctx, args[0])
		if err != nil {
			return err
		}
		s.printer.Success("Server %s undeployed", server.Name)
		return nil
	}),
}

var serverDeregisterCmd = &cobra.Command{
	Use:     "deregister <server>",
	Aliases: []string{"rm", "delete"},
	Short:   "Remove a server and everything discovered from it",
	Args:    cobra.ExactArgs(1),
	RunE: withSession(func(ctx context.Context, s *session, args []string) error {
		if err := s.client.DeregisterServer(ctx, args[0]); err != nil {
			return err
		}
		s.printer.Success("Server %s deregistered", args[0])
		return nil
	}),
}

func addServerConfigFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&serverDescription, "description", "", "Human readable description")
	cmd.Flags().StringVar(&serverEndpoint, "url", "", "HTTP endpoint of the MCP server")
	cmd.Flags().StringVar(&serverWebSocketURL, "ws-url", "", "Websocket URL (transport websocket or both)")
	cmd.Flags().StringVar(&serverTransport, "transport", string(api.TransportHTTP), "Transport: http, websocket or both")
	cmd.Flags().StringArrayVar(&serverHeaders, "header", nil, "Static request header as Name=value (repeatable)")
	cmd.Flags().StringVar(&serverIntegration, "integration", "", "OAuth integration that authenticates calls")
	cmd.Flags().StringVar(&serverAccount, "account", "", "Integration account to use")
}

func init() {
	addServerConfigFlags(serverRegisterCmd)
	serverRegisterCmd.Flags().StringVarP(&serverFile, "file", "f", "", "Register from a server definition file")
	serverRegisterCmd.Flags().BoolVar(&serverDeploy, "deploy", false, "Deploy right after registering and wait for the outcome")

	addServerConfigFlags(serverUpdateCmd)

	serverDeployCmd.Flags().BoolVar(&serverNoWait, "no-wait", false, "Return once the deployment has started")

	serverCmd.AddCommand(serverListCmd, serverGetCmd, serverRegisterCmd, serverUpdateCmd,
		serverDeployCmd, serverUndeployCmd, serverDeregisterCmd)
	rootCmd.AddCommand(serverCmd)
}
