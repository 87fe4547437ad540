package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"mcpstudio/internal/api"
	"mcpstudio/internal/deployment"
	"mcpstudio/internal/events"
	"mcpstudio/internal/execution"
	"mcpstudio/internal/registry"
	"mcpstudio/pkg/logging"
)

const (
	// DefaultReadHeaderTimeout is the default timeout for reading request headers.
	DefaultReadHeaderTimeout = 10 * time.Second
	// DefaultWriteTimeout bounds a response. It covers a synchronous deploy
	// (?wait=true) and a tool execution, so it sits above both defaults.
	DefaultWriteTimeout = 120 * time.Second
	// DefaultIdleTimeout is the default idle timeout for keepalive connections.
	DefaultIdleTimeout = 120 * time.Second

	// CallbackPath is where OAuth providers redirect after consent.
	CallbackPath = "/oauth/callback"

	maxBodyBytes = 1 << 20
)

// Lifecycle is the deployment manager surface the API drives.
type Lifecycle interface {
	Register(ctx context.Context, req deployment.RegisterRequest) (*api.Server, error)
	Update(ctx context.Context, id string, update registry.ServerUpdate) (*api.Server, error)
	Deploy(ctx context.Context, id string) (*deployment.Attempt, error)
	Undeploy(ctx context.Context, id string) (*api.Server, error)
	Deregister(ctx context.Context, id string) error
}

// Executor runs tools and reads the execution log.
type Executor interface {
	Execute(ctx context.Context, serverID, toolRef string, params map[string]any, caller execution.Caller) (*api.ExecutionRecord, error)
	History(ctx context.Context, filter api.ExecutionFilter) (*api.ExecutionPage, error)
	Get(ctx context.Context, id string) (*api.ExecutionRecord, error)
}

// Authorizer is the OAuth manager surface the API drives.
type Authorizer interface {
	Integrations() []string
	AuthCodeURL(integration, account string) (string, error)
	HandleCallback(ctx context.Context, state, code string) (*api.Credential, error)
	Status(ctx context.Context, integration, account string) (api.CredentialStatus, error)
	List(ctx context.Context, integration string) ([]api.CredentialStatus, error)
	Revoke(ctx context.Context, integration, account string) error
}

// Subscriber opens event bus subscriptions.
type Subscriber interface {
	Subscribe(ctx context.Context, pattern string) (*events.Subscription, error)
}

// Store is the read side of the registry plus capability authoring.
type Store interface {
	registry.ServerStore
	registry.CapabilityStore
}

// Options configures a Server. Authorizer may be nil when no integration is
// configured; the integration endpoints then answer 404.
type Options struct {
	Address    string
	Store      Store
	Lifecycle  Lifecycle
	Executor   Executor
	Authorizer Authorizer
	Events     Subscriber
	// AllowedOrigins are accepted on /ws/events besides same-origin requests.
	AllowedOrigins []string
	// DeployWaitTimeout bounds ?wait=true deploy requests.
	DeployWaitTimeout time.Duration
}

// Server is the HTTP API.
type Server struct {
	opts       Options
	httpServer *http.Server
	listener   net.Listener
}

// New validates the options and builds a Server.
func New(opts Options) (*Server, error) {
	if opts.Store == nil || opts.Lifecycle == nil || opts.Executor == nil || opts.Events == nil {
		return nil, errors.New("server requires a store, a lifecycle, an executor and an event source")
	}
	if opts.DeployWaitTimeout <= 0 {
		opts.DeployWaitTimeout = deployment.DefaultDeployTimeout + 5*time.Second
	}
	return &Server{opts: opts}, nil
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("GET /api/v1/servers", s.listServers)
	mux.HandleFunc("POST /api/v1/servers", s.registerServer)
	mux.HandleFunc("GET /api/v1/servers/{server}", s.getServer)
	mux.HandleFunc("PATCH /api/v1/servers/{server}", s.updateServer)
	mux.HandleFunc("DELETE /api/v1/servers/{server}", s.deregisterServer)
	mux.HandleFunc("POST /api/v1/servers/{server}/deploy", s.deployServer)
	mux.HandleFunc("POST /api/v1/servers/{server}/undeploy", s.undeployServer)

	mux.HandleFunc("GET /api/v1/servers/{server}/tools", s.listTools)
	mux.HandleFunc("POST /api/v1/servers/{server}/tools", s.saveTool)
	mux.HandleFunc("GET /api/v1/servers/{server}/tools/{tool}", s.getTool)
	mux.HandleFunc("DELETE /api/v1/servers/{server}/tools/{tool}", s.deleteTool)
	mux.HandleFunc("POST /api/v1/servers/{server}/tools/{tool}/execute", s.executeTool)
	mux.HandleFunc("GET /api/v1/servers/{server}/resources", s.listResources)
	mux.HandleFunc("GET /api/v1/servers/{server}/prompts", s.listPrompts)
	mux.HandleFunc("POST /api/v1/servers/{server}/prompts", s.savePrompt)
	mux.HandleFunc("POST /api/v1/servers/{server}/prompts/{prompt}/render", s.renderPrompt)

	mux.HandleFunc("GET /api/v1/executions", s.listExecutions)
	mux.HandleFunc("GET /api/v1/executions/{id}", s.getExecution)

	mux.HandleFunc("GET /api/v1/integrations", s.listIntegrations)
	mux.HandleFunc("POST /api/v1/integrations/{integration}/authorize", s.authorize)
	mux.HandleFunc("GET /api/v1/integrations/{integration}/credentials", s.listCredentials)
	mux.HandleFunc("GET /api/v1/integrations/{integration}/credentials/{account}", s.credentialStatus)
	mux.HandleFunc("DELETE /api/v1/integrations/{integration}/credentials/{account}", s.revokeCredential)
	mux.HandleFunc("GET "+CallbackPath, s.oauthCallback)

	mux.HandleFunc("GET /ws/events", s.streamEvents)

	return mux
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.opts.Address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.opts.Address, err)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
	}
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("Server", err, "HTTP server stopped")
		}
	}()
	logging.Info("Server", "Listening on %s", ln.Addr())
	return nil
}

// Addr is the bound address once Start returned.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.opts.Address
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// resolveServer accepts an id or a name.
func (s *Server) resolveServer(ctx context.Context, ref string) (*api.Server, error) {
	server, err := s.opts.Store.GetServer(ctx, ref)
	if err == nil || !api.IsNotFound(err) {
		return server, err
	}
	return s.opts.Store.GetServerByName(ctx, ref)
}
