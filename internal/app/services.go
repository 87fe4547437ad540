package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"mcpstudio/internal/config"
	"mcpstudio/internal/credentials"
	"mcpstudio/internal/definitions"
	"mcpstudio/internal/deployment"
	"mcpstudio/internal/events"
	"mcpstudio/internal/execution"
	"mcpstudio/internal/mcpclient"
	"mcpstudio/internal/oauth"
	"mcpstudio/internal/registry"
	"mcpstudio/internal/server"
	"mcpstudio/pkg/logging"
)

// Services holds every component of a running studio.
//
// They are initialized in dependency order:
//  1. Registry (storage backend) and event bus
//  2. Credential store and OAuth manager
//  3. Protocol client
//  4. Deployment manager, with connection loss wired back from the client
//  5. Execution engine
//  6. Definitions watcher and HTTP API
type Services struct {
	Registry    registry.Registry
	Bus         *events.Bus
	Credentials *credentials.Store
	OAuth       *oauth.Manager
	Client      *mcpclient.Client
	Deployment  *deployment.Manager
	Execution   *execution.Engine
	Definitions *definitions.Watcher
	API         *server.Server
}

// InitializeServices builds the component graph from cfg. Nothing is
// started; on error everything created so far is closed again.
func InitializeServices(ctx context.Context, cfg *config.Config, version string) (*Services, error) {
	s := &Services{}
	if err := s.init(ctx, cfg, version); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Services) init(ctx context.Context, cfg *config.Config, version string) error {
	var err error

	s.Registry, err = registry.Open(ctx, registry.Options{
		Driver:        cfg.Storage.Driver,
		Path:          cfg.Storage.Path,
		DSN:           cfg.Storage.DSN,
		MongoURI:      cfg.Storage.MongoURI,
		MongoDatabase: cfg.Storage.MongoDatabase,
	})
	if err != nil {
		return fmt.Errorf("opening %s registry: %w", cfg.Storage.Driver, err)
	}
	logging.Info("Services", "Opened %s registry", cfg.Storage.Driver)

	s.Bus = events.NewBus(events.Options{BufferSize: cfg.Events.BufferSize})

	key, err := credentials.ResolveKey(cfg.Credentials.Key, cfg.Credentials.KeyFile)
	if err != nil {
		return err
	}
	sealer, err := credentials.NewSealer(key)
	if err != nil {
		return err
	}
	s.Credentials = credentials.NewStore(s.Registry, sealer)

	s.OAuth, err = oauth.NewManager(oauth.Options{
		Integrations:  Integrations(cfg),
		Store:         s.Credentials,
		Publisher:     s.Bus,
		RefreshMargin: cfg.OAuth.RefreshMargin.Std(),
		StateTTL:      cfg.OAuth.StateTTL.Std(),
	})
	if err != nil {
		return fmt.Errorf("configuring oauth: %w", err)
	}

	s.Client = mcpclient.New(mcpclient.Options{
		HTTPClient:     &http.Client{},
		Credentials:    s.OAuth,
		ConnectTimeout: cfg.Protocol.ConnectTimeout.Std(),
		InvokeTimeout:  cfg.Protocol.InvokeTimeout.Std(),
		ProbeTimeout:   cfg.Protocol.ProbeTimeout.Std(),
		Version:        version,
	})

	s.Deployment, err = deployment.NewManager(deployment.Options{
		Store:         s.Registry,
		Connector:     s.Client,
		Publisher:     s.Bus,
		Revoker:       s.OAuth,
		DeployTimeout: cfg.Deployment.Timeout.Std(),
		Recovery:      cfg.Deployment.Recovery,
	})
	if err != nil {
		return err
	}
	s.Client.OnConnectionLost(s.Deployment.HandleConnectionLost)

	s.Execution, err = execution.NewEngine(execution.Options{
		Store:       s.Registry,
		Invoker:     s.Client,
		Credentials: s.OAuth,
		Publisher:   s.Bus,
		Timeout:     cfg.Protocol.InvokeTimeout.Std(),
	})
	if err != nil {
		return err
	}

	if cfg.Definitions.Dir != "" {
		s.Definitions = definitions.NewWatcher(cfg.Definitions.Dir, s.Deployment, s.Registry, cfg.Definitions.Debounce.Std())
	}

	s.API, err = server.New(server.Options{
		Address:           cfg.Server.Address(),
		Store:             s.Registry,
		Lifecycle:         s.Deployment,
		Executor:          s.Execution,
		Authorizer:        s.OAuth,
		Events:            s.Bus,
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		DeployWaitTimeout: cfg.Deployment.Timeout.Std() + deployWaitSlack,
	})
	if err != nil {
		return err
	}
	return nil
}

// Integrations converts the configured integrations, defaulting the redirect
// URL to the studio's own callback endpoint.
func Integrations(cfg *config.Config) []oauth.Integration {
	out := make([]oauth.Integration, 0, len(cfg.OAuth.Integrations))
	for _, in := range cfg.OAuth.Integrations {
		redirect := in.RedirectURL
		if redirect == "" {
			redirect = strings.TrimSuffix(cfg.Server.BaseURL(), "/") + server.CallbackPath
		}
		out = append(out, oauth.Integration{
			Name:         in.Name,
			ClientID:     in.ClientID,
			ClientSecret: in.ClientSecret,
			AuthURL:      in.AuthURL,
			TokenURL:     in.TokenURL,
			RevokeURL:    in.RevokeURL,
			RedirectURL:  redirect,
			Scopes:       in.Scopes,
			PKCE:         in.PKCE,
			AuthStyle:    in.AuthStyle,
		})
	}
	return out
}

// Close releases every component in reverse order of creation. It is safe
// on a partially initialized Services.
func (s *Services) Close() error {
	var errs []error
	if s.Definitions != nil {
		s.Definitions.Stop()
	}
	if s.Deployment != nil {
		s.Deployment.Close()
	}
	if s.Client != nil {
		s.Client.CloseAll()
	}
	if s.OAuth != nil {
		s.OAuth.Close()
	}
	if s.Bus != nil {
		s.Bus.Close()
	}
	if s.Registry != nil {
		if err := s.Registry.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing registry: %w", err))
		}
	}
	return errors.Join(errs...)
}
