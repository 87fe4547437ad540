package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"mcpstudio/internal/config"
	"mcpstudio/pkg/logging"
)

const (
	// deployWaitSlack lets a waiting API request outlive the deploy timeout
	// so it sees the FAILED transition rather than its own deadline.
	deployWaitSlack = 5 * time.Second

	// ShutdownTimeout bounds the graceful shutdown of the HTTP API.
	ShutdownTimeout = 15 * time.Second
)

// Application represents a studio process: its configuration and the
// services built from it.
//
// The Application follows a two-phase initialization pattern:
//  1. Bootstrap phase: load configuration, initialize logging, build services
//  2. Execution phase: recover state, start the API and definitions watcher,
//     serve until the context ends
//
// Example usage:
//
//	cfg := app.NewConfig(false, "/etc/mcpstudio", version)
//	application, err := app.NewApplication(ctx, cfg)
//	if err != nil {
//	    return fmt.Errorf("failed to create application: %w", err)
//	}
//	return application.Run(ctx)
type Application struct {
	config   *Config
	services *Services
}

// NewApplication loads configuration, configures logging and builds all
// services. Nothing listens yet.
func NewApplication(ctx context.Context, cfg *Config) (*Application, error) {
	output := cfg.LogOutput
	if output == nil {
		output = os.Stderr
	}
	level := logging.LevelInfo
	if cfg.Debug {
		level = logging.LevelDebug
	}
	logging.InitForCLI(level, output)

	if cfg.Studio == nil {
		studioCfg, err := config.LoadConfig(cfg.ConfigPath)
		if err != nil {
			logging.Error("Bootstrap", err, "Failed to load configuration from %s", cfg.ConfigPath)
			return nil, fmt.Errorf("failed to load configuration from %s: %w", cfg.ConfigPath, err)
		}
		cfg.Studio = &studioCfg
	}

	if !cfg.Debug {
		level = logging.ParseLevel(cfg.Studio.Logging.Level)
	}
	logging.Init(level, logging.Format(cfg.Studio.Logging.Format), output)

	services, err := InitializeServices(ctx, cfg.Studio, cfg.Version)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to initialize services")
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return &Application{config: cfg, services: services}, nil
}

// Services exposes the initialized components.
func (a *Application) Services() *Services { return a.services }

// Start recovers interrupted deployments, applies server definitions and
// starts listening. It returns once the API accepts connections.
func (a *Application) Start(ctx context.Context) error {
	s := a.services
	if _, err := s.Deployment.Recover(ctx); err != nil {
		return err
	}

	if s.Definitions != nil {
		s.Definitions.Sync(ctx)
		if a.config.Studio.Definitions.Watch {
			if err := s.Definitions.Start(ctx); err != nil {
				logging.Warn("Bootstrap", "Not watching %s for definitions: %v", a.config.Studio.Definitions.Dir, err)
			}
		}
	}

	if err := s.API.Start(); err != nil {
		return err
	}
	logging.Info("Bootstrap", "mcpstudio %s ready at %s", a.config.Version, a.config.Studio.Server.BaseURL())

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logging.Warn("Bootstrap", "Failed to notify systemd: %v", err)
	} else if ok {
		logging.Debug("Bootstrap", "Notified systemd of readiness")
	}
	return nil
}

// Run starts the application and blocks until ctx is cancelled, then shuts
// down gracefully.
func (a *Application) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		_ = a.services.Close()
		return err
	}
	<-ctx.Done()
	return a.Shutdown()
}

// Shutdown stops the API, waits for in-flight deployments to settle and
// releases storage.
func (a *Application) Shutdown() error {
	logging.Info("Bootstrap", "Shutting down")
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := a.services.API.Shutdown(ctx); err != nil {
		logging.Error("Bootstrap", err, "HTTP API did not shut down cleanly")
	}
	return a.services.Close()
}
