package deployment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"mcpstudio/internal/api"
	"mcpstudio/internal/events"
	"mcpstudio/internal/mcpclient"
	"mcpstudio/internal/registry"
	"mcpstudio/pkg/logging"
)

// Recovery policies for servers found DEPLOYING at start-up.
const (
	RecoveryFail  = "fail"
	RecoveryRetry = "retry"
)

const (
	DefaultDeployTimeout = 60 * time.Second

	// finalizeTimeout bounds the registry write that ends an attempt. It runs
	// detached from the attempt's context so a cancelled attempt still lands
	// in FAILED.
	finalizeTimeout = 10 * time.Second

	reasonInterrupted = "deployment interrupted by restart"
)

// Connector is the part of the protocol client the state machine drives.
type Connector interface {
	Connect(ctx context.Context, server *api.Server) (*mcpclient.Handle, error)
	Discover(ctx context.Context, h *mcpclient.Handle) (*api.Capabilities, error)
	Close(serverID string) error
}

// Revoker invalidates the credential bound to a deregistered server.
type Revoker interface {
	Revoke(ctx context.Context, integration, account string) error
}

// Store is the persistence the state machine needs.
type Store interface {
	registry.ServerStore
	registry.CapabilityStore
}

// Options configures a Manager.
type Options struct {
	Store     Store
	Connector Connector
	Publisher events.Publisher
	// Revoker is optional; without it deregistration leaves credentials alone.
	Revoker       Revoker
	DeployTimeout time.Duration
	// Recovery is RecoveryFail or RecoveryRetry.
	Recovery string
	Now      func() time.Time
}

// RegisterRequest describes a new server.
type RegisterRequest struct {
	Name        string           `json:"name" yaml:"name"`
	Description string           `json:"description,omitempty" yaml:"description,omitempty"`
	Config      api.ServerConfig `json:"config" yaml:"config"`
}

// Manager owns the deployment lifecycle of registered servers. Transitions of
// one server are serialised; different servers proceed independently.
type Manager struct {
	opts  Options
	locks *keyedMutex

	mu       sync.Mutex
	attempts map[string]*Attempt
	wg       sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates a Manager.
func NewManager(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("deployment manager requires a store")
	}
	if opts.Connector == nil {
		return nil, fmt.Errorf("deployment manager requires a connector")
	}
	if opts.Publisher == nil {
		opts.Publisher = events.Discard
	}
	if opts.DeployTimeout <= 0 {
		opts.DeployTimeout = DefaultDeployTimeout
	}
	switch opts.Recovery {
	case "":
		opts.Recovery = RecoveryFail
	case RecoveryFail, RecoveryRetry:
	default:
		return nil, fmt.Errorf("unknown recovery policy %q", opts.Recovery)
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		opts:     opts,
		locks:    newKeyedMutex(),
		attempts: make(map[string]*Attempt),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Close cancels running attempts and waits for them to record their outcome.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}

// Register creates a server in NOT_DEPLOYED.
func (m *Manager) Register(ctx context.Context, req RegisterRequest) (*api.Server, error) {
	if err := req.Config.Validate(); err != nil {
		return nil, err
	}
	now := m.opts.Now()
	server := &api.Server{
		Name:        req.Name,
		Description: req.Description,
		Config:      req.Config,
		State:       api.StateNotDeployed,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.opts.Store.CreateServer(ctx, server); err != nil {
		return nil, err
	}
	logging.Info("Deployment", "Registered server %s (%s)", server.Name, logging.TruncateID(server.ID))
	m.publish(api.EventServerRegistered, server, "", "")
	return server, nil
}

// Update changes a server's descriptive fields. A new configuration takes
// effect on the next deployment.
func (m *Manager) Update(ctx context.Context, id string, update registry.ServerUpdate) (*api.Server, error) {
	if update.Config != nil {
		if err := update.Config.Validate(); err != nil {
			return nil, err
		}
	}
	unlock := m.locks.Lock(id)
	defer unlock()

	server, err := m.opts.Store.UpdateServer(ctx, id, update)
	if err != nil {
		return nil, err
	}
	m.publish(api.EventServerUpdated, server, "", "")
	return server, nil
}

// Deploy moves the server to DEPLOYING and starts connecting and discovering
// in the background. It serves first deployments, redeployments and retries;
// a server that is already DEPLOYING is rejected with a ConflictError.
func (m *Manager) Deploy(ctx context.Context, id string) (*Attempt, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	if m.ctx.Err() != nil {
		return nil, fmt.Errorf("deployment manager is closed")
	}

	prev, err := m.opts.Store.GetServer(ctx, id)
	if err != nil {
		return nil, err
	}
	server, err := m.opts.Store.Transition(ctx, id, registry.Transition{
		From: []api.DeploymentState{api.StateNotDeployed, api.StateDeployed, api.StateFailed},
		To:   api.StateDeploying,
		At:   m.opts.Now(),
	})
	if err != nil {
		return nil, err
	}

	// A redeploy always starts from a fresh connection.
	_ = m.opts.Connector.Close(id)

	attemptCtx, cancel := context.WithTimeout(m.ctx, m.opts.DeployTimeout)
	attempt := newAttempt(id, cancel)
	m.mu.Lock()
	m.attempts[id] = attempt
	m.mu.Unlock()

	logging.Info("Deployment", "Deploying server %s from %s", server.Name, prev.State)
	m.publish(api.EventServerDeploying, server, prev.State, "")

	m.wg.Add(1)
	go m.run(attemptCtx, attempt, server)
	return attempt, nil
}

func (m *Manager) run(ctx context.Context, attempt *Attempt, server *api.Server) {
	defer m.wg.Done()
	defer attempt.cancel()

	h, caps, discoverErr := m.connectAndDiscover(ctx, server)

	unlock := m.locks.Lock(server.ID)
	defer unlock()
	// A loss reported before the lock was taken found the server DEPLOYING
	// and was ignored.
	if discoverErr == nil && h.Closed() {
		discoverErr = &api.ConnectError{ServerID: server.ID, URL: h.URL, Err: errors.New("connection lost during discovery")}
	}
	m.mu.Lock()
	if m.attempts[server.ID] == attempt {
		delete(m.attempts, server.ID)
	}
	m.mu.Unlock()

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if discoverErr == nil && ctx.Err() != nil {
		discoverErr = ctx.Err()
	}
	if discoverErr == nil {
		m.carryAuthored(wctx, server.ID, caps)
		deployed, err := m.opts.Store.Transition(wctx, server.ID, registry.Transition{
			From:          []api.DeploymentState{api.StateDeploying},
			To:            api.StateDeployed,
			DeploymentURL: h.URL,
			Capabilities:  caps,
			At:            m.opts.Now(),
		})
		switch {
		case err == nil:
			if h, ok := m.handle(server.ID); ok {
				h.UseTools(deployed.Tools)
			}
			logging.Info("Deployment", "Server %s deployed at %s with %d tools, %d resources, %d prompts",
				deployed.Name, h.URL, len(deployed.Tools), len(deployed.Resources), len(deployed.Prompts))
			m.publish(api.EventServerDeployed, deployed, api.StateDeploying, "")
			attempt.finish(deployed, nil)
			return
		case api.IsNotFound(err) || api.IsConflict(err):
			// Deregistered or moved on while the attempt ran.
			_ = m.opts.Connector.Close(server.ID)
			attempt.finish(nil, err)
			return
		default:
			discoverErr = err
		}
	}

	_ = m.opts.Connector.Close(server.ID)
	reason := failureReason(ctx, discoverErr, m.opts.DeployTimeout)
	failed, err := m.opts.Store.Transition(wctx, server.ID, registry.Transition{
		From:   []api.DeploymentState{api.StateDeploying},
		To:     api.StateFailed,
		Reason: reason,
		At:     m.opts.Now(),
	})
	if err != nil {
		logging.Debug("Deployment", "Could not record failure of server %s: %v", server.Name, err)
		attempt.finish(nil, discoverErr)
		return
	}
	logging.Warn("Deployment", "Deployment of server %s failed: %s", server.Name, reason)
	m.publish(api.EventServerDeploymentFailed, failed, api.StateDeploying, reason)
	attempt.finish(failed, fmt.Errorf("deployment of server %s failed: %w", server.Name, discoverErr))
}

// handle returns the connection the attempt opened, when the connector is the
// protocol client.
func (m *Manager) handle(serverID string) (*mcpclient.Handle, bool) {
	if c, ok := m.opts.Connector.(interface {
		Handle(string) (*mcpclient.Handle, bool)
	}); ok {
		return c.Handle(serverID)
	}
	return nil, false
}

func (m *Manager) connectAndDiscover(ctx context.Context, server *api.Server) (*mcpclient.Handle, *api.Capabilities, error) {
	h, err := m.opts.Connector.Connect(ctx, server)
	if err != nil {
		return nil, nil, err
	}
	caps, err := m.opts.Connector.Discover(ctx, h)
	if err != nil {
		return nil, nil, err
	}
	return h, caps, nil
}

// carryAuthored keeps user authored tools and prompt templates across
// deployments and gives rediscovered tools their previous ids. Everything
// else in caps replaces what was stored.
func (m *Manager) carryAuthored(ctx context.Context, serverID string, caps *api.Capabilities) {
	tools, err := m.opts.Store.ListTools(ctx, serverID)
	if err != nil {
		logging.Warn("Deployment", "Could not load existing tools of server %s: %v", serverID, err)
		return
	}
	previous := make(map[string]api.Tool, len(tools))
	for _, t := range tools {
		previous[t.Name] = t
	}
	discovered := make(map[string]bool, len(caps.Tools))
	for i := range caps.Tools {
		t := &caps.Tools[i]
		discovered[t.Name] = true
		if old, ok := previous[t.Name]; ok && old.Source == api.SourceDiscovered {
			t.ID, t.CreatedAt = old.ID, old.CreatedAt
		}
	}
	for _, t := range tools {
		if t.Source != api.SourceAuthored {
			continue
		}
		if discovered[t.Name] {
			logging.Warn("Deployment", "Authored tool %s on server %s is replaced by a discovered tool of the same name", t.Name, serverID)
			continue
		}
		caps.Tools = append(caps.Tools, t)
	}

	prompts, err := m.opts.Store.ListPrompts(ctx, serverID)
	if err != nil {
		logging.Warn("Deployment", "Could not load existing prompts of server %s: %v", serverID, err)
		return
	}
	promptNames := make(map[string]bool, len(caps.Prompts))
	for _, p := range caps.Prompts {
		promptNames[p.Name] = true
	}
	for _, p := range prompts {
		if p.Template != "" && !promptNames[p.Name] {
			caps.Prompts = append(caps.Prompts, p)
		}
	}
}

func failureReason(ctx context.Context, err error, timeout time.Duration) string {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Sprintf("deployment timed out after %s", timeout)
	case errors.Is(ctx.Err(), context.Canceled):
		return "deployment cancelled"
	case err == nil:
		return "deployment failed"
	}
	return err.Error()
}

// Undeploy closes the server's connection and moves it back to NOT_DEPLOYED.
func (m *Manager) Undeploy(ctx context.Context, id string) (*api.Server, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	prev, err := m.opts.Store.GetServer(ctx, id)
	if err != nil {
		return nil, err
	}
	server, err := m.opts.Store.Transition(ctx, id, registry.Transition{
		From: []api.DeploymentState{api.StateDeployed, api.StateFailed, api.StateNotDeployed},
		To:   api.StateNotDeployed,
		At:   m.opts.Now(),
	})
	if err != nil {
		return nil, err
	}
	_ = m.opts.Connector.Close(id)
	logging.Info("Deployment", "Undeployed server %s", server.Name)
	m.publish(api.EventServerUndeployed, server, prev.State, "")
	return server, nil
}

// Deregister cancels any running attempt, closes the connection, revokes the
// server's credential unless another server shares it, and deletes the
// server with all of its capabilities.
func (m *Manager) Deregister(ctx context.Context, id string) error {
	m.mu.Lock()
	if attempt, ok := m.attempts[id]; ok {
		attempt.cancel()
	}
	m.mu.Unlock()

	unlock := m.locks.Lock(id)
	defer unlock()

	server, err := m.opts.Store.GetServer(ctx, id)
	if err != nil {
		return err
	}
	_ = m.opts.Connector.Close(id)

	if err := m.revokeCredential(ctx, server); err != nil {
		logging.Warn("Deployment", "Could not revoke credential of server %s: %v", server.Name, err)
	}
	if err := m.opts.Store.DeleteServer(ctx, id); err != nil {
		return err
	}
	logging.Info("Deployment", "Deregistered server %s", server.Name)
	m.publish(api.EventServerDeregistered, server, server.State, "")
	return nil
}

func (m *Manager) revokeCredential(ctx context.Context, server *api.Server) error {
	auth := server.Config.Auth
	if m.opts.Revoker == nil || auth.Type != api.AuthOAuth2 {
		return nil
	}
	servers, err := m.opts.Store.ListServers(ctx)
	if err != nil {
		return err
	}
	for _, other := range servers {
		oa := other.Config.Auth
		if other.ID != server.ID && oa.Type == api.AuthOAuth2 && oa.Integration == auth.Integration && oa.Account == auth.Account {
			logging.Debug("Deployment", "Credential %s/%s still used by server %s", auth.Integration, auth.Account, other.Name)
			return nil
		}
	}
	return m.opts.Revoker.Revoke(ctx, auth.Integration, auth.Account)
}

// HandleConnectionLost moves a DEPLOYED server to FAILED after its connection
// went away without a user action. It matches mcpclient.LostFunc.
func (m *Manager) HandleConnectionLost(serverID string, cause error) {
	ctx, cancel := context.WithTimeout(m.ctx, finalizeTimeout)
	defer cancel()

	unlock := m.locks.Lock(serverID)
	defer unlock()

	reason := "connection lost"
	if cause != nil {
		reason = "connection lost: " + cause.Error()
	}
	server, err := m.opts.Store.Transition(ctx, serverID, registry.Transition{
		From:   []api.DeploymentState{api.StateDeployed},
		To:     api.StateFailed,
		Reason: reason,
		At:     m.opts.Now(),
	})
	if err != nil {
		logging.Debug("Deployment", "Ignoring connection loss of server %s: %v", serverID, err)
		return
	}
	logging.Warn("Deployment", "Server %s disconnected: %s", server.Name, reason)
	m.publish(api.EventServerDisconnected, server, api.StateDeployed, reason)
}

// Recover resolves servers left DEPLOYING by a previous process. Each becomes
// FAILED; with the retry policy it is deployed again. It returns the ids of
// the servers it touched.
func (m *Manager) Recover(ctx context.Context) ([]string, error) {
	servers, err := m.opts.Store.ListServers(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing servers for recovery: %w", err)
	}

	var recovered []string
	for _, s := range servers {
		if s.State != api.StateDeploying {
			continue
		}
		if err := m.failInterrupted(ctx, s.ID); err != nil {
			logging.Error("Deployment", err, "Could not recover server %s", s.Name)
			continue
		}
		recovered = append(recovered, s.ID)
		if m.opts.Recovery == RecoveryRetry {
			if _, err := m.Deploy(ctx, s.ID); err != nil {
				logging.Error("Deployment", err, "Could not redeploy server %s", s.Name)
			}
		}
	}
	if len(recovered) > 0 {
		logging.Info("Deployment", "Recovered %d interrupted deployments (policy %s)", len(recovered), m.opts.Recovery)
	}
	return recovered, nil
}

func (m *Manager) failInterrupted(ctx context.Context, id string) error {
	unlock := m.locks.Lock(id)
	defer unlock()

	m.mu.Lock()
	_, running := m.attempts[id]
	m.mu.Unlock()
	if running {
		return nil
	}
	server, err := m.opts.Store.Transition(ctx, id, registry.Transition{
		From:   []api.DeploymentState{api.StateDeploying},
		To:     api.StateFailed,
		Reason: reasonInterrupted,
		At:     m.opts.Now(),
	})
	if err != nil {
		return err
	}
	m.publish(api.EventServerDeploymentFailed, server, api.StateDeploying, reasonInterrupted)
	return nil
}

func (m *Manager) publish(eventType api.EventType, s *api.Server, from api.DeploymentState, reason string) {
	m.opts.Publisher.Publish(api.ServerTopic(s.ID), eventType, api.ServerStatePayload{
		ServerID:      s.ID,
		Name:          s.Name,
		From:          from,
		To:            s.State,
		DeploymentURL: s.DeploymentURL,
		Reason:        reason,
		Tools:         len(s.Tools),
		Resources:     len(s.Resources),
		Prompts:       len(s.Prompts),
	})
}
