package deployment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpstudio/internal/api"
	"mcpstudio/internal/events"
	"mcpstudio/internal/mcpclient"
	"mcpstudio/internal/registry"
	"mcpstudio/internal/schema"
)

type fakeConnector struct {
	mu         sync.Mutex
	caps       *api.Capabilities
	connectErr error
	block      chan struct{}
	connects   int
	closes     map[string]int
	// discovered runs after each discovery, before the attempt finishes.
	discovered func(h *mcpclient.Handle)
}

func newFakeConnector(tools ...string) *fakeConnector {
	f := &fakeConnector{closes: map[string]int{}}
	f.setTools(tools...)
	return f
}

func (f *fakeConnector) setTools(names ...string) {
	caps := &api.Capabilities{Tools: []api.Tool{}, Resources: []api.Resource{}, Prompts: []api.PromptTemplate{}}
	for _, n := range names {
		caps.Tools = append(caps.Tools, api.Tool{
			Name:       n,
			Source:     api.SourceDiscovered,
			Parameters: []api.Parameter{{Name: "location", Type: schema.KindString, Required: true}},
		})
	}
	f.mu.Lock()
	f.caps = caps
	f.mu.Unlock()
}

func (f *fakeConnector) fail(err error) {
	f.mu.Lock()
	f.connectErr = err
	f.mu.Unlock()
}

func (f *fakeConnector) hold() chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.block = make(chan struct{})
	return f.block
}

func (f *fakeConnector) Connect(ctx context.Context, server *api.Server) (*mcpclient.Handle, error) {
	f.mu.Lock()
	f.connects++
	block, err := f.block, f.connectErr
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, &api.ConnectError{ServerID: server.ID, URL: server.Config.Endpoint, Err: err}
	}
	return mcpclient.NewHandle(server, server.Config.Endpoint), nil
}

func (f *fakeConnector) Discover(ctx context.Context, h *mcpclient.Handle) (*api.Capabilities, error) {
	f.mu.Lock()
	cp := &api.Capabilities{
		Tools:     append([]api.Tool(nil), f.caps.Tools...),
		Resources: append([]api.Resource(nil), f.caps.Resources...),
		Prompts:   append([]api.PromptTemplate(nil), f.caps.Prompts...),
	}
	discovered := f.discovered
	f.mu.Unlock()
	if discovered != nil {
		discovered(h)
	}
	return cp, nil
}

func (f *fakeConnector) Close(serverID string) error {
	f.mu.Lock()
	f.closes[serverID]++
	f.mu.Unlock()
	return nil
}

func (f *fakeConnector) closeCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes[id]
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(topic string, eventType api.EventType, payload any) events.Event {
	e := events.Event{Topic: topic, Type: eventType, Payload: payload}
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
	return e
}

func (p *recordingPublisher) types() []api.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]api.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

func (p *recordingPublisher) last() api.ServerStatePayload {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[len(p.events)-1].Payload.(api.ServerStatePayload)
}

type fakeRevoker struct {
	mu      sync.Mutex
	revoked []string
}

func (r *fakeRevoker) Revoke(ctx context.Context, integration, account string) error {
	r.mu.Lock()
	r.revoked = append(r.revoked, integration+"/"+account)
	r.mu.Unlock()
	return nil
}

type fixture struct {
	store     *registry.MemoryRegistry
	connector *fakeConnector
	publisher *recordingPublisher
	revoker   *fakeRevoker
	manager   *Manager
}

func newFixture(t *testing.T, mutate ...func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		store:     registry.NewMemoryRegistry(),
		connector: newFakeConnector("getWeather"),
		publisher: &recordingPublisher{},
		revoker:   &fakeRevoker{},
	}
	opts := Options{Store: f.store, Connector: f.connector, Publisher: f.publisher, Revoker: f.revoker}
	for _, m := range mutate {
		m(&opts)
	}
	m, err := NewManager(opts)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	f.manager = m
	return f
}

func (f *fixture) register(t *testing.T, name string) *api.Server {
	t.Helper()
	s, err := f.manager.Register(context.Background(), RegisterRequest{
		Name:   name,
		Config: api.ServerConfig{Transport: api.TransportHTTP, Endpoint: "http://" + name + ".example.com/mcp"},
	})
	require.NoError(t, err)
	return s
}

func (f *fixture) deploy(t *testing.T, id string) (*api.Server, error) {
	t.Helper()
	attempt, err := f.manager.Deploy(context.Background(), id)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return attempt.Wait(ctx)
}

func (f *fixture) get(t *testing.T, id string) *api.Server {
	t.Helper()
	s, err := f.store.GetServer(context.Background(), id)
	require.NoError(t, err)
	assertURLInvariant(t, s)
	return s
}

func assertURLInvariant(t *testing.T, s *api.Server) {
	t.Helper()
	assert.Equal(t, s.State == api.StateDeployed, s.DeploymentURL != "",
		"server %s in %s has deployment url %q", s.Name, s.State, s.DeploymentURL)
}

func toolNames(tools []api.Tool) []string {
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name)
	}
	return names
}

func TestNewManager_Validation(t *testing.T) {
	_, err := NewManager(Options{Connector: newFakeConnector()})
	assert.Error(t, err)
	_, err = NewManager(Options{Store: registry.NewMemoryRegistry()})
	assert.Error(t, err)
	_, err = NewManager(Options{Store: registry.NewMemoryRegistry(), Connector: newFakeConnector(), Recovery: "sometimes"})
	assert.Error(t, err)
}

func TestRegister(t *testing.T) {
	f := newFixture(t)
	s := f.register(t, "weather")
	assert.Equal(t, api.StateNotDeployed, s.State)
	assert.NotEmpty(t, s.ID)
	assertURLInvariant(t, s)
	assert.Equal(t, []api.EventType{api.EventServerRegistered}, f.publisher.types())

	_, err := f.manager.Register(context.Background(), RegisterRequest{
		Name:   "broken",
		Config: api.ServerConfig{Transport: "carrier-pigeon"},
	})
	assert.True(t, api.IsValidation(err))

	_, err = f.manager.Register(context.Background(), RegisterRequest{
		Name:   "weather",
		Config: api.ServerConfig{Transport: api.TransportHTTP, Endpoint: "http://other/mcp"},
	})
	assert.True(t, api.IsConflict(err))
}

func TestDeploy_Success(t *testing.T) {
	f := newFixture(t)
	s := f.register(t, "weather")

	deployed, err := f.deploy(t, s.ID)
	require.NoError(t, err)
	assert.Equal(t, api.StateDeployed, deployed.State)
	assert.Equal(t, "http://weather.example.com/mcp", deployed.DeploymentURL)
	assert.Equal(t, []string{"getWeather"}, toolNames(deployed.Tools))

	stored := f.get(t, s.ID)
	assert.Equal(t, api.StateDeployed, stored.State)
	assert.Empty(t, stored.LastError)

	assert.Equal(t, []api.EventType{
		api.EventServerRegistered,
		api.EventServerDeploying,
		api.EventServerDeployed,
	}, f.publisher.types())
	payload := f.publisher.last()
	assert.Equal(t, api.StateDeploying, payload.From)
	assert.Equal(t, api.StateDeployed, payload.To)
	assert.Equal(t, 1, payload.Tools)
}

func TestDeploy_RedeployReplacesCapabilities(t *testing.T) {
	f := newFixture(t)
	s := f.register(t, "weather")

	f.connector.setTools("A", "B")
	first, err := f.deploy(t, s.ID)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"A", "B"}, toolNames(first.Tools))

	f.connector.setTools("C")
	second, err := f.deploy(t, s.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"C"}, toolNames(second.Tools))

	tools, err := f.store.ListTools(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"C"}, toolNames(tools))
	assert.GreaterOrEqual(t, f.connector.closeCount(s.ID), 2, "each deploy starts from a fresh connection")
}

func TestDeploy_KeepsAuthoredToolsAndStableIDs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.register(t, "weather")

	first, err := f.deploy(t, s.ID)
	require.NoError(t, err)
	originalID := first.Tools[0].ID

	require.NoError(t, f.store.SaveTool(ctx, &api.Tool{
		ServerID:   s.ID,
		Name:       "forecast",
		Source:     api.SourceAuthored,
		Parameters: []api.Parameter{{Name: "days", Type: schema.KindInteger}},
	}))

	second, err := f.deploy(t, s.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"getWeather", "forecast"}, toolNames(second.Tools))
	for _, tool := range second.Tools {
		if tool.Name == "getWeather" {
			assert.Equal(t, originalID, tool.ID)
		}
	}
}

func TestDeploy_FailureAndRetry(t *testing.T) {
	f := newFixture(t)
	s := f.register(t, "weather")

	f.connector.fail(errors.New("connection refused"))
	failed, err := f.deploy(t, s.ID)
	require.Error(t, err)
	assert.True(t, api.IsConnect(err))
	require.NotNil(t, failed)
	assert.Equal(t, api.StateFailed, failed.State)
	assert.Contains(t, failed.LastError, "connection refused")

	stored := f.get(t, s.ID)
	assert.Equal(t, api.StateFailed, stored.State)
	assert.Empty(t, stored.DeploymentURL)
	assert.Equal(t, api.EventServerDeploymentFailed, f.publisher.types()[2])
	assert.Contains(t, f.publisher.last().Reason, "connection refused")

	f.connector.fail(nil)
	deployed, err := f.deploy(t, s.ID)
	require.NoError(t, err)
	assert.Equal(t, api.StateDeployed, deployed.State)
	assert.Empty(t, deployed.LastError)
}

func TestDeploy_RejectsConcurrentAttempt(t *testing.T) {
	f := newFixture(t)
	s := f.register(t, "weather")
	release := f.connector.hold()

	attempt, err := f.manager.Deploy(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, api.StateDeploying, f.get(t, s.ID).State)

	_, err = f.manager.Deploy(context.Background(), s.ID)
	assert.True(t, api.IsConflict(err))
	_, err = f.manager.Undeploy(context.Background(), s.ID)
	assert.True(t, api.IsConflict(err))

	close(release)
	deployed, err := attempt.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, api.StateDeployed, deployed.State)
}

func TestDeploy_ServersAreIndependent(t *testing.T) {
	f := newFixture(t)
	a := f.register(t, "alpha")
	b := f.register(t, "beta")
	release := f.connector.hold()

	attemptA, err := f.manager.Deploy(context.Background(), a.ID)
	require.NoError(t, err)
	attemptB, err := f.manager.Deploy(context.Background(), b.ID)
	require.NoError(t, err)

	close(release)
	for _, attempt := range []*Attempt{attemptA, attemptB} {
		s, err := attempt.Wait(context.Background())
		require.NoError(t, err)
		assert.Equal(t, api.StateDeployed, s.State)
	}
}

func TestDeploy_Timeout(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.DeployTimeout = 50 * time.Millisecond })
	s := f.register(t, "weather")
	f.connector.hold()

	failed, err := f.deploy(t, s.ID)
	require.Error(t, err)
	require.NotNil(t, failed)
	assert.Equal(t, api.StateFailed, failed.State)
	assert.Equal(t, "deployment timed out after 50ms", failed.LastError)
}

func TestClose_FailsRunningAttempts(t *testing.T) {
	f := newFixture(t)
	s := f.register(t, "weather")
	f.connector.hold()

	attempt, err := f.manager.Deploy(context.Background(), s.ID)
	require.NoError(t, err)
	f.manager.Close()

	<-attempt.Done()
	stored := f.get(t, s.ID)
	assert.Equal(t, api.StateFailed, stored.State)
	assert.Equal(t, "deployment cancelled", stored.LastError)

	_, err = f.manager.Deploy(context.Background(), s.ID)
	assert.Error(t, err)
}

func TestHandleConnectionLost(t *testing.T) {
	f := newFixture(t)
	s := f.register(t, "weather")

	f.manager.HandleConnectionLost(s.ID, errors.New("eof"))
	assert.Equal(t, api.StateNotDeployed, f.get(t, s.ID).State, "not deployed servers ignore loss")

	_, err := f.deploy(t, s.ID)
	require.NoError(t, err)

	f.manager.HandleConnectionLost(s.ID, errors.New("eof"))
	stored := f.get(t, s.ID)
	assert.Equal(t, api.StateFailed, stored.State)
	assert.Equal(t, "connection lost: eof", stored.LastError)
	assert.Equal(t, api.EventServerDisconnected, f.publisher.types()[len(f.publisher.types())-1])
	assert.Equal(t, api.StateDeployed, f.publisher.last().From)
}

func TestDeploy_ConnectionLostBeforeDeployed(t *testing.T) {
	f := newFixture(t)
	s := f.register(t, "weather")

	// The loss is reported while the server is still DEPLOYING, so the
	// notification itself changes nothing and the attempt has to notice.
	f.connector.mu.Lock()
	f.connector.discovered = func(h *mcpclient.Handle) {
		h.Close()
		f.manager.HandleConnectionLost(s.ID, errors.New("eof"))
	}
	f.connector.mu.Unlock()

	_, err := f.deploy(t, s.ID)
	require.Error(t, err)

	stored := f.get(t, s.ID)
	assert.Equal(t, api.StateFailed, stored.State)
	assert.Contains(t, stored.LastError, "connection lost during discovery")
	assert.Equal(t, []api.EventType{
		api.EventServerRegistered,
		api.EventServerDeploying,
		api.EventServerDeploymentFailed,
	}, f.publisher.types())
}

func TestUndeploy(t *testing.T) {
	f := newFixture(t)
	s := f.register(t, "weather")
	_, err := f.deploy(t, s.ID)
	require.NoError(t, err)
	closes := f.connector.closeCount(s.ID)

	undeployed, err := f.manager.Undeploy(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, api.StateNotDeployed, undeployed.State)
	assertURLInvariant(t, undeployed)
	assert.Equal(t, closes+1, f.connector.closeCount(s.ID))
	types := f.publisher.types()
	assert.Equal(t, api.EventServerUndeployed, types[len(types)-1])
	assert.Equal(t, api.StateDeployed, f.publisher.last().From)
}

func TestDeregister(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	auth := api.AuthConfig{Type: api.AuthOAuth2, Integration: "github", Account: "ada"}
	register := func(name string) *api.Server {
		s, err := f.manager.Register(ctx, RegisterRequest{
			Name:   name,
			Config: api.ServerConfig{Transport: api.TransportHTTP, Endpoint: "http://" + name + "/mcp", Auth: auth},
		})
		require.NoError(t, err)
		return s
	}
	first := register("first")
	second := register("second")
	_, err := f.deploy(t, first.ID)
	require.NoError(t, err)

	require.NoError(t, f.manager.Deregister(ctx, first.ID))
	assert.Empty(t, f.revoker.revoked, "credential still shared with another server")
	_, err = f.store.GetServer(ctx, first.ID)
	assert.True(t, api.IsNotFound(err))
	_, err = f.store.ListTools(ctx, first.ID)
	assert.True(t, api.IsNotFound(err))
	assert.GreaterOrEqual(t, f.connector.closeCount(first.ID), 2)

	require.NoError(t, f.manager.Deregister(ctx, second.ID))
	assert.Equal(t, []string{"github/ada"}, f.revoker.revoked)

	types := f.publisher.types()
	assert.Equal(t, api.EventServerDeregistered, types[len(types)-1])
	assert.True(t, api.IsNotFound(f.manager.Deregister(ctx, second.ID)))
}

func TestDeregister_CancelsRunningAttempt(t *testing.T) {
	f := newFixture(t)
	s := f.register(t, "weather")
	f.connector.hold()

	attempt, err := f.manager.Deploy(context.Background(), s.ID)
	require.NoError(t, err)
	require.NoError(t, f.manager.Deregister(context.Background(), s.ID))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = attempt.Wait(ctx)
	require.Error(t, err)
	_, err = f.store.GetServer(context.Background(), s.ID)
	assert.True(t, api.IsNotFound(err))
}

func seedDeploying(t *testing.T, f *fixture, name string) *api.Server {
	t.Helper()
	s := f.register(t, name)
	_, err := f.store.Transition(context.Background(), s.ID, registry.Transition{
		From: []api.DeploymentState{api.StateNotDeployed},
		To:   api.StateDeploying,
	})
	require.NoError(t, err)
	return s
}

func TestRecover_Fail(t *testing.T) {
	f := newFixture(t)
	stuck := seedDeploying(t, f, "stuck")
	idle := f.register(t, "idle")

	recovered, err := f.manager.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{stuck.ID}, recovered)

	s := f.get(t, stuck.ID)
	assert.Equal(t, api.StateFailed, s.State)
	assert.Equal(t, "deployment interrupted by restart", s.LastError)
	assert.Equal(t, api.StateNotDeployed, f.get(t, idle.ID).State)
}

func TestRecover_Retry(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.Recovery = RecoveryRetry })
	stuck := seedDeploying(t, f, "stuck")

	recovered, err := f.manager.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{stuck.ID}, recovered)

	require.Eventually(t, func() bool {
		s, err := f.store.GetServer(context.Background(), stuck.ID)
		return err == nil && s.State == api.StateDeployed
	}, 5*time.Second, 10*time.Millisecond)
	assert.Contains(t, f.publisher.types(), api.EventServerDeploymentFailed)
}

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()
	unlockA := k.Lock("a")

	acquired := make(chan struct{})
	released := make(chan struct{})
	go func() {
		unlock := k.Lock("a")
		close(acquired)
		unlock()
		close(released)
	}()

	unlockB := k.Lock("b")
	unlockB()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a held key")
	case <-time.After(50 * time.Millisecond):
	}
	unlockA()
	<-acquired
	<-released

	k.mu.Lock()
	defer k.mu.Unlock()
	assert.Empty(t, k.locks)
}
