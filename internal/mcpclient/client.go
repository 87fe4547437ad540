package mcpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"mcpstudio/internal/api"
	"mcpstudio/pkg/logging"
)

// Defaults for Options fields left zero.
const (
	DefaultConnectTimeout = 15 * time.Second
	DefaultInvokeTimeout  = 30 * time.Second
	DefaultProbeTimeout   = 5 * time.Second
)

// Options configures a Client.
type Options struct {
	// HTTPClient is the base client; its transport is wrapped per server to
	// add credentials.
	HTTPClient     *http.Client
	Credentials    CredentialSource
	ConnectTimeout time.Duration
	InvokeTimeout  time.Duration
	ProbeTimeout   time.Duration
	Version        string
}

// LostFunc is called when a live connection ends without being closed.
type LostFunc func(serverID string, err error)

// Handle is a live connection to one server. It is shared by every caller
// using that server until it is closed or lost.
type Handle struct {
	ServerID  string
	URL       string
	Transport api.Transport

	// control carries discovery and ping traffic, invoke carries tool calls.
	// They are the same session except for transport "both".
	control  session
	invoke   session
	fallback session

	mu    sync.RWMutex
	tools map[string]api.Tool

	needsProbe atomic.Bool
	closed     chan struct{}
	closeOnce  sync.Once
	lostOnce   sync.Once
}

// NewHandle returns a handle without sessions. Connectors other than Client
// use it to hand out handles that can be closed and watched.
func NewHandle(server *api.Server, url string) *Handle {
	return newHandle(server, url)
}

func newHandle(server *api.Server, url string) *Handle {
	return &Handle{
		ServerID:  server.ID,
		URL:       url,
		Transport: server.Config.Transport,
		closed:    make(chan struct{}),
	}
}

// UseTools sets the tool catalogue invocations are validated against.
// Discover calls it; callers reconnecting to an already deployed server pass
// the persisted tools.
func (h *Handle) UseTools(tools []api.Tool) {
	m := make(map[string]api.Tool, len(tools))
	for _, t := range tools {
		m[t.Name] = t
	}
	h.mu.Lock()
	h.tools = m
	h.mu.Unlock()
}

func (h *Handle) tool(name string) (api.Tool, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	t, ok := h.tools[name]
	return t, ok
}

// HasTool reports whether name is in the handle's tool catalogue.
func (h *Handle) HasTool(name string) bool {
	_, ok := h.tool(name)
	return ok
}

// Closed reports whether the handle has been closed or lost.
func (h *Handle) Closed() bool {
	select {
	case <-h.closed:
		return true
	default:
		return false
	}
}

// controlSession prefers the persistent session and falls back to HTTP when
// it has gone away.
func (h *Handle) controlSession() session {
	if h.fallback != nil && h.control.err() != nil {
		return h.fallback
	}
	return h.control
}

// Close closes the handle and its sessions. Unlike Client.Close it leaves the
// handle registered with its client.
func (h *Handle) Close() {
	h.close()
}

func (h *Handle) close() {
	h.closeOnce.Do(func() {
		close(h.closed)
		for _, s := range []session{h.control, h.invoke, h.fallback} {
			if s != nil {
				_ = s.Close()
			}
		}
	})
}

// Client manages connections to remote MCP servers.
type Client struct {
	opts Options

	mu      sync.RWMutex
	handles map[string]*Handle

	connects singleflight.Group

	lostMu sync.RWMutex
	onLost []LostFunc
}

// New creates a Client.
func New(opts Options) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.InvokeTimeout <= 0 {
		opts.InvokeTimeout = DefaultInvokeTimeout
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = DefaultProbeTimeout
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	return &Client{opts: opts, handles: make(map[string]*Handle)}
}

// OnConnectionLost registers fn to be called, on its own goroutine, whenever
// a connection ends without Close being called.
func (c *Client) OnConnectionLost(fn LostFunc) {
	c.lostMu.Lock()
	defer c.lostMu.Unlock()
	c.onLost = append(c.onLost, fn)
}

// Handle returns the live handle of a server, if any.
func (c *Client) Handle(serverID string) (*Handle, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.handles[serverID]
	if !ok || h.Closed() {
		return nil, false
	}
	return h, true
}

// Connect returns the live handle of the server, dialing it first if needed.
// Concurrent calls for the same server share one dial.
func (c *Client) Connect(ctx context.Context, server *api.Server) (*Handle, error) {
	if h, ok := c.Handle(server.ID); ok {
		return h, nil
	}

	ch := c.connects.DoChan(server.ID, func() (any, error) {
		if h, ok := c.Handle(server.ID); ok {
			return h, nil
		}
		// Other callers may be waiting on this dial, so it is bounded by
		// the connect timeout rather than by the first caller's context.
		dialCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.ConnectTimeout)
		defer cancel()
		h, err := c.dial(dialCtx, server)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.handles[server.ID] = h
		c.mu.Unlock()
		c.watch(h)
		return h, nil
	})

	select {
	case <-ctx.Done():
		return nil, &api.ConnectError{ServerID: server.ID, URL: server.Config.Endpoint, Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Handle), nil
	}
}

func (c *Client) dial(ctx context.Context, server *api.Server) (*Handle, error) {
	cfg := server.Config
	httpClient := &http.Client{
		Transport: &bearerTransport{base: c.baseTransport(), auth: cfg.Auth, source: c.opts.Credentials},
	}
	connectErr := func(url string, err error) error {
		if isUnauthorized(err) {
			err = &api.AuthError{Integration: cfg.Auth.Integration, Account: cfg.Auth.Account,
				Reason: api.AuthReauthorizationRequired, Err: err}
		}
		return &api.ConnectError{ServerID: server.ID, URL: url, Err: err}
	}

	switch cfg.Transport {
	case api.TransportWebSocket:
		url := cfg.WebSocketEndpoint()
		ws, err := c.dialWS(ctx, url, server, httpClient)
		if err != nil {
			return nil, connectErr(url, err)
		}
		h := newHandle(server, url)
		h.control, h.invoke = ws, ws
		logging.Info("MCPClient", "Connected to server %s over websocket", server.Name)
		return h, nil

	case api.TransportBoth:
		hs, err := dialHTTP(ctx, cfg.Endpoint, cfg.Headers, httpClient, c.opts.Version)
		if err != nil {
			return nil, connectErr(cfg.Endpoint, err)
		}
		h := newHandle(server, cfg.Endpoint)
		h.invoke = hs
		ws, err := c.dialWS(ctx, cfg.WebSocketEndpoint(), server, httpClient)
		if err != nil {
			logging.Warn("MCPClient", "Websocket for server %s unavailable, using HTTP only: %v", server.Name, err)
			h.control = hs
		} else {
			h.control, h.fallback = ws, hs
		}
		logging.Info("MCPClient", "Connected to server %s over http+websocket", server.Name)
		return h, nil

	default:
		hs, err := dialHTTP(ctx, cfg.Endpoint, cfg.Headers, httpClient, c.opts.Version)
		if err != nil {
			return nil, connectErr(cfg.Endpoint, err)
		}
		h := newHandle(server, cfg.Endpoint)
		h.control, h.invoke = hs, hs
		logging.Info("MCPClient", "Connected to server %s over http", server.Name)
		return h, nil
	}
}

func (c *Client) dialWS(ctx context.Context, url string, server *api.Server, httpClient *http.Client) (*wsSession, error) {
	header := http.Header{}
	for k, v := range server.Config.Headers {
		header.Set(k, v)
	}
	value, err := authorization(ctx, server.Config.Auth, c.opts.Credentials)
	if err != nil {
		return nil, err
	}
	if value != "" {
		header.Set("Authorization", value)
	}
	return dialWebSocket(ctx, url, header, httpClient, c.opts.Version)
}

func (c *Client) baseTransport() http.RoundTripper {
	if c.opts.HTTPClient.Transport != nil {
		return c.opts.HTTPClient.Transport
	}
	return http.DefaultTransport
}

// watch reports the loss of a persistent session. For transport "both" the
// handle survives on its HTTP fallback.
func (c *Client) watch(h *Handle) {
	done := h.control.done()
	if done == nil {
		return
	}
	go func() {
		select {
		case <-h.closed:
			return
		case <-done:
		}
		if h.Closed() {
			return
		}
		if h.fallback != nil {
			logging.Warn("MCPClient", "Websocket for server %s closed, falling back to HTTP: %v", h.ServerID, h.control.err())
			return
		}
		c.lost(h, h.control.err())
	}()
}

// lost drops a handle that failed underneath its users and notifies listeners.
func (c *Client) lost(h *Handle, cause error) {
	h.lostOnce.Do(func() { c.dropLost(h, cause) })
}

func (c *Client) dropLost(h *Handle, cause error) {
	c.mu.Lock()
	if c.handles[h.ServerID] == h {
		delete(c.handles, h.ServerID)
	}
	c.mu.Unlock()
	h.close()

	if cause == nil {
		cause = errSessionClosed
	}
	logging.Warn("MCPClient", "Connection to server %s lost: %v", h.ServerID, cause)

	c.lostMu.RLock()
	listeners := append([]LostFunc(nil), c.onLost...)
	c.lostMu.RUnlock()
	for _, fn := range listeners {
		go fn(h.ServerID, cause)
	}
}

// Discover lists the server's tools, resources and prompts concurrently.
func (c *Client) Discover(ctx context.Context, h *Handle) (*api.Capabilities, error) {
	s := h.controlSession()
	caps := s.capabilities()
	result := &api.Capabilities{Tools: []api.Tool{}, Resources: []api.Resource{}, Prompts: []api.PromptTemplate{}}

	g, gctx := errgroup.WithContext(ctx)
	if caps.tools {
		g.Go(func() error {
			tools, err := s.ListTools(gctx)
			if err != nil {
				return err
			}
			result.Tools = append(result.Tools, tools...)
			return nil
		})
	}
	if caps.resources {
		g.Go(func() error {
			resources, err := s.ListResources(gctx)
			if err != nil {
				return err
			}
			result.Resources = append(result.Resources, resources...)
			return nil
		})
	}
	if caps.prompts {
		g.Go(func() error {
			prompts, err := s.ListPrompts(gctx)
			if err != nil {
				return err
			}
			result.Prompts = append(result.Prompts, prompts...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if isUnauthorized(err) {
			return nil, &api.DiscoveryError{ServerID: h.ServerID, Err: &api.AuthError{Reason: api.AuthReauthorizationRequired, Err: err}}
		}
		return nil, &api.DiscoveryError{ServerID: h.ServerID, Err: err}
	}

	for i := range result.Tools {
		result.Tools[i].ServerID = h.ServerID
	}
	for i := range result.Resources {
		result.Resources[i].ServerID = h.ServerID
	}
	for i := range result.Prompts {
		result.Prompts[i].ServerID = h.ServerID
	}
	h.UseTools(result.Tools)
	logging.Debug("MCPClient", "Discovered %d tools, %d resources, %d prompts on server %s",
		len(result.Tools), len(result.Resources), len(result.Prompts), h.ServerID)
	return result, nil
}

// Invoke calls a tool. Parameters are validated against the handle's tool
// catalogue before anything is sent. timeout bounds this call only; when it
// fires, the shared connection is kept but probed before its next use.
func (c *Client) Invoke(ctx context.Context, h *Handle, toolName string, params map[string]any, timeout time.Duration) (*api.ToolResult, error) {
	tool, ok := h.tool(toolName)
	if !ok {
		return nil, api.NewNotFoundError("tool", toolName)
	}
	if params == nil {
		params = map[string]any{}
	}
	if err := tool.ValidateParams(params); err != nil {
		return nil, err
	}
	if h.Closed() {
		return nil, &api.ConnectError{ServerID: h.ServerID, URL: h.URL, Err: errSessionClosed}
	}

	if h.needsProbe.Load() {
		if err := c.probe(ctx, h); err != nil {
			return nil, err
		}
	}

	if timeout <= 0 {
		timeout = c.opts.InvokeTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := h.invoke.CallTool(callCtx, toolName, params)
	if err != nil {
		var authErr *api.AuthError
		switch {
		case errors.As(err, &authErr):
			return nil, authErr
		case errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
			h.needsProbe.Store(true)
			return nil, &api.TimeoutError{ServerID: h.ServerID, Operation: "tool " + toolName, Timeout: timeout}
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.Is(err, errSessionClosed):
			c.lost(h, err)
			return nil, &api.ConnectError{ServerID: h.ServerID, URL: h.URL, Err: err}
		case isUnauthorized(err):
			return nil, &api.AuthError{Reason: api.AuthReauthorizationRequired, Err: err}
		}
		return nil, &api.InvocationError{ServerID: h.ServerID, Tool: toolName, Err: err}
	}
	if result.IsError {
		return result, &api.InvocationError{ServerID: h.ServerID, Tool: toolName, Message: result.Text(), Result: result}
	}
	return result, nil
}

// probe pings a handle that saw a timeout. A failed probe means the
// connection is gone.
func (c *Client) probe(ctx context.Context, h *Handle) error {
	pingCtx, cancel := context.WithTimeout(ctx, c.opts.ProbeTimeout)
	defer cancel()
	if err := h.controlSession().Ping(pingCtx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.lost(h, fmt.Errorf("probe after timeout failed: %w", err))
		return &api.ConnectError{ServerID: h.ServerID, URL: h.URL, Err: err}
	}
	h.needsProbe.Store(false)
	return nil
}

// Ping checks that the server still answers.
func (c *Client) Ping(ctx context.Context, h *Handle) error {
	if h.Closed() {
		return &api.ConnectError{ServerID: h.ServerID, URL: h.URL, Err: errSessionClosed}
	}
	pingCtx, cancel := context.WithTimeout(ctx, c.opts.ProbeTimeout)
	defer cancel()
	if err := h.controlSession().Ping(pingCtx); err != nil {
		return &api.ConnectError{ServerID: h.ServerID, URL: h.URL, Err: err}
	}
	return nil
}

// Close closes the server's connection without notifying loss listeners.
func (c *Client) Close(serverID string) error {
	c.mu.Lock()
	h, ok := c.handles[serverID]
	delete(c.handles, serverID)
	c.mu.Unlock()
	if ok {
		h.close()
		logging.Debug("MCPClient", "Closed connection to server %s", serverID)
	}
	return nil
}

// CloseAll closes every connection.
func (c *Client) CloseAll() {
	c.mu.Lock()
	handles := c.handles
	c.handles = make(map[string]*Handle)
	c.mu.Unlock()
	for _, h := range handles {
		h.close()
	}
}
