package execution

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"

	"mcpstudio/internal/api"
	"mcpstudio/internal/events"
	"mcpstudio/internal/mcpclient"
	"mcpstudio/internal/registry"
	"mcpstudio/pkg/logging"
)

const (
	DefaultTimeout = 30 * time.Second

	// persistTimeout bounds the write of a record after the caller has gone.
	persistTimeout = 10 * time.Second
)

// Invoker is the part of the protocol client the engine calls through.
type Invoker interface {
	Handle(serverID string) (*mcpclient.Handle, bool)
	Connect(ctx context.Context, server *api.Server) (*mcpclient.Handle, error)
	Invoke(ctx context.Context, h *mcpclient.Handle, toolName string, params map[string]any, timeout time.Duration) (*api.ToolResult, error)
}

// Store is the persistence the engine needs.
type Store interface {
	GetServer(ctx context.Context, id string) (*api.Server, error)
	GetTool(ctx context.Context, serverID, ref string) (*api.Tool, error)
	ListTools(ctx context.Context, serverID string) ([]api.Tool, error)
	registry.ExecutionStore
}

// Caller describes who runs a tool and how.
type Caller struct {
	// Actor is recorded on the execution record.
	Actor string
	// Account selects the credential of integration backed tools. Empty uses
	// the account bound to the server, then the integration's default.
	Account string
	// Timeout bounds the remote call. Zero uses the engine default.
	Timeout time.Duration
}

// Options configures an Engine.
type Options struct {
	Store       Store
	Invoker     Invoker
	Credentials mcpclient.CredentialSource
	Publisher   events.Publisher
	Timeout     time.Duration
	Now         func() time.Time
}

// Engine runs tools and keeps the execution log.
type Engine struct {
	opts Options
}

// NewEngine creates an Engine.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Store == nil || opts.Invoker == nil {
		return nil, fmt.Errorf("execution engine requires a store and an invoker")
	}
	if opts.Publisher == nil {
		opts.Publisher = events.Discard
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{opts: opts}, nil
}

// Execute runs one tool call and records it. toolRef is a tool id or name.
//
// Once the tool is resolved exactly one ExecutionRecord is written, whatever
// happens afterwards; failures are carried in the record's Error and the
// returned error is nil. A non-nil error means the server or tool could not
// be resolved or the record could not be stored.
func (e *Engine) Execute(ctx context.Context, serverID, toolRef string, params map[string]any, caller Caller) (*api.ExecutionRecord, error) {
	server, err := e.opts.Store.GetServer(ctx, serverID)
	if err != nil {
		return nil, err
	}
	tool, err := e.opts.Store.GetTool(ctx, serverID, toolRef)
	if err != nil {
		return nil, err
	}

	record := &api.ExecutionRecord{
		ID:        uuid.New().String(),
		ServerID:  serverID,
		ToolID:    tool.ID,
		ToolName:  tool.Name,
		Input:     maps.Clone(params),
		Actor:     caller.Actor,
		StartedAt: e.opts.Now(),
	}
	e.publish(api.EventToolExecutionStarted, record)

	result, runErr := e.run(ctx, server, tool, params, caller)
	record.EndedAt = e.opts.Now()
	if runErr != nil {
		record.Error = api.Describe(runErr)
		logging.Debug("Execution", "Tool %s on server %s failed: %v", tool.Name, server.Name, runErr)
	} else {
		record.Result = result
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := e.opts.Store.AppendExecution(wctx, record); err != nil {
		logging.Error("Execution", err, "Failed to store execution %s of tool %s", record.ID, tool.Name)
		return record, fmt.Errorf("storing execution record: %w", err)
	}
	e.publish(api.EventToolExecutionCompleted, record)
	return record, nil
}

func (e *Engine) run(ctx context.Context, server *api.Server, tool *api.Tool, params map[string]any, caller Caller) (*api.ToolResult, error) {
	if params == nil {
		params = map[string]any{}
	}
	if err := tool.ValidateParams(params); err != nil {
		return nil, err
	}
	if server.State != api.StateDeployed {
		return nil, &api.ConnectError{ServerID: server.ID, Err: fmt.Errorf("server %s is %s, not %s", server.Name, server.State, api.StateDeployed)}
	}

	if tool.Integration != "" {
		cred, err := e.credential(ctx, server, tool, caller)
		if err != nil {
			return nil, err
		}
		ctx = mcpclient.WithCredential(ctx, cred)
	}

	h, err := e.handle(ctx, server, tool)
	if err != nil {
		return nil, err
	}

	timeout := caller.Timeout
	if timeout <= 0 {
		timeout = e.opts.Timeout
	}
	return e.opts.Invoker.Invoke(ctx, h, tool.Name, params, timeout)
}

func (e *Engine) credential(ctx context.Context, server *api.Server, tool *api.Tool, caller Caller) (*api.Credential, error) {
	if e.opts.Credentials == nil {
		return nil, &api.AuthError{Integration: tool.Integration, Account: caller.Account,
			Reason: api.AuthReauthorizationRequired, Err: fmt.Errorf("no credential source configured")}
	}
	account := caller.Account
	if account == "" && server.Config.Auth.Integration == tool.Integration {
		account = server.Config.Auth.Account
	}
	return e.opts.Credentials.GetValidCredential(ctx, tool.Integration, account)
}

// handle returns the live connection, reconnecting a server that is
// DEPLOYED in the registry but has no connection in this process.
func (e *Engine) handle(ctx context.Context, server *api.Server, tool *api.Tool) (*mcpclient.Handle, error) {
	h, ok := e.opts.Invoker.Handle(server.ID)
	if !ok {
		var err error
		h, err = e.opts.Invoker.Connect(ctx, server)
		if err != nil {
			return nil, err
		}
		logging.Info("Execution", "Reconnected to deployed server %s", server.Name)
	}
	if !h.HasTool(tool.Name) {
		tools, err := e.opts.Store.ListTools(ctx, server.ID)
		if err != nil {
			return nil, err
		}
		h.UseTools(tools)
	}
	return h, nil
}

// History returns a page of the execution log, newest first.
func (e *Engine) History(ctx context.Context, filter api.ExecutionFilter) (*api.ExecutionPage, error) {
	return e.opts.Store.ListExecutions(ctx, filter)
}

// Get returns one execution record.
func (e *Engine) Get(ctx context.Context, id string) (*api.ExecutionRecord, error) {
	return e.opts.Store.GetExecution(ctx, id)
}

func (e *Engine) publish(eventType api.EventType, r *api.ExecutionRecord) {
	payload := api.ExecutionPayload{
		ExecutionID: r.ID,
		ServerID:    r.ServerID,
		ToolID:      r.ToolID,
		ToolName:    r.ToolName,
		StartedAt:   r.StartedAt,
	}
	if eventType == api.EventToolExecutionCompleted {
		payload.Status = r.Status()
		payload.Error = r.Error
		payload.DurationMS = r.Duration().Milliseconds()
	}
	e.opts.Publisher.Publish(api.ExecutionTopic(r.ServerID), eventType, payload)
}
