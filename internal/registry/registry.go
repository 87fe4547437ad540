package registry

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"mcpstudio/internal/api"
	"mcpstudio/internal/schema"
)

const (
	defaultExecutionLimit = 50
	maxExecutionLimit     = 1000
)

// ServerStore persists servers and their deployment state.
type ServerStore interface {
	// CreateServer inserts a new server. Names are unique.
	CreateServer(ctx context.Context, server *api.Server) error
	// GetServer returns the server with its tools, resources and prompts.
	GetServer(ctx context.Context, id string) (*api.Server, error)
	GetServerByName(ctx context.Context, name string) (*api.Server, error)
	// ListServers returns all servers ordered by name, without capabilities.
	ListServers(ctx context.Context) ([]*api.Server, error)
	// UpdateServer changes descriptive fields. State and capabilities only
	// change through Transition.
	UpdateServer(ctx context.Context, id string, update ServerUpdate) (*api.Server, error)
	// DeleteServer removes the server and all of its capabilities.
	DeleteServer(ctx context.Context, id string) error
	// Transition atomically moves a server to a new state, optionally
	// replacing its capabilities in the same step. It fails with a
	// *api.ConflictError when the current state is not in t.From.
	Transition(ctx context.Context, id string, t Transition) (*api.Server, error)
}

// CapabilityStore persists the tools, resources and prompt templates of servers.
type CapabilityStore interface {
	ListTools(ctx context.Context, serverID string) ([]api.Tool, error)
	// GetTool resolves ref as a tool id first and as a tool name second.
	GetTool(ctx context.Context, serverID, ref string) (*api.Tool, error)
	// SaveTool inserts or updates an authored tool.
	SaveTool(ctx context.Context, tool *api.Tool) error
	DeleteTool(ctx context.Context, serverID, toolID string) error

	ListResources(ctx context.Context, serverID string) ([]api.Resource, error)
	SaveResource(ctx context.Context, resource *api.Resource) error

	ListPrompts(ctx context.Context, serverID string) ([]api.PromptTemplate, error)
	// GetPrompt resolves ref as a prompt id first and as a prompt name second.
	GetPrompt(ctx context.Context, serverID, ref string) (*api.PromptTemplate, error)
	SavePrompt(ctx context.Context, prompt *api.PromptTemplate) error
}

// ExecutionStore is the append-only execution log.
type ExecutionStore interface {
	AppendExecution(ctx context.Context, record *api.ExecutionRecord) error
	GetExecution(ctx context.Context, id string) (*api.ExecutionRecord, error)
	// ListExecutions returns a page of records, newest first.
	ListExecutions(ctx context.Context, filter api.ExecutionFilter) (*api.ExecutionPage, error)
}

// CredentialStore persists sealed credentials keyed by (integration, account).
type CredentialStore interface {
	PutCredential(ctx context.Context, cred *api.SealedCredential) error
	GetCredential(ctx context.Context, integration, account string) (*api.SealedCredential, error)
	DeleteCredential(ctx context.Context, integration, account string) error
	// ListCredentials lists credentials of one integration, or all when integration is empty.
	ListCredentials(ctx context.Context, integration string) ([]*api.SealedCredential, error)
}

// Registry is the persistence boundary of the platform.
type Registry interface {
	ServerStore
	CapabilityStore
	ExecutionStore
	CredentialStore
	Close() error
}

// ServerUpdate carries the descriptive fields to change. Nil fields are left as is.
type ServerUpdate struct {
	Name        *string
	Description *string
	Config      *api.ServerConfig
}

// Transition describes one deployment state change.
type Transition struct {
	// From lists the states the server may currently be in. Empty allows any.
	From []api.DeploymentState
	To   api.DeploymentState
	// DeploymentURL is required when To is DEPLOYED and ignored otherwise.
	DeploymentURL string
	// Reason becomes the server's LastError.
	Reason string
	// Capabilities, when non-nil, replace the server's collections.
	Capabilities *api.Capabilities
	At           time.Time
}

func (t *Transition) validate() error {
	if !t.To.Valid() {
		return fmt.Errorf("invalid target state %q", t.To)
	}
	if t.To == api.StateDeployed && t.DeploymentURL == "" {
		return fmt.Errorf("transition to %s requires a deployment url", api.StateDeployed)
	}
	if t.To != api.StateDeployed {
		t.DeploymentURL = ""
	}
	if t.At.IsZero() {
		t.At = time.Now().UTC()
	}
	return nil
}

func (t *Transition) allows(current api.DeploymentState) bool {
	return len(t.From) == 0 || slices.Contains(t.From, current)
}

func stateConflict(id string, current api.DeploymentState, t Transition) error {
	return &api.ConflictError{
		ResourceType: "server",
		ResourceName: id,
		Message:      fmt.Sprintf("cannot move from %s to %s (allowed from %v)", current, t.To, t.From),
	}
}

func nameConflict(resourceType, name string) error {
	return &api.ConflictError{ResourceType: resourceType, ResourceName: name, Message: "name already exists"}
}

// prepareServer fills generated fields of a new server.
func prepareServer(s *api.Server, now time.Time) error {
	if s.Name == "" {
		return &api.ValidationError{Subject: "server", Issues: []schema.Issue{{Path: "name", Message: "is required"}}}
	}
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.State == "" {
		s.State = api.StateNotDeployed
	}
	if s.State != api.StateDeployed {
		s.DeploymentURL = ""
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	return nil
}

// prepareCapabilities stamps ids and owners onto a capability set and checks
// that tool names are unique within the server.
func prepareCapabilities(serverID string, caps *api.Capabilities, now time.Time) error {
	seen := make(map[string]bool, len(caps.Tools))
	for i := range caps.Tools {
		t := &caps.Tools[i]
		if err := prepareTool(serverID, t, now); err != nil {
			return err
		}
		if seen[t.Name] {
			return nameConflict("tool", t.Name)
		}
		seen[t.Name] = true
	}
	for i := range caps.Resources {
		prepareResource(serverID, &caps.Resources[i])
	}
	for i := range caps.Prompts {
		preparePrompt(serverID, &caps.Prompts[i])
	}
	return nil
}

func prepareTool(serverID string, t *api.Tool, now time.Time) error {
	if serverID != "" {
		t.ServerID = serverID
	}
	if err := t.Check(); err != nil {
		return err
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Source == "" {
		t.Source = api.SourceAuthored
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	if t.Parameters == nil {
		t.Parameters = []api.Parameter{}
	}
	return nil
}

func prepareResource(serverID string, r *api.Resource) {
	if serverID != "" {
		r.ServerID = serverID
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
}

func preparePrompt(serverID string, p *api.PromptTemplate) {
	if serverID != "" {
		p.ServerID = serverID
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
}

func normalizeFilter(f api.ExecutionFilter) api.ExecutionFilter {
	if f.Limit <= 0 {
		f.Limit = defaultExecutionLimit
	}
	if f.Limit > maxExecutionLimit {
		f.Limit = maxExecutionLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

func credentialKey(integration, account string) string {
	return integration + "/" + account
}
