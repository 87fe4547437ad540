package registry

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"mcpstudio/internal/api"
)

// MemoryRegistry keeps everything in process memory. It is used by tests and
// by ephemeral runs with storage.driver=memory.
type MemoryRegistry struct {
	mu          sync.RWMutex
	servers     map[string]*api.Server
	executions  []*api.ExecutionRecord
	credentials map[string]*api.SealedCredential
	now         func() time.Time
}

var _ Registry = (*MemoryRegistry)(nil)

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		servers:     make(map[string]*api.Server),
		credentials: make(map[string]*api.SealedCredential),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryRegistry) CreateServer(_ context.Context, server *api.Server) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := prepareServer(server, m.now()); err != nil {
		return err
	}
	for _, s := range m.servers {
		if s.Name == server.Name {
			return nameConflict("server", server.Name)
		}
	}
	if _, exists := m.servers[server.ID]; exists {
		return &api.ConflictError{ResourceType: "server", ResourceName: server.ID, Message: "id already exists"}
	}
	caps := api.Capabilities{Tools: server.Tools, Resources: server.Resources, Prompts: server.Prompts}
	if err := prepareCapabilities(server.ID, &caps, server.CreatedAt); err != nil {
		return err
	}
	m.servers[server.ID] = cloneServer(server, true)
	return nil
}

func (m *MemoryRegistry) GetServer(_ context.Context, id string) (*api.Server, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.servers[id]
	if !ok {
		return nil, api.NewNotFoundError("server", id)
	}
	return cloneServer(s, true), nil
}

func (m *MemoryRegistry) GetServerByName(_ context.Context, name string) (*api.Server, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.servers {
		if s.Name == name {
			return cloneServer(s, true), nil
		}
	}
	return nil, api.NewNotFoundError("server", name)
}

func (m *MemoryRegistry) ListServers(_ context.Context) ([]*api.Server, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*api.Server, 0, len(m.servers))
	for _, s := range m.servers {
		out = append(out, cloneServer(s, false))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryRegistry) UpdateServer(_ context.Context, id string, update ServerUpdate) (*api.Server, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.servers[id]
	if !ok {
		return nil, api.NewNotFoundError("server", id)
	}
	if update.Name != nil && *update.Name != s.Name {
		for _, other := range m.servers {
			if other.Name == *update.Name {
				return nil, nameConflict("server", *update.Name)
			}
		}
		s.Name = *update.Name
	}
	if update.Description != nil {
		s.Description = *update.Description
	}
	if update.Config != nil {
		s.Config = *update.Config
	}
	s.UpdatedAt = m.now()
	return cloneServer(s, true), nil
}

func (m *MemoryRegistry) DeleteServer(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.servers[id]; !ok {
		return api.NewNotFoundError("server", id)
	}
	delete(m.servers, id)
	return nil
}

func (m *MemoryRegistry) Transition(_ context.Context, id string, t Transition) (*api.Server, error) {
	if err := t.validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.servers[id]
	if !ok {
		return nil, api.NewNotFoundError("server", id)
	}
	if !t.allows(s.State) {
		return nil, stateConflict(id, s.State, t)
	}

	var caps api.Capabilities
	if t.Capabilities != nil {
		caps = cloneCapabilities(*t.Capabilities)
		if err := prepareCapabilities(id, &caps, t.At); err != nil {
			return nil, err
		}
	}

	// All checks passed; apply in one step so readers never observe a mix.
	s.State = t.To
	s.DeploymentURL = t.DeploymentURL
	s.LastError = t.Reason
	s.UpdatedAt = t.At
	if t.Capabilities != nil {
		s.Tools, s.Resources, s.Prompts = caps.Tools, caps.Resources, caps.Prompts
	}
	return cloneServer(s, true), nil
}

func (m *MemoryRegistry) ListTools(_ context.Context, serverID string) ([]api.Tool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.servers[serverID]
	if !ok {
		return nil, api.NewNotFoundError("server", serverID)
	}
	return slices.Clone(s.Tools), nil
}

func (m *MemoryRegistry) GetTool(_ context.Context, serverID, ref string) (*api.Tool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.servers[serverID]
	if !ok {
		return nil, api.NewNotFoundError("server", serverID)
	}
	for _, match := range []func(api.Tool) bool{
		func(t api.Tool) bool { return t.ID == ref },
		func(t api.Tool) bool { return t.Name == ref },
	} {
		for _, t := range s.Tools {
			if match(t) {
				cp := t
				return &cp, nil
			}
		}
	}
	return nil, api.NewNotFoundError("tool", ref)
}

func (m *MemoryRegistry) SaveTool(_ context.Context, tool *api.Tool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.servers[tool.ServerID]
	if !ok {
		return api.NewNotFoundError("server", tool.ServerID)
	}
	if err := prepareTool(tool.ServerID, tool, m.now()); err != nil {
		return err
	}
	for i, existing := range s.Tools {
		if existing.ID != tool.ID && existing.Name == tool.Name {
			return nameConflict("tool", tool.Name)
		}
		if existing.ID == tool.ID {
			tool.CreatedAt = existing.CreatedAt
			s.Tools[i] = *tool
			return nil
		}
	}
	s.Tools = append(s.Tools, *tool)
	return nil
}

func (m *MemoryRegistry) DeleteTool(_ context.Context, serverID, toolID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.servers[serverID]
	if !ok {
		return api.NewNotFoundError("server", serverID)
	}
	for i, t := range s.Tools {
		if t.ID == toolID {
			s.Tools = slices.Delete(s.Tools, i, i+1)
			return nil
		}
	}
	return api.NewNotFoundError("tool", toolID)
}

func (m *MemoryRegistry) ListResources(_ context.Context, serverID string) ([]api.Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.servers[serverID]
	if !ok {
		return nil, api.NewNotFoundError("server", serverID)
	}
	return slices.Clone(s.Resources), nil
}

func (m *MemoryRegistry) SaveResource(_ context.Context, resource *api.Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.servers[resource.ServerID]
	if !ok {
		return api.NewNotFoundError("server", resource.ServerID)
	}
	prepareResource(resource.ServerID, resource)
	for i, existing := range s.Resources {
		if existing.ID == resource.ID {
			s.Resources[i] = *resource
			return nil
		}
	}
	s.Resources = append(s.Resources, *resource)
	return nil
}

func (m *MemoryRegistry) ListPrompts(_ context.Context, serverID string) ([]api.PromptTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.servers[serverID]
	if !ok {
		return nil, api.NewNotFoundError("server", serverID)
	}
	return slices.Clone(s.Prompts), nil
}

func (m *MemoryRegistry) GetPrompt(_ context.Context, serverID, ref string) (*api.PromptTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.servers[serverID]
	if !ok {
		return nil, api.NewNotFoundError("server", serverID)
	}
	for _, p := range s.Prompts {
		if p.ID == ref {
			cp := p
			return &cp, nil
		}
	}
	for _, p := range s.Prompts {
		if p.Name == ref {
			cp := p
			return &cp, nil
		}
	}
	return nil, api.NewNotFoundError("prompt", ref)
}

func (m *MemoryRegistry) SavePrompt(_ context.Context, prompt *api.PromptTemplate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.servers[prompt.ServerID]
	if !ok {
		return api.NewNotFoundError("server", prompt.ServerID)
	}
	preparePrompt(prompt.ServerID, prompt)
	for i, existing := range s.Prompts {
		if existing.ID == prompt.ID {
			s.Prompts[i] = *prompt
			return nil
		}
	}
	s.Prompts = append(s.Prompts, *prompt)
	return nil
}

func (m *MemoryRegistry) AppendExecution(_ context.Context, record *api.ExecutionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.executions {
		if r.ID == record.ID {
			return &api.ConflictError{ResourceType: "execution", ResourceName: record.ID, Message: "records are append-only"}
		}
	}
	cp := *record
	m.executions = append(m.executions, &cp)
	return nil
}

func (m *MemoryRegistry) GetExecution(_ context.Context, id string) (*api.ExecutionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.executions {
		if r.ID == id {
			cp := *r
			return &cp, nil
		}
	}
	return nil, api.NewNotFoundError("execution", id)
}

func (m *MemoryRegistry) ListExecutions(_ context.Context, filter api.ExecutionFilter) (*api.ExecutionPage, error) {
	filter = normalizeFilter(filter)
	m.mu.RLock()
	var matched []*api.ExecutionRecord
	for _, r := range m.executions {
		if filter.ServerID != "" && r.ServerID != filter.ServerID {
			continue
		}
		if filter.ToolID != "" && r.ToolID != filter.ToolID {
			continue
		}
		if filter.Status != "" && r.Status() != filter.Status {
			continue
		}
		if filter.Since != nil && r.StartedAt.Before(*filter.Since) {
			continue
		}
		cp := *r
		matched = append(matched, &cp)
	}
	m.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool { return matched[i].StartedAt.After(matched[j].StartedAt) })

	page := &api.ExecutionPage{Total: len(matched), Limit: filter.Limit, Offset: filter.Offset, Records: []*api.ExecutionRecord{}}
	if filter.Offset < len(matched) {
		end := min(filter.Offset+filter.Limit, len(matched))
		page.Records = matched[filter.Offset:end]
		page.HasMore = end < len(matched)
	}
	return page, nil
}

func (m *MemoryRegistry) PutCredential(_ context.Context, cred *api.SealedCredential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *cred
	cp.Sealed = slices.Clone(cred.Sealed)
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = m.now()
	}
	m.credentials[credentialKey(cred.Integration, cred.Account)] = &cp
	return nil
}

func (m *MemoryRegistry) GetCredential(_ context.Context, integration, account string) (*api.SealedCredential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.credentials[credentialKey(integration, account)]
	if !ok {
		return nil, api.NewNotFoundError("credential", credentialKey(integration, account))
	}
	cp := *c
	cp.Sealed = slices.Clone(c.Sealed)
	return &cp, nil
}

func (m *MemoryRegistry) DeleteCredential(_ context.Context, integration, account string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := credentialKey(integration, account)
	if _, ok := m.credentials[key]; !ok {
		return api.NewNotFoundError("credential", key)
	}
	delete(m.credentials, key)
	return nil
}

func (m *MemoryRegistry) ListCredentials(_ context.Context, integration string) ([]*api.SealedCredential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*api.SealedCredential
	for _, c := range m.credentials {
		if integration != "" && c.Integration != integration {
			continue
		}
		cp := *c
		cp.Sealed = slices.Clone(c.Sealed)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.Compare(credentialKey(out[i].Integration, out[i].Account), credentialKey(out[j].Integration, out[j].Account)) < 0
	})
	return out, nil
}

func (m *MemoryRegistry) Close() error { return nil }

func cloneServer(s *api.Server, withCapabilities bool) *api.Server {
	cp := *s
	if withCapabilities {
		cp.Tools = slices.Clone(s.Tools)
		cp.Resources = slices.Clone(s.Resources)
		cp.Prompts = slices.Clone(s.Prompts)
	} else {
		cp.Tools, cp.Resources, cp.Prompts = nil, nil, nil
	}
	return &cp
}

func cloneCapabilities(c api.Capabilities) api.Capabilities {
	return api.Capabilities{
		Tools:     slices.Clone(c.Tools),
		Resources: slices.Clone(c.Resources),
		Prompts:   slices.Clone(c.Prompts),
	}
}
