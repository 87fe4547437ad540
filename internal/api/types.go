package api

import (
	"fmt"
	"strings"
	"time"

	"mcpstudio/internal/schema"
)

// DeploymentState is the lifecycle position of a registered server.
type DeploymentState string

const (
	StateNotDeployed DeploymentState = "NOT_DEPLOYED"
	StateDeploying   DeploymentState = "DEPLOYING"
	StateDeployed    DeploymentState = "DEPLOYED"
	StateFailed      DeploymentState = "FAILED"
)

// Valid reports whether s is a known deployment state.
func (s DeploymentState) Valid() bool {
	switch s {
	case StateNotDeployed, StateDeploying, StateDeployed, StateFailed:
		return true
	}
	return false
}

// Transport selects how the protocol client reaches a server.
type Transport string

const (
	// TransportHTTP uses MCP streamable HTTP request/response.
	TransportHTTP Transport = "http"
	// TransportWebSocket uses a persistent JSON-RPC websocket channel.
	TransportWebSocket Transport = "websocket"
	// TransportBoth keeps a websocket for control and discovery traffic and
	// HTTP for tool invocations, falling back to HTTP if the websocket fails.
	TransportBoth Transport = "both"
)

// AuthType describes how outbound calls to a server are authenticated.
type AuthType string

const (
	AuthNone   AuthType = "none"
	AuthOAuth2 AuthType = "oauth2"
)

// AuthConfig binds a server to an OAuth integration account.
type AuthConfig struct {
	Type        AuthType `json:"type,omitempty" yaml:"type,omitempty" bson:"type,omitempty"`
	Integration string   `json:"integration,omitempty" yaml:"integration,omitempty" bson:"integration,omitempty"`
	Account     string   `json:"account,omitempty" yaml:"account,omitempty" bson:"account,omitempty"`
}

// CORSPolicy is the cross-origin policy declared for a server.
type CORSPolicy struct {
	AllowedOrigins   []string `json:"allowedOrigins,omitempty" yaml:"allowedOrigins,omitempty" bson:"allowedOrigins,omitempty"`
	AllowedMethods   []string `json:"allowedMethods,omitempty" yaml:"allowedMethods,omitempty" bson:"allowedMethods,omitempty"`
	AllowedHeaders   []string `json:"allowedHeaders,omitempty" yaml:"allowedHeaders,omitempty" bson:"allowedHeaders,omitempty"`
	AllowCredentials bool     `json:"allowCredentials,omitempty" yaml:"allowCredentials,omitempty" bson:"allowCredentials,omitempty"`
}

// ServerConfig is the user supplied connection configuration of a server.
type ServerConfig struct {
	Transport Transport `json:"transport" yaml:"transport" bson:"transport"`

	// Endpoint is the base URL of the server, e.g. https://mcp.example.com/mcp.
	Endpoint string `json:"endpoint" yaml:"endpoint" bson:"endpoint"`

	// WebSocketURL overrides the websocket URL derived from Endpoint.
	WebSocketURL string `json:"webSocketUrl,omitempty" yaml:"webSocketUrl,omitempty" bson:"webSocketUrl,omitempty"`

	// Headers are sent with every outbound request.
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty" bson:"headers,omitempty"`

	Auth AuthConfig `json:"auth,omitempty" yaml:"auth,omitempty" bson:"auth,omitempty"`
	CORS CORSPolicy `json:"cors,omitempty" yaml:"cors,omitempty" bson:"cors,omitempty"`
}

// WebSocketEndpoint returns the websocket URL for the server, deriving it from
// Endpoint when no explicit URL was configured.
func (c ServerConfig) WebSocketEndpoint() string {
	if c.WebSocketURL != "" {
		return c.WebSocketURL
	}
	switch {
	case strings.HasPrefix(c.Endpoint, "https://"):
		return "wss://" + strings.TrimPrefix(c.Endpoint, "https://")
	case strings.HasPrefix(c.Endpoint, "http://"):
		return "ws://" + strings.TrimPrefix(c.Endpoint, "http://")
	}
	return c.Endpoint
}

// Validate checks the configuration for structural problems.
func (c ServerConfig) Validate() error {
	var issues []schema.Issue
	switch c.Transport {
	case TransportHTTP, TransportWebSocket, TransportBoth:
	default:
		issues = append(issues, schema.Issue{Path: "transport", Message: fmt.Sprintf("must be one of http, websocket, both (got %q)", c.Transport)})
	}
	if c.Endpoint == "" {
		issues = append(issues, schema.Issue{Path: "endpoint", Message: "is required"})
	} else if !strings.Contains(c.Endpoint, "://") {
		issues = append(issues, schema.Issue{Path: "endpoint", Message: "must be an absolute URL"})
	}
	switch c.Auth.Type {
	case "", AuthNone:
	case AuthOAuth2:
		if c.Auth.Integration == "" {
			issues = append(issues, schema.Issue{Path: "auth.integration", Message: "is required for oauth2"})
		}
	default:
		issues = append(issues, schema.Issue{Path: "auth.type", Message: fmt.Sprintf("unknown auth type %q", c.Auth.Type)})
	}
	for i, origin := range c.CORS.AllowedOrigins {
		if strings.TrimSpace(origin) == "" {
			issues = append(issues, schema.Issue{Path: fmt.Sprintf("cors.allowedOrigins[%d]", i), Message: "must not be empty"})
		}
	}
	if len(issues) > 0 {
		return &ValidationError{Subject: "server config", Issues: issues}
	}
	return nil
}

// Server is a registered remote MCP server together with its discovered
// capabilities. DeploymentURL is non-empty exactly when State is DEPLOYED.
type Server struct {
	ID            string          `json:"id" bson:"_id"`
	Name          string          `json:"name" bson:"name"`
	Description   string          `json:"description,omitempty" bson:"description,omitempty"`
	Config        ServerConfig    `json:"config" bson:"config"`
	State         DeploymentState `json:"state" bson:"state"`
	DeploymentURL string          `json:"deploymentUrl,omitempty" bson:"deploymentUrl,omitempty"`
	LastError     string          `json:"lastError,omitempty" bson:"lastError,omitempty"`
	CreatedAt     time.Time       `json:"createdAt" bson:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt" bson:"updatedAt"`

	Tools     []Tool           `json:"tools,omitempty" bson:"tools,omitempty"`
	Resources []Resource       `json:"resources,omitempty" bson:"resources,omitempty"`
	Prompts   []PromptTemplate `json:"prompts,omitempty" bson:"prompts,omitempty"`
}

// Capabilities is the set of collections discovery produces for one server.
type Capabilities struct {
	Tools     []Tool           `json:"tools"`
	Resources []Resource       `json:"resources"`
	Prompts   []PromptTemplate `json:"prompts"`
}

// ToolSource records whether a tool came from discovery or was authored by a user.
type ToolSource string

const (
	SourceDiscovered ToolSource = "discovered"
	SourceAuthored   ToolSource = "authored"
)

// Parameter describes one named input of a tool.
type Parameter struct {
	Name        string         `json:"name" yaml:"name" bson:"name"`
	Type        schema.Kind    `json:"type" yaml:"type" bson:"type"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty" bson:"description,omitempty"`
	Required    bool           `json:"required,omitempty" yaml:"required,omitempty" bson:"required,omitempty"`
	// Nullable parameters accept an explicit null.
	Nullable    bool           `json:"nullable,omitempty" yaml:"nullable,omitempty" bson:"nullable,omitempty"`
	Schema      *schema.Schema `json:"schema,omitempty" yaml:"schema,omitempty" bson:"schema,omitempty"`
}

// EffectiveSchema returns the nested schema if present, otherwise a schema of Type.
func (p Parameter) EffectiveSchema() *schema.Schema {
	if p.Schema != nil {
		if p.Nullable && !p.Schema.Nullable {
			s := *p.Schema
			s.Nullable = true
			return &s
		}
		return p.Schema
	}
	return &schema.Schema{Kind: p.Type, Description: p.Description, Nullable: p.Nullable}
}

// ReturnType describes a tool's result.
type ReturnType struct {
	Type        schema.Kind    `json:"type,omitempty" yaml:"type,omitempty" bson:"type,omitempty"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty" bson:"description,omitempty"`
	Schema      *schema.Schema `json:"schema,omitempty" yaml:"schema,omitempty" bson:"schema,omitempty"`
}

// Tool is an invocable operation exposed by a server.
type Tool struct {
	ID          string      `json:"id" yaml:"id,omitempty" bson:"id"`
	ServerID    string      `json:"serverId" yaml:"-" bson:"serverId"`
	Name        string      `json:"name" yaml:"name" bson:"name"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty" bson:"description,omitempty"`
	Parameters  []Parameter `json:"parameters" yaml:"parameters,omitempty" bson:"parameters"`
	Returns     ReturnType  `json:"returns,omitempty" yaml:"returns,omitempty" bson:"returns,omitempty"`

	// AdditionalParams lets invocations pass parameters that are not declared.
	AdditionalParams bool `json:"additionalParams,omitempty" yaml:"additionalParams,omitempty" bson:"additionalParams,omitempty"`

	// Integration names the OAuth integration whose credential the tool needs.
	Integration string     `json:"integration,omitempty" yaml:"integration,omitempty" bson:"integration,omitempty"`
	Source      ToolSource `json:"source" yaml:"-" bson:"source"`
	CreatedAt   time.Time  `json:"createdAt" yaml:"-" bson:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt" yaml:"-" bson:"updatedAt"`
}

// Check verifies the tool definition: a name, known parameter kinds and
// unique parameter names.
func (t *Tool) Check() error {
	var issues []schema.Issue
	if strings.TrimSpace(t.Name) == "" {
		issues = append(issues, schema.Issue{Path: "name", Message: "is required"})
	}
	seen := make(map[string]bool, len(t.Parameters))
	for i, p := range t.Parameters {
		path := fmt.Sprintf("parameters[%d]", i)
		if p.Name == "" {
			issues = append(issues, schema.Issue{Path: path + ".name", Message: "is required"})
			continue
		}
		if seen[p.Name] {
			issues = append(issues, schema.Issue{Path: path + ".name", Message: fmt.Sprintf("duplicate parameter %q", p.Name)})
		}
		seen[p.Name] = true
		if !p.Type.Valid() {
			issues = append(issues, schema.Issue{Path: path + ".type", Message: fmt.Sprintf("unknown kind %q", p.Type)})
		}
		if err := p.Schema.Check(); err != nil {
			issues = append(issues, schema.Issue{Path: path + ".schema", Message: err.Error()})
		}
	}
	if len(issues) > 0 {
		return &ValidationError{Subject: "tool " + t.Name, Issues: issues}
	}
	return nil
}

// ValidateParams checks params against the tool's parameter list. Missing
// required parameters, unknown parameters and type mismatches are all
// reported in a single ValidationError. Unknown parameters pass when the tool
// allows additional parameters.
func (t *Tool) ValidateParams(params map[string]any) error {
	var issues []schema.Issue
	declared := make(map[string]bool, len(t.Parameters))
	for _, p := range t.Parameters {
		declared[p.Name] = true
		value, ok := params[p.Name]
		if !ok {
			if p.Required {
				issues = append(issues, schema.Issue{Path: p.Name, Message: "required parameter is missing"})
			}
			continue
		}
		issues = append(issues, p.EffectiveSchema().ValidateAt(p.Name, value)...)
	}
	for name := range params {
		if !declared[name] && !t.AdditionalParams {
			issues = append(issues, schema.Issue{Path: name, Message: "unknown parameter"})
		}
	}
	if len(issues) > 0 {
		sortIssues(issues)
		return &ValidationError{Subject: "parameters for tool " + t.Name, Issues: issues}
	}
	return nil
}

// Resource is a data source exposed by a server.
type Resource struct {
	ID          string         `json:"id" yaml:"id,omitempty" bson:"id"`
	ServerID    string         `json:"serverId" yaml:"-" bson:"serverId"`
	Name        string         `json:"name" yaml:"name" bson:"name"`
	URI         string         `json:"uri" yaml:"uri" bson:"uri"`
	Type        string         `json:"type,omitempty" yaml:"type,omitempty" bson:"type,omitempty"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty" bson:"description,omitempty"`
	Config      map[string]any `json:"config,omitempty" yaml:"config,omitempty" bson:"config,omitempty"`
}

// PromptVariable is a named input of a prompt template.
type PromptVariable struct {
	Name        string `json:"name" yaml:"name" bson:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty" bson:"description,omitempty"`
	Required    bool   `json:"required,omitempty" yaml:"required,omitempty" bson:"required,omitempty"`
}

// PromptTemplate is a parameterised prompt exposed by or authored for a server.
// Template holds the text/template body for authored prompts and is empty for
// prompts discovered from a remote server.
type PromptTemplate struct {
	ID          string           `json:"id" yaml:"id,omitempty" bson:"id"`
	ServerID    string           `json:"serverId" yaml:"-" bson:"serverId"`
	Name        string           `json:"name" yaml:"name" bson:"name"`
	Description string           `json:"description,omitempty" yaml:"description,omitempty" bson:"description,omitempty"`
	Template    string           `json:"template,omitempty" yaml:"template,omitempty" bson:"template,omitempty"`
	Variables   []PromptVariable `json:"variables,omitempty" yaml:"variables,omitempty" bson:"variables,omitempty"`
}

// ToolResult is the payload returned by a successful invocation.
type ToolResult struct {
	Content    []map[string]any `json:"content,omitempty" bson:"content,omitempty"`
	Structured any              `json:"structured,omitempty" bson:"structured,omitempty"`
	IsError    bool             `json:"isError,omitempty" bson:"isError,omitempty"`
}

// Text concatenates the text content items of the result.
func (r *ToolResult) Text() string {
	if r == nil {
		return ""
	}
	var parts []string
	for _, c := range r.Content {
		if c["type"] == "text" {
			if s, ok := c["text"].(string); ok {
				parts = append(parts, s)
			}
		}
	}
	return strings.Join(parts, "\n")
}

// ExecutionStatus is derived from an ExecutionRecord.
type ExecutionStatus string

const (
	ExecutionSucceeded ExecutionStatus = "success"
	ExecutionFailed    ExecutionStatus = "error"
)

// ExecutionRecord is the immutable log entry written once per tool execution.
// Exactly one of Result and Error is set.
type ExecutionRecord struct {
	ID        string           `json:"id" bson:"_id"`
	ServerID  string           `json:"serverId" bson:"serverId"`
	ToolID    string           `json:"toolId" bson:"toolId"`
	ToolName  string           `json:"toolName" bson:"toolName"`
	Input     map[string]any   `json:"input,omitempty" bson:"input,omitempty"`
	Result    *ToolResult      `json:"result,omitempty" bson:"result,omitempty"`
	Error     *ErrorDescriptor `json:"error,omitempty" bson:"error,omitempty"`
	Actor     string           `json:"actor,omitempty" bson:"actor,omitempty"`
	StartedAt time.Time        `json:"startedAt" bson:"startedAt"`
	EndedAt   time.Time        `json:"endedAt" bson:"endedAt"`
}

// Status reports whether the execution succeeded.
func (r *ExecutionRecord) Status() ExecutionStatus {
	if r.Error != nil {
		return ExecutionFailed
	}
	return ExecutionSucceeded
}

// Duration is the wall clock time the execution took.
func (r *ExecutionRecord) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

// ExecutionFilter narrows an execution history listing.
type ExecutionFilter struct {
	ServerID string          `json:"serverId,omitempty"`
	ToolID   string          `json:"toolId,omitempty"`
	Status   ExecutionStatus `json:"status,omitempty"`
	Since    *time.Time      `json:"since,omitempty"`
	Limit    int             `json:"limit,omitempty"`
	Offset   int             `json:"offset,omitempty"`
}

// ExecutionPage is one page of execution history, newest first.
type ExecutionPage struct {
	Records []*ExecutionRecord `json:"records"`
	Total   int                `json:"total"`
	Limit   int                `json:"limit"`
	Offset  int                `json:"offset"`
	HasMore bool               `json:"hasMore"`
}

// Credential is the usable form of an OAuth grant for one integration account.
// Token fields never render their value when printed or serialised.
type Credential struct {
	Integration  string        `json:"integration"`
	Account      string        `json:"account"`
	AccessToken  RedactedToken `json:"accessToken"`
	RefreshToken RedactedToken `json:"refreshToken"`
	TokenType    string        `json:"tokenType,omitempty"`
	Scopes       []string      `json:"scopes,omitempty"`
	ExpiresAt    time.Time     `json:"expiresAt,omitempty"`
	Revoked      bool          `json:"revoked,omitempty"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// ValidFor reports whether the access token is usable for at least margin more.
// A zero ExpiresAt means the provider issued a non-expiring token.
func (c *Credential) ValidFor(now time.Time, margin time.Duration) bool {
	if c == nil || c.Revoked || c.AccessToken.IsEmpty() {
		return false
	}
	if c.ExpiresAt.IsZero() {
		return true
	}
	return now.Add(margin).Before(c.ExpiresAt)
}

// Public returns a copy without the refresh token, the shape handed to callers
// outside the OAuth manager.
func (c *Credential) Public() *Credential {
	cp := *c
	cp.RefreshToken = RedactedToken{}
	cp.Scopes = append([]string(nil), c.Scopes...)
	return &cp
}

// SealedCredential is the at-rest form of a Credential. Metadata needed to
// display connection status stays in clear; token material is encrypted.
type SealedCredential struct {
	Integration string    `json:"integration" bson:"integration"`
	Account     string    `json:"account" bson:"account"`
	Scopes      []string  `json:"scopes,omitempty" bson:"scopes,omitempty"`
	ExpiresAt   time.Time `json:"expiresAt,omitempty" bson:"expiresAt,omitempty"`
	Revoked     bool      `json:"revoked,omitempty" bson:"revoked,omitempty"`
	Sealed      []byte    `json:"-" bson:"sealed"`
	UpdatedAt   time.Time `json:"updatedAt" bson:"updatedAt"`
}

// CredentialStatus is what the platform may show about a credential.
type CredentialStatus struct {
	Integration string    `json:"integration"`
	Account     string    `json:"account"`
	Connected   bool      `json:"connected"`
	Revoked     bool      `json:"revoked,omitempty"`
	Scopes      []string  `json:"scopes,omitempty"`
	ExpiresAt   time.Time `json:"expiresAt,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt,omitempty"`
}
