package mcpclient

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sort"
	"strings"

	"mcpstudio/internal/api"
	"mcpstudio/internal/schema"
)

const (
	clientName      = "mcpstudio"
	protocolVersion = "2025-03-26"
	// maxPages bounds cursor pagination against servers that never stop.
	maxPages = 100
)

// errSessionClosed is returned for calls on a session whose connection ended.
var errSessionClosed = errors.New("session closed")

// serverCaps records which capability families the server announced.
type serverCaps struct {
	tools     bool
	resources bool
	prompts   bool
}

// session is one protocol connection to a server.
type session interface {
	ListTools(ctx context.Context) ([]api.Tool, error)
	ListResources(ctx context.Context) ([]api.Resource, error)
	ListPrompts(ctx context.Context) ([]api.PromptTemplate, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*api.ToolResult, error)
	Ping(ctx context.Context) error
	Close() error
	capabilities() serverCaps
	// done is closed when the connection ends on its own. Request/response
	// transports return nil.
	done() <-chan struct{}
	// err reports why done was closed.
	err() error
}

// Wire shapes shared by both transports.

type wireTool struct {
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	InputSchema  map[string]any `json:"inputSchema,omitempty"`
	OutputSchema map[string]any `json:"outputSchema,omitempty"`
}

type wireResource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MIMEType    string `json:"mimeType,omitempty"`
}

type wirePrompt struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Arguments   []struct {
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
		Required    bool   `json:"required,omitempty"`
	} `json:"arguments,omitempty"`
}

type wireCallResult struct {
	Content           []map[string]any `json:"content"`
	StructuredContent any              `json:"structuredContent,omitempty"`
	IsError           bool             `json:"isError,omitempty"`
}

// reshape converts between two JSON-compatible representations.
func reshape(in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (w wireTool) toTool() api.Tool {
	tool := api.Tool{
		Name:        w.Name,
		Description: w.Description,
		Source:      api.SourceDiscovered,
		Parameters:  []api.Parameter{},
	}
	// Undeclared arguments are only forwarded when the server opts in.
	if ap, ok := w.InputSchema["additionalProperties"].(bool); ok {
		tool.AdditionalParams = ap
	}

	input := schema.FromJSONSchema(w.InputSchema)
	names := make([]string, 0, len(input.Properties))
	for name := range input.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		prop := input.Properties[name]
		p := api.Parameter{
			Name:        name,
			Type:        prop.Kind,
			Description: prop.Description,
			Required:    slices.Contains(input.Required, name),
			Nullable:    prop.Nullable,
		}
		if len(prop.Enum) > 0 || prop.Items != nil || len(prop.Properties) > 0 {
			p.Schema = prop
		}
		tool.Parameters = append(tool.Parameters, p)
	}

	if w.OutputSchema != nil {
		out := schema.FromJSONSchema(w.OutputSchema)
		tool.Returns = api.ReturnType{Type: out.Kind, Description: out.Description, Schema: out}
	}
	return tool
}

func (w wireResource) toResource() api.Resource {
	return api.Resource{Name: w.Name, URI: w.URI, Type: w.MIMEType, Description: w.Description}
}

func (w wirePrompt) toPrompt() api.PromptTemplate {
	p := api.PromptTemplate{Name: w.Name, Description: w.Description}
	for _, a := range w.Arguments {
		p.Variables = append(p.Variables, api.PromptVariable{Name: a.Name, Description: a.Description, Required: a.Required})
	}
	return p
}

func (w wireCallResult) toResult() *api.ToolResult {
	return &api.ToolResult{Content: w.Content, Structured: w.StructuredContent, IsError: w.IsError}
}

// isUnauthorized detects a 401 from the remote server.
func isUnauthorized(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "401") || strings.Contains(strings.ToLower(msg), "unauthorized")
}
