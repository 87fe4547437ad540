package mcpclient

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"mcpstudio/internal/api"
	"mcpstudio/pkg/logging"
)

// httpSession speaks MCP streamable HTTP through mcp-go.
type httpSession struct {
	client *client.Client
	caps   serverCaps
}

var _ session = (*httpSession)(nil)

func dialHTTP(ctx context.Context, endpoint string, headers map[string]string, httpClient *http.Client, version string) (*httpSession, error) {
	logging.Debug("MCPClient", "Creating streamable HTTP session for URL: %s", endpoint)

	opts := []transport.StreamableHTTPCOption{transport.WithHTTPBasicClient(httpClient)}
	if len(headers) > 0 {
		opts = append(opts, transport.WithHTTPHeaders(headers))
	}
	c, err := client.NewStreamableHttpClient(endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create streamable HTTP client: %w", err)
	}

	initResult, err := c.Initialize(ctx, mcp.InitializeRequest{
		Params: struct {
			ProtocolVersion string                 `json:"protocolVersion"`
			Capabilities    mcp.ClientCapabilities `json:"capabilities"`
			ClientInfo      mcp.Implementation     `json:"clientInfo"`
		}{
			ProtocolVersion: protocolVersion,
			ClientInfo:      mcp.Implementation{Name: clientName, Version: version},
			Capabilities:    mcp.ClientCapabilities{},
		},
	})
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to initialize MCP protocol: %w", err)
	}

	logging.Debug("MCPClient", "HTTP session initialized. Server: %s, Version: %s",
		initResult.ServerInfo.Name, initResult.ServerInfo.Version)

	return &httpSession{
		client: c,
		caps: serverCaps{
			tools:     initResult.Capabilities.Tools != nil,
			resources: initResult.Capabilities.Resources != nil,
			prompts:   initResult.Capabilities.Prompts != nil,
		},
	}, nil
}

func (s *httpSession) capabilities() serverCaps { return s.caps }
func (s *httpSession) done() <-chan struct{}    { return nil }
func (s *httpSession) err() error               { return nil }

func (s *httpSession) ListTools(ctx context.Context) ([]api.Tool, error) {
	var (
		out    []api.Tool
		cursor mcp.Cursor
	)
	for page := 0; page < maxPages; page++ {
		req := mcp.ListToolsRequest{}
		req.Params.Cursor = cursor
		result, err := s.client.ListTools(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("failed to list tools: %w", err)
		}
		var wire []wireTool
		if err := reshape(result.Tools, &wire); err != nil {
			return nil, fmt.Errorf("decoding tools: %w", err)
		}
		for _, w := range wire {
			out = append(out, w.toTool())
		}
		if result.NextCursor == "" {
			return out, nil
		}
		cursor = result.NextCursor
	}
	return nil, fmt.Errorf("tool listing exceeded %d pages", maxPages)
}

func (s *httpSession) ListResources(ctx context.Context) ([]api.Resource, error) {
	var (
		out    []api.Resource
		cursor mcp.Cursor
	)
	for page := 0; page < maxPages; page++ {
		req := mcp.ListResourcesRequest{}
		req.Params.Cursor = cursor
		result, err := s.client.ListResources(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("failed to list resources: %w", err)
		}
		var wire []wireResource
		if err := reshape(result.Resources, &wire); err != nil {
			return nil, fmt.Errorf("decoding resources: %w", err)
		}
		for _, w := range wire {
			out = append(out, w.toResource())
		}
		if result.NextCursor == "" {
			return out, nil
		}
		cursor = result.NextCursor
	}
	return nil, fmt.Errorf("resource listing exceeded %d pages", maxPages)
}

func (s *httpSession) ListPrompts(ctx context.Context) ([]api.PromptTemplate, error) {
	var (
		out    []api.PromptTemplate
		cursor mcp.Cursor
	)
	for page := 0; page < maxPages; page++ {
		req := mcp.ListPromptsRequest{}
		req.Params.Cursor = cursor
		result, err := s.client.ListPrompts(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("failed to list prompts: %w", err)
		}
		var wire []wirePrompt
		if err := reshape(result.Prompts, &wire); err != nil {
			return nil, fmt.Errorf("decoding prompts: %w", err)
		}
		for _, w := range wire {
			out = append(out, w.toPrompt())
		}
		if result.NextCursor == "" {
			return out, nil
		}
		cursor = result.NextCursor
	}
	return nil, fmt.Errorf("prompt listing exceeded %d pages", maxPages)
}

func (s *httpSession) CallTool(ctx context.Context, name string, args map[string]any) (*api.ToolResult, error) {
	result, err := s.client.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to call tool: %w", err)
	}
	var wire wireCallResult
	if err := reshape(result, &wire); err != nil {
		return nil, fmt.Errorf("decoding tool result: %w", err)
	}
	return wire.toResult(), nil
}

func (s *httpSession) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

func (s *httpSession) Close() error {
	return s.client.Close()
}
