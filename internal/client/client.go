package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"mcpstudio/internal/api"
	"mcpstudio/internal/events"
)

const defaultTimeout = 130 * time.Second

// Client talks to one mcpstudio API endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a client for baseURL, e.g. http://localhost:8090.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the API endpoint.
func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response of %s %s: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var body struct {
		Error *api.ErrorDescriptor `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err := json.Unmarshal(data, &body); err == nil && body.Error != nil {
		return body.Error
	}
	return &api.ErrorDescriptor{
		Kind:    api.KindInternal,
		Message: fmt.Sprintf("unexpected response %s: %s", resp.Status, strings.TrimSpace(string(data))),
	}
}

func serverPath(ref string, parts ...string) string {
	p := "/api/v1/servers/" + url.PathEscape(ref)
	for _, part := range parts {
		p += "/" + url.PathEscape(part)
	}
	return p
}

// Health checks that the API answers.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *Client) ListServers(ctx context.Context) ([]*api.Server, error) {
	var out []*api.Server
	if err := c.do(ctx, http.MethodGet, "/api/v1/servers", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) RegisterServer(ctx context.Context, req api.RegisterServerRequest) (*api.Server, error) {
	var out api.Server
	if err := c.do(ctx, http.MethodPost, "/api/v1/servers", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetServer accepts an id or a name.
func (c *Client) GetServer(ctx context.Context, ref string) (*api.Server, error) {
	var out api.Server
	if err := c.do(ctx, http.MethodGet, serverPath(ref), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateServer(ctx context.Context, ref string, req api.UpdateServerRequest) (*api.Server, error) {
	var out api.Server
	if err := c.do(ctx, http.MethodPatch, serverPath(ref), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeregisterServer(ctx context.Context, ref string) error {
	return c.do(ctx, http.MethodDelete, serverPath(ref), nil, nil)
}

// Deploy starts a deployment. With wait the call returns the settled server
// (DEPLOYED or FAILED); without it the server is returned in DEPLOYING.
func (c *Client) Deploy(ctx context.Context, ref string, wait bool) (*api.Server, error) {
	path := serverPath(ref, "deploy")
	if wait {
		path += "?wait=true"
	}
	var out api.Server
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Undeploy(ctx context.Context, ref string) (*api.Server, error) {
	var out api.Server
	if err := c.do(ctx, http.MethodPost, serverPath(ref, "undeploy"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListTools(ctx context.Context, serverRef string) ([]api.Tool, error) {
	var out []api.Tool
	if err := c.do(ctx, http.MethodGet, serverPath(serverRef, "tools"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetTool(ctx context.Context, serverRef, toolRef string) (*api.Tool, error) {
	var out api.Tool
	if err := c.do(ctx, http.MethodGet, serverPath(serverRef, "tools", toolRef), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SaveTool creates or replaces an authored tool.
func (c *Client) SaveTool(ctx context.Context, serverRef string, tool api.Tool) (*api.Tool, error) {
	var out api.Tool
	if err := c.do(ctx, http.MethodPost, serverPath(serverRef, "tools"), tool, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteTool(ctx context.Context, serverRef, toolRef string) error {
	return c.do(ctx, http.MethodDelete, serverPath(serverRef, "tools", toolRef), nil, nil)
}

// Execute runs a tool. A recorded failure is returned as a record with Error
// set and a nil error.
func (c *Client) Execute(ctx context.Context, serverRef, toolRef string, req api.ExecuteToolRequest) (*api.ExecutionRecord, error) {
	if req.Params == nil {
		req.Params = map[string]any{}
	}
	var out api.ExecutionRecord
	if err := c.do(ctx, http.MethodPost, serverPath(serverRef, "tools", toolRef, "execute"), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListResources(ctx context.Context, serverRef string) ([]api.Resource, error) {
	var out []api.Resource
	if err := c.do(ctx, http.MethodGet, serverPath(serverRef, "resources"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListPrompts(ctx context.Context, serverRef string) ([]api.PromptTemplate, error) {
	var out []api.PromptTemplate
	if err := c.do(ctx, http.MethodGet, serverPath(serverRef, "prompts"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) SavePrompt(ctx context.Context, serverRef string, prompt api.PromptTemplate) (*api.PromptTemplate, error) {
	var out api.PromptTemplate
	if err := c.do(ctx, http.MethodPost, serverPath(serverRef, "prompts"), prompt, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RenderPrompt(ctx context.Context, serverRef, promptRef string, vars map[string]any) (string, error) {
	if vars == nil {
		vars = map[string]any{}
	}
	var out api.RenderPromptResponse
	if err := c.do(ctx, http.MethodPost, serverPath(serverRef, "prompts", promptRef, "render"), api.RenderPromptRequest{Variables: vars}, &out); err != nil {
		return "", err
	}
	return out.Text, nil
}

// HistoryQuery selects execution records. Server and Tool accept ids or names.
type HistoryQuery struct {
	Server string
	Tool   string
	Status api.ExecutionStatus
	Since  time.Time
	Limit  int
	Offset int
}

func (q HistoryQuery) encode() string {
	v := url.Values{}
	if q.Server != "" {
		v.Set("server", q.Server)
	}
	if q.Tool != "" {
		v.Set("tool", q.Tool)
	}
	if q.Status != "" {
		v.Set("status", string(q.Status))
	}
	if !q.Since.IsZero() {
		v.Set("since", q.Since.UTC().Format(time.RFC3339))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		v.Set("offset", strconv.Itoa(q.Offset))
	}
	if len(v) == 0 {
		return ""
	}
	return "?" + v.Encode()
}

func (c *Client) History(ctx context.Context, q HistoryQuery) (*api.ExecutionPage, error) {
	var out api.ExecutionPage
	if err := c.do(ctx, http.MethodGet, "/api/v1/executions"+q.encode(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetExecution(ctx context.Context, id string) (*api.ExecutionRecord, error) {
	var out api.ExecutionRecord
	if err := c.do(ctx, http.MethodGet, "/api/v1/executions/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Integrations(ctx context.Context) ([]string, error) {
	var out api.IntegrationsResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/integrations", nil, &out); err != nil {
		return nil, err
	}
	return out.Integrations, nil
}

// AuthorizeURL starts an authorization code flow and returns the URL to open.
func (c *Client) AuthorizeURL(ctx context.Context, integration, account string) (string, error) {
	var out api.AuthorizeResponse
	path := "/api/v1/integrations/" + url.PathEscape(integration) + "/authorize"
	if err := c.do(ctx, http.MethodPost, path, api.AuthorizeRequest{Account: account}, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

// Credentials lists credential status for an integration, or for all of them
// when integration is empty.
func (c *Client) Credentials(ctx context.Context, integration string) ([]api.CredentialStatus, error) {
	if integration == "" {
		integration = "all"
	}
	var out []api.CredentialStatus
	path := "/api/v1/integrations/" + url.PathEscape(integration) + "/credentials"
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CredentialStatus(ctx context.Context, integration, account string) (*api.CredentialStatus, error) {
	var out api.CredentialStatus
	path := "/api/v1/integrations/" + url.PathEscape(integration) + "/credentials/" + url.PathEscape(account)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Revoke(ctx context.Context, integration, account string) error {
	path := "/api/v1/integrations/" + url.PathEscape(integration) + "/credentials/" + url.PathEscape(account)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// StreamEvents delivers events matching pattern to fn until ctx ends, fn
// returns an error or the server closes the stream. A server side close
// after a subscriber overflow is returned as *api.SubscriberOverflowError.
func (c *Client) StreamEvents(ctx context.Context, pattern string, fn func(events.Event) error) error {
	u, err := url.Parse(c.baseURL + "/ws/events")
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	if pattern != "" {
		u.RawQuery = url.Values{"pattern": {pattern}}.Encode()
	}

	conn, resp, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{HTTPClient: c.wsHTTPClient()})
	if err != nil {
		if resp != nil && resp.StatusCode >= 300 {
			defer resp.Body.Close()
			return decodeError(resp)
		}
		return fmt.Errorf("opening event stream: %w", err)
	}
	defer conn.CloseNow()

	var overflow *api.SubscriberOverflowError
	for {
		var event events.Event
		if err := wsjson.Read(ctx, conn, &event); err != nil {
			switch {
			case ctx.Err() != nil:
				return nil
			case websocket.CloseStatus(err) == websocket.StatusPolicyViolation:
				if overflow == nil {
					overflow = &api.SubscriberOverflowError{Pattern: pattern}
				}
				return overflow
			case websocket.CloseStatus(err) == websocket.StatusGoingAway,
				websocket.CloseStatus(err) == websocket.StatusNormalClosure:
				return nil
			}
			return fmt.Errorf("reading event stream: %w", err)
		}
		if event.Type == api.EventSubscriberOverflow {
			overflow = overflowFrom(event)
		}
		if err := fn(event); err != nil {
			conn.Close(websocket.StatusNormalClosure, "")
			return err
		}
	}
}

// wsHTTPClient drops the request timeout, which would cut a long stream.
func (c *Client) wsHTTPClient() *http.Client {
	hc := *c.httpClient
	hc.Timeout = 0
	return &hc
}

func overflowFrom(event events.Event) *api.SubscriberOverflowError {
	out := &api.SubscriberOverflowError{}
	if m, ok := event.Payload.(map[string]any); ok {
		out.SubscriptionID, _ = m["subscriptionId"].(string)
		out.Pattern, _ = m["pattern"].(string)
		if buf, ok := m["buffer"].(float64); ok {
			out.Buffer = int(buf)
		}
	}
	return out
}
