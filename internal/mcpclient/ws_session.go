package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"mcpstudio/internal/api"
	"mcpstudio/pkg/logging"
)

const (
	wsReadLimit    = 8 << 20
	wsWriteTimeout = 10 * time.Second
)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *int64 `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// rpcMessage is anything the peer sends: a response to one of our calls, a
// notification, or a request of its own. The id stays raw because a peer
// may use string ids for its requests.
type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// wsSession is a JSON-RPC 2.0 session over one persistent websocket. Calls
// are multiplexed by request id; a read loop routes responses and detects
// the connection going away.
type wsSession struct {
	conn   *websocket.Conn
	nextID atomic.Int64
	caps   serverCaps

	mu      sync.Mutex
	pending map[int64]chan rpcMessage

	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

var _ session = (*wsSession)(nil)

func dialWebSocket(ctx context.Context, url string, header http.Header, httpClient *http.Client, version string) (*wsSession, error) {
	logging.Debug("MCPClient", "Dialing websocket session at %s", url)

	conn, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient:   httpClient,
		HTTPHeader:   header,
		Subprotocols: []string{"mcp"},
	})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("websocket handshake rejected: 401 unauthorized")
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	conn.SetReadLimit(wsReadLimit)

	s := &wsSession{
		conn:    conn,
		pending: make(map[int64]chan rpcMessage),
		closed:  make(chan struct{}),
	}
	go s.readLoop()

	var init struct {
		Capabilities map[string]json.RawMessage `json:"capabilities"`
		ServerInfo   struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"serverInfo"`
	}
	err = s.call(ctx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": clientName, "version": version},
	}, &init)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to initialize MCP protocol: %w", err)
	}
	if err := s.notify("notifications/initialized", nil); err != nil {
		_ = s.Close()
		return nil, err
	}

	_, s.caps.tools = init.Capabilities["tools"]
	_, s.caps.resources = init.Capabilities["resources"]
	_, s.caps.prompts = init.Capabilities["prompts"]

	logging.Debug("MCPClient", "Websocket session initialized. Server: %s, Version: %s",
		init.ServerInfo.Name, init.ServerInfo.Version)
	return s, nil
}

func (s *wsSession) readLoop() {
	for {
		var msg rpcMessage
		if err := wsjson.Read(context.Background(), s.conn, &msg); err != nil {
			s.shutdown(err)
			return
		}
		switch {
		case msg.Method != "" && isNull(msg.ID):
			logging.Debug("MCPClient", "Ignoring server notification %s", msg.Method)
		case msg.Method != "":
			go s.answer(msg)
		default:
			var id int64
			if err := json.Unmarshal(msg.ID, &id); err != nil {
				logging.Debug("MCPClient", "Ignoring response with unknown id %s", string(msg.ID))
				continue
			}
			s.mu.Lock()
			ch, ok := s.pending[id]
			delete(s.pending, id)
			s.mu.Unlock()
			if ok {
				ch <- msg
			}
		}
	}
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// answer replies to a request the server sent: ping gets an empty result,
// anything else is not supported by this client.
func (s *wsSession) answer(req rpcMessage) {
	resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}
	if req.Method == "ping" {
		resp.Result = struct{}{}
	} else {
		resp.Error = &rpcError{Code: -32601, Message: "method not found: " + req.Method}
	}
	ctx, cancel := context.WithTimeout(context.Background(), wsWriteTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, s.conn, resp); err != nil {
		logging.Debug("MCPClient", "Failed to answer server request %s: %v", req.Method, err)
	}
}

func (s *wsSession) shutdown(err error) {
	s.closeOnce.Do(func() {
		s.closeErr = err
		close(s.closed)
	})
}

func (s *wsSession) write(req rpcRequest) error {
	// Writes get their own deadline: coder/websocket closes the connection
	// when a write's context ends mid-frame, and the connection is shared.
	ctx, cancel := context.WithTimeout(context.Background(), wsWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, s.conn, req)
}

func (s *wsSession) notify(method string, params any) error {
	return s.write(rpcRequest{JSONRPC: "2.0", Method: method, Params: params})
}

func (s *wsSession) call(ctx context.Context, method string, params, out any) error {
	id := s.nextID.Add(1)
	ch := make(chan rpcMessage, 1)

	s.mu.Lock()
	s.pending[id] = ch
	s.mu.Unlock()
	forget := func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}

	select {
	case <-s.closed:
		forget()
		return fmt.Errorf("%w: %v", errSessionClosed, s.closeErr)
	default:
	}

	if err := s.write(rpcRequest{JSONRPC: "2.0", ID: &id, Method: method, Params: params}); err != nil {
		forget()
		return fmt.Errorf("sending %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		forget()
		return ctx.Err()
	case <-s.closed:
		forget()
		return fmt.Errorf("%w: %v", errSessionClosed, s.closeErr)
	case msg := <-ch:
		if msg.Error != nil {
			return msg.Error
		}
		if out == nil || len(msg.Result) == 0 {
			return nil
		}
		return json.Unmarshal(msg.Result, out)
	}
}

func (s *wsSession) capabilities() serverCaps { return s.caps }
func (s *wsSession) done() <-chan struct{}    { return s.closed }

func (s *wsSession) err() error {
	select {
	case <-s.closed:
		return s.closeErr
	default:
		return nil
	}
}

// list follows nextCursor until the server stops returning one.
func (s *wsSession) list(ctx context.Context, method, field string, each func(json.RawMessage) error) error {
	cursor := ""
	for page := 0; page < maxPages; page++ {
		params := map[string]any{}
		if cursor != "" {
			params["cursor"] = cursor
		}
		var result map[string]json.RawMessage
		if err := s.call(ctx, method, params, &result); err != nil {
			return err
		}
		if raw, ok := result[field]; ok {
			if err := each(raw); err != nil {
				return fmt.Errorf("decoding %s: %w", field, err)
			}
		}
		cursor = ""
		if raw, ok := result["nextCursor"]; ok {
			_ = json.Unmarshal(raw, &cursor)
		}
		if cursor == "" {
			return nil
		}
	}
	return fmt.Errorf("%s exceeded %d pages", method, maxPages)
}

func (s *wsSession) ListTools(ctx context.Context) ([]api.Tool, error) {
	var out []api.Tool
	err := s.list(ctx, "tools/list", "tools", func(raw json.RawMessage) error {
		var wire []wireTool
		if err := json.Unmarshal(raw, &wire); err != nil {
			return err
		}
		for _, w := range wire {
			out = append(out, w.toTool())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}
	return out, nil
}

func (s *wsSession) ListResources(ctx context.Context) ([]api.Resource, error) {
	var out []api.Resource
	err := s.list(ctx, "resources/list", "resources", func(raw json.RawMessage) error {
		var wire []wireResource
		if err := json.Unmarshal(raw, &wire); err != nil {
			return err
		}
		for _, w := range wire {
			out = append(out, w.toResource())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	return out, nil
}

func (s *wsSession) ListPrompts(ctx context.Context) ([]api.PromptTemplate, error) {
	var out []api.PromptTemplate
	err := s.list(ctx, "prompts/list", "prompts", func(raw json.RawMessage) error {
		var wire []wirePrompt
		if err := json.Unmarshal(raw, &wire); err != nil {
			return err
		}
		for _, w := range wire {
			out = append(out, w.toPrompt())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list prompts: %w", err)
	}
	return out, nil
}

// CallTool sends tools/call. A credential bound to ctx travels in _meta,
// since the websocket has no per-request headers.
func (s *wsSession) CallTool(ctx context.Context, name string, args map[string]any) (*api.ToolResult, error) {
	params := map[string]any{"name": name, "arguments": args}
	value, err := authorization(ctx, api.AuthConfig{}, nil)
	if err != nil {
		return nil, err
	}
	if value != "" {
		params["_meta"] = map[string]any{"authorization": value}
	}
	var wire wireCallResult
	if err := s.call(ctx, "tools/call", params, &wire); err != nil {
		return nil, fmt.Errorf("failed to call tool: %w", err)
	}
	return wire.toResult(), nil
}

func (s *wsSession) Ping(ctx context.Context) error {
	return s.call(ctx, "ping", nil, nil)
}

func (s *wsSession) Close() error {
	s.shutdown(errSessionClosed)
	// The peer may already be gone; there is nothing left to report then.
	_ = s.conn.Close(websocket.StatusNormalClosure, "")
	return nil
}
