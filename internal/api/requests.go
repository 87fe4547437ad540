package api

// Request and response bodies of the HTTP API, shared by internal/server and
// internal/client.

// RegisterServerRequest registers a server.
//
// Example:
//
//	request := RegisterServerRequest{
//	    Name: "weather",
//	    Config: ServerConfig{
//	        Transport: TransportHTTP,
//	        Endpoint:  "https://weather.example.com/mcp",
//	    },
//	}
type RegisterServerRequest struct {
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Config      ServerConfig `json:"config"`
	// Deploy starts a deployment right after registration.
	Deploy bool `json:"deploy,omitempty"`
}

// UpdateServerRequest changes descriptive fields. Nil fields are unchanged.
type UpdateServerRequest struct {
	Name        *string       `json:"name,omitempty"`
	Description *string       `json:"description,omitempty"`
	Config      *ServerConfig `json:"config,omitempty"`
}

// ExecuteToolRequest runs a tool.
type ExecuteToolRequest struct {
	Params map[string]any `json:"params"`
	// Actor is recorded on the execution record.
	Actor string `json:"actor,omitempty"`
	// Account overrides the integration account bound to the server.
	Account string `json:"account,omitempty"`
	// Timeout is a Go duration string; empty uses the engine default.
	Timeout string `json:"timeout,omitempty"`
}

// RenderPromptRequest renders an authored prompt template.
type RenderPromptRequest struct {
	Variables map[string]any `json:"variables"`
}

// RenderPromptResponse is the rendered prompt text.
type RenderPromptResponse struct {
	Text string `json:"text"`
}

// AuthorizeRequest starts an OAuth authorization code flow.
type AuthorizeRequest struct {
	Account string `json:"account,omitempty"`
}

// AuthorizeResponse carries the URL the user must open.
type AuthorizeResponse struct {
	URL string `json:"url"`
}

// IntegrationsResponse lists the configured integrations.
type IntegrationsResponse struct {
	Integrations []string `json:"integrations"`
}
