package api

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpstudio/internal/schema"
)

func weatherTool() *Tool {
	return &Tool{
		Name: "getWeather",
		Parameters: []Parameter{
			{Name: "location", Type: schema.KindString, Required: true},
			{Name: "days", Type: schema.KindInteger},
			{
				Name: "options",
				Type: schema.KindObject,
				Schema: &schema.Schema{
					Kind:       schema.KindObject,
					Properties: map[string]*schema.Schema{"units": {Kind: schema.KindString, Enum: []any{"c", "f"}}},
				},
			},
		},
	}
}

func TestTool_ValidateParams(t *testing.T) {
	tool := weatherTool()

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, tool.ValidateParams(map[string]any{"location": "Paris", "days": float64(3)}))
	})

	t.Run("missing required", func(t *testing.T) {
		err := tool.ValidateParams(map[string]any{})
		require.Error(t, err)
		assert.True(t, IsValidation(err))
		assert.Contains(t, err.Error(), "location: required parameter is missing")
	})

	t.Run("numeric string is not an integer", func(t *testing.T) {
		err := tool.ValidateParams(map[string]any{"location": "Paris", "days": "3"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "days: expected integer, got string")
	})

	t.Run("unknown parameter", func(t *testing.T) {
		err := tool.ValidateParams(map[string]any{"location": "Paris", "verbose": true})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "verbose: unknown parameter")
	})

	t.Run("nested schema", func(t *testing.T) {
		err := tool.ValidateParams(map[string]any{"location": "Paris", "options": map[string]any{"units": "k"}})
		require.Error(t, err)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		require.Len(t, verr.Issues, 1)
		assert.Equal(t, "options.units", verr.Issues[0].Path)
	})

	t.Run("null needs a nullable parameter", func(t *testing.T) {
		err := tool.ValidateParams(map[string]any{"location": "Paris", "days": nil})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "days: expected integer, got null")

		nullable := weatherTool()
		nullable.Parameters[1].Nullable = true
		nullable.Parameters[2].Nullable = true
		assert.NoError(t, nullable.ValidateParams(map[string]any{"location": "Paris", "days": nil, "options": nil}))
		assert.Error(t, nullable.ValidateParams(map[string]any{"location": nil}))
	})

	t.Run("additional parameters", func(t *testing.T) {
		open := weatherTool()
		open.AdditionalParams = true
		assert.NoError(t, open.ValidateParams(map[string]any{"location": "Paris", "verbose": true}))
		err := open.ValidateParams(map[string]any{"verbose": true})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "location: required parameter is missing")
	})
}

func TestTool_Check(t *testing.T) {
	assert.NoError(t, weatherTool().Check())

	dup := &Tool{Name: "x", Parameters: []Parameter{
		{Name: "a", Type: schema.KindString},
		{Name: "a", Type: schema.KindNumber},
	}}
	err := dup.Check()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `duplicate parameter "a"`)

	assert.Error(t, (&Tool{Name: ""}).Check())
	assert.Error(t, (&Tool{Name: "x", Parameters: []Parameter{{Name: "a", Type: "decimal"}}}).Check())
}

func TestServerConfig_WebSocketEndpoint(t *testing.T) {
	assert.Equal(t, "wss://mcp.example.com/mcp", ServerConfig{Endpoint: "https://mcp.example.com/mcp"}.WebSocketEndpoint())
	assert.Equal(t, "ws://localhost:9000/mcp", ServerConfig{Endpoint: "http://localhost:9000/mcp"}.WebSocketEndpoint())
	assert.Equal(t, "ws://other/ws", ServerConfig{Endpoint: "http://x", WebSocketURL: "ws://other/ws"}.WebSocketEndpoint())
}

func TestServerConfig_Validate(t *testing.T) {
	assert.NoError(t, ServerConfig{Transport: TransportHTTP, Endpoint: "http://localhost/mcp"}.Validate())

	err := ServerConfig{Transport: "carrier-pigeon", Endpoint: "localhost", Auth: AuthConfig{Type: AuthOAuth2}}.Validate()
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Issues, 3)
}

func TestCredential_ValidFor(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	cred := &Credential{AccessToken: NewRedactedToken("at"), ExpiresAt: now.Add(time.Minute)}

	assert.True(t, cred.ValidFor(now, 30*time.Second))
	assert.False(t, cred.ValidFor(now, 2*time.Minute))

	cred.Revoked = true
	assert.False(t, cred.ValidFor(now, 0))

	noExpiry := &Credential{AccessToken: NewRedactedToken("at")}
	assert.True(t, noExpiry.ValidFor(now, time.Hour))
}

func TestCredential_PublicDropsRefreshToken(t *testing.T) {
	cred := &Credential{AccessToken: NewRedactedToken("at"), RefreshToken: NewRedactedToken("rt")}
	pub := cred.Public()
	assert.True(t, pub.RefreshToken.IsEmpty())
	assert.Equal(t, "at", pub.AccessToken.Value())
	assert.Equal(t, "rt", cred.RefreshToken.Value())
}

func TestRedactedToken_NeverRendersValue(t *testing.T) {
	tok := NewRedactedToken("super-secret")

	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%s", tok))
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", tok))
	assert.NotContains(t, fmt.Sprintf("%#v", tok), "super-secret")

	data, err := json.Marshal(Credential{AccessToken: tok})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "super-secret")
}

func TestExecutionRecord_Status(t *testing.T) {
	start := time.Now()
	ok := &ExecutionRecord{Result: &ToolResult{}, StartedAt: start, EndedAt: start.Add(time.Second)}
	failed := &ExecutionRecord{Error: &ErrorDescriptor{Kind: KindTimeout}}

	assert.Equal(t, ExecutionSucceeded, ok.Status())
	assert.Equal(t, time.Second, ok.Duration())
	assert.Equal(t, ExecutionFailed, failed.Status())
}

func TestToolResult_Text(t *testing.T) {
	r := &ToolResult{Content: []map[string]any{
		{"type": "text", "text": "sunny"},
		{"type": "image", "data": "..."},
		{"type": "text", "text": "22C"},
	}}
	assert.Equal(t, "sunny\n22C", r.Text())
	assert.Equal(t, "", (*ToolResult)(nil).Text())
}
