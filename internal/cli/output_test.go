package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"mcpstudio/internal/api"
	"mcpstudio/internal/events"
	"mcpstudio/internal/schema"
)

func newTestPrinter(format OutputFormat) (*Printer, *bytes.Buffer, *bytes.Buffer) {
	color.NoColor = true
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	return &Printer{Out: out, Err: errOut, Format: format}, out, errOut
}

func sampleServers() []*api.Server {
	created := time.Now().Add(-3 * time.Hour)
	return []*api.Server{
		{
			ID:        "0b6f4c1e-1111-4222-8333-944455556666",
			Name:      "weather",
			Config:    api.ServerConfig{Transport: api.TransportHTTP, Endpoint: "http://weather.local/mcp"},
			State:     api.StateDeployed,
			CreatedAt: created,
			Tools:     []api.Tool{{Name: "forecast"}},
		},
		{
			ID:        "1c7a5d2f-1111-4222-8333-944455556666",
			Name:      "search",
			Config:    api.ServerConfig{Transport: api.TransportWebSocket, Endpoint: "ws://search.local/rpc"},
			State:     api.StateFailed,
			LastError: "connect: connection refused",
			CreatedAt: created,
		},
	}
}

func TestParseOutputFormat(t *testing.T) {
	for _, s := range []string{"table", "wide", "json", "yaml", "JSON"} {
		_, err := ParseOutputFormat(s)
		assert.NoError(t, err, s)
	}
	_, err := ParseOutputFormat("xml")
	assert.ErrorContains(t, err, "unsupported output format")
	_, err = ParseOutputFormat("")
	assert.Error(t, err)
}

func TestPrinter_Servers(t *testing.T) {
	t.Run("table", func(t *testing.T) {
		p, out, _ := newTestPrinter(OutputFormatTable)
		require.NoError(t, p.Servers(sampleServers()))

		lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
		require.Len(t, lines, 3)
		assert.Equal(t, []string{"NAME", "STATE", "TRANSPORT", "ENDPOINT", "TOOLS", "AGE"}, strings.Fields(lines[0]))
		assert.Equal(t, []string{"weather", "DEPLOYED", "http", "http://weather.local/mcp", "1", "3h"}, strings.Fields(lines[1]))
		assert.NotContains(t, out.String(), "connection refused")
	})

	t.Run("wide adds id and error", func(t *testing.T) {
		p, out, _ := newTestPrinter(OutputFormatWide)
		require.NoError(t, p.Servers(sampleServers()))
		assert.Contains(t, out.String(), "0b6f4c1e-1111-4222-8333-944455556666")
		assert.Contains(t, out.String(), "connect: connection refused")
	})

	t.Run("no headers", func(t *testing.T) {
		p, out, _ := newTestPrinter(OutputFormatTable)
		p.NoHeaders = true
		require.NoError(t, p.Servers(sampleServers()))
		assert.NotContains(t, out.String(), "NAME")
		assert.Len(t, strings.Split(strings.TrimRight(out.String(), "\n"), "\n"), 2)
	})

	t.Run("json", func(t *testing.T) {
		p, out, _ := newTestPrinter(OutputFormatJSON)
		require.NoError(t, p.Servers(sampleServers()))
		var decoded []api.Server
		require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
		require.Len(t, decoded, 2)
		assert.Equal(t, api.StateFailed, decoded[1].State)
	})

	t.Run("yaml uses api field names", func(t *testing.T) {
		p, out, _ := newTestPrinter(OutputFormatYAML)
		require.NoError(t, p.Servers(sampleServers()))
		var decoded []map[string]any
		require.NoError(t, yaml.Unmarshal(out.Bytes(), &decoded))
		require.Len(t, decoded, 2)
		assert.Equal(t, "connect: connection refused", decoded[1]["lastError"])
	})

	t.Run("empty", func(t *testing.T) {
		p, out, errOut := newTestPrinter(OutputFormatTable)
		require.NoError(t, p.Servers(nil))
		assert.Empty(t, out.String())
		assert.Equal(t, "No servers found.\n", errOut.String())
	})
}

func TestPrinter_Tool(t *testing.T) {
	p, out, _ := newTestPrinter(OutputFormatTable)
	tool := &api.Tool{
		ID:          "tool-1",
		Name:        "forecast",
		Description: "Weather forecast",
		Source:      api.SourceDiscovered,
		Parameters: []api.Parameter{
			{Name: "city", Type: schema.KindString, Required: true, Description: "City name"},
			{Name: "days", Type: schema.KindInteger},
		},
	}
	require.NoError(t, p.Tool(tool))
	s := out.String()
	assert.Contains(t, s, "forecast")
	assert.Contains(t, s, "PARAMETER")
	assert.Contains(t, s, "City name")
	assert.NotContains(t, s, "Integration:")
}

func TestPrinter_Execution(t *testing.T) {
	started := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)

	t.Run("text result", func(t *testing.T) {
		p, out, _ := newTestPrinter(OutputFormatTable)
		rec := &api.ExecutionRecord{ID: "e1", ToolName: "forecast", StartedAt: started, EndedAt: started.Add(time.Second),
			Result: &api.ToolResult{Content: []map[string]any{{"type": "text", "text": "sunny"}}}}
		require.NoError(t, p.Execution(rec))
		assert.Equal(t, "sunny\n", out.String())
	})

	t.Run("structured result", func(t *testing.T) {
		p, out, _ := newTestPrinter(OutputFormatTable)
		rec := &api.ExecutionRecord{ID: "e2", Result: &api.ToolResult{Structured: map[string]any{"temp": 21.0}}}
		require.NoError(t, p.Execution(rec))
		assert.JSONEq(t, `{"temp": 21}`, out.String())
	})

	t.Run("error", func(t *testing.T) {
		p, out, _ := newTestPrinter(OutputFormatWide)
		rec := &api.ExecutionRecord{ID: "e3", ToolName: "forecast", StartedAt: started, EndedAt: started.Add(2 * time.Second),
			Error: &api.ErrorDescriptor{Kind: api.KindInvocation, Message: "upstream failed"}}
		require.NoError(t, p.Execution(rec))
		assert.Contains(t, out.String(), "Error: upstream failed")
		assert.Contains(t, out.String(), "error")
		assert.Contains(t, out.String(), "2s")
	})
}

func TestPrinter_History(t *testing.T) {
	started := time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)
	page := &api.ExecutionPage{
		Records: []*api.ExecutionRecord{
			{ID: "exec-2", ToolName: "forecast", StartedAt: started, EndedAt: started.Add(150 * time.Millisecond), Result: &api.ToolResult{}},
		},
		Total:   3,
		Limit:   1,
		Offset:  1,
		HasMore: true,
	}
	p, out, errOut := newTestPrinter(OutputFormatTable)
	require.NoError(t, p.History(page))

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, []string{"exec-2", "forecast", "success", "150ms", "2026-10-15T09:00:00Z"}, strings.Fields(lines[1]))
	assert.Contains(t, errOut.String(), "Showing 2-2 of 3")
}

func TestPrinter_Credentials(t *testing.T) {
	p, out, _ := newTestPrinter(OutputFormatTable)
	require.NoError(t, p.Credentials([]api.CredentialStatus{
		{Integration: "github", Account: "ada", Connected: true, Scopes: []string{"repo", "read:user"}},
		{Integration: "github", Account: "bob", Revoked: true},
	}))
	s := out.String()
	assert.Contains(t, s, "connected")
	assert.Contains(t, s, "revoked")
	assert.Contains(t, s, "repo read:user")
}

func TestPrinter_Event(t *testing.T) {
	e := events.Event{
		ID:        "ev1",
		Topic:     "servers.abc",
		Type:      api.EventServerDeployed,
		Sequence:  7,
		Timestamp: time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC),
		Message:   "Server weather deployed",
	}

	t.Run("table line", func(t *testing.T) {
		p, out, _ := newTestPrinter(OutputFormatTable)
		require.NoError(t, p.Event(e))
		fields := strings.Fields(out.String())
		assert.Equal(t, []string{"2026-10-15T09:00:00Z", "servers.abc", "ServerDeployed", "Server", "weather", "deployed"}, fields)
	})

	t.Run("json line", func(t *testing.T) {
		p, out, _ := newTestPrinter(OutputFormatJSON)
		require.NoError(t, p.Event(e))
		require.NoError(t, p.Event(e))
		lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
		require.Len(t, lines, 2)
		var decoded events.Event
		require.NoError(t, json.Unmarshal([]byte(lines[0]), &decoded))
		assert.Equal(t, uint64(7), decoded.Sequence)
	})
}

func TestPrinter_SuccessQuiet(t *testing.T) {
	p, _, errOut := newTestPrinter(OutputFormatTable)
	p.Success("Server %s deployed", "weather")
	assert.Equal(t, "✓ Server weather deployed\n", errOut.String())

	errOut.Reset()
	p.Quiet = true
	p.Success("hidden")
	p.Warn("shown")
	assert.Equal(t, "⚠ shown\n", errOut.String())
}

func TestPrinter_ProgressRunsFn(t *testing.T) {
	p, _, _ := newTestPrinter(OutputFormatJSON)
	called := false
	require.NoError(t, p.Progress("Deploying...", func() error {
		called = true
		return nil
	}))
	assert.True(t, called)
}
