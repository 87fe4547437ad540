package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpstudio/internal/api"
)

func TestMessageTemplateEngine_Render(t *testing.T) {
	e := NewMessageTemplateEngine()

	msg := e.Render(api.EventServerDeployed, api.ServerStatePayload{Name: "weather", DeploymentURL: "http://x/mcp", Tools: 2})
	assert.Equal(t, "Server weather deployed at http://x/mcp (2 tools, 0 resources, 0 prompts)", msg)

	msg = e.Render(api.EventToolExecutionCompleted, &api.ExecutionPayload{ToolName: "getWeather", Status: api.ExecutionFailed,
		Error: &api.ErrorDescriptor{Message: "timed out"}})
	assert.Equal(t, "Tool getWeather finished with error: timed out", msg)

	assert.Equal(t, "", e.Render("Unknown", api.ServerStatePayload{}))
	assert.Equal(t, "", e.Render(api.EventServerDeployed, nil))
}

func TestMessageTemplateEngine_SetTemplate(t *testing.T) {
	e := NewMessageTemplateEngine()
	require.NoError(t, e.SetTemplate(api.EventServerRegistered, "new server {{.ServerID}}"))
	assert.Equal(t, "new server s9", e.Render(api.EventServerRegistered, api.ServerStatePayload{ServerID: "s9"}))

	assert.Error(t, e.SetTemplate(api.EventServerRegistered, "{{.Broken"))
}
