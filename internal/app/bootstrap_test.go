package app

import (
	"context"
	"encoding/base64"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpstudio/internal/api"
	"mcpstudio/internal/client"
	"mcpstudio/internal/config"
)

func testStudioConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Storage.Driver = "memory"
	cfg.Credentials.Key = base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32)))
	cfg.Credentials.KeyFile = ""
	cfg.Definitions.Dir = t.TempDir()
	cfg.Definitions.Watch = false
	return &cfg
}

func TestIntegrations_DefaultRedirect(t *testing.T) {
	cfg := testStudioConfig(t)
	cfg.Server.Port = 8090
	cfg.OAuth.Integrations = []config.IntegrationConfig{
		{Name: "github", ClientID: "id", AuthURL: "https://github.com/login/oauth/authorize", TokenURL: "https://github.com/login/oauth/access_token"},
		{Name: "custom", ClientID: "id", AuthURL: "https://a.example/auth", TokenURL: "https://a.example/token", RedirectURL: "https://studio.example/cb"},
	}

	got := Integrations(cfg)
	require.Len(t, got, 2)
	assert.Equal(t, "http://127.0.0.1:8090/oauth/callback", got[0].RedirectURL)
	assert.Equal(t, "https://studio.example/cb", got[1].RedirectURL)

	cfg.Server.PublicURL = "https://studio.example.com/"
	assert.Equal(t, "https://studio.example.com/oauth/callback", Integrations(cfg)[0].RedirectURL)
}

func TestApplication_Lifecycle(t *testing.T) {
	studio := testStudioConfig(t)
	def := "name: weather\ndescription: Weather tools\nconfig:\n  transport: http\n  endpoint: http://127.0.0.1:1/mcp\n"
	require.NoError(t, os.WriteFile(filepath.Join(studio.Definitions.Dir, "weather.yaml"), []byte(def), 0o600))

	ctx := context.Background()
	application, err := NewApplication(ctx, &Config{Version: "test", LogOutput: io.Discard, Studio: studio})
	require.NoError(t, err)
	require.NoError(t, application.Start(ctx))
	t.Cleanup(func() { _ = application.Shutdown() })

	c := client.New("http://" + application.Services().API.Addr())
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	require.NoError(t, c.Health(reqCtx))

	servers, err := c.ListServers(reqCtx)
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Equal(t, "weather", servers[0].Name)
	assert.Equal(t, api.StateNotDeployed, servers[0].State)

	integrations, err := c.Integrations(reqCtx)
	require.NoError(t, err)
	assert.Empty(t, integrations)
}

func TestNewApplication_InvalidStorage(t *testing.T) {
	studio := testStudioConfig(t)
	studio.Storage.Driver = "cassandra"

	_, err := NewApplication(context.Background(), &Config{LogOutput: io.Discard, Studio: studio})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown storage driver")
}

func TestNewApplication_LoadsConfigDir(t *testing.T) {
	dir := t.TempDir()
	key := base64.StdEncoding.EncodeToString([]byte(strings.Repeat("x", 32)))
	yaml := "server:\n  host: 127.0.0.1\n  port: 0\nstorage:\n  driver: memory\ncredentials:\n  key: " + key + "\ndefinitions:\n  watch: false\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))

	application, err := NewApplication(context.Background(), NewConfig(false, dir, "test"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = application.Services().Close() })
	assert.Equal(t, "memory", application.config.Studio.Storage.Driver)
	assert.Equal(t, filepath.Join(dir, "servers"), application.config.Studio.Definitions.Dir)
}
