package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestLoadConfig_Defaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, filepath.Join(dir, "mcpstudio.db"), cfg.Storage.Path)
	assert.Equal(t, filepath.Join(dir, "master.key"), cfg.Credentials.KeyFile)
	assert.Equal(t, filepath.Join(dir, "servers"), cfg.Definitions.Dir)
	assert.Equal(t, 60*time.Second, cfg.Deployment.Timeout.Std())
	assert.Equal(t, "fail", cfg.Deployment.Recovery)
	assert.Equal(t, "http://localhost:8090", cfg.Server.BaseURL())
}

func TestLoadConfig_YAML(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DRIVE_SECRET", "s3cret")
	writeFile(t, dir, "config.yaml", `
server:
  port: 9000
  publicUrl: https://studio.example.com
storage:
  driver: memory
protocol:
  invokeTimeout: 45s
deployment:
  recovery: retry
oauth:
  integrations:
    - name: drive
      clientId: studio
      clientSecretEnv: DRIVE_SECRET
      authUrl: https://auth.example.com/authorize
      tokenUrl: https://auth.example.com/token
      scopes: [files.read]
      pkce: true
`)

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "https://studio.example.com", cfg.Server.BaseURL())
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, 45*time.Second, cfg.Protocol.InvokeTimeout.Std())
	// Untouched values keep their defaults.
	assert.Equal(t, 15*time.Second, cfg.Protocol.ConnectTimeout.Std())
	assert.Equal(t, "retry", cfg.Deployment.Recovery)
	require.Len(t, cfg.OAuth.Integrations, 1)
	assert.Equal(t, "s3cret", cfg.OAuth.Integrations[0].ClientSecret)
	assert.True(t, cfg.OAuth.Integrations[0].PKCE)
}

func TestLoadConfig_TOML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.toml", `
[server]
port = 7000

[deployment]
timeout = "2m"

[definitions]
dir = "/srv/definitions"
watch = false
`)

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, 2*time.Minute, cfg.Deployment.Timeout.Std())
	assert.Equal(t, "/srv/definitions", cfg.Definitions.Dir)
	assert.False(t, cfg.Definitions.Watch)
}

func TestLoadConfig_YAMLWinsOverTOML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", "server:\n  port: 1111\n")
	writeFile(t, dir, "config.toml", "[server]\nport = 2222\n")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, 1111, cfg.Server.Port)
}

func TestLoadConfig_Environment(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvCredentialsKey, "a2V5")
	t.Setenv(EnvLogLevel, "debug")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, "a2V5", cfg.Credentials.Key)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name      string
		file      string
		content   string
		errorType string
		contains  string
	}{
		{
			name:      "malformed yaml",
			file:      "config.yaml",
			content:   "server: [unterminated",
			errorType: "parse",
		},
		{
			name:      "bad duration",
			file:      "config.yaml",
			content:   "protocol:\n  invokeTimeout: soon\n",
			errorType: "parse",
		},
		{
			name:      "malformed toml",
			file:      "config.toml",
			content:   "[server\nport = 1",
			errorType: "parse",
		},
		{
			name:      "unknown storage driver",
			file:      "config.yaml",
			content:   "storage:\n  driver: etcd\n",
			errorType: "validation",
			contains:  "storage.driver",
		},
		{
			name:      "postgres without dsn",
			file:      "config.yaml",
			content:   "storage:\n  driver: postgres\n",
			errorType: "validation",
			contains:  "storage.dsn",
		},
		{
			name: "incomplete integration",
			file: "config.yaml",
			content: `
oauth:
  integrations:
    - name: drive
      authUrl: not-a-url
      tokenUrl: https://auth.example.com/token
`,
			errorType: "validation",
			contains:  "clientId",
		},
		{
			name:      "negative timeout",
			file:      "config.yaml",
			content:   "deployment:\n  timeout: -1s\n",
			errorType: "validation",
			contains:  "deployment.timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, dir, tt.file, tt.content)

			_, err := LoadConfig(dir)
			require.Error(t, err)

			var ce *ConfigurationError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tt.errorType, ce.ErrorType)
			if tt.contains != "" {
				assert.Contains(t, ce.Error(), tt.contains)
			}
			assert.Contains(t, ce.DetailedError(), "Configuration Error")
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Storage.Driver = "etcd"
	cfg.Events.BufferSize = 0
	cfg.Logging.Format = "xml"

	err := cfg.Validate()
	require.Error(t, err)

	var errs ValidationErrors
	require.True(t, errors.As(err, &errs))
	assert.Len(t, errs, 3)
	assert.Contains(t, err.Error(), "validation failed")
}

func TestDuration_Text(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Std())

	out, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(out))

	assert.Error(t, d.UnmarshalText([]byte("ninety")))
}
