package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpstudio/internal/api"
	"mcpstudio/internal/cli"
)

// resetFlags restores every flag to its default, since cobra keeps parsed
// values on the package level commands between executions.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func runCLI(t *testing.T, endpoint string, args ...string) (string, string, error) {
	t.Helper()
	color.NoColor = true
	resetFlags(rootCmd)
	t.Cleanup(func() { resetFlags(rootCmd) })

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(append(args, "--endpoint", endpoint))
	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, desc *api.ErrorDescriptor) {
	writeJSON(w, status, map[string]any{"error": desc})
}

func fakeStudio(t *testing.T, mux *http.ServeMux) string {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestServerList(t *testing.T) {
	created := time.Now().Add(-2 * time.Hour)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/servers", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []*api.Server{
			{ID: "s-1", Name: "weather", State: api.StateDeployed, CreatedAt: created,
				Config: api.ServerConfig{Transport: api.TransportHTTP, Endpoint: "http://weather.test/mcp"},
				Tools:  []api.Tool{{ID: "t-1", Name: "forecast"}}},
			{ID: "s-2", Name: "github", State: api.StateNotDeployed, CreatedAt: created},
		})
	})
	endpoint := fakeStudio(t, mux)

	out, _, err := runCLI(t, endpoint, "server", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "weather")
	assert.Contains(t, out, "DEPLOYED")
	assert.Contains(t, out, "NOT_DEPLOYED")
	assert.Contains(t, out, "http://weather.test/mcp")

	out, _, err = runCLI(t, endpoint, "server", "list", "-o", "json")
	require.NoError(t, err)
	var servers []api.Server
	require.NoError(t, json.Unmarshal([]byte(out), &servers))
	assert.Len(t, servers, 2)
}

func TestServerGet_NotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/servers/{ref}", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, &api.ErrorDescriptor{Kind: api.KindNotFound, Message: "server nope not found"})
	})
	endpoint := fakeStudio(t, mux)

	_, _, err := runCLI(t, endpoint, "server", "get", "nope")
	require.Error(t, err)
	assert.Equal(t, cli.ExitFailure, cli.ExitCode(err))
	assert.Contains(t, cli.FormatError(err), "server nope not found")
}

func TestServerDeploy_FailedState(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/servers/{ref}/deploy", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("wait"))
		writeJSON(w, http.StatusOK, api.Server{ID: "s-1", Name: "weather", State: api.StateFailed, LastError: "connection refused"})
	})
	endpoint := fakeStudio(t, mux)

	out, _, err := runCLI(t, endpoint, "server", "deploy", "weather")
	require.Error(t, err)
	var reported *reportedError
	assert.ErrorAs(t, err, &reported)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Contains(t, out, "FAILED")
}

func TestServerRegister_FromFlags(t *testing.T) {
	var got api.RegisterServerRequest
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/servers", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusCreated, api.Server{ID: "s-1", Name: got.Name, State: api.StateNotDeployed, Config: got.Config})
	})
	endpoint := fakeStudio(t, mux)

	_, _, err := runCLI(t, endpoint, "server", "register", "gh",
		"--url", "https://gh.test/mcp", "--header", "X-Team=core",
		"--integration", "github", "--account", "ada", "-q")
	require.NoError(t, err)
	assert.Equal(t, "gh", got.Name)
	assert.Equal(t, "https://gh.test/mcp", got.Config.Endpoint)
	assert.Equal(t, api.TransportHTTP, got.Config.Transport)
	assert.Equal(t, map[string]string{"X-Team": "core"}, got.Config.Headers)
	assert.Equal(t, api.AuthOAuth2, got.Config.Auth.Type)
	assert.Equal(t, "ada", got.Config.Auth.Account)
	assert.False(t, got.Deploy)
}

func TestServerRegister_RequiresName(t *testing.T) {
	_, _, err := runCLI(t, "http://127.0.0.1:1", "server", "register")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a server name is required")
}

func TestToolExecute(t *testing.T) {
	var got api.ExecuteToolRequest
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/servers/{server}/tools/{tool}/execute", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusOK, api.ExecutionRecord{
			ID: "e-1", ToolName: r.PathValue("tool"),
			Result: &api.ToolResult{Content: []map[string]any{{"type": "text", "text": "sunny in Berlin"}}},
		})
	})
	endpoint := fakeStudio(t, mux)

	out, _, err := runCLI(t, endpoint, "tool", "execute", "weather", "forecast", "city=Berlin", "days=3", "--actor", "tester")
	require.NoError(t, err)
	assert.Contains(t, out, "sunny in Berlin")
	assert.Equal(t, "tester", got.Actor)
	assert.Equal(t, "Berlin", got.Params["city"])
	assert.Equal(t, float64(3), got.Params["days"])
}

func TestToolExecute_ReauthorizationExitCode(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/servers/{server}/tools/{tool}/execute", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, api.ExecutionRecord{
			ID: "e-2", ToolName: "create_issue",
			Error: &api.ErrorDescriptor{
				Kind:    api.KindAuth,
				Code:    string(api.AuthReauthorizationRequired),
				Message: "github account ada: reauthorization required",
				Details: map[string]any{"integration": "github", "account": "ada"},
			},
		})
	})
	endpoint := fakeStudio(t, mux)

	out, _, err := runCLI(t, endpoint, "tool", "execute", "gh", "create_issue", "title=Bug")
	require.Error(t, err)
	assert.Equal(t, cli.ExitAuthRequired, cli.ExitCode(err))
	assert.Contains(t, out, "mcpstudio auth login github --account ada")
}

func TestHistory(t *testing.T) {
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/executions", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "weather", q.Get("server"))
		assert.Equal(t, "error", q.Get("status"))
		assert.Equal(t, "1", q.Get("limit"))
		writeJSON(w, http.StatusOK, api.ExecutionPage{
			Records: []*api.ExecutionRecord{{
				ID: "e-1", ToolName: "forecast", StartedAt: started, EndedAt: started.Add(1500 * time.Millisecond),
				Error: &api.ErrorDescriptor{Kind: api.KindTimeout, Message: "timed out"},
			}},
			Total: 2, Limit: 1, HasMore: true,
		})
	})
	endpoint := fakeStudio(t, mux)

	out, errOut, err := runCLI(t, endpoint, "history", "--server", "weather", "--status", "error", "--limit", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "e-1")
	assert.Contains(t, out, "1.5s")
	assert.Contains(t, errOut, "use --offset 1")
}

func TestHistory_ToolNeedsServer(t *testing.T) {
	_, _, err := runCLI(t, "http://127.0.0.1:1", "history", "--tool", "forecast")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--tool requires --server")
}

func TestParseSince(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	got, err := parseSince("2h", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-2*time.Hour), got)

	got, err = parseSince("2026-02-28T08:00:00Z", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 28, 8, 0, 0, 0, time.UTC), got)

	_, err = parseSince("yesterday", now)
	assert.Error(t, err)
}

func TestAuthLogin_Wait(t *testing.T) {
	original := authPollInterval
	authPollInterval = 10 * time.Millisecond
	defer func() { authPollInterval = original }()

	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/integrations/{name}/authorize", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, api.AuthorizeResponse{URL: "https://github.test/login/oauth/authorize?state=abc"})
	})
	mux.HandleFunc("GET /api/v1/integrations/{name}/credentials/{account}", func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) < 3 {
			writeError(w, http.StatusNotFound, &api.ErrorDescriptor{Kind: api.KindNotFound, Message: "no credential"})
			return
		}
		writeJSON(w, http.StatusOK, api.CredentialStatus{Integration: "github", Account: r.PathValue("account"), Connected: true})
	})
	endpoint := fakeStudio(t, mux)

	out, errOut, err := runCLI(t, endpoint, "auth", "login", "github", "--account", "ada", "--wait")
	require.NoError(t, err)
	assert.Contains(t, out, "https://github.test/login/oauth/authorize?state=abc")
	assert.Contains(t, errOut, "github account ada connected")
	assert.GreaterOrEqual(t, polls.Load(), int32(3))
}

func TestAuthRevoke_RequiresAccount(t *testing.T) {
	_, _, err := runCLI(t, "http://127.0.0.1:1", "auth", "revoke", "github")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--account is required")
}

func TestConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()

	_, _, err := runCLI(t, endpoint, "server", "list")
	require.Error(t, err)
	var connErr *cli.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, cli.ConnectionErrorNetwork, connErr.Type)
}
