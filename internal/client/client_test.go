package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpstudio/internal/api"
	"mcpstudio/internal/events"
)

type recorded struct {
	method string
	uri    string
	body   map[string]any
}

type recorder struct {
	mu       sync.Mutex
	requests []recorded
	respond  func(w http.ResponseWriter, r *http.Request)
}

func (rec *recorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if data, _ := io.ReadAll(r.Body); len(data) > 0 {
		_ = json.Unmarshal(data, &body)
	}
	rec.mu.Lock()
	rec.requests = append(rec.requests, recorded{method: r.Method, uri: r.URL.RequestURI(), body: body})
	rec.mu.Unlock()
	if rec.respond != nil {
		rec.respond(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if strings.HasSuffix(r.URL.Path, "/credentials") {
		_, _ = w.Write([]byte(`[{"integration":"github","account":"ada","connected":true}]`))
		return
	}
	_, _ = w.Write([]byte(`{}`))
}

func (rec *recorder) last() recorded {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.requests[len(rec.requests)-1]
}

func TestClient_RequestShapes(t *testing.T) {
	rec := &recorder{}
	ts := httptest.NewServer(rec)
	defer ts.Close()
	c := New(ts.URL + "/")
	ctx := context.Background()

	_, err := c.Deploy(ctx, "my server", true)
	require.NoError(t, err)
	assert.Equal(t, recorded{method: http.MethodPost, uri: "/api/v1/servers/my%20server/deploy?wait=true"}, rec.last())

	_, err = c.Execute(ctx, "weather", "getWeather", api.ExecuteToolRequest{Actor: "ada"})
	require.NoError(t, err)
	last := rec.last()
	assert.Equal(t, "/api/v1/servers/weather/tools/getWeather/execute", last.uri)
	assert.Equal(t, map[string]any{}, last.body["params"])
	assert.Equal(t, "ada", last.body["actor"])

	since := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	_, err = c.History(ctx, HistoryQuery{Server: "weather", Status: api.ExecutionFailed, Since: since, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/executions?limit=10&server=weather&since=2026-01-02T03%3A04%3A05Z&status=error", rec.last().uri)

	statuses, err := c.Credentials(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/integrations/all/credentials", rec.last().uri)
	require.Len(t, statuses, 1)
	assert.Equal(t, "ada", statuses[0].Account)

	_, err = c.RenderPrompt(ctx, "weather", "greeting", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, rec.last().body["variables"])
}

func TestClient_NoContent(t *testing.T) {
	rec := &recorder{respond: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) }}
	ts := httptest.NewServer(rec)
	defer ts.Close()

	require.NoError(t, New(ts.URL).DeregisterServer(context.Background(), "weather"))
	assert.Equal(t, http.MethodDelete, rec.last().method)
}

func TestClient_ErrorsDecodeToDescriptor(t *testing.T) {
	rec := &recorder{respond: func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"kind":"auth","code":"reauthorization_required","message":"grant revoked","retryable":false}}`))
	}}
	ts := httptest.NewServer(rec)
	defer ts.Close()

	_, err := New(ts.URL).GetServer(context.Background(), "weather")
	require.Error(t, err)

	d := api.Describe(err)
	assert.Equal(t, api.KindAuth, d.Kind)
	assert.Equal(t, string(api.AuthReauthorizationRequired), d.Code)
	assert.Equal(t, "grant revoked", d.Message)
}

func TestClient_UnstructuredError(t *testing.T) {
	rec := &recorder{respond: func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway from proxy", http.StatusBadGateway)
	}}
	ts := httptest.NewServer(rec)
	defer ts.Close()

	_, err := New(ts.URL).ListServers(context.Background())
	d := api.Describe(err)
	assert.Equal(t, api.KindInternal, d.Kind)
	assert.Contains(t, d.Message, "bad gateway from proxy")
}

func eventServer(t *testing.T, script func(ctx context.Context, conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("pattern") == "bad..pattern" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"kind":"validation","message":"invalid topic pattern"}}`))
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		script(r.Context(), conn)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestClient_StreamEvents(t *testing.T) {
	ts := eventServer(t, func(ctx context.Context, conn *websocket.Conn) {
		for i := 1; i <= 2; i++ {
			_ = wsjson.Write(ctx, conn, events.Event{Topic: "servers.a", Type: api.EventServerDeployed, Sequence: uint64(i)})
		}
		conn.Close(websocket.StatusGoingAway, "event stream closed")
	})

	var got []uint64
	err := New(ts.URL).StreamEvents(context.Background(), "servers.*", func(e events.Event) error {
		got = append(got, e.Sequence)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, got)
}

func TestClient_StreamEventsOverflow(t *testing.T) {
	ts := eventServer(t, func(ctx context.Context, conn *websocket.Conn) {
		_ = wsjson.Write(ctx, conn, events.Event{
			Topic: api.TopicSystem,
			Type:  api.EventSubscriberOverflow,
			Payload: api.OverflowPayload{
				SubscriptionID: "sub-1", Pattern: ">", Buffer: 8,
			},
		})
		conn.Close(websocket.StatusPolicyViolation, "subscriber overflow")
	})

	err := New(ts.URL).StreamEvents(context.Background(), ">", func(events.Event) error { return nil })
	var overflow *api.SubscriberOverflowError
	require.True(t, errors.As(err, &overflow))
	assert.Equal(t, "sub-1", overflow.SubscriptionID)
	assert.Equal(t, 8, overflow.Buffer)
}

func TestClient_StreamEventsStopsOnCallbackError(t *testing.T) {
	ts := eventServer(t, func(ctx context.Context, conn *websocket.Conn) {
		_ = wsjson.Write(ctx, conn, events.Event{Topic: "servers.a", Type: api.EventServerRegistered})
		// Hold the stream open until the client goes away.
		_, _, _ = conn.Read(ctx)
	})

	stop := errors.New("enough")
	err := New(ts.URL).StreamEvents(context.Background(), "servers.*", func(events.Event) error { return stop })
	assert.ErrorIs(t, err, stop)
}

func TestClient_StreamEventsRejectedPattern(t *testing.T) {
	ts := eventServer(t, func(ctx context.Context, conn *websocket.Conn) {})

	err := New(ts.URL).StreamEvents(context.Background(), "bad..pattern", func(events.Event) error { return nil })
	assert.Equal(t, api.KindValidation, api.Describe(err).Kind)
}
