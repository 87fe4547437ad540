package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpstudio/internal/api"
	"mcpstudio/internal/credentials"
	"mcpstudio/internal/events"
	"mcpstudio/internal/registry"
)

// fakeProvider is an OAuth authorization server with a token and a
// revocation endpoint.
type fakeProvider struct {
	srv *httptest.Server

	refreshCalls atomic.Int32
	revokeCalls  atomic.Int32

	mu           sync.Mutex
	refreshDelay time.Duration
	refreshError string
	refreshCode  int
	lastVerifier string
	revokedToken string
}

func (p *fakeProvider) slowRefresh(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshDelay = d
}

func (p *fakeProvider) failRefresh(code int, errorCode string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshCode, p.refreshError = code, errorCode
}

func newFakeProvider(t *testing.T) *fakeProvider {
	p := &fakeProvider{}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", p.token)
	mux.HandleFunc("/revoke", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		p.revokeCalls.Add(1)
		p.mu.Lock()
		p.revokedToken = r.PostForm.Get("token")
		p.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	p.srv = httptest.NewServer(mux)
	t.Cleanup(p.srv.Close)
	return p
}

func (p *fakeProvider) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		if r.PostForm.Get("code") != "good-code" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		p.mu.Lock()
		p.lastVerifier = r.PostForm.Get("code_verifier")
		p.mu.Unlock()
		idToken, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub":   "1234",
			"email": "ada@example.com",
		}).SignedString([]byte("provider-key"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access-1",
			"refresh_token": "refresh-1",
			"token_type":    "Bearer",
			"expires_in":    3600,
			"scope":         "files.read files.write",
			"id_token":      idToken,
		})

	case "refresh_token":
		p.refreshCalls.Add(1)
		p.mu.Lock()
		delay, code, errorCode := p.refreshDelay, p.refreshCode, p.refreshError
		p.mu.Unlock()
		time.Sleep(delay)
		if code != 0 {
			w.WriteHeader(code)
			if errorCode != "" {
				_, _ = w.Write([]byte(`{"error":"` + errorCode + `"}`))
			}
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "access-refreshed",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})

	default:
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"unsupported_grant_type"}`))
	}
}

type recordingPublisher struct {
	mu       sync.Mutex
	payloads []api.CredentialPayload
}

func (r *recordingPublisher) Publish(topic string, eventType api.EventType, payload any) events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := payload.(api.CredentialPayload); ok {
		r.payloads = append(r.payloads, p)
	}
	return events.Event{Topic: topic, Type: eventType, Payload: payload}
}

func (r *recordingPublisher) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, p := range r.payloads {
		out = append(out, p.Action)
	}
	return out
}

type fixture struct {
	manager   *Manager
	store     *credentials.Store
	provider  *fakeProvider
	publisher *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	provider := newFakeProvider(t)
	sealer, err := credentials.NewSealer(bytes.Repeat([]byte{1}, credentials.MinKeySize))
	require.NoError(t, err)
	store := credentials.NewStore(registry.NewMemoryRegistry(), sealer)
	pub := &recordingPublisher{}

	m, err := NewManager(Options{
		Integrations: []Integration{{
			Name:         "drive",
			ClientID:     "studio",
			ClientSecret: "secret",
			AuthURL:      provider.srv.URL + "/authorize",
			TokenURL:     provider.srv.URL + "/token",
			RevokeURL:    provider.srv.URL + "/revoke",
			RedirectURL:  "http://localhost:8090/oauth/callback",
			Scopes:       []string{"files.read"},
			PKCE:         true,
			AuthStyle:    "params",
		}},
		Store:     store,
		Publisher: pub,
	})
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return &fixture{manager: m, store: store, provider: provider, publisher: pub}
}

func (f *fixture) seed(t *testing.T, expiresIn time.Duration, refreshToken string) {
	t.Helper()
	require.NoError(t, f.store.Put(context.Background(), &api.Credential{
		Integration:  "drive",
		Account:      "ada@example.com",
		AccessToken:  api.NewRedactedToken("access-old"),
		RefreshToken: api.NewRedactedToken(refreshToken),
		TokenType:    "Bearer",
		Scopes:       []string{"files.read"},
		ExpiresAt:    time.Now().Add(expiresIn),
	}))
}

func TestNewManager_RejectsIncompleteIntegration(t *testing.T) {
	sealer, err := credentials.NewSealer(bytes.Repeat([]byte{1}, credentials.MinKeySize))
	require.NoError(t, err)
	store := credentials.NewStore(registry.NewMemoryRegistry(), sealer)

	_, err = NewManager(Options{Store: store, Integrations: []Integration{{Name: "drive"}}})
	assert.ErrorContains(t, err, "clientId")

	_, err = NewManager(Options{})
	assert.Error(t, err)
}

func TestAuthorizationCodeFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	authURL, err := f.manager.AuthCodeURL("drive", "")
	require.NoError(t, err)
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "studio", q.Get("client_id"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("code_challenge"))
	state := q.Get("state")
	require.NotEmpty(t, state)

	cred, err := f.manager.HandleCallback(ctx, state, "good-code")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", cred.Account, "account comes from the id_token")
	assert.Equal(t, "access-1", cred.AccessToken.Value())
	assert.True(t, cred.RefreshToken.IsEmpty(), "refresh token is never returned")
	assert.Equal(t, []string{"files.read", "files.write"}, cred.Scopes)

	f.provider.mu.Lock()
	assert.NotEmpty(t, f.provider.lastVerifier, "PKCE verifier must be sent")
	f.provider.mu.Unlock()

	stored, err := f.store.Get(ctx, "drive", "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, "refresh-1", stored.RefreshToken.Value())

	_, err = f.manager.HandleCallback(ctx, state, "good-code")
	assert.True(t, api.IsValidation(err), "state is single use")

	assert.Equal(t, []string{ActionAuthorized}, f.publisher.actions())
}

func TestAuthorize_ExplicitAccountAndBadCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cred, err := f.manager.Authorize(ctx, "drive", "work", "good-code")
	require.NoError(t, err)
	assert.Equal(t, "work", cred.Account)

	_, err = f.manager.Authorize(ctx, "drive", "work", "bad-code")
	assert.True(t, api.IsReauthorizationRequired(err))

	_, err = f.manager.Authorize(ctx, "drive", "work", "")
	assert.True(t, api.IsValidation(err))

	_, err = f.manager.Authorize(ctx, "calendar", "", "good-code")
	assert.True(t, api.IsNotFound(err))
}

func TestGetValidCredential_NoRefreshWhenValid(t *testing.T) {
	f := newFixture(t)
	f.seed(t, time.Hour, "refresh-1")

	cred, err := f.manager.GetValidCredential(context.Background(), "drive", "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, "access-old", cred.AccessToken.Value())
	assert.True(t, cred.RefreshToken.IsEmpty())
	assert.Equal(t, int32(0), f.provider.refreshCalls.Load())
}

func TestGetValidCredential_RefreshesInsideMargin(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 30*time.Second, "refresh-1")

	cred, err := f.manager.GetValidCredential(context.Background(), "drive", "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, "access-refreshed", cred.AccessToken.Value())
	assert.True(t, cred.ExpiresAt.After(time.Now().Add(50*time.Minute)))
	assert.Equal(t, int32(1), f.provider.refreshCalls.Load())

	stored, err := f.store.Get(context.Background(), "drive", "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, "refresh-1", stored.RefreshToken.Value(), "refresh token is kept when the provider does not rotate it")
	assert.Equal(t, []string{"files.read"}, stored.Scopes)
	assert.Contains(t, f.publisher.actions(), ActionRefreshed)
}

func TestGetValidCredential_ConcurrentCallersShareOneRefresh(t *testing.T) {
	f := newFixture(t)
	f.provider.slowRefresh(100 * time.Millisecond)
	f.seed(t, -time.Minute, "refresh-1")

	const callers = 20
	var wg sync.WaitGroup
	results := make([]*api.Credential, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.manager.GetValidCredential(context.Background(), "drive", "ada@example.com")
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), f.provider.refreshCalls.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "access-refreshed", results[i].AccessToken.Value())
		assert.True(t, results[0].ExpiresAt.Equal(results[i].ExpiresAt))
	}
}

func TestGetValidCredential_CanceledCallerDoesNotAbortRefresh(t *testing.T) {
	f := newFixture(t)
	f.provider.slowRefresh(200 * time.Millisecond)
	f.seed(t, -time.Minute, "refresh-1")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := f.manager.GetValidCredential(ctx, "drive", "ada@example.com")
	require.Error(t, err)
	assert.True(t, api.IsAuth(err))
	assert.False(t, api.IsReauthorizationRequired(err))

	cred, err := f.manager.GetValidCredential(context.Background(), "drive", "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, "access-refreshed", cred.AccessToken.Value())
	assert.Equal(t, int32(1), f.provider.refreshCalls.Load())
}

func TestGetValidCredential_Failures(t *testing.T) {
	tests := []struct {
		name         string
		code         int
		providerErr  string
		refreshToken string
		wantReauth   bool
		wantCalls    int32
	}{
		{name: "refresh token rejected", code: http.StatusBadRequest, providerErr: "invalid_grant", refreshToken: "refresh-1", wantReauth: true, wantCalls: 1},
		{name: "provider unavailable", code: http.StatusServiceUnavailable, refreshToken: "refresh-1", wantReauth: false, wantCalls: 1},
		{name: "no refresh token", refreshToken: "", wantReauth: true, wantCalls: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.provider.failRefresh(tt.code, tt.providerErr)
			f.seed(t, -time.Minute, tt.refreshToken)

			cred, err := f.manager.GetValidCredential(context.Background(), "drive", "ada@example.com")
			require.Error(t, err)
			assert.Nil(t, cred, "an expired token must never be returned")
			assert.True(t, api.IsAuth(err))
			assert.Equal(t, tt.wantReauth, api.IsReauthorizationRequired(err))
			assert.Equal(t, tt.wantCalls, f.provider.refreshCalls.Load())
		})
	}
}

func TestGetValidCredential_MissingCredential(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.GetValidCredential(context.Background(), "drive", "nobody")
	assert.True(t, api.IsReauthorizationRequired(err))

	_, err = f.manager.GetValidCredential(context.Background(), "calendar", "nobody")
	assert.True(t, api.IsNotFound(err))
}

func TestRevoke(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, time.Hour, "refresh-1")

	require.NoError(t, f.manager.Revoke(ctx, "drive", "ada@example.com"))
	assert.Equal(t, int32(1), f.provider.revokeCalls.Load())
	f.provider.mu.Lock()
	assert.Equal(t, "refresh-1", f.provider.revokedToken)
	f.provider.mu.Unlock()

	status, err := f.manager.Status(ctx, "drive", "ada@example.com")
	require.NoError(t, err)
	assert.True(t, status.Revoked)
	assert.False(t, status.Connected)

	stored, err := f.store.Get(ctx, "drive", "ada@example.com")
	require.NoError(t, err)
	assert.True(t, stored.AccessToken.IsEmpty())
	assert.True(t, stored.RefreshToken.IsEmpty())

	_, err = f.manager.GetValidCredential(ctx, "drive", "ada@example.com")
	assert.True(t, api.IsReauthorizationRequired(err))

	// Revoking again or revoking something unknown is a no-op at the provider.
	require.NoError(t, f.manager.Revoke(ctx, "drive", "ada@example.com"))
	require.NoError(t, f.manager.Revoke(ctx, "drive", "nobody"))
	assert.Equal(t, int32(1), f.provider.revokeCalls.Load())
	assert.Contains(t, f.publisher.actions(), ActionRevoked)
}

func TestList(t *testing.T) {
	f := newFixture(t)
	f.seed(t, time.Hour, "refresh-1")

	list, err := f.manager.List(context.Background(), "drive")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Connected)
	assert.Equal(t, []string{"drive"}, f.manager.Integrations())
}

func TestAccountFromToken(t *testing.T) {
	assert.Equal(t, DefaultAccount, accountFromToken(&oauth2TokenWithoutIDToken))
	assert.Equal(t, DefaultAccount, accountFromToken(tokenWithIDToken("not-a-jwt")))

	subOnly, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u-1"}).SignedString([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, "u-1", accountFromToken(tokenWithIDToken(subOnly)))
}
