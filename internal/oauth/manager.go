package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"mcpstudio/internal/api"
	"mcpstudio/internal/credentials"
	"mcpstudio/internal/events"
	"mcpstudio/internal/schema"
	"mcpstudio/pkg/logging"
)

// DefaultRefreshMargin is how much validity must remain before a credential
// is refreshed.
const DefaultRefreshMargin = 60 * time.Second

// Options configures a Manager.
type Options struct {
	Integrations  []Integration
	Store         *credentials.Store
	Publisher     events.Publisher
	HTTPClient    *http.Client
	RefreshMargin time.Duration
	StateTTL      time.Duration
}

// Manager obtains, refreshes and revokes integration credentials.
type Manager struct {
	integrations map[string]Integration
	store        *credentials.Store
	publisher    events.Publisher
	httpClient   *http.Client
	margin       time.Duration
	states       *StateStore
	now          func() time.Time

	refreshes singleflight.Group
}

// NewManager validates the integrations and creates a manager.
func NewManager(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, errors.New("oauth manager requires a credential store")
	}
	m := &Manager{
		integrations: make(map[string]Integration, len(opts.Integrations)),
		store:        opts.Store,
		publisher:    opts.Publisher,
		httpClient:   opts.HTTPClient,
		margin:       opts.RefreshMargin,
		states:       NewStateStore(opts.StateTTL),
		now:          time.Now,
	}
	if m.publisher == nil {
		m.publisher = events.Discard
	}
	if m.httpClient == nil {
		m.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if m.margin <= 0 {
		m.margin = DefaultRefreshMargin
	}
	for _, in := range opts.Integrations {
		if err := in.Validate(); err != nil {
			m.states.Stop()
			return nil, err
		}
		if _, dup := m.integrations[in.Name]; dup {
			m.states.Stop()
			return nil, fmt.Errorf("integration %q configured twice", in.Name)
		}
		m.integrations[in.Name] = in
	}
	logging.Info("OAuth", "OAuth manager initialized with %d integrations", len(m.integrations))
	return m, nil
}

// Close stops background work.
func (m *Manager) Close() {
	m.states.Stop()
}

// Integrations returns the configured integration names, sorted.
func (m *Manager) Integrations() []string {
	names := make([]string, 0, len(m.integrations))
	for name := range m.integrations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Manager) integration(name string) (Integration, error) {
	in, ok := m.integrations[name]
	if !ok {
		return Integration{}, api.NewNotFoundError("integration", name)
	}
	return in, nil
}

// withHTTPClient makes x/oauth2 use the manager's client.
func (m *Manager) withHTTPClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
}

// AuthCodeURL starts an authorization code flow and returns the URL the user
// must visit. account may be empty to take the identity from the id_token.
func (m *Manager) AuthCodeURL(integration, account string) (string, error) {
	in, err := m.integration(integration)
	if err != nil {
		return "", err
	}

	var verifier string
	opts := []oauth2.AuthCodeOption{oauth2.AccessTypeOffline}
	if in.PKCE {
		verifier = oauth2.GenerateVerifier()
		opts = append(opts, oauth2.S256ChallengeOption(verifier))
	}
	if account != "" {
		opts = append(opts, oauth2.SetAuthURLParam("login_hint", account))
	}

	state, err := m.states.Generate(integration, account, verifier)
	if err != nil {
		return "", fmt.Errorf("generating state: %w", err)
	}
	return in.config().AuthCodeURL(state, opts...), nil
}

// HandleCallback completes a flow started with AuthCodeURL.
func (m *Manager) HandleCallback(ctx context.Context, state, code string) (*api.Credential, error) {
	pending := m.states.Consume(state)
	if pending == nil {
		return nil, &api.ValidationError{Subject: "oauth callback", Issues: []schema.Issue{{Path: "state", Message: "authorization session is unknown or expired"}}}
	}
	return m.exchange(ctx, pending.Integration, pending.Account, code, pending.CodeVerifier)
}

// Authorize exchanges an authorization code obtained out of band.
func (m *Manager) Authorize(ctx context.Context, integration, account, code string) (*api.Credential, error) {
	return m.exchange(ctx, integration, account, code, "")
}

func (m *Manager) exchange(ctx context.Context, integration, account, code, verifier string) (*api.Credential, error) {
	in, err := m.integration(integration)
	if err != nil {
		return nil, err
	}
	if code == "" {
		return nil, &api.ValidationError{Subject: "authorization", Issues: []schema.Issue{{Path: "code", Message: "is required"}}}
	}

	var opts []oauth2.AuthCodeOption
	if verifier != "" {
		opts = append(opts, oauth2.VerifierOption(verifier))
	}
	token, err := in.config().Exchange(m.withHTTPClient(ctx), code, opts...)
	if err != nil {
		return nil, classify(integration, account, fmt.Errorf("exchanging authorization code: %w", err))
	}

	if account == "" {
		account = accountFromToken(token)
	}
	cred := credentialFromToken(integration, account, token, nil)
	if err := m.store.Put(ctx, cred); err != nil {
		return nil, &api.AuthError{Integration: integration, Account: account, Reason: api.AuthTransient,
			Err: fmt.Errorf("storing credential: %w", err)}
	}

	logging.Info("OAuth", "Authorized integration=%s account=%s", integration, account)
	m.publish(integration, account, ActionAuthorized)
	return cred.Public(), nil
}

// GetValidCredential returns a credential that stays valid for at least the
// refresh margin, refreshing it first when needed. The result never carries
// the refresh token.
func (m *Manager) GetValidCredential(ctx context.Context, integration, account string) (*api.Credential, error) {
	if _, err := m.integration(integration); err != nil {
		return nil, err
	}
	if account == "" {
		account = DefaultAccount
	}

	cred, err := m.load(ctx, integration, account)
	if err != nil {
		return nil, err
	}
	if cred.ValidFor(m.now(), m.margin) {
		return cred.Public(), nil
	}

	key := integration + "/" + account
	ch := m.refreshes.DoChan(key, func() (any, error) {
		// The refresh must finish even if the caller that started it gives
		// up, since other callers are waiting on the same result.
		return m.refresh(context.WithoutCancel(ctx), integration, account)
	})
	select {
	case <-ctx.Done():
		return nil, &api.AuthError{Integration: integration, Account: account, Reason: api.AuthTransient, Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*api.Credential).Public(), nil
	}
}

func (m *Manager) load(ctx context.Context, integration, account string) (*api.Credential, error) {
	cred, err := m.store.Get(ctx, integration, account)
	switch {
	case api.IsNotFound(err):
		return nil, &api.AuthError{Integration: integration, Account: account, Reason: api.AuthReauthorizationRequired,
			Err: errors.New("no credential stored")}
	case errors.Is(err, credentials.ErrOpen):
		return nil, &api.AuthError{Integration: integration, Account: account, Reason: api.AuthReauthorizationRequired, Err: err}
	case err != nil:
		return nil, &api.AuthError{Integration: integration, Account: account, Reason: api.AuthTransient, Err: err}
	}
	if cred.Revoked {
		return nil, &api.AuthError{Integration: integration, Account: account, Reason: api.AuthReauthorizationRequired,
			Err: errors.New("credential was revoked")}
	}
	return cred, nil
}

// refresh runs inside the single flight for (integration, account).
func (m *Manager) refresh(ctx context.Context, integration, account string) (*api.Credential, error) {
	// A flight that finished just before this one started may already have
	// stored a fresh credential.
	cred, err := m.load(ctx, integration, account)
	if err != nil {
		return nil, err
	}
	if cred.ValidFor(m.now(), m.margin) {
		return cred, nil
	}
	if cred.RefreshToken.IsEmpty() {
		m.publish(integration, account, ActionReauthorizationNeeded)
		return nil, &api.AuthError{Integration: integration, Account: account, Reason: api.AuthReauthorizationRequired,
			Err: errors.New("access token expired and no refresh token is available")}
	}

	in, err := m.integration(integration)
	if err != nil {
		return nil, err
	}
	logging.Debug("OAuth", "Refreshing credential integration=%s account=%s", integration, account)

	stale := &oauth2.Token{RefreshToken: cred.RefreshToken.Value(), Expiry: m.now().Add(-time.Minute)}
	token, err := in.config().TokenSource(m.withHTTPClient(ctx), stale).Token()
	if err != nil {
		authErr := classify(integration, account, fmt.Errorf("refreshing token: %w", err))
		if api.IsReauthorizationRequired(authErr) {
			m.publish(integration, account, ActionReauthorizationNeeded)
		}
		logging.Warn("OAuth", "Refresh failed for integration=%s account=%s: %v", integration, account, authErr)
		return nil, authErr
	}

	next := credentialFromToken(integration, account, token, cred)
	if err := m.store.Put(ctx, next); err != nil {
		return nil, &api.AuthError{Integration: integration, Account: account, Reason: api.AuthTransient,
			Err: fmt.Errorf("storing refreshed credential: %w", err)}
	}
	logging.Info("OAuth", "Refreshed credential integration=%s account=%s (expires %s)",
		integration, account, next.ExpiresAt.Format(time.RFC3339))
	m.publish(integration, account, ActionRefreshed)
	return next, nil
}

// Revoke invalidates the credential. The provider's revocation endpoint is
// called best effort; locally the credential is marked revoked and its token
// material discarded either way. Revoking an unknown credential is a no-op.
func (m *Manager) Revoke(ctx context.Context, integration, account string) error {
	if account == "" {
		account = DefaultAccount
	}
	cred, err := m.store.Get(ctx, integration, account)
	if api.IsNotFound(err) {
		return nil
	}
	if err != nil && !errors.Is(err, credentials.ErrOpen) {
		return err
	}

	if cred != nil && !cred.Revoked {
		if in, ok := m.integrations[integration]; ok && in.RevokeURL != "" {
			if err := m.revokeAtProvider(ctx, in, cred); err != nil {
				logging.Warn("OAuth", "Provider revocation failed for integration=%s account=%s: %v", integration, account, err)
			}
		}
	}

	revoked := &api.Credential{Integration: integration, Account: account, Revoked: true}
	if cred != nil {
		revoked.Scopes = cred.Scopes
	}
	if err := m.store.Put(ctx, revoked); err != nil {
		return fmt.Errorf("marking credential revoked: %w", err)
	}
	logging.Info("OAuth", "Revoked credential integration=%s account=%s", integration, account)
	m.publish(integration, account, ActionRevoked)
	return nil
}

// revokeAtProvider implements RFC 7009 token revocation.
func (m *Manager) revokeAtProvider(ctx context.Context, in Integration, cred *api.Credential) error {
	token, hint := cred.RefreshToken.Value(), "refresh_token"
	if token == "" {
		token, hint = cred.AccessToken.Value(), "access_token"
	}
	if token == "" {
		return nil
	}
	form := url.Values{"token": {token}, "token_type_hint": {hint}}
	if in.ClientSecret == "" {
		form.Set("client_id", in.ClientID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, in.RevokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if in.ClientSecret != "" {
		req.SetBasicAuth(url.QueryEscape(in.ClientID), url.QueryEscape(in.ClientSecret))
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("revocation endpoint returned %s", resp.Status)
	}
	return nil
}

// Status returns display metadata for a credential.
func (m *Manager) Status(ctx context.Context, integration, account string) (api.CredentialStatus, error) {
	if _, err := m.integration(integration); err != nil {
		return api.CredentialStatus{}, err
	}
	if account == "" {
		account = DefaultAccount
	}
	return m.store.Status(ctx, integration, account)
}

// List returns display metadata for all credentials of an integration, or of
// every integration when integration is empty.
func (m *Manager) List(ctx context.Context, integration string) ([]api.CredentialStatus, error) {
	return m.store.List(ctx, integration)
}

func (m *Manager) publish(integration, account, action string) {
	m.publisher.Publish(api.CredentialTopic(integration), api.EventCredentialChanged, api.CredentialPayload{
		Integration: integration,
		Account:     account,
		Action:      action,
	})
}

// classify maps an x/oauth2 error onto the AuthError reasons. The provider
// rejecting the grant means the user must authorize again; anything else may
// succeed on retry.
func classify(integration, account string, err error) error {
	reason := api.AuthTransient
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		switch re.ErrorCode {
		case "invalid_grant", "invalid_client", "unauthorized_client", "invalid_scope":
			reason = api.AuthReauthorizationRequired
		case "":
			if re.Response != nil && (re.Response.StatusCode == http.StatusBadRequest || re.Response.StatusCode == http.StatusUnauthorized) {
				reason = api.AuthReauthorizationRequired
			}
		}
	}
	return &api.AuthError{Integration: integration, Account: account, Reason: reason, Err: err}
}

// credentialFromToken builds a credential from a token response. prev supplies
// values the provider may omit on refresh.
func credentialFromToken(integration, account string, token *oauth2.Token, prev *api.Credential) *api.Credential {
	cred := &api.Credential{
		Integration: integration,
		Account:     account,
		AccessToken: api.NewRedactedToken(token.AccessToken),
		TokenType:   token.Type(),
		ExpiresAt:   token.Expiry,
	}
	refresh := token.RefreshToken
	if refresh == "" && prev != nil {
		refresh = prev.RefreshToken.Value()
	}
	cred.RefreshToken = api.NewRedactedToken(refresh)

	if scope, ok := token.Extra("scope").(string); ok && scope != "" {
		cred.Scopes = strings.Fields(scope)
	} else if prev != nil {
		cred.Scopes = slices.Clone(prev.Scopes)
	}
	return cred
}

// accountFromToken reads the account identity from the id_token claims. The
// token came straight from the provider's token endpoint over TLS, so its
// signature is not verified here.
func accountFromToken(token *oauth2.Token) string {
	raw, _ := token.Extra("id_token").(string)
	if raw == "" {
		return DefaultAccount
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		logging.Debug("OAuth", "Ignoring unparsable id_token: %v", err)
		return DefaultAccount
	}
	for _, claim := range []string{"email", "preferred_username", "sub"} {
		if v, ok := claims[claim].(string); ok && v != "" {
			return v
		}
	}
	return DefaultAccount
}
