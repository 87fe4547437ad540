package mcpclient

import (
	"context"
	"net/http"
	"strings"

	"mcpstudio/internal/api"
)

// CredentialSource yields valid credentials for an integration account. The
// OAuth manager implements it.
type CredentialSource interface {
	GetValidCredential(ctx context.Context, integration, account string) (*api.Credential, error)
}

type credentialKey struct{}

// WithCredential attaches a credential to the calls made with ctx. It takes
// precedence over the server's configured integration.
func WithCredential(ctx context.Context, cred *api.Credential) context.Context {
	return context.WithValue(ctx, credentialKey{}, cred)
}

func credentialFrom(ctx context.Context) *api.Credential {
	cred, _ := ctx.Value(credentialKey{}).(*api.Credential)
	return cred
}

// authorization returns the Authorization header value for an outbound call,
// or "" when the call is unauthenticated. This is the only place an access
// token value is read on its way to a remote server.
func authorization(ctx context.Context, auth api.AuthConfig, source CredentialSource) (string, error) {
	cred := credentialFrom(ctx)
	if cred == nil && auth.Type == api.AuthOAuth2 && source != nil {
		var err error
		cred, err = source.GetValidCredential(ctx, auth.Integration, auth.Account)
		if err != nil {
			return "", err
		}
	}
	if cred == nil || cred.AccessToken.IsEmpty() {
		return "", nil
	}
	scheme := cred.TokenType
	if scheme == "" || strings.EqualFold(scheme, "bearer") {
		scheme = "Bearer"
	}
	return scheme + " " + cred.AccessToken.Value(), nil
}

// bearerTransport sets the Authorization header per request.
type bearerTransport struct {
	base   http.RoundTripper
	auth   api.AuthConfig
	source CredentialSource
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	value, err := authorization(req.Context(), t.auth, t.source)
	if err != nil {
		return nil, err
	}
	if value != "" {
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", value)
	}
	return t.base.RoundTrip(req)
}
