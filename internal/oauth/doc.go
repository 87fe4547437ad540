// Package oauth owns the lifecycle of OAuth credentials for integrations:
// obtaining them through the authorization code flow, keeping them valid by
// refreshing ahead of expiry and revoking them.
//
// # Flow
//
//  1. AuthCodeURL builds the provider URL with a one-time state and, when the
//     integration uses PKCE, an S256 code challenge
//  2. The provider redirects to the callback, which calls HandleCallback
//  3. The code is exchanged, the account is taken from the id_token claims
//     unless one was requested, and the credential is sealed into the store
//  4. Tool executions call GetValidCredential before each invocation
//
// # Refresh
//
// GetValidCredential refreshes when less than the configured margin of
// validity remains. Refreshes are single-flight per (integration, account):
// concurrent callers wait for the one in-flight exchange and all observe the
// same credential or the same error. A rejected refresh token surfaces as an
// AuthError with reason reauthorization_required; the expired access token is
// never handed out instead. Network and server errors surface as transient.
//
// # Security
//
// Tokens are api.RedactedToken values and never appear in logs. Callers only
// ever receive a copy without the refresh token.
package oauth
