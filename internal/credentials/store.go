package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"mcpstudio/internal/api"
	"mcpstudio/internal/registry"
)

// tokens is the plaintext that gets sealed. It only exists in memory.
type tokens struct {
	AccessToken  string `json:"a"`
	RefreshToken string `json:"r,omitempty"`
	TokenType    string `json:"t,omitempty"`
}

// Store persists credentials sealed at rest, keyed by (integration, account).
type Store struct {
	backend registry.CredentialStore
	sealer  *Sealer
	now     func() time.Time
}

// NewStore creates a credential store over the registry's credential table.
func NewStore(backend registry.CredentialStore, sealer *Sealer) *Store {
	return &Store{backend: backend, sealer: sealer, now: func() time.Time { return time.Now().UTC() }}
}

func additionalData(integration, account string) []byte {
	return []byte(integration + "/" + account)
}

// Put seals and stores the credential, replacing any previous value.
func (s *Store) Put(ctx context.Context, cred *api.Credential) error {
	if cred.Integration == "" || cred.Account == "" {
		return fmt.Errorf("credential requires integration and account")
	}
	sealed := &api.SealedCredential{
		Integration: cred.Integration,
		Account:     cred.Account,
		Scopes:      slices.Clone(cred.Scopes),
		ExpiresAt:   cred.ExpiresAt,
		Revoked:     cred.Revoked,
		UpdatedAt:   s.now(),
	}
	if !cred.AccessToken.IsEmpty() || !cred.RefreshToken.IsEmpty() {
		plain, err := json.Marshal(tokens{
			AccessToken:  cred.AccessToken.Value(),
			RefreshToken: cred.RefreshToken.Value(),
			TokenType:    cred.TokenType,
		})
		if err != nil {
			return err
		}
		sealed.Sealed, err = s.sealer.Seal(plain, additionalData(cred.Integration, cred.Account))
		if err != nil {
			return err
		}
	}
	cred.UpdatedAt = sealed.UpdatedAt
	return s.backend.PutCredential(ctx, sealed)
}

// Get loads and opens a credential including its refresh token.
func (s *Store) Get(ctx context.Context, integration, account string) (*api.Credential, error) {
	sealed, err := s.backend.GetCredential(ctx, integration, account)
	if err != nil {
		return nil, err
	}
	cred := &api.Credential{
		Integration: sealed.Integration,
		Account:     sealed.Account,
		Scopes:      sealed.Scopes,
		ExpiresAt:   sealed.ExpiresAt,
		Revoked:     sealed.Revoked,
		UpdatedAt:   sealed.UpdatedAt,
	}
	if len(sealed.Sealed) == 0 {
		return cred, nil
	}
	plain, err := s.sealer.Open(sealed.Sealed, additionalData(integration, account))
	if err != nil {
		return nil, fmt.Errorf("opening credential %s/%s: %w", integration, account, err)
	}
	var t tokens
	if err := json.Unmarshal(plain, &t); err != nil {
		return nil, fmt.Errorf("decoding credential %s/%s: %w", integration, account, err)
	}
	cred.AccessToken = api.NewRedactedToken(t.AccessToken)
	cred.RefreshToken = api.NewRedactedToken(t.RefreshToken)
	cred.TokenType = t.TokenType
	return cred, nil
}

func (s *Store) Delete(ctx context.Context, integration, account string) error {
	return s.backend.DeleteCredential(ctx, integration, account)
}

// List returns display metadata for the credentials of an integration, or of
// all integrations when integration is empty. Nothing is decrypted.
func (s *Store) List(ctx context.Context, integration string) ([]api.CredentialStatus, error) {
	sealed, err := s.backend.ListCredentials(ctx, integration)
	if err != nil {
		return nil, err
	}
	out := make([]api.CredentialStatus, 0, len(sealed))
	for _, c := range sealed {
		out = append(out, statusOf(c))
	}
	return out, nil
}

// Status returns display metadata for one credential. A missing credential
// is reported as not connected rather than as an error.
func (s *Store) Status(ctx context.Context, integration, account string) (api.CredentialStatus, error) {
	sealed, err := s.backend.GetCredential(ctx, integration, account)
	if api.IsNotFound(err) {
		return api.CredentialStatus{Integration: integration, Account: account}, nil
	}
	if err != nil {
		return api.CredentialStatus{}, err
	}
	return statusOf(sealed), nil
}

func statusOf(c *api.SealedCredential) api.CredentialStatus {
	return api.CredentialStatus{
		Integration: c.Integration,
		Account:     c.Account,
		Connected:   !c.Revoked && len(c.Sealed) > 0,
		Revoked:     c.Revoked,
		Scopes:      c.Scopes,
		ExpiresAt:   c.ExpiresAt,
		UpdatedAt:   c.UpdatedAt,
	}
}
