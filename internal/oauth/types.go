package oauth

import (
	"fmt"
	"strings"

	"golang.org/x/oauth2"
)

// Integration is the provider configuration for one OAuth integration.
type Integration struct {
	Name         string
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	// RevokeURL is the RFC 7009 revocation endpoint. Optional.
	RevokeURL   string
	RedirectURL string
	Scopes      []string
	// PKCE adds an S256 code challenge to the authorization request.
	PKCE bool
	// AuthStyle forces how client credentials are sent: "header", "params"
	// or empty to auto-detect.
	AuthStyle string
}

// Validate checks that the integration can run the authorization code flow.
func (i Integration) Validate() error {
	var missing []string
	if i.Name == "" {
		missing = append(missing, "name")
	}
	if i.ClientID == "" {
		missing = append(missing, "clientId")
	}
	if i.AuthURL == "" {
		missing = append(missing, "authUrl")
	}
	if i.TokenURL == "" {
		missing = append(missing, "tokenUrl")
	}
	if len(missing) > 0 {
		return fmt.Errorf("integration %q: missing %s", i.Name, strings.Join(missing, ", "))
	}
	return nil
}

func (i Integration) config() *oauth2.Config {
	style := oauth2.AuthStyleAutoDetect
	switch i.AuthStyle {
	case "header":
		style = oauth2.AuthStyleInHeader
	case "params":
		style = oauth2.AuthStyleInParams
	}
	return &oauth2.Config{
		ClientID:     i.ClientID,
		ClientSecret: i.ClientSecret,
		RedirectURL:  i.RedirectURL,
		Scopes:       i.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   i.AuthURL,
			TokenURL:  i.TokenURL,
			AuthStyle: style,
		},
	}
}

// DefaultAccount is used when neither the caller nor the id_token names one.
const DefaultAccount = "default"

// Credential change actions published on the event bus.
const (
	ActionAuthorized            = "authorized"
	ActionRefreshed             = "refreshed"
	ActionRevoked               = "revoked"
	ActionReauthorizationNeeded = "reauthorization_required"
)
