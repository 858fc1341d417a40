package config

import "time"

// ScopeCloudPlatformReadOnly is the Google scope the audit runners need to read project resources.
const ScopeCloudPlatformReadOnly = "https://www.googleapis.com/auth/cloud-platform.read-only"

type OAuthConfig interface {
	GetClientID() string
	GetClientSecret() string
	GetIssuerURL() string
	GetRequestedScopes() []string
	GetRequiredScopes() []string
	GetTransientCookieTTL() time.Duration
}

type OAuth struct {
	ClientID           string        `yaml:"client_id" env:"GOOGLE_CLIENT_ID"`
	ClientSecret       string        `yaml:"client_secret" env:"GOOGLE_CLIENT_SECRET"`
	IssuerURL          string        `yaml:"issuer_url" env:"OIDC_ISSUER_URL" env-default:"https://accounts.google.com"`
	RequestedScopes    []string      `yaml:"requested_scopes" env:"OAUTH_SCOPES" env-separator:"," env-default:"openid,email,profile,https://www.googleapis.com/auth/cloud-platform.read-only"`
	RequiredScopes     []string      `yaml:"required_scopes" env:"OAUTH_REQUIRED_SCOPES" env-separator:"," env-default:"https://www.googleapis.com/auth/cloud-platform.read-only"`
	TransientCookieTTL time.Duration `yaml:"transient_cookie_ttl" env:"OAUTH_COOKIE_TTL" env-default:"10m"`
}

var _ OAuthConfig = OAuth{}

func (o OAuth) GetClientID() string {
	return o.ClientID
}

func (o OAuth) GetClientSecret() string {
	return o.ClientSecret
}

func (o OAuth) GetIssuerURL() string {
	return o.IssuerURL
}

func (o OAuth) GetRequestedScopes() []string {
	return o.RequestedScopes
}

func (o OAuth) GetRequiredScopes() []string {
	return o.RequiredScopes
}

// GetTransientCookieTTL is how long the oauth_state and code_verifier cookies survive
// between the authorization redirect and the callback.
func (o OAuth) GetTransientCookieTTL() time.Duration {
	return o.TransientCookieTTL
}
