package config

import (
	"net/http"
	"strings"
	"time"
)

type SecurityConfig interface {
	GetMaxSessionAge() time.Duration
	GetSecureCookies() bool
	GetCookieSameSite() http.SameSite
	GetSessionSecret() string
	GetCSRFTokenTTL() time.Duration
	GetTrustedProxies() []string
}

type Security struct {
	MaxSessionAge  time.Duration `yaml:"max_session_age" env:"SESSION_MAX_AGE" env-default:"168h"`
	SecureCookies  bool          `yaml:"secure_cookies" env:"COOKIE_SECURE" env-default:"true"`
	CookieSameSite string        `yaml:"cookie_samesite" env:"COOKIE_SAMESITE" env-default:"strict"`
	SessionSecret  string        `yaml:"session_secret" env:"SESSION_SECRET"`
	CSRFTokenTTL   time.Duration `yaml:"csrf_token_ttl" env:"CSRF_TOKEN_TTL" env-default:"12h"`
	TrustedProxies []string      `yaml:"trusted_proxies" env:"TRUSTED_PROXIES" env-separator:","`
}

var _ SecurityConfig = Security{}

func (s Security) GetMaxSessionAge() time.Duration {
	return s.MaxSessionAge
}

func (s Security) GetSecureCookies() bool {
	return s.SecureCookies
}

// GetCookieSameSite applies to the session and transient OAuth cookies. Unknown values fall back to strict.
func (s Security) GetCookieSameSite() http.SameSite {
	switch strings.ToLower(s.CookieSameSite) {
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteStrictMode
	}
}

// GetSessionSecret is the master secret CSRF signing keys are derived from.
// An empty value makes the server generate an ephemeral secret at startup.
func (s Security) GetSessionSecret() string {
	return s.SessionSecret
}

func (s Security) GetCSRFTokenTTL() time.Duration {
	return s.CSRFTokenTTL
}

// GetTrustedProxies lists the addresses or CIDR ranges whose X-Forwarded-For
// header is believed. Empty means the header is ignored.
func (s Security) GetTrustedProxies() []string {
	return s.TrustedProxies
}
