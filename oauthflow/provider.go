package oauthflow

import (
	"context"
	"fmt"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/go-audit-server/users"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/sync/singleflight"
)

// Provider is the external identity provider the manager authenticates against.
type Provider interface {
	// AuthCodeURL returns the authorization URL carrying state and the S256 challenge of verifier
	AuthCodeURL(state, verifier string) string
	// Exchange trades an authorization code and its PKCE verifier for tokens
	Exchange(ctx context.Context, code, verifier string) (*oauth2.Token, error)
	// Profile fetches the authenticated user's identity
	Profile(ctx context.Context, t *oauth2.Token) (users.Profile, error)
	// TokenSource returns a source that refreshes t when it expires
	TokenSource(ctx context.Context, t *oauth2.Token) oauth2.TokenSource
	// Scopes lists the scopes requested at authorization time
	Scopes() []string
}

// GoogleProvider talks to Google's OAuth2 endpoints. OIDC discovery, needed
// only for the userinfo endpoint, happens lazily on first use.
type GoogleProvider struct {
	oauth2Config *oauth2.Config
	issuer       string

	mu        sync.RWMutex
	oidc      *oidc.Provider
	discovery singleflight.Group
}

var _ Provider = (*GoogleProvider)(nil)

func NewGoogleProvider(clientID, clientSecret, redirectURL, issuer string, scopes []string) *GoogleProvider {
	return &GoogleProvider{
		oauth2Config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     google.Endpoint,
			RedirectURL:  redirectURL,
			Scopes:       scopes,
		},
		issuer: issuer,
	}
}

func (g *GoogleProvider) AuthCodeURL(state, verifier string) string {
	return g.oauth2Config.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("prompt", "consent"),
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	)
}

func (g *GoogleProvider) Exchange(ctx context.Context, code, verifier string) (*oauth2.Token, error) {
	return g.oauth2Config.Exchange(ctx, code, oauth2.VerifierOption(verifier))
}

func (g *GoogleProvider) Profile(ctx context.Context, t *oauth2.Token) (users.Profile, error) {
	p, err := g.provider(ctx)
	if err != nil {
		return users.Profile{}, err
	}

	info, err := p.UserInfo(ctx, oauth2.StaticTokenSource(t))
	if err != nil {
		return users.Profile{}, fmt.Errorf("[GoogleProvider Profile] userinfo request failed: %w", err)
	}

	var claims struct {
		Name string `json:"name"`
	}
	if err := info.Claims(&claims); err != nil {
		return users.Profile{}, fmt.Errorf("[GoogleProvider Profile] failed to decode claims: %w", err)
	}

	return users.Profile{Subject: info.Subject, Email: info.Email, Name: claims.Name}, nil
}

func (g *GoogleProvider) TokenSource(ctx context.Context, t *oauth2.Token) oauth2.TokenSource {
	return g.oauth2Config.TokenSource(ctx, t)
}

func (g *GoogleProvider) Scopes() []string {
	return g.oauth2Config.Scopes
}

func (g *GoogleProvider) provider(ctx context.Context) (*oidc.Provider, error) {
	g.mu.RLock()
	p := g.oidc
	g.mu.RUnlock()
	if p != nil {
		return p, nil
	}

	// Concurrent first logins share one discovery request
	result, err, _ := g.discovery.Do(g.issuer, func() (interface{}, error) {
		g.mu.RLock()
		cached := g.oidc
		g.mu.RUnlock()
		if cached != nil {
			return cached, nil
		}

		discovered, err := oidc.NewProvider(ctx, g.issuer)
		if err != nil {
			return nil, fmt.Errorf("[GoogleProvider provider] OIDC discovery failed: %w", err)
		}
		g.mu.Lock()
		g.oidc = discovered
		g.mu.Unlock()
		return discovered, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*oidc.Provider), nil
}
