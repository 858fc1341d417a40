package providerfake

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/jrsteele09/go-audit-server/oauthflow"
	"github.com/jrsteele09/go-audit-server/users"
	"golang.org/x/oauth2"
)

var _ oauthflow.Provider = (*FakeProvider)(nil)

// FakeProvider accepts one authorization code and returns a fixed profile.
type FakeProvider struct {
	mu sync.Mutex

	ValidCode     string
	User          users.Profile
	GrantedScopes string
	RequestScopes []string
	ExchangeErr   error
	ProfileErr    error

	// ExchangeDelay widens the window for concurrent callback tests
	ExchangeDelay time.Duration

	Exchanges     int
	LastVerifier  string
	LastChallenge string
}

func NewFakeProvider() *FakeProvider {
	return &FakeProvider{
		ValidCode:     "valid-code",
		User:          users.Profile{Subject: "google-sub-1", Email: "jane@example.com", Name: "Jane Doe"},
		GrantedScopes: "openid email https://www.googleapis.com/auth/cloud-platform.read-only",
		RequestScopes: []string{"openid", "email", "https://www.googleapis.com/auth/cloud-platform.read-only"},
	}
}

func (p *FakeProvider) AuthCodeURL(state, verifier string) string {
	p.mu.Lock()
	p.LastChallenge = oauth2.S256ChallengeFromVerifier(verifier)
	p.mu.Unlock()

	q := url.Values{}
	q.Set("state", state)
	q.Set("code_challenge", oauth2.S256ChallengeFromVerifier(verifier))
	q.Set("code_challenge_method", "S256")
	return "https://accounts.example.com/o/oauth2/auth?" + q.Encode()
}

func (p *FakeProvider) Exchange(ctx context.Context, code, verifier string) (*oauth2.Token, error) {
	if p.ExchangeDelay > 0 {
		time.Sleep(p.ExchangeDelay)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.Exchanges++
	p.LastVerifier = verifier
	if p.ExchangeErr != nil {
		return nil, p.ExchangeErr
	}
	if code != p.ValidCode {
		return nil, errors.New(`oauth2: "invalid_grant" "Malformed auth code."`)
	}

	t := &oauth2.Token{
		AccessToken:  "access-" + code,
		RefreshToken: "refresh-" + code,
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour),
	}
	return t.WithExtra(map[string]any{"scope": p.GrantedScopes}), nil
}

func (p *FakeProvider) Profile(ctx context.Context, t *oauth2.Token) (users.Profile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ProfileErr != nil {
		return users.Profile{}, p.ProfileErr
	}
	return p.User, nil
}

func (p *FakeProvider) TokenSource(ctx context.Context, t *oauth2.Token) oauth2.TokenSource {
	return oauth2.StaticTokenSource(t)
}

func (p *FakeProvider) Scopes() []string {
	return p.RequestScopes
}
