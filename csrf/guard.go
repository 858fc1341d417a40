// Package csrf issues and verifies per-session anti-forgery tokens.
//
// Tokens are HS256 JWTs whose "sid" claim is a SHA-256 digest of the session
// id, so a token is only valid for the session it was issued to and the raw
// session id never reaches script-readable storage.
package csrf

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	apperrors "github.com/jrsteele09/go-audit-server/internal/errors"
	"golang.org/x/crypto/hkdf"
)

// HeaderName is the request header carrying the token on state-changing requests.
const HeaderName = "X-CSRF-Token"

const keyInfo = "audit-server csrf v1"

// ErrForbidden is returned for a missing, malformed, expired or foreign token.
var ErrForbidden = apperrors.ErrForbidden

type claims struct {
	SessionDigest string `json:"sid"`
	jwt.RegisteredClaims
}

type Guard struct {
	key     []byte
	ttl     time.Duration
	nowTime func() time.Time
}

type GuardOption func(*Guard)

// WithNowTime sets the clock (primarily for testing)
func WithNowTime(nowFunc func() time.Time) GuardOption {
	return func(g *Guard) {
		g.nowTime = nowFunc
	}
}

// NewGuard derives the signing key from secret with HKDF-SHA256.
func NewGuard(secret []byte, ttl time.Duration, options ...GuardOption) (*Guard, error) {
	if len(secret) < 16 {
		return nil, errors.New("[csrf NewGuard] secret must be at least 16 bytes")
	}
	if ttl <= 0 {
		return nil, errors.New("[csrf NewGuard] ttl must be positive")
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("[csrf NewGuard] key derivation failed: %w", err)
	}

	g := &Guard{key: key, ttl: ttl, nowTime: time.Now}
	for _, opt := range options {
		opt(g)
	}
	return g, nil
}

// IssueToken returns a token bound to sessionID.
func (g *Guard) IssueToken(sessionID string) (string, error) {
	if sessionID == "" {
		return "", errors.New("[csrf IssueToken] sessionID is required")
	}
	now := g.nowTime()
	c := claims{
		SessionDigest: sessionDigest(sessionID),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(g.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(g.key)
	if err != nil {
		return "", fmt.Errorf("[csrf IssueToken] signing failed: %w", err)
	}
	return signed, nil
}

// Verify checks the token in the request header against sessionID.
func (g *Guard) Verify(r *http.Request, sessionID string) error {
	return g.VerifyToken(r.Header.Get(HeaderName), sessionID)
}

func (g *Guard) VerifyToken(raw, sessionID string) error {
	if raw == "" || sessionID == "" {
		return fmt.Errorf("%w: missing csrf token", ErrForbidden)
	}

	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) {
		return g.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(g.nowTime),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return fmt.Errorf("%w: invalid csrf token", ErrForbidden)
	}

	want := sessionDigest(sessionID)
	if subtle.ConstantTimeCompare([]byte(c.SessionDigest), []byte(want)) != 1 {
		return fmt.Errorf("%w: csrf token does not belong to this session", ErrForbidden)
	}
	return nil
}

func sessionDigest(sessionID string) string {
	sum := sha256.Sum256([]byte(sessionID))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
