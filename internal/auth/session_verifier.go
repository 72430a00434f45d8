package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingSessionSigningKey = errors.New("session verifier: signing key required")
	ErrMissingSessionIssuer     = errors.New("session verifier: issuer required")
	ErrMissingSessionCookieName = errors.New("session verifier: cookie name required")
	ErrMissingSessionToken      = errors.New("session verifier: token required")
	ErrInvalidSessionToken      = errors.New("session verifier: invalid token")
	ErrExpiredSessionToken      = errors.New("session verifier: token expired")
	ErrMissingSessionSubject    = errors.New("session verifier: subject required")
)

// SessionClaims mirrors the JWT payload emitted by the platform's identity
// provider, which lives outside this service.
type SessionClaims struct {
	UserID          string `json:"user_id"`
	UserEmail       string `json:"user_email"`
	UserDisplayName string `json:"user_display_name"`
	jwt.RegisteredClaims
}

// SessionVerifierConfig describes how to validate identity-provider JWTs.
type SessionVerifierConfig struct {
	SigningSecret []byte
	Issuer        string
	CookieName    string
	Clock         func() time.Time
}

// SessionVerifier validates HS256 session JWTs issued by the identity
// provider, arriving either as a cookie or a bearer token.
type SessionVerifier struct {
	signingSecret []byte
	issuer        string
	cookieName    string
	clock         func() time.Time
}

// NewSessionVerifier constructs a verifier with the provided configuration.
func NewSessionVerifier(cfg SessionVerifierConfig) (*SessionVerifier, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSessionSigningKey
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, ErrMissingSessionIssuer
	}
	cookieName := strings.TrimSpace(cfg.CookieName)
	if cookieName == "" {
		return nil, ErrMissingSessionCookieName
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &SessionVerifier{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		cookieName:    cookieName,
		clock:         clock,
	}, nil
}

// CookieName returns the cookie name configured for session lookups.
func (v *SessionVerifier) CookieName() string {
	return v.cookieName
}

// VerifyToken validates the supplied JWT string and returns the parsed claims.
func (v *SessionVerifier) VerifyToken(tokenString string) (SessionClaims, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return SessionClaims{}, ErrMissingSessionToken
	}

	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("%w: unexpected signing algorithm %s", ErrInvalidSessionToken, t.Method.Alg())
			}
			return v.signingSecret, nil
		},
		jwt.WithTimeFunc(v.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return SessionClaims{}, ErrExpiredSessionToken
		}
		return SessionClaims{}, fmt.Errorf("%w: %v", ErrInvalidSessionToken, err)
	}
	if parsed == nil || !parsed.Valid {
		return SessionClaims{}, ErrInvalidSessionToken
	}
	if claims.Issuer != v.issuer {
		return SessionClaims{}, ErrInvalidSessionToken
	}
	if strings.TrimSpace(claims.Subject) == "" && strings.TrimSpace(claims.UserID) == "" {
		return SessionClaims{}, ErrMissingSessionSubject
	}
	return *claims, nil
}

// VerifyRequest extracts the session token from the request, preferring the
// Authorization header and falling back to the configured cookie.
func (v *SessionVerifier) VerifyRequest(r *http.Request) (SessionClaims, error) {
	if r == nil {
		return SessionClaims{}, ErrMissingSessionToken
	}
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return v.VerifyToken(strings.TrimPrefix(header, "Bearer "))
	}
	cookie, err := r.Cookie(v.cookieName)
	if err != nil || cookie == nil {
		return SessionClaims{}, ErrMissingSessionToken
	}
	return v.VerifyToken(cookie.Value)
}

// UserIdentifier returns the canonical user identifier carried by the claims.
func (c SessionClaims) UserIdentifier() string {
	if id := strings.TrimSpace(c.UserID); id != "" {
		return id
	}
	return strings.TrimSpace(c.Subject)
}
