package auth

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signSessionToken(t *testing.T, secret []byte, claims SessionClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return signed
}

func newTestVerifier(t *testing.T, clock func() time.Time) *SessionVerifier {
	t.Helper()
	verifier, err := NewSessionVerifier(SessionVerifierConfig{
		SigningSecret: []byte("session-secret"),
		Issuer:        "coursepulse-auth",
		CookieName:    "cp_session",
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	return verifier
}

func baseClaims(now time.Time) SessionClaims {
	return SessionClaims{
		UserID:          "user-123",
		UserEmail:       "student@example.com",
		UserDisplayName: "Student",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-123",
			Issuer:    "coursepulse-auth",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
}

func TestSessionVerifierAcceptsValidToken(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	verifier := newTestVerifier(t, func() time.Time { return now })

	token := signSessionToken(t, []byte("session-secret"), baseClaims(now))
	claims, err := verifier.VerifyToken(token)
	if err != nil {
		t.Fatalf("expected token to validate: %v", err)
	}
	if claims.UserIdentifier() != "user-123" {
		t.Fatalf("unexpected user identifier %s", claims.UserIdentifier())
	}
}

func TestSessionVerifierRejectsExpiredToken(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	verifier := newTestVerifier(t, func() time.Time { return now.Add(2 * time.Hour) })

	token := signSessionToken(t, []byte("session-secret"), baseClaims(now))
	_, err := verifier.VerifyToken(token)
	if !errors.Is(err, ErrExpiredSessionToken) {
		t.Fatalf("expected expired token error, got %v", err)
	}
}

func TestSessionVerifierRejectsWrongIssuer(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	verifier := newTestVerifier(t, func() time.Time { return now })

	claims := baseClaims(now)
	claims.Issuer = "someone-else"
	token := signSessionToken(t, []byte("session-secret"), claims)
	if _, err := verifier.VerifyToken(token); !errors.Is(err, ErrInvalidSessionToken) {
		t.Fatalf("expected invalid token error, got %v", err)
	}
}

func TestSessionVerifierRejectsEmptyToken(t *testing.T) {
	verifier := newTestVerifier(t, nil)
	if _, err := verifier.VerifyToken("  "); !errors.Is(err, ErrMissingSessionToken) {
		t.Fatalf("expected missing token error, got %v", err)
	}
}

func TestSessionVerifierReadsBearerHeaderThenCookie(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	verifier := newTestVerifier(t, func() time.Time { return now })
	token := signSessionToken(t, []byte("session-secret"), baseClaims(now))

	withHeader, err := http.NewRequest(http.MethodGet, "/merge-groups", http.NoBody)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	withHeader.Header.Set("Authorization", "Bearer "+token)
	if _, err := verifier.VerifyRequest(withHeader); err != nil {
		t.Fatalf("expected bearer header to validate: %v", err)
	}

	withCookie, err := http.NewRequest(http.MethodGet, "/merge-groups", http.NoBody)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	withCookie.AddCookie(&http.Cookie{Name: "cp_session", Value: token})
	if _, err := verifier.VerifyRequest(withCookie); err != nil {
		t.Fatalf("expected cookie to validate: %v", err)
	}

	bare, err := http.NewRequest(http.MethodGet, "/merge-groups", http.NoBody)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	if _, err := verifier.VerifyRequest(bare); !errors.Is(err, ErrMissingSessionToken) {
		t.Fatalf("expected missing token error, got %v", err)
	}
}
