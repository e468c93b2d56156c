// Package token extracts and validates session tokens from raw upstream
// cookies. Tokens are JWTs; decoding is purely structural and never talks
// to the upstream.
package token

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// sessionField is the cookie field carrying the bearer token.
const sessionField = "sessionKey"

var (
	// ErrMalformedToken is returned when a token cannot be decoded.
	ErrMalformedToken = errors.New("token: malformed token")

	// ErrNoClaims is returned when a decoded token carries no usable claims.
	ErrNoClaims = errors.New("token: missing claims")
)

// Claims holds the decoded fields the pool cares about.
type Claims struct {
	Subject   string
	ExpiresAt int64 // epoch seconds
}

// DerivedAccount is the result of deriving an account identity from a cookie.
type DerivedAccount struct {
	AccountID string
	Token     string
	Expires   int64
}

// nowFunc is swapped in tests.
var nowFunc = time.Now

// ExtractToken scans a raw cookie string for the session token field.
// Returns false if the field is absent or empty.
func ExtractToken(cookie string) (string, bool) {
	for _, part := range strings.Split(cookie, ";") {
		part = strings.TrimSpace(part)
		key, value, found := strings.Cut(part, "=")
		if !found {
			continue
		}
		if strings.TrimSpace(key) == sessionField {
			value = strings.TrimSpace(value)
			if value == "" {
				return "", false
			}
			return value, true
		}
	}
	return "", false
}

// Decode structurally decodes a token without verifying its signature.
// The pool never holds the upstream's signing key, so validation here is
// shape and expiry only.
func Decode(tokenString string) (*Claims, error) {
	parser := jwt.NewParser()
	claims := jwt.RegisteredClaims{}
	if _, _, err := parser.ParseUnverified(tokenString, &claims); err != nil {
		return nil, ErrMalformedToken
	}
	if claims.Subject == "" {
		return nil, ErrNoClaims
	}
	out := &Claims{Subject: claims.Subject}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Unix()
	}
	return out, nil
}

// Validate decodes a token and checks expiry. Returns nil if the token is
// malformed or already expired.
func Validate(tokenString string) *Claims {
	claims, err := Decode(tokenString)
	if err != nil {
		return nil
	}
	if claims.ExpiresAt <= nowFunc().Unix() {
		return nil
	}
	return claims
}

// DeriveAccountFromCookie composes extraction and validation. The account id
// is derived deterministically from the token subject so the same cookie
// always yields the same id. Returns nil when the cookie holds no valid token.
func DeriveAccountFromCookie(cookie string) *DerivedAccount {
	tok, ok := ExtractToken(cookie)
	if !ok {
		return nil
	}
	claims := Validate(tok)
	if claims == nil {
		return nil
	}
	return &DerivedAccount{
		AccountID: accountIDFromSubject(claims.Subject),
		Token:     tok,
		Expires:   claims.ExpiresAt,
	}
}

// accountIDFromSubject shortens long subject ids to a stable prefix.
// Subjects longer than 16 characters are truncated to the first 8.
func accountIDFromSubject(subject string) string {
	if len(subject) > 16 {
		return subject[:8]
	}
	return subject
}
