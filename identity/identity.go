// Package identity extracts the authenticated caller identity from a request.
// Session issuance and verification policy live elsewhere; this package only
// reads what the auth layer already signed, for use in limiter keys.
package identity

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// FromRequest returns the subject of a valid HS256 bearer token carried in
// the Authorization header, or "" when the request carries no usable
// identity. Callers treat "" as "anonymous" and fall back to IP-based keys;
// a forged or expired token therefore never weakens limiting, it only
// downgrades it to the stricter anonymous bucket.
func FromRequest(r *http.Request, secret []byte) string {
	raw, ok := bearerToken(r)
	if !ok || len(secret) == 0 {
		return ""
	}

	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return ""
	}

	sub, err := token.Claims.GetSubject()
	if err != nil {
		return ""
	}
	return sub
}

func bearerToken(r *http.Request) (string, bool) {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(auth[len(prefix):]), true
}
