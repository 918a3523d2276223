package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("unit-test-secret")

func signToken(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return signed
}

func requestWithToken(token string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	return r
}

func TestFromRequest_ReturnsSubject(t *testing.T) {
	token := signToken(t, testSecret, jwt.MapClaims{
		"sub": "agent-7",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	assert.Equal(t, "agent-7", FromRequest(requestWithToken(token), testSecret))
}

func TestFromRequest_EmptyWithoutHeader(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, FromRequest(r, testSecret))

	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	assert.Empty(t, FromRequest(r, testSecret))
}

func TestFromRequest_RejectsBadSignature(t *testing.T) {
	token := signToken(t, []byte("some-other-secret"), jwt.MapClaims{
		"sub": "agent-7",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	assert.Empty(t, FromRequest(requestWithToken(token), testSecret))
}

func TestFromRequest_RejectsExpiredToken(t *testing.T) {
	token := signToken(t, testSecret, jwt.MapClaims{
		"sub": "agent-7",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})

	assert.Empty(t, FromRequest(requestWithToken(token), testSecret))
}

func TestFromRequest_EmptyWithoutSecret(t *testing.T) {
	token := signToken(t, testSecret, jwt.MapClaims{"sub": "agent-7"})
	assert.Empty(t, FromRequest(requestWithToken(token), nil))
}
