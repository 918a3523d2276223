package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskgate/deskgate/ratelimit"
	"github.com/deskgate/deskgate/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestDefaultPolicies_ReferenceTable(t *testing.T) {
	policies := DefaultPolicies(nil)

	cases := []struct {
		class  Class
		window time.Duration
		limit  int64
	}{
		{ClassAuth, 15 * time.Minute, 5},
		{ClassGeneral, 15 * time.Minute, 100},
		{ClassStrict, time.Minute, 10},
		{ClassUpload, time.Minute, 5},
		{ClassAPI, time.Minute, 60},
		{ClassSearch, time.Minute, 20},
	}
	for _, tc := range cases {
		p, ok := policies[tc.class]
		require.True(t, ok, "missing policy for %s", tc.class)
		assert.Equal(t, tc.window, p.Window, "%s window", tc.class)
		assert.Equal(t, tc.limit, p.MaxRequests, "%s limit", tc.class)
		assert.NotNil(t, p.KeyFunc, "%s key func", tc.class)
	}

	assert.True(t, policies[ClassAuth].SkipOnSuccess,
		"successful logins must not count as attempts")
}

func TestAuthKeyFunc_CombinesIPAndIdentifier(t *testing.T) {
	fn := AuthKeyFunc()

	form := strings.NewReader("email=User%40Example.com&password=x")
	r := httptest.NewRequest(http.MethodPost, "/auth/login", form)
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.RemoteAddr = "10.0.0.1:4444"

	key, err := fn(r)
	assert.NoError(t, err)
	assert.Equal(t, "10.0.0.1:user@example.com", key)

	// Without a submitted identifier the key falls back to the IP alone.
	r = httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(""))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.RemoteAddr = "10.0.0.1:4444"
	key, err = fn(r)
	assert.NoError(t, err)
	assert.Equal(t, "10.0.0.1", key)
}

func signToken(t *testing.T, secret []byte, sub string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString(secret)
	require.NoError(t, err)
	return signed
}

func TestIdentityOrIPKeyFunc(t *testing.T) {
	secret := []byte("test-secret")
	fn := IdentityOrIPKeyFunc(secret)

	r := httptest.NewRequest(http.MethodGet, "/api/tickets", nil)
	r.RemoteAddr = "10.0.0.1:4444"

	key, err := fn(r)
	assert.NoError(t, err)
	assert.Equal(t, "10.0.0.1", key, "anonymous traffic keys by IP")

	r.Header.Set("Authorization", "Bearer "+signToken(t, secret, "agent-42"))
	key, err = fn(r)
	assert.NoError(t, err)
	assert.Equal(t, "user:agent-42", key)

	// A token signed with the wrong secret downgrades to the IP bucket.
	r.Header.Set("Authorization", "Bearer "+signToken(t, []byte("other"), "agent-42"))
	key, err = fn(r)
	assert.NoError(t, err)
	assert.Equal(t, "10.0.0.1", key)
}

func TestGateway_EndToEndWindow(t *testing.T) {
	gw := New(Options{
		Store: store.NewMemory(context.Background(), 0),
		Policies: map[Class]ratelimit.Policy{
			ClassSearch: {
				Name:        "search",
				Window:      time.Minute,
				MaxRequests: 5,
				KeyFunc:     IPKeyFunc(),
			},
		},
	})

	router := gin.New()
	handlers := append(gw.Protect(ClassSearch), func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/search", handlers...)

	for want := 4; want >= 0; want-- {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/search", nil)
		req.RemoteAddr = "10.0.0.1:4444"
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, strconv.Itoa(want), w.Header().Get("X-RateLimit-Remaining"))
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/search", nil)
	req.RemoteAddr = "10.0.0.1:4444"
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	var body struct {
		Error struct {
			Code       string `json:"code"`
			RetryAfter int64  `json:"retryAfter"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", body.Error.Code)
	assert.Greater(t, body.Error.RetryAfter, int64(0))
	assert.LessOrEqual(t, body.Error.RetryAfter, int64(60000))
}

func TestGateway_UploadRouteRunsAdmissionBeforePipeline(t *testing.T) {
	gw := New(Options{
		Store: store.NewMemory(context.Background(), 0),
		Policies: map[Class]ratelimit.Policy{
			ClassUpload: {
				Name:        "upload",
				Window:      time.Minute,
				MaxRequests: 1,
				KeyFunc:     IPKeyFunc(),
			},
		},
	})

	router := gin.New()
	handlers := append(gw.Protect(ClassUpload), func(c *gin.Context) { c.Status(http.StatusOK) })
	router.POST("/upload", handlers...)

	send := func() *httptest.ResponseRecorder {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		h := map[string][]string{
			"Content-Disposition": {`form-data; name="files"; filename="mal.png"`},
			"Content-Type":        {"image/png"},
		}
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, _ = part.Write([]byte("MZ\x90\x00"))
		require.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.RemoteAddr = "10.0.0.1:4444"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	// First request is admitted, then rejected by the pipeline.
	w := send()
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "EXECUTABLE_REJECTED")

	// Second request is refused by admission before validation runs.
	w = send()
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "RATE_LIMIT_EXCEEDED")
}

func TestGateway_UnknownClassAdmitsUnchecked(t *testing.T) {
	gw := New(Options{Store: store.NewMemory(context.Background(), 0)})

	router := gin.New()
	router.GET("/x", gw.Admission(Class("nonexistent")), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.RemoteAddr = "10.0.0.1:4444"
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
