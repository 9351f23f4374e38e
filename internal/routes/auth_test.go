package routes

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/squishvid/squish/internal/config"
)

func authRouter() chi.Router {
	r := chi.NewRouter()
	AuthRoutes(r)
	return r
}

func setGoogleCreds(id, secret string) func() {
	prevID, prevSecret := config.GoogleClientID, config.GoogleClientSecret
	config.GoogleClientID = id
	config.GoogleClientSecret = secret
	return func() {
		config.GoogleClientID = prevID
		config.GoogleClientSecret = prevSecret
	}
}

func TestAuthStartUnconfigured(t *testing.T) {
	restore := setGoogleCreds("", "")
	defer restore()

	rec := httptest.NewRecorder()
	authRouter().ServeHTTP(rec, httptest.NewRequest("GET", "/auth/google/start", nil))
	assert.Equal(t, 503, rec.Code)
}

func TestAuthStartRedirectsWithPKCE(t *testing.T) {
	restore := setGoogleCreds("client-id", "client-secret")
	defer restore()

	rec := httptest.NewRecorder()
	authRouter().ServeHTTP(rec, httptest.NewRequest("GET", "/auth/google/start", nil))
	require.Equal(t, 302, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	q := loc.Query()
	assert.Equal(t, "client-id", q.Get("client_id"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("code_challenge"))
	assert.NotEmpty(t, q.Get("state"))
	assert.Equal(t, "offline", q.Get("access_type"))

	cookies := rec.Result().Cookies()
	var names []string
	for _, c := range cookies {
		names = append(names, c.Name)
		assert.True(t, c.HttpOnly, "cookie %s must be httpOnly", c.Name)
	}
	assert.Contains(t, names, stateCookie)
	assert.Contains(t, names, verifierCookie)

	// The state in the redirect must match the cookie value.
	for _, c := range cookies {
		if c.Name == stateCookie {
			assert.Equal(t, c.Value, q.Get("state"))
		}
	}
}

func TestAuthCallbackRejectsStateMismatch(t *testing.T) {
	restore := setGoogleCreds("client-id", "client-secret")
	defer restore()

	req := httptest.NewRequest("GET", "/auth/google/callback?state=evil&code=x", nil)
	req.AddCookie(&http.Cookie{Name: stateCookie, Value: "expected"})
	req.AddCookie(&http.Cookie{Name: verifierCookie, Value: "v"})
	rec := httptest.NewRecorder()
	authRouter().ServeHTTP(rec, req)
	assert.Equal(t, 400, rec.Code)
}

func TestAuthCallbackMissingCode(t *testing.T) {
	restore := setGoogleCreds("client-id", "client-secret")
	defer restore()

	req := httptest.NewRequest("GET", "/auth/google/callback?state=s1", nil)
	req.AddCookie(&http.Cookie{Name: stateCookie, Value: "s1"})
	req.AddCookie(&http.Cookie{Name: verifierCookie, Value: "v"})
	rec := httptest.NewRecorder()
	authRouter().ServeHTTP(rec, req)
	assert.Equal(t, 400, rec.Code)
}

func TestAuthTokenWithoutSession(t *testing.T) {
	rec := httptest.NewRecorder()
	authRouter().ServeHTTP(rec, httptest.NewRequest("POST", "/auth/google/token", nil))
	require.Equal(t, 401, rec.Code)
	assert.Equal(t, "/auth/google/start", decodeBody(t, rec)["authUrl"])
}

func TestLogoutClearsCookie(t *testing.T) {
	req := httptest.NewRequest("POST", "/auth/google/logout", nil)
	req.AddCookie(&http.Cookie{Name: refreshCookie, Value: "tok"})
	rec := httptest.NewRecorder()
	authRouter().ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)

	var cleared bool
	for _, c := range rec.Result().Cookies() {
		if c.Name == refreshCookie && c.MaxAge < 0 {
			cleared = true
		}
	}
	assert.True(t, cleared)
}

func TestRequestAccessTokenPrefersBearer(t *testing.T) {
	req := httptest.NewRequest("POST", "/api/process", nil)
	req.Header.Set("Authorization", "Bearer abc123")
	assert.Equal(t, "abc123", RequestAccessToken(req))
}

func TestRequestAccessTokenEmptyWithoutAuth(t *testing.T) {
	req := httptest.NewRequest("POST", "/api/process", nil)
	assert.Equal(t, "", RequestAccessToken(req))
}
