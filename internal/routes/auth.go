package routes

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/squishvid/squish/internal/config"
)

const (
	stateCookie    = "squish_oauth_state"
	verifierCookie = "squish_oauth_verifier"
	refreshCookie  = "squish_refresh_token"

	driveScope = "https://www.googleapis.com/auth/drive.file"
)

// AuthRoutes wires the Google OAuth flow. The browser never sees the
// client secret or the refresh token value; the refresh token lives in
// an httpOnly cookie and is traded for short-lived access tokens via
// POST /auth/google/token.
func AuthRoutes(r chi.Router) {
	r.Get("/auth/google/start", handleAuthStart)
	r.Get("/auth/google/callback", handleAuthCallback)
	r.Post("/auth/google/token", handleAuthToken)
	r.Post("/auth/google/logout", handleAuthLogout)
}

func oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     config.GoogleClientID,
		ClientSecret: config.GoogleClientSecret,
		RedirectURL:  config.GoogleRedirectURL,
		Scopes:       []string{driveScope},
		Endpoint:     google.Endpoint,
	}
}

func secureCookies() bool {
	return config.EnvMode == "production"
}

func setFlowCookie(w http.ResponseWriter, name, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/auth/google",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   secureCookies(),
		SameSite: http.SameSiteLaxMode,
	})
}

func clearCookie(w http.ResponseWriter, name, path string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secureCookies(),
		SameSite: http.SameSiteLaxMode,
	})
}

func handleAuthStart(w http.ResponseWriter, r *http.Request) {
	if config.GoogleClientID == "" {
		respondJSON(w, 503, map[string]string{"error": "Google sign-in is not configured"})
		return
	}

	state := randomToken()
	verifier := oauth2.GenerateVerifier()
	setFlowCookie(w, stateCookie, state)
	setFlowCookie(w, verifierCookie, verifier)

	url := oauthConfig().AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.S256ChallengeOption(verifier),
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
	http.Redirect(w, r, url, http.StatusFound)
}

func handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	if errParam := r.URL.Query().Get("error"); errParam != "" {
		log.Printf("[Auth] Consent denied: %s", errParam)
		http.Redirect(w, r, "/?auth=denied", http.StatusFound)
		return
	}

	stateC, err := r.Cookie(stateCookie)
	if err != nil || stateC.Value == "" || stateC.Value != r.URL.Query().Get("state") {
		respondJSON(w, 400, map[string]string{"error": "Invalid OAuth state"})
		return
	}
	verifierC, err := r.Cookie(verifierCookie)
	if err != nil || verifierC.Value == "" {
		respondJSON(w, 400, map[string]string{"error": "Missing OAuth verifier"})
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		respondJSON(w, 400, map[string]string{"error": "Missing authorization code"})
		return
	}

	token, err := oauthConfig().Exchange(r.Context(), code, oauth2.VerifierOption(verifierC.Value))
	if err != nil {
		log.Printf("[Auth] Token exchange failed: %v", err)
		respondJSON(w, 502, map[string]string{"error": "Token exchange failed"})
		return
	}

	clearCookie(w, stateCookie, "/auth/google")
	clearCookie(w, verifierCookie, "/auth/google")

	if token.RefreshToken != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     refreshCookie,
			Value:    token.RefreshToken,
			Path:     "/",
			MaxAge:   int((90 * 24 * time.Hour).Seconds()),
			HttpOnly: true,
			Secure:   secureCookies(),
			SameSite: http.SameSiteLaxMode,
		})
	}

	http.Redirect(w, r, "/?auth=ok", http.StatusFound)
}

func handleAuthToken(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(refreshCookie)
	if err != nil || c.Value == "" {
		respondJSON(w, 401, map[string]string{"error": "Not signed in", "authUrl": "/auth/google/start"})
		return
	}

	src := oauthConfig().TokenSource(r.Context(), &oauth2.Token{RefreshToken: c.Value})
	token, err := src.Token()
	if err != nil {
		log.Printf("[Auth] Refresh failed: %v", err)
		clearCookie(w, refreshCookie, "/")
		respondJSON(w, 401, map[string]string{"error": "Session expired, please sign in again", "authUrl": "/auth/google/start"})
		return
	}

	respondJSON(w, 200, map[string]interface{}{
		"accessToken": token.AccessToken,
		"expiresIn":   int(time.Until(token.Expiry).Seconds()),
	})
}

func handleAuthLogout(w http.ResponseWriter, r *http.Request) {
	clearCookie(w, refreshCookie, "/")
	respondJSON(w, 200, map[string]string{"status": "signed out"})
}

// RequestAccessToken resolves the Drive access token for an API request.
// It prefers an explicit bearer header (clients that manage their own
// token) and falls back to minting one from the refresh cookie.
func RequestAccessToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); len(h) > 7 && h[:7] == "Bearer " {
		return h[7:]
	}
	c, err := r.Cookie(refreshCookie)
	if err != nil || c.Value == "" {
		return ""
	}
	src := oauthConfig().TokenSource(r.Context(), &oauth2.Token{RefreshToken: c.Value})
	token, err := src.Token()
	if err != nil {
		log.Printf("[Auth] Refresh failed: %v", err)
		return ""
	}
	return token.AccessToken
}
