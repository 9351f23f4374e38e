package routes

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/squishvid/squish/internal/config"
	"github.com/squishvid/squish/internal/util"
)

// ShortenRoutes wires the same-origin shorten proxy. The provider API
// key never leaves the server; browsers only ever talk to /api/shorten.
func ShortenRoutes(r chi.Router) {
	r.Post("/api/shorten", handleShorten)
}

var shortenClient = &http.Client{Timeout: 10 * time.Second}

type shortenRequest struct {
	URL   string `json:"url"`
	Alias string `json:"alias,omitempty"`
}

type shortenResponse struct {
	ShortURL string `json:"shortUrl"`
	LongURL  string `json:"longUrl"`
	Alias    string `json:"alias,omitempty"`
}

func handleShorten(w http.ResponseWriter, r *http.Request) {
	var body shortenRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondJSON(w, 400, map[string]string{"error": "Invalid request body"})
		return
	}

	if v := util.ValidateURL(body.URL); !v.Valid {
		respondJSON(w, 400, map[string]string{"error": v.Error})
		return
	}
	if len(body.Alias) > 64 {
		respondJSON(w, 400, map[string]string{"error": "Alias is too long"})
		return
	}

	if config.ShortenerAPIURL == "" {
		respondJSON(w, 502, map[string]string{"error": "Shortener not configured"})
		return
	}

	payload, _ := json.Marshal(map[string]string{"url": body.URL, "alias": body.Alias})
	req, err := http.NewRequestWithContext(r.Context(), "POST", config.ShortenerAPIURL, bytes.NewReader(payload))
	if err != nil {
		respondJSON(w, 500, map[string]string{"error": "Internal error"})
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if config.ShortenerAPIKey != "" {
		req.Header.Set("Authorization", "Bearer "+config.ShortenerAPIKey)
	}

	resp, err := shortenClient.Do(req)
	if err != nil {
		log.Printf("[Shorten] Provider unreachable: %v", err)
		respondJSON(w, 502, map[string]string{"error": "Shortener provider unreachable"})
		return
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("[Shorten] Provider returned %d", resp.StatusCode)
		respondJSON(w, 502, map[string]string{"error": "Shortener provider error"})
		return
	}

	var provider struct {
		ShortURL string `json:"shortUrl"`
		Short    string `json:"short_url"`
		Alias    string `json:"alias"`
	}
	if err := json.Unmarshal(respBody, &provider); err != nil {
		respondJSON(w, 502, map[string]string{"error": "Bad provider response"})
		return
	}
	short := provider.ShortURL
	if short == "" {
		short = provider.Short
	}
	if short == "" {
		respondJSON(w, 502, map[string]string{"error": "Bad provider response"})
		return
	}

	respondJSON(w, 200, shortenResponse{ShortURL: short, LongURL: body.URL, Alias: provider.Alias})
}
