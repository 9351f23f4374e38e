package shorten

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"
)

// Client calls the shortener provider with the server-side API key, so
// keys never reach a browser. Shorten never fails: any problem falls
// back to the original URL so the copy-link flow is never blocked.
type Client struct {
	Endpoint string
	APIKey   string
	HTTP     *http.Client
}

func NewClient(endpoint, apiKey string) *Client {
	return &Client{
		Endpoint: endpoint,
		APIKey:   apiKey,
		HTTP:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) Shorten(ctx context.Context, longURL string) string {
	if c == nil || c.Endpoint == "" {
		return longURL
	}

	body, _ := json.Marshal(map[string]string{"url": longURL})
	req, err := http.NewRequestWithContext(ctx, "POST", c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return longURL
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		log.Printf("[Shorten] Provider unreachable, using long URL: %v", err)
		return longURL
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		log.Printf("[Shorten] Provider returned %d, using long URL", resp.StatusCode)
		return longURL
	}

	var parsed struct {
		ShortURL string `json:"shortUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil || parsed.ShortURL == "" {
		log.Printf("[Shorten] Bad provider response, using long URL")
		return longURL
	}
	return parsed.ShortURL
}
