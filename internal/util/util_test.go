package util

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateURL(t *testing.T) {
	valid := []string{
		"https://drive.google.com/file/d/abc123/view",
		"http://example.com/video.mp4",
	}
	for _, u := range valid {
		v := ValidateURL(u)
		assert.True(t, v.Valid, "%s should be valid: %s", u, v.Error)
	}

	invalid := map[string]string{
		"":                             "required",
		"ftp://example.com/f":          "HTTP/HTTPS",
		"javascript:alert(1)":          "HTTP/HTTPS",
		"http://localhost/admin":       "Private",
		"http://127.0.0.1:8080/":       "Private",
		"http://192.168.1.1/router":    "Private",
		"http://10.0.0.5/internal":     "Private",
		"http://169.254.169.254/meta":  "Private",
		"http://[::1]/loopback":        "Private",
		"https://" + strings.Repeat("a", 3000) + ".com": "too long",
	}
	for u, want := range invalid {
		v := ValidateURL(u)
		assert.False(t, v.Valid, "%s should be rejected", u)
		assert.Contains(t, v.Error, want)
	}
}

func TestGetClientIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "203.0.113.9:4412"
	assert.Equal(t, "203.0.113.9", GetClientIP(r))

	r.RemoteAddr = "203.0.113.9"
	assert.Equal(t, "203.0.113.9", GetClientIP(r))
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"my video.mp4":            "my video.mp4",
		"a/b\\c:d.mp4":            "a_b_c_d.mp4",
		"  spaced   out .mp4 ":    "spaced out .mp4",
		"bad<>chars|?.webm":       "bad__chars__.webm",
		strings.Repeat("x", 300): strings.Repeat("x", 200),
	}
	for in, want := range cases {
		assert.Equal(t, want, SanitizeFilename(in))
	}
}

func TestToUserError(t *testing.T) {
	cases := map[string]string{
		"context canceled":                         "Task cancelled",
		"encoder runtime unavailable":              "Video encoder is not available, try again later",
		"compression failed in both formats":       "Compression failed, the file may be corrupt",
		"drive upload: not authenticated":          "Sign in with Google to enable cloud upload",
		"upload failed: HTTP error 401":            "Google session expired, sign in again",
		"upload failed: HTTP error 403":            "Google Drive refused the upload",
		"storageQuotaExceeded: quota reached":      "Google Drive storage is full",
		"read tcp: connection reset by peer":       "Connection dropped, try again",
		"context deadline exceeded":                "Connection timed out, try again",
		"dial tcp: lookup x: no such host":         "Couldn't reach the server, try again",
		"something completely unexpected happened": "Processing failed",
	}
	for in, want := range cases {
		assert.Equal(t, want, ToUserError(in), "input: %s", in)
	}

	// Already user-facing messages pass through untouched.
	passthrough := "File is too large (max 50MB)"
	assert.Equal(t, passthrough, ToUserError(passthrough))
}
