package util

import "strings"

// ToUserError maps raw pipeline errors to something worth showing a user.
func ToUserError(message string) string {
	msg := strings.ToLower(message)

	if strings.Contains(msg, "cancelled") || strings.Contains(msg, "canceled") || strings.Contains(msg, "context canceled") {
		return "Task cancelled"
	}
	if strings.Contains(msg, "runtime unavailable") || strings.Contains(msg, "executable file not found") {
		return "Video encoder is not available, try again later"
	}
	if strings.Contains(msg, "compression failed") || strings.Contains(msg, "encoding failed") {
		return "Compression failed, the file may be corrupt"
	}
	if strings.Contains(msg, "not authenticated") {
		return "Sign in with Google to enable cloud upload"
	}
	if strings.Contains(msg, "http error 401") || strings.Contains(msg, "401 unauthorized") {
		return "Google session expired, sign in again"
	}
	if strings.Contains(msg, "http error 403") || strings.Contains(msg, "403 forbidden") {
		return "Google Drive refused the upload"
	}
	if strings.Contains(msg, "quota") || strings.Contains(msg, "storage full") {
		return "Google Drive storage is full"
	}
	if strings.Contains(msg, "econnreset") || (strings.Contains(msg, "connection") && !strings.Contains(msg, "connected")) {
		return "Connection dropped, try again"
	}
	if strings.Contains(msg, "timed out") || strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") {
		return "Connection timed out, try again"
	}
	if strings.Contains(msg, "no such host") || strings.Contains(msg, "dns") {
		return "Couldn't reach the server, try again"
	}
	if strings.Contains(msg, "too large") || strings.Contains(msg, "already being processed") || strings.Contains(msg, "low disk space") {
		return message
	}
	return "Processing failed"
}
