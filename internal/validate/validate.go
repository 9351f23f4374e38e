package validate

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/squishvid/squish/internal/config"
)

type FileCheck struct {
	OK     bool
	Errors []string
}

// Check runs the upload policy against a candidate file. Every
// violation is collected so the client can show all of them at once.
func Check(name string, size int64, mimeType string) FileCheck {
	var errs []string

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if ext == "" || !config.Contains(config.AllowedExtensions, ext) {
		errs = append(errs, fmt.Sprintf("Unsupported file type %q. Allowed: %s",
			ext, strings.Join(config.AllowedExtensions, ", ")))
	}

	if mimeType != "" && !allowedMIME(mimeType) {
		errs = append(errs, fmt.Sprintf("Unsupported MIME type %q", mimeType))
	}

	if size <= 0 {
		errs = append(errs, "File is empty")
	} else if size > config.FileSizeLimit() {
		errs = append(errs, fmt.Sprintf("File too large. Maximum size is %dMB", config.MaxVideoMB))
	}

	return FileCheck{OK: len(errs) == 0, Errors: errs}
}

func allowedMIME(mimeType string) bool {
	// Strip parameters like "; codecs=avc1".
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = mimeType[:i]
	}
	mimeType = strings.TrimSpace(strings.ToLower(mimeType))
	if mimeType == "application/octet-stream" {
		// Browsers fall back to this for anything exotic; the
		// extension check still applies.
		return true
	}
	for _, m := range config.VideoMIMEs {
		if m == mimeType {
			return true
		}
	}
	return false
}
