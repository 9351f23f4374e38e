package validate

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/squishvid/squish/internal/config"
)

func TestCheckValidVideo(t *testing.T) {
	check := Check("video.mp4", 10*1024*1024, "video/mp4")
	assert.True(t, check.OK)
	assert.Empty(t, check.Errors)
}

func TestCheckOversizedVideo(t *testing.T) {
	check := Check("video.mp4", 80*1024*1024, "video/mp4")
	require.False(t, check.OK)
	require.Len(t, check.Errors, 1)
	assert.Contains(t, check.Errors[0], fmt.Sprintf("%dMB", config.MaxVideoMB))
}

func TestCheckBadExtension(t *testing.T) {
	check := Check("notes.txt", 1024, "text/plain")
	require.False(t, check.OK)
	assert.NotEmpty(t, check.Errors)
	found := false
	for _, e := range check.Errors {
		if strings.Contains(e, "Unsupported file type") {
			found = true
		}
	}
	assert.True(t, found, "expected an extension error, got %v", check.Errors)
}

func TestCheckMissingExtension(t *testing.T) {
	check := Check("video", 1024, "video/mp4")
	assert.False(t, check.OK)
	assert.NotEmpty(t, check.Errors)
}

func TestCheckBadMIME(t *testing.T) {
	check := Check("video.mp4", 1024, "application/pdf")
	require.False(t, check.OK)
	assert.Contains(t, check.Errors[0], "MIME")
}

func TestCheckMIMEWithCodecParams(t *testing.T) {
	check := Check("clip.webm", 2048, `video/webm; codecs="vp9"`)
	assert.True(t, check.OK, "codec parameters should not fail MIME policy: %v", check.Errors)
}

func TestCheckOctetStreamFallsBackToExtension(t *testing.T) {
	assert.True(t, Check("clip.mkv", 2048, "application/octet-stream").OK)
	assert.False(t, Check("clip.exe", 2048, "application/octet-stream").OK)
}

func TestCheckEmptyFile(t *testing.T) {
	check := Check("video.mp4", 0, "video/mp4")
	require.False(t, check.OK)
	assert.Contains(t, check.Errors[0], "empty")
}

func TestCheckCollectsAllViolations(t *testing.T) {
	check := Check("huge.exe", 500*1024*1024, "application/x-executable")
	require.False(t, check.OK)
	assert.Len(t, check.Errors, 3)
}
