package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

var Version = "dev"

var (
	Port    string
	EnvMode string

	StagingDir string

	ShortenerAPIURL string
	ShortenerAPIKey string

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	AlertWebhookURL string
	Alerts          bool
)

var MaxVideoMB = 50

const (
	DiskSpaceMinGB     = 2
	RateLimitWindow    = 60 * time.Second
	RateLimitMax       = 60
	FileRetention      = 20 * time.Minute
	MaxURLLength       = 2048
	RuntimeLoadTimeout = 30 * time.Second

	// Drive simple-upload cutoff; anything bigger goes through a
	// resumable session. Chunk size must stay a multiple of 256KB.
	SimpleUploadLimit = 5 * 1024 * 1024
	UploadChunkSize   = 8 * 1024 * 1024
)

var (
	TempDir  = "/var/tmp/squish"
	TempDirs = tempDirLayout(TempDir)
)

func tempDirLayout(root string) map[string]string {
	return map[string]string{
		"upload": filepath.Join(root, "uploads"),
		"encode": filepath.Join(root, "encode"),
	}
}

var AllowedExtensions = []string{"mp4", "webm", "mkv", "mov", "avi", "m4v"}

var VideoMIMEs = map[string]string{
	"mp4":  "video/mp4",
	"webm": "video/webm",
	"mkv":  "video/x-matroska",
	"mov":  "video/quicktime",
	"avi":  "video/x-msvideo",
	"m4v":  "video/x-m4v",
}

var (
	AllowedQualities = []string{"high", "medium", "low"}
	AllowedFormats   = []string{"mp4", "webm"}
)

// CRF per quality level. The webm values run higher because VP9's CRF
// scale is not comparable to x264's.
var MP4CRF = map[string]int{"high": 22, "medium": 26, "low": 30}
var WebMCRF = map[string]int{"high": 30, "medium": 34, "low": 38}

func Load() {
	Port = envOrDefault("PORT", "3001")
	EnvMode = envOrDefault("ENV_MODE", "development")

	StagingDir = os.Getenv("STAGING_DIR")

	TempDir = envOrDefault("TEMP_DIR", TempDir)
	TempDirs = tempDirLayout(TempDir)

	ShortenerAPIURL = os.Getenv("SHORTENER_API_URL")
	ShortenerAPIKey = os.Getenv("SHORTENER_API_KEY")
	if ShortenerAPIURL == "" {
		log.Println("[WARN] SHORTENER_API_URL not set, short links will fall back to long URLs")
	}

	GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	GoogleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	GoogleRedirectURL = envOrDefault("GOOGLE_REDIRECT_URL", "http://localhost:3001/auth/google/callback")
	if GoogleClientID == "" {
		log.Println("[WARN] GOOGLE_CLIENT_ID not set, cloud upload disabled")
	}

	AlertWebhookURL = os.Getenv("ALERT_WEBHOOK_URL")
	Alerts = AlertWebhookURL != ""

	MaxVideoMB, _ = strconv.Atoi(envOrDefault("MAX_VIDEO_MB", "50"))
	if MaxVideoMB < 1 {
		MaxVideoMB = 50
	}
}

func FileSizeLimit() int64 {
	return int64(MaxVideoMB) * 1024 * 1024
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func Contains(slice []string, val string) bool {
	for _, s := range slice {
		if s == val {
			return true
		}
	}
	return false
}
