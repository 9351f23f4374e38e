package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/squishvid/squish/internal/config"
	"github.com/squishvid/squish/internal/drive"
	"github.com/squishvid/squish/internal/encoder"
	"github.com/squishvid/squish/internal/middleware"
	"github.com/squishvid/squish/internal/pipeline"
	"github.com/squishvid/squish/internal/routes"
	"github.com/squishvid/squish/internal/shorten"
	"github.com/squishvid/squish/internal/staging"
	"github.com/squishvid/squish/internal/util"
)

// driveUploader adapts the Drive client to the pipeline's Uploader.
type driveUploader struct {
	client *drive.Client
}

func (d *driveUploader) Upload(ctx context.Context, path string, opts pipeline.UploadOpts) (*pipeline.UploadResult, error) {
	f, err := d.client.Upload(ctx, path, drive.UploadOptions{
		FolderID:   opts.FolderID,
		Token:      opts.Token,
		Resumable:  opts.Resumable,
		OnProgress: opts.OnProgress,
	})
	if err != nil {
		return nil, err
	}
	return &pipeline.UploadResult{ID: f.ID, WebViewLink: f.WebViewLink}, nil
}

func (d *driveUploader) ShareAnyone(ctx context.Context, fileID, token string) error {
	return d.client.ShareAnyone(ctx, fileID, token)
}

// New builds the orchestrator and the HTTP server around it.
func New(engine *encoder.Engine) (*http.Server, *pipeline.Orchestrator) {
	uploader := &driveUploader{client: drive.NewClient()}
	shortener := shorten.NewClient(config.ShortenerAPIURL, config.ShortenerAPIKey)
	stager := staging.New(config.StagingDir)

	orch := pipeline.New(engine, uploader, shortener, stager)
	orch.StartTaskExpiry()

	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(securityHeaders)
	r.Use(middleware.LoadCORS())
	r.Use(middleware.RateLimit)

	routes.CoreRoutes(r)
	routes.ProcessRoutes(r, orch, routes.RequestAccessToken)
	routes.ShortenRoutes(r)
	routes.AuthRoutes(r)

	srv := &http.Server{
		Addr:              ":" + config.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       0,
		WriteTimeout:      0,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	return srv, orch
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

func EnsureTempDirs() {
	util.ClearTempDir()
}

func PrintBanner() {
	fmt.Printf(`
  ┌──────────────────────────────────┐
  │          squish %s          │
  │  video compress & share server   │
  └──────────────────────────────────┘
`, padVersion("1.0.0"))
}

func padVersion(v string) string {
	for len(v) < 10 {
		v += " "
	}
	return v
}
