package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/squishvid/squish/internal/config"
	"github.com/squishvid/squish/internal/encoder"
	"github.com/squishvid/squish/internal/middleware"
	"github.com/squishvid/squish/internal/server"
	"github.com/squishvid/squish/internal/util"
)

func main() {
	godotenv.Load()
	config.Load()

	server.PrintBanner()
	server.EnsureTempDirs()
	util.StartCleanupInterval()
	middleware.StartRateLimitCleanup()

	engine := encoder.New(config.TempDirs["encode"])
	// Warm the encoder in the background so the first request does not
	// pay the probe cost. Compress re-checks Init on its own.
	go func() {
		if err := engine.Init(); err != nil {
			log.Printf("[Encoder] Warmup failed: %v", err)
		}
	}()

	srv, _ := server.New(engine)

	go func() {
		log.Printf("✓ squish listening on port %s (%s)", config.Port, config.EnvMode)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Forced shutdown: %v", err)
	}
	util.CleanupTempFiles()
	log.Println("Server stopped.")
}
