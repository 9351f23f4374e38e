package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/squishvid/squish/internal/config"
	"github.com/squishvid/squish/internal/util"
)

func CoreRoutes(r chi.Router) {
	r.Get("/health", handleHealth)
	r.Get("/api/limits", handleLimits)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	disk, _ := util.GetDiskSpace(config.TempDir)
	respondJSON(w, 200, map[string]interface{}{
		"status":      "ok",
		"version":     "1.0.0",
		"diskAvailGB": disk.AvailGB,
	})
}

func handleLimits(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, 200, map[string]interface{}{
		"maxFileSize":       config.FileSizeLimit(),
		"maxFileSizeMB":     config.MaxVideoMB,
		"allowedExtensions": config.AllowedExtensions,
		"qualities":         config.AllowedQualities,
		"formats":           config.AllowedFormats,
	})
}
