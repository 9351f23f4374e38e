package routes

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/squishvid/squish/internal/config"
	"github.com/squishvid/squish/internal/encoder"
	"github.com/squishvid/squish/internal/pipeline"
	"github.com/squishvid/squish/internal/util"
	"github.com/squishvid/squish/internal/validate"
)

func ProcessRoutes(r chi.Router, o *pipeline.Orchestrator, tokens AccessTokenFunc) {
	h := &processHandler{orch: o, accessToken: tokens}
	r.Post("/api/process", h.handleProcess)
	r.Get("/api/task/{taskId}", h.handleTaskStatus)
	r.Post("/api/cancel/{taskId}", h.handleCancel)
	r.Get("/api/task/{taskId}/download", h.handleDownload)
}

// AccessTokenFunc resolves a short-lived cloud access token for the
// request, or "" when the user has not completed the auth flow.
type AccessTokenFunc func(r *http.Request) string

type processHandler struct {
	orch        *pipeline.Orchestrator
	accessToken AccessTokenFunc
}

func (h *processHandler) handleProcess(w http.ResponseWriter, r *http.Request) {
	filePath, originalName, size, err := saveUploadedFile(r, w, "file")
	if err != nil {
		respondJSON(w, 400, map[string]string{"error": err.Error()})
		return
	}

	quality := formValueOr(r, "quality", "medium")
	if !config.Contains(config.AllowedQualities, quality) {
		os.Remove(filePath)
		respondJSON(w, 400, map[string]string{
			"error": fmt.Sprintf("Invalid quality. Allowed: %s", strings.Join(config.AllowedQualities, ", ")),
		})
		return
	}

	format, ok := encoder.ParseFormat(r.FormValue("preferredFormat"))
	if !ok {
		os.Remove(filePath)
		respondJSON(w, 400, map[string]string{
			"error": fmt.Sprintf("Invalid preferredFormat. Allowed: %s", strings.Join(config.AllowedFormats, ", ")),
		})
		return
	}

	opts := pipeline.Options{
		Quality:         quality,
		PreferredFormat: format,
		CloudUpload:     boolFormValue(r, "cloudUpload"),
		LinkShortening:  boolFormValue(r, "linkShortening"),
		FolderID:        r.FormValue("folderId"),
	}

	if opts.CloudUpload {
		token := ""
		if h.accessToken != nil {
			token = h.accessToken(r)
		}
		if token == "" {
			os.Remove(filePath)
			respondJSON(w, 401, map[string]string{
				"error":   "Not authenticated with Google Drive",
				"authUrl": "/auth/google/start",
			})
			return
		}
		opts.AccessToken = token
	}

	task, err := h.orch.Submit(pipeline.Request{
		InputPath: filePath,
		FileName:  originalName,
		Size:      size,
		Options:   opts,
	})
	if err != nil {
		os.Remove(filePath)
		switch {
		case errors.Is(err, pipeline.ErrAlreadyProcessing):
			respondJSON(w, 409, map[string]string{"error": "A file is already being processed"})
		case errors.Is(err, pipeline.ErrLowDisk):
			respondJSON(w, 503, map[string]string{"error": err.Error()})
		default:
			respondJSON(w, 500, map[string]string{"error": "Failed to start task"})
		}
		return
	}

	respondJSON(w, 202, map[string]string{"taskId": task.ID})
}

func (h *processHandler) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	task := h.orch.Get(chi.URLParam(r, "taskId"))
	if task == nil {
		respondJSON(w, 404, map[string]string{"error": "Task not found"})
		return
	}
	respondJSON(w, 200, task.Snapshot())
}

func (h *processHandler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "taskId")
	if h.orch.Cancel(id) {
		respondJSON(w, 200, map[string]interface{}{"success": true, "message": "Task cancelled"})
		return
	}
	respondJSON(w, 200, map[string]interface{}{"success": false, "message": "Task not found or already finished"})
}

func (h *processHandler) handleDownload(w http.ResponseWriter, r *http.Request) {
	task := h.orch.Get(chi.URLParam(r, "taskId"))
	if task == nil {
		respondJSON(w, 404, map[string]string{"error": "Task not found"})
		return
	}

	outputPath, mimeType := task.Output()
	if outputPath == "" {
		respondJSON(w, 404, map[string]string{"error": "No output for this task yet"})
		return
	}
	info, err := os.Stat(outputPath)
	if err != nil {
		respondJSON(w, 404, map[string]string{"error": "Output file expired"})
		return
	}

	base := strings.TrimSuffix(filepath.Base(task.FileName), filepath.Ext(task.FileName))
	filename := util.SanitizeFilename(base) + "_compressed" + filepath.Ext(outputPath)

	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", info.Size()))
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="%s"; filename*=UTF-8''%s`,
			toASCII(filename), url.PathEscape(filename)))

	f, err := os.Open(outputPath)
	if err != nil {
		log.Printf("[%s] Failed to open output: %v", task.ID, err)
		return
	}
	defer f.Close()
	io.Copy(w, f)
}

func saveUploadedFile(r *http.Request, w http.ResponseWriter, fieldName string) (string, string, int64, error) {
	// Reject obviously oversized bodies before buffering anything, with
	// the same message the validator produces for an oversized file.
	if r.ContentLength > config.FileSizeLimit()+1024*1024 {
		return "", "", 0, fmt.Errorf("File too large. Maximum size is %dMB", config.MaxVideoMB)
	}

	r.Body = http.MaxBytesReader(w, r.Body, config.FileSizeLimit()+1024*1024)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return "", "", 0, fmt.Errorf("File too large. Maximum size is %dMB", config.MaxVideoMB)
		}
		return "", "", 0, fmt.Errorf("Failed to parse upload")
	}

	file, header, err := r.FormFile(fieldName)
	if err != nil {
		return "", "", 0, fmt.Errorf("No file uploaded")
	}
	defer file.Close()

	check := validate.Check(header.Filename, header.Size, header.Header.Get("Content-Type"))
	if !check.OK {
		return "", "", 0, fmt.Errorf("%s", strings.Join(check.Errors, "; "))
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	tmpPath := filepath.Join(config.TempDirs["upload"], uuid.New().String()+ext)
	dst, err := os.Create(tmpPath)
	if err != nil {
		return "", "", 0, fmt.Errorf("Failed to save file")
	}
	defer dst.Close()

	if _, err := io.Copy(dst, file); err != nil {
		os.Remove(tmpPath)
		return "", "", 0, fmt.Errorf("Failed to save file")
	}

	return tmpPath, header.Filename, header.Size, nil
}

func toASCII(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= 0x20 && r <= 0x7E {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}
