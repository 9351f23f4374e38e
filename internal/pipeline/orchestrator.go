package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/squishvid/squish/internal/alerts"
	"github.com/squishvid/squish/internal/config"
	"github.com/squishvid/squish/internal/encoder"
	"github.com/squishvid/squish/internal/util"
)

var (
	// ErrAlreadyProcessing is returned when a submit races an in-flight
	// task. The first task is left untouched.
	ErrAlreadyProcessing = errors.New("a task is already being processed")

	ErrLowDisk = errors.New("low disk space, try again later")
)

// Unified progress scale: compression fills 0-70, the cloud upload
// 70-90 and link shortening the final stretch to 100.
const (
	compressEnd = 70.0
	uploadEnd   = 90.0
)

type Encoder interface {
	Compress(ctx context.Context, inputPath string, preferred encoder.Format, quality string, onProgress func(float64)) (*encoder.Result, error)
}

type UploadResult struct {
	ID          string
	WebViewLink string
}

type UploadOpts struct {
	FolderID   string
	Token      string
	Resumable  bool
	OnProgress func(fraction float64)
}

type Uploader interface {
	Upload(ctx context.Context, path string, opts UploadOpts) (*UploadResult, error)
	ShareAnyone(ctx context.Context, fileID, token string) error
}

type Shortener interface {
	Shorten(ctx context.Context, longURL string) string
}

type Stager interface {
	Enabled() bool
	Save(src, name string) (string, error)
}

// Options are fixed per run, supplied by the caller.
type Options struct {
	Quality         string
	PreferredFormat encoder.Format
	CloudUpload     bool
	LinkShortening  bool
	FolderID        string
	AccessToken     string
}

type Request struct {
	InputPath string
	FileName  string
	Size      int64
	Options   Options
}

// Orchestrator owns the single processing slot and sequences
// compress -> stage -> upload -> shorten for one task at a time.
type Orchestrator struct {
	encoder   Encoder
	uploader  Uploader
	shortener Shortener
	stager    Stager

	slot chan struct{}

	mu      sync.RWMutex
	tasks   map[string]*Task
	current string
	cancel  context.CancelFunc

	diskFreeGB func() float64
}

func New(enc Encoder, up Uploader, short Shortener, stage Stager) *Orchestrator {
	return &Orchestrator{
		encoder:    enc,
		uploader:   up,
		shortener:  short,
		stager:     stage,
		slot:       make(chan struct{}, 1),
		tasks:      make(map[string]*Task),
		diskFreeGB: diskFreeGB,
	}
}

// Submit validates capacity, claims the slot and starts the run in the
// background. A second submit while one task is in flight fails with
// ErrAlreadyProcessing and does not touch the running task.
func (o *Orchestrator) Submit(req Request) (*Task, error) {
	if free := o.diskFreeGB(); free < float64(config.DiskSpaceMinGB) {
		alerts.LowDisk(free)
		return nil, fmt.Errorf("%w (%.1fGB free, need %dGB)", ErrLowDisk, free, config.DiskSpaceMinGB)
	}

	select {
	case o.slot <- struct{}{}:
	default:
		return nil, ErrAlreadyProcessing
	}

	task := newTask(uuid.New().String(), req.FileName, req.Size)
	task.inputPath = req.InputPath
	ctx, cancel := context.WithCancel(context.Background())

	o.mu.Lock()
	o.tasks[task.ID] = task
	o.current = task.ID
	o.cancel = cancel
	o.mu.Unlock()

	go o.run(ctx, task, req)
	return task, nil
}

func (o *Orchestrator) Get(id string) *Task {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.tasks[id]
}

// Cancel aborts the in-flight task: the encode subprocess dies with its
// context, an in-flight upload request is torn down, and the slot frees
// immediately so a new task can start. Bytes already uploaded are not
// cleaned up.
func (o *Orchestrator) Cancel(id string) bool {
	o.mu.Lock()
	task := o.tasks[id]
	isCurrent := o.current == id
	cancel := o.cancel
	o.mu.Unlock()

	if task == nil || !isCurrent {
		return false
	}

	task.markCancelled()
	if cancel != nil {
		cancel()
	}
	task.SetError("Task cancelled")
	o.finish(task)

	go func() {
		// Let the encode subprocess and the upload request die first.
		time.Sleep(time.Second)
		removeTaskFiles(task)
	}()
	log.Printf("[%s] Cancelled", shortID(id))
	return true
}

// finish releases the slot exactly once per task; safe to call from
// both run's defer and Cancel.
func (o *Orchestrator) finish(task *Task) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current != task.ID {
		return
	}
	o.current = ""
	o.cancel = nil
	select {
	case <-o.slot:
	default:
	}
}

func (o *Orchestrator) run(ctx context.Context, task *Task, req Request) {
	defer o.finish(task)

	start := time.Now()
	task.SetProcessing()
	opts := req.Options
	log.Printf("[%s] Processing %s (%.1fMB, %s/%s)", shortID(task.ID),
		req.FileName, float64(req.Size)/(1024*1024), opts.PreferredFormat, opts.Quality)

	res, err := o.encoder.Compress(ctx, req.InputPath, opts.PreferredFormat, opts.Quality, func(p float64) {
		task.SetProgress(clamp01(p/100) * compressEnd)
	})
	if err != nil {
		if task.IsCancelled() || ctx.Err() != nil {
			task.SetError("Task cancelled")
			return
		}
		removeTaskFiles(task)
		task.SetError(util.ToUserError(err.Error()))
		alerts.PipelineFailure(shortID(task.ID), req.FileName, err)
		return
	}
	os.Remove(req.InputPath)

	size := fileSizeBytes(res.Path)
	task.SetOutput(res.Path, res.Format.MIME(), size, "/api/task/"+task.ID+"/download")
	task.SetProgress(compressEnd)
	log.Printf("[%s] Compressed to %.1fMB (%s)", shortID(task.ID), float64(size)/(1024*1024), res.Format)

	outName := outputName(req.FileName, string(res.Format))
	if o.stager != nil && o.stager.Enabled() {
		if staged, err := o.stager.Save(res.Path, outName); err != nil {
			log.Printf("[%s] Staging failed: %v", shortID(task.ID), err)
		} else {
			log.Printf("[%s] Staged copy: %s", shortID(task.ID), staged)
		}
	}

	shareURL := ""
	if opts.CloudUpload && o.uploader != nil {
		up, err := o.uploader.Upload(ctx, res.Path, UploadOpts{
			FolderID:  opts.FolderID,
			Token:     opts.AccessToken,
			Resumable: size > config.SimpleUploadLimit,
			OnProgress: func(fr float64) {
				task.SetProgress(compressEnd + clamp01(fr)*(uploadEnd-compressEnd))
			},
		})
		if err != nil {
			if task.IsCancelled() || ctx.Err() != nil {
				task.SetError("Task cancelled")
				return
			}
			// Upload failure degrades: the local download still works.
			log.Printf("[%s] Upload failed (continuing without cloud link): %v", shortID(task.ID), err)
		} else {
			if err := o.uploader.ShareAnyone(ctx, up.ID, opts.AccessToken); err != nil {
				log.Printf("[%s] Could not set public permission: %v", shortID(task.ID), err)
			}
			shareURL = up.WebViewLink
		}
	}
	task.SetProgress(uploadEnd)

	if opts.LinkShortening && shareURL != "" && o.shortener != nil {
		shareURL = o.shortener.Shorten(ctx, shareURL)
	}

	if task.IsCancelled() || ctx.Err() != nil {
		task.SetError("Task cancelled")
		return
	}

	task.SetCompleted(shareURL, time.Since(start))
	log.Printf("[%s] Complete in %.1fs", shortID(task.ID), time.Since(start).Seconds())
}

func outputName(original, ext string) string {
	base := strings.TrimSuffix(filepath.Base(original), filepath.Ext(original))
	return util.SanitizeFilename(base) + "_compressed." + ext
}

// removeTaskFiles drops the task's input and any produced output after
// a failure or cancel. The task tracks its own paths; temp files carry
// the upload's name, not the task ID.
func removeTaskFiles(task *Task) {
	for _, p := range task.files() {
		if err := os.Remove(p); err == nil {
			log.Printf("[%s] Removed %s", shortID(task.ID), filepath.Base(p))
		}
	}
}

func clamp01(v float64) float64 {
	if v < 0 || v != v {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func fileSizeBytes(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

func diskFreeGB() float64 {
	ds, err := util.GetDiskSpace(config.TempDir)
	if err != nil {
		return 999
	}
	return ds.AvailGB
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// StartTaskExpiry drops terminal tasks after the retention window so
// the map doesn't grow unbounded.
func (o *Orchestrator) StartTaskExpiry() {
	go func() {
		ticker := time.NewTicker(60 * time.Second)
		for range ticker.C {
			o.mu.Lock()
			now := time.Now()
			for id, task := range o.tasks {
				st := task.Status()
				if (st == StatusCompleted || st == StatusError) && now.Sub(task.CreatedAt) > config.FileRetention {
					delete(o.tasks, id)
				}
			}
			o.mu.Unlock()
		}
	}()
}
