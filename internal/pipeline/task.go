package pipeline

import (
	"sync"
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Task tracks one processing run through the pipeline. Mutated by the
// orchestrator at each stage; terminal at completed/error.
type Task struct {
	mu sync.RWMutex

	ID           string
	FileName     string
	CreatedAt    time.Time
	OriginalSize int64

	status         Status
	progress       float64
	compressedSize int64
	processingSec  float64
	downloadURL    string
	shareURL       string
	errMsg         string

	inputPath  string
	outputPath string
	outputMIME string
	cancelled  bool
}

// Snapshot is the wire form of a task.
type Snapshot struct {
	ID             string  `json:"id"`
	Status         Status  `json:"status"`
	Progress       float64 `json:"progress"`
	OriginalSize   int64   `json:"originalSize"`
	CompressedSize int64   `json:"compressedSize,omitempty"`
	ProcessingTime float64 `json:"processingTime,omitempty"`
	DownloadURL    string  `json:"downloadUrl,omitempty"`
	ShareURL       string  `json:"shareUrl,omitempty"`
	Error          string  `json:"error,omitempty"`
}

func newTask(id, fileName string, originalSize int64) *Task {
	return &Task{
		ID:           id,
		FileName:     fileName,
		CreatedAt:    time.Now(),
		OriginalSize: originalSize,
		status:       StatusPending,
	}
}

func (t *Task) SetProcessing() {
	t.mu.Lock()
	t.status = StatusProcessing
	t.mu.Unlock()
}

// SetProgress raises the task's progress. Values below the current mark
// are dropped and everything is clamped to [0,100], so readers always
// observe a monotonically non-decreasing series.
func (t *Task) SetProgress(p float64) {
	t.mu.Lock()
	if p > 100 {
		p = 100
	}
	if p > t.progress {
		t.progress = p
	}
	t.mu.Unlock()
}

func (t *Task) SetOutput(path, mime string, size int64, downloadURL string) {
	t.mu.Lock()
	t.outputPath = path
	t.outputMIME = mime
	t.compressedSize = size
	t.downloadURL = downloadURL
	t.mu.Unlock()
}

func (t *Task) SetError(msg string) {
	t.mu.Lock()
	if t.status != StatusCompleted {
		t.status = StatusError
		t.errMsg = msg
	}
	t.mu.Unlock()
}

func (t *Task) SetCompleted(shareURL string, elapsed time.Duration) {
	t.mu.Lock()
	t.status = StatusCompleted
	t.progress = 100
	t.shareURL = shareURL
	t.processingSec = elapsed.Seconds()
	t.mu.Unlock()
}

func (t *Task) markCancelled() {
	t.mu.Lock()
	t.cancelled = true
	t.mu.Unlock()
}

func (t *Task) IsCancelled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cancelled
}

func (t *Task) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

func (t *Task) Progress() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.progress
}

func (t *Task) Output() (path, mime string) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.outputPath, t.outputMIME
}

// files lists the on-disk paths tied to the task, for cleanup after a
// failure or cancel.
func (t *Task) files() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var paths []string
	if t.inputPath != "" {
		paths = append(paths, t.inputPath)
	}
	if t.outputPath != "" {
		paths = append(paths, t.outputPath)
	}
	return paths
}

func (t *Task) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Snapshot{
		ID:             t.ID,
		Status:         t.status,
		Progress:       t.progress,
		OriginalSize:   t.OriginalSize,
		CompressedSize: t.compressedSize,
		ProcessingTime: t.processingSec,
		DownloadURL:    t.downloadURL,
		ShareURL:       t.shareURL,
		Error:          t.errMsg,
	}
}
