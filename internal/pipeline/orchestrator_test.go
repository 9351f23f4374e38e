package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/squishvid/squish/internal/config"
	"github.com/squishvid/squish/internal/encoder"
)

type fakeEncoder struct {
	mu          sync.Mutex
	started     chan struct{} // closed when Compress begins
	startedOnce sync.Once     // Compress may run again after the slot frees
	release     chan struct{} // Compress blocks until closed (when non-nil)
	fail        error
	progress    []float64 // values to emit before returning
	outDir      string
	outSize     int // output byte size; defaults to a token payload
}

func (f *fakeEncoder) Compress(ctx context.Context, inputPath string, preferred encoder.Format, quality string, onProgress func(float64)) (*encoder.Result, error) {
	if f.started != nil {
		f.startedOnce.Do(func() { close(f.started) })
	}
	for _, p := range f.progress {
		onProgress(p)
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fail != nil {
		return nil, f.fail
	}
	out := filepath.Join(f.outDir, filepath.Base(inputPath)+".out.mp4")
	data := []byte("compressed")
	if f.outSize > 0 {
		data = make([]byte, f.outSize)
	}
	if err := os.WriteFile(out, data, 0644); err != nil {
		return nil, err
	}
	return &encoder.Result{Path: out, Format: preferred, Duration: 10}, nil
}

type fakeUploader struct {
	mu       sync.Mutex
	fail     error
	blockCtx bool // block until ctx cancelled
	started  chan struct{}
	shared   []string
	progress []float64
	lastOpts UploadOpts
}

func (f *fakeUploader) Upload(ctx context.Context, path string, opts UploadOpts) (*UploadResult, error) {
	f.mu.Lock()
	f.lastOpts = opts
	f.mu.Unlock()
	if f.started != nil {
		close(f.started)
	}
	if f.blockCtx {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.fail != nil {
		return nil, f.fail
	}
	for _, p := range f.progress {
		if opts.OnProgress != nil {
			opts.OnProgress(p)
		}
	}
	return &UploadResult{ID: "file-1", WebViewLink: "https://drive/view/file-1"}, nil
}

func (f *fakeUploader) ShareAnyone(ctx context.Context, fileID, token string) error {
	f.mu.Lock()
	f.shared = append(f.shared, fileID)
	f.mu.Unlock()
	return nil
}

type fakeShortener struct{ short string }

func (f *fakeShortener) Shorten(ctx context.Context, longURL string) string {
	if f.short == "" {
		return longURL
	}
	return f.short
}

type fakeStager struct {
	dir   string
	saved []string
}

func (f *fakeStager) Enabled() bool { return f.dir != "" }
func (f *fakeStager) Save(src, name string) (string, error) {
	f.saved = append(f.saved, name)
	return filepath.Join(f.dir, name), nil
}

func newTestOrchestrator(enc Encoder, up Uploader, sh Shortener, st Stager) *Orchestrator {
	o := New(enc, up, sh, st)
	o.diskFreeGB = func() float64 { return 100 }
	return o
}

func testRequest(t *testing.T, opts Options) Request {
	t.Helper()
	in := filepath.Join(t.TempDir(), "input.mp4")
	require.NoError(t, os.WriteFile(in, []byte("video"), 0644))
	return Request{InputPath: in, FileName: "video.mp4", Size: 5, Options: opts}
}

func waitStatus(t *testing.T, task *Task, want Status) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		if task.Status() == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("task never reached %s (now %s: %q)", want, task.Status(), task.Snapshot().Error)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestHappyPathWithUploadAndShortening(t *testing.T) {
	enc := &fakeEncoder{outDir: t.TempDir(), progress: []float64{10, 50, 100}}
	up := &fakeUploader{progress: []float64{0.5, 1}}
	sh := &fakeShortener{short: "https://sq.sh/x"}

	o := newTestOrchestrator(enc, up, sh, nil)
	task, err := o.Submit(testRequest(t, Options{
		Quality:         "medium",
		PreferredFormat: encoder.FormatMP4,
		CloudUpload:     true,
		LinkShortening:  true,
		AccessToken:     "tok",
	}))
	require.NoError(t, err)
	waitStatus(t, task, StatusCompleted)

	snap := task.Snapshot()
	assert.Equal(t, 100.0, snap.Progress)
	assert.Equal(t, "https://sq.sh/x", snap.ShareURL)
	assert.Equal(t, "/api/task/"+task.ID+"/download", snap.DownloadURL)
	assert.Greater(t, snap.CompressedSize, int64(0))
	assert.Equal(t, []string{"file-1"}, up.shared)
}

func TestSecondSubmitRejectedWhileProcessing(t *testing.T) {
	enc := &fakeEncoder{
		outDir:  t.TempDir(),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	o := newTestOrchestrator(enc, nil, nil, nil)

	first, err := o.Submit(testRequest(t, Options{PreferredFormat: encoder.FormatMP4}))
	require.NoError(t, err)
	<-enc.started

	_, err = o.Submit(testRequest(t, Options{PreferredFormat: encoder.FormatMP4}))
	require.ErrorIs(t, err, ErrAlreadyProcessing)

	// The in-flight task is untouched by the rejected submit.
	assert.Equal(t, StatusProcessing, first.Status())

	close(enc.release)
	waitStatus(t, first, StatusCompleted)

	// Slot frees after completion.
	_, err = o.Submit(testRequest(t, Options{PreferredFormat: encoder.FormatMP4}))
	assert.NoError(t, err)
}

func TestProgressMonotonicAndMapped(t *testing.T) {
	// Encoder emits noisy out-of-order values including an overshoot;
	// the task must still report a non-decreasing series in [0,100].
	enc := &fakeEncoder{outDir: t.TempDir(), progress: []float64{5, 30, 20, 99, 150}}
	up := &fakeUploader{progress: []float64{0.2, 0.1, 1}}

	o := newTestOrchestrator(enc, up, &fakeShortener{}, nil)
	task, err := o.Submit(testRequest(t, Options{
		PreferredFormat: encoder.FormatMP4,
		CloudUpload:     true,
		AccessToken:     "tok",
	}))
	require.NoError(t, err)

	var series []float64
	done := make(chan struct{})
	go func() {
		defer close(done)
		for task.Status() == StatusPending || task.Status() == StatusProcessing {
			series = append(series, task.Progress())
			time.Sleep(time.Millisecond)
		}
		series = append(series, task.Progress())
	}()
	waitStatus(t, task, StatusCompleted)
	<-done

	require.NotEmpty(t, series)
	for i := 1; i < len(series); i++ {
		assert.GreaterOrEqual(t, series[i], series[i-1], "progress decreased at sample %d", i)
	}
	for _, p := range series {
		assert.GreaterOrEqual(t, p, 0.0)
		assert.LessOrEqual(t, p, 100.0)
	}
	assert.Equal(t, 100.0, series[len(series)-1])
}

func TestCompressionProgressCapsAtSeventy(t *testing.T) {
	enc := &fakeEncoder{
		outDir:   t.TempDir(),
		progress: []float64{100},
		started:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	o := newTestOrchestrator(enc, nil, nil, nil)
	task, err := o.Submit(testRequest(t, Options{PreferredFormat: encoder.FormatMP4}))
	require.NoError(t, err)

	<-enc.started
	// Compression sub-progress of 100% maps to the top of its band.
	require.Eventually(t, func() bool { return task.Progress() == 70.0 },
		2*time.Second, 5*time.Millisecond)

	close(enc.release)
	waitStatus(t, task, StatusCompleted)
}

func TestCompressionFailureAbortsTask(t *testing.T) {
	enc := &fakeEncoder{outDir: t.TempDir(), fail: errors.New("compression failed in both formats")}
	o := newTestOrchestrator(enc, nil, nil, nil)

	task, err := o.Submit(testRequest(t, Options{PreferredFormat: encoder.FormatMP4}))
	require.NoError(t, err)
	waitStatus(t, task, StatusError)

	snap := task.Snapshot()
	assert.NotEmpty(t, snap.Error)
	assert.Empty(t, snap.ShareURL)

	// Slot released on failure.
	_, err = o.Submit(testRequest(t, Options{PreferredFormat: encoder.FormatMP4}))
	assert.NoError(t, err)
}

func TestCompressionFailureRemovesInput(t *testing.T) {
	enc := &fakeEncoder{outDir: t.TempDir(), fail: errors.New("encoding failed")}
	o := newTestOrchestrator(enc, nil, nil, nil)

	in := filepath.Join(t.TempDir(), "leftover.mp4")
	require.NoError(t, os.WriteFile(in, []byte("video"), 0644))

	task, err := o.Submit(Request{InputPath: in, FileName: "leftover.mp4", Size: 5,
		Options: Options{PreferredFormat: encoder.FormatMP4}})
	require.NoError(t, err)
	waitStatus(t, task, StatusError)

	assert.NoFileExists(t, in, "failed task must not leave its upload behind")
}

func TestUploadFailureDegrades(t *testing.T) {
	enc := &fakeEncoder{outDir: t.TempDir()}
	up := &fakeUploader{fail: errors.New("HTTP 500")}

	o := newTestOrchestrator(enc, up, &fakeShortener{short: "https://sq.sh/x"}, nil)
	task, err := o.Submit(testRequest(t, Options{
		PreferredFormat: encoder.FormatMP4,
		CloudUpload:     true,
		LinkShortening:  true,
		AccessToken:     "tok",
	}))
	require.NoError(t, err)
	waitStatus(t, task, StatusCompleted)

	snap := task.Snapshot()
	assert.Empty(t, snap.ShareURL, "no cloud link after a failed upload")
	assert.NotEmpty(t, snap.DownloadURL, "local download still available")
	assert.Equal(t, 100.0, snap.Progress)
}

func TestUploadResumableChosenBySize(t *testing.T) {
	run := func(outSize int) UploadOpts {
		enc := &fakeEncoder{outDir: t.TempDir(), outSize: outSize}
		up := &fakeUploader{}
		o := newTestOrchestrator(enc, up, nil, nil)
		task, err := o.Submit(testRequest(t, Options{
			PreferredFormat: encoder.FormatMP4,
			CloudUpload:     true,
			AccessToken:     "tok",
		}))
		require.NoError(t, err)
		waitStatus(t, task, StatusCompleted)
		up.mu.Lock()
		defer up.mu.Unlock()
		return up.lastOpts
	}

	assert.False(t, run(1024).Resumable, "small outputs go simple")
	assert.True(t, run(config.SimpleUploadLimit+1).Resumable, "large outputs go resumable")
}

func TestCancelMidUploadFreesSlotImmediately(t *testing.T) {
	enc := &fakeEncoder{outDir: t.TempDir()}
	up := &fakeUploader{blockCtx: true, started: make(chan struct{})}

	o := newTestOrchestrator(enc, up, nil, nil)
	task, err := o.Submit(testRequest(t, Options{
		PreferredFormat: encoder.FormatMP4,
		CloudUpload:     true,
		AccessToken:     "tok",
	}))
	require.NoError(t, err)
	<-up.started

	require.True(t, o.Cancel(task.ID))
	assert.Equal(t, StatusError, task.Status())
	assert.Contains(t, task.Snapshot().Error, "cancelled")

	// A new task starts immediately, without waiting for the aborted
	// upload goroutine to unwind.
	enc2 := &fakeEncoder{outDir: t.TempDir()}
	o.encoder = enc2
	next, err := o.Submit(testRequest(t, Options{PreferredFormat: encoder.FormatMP4}))
	require.NoError(t, err)
	waitStatus(t, next, StatusCompleted)
}

func TestCancelRemovesTaskFiles(t *testing.T) {
	enc := &fakeEncoder{outDir: t.TempDir()}
	up := &fakeUploader{blockCtx: true, started: make(chan struct{})}

	o := newTestOrchestrator(enc, up, nil, nil)
	in := filepath.Join(t.TempDir(), "input.mp4")
	require.NoError(t, os.WriteFile(in, []byte("video"), 0644))

	task, err := o.Submit(Request{InputPath: in, FileName: "input.mp4", Size: 5,
		Options: Options{PreferredFormat: encoder.FormatMP4, CloudUpload: true, AccessToken: "tok"}})
	require.NoError(t, err)
	<-up.started

	out, _ := task.Output()
	require.FileExists(t, out)
	require.True(t, o.Cancel(task.ID))

	// Cleanup is deferred briefly so the upload request can unwind.
	assert.Eventually(t, func() bool {
		_, inErr := os.Stat(in)
		_, outErr := os.Stat(out)
		return os.IsNotExist(inErr) && os.IsNotExist(outErr)
	}, 3*time.Second, 50*time.Millisecond)
}

func TestCancelUnknownTask(t *testing.T) {
	o := newTestOrchestrator(&fakeEncoder{outDir: t.TempDir()}, nil, nil, nil)
	assert.False(t, o.Cancel("nope"))
}

func TestCancelCompletedTaskIsNoop(t *testing.T) {
	enc := &fakeEncoder{outDir: t.TempDir()}
	o := newTestOrchestrator(enc, nil, nil, nil)
	task, err := o.Submit(testRequest(t, Options{PreferredFormat: encoder.FormatMP4}))
	require.NoError(t, err)
	waitStatus(t, task, StatusCompleted)

	assert.False(t, o.Cancel(task.ID))
	assert.Equal(t, StatusCompleted, task.Status())
}

func TestLowDiskRejectsSubmit(t *testing.T) {
	o := newTestOrchestrator(&fakeEncoder{outDir: t.TempDir()}, nil, nil, nil)
	o.diskFreeGB = func() float64 { return 0.5 }

	_, err := o.Submit(testRequest(t, Options{PreferredFormat: encoder.FormatMP4}))
	assert.ErrorIs(t, err, ErrLowDisk)
}

func TestStagingRunsBeforeUpload(t *testing.T) {
	enc := &fakeEncoder{outDir: t.TempDir()}
	st := &fakeStager{dir: t.TempDir()}

	o := newTestOrchestrator(enc, nil, nil, st)
	task, err := o.Submit(testRequest(t, Options{PreferredFormat: encoder.FormatWebM}))
	require.NoError(t, err)
	waitStatus(t, task, StatusCompleted)

	require.Len(t, st.saved, 1)
	assert.Equal(t, "video_compressed.webm", st.saved[0])
}

func TestShorteningSkippedWithoutUpload(t *testing.T) {
	enc := &fakeEncoder{outDir: t.TempDir()}
	sh := &fakeShortener{short: "https://sq.sh/x"}

	o := newTestOrchestrator(enc, nil, sh, nil)
	task, err := o.Submit(testRequest(t, Options{
		PreferredFormat: encoder.FormatMP4,
		LinkShortening:  true,
	}))
	require.NoError(t, err)
	waitStatus(t, task, StatusCompleted)

	assert.Empty(t, task.Snapshot().ShareURL)
}
