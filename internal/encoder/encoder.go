package encoder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/squishvid/squish/internal/config"
)

var (
	// ErrInit means the ffmpeg runtime could not be located or probed.
	ErrInit = errors.New("encoder runtime unavailable")

	// ErrCompressionFailed means both the preferred and the fallback
	// format attempts failed. The task aborts; partial output is never
	// returned.
	ErrCompressionFailed = errors.New("compression failed in both formats")

	// ErrCancelled means the in-flight encode was aborted via context.
	ErrCancelled = errors.New("encode cancelled")
)

type Format string

const (
	FormatMP4  Format = "mp4"
	FormatWebM Format = "webm"
)

func (f Format) Other() Format {
	if f == FormatWebM {
		return FormatMP4
	}
	return FormatWebM
}

func (f Format) MIME() string {
	if f == FormatWebM {
		return "video/webm"
	}
	return "video/mp4"
}

func ParseFormat(s string) (Format, bool) {
	switch strings.ToLower(s) {
	case "", "mp4":
		return FormatMP4, true
	case "webm":
		return FormatWebM, true
	}
	return "", false
}

type Result struct {
	Path     string
	Format   Format
	Duration float64
}

type Engine struct {
	workDir string

	initOnce    sync.Once
	initErr     error
	ffmpegPath  string
	ffprobePath string

	// Overridable in tests; defaults shell out to ffmpeg/ffprobe.
	encodeFn   func(ctx context.Context, inputPath, outputPath string, f Format, quality string, duration float64, onProgress func(float64)) error
	remuxFn    func(ctx context.Context, inputPath, outputPath string) error
	hasVideoFn func(inputPath string) bool
}

func New(workDir string) *Engine {
	e := &Engine{workDir: workDir}
	e.encodeFn = e.runEncode
	e.remuxFn = e.runRemux
	e.hasVideoFn = e.HasVideoStream
	return e
}

// Init locates ffmpeg/ffprobe and probes the binary once. Safe to call
// from every Compress; subsequent calls return the cached result.
func (e *Engine) Init() error {
	e.initOnce.Do(func() {
		ffmpeg, err := exec.LookPath("ffmpeg")
		if err != nil {
			e.initErr = fmt.Errorf("%w: %v", ErrInit, err)
			return
		}
		ffprobe, err := exec.LookPath("ffprobe")
		if err != nil {
			e.initErr = fmt.Errorf("%w: %v", ErrInit, err)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), config.RuntimeLoadTimeout)
		defer cancel()
		if err := exec.CommandContext(ctx, ffmpeg, "-version").Run(); err != nil {
			e.initErr = fmt.Errorf("%w: version probe failed: %v", ErrInit, err)
			return
		}

		e.ffmpegPath = ffmpeg
		e.ffprobePath = ffprobe
		log.Printf("[Encoder] Runtime ready: %s", ffmpeg)
	})
	return e.initErr
}

// Compress transcodes inputPath into the preferred format, falling back
// to the alternate format on encoder failure. Progress lands in [0,100].
// All intermediates except the returned output are removed on every
// exit path.
func (e *Engine) Compress(ctx context.Context, inputPath string, preferred Format, quality string, onProgress func(float64)) (*Result, error) {
	if err := e.Init(); err != nil {
		return nil, err
	}
	if onProgress == nil {
		onProgress = func(float64) {}
	}
	if quality == "" {
		quality = "medium"
	}

	// Extension and MIME passed upload validation, but neither proves
	// the container actually holds video.
	if !e.hasVideoFn(inputPath) {
		return nil, fmt.Errorf("%w: no video stream in input", ErrCompressionFailed)
	}

	taskFile := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	probe := e.Probe(inputPath)

	var scratch []string
	defer func() {
		for _, p := range scratch {
			os.Remove(p)
		}
	}()

	// Best-effort remux into a clean mp4 container first; odd muxings
	// trip the encoder far more often than odd codecs do.
	source := inputPath
	normalized := filepath.Join(e.workDir, taskFile+"-normalized.mp4")
	if err := e.remuxFn(ctx, inputPath, normalized); err != nil {
		log.Printf("[Encoder] Remux skipped: %v", err)
		os.Remove(normalized)
	} else {
		source = normalized
		scratch = append(scratch, normalized)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCancelled, err)
	}

	attempt := func(f Format) (string, error) {
		outputPath := filepath.Join(e.workDir, fmt.Sprintf("%s-compressed.%s", taskFile, f))
		err := e.encodeFn(ctx, source, outputPath, f, quality, probe.Duration, onProgress)
		if err != nil {
			os.Remove(outputPath)
			return "", err
		}
		return outputPath, nil
	}

	output, err := attempt(preferred)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		}
		log.Printf("[Encoder] %s encode failed (%v), trying %s", preferred, err, preferred.Other())
		output, err = attempt(preferred.Other())
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
			}
			return nil, fmt.Errorf("%w: %v", ErrCompressionFailed, err)
		}
		preferred = preferred.Other()
	}

	onProgress(100)
	return &Result{Path: output, Format: preferred, Duration: probe.Duration}, nil
}

func (e *Engine) runRemux(ctx context.Context, inputPath, outputPath string) error {
	cmd := exec.CommandContext(ctx, e.ffmpegPath,
		"-y", "-i", inputPath,
		"-c", "copy", "-movflags", "+faststart",
		"-f", "mp4", outputPath)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("remux failed: %s", lastLines(stderr.String(), 200))
	}
	return nil
}

func (e *Engine) runEncode(ctx context.Context, inputPath, outputPath string, f Format, quality string, duration float64, onProgress func(float64)) error {
	args := EncodeArgs(inputPath, outputPath, f, quality)
	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)

	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	go func() {
		buf := make([]byte, 4096)
		var tail string
		for {
			n, err := stderrPipe.Read(buf)
			if n > 0 {
				chunk := tail + string(buf[:n])
				if pct, ok := ParseProgress(chunk, duration); ok {
					onProgress(pct)
				}
				// Keep a partial line so a time= split across reads
				// still parses.
				if i := strings.LastIndexByte(chunk, '\n'); i >= 0 {
					tail = chunk[i+1:]
				} else {
					tail = chunk
				}
				if len(tail) > 256 {
					tail = tail[len(tail)-256:]
				}
			}
			if err != nil {
				if err != io.EOF {
					return
				}
				return
			}
		}
	}()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("encoding failed (code %d)", cmd.ProcessState.ExitCode())
	}
	return nil
}

// EncodeArgs builds the ffmpeg argument list for one format attempt.
func EncodeArgs(inputPath, outputPath string, f Format, quality string) []string {
	args := []string{"-y", "-i", inputPath, "-threads", "0"}
	switch f {
	case FormatWebM:
		args = append(args,
			"-c:v", "libvpx-vp9",
			"-crf", strconv.Itoa(config.WebMCRF[quality]),
			"-b:v", "0",
			"-row-mt", "1",
			"-c:a", "libopus", "-b:a", "128k")
	default:
		args = append(args,
			"-c:v", "libx264", "-preset", "medium",
			"-crf", strconv.Itoa(config.MP4CRF[quality]),
			"-pix_fmt", "yuv420p", "-profile:v", "high", "-level:v", "4.2",
			"-c:a", "aac", "-b:a", "128k",
			"-movflags", "+faststart")
	}
	return append(args, outputPath)
}

var ffmpegTimeRe = regexp.MustCompile(`time=(\d+):(\d+):(\d+\.?\d*)`)

// ParseProgress extracts the encode position from an ffmpeg stderr
// chunk and converts it to a percentage of the probed duration. The
// result is clamped to [0,100] and guarded against NaN/Inf from a
// missing or zero duration.
func ParseProgress(chunk string, duration float64) (float64, bool) {
	m := ffmpegTimeRe.FindStringSubmatch(chunk)
	if m == nil {
		return 0, false
	}
	h, _ := strconv.Atoi(m[1])
	min, _ := strconv.Atoi(m[2])
	sec, _ := strconv.ParseFloat(m[3], 64)
	current := float64(h)*3600 + float64(min)*60 + sec

	if duration <= 0 {
		return 0, false
	}
	pct := current / duration * 100
	if math.IsNaN(pct) || math.IsInf(pct, 0) {
		return 0, false
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return pct, true
}

func lastLines(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) > max {
		s = s[len(s)-max:]
	}
	return s
}
