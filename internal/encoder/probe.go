package encoder

import (
	"encoding/json"
	"os/exec"
	"strconv"
	"strings"
)

type VideoProbe struct {
	Duration float64
	Width    int
	Height   int
	Codec    string
}

// Probe reads duration and stream info. Failures fall back to a sane
// default so a broken ffprobe degrades progress accuracy, not the run.
func (e *Engine) Probe(inputPath string) VideoProbe {
	if e.ffprobePath == "" {
		return VideoProbe{Duration: 60, Width: 1920, Height: 1080, Codec: "unknown"}
	}
	cmd := exec.Command(e.ffprobePath,
		"-v", "error", "-select_streams", "v:0",
		"-show_entries", "stream=width,height,codec_name:format=duration",
		"-of", "json", inputPath)
	out, err := cmd.Output()
	if err != nil {
		return VideoProbe{Duration: 60, Width: 1920, Height: 1080, Codec: "unknown"}
	}

	var parsed struct {
		Streams []struct {
			Width     int    `json:"width"`
			Height    int    `json:"height"`
			CodecName string `json:"codec_name"`
		} `json:"streams"`
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if json.Unmarshal(out, &parsed) != nil {
		return VideoProbe{Duration: 60, Width: 1920, Height: 1080, Codec: "unknown"}
	}

	dur, _ := strconv.ParseFloat(parsed.Format.Duration, 64)
	if dur <= 0 {
		dur = 60
	}
	p := VideoProbe{Duration: dur, Width: 1920, Height: 1080, Codec: "unknown"}
	if len(parsed.Streams) > 0 {
		s := parsed.Streams[0]
		if s.Width > 0 {
			p.Width = s.Width
		}
		if s.Height > 0 {
			p.Height = s.Height
		}
		if s.CodecName != "" {
			p.Codec = strings.ToLower(s.CodecName)
		}
	}
	return p
}

// HasVideoStream reports whether ffprobe sees at least one video
// stream. When ffprobe is missing or errors the check degrades open:
// the encode attempt itself is the authoritative failure.
func (e *Engine) HasVideoStream(filePath string) bool {
	if e.ffprobePath == "" {
		return true
	}
	cmd := exec.Command(e.ffprobePath,
		"-v", "error",
		"-select_streams", "v",
		"-show_entries", "stream=codec_type",
		"-of", "csv=p=0",
		filePath)
	out, err := cmd.Output()
	if err != nil {
		return true
	}
	return strings.Contains(string(out), "video")
}
