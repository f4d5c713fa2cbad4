package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// ProbeResult is the decoded ffprobe output for one file.
type ProbeResult struct {
	Streams []ProbeStream `json:"streams"`
	Format  ProbeFormat   `json:"format"`
}

// ProbeStream describes a single stream in the container.
type ProbeStream struct {
	Index      int    `json:"index"`
	CodecName  string `json:"codec_name"`
	CodecType  string `json:"codec_type"`
	Duration   string `json:"duration"`
	BitRate    string `json:"bit_rate"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	SampleRate string `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

// ProbeFormat carries container-level metadata.
type ProbeFormat struct {
	Filename   string `json:"filename"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
	FormatName string `json:"format_name"`
}

// VideoStreamCount returns the number of video streams.
func (r ProbeResult) VideoStreamCount() int {
	return r.countStreams("video")
}

// AudioStreamCount returns the number of audio streams.
func (r ProbeResult) AudioStreamCount() int {
	return r.countStreams("audio")
}

func (r ProbeResult) countStreams(codecType string) int {
	count := 0
	for _, stream := range r.Streams {
		if strings.EqualFold(stream.CodecType, codecType) {
			count++
		}
	}
	return count
}

// DurationSeconds returns the container duration, or 0 when unavailable.
func (r ProbeResult) DurationSeconds() float64 {
	value, err := strconv.ParseFloat(strings.TrimSpace(r.Format.Duration), 64)
	if err != nil || value < 0 {
		return 0
	}
	return value
}

// BitRate returns the container bitrate in bits per second, or 0 when
// unavailable.
func (r ProbeResult) BitRate() int64 {
	value, err := strconv.ParseFloat(strings.TrimSpace(r.Format.BitRate), 64)
	if err != nil || value < 0 {
		return 0
	}
	return int64(value)
}

// Prober inspects a media file. *FFprobe is the real implementation.
type Prober interface {
	Inspect(ctx context.Context, path string) (ProbeResult, error)
}

// FFprobe shells out to the ffprobe binary.
type FFprobe struct {
	binary string
}

// NewFFprobe constructs an FFprobe wrapper. An empty binary falls back to
// "ffprobe" on PATH.
func NewFFprobe(binary string) *FFprobe {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffprobe"
	}
	return &FFprobe{binary: binary}
}

// Inspect runs ffprobe against the path and decodes the JSON response.
func (p *FFprobe) Inspect(ctx context.Context, path string) (ProbeResult, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return ProbeResult{}, errors.New("probe: empty path")
	}
	cmd := exec.CommandContext(ctx, p.binary,
		"-v", "error",
		"-hide_banner",
		"-show_format",
		"-show_streams",
		"-of", "json",
		"--", path,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return ProbeResult{}, fmt.Errorf("probe: %w: %s", err, strings.TrimSpace(string(output)))
	}
	var result ProbeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return ProbeResult{}, fmt.Errorf("probe parse: %w", err)
	}
	return result, nil
}
