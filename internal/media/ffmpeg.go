package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// CommandRunner executes an external binary. Tests inject a fake to capture
// the argument vectors without spawning processes.
type CommandRunner func(ctx context.Context, name string, args ...string) error

func runCommand(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// FFmpeg wraps the ffmpeg binary behind the Extractor and Assembler contracts.
type FFmpeg struct {
	binary string
	runner CommandRunner
}

// NewFFmpeg constructs an FFmpeg wrapper for the given binary path. An empty
// binary falls back to "ffmpeg" on PATH.
func NewFFmpeg(binary string) *FFmpeg {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffmpeg"
	}
	return &FFmpeg{binary: binary, runner: runCommand}
}

// WithCommandRunner sets a custom command runner (for testing).
func (f *FFmpeg) WithCommandRunner(runner CommandRunner) *FFmpeg {
	if runner != nil {
		f.runner = runner
	}
	return f
}

// ExtractAudio writes the source's audio as a mono 16kHz WAV suitable for
// transcription.
func (f *FFmpeg) ExtractAudio(ctx context.Context, videoPath, destPath string) error {
	if strings.TrimSpace(videoPath) == "" {
		return errors.New("extract audio: source path required")
	}
	if strings.TrimSpace(destPath) == "" {
		return errors.New("extract audio: dest path required")
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("extract audio: ensure dest dir: %w", err)
	}
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", videoPath,
		"-vn",
		"-sn",
		"-dn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		destPath,
	}
	if err := f.runner(ctx, f.binary, args...); err != nil {
		return fmt.Errorf("extract audio: %w", err)
	}
	return nil
}

// AssembleAudioTrack lays the synthesized clips onto one timeline. Each clip
// is delayed to its segment start, the clips are mixed without renormalizing,
// and the result is loudness-normalized into a stereo AAC track.
func (f *FFmpeg) AssembleAudioTrack(ctx context.Context, segments []AudioSegment, destPath string) error {
	if len(segments) == 0 {
		return errors.New("assemble audio: no segments")
	}
	if strings.TrimSpace(destPath) == "" {
		return errors.New("assemble audio: dest path required")
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("assemble audio: ensure dest dir: %w", err)
	}

	args := []string{"-y", "-hide_banner", "-loglevel", "error"}
	for _, seg := range segments {
		if strings.TrimSpace(seg.Path) == "" {
			return fmt.Errorf("assemble audio: segment at %.2fs has no audio file", seg.Start)
		}
		args = append(args, "-i", seg.Path)
	}

	var filter strings.Builder
	for i, seg := range segments {
		delayMS := int(seg.Start * 1000)
		if delayMS < 0 {
			delayMS = 0
		}
		fmt.Fprintf(&filter, "[%d:a]adelay=%d:all=1[s%d];", i, delayMS, i)
	}
	for i := range segments {
		fmt.Fprintf(&filter, "[s%d]", i)
	}
	fmt.Fprintf(&filter, "amix=inputs=%d:normalize=0,loudnorm=I=-16:TP=-1.5:LRA=11[out]", len(segments))

	args = append(args,
		"-filter_complex", filter.String(),
		"-map", "[out]",
		"-ac", "2",
		"-c:a", "aac",
		"-b:a", "192k",
		destPath,
	)
	if err := f.runner(ctx, f.binary, args...); err != nil {
		return fmt.Errorf("assemble audio: %w", err)
	}
	return nil
}

// CombineVideoAudio muxes the dubbed track into the original container. The
// video stream is copied untouched.
func (f *FFmpeg) CombineVideoAudio(ctx context.Context, videoPath, audioPath, destPath string) error {
	if strings.TrimSpace(videoPath) == "" || strings.TrimSpace(audioPath) == "" {
		return errors.New("mux video: source paths required")
	}
	if strings.TrimSpace(destPath) == "" {
		return errors.New("mux video: dest path required")
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("mux video: ensure dest dir: %w", err)
	}
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", videoPath,
		"-i", audioPath,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", "copy",
		"-c:a", "copy",
		"-metadata", "comment=dubbed by dubber",
		"-shortest",
		destPath,
	}
	if err := f.runner(ctx, f.binary, args...); err != nil {
		return fmt.Errorf("mux video: %w", err)
	}
	return nil
}
