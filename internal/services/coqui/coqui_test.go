package coqui

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"dubber/internal/config"
	"dubber/internal/services"
	"dubber/internal/tts"
)

// writeBridgeStub writes a shell script that speaks the bridge protocol. The
// real bridge is python; for tests any process that answers JSON lines works.
func writeBridgeStub(t *testing.T, body string) config.Coqui {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("bridge stub needs a POSIX shell")
	}
	script := filepath.Join(t.TempDir(), "bridge.sh")
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}
	return config.Coqui{
		PythonBinary: "/bin/sh",
		BridgeScript: script,
		ModelPath:    "tts_models/bn/custom/vits",
	}
}

const workingBridge = `#!/bin/sh
echo '{"id":"ready","success":true}'
while read -r line; do
  id=$(printf '%s' "$line" | sed -n 's/.*"id":"\([^"]*\)".*/\1/p')
  case "$line" in
    *load_model*)
      printf '{"id":"%s","success":true,"result":{"message":"loaded"}}\n' "$id" ;;
    *synthesize_speech*)
      printf '{"id":"%s","success":true,"result":{"audio_data":"UklGRg==","audio_length":4,"text_length":5,"language":"bn"}}\n' "$id" ;;
    *get_model_info*)
      printf '{"id":"%s","success":true,"result":{}}\n' "$id" ;;
    *)
      printf '{"id":"%s","success":false,"error":"unknown method"}\n' "$id" ;;
  esac
done
`

func TestSynthesizeThroughBridge(t *testing.T) {
	client := NewClient(writeBridgeStub(t, workingBridge))
	defer client.Close()

	audio, err := client.Synthesize(context.Background(), "হ্যালো", tts.VoiceConfig{})
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	if string(audio) != "RIFF" {
		t.Fatalf("unexpected audio bytes %q", audio)
	}

	// The bridge stays resident; a second call reuses the loaded model.
	if _, err := client.Synthesize(context.Background(), "আবার", tts.VoiceConfig{}); err != nil {
		t.Fatalf("second Synthesize failed: %v", err)
	}
}

func TestSynthesizeBridgeError(t *testing.T) {
	const failingBridge = `#!/bin/sh
echo '{"id":"ready","success":true}'
while read -r line; do
  id=$(printf '%s' "$line" | sed -n 's/.*"id":"\([^"]*\)".*/\1/p')
  case "$line" in
    *load_model*)
      printf '{"id":"%s","success":true,"result":{}}\n' "$id" ;;
    *)
      printf '{"id":"%s","success":false,"error":"synthesis blew up"}\n' "$id" ;;
  esac
done
`
	client := NewClient(writeBridgeStub(t, failingBridge))
	defer client.Close()

	_, err := client.Synthesize(context.Background(), "হ্যালো", tts.VoiceConfig{})
	if !errors.Is(err, services.ErrPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestSynthesizeBridgeNotReady(t *testing.T) {
	const brokenBridge = `#!/bin/sh
echo '{"id":"init_error","success":false,"error":"Failed to import TTS dependencies"}'
exit 1
`
	client := NewClient(writeBridgeStub(t, brokenBridge))
	defer client.Close()

	_, err := client.Synthesize(context.Background(), "হ্যালো", tts.VoiceConfig{})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestSynthesizeRequiresScript(t *testing.T) {
	client := NewClient(config.Coqui{PythonBinary: "/bin/sh"})
	_, err := client.Synthesize(context.Background(), "হ্যালো", tts.VoiceConfig{})
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestSynthesizeEmptyText(t *testing.T) {
	client := NewClient(config.Coqui{})
	_, err := client.Synthesize(context.Background(), "   ", tts.VoiceConfig{})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSynthesizeTimeoutTearsDownAndRecovers(t *testing.T) {
	const stallingBridge = `#!/bin/sh
echo '{"id":"ready","success":true}'
while read -r line; do
  id=$(printf '%s' "$line" | sed -n 's/.*"id":"\([^"]*\)".*/\1/p')
  case "$line" in
    *load_model*)
      printf '{"id":"%s","success":true,"result":{}}\n' "$id" ;;
    *synthesize_speech*)
      sleep 60 ;;
    *)
      printf '{"id":"%s","success":false,"error":"unknown method"}\n' "$id" ;;
  esac
done
`
	client := NewClient(writeBridgeStub(t, stallingBridge))
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_, err := client.Synthesize(ctx, "হ্যালো", tts.VoiceConfig{})
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error on bridge stall, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected the deadline as cause, got %v", err)
	}

	// The stalled bridge was killed; the reader it abandoned wakes on the
	// closed stdout and must exit without touching the reset client. A fresh
	// start through the health check proves the client survived.
	time.Sleep(100 * time.Millisecond)
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck after stall failed: %v", err)
	}
}

func TestHealthCheckStartsBridge(t *testing.T) {
	client := NewClient(writeBridgeStub(t, workingBridge))
	defer client.Close()

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck failed: %v", err)
	}
}
