package media

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"dubber/internal/services"
)

func writeTempAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audio.wav")
	if err := os.WriteFile(path, []byte("RIFF fake wav"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestTranscribeDecodesSegments(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/v1/audio/transcriptions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"language": "en",
			"confidence": 0.93,
			"segments": [
				{"text": " Hello there. ", "start": 0, "end": 2.1, "confidence": 0.95},
				{"text": "General Kenobi.", "start": 2.4, "end": 4.0, "confidence": 0.9},
				{"text": "   ", "start": 4.0, "end": 4.2}
			]
		}`))
	}))
	defer server.Close()

	client := NewHTTPTranscriber(server.URL, "secret", "whisper-1", time.Second)
	transcript, err := client.Transcribe(context.Background(), writeTempAudio(t), "en")
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if len(transcript.Segments) != 2 {
		t.Fatalf("blank segments must be dropped, got %d", len(transcript.Segments))
	}
	if transcript.Segments[0].Text != "Hello there." || transcript.Segments[0].End != 2.1 {
		t.Fatalf("unexpected first segment: %#v", transcript.Segments[0])
	}
	if transcript.Language != "en" || transcript.Confidence != 0.93 {
		t.Fatalf("unexpected transcript metadata: %#v", transcript)
	}
}

func TestTranscribeClassifiesStatusCodes(t *testing.T) {
	cases := []struct {
		status int
		marker error
	}{
		{http.StatusTooManyRequests, services.ErrQuotaExceeded},
		{http.StatusServiceUnavailable, services.ErrTransient},
		{http.StatusGatewayTimeout, services.ErrTimeout},
		{http.StatusBadRequest, services.ErrPermanent},
	}
	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			w.Write([]byte(`{"error":"nope"}`))
		}))
		client := NewHTTPTranscriber(server.URL, "", "", time.Second)
		_, err := client.Transcribe(context.Background(), writeTempAudio(t), "en")
		server.Close()
		if err == nil {
			t.Errorf("status %d: expected error", tc.status)
			continue
		}
		if !errors.Is(err, tc.marker) {
			t.Errorf("status %d: expected marker %v, got %v", tc.status, tc.marker, err)
		}
	}
}

func TestTranscribeEmptySegmentsIsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"segments": []}`))
	}))
	defer server.Close()

	client := NewHTTPTranscriber(server.URL, "", "", time.Second)
	_, err := client.Transcribe(context.Background(), writeTempAudio(t), "en")
	if !errors.Is(err, services.ErrPermanent) {
		t.Fatalf("expected permanent error for silent audio, got %v", err)
	}
}

func TestTranscribeMissingAudioFile(t *testing.T) {
	client := NewHTTPTranscriber("http://localhost:1", "", "", time.Second)
	_, err := client.Transcribe(context.Background(), "/nope/missing.wav", "en")
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
