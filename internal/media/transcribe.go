package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"dubber/internal/services"
)

const defaultMediaTimeout = 120 * time.Second

// HTTPTranscriber talks to a Whisper-style speech-to-text HTTP service.
type HTTPTranscriber struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// TranscriberOption customizes the transcriber.
type TranscriberOption func(*HTTPTranscriber)

// WithTranscriberHTTPClient overrides the default HTTP client.
func WithTranscriberHTTPClient(client *http.Client) TranscriberOption {
	return func(t *HTTPTranscriber) {
		if client != nil {
			t.httpClient = client
		}
	}
}

// NewHTTPTranscriber constructs a transcription client.
func NewHTTPTranscriber(baseURL, apiKey, model string, timeout time.Duration, opts ...TranscriberOption) *HTTPTranscriber {
	if timeout <= 0 {
		timeout = defaultMediaTimeout
	}
	t := &HTTPTranscriber{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     strings.TrimSpace(apiKey),
		model:      strings.TrimSpace(model),
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

type transcribeResponse struct {
	Language   string  `json:"language"`
	Confidence float64 `json:"confidence"`
	Segments   []struct {
		Text       string  `json:"text"`
		Start      float64 `json:"start"`
		End        float64 `json:"end"`
		Confidence float64 `json:"confidence"`
	} `json:"segments"`
}

// Transcribe uploads the audio file and decodes the timed segment list.
func (t *HTTPTranscriber) Transcribe(ctx context.Context, audioPath, sourceLanguage string) (Transcript, error) {
	if t.baseURL == "" {
		return Transcript{}, services.Wrap(services.ErrConfiguration, "transcribe", "request",
			"Transcription service URL not configured", nil)
	}
	audio, err := os.Open(audioPath)
	if err != nil {
		return Transcript{}, services.Wrap(services.ErrValidation, "transcribe", "open audio",
			"Extracted audio file missing", err)
	}
	defer audio.Close()

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return Transcript{}, fmt.Errorf("transcribe: build form: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return Transcript{}, fmt.Errorf("transcribe: read audio: %w", err)
	}
	if t.model != "" {
		_ = form.WriteField("model", t.model)
	}
	if sourceLanguage != "" {
		_ = form.WriteField("language", sourceLanguage)
	}
	_ = form.WriteField("response_format", "verbose_json")
	if err := form.Close(); err != nil {
		return Transcript{}, fmt.Errorf("transcribe: finish form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/v1/audio/transcriptions", &body)
	if err != nil {
		return Transcript{}, fmt.Errorf("transcribe: new request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return Transcript{}, services.Wrap(services.ErrTransient, "transcribe", "request",
			"Transcription service unreachable", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return Transcript{}, services.Wrap(services.ErrTransient, "transcribe", "read response",
			"Transcription response truncated", err)
	}
	if err := statusToError("transcribe", resp.StatusCode, payload); err != nil {
		return Transcript{}, err
	}

	var decoded transcribeResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return Transcript{}, fmt.Errorf("transcribe: decode response: %w", err)
	}
	transcript := Transcript{Language: decoded.Language, Confidence: decoded.Confidence}
	for i, seg := range decoded.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		transcript.Segments = append(transcript.Segments, Segment{
			Index:      i,
			Text:       text,
			Start:      seg.Start,
			End:        seg.End,
			Confidence: seg.Confidence,
		})
	}
	sort.SliceStable(transcript.Segments, func(i, j int) bool {
		return transcript.Segments[i].Start < transcript.Segments[j].Start
	})
	if len(transcript.Segments) == 0 {
		return Transcript{}, services.Wrap(services.ErrPermanent, "transcribe", "decode response",
			"Transcription returned no speech segments", nil)
	}
	return transcript, nil
}

// statusToError maps an HTTP status to a classified service error. 2xx maps
// to nil.
func statusToError(stage string, status int, body []byte) error {
	if status < http.StatusMultipleChoices {
		return nil
	}
	detail := strings.TrimSpace(string(body))
	if len(detail) > 200 {
		detail = detail[:200]
	}
	message := fmt.Sprintf("Service returned HTTP %d: %s", status, detail)
	switch {
	case status == http.StatusTooManyRequests:
		return services.Wrap(services.ErrQuotaExceeded, stage, "request", message, nil)
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return services.Wrap(services.ErrTimeout, stage, "request", message, nil)
	case status >= http.StatusInternalServerError:
		return services.Wrap(services.ErrTransient, stage, "request", message, nil)
	default:
		return services.Wrap(services.ErrPermanent, stage, "request", message, nil)
	}
}
