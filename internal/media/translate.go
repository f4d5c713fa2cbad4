package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"dubber/internal/services"
)

// HTTPTranslator talks to a segment-aware translation HTTP service. The
// service receives the full timed transcript and must return the same number
// of segments with text rewritten and timestamps untouched.
type HTTPTranslator struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// TranslatorOption customizes the translator.
type TranslatorOption func(*HTTPTranslator)

// WithTranslatorHTTPClient overrides the default HTTP client.
func WithTranslatorHTTPClient(client *http.Client) TranslatorOption {
	return func(t *HTTPTranslator) {
		if client != nil {
			t.httpClient = client
		}
	}
}

// NewHTTPTranslator constructs a translation client.
func NewHTTPTranslator(baseURL, apiKey, model string, timeout time.Duration, opts ...TranslatorOption) *HTTPTranslator {
	if timeout <= 0 {
		timeout = defaultMediaTimeout
	}
	t := &HTTPTranslator{
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

type translateRequest struct {
	Model          string    `json:"model,omitempty"`
	SourceLanguage string    `json:"source_language,omitempty"`
	TargetLanguage string    `json:"target_language"`
	Segments       []Segment `json:"segments"`
}

type translateResponse struct {
	Segments []Segment `json:"segments"`
}

// Translate sends the transcript for translation and validates that the
// response keeps segment count and timestamps intact.
func (t *HTTPTranslator) Translate(ctx context.Context, transcript Transcript, targetLanguage string) (Transcript, error) {
	if t.baseURL == "" {
		return Transcript{}, services.Wrap(services.ErrConfiguration, "translate", "request",
			"Translation service URL not configured", nil)
	}
	if len(transcript.Segments) == 0 {
		return Transcript{}, services.Wrap(services.ErrValidation, "translate", "request",
			"Nothing to translate", nil)
	}

	encoded, err := json.Marshal(translateRequest{
		Model:          t.model,
		SourceLanguage: transcript.Language,
		TargetLanguage: targetLanguage,
		Segments:       transcript.Segments,
	})
	if err != nil {
		return Transcript{}, fmt.Errorf("translate: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/v1/translate", bytes.NewReader(encoded))
	if err != nil {
		return Transcript{}, fmt.Errorf("translate: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return Transcript{}, services.Wrap(services.ErrTransient, "translate", "request",
			"Translation service unreachable", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return Transcript{}, services.Wrap(services.ErrTransient, "translate", "read response",
			"Translation response truncated", err)
	}
	if err := statusToError("translate", resp.StatusCode, payload); err != nil {
		return Transcript{}, err
	}

	var decoded translateResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return Transcript{}, fmt.Errorf("translate: decode response: %w", err)
	}
	if len(decoded.Segments) != len(transcript.Segments) {
		return Transcript{}, services.Wrap(services.ErrPermanent, "translate", "decode response",
			fmt.Sprintf("Translation changed segment count from %d to %d",
				len(transcript.Segments), len(decoded.Segments)), nil)
	}

	out := Transcript{Language: targetLanguage, Confidence: transcript.Confidence}
	out.Segments = make([]Segment, len(decoded.Segments))
	for i, seg := range decoded.Segments {
		original := transcript.Segments[i]
		out.Segments[i] = Segment{
			Index:      original.Index,
			Text:       strings.TrimSpace(seg.Text),
			Start:      original.Start,
			End:        original.End,
			Confidence: original.Confidence,
		}
	}
	return out, nil
}
