// Package googletts wraps the Google Cloud Text-to-Speech REST API behind
// the router's backend contract.
package googletts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"dubber/internal/config"
	"dubber/internal/services"
	"dubber/internal/tts"
)

const defaultHTTPTimeout = 30 * time.Second

// Client is a Google Cloud TTS backend.
type Client struct {
	apiKey     string
	baseURL    string
	voiceName  string
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient constructs a Google TTS client from configuration.
func NewClient(cfg config.Google, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.RequestTimeoutSecond > 0 {
		timeout = time.Duration(cfg.RequestTimeoutSecond) * time.Second
	}
	client := &Client{
		apiKey:     strings.TrimSpace(cfg.APIKey),
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		voiceName:  strings.TrimSpace(cfg.VoiceName),
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.baseURL == "" {
		client.baseURL = "https://texttospeech.googleapis.com/v1"
	}
	return client
}

// Name identifies this backend to the router.
func (c *Client) Name() string { return tts.ServiceGoogle }

type synthesizeRequest struct {
	Input struct {
		Text string `json:"text"`
	} `json:"input"`
	Voice struct {
		LanguageCode string `json:"languageCode"`
		Name         string `json:"name,omitempty"`
	} `json:"voice"`
	AudioConfig struct {
		AudioEncoding string  `json:"audioEncoding"`
		SpeakingRate  float64 `json:"speakingRate,omitempty"`
	} `json:"audioConfig"`
}

type synthesizeResponse struct {
	AudioContent string `json:"audioContent"`
	Error        *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Synthesize renders text to LINEAR16 audio bytes.
func (c *Client) Synthesize(ctx context.Context, text string, voice tts.VoiceConfig) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, services.Wrap(services.ErrValidation, "google-tts", "synthesize",
			"Nothing to synthesize", nil)
	}
	if c.apiKey == "" {
		return nil, services.Wrap(services.ErrConfiguration, "google-tts", "synthesize",
			"Google TTS API key not configured", nil)
	}

	var payload synthesizeRequest
	payload.Input.Text = text
	payload.Voice.LanguageCode = voice.LanguageCode
	if payload.Voice.LanguageCode == "" {
		payload.Voice.LanguageCode = languageCodeFromVoice(c.voiceName)
	}
	payload.Voice.Name = voice.VoiceName
	if payload.Voice.Name == "" {
		payload.Voice.Name = c.voiceName
	}
	payload.AudioConfig.AudioEncoding = "LINEAR16"
	payload.AudioConfig.SpeakingRate = voice.SpeakingRate

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("google tts: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/text:synthesize?key="+c.apiKey, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("google tts: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "google-tts", "synthesize",
			"Google TTS unreachable", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "google-tts", "synthesize",
			"Google TTS response truncated", err)
	}
	if err := classifyStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}

	var decoded synthesizeResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("google tts: decode response: %w", err)
	}
	if decoded.Error != nil {
		return nil, services.Wrap(services.ErrPermanent, "google-tts", "synthesize",
			fmt.Sprintf("Google TTS API error %s: %s", decoded.Error.Status, decoded.Error.Message), nil)
	}
	audio, err := base64.StdEncoding.DecodeString(decoded.AudioContent)
	if err != nil {
		return nil, fmt.Errorf("google tts: decode audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, services.Wrap(services.ErrPermanent, "google-tts", "synthesize",
			"Google TTS returned empty audio", nil)
	}
	return audio, nil
}

// HealthCheck verifies the API key is present and the voices endpoint
// answers.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.apiKey == "" {
		return services.Wrap(services.ErrConfiguration, "google-tts", "health",
			"Google TTS API key not configured", nil)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/voices?key="+c.apiKey, nil)
	if err != nil {
		return fmt.Errorf("google tts health: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, "google-tts", "health",
			"Google TTS unreachable", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck
	if resp.StatusCode >= http.StatusMultipleChoices {
		return classifyStatus(resp.StatusCode, nil)
	}
	return nil
}

func classifyStatus(status int, body []byte) error {
	if status < http.StatusMultipleChoices {
		return nil
	}
	detail := strings.TrimSpace(string(body))
	if len(detail) > 200 {
		detail = detail[:200]
	}
	message := fmt.Sprintf("Google TTS returned HTTP %d: %s", status, detail)
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusPaymentRequired:
		return services.Wrap(services.ErrQuotaExceeded, "google-tts", "request", message, nil)
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return services.Wrap(services.ErrTimeout, "google-tts", "request", message, nil)
	case status >= http.StatusInternalServerError:
		return services.Wrap(services.ErrTransient, "google-tts", "request", message, nil)
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return services.Wrap(services.ErrUnauthorized, "google-tts", "request", message, nil)
	default:
		return services.Wrap(services.ErrPermanent, "google-tts", "request", message, nil)
	}
}

// languageCodeFromVoice derives "bn-IN" from a voice name like
// "bn-IN-Wavenet-A".
func languageCodeFromVoice(voiceName string) string {
	parts := strings.SplitN(voiceName, "-", 3)
	if len(parts) >= 2 {
		return parts[0] + "-" + parts[1]
	}
	return "bn-IN"
}
