// Package coqui drives a local Coqui TTS python bridge over a JSON-line
// stdin/stdout protocol. The bridge process is started lazily, loads the
// model once, and stays resident across synthesis calls.
package coqui

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"dubber/internal/config"
	"dubber/internal/services"
	"dubber/internal/tts"
)

const (
	readyTimeout   = 60 * time.Second
	defaultLang    = "bn"
	maxPayloadSize = 64 * 1024 * 1024
)

// Client manages one bridge subprocess.
type Client struct {
	cfg config.Coqui

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	reader *bufio.Scanner
	loaded bool
}

// NewClient constructs a Coqui bridge client. The subprocess starts on the
// first synthesis call.
func NewClient(cfg config.Coqui) *Client {
	return &Client{cfg: cfg}
}

// Name identifies this backend to the router.
func (c *Client) Name() string { return tts.ServiceCoqui }

type bridgeRequest struct {
	ID     string         `json:"id"`
	Method string         `json:"method"`
	Params map[string]any `json:"params,omitempty"`
}

type bridgeResponse struct {
	ID      string          `json:"id"`
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Error   string          `json:"error"`
}

// start must be called with the lock held.
func (c *Client) start(ctx context.Context) error {
	if c.cmd != nil {
		return nil
	}
	python := strings.TrimSpace(c.cfg.PythonBinary)
	if python == "" {
		python = "python3"
	}
	script := strings.TrimSpace(c.cfg.BridgeScript)
	if script == "" {
		return services.Wrap(services.ErrConfiguration, "coqui-tts", "start",
			"Coqui bridge script not configured", nil)
	}

	cmd := exec.Command(python, script) //nolint:gosec
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("coqui bridge: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("coqui bridge: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return services.Wrap(services.ErrConfiguration, "coqui-tts", "start",
			"Coqui bridge failed to start", err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxPayloadSize)
	c.cmd = cmd
	c.stdin = stdin
	c.reader = scanner

	// The bridge announces readiness before accepting requests.
	readyCtx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()
	ready, err := c.readResponse(readyCtx)
	if err != nil {
		c.teardown()
		return services.Wrap(services.ErrTransient, "coqui-tts", "start",
			"Coqui bridge did not become ready", err)
	}
	if !ready.Success {
		c.teardown()
		return services.Wrap(services.ErrConfiguration, "coqui-tts", "start",
			fmt.Sprintf("Coqui bridge startup failed: %s", ready.Error), nil)
	}
	return nil
}

// ensureModel must be called with the lock held, after start.
func (c *Client) ensureModel(ctx context.Context) error {
	if c.loaded {
		return nil
	}
	resp, err := c.call(ctx, "load_model", map[string]any{
		"model_path": c.cfg.ModelPath,
		"use_gpu":    c.cfg.UseGPU,
	})
	if err != nil {
		return err
	}
	if !resp.Success {
		return services.Wrap(services.ErrConfiguration, "coqui-tts", "load model",
			fmt.Sprintf("Coqui model load failed: %s", resp.Error), nil)
	}
	c.loaded = true
	return nil
}

// call must be invoked with the lock held. Requests are strictly sequential;
// the bridge answers in order with the request's id echoed back.
func (c *Client) call(ctx context.Context, method string, params map[string]any) (bridgeResponse, error) {
	req := bridgeRequest{ID: uuid.NewString(), Method: method, Params: params}
	encoded, err := json.Marshal(req)
	if err != nil {
		return bridgeResponse{}, fmt.Errorf("coqui bridge: encode request: %w", err)
	}
	if _, err := c.stdin.Write(append(encoded, '\n')); err != nil {
		c.teardown()
		return bridgeResponse{}, services.Wrap(services.ErrTransient, "coqui-tts", method,
			"Coqui bridge connection lost", err)
	}

	for {
		resp, err := c.readResponse(ctx)
		if err != nil {
			c.teardown()
			return bridgeResponse{}, services.Wrap(services.ErrTransient, "coqui-tts", method,
				"Coqui bridge stopped responding", err)
		}
		if resp.ID == req.ID {
			return resp, nil
		}
		// Unsolicited lines (progress chatter, ready re-announcements) are
		// skipped until our id shows up.
	}
}

func (c *Client) readResponse(ctx context.Context) (bridgeResponse, error) {
	type scanResult struct {
		resp bridgeResponse
		err  error
	}
	done := make(chan scanResult, 1)
	// Capture the scanner: an expired context abandons this goroutine while
	// teardown nils c.reader, and the goroutine only wakes again once the
	// bridge stdout closes. It must not touch client state at that point.
	scanner := c.reader
	go func() {
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			var resp bridgeResponse
			if err := json.Unmarshal([]byte(line), &resp); err != nil {
				continue
			}
			done <- scanResult{resp: resp}
			return
		}
		err := scanner.Err()
		if err == nil {
			err = errors.New("bridge closed its stdout")
		}
		done <- scanResult{err: err}
	}()
	select {
	case <-ctx.Done():
		return bridgeResponse{}, ctx.Err()
	case result := <-done:
		return result.resp, result.err
	}
}

type synthesisResult struct {
	AudioData   string `json:"audio_data"`
	AudioLength int    `json:"audio_length"`
	TextLength  int    `json:"text_length"`
	Language    string `json:"language"`
}

// Synthesize renders text through the bridge and returns the WAV bytes.
func (c *Client) Synthesize(ctx context.Context, text string, voice tts.VoiceConfig) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, services.Wrap(services.ErrValidation, "coqui-tts", "synthesize",
			"Nothing to synthesize", nil)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.start(ctx); err != nil {
		return nil, err
	}
	if err := c.ensureModel(ctx); err != nil {
		return nil, err
	}

	language := voice.LanguageCode
	if language == "" {
		language = defaultLang
	}
	params := map[string]any{
		"text":     text,
		"language": language,
	}
	if voice.SpeakerWAV != "" {
		params["speaker_wav"] = voice.SpeakerWAV
	}
	if voice.SpeakingRate > 0 {
		params["speed"] = voice.SpeakingRate
	}

	resp, err := c.call(ctx, "synthesize_speech", params)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, services.Wrap(services.ErrPermanent, "coqui-tts", "synthesize",
			fmt.Sprintf("Coqui synthesis failed: %s", resp.Error), nil)
	}
	var result synthesisResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("coqui bridge: decode result: %w", err)
	}
	audio, err := base64.StdEncoding.DecodeString(result.AudioData)
	if err != nil {
		return nil, fmt.Errorf("coqui bridge: decode audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, services.Wrap(services.ErrPermanent, "coqui-tts", "synthesize",
			"Coqui returned empty audio", nil)
	}
	return audio, nil
}

// HealthCheck reports whether the bridge can start and answer.
func (c *Client) HealthCheck(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.start(ctx); err != nil {
		return err
	}
	if !c.loaded {
		// Model loading is deferred to the first synthesis; a running bridge
		// is healthy enough.
		return nil
	}
	resp, err := c.call(ctx, "get_model_info", nil)
	if err != nil {
		return err
	}
	if !resp.Success {
		return services.Wrap(services.ErrTransient, "coqui-tts", "health",
			fmt.Sprintf("Coqui bridge unhealthy: %s", resp.Error), nil)
	}
	return nil
}

// Close shuts the bridge subprocess down.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cmd == nil {
		return nil
	}
	c.teardown()
	return nil
}

// teardown must be called with the lock held.
func (c *Client) teardown() {
	if c.stdin != nil {
		c.stdin.Close()
	}
	if c.cmd != nil && c.cmd.Process != nil {
		c.cmd.Process.Kill() //nolint:errcheck
		c.cmd.Wait()         //nolint:errcheck
	}
	c.cmd = nil
	c.stdin = nil
	c.reader = nil
	c.loaded = false
}
