package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// TTSConfig configures the speech synthesis provider.
type TTSConfig struct {
	// Endpoint is the full URL of the speech endpoint, for example
	// https://api.openai.com/v1/audio/speech.
	Endpoint string
	APIKey   string
	Model    string
	Voice    string
	// HTTPClient may be nil; a 60 second timeout client is used then.
	HTTPClient *http.Client
}

// TTSClient synthesizes text via an OpenAI-compatible speech endpoint and
// writes the result to a temporary WAV file. The caller owns the file and
// removes it after playback.
type TTSClient struct {
	endpoint string
	apiKey   string
	model    string
	voice    string
	http     *http.Client
}

func NewTTSClient(cfg TTSConfig) *TTSClient {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini-tts"
	}
	if cfg.Voice == "" {
		cfg.Voice = "alloy"
	}
	return &TTSClient{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		voice:    cfg.Voice,
		http:     cfg.HTTPClient,
	}
}

type ttsRequest struct {
	Model          string `json:"model"`
	Voice          string `json:"voice"`
	Input          string `json:"input"`
	ResponseFormat string `json:"response_format"`
}

// Synthesize renders text to speech and returns the path of the WAV file.
func (c *TTSClient) Synthesize(ctx context.Context, text string) (string, error) {
	body, err := json.Marshal(ttsRequest{
		Model:          c.model,
		Voice:          c.voice,
		Input:          text,
		ResponseFormat: "wav",
	})
	if err != nil {
		return "", fmt.Errorf("tts: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("tts: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("tts: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("tts: endpoint returned %s: %s", resp.Status, snippet)
	}

	f, err := os.CreateTemp("", "smsgw-tts-*.wav")
	if err != nil {
		return "", fmt.Errorf("tts: create audio file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("tts: write audio file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("tts: close audio file: %w", err)
	}
	return f.Name(), nil
}
