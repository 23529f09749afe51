// Package tts is a client for the hosted speech-synthesis service.
// Failures are not retried here: the delivery fallback tiers substitute
// for retry.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/carenest/reminderd/pkg/retry"
)

// Config holds the speech-synthesis service settings
type Config struct {
	URL     string        `yaml:"url"`
	VoiceID string        `yaml:"voice_id"`
	APIKey  string        `yaml:"-"`
	Timeout time.Duration `yaml:"timeout"`
}

// Client sends text to the remote speech-synthesis service and returns
// the rendered audio payload.
type Client struct {
	config *Config
	http   *http.Client
	logger *slog.Logger
}

type synthesizeRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voice_id,omitempty"`
}

// NewClient creates a speech-synthesis client
func NewClient(config *Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		config: config,
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Configured reports whether a service endpoint is set.
func (c *Client) Configured() bool {
	return c != nil && c.config != nil && c.config.URL != ""
}

// Synthesize renders the given text to audio. Non-2xx responses return a
// *retry.HTTPError so callers can distinguish service rejections from
// transport failures; both are treated as tier failures by the caller.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("speech synthesis service is not configured")
	}
	if text == "" {
		return nil, fmt.Errorf("text is required")
	}

	body, err := json.Marshal(synthesizeRequest{Text: text, VoiceID: c.config.VoiceID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal synthesis request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build synthesis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("xi-api-key", c.config.APIKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("synthesis request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain a little of the body for the log, then discard
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warn("Speech synthesis service rejected request",
			"status", resp.StatusCode,
			"body", string(msg))
		return nil, retry.NewHTTPError(resp.StatusCode, resp.Status, c.config.URL)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read synthesis response: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("synthesis response was empty")
	}

	c.logger.Debug("Speech synthesis succeeded",
		"bytes", len(audio),
		"elapsed", time.Since(start))

	return audio, nil
}
