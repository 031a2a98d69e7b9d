// Package textgen is a client for the external phishing-email text generator.
package textgen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/foxzi/phishdrill/internal/metrics"
)

var (
	// ErrEmptyPrompt is returned for a blank prompt.
	ErrEmptyPrompt = errors.New("prompt is required")
	// ErrUpstream is returned when the generator fails or answers badly.
	ErrUpstream = errors.New("text generation failed")
)

// GenerateRequest is the body sent to the generator
type GenerateRequest struct {
	Prompt string `json:"prompt"`
}

// GenerateResponse is the generator's success body
type GenerateResponse struct {
	GeneratedText string `json:"generated_text"`
}

// ErrorResponse is the generator's error body
type ErrorResponse struct {
	Error string `json:"error"`
}

// Client calls the text generation endpoint
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a client; timeout defaults to 30s
func NewClient(endpoint, apiKey string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Generate returns generated email text for prompt
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyPrompt
	}

	text, err := c.generate(ctx, prompt)
	if err != nil {
		metrics.IncTextGen("error")
		return "", err
	}
	metrics.IncTextGen("ok")
	return text, nil
}

func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	data, err := json.Marshal(GenerateRequest{Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrUpstream, err)
	}

	if resp.StatusCode >= 400 {
		var errResp ErrorResponse
		if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
			return "", fmt.Errorf("%w: HTTP %d", ErrUpstream, resp.StatusCode)
		}
		return "", fmt.Errorf("%w: %s", ErrUpstream, errResp.Error)
	}

	var out GenerateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrUpstream, err)
	}
	if out.GeneratedText == "" {
		return "", fmt.Errorf("%w: empty response", ErrUpstream)
	}
	return out.GeneratedText, nil
}
