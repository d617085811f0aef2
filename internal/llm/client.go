// Package llm talks to an OpenAI-compatible chat completions endpoint.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"
)

// Client is an OpenAI-compatible chat completions client.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	client     *http.Client
	maxRetries int
}

// Config configures the chat client. APIKey wins over APIKeyEnv.
type Config struct {
	BaseURL    string
	APIKey     string
	APIKeyEnv  string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// NewClient creates a new chat client using the provided configuration.
func NewClient(cfg Config) (*Client, error) {
	key := cfg.APIKey
	if key == "" && cfg.APIKeyEnv != "" {
		key = os.Getenv(cfg.APIKeyEnv)
	}
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	t := cfg.Timeout
	if t == 0 {
		t = 30 * time.Second
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	} else if retries == 0 {
		retries = 5
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     key,
		model:      cfg.Model,
		client:     &http.Client{Timeout: t},
		maxRetries: retries,
	}, nil
}

func (c *Client) Model() string { return c.model }

// Complete sends messages and returns the first choice's content. With
// jsonMode set the server is asked for a JSON object response.
func (c *Client) Complete(ctx context.Context, messages []Message, jsonMode bool) (string, error) {
	body := chatRequest{Model: c.model, Messages: messages}
	if jsonMode {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	url := fmt.Sprintf("%s/chat/completions", c.baseURL)

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := wait(ctx, lastDelay(lastErr, attempt-1)); err != nil {
				return "", err
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			lastErr = err
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			// Respect Retry-After if provided
			lastErr = &retryableError{status: resp.Status, after: retryAfter(resp.Header.Get("Retry-After"))}
			_ = resp.Body.Close()
			continue
		}

		if resp.StatusCode >= 300 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			_ = resp.Body.Close()
			return "", fmt.Errorf("chat completion failed: %s: %s", resp.Status, bytes.TrimSpace(msg))
		}

		payload, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		var out chatResponse
		if err := json.Unmarshal(payload, &out); err != nil {
			return "", fmt.Errorf("decode chat completion: %w", err)
		}
		if len(out.Choices) == 0 {
			return "", errors.New("no completion returned")
		}
		return out.Choices[0].Message.Content, nil
	}
	return "", fmt.Errorf("chat completion failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

type retryableError struct {
	status string
	after  time.Duration
}

func (e *retryableError) Error() string { return "retryable status " + e.status }

func retryAfter(h string) time.Duration {
	if h == "" {
		return 0
	}
	secs, err := strconv.Atoi(h)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func lastDelay(err error, attempt int) time.Duration {
	var re *retryableError
	if errors.As(err, &re) && re.after > 0 {
		return re.after
	}
	return retryDelay(attempt)
}

func retryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := 200 * time.Millisecond
	// exponential backoff capped at 5s
	d := base << attempt
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
