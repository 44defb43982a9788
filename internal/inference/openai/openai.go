// Package openai talks to OpenAI-compatible chat completion endpoints and to
// the native Ollama chat endpoint.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "tradeq/internal/errors"
)

const systemMessage = "You translate questions about trade data into MongoDB aggregation plans. Reply with a single JSON object and nothing else."

// Client is a chat client implementing the domain.Inferrer interface.
// It makes exactly one request per call.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	ollama  bool
	client  *http.Client
}

// Config configures the chat client.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	// Ollama selects the native /api/chat protocol. The API key is optional then.
	Ollama  bool
	Timeout time.Duration
}

// NewClient creates a new chat client using the provided configuration.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" && !cfg.Ollama {
		return nil, fmt.Errorf("missing API key for %s", cfg.BaseURL)
	}
	if cfg.BaseURL == "" {
		if cfg.Ollama {
			cfg.BaseURL = "http://localhost:11434"
		} else {
			cfg.BaseURL = "https://api.openai.com/v1"
		}
	}
	if cfg.Model == "" {
		if cfg.Ollama {
			cfg.Model = "llama3"
		} else {
			cfg.Model = "gpt-4o-mini"
		}
	}
	t := cfg.Timeout
	if t == 0 {
		t = 60 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		ollama:  cfg.Ollama,
		client:  &http.Client{Timeout: t},
	}, nil
}

// Name returns the identifier of this inference implementation.
func (c *Client) Name() string {
	if c.ollama {
		return "ollama:" + c.model
	}
	return "openai:" + c.model
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []message      `json:"messages"`
	Temperature    *float64       `json:"temperature,omitempty"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
	// Ollama-native fields.
	Format  string         `json:"format,omitempty"`
	Stream  *bool          `json:"stream,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

// Infer sends prompt as the user message and returns the reply text unchanged.
func (c *Client) Infer(ctx context.Context, prompt string) (string, error) {
	messages := []message{
		{Role: "system", Content: systemMessage},
		{Role: "user", Content: prompt},
	}
	body := chatRequest{Model: c.model, Messages: messages}
	url := c.baseURL + "/chat/completions"
	if c.ollama {
		stream := false
		body.Format = "json"
		body.Stream = &stream
		body.Options = map[string]any{"temperature": 0}
		url = c.baseURL + "/api/chat"
	} else {
		zero := 0.0
		body.Temperature = &zero
		body.ResponseFormat = map[string]any{"type": "json_object"}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", apperrors.Wrap(apperrors.InferenceUnavailable, "encode request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return "", apperrors.Wrap(apperrors.InferenceUnavailable, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", apperrors.Wrap(apperrors.InferenceUnavailable, "request failed", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apperrors.Wrap(apperrors.InferenceUnavailable, "read response", err)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", apperrors.Newf(apperrors.InferenceUnavailable, "credentials rejected: %s", resp.Status)
	case resp.StatusCode >= 300:
		return "", apperrors.Newf(apperrors.InferenceUnavailable, "chat failed: %s: %s", resp.Status, snippet(payload))
	}

	text, err := c.decode(payload)
	if err != nil {
		return "", apperrors.Wrap(apperrors.InferenceUnavailable, "decode response", err)
	}
	if strings.TrimSpace(text) == "" {
		return "", apperrors.New(apperrors.InferenceUnavailable, "empty reply")
	}
	return text, nil
}

func (c *Client) decode(payload []byte) (string, error) {
	if c.ollama {
		var out struct {
			Message message `json:"message"`
		}
		if err := json.Unmarshal(payload, &out); err != nil {
			return "", err
		}
		return out.Message.Content, nil
	}
	var out struct {
		Choices []struct {
			Message message `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", nil
	}
	return out.Choices[0].Message.Content, nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
