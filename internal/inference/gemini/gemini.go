// Package gemini implements domain.Inferrer on top of the Google GenAI SDK.
package gemini

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	apperrors "tradeq/internal/errors"
)

const systemMessage = "You translate questions about trade data into MongoDB aggregation plans. Reply with a single JSON object and nothing else."

// Client generates plans with a Gemini model.
type Client struct {
	client *genai.Client
	model  string
}

type Config struct {
	APIKey string
	Model  string
	// BaseURL overrides the API endpoint. Empty uses the SDK default.
	BaseURL string
}

func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &Client{client: client, model: cfg.Model}, nil
}

func (c *Client) Name() string { return "gemini:" + c.model }

// Infer asks for a JSON reply at temperature zero. One attempt.
func (c *Client) Infer(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemMessage, genai.RoleUser),
		Temperature:       genai.Ptr[float32](0),
		ResponseMIMEType:  "application/json",
	})
	if err != nil {
		return "", apperrors.Wrap(apperrors.InferenceUnavailable, "gemini generate failed", err)
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", apperrors.New(apperrors.InferenceUnavailable, "empty reply")
	}
	return text, nil
}
