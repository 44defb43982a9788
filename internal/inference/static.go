// Package inference holds the inference implementations that need no network.
// Remote providers live in the openai and gemini subpackages.
package inference

import (
	"context"
	"sync"

	apperrors "tradeq/internal/errors"
)

// Static replies with a fixed text and records the prompts it receives.
// It serves offline runs and tests.
type Static struct {
	Reply string
	Err   error

	mu      sync.Mutex
	prompts []string
}

func NewStatic(reply string) *Static { return &Static{Reply: reply} }

func (s *Static) Name() string { return "static" }

func (s *Static) Infer(ctx context.Context, prompt string) (string, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", apperrors.Wrap(apperrors.InferenceUnavailable, "cancelled", err)
	}
	if s.Err != nil {
		return "", s.Err
	}
	if s.Reply == "" {
		return "", apperrors.New(apperrors.InferenceUnavailable, "empty reply")
	}
	return s.Reply, nil
}

// Prompts returns the prompts received so far.
func (s *Static) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}
