// Package sanitize repairs common formatting defects in inference output so
// it parses as structured data, without changing what it says.
package sanitize

import (
	"go.uber.org/zap"

	apperrors "tradeq/internal/errors"
)

// DefaultRules is the repair sequence applied to every response.
func DefaultRules() []Rule {
	return []Rule{ExtractPayload{}, NormalizeQuotes{}, CanonicalKeys{}}
}

// Sanitizer applies rules in order.
type Sanitizer struct {
	rules  []Rule
	logger *zap.Logger
}

// New creates a Sanitizer. A nil rules slice selects DefaultRules.
func New(logger *zap.Logger, rules ...Rule) *Sanitizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Sanitizer{rules: rules, logger: logger}
}

// Sanitize runs every rule over raw. The only failure is a missing payload.
func (s *Sanitizer) Sanitize(raw string) (string, error) {
	s.logger.Debug("sanitize input", zap.String("raw", raw))
	text := raw
	for _, r := range s.rules {
		out, err := r.Apply(text)
		if err != nil {
			if e, ok := apperrors.As(err); ok {
				e.WithText(raw, text)
			}
			s.logger.Warn("sanitize rule failed", zap.String("rule", r.Name()), zap.Error(err))
			return "", err
		}
		if out != text {
			s.logger.Debug("sanitize rule applied", zap.String("rule", r.Name()))
		}
		text = out
	}
	s.logger.Debug("sanitize output", zap.String("sanitized", text))
	return text, nil
}
