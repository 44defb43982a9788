package sanitize

import (
	"regexp"
	"strings"

	apperrors "tradeq/internal/errors"
)

// Rule is one named repair applied to inference output.
type Rule interface {
	Name() string
	Apply(text string) (string, error)
}

// ExtractPayload keeps the text between the first payload opening bracket and
// the last closing bracket of the same kind, dropping prose around the payload.
// A "[" only opens a payload when a stage or "]" follows it, so bracketed prose
// such as "[JSON]" is skipped.
type ExtractPayload struct{}

func (ExtractPayload) Name() string { return "extract-payload" }

func (ExtractPayload) Apply(text string) (string, error) {
	start := payloadStart(text)
	if start == -1 {
		return "", apperrors.New(apperrors.NoStructuredPayload, "no JSON object or array in inference output")
	}
	closing := "]"
	if text[start] == '{' {
		closing = "}"
	}
	end := strings.LastIndex(text, closing)
	if end < start {
		return "", apperrors.New(apperrors.NoStructuredPayload, "unterminated JSON payload in inference output")
	}
	return text[start : end+1], nil
}

func payloadStart(text string) int {
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '{':
			return i
		case '[':
			rest := strings.TrimLeft(text[i+1:], " \t\r\n")
			if strings.HasPrefix(rest, "{") || strings.HasPrefix(rest, "]") {
				return i
			}
		}
	}
	return -1
}

// NormalizeQuotes rewrites single-quoted strings as double-quoted ones.
// Apostrophes inside double-quoted strings are left alone, double quotes
// inside single-quoted strings are escaped. It is a character scan, not a tokenizer.
type NormalizeQuotes struct{}

func (NormalizeQuotes) Name() string { return "normalize-quotes" }

func (NormalizeQuotes) Apply(text string) (string, error) {
	if !strings.Contains(text, "'") {
		return text, nil
	}
	var sb strings.Builder
	sb.Grow(len(text))
	const (
		outside = iota
		inDouble
		inSingle
	)
	state := outside
	for i := 0; i < len(text); i++ {
		ch := text[i]
		switch state {
		case outside:
			switch ch {
			case '"':
				state = inDouble
				sb.WriteByte(ch)
			case '\'':
				state = inSingle
				sb.WriteByte('"')
			default:
				sb.WriteByte(ch)
			}
		case inDouble:
			sb.WriteByte(ch)
			if ch == '\\' && i+1 < len(text) {
				i++
				sb.WriteByte(text[i])
			} else if ch == '"' {
				state = outside
			}
		case inSingle:
			switch {
			case ch == '\\' && i+1 < len(text) && text[i+1] == '\'':
				i++
				sb.WriteByte('\'')
			case ch == '\\' && i+1 < len(text):
				i++
				sb.WriteByte(ch)
				sb.WriteByte(text[i])
			case ch == '"':
				sb.WriteString(`\"`)
			case ch == '\'':
				state = outside
				sb.WriteByte('"')
			default:
				sb.WriteByte(ch)
			}
		}
	}
	return sb.String(), nil
}

// DefaultKeyCasing maps lowercase variants of MongoDB keys to their canonical form.
var DefaultKeyCasing = map[string]string{
	"localfield":   "localField",
	"foreignfield": "foreignField",
	"$addfields":   "$addFields",
	"$replaceroot": "$replaceRoot",
	"$replacewith": "$replaceWith",
	"$sortbycount": "$sortByCount",
	"$unionwith":   "$unionWith",
	"$graphlookup": "$graphLookup",
	"$bucketauto":  "$bucketAuto",
}

// CanonicalKeys replaces quoted key tokens with their canonical casing. A token
// is only touched when a colon follows it, so string values are left intact.
type CanonicalKeys struct {
	Table map[string]string
}

func (CanonicalKeys) Name() string { return "canonical-keys" }

func (r CanonicalKeys) Apply(text string) (string, error) {
	table := r.Table
	if table == nil {
		table = DefaultKeyCasing
	}
	for from, to := range table {
		if !strings.Contains(text, `"`+from+`"`) {
			continue
		}
		re := regexp.MustCompile(`"` + regexp.QuoteMeta(from) + `"(\s*:)`)
		text = re.ReplaceAllString(text, `"`+strings.ReplaceAll(to, "$", "$$")+`"${1}`)
	}
	return text, nil
}
