// Package errors defines the typed failures of the query pipeline.
// Every failure carries a machine-readable Kind so the HTTP layer can pick a
// status code, plus the diagnostic text (raw inference output, sanitized text,
// attempted collection) needed to log what went wrong.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind is a machine-readable error category.
type Kind string

const (
	// EmptyInput indicates a missing or blank question.
	EmptyInput Kind = "empty_input"
	// InferenceUnavailable indicates the inference service could not be reached,
	// rejected the credentials, or returned no text.
	InferenceUnavailable Kind = "inference_unavailable"
	// NoStructuredPayload indicates the inference text holds no bracketed payload.
	NoStructuredPayload Kind = "no_structured_payload"
	// Parse indicates the sanitized payload is not valid structured data.
	Parse Kind = "parse"
	// MissingField indicates the plan lacks "collection" or "pipeline".
	MissingField Kind = "missing_field"
	// InvalidShape indicates a pipeline that is not a sequence of documents.
	InvalidShape Kind = "invalid_shape"
	// UnknownCollection indicates a collection outside the allow-list.
	UnknownCollection Kind = "unknown_collection"
	// ForbiddenStage indicates a pipeline using server-side code or a write stage.
	ForbiddenStage Kind = "forbidden_stage"
	// Execution indicates the data store rejected or failed the pipeline.
	Execution Kind = "execution"
)

// E wraps an error with kind, human-friendly message and pipeline context.
type E struct {
	Kind    Kind
	Message string
	Err     error

	Raw        string
	Sanitized  string
	Collection string
	// Config marks failures caused by service wiring rather than by the request.
	Config bool
}

func (e *E) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *E) Unwrap() error { return e.Err }

// Is matches any *E of the same kind, so errors.Is(err, errors.New(Parse, "")) works.
func (e *E) Is(target error) bool {
	t, ok := target.(*E)
	return ok && t.Kind == e.Kind
}

func Wrap(kind Kind, msg string, err error) *E { return &E{Kind: kind, Message: msg, Err: err} }
func New(kind Kind, msg string) *E             { return &E{Kind: kind, Message: msg} }
func Newf(kind Kind, format string, args ...any) *E {
	return &E{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithText attaches the raw and sanitized inference text.
func (e *E) WithText(raw, sanitized string) *E {
	e.Raw = raw
	e.Sanitized = sanitized
	return e
}

// KindOf returns the kind of the first *E in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var e *E
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// As is a shorthand for extracting *E from an error chain.
func As(err error) (*E, bool) {
	var e *E
	ok := stderrors.As(err, &e)
	return e, ok
}
