// Package plan parses sanitized inference output into a QueryPlan and
// enforces its shape: a known collection and a sequence of stage documents.
//
// The text is read as relaxed MongoDB Extended JSON, so key order inside
// stages ($sort, $project) is kept and literals such as {"$date": ...} or
// {"$oid": ...} reach the store as native values. Stage internals are not
// checked beyond being documents, apart from a deny-list of operators that
// execute server-side code or write data.
package plan

import (
	"fmt"
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"tradeq/internal/domain"
	apperrors "tradeq/internal/errors"
	"tradeq/internal/schema"
)

// ForbiddenOperators may not appear anywhere in a pipeline.
var ForbiddenOperators = []string{"$where", "$function", "$accumulator", "$out", "$merge"}

// Validator turns sanitized text into a QueryPlan.
type Validator struct {
	schema            *schema.Descriptor
	defaultCollection domain.Collection
}

// NewValidator creates a Validator. Bare pipelines (the older response shape
// without a collection key) are routed to defaultCollection.
func NewValidator(desc *schema.Descriptor, defaultCollection domain.Collection) *Validator {
	return &Validator{schema: desc, defaultCollection: defaultCollection}
}

// Validate parses sanitized and checks every plan invariant. raw is only kept
// in error context for logging.
func (v *Validator) Validate(raw, sanitized string) (*domain.QueryPlan, error) {
	p, err := v.validate(sanitized)
	if err != nil {
		if e, ok := apperrors.As(err); ok {
			e.WithText(raw, sanitized)
		}
		return nil, err
	}
	return p, nil
}

func (v *Validator) validate(text string) (*domain.QueryPlan, error) {
	value, err := parse(text)
	if err != nil {
		return nil, err
	}

	var (
		collection = v.defaultCollection
		pipeline   any
	)
	switch top := value.(type) {
	case bson.A:
		pipeline = top
	case bson.D:
		name, hasCollection := lookup(top, "collection")
		p, hasPipeline := lookup(top, "pipeline")
		switch {
		case !hasCollection:
			return nil, apperrors.New(apperrors.MissingField, `plan has no "collection" key`)
		case !hasPipeline:
			return nil, apperrors.New(apperrors.MissingField, `plan has no "pipeline" key`)
		}
		s, ok := name.(string)
		if !ok {
			return nil, apperrors.Newf(apperrors.InvalidShape, `"collection" must be a string, got %T`, name)
		}
		c, ok := domain.ParseCollection(s)
		if !ok || !v.schema.Has(c) {
			e := apperrors.Newf(apperrors.UnknownCollection, "collection not valid: %s", s)
			e.Collection = s
			return nil, e
		}
		collection = c
		pipeline = p
	default:
		return nil, apperrors.Newf(apperrors.InvalidShape, "plan must be an object or an array, got %T", value)
	}

	stages, err := toStages(pipeline)
	if err != nil {
		if e, ok := apperrors.As(err); ok {
			e.Collection = collection.String()
		}
		return nil, err
	}
	if op := findForbidden(stages); op != "" {
		e := apperrors.Newf(apperrors.ForbiddenStage, "operator %s is not allowed", op)
		e.Collection = collection.String()
		return nil, e
	}
	return &domain.QueryPlan{Collection: collection, Pipeline: stages}, nil
}

// parse reads text as a single Extended JSON value. The value is wrapped in a
// document because the bson decoder only accepts documents at the top level.
func parse(text string) (any, error) {
	var wrapper bson.D
	if err := bson.UnmarshalExtJSON([]byte(`{"v":`+text+"\n}"), false, &wrapper); err != nil {
		return nil, apperrors.Wrap(apperrors.Parse, "inference output is not valid JSON", err)
	}
	v, ok := lookup(wrapper, "v")
	if !ok {
		return nil, apperrors.New(apperrors.Parse, "inference output is empty")
	}
	return asDoc(v), nil
}

func toStages(p any) ([]domain.Stage, error) {
	switch pv := asDoc(p).(type) {
	case bson.D:
		return []domain.Stage{pv}, nil
	case bson.A:
		stages := make([]domain.Stage, 0, len(pv))
		for i, el := range pv {
			d, ok := asDoc(el).(bson.D)
			if !ok {
				return nil, apperrors.Newf(apperrors.InvalidShape, "pipeline stage %d is %T, not a document", i, el)
			}
			stages = append(stages, d)
		}
		return stages, nil
	default:
		return nil, apperrors.Newf(apperrors.InvalidShape, `"pipeline" must be an array or an object, got %T`, p)
	}
}

// asDoc converts bson.M and []any into their ordered forms.
func asDoc(v any) any {
	switch t := v.(type) {
	case bson.M:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		d := make(bson.D, 0, len(t))
		for _, k := range keys {
			d = append(d, bson.E{Key: k, Value: t[k]})
		}
		return d
	case []any:
		return bson.A(t)
	default:
		return v
	}
}

func lookup(d bson.D, key string) (any, bool) {
	for _, e := range d {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

func findForbidden(stages []domain.Stage) string {
	for _, s := range stages {
		if op := forbiddenIn(s); op != "" {
			return op
		}
	}
	return ""
}

func forbiddenIn(v any) string {
	switch t := asDoc(v).(type) {
	case bson.D:
		for _, e := range t {
			for _, op := range ForbiddenOperators {
				if strings.EqualFold(e.Key, op) {
					return op
				}
			}
			if op := forbiddenIn(e.Value); op != "" {
				return op
			}
		}
	case bson.A:
		for _, el := range t {
			if op := forbiddenIn(el); op != "" {
				return op
			}
		}
	}
	return ""
}

// Render formats a pipeline as relaxed Extended JSON, keeping stage key order.
func Render(stages []domain.Stage) (string, error) {
	parts := make([]string, 0, len(stages))
	for _, s := range stages {
		b, err := bson.MarshalExtJSON(s, false, false)
		if err != nil {
			return "", fmt.Errorf("render stage: %w", err)
		}
		parts = append(parts, string(b))
	}
	return "[" + strings.Join(parts, ",") + "]", nil
}
