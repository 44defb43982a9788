// Package normalize rewrites store-internal identifiers in result documents
// into their string form so results can be sent as plain JSON.
package normalize

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"tradeq/internal/domain"
)

// Documents normalizes every document in place and returns the slice.
func Documents(docs []domain.Document) []domain.Document {
	for i := range docs {
		docs[i] = normalizeMap(docs[i])
	}
	return docs
}

// Value walks v and replaces every ObjectID, at any depth, with its hex
// string. Maps and slices are updated in place; ordered documents become maps.
// Values of any other type are returned unchanged.
func Value(v any) any {
	switch t := v.(type) {
	case primitive.ObjectID:
		return t.Hex()
	case *primitive.ObjectID:
		if t == nil {
			return nil
		}
		return t.Hex()
	case map[string]any:
		return normalizeMap(t)
	case bson.M:
		return normalizeMap(t)
	case bson.D:
		m := make(map[string]any, len(t))
		for _, e := range t {
			m[e.Key] = Value(e.Value)
		}
		return m
	case bson.A:
		normalizeSlice(t)
		return []any(t)
	case []any:
		normalizeSlice(t)
		return t
	case []map[string]any:
		for i := range t {
			t[i] = normalizeMap(t[i])
		}
		return t
	default:
		return v
	}
}

func normalizeMap(m map[string]any) map[string]any {
	for k, v := range m {
		m[k] = Value(v)
	}
	return m
}

func normalizeSlice(s []any) {
	for i := range s {
		s[i] = Value(s[i])
	}
}
