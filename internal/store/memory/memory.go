package memory

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"go.mongodb.org/mongo-driver/bson"

	"tradeq/internal/domain"
)

// Storage is an in-process document store. It evaluates a read-only subset
// of aggregation stages and is meant for local runs and tests.
type Storage struct {
	mu   sync.RWMutex
	data map[string][]domain.Document
}

func NewStorage() *Storage { return &Storage{data: make(map[string][]domain.Document)} }

// Insert appends documents to a collection. Documents are copied.
func (s *Storage) Insert(collection string, docs ...domain.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range docs {
		s.data[collection] = append(s.data[collection], cloneDoc(d))
	}
}

// LoadFile reads an Extended JSON fixture of the form
// {"trades": [...], "countries": [...]} and inserts its documents.
func (s *Storage) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var root bson.D
	if err := bson.UnmarshalExtJSON(data, false, &root); err != nil {
		return fmt.Errorf("parse fixtures %s: %w", path, err)
	}
	for _, e := range root {
		if _, ok := domain.ParseCollection(e.Key); !ok {
			return fmt.Errorf("fixtures %s: unknown collection %q", path, e.Key)
		}
		arr, ok := e.Value.(bson.A)
		if !ok {
			return fmt.Errorf("fixtures %s: %s must be an array", path, e.Key)
		}
		for i, el := range arr {
			doc, ok := plain(el).(map[string]any)
			if !ok {
				return fmt.Errorf("fixtures %s: %s[%d] is not a document", path, e.Key, i)
			}
			s.Insert(e.Key, doc)
		}
	}
	return nil
}

func (s *Storage) Collection(name string) domain.CollectionHandle {
	return &collection{store: s, name: name}
}

func (s *Storage) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Storage) CollectionNames(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.data))
	for n := range s.data {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Storage) Close(ctx context.Context) error { return nil }

func (s *Storage) snapshot(name string) []domain.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.data[name]
	out := make([]domain.Document, len(src))
	for i, d := range src {
		out[i] = cloneDoc(d)
	}
	return out
}

type collection struct {
	store *Storage
	name  string
}

func (c *collection) Aggregate(ctx context.Context, pipeline []domain.Stage, limit int) ([]domain.Document, bool, error) {
	docs := c.store.snapshot(c.name)
	for i, st := range pipeline {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		if len(st) != 1 {
			return nil, false, fmt.Errorf("stage %d must have exactly one field, has %d", i, len(st))
		}
		var err error
		docs, err = c.apply(st[0].Key, st[0].Value, docs)
		if err != nil {
			return nil, false, fmt.Errorf("stage %d (%s): %w", i, st[0].Key, err)
		}
	}
	if limit > 0 && len(docs) > limit {
		return docs[:limit], true, nil
	}
	return docs, false, nil
}

func (c *collection) apply(op string, arg any, docs []domain.Document) ([]domain.Document, error) {
	switch op {
	case "$match":
		return match(docs, arg)
	case "$lookup":
		return c.lookup(docs, arg)
	case "$unwind":
		return unwind(docs, arg)
	case "$group":
		return group(docs, arg)
	case "$sort":
		return sortDocs(docs, arg)
	case "$skip":
		n, ok := toInt(arg)
		if !ok || n < 0 {
			return nil, fmt.Errorf("$skip requires a non-negative integer")
		}
		if n > len(docs) {
			n = len(docs)
		}
		return docs[n:], nil
	case "$limit":
		n, ok := toInt(arg)
		if !ok || n <= 0 {
			return nil, fmt.Errorf("$limit requires a positive integer")
		}
		if n < len(docs) {
			docs = docs[:n]
		}
		return docs, nil
	case "$project":
		return project(docs, arg)
	case "$count":
		name, ok := arg.(string)
		if !ok || name == "" {
			return nil, fmt.Errorf("$count requires a field name")
		}
		if len(docs) == 0 {
			return nil, nil
		}
		return []domain.Document{{name: int32(len(docs))}}, nil
	default:
		return nil, fmt.Errorf("unsupported stage %s", op)
	}
}

func (c *collection) lookup(docs []domain.Document, arg any) ([]domain.Document, error) {
	spec, ok := asD(arg)
	if !ok {
		return nil, fmt.Errorf("$lookup requires a document")
	}
	from, _ := get(spec, "from").(string)
	local, _ := get(spec, "localField").(string)
	foreign, _ := get(spec, "foreignField").(string)
	as, _ := get(spec, "as").(string)
	if from == "" || local == "" || foreign == "" || as == "" {
		return nil, fmt.Errorf("$lookup requires from, localField, foreignField and as")
	}
	others := c.store.snapshot(from)
	for _, d := range docs {
		keys := resolve(d, local)
		if len(keys) == 0 {
			keys = []any{nil}
		}
		joined := []any{}
		for _, o := range others {
			if anyEqual(resolve(o, foreign), keys) {
				joined = append(joined, cloneDoc(o))
			}
		}
		d[as] = joined
	}
	return docs, nil
}
