package domain

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// Document is one result document returned by a collection.
type Document = map[string]any

// Stage is one aggregation stage. Its shape belongs to the data store's query
// language; the only local requirement is that it is a document.
type Stage = bson.D

// QueryPlan is the validated output of translation.
type QueryPlan struct {
	Collection Collection
	Pipeline   []Stage
}

// Answer is what a translated and executed question produces.
type Answer struct {
	RequestID  string
	Query      string
	Collection Collection
	Pipeline   []Stage
	Results    []Document
	Truncated  bool
	Elapsed    time.Duration
}

// Status summarises the wiring of a running service.
type Status struct {
	StoreConnected bool
	StoreError     string
	Collections    []string
	Inference      string
	SchemaVersion  string
}

// Inferrer turns a prompt into the raw text of a natural-language inference service.
type Inferrer interface {
	Name() string
	Infer(ctx context.Context, prompt string) (string, error)
}

// CollectionHandle runs read-only aggregation pipelines against one collection.
// At most limit documents are materialized; truncated reports whether more were available.
type CollectionHandle interface {
	Aggregate(ctx context.Context, pipeline []Stage, limit int) (docs []Document, truncated bool, err error)
}

// Store owns the connection to the document store.
type Store interface {
	Collection(name string) CollectionHandle
	Ping(ctx context.Context) error
	CollectionNames(ctx context.Context) ([]string, error)
	Close(ctx context.Context) error
}

// QueryService defines the operations exposed by the application core.
type QueryService interface {
	Ask(ctx context.Context, text string) (*Answer, error)
	Status(ctx context.Context) Status
}
