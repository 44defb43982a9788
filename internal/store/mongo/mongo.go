package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"tradeq/internal/domain"
)

// Storage runs aggregation pipelines against one MongoDB database.
type Storage struct {
	client  *mongo.Client
	db      *mongo.Database
	maxTime time.Duration
}

type Config struct {
	URI      string
	Database string
	// Timeout bounds connection setup and server selection.
	Timeout time.Duration
	// MaxTime is sent to the server as maxTimeMS on every aggregate.
	MaxTime time.Duration
}

func Connect(ctx context.Context, cfg Config) (*Storage, error) {
	if cfg.URI == "" {
		return nil, errors.New("mongo uri is empty")
	}
	if cfg.Database == "" {
		return nil, errors.New("mongo database is empty")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(timeout).
		SetServerSelectionTimeout(timeout)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Storage{
		client:  client,
		db:      client.Database(cfg.Database),
		maxTime: cfg.MaxTime,
	}, nil
}

func (s *Storage) Collection(name string) domain.CollectionHandle {
	return &collection{coll: s.db.Collection(name), maxTime: s.maxTime}
}

func (s *Storage) Ping(ctx context.Context) error { return s.client.Ping(ctx, nil) }

func (s *Storage) CollectionNames(ctx context.Context) ([]string, error) {
	return s.db.ListCollectionNames(ctx, bson.D{})
}

func (s *Storage) Close(ctx context.Context) error { return s.client.Disconnect(ctx) }

type collection struct {
	coll    *mongo.Collection
	maxTime time.Duration
}

// Aggregate sends the pipeline unchanged and stops reading the cursor after
// limit documents. A limit of zero reads everything.
func (c *collection) Aggregate(ctx context.Context, pipeline []domain.Stage, limit int) ([]domain.Document, bool, error) {
	opts := options.Aggregate()
	if c.maxTime > 0 {
		opts.SetMaxTime(c.maxTime)
	}
	if limit > 0 {
		opts.SetBatchSize(int32(limit + 1))
	}
	cur, err := c.coll.Aggregate(ctx, mongo.Pipeline(pipeline), opts)
	if err != nil {
		return nil, false, err
	}
	defer cur.Close(ctx)

	docs := make([]domain.Document, 0)
	for cur.Next(ctx) {
		if limit > 0 && len(docs) == limit {
			return docs, true, nil
		}
		var m bson.M
		if err := cur.Decode(&m); err != nil {
			return nil, false, err
		}
		docs = append(docs, domain.Document(m))
	}
	if err := cur.Err(); err != nil {
		return nil, false, err
	}
	return docs, false, nil
}
