package mongo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"tradeq/internal/domain"
)

func TestConnectRequiresURIAndDatabase(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"no uri", Config{Database: "Trade"}, "mongo uri is empty"},
		{"no database", Config{URI: "mongodb://localhost:27017"}, "mongo database is empty"},
		{"bad scheme", Config{URI: "http://localhost", Database: "Trade"}, "scheme"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Connect(context.Background(), tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestPingFailsWithoutServer(t *testing.T) {
	s, err := Connect(context.Background(), Config{
		URI:      "mongodb://127.0.0.1:1",
		Database: "Trade",
		Timeout:  200 * time.Millisecond,
	})
	require.NoError(t, err)
	defer s.Close(context.Background())

	assert.Error(t, s.Ping(context.Background()))
	assert.NotNil(t, s.Collection("trades"))
}

func tradeDocs(n int) []bson.D {
	docs := make([]bson.D, n)
	for i := range docs {
		docs[i] = bson.D{{Key: "seq", Value: int32(i)}, {Key: "trade_type", Value: "Export"}}
	}
	return docs
}

func TestAggregateReadsCursorUpToLimit(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	tests := []struct {
		name          string
		returned      int
		limit         int
		wantCount     int
		wantTruncated bool
	}{
		{"fewer than limit", 2, 5, 2, false},
		{"exactly limit", 3, 3, 3, false},
		{"more than limit", 3, 2, 2, true},
		{"zero limit reads everything", 4, 0, 4, false},
		{"empty result", 0, 5, 0, false},
	}
	for _, tt := range tests {
		mt.Run(tt.name, func(mt *mtest.T) {
			ns := mt.Coll.Database().Name() + "." + mt.Coll.Name()
			mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, tradeDocs(tt.returned)...))

			c := &collection{coll: mt.Coll, maxTime: time.Second}
			pipeline := []domain.Stage{{{Key: "$match", Value: bson.D{{Key: "trade_type", Value: "Export"}}}}}
			docs, truncated, err := c.Aggregate(context.Background(), pipeline, tt.limit)
			require.NoError(mt, err)
			assert.Len(mt, docs, tt.wantCount)
			assert.NotNil(mt, docs)
			assert.Equal(mt, tt.wantTruncated, truncated)
			for i, d := range docs {
				assert.Equal(mt, int32(i), d["seq"])
			}

			started := mt.GetStartedEvent()
			require.NotNil(mt, started)
			assert.Equal(mt, "aggregate", started.CommandName)
			if tt.limit > 0 {
				batch, ok := started.Command.Lookup("cursor", "batchSize").Int32OK()
				require.True(mt, ok)
				assert.Equal(mt, int32(tt.limit+1), batch)
			}
			_, hasMaxTime := started.Command.Lookup("maxTimeMS").Int64OK()
			assert.True(mt, hasMaxTime)
		})
	}
}

func TestAggregateDecodesNestedValues(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("nested", func(mt *mtest.T) {
		ns := mt.Coll.Database().Name() + "." + mt.Coll.Name()
		doc := bson.D{
			{Key: "country_doc", Value: bson.A{bson.D{{Key: "country_name", Value: "India"}}}},
			{Key: "totals", Value: bson.D{{Key: "usd", Value: int64(1400)}}},
		}
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, doc))

		docs, _, err := (&collection{coll: mt.Coll}).Aggregate(context.Background(), nil, 10)
		require.NoError(mt, err)
		require.Len(mt, docs, 1)

		joined, ok := docs[0]["country_doc"].(bson.A)
		require.True(mt, ok, "arrays decode as bson.A, got %T", docs[0]["country_doc"])
		require.Len(mt, joined, 1)
		country, ok := joined[0].(bson.D)
		require.True(mt, ok, "embedded documents decode as bson.D, got %T", joined[0])
		assert.Equal(mt, bson.D{{Key: "country_name", Value: "India"}}, country)

		totals, ok := docs[0]["totals"].(bson.D)
		require.True(mt, ok)
		assert.Equal(mt, bson.D{{Key: "usd", Value: int64(1400)}}, totals)
	})
}

func TestAggregatePassesServerErrorThrough(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("unknown stage", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code:    40324,
			Message: "Unrecognized pipeline stage name: '$foo'",
			Name:    "Location40324",
		}))

		pipeline := []domain.Stage{{{Key: "$foo", Value: bson.D{}}}}
		docs, truncated, err := (&collection{coll: mt.Coll}).Aggregate(context.Background(), pipeline, 10)
		require.Error(mt, err)
		assert.Contains(mt, err.Error(), "Unrecognized pipeline stage name: '$foo'")
		assert.Nil(mt, docs)
		assert.False(mt, truncated)
	})
}
