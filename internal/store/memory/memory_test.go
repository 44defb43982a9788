package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"tradeq/internal/domain"
)

var (
	india   = primitive.NewObjectIDFromTimestamp(time.Unix(1, 0))
	brazil  = primitive.NewObjectIDFromTimestamp(time.Unix(2, 0))
	rice    = primitive.NewObjectIDFromTimestamp(time.Unix(3, 0))
	coffee  = primitive.NewObjectIDFromTimestamp(time.Unix(4, 0))
	tradeA  = primitive.NewObjectIDFromTimestamp(time.Unix(10, 0))
	tradeB  = primitive.NewObjectIDFromTimestamp(time.Unix(11, 0))
	tradeC  = primitive.NewObjectIDFromTimestamp(time.Unix(12, 0))
	tradeD  = primitive.NewObjectIDFromTimestamp(time.Unix(13, 0))
	created = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
)

func seeded() *Storage {
	s := NewStorage()
	s.Insert("countries",
		domain.Document{"_id": india, "country_name": "India", "region": "Asia"},
		domain.Document{"_id": brazil, "country_name": "Brazil", "region": "Americas"},
	)
	s.Insert("commodities",
		domain.Document{"_id": rice, "commodity_name": "Rice"},
		domain.Document{"_id": coffee, "commodity_name": "Coffee"},
	)
	s.Insert("trades",
		domain.Document{"_id": tradeA, "country_id": india, "commodity_id": rice, "trade_type": "Export", "value_usd": int32(500), "port": "Kandla", "created_at": created},
		domain.Document{"_id": tradeB, "country_id": india, "commodity_id": coffee, "trade_type": "Import", "value_usd": int32(300), "port": "Mumbai", "created_at": created},
		domain.Document{"_id": tradeC, "country_id": brazil, "commodity_id": coffee, "trade_type": "Export", "value_usd": int32(900), "port": "Santos", "created_at": created},
		domain.Document{"_id": tradeD, "country_id": india, "commodity_id": coffee, "trade_type": "Export", "value_usd": int32(200), "port": "Kandla", "created_at": created},
	)
	return s
}

func stage(key string, v any) domain.Stage { return domain.Stage{{Key: key, Value: v}} }

func lookupCountries() domain.Stage {
	return stage("$lookup", bson.D{
		{Key: "from", Value: "countries"},
		{Key: "localField", Value: "country_id"},
		{Key: "foreignField", Value: "_id"},
		{Key: "as", Value: "country_doc"},
	})
}

func TestAggregateLookupThenMatch(t *testing.T) {
	pipeline := []domain.Stage{
		lookupCountries(),
		stage("$match", bson.D{{Key: "country_doc.country_name", Value: "India"}, {Key: "trade_type", Value: "Export"}}),
	}
	docs, truncated, err := seeded().Collection("trades").Aggregate(context.Background(), pipeline, 100)
	require.NoError(t, err)
	assert.False(t, truncated)
	require.Len(t, docs, 2)
	assert.Equal(t, tradeA, docs[0]["_id"])
	assert.Equal(t, tradeD, docs[1]["_id"])

	joined, ok := docs[0]["country_doc"].([]any)
	require.True(t, ok)
	require.Len(t, joined, 1)
	assert.Equal(t, india, joined[0].(map[string]any)["_id"])
}

func TestAggregateUnwindGroupSortLimit(t *testing.T) {
	pipeline := []domain.Stage{
		stage("$lookup", bson.D{
			{Key: "from", Value: "commodities"},
			{Key: "localField", Value: "commodity_id"},
			{Key: "foreignField", Value: "_id"},
			{Key: "as", Value: "commodity_doc"},
		}),
		stage("$unwind", "$commodity_doc"),
		stage("$group", bson.D{
			{Key: "_id", Value: "$commodity_doc.commodity_name"},
			{Key: "total_value", Value: bson.D{{Key: "$sum", Value: "$value_usd"}}},
			{Key: "trades", Value: bson.D{{Key: "$sum", Value: int32(1)}}},
		}),
		stage("$sort", bson.D{{Key: "total_value", Value: int32(-1)}}),
		stage("$limit", int32(1)),
	}
	docs, _, err := seeded().Collection("trades").Aggregate(context.Background(), pipeline, 0)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Coffee", docs[0]["_id"])
	assert.Equal(t, int64(1400), docs[0]["total_value"])
	assert.Equal(t, int64(3), docs[0]["trades"])
}

func TestAggregateMatchOperators(t *testing.T) {
	tests := []struct {
		name   string
		filter bson.D
		want   int
	}{
		{"gt", bson.D{{Key: "value_usd", Value: bson.D{{Key: "$gt", Value: int32(300)}}}}, 2},
		{"gte and lt", bson.D{{Key: "value_usd", Value: bson.D{{Key: "$gte", Value: 300}, {Key: "$lt", Value: 900.0}}}}, 2},
		{"in", bson.D{{Key: "port", Value: bson.D{{Key: "$in", Value: bson.A{"Kandla", "Santos"}}}}}, 3},
		{"nin", bson.D{{Key: "port", Value: bson.D{{Key: "$nin", Value: bson.A{"Kandla"}}}}}, 2},
		{"ne", bson.D{{Key: "trade_type", Value: bson.D{{Key: "$ne", Value: "Export"}}}}, 1},
		{"or", bson.D{{Key: "$or", Value: bson.A{
			bson.D{{Key: "port", Value: "Mumbai"}},
			bson.D{{Key: "port", Value: "Santos"}},
		}}}, 2},
		{"objectid equality", bson.D{{Key: "country_id", Value: brazil}}, 1},
		{"exists false", bson.D{{Key: "missing", Value: bson.D{{Key: "$exists", Value: false}}}}, 4},
		{"regex value", bson.D{{Key: "port", Value: primitive.Regex{Pattern: "^kan", Options: "i"}}}, 2},
		{"regex operator with options", bson.D{{Key: "port", Value: bson.D{{Key: "$regex", Value: "^s"}, {Key: "$options", Value: "i"}}}}, 1},
		{"regex is case sensitive by default", bson.D{{Key: "port", Value: bson.D{{Key: "$regex", Value: "^kan"}}}}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, _, err := seeded().Collection("trades").Aggregate(context.Background(), []domain.Stage{stage("$match", tt.filter)}, 0)
			require.NoError(t, err)
			assert.Len(t, docs, tt.want)
		})
	}
}

func TestAggregateMatchRegexFromExtJSON(t *testing.T) {
	var filter bson.D
	require.NoError(t, bson.UnmarshalExtJSON([]byte(`{"port": {"$regex": "^KAN", "$options": "i"}}`), false, &filter))

	docs, _, err := seeded().Collection("trades").Aggregate(context.Background(), []domain.Stage{stage("$match", filter)}, 0)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	for _, d := range docs {
		assert.Equal(t, "Kandla", d["port"])
	}
}

func TestAggregateProject(t *testing.T) {
	pipeline := []domain.Stage{
		stage("$match", bson.D{{Key: "_id", Value: tradeA}}),
		stage("$project", bson.D{{Key: "_id", Value: int32(0)}, {Key: "port", Value: int32(1)}, {Key: "usd", Value: "$value_usd"}}),
	}
	docs, _, err := seeded().Collection("trades").Aggregate(context.Background(), pipeline, 0)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, domain.Document{"port": "Kandla", "usd": int32(500)}, docs[0])

	excl := []domain.Stage{
		stage("$match", bson.D{{Key: "_id", Value: tradeA}}),
		stage("$project", bson.D{{Key: "created_at", Value: int32(0)}, {Key: "commodity_id", Value: false}}),
	}
	docs, _, err = seeded().Collection("trades").Aggregate(context.Background(), excl, 0)
	require.NoError(t, err)
	assert.NotContains(t, docs[0], "created_at")
	assert.NotContains(t, docs[0], "commodity_id")
	assert.Contains(t, docs[0], "_id")
}

func TestAggregateTruncatesAtLimit(t *testing.T) {
	docs, truncated, err := seeded().Collection("trades").Aggregate(context.Background(), nil, 3)
	require.NoError(t, err)
	assert.True(t, truncated)
	assert.Len(t, docs, 3)
}

func TestAggregateSkipAndCount(t *testing.T) {
	docs, _, err := seeded().Collection("trades").Aggregate(context.Background(), []domain.Stage{
		stage("$skip", int32(1)),
		stage("$count", "n"),
	}, 0)
	require.NoError(t, err)
	assert.Equal(t, []domain.Document{{"n": int32(3)}}, docs)
}

func TestAggregateErrors(t *testing.T) {
	tests := []struct {
		name     string
		pipeline []domain.Stage
	}{
		{"unsupported stage", []domain.Stage{stage("$bucket", bson.D{})}},
		{"two operators in one stage", []domain.Stage{{{Key: "$match", Value: bson.D{}}, {Key: "$limit", Value: int32(1)}}}},
		{"bad limit", []domain.Stage{stage("$limit", "ten")}},
		{"bad sort direction", []domain.Stage{stage("$sort", bson.D{{Key: "port", Value: int32(2)}})}},
		{"lookup missing fields", []domain.Stage{stage("$lookup", bson.D{{Key: "from", Value: "countries"}})}},
		{"unknown operator", []domain.Stage{stage("$match", bson.D{{Key: "port", Value: bson.D{{Key: "$regexish", Value: "x"}}}})}},
		{"regex option not supported", []domain.Stage{stage("$match", bson.D{{Key: "port", Value: primitive.Regex{Pattern: "k", Options: "x"}}})}},
		{"invalid regex", []domain.Stage{stage("$match", bson.D{{Key: "port", Value: bson.D{{Key: "$regex", Value: "("}}}})}},
		{"options without regex", []domain.Stage{stage("$match", bson.D{{Key: "port", Value: bson.D{{Key: "$options", Value: "i"}}}})}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := seeded().Collection("trades").Aggregate(context.Background(), tt.pipeline, 0)
			assert.Error(t, err)
		})
	}
}

func TestAggregateDoesNotMutateStore(t *testing.T) {
	s := seeded()
	docs, _, err := s.Collection("trades").Aggregate(context.Background(), []domain.Stage{lookupCountries()}, 0)
	require.NoError(t, err)
	docs[0]["_id"] = "changed"

	again, _, err := s.Collection("trades").Aggregate(context.Background(), nil, 0)
	require.NoError(t, err)
	assert.Equal(t, tradeA, again[0]["_id"])
	assert.NotContains(t, again[0], "country_doc")
}

func TestAggregateHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := seeded().Collection("trades").Aggregate(ctx, []domain.Stage{stage("$limit", int32(1))}, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixtures.json")
	content := `{
  "countries": [{"_id": {"$oid": "5f1d7f1e2b3c4d5e6f708192"}, "country_name": "India"}],
  "years": [{"_id": {"$oid": "5f1d7f1e2b3c4d5e6f708193"}, "year": 2024, "at": {"$date": "2024-01-01T00:00:00Z"}}]
}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	s := NewStorage()
	require.NoError(t, s.LoadFile(path))
	names, err := s.CollectionNames(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"countries", "years"}, names)

	docs, _, err := s.Collection("years").Aggregate(context.Background(), []domain.Stage{
		stage("$match", bson.D{{Key: "year", Value: int32(2024)}}),
	}, 0)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.IsType(t, primitive.ObjectID{}, docs[0]["_id"])
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), docs[0]["at"])
}

func TestLoadFileRejectsUnknownCollection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixtures.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"customers": []}`), 0o644))
	assert.ErrorContains(t, NewStorage().LoadFile(path), `unknown collection "customers"`)
}
