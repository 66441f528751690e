package mongodb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wehubfusion/Daedalus/internal/testutil"
	"github.com/wehubfusion/Daedalus/pkg/actions"
	"github.com/wehubfusion/Daedalus/pkg/credentials"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func findDocs(t *testing.T, p *Plugin, config map[string]any) actions.StepResult {
	t.Helper()
	res, err := p.Actions()[0].Step(context.Background(), actions.NewStepInput(config, actions.StepContext{NodeID: "m"}))
	require.NoError(t, err)
	return res
}

func TestFindDocumentsValidation(t *testing.T) {
	p := New(credentials.NewStaticFetcher(map[string]map[string]string{
		"uri-only": {URIKey: "mongodb://localhost:27017"},
	}), nil)

	tests := []struct {
		name   string
		config map[string]any
		want   string
	}{
		{name: "missing collection", config: map[string]any{}, want: "Validation failed: collection: Collection name is required"},
		{name: "limit too high", config: map[string]any{"collection": "c", "limit": 1001}, want: "Validation failed: limit: Number must be less than or equal to 1000"},
		{name: "limit zero and negative skip", config: map[string]any{"collection": "c", "limit": 0, "skip": -1}, want: "Validation failed: limit: Number must be greater than or equal to 1, skip: Number must be greater than or equal to 0"},
		{name: "invalid filter", config: map[string]any{"collection": "c", "filter": "{nope"}, want: "Invalid JSON filter"},
		{name: "array filter", config: map[string]any{"collection": "c", "filter": "[1]"}, want: "Filter must be a JSON object, not an array or primitive"},
		{name: "primitive filter", config: map[string]any{"collection": "c", "filter": "42"}, want: "Filter must be a JSON object, not an array or primitive"},
		{name: "invalid sort", config: map[string]any{"collection": "c", "sort": "{"}, want: "Invalid JSON sort specification"},
		{name: "array sort", config: map[string]any{"collection": "c", "sort": "[]"}, want: "Sort specification must be a JSON object"},
		{name: "bad direction", config: map[string]any{"collection": "c", "sort": `{"age": 2}`}, want: `Invalid sort value for field "age": must be 1 (ascending) or -1 (descending)`},
		{name: "no credentials", config: map[string]any{"collection": "c"}, want: "MongoDB credentials not configured"},
		{name: "database missing", config: map[string]any{"collection": "c", "integrationId": "uri-only"}, want: "MongoDB credentials not configured"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := findDocs(t, p, tt.config)
			require.True(t, res.Failed())
			assert.Equal(t, tt.want, res.ErrorMessage())
			assert.Equal(t, []any{}, res["documents"])
			assert.Equal(t, 0, res["count"])
		})
	}
}

func TestParseQueryKeepsSortOrder(t *testing.T) {
	q, res := parseQuery(actions.StepInput{Config: map[string]any{
		"collection": "people",
		"filter":     `{"_id": {"$oid": "65f0c0ffee0000000000beef"}}`,
		"sort":       `{"b": -1, "a": 1}`,
		"limit":      "25",
	}})
	require.Nil(t, res)
	assert.Equal(t, int64(25), q.limit)
	require.Len(t, q.sort, 2)
	assert.Equal(t, "b", q.sort[0].Key)
	assert.Equal(t, "a", q.sort[1].Key)

	oid, err := primitive.ObjectIDFromHex("65f0c0ffee0000000000beef")
	require.NoError(t, err)
	assert.Equal(t, oid, q.filter[0].Value)
}

func TestNormalize(t *testing.T) {
	oid := primitive.NewObjectID()
	when := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	got := normalize(bson.M{
		"_id":  oid,
		"at":   primitive.NewDateTimeFromTime(when),
		"n":    int32(3),
		"tags": bson.A{"x", bson.D{{Key: "k", Value: "v"}}},
	})
	assert.Equal(t, map[string]any{
		"_id":  oid.Hex(),
		"at":   "2026-01-02T03:04:05Z",
		"n":    int64(3),
		"tags": []any{"x", map[string]any{"k": "v"}},
	}, got)
}

func TestFindDocumentsIntegration(t *testing.T) {
	uri := testutil.StartMongo(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	defer client.Disconnect(context.Background())

	_, err = client.Database("app").Collection("people").InsertMany(ctx, []any{
		bson.M{"name": "ada", "age": 36, "active": true},
		bson.M{"name": "bob", "age": 25, "active": false},
		bson.M{"name": "cy", "age": 41, "active": true},
	})
	require.NoError(t, err)

	p := New(credentials.NewStaticFetcher(map[string]map[string]string{
		"mongo": {URIKey: uri, DatabaseKey: "app"},
	}), nil)

	res := findDocs(t, p, map[string]any{
		"integrationId": "mongo",
		"collection":    "people",
		"filter":        `{"active": true}`,
		"sort":          `{"age": -1}`,
	})
	require.False(t, res.Failed(), res.ErrorMessage())
	assert.Equal(t, 2, res["count"])
	docs := res["documents"].([]any)
	assert.Equal(t, "cy", docs[0].(map[string]any)["name"])
	assert.Equal(t, "ada", docs[1].(map[string]any)["name"])
	assert.IsType(t, "", docs[0].(map[string]any)["_id"])

	res = findDocs(t, p, map[string]any{
		"integrationId": "mongo",
		"collection":    "people",
		"sort":          `{"age": 1}`,
		"skip":          1,
		"limit":         1,
	})
	require.False(t, res.Failed(), res.ErrorMessage())
	assert.Equal(t, 1, res["count"])
	assert.Equal(t, "ada", res["documents"].([]any)[0].(map[string]any)["name"])
}
