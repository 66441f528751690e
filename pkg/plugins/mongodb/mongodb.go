// Package mongodb provides the MongoDB plugin's "Find Documents" action.
package mongodb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wehubfusion/Daedalus/pkg/actions"
	"github.com/wehubfusion/Daedalus/pkg/credentials"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const (
	// FindDocumentsID is the action type of Find Documents.
	FindDocumentsID = "Find Documents"
	// URIKey and DatabaseKey are the credentials the plugin reads.
	URIKey      = "MONGODB_URI"
	DatabaseKey = "MONGODB_DB"

	defaultLimit           = 100
	maxLimit               = 1000
	serverSelectionTimeout = 10 * time.Second
)

// Plugin holds the MongoDB actions.
type Plugin struct {
	creds  credentials.Fetcher
	logger *zap.Logger
}

// New creates the plugin.
func New(creds credentials.Fetcher, logger *zap.Logger) *Plugin {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Plugin{creds: creds, logger: logger}
}

// Actions returns the plugin's actions.
func (p *Plugin) Actions() []actions.Action {
	return []actions.Action{{
		ID:          FindDocumentsID,
		Label:       FindDocumentsID,
		Category:    "MongoDB",
		Description: "Query documents from a MongoDB collection",
		Step:        p.findDocuments,
	}}
}

type findQuery struct {
	collection string
	filter     bson.D
	sort       bson.D
	limit      int64
	skip       int64
}

func (p *Plugin) findDocuments(ctx context.Context, in actions.StepInput) (actions.StepResult, error) {
	q, res := parseQuery(in)
	if res != nil {
		return res, nil
	}

	fields, err := credentials.ForIntegration(ctx, p.creds, in.IntegrationID)
	if err != nil {
		return failure(err.Error()), nil
	}
	if fields[URIKey] == "" || fields[DatabaseKey] == "" {
		return failure("MongoDB credentials not configured"), nil
	}

	docs, err := find(ctx, fields[URIKey], fields[DatabaseKey], q)
	if err != nil {
		return failure(err.Error()), nil
	}

	p.logger.Debug("MongoDB documents found",
		zap.String("node_id", in.Context.NodeID),
		zap.String("collection", q.collection),
		zap.Int("count", len(docs)))
	return actions.Success(map[string]any{"documents": docs, "count": len(docs)}), nil
}

// parseQuery validates the step input. A non-nil result is the failure to
// return.
func parseQuery(in actions.StepInput) (findQuery, actions.StepResult) {
	q := findQuery{collection: in.String("collection"), filter: bson.D{}}

	var errs []actions.FieldError
	if q.collection == "" {
		errs = append(errs, actions.FieldError{Field: "collection", Message: "Collection name is required"})
	}
	limit, err := in.Int("limit", defaultLimit)
	switch {
	case err != nil:
		errs = append(errs, actions.FieldError{Field: "limit", Message: "Expected number"})
	case limit < 1:
		errs = append(errs, actions.FieldError{Field: "limit", Message: "Number must be greater than or equal to 1"})
	case limit > maxLimit:
		errs = append(errs, actions.FieldError{Field: "limit", Message: "Number must be less than or equal to 1000"})
	}
	skip, err := in.Int("skip", 0)
	switch {
	case err != nil:
		errs = append(errs, actions.FieldError{Field: "skip", Message: "Expected number"})
	case skip < 0:
		errs = append(errs, actions.FieldError{Field: "skip", Message: "Number must be greater than or equal to 0"})
	}
	if len(errs) > 0 {
		return q, withEmpty(actions.ValidationFailure(errs...))
	}
	q.limit, q.skip = int64(limit), int64(skip)

	if filter := in.String("filter"); filter != "" {
		doc, err := parseObject(filter)
		switch {
		case errors.Is(err, errNotObject):
			return q, failure("Filter must be a JSON object, not an array or primitive")
		case err != nil:
			return q, failure("Invalid JSON filter")
		}
		q.filter = doc
	}

	if sort := in.String("sort"); sort != "" {
		doc, err := parseObject(sort)
		switch {
		case errors.Is(err, errNotObject):
			return q, failure("Sort specification must be a JSON object")
		case err != nil:
			return q, failure("Invalid JSON sort specification")
		}
		for _, e := range doc {
			if !isDirection(e.Value) {
				return q, failure(fmt.Sprintf("Invalid sort value for field %q: must be 1 (ascending) or -1 (descending)", e.Key))
			}
		}
		q.sort = doc
	}
	return q, nil
}

var errNotObject = errors.New("not a JSON object")

// parseObject decodes Extended JSON into an ordered document so $oid and
// $date work in filters and sort keys keep their order.
func parseObject(s string) (bson.D, error) {
	if !json.Valid([]byte(s)) {
		return nil, errors.New("invalid JSON")
	}
	if !strings.HasPrefix(strings.TrimSpace(s), "{") {
		return nil, errNotObject
	}
	var doc bson.D
	if err := bson.UnmarshalExtJSON([]byte(s), false, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func isDirection(v any) bool {
	switch n := v.(type) {
	case int32:
		return n == 1 || n == -1
	case int64:
		return n == 1 || n == -1
	case float64:
		return n == 1 || n == -1
	}
	return false
}

func find(ctx context.Context, uri, database string, q findQuery) ([]any, error) {
	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(1).
		SetServerSelectionTimeout(serverSelectionTimeout))
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = client.Disconnect(context.Background())
	}()

	opts := options.Find().SetLimit(q.limit).SetSkip(q.skip)
	if len(q.sort) > 0 {
		opts.SetSort(q.sort)
	}
	cursor, err := client.Database(database).Collection(q.collection).Find(ctx, q.filter, opts)
	if err != nil {
		return nil, err
	}
	var raw []bson.M
	if err := cursor.All(ctx, &raw); err != nil {
		return nil, err
	}

	docs := make([]any, len(raw))
	for i, d := range raw {
		docs[i] = normalize(d)
	}
	return docs, nil
}

// normalize converts BSON values into plain JSON-shaped Go values.
func normalize(v any) any {
	switch t := v.(type) {
	case bson.M:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = normalize(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	case primitive.ObjectID:
		return t.Hex()
	case primitive.DateTime:
		return t.Time().UTC().Format(time.RFC3339Nano)
	case primitive.Decimal128:
		return t.String()
	case int32:
		return int64(t)
	}
	return v
}

func failure(msg string) actions.StepResult {
	return withEmpty(actions.Failure(msg, nil))
}

func withEmpty(r actions.StepResult) actions.StepResult {
	r["documents"] = []any{}
	r["count"] = 0
	return r
}
