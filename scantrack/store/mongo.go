package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoConfig holds connection settings for the Mongo-backed store.
type MongoConfig struct {
	URI      string
	Database string
	Retries  int
	Backoff  time.Duration
}

// MongoStore implements DocStore on top of a MongoDB database. Each path's
// first segment maps to a collection, the rest to the document _id.
type MongoStore struct {
	client  *mongo.Client
	db      *mongo.Database
	retries int
	backoff time.Duration
}

// NewMongoStore connects to MongoDB and pings it before returning.
func NewMongoStore(ctx context.Context, cfg MongoConfig) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	retries := cfg.Retries
	if retries <= 0 {
		retries = 3
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}

	slog.Info("Document store connected",
		slog.String("type", "db"),
		slog.String("database", cfg.Database))

	return &MongoStore{
		client:  client,
		db:      client.Database(cfg.Database),
		retries: retries,
		backoff: backoff,
	}, nil
}

// Close disconnects the underlying client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) CreateIfAbsent(ctx context.Context, path string, data map[string]any) (Outcome, error) {
	coll, id := SplitPath(path)
	doc := bson.M{"_id": id}
	for k, v := range data {
		doc[k] = v
	}

	var lastErr error
	for attempt := 0; attempt <= s.retries; attempt++ {
		_, err := s.db.Collection(coll).InsertOne(ctx, doc)
		if err == nil {
			return OutcomeCreated, nil
		}
		if mongo.IsDuplicateKeyError(err) {
			return OutcomeAlreadyExists, nil
		}
		lastErr = err
		if !isTransient(err) {
			break
		}
		time.Sleep(s.backoff)
	}
	return OutcomeError, fmt.Errorf("create %s failed: %w", path, lastErr)
}

func (s *MongoStore) UpsertMerge(ctx context.Context, path string, data map[string]any) error {
	coll, id := SplitPath(path)
	set := bson.M{}
	flattenInto(set, "", data)

	var lastErr error
	for attempt := 0; attempt <= s.retries; attempt++ {
		_, err := s.db.Collection(coll).UpdateByID(ctx, id,
			bson.M{"$set": set}, options.Update().SetUpsert(true))
		if err == nil {
			return nil
		}
		lastErr = err
		if !isTransient(err) {
			break
		}
		time.Sleep(s.backoff)
	}
	return fmt.Errorf("merge %s failed: %w", path, lastErr)
}

func (s *MongoStore) Get(ctx context.Context, path string) (map[string]any, error) {
	coll, id := SplitPath(path)
	var doc bson.M
	err := s.db.Collection(coll).FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s failed: %w", path, err)
	}
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		if k == "_id" {
			continue
		}
		out[k] = v
	}
	return out, nil
}

func (s *MongoStore) BatchCommit(ctx context.Context, ops []Op) []OpResult {
	results := make([]OpResult, len(ops))
	// BulkWrite is per-collection, so commit ops one collection at a time
	// while preserving input-order results.
	byColl := make(map[string][]int)
	for i, op := range ops {
		coll, _ := SplitPath(op.Path)
		byColl[coll] = append(byColl[coll], i)
	}

	for coll, indexes := range byColl {
		models := make([]mongo.WriteModel, 0, len(indexes))
		for _, i := range indexes {
			op := ops[i]
			_, id := SplitPath(op.Path)
			switch op.Kind {
			case OpCreate:
				doc := bson.M{"_id": id}
				for k, v := range op.Data {
					doc[k] = v
				}
				models = append(models, mongo.NewInsertOneModel().SetDocument(doc))
			default:
				set := bson.M{}
				flattenInto(set, "", op.Data)
				models = append(models, mongo.NewUpdateOneModel().
					SetFilter(bson.M{"_id": id}).
					SetUpdate(bson.M{"$set": set}).
					SetUpsert(true))
			}
		}

		opts := options.BulkWrite().SetOrdered(false)
		_, err := s.db.Collection(coll).BulkWrite(ctx, models, opts)

		failed := make(map[int]error)
		if err != nil {
			if bwe, ok := err.(mongo.BulkWriteException); ok {
				for _, we := range bwe.WriteErrors {
					if we.Index >= 0 && we.Index < len(indexes) {
						if we.Code == 11000 {
							failed[we.Index] = nil // duplicate key, not a failure
						} else {
							failed[we.Index] = we
						}
					}
				}
			} else {
				// Whole batch failed (connection-level fault).
				for j := range indexes {
					failed[j] = err
				}
			}
		}

		for j, i := range indexes {
			op := ops[i]
			res := OpResult{Path: op.Path, Outcome: OutcomeCreated}
			if op.Kind == OpMerge {
				res.Outcome = OutcomeMerged
			}
			if ferr, hit := failed[j]; hit {
				if ferr == nil {
					res.Outcome = OutcomeAlreadyExists
				} else {
					res.Outcome = OutcomeError
					res.Err = fmt.Errorf("op %s failed: %w", op.Path, ferr)
				}
			}
			results[i] = res
		}
	}
	return results
}

// flattenInto turns nested maps into dotted $set keys so merges only touch
// the supplied fields.
func flattenInto(dst bson.M, prefix string, data map[string]any) {
	for k, v := range data {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			flattenInto(dst, key, nested)
			continue
		}
		dst[key] = v
	}
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if mongo.IsTimeout(err) || mongo.IsNetworkError(err) {
		return true
	}
	return false
}
