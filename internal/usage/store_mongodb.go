package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ErrPartialWrite indicates that a batch write only partially succeeded.
var ErrPartialWrite = errors.New("partial write failure")

// PartialWriteError reports how many entries of a bulk insert failed.
type PartialWriteError struct {
	TotalEntries int
	FailedCount  int
	Cause        mongo.BulkWriteException
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("partial usage insert: %d of %d entries failed: %v",
		e.FailedCount, e.TotalEntries, e.Cause.Error())
}

func (e *PartialWriteError) Unwrap() error {
	return ErrPartialWrite
}

// MongoDBStore implements UsageStore for MongoDB. Retention is enforced by a
// TTL index rather than a cleanup loop.
type MongoDBStore struct {
	collection *mongo.Collection
}

// NewMongoDBStore creates the generation_usage collection indexes.
func NewMongoDBStore(ctx context.Context, database *mongo.Database, retentionDays int) (*MongoDBStore, error) {
	if database == nil {
		return nil, fmt.Errorf("database is required")
	}

	collection := database.Collection("generation_usage")

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	timestampIndex := mongo.IndexModel{Keys: bson.D{{Key: "timestamp", Value: -1}}}
	if retentionDays > 0 {
		timestampIndex.Options = options.Index().SetExpireAfterSeconds(int32(retentionDays * 24 * 60 * 60))
	}

	indexes := []mongo.IndexModel{
		timestampIndex,
		{Keys: bson.D{{Key: "provider", Value: 1}}},
		{Keys: bson.D{{Key: "caller_id", Value: 1}}},
		{Keys: bson.D{{Key: "request_id", Value: 1}}},
	}
	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		slog.Warn("failed to create some MongoDB indexes for usage", "error", err)
	}

	return &MongoDBStore{collection: collection}, nil
}

// WriteBatch writes entries with an unordered InsertMany.
func (s *MongoDBStore) WriteBatch(ctx context.Context, entries []*UsageEntry) error {
	if len(entries) == 0 {
		return nil
	}

	docs := make([]any, len(entries))
	for i, e := range entries {
		docs[i] = e
	}

	_, err := s.collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err == nil {
		return nil
	}

	var bulkErr mongo.BulkWriteException
	var bulkErrPtr *mongo.BulkWriteException
	if errors.As(err, &bulkErrPtr) && bulkErrPtr != nil {
		bulkErr = *bulkErrPtr
	}
	if bulkErrPtr != nil || errors.As(err, &bulkErr) {
		failed := len(bulkErr.WriteErrors)
		slog.Warn("partial usage insert failure",
			"total", len(entries),
			"failed", failed,
			"succeeded", len(entries)-failed,
		)
		return &PartialWriteError{TotalEntries: len(entries), FailedCount: failed, Cause: bulkErr}
	}
	return fmt.Errorf("failed to insert usage entries: %w", err)
}

// Flush is a no-op for MongoDB as writes are synchronous.
func (s *MongoDBStore) Flush(_ context.Context) error {
	return nil
}

// Close is a no-op; the client belongs to the storage layer.
func (s *MongoDBStore) Close() error {
	return nil
}
