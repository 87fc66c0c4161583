package store

import (
	"context"
	"errors"
	"time"

	"github.com/busboard/busboard/pkg/trips"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoCollectionName is where trip records live when the MongoDB backend is
// selected.
const MongoCollectionName = "trips_stops"

type mongoTripRecord struct {
	Key              string `bson:"_id"`
	trips.TripRecord `bson:",inline"`
	ExpiresAt        time.Time `bson:"expires_at"`
}

// MongoStore keeps trip records in a single collection, with expiry handled
// by a TTL index over the expires_at field that every write pushes forward.
type MongoStore struct {
	collection *mongo.Collection
}

func NewMongoStore(collection *mongo.Collection) *MongoStore {
	return &MongoStore{collection: collection}
}

// EnsureIndexes creates the TTL index that ages records out. MongoDB treats
// an identical existing index as a no-op.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.M{"expires_at": 1},
		Options: options.Index().SetExpireAfterSeconds(0),
	})

	return err
}

func (s *MongoStore) Exists(ctx context.Context, keys []string) (map[string]bool, error) {
	opts := options.Find().SetProjection(bson.M{"_id": 1})

	cursor, err := s.collection.Find(ctx, bson.M{"_id": bson.M{"$in": keys}}, opts)
	if err != nil {
		return nil, &ConnectionError{Backend: "mongodb", Err: err}
	}

	var documents []struct {
		Key string `bson:"_id"`
	}
	if err := cursor.All(ctx, &documents); err != nil {
		return nil, &ConnectionError{Backend: "mongodb", Err: err}
	}

	present := map[string]bool{}
	for _, key := range keys {
		present[key] = false
	}
	for _, document := range documents {
		present[document.Key] = true
	}

	return present, nil
}

func (s *MongoStore) Read(ctx context.Context, keys []string) (map[string]trips.TripRecord, error) {
	cursor, err := s.collection.Find(ctx, bson.M{"_id": bson.M{"$in": keys}})
	if err != nil {
		return nil, &ConnectionError{Backend: "mongodb", Err: err}
	}

	var documents []mongoTripRecord
	if err := cursor.All(ctx, &documents); err != nil {
		return nil, &ConnectionError{Backend: "mongodb", Err: err}
	}

	records := map[string]trips.TripRecord{}
	for _, document := range documents {
		records[document.Key] = document.TripRecord
	}

	return records, nil
}

func (s *MongoStore) BulkWrite(ctx context.Context, operations []Operation) (BulkResult, error) {
	writeModels := make([]mongo.WriteModel, len(operations))
	for i, operation := range operations {
		document := mongoTripRecord{
			Key:        operation.Key,
			TripRecord: operation.Record,
			ExpiresAt:  time.Now().Add(operation.TTL),
		}

		writeModels[i] = mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": operation.Key}).
			SetReplacement(document).
			SetUpsert(true)
	}

	_, err := s.collection.BulkWrite(ctx, writeModels, options.BulkWrite().SetOrdered(false))
	if err != nil {
		var bulkErr mongo.BulkWriteException
		if errors.As(err, &bulkErr) {
			return BulkResult{Failed: len(bulkErr.WriteErrors)}, nil
		}

		return BulkResult{}, &OperationError{Attempted: len(operations), Err: err}
	}

	return BulkResult{}, nil
}
