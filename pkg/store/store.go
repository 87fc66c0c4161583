// Package store persists trip records into a keyed store with per-record
// expiry, batching writes into bulk submissions.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/busboard/busboard/pkg/config"
	"github.com/busboard/busboard/pkg/database"
	"github.com/busboard/busboard/pkg/redis_client"
	"github.com/busboard/busboard/pkg/trips"
)

// Operation is one record write. Every write, create or update alike, resets
// the record's expiry to the full TTL.
type Operation struct {
	Key    string
	Record trips.TripRecord
	TTL    time.Duration
}

// BulkResult reports the outcome of an accepted bulk submission. Failed counts
// operations the store rejected individually - partial success is reported,
// not retried.
type BulkResult struct {
	Failed int
}

// ConnectionError is a failure to reach the store. Fatal to the cycle and
// retried on the next one.
type ConnectionError struct {
	Backend string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s store connection: %s", e.Backend, e.Err.Error())
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// OperationError is a failed bulk submission, carrying how many operations
// were attempted in it.
type OperationError struct {
	Attempted int
	Err       error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("bulk write of %d operations: %s", e.Attempted, e.Err.Error())
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// Store is the keyed record store the merge engine reconciles against.
type Store interface {
	Exists(ctx context.Context, keys []string) (map[string]bool, error)
	Read(ctx context.Context, keys []string) (map[string]trips.TripRecord, error)
	BulkWrite(ctx context.Context, operations []Operation) (BulkResult, error)
}

// NewFromConfig connects the configured backend and returns a Store over it.
func NewFromConfig(cfg *config.Config) (Store, error) {
	switch cfg.Store {
	case config.StoreBackendMongoDB:
		if err := database.Connect(); err != nil {
			return nil, &ConnectionError{Backend: "mongodb", Err: err}
		}

		mongoStore := NewMongoStore(database.GetCollection(MongoCollectionName))
		if err := mongoStore.EnsureIndexes(context.Background()); err != nil {
			return nil, &ConnectionError{Backend: "mongodb", Err: err}
		}

		return mongoStore, nil
	default:
		if err := redis_client.Connect(); err != nil {
			return nil, &ConnectionError{Backend: "redis", Err: err}
		}

		return NewRedisStore(redis_client.Client), nil
	}
}
