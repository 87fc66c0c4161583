package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/busboard/busboard/pkg/trips"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisStore keeps each trip record as a JSON string value with a key-level
// TTL. All multi-key access goes through non-transactional pipelines so a
// cycle costs a fixed number of round trips.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Exists(ctx context.Context, keys []string) (map[string]bool, error) {
	pipe := s.client.Pipeline()

	commands := make([]*redis.IntCmd, len(keys))
	for i, key := range keys {
		commands[i] = pipe.Exists(ctx, key)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return nil, &ConnectionError{Backend: "redis", Err: err}
	}

	present := map[string]bool{}
	for i, key := range keys {
		present[key] = commands[i].Val() > 0
	}

	return present, nil
}

func (s *RedisStore) Read(ctx context.Context, keys []string) (map[string]trips.TripRecord, error) {
	pipe := s.client.Pipeline()

	commands := make([]*redis.StringCmd, len(keys))
	for i, key := range keys {
		commands[i] = pipe.Get(ctx, key)
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, &ConnectionError{Backend: "redis", Err: err}
	}

	records := map[string]trips.TripRecord{}
	for i, key := range keys {
		value, err := commands[i].Result()
		if errors.Is(err, redis.Nil) {
			// Expired between the exists check and the read - treated as a create
			continue
		}

		var record trips.TripRecord
		if err := json.Unmarshal([]byte(value), &record); err != nil {
			log.Error().Err(err).Str("key", key).Msg("Discarding unreadable persisted record")
			continue
		}

		records[key] = record
	}

	return records, nil
}

func (s *RedisStore) BulkWrite(ctx context.Context, operations []Operation) (BulkResult, error) {
	pipe := s.client.Pipeline()

	commands := make([]*redis.StatusCmd, len(operations))
	for i, operation := range operations {
		value, err := json.Marshal(operation.Record)
		if err != nil {
			return BulkResult{}, &OperationError{Attempted: len(operations), Err: err}
		}

		commands[i] = pipe.Set(ctx, operation.Key, value, operation.TTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return BulkResult{}, &OperationError{Attempted: len(operations), Err: err}
	}

	result := BulkResult{}
	for _, command := range commands {
		if command.Err() != nil {
			result.Failed += 1
		}
	}

	return result, nil
}
