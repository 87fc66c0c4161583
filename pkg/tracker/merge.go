package tracker

import (
	"context"
	"time"

	"github.com/busboard/busboard/pkg/store"
	"github.com/busboard/busboard/pkg/trips"
	"golang.org/x/exp/slices"
)

// Merger reconciles a cycle's trip records against the persisted copies,
// writing creates and in-place merges back in chunked bulk submissions. The
// read-then-write per key is safe because the run loop never overlaps cycles.
type Merger struct {
	Store     store.Store
	Retention time.Duration
	BatchSize int
}

type MergeResult struct {
	Created int
	Updated int
	Failed  int
}

type plannedOperation struct {
	operation store.Operation
	create    bool
}

func (m *Merger) Merge(ctx context.Context, records []trips.TripRecord) (MergeResult, error) {
	result := MergeResult{}

	if len(records) == 0 {
		return result, nil
	}

	keys := make([]string, len(records))
	for i := range records {
		keys[i] = records[i].Key()
	}

	present, err := m.Store.Exists(ctx, keys)
	if err != nil {
		return result, err
	}

	var existingKeys []string
	for _, key := range keys {
		if present[key] {
			existingKeys = append(existingKeys, key)
		}
	}

	existing := map[string]trips.TripRecord{}
	if len(existingKeys) > 0 {
		existing, err = m.Store.Read(ctx, existingKeys)
		if err != nil {
			return result, err
		}
	}

	planned := make([]plannedOperation, 0, len(records))
	for i, record := range records {
		operation := store.Operation{
			Key:    keys[i],
			Record: record,
			TTL:    m.Retention,
		}

		previous, ok := existing[keys[i]]
		if ok {
			operation.Record = mergeRecords(previous, record)
		}

		planned = append(planned, plannedOperation{operation: operation, create: !ok})
	}

	// Chunked sub-batches bound in-flight memory on large cycles
	for start := 0; start < len(planned); start += m.BatchSize {
		end := min(start+m.BatchSize, len(planned))
		chunk := planned[start:end]

		operations := make([]store.Operation, len(chunk))
		for i, plan := range chunk {
			operations[i] = plan.operation
		}

		bulkResult, err := m.Store.BulkWrite(ctx, operations)
		if err != nil {
			return result, err
		}

		for _, plan := range chunk {
			if plan.create {
				result.Created += 1
			} else {
				result.Updated += 1
			}
		}
		result.Failed += bulkResult.Failed
	}

	return result, nil
}

// mergeRecords folds an incoming record into the persisted one. Stops sharing
// an identity only have their delay and time refreshed; new identities are
// appended. Prior stops never disappear from a merge.
func mergeRecords(previous trips.TripRecord, incoming trips.TripRecord) trips.TripRecord {
	merged := trips.TripRecord{
		TripID:  incoming.TripID,
		RouteID: incoming.RouteID,
		Stops:   slices.Clone(previous.Stops),
	}

	positions := map[string]int{}
	for i := range merged.Stops {
		positions[merged.Stops[i].Identity()] = i
	}

	for _, stop := range incoming.Stops {
		if i, ok := positions[stop.Identity()]; ok {
			merged.Stops[i].DepartureDelay = stop.DepartureDelay
			merged.Stops[i].DepartureTime = stop.DepartureTime
		} else {
			merged.Stops = append(merged.Stops, stop)
			positions[stop.Identity()] = len(merged.Stops) - 1
		}
	}

	return merged
}
