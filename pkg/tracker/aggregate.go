package tracker

import (
	"time"

	"github.com/busboard/busboard/pkg/trips"
	"github.com/busboard/busboard/pkg/util"
	"github.com/rs/zerolog/log"
	"golang.org/x/exp/slices"
)

// Aggregator reduces a cycle's stop updates to one record per (trip, route)
// pair, keeping only the current pending stop and the immediately following
// one, and drops stops that have already been filtered out by time.
type Aggregator struct {
	Location             *time.Location
	KeepUnscheduledStops bool

	// Now is read once per Aggregate call; overridable in tests
	Now func() time.Time
}

type AggregateStats struct {
	GroupedTrips  int
	DroppedByTime int
	ParseFailures int
}

func (a *Aggregator) Aggregate(stopUpdates []trips.StopUpdate) ([]trips.TripRecord, AggregateStats) {
	stats := AggregateStats{}

	grouped := map[string]*trips.TripRecord{}
	for _, stopUpdate := range stopUpdates {
		key := trips.RecordKey(stopUpdate.TripID, stopUpdate.RouteID)

		record := grouped[key]
		if record == nil {
			record = &trips.TripRecord{
				TripID:  stopUpdate.TripID,
				RouteID: stopUpdate.RouteID,
			}
			grouped[key] = record
		}

		// Trip identity lives on the record, not on the nested stops
		nested := stopUpdate
		nested.TripID = ""
		nested.RouteID = ""

		record.Stops = append(record.Stops, nested)
	}

	stats.GroupedTrips = len(grouped)

	nowFunc := a.Now
	if nowFunc == nil {
		nowFunc = time.Now
	}
	now := nowFunc().In(a.Location)

	var records []trips.TripRecord
	for _, record := range grouped {
		slices.SortFunc(record.Stops, func(x, y trips.StopUpdate) int {
			return int(x.StopSequence) - int(y.StopSequence)
		})

		// Keep the minimum sequence stop plus the first one exactly adjacent
		// to it - sequence gaps never pull in a second stop
		minSequence := record.Stops[0].StopSequence
		selected := record.Stops[:1]
		for _, stop := range record.Stops[1:] {
			if stop.StopSequence == minSequence+1 {
				selected = append(selected, stop)
				break
			}
		}

		selected = util.FilterInPlace(selected, func(stop trips.StopUpdate) bool {
			if !stop.Scheduled() {
				return a.KeepUnscheduledStops
			}

			departureTime, err := stop.ParseDepartureTime(a.Location)
			if err != nil {
				log.Error().
					Err(err).
					Str("trip", record.TripID).
					Str("stop", stop.StopID).
					Msg("Failed to parse departure time")
				stats.ParseFailures += 1

				return false
			}

			if departureTime.After(now) {
				stats.DroppedByTime += 1

				return false
			}

			return true
		})

		if len(selected) == 0 {
			continue
		}

		record.Stops = selected
		records = append(records, *record)
	}

	return records, stats
}
