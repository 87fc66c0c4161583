package tracker

import (
	"time"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/busboard/busboard/pkg/trips"
	"github.com/busboard/busboard/pkg/util"
	"github.com/sourcegraph/conc/pool"
)

// Filter selects the feed entities worth tracking and extracts their per-stop
// records. It is a pure transform - filtering an entity has no side effects,
// so entities are fanned out across a pool and gathered before aggregation.
type Filter struct {
	Markers  []string
	Location *time.Location
}

// EntityStopUpdates produces the stop updates carried by one feed entity.
// Entities without a trip update payload, or whose trip identifier matches
// none of the configured markers, produce nothing.
func (f *Filter) EntityStopUpdates(entity *gtfs.FeedEntity) []trips.StopUpdate {
	tripUpdate := entity.GetTripUpdate()
	if tripUpdate == nil {
		return nil
	}

	tripID := tripUpdate.GetTrip().GetTripId()
	if !util.ContainsAny(tripID, f.Markers) {
		return nil
	}

	routeID := tripUpdate.GetTrip().GetRouteId()

	var stopUpdates []trips.StopUpdate
	for _, stopTimeUpdate := range tripUpdate.GetStopTimeUpdate() {
		stopUpdate := trips.StopUpdate{
			TripID:       tripID,
			RouteID:      routeID,
			StopID:       stopTimeUpdate.GetStopId(),
			StopSequence: stopTimeUpdate.GetStopSequence(),
		}

		// The departure sub-field can be genuinely absent, which must stay
		// distinguishable from a zero delay
		if departure := stopTimeUpdate.GetDeparture(); departure != nil {
			delay := int(departure.GetDelay())
			localized := time.Unix(departure.GetTime(), 0).In(f.Location).Format(trips.DepartureTimeFormat)

			stopUpdate.DepartureDelay = &delay
			stopUpdate.DepartureTime = &localized
		}

		stopUpdates = append(stopUpdates, stopUpdate)
	}

	return stopUpdates
}

// FilterEntities runs the entity filter over a full feed snapshot and gathers
// the results. Returns all extracted stop updates plus the number of entities
// that contributed any.
func (f *Filter) FilterEntities(entities []*gtfs.FeedEntity) ([]trips.StopUpdate, int) {
	p := pool.NewWithResults[[]trips.StopUpdate]()

	for _, entity := range entities {
		entity := entity

		p.Go(func() []trips.StopUpdate {
			return f.EntityStopUpdates(entity)
		})
	}

	var allStopUpdates []trips.StopUpdate
	matched := 0
	for _, stopUpdates := range p.Wait() {
		if len(stopUpdates) > 0 {
			matched += 1
			allStopUpdates = append(allStopUpdates, stopUpdates...)
		}
	}

	return allStopUpdates, matched
}
