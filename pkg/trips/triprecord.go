package trips

import (
	"fmt"
	"time"
)

// RecordKeyPrefix namespaces every persisted trip record in the store.
const RecordKeyPrefix = "gtfs"

// DepartureTimeFormat is the second-precision layout departure times are
// serialized with, always in the reporting timezone.
const DepartureTimeFormat = "2006-01-02 15:04:05"

// StopUpdate is one scheduled stop visit within a trip. DepartureDelay and
// DepartureTime are either both set or both nil - the feed's departure
// sub-field can be genuinely absent, which is not the same as a zero delay.
type StopUpdate struct {
	TripID         string  `json:"trip_id,omitempty" bson:"trip_id,omitempty"`
	RouteID        string  `json:"route_id,omitempty" bson:"route_id,omitempty"`
	StopID         string  `json:"stop_id" bson:"stop_id"`
	StopSequence   uint32  `json:"stop_sequence" bson:"stop_sequence"`
	DepartureDelay *int    `json:"departure_delay,omitempty" bson:"departure_delay,omitempty"`
	DepartureTime  *string `json:"departure_time,omitempty" bson:"departure_time,omitempty"`
}

// Identity returns the merge identity of the stop. Two stops sharing an
// identity are the same logical event and only differ in their live
// delay/time fields.
func (s *StopUpdate) Identity() string {
	return fmt.Sprintf("%s:%d", s.StopID, s.StopSequence)
}

// Scheduled reports whether the stop carries departure information.
func (s *StopUpdate) Scheduled() bool {
	return s.DepartureTime != nil
}

// ParseDepartureTime resolves the serialized departure time in the given
// reporting timezone.
func (s *StopUpdate) ParseDepartureTime(location *time.Location) (time.Time, error) {
	if s.DepartureTime == nil {
		return time.Time{}, fmt.Errorf("stop %s has no departure time", s.Identity())
	}

	return time.ParseInLocation(DepartureTimeFormat, *s.DepartureTime, location)
}

// TripRecord is the unit of storage and merge - one per (trip, route) pair.
// The aggregator emits at most two stops per cycle but persisted records grow
// as later cycles append newly sighted stops.
type TripRecord struct {
	TripID  string       `json:"trip_id" bson:"trip_id"`
	RouteID string       `json:"route_id" bson:"route_id"`
	Stops   []StopUpdate `json:"stops" bson:"stops"`
}

// Key returns the composite store key for the record.
func (t *TripRecord) Key() string {
	return RecordKey(t.TripID, t.RouteID)
}

// RecordKey builds the fixed-prefix composite key for a (trip, route) pair.
func RecordKey(tripID string, routeID string) string {
	return fmt.Sprintf("%s:%s:%s", RecordKeyPrefix, tripID, routeID)
}
