package tracker_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"github.com/busboard/busboard/pkg/config"
	"github.com/busboard/busboard/pkg/feed"
	"github.com/busboard/busboard/pkg/metrics"
	"github.com/busboard/busboard/pkg/tracker"
	"github.com/busboard/busboard/pkg/trips"
)

// ---- fake feed source ------------------------------------------------------

type fakeSource struct {
	payloads [][]byte
	err      error
	calls    int
}

func (f *fakeSource) Fetch(ctx context.Context) ([]byte, error) {
	f.calls += 1

	if f.err != nil {
		return nil, f.err
	}

	payload := f.payloads[min(f.calls, len(f.payloads))-1]

	return payload, nil
}

var _ feed.Source = (*fakeSource)(nil)

// slowSource simulates a feed whose retrieval outlasts the poll interval,
// recording when each fetch starts and whether any two ever overlap.
type slowSource struct {
	delay   time.Duration
	payload []byte

	mu       sync.Mutex
	starts   []time.Time
	inFlight int
	overlaps int
}

func (s *slowSource) Fetch(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	s.starts = append(s.starts, time.Now())
	s.inFlight += 1
	if s.inFlight > 1 {
		s.overlaps += 1
	}
	s.mu.Unlock()

	time.Sleep(s.delay)

	s.mu.Lock()
	s.inFlight -= 1
	s.mu.Unlock()

	return s.payload, nil
}

func (s *slowSource) startCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.starts)
}

func (s *slowSource) snapshot() ([]time.Time, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]time.Time(nil), s.starts...), s.overlaps
}

var _ feed.Source = (*slowSource)(nil)

// ---- helpers ---------------------------------------------------------------

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	return &config.Config{
		FeedURL:      "http://feed.test/TripUpdates",
		TripMarkers:  []string{"SBL", "SUN"},
		PollInterval: 5 * time.Millisecond,
		Retention:    24 * time.Hour,
		Timezone:     "Australia/Brisbane",
		Location:     brisbane(t),
		Store:        config.StoreBackendRedis,
		BatchSize:    500,
	}
}

func feedPayload(t *testing.T, entities ...*gtfs.FeedEntity) []byte {
	t.Helper()

	payload, err := proto.Marshal(&gtfs.FeedMessage{
		Header: &gtfs.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
		},
		Entity: entities,
	})
	require.NoError(t, err)

	return payload
}

func departedStopTime(t *testing.T, stopID string, sequence uint32, delay int32) *gtfs.TripUpdate_StopTimeUpdate {
	t.Helper()

	return &gtfs.TripUpdate_StopTimeUpdate{
		StopId:       proto.String(stopID),
		StopSequence: proto.Uint32(sequence),
		Departure: &gtfs.TripUpdate_StopTimeEvent{
			Delay: proto.Int32(delay),
			Time:  proto.Int64(time.Now().Add(-time.Hour).Unix()),
		},
	}
}

// ---- tests -----------------------------------------------------------------

func TestRunCycleEndToEndAcrossTwoCycles(t *testing.T) {
	firstCycle := feedPayload(t, tripUpdateEntity("1", "1-SBL", "10",
		departedStopTime(t, "A", 1, 10),
		departedStopTime(t, "B", 2, 5),
	))
	secondCycle := feedPayload(t, tripUpdateEntity("1", "1-SBL", "10",
		departedStopTime(t, "A", 1, 30),
		departedStopTime(t, "B", 2, 5),
	))

	source := &fakeSource{payloads: [][]byte{firstCycle, secondCycle}}
	memory := newMemoryStore()
	tr := tracker.NewTracker(testConfig(t), source, memory, metrics.NewCollector())

	result, err := tr.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.EntitiesSeen)
	assert.Equal(t, 1, result.EntitiesMatched)
	assert.Equal(t, 2, result.StopUpdates)
	assert.Equal(t, 1, result.Trips)
	assert.Equal(t, 1, result.Created)

	result, err = tr.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)

	persisted := memory.records[trips.RecordKey("1-SBL", "10")]
	require.Len(t, persisted.Stops, 2)
	assert.Equal(t, uint32(1), persisted.Stops[0].StopSequence)
	assert.Equal(t, 30, *persisted.Stops[0].DepartureDelay)
	assert.Equal(t, uint32(2), persisted.Stops[1].StopSequence)
	assert.Equal(t, 5, *persisted.Stops[1].DepartureDelay)
}

func TestRunCycleSurfacesTransportError(t *testing.T) {
	source := &fakeSource{err: errors.New("connection refused")}
	tr := tracker.NewTracker(testConfig(t), source, newMemoryStore(), metrics.NewCollector())

	result, err := tr.RunCycle(context.Background())
	assert.Error(t, err)
	assert.Zero(t, result)
}

func TestRunCycleSurfacesDecodeError(t *testing.T) {
	source := &fakeSource{payloads: [][]byte{[]byte("not a protobuf message")}}
	tr := tracker.NewTracker(testConfig(t), source, newMemoryStore(), metrics.NewCollector())

	_, err := tr.RunCycle(context.Background())
	require.Error(t, err)

	var decodeErr *feed.DecodeError
	assert.ErrorAs(t, err, &decodeErr)
}

func TestRunContinuesPastCycleFailures(t *testing.T) {
	source := &fakeSource{err: errors.New("feed unavailable")}
	tr := tracker.NewTracker(testConfig(t), source, newMemoryStore(), metrics.NewCollector())

	shutdown := make(chan os.Signal, 1)
	done := make(chan error, 1)

	go func() {
		done <- tr.Run(shutdown)
	}()

	time.Sleep(50 * time.Millisecond)
	shutdown <- syscall.SIGTERM

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("run loop did not exit on shutdown signal")
	}

	// Failures degrade the next attempt, not availability
	assert.Greater(t, source.calls, 2)
}

func TestRunStartsNextCycleImmediatelyAfterOverrun(t *testing.T) {
	cfg := testConfig(t)
	cfg.PollInterval = 100 * time.Millisecond

	// Every fetch outlasts the poll interval, so every cycle overruns
	source := &slowSource{
		delay:   150 * time.Millisecond,
		payload: feedPayload(t),
	}
	tr := tracker.NewTracker(cfg, source, newMemoryStore(), metrics.NewCollector())

	shutdown := make(chan os.Signal, 1)
	done := make(chan error, 1)

	go func() {
		done <- tr.Run(shutdown)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for source.startCount() < 3 {
		if time.Now().After(deadline) {
			t.Fatal("run loop never reached three cycles")
		}

		time.Sleep(5 * time.Millisecond)
	}

	shutdown <- syscall.SIGTERM

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run loop did not exit on shutdown signal")
	}

	starts, overlaps := source.snapshot()
	require.GreaterOrEqual(t, len(starts), 3)

	// Overrunning cycles run back-to-back, never concurrently. Sleeping the
	// interval out would push the gap to delay+interval, so anything clearly
	// short of that means the next cycle started immediately.
	assert.Zero(t, overlaps)
	for i := 1; i < 3; i++ {
		gap := starts[i].Sub(starts[i-1])
		assert.Less(t, gap, source.delay+cfg.PollInterval/2,
			"cycle %d waited out the poll interval despite the previous cycle overrunning", i)
	}
}
