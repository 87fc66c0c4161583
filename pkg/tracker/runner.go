package tracker

import (
	"context"
	"os"
	"time"

	"github.com/busboard/busboard/pkg/config"
	"github.com/busboard/busboard/pkg/feed"
	"github.com/busboard/busboard/pkg/metrics"
	"github.com/busboard/busboard/pkg/store"
	"github.com/rs/zerolog/log"
)

// Tracker drives the filter -> aggregate -> merge pipeline, one pass at a
// time. Exactly one cycle is ever in flight.
type Tracker struct {
	Config  *config.Config
	Source  feed.Source
	Store   store.Store
	Metrics *metrics.Collector

	filter     *Filter
	aggregator *Aggregator
	merger     *Merger
}

// CycleResult is the count set every cycle reports.
type CycleResult struct {
	EntitiesSeen    int
	EntitiesMatched int
	StopUpdates     int
	Trips           int
	DroppedByTime   int
	ParseFailures   int
	Created         int
	Updated         int
	Failed          int
}

func NewTracker(cfg *config.Config, source feed.Source, recordStore store.Store, collector *metrics.Collector) *Tracker {
	return &Tracker{
		Config:  cfg,
		Source:  source,
		Store:   recordStore,
		Metrics: collector,

		filter: &Filter{
			Markers:  cfg.TripMarkers,
			Location: cfg.Location,
		},
		aggregator: &Aggregator{
			Location:             cfg.Location,
			KeepUnscheduledStops: cfg.KeepUnscheduledStops,
		},
		merger: &Merger{
			Store:     recordStore,
			Retention: cfg.Retention,
			BatchSize: cfg.BatchSize,
		},
	}
}

// RunCycle executes a single fetch -> decode -> filter -> aggregate -> merge
// pass. Any error aborts the cycle, never the process.
func (t *Tracker) RunCycle(ctx context.Context) (CycleResult, error) {
	result := CycleResult{}

	body, err := t.Source.Fetch(ctx)
	if err != nil {
		return result, err
	}

	entities, err := feed.Decode(body)
	if err != nil {
		return result, err
	}
	result.EntitiesSeen = len(entities)

	stopUpdates, matched := t.filter.FilterEntities(entities)
	result.EntitiesMatched = matched
	result.StopUpdates = len(stopUpdates)

	records, stats := t.aggregator.Aggregate(stopUpdates)
	result.Trips = len(records)
	result.DroppedByTime = stats.DroppedByTime
	result.ParseFailures = stats.ParseFailures

	mergeResult, err := t.merger.Merge(ctx, records)
	result.Created = mergeResult.Created
	result.Updated = mergeResult.Updated
	result.Failed = mergeResult.Failed

	return result, err
}

// RunOnce runs a single cycle for the one-shot invocation mode. The returned
// error becomes the process exit status.
func (t *Tracker) RunOnce(ctx context.Context) error {
	t.Metrics.Serve(t.Config.MetricsAddress)

	startTime := time.Now()
	result, err := t.RunCycle(ctx)
	elapsed := time.Since(startTime)

	t.observe(result, elapsed, err)
	logCycle(result, elapsed, 1, err)

	return err
}

// Run polls the feed on the configured cadence until a shutdown signal
// arrives. Cycle failures are logged and followed by the same sleep-and-retry;
// an overrunning cycle starts the next one immediately, never concurrently.
func (t *Tracker) Run(shutdown chan os.Signal) error {
	log.Info().
		Str("feed", t.Config.FeedURL).
		Strs("markers", t.Config.TripMarkers).
		Str("interval", t.Config.PollInterval.String()).
		Str("timezone", t.Config.Timezone).
		Msg("Starting trip update tracker")

	t.Metrics.Serve(t.Config.MetricsAddress)

	sleep := time.Duration(0)

	iteration := 0
	for {
		select {
		case <-shutdown:
			log.Info().Msg("Exiting on shutdown signal")
			return nil
		case <-time.After(sleep):
		}

		iteration += 1
		startTime := time.Now()

		result, err := t.RunCycle(context.Background())
		elapsed := time.Since(startTime)

		t.observe(result, elapsed, err)
		logCycle(result, elapsed, iteration, err)

		if elapsed >= t.Config.PollInterval {
			log.Warn().
				Str("elapsed", elapsed.String()).
				Str("interval", t.Config.PollInterval.String()).
				Msg("Cycle overran the poll interval, starting next cycle immediately")
			sleep = time.Duration(0)
		} else {
			sleep = t.Config.PollInterval - elapsed
		}
	}
}

func (t *Tracker) observe(result CycleResult, elapsed time.Duration, err error) {
	if t.Metrics == nil {
		return
	}

	t.Metrics.CyclesRun.Inc()
	if err != nil {
		t.Metrics.CyclesFailed.Inc()
	}

	t.Metrics.EntitiesSeen.Add(float64(result.EntitiesSeen))
	t.Metrics.EntitiesMatched.Add(float64(result.EntitiesMatched))
	t.Metrics.RecordsCreated.Add(float64(result.Created))
	t.Metrics.RecordsUpdated.Add(float64(result.Updated))
	t.Metrics.OperationsFailed.Add(float64(result.Failed))
	t.Metrics.TrackedTrips.Set(float64(result.Trips))
	t.Metrics.CycleDuration.Observe(elapsed.Seconds())
}

func logCycle(result CycleResult, elapsed time.Duration, iteration int, err error) {
	event := log.Info()
	message := "Cycle complete"
	if err != nil {
		event = log.Error().Err(err)
		message = "Cycle failed"
	}

	event.
		Int("iteration", iteration).
		Int("entities", result.EntitiesSeen).
		Int("matched", result.EntitiesMatched).
		Int("stopupdates", result.StopUpdates).
		Int("trips", result.Trips).
		Int("droppedbytime", result.DroppedByTime).
		Int("parsefailures", result.ParseFailures).
		Int("created", result.Created).
		Int("updated", result.Updated).
		Int("failed", result.Failed).
		Str("elapsed", elapsed.String()).
		Msg(message)
}
