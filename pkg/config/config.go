package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/busboard/busboard/pkg/util"
	"github.com/joho/godotenv"
)

const defaultFeedURL = "https://gtfsrt.api.translink.com.au/api/realtime/SEQ/TripUpdates"
const defaultTripMarkers = "SBL,SUN"
const defaultTimezone = "Australia/Brisbane"
const defaultPollIntervalSeconds = 60
const defaultRetentionHours = 24
const defaultBatchSize = 500

// StoreBackend selects which keyed store implementation persisted records go to.
type StoreBackend string

const (
	StoreBackendRedis   StoreBackend = "redis"
	StoreBackendMongoDB StoreBackend = "mongodb"
)

// Error is a startup configuration failure. The process never starts on one of
// these - every other error category in the system is at worst fatal to a
// single cycle.
type Error struct {
	Variable string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("configuration %s: %s", e.Variable, e.Err.Error())
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Config is the full configuration surface, loaded once at process start and
// never re-read mid-cycle.
type Config struct {
	FeedURL     string
	TripMarkers []string

	PollInterval time.Duration
	Retention    time.Duration

	Timezone string
	Location *time.Location

	Store     StoreBackend
	BatchSize int

	KeepUnscheduledStops bool

	MetricsAddress string
}

// Load reads the BUSBOARD_* environment variables (plus an optional .env file)
// into a validated Config.
func Load() (*Config, error) {
	// Missing .env is fine, the environment is authoritative anyway
	godotenv.Load()

	env := util.GetEnvironmentVariables()

	cfg := &Config{
		FeedURL:        util.EnvDefault(env, "BUSBOARD_FEED_URL", defaultFeedURL),
		Timezone:       util.EnvDefault(env, "BUSBOARD_TIMEZONE", defaultTimezone),
		Store:          StoreBackendRedis,
		MetricsAddress: env["BUSBOARD_METRICS_ADDRESS"],
	}

	for _, marker := range strings.Split(util.EnvDefault(env, "BUSBOARD_TRIP_MARKERS", defaultTripMarkers), ",") {
		marker = strings.TrimSpace(marker)
		if marker != "" {
			cfg.TripMarkers = append(cfg.TripMarkers, marker)
		}
	}
	if len(cfg.TripMarkers) == 0 {
		return nil, &Error{"BUSBOARD_TRIP_MARKERS", fmt.Errorf("at least one trip marker is required")}
	}

	pollSeconds, err := envInt(env, "BUSBOARD_POLL_INTERVAL_SECONDS", defaultPollIntervalSeconds)
	if err != nil {
		return nil, err
	}
	if pollSeconds <= 0 {
		return nil, &Error{"BUSBOARD_POLL_INTERVAL_SECONDS", fmt.Errorf("must be positive, got %d", pollSeconds)}
	}
	cfg.PollInterval = time.Duration(pollSeconds) * time.Second

	retentionHours, err := envInt(env, "BUSBOARD_RETENTION_HOURS", defaultRetentionHours)
	if err != nil {
		return nil, err
	}
	if retentionHours < 1 || retentionHours > 168 {
		return nil, &Error{"BUSBOARD_RETENTION_HOURS", fmt.Errorf("must be between 1 and 168, got %d", retentionHours)}
	}
	cfg.Retention = time.Duration(retentionHours) * time.Hour

	cfg.BatchSize, err = envInt(env, "BUSBOARD_BATCH_SIZE", defaultBatchSize)
	if err != nil {
		return nil, err
	}
	if cfg.BatchSize <= 0 {
		return nil, &Error{"BUSBOARD_BATCH_SIZE", fmt.Errorf("must be positive, got %d", cfg.BatchSize)}
	}

	cfg.Location, err = time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, &Error{"BUSBOARD_TIMEZONE", err}
	}

	switch backend := util.EnvDefault(env, "BUSBOARD_STORE", string(StoreBackendRedis)); StoreBackend(backend) {
	case StoreBackendRedis, StoreBackendMongoDB:
		cfg.Store = StoreBackend(backend)
	default:
		return nil, &Error{"BUSBOARD_STORE", fmt.Errorf("unknown store backend %q", backend)}
	}

	cfg.KeepUnscheduledStops = env["BUSBOARD_KEEP_UNSCHEDULED_STOPS"] == "YES"

	return cfg, nil
}

func envInt(env map[string]string, key string, fallback int) (int, error) {
	if env[key] == "" {
		return fallback, nil
	}

	n, err := strconv.Atoi(env[key])
	if err != nil {
		return 0, &Error{key, err}
	}

	return n, nil
}
