package tracker

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/busboard/busboard/pkg/config"
	"github.com/busboard/busboard/pkg/feed"
	"github.com/busboard/busboard/pkg/metrics"
	"github.com/busboard/busboard/pkg/store"
	"github.com/urfave/cli/v2"
)

func RegisterCLI() *cli.Command {
	return &cli.Command{
		Name:  "tracker",
		Usage: "Track upcoming stops per trip from the GTFS-RT trip updates feed",
		Subcommands: []*cli.Command{
			{
				Name:  "run",
				Usage: "poll the feed continuously",
				Action: func(c *cli.Context) error {
					tracker, err := setupTracker()
					if err != nil {
						return err
					}

					shutdown := make(chan os.Signal, 1)
					signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

					return tracker.Run(shutdown)
				},
			},
			{
				Name:  "once",
				Usage: "run a single pipeline cycle and exit",
				Action: func(c *cli.Context) error {
					tracker, err := setupTracker()
					if err != nil {
						return err
					}

					return tracker.RunOnce(context.Background())
				},
			},
		},
	}
}

func setupTracker() (*Tracker, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	recordStore, err := store.NewFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	return NewTracker(cfg, feed.NewHTTPSource(cfg.FeedURL), recordStore, metrics.NewCollector()), nil
}
