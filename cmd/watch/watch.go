package watch

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/seqtools/runsync/cmd/util"
	"github.com/seqtools/runsync/pkg/config"
	"github.com/seqtools/runsync/pkg/errors"
	"github.com/seqtools/runsync/pkg/fswatch"
	"github.com/seqtools/runsync/pkg/run"
	"github.com/seqtools/runsync/pkg/state"
	"github.com/seqtools/runsync/pkg/transfer"
	"github.com/seqtools/runsync/pkg/watch"
)

// New creates a new `watch` command.
func New() *cobra.Command {
	var opts config.Options
	var configPath string
	cobraCmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the source directory and sync completed runs",
		Long: `Poll the source directory for sequencing run directories, and copy each
run to the destination once its completion signal appears. Each run is
synced exactly once; progress is tracked in a state database that survives
restarts.`,
		Run: func(cobraCmd *cobra.Command, _ []string) {
			if configPath != "" {
				file, err := config.Parse(configPath)
				if err != nil {
					util.HandleFatalError(errors.WithContext(err, "parse config"))
				}
				if err := config.ApplyFile(&opts, file, cobraCmd.Flags().Changed); err != nil {
					util.HandleFatalError(err)
				}
			}

			if err := runWatch(opts); err != nil {
				util.HandleFatalError(err)
			}
		},
	}

	flags := cobraCmd.Flags()
	flags.StringVar(&opts.Source, "source", "",
		"Directory containing sequencing runs (required)")
	flags.StringVar(&opts.Destination, "destination", "",
		"Directory that completed runs are synced to (required)")
	flags.BoolVar(&opts.Verify, "verify", true,
		"Compare the total directory size after each copy")
	flags.StringVar(&opts.RunPattern, "run-pattern", run.DefaultNamePattern,
		"Regex matched against run directory names")
	flags.StringVar(&opts.CompletionPattern, "completion-pattern", run.DefaultCompletionPattern,
		"Regex matched against file paths to detect a finished run")
	flags.DurationVar(&opts.Interval, "interval", 15*time.Second,
		"How often to scan the source directory")
	flags.DurationVar(&opts.Settle, "settle", 0,
		"How long to wait after the completion signal appears before syncing")
	flags.StringVar(&opts.StatePath, "state", "",
		"Path to the state database (default ~/.runsync/state.db)")
	flags.StringVar(&configPath, "config", "",
		"Optional YAML config file. Flags override its values")
	return cobraCmd
}

func runWatch(opts config.Options) error {
	cfg, err := opts.Validate()
	if err != nil {
		return err
	}

	store, err := state.Open(cfg.StatePath)
	if err != nil {
		return errors.WithContext(err, "open state database")
	}
	defer store.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	loop := &watch.Loop{
		Matcher:         run.NewMatcher(cfg.RunPattern),
		Detector:        run.NewDetector(cfg.CompletionPattern),
		Engine:          transfer.Engine{Verify: cfg.Verify},
		State:           store,
		SourceRoot:      cfg.Source,
		DestinationRoot: cfg.Destination,
		Interval:        cfg.Interval,
		Settle:          cfg.Settle,
	}

	events, stopWatcher, err := fswatch.Watch(cfg.Source)
	if err != nil {
		log.WithError(err).Warnf("Failed to watch %q for changes. "+
			"Falling back to scanning every %s.", cfg.Source, cfg.Interval)
	} else {
		loop.Events = events
		defer stopWatcher()
	}

	log.WithFields(log.Fields{
		"source":      cfg.Source,
		"destination": cfg.Destination,
	}).Info("Watching for completed runs")

	loop.Run(ctx)
	log.Info("Interrupted, stopped watching for new runs")
	return nil
}
