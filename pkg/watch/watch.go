// Package watch drives runs from discovery to synced. Each poll cycle
// re-scans the source root, checks every candidate run for its completion
// signal, and hands completed runs to the transfer engine, with the state
// store as the sole admission gate against duplicate transfers.
package watch

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/seqtools/runsync/pkg/errors"
	"github.com/seqtools/runsync/pkg/run"
	"github.com/seqtools/runsync/pkg/state"
	"github.com/seqtools/runsync/pkg/transfer"
)

// Transferrer executes the copy of a completed run. It's implemented by
// transfer.Engine.
type Transferrer interface {
	Transfer(ctx context.Context, r run.Run) (transfer.Outcome, error)
}

// Loop is the polling state machine.
type Loop struct {
	Matcher  run.Matcher
	Detector run.Detector
	Engine   Transferrer
	State    *state.Store

	SourceRoot      string
	DestinationRoot string

	// Interval is how long the loop sleeps between scans.
	Interval time.Duration

	// Settle is the grace period between detecting the completion signal and
	// starting the copy, giving the sequencer time to finish trailing writes.
	Settle time.Duration

	// Events optionally carries filesystem-change hints that trigger an
	// early rescan. Nil means pure polling.
	Events <-chan struct{}

	// Clock is swapped for a fake clock in tests.
	Clock clockwork.Clock
}

// Run polls until ctx is cancelled. Failures on individual runs are logged
// and retried on a later cycle; they never stop the loop.
func (l *Loop) Run(ctx context.Context) {
	if l.Clock == nil {
		l.Clock = clockwork.NewRealClock()
	}

	ticker := l.Clock.NewTicker(l.Interval)
	defer ticker.Stop()

	for {
		l.Cycle(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		case <-l.Events:
		}
	}
}

// Cycle performs a single scan of the source root.
func (l *Loop) Cycle(ctx context.Context) {
	runs, err := l.Matcher.List(l.SourceRoot, l.DestinationRoot)
	if err != nil {
		log.WithError(err).Error("Failed to scan source directory")
		return
	}

	for _, r := range runs {
		if ctx.Err() != nil {
			return
		}
		if err := l.process(ctx, r); err != nil {
			log.WithError(err).WithField("run", r.Name).Error("Failed to process run")
		}
	}
}

func (l *Loop) process(ctx context.Context, r run.Run) error {
	status, err := l.State.Status(r.Name)
	if err != nil {
		return errors.WithContext(err, "read status")
	}
	if status.Terminal() {
		return nil
	}

	if status == run.StatusUnknown {
		log.WithField("run", r.Name).Info("Discovered new run")
		if err := l.State.Observed(r.Name); err != nil {
			return errors.WithContext(err, "record discovery")
		}
	}

	complete, err := l.Detector.Complete(ctx, r.SourcePath)
	if err != nil {
		// Detection failures don't advance the run's state; the run is
		// re-checked on the next cycle.
		return errors.WithContext(err, "check completion")
	}
	if !complete {
		return l.State.MarkPending(r.Name)
	}

	admitted, err := l.State.TryBeginTransfer(r.Name)
	if err != nil {
		return errors.WithContext(err, "begin transfer")
	}
	if !admitted {
		return nil
	}

	if l.Settle > 0 {
		log.WithField("run", r.Name).Infof(
			"Waiting %s before syncing so the run can settle", l.Settle)
		select {
		case <-ctx.Done():
			l.State.Abandon(r.Name)
			return nil
		case <-l.Clock.After(l.Settle):
		}
	}

	log.WithFields(log.Fields{
		"run":         r.Name,
		"destination": r.DestinationPath,
	}).Info("Syncing run")

	outcome, err := l.Engine.Transfer(ctx, r)
	if err != nil {
		// Interrupted by shutdown. The record stays Transferring so the next
		// process retries the run from scratch.
		l.State.Abandon(r.Name)
		return nil
	}

	if err := l.State.RecordOutcome(r.Name, outcome.Status, outcome.Reason); err != nil {
		return errors.WithContext(err, "record outcome")
	}

	switch outcome.Status {
	case run.StatusSynced:
		log.WithField("run", r.Name).Info("Run synced successfully")
	case run.StatusTransferFailed:
		log.WithField("run", r.Name).Errorf(
			"Failed to sync run, will retry: %s", outcome.Reason)
	case run.StatusVerificationFailed:
		log.WithField("run", r.Name).Errorf(
			"Synced run failed verification: %s", outcome.Reason)
	}
	return nil
}
