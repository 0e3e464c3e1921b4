package watch

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seqtools/runsync/pkg/run"
	"github.com/seqtools/runsync/pkg/state"
	"github.com/seqtools/runsync/pkg/transfer"
)

const runName = "20230101_1200_X1_FAB12345_a1b2c3d4"

// countingEngine wraps a Transferrer and counts invocations, optionally
// substituting failures for the first attempts.
type countingEngine struct {
	inner    Transferrer
	calls    int
	failures int
}

func (e *countingEngine) Transfer(ctx context.Context, r run.Run) (transfer.Outcome, error) {
	e.calls++
	if e.calls <= e.failures {
		return transfer.Outcome{
			Status: run.StatusTransferFailed,
			Reason: "injected failure",
		}, nil
	}
	return e.inner.Transfer(ctx, r)
}

type fixture struct {
	loop   *Loop
	engine *countingEngine
	store  *state.Store

	source      string
	destination string
}

func newFixture(t *testing.T) *fixture {
	source := t.TempDir()
	destination := t.TempDir()

	store, err := state.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	engine := &countingEngine{inner: transfer.Engine{Verify: true}}
	return &fixture{
		loop: &Loop{
			Matcher:         run.NewMatcher(regexp.MustCompile(run.DefaultNamePattern)),
			Detector:        run.NewDetector(regexp.MustCompile(run.DefaultCompletionPattern)),
			Engine:          engine,
			State:           store,
			SourceRoot:      source,
			DestinationRoot: destination,
			Interval:        15 * time.Second,
		},
		engine:      engine,
		store:       store,
		source:      source,
		destination: destination,
	}
}

func (f *fixture) writeRunFile(t *testing.T, path, contents string) {
	full := filepath.Join(f.source, runName, path)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
	require.NoError(t, os.WriteFile(full, []byte(contents), 0644))
}

func (f *fixture) status(t *testing.T) run.Status {
	status, err := f.store.Status(runName)
	require.NoError(t, err)
	return status
}

// An incomplete run is re-checked every cycle but never transferred, and the
// destination stays empty.
func TestIncompleteRunNotTransferred(t *testing.T) {
	f := newFixture(t)
	f.writeRunFile(t, "fastq_pass/reads_0.fastq", "ACGT")

	for i := 0; i < 5; i++ {
		f.loop.Cycle(context.Background())
	}

	assert.Zero(t, f.engine.calls)
	assert.Equal(t, run.StatusPending, f.status(t))

	entries, err := os.ReadDir(f.destination)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// Once the completion signal appears, the next cycle transfers the run
// exactly once; later cycles leave it alone even if the source changes.
func TestCompletedRunTransferredOnce(t *testing.T) {
	f := newFixture(t)
	f.writeRunFile(t, "fastq_pass/reads_0.fastq", "ACGT")

	f.loop.Cycle(context.Background())
	require.Zero(t, f.engine.calls)

	f.writeRunFile(t, "final_summary_20230101.txt", "run complete")
	f.loop.Cycle(context.Background())

	assert.Equal(t, 1, f.engine.calls)
	assert.Equal(t, run.StatusSynced, f.status(t))

	copied, err := os.ReadFile(
		filepath.Join(f.destination, runName, "fastq_pass/reads_0.fastq"))
	require.NoError(t, err)
	assert.Equal(t, "ACGT", string(copied))

	// Source modifications after the sync never trigger a re-transfer.
	f.writeRunFile(t, "fastq_pass/reads_1.fastq", "TTTT")
	for i := 0; i < 3; i++ {
		f.loop.Cycle(context.Background())
	}
	assert.Equal(t, 1, f.engine.calls)
}

// Directories that don't match the run name pattern are never considered.
func TestNonMatchingDirectoriesIgnored(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.MkdirAll(
		filepath.Join(f.source, "maintenance_logs"), 0755))
	require.NoError(t, os.WriteFile(
		filepath.Join(f.source, "maintenance_logs", "final_summary.txt"),
		[]byte("not a run"), 0644))

	f.loop.Cycle(context.Background())

	assert.Zero(t, f.engine.calls)
	records, err := f.store.Records()
	require.NoError(t, err)
	assert.Empty(t, records)
}

// A failed transfer is retried on the next cycle until it succeeds.
func TestTransferFailedRetried(t *testing.T) {
	f := newFixture(t)
	f.engine.failures = 1
	f.writeRunFile(t, "final_summary.txt", "run complete")

	f.loop.Cycle(context.Background())
	assert.Equal(t, 1, f.engine.calls)
	assert.Equal(t, run.StatusTransferFailed, f.status(t))

	f.loop.Cycle(context.Background())
	assert.Equal(t, 2, f.engine.calls)
	assert.Equal(t, run.StatusSynced, f.status(t))
}

// A run that failed verification is terminal: no number of cycles touches it
// again.
func TestVerificationFailedNotRetried(t *testing.T) {
	f := newFixture(t)
	f.writeRunFile(t, "final_summary.txt", "run complete")

	admitted, err := f.store.TryBeginTransfer(runName)
	require.NoError(t, err)
	require.True(t, admitted)
	require.NoError(t, f.store.RecordOutcome(runName,
		run.StatusVerificationFailed, "size mismatch"))

	for i := 0; i < 3; i++ {
		f.loop.Cycle(context.Background())
	}
	assert.Zero(t, f.engine.calls)
	assert.Equal(t, run.StatusVerificationFailed, f.status(t))
}

// Simulates a crash between TryBeginTransfer and RecordOutcome: the restarted
// loop picks the run back up and completes it exactly once.
func TestRestartDuringTransfer(t *testing.T) {
	f := newFixture(t)
	f.writeRunFile(t, "final_summary.txt", "run complete")

	statePath := filepath.Join(t.TempDir(), "state.db")
	crashed, err := state.Open(statePath)
	require.NoError(t, err)
	admitted, err := crashed.TryBeginTransfer(runName)
	require.NoError(t, err)
	require.True(t, admitted)
	require.NoError(t, crashed.Close())

	restarted, err := state.Open(statePath)
	require.NoError(t, err)
	t.Cleanup(func() { restarted.Close() })
	f.loop.State = restarted
	f.store = restarted

	f.loop.Cycle(context.Background())

	assert.Equal(t, 1, f.engine.calls)
	assert.Equal(t, run.StatusSynced, f.status(t))
}

// One run's failure must not prevent other runs from syncing in the same
// cycle.
func TestPerRunIsolation(t *testing.T) {
	f := newFixture(t)
	f.engine.failures = 1

	f.writeRunFile(t, "final_summary.txt", "run complete")

	otherName := "20230102_0800_X2_FAB00001_deadbeef"
	otherSummary := filepath.Join(f.source, otherName, "final_summary.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(otherSummary), 0755))
	require.NoError(t, os.WriteFile(otherSummary, []byte("run complete"), 0644))

	// The first run's injected failure doesn't stop the second run from
	// syncing in the same cycle.
	f.loop.Cycle(context.Background())
	assert.Equal(t, 2, f.engine.calls)
	assert.Equal(t, run.StatusTransferFailed, f.status(t))

	otherStatus, err := f.store.Status(otherName)
	require.NoError(t, err)
	assert.Equal(t, run.StatusSynced, otherStatus)
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	f.loop.Clock = clockwork.NewFakeClock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.loop.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("loop didn't stop after cancellation")
	}
}

// A filesystem event triggers a rescan without waiting for the poll interval.
func TestEventTriggersRescan(t *testing.T) {
	f := newFixture(t)
	f.loop.Clock = clockwork.NewFakeClock()

	events := make(chan struct{}, 1)
	f.loop.Events = events

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		f.loop.Run(ctx)
		close(done)
	}()

	f.writeRunFile(t, "final_summary.txt", "run complete")
	events <- struct{}{}

	require.Eventually(t, func() bool {
		status, err := f.store.Status(runName)
		return err == nil && status == run.StatusSynced
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
