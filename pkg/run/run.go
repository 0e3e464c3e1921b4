package run

// Status describes how far a run has progressed through the sync pipeline.
type Status string

const (
	// StatusUnknown is reported for runs that have never been observed.
	StatusUnknown Status = "unknown"

	// StatusDiscovered is recorded the first time a run directory matching
	// the run name pattern is seen under the source root.
	StatusDiscovered Status = "discovered"

	// StatusPending means the run has been checked at least once but hasn't
	// produced its completion signal yet.
	StatusPending Status = "pending"

	// StatusTransferring means a copy to the destination has been admitted.
	// A run found in this state on startup belongs to an attempt that was
	// abandoned by a previous process, and is eligible for a fresh attempt.
	StatusTransferring Status = "transferring"

	// StatusSynced means the run was copied (and verified, if enabled). The
	// run is never re-transferred, even if the source changes afterwards.
	StatusSynced Status = "synced"

	// StatusVerificationFailed means the copy completed but the aggregate
	// size of the destination didn't match the source. A mismatch after a
	// clean copy signals a data problem rather than a transient fault, so
	// the run is not retried; an operator can re-trigger it with `runsync
	// reset`.
	StatusVerificationFailed Status = "verification-failed"

	// StatusTransferFailed means the copy itself failed. The run is retried
	// from scratch on a later poll cycle.
	StatusTransferFailed Status = "transfer-failed"
)

// Terminal returns whether the status is final. Terminal runs are skipped by
// the watch loop without inspecting their contents.
func (s Status) Terminal() bool {
	return s == StatusSynced || s == StatusVerificationFailed
}

// Run is a single sequencing run directory under the source root.
type Run struct {
	// Name is the directory's base name. It encodes the start date and time,
	// the device id, the flow cell id, and a short run id.
	Name string

	// SourcePath is the run directory under the source root.
	SourcePath string

	// DestinationPath is where the run is copied to. It's derived from the
	// run name, so retries always target the same location.
	DestinationPath string
}
