package run

import (
	"context"
	"os"
	"regexp"

	"github.com/spf13/afero"

	"github.com/seqtools/runsync/pkg/errors"
)

// DefaultCompletionPattern matches the final summary report that the
// sequencer writes once it has finished a run.
const DefaultCompletionPattern = `final_summary.*\.txt$`

// errSignalFound aborts the directory walk early once the completion signal
// has been seen.
var errSignalFound = errors.New("completion signal found")

// Detector checks whether a run has produced its completion signal.
type Detector struct {
	pattern *regexp.Regexp
}

// NewDetector creates a Detector for the given completion signal pattern.
func NewDetector(pattern *regexp.Regexp) Detector {
	return Detector{pattern: pattern}
}

// Complete reports whether any file under runPath matches the completion
// signal pattern. A run that hasn't finished yet is not an error: it reports
// false, and is checked again on the next poll. Walk failures (permissions,
// transient I/O) are returned as errors so that the caller retries without
// advancing the run's state.
func (d Detector) Complete(ctx context.Context, runPath string) (bool, error) {
	err := afero.Walk(fs, runPath, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if fi.IsDir() {
			return nil
		}
		if d.pattern.MatchString(path) {
			return errSignalFound
		}
		return nil
	})

	if err == errSignalFound {
		return true, nil
	}
	if err != nil {
		return false, errors.WithContext(err, "walk run directory")
	}
	return false, nil
}
